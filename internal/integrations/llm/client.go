// Package llm is the completion transport client. It tries a structured
// GraphQL-style query first and falls back to the plain chat-completions
// endpoint on the same base address. The fallback exists because the
// structured API shape is unconfirmed upstream; the REST path is the
// proven-compatible one.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"chat-relay/internal/config"
	"chat-relay/internal/domain"
)

// Fixed sampling parameters; both transports send the same values.
const (
	temperature = 0.7
	maxTokens   = 1000
)

// PlaceholderReply is returned when the provider answers with a success
// status but no message content. A degraded reply, not an error.
const PlaceholderReply = "No reply received from the model."

// completionMutation is the fixed structured-query document.
const completionMutation = `mutation ChatCompletion($input: ChatCompletionInput!) {
  chatCompletion(input: $input) {
    choices {
      message {
        role
        content
      }
    }
  }
}`

// TransportError reports that both transport attempts failed. It wraps only
// the fallback attempt's cause; the structured-query cause is logged and
// discarded, never aggregated.
type TransportError struct {
	Provider string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("llm: completion request to %s failed: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("llm: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// graphqlRequest is the structured-query envelope.
type graphqlRequest struct {
	Query     string           `json:"query"`
	Variables graphqlVariables `json:"variables"`
}

type graphqlVariables struct {
	Input completionInput `json:"input"`
}

type completionInput struct {
	Model       string               `json:"model"`
	Messages    []domain.ChatMessage `json:"messages"`
	Temperature float64              `json:"temperature"`
	MaxTokens   int                  `json:"maxTokens"`
}

// graphqlResponse is the minimal structured-query response shape. A non-empty
// Errors array marks the attempt as failed even on a 2xx status.
type graphqlResponse struct {
	Data struct {
		ChatCompletion completionPayload `json:"chatCompletion"`
	} `json:"data"`
	Errors []graphqlError `json:"errors"`
}

type graphqlError struct {
	Message string   `json:"message"`
	Path    []string `json:"path,omitempty"`
}

// chatRequest is the simple-form request shape for the chat-completions
// endpoint.
type chatRequest struct {
	Model       string               `json:"model"`
	Messages    []domain.ChatMessage `json:"messages"`
	Temperature float64              `json:"temperature"`
	MaxTokens   int                  `json:"max_tokens"`
}

// completionPayload is the choices shape shared by both response forms.
type completionPayload struct {
	Choices []struct {
		Message domain.ChatMessage `json:"message"`
	} `json:"choices"`
}

// Client posts completion requests to a provider's base address.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a transport client. The default HTTP client has a 30s
// timeout; there is no retry beyond the single REST fallback.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete sends the conversation history to the provider and returns the
// assistant reply text. The structured query is attempted first; any failure
// there (network error, non-2xx status, or an errors array in the body) is
// logged and the plain chat-completions form is tried against the same base
// address. Only the fallback's failure is reported.
func (c *Client) Complete(ctx context.Context, provider config.Provider, history []domain.Message) (string, error) {
	if provider.Model == "" {
		return "", &TransportError{Provider: provider.Name, Err: fmt.Errorf("model must not be empty")}
	}
	messages := domain.ToChatMessages(history)

	content, gqlErr := c.completeGraphQL(ctx, provider, messages)
	if gqlErr == nil {
		return content, nil
	}
	c.logger.Warn("structured completion failed, falling back to chat completions",
		"provider", provider.Name, "err", gqlErr)

	content, restErr := c.completeREST(ctx, provider, messages)
	if restErr != nil {
		return "", &TransportError{Provider: provider.Name, Err: restErr}
	}
	return content, nil
}

func (c *Client) completeGraphQL(ctx context.Context, provider config.Provider, messages []domain.ChatMessage) (string, error) {
	body, err := json.Marshal(graphqlRequest{
		Query: completionMutation,
		Variables: graphqlVariables{
			Input: completionInput{
				Model:       provider.Model,
				Messages:    messages,
				Temperature: temperature,
				MaxTokens:   maxTokens,
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal graphql request: %w", err)
	}

	raw, err := c.postJSON(ctx, graphqlURL(provider.BaseURL), provider.Credential, body)
	if err != nil {
		return "", err
	}

	var payload graphqlResponse
	if decErr := json.Unmarshal(raw, &payload); decErr != nil {
		return "", fmt.Errorf("decode graphql response: %w", decErr)
	}
	if len(payload.Errors) > 0 {
		return "", fmt.Errorf("graphql errors: %s", payload.Errors[0].Message)
	}
	return replyContent(payload.Data.ChatCompletion), nil
}

func (c *Client) completeREST(ctx context.Context, provider config.Provider, messages []domain.ChatMessage) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       provider.Model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	raw, err := c.postJSON(ctx, completionsURL(provider.BaseURL), provider.Credential, body)
	if err != nil {
		return "", err
	}

	var payload completionPayload
	if decErr := json.Unmarshal(raw, &payload); decErr != nil {
		return "", fmt.Errorf("decode chat response: %w", decErr)
	}
	return replyContent(payload), nil
}

// replyContent extracts choices[0].message.content, degrading to the fixed
// placeholder when the field is absent rather than failing.
func replyContent(p completionPayload) string {
	if len(p.Choices) == 0 {
		return PlaceholderReply
	}
	content := p.Choices[0].Message.Content
	if content == "" {
		return PlaceholderReply
	}
	return content
}

func graphqlURL(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + "/graphql"
}

func completionsURL(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + "/chat/completions"
}

func (c *Client) postJSON(ctx context.Context, url, credential string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+credential)

	res, doErr := c.httpClient.Do(req)
	if doErr != nil {
		return nil, doErr
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}
