// Package handler maps API Gateway events onto the chat service.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"chat-relay/internal/session"
	"chat-relay/internal/usecase"
)

// ChatUseCase is the service surface consumed by the handler.
type ChatUseCase interface {
	Submit(ctx context.Context, in usecase.SubmitInput) (usecase.SubmitOutput, error)
	History(ctx context.Context, sessionID string) (session.Conversation, error)
}

type Handler struct {
	chat ChatUseCase
}

func NewHandler(chat ChatUseCase) (*Handler, error) {
	if chat == nil {
		return nil, errors.New("handler: chat usecase must not be nil")
	}
	return &Handler{chat: chat}, nil
}

type submitRequest struct {
	SessionID string `json:"sessionId"`
	Provider  string `json:"provider"`
	Message   string `json:"message"`
}

type messagePayload struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

type submitResponse struct {
	SessionID string          `json:"sessionId"`
	Ignored   bool            `json:"ignored,omitempty"`
	Reply     *messagePayload `json:"reply,omitempty"`
}

type historyResponse struct {
	SessionID string           `json:"sessionId"`
	Pending   bool             `json:"pending"`
	Messages  []messagePayload `json:"messages"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Handle routes one API Gateway event. POST submits a message, GET returns
// the session history.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := uuid.NewString()

	switch event.HTTPMethod {
	case http.MethodPost:
		return h.handleSubmit(ctx, event, correlationID), nil
	case http.MethodGet:
		return h.handleHistory(ctx, event, correlationID), nil
	default:
		return respondError(http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only GET and POST are supported", correlationID), nil
	}
}

func (h *Handler) handleSubmit(ctx context.Context, event events.APIGatewayProxyRequest, correlationID string) events.APIGatewayProxyResponse {
	var req submitRequest
	if err := json.Unmarshal([]byte(event.Body), &req); err != nil {
		return respondError(http.StatusBadRequest, "INVALID_BODY", "request body must be valid JSON", correlationID)
	}

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	out, err := h.chat.Submit(ctx, usecase.SubmitInput{
		SessionID: sessionID,
		Provider:  req.Provider,
		Message:   req.Message,
	})
	if err != nil {
		return respondUseCaseError(err, correlationID)
	}

	resp := submitResponse{SessionID: sessionID, Ignored: out.Ignored}
	if out.Reply != nil {
		resp.Reply = &messagePayload{
			ID:        out.Reply.ID,
			Role:      out.Reply.Role,
			Content:   out.Reply.Content,
			Timestamp: out.Reply.Timestamp,
		}
	}
	return respondJSON(http.StatusOK, resp, correlationID)
}

func (h *Handler) handleHistory(ctx context.Context, event events.APIGatewayProxyRequest, correlationID string) events.APIGatewayProxyResponse {
	sessionID := strings.TrimSpace(event.QueryStringParameters["sessionId"])
	if sessionID == "" {
		return respondError(http.StatusBadRequest, "INVALID_REQUEST", "sessionId query parameter is required", correlationID)
	}

	conv, err := h.chat.History(ctx, sessionID)
	if err != nil {
		return respondUseCaseError(err, correlationID)
	}

	resp := historyResponse{
		SessionID: sessionID,
		Pending:   conv.Pending,
		Messages:  make([]messagePayload, 0, len(conv.Messages)),
	}
	for _, m := range conv.Messages {
		resp.Messages = append(resp.Messages, messagePayload{
			ID:        m.ID,
			Role:      m.Role,
			Content:   m.Content,
			Timestamp: m.Timestamp,
		})
	}
	return respondJSON(http.StatusOK, resp, correlationID)
}

func respondUseCaseError(err error, correlationID string) events.APIGatewayProxyResponse {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		return respondError(http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", correlationID)
	}
	switch ucErr.Code {
	case usecase.ErrorNotConfigured:
		return respondError(http.StatusUnprocessableEntity, string(ucErr.Code),
			"no API key is configured for this provider; set it before chatting", correlationID)
	case usecase.ErrorUnknownProvider:
		return respondError(http.StatusBadRequest, string(ucErr.Code),
			"unknown or disabled provider", correlationID)
	default:
		return respondError(http.StatusInternalServerError, string(ucErr.Code), "internal error", correlationID)
	}
}

func respondJSON(status int, body any, correlationID string) events.APIGatewayProxyResponse {
	raw, err := json.Marshal(body)
	if err != nil {
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusInternalServerError,
			Headers:    responseHeaders(correlationID),
			Body:       `{"code":"INTERNAL_ERROR","message":"encode response"}`,
		}
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    responseHeaders(correlationID),
		Body:       string(raw),
	}
}

func respondError(status int, code, message, correlationID string) events.APIGatewayProxyResponse {
	return respondJSON(status, errorResponse{Code: code, Message: message}, correlationID)
}

func responseHeaders(correlationID string) map[string]string {
	return map[string]string{
		"Content-Type":     "application/json",
		"X-Correlation-Id": correlationID,
	}
}
