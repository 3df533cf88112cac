package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"chat-relay/internal/domain"
	"chat-relay/internal/session"
	"chat-relay/internal/usecase"
)

type stubChat struct {
	out     usecase.SubmitOutput
	err     error
	in      usecase.SubmitInput
	conv    session.Conversation
	histErr error
	histID  string
}

func (s *stubChat) Submit(_ context.Context, in usecase.SubmitInput) (usecase.SubmitOutput, error) {
	s.in = in
	if s.out.SessionID == "" {
		s.out.SessionID = in.SessionID
	}
	return s.out, s.err
}

func (s *stubChat) History(_ context.Context, sessionID string) (session.Conversation, error) {
	s.histID = sessionID
	return s.conv, s.histErr
}

func makePost(body string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPost,
		Path:       "/chat",
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
	}
}

func makeGet(sessionID string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod:            http.MethodGet,
		Path:                  "/chat",
		QueryStringParameters: map[string]string{"sessionId": sessionID},
	}
}

func parseBody[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	return v
}

func TestNewHandler_ValidatesDependency(t *testing.T) {
	_, err := NewHandler(nil)
	require.Error(t, err)
}

func TestHandle_Submit_HappyPath(t *testing.T) {
	chat := &stubChat{out: usecase.SubmitOutput{
		Reply: &domain.Message{ID: "r1", Role: domain.RoleAssistant, Content: "Hi there", Timestamp: 42},
	}}
	h, err := NewHandler(chat)
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makePost(`{"sessionId":"s-1","message":"Hello"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, usecase.SubmitInput{SessionID: "s-1", Message: "Hello"}, chat.in)
	require.NotEmpty(t, resp.Headers["X-Correlation-Id"])
	require.Equal(t, "application/json", resp.Headers["Content-Type"])

	out := parseBody[submitResponse](t, resp.Body)
	require.Equal(t, "s-1", out.SessionID)
	require.NotNil(t, out.Reply)
	require.Equal(t, "Hi there", out.Reply.Content)
	require.Equal(t, int64(42), out.Reply.Timestamp)
}

func TestHandle_Submit_GeneratesSessionID(t *testing.T) {
	chat := &stubChat{}
	h, err := NewHandler(chat)
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makePost(`{"message":"Hello"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, chat.in.SessionID)

	out := parseBody[submitResponse](t, resp.Body)
	require.Equal(t, chat.in.SessionID, out.SessionID)
}

func TestHandle_Submit_ForwardsProvider(t *testing.T) {
	chat := &stubChat{}
	h, err := NewHandler(chat)
	require.NoError(t, err)

	_, err = h.Handle(context.Background(), makePost(`{"sessionId":"s-1","provider":"deepseek","message":"Hello"}`))
	require.NoError(t, err)
	require.Equal(t, "deepseek", chat.in.Provider)
}

func TestHandle_Submit_Ignored(t *testing.T) {
	chat := &stubChat{out: usecase.SubmitOutput{Ignored: true}}
	h, err := NewHandler(chat)
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makePost(`{"sessionId":"s-1","message":"   "}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := parseBody[submitResponse](t, resp.Body)
	require.True(t, out.Ignored)
	require.Nil(t, out.Reply)
}

func TestHandle_Submit_InvalidBody(t *testing.T) {
	h, err := NewHandler(&stubChat{})
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makePost(`not-json`))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	out := parseBody[errorResponse](t, resp.Body)
	require.Equal(t, "INVALID_BODY", out.Code)
}

func TestHandle_Submit_NotConfigured(t *testing.T) {
	chat := &stubChat{err: &usecase.Error{Code: usecase.ErrorNotConfigured, Reason: "missing_credential"}}
	h, err := NewHandler(chat)
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makePost(`{"sessionId":"s-1","message":"Hello"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	out := parseBody[errorResponse](t, resp.Body)
	require.Equal(t, "NOT_CONFIGURED", out.Code)
	require.Contains(t, out.Message, "API key")
}

func TestHandle_Submit_UnknownProvider(t *testing.T) {
	chat := &stubChat{err: &usecase.Error{Code: usecase.ErrorUnknownProvider, Reason: "unknown_provider"}}
	h, err := NewHandler(chat)
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makePost(`{"sessionId":"s-1","provider":"nope","message":"Hello"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandle_Submit_InternalError(t *testing.T) {
	chat := &stubChat{err: &usecase.Error{Code: usecase.ErrorInternal, Reason: "session_load_error"}}
	h, err := NewHandler(chat)
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makePost(`{"sessionId":"s-1","message":"Hello"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestHandle_History_HappyPath(t *testing.T) {
	chat := &stubChat{conv: session.Conversation{
		ID:      "s-1",
		Pending: true,
		Messages: []domain.Message{
			{ID: "m1", Role: domain.RoleUser, Content: "Hello", Timestamp: 1},
			{ID: "m2", Role: domain.RoleAssistant, Content: "Hi there", Timestamp: 2},
		},
	}}
	h, err := NewHandler(chat)
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeGet("s-1"))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "s-1", chat.histID)

	out := parseBody[historyResponse](t, resp.Body)
	require.True(t, out.Pending)
	require.Len(t, out.Messages, 2)
	require.Equal(t, "Hello", out.Messages[0].Content)
}

func TestHandle_History_MissingSessionID(t *testing.T) {
	h, err := NewHandler(&stubChat{})
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), events.APIGatewayProxyRequest{HTTPMethod: http.MethodGet, Path: "/chat"})
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandle_MethodNotAllowed(t *testing.T) {
	h, err := NewHandler(&stubChat{})
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), events.APIGatewayProxyRequest{HTTPMethod: http.MethodDelete, Path: "/chat"})
	require.NoError(t, err)
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
