// Package usecase contains the send controller: it validates input, guards
// the single-in-flight-send invariant, and turns transport outcomes into
// conversation messages.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"chat-relay/internal/config"
	"chat-relay/internal/domain"
	"chat-relay/internal/session"
)

// Completer is the transport client contract consumed by the controller.
type Completer interface {
	Complete(ctx context.Context, provider config.Provider, history []domain.Message) (string, error)
}

// ChatService orchestrates one chat session's message sends.
type ChatService struct {
	providers *config.Registry
	llm       Completer
	store     session.Store
	logger    *slog.Logger
}

type SubmitInput struct {
	SessionID string
	Provider  string
	Message   string
}

// SubmitOutput reports the outcome of a submit. Ignored is set when a
// precondition made the call a no-op (blank input, send already in flight);
// that is not an error and mutates nothing.
type SubmitOutput struct {
	SessionID string
	Ignored   bool
	Reply     *domain.Message
}

func NewChatService(providers *config.Registry, llm Completer, store session.Store, logger *slog.Logger) (*ChatService, error) {
	if providers == nil {
		return nil, errors.New("usecase: provider registry must not be nil")
	}
	if llm == nil {
		return nil, errors.New("usecase: completer must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: session store must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatService{providers: providers, llm: llm, store: store, logger: logger}, nil
}

// Submit appends the user message, invokes the transport client with the full
// updated history, and appends the assistant reply — or a user-facing error
// message when both transport attempts failed. Transport failure is never a
// Submit error; only configuration and store failures are.
func (s *ChatService) Submit(ctx context.Context, in SubmitInput) (SubmitOutput, error) {
	text := strings.TrimSpace(in.Message)
	if text == "" {
		return SubmitOutput{SessionID: in.SessionID, Ignored: true}, nil
	}

	provider, err := s.providers.Resolve(in.Provider)
	if err != nil {
		return SubmitOutput{}, newError(ErrorUnknownProvider, "unknown_provider", err)
	}
	if provider.Credential == "" {
		return SubmitOutput{}, newError(ErrorNotConfigured, "missing_credential",
			fmt.Errorf("provider %q has no credential configured", provider.Name))
	}

	sessionID := in.SessionID

	acquired, err := s.store.BeginSend(ctx, sessionID)
	if err != nil {
		return SubmitOutput{}, newError(ErrorInternal, "pending_acquire_error", err)
	}
	if !acquired {
		return SubmitOutput{SessionID: sessionID, Ignored: true}, nil
	}
	// The request context may already be canceled by the time the send
	// finishes; clearing the flag must still reach the store or the
	// session stays stuck behind a pending that never lifts.
	defer func() {
		if endErr := s.store.EndSend(context.WithoutCancel(ctx), sessionID); endErr != nil {
			s.logger.Error("failed to clear pending flag", "session", sessionID, "err", endErr)
		}
	}()

	conv, err := s.store.Load(ctx, sessionID)
	if err != nil {
		return SubmitOutput{}, newError(ErrorInternal, "session_load_error", err)
	}

	userMsg := newMessage(domain.RoleUser, text)
	if err := s.store.AppendMessage(ctx, sessionID, userMsg); err != nil {
		return SubmitOutput{}, newError(ErrorInternal, "session_append_error", err)
	}
	history := append(conv.Messages, userMsg)

	content, err := s.llm.Complete(ctx, provider, history)
	if err != nil {
		s.logger.Warn("completion failed", "session", sessionID, "provider", provider.Name, "err", err)
		content = fmt.Sprintf("Sorry, something went wrong: %v", err)
	}

	reply := newMessage(domain.RoleAssistant, content)
	if err := s.store.AppendMessage(context.WithoutCancel(ctx), sessionID, reply); err != nil {
		return SubmitOutput{}, newError(ErrorInternal, "session_append_error", err)
	}

	return SubmitOutput{SessionID: sessionID, Reply: &reply}, nil
}

// History returns the ordered conversation for a session so the presentation
// layer can render state it did not originate.
func (s *ChatService) History(ctx context.Context, sessionID string) (session.Conversation, error) {
	conv, err := s.store.Load(ctx, sessionID)
	if err != nil {
		return session.Conversation{}, newError(ErrorInternal, "session_load_error", err)
	}
	return conv, nil
}

func newMessage(role, content string) domain.Message {
	return domain.Message{
		ID:        newUUID(),
		Role:      role,
		Content:   content,
		Timestamp: nowMillis(),
	}
}

var newUUID = func() string {
	return uuid.NewString()
}

var nowMillis = func() int64 {
	return time.Now().UnixMilli()
}
