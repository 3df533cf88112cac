// Package session holds per-session conversation state: an ordered,
// append-only sequence of messages plus the pending flag that enforces a
// single in-flight send.
package session

import (
	"context"

	"chat-relay/internal/domain"
)

// Conversation is the state of one chat session. Messages are append-only;
// Pending is true iff exactly one send operation is in flight.
type Conversation struct {
	ID       string
	Messages []domain.Message
	Pending  bool
}

// Store is the conversation state contract consumed by the controller.
//
// BeginSend atomically flips Pending from false to true and reports whether
// this caller won; a false return with nil error means another send is in
// flight. EndSend clears the flag unconditionally and must be called on
// every path after a successful BeginSend.
type Store interface {
	Load(ctx context.Context, sessionID string) (Conversation, error)
	AppendMessage(ctx context.Context, sessionID string, msg domain.Message) error
	BeginSend(ctx context.Context, sessionID string) (bool, error)
	EndSend(ctx context.Context, sessionID string) error
}
