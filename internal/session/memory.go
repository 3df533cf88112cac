package session

import (
	"context"
	"sync"

	"chat-relay/internal/domain"
)

// MemoryStore keeps conversations in process memory. Sessions live for the
// process lifetime and are lost on restart, matching the original
// in-memory-per-session model. It is the default store.
type MemoryStore struct {
	mu            sync.Mutex
	conversations map[string]*Conversation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{conversations: make(map[string]*Conversation)}
}

func (s *MemoryStore) Load(_ context.Context, sessionID string) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.conversations[sessionID]
	if conv == nil {
		return Conversation{ID: sessionID}, nil
	}
	// Copy so callers never alias the live message slice.
	out := Conversation{ID: conv.ID, Pending: conv.Pending}
	out.Messages = append(out.Messages, conv.Messages...)
	return out, nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, sessionID string, msg domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.get(sessionID)
	conv.Messages = append(conv.Messages, msg)
	return nil
}

func (s *MemoryStore) BeginSend(_ context.Context, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.get(sessionID)
	if conv.Pending {
		return false, nil
	}
	conv.Pending = true
	return true, nil
}

func (s *MemoryStore) EndSend(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.get(sessionID).Pending = false
	return nil
}

// get returns the live conversation for sessionID, creating it on first use.
// Callers must hold mu.
func (s *MemoryStore) get(sessionID string) *Conversation {
	conv := s.conversations[sessionID]
	if conv == nil {
		conv = &Conversation{ID: sessionID}
		s.conversations[sessionID] = conv
	}
	return conv
}
