package domain

// Message roles. The system only ever produces these two; there is no system
// role in the stored conversation.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single conversation entry. Immutable once created; the
// conversation is append-only for the lifetime of the session.
type Message struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"` // epoch milliseconds
}

// ChatMessage is the provider-agnostic wire shape sent to completion
// endpoints: a Message reduced to role and content.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToChatMessages reduces a conversation history to the wire shape.
func ToChatMessages(history []Message) []ChatMessage {
	out := make([]ChatMessage, 0, len(history))
	for _, m := range history {
		out = append(out, ChatMessage{Role: m.Role, Content: m.Content})
	}
	return out
}
