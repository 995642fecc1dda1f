package chat

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Status tracks an assistant message through its turn. User messages are
// always complete.
type Status string

const (
	StatusSending    Status = "sending"
	StatusThinking   Status = "thinking"
	StatusGenerating Status = "generating"
	StatusComplete   Status = "complete"
	StatusError      Status = "error"
)

// Done reports whether the message has reached a final status.
func (s Status) Done() bool {
	return s == StatusComplete || s == StatusError
}

type Message struct {
	ID        uuid.UUID `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

func newMessage(role Role, content string, status Status) Message {
	return Message{
		ID:        uuid.New(),
		Role:      role,
		Content:   content,
		Status:    status,
		Timestamp: time.Now().UTC(),
	}
}

// Update is broadcast whenever a message of a conversation changes.
type Update struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	Message        Message   `json:"message"`
}
