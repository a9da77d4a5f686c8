package entities

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Role represents the author of a conversation message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the conversation shown to the user.
// Text may grow while a reply is streaming and is frozen once finalized.
type Message struct {
	ID        string    `json:"id" bson:"_id"`
	Role      Role      `json:"role" bson:"role"`
	Text      string    `json:"text" bson:"text"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
}

// NewMessage creates a message with a time-ordered identifier
func NewMessage(role Role, text string) Message {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return Message{
		ID:        id.String(),
		Role:      role,
		Text:      text,
		Timestamp: time.Now(),
	}
}

// Validate validates the message data
func (m Message) Validate() error {
	if m.ID == "" {
		return errors.New("message id is required")
	}
	if m.Role != RoleUser && m.Role != RoleAssistant {
		return errors.New("invalid message role")
	}
	return nil
}

// LastMessages returns a copy of at most n trailing messages
func LastMessages(messages []Message, n int) []Message {
	if n <= 0 || len(messages) == 0 {
		return nil
	}
	if len(messages) > n {
		messages = messages[len(messages)-n:]
	}
	out := make([]Message, len(messages))
	copy(out, messages)
	return out
}
