package api

import (
	"time"

	"github.com/satriahrh/companion/domain/entities"
)

// TokenRequest represents the request payload for client authentication
type TokenRequest struct {
	ClientID string `json:"client_id"`
	Secret   string `json:"secret"`
}

// TokenResponse represents the response payload for client authentication
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	ClientID  string    `json:"client_id"`
}

// SessionResponse is a snapshot of the voice session
type SessionResponse struct {
	State    entities.ConnectionState `json:"state"`
	Error    string                   `json:"error,omitempty"`
	Volume   float64                  `json:"volume"`
	Messages []entities.Message       `json:"messages"`
}

// MessagesResponse lists persisted conversation messages, oldest first
type MessagesResponse struct {
	ConversationID string             `json:"conversation_id"`
	Messages       []entities.Message `json:"messages"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
