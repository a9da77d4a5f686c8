package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/satriahrh/companion/domain"
	"github.com/satriahrh/companion/domain/entities"
	"github.com/satriahrh/companion/usecase"
)

// MessageType defines the type of WebSocket message
type MessageType string

// Client to server message types
const (
	MessageTypeConnect    MessageType = "connect"
	MessageTypeDisconnect MessageType = "disconnect"
	MessageTypeSendText   MessageType = "send_text"
	MessageTypePing       MessageType = "ping"
)

// Server to client message types
const (
	MessageTypeState    MessageType = "state"
	MessageTypeVolume   MessageType = "volume"
	MessageTypeMessages MessageType = "messages"
	MessageTypeError    MessageType = "error"
	MessageTypePong     MessageType = "pong"
)

// BaseMessage defines the common structure for all WebSocket messages
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp string      `json:"timestamp,omitempty"`
}

// SendTextMessage asks the voice session to answer a typed message
type SendTextMessage struct {
	BaseMessage
	Text string `json:"text"`
}

// PingMessage represents a ping message for connection health check
type PingMessage struct {
	BaseMessage
	Data string `json:"data,omitempty"`
}

// PongMessage represents a pong response
type PongMessage struct {
	BaseMessage
	Data string `json:"data,omitempty"`
}

// StateMessage carries the connection state and, in the Error state, its cause
type StateMessage struct {
	BaseMessage
	State     entities.ConnectionState `json:"state"`
	Error     string                   `json:"error,omitempty"`
	ErrorCode string                   `json:"error_code,omitempty"`
}

// VolumeMessage carries the microphone level in [0, 1]
type VolumeMessage struct {
	BaseMessage
	Volume float64 `json:"volume"`
}

// MessagesMessage carries the whole conversation
type MessagesMessage struct {
	BaseMessage
	Messages []entities.Message `json:"messages"`
}

// ErrorMessage represents an error response
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"error_code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// MessageValidator provides validation for WebSocket messages
type MessageValidator struct{}

// NewMessageValidator creates a new message validator
func NewMessageValidator() *MessageValidator {
	return &MessageValidator{}
}

// ValidateMessage validates an incoming message
func (v *MessageValidator) ValidateMessage(messageBytes []byte) (interface{}, error) {
	var base BaseMessage
	if err := json.Unmarshal(messageBytes, &base); err != nil {
		return nil, fmt.Errorf("invalid JSON format: %w", err)
	}

	switch base.Type {
	case MessageTypeConnect, MessageTypeDisconnect:
		return &base, nil

	case MessageTypeSendText:
		var msg SendTextMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid send_text message: %w", err)
		}
		if strings.TrimSpace(msg.Text) == "" {
			return nil, fmt.Errorf("text is required")
		}
		return &msg, nil

	case MessageTypePing:
		var msg PingMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid ping message: %w", err)
		}
		return &msg, nil

	case "":
		return nil, fmt.Errorf("message type is required")

	default:
		return nil, fmt.Errorf("unsupported message type: %s", base.Type)
	}
}

// ErrorCode maps an error to the code shown to the client
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, domain.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, domain.ErrDeviceUnavailable):
		return "device_unavailable"
	case errors.Is(err, domain.ErrConfiguration):
		return "configuration_error"
	case errors.Is(err, domain.ErrChannel):
		return "channel_error"
	case errors.Is(err, domain.ErrTransport):
		return "transport_error"
	case errors.Is(err, domain.ErrSessionClosed):
		return "session_closed"
	case errors.Is(err, usecase.ErrEmptyText):
		return "empty_text"
	default:
		return "internal_error"
	}
}

func now() string {
	return time.Now().Format(time.RFC3339)
}

// CreateErrorMessage creates a standardized error message
func CreateErrorMessage(code, message, details string) *ErrorMessage {
	return &ErrorMessage{
		BaseMessage: BaseMessage{Type: MessageTypeError, Timestamp: now()},
		Code:        code,
		Message:     message,
		Details:     details,
	}
}

// CreatePongMessage creates a pong response message
func CreatePongMessage(data string) *PongMessage {
	return &PongMessage{
		BaseMessage: BaseMessage{Type: MessageTypePong, Timestamp: now()},
		Data:        data,
	}
}

// CreateStateMessage creates a connection state message
func CreateStateMessage(state entities.ConnectionState, err error) *StateMessage {
	msg := &StateMessage{
		BaseMessage: BaseMessage{Type: MessageTypeState, Timestamp: now()},
		State:       state,
	}
	if err != nil {
		msg.Error = err.Error()
		msg.ErrorCode = ErrorCode(err)
	}
	return msg
}

// CreateVolumeMessage creates a volume message. It carries no timestamp since
// it is sent for every captured frame.
func CreateVolumeMessage(level float64) *VolumeMessage {
	return &VolumeMessage{
		BaseMessage: BaseMessage{Type: MessageTypeVolume},
		Volume:      level,
	}
}

// CreateMessagesMessage creates a conversation message
func CreateMessagesMessage(messages []entities.Message) *MessagesMessage {
	if messages == nil {
		messages = []entities.Message{}
	}
	return &MessagesMessage{
		BaseMessage: BaseMessage{Type: MessageTypeMessages, Timestamp: now()},
		Messages:    messages,
	}
}
