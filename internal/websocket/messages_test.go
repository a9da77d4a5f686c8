package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/satriahrh/companion/domain"
	"github.com/satriahrh/companion/domain/entities"
	"github.com/satriahrh/companion/usecase"
)

func TestMessageValidator_ValidateMessage(t *testing.T) {
	validator := NewMessageValidator()

	tests := []struct {
		name     string
		message  string
		wantType MessageType
		wantErr  bool
	}{
		{name: "connect", message: `{"type": "connect"}`, wantType: MessageTypeConnect},
		{name: "disconnect", message: `{"type": "disconnect"}`, wantType: MessageTypeDisconnect},
		{name: "send text", message: `{"type": "send_text", "text": "hello"}`, wantType: MessageTypeSendText},
		{name: "blank text", message: `{"type": "send_text", "text": "   "}`, wantErr: true},
		{name: "ping", message: `{"type": "ping", "data": "x"}`, wantType: MessageTypePing},
		{name: "missing type", message: `{"text": "hello"}`, wantErr: true},
		{name: "unknown type", message: `{"type": "audio_chunk"}`, wantErr: true},
		{name: "invalid json", message: `{"type":`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := validator.ValidateMessage([]byte(tt.message))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}

			var got MessageType
			switch msg := result.(type) {
			case *BaseMessage:
				got = msg.Type
			case *SendTextMessage:
				got = msg.Type
				if msg.Text != "hello" {
					t.Errorf("Expected text 'hello', got '%s'", msg.Text)
				}
			case *PingMessage:
				got = msg.Type
				if msg.Data != "x" {
					t.Errorf("Expected data 'x', got '%s'", msg.Data)
				}
			default:
				t.Fatalf("Unexpected result type %T", result)
			}
			if got != tt.wantType {
				t.Errorf("Expected type %s, got %s", tt.wantType, got)
			}
		})
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("open mic: %w", domain.ErrPermissionDenied), "permission_denied"},
		{domain.ErrDeviceUnavailable, "device_unavailable"},
		{domain.ErrConfiguration, "configuration_error"},
		{fmt.Errorf("%w: refused", domain.ErrChannel), "channel_error"},
		{domain.ErrTransport, "transport_error"},
		{domain.ErrSessionClosed, "session_closed"},
		{usecase.ErrEmptyText, "empty_text"},
		{errors.New("boom"), "internal_error"},
	}

	for _, tt := range tests {
		if got := ErrorCode(tt.err); got != tt.want {
			t.Errorf("ErrorCode(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestCreateStateMessage(t *testing.T) {
	msg := CreateStateMessage(entities.StateError, fmt.Errorf("%w: no key", domain.ErrConfiguration))

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Failed to marshal state message: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Failed to unmarshal state message: %v", err)
	}

	if decoded["type"] != "state" || decoded["state"] != "ERROR" {
		t.Errorf("Unexpected state message: %s", data)
	}
	if decoded["error_code"] != "configuration_error" {
		t.Errorf("Expected configuration_error, got %v", decoded["error_code"])
	}

	connected, _ := json.Marshal(CreateStateMessage(entities.StateConnected, nil))
	var plain map[string]interface{}
	_ = json.Unmarshal(connected, &plain)
	if _, ok := plain["error"]; ok {
		t.Errorf("Connected state should not carry an error: %s", connected)
	}
}

func TestCreateVolumeAndMessages(t *testing.T) {
	volume, _ := json.Marshal(CreateVolumeMessage(0.5))
	if string(volume) != `{"type":"volume","volume":0.5}` {
		t.Errorf("Unexpected volume message: %s", volume)
	}

	empty, _ := json.Marshal(CreateMessagesMessage(nil))
	var decoded MessagesMessage
	if err := json.Unmarshal(empty, &decoded); err != nil {
		t.Fatalf("Failed to unmarshal messages: %v", err)
	}
	if decoded.Messages == nil || len(decoded.Messages) != 0 {
		t.Errorf("Expected an empty list, got %v", decoded.Messages)
	}
}

func TestCreateErrorAndPong(t *testing.T) {
	errMsg := CreateErrorMessage("invalid_message", "Invalid message format", "unsupported message type: x")
	if errMsg.Type != MessageTypeError || errMsg.Code != "invalid_message" || errMsg.Timestamp == "" {
		t.Errorf("Unexpected error message: %+v", errMsg)
	}

	pong := CreatePongMessage("x")
	if pong.Type != MessageTypePong || pong.Data != "x" {
		t.Errorf("Unexpected pong message: %+v", pong)
	}
}
