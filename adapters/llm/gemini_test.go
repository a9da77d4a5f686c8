package llm

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/genai"

	"github.com/satriahrh/companion/domain/entities"
	"github.com/satriahrh/companion/domain/repositories"
)

func TestValidateGeminiConfig(t *testing.T) {
	tests := []struct {
		name    string
		config  GeminiConfig
		wantErr bool
	}{
		{name: "valid", config: GeminiConfig{APIKey: "key"}, wantErr: false},
		{name: "missing key", config: GeminiConfig{}, wantErr: true},
		{name: "temperature out of range", config: GeminiConfig{APIKey: "key", Temperature: 3}, wantErr: true},
		{name: "negative timeout", config: GeminiConfig{APIKey: "key", TimeoutSeconds: -1}, wantErr: true},
		{name: "negative max tokens", config: GeminiConfig{APIKey: "key", MaxOutputTokens: -5}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateGeminiConfig(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateGeminiConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewGemini_AppliesDefaults(t *testing.T) {
	g, err := NewGemini(context.Background(), GeminiConfig{APIKey: "test-key"}, zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.Equal(t, defaultChatModel, g.chatModel)
	assert.Equal(t, defaultLiveModel, g.liveModel)
	assert.Equal(t, defaultTimeoutSeconds, g.timeoutSeconds)
	assert.Equal(t, defaultMaxAttempts, g.maxAttempts)
}

func TestEventsFromServerMessage(t *testing.T) {
	audio := []byte{0x01, 0x00, 0xff, 0x7f}
	msg := &genai.LiveServerMessage{
		ServerContent: &genai.LiveServerContent{
			ModelTurn: &genai.Content{Parts: []*genai.Part{
				{Text: "thinking", Thought: true},
				{Text: "Hi"},
				{InlineData: &genai.Blob{Data: audio, MIMEType: "audio/pcm;rate=24000"}},
			}},
			OutputTranscription: &genai.Transcription{Text: "Hi there"},
			InputTranscription:  &genai.Transcription{Text: "hello"},
			Interrupted:         true,
			TurnComplete:        true,
		},
	}

	events := EventsFromServerMessage(msg)

	require.Len(t, events, 6)
	assert.Equal(t, repositories.AgentTextEvent{Text: "Hi"}, events[0])
	assert.Equal(t, repositories.AgentTranscriptEvent{Text: "Hi there"}, events[1])
	assert.Equal(t, repositories.UserTranscriptEvent{Text: "hello"}, events[2])
	assert.Equal(t, repositories.AgentAudioEvent{Data: audio, MIMEType: "audio/pcm;rate=24000", SampleRate: 24000}, events[3])
	assert.Equal(t, repositories.InterruptedEvent{}, events[4])
	assert.Equal(t, repositories.TurnCompleteEvent{}, events[5])
}

func TestEventsFromServerMessage_NoContent(t *testing.T) {
	assert.Empty(t, EventsFromServerMessage(nil))
	assert.Empty(t, EventsFromServerMessage(&genai.LiveServerMessage{SetupComplete: &genai.LiveServerSetupComplete{}}))
	assert.Empty(t, EventsFromServerMessage(&genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{
		InputTranscription: &genai.Transcription{Text: ""},
	}}))
}

func TestLiveConnectConfig(t *testing.T) {
	config := liveConnectConfig(repositories.LiveConfig{
		SystemInstruction:   "You are Maya",
		Voice:               "Kore",
		InputTranscription:  true,
		OutputTranscription: true,
	})

	assert.Equal(t, []genai.Modality{genai.ModalityAudio}, config.ResponseModalities)
	require.NotNil(t, config.SystemInstruction)
	assert.Equal(t, "You are Maya", config.SystemInstruction.Parts[0].Text)
	require.NotNil(t, config.SpeechConfig)
	assert.Equal(t, "Kore", config.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName)
	assert.NotNil(t, config.InputAudioTranscription)
	assert.NotNil(t, config.OutputAudioTranscription)

	bare := liveConnectConfig(repositories.LiveConfig{})
	assert.Nil(t, bare.SystemInstruction)
	assert.Nil(t, bare.SpeechConfig)
	assert.Nil(t, bare.InputAudioTranscription)
}

func TestConvertMessagesToGeminiFormat(t *testing.T) {
	contents := convertMessagesToGeminiFormat([]entities.Message{
		entities.NewMessage(entities.RoleUser, "hi"),
		entities.NewMessage(entities.RoleAssistant, ""),
		entities.NewMessage(entities.RoleAssistant, "hello"),
	})

	require.Len(t, contents, 2)
	assert.Equal(t, string(genai.RoleUser), contents[0].Role)
	assert.Equal(t, "hi", contents[0].Parts[0].Text)
	assert.Equal(t, string(genai.RoleModel), contents[1].Role)
	assert.Equal(t, "hello", contents[1].Parts[0].Text)
}

func TestIsNormalClosure(t *testing.T) {
	assert.True(t, isNormalClosure(&websocket.CloseError{Code: websocket.CloseNormalClosure}))
	assert.True(t, isNormalClosure(io.EOF))
	assert.False(t, isNormalClosure(&websocket.CloseError{Code: websocket.CloseInternalServerErr}))
	assert.False(t, isNormalClosure(errors.New("boom")))
}
