package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	for _, key := range []string{"PORT", "LIVE_TRANSPORT", "CAPTURE_FRAME_SIZE", "CHAT_HISTORY_WINDOW", "TEXT_VIA_LIVE", "STORE_BACKEND"} {
		t.Setenv(key, "")
	}

	config := FromEnv()

	assert.Equal(t, "8080", config.Port)
	assert.Equal(t, TransportGenAI, config.LiveTransport)
	assert.Equal(t, 4096, config.CaptureFrameSize)
	assert.Equal(t, 10, config.ChatHistoryWindow)
	assert.False(t, config.TextViaLive)
	assert.Equal(t, StoreMemory, config.StoreBackend)
	assert.NoError(t, Validate(config))
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("LIVE_TRANSPORT", "WebSocket")
	t.Setenv("CHAT_HISTORY_WINDOW", "4")
	t.Setenv("TEXT_VIA_LIVE", "true")
	t.Setenv("CAPTURE_FRAME_SIZE", "not-a-number")

	config := FromEnv()

	assert.Equal(t, TransportWebsocket, config.LiveTransport)
	assert.Equal(t, 4, config.ChatHistoryWindow)
	assert.True(t, config.TextViaLive)
	assert.Equal(t, 4096, config.CaptureFrameSize, "unparsable numbers fall back to the default")
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("GEMINI_CHAT_MODEL=chat-from-file\n"), 0o600))
	t.Setenv("GEMINI_CHAT_MODEL", "")
	os.Unsetenv("GEMINI_CHAT_MODEL")

	config, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "chat-from-file", config.GeminiChatModel)

	_, err = Load(filepath.Join(dir, "missing.env"))
	assert.NoError(t, err, "a missing .env file is not an error")
}

func TestValidate(t *testing.T) {
	valid := FromEnv()
	valid.Port = "8080"
	valid.LiveTransport = TransportGenAI
	valid.StoreBackend = StoreMemory
	valid.CaptureFrameSize = 4096
	valid.ChatHistoryWindow = 10

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}, wantErr: false},
		{name: "no api key is allowed", mutate: func(c *Config) { c.GeminiAPIKey = "" }, wantErr: false},
		{name: "bad port", mutate: func(c *Config) { c.Port = "http" }, wantErr: true},
		{name: "unknown transport", mutate: func(c *Config) { c.LiveTransport = "grpc" }, wantErr: true},
		{name: "unknown store", mutate: func(c *Config) { c.StoreBackend = "sqlite" }, wantErr: true},
		{name: "mongo without uri", mutate: func(c *Config) { c.StoreBackend = StoreMongo; c.MongoURI = "" }, wantErr: true},
		{name: "mongo with uri", mutate: func(c *Config) { c.StoreBackend = StoreMongo; c.MongoURI = "mongodb://x" }, wantErr: false},
		{name: "zero frame size", mutate: func(c *Config) { c.CaptureFrameSize = 0 }, wantErr: true},
		{name: "negative window", mutate: func(c *Config) { c.ChatHistoryWindow = -1 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := valid
			tt.mutate(&config)
			if err := Validate(config); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
