// Package config loads process settings from the environment and an optional .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const (
	TransportGenAI     = "genai"
	TransportWebsocket = "websocket"

	StoreMemory = "memory"
	StoreMongo  = "mongo"
	StoreRedis  = "redis"
)

// Config holds every setting of the companion server
type Config struct {
	Port string

	GeminiAPIKey    string
	GeminiLiveModel string
	GeminiChatModel string
	LiveTransport   string
	LiveWSURL       string

	CaptureFrameSize  int
	ChatHistoryWindow int
	TextViaLive       bool

	StoreBackend   string
	MongoURI       string
	MongoDatabase  string
	RedisAddr      string
	ConversationID string
	ProfileID      string

	AuthSecret string

	LogLevel string
	LogFile  string
	LogJSON  bool

	FFmpegPath     string
	FFplayPath     string
	MicInputFormat string
	MicInputDevice string
}

// Load reads .env when present and builds the Config from the environment
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return FromEnv(), nil
}

// FromEnv builds the Config from environment variables, applying defaults
func FromEnv() Config {
	return Config{
		Port: getString("PORT", "8080"),

		GeminiAPIKey:    os.Getenv("GEMINI_API_KEY"),
		GeminiLiveModel: os.Getenv("GEMINI_LIVE_MODEL"),
		GeminiChatModel: os.Getenv("GEMINI_CHAT_MODEL"),
		LiveTransport:   strings.ToLower(getString("LIVE_TRANSPORT", TransportGenAI)),
		LiveWSURL:       os.Getenv("LIVE_WS_URL"),

		CaptureFrameSize:  getInt("CAPTURE_FRAME_SIZE", 4096),
		ChatHistoryWindow: getInt("CHAT_HISTORY_WINDOW", 10),
		TextViaLive:       getBool("TEXT_VIA_LIVE", false),

		StoreBackend:   strings.ToLower(getString("STORE_BACKEND", StoreMemory)),
		MongoURI:       os.Getenv("MONGODB_URI"),
		MongoDatabase:  os.Getenv("MONGODB_DATABASE"),
		RedisAddr:      getString("REDIS_ADDR", "localhost:6379"),
		ConversationID: getString("CONVERSATION_ID", "default"),
		ProfileID:      getString("PROFILE_ID", "default"),

		AuthSecret: os.Getenv("AUTH_SECRET"),

		LogLevel: getString("LOG_LEVEL", "info"),
		LogFile:  os.Getenv("LOG_FILE"),
		LogJSON:  getBool("LOG_JSON", false),

		FFmpegPath:     os.Getenv("FFMPEG_PATH"),
		FFplayPath:     os.Getenv("FFPLAY_PATH"),
		MicInputFormat: os.Getenv("MIC_INPUT_FORMAT"),
		MicInputDevice: os.Getenv("MIC_INPUT_DEVICE"),
	}
}

// Validate validates the Config. A missing API key is not an error here; the
// voice session reports it when the user connects.
func Validate(config Config) error {
	if _, err := strconv.Atoi(config.Port); err != nil {
		return fmt.Errorf("PORT must be a number, got %q", config.Port)
	}
	switch config.LiveTransport {
	case TransportGenAI, TransportWebsocket:
	default:
		return fmt.Errorf("LIVE_TRANSPORT must be %s or %s, got %q", TransportGenAI, TransportWebsocket, config.LiveTransport)
	}
	switch config.StoreBackend {
	case StoreMemory, StoreRedis:
	case StoreMongo:
		if config.MongoURI == "" {
			return fmt.Errorf("MONGODB_URI is required when STORE_BACKEND is %s", StoreMongo)
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be one of memory, mongo or redis, got %q", config.StoreBackend)
	}
	if config.CaptureFrameSize <= 0 {
		return fmt.Errorf("CAPTURE_FRAME_SIZE must be positive, got %d", config.CaptureFrameSize)
	}
	if config.ChatHistoryWindow < 0 {
		return fmt.Errorf("CHAT_HISTORY_WINDOW cannot be negative, got %d", config.ChatHistoryWindow)
	}
	return nil
}

// Log writes the effective configuration without secrets
func (c Config) Log(logger *zap.Logger) {
	logger.Info("Configuration loaded",
		zap.String("port", c.Port),
		zap.Bool("geminiKeyPresent", c.GeminiAPIKey != ""),
		zap.String("liveTransport", c.LiveTransport),
		zap.Int("captureFrameSize", c.CaptureFrameSize),
		zap.Int("chatHistoryWindow", c.ChatHistoryWindow),
		zap.Bool("textViaLive", c.TextViaLive),
		zap.String("storeBackend", c.StoreBackend),
		zap.Bool("authEnabled", c.AuthSecret != ""))
}

func getString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
