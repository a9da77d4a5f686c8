package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

const (
	defaultChatModel      = "gemini-2.5-flash"
	defaultLiveModel      = "gemini-2.5-flash-native-audio-preview-09-2025"
	defaultTimeoutSeconds = 60
	defaultMaxAttempts    = 3
)

// GeminiConfig configures the Gemini client
type GeminiConfig struct {
	APIKey          string
	ChatModel       string
	LiveModel       string
	Temperature     float32
	MaxOutputTokens int
	TimeoutSeconds  int
	MaxAttempts     int
}

// ValidateGeminiConfig validates the GeminiConfig
func ValidateGeminiConfig(config GeminiConfig) error {
	if config.APIKey == "" {
		return fmt.Errorf("Google AI API key is required")
	}

	// Validate temperature is in the valid range
	if config.Temperature < 0 || config.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", config.Temperature)
	}

	if config.MaxOutputTokens < 0 {
		return fmt.Errorf("maxOutputTokens must be positive, got %d", config.MaxOutputTokens)
	}

	// Validate timeout is reasonable if specified
	if config.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout must be positive, got %d", config.TimeoutSeconds)
	}

	return nil
}

// Gemini talks to Google's Gemini API. It implements repositories.LargeLanguageModel
// for text chat and repositories.LiveDialer for live voice sessions.
type Gemini struct {
	client          *genai.Client
	logger          *zap.Logger
	chatModel       string
	liveModel       string
	temperature     float32
	maxOutputTokens int
	timeoutSeconds  int
	maxAttempts     int
}

// NewGemini creates a new Gemini client
func NewGemini(ctx context.Context, config GeminiConfig, logger *zap.Logger) (*Gemini, error) {
	if err := ValidateGeminiConfig(config); err != nil {
		return nil, err
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	// Apply defaults where needed
	chatModel := config.ChatModel
	if chatModel == "" {
		chatModel = defaultChatModel
		logger.Info("Using default chat model", zap.String("model", chatModel))
	}

	liveModel := config.LiveModel
	if liveModel == "" {
		liveModel = defaultLiveModel
		logger.Info("Using default live model", zap.String("model", liveModel))
	}

	timeoutSeconds := config.TimeoutSeconds
	if timeoutSeconds == 0 {
		timeoutSeconds = defaultTimeoutSeconds
		logger.Info("Using default timeoutSeconds", zap.Int("timeoutSeconds", timeoutSeconds))
	}

	maxAttempts := config.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	return &Gemini{
		client:          client,
		logger:          logger,
		chatModel:       chatModel,
		liveModel:       liveModel,
		temperature:     config.Temperature,
		maxOutputTokens: config.MaxOutputTokens,
		timeoutSeconds:  timeoutSeconds,
		maxAttempts:     maxAttempts,
	}, nil
}
