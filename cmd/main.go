package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/satriahrh/companion/adapters/device"
	"github.com/satriahrh/companion/adapters/llm"
	"github.com/satriahrh/companion/adapters/memory"
	"github.com/satriahrh/companion/adapters/mongo"
	"github.com/satriahrh/companion/adapters/redis"
	"github.com/satriahrh/companion/adapters/wslive"
	"github.com/satriahrh/companion/domain/repositories"
	"github.com/satriahrh/companion/internal/api"
	"github.com/satriahrh/companion/internal/auth"
	"github.com/satriahrh/companion/internal/config"
	"github.com/satriahrh/companion/internal/logger"
	"github.com/satriahrh/companion/internal/websocket"
	"github.com/satriahrh/companion/usecase"
)

// stores bundles the persistence backends and their shutdown hook
type stores struct {
	profiles      repositories.ProfileRepository
	conversations repositories.ConversationRepository
	close         func(ctx context.Context) error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(logger.Config{Level: cfg.LogLevel, JSON: cfg.LogJSON, File: cfg.LogFile})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := config.Validate(cfg); err != nil {
		log.Fatal("Invalid configuration", zap.Error(err))
	}
	cfg.Log(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize adapters
	st, err := newStores(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize storage", zap.Error(err))
	}

	dialer, chatModel, err := newRemote(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize Gemini", zap.Error(err))
	}

	microphone := device.NewMicrophone(device.MicrophoneConfig{
		FFmpegPath:  cfg.FFmpegPath,
		InputFormat: cfg.MicInputFormat,
		InputDevice: cfg.MicInputDevice,
	}, log)
	speaker := device.NewSpeaker(device.SpeakerConfig{FFplayPath: cfg.FFplayPath}, log)

	// Initialize usecase services
	session := usecase.NewVoiceSession(usecase.VoiceSessionDeps{
		Dialer:        dialer,
		Microphone:    microphone,
		Speaker:       speaker,
		Profiles:      st.profiles,
		Conversations: st.conversations,
		Chat:          usecase.NewChatService(chatModel, log),
	}, usecase.VoiceSessionOptions{
		ProfileID:      cfg.ProfileID,
		ConversationID: cfg.ConversationID,
		LiveModel:      cfg.GeminiLiveModel,
		FrameSize:      cfg.CaptureFrameSize,
		HistoryWindow:  cfg.ChatHistoryWindow,
		TextViaLive:    cfg.TextViaLive,
	}, log)

	if err := session.LoadHistory(ctx, cfg.ChatHistoryWindow); err != nil {
		log.Warn("Failed to load conversation history", zap.Error(err))
	}

	// Initialize WebSocket hub with the voice session
	hub := websocket.NewHub(session, log)
	go hub.Run(ctx)

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Initialize API routes
	api.InitRoutes(e, api.Dependencies{
		Hub:            hub,
		Session:        session,
		Profiles:       st.profiles,
		Conversations:  st.conversations,
		Auth:           auth.NewAuthenticator(cfg.AuthSecret, auth.DefaultTokenTTL),
		ProfileID:      cfg.ProfileID,
		ConversationID: cfg.ConversationID,
		Logger:         log,
	})

	// Graceful shutdown
	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			log.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	log.Info("Server started", zap.String("port", cfg.Port))

	// Wait for interrupt signal to gracefully shutdown the server
	<-ctx.Done()

	log.Info("Server is shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := session.Close(); err != nil {
		log.Warn("Failed to close voice session", zap.Error(err))
	}
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := st.close(shutdownCtx); err != nil {
		log.Warn("Failed to close storage", zap.Error(err))
	}

	log.Info("Server exited")
}

func newStores(ctx context.Context, cfg config.Config, log *zap.Logger) (*stores, error) {
	switch cfg.StoreBackend {
	case config.StoreMongo:
		client, err := mongo.NewClient(ctx, mongo.Config{URI: cfg.MongoURI, Database: cfg.MongoDatabase}, log)
		if err != nil {
			return nil, err
		}
		conversations := mongo.NewConversationRepository(client.Database)
		if err := conversations.EnsureIndexes(ctx); err != nil {
			log.Warn("Failed to create conversation indexes", zap.Error(err))
		}
		return &stores{
			profiles:      mongo.NewProfileRepository(client.Database),
			conversations: conversations,
			close:         client.Close,
		}, nil

	case config.StoreRedis:
		rdb, err := redis.NewClient(ctx, cfg.RedisAddr, log)
		if err != nil {
			return nil, err
		}
		return &stores{
			profiles:      redis.NewProfileRepository(rdb),
			conversations: redis.NewConversationRepository(rdb, redis.DefaultTTL, 0),
			close:         func(context.Context) error { return rdb.Close() },
		}, nil

	default:
		return &stores{
			profiles:      memory.NewProfileRepository(),
			conversations: memory.NewConversationRepository(0, 0),
			close:         func(context.Context) error { return nil },
		}, nil
	}
}

// newRemote builds the live dialer and chat model. Without an API key both are
// nil and the session reports a configuration error on connect.
func newRemote(ctx context.Context, cfg config.Config, log *zap.Logger) (repositories.LiveDialer, repositories.LargeLanguageModel, error) {
	if cfg.GeminiAPIKey == "" {
		log.Warn("GEMINI_API_KEY is not set, voice and chat are disabled")
		return nil, nil, nil
	}

	gemini, err := llm.NewGemini(ctx, llm.GeminiConfig{
		APIKey:    cfg.GeminiAPIKey,
		ChatModel: cfg.GeminiChatModel,
		LiveModel: cfg.GeminiLiveModel,
	}, log)
	if err != nil {
		return nil, nil, err
	}

	if cfg.LiveTransport != config.TransportWebsocket {
		return gemini, gemini, nil
	}

	dialer, err := wslive.NewDialer(wslive.Config{
		URL:    cfg.LiveWSURL,
		APIKey: cfg.GeminiAPIKey,
		Model:  cfg.GeminiLiveModel,
	}, log)
	if err != nil {
		return nil, nil, err
	}
	return dialer, gemini, nil
}
