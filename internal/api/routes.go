package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/companion/domain"
	"github.com/satriahrh/companion/domain/entities"
	"github.com/satriahrh/companion/domain/repositories"
	"github.com/satriahrh/companion/internal/auth"
	"github.com/satriahrh/companion/internal/websocket"
)

const (
	defaultMessagesLimit = 50
	maxMessagesLimit     = 500
	clientIDKey          = "client_id"
)

// SessionReader exposes the observable state of the voice session
type SessionReader interface {
	State() entities.ConnectionState
	Err() error
	Messages() []entities.Message
	Volume() float64
}

// Dependencies holds everything the routes need
type Dependencies struct {
	Hub            *websocket.Hub
	Session        SessionReader
	Profiles       repositories.ProfileRepository
	Conversations  repositories.ConversationRepository
	Auth           *auth.Authenticator
	ProfileID      string
	ConversationID string
	Logger         *zap.Logger
}

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, deps Dependencies) {
	h := &handlers{deps: deps, logger: deps.Logger}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "companion",
		})
	})

	// API v1 routes
	v1 := e.Group("/api/v1")
	v1.POST("/token", h.issueToken)

	protected := v1.Group("", h.requireToken)
	protected.GET("/session", h.getSession)
	protected.GET("/profile", h.getProfile)
	protected.PUT("/profile", h.updateProfile)
	protected.GET("/messages", h.getMessages)

	// WebSocket endpoint, authenticated when a secret is configured
	e.GET("/ws", h.serveWebSocket, h.requireToken)
}

type handlers struct {
	deps   Dependencies
	logger *zap.Logger
}

// bearerToken extracts the token from the Authorization header, falling back to
// the token query parameter for browsers that cannot set headers on upgrades
func bearerToken(c echo.Context) string {
	authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(authHeader[len("Bearer "):])
	}
	return c.QueryParam("token")
}

func (h *handlers) requireToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !h.deps.Auth.Enabled() {
			return next(c)
		}

		token := bearerToken(c)
		if token == "" {
			h.logger.Warn("Request rejected: missing token", zap.String("path", c.Path()))
			return c.JSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "missing_token",
				Message: "JWT token is required in Authorization header",
			})
		}

		claims, err := h.deps.Auth.ValidateToken(token)
		if err != nil {
			h.logger.Warn("Request rejected: invalid token", zap.String("path", c.Path()), zap.Error(err))
			return c.JSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "invalid_token",
				Message: "Invalid or expired JWT token",
			})
		}

		c.Set(clientIDKey, claims.ClientID)
		return next(c)
	}
}

func (h *handlers) issueToken(c echo.Context) error {
	var req TokenRequest
	if err := c.Bind(&req); err != nil {
		h.logger.Error("Failed to bind token request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}
	if req.ClientID == "" {
		req.ClientID = uuid.NewString()
	}

	token, expiresAt, err := h.deps.Auth.IssueToken(req.ClientID, req.Secret)
	switch {
	case errors.Is(err, auth.ErrDisabled):
		return c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "auth_disabled",
			Message: "Authentication is not configured",
		})
	case errors.Is(err, auth.ErrInvalidCredentials):
		h.logger.Warn("Token request rejected", zap.String("client_id", req.ClientID))
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "authentication_failed",
			Message: "Invalid credentials",
		})
	case err != nil:
		h.logger.Error("Failed to generate token", zap.String("client_id", req.ClientID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "token_generation_failed",
			Message: "Failed to generate authentication token",
		})
	}

	h.logger.Info("Client authenticated", zap.String("client_id", req.ClientID))
	return c.JSON(http.StatusOK, TokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		ClientID:  req.ClientID,
	})
}

func (h *handlers) getSession(c echo.Context) error {
	resp := SessionResponse{
		State:    h.deps.Session.State(),
		Volume:   h.deps.Session.Volume(),
		Messages: h.deps.Session.Messages(),
	}
	if err := h.deps.Session.Err(); err != nil {
		resp.Error = err.Error()
	}
	if resp.Messages == nil {
		resp.Messages = []entities.Message{}
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *handlers) getProfile(c echo.Context) error {
	profile, err := h.deps.Profiles.Get(c.Request().Context(), h.deps.ProfileID)
	if errors.Is(err, domain.ErrNotFound) {
		def := entities.DefaultProfile(h.deps.ProfileID)
		return c.JSON(http.StatusOK, def)
	}
	if err != nil {
		h.logger.Error("Failed to load profile", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to load profile",
		})
	}
	return c.JSON(http.StatusOK, profile)
}

func (h *handlers) updateProfile(c echo.Context) error {
	var profile entities.Profile
	if err := c.Bind(&profile); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	profile.ID = h.deps.ProfileID
	profile.Normalize()
	if err := profile.Validate(); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_profile",
			Message: err.Error(),
		})
	}

	if err := h.deps.Profiles.Save(c.Request().Context(), &profile); err != nil {
		h.logger.Error("Failed to save profile", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to save profile",
		})
	}

	// takes effect on the next connect
	h.logger.Info("Profile updated", zap.String("profile_id", profile.ID), zap.String("name", profile.Name))
	return c.JSON(http.StatusOK, profile)
}

func (h *handlers) getMessages(c echo.Context) error {
	limit := defaultMessagesLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_limit",
				Message: "limit must be a positive integer",
			})
		}
		limit = min(n, maxMessagesLimit)
	}

	messages, err := h.deps.Conversations.Recent(c.Request().Context(), h.deps.ConversationID, limit)
	if err != nil {
		h.logger.Error("Failed to load messages", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to load messages",
		})
	}
	if messages == nil {
		messages = []entities.Message{}
	}
	return c.JSON(http.StatusOK, MessagesResponse{
		ConversationID: h.deps.ConversationID,
		Messages:       messages,
	})
}

func (h *handlers) serveWebSocket(c echo.Context) error {
	clientID, _ := c.Get(clientIDKey).(string)
	if clientID == "" {
		clientID = uuid.NewString()
	}

	h.logger.Info("WebSocket connection accepted", zap.String("client_id", clientID))
	return websocket.HandleWebSocket(h.deps.Hub, c, clientID, h.logger)
}
