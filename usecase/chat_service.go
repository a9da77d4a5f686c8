package usecase

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/satriahrh/companion/domain"
	"github.com/satriahrh/companion/domain/entities"
	"github.com/satriahrh/companion/domain/repositories"
)

// FallbackReply is shown in place of a text reply that could not be produced
const FallbackReply = "Sorry, I couldn't process that message right now."

// ChatService handles the non-realtime text conversation
type ChatService struct {
	llm    repositories.LargeLanguageModel
	logger *zap.Logger
}

// NewChatService creates a new chat service. llm may be nil when no credential is configured.
func NewChatService(llm repositories.LargeLanguageModel, logger *zap.Logger) *ChatService {
	return &ChatService{llm: llm, logger: logger}
}

// Reply streams an answer to text given the recent history. onChunk receives the reply
// accumulated so far after every streamed fragment. Provider failures are wrapped in
// domain.ErrTransport; a missing provider is domain.ErrConfiguration.
func (s *ChatService) Reply(
	ctx context.Context,
	profile entities.Profile,
	history []entities.Message,
	text string,
	onChunk func(sofar string),
) (string, error) {
	if s.llm == nil {
		return "", fmt.Errorf("%w: chat model credential is not set", domain.ErrConfiguration)
	}

	s.logger.Debug("Sending chat message",
		zap.Int("history", len(history)),
		zap.Int("length", len(text)))

	var reply strings.Builder
	full, err := s.llm.StreamChat(ctx, repositories.ChatRequest{
		SystemInstruction: entities.SystemInstruction(profile),
		History:           history,
		Text:              text,
	}, func(chunk string) {
		if chunk == "" {
			return
		}
		reply.WriteString(chunk)
		if onChunk != nil {
			onChunk(reply.String())
		}
	})
	if err != nil {
		return reply.String(), fmt.Errorf("%w: %w", domain.ErrTransport, err)
	}
	if full == "" {
		full = reply.String()
	}

	s.logger.Info("Chat reply completed", zap.Int("length", len(full)))
	return full, nil
}
