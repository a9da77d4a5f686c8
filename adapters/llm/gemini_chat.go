package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/satriahrh/companion/domain/entities"
	"github.com/satriahrh/companion/domain/repositories"
)

// StreamChat implements repositories.LargeLanguageModel. A failed stream is retried
// only if nothing has been delivered to onChunk yet.
func (g *Gemini) StreamChat(ctx context.Context, request repositories.ChatRequest, onChunk func(text string)) (string, error) {
	contents := append(convertMessagesToGeminiFormat(request.History), genai.NewContentFromText(request.Text, genai.RoleUser))

	config := &genai.GenerateContentConfig{}
	if request.SystemInstruction != "" {
		config.SystemInstruction = genai.NewContentFromText(request.SystemInstruction, genai.RoleUser)
	}
	if g.temperature > 0 {
		config.Temperature = genai.Ptr(g.temperature)
	}
	if g.maxOutputTokens > 0 {
		config.MaxOutputTokens = int32(g.maxOutputTokens)
	}

	// Add timeout to context if not already set
	ctx, cancel := context.WithTimeout(ctx, time.Duration(g.timeoutSeconds)*time.Second)
	defer cancel()

	var err error
	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		var reply strings.Builder
		var delivered bool

		err = nil
		for response, streamErr := range g.client.Models.GenerateContentStream(ctx, g.chatModel, contents, config) {
			if streamErr != nil {
				err = streamErr
				break
			}
			text := response.Text()
			if text == "" {
				continue
			}
			delivered = true
			reply.WriteString(text)
			if onChunk != nil {
				onChunk(text)
			}
		}

		if err == nil {
			g.logger.Info("Chat stream completed",
				zap.String("model", g.chatModel),
				zap.Int("history_length", len(request.History)),
				zap.Int("reply_length", reply.Len()))
			return reply.String(), nil
		}
		if delivered || ctx.Err() != nil {
			break
		}

		g.logger.Warn("Failed to generate content, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		if attempt < g.maxAttempts-1 {
			select {
			case <-time.After(time.Duration(attempt+1) * time.Second):
			case <-ctx.Done():
			}
		}
	}

	g.logger.Error("Failed to stream chat reply", zap.Error(err))
	return "", fmt.Errorf("gemini chat stream: %w", err)
}

// convertMessagesToGeminiFormat converts conversation messages to Gemini contents
func convertMessagesToGeminiFormat(messages []entities.Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(messages)+1)

	for _, msg := range messages {
		if strings.TrimSpace(msg.Text) == "" {
			continue
		}

		var role genai.Role
		switch msg.Role {
		case entities.RoleAssistant:
			role = genai.RoleModel
		default:
			role = genai.RoleUser
		}

		contents = append(contents, genai.NewContentFromText(msg.Text, role))
	}

	return contents
}
