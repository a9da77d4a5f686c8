package repositories

import (
	"context"

	"github.com/satriahrh/companion/domain/entities"
)

// LargeLanguageModel abstracts the non-realtime chat provider
type LargeLanguageModel interface {
	// StreamChat sends text with the given history and calls onChunk for every
	// streamed text fragment. It returns the full reply.
	StreamChat(ctx context.Context, request ChatRequest, onChunk func(text string)) (string, error)
}

// ChatRequest is one turn of the text chat path
type ChatRequest struct {
	SystemInstruction string
	History           []entities.Message
	Text              string
}
