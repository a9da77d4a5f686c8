package repositories

import (
	"context"

	"github.com/satriahrh/companion/domain/entities"
)

// ProfileRepository persists the companion profile (name, persona, memories)
type ProfileRepository interface {
	// Get returns domain.ErrNotFound when no profile has been saved yet.
	Get(ctx context.Context, id string) (*entities.Profile, error)
	Save(ctx context.Context, profile *entities.Profile) error
}

// ConversationRepository persists finalized conversation messages
type ConversationRepository interface {
	Append(ctx context.Context, conversationID string, messages ...entities.Message) error
	// Recent returns at most limit messages, oldest first.
	Recent(ctx context.Context, conversationID string, limit int) ([]entities.Message, error)
}
