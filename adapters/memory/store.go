// Package memory keeps profiles and conversations in process, backed by go-cache.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/satriahrh/companion/domain"
	"github.com/satriahrh/companion/domain/entities"
	"github.com/satriahrh/companion/domain/repositories"
)

const (
	// DefaultMaxMessages is how many messages a conversation keeps in memory
	DefaultMaxMessages = 500

	cleanupInterval = 10 * time.Minute
)

// ProfileRepository stores profiles until the process exits
type ProfileRepository struct {
	cache *cache.Cache
}

// NewProfileRepository creates a new in-memory profile repository
func NewProfileRepository() *ProfileRepository {
	return &ProfileRepository{
		cache: cache.New(cache.NoExpiration, cleanupInterval),
	}
}

// Get implements repositories.ProfileRepository
func (r *ProfileRepository) Get(ctx context.Context, id string) (*entities.Profile, error) {
	if x, found := r.cache.Get(id); found {
		snapshot := x.(entities.Profile).Snapshot()
		return &snapshot, nil
	}
	return nil, domain.ErrNotFound
}

// Save implements repositories.ProfileRepository
func (r *ProfileRepository) Save(ctx context.Context, profile *entities.Profile) error {
	snapshot := profile.Snapshot()
	if snapshot.UpdatedAt.IsZero() {
		snapshot.UpdatedAt = time.Now()
	}
	r.cache.Set(profile.ID, snapshot, cache.NoExpiration)
	return nil
}

// ConversationRepository keeps the last messages of every conversation.
// Idle conversations expire after ttl; zero keeps them forever.
type ConversationRepository struct {
	cache       *cache.Cache
	ttl         time.Duration
	maxMessages int

	mu sync.Mutex
}

// NewConversationRepository creates a new in-memory conversation repository
func NewConversationRepository(ttl time.Duration, maxMessages int) *ConversationRepository {
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	return &ConversationRepository{
		cache:       cache.New(ttl, cleanupInterval),
		ttl:         ttl,
		maxMessages: maxMessages,
	}
}

// Append implements repositories.ConversationRepository
func (r *ConversationRepository) Append(ctx context.Context, conversationID string, messages ...entities.Message) error {
	if len(messages) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var history []entities.Message
	if x, found := r.cache.Get(conversationID); found {
		history = x.([]entities.Message)
	}
	history = append(append([]entities.Message(nil), history...), messages...)
	r.cache.Set(conversationID, entities.LastMessages(history, r.maxMessages), r.ttl)
	return nil
}

// Recent implements repositories.ConversationRepository
func (r *ConversationRepository) Recent(ctx context.Context, conversationID string, limit int) ([]entities.Message, error) {
	x, found := r.cache.Get(conversationID)
	if !found {
		return []entities.Message{}, nil
	}
	return entities.LastMessages(x.([]entities.Message), limit), nil
}

var (
	_ repositories.ProfileRepository      = (*ProfileRepository)(nil)
	_ repositories.ConversationRepository = (*ConversationRepository)(nil)
)
