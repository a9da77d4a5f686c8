// Package redis persists profiles and a trimmed conversation window in Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/satriahrh/companion/domain"
	"github.com/satriahrh/companion/domain/entities"
	"github.com/satriahrh/companion/domain/repositories"
)

const (
	DefaultTTL         = 24 * time.Hour
	DefaultMaxMessages = 100

	profilePrefix      = "profile:"
	conversationPrefix = "conversation:"
)

// NewClient connects to addr, either a redis:// URL or host:port, and pings it
func NewClient(ctx context.Context, addr string, logger *zap.Logger) (*goredis.Client, error) {
	var opts *goredis.Options
	if strings.Contains(addr, "://") {
		parsed, err := goredis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid redis URL: %w", err)
		}
		opts = parsed
	} else {
		opts = &goredis.Options{Addr: addr}
	}

	rdb := goredis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	logger.Info("Connected to Redis", zap.String("addr", opts.Addr), zap.Int("db", opts.DB))
	return rdb, nil
}

type ProfileRepository struct {
	rdb *goredis.Client
}

// NewProfileRepository creates a new Redis profile repository
func NewProfileRepository(rdb *goredis.Client) *ProfileRepository {
	return &ProfileRepository{rdb: rdb}
}

// Get implements repositories.ProfileRepository
func (r *ProfileRepository) Get(ctx context.Context, id string) (*entities.Profile, error) {
	data, err := r.rdb.Get(ctx, profilePrefix+id).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}

	var profile entities.Profile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile: %w", err)
	}
	return &profile, nil
}

// Save implements repositories.ProfileRepository
func (r *ProfileRepository) Save(ctx context.Context, profile *entities.Profile) error {
	if profile.UpdatedAt.IsZero() {
		profile.UpdatedAt = time.Now()
	}
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}
	if err := r.rdb.Set(ctx, profilePrefix+profile.ID, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

// ConversationRepository keeps the last maxMessages of each conversation in a list
// that expires ttl after the last append
type ConversationRepository struct {
	rdb         *goredis.Client
	ttl         time.Duration
	maxMessages int
}

// NewConversationRepository creates a new Redis conversation repository
func NewConversationRepository(rdb *goredis.Client, ttl time.Duration, maxMessages int) *ConversationRepository {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	return &ConversationRepository{rdb: rdb, ttl: ttl, maxMessages: maxMessages}
}

// Append implements repositories.ConversationRepository
func (r *ConversationRepository) Append(ctx context.Context, conversationID string, messages ...entities.Message) error {
	if len(messages) == 0 {
		return nil
	}

	values := make([]any, 0, len(messages))
	for _, m := range messages {
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		values = append(values, data)
	}

	key := conversationPrefix + conversationID
	_, err := r.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.RPush(ctx, key, values...)
		pipe.LTrim(ctx, key, int64(-r.maxMessages), -1)
		pipe.Expire(ctx, key, r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append messages: %w", err)
	}
	return nil
}

// Recent implements repositories.ConversationRepository
func (r *ConversationRepository) Recent(ctx context.Context, conversationID string, limit int) ([]entities.Message, error) {
	if limit <= 0 {
		return []entities.Message{}, nil
	}

	items, err := r.rdb.LRange(ctx, conversationPrefix+conversationID, int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}

	messages := make([]entities.Message, 0, len(items))
	for _, item := range items {
		var m entities.Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, nil
}

var (
	_ repositories.ProfileRepository      = (*ProfileRepository)(nil)
	_ repositories.ConversationRepository = (*ConversationRepository)(nil)
)
