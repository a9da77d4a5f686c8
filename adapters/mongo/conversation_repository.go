package mongo

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/satriahrh/companion/domain/entities"
	"github.com/satriahrh/companion/domain/repositories"
)

// messageDocument is one finalized message of a conversation
type messageDocument struct {
	ID             string        `bson:"_id"`
	ConversationID string        `bson:"conversation_id"`
	Role           entities.Role `bson:"role"`
	Text           string        `bson:"text"`
	Timestamp      time.Time     `bson:"timestamp"`
}

type ConversationRepository struct {
	collection *mongo.Collection
}

// NewConversationRepository creates a new MongoDB conversation repository
func NewConversationRepository(db *mongo.Database) *ConversationRepository {
	return &ConversationRepository{
		collection: db.Collection("messages"),
	}
}

// EnsureIndexes creates the index used to read the latest messages of a conversation
func (r *ConversationRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "timestamp", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create message index: %w", err)
	}
	return nil
}

// Append implements repositories.ConversationRepository. Messages are upserted by ID,
// so appending the same message twice stores it once.
func (r *ConversationRepository) Append(ctx context.Context, conversationID string, messages ...entities.Message) error {
	if conversationID == "" {
		return errors.New("conversation ID cannot be empty")
	}
	if len(messages) == 0 {
		return nil
	}

	models := make([]mongo.WriteModel, 0, len(messages))
	for _, m := range messages {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("invalid message: %w", err)
		}
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": m.ID}).
			SetReplacement(messageDocument{
				ID:             m.ID,
				ConversationID: conversationID,
				Role:           m.Role,
				Text:           m.Text,
				Timestamp:      m.Timestamp,
			}).
			SetUpsert(true))
	}

	if _, err := r.collection.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(true)); err != nil {
		return fmt.Errorf("failed to append messages: %w", err)
	}
	return nil
}

// Recent implements repositories.ConversationRepository
func (r *ConversationRepository) Recent(ctx context.Context, conversationID string, limit int) ([]entities.Message, error) {
	if limit <= 0 {
		return []entities.Message{}, nil
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, bson.M{"conversation_id": conversationID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find messages: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []messageDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}

	messages := make([]entities.Message, 0, len(docs))
	for _, d := range docs {
		messages = append(messages, entities.Message{ID: d.ID, Role: d.Role, Text: d.Text, Timestamp: d.Timestamp})
	}
	slices.Reverse(messages)
	return messages, nil
}

var _ repositories.ConversationRepository = (*ConversationRepository)(nil)
