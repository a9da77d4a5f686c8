package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/satriahrh/companion/domain"
	"github.com/satriahrh/companion/domain/entities"
	"github.com/satriahrh/companion/domain/repositories"
)

type ProfileRepository struct {
	collection *mongo.Collection
}

// NewProfileRepository creates a new MongoDB profile repository
func NewProfileRepository(db *mongo.Database) *ProfileRepository {
	return &ProfileRepository{
		collection: db.Collection("profiles"),
	}
}

// Get implements repositories.ProfileRepository
func (r *ProfileRepository) Get(ctx context.Context, id string) (*entities.Profile, error) {
	if id == "" {
		return nil, errors.New("profile ID cannot be empty")
	}

	var profile entities.Profile
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&profile)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get profile %s: %w", id, err)
	}
	if profile.Memories == nil {
		profile.Memories = []string{}
	}
	return &profile, nil
}

// Save implements repositories.ProfileRepository
func (r *ProfileRepository) Save(ctx context.Context, profile *entities.Profile) error {
	if profile == nil {
		return errors.New("profile cannot be nil")
	}
	if profile.ID == "" {
		return errors.New("profile ID cannot be empty")
	}
	if profile.UpdatedAt.IsZero() {
		profile.UpdatedAt = time.Now()
	}

	_, err := r.collection.ReplaceOne(ctx,
		bson.M{"_id": profile.ID},
		profile,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

var _ repositories.ProfileRepository = (*ProfileRepository)(nil)
