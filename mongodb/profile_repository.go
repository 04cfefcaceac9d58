package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pilab-dev/datelink/domain"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ProfileRepository implements domain.ProfileRepository on the users collection.
type ProfileRepository struct {
	users *mongo.Collection
	now   func() time.Time
}

// NewProfileRepository creates the repository and ensures its indexes.
func NewProfileRepository(ctx context.Context, db *mongo.Database) (*ProfileRepository, error) {
	repo := &ProfileRepository{
		users: db.Collection(UsersCollection),
		now:   func() time.Time { return time.Now().UTC() },
	}
	if err := repo.createIndexes(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to create profile indexes (might be due to existing compatible indexes)")
	}
	return repo, nil
}

func (r *ProfileRepository) createIndexes(ctx context.Context) error {
	indexModels := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetCollation(&options.Collation{Locale: "en", Strength: 2}),
		},
		{
			Keys: bson.D{{Key: "is_online", Value: 1}, {Key: "last_active", Value: -1}},
		},
	}

	if _, err := r.users.Indexes().CreateMany(ctx, indexModels); err != nil {
		return fmt.Errorf("failed to create indexes for users collection: %w", err)
	}
	log.Info().Msg("Indexes for users collection ensured.")
	return nil
}

// GetProfile retrieves a profile by identity id.
func (r *ProfileRepository) GetProfile(ctx context.Context, id string) (*domain.Identity, error) {
	var profile domain.Identity
	err := r.users.FindOne(ctx, bson.M{"_id": id}).Decode(&profile)
	if err != nil {
		if !errors.Is(err, mongo.ErrNoDocuments) {
			log.Error().Err(err).Str("id", id).Msg("Error getting profile from MongoDB")
		}
		return nil, classify(err, "get profile")
	}
	return &profile, nil
}

// CreateProfile inserts a new profile. The id must already be assigned by the provider.
func (r *ProfileRepository) CreateProfile(ctx context.Context, profile *domain.Identity) error {
	if profile.ID == "" {
		return errors.New("profile ID is required")
	}
	now := r.now()
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = now
	}
	profile.UpdatedAt = now
	if profile.ReceivedSuperLikes == nil {
		profile.ReceivedSuperLikes = []string{}
	}

	if _, err := r.users.InsertOne(ctx, profile); err != nil {
		log.Error().Err(err).Str("id", profile.ID).Msg("Error creating profile in MongoDB")
		return classify(err, "create profile")
	}
	return nil
}

// UpdateProfile applies patch with $set and stamps updated_at.
func (r *ProfileRepository) UpdateProfile(ctx context.Context, id string, patch domain.ProfilePatch) error {
	fields := patch.Fields()
	if _, ok := fields["updated_at"]; !ok {
		fields["updated_at"] = r.now()
	}

	result, err := r.users.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": fields})
	if err != nil {
		log.Error().Err(err).Str("id", id).Msg("Error updating profile in MongoDB")
		return classify(err, "update profile")
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("update profile %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

var _ domain.ProfileRepository = (*ProfileRepository)(nil)
