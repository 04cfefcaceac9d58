package mongodb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pilab-dev/datelink/domain"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// RelationshipRepository implements domain.RelationshipRepository on the matches
// collection. Live queries use change streams and need a replica set.
type RelationshipRepository struct {
	matches *mongo.Collection
	now     func() time.Time
}

// NewRelationshipRepository creates the repository and indexes the participants array.
func NewRelationshipRepository(ctx context.Context, db *mongo.Database) (*RelationshipRepository, error) {
	repo := &RelationshipRepository{
		matches: db.Collection(MatchesCollection),
		now:     func() time.Time { return time.Now().UTC() },
	}

	_, err := repo.matches.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "users", Value: 1}, {Key: "created_at", Value: -1}},
	})
	if err != nil {
		log.Warn().Err(err).Msg("Error creating indexes for matches collection")
	}

	return repo, nil
}

// CreateRelationship inserts r, assigning an id and creation time when missing.
func (r *RelationshipRepository) CreateRelationship(ctx context.Context, rel *domain.Relationship) error {
	if rel.ID == "" {
		rel.ID = uuid.NewString()
	}
	if rel.CreatedAt.IsZero() {
		rel.CreatedAt = r.now()
	}
	if !rel.Valid() {
		return fmt.Errorf("relationship %s: participants must be two distinct ids", rel.ID)
	}

	if _, err := r.matches.InsertOne(ctx, rel); err != nil {
		return classify(err, "create relationship")
	}
	return nil
}

// DeleteRelationship removes a relationship by id.
func (r *RelationshipRepository) DeleteRelationship(ctx context.Context, id string) error {
	result, err := r.matches.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return classify(err, "delete relationship")
	}
	if result.DeletedCount == 0 {
		return fmt.Errorf("delete relationship %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

type changeEvent struct {
	OperationType string `bson:"operationType"`
	DocumentKey   struct {
		ID string `bson:"_id"`
	} `bson:"documentKey"`
	FullDocument *domain.Relationship `bson:"fullDocument"`
}

type relationshipWatch struct {
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// Close stops the stream and waits for the delivery goroutine to exit.
// It must not be called from inside onDelta.
func (w *relationshipWatch) Close() error {
	w.closeOnce.Do(w.cancel)
	<-w.done
	return nil
}

// WatchRelationships opens a change stream before reading the current set, so no
// change between the read and the watch is lost. Events already buffered in the
// same server batch are folded into one delta.
func (r *RelationshipRepository) WatchRelationships(
	ctx context.Context,
	identityID string,
	onDelta func(domain.RelationshipDelta),
) (domain.RelationshipWatch, error) {
	watchCtx, cancel := context.WithCancel(ctx)

	pipeline := mongo.Pipeline{{{Key: "$match", Value: bson.D{{Key: "$or", Value: bson.A{
		bson.D{{Key: "fullDocument.users", Value: identityID}},
		bson.D{{Key: "operationType", Value: bson.D{{Key: "$in", Value: bson.A{"delete", "update", "replace"}}}}},
	}}}}}}
	stream, err := r.matches.Watch(watchCtx, pipeline, options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		cancel()
		return nil, classify(err, "watch relationships")
	}

	cursor, err := r.matches.Find(watchCtx, bson.M{"users": identityID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		_ = stream.Close(context.Background())
		cancel()
		return nil, classify(err, "find relationships")
	}

	var initial []*domain.Relationship
	if err := cursor.All(watchCtx, &initial); err != nil {
		_ = stream.Close(context.Background())
		cancel()
		return nil, classify(err, "decode relationships")
	}

	known := make(map[string]struct{}, len(initial))
	first := domain.RelationshipDelta{}
	for _, rel := range initial {
		known[rel.ID] = struct{}{}
		first.Changes = append(first.Changes, domain.RelationshipChange{Kind: domain.ChangeAdded, Relationship: *rel})
	}

	w := &relationshipWatch{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(w.done)
		defer func() { _ = stream.Close(context.Background()) }()

		onDelta(first)

		for stream.Next(watchCtx) {
			delta := domain.RelationshipDelta{}
			appendEvent(stream, identityID, known, &delta)
			for stream.RemainingBatchLength() > 0 && stream.TryNext(watchCtx) {
				appendEvent(stream, identityID, known, &delta)
			}
			if len(delta.Changes) > 0 && watchCtx.Err() == nil {
				onDelta(delta)
			}
		}

		if err := stream.Err(); err != nil && !errors.Is(err, context.Canceled) && watchCtx.Err() == nil {
			log.Error().Err(err).Str("identity_id", identityID).Msg("Relationship change stream ended")
		}
	}()

	return w, nil
}

// appendEvent translates the current stream event into a change for identityID.
// known tracks the relationship ids currently visible to the watcher.
func appendEvent(stream *mongo.ChangeStream, identityID string, known map[string]struct{}, delta *domain.RelationshipDelta) {
	var ev changeEvent
	if err := stream.Decode(&ev); err != nil {
		log.Warn().Err(err).Msg("Skipping undecodable relationship change event")
		return
	}

	id := ev.DocumentKey.ID
	_, wasKnown := known[id]

	if ev.OperationType == "delete" || ev.FullDocument == nil || !ev.FullDocument.Includes(identityID) {
		if wasKnown {
			delete(known, id)
			delta.Changes = append(delta.Changes, domain.RelationshipChange{
				Kind:         domain.ChangeRemoved,
				Relationship: domain.Relationship{ID: id},
			})
		}
		return
	}

	kind := domain.ChangeModified
	if !wasKnown {
		kind = domain.ChangeAdded
		known[id] = struct{}{}
	}
	delta.Changes = append(delta.Changes, domain.RelationshipChange{Kind: kind, Relationship: *ev.FullDocument})
}

var _ domain.RelationshipRepository = (*RelationshipRepository)(nil)
