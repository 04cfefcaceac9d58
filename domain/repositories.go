package domain

import (
	"context"
	"io"
)

// SessionStore is opaque durable key/value storage that survives process restarts.
type SessionStore interface {
	// Get returns the stored value and whether the key was present.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// ProfileRepository reads and writes identity profile records (the users collection).
// Implementations return errors wrapping ErrNotFound for missing records and
// ErrUnavailable for transport failures.
type ProfileRepository interface {
	GetProfile(ctx context.Context, id string) (*Identity, error)
	CreateProfile(ctx context.Context, profile *Identity) error
	UpdateProfile(ctx context.Context, id string, patch ProfilePatch) error
}

// RelationshipWatch is a running live query. Close releases it; no delta is
// delivered after Close returns.
type RelationshipWatch interface {
	Close() error
}

// RelationshipRepository serves the relationships collection.
type RelationshipRepository interface {
	// WatchRelationships opens a live query for relationships whose participants
	// contain identityID. onDelta is invoked serially, first with the current set.
	WatchRelationships(ctx context.Context, identityID string, onDelta func(RelationshipDelta)) (RelationshipWatch, error)
	CreateRelationship(ctx context.Context, r *Relationship) error
	DeleteRelationship(ctx context.Context, id string) error
}

// PhotoStore stores binary profile images and returns an addressable URL.
type PhotoStore interface {
	PutPhoto(ctx context.Context, name, contentType string, data io.Reader) (string, error)
	OpenPhoto(ctx context.Context, name string) (io.ReadCloser, error)
}
