// Package memstore is an in-process profile and relationship backend with live
// relationship queries. It backs storage_backend=memory and the tests.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pilab-dev/datelink/domain"
)

// Store implements domain.ProfileRepository and domain.RelationshipRepository.
type Store struct {
	mu            sync.RWMutex
	profiles      map[string]*domain.Identity
	relationships map[string]domain.Relationship
	getErrors     map[string]error
	watchers      map[*watcher]struct{}
	now           func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		profiles:      make(map[string]*domain.Identity),
		relationships: make(map[string]domain.Relationship),
		getErrors:     make(map[string]error),
		watchers:      make(map[*watcher]struct{}),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// FailGet makes GetProfile(id) return err until cleared with a nil err.
func (s *Store) FailGet(id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.getErrors, id)
		return
	}
	s.getErrors[id] = err
}

func (s *Store) GetProfile(ctx context.Context, id string) (*domain.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.getErrors[id]; err != nil {
		return nil, err
	}
	p, ok := s.profiles[id]
	if !ok {
		return nil, fmt.Errorf("profile %s: %w", id, domain.ErrNotFound)
	}
	return p.Clone(), nil
}

func (s *Store) CreateProfile(ctx context.Context, profile *domain.Identity) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.profiles[profile.ID]; ok {
		return fmt.Errorf("profile %s: %w", profile.ID, domain.ErrAlreadyExists)
	}
	c := profile.Clone()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	c.UpdatedAt = s.now()
	if c.ReceivedSuperLikes == nil {
		c.ReceivedSuperLikes = []string{}
	}
	s.profiles[c.ID] = c
	return nil
}

func (s *Store) UpdateProfile(ctx context.Context, id string, patch domain.ProfilePatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[id]
	if !ok {
		return fmt.Errorf("profile %s: %w", id, domain.ErrNotFound)
	}
	if patch.UpdatedAt == nil {
		patch.UpdatedAt = domain.Ptr(s.now())
	}
	s.profiles[id] = p.Merge(patch)
	return nil
}

// CreateRelationship inserts one relationship.
func (s *Store) CreateRelationship(ctx context.Context, r *domain.Relationship) error {
	return s.CreateRelationships(ctx, r)
}

// CreateRelationships inserts rels atomically; each watcher sees them as one delta.
func (s *Store) CreateRelationships(ctx context.Context, rels ...*domain.Relationship) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range rels {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = s.now()
		}
		if !r.Valid() {
			return fmt.Errorf("relationship %s: participants must be two distinct ids", r.ID)
		}
		if _, ok := s.relationships[r.ID]; ok {
			return fmt.Errorf("relationship %s: %w", r.ID, domain.ErrAlreadyExists)
		}
	}

	changes := make([]domain.RelationshipChange, 0, len(rels))
	for _, r := range rels {
		stored := cloneRelationship(*r)
		s.relationships[r.ID] = stored
		changes = append(changes, domain.RelationshipChange{Kind: domain.ChangeAdded, Relationship: stored})
	}
	s.publishLocked(changes)
	return nil
}

// ReplaceRelationship overwrites an existing relationship, emitting a modified change.
// Participants are immutable.
func (s *Store) ReplaceRelationship(ctx context.Context, r domain.Relationship) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.relationships[r.ID]
	if !ok {
		return fmt.Errorf("relationship %s: %w", r.ID, domain.ErrNotFound)
	}
	if !r.Valid() || !r.Includes(old.Participants[0]) || !r.Includes(old.Participants[1]) {
		return fmt.Errorf("relationship %s: participants cannot change", r.ID)
	}
	stored := cloneRelationship(r)
	s.relationships[r.ID] = stored
	s.publishLocked([]domain.RelationshipChange{{Kind: domain.ChangeModified, Relationship: stored}})
	return nil
}

func (s *Store) DeleteRelationship(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.relationships[id]
	if !ok {
		return fmt.Errorf("relationship %s: %w", id, domain.ErrNotFound)
	}
	delete(s.relationships, id)
	s.publishLocked([]domain.RelationshipChange{{Kind: domain.ChangeRemoved, Relationship: r}})
	return nil
}

// WatchRelationships implements domain.RelationshipRepository.
func (s *Store) WatchRelationships(
	ctx context.Context,
	identityID string,
	onDelta func(domain.RelationshipDelta),
) (domain.RelationshipWatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w := newWatcher(identityID, onDelta)
	stop := context.AfterFunc(ctx, func() { _ = w.Close() })
	w.detach = func() {
		stop()
		s.mu.Lock()
		delete(s.watchers, w)
		s.mu.Unlock()
	}

	s.mu.Lock()
	initial := domain.RelationshipDelta{}
	for _, r := range s.relationships {
		if r.Includes(identityID) {
			initial.Changes = append(initial.Changes, domain.RelationshipChange{
				Kind: domain.ChangeAdded, Relationship: cloneRelationship(r),
			})
		}
	}
	w.push(initial)
	s.watchers[w] = struct{}{}
	s.mu.Unlock()

	return w, nil
}

// publishLocked routes changes to the watchers of each participant.
func (s *Store) publishLocked(changes []domain.RelationshipChange) {
	for w := range s.watchers {
		var delta domain.RelationshipDelta
		for _, c := range changes {
			if !c.Relationship.Includes(w.identityID) {
				continue
			}
			c.Relationship = cloneRelationship(c.Relationship)
			delta.Changes = append(delta.Changes, c)
		}
		if len(delta.Changes) > 0 {
			w.push(delta)
		}
	}
}

func cloneRelationship(r domain.Relationship) domain.Relationship {
	r.Participants = append([]string(nil), r.Participants...)
	return r
}

var (
	_ domain.ProfileRepository      = (*Store)(nil)
	_ domain.RelationshipRepository = (*Store)(nil)
)
