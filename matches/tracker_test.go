package matches_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pilab-dev/datelink/domain"
	"github.com/pilab-dev/datelink/internal/memstore"
	"github.com/pilab-dev/datelink/matches"
	"github.com/pilab-dev/datelink/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSessions delivers states synchronously to its single subscriber.
type fakeSessions struct {
	mu sync.Mutex
	fn func(session.State)
}

func (f *fakeSessions) Subscribe(fn func(session.State)) func() {
	f.mu.Lock()
	f.fn = fn
	f.mu.Unlock()
	fn(session.State{Status: session.StatusUnknown})
	return func() {
		f.mu.Lock()
		f.fn = nil
		f.mu.Unlock()
	}
}

func (f *fakeSessions) emit(s session.State) {
	f.mu.Lock()
	fn := f.fn
	f.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func signedIn(id string) session.State {
	return session.State{Status: session.StatusAuthenticated, Identity: &domain.Identity{ID: id}}
}

func TestTracker_FollowsIdentity(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	seedProfiles(t, store, "u1", "u2", "x", "y")
	require.NoError(t, store.CreateRelationships(ctx,
		rel("r1", "u1", "x", jan),
		rel("r2", "u2", "y", feb),
		rel("r3", "u2", "x", mar),
	))

	sessions := &fakeSessions{}
	tracker := matches.NewTracker(matches.NewAggregator(store, store, nil), sessions, nil)
	tracker.Start(ctx)
	defer tracker.Close()

	_, ok := tracker.Latest()
	assert.False(t, ok)

	sessions.emit(signedIn("u1"))
	require.Eventually(t, func() bool {
		snap, ok := tracker.Latest()
		return ok && snap.IdentityID == "u1" && len(snap.Matches) == 1
	}, waitFor, 5*time.Millisecond)

	sessions.emit(session.State{Status: session.StatusUnauthenticated})
	_, ok = tracker.Latest()
	assert.False(t, ok, "signing out clears the previous user's matches")

	sessions.emit(signedIn("u2"))
	require.Eventually(t, func() bool {
		snap, ok := tracker.Latest()
		return ok && snap.IdentityID == "u2" && len(snap.Matches) == 2
	}, waitFor, 5*time.Millisecond)

	snap, _ := tracker.Latest()
	assert.Equal(t, "r3", snap.Matches[0].RelationshipID)

	require.NoError(t, store.DeleteRelationship(ctx, "r3"))
	require.Eventually(t, func() bool {
		snap, ok := tracker.Latest()
		return ok && len(snap.Matches) == 1
	}, waitFor, 5*time.Millisecond)
}

func TestTracker_SameIdentityKeepsSubscription(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	seedProfiles(t, store, "x")
	require.NoError(t, store.CreateRelationship(ctx, rel("r1", "u1", "x", jan)))

	sessions := &fakeSessions{}
	tracker := matches.NewTracker(matches.NewAggregator(store, store, nil), sessions, nil)
	tracker.Start(ctx)
	defer tracker.Close()

	sessions.emit(signedIn("u1"))
	require.Eventually(t, func() bool {
		_, ok := tracker.Latest()
		return ok
	}, waitFor, 5*time.Millisecond)

	// A profile update republishes the same identity; the view survives.
	updated := signedIn("u1")
	updated.Identity.Bio = "new bio"
	sessions.emit(updated)

	_, ok := tracker.Latest()
	assert.True(t, ok)
}

func TestTracker_Close(t *testing.T) {
	store := memstore.New()
	sessions := &fakeSessions{}
	tracker := matches.NewTracker(matches.NewAggregator(store, store, nil), sessions, nil)
	tracker.Start(context.Background())

	sessions.emit(signedIn("u1"))
	tracker.Close()
	tracker.Close()

	sessions.emit(signedIn("u2"))
	_, ok := tracker.Latest()
	assert.False(t, ok)
}
