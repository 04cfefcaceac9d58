package matches_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pilab-dev/datelink/domain"
	"github.com/pilab-dev/datelink/internal/memstore"
	"github.com/pilab-dev/datelink/internal/metrics"
	"github.com/pilab-dev/datelink/matches"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const waitFor = 2 * time.Second

var (
	jan = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	feb = time.Date(2024, 2, 15, 10, 0, 0, 0, time.UTC)
	mar = time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
)

func seedProfiles(t *testing.T, store *memstore.Store, ids ...string) {
	t.Helper()
	for _, id := range ids {
		p := domain.NewProfile(id, id+"@x.com", "name-"+id, 5, jan)
		p.Age = 30
		p.Interests = []string{"music"}
		require.NoError(t, store.CreateProfile(context.Background(), p))
	}
}

func rel(id, a, b string, at time.Time) *domain.Relationship {
	return &domain.Relationship{ID: id, Participants: []string{a, b}, CreatedAt: at}
}

// latest waits for a snapshot matching want and returns it.
func latest(t *testing.T, sub *matches.Subscription, want func(matches.Snapshot) bool) matches.Snapshot {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case snap, ok := <-sub.Snapshots():
			require.True(t, ok, "snapshot channel closed")
			if want(snap) {
				return snap
			}
		case <-deadline:
			t.Fatal("timed out waiting for snapshot")
			return matches.Snapshot{}
		}
	}
}

func ids(snap matches.Snapshot) []string {
	out := make([]string, 0, len(snap.Matches))
	for _, m := range snap.Matches {
		out = append(out, m.RelationshipID)
	}
	return out
}

func withLen(n int) func(matches.Snapshot) bool {
	return func(s matches.Snapshot) bool { return len(s.Matches) == n }
}

func TestAggregator_StartRequiresIdentity(t *testing.T) {
	store := memstore.New()
	agg := matches.NewAggregator(store, store, nil)

	_, err := agg.Start(context.Background(), "")
	assert.ErrorIs(t, err, matches.ErrNoIdentity)
}

func TestAggregator_InitialSnapshotIsOrdered(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	seedProfiles(t, store, "me", "a", "b", "c")
	require.NoError(t, store.CreateRelationships(ctx,
		rel("r-jan", "me", "a", jan),
		rel("r-feb", "b", "me", feb),
		rel("r-jan2", "me", "c", jan),
	))

	agg := matches.NewAggregator(store, store, nil)
	sub, err := agg.Start(ctx, "me")
	require.NoError(t, err)
	defer agg.Stop(sub)

	snap := latest(t, sub, withLen(3))
	assert.Equal(t, "me", snap.IdentityID)
	assert.Equal(t, []string{"r-feb", "r-jan", "r-jan2"}, ids(snap))

	first := snap.Matches[0]
	assert.Equal(t, "b", first.CounterpartID)
	assert.Equal(t, "name-b", first.DisplayName)
	assert.Equal(t, 30, first.Age)
	assert.Equal(t, feb, first.MatchedAt)
}

func TestAggregator_EmptyInitialSetStillEmits(t *testing.T) {
	store := memstore.New()
	agg := matches.NewAggregator(store, store, nil)

	sub, err := agg.Start(context.Background(), "me")
	require.NoError(t, err)
	defer agg.Stop(sub)

	snap := latest(t, sub, withLen(0))
	assert.NotNil(t, snap.Matches)
}

func TestAggregator_OneSnapshotPerDelta(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	seedProfiles(t, store, "a", "b", "c")

	reg := prometheus.NewRegistry()
	m := metrics.InitCustomMetrics(reg)
	agg := matches.NewAggregator(store, store, nil, matches.WithMetrics(m))

	sub, err := agg.Start(ctx, "me")
	require.NoError(t, err)
	defer agg.Stop(sub)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.SnapshotsEmittedTotal) == 1
	}, waitFor, 5*time.Millisecond)

	require.NoError(t, store.CreateRelationships(ctx,
		rel("r1", "me", "a", jan),
		rel("r2", "me", "b", feb),
		rel("r3", "me", "c", mar),
	))

	snap := latest(t, sub, withLen(3))
	assert.Equal(t, []string{"r3", "r2", "r1"}, ids(snap))

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.SnapshotsEmittedTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ActiveSubscriptions))
}

func TestAggregator_FollowsChanges(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	seedProfiles(t, store, "a", "b")
	require.NoError(t, store.CreateRelationship(ctx, rel("r1", "me", "a", jan)))

	agg := matches.NewAggregator(store, store, nil)
	sub, err := agg.Start(ctx, "me")
	require.NoError(t, err)
	defer agg.Stop(sub)

	latest(t, sub, withLen(1))

	require.NoError(t, store.CreateRelationship(ctx, rel("r2", "b", "me", feb)))
	snap := latest(t, sub, withLen(2))
	assert.Equal(t, []string{"r2", "r1"}, ids(snap))

	require.NoError(t, store.ReplaceRelationship(ctx, *rel("r1", "me", "a", mar)))
	snap = latest(t, sub, func(s matches.Snapshot) bool {
		return len(s.Matches) == 2 && s.Matches[0].RelationshipID == "r1"
	})
	assert.Equal(t, mar, snap.Matches[0].MatchedAt)

	require.NoError(t, store.DeleteRelationship(ctx, "r2"))
	snap = latest(t, sub, withLen(1))
	assert.Equal(t, []string{"r1"}, ids(snap))
}

func TestAggregator_IgnoresOtherUsers(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	seedProfiles(t, store, "a", "b", "c")

	agg := matches.NewAggregator(store, store, nil)
	sub, err := agg.Start(ctx, "me")
	require.NoError(t, err)
	defer agg.Stop(sub)

	latest(t, sub, withLen(0))

	require.NoError(t, store.CreateRelationship(ctx, rel("other", "a", "b", feb)))
	require.NoError(t, store.CreateRelationship(ctx, rel("mine", "me", "c", jan)))

	snap := latest(t, sub, withLen(1))
	assert.Equal(t, []string{"mine"}, ids(snap))
}

func TestAggregator_LookupFailureReportedOnceAndRetried(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	seedProfiles(t, store, "a", "b", "c", "d")
	store.FailGet("a", domain.ErrUnavailable)
	require.NoError(t, store.CreateRelationships(ctx,
		rel("r-a", "me", "a", feb),
		rel("r-b", "me", "b", jan),
	))

	agg := matches.NewAggregator(store, store, nil)
	sub, err := agg.Start(ctx, "me")
	require.NoError(t, err)
	defer agg.Stop(sub)

	snap := latest(t, sub, withLen(1))
	assert.Equal(t, []string{"r-b"}, ids(snap))

	select {
	case err := <-sub.Errors():
		var lerr *matches.LookupError
		require.True(t, errors.As(err, &lerr))
		assert.Equal(t, "r-a", lerr.RelationshipID)
		assert.Equal(t, "a", lerr.CounterpartID)
		assert.ErrorIs(t, err, domain.ErrUnavailable)
	case <-time.After(waitFor):
		t.Fatal("lookup failure was not reported")
	}

	// Still failing on the next change: omitted again, not reported again.
	require.NoError(t, store.CreateRelationship(ctx, rel("r-c", "me", "c", mar)))
	snap = latest(t, sub, withLen(2))
	assert.Equal(t, []string{"r-c", "r-b"}, ids(snap))

	select {
	case err := <-sub.Errors():
		t.Fatalf("unexpected second report: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	store.FailGet("a", nil)
	require.NoError(t, store.CreateRelationship(ctx, rel("r-d", "me", "d", jan.Add(-time.Hour))))
	snap = latest(t, sub, withLen(4))
	assert.Equal(t, []string{"r-c", "r-a", "r-b", "r-d"}, ids(snap))
}

func TestAggregator_StopClosesChannels(t *testing.T) {
	store := memstore.New()
	agg := matches.NewAggregator(store, store, nil)

	sub, err := agg.Start(context.Background(), "me")
	require.NoError(t, err)

	agg.Stop(sub)
	agg.Stop(sub)

	for range sub.Snapshots() {
	}
	_, ok := <-sub.Errors()
	assert.False(t, ok)
}

// blockingProfiles holds every lookup until released or cancelled.
type blockingProfiles struct {
	domain.ProfileRepository
	entered chan struct{}
	release chan struct{}
}

func (b *blockingProfiles) GetProfile(ctx context.Context, id string) (*domain.Identity, error) {
	select {
	case b.entered <- struct{}{}:
	default:
	}
	select {
	case <-b.release:
		return b.ProfileRepository.GetProfile(ctx, id)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestAggregator_StopDiscardsInFlightJoin(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	seedProfiles(t, store, "a")
	require.NoError(t, store.CreateRelationship(ctx, rel("r1", "me", "a", jan)))

	profiles := &blockingProfiles{
		ProfileRepository: store,
		entered:           make(chan struct{}, 1),
		release:           make(chan struct{}),
	}
	agg := matches.NewAggregator(store, profiles, nil)

	sub, err := agg.Start(ctx, "me")
	require.NoError(t, err)

	select {
	case <-profiles.entered:
	case <-time.After(waitFor):
		t.Fatal("join never started")
	}

	agg.Stop(sub)
	close(profiles.release)

	_, ok := <-sub.Snapshots()
	assert.False(t, ok, "no snapshot may be delivered after Stop")
}

// countingProfiles tracks the peak number of concurrent lookups.
type countingProfiles struct {
	domain.ProfileRepository
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (c *countingProfiles) GetProfile(ctx context.Context, id string) (*domain.Identity, error) {
	n := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return c.ProfileRepository.GetProfile(ctx, id)
}

func TestAggregator_LookupConcurrencyLimit(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	var rels []*domain.Relationship
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		seedProfiles(t, store, id)
		rels = append(rels, rel("r-"+id, "me", id, jan))
	}
	require.NoError(t, store.CreateRelationships(ctx, rels...))

	profiles := &countingProfiles{ProfileRepository: store}
	agg := matches.NewAggregator(store, profiles, nil, matches.WithLookupConcurrency(2))

	sub, err := agg.Start(ctx, "me")
	require.NoError(t, err)
	defer agg.Stop(sub)

	latest(t, sub, withLen(6))
	assert.LessOrEqual(t, profiles.peak.Load(), int32(2))
}

func TestAggregator_IndependentSubscriptions(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	seedProfiles(t, store, "a", "b")
	require.NoError(t, store.CreateRelationship(ctx, rel("r1", "a", "b", jan)))

	agg := matches.NewAggregator(store, store, nil)

	subA, err := agg.Start(ctx, "a")
	require.NoError(t, err)
	defer agg.Stop(subA)
	subB, err := agg.Start(ctx, "b")
	require.NoError(t, err)
	defer agg.Stop(subB)

	snapA := latest(t, subA, withLen(1))
	snapB := latest(t, subB, withLen(1))
	assert.Equal(t, "b", snapA.Matches[0].CounterpartID)
	assert.Equal(t, "a", snapB.Matches[0].CounterpartID)

	agg.Stop(subA)
	require.NoError(t, store.DeleteRelationship(ctx, "r1"))
	latest(t, subB, withLen(0))
}
