package mongodb_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pilab-dev/datelink/domain"
	"github.com/pilab-dev/datelink/mongodb"
	"github.com/pilab-dev/datelink/mongodb/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type deltaRecorder struct {
	mu     sync.Mutex
	deltas []domain.RelationshipDelta
}

func (r *deltaRecorder) record(d domain.RelationshipDelta) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deltas = append(r.deltas, d)
}

func (r *deltaRecorder) kinds() []domain.ChangeKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kinds []domain.ChangeKind
	for _, d := range r.deltas {
		for _, c := range d.Changes {
			kinds = append(kinds, c.Kind)
		}
	}
	return kinds
}

func TestRelationshipRepository_Watch(t *testing.T) {
	db := testutil.SetupTestMongoDB(t, "test_datelink_matches")
	ctx := context.Background()

	repo, err := mongodb.NewRelationshipRepository(ctx, db)
	require.NoError(t, err)

	require.NoError(t, repo.CreateRelationship(ctx, &domain.Relationship{
		ID: "m1", Participants: []string{"u1", "u2"}, CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}))

	rec := &deltaRecorder{}
	watch, err := repo.WatchRelationships(ctx, "u1", rec.record)
	if err != nil {
		t.Skipf("change streams unavailable (needs a replica set): %v", err)
	}
	defer watch.Close()

	require.Eventually(t, func() bool { return len(rec.kinds()) == 1 }, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, repo.CreateRelationship(ctx, &domain.Relationship{ID: "m2", Participants: []string{"u3", "u1"}}))
	require.NoError(t, repo.CreateRelationship(ctx, &domain.Relationship{ID: "m3", Participants: []string{"u3", "u4"}}))
	require.NoError(t, repo.DeleteRelationship(ctx, "m1"))

	require.Eventually(t, func() bool { return len(rec.kinds()) == 3 }, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, []domain.ChangeKind{domain.ChangeAdded, domain.ChangeAdded, domain.ChangeRemoved}, rec.kinds())
}

func TestRelationshipRepository_RejectsInvalid(t *testing.T) {
	db := testutil.SetupTestMongoDB(t, "test_datelink_matches_invalid")
	ctx := context.Background()

	repo, err := mongodb.NewRelationshipRepository(ctx, db)
	require.NoError(t, err)

	assert.Error(t, repo.CreateRelationship(ctx, &domain.Relationship{Participants: []string{"u1", "u1"}}))
	assert.ErrorIs(t, repo.DeleteRelationship(ctx, "missing"), domain.ErrNotFound)
}
