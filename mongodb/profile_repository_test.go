package mongodb_test

import (
	"context"
	"testing"
	"time"

	"github.com/pilab-dev/datelink/domain"
	"github.com/pilab-dev/datelink/mongodb"
	"github.com/pilab-dev/datelink/mongodb/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfileRepository(t *testing.T) {
	db := testutil.SetupTestMongoDB(t, "test_datelink_profiles")
	ctx := context.Background()

	repo, err := mongodb.NewProfileRepository(ctx, db)
	require.NoError(t, err)

	_, err = repo.GetProfile(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	profile := domain.NewProfile("u1", "ann@x.com", "Ann", domain.DefaultSuperLikeLimit, time.Now().UTC())
	require.NoError(t, repo.CreateProfile(ctx, profile))
	assert.ErrorIs(t, repo.CreateProfile(ctx, profile), domain.ErrAlreadyExists)

	stored, err := repo.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ann", stored.DisplayName)
	assert.Equal(t, 5, stored.SuperLikesRemaining)
	assert.False(t, stored.ProfileCompleted)
	assert.Empty(t, stored.ReceivedSuperLikes)

	t.Run("UpdateRoundTrip", func(t *testing.T) {
		now := time.Now().UTC().Truncate(time.Millisecond)
		require.NoError(t, repo.UpdateProfile(ctx, "u1", domain.ProfilePatch{
			SuperLikesRemaining: domain.Ptr(2),
			LastSuperLikeDate:   &now,
			Interests:           []string{"hiking"},
		}))

		updated, err := repo.GetProfile(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 2, updated.SuperLikesRemaining)
		require.NotNil(t, updated.LastSuperLikeDate)
		assert.True(t, now.Equal(*updated.LastSuperLikeDate))
		assert.Equal(t, []string{"hiking"}, updated.Interests)
		assert.Equal(t, "Ann", updated.DisplayName)
	})

	t.Run("UpdateMissing", func(t *testing.T) {
		err := repo.UpdateProfile(ctx, "missing", domain.ProfilePatch{Bio: domain.Ptr("x")})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestAccountRepository(t *testing.T) {
	db := testutil.SetupTestMongoDB(t, "test_datelink_accounts")
	ctx := context.Background()

	repo, err := mongodb.NewAccountRepository(ctx, db)
	require.NoError(t, err)

	account := &domain.Account{ID: "a1", Email: "Ann@X.com", PasswordHash: "hash", CreatedAt: time.Now().UTC()}
	require.NoError(t, repo.CreateAccount(ctx, account))

	dup := &domain.Account{ID: "a2", Email: "ann@x.com", PasswordHash: "hash"}
	assert.ErrorIs(t, repo.CreateAccount(ctx, dup), domain.ErrAlreadyExists)

	found, err := repo.GetAccountByEmail(ctx, "ann@x.com")
	require.NoError(t, err)
	assert.Equal(t, "a1", found.ID)

	_, err = repo.GetAccountByID(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
