package domain_test

import (
	"testing"
	"time"

	"github.com/pilab-dev/datelink/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentity_CloneIsDeep(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	orig := domain.NewProfile("u1", "a@x.com", "Ann", domain.DefaultSuperLikeLimit, now)
	orig.Interests = []string{"music"}
	orig.PhotoURL = domain.Ptr("https://img/1.jpg")

	c := orig.Clone()
	c.Interests[0] = "sports"
	*c.PhotoURL = "changed"

	assert.Equal(t, "music", orig.Interests[0])
	assert.Equal(t, "https://img/1.jpg", *orig.PhotoURL)
	assert.Nil(t, (*domain.Identity)(nil).Clone())
}

func TestIdentity_MergeKeepsID(t *testing.T) {
	orig := domain.NewProfile("u1", "a@x.com", "Ann", 5, time.Now())

	merged := orig.Merge(domain.ProfilePatch{
		DisplayName:      domain.Ptr("Annie"),
		ProfileCompleted: domain.Ptr(true),
		Interests:        []string{"travel"},
	})

	assert.Equal(t, "u1", merged.ID)
	assert.Equal(t, "Annie", merged.DisplayName)
	assert.True(t, merged.ProfileCompleted)
	assert.Equal(t, []string{"travel"}, merged.Interests)
	assert.Equal(t, "Ann", orig.DisplayName, "merge must not mutate the receiver")
}

func TestProfilePatch_Fields(t *testing.T) {
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	p := domain.ProfilePatch{SuperLikesRemaining: domain.Ptr(0), LastSuperLikeDate: &day}

	f := p.Fields()
	require.Len(t, f, 2)
	assert.Equal(t, 0, f["super_likes_remaining"])
	assert.Equal(t, day, f["last_super_like_date"])
	assert.True(t, domain.ProfilePatch{}.IsEmpty())
}

func TestRelationship_Counterpart(t *testing.T) {
	r := domain.Relationship{ID: "m1", Participants: []string{"a", "b"}}

	other, ok := r.Counterpart("a")
	require.True(t, ok)
	assert.Equal(t, "b", other)

	_, ok = r.Counterpart("c")
	assert.False(t, ok)

	bad := domain.Relationship{ID: "m2", Participants: []string{"a", "a"}}
	assert.False(t, bad.Valid())
	_, ok = bad.Counterpart("a")
	assert.False(t, ok)
}
