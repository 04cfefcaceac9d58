package session_test

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/pilab-dev/datelink/domain"
	serrors "github.com/pilab-dev/datelink/errors"
	"github.com/pilab-dev/datelink/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validCompletion() session.ProfileCompletion {
	return session.ProfileCompletion{
		Bio:       "Coffee first.",
		Age:       29,
		Gender:    "female",
		Location:  "Budapest",
		Interests: []string{"climbing"},
	}
}

func TestProfileCompletion_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*session.ProfileCompletion)
		ok     bool
	}{
		{name: "valid", mutate: func(*session.ProfileCompletion) {}, ok: true},
		{name: "blank bio", mutate: func(c *session.ProfileCompletion) { c.Bio = " " }},
		{name: "too young", mutate: func(c *session.ProfileCompletion) { c.Age = 17 }},
		{name: "lower bound", mutate: func(c *session.ProfileCompletion) { c.Age = 18 }, ok: true},
		{name: "upper bound", mutate: func(c *session.ProfileCompletion) { c.Age = 100 }, ok: true},
		{name: "too old", mutate: func(c *session.ProfileCompletion) { c.Age = 101 }},
		{name: "no gender", mutate: func(c *session.ProfileCompletion) { c.Gender = "" }},
		{name: "no location", mutate: func(c *session.ProfileCompletion) { c.Location = "" }},
		{name: "no interests", mutate: func(c *session.ProfileCompletion) { c.Interests = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			form := validCompletion()
			tt.mutate(&form)
			err := form.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, serrors.InvalidArgument, serrors.CodeOf(err))
		})
	}
}

func TestManager_CompleteProfileRequiresSession(t *testing.T) {
	h := newHarness(t)

	_, err := h.manager.CompleteProfile(context.Background(), validCompletion())
	assert.Equal(t, serrors.NoActiveSession, serrors.CodeOf(err))
}

func TestManager_CompleteProfile(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	ident, err := h.manager.Register(ctx, "a@x.com", "Passw0rd!", session.InitialProfile{DisplayName: "Ann"})
	require.NoError(t, err)

	form := validCompletion()
	form.Photo = &session.Photo{ContentType: "image/jpeg", Data: bytes.NewReader([]byte("jpeg-bytes"))}

	completed, err := h.manager.CompleteProfile(ctx, form)
	require.NoError(t, err)

	assert.Equal(t, ident.ID, completed.ID)
	assert.True(t, completed.ProfileCompleted)
	assert.Equal(t, "Budapest", completed.Location)
	require.NotNil(t, completed.PhotoURL)
	assert.Equal(t, "http://photos.test/photos/profile_"+ident.ID+"_1709294400000.jpg", *completed.PhotoURL)

	stored, err := h.profiles.GetProfile(ctx, ident.ID)
	require.NoError(t, err)
	assert.True(t, stored.ProfileCompleted)
	assert.Equal(t, []string{"climbing"}, stored.Interests)
	assert.Equal(t, completed.PhotoURL, stored.PhotoURL)

	rc, err := h.photos.OpenPhoto(ctx, "profile_"+ident.ID+"_1709294400000.jpg")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(data))

	assert.True(t, h.manager.CurrentIdentity().ProfileCompleted)
}

func TestManager_CompleteProfileRejectsInvalidForm(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	ident, err := h.manager.Register(ctx, "a@x.com", "Passw0rd!", session.InitialProfile{DisplayName: "Ann"})
	require.NoError(t, err)

	form := validCompletion()
	form.Age = 12
	_, err = h.manager.CompleteProfile(ctx, form)
	assert.Equal(t, serrors.InvalidArgument, serrors.CodeOf(err))

	stored, err := h.profiles.GetProfile(ctx, ident.ID)
	require.NoError(t, err)
	assert.False(t, stored.ProfileCompleted)
}

func TestManager_CompleteProfileRepositoryFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.provider.addAccount("u1", "a@x.com", "secret-a")

	// Signed in without a profile record: the update has nothing to write to.
	_, err := h.manager.SignInWithCredentials(ctx, "a@x.com", "secret-a")
	require.NoError(t, err)

	_, err = h.manager.CompleteProfile(ctx, validCompletion())
	assert.Equal(t, serrors.NotFound, serrors.CodeOf(err))
	assert.False(t, h.manager.CurrentIdentity().ProfileCompleted)
	_, err = h.profiles.GetProfile(ctx, "u1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
