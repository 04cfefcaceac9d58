package session

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pilab-dev/datelink/domain"
	serrors "github.com/pilab-dev/datelink/errors"
	"github.com/pilab-dev/datelink/log"
	"github.com/pilab-dev/datelink/tracing"
)

const (
	minAge = 18
	maxAge = 100
)

// Photo is an image to upload with the profile.
type Photo struct {
	ContentType string
	Data        io.Reader
}

// ProfileCompletion is the profile-setup form.
type ProfileCompletion struct {
	Bio         string
	Age         int
	Gender      string
	Location    string
	Interests   []string
	DateOfBirth *time.Time
	Photo       *Photo
}

// Validate checks the required profile-setup fields.
func (c ProfileCompletion) Validate() error {
	switch {
	case strings.TrimSpace(c.Bio) == "":
		return serrors.New(serrors.InvalidArgument, "bio is required")
	case c.Age < minAge || c.Age > maxAge:
		return serrors.New(serrors.InvalidArgument, fmt.Sprintf("age must be between %d and %d", minAge, maxAge))
	case strings.TrimSpace(c.Gender) == "":
		return serrors.New(serrors.InvalidArgument, "gender is required")
	case strings.TrimSpace(c.Location) == "":
		return serrors.New(serrors.InvalidArgument, "location is required")
	case len(c.Interests) == 0:
		return serrors.New(serrors.InvalidArgument, "select at least one interest")
	}
	return nil
}

// CompleteProfile validates the form, uploads the optional photo, marks the
// profile completed in the repository and republishes the merged identity.
func (m *Manager) CompleteProfile(ctx context.Context, form ProfileCompletion) (_ *domain.Identity, err error) {
	ctx, span := tracing.Start(ctx, "session.CompleteProfile")
	defer func() { endSpan(span, err) }()

	current := m.CurrentIdentity()
	if current == nil {
		return nil, serrors.New(serrors.NoActiveSession, "no user is signed in")
	}
	if err := form.Validate(); err != nil {
		return nil, err
	}

	now := m.now().UTC()
	patch := domain.ProfilePatch{
		Bio:              domain.Ptr(strings.TrimSpace(form.Bio)),
		Age:              domain.Ptr(form.Age),
		Gender:           domain.Ptr(form.Gender),
		Location:         domain.Ptr(strings.TrimSpace(form.Location)),
		Interests:        append([]string{}, form.Interests...),
		DateOfBirth:      form.DateOfBirth,
		ProfileCompleted: domain.Ptr(true),
		UpdatedAt:        domain.Ptr(now),
	}

	if form.Photo != nil {
		if m.photos == nil {
			return nil, serrors.New(serrors.Unknown, "photo uploads are not configured")
		}
		name := fmt.Sprintf("profile_%s_%d.jpg", current.ID, now.UnixMilli())
		url, err := m.photos.PutPhoto(ctx, name, form.Photo.ContentType, form.Photo.Data)
		if err != nil {
			return nil, repositoryError(err, "upload profile photo")
		}
		patch.PhotoURL = domain.Ptr(url)
	}

	if err := m.profiles.UpdateProfile(ctx, current.ID, patch); err != nil {
		return nil, repositoryError(err, "save profile")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.identityID() != current.ID {
		m.logger.Warn(ctx, "identity changed during profile completion", log.Fields{"user_id": current.ID})
		return current.Merge(patch), nil
	}

	merged := m.state.Identity.Merge(patch)
	m.commitLocked(authenticated(merged, m.state.Provisional))

	return merged.Clone(), nil
}
