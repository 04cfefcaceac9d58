package domain

import (
	"slices"
	"time"
)

// DefaultSuperLikeLimit is the daily super-like allowance a fresh profile starts with.
const DefaultSuperLikeLimit = 5

// Identity is the authenticated principal merged with its profile record.
// ID is assigned by the identity provider and never changes for the lifetime of a value.
type Identity struct {
	ID                  string     `bson:"_id"                             json:"id"`
	Email               string     `bson:"email"                           json:"email"`
	DisplayName         string     `bson:"display_name"                    json:"displayName"`
	PhotoURL            *string    `bson:"photo_url"                       json:"photoUrl"`
	ProfileCompleted    bool       `bson:"profile_completed"               json:"profileCompleted"`
	CreatedAt           time.Time  `bson:"created_at"                      json:"createdAt"`
	UpdatedAt           time.Time  `bson:"updated_at"                      json:"updatedAt"`
	SuperLikesRemaining int        `bson:"super_likes_remaining"           json:"superLikesRemaining"`
	LastSuperLikeDate   *time.Time `bson:"last_super_like_date"            json:"lastSuperLikeDate"`
	ReceivedSuperLikes  []string   `bson:"received_super_likes"            json:"receivedSuperLikes"`

	Bio         string     `bson:"bio,omitempty"           json:"bio,omitempty"`
	Age         int        `bson:"age,omitempty"           json:"age,omitempty"`
	Gender      string     `bson:"gender,omitempty"        json:"gender,omitempty"`
	Location    string     `bson:"location,omitempty"      json:"location,omitempty"`
	Interests   []string   `bson:"interests,omitempty"     json:"interests,omitempty"`
	DateOfBirth *time.Time `bson:"date_of_birth,omitempty" json:"dateOfBirth,omitempty"`

	IsOnline   bool       `bson:"is_online,omitempty"   json:"isOnline"`
	LastActive *time.Time `bson:"last_active,omitempty" json:"lastActive,omitempty"`
}

// NewProfile returns the record created for a freshly registered identity.
func NewProfile(id, email, displayName string, superLikes int, now time.Time) *Identity {
	return &Identity{
		ID:                  id,
		Email:               email,
		DisplayName:         displayName,
		CreatedAt:           now,
		UpdatedAt:           now,
		SuperLikesRemaining: superLikes,
		ReceivedSuperLikes:  []string{},
	}
}

// Clone returns a deep copy so callers never share mutable state with the holder.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	c := *i
	c.PhotoURL = clonePtr(i.PhotoURL)
	c.LastSuperLikeDate = clonePtr(i.LastSuperLikeDate)
	c.DateOfBirth = clonePtr(i.DateOfBirth)
	c.LastActive = clonePtr(i.LastActive)
	c.ReceivedSuperLikes = slices.Clone(i.ReceivedSuperLikes)
	c.Interests = slices.Clone(i.Interests)
	return &c
}

// Merge returns a copy of i with every non-nil field of p applied.
func (i *Identity) Merge(p ProfilePatch) *Identity {
	c := i.Clone()
	if p.Email != nil {
		c.Email = *p.Email
	}
	if p.DisplayName != nil {
		c.DisplayName = *p.DisplayName
	}
	if p.PhotoURL != nil {
		c.PhotoURL = clonePtr(p.PhotoURL)
	}
	if p.ProfileCompleted != nil {
		c.ProfileCompleted = *p.ProfileCompleted
	}
	if p.SuperLikesRemaining != nil {
		c.SuperLikesRemaining = *p.SuperLikesRemaining
	}
	if p.LastSuperLikeDate != nil {
		c.LastSuperLikeDate = clonePtr(p.LastSuperLikeDate)
	}
	if p.Bio != nil {
		c.Bio = *p.Bio
	}
	if p.Age != nil {
		c.Age = *p.Age
	}
	if p.Gender != nil {
		c.Gender = *p.Gender
	}
	if p.Location != nil {
		c.Location = *p.Location
	}
	if p.Interests != nil {
		c.Interests = slices.Clone(p.Interests)
	}
	if p.DateOfBirth != nil {
		c.DateOfBirth = clonePtr(p.DateOfBirth)
	}
	if p.IsOnline != nil {
		c.IsOnline = *p.IsOnline
	}
	if p.LastActive != nil {
		c.LastActive = clonePtr(p.LastActive)
	}
	if p.UpdatedAt != nil {
		c.UpdatedAt = *p.UpdatedAt
	}
	return c
}

// ProfilePatch is a partial Identity. It has no ID field: a patch can never
// re-key the identity it is applied to.
type ProfilePatch struct {
	Email               *string    `json:"email,omitempty"`
	DisplayName         *string    `json:"displayName,omitempty"`
	PhotoURL            *string    `json:"photoUrl,omitempty"`
	ProfileCompleted    *bool      `json:"profileCompleted,omitempty"`
	SuperLikesRemaining *int       `json:"superLikesRemaining,omitempty"`
	LastSuperLikeDate   *time.Time `json:"lastSuperLikeDate,omitempty"`
	Bio                 *string    `json:"bio,omitempty"`
	Age                 *int       `json:"age,omitempty"`
	Gender              *string    `json:"gender,omitempty"`
	Location            *string    `json:"location,omitempty"`
	Interests           []string   `json:"interests,omitempty"`
	DateOfBirth         *time.Time `json:"dateOfBirth,omitempty"`
	IsOnline            *bool      `json:"isOnline,omitempty"`
	LastActive          *time.Time `json:"lastActive,omitempty"`
	UpdatedAt           *time.Time `json:"updatedAt,omitempty"`
}

// Fields returns the patch as a flat field map keyed by stored field name.
// Repositories use it as the body of a partial update.
func (p ProfilePatch) Fields() map[string]any {
	f := make(map[string]any)
	set := func(name string, present bool, v any) {
		if present {
			f[name] = v
		}
	}
	set("email", p.Email != nil, deref(p.Email))
	set("display_name", p.DisplayName != nil, deref(p.DisplayName))
	set("photo_url", p.PhotoURL != nil, deref(p.PhotoURL))
	set("profile_completed", p.ProfileCompleted != nil, deref(p.ProfileCompleted))
	set("super_likes_remaining", p.SuperLikesRemaining != nil, deref(p.SuperLikesRemaining))
	set("last_super_like_date", p.LastSuperLikeDate != nil, deref(p.LastSuperLikeDate))
	set("bio", p.Bio != nil, deref(p.Bio))
	set("age", p.Age != nil, deref(p.Age))
	set("gender", p.Gender != nil, deref(p.Gender))
	set("location", p.Location != nil, deref(p.Location))
	set("interests", p.Interests != nil, p.Interests)
	set("date_of_birth", p.DateOfBirth != nil, deref(p.DateOfBirth))
	set("is_online", p.IsOnline != nil, deref(p.IsOnline))
	set("last_active", p.LastActive != nil, deref(p.LastActive))
	set("updated_at", p.UpdatedAt != nil, deref(p.UpdatedAt))
	return f
}

// IsEmpty reports whether the patch carries no fields.
func (p ProfilePatch) IsEmpty() bool {
	return len(p.Fields()) == 0
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
