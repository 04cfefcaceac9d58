package domain

import "time"

// MatchView joins a Relationship with the counterpart's public profile fields.
type MatchView struct {
	RelationshipID string     `json:"id"`
	MatchedAt      time.Time  `json:"matchDate"`
	CounterpartID  string     `json:"userId"`
	DisplayName    string     `json:"name"`
	Age            int        `json:"age,omitempty"`
	PhotoURL       *string    `json:"image,omitempty"`
	Interests      []string   `json:"interests,omitempty"`
	IsOnline       bool       `json:"isOnline"`
	LastActive     *time.Time `json:"lastActive,omitempty"`
}

// NewMatchView builds the joined view of r with the counterpart profile.
func NewMatchView(r Relationship, counterpart *Identity) MatchView {
	c := counterpart.Clone()
	return MatchView{
		RelationshipID: r.ID,
		MatchedAt:      r.CreatedAt,
		CounterpartID:  c.ID,
		DisplayName:    c.DisplayName,
		Age:            c.Age,
		PhotoURL:       c.PhotoURL,
		Interests:      c.Interests,
		IsOnline:       c.IsOnline,
		LastActive:     c.LastActive,
	}
}
