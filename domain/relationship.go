package domain

import "time"

// Relationship is a mutual match between exactly two identities.
type Relationship struct {
	ID           string    `bson:"_id"        json:"id"`
	Participants []string  `bson:"users"      json:"participants"`
	CreatedAt    time.Time `bson:"created_at" json:"createdAt"`
}

// Valid reports whether the relationship has exactly two distinct participants.
func (r Relationship) Valid() bool {
	return len(r.Participants) == 2 && r.Participants[0] != r.Participants[1] &&
		r.Participants[0] != "" && r.Participants[1] != ""
}

// Includes reports whether id participates in r.
func (r Relationship) Includes(id string) bool {
	for _, p := range r.Participants {
		if p == id {
			return true
		}
	}
	return false
}

// Counterpart returns the participant that is not self.
func (r Relationship) Counterpart(self string) (string, bool) {
	if !r.Valid() || !r.Includes(self) {
		return "", false
	}
	if r.Participants[0] == self {
		return r.Participants[1], true
	}
	return r.Participants[0], true
}

// ChangeKind classifies a relationship change delivered by a live query.
type ChangeKind int

const (
	ChangeAdded ChangeKind = iota + 1
	ChangeModified
	ChangeRemoved
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeAdded:
		return "added"
	case ChangeModified:
		return "modified"
	case ChangeRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// RelationshipChange is one entry of a delta. Removed changes carry only the ID.
type RelationshipChange struct {
	Kind         ChangeKind
	Relationship Relationship
}

// RelationshipDelta is a batch of changes delivered together by a live query.
// The first delta of a query lists every matching relationship as added.
type RelationshipDelta struct {
	Changes []RelationshipChange
}
