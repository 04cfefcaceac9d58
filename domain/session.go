package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SessionKey is the fixed durable-store key holding the last established login.
const SessionKey = "@user_session"

// SessionRecord is the durable projection of a login. Its presence is necessary
// but not sufficient for an active identity.
type SessionRecord struct {
	Token         string    `json:"token"`
	UserID        string    `json:"userId"`
	LastLoginTime time.Time `json:"lastLoginTime"`
}

// Encode serializes the record for a SessionStore.
func (r SessionRecord) Encode() (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode session record: %w", err)
	}
	return string(b), nil
}

// DecodeSessionRecord parses a stored record. A record without a user id is rejected.
func DecodeSessionRecord(raw string) (*SessionRecord, error) {
	var r SessionRecord
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("decode session record: %w", err)
	}
	if r.UserID == "" {
		return nil, errors.New("decode session record: missing userId")
	}
	return &r, nil
}
