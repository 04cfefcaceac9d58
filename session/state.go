package session

import (
	"reflect"

	"github.com/pilab-dev/datelink/domain"
)

// Status is the session state machine position.
type Status int

const (
	StatusUnknown Status = iota
	StatusResuming
	StatusAuthenticated
	StatusUnauthenticated
)

func (s Status) String() string {
	switch s {
	case StatusUnknown:
		return "unknown"
	case StatusResuming:
		return "resuming"
	case StatusAuthenticated:
		return "authenticated"
	case StatusUnauthenticated:
		return "unauthenticated"
	default:
		return "invalid"
	}
}

// MarshalText renders the status name in JSON.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// State is an immutable snapshot of the session. Identity is set only when
// Status is StatusAuthenticated; Provisional marks an identity restored from
// local storage that the provider has not confirmed yet.
type State struct {
	Status      Status           `json:"status"`
	Identity    *domain.Identity `json:"identity,omitempty"`
	Provisional bool             `json:"provisional,omitempty"`
}

func (s State) clone() State {
	s.Identity = s.Identity.Clone()
	return s
}

func (s State) equal(o State) bool {
	return reflect.DeepEqual(s, o)
}

// identityID returns the current id, or "" when not authenticated.
func (s State) identityID() string {
	if s.Status != StatusAuthenticated || s.Identity == nil {
		return ""
	}
	return s.Identity.ID
}

func authenticated(ident *domain.Identity, provisional bool) State {
	return State{Status: StatusAuthenticated, Identity: ident, Provisional: provisional}
}

func unauthenticated() State {
	return State{Status: StatusUnauthenticated}
}
