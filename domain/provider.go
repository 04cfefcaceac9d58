package domain

import (
	"context"
	"fmt"
)

// ProviderIdentity is what the identity provider knows about a principal.
type ProviderIdentity struct {
	ID          string
	Email       string
	Token       string
	DisplayName string
	PhotoURL    *string
}

// Identity returns the bare identity used when no profile record exists yet.
func (p *ProviderIdentity) Identity() *Identity {
	return &Identity{
		ID:                 p.ID,
		Email:              p.Email,
		DisplayName:        p.DisplayName,
		PhotoURL:           clonePtr(p.PhotoURL),
		ReceivedSuperLikes: []string{},
	}
}

// IdentityProvider issues and validates credentials and pushes identity changes.
// Events are delivered in order, and a successful SignIn or CreateAccount is
// itself reported as an event, as is a SignOut that ended a session.
type IdentityProvider interface {
	SignIn(ctx context.Context, email, secret string) (*ProviderIdentity, error)
	CreateAccount(ctx context.Context, email, secret string) (*ProviderIdentity, error)
	SignOut(ctx context.Context) error
	// Subscribe registers fn for identity-change events; nil means signed out.
	// The returned function removes the subscription.
	Subscribe(fn func(*ProviderIdentity)) (unsubscribe func())
}

// ProviderCode is an identity provider failure code.
type ProviderCode string

const (
	ProviderEmailInUse         ProviderCode = "email-already-in-use"
	ProviderInvalidEmail       ProviderCode = "invalid-email"
	ProviderWeakSecret         ProviderCode = "weak-secret"
	ProviderNetworkFailed      ProviderCode = "network-request-failed"
	ProviderInvalidCredentials ProviderCode = "invalid-credentials"
	ProviderOther              ProviderCode = "other"
)

// ProviderError is returned by IdentityProvider implementations.
type ProviderError struct {
	Code ProviderCode
	Err  error
}

func (e *ProviderError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("provider: %s", e.Code)
	}
	return fmt.Sprintf("provider: %s: %v", e.Code, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError wraps err with code.
func NewProviderError(code ProviderCode, err error) *ProviderError {
	return &ProviderError{Code: code, Err: err}
}
