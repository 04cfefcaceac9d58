package auth

import (
	"errors"
	"fmt"
	"unicode"
)

// DefaultMinPasswordLength is the shortest secret accepted at registration.
const DefaultMinPasswordLength = 8

// ErrWeakPassword is wrapped by every PasswordPolicy rejection.
var ErrWeakPassword = errors.New("weak password")

// PasswordPolicy describes the strength rules for new secrets.
type PasswordPolicy struct {
	MinLength     int
	RequireUpper  bool
	RequireLower  bool
	RequireNumber bool
}

// DefaultPasswordPolicy requires 8 characters with upper, lower and a digit.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength:     DefaultMinPasswordLength,
		RequireUpper:  true,
		RequireLower:  true,
		RequireNumber: true,
	}
}

// Validate checks password against the policy.
func (p PasswordPolicy) Validate(password string) error {
	if len([]rune(password)) < p.MinLength {
		return fmt.Errorf("%w: must be at least %d characters long", ErrWeakPassword, p.MinLength)
	}

	var hasUpper, hasLower, hasNumber bool
	for _, char := range password {
		switch {
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsDigit(char):
			hasNumber = true
		}
	}

	if p.RequireUpper && !hasUpper {
		return fmt.Errorf("%w: must contain at least one uppercase letter", ErrWeakPassword)
	}
	if p.RequireLower && !hasLower {
		return fmt.Errorf("%w: must contain at least one lowercase letter", ErrWeakPassword)
	}
	if p.RequireNumber && !hasNumber {
		return fmt.Errorf("%w: must contain at least one number", ErrWeakPassword)
	}

	return nil
}
