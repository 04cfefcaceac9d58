package errors

import (
	stderrors "errors"
	"fmt"
)

// Code identifies a session failure the caller can act on.
type Code string

// Session error codes.
const (
	InvalidCredentials        Code = "invalid_credentials"
	EmailAlreadyInUse         Code = "email_already_in_use"
	WeakSecret                Code = "weak_secret"
	InvalidEmail              Code = "invalid_email"
	NetworkUnavailable        Code = "network_unavailable"
	ProfileProvisioningFailed Code = "profile_provisioning_failed"
	NotFound                  Code = "not_found"
	NoActiveSession           Code = "no_active_session"
	InvalidArgument           Code = "invalid_argument"
	Unknown                   Code = "unknown"
)

// SessionError is the typed failure surfaced by explicit-intent operations.
type SessionError struct {
	Code        Code   `json:"error"`
	Description string `json:"error_description,omitempty"`
	Err         error  `json:"-"`
}

func (e *SessionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Description, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// Is matches another *SessionError by code, so errors.Is(err, errors.New(NotFound, "")) works.
func (e *SessionError) Is(target error) bool {
	t, ok := target.(*SessionError)
	return ok && t.Code == e.Code
}

// New returns a SessionError without a cause.
func New(code Code, description string) *SessionError {
	return &SessionError{Code: code, Description: description}
}

// Wrap returns a SessionError carrying err as its cause.
func Wrap(code Code, err error, description string) *SessionError {
	return &SessionError{Code: code, Description: description, Err: err}
}

// CodeOf extracts the code from err, Unknown when err is not a SessionError.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var se *SessionError
	if stderrors.As(err, &se) {
		return se.Code
	}
	return Unknown
}

// IsCode reports whether err carries code.
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// IsRetryable reports whether retrying the same request may succeed.
// Transient transport failures and partial registration are retryable;
// permanent rejections are not.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case NetworkUnavailable, ProfileProvisioningFailed:
		return true
	default:
		return false
	}
}

var messages = map[Code]string{
	InvalidCredentials:        "The email or password is incorrect.",
	EmailAlreadyInUse:         "An account with this email already exists. Try signing in instead.",
	WeakSecret:                "Choose a stronger password: at least 8 characters with upper and lower case letters and a number.",
	InvalidEmail:              "Enter a valid email address.",
	NetworkUnavailable:        "We could not reach the server. Check your connection and try again.",
	ProfileProvisioningFailed: "Your account was created but your profile could not be saved. Try again to finish.",
	NotFound:                  "The requested profile does not exist.",
	NoActiveSession:           "You are signed out. Sign in to continue.",
	InvalidArgument:           "Some of the details you entered are not valid.",
	Unknown:                   "Something went wrong. Please try again later.",
}

// UserMessage returns the message shown for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if msg, ok := messages[CodeOf(err)]; ok {
		return msg
	}
	return messages[Unknown]
}
