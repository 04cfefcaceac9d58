package domain

import "errors"

var (
	// ErrNotFound is wrapped by repositories when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrUnavailable is wrapped by repositories and stores on transport failure.
	ErrUnavailable = errors.New("backend unavailable")
	// ErrAlreadyExists is wrapped when a create collides with an existing record.
	ErrAlreadyExists = errors.New("record already exists")
)
