package user

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no user matches the lookup.
	ErrNotFound = errors.New("user not found")
	// ErrConflict is matched by a *ConflictError.
	ErrConflict = errors.New("user already exists")
	// ErrStoreUnavailable signals the backing store could not be reached.
	ErrStoreUnavailable = errors.New("user store unavailable")
	// ErrInvalidRole is returned for a role other than admin or member.
	ErrInvalidRole = errors.New("invalid role")
)

// ConflictError is returned by Create when the email is already registered.
// Existing carries the record that holds the email, when known.
type ConflictError struct {
	Email    string
	Existing *User
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("user with email %q already exists", e.Email)
}

// Is lets errors.Is(err, ErrConflict) match.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}
