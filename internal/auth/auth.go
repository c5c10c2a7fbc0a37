// Package auth verifies bearer tokens on backend requests and resolves them
// to user records.
package auth

import (
	"context"
	"errors"

	"github.com/alecgard/riff/internal/user"
)

// Modes a deployment can authenticate with. Exactly one is active.
const (
	ModeOIDC     = "oidc"
	ModePassword = "password"
)

// ErrInvalidToken is returned by verifiers for any token they reject.
var ErrInvalidToken = errors.New("invalid token")

// User is the authenticated caller of a request.
type User struct {
	ID    string
	Email string
	Name  string
	Role  string
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool {
	return u.Role == user.RoleAdmin
}

// FromRecord converts a stored user into the request identity.
func FromRecord(u *user.User) *User {
	return &User{ID: u.ID, Email: u.Email, Name: u.Name, Role: u.Role}
}

// Identity is what a verifier learned from a token. UserID is set only when
// the token was minted by this backend; otherwise the user is found by Email.
type Identity struct {
	UserID  string
	Email   string
	Subject string
}

// Verifier checks a bearer token.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// UserLookup resolves identities to stored users.
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*user.User, error)
	GetByEmail(ctx context.Context, email string) (*user.User, error)
}

// Resolve maps a verified identity to its user record.
func Resolve(ctx context.Context, users UserLookup, id *Identity) (*user.User, error) {
	if id.UserID != "" {
		return users.GetByID(ctx, id.UserID)
	}
	if id.Email == "" {
		return nil, user.ErrNotFound
	}
	return users.GetByEmail(ctx, id.Email)
}
