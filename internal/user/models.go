package user

import (
	"strings"
	"time"
)

// Roles a user record may carry.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// User represents a registered user account. Email is the unique key.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Name         string    `json:"name"`
	Role         string    `json:"role"` // "admin" or "member"
	Phone        *string   `json:"phone,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// CreateUserInput holds the fields accepted when creating a user. Either Name
// or FirstName+LastName must be set.
type CreateUserInput struct {
	Email     string  `json:"email"`
	Name      string  `json:"name,omitempty"`
	FirstName string  `json:"firstName,omitempty"`
	LastName  string  `json:"lastName,omitempty"`
	Phone     *string `json:"phone,omitempty"`
	Password  string  `json:"password,omitempty"`
	Role      string  `json:"role,omitempty"`
}

// DisplayName resolves the name to store for the input.
func (in CreateUserInput) DisplayName() string {
	if n := strings.TrimSpace(in.Name); n != "" {
		return n
	}
	return strings.TrimSpace(strings.TrimSpace(in.FirstName) + " " + strings.TrimSpace(in.LastName))
}

// UpdateUserInput holds optional fields for a partial user update.
type UpdateUserInput struct {
	Email     *string `json:"email,omitempty"`
	Name      *string `json:"name,omitempty"`
	FirstName *string `json:"firstName,omitempty"`
	LastName  *string `json:"lastName,omitempty"`
	Phone     *string `json:"phone,omitempty"`
	Password  *string `json:"password,omitempty"`
	Role      *string `json:"role,omitempty"`
}

// ResolvedName returns the new name implied by the update, if any. An explicit
// Name wins over FirstName/LastName.
func (in UpdateUserInput) ResolvedName() *string {
	if in.Name != nil {
		return in.Name
	}
	if in.FirstName == nil && in.LastName == nil {
		return nil
	}
	var first, last string
	if in.FirstName != nil {
		first = strings.TrimSpace(*in.FirstName)
	}
	if in.LastName != nil {
		last = strings.TrimSpace(*in.LastName)
	}
	name := strings.TrimSpace(first + " " + last)
	return &name
}

// ValidRole reports whether role is one of the known roles.
func ValidRole(role string) bool {
	return role == RoleAdmin || role == RoleMember
}
