package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/alecgard/riff/internal/user"
)

// UserStore is the backend's user collection seen through its public user
// endpoints. Errors follow the user package: user.ErrNotFound, a
// *user.ConflictError, or user.ErrStoreUnavailable when the backend cannot
// answer.
type UserStore struct {
	c *Client
}

// Users returns the user collection of the backend.
func (c *Client) Users() *UserStore {
	return &UserStore{c: c}
}

// Create registers a user. When the email is taken the returned
// *user.ConflictError carries the existing record.
func (s *UserStore) Create(ctx context.Context, in user.CreateUserInput) (*user.User, error) {
	resp, err := s.c.do(ctx, http.MethodPost, "/users", in)
	if err != nil {
		return nil, unavailable(err)
	}

	switch {
	case resp.status == http.StatusCreated || resp.status == http.StatusOK:
		return decodeUser(resp)
	case resp.status == http.StatusConflict:
		ce := &user.ConflictError{Email: in.Email}
		var existing user.User
		if json.Unmarshal(resp.body, &existing) == nil && existing.ID != "" {
			ce.Existing = &existing
		}
		return nil, ce
	default:
		return nil, statusError(resp)
	}
}

// LookupByEmail finds a user by email address.
func (s *UserStore) LookupByEmail(ctx context.Context, email string) (*user.User, error) {
	return s.fetch(ctx, "/users/email/"+url.PathEscape(email))
}

// LookupByID finds a user by id.
func (s *UserStore) LookupByID(ctx context.Context, id string) (*user.User, error) {
	return s.fetch(ctx, "/users/"+url.PathEscape(id))
}

// Update applies a partial update.
func (s *UserStore) Update(ctx context.Context, id string, in user.UpdateUserInput) (*user.User, error) {
	resp, err := s.c.do(ctx, http.MethodPut, "/users/"+url.PathEscape(id), in)
	if err != nil {
		return nil, unavailable(err)
	}
	if resp.status != http.StatusOK {
		return nil, statusError(resp)
	}
	return decodeUser(resp)
}

// List returns every user, newest first.
func (s *UserStore) List(ctx context.Context) ([]*user.User, error) {
	resp, err := s.c.get(ctx, "/users", nil)
	if err != nil {
		return nil, unavailable(err)
	}
	if resp.status != http.StatusOK {
		return nil, statusError(resp)
	}
	var users []*user.User
	if err := json.Unmarshal(resp.body, &users); err != nil {
		return nil, fmt.Errorf("decoding users: %w", err)
	}
	return users, nil
}

func (s *UserStore) fetch(ctx context.Context, path string) (*user.User, error) {
	resp, err := s.c.get(ctx, path, nil)
	if err != nil {
		return nil, unavailable(err)
	}
	if resp.status != http.StatusOK {
		return nil, statusError(resp)
	}
	return decodeUser(resp)
}

func decodeUser(resp *response) (*user.User, error) {
	var u user.User
	if err := json.Unmarshal(resp.body, &u); err != nil {
		return nil, fmt.Errorf("decoding user: %w", err)
	}
	return &u, nil
}

// unavailable classifies a failed round trip. A failed token lookup is the
// caller's problem and is passed through unchanged.
func unavailable(err error) error {
	var te *tokenError
	if errors.As(err, &te) || errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %w", user.ErrStoreUnavailable, err)
}

func statusError(resp *response) error {
	switch {
	case resp.status == http.StatusNotFound:
		return user.ErrNotFound
	case resp.status == http.StatusConflict:
		return &user.ConflictError{}
	case resp.status == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.status >= 500:
		return fmt.Errorf("%w: %w", user.ErrStoreUnavailable, apiError(resp))
	default:
		return apiError(resp)
	}
}
