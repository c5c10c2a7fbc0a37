package apiclient

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/alecgard/riff/internal/docstore"
	"github.com/alecgard/riff/internal/user"
)

// Me returns the user the backend associates with the bearer token.
func (c *Client) Me(ctx context.Context) (*user.User, error) {
	resp, err := c.get(ctx, "/api/auth/me", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		User *user.User `json:"user"`
	}
	if err := decode(resp, &out); err != nil {
		return nil, err
	}
	return out.User, nil
}

// Counter returns the signed-in user's counter.
func (c *Client) Counter(ctx context.Context) (*docstore.Counter, error) {
	resp, err := c.get(ctx, "/api/counter", nil)
	if err != nil {
		return nil, err
	}
	var out docstore.Counter
	if err := decode(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// IncrementCounter adds amount to the signed-in user's counter.
func (c *Client) IncrementCounter(ctx context.Context, amount int) (*docstore.Counter, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/counter/increment", map[string]int{"amount": amount})
	if err != nil {
		return nil, err
	}
	var out docstore.Counter
	if err := decode(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ResetCounter zeroes the signed-in user's counter.
func (c *Client) ResetCounter(ctx context.Context) (*docstore.Counter, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/counter/reset", nil)
	if err != nil {
		return nil, err
	}
	var out docstore.Counter
	if err := decode(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Notifications lists the signed-in user's notifications.
func (c *Client) Notifications(ctx context.Context, unreadOnly bool) ([]docstore.Notification, error) {
	q := url.Values{}
	if unreadOnly {
		q.Set("unreadOnly", strconv.FormatBool(true))
	}
	resp, err := c.get(ctx, "/api/notifications", q)
	if err != nil {
		return nil, err
	}
	var out []docstore.Notification
	if err := decode(resp, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Activities lists recent activities, optionally for one user.
func (c *Client) Activities(ctx context.Context, userID string) ([]docstore.Activity, error) {
	q := url.Values{}
	if userID != "" {
		q.Set("userId", userID)
	}
	resp, err := c.get(ctx, "/api/activities", q)
	if err != nil {
		return nil, err
	}
	var out []docstore.Activity
	if err := decode(resp, &out); err != nil {
		return nil, err
	}
	return out, nil
}
