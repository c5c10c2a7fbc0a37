// Package apiclient talks to the riff backend on behalf of the signed-in
// user.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	maxBodySize     = 1 << 20
	defaultTimeout  = 15 * time.Second
	defaultMaxTries = 3
)

// ErrUnauthorized is returned when the backend rejects the bearer token.
var ErrUnauthorized = errors.New("backend rejected credentials")

// TokenFunc returns the bearer token for a request. An empty token sends the
// request without an Authorization header.
type TokenFunc func(ctx context.Context) (string, error)

// APIError is a non-2xx response carrying the backend's error envelope.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned %d", e.Status)
	}
	return fmt.Sprintf("backend returned %d: %s", e.Status, e.Message)
}

// Client is safe for concurrent use.
type Client struct {
	base           *url.URL
	http           *http.Client
	token          TokenFunc
	onUnauthorized func()
	maxTries       uint
	retryDelay     time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithToken sets the bearer token source.
func WithToken(fn TokenFunc) Option {
	return func(c *Client) { c.token = fn }
}

// WithUnauthorizedHandler sets a callback run whenever the backend answers
// 401 to an authenticated request.
func WithUnauthorizedHandler(fn func()) Option {
	return func(c *Client) { c.onUnauthorized = fn }
}

// WithRetry sets how many times idempotent requests are tried and the first
// delay between tries.
func WithRetry(maxTries uint, initialDelay time.Duration) Option {
	return func(c *Client) {
		c.maxTries = maxTries
		c.retryDelay = initialDelay
	}
}

// New creates a client for the backend at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("api base url is required")
	}
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing api base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("api base url %q must be http or https", baseURL)
	}

	c := &Client{
		base:       u,
		http:       &http.Client{Timeout: defaultTimeout},
		maxTries:   defaultMaxTries,
		retryDelay: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type response struct {
	status int
	body   []byte
}

// errRetryable marks a response worth trying again.
type errRetryable struct{ status int }

func (e *errRetryable) Error() string { return fmt.Sprintf("backend returned %d", e.status) }

func retryable(status int) bool {
	return status == http.StatusBadGateway ||
		status == http.StatusServiceUnavailable ||
		status == http.StatusGatewayTimeout
}

// get performs an idempotent request, retrying gateway errors and transport
// failures with exponential backoff.
func (c *Client) get(ctx context.Context, path string, query url.Values) (*response, error) {
	var last *response

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = c.retryDelay
	expBackoff.Reset()

	op := func() (*response, error) {
		resp, err := c.send(ctx, http.MethodGet, path, query, nil)
		if err != nil {
			var te *tokenError
			if ctx.Err() != nil || errors.As(err, &te) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		if retryable(resp.status) {
			last = resp
			return nil, &errRetryable{status: resp.status}
		}
		return resp, nil
	}

	resp, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(c.maxTries),
		backoff.WithNotify(func(err error, d time.Duration) {
			slog.Debug("retrying backend request", "path", path, "after", d, "error", err)
		}),
	)
	var re *errRetryable
	if errors.As(err, &re) && last != nil {
		return last, nil
	}
	return resp, err
}

// send performs a single request. Only transport failures are errors.
func (c *Client) send(ctx context.Context, method, path string, query url.Values, body any) (*response, error) {
	// path arrives escaped; keep it that way on the wire.
	u := *c.base
	u.RawPath = c.base.EscapedPath() + path
	unescaped, err := url.PathUnescape(u.RawPath)
	if err != nil {
		return nil, fmt.Errorf("building request path: %w", err)
	}
	u.Path = unescaped
	u.RawQuery = query.Encode()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	authed := false
	if c.token != nil {
		tok, err := c.token(ctx)
		if err != nil {
			return nil, &tokenError{err: err}
		}
		if tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
			authed = true
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized && authed && c.onUnauthorized != nil {
		c.onUnauthorized()
	}
	return &response{status: resp.StatusCode, body: raw}, nil
}

// tokenError means no request was made because the token source failed.
type tokenError struct{ err error }

func (e *tokenError) Error() string { return "getting access token: " + e.err.Error() }
func (e *tokenError) Unwrap() error { return e.err }

func (c *Client) do(ctx context.Context, method, path string, body any) (*response, error) {
	return c.send(ctx, method, path, nil, body)
}

// decode unmarshals a 2xx response into out, turning anything else into an
// error.
func decode(resp *response, out any) error {
	if resp.status == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.status < 200 || resp.status > 299 {
		return apiError(resp)
	}
	if out == nil || len(resp.body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.body, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func apiError(resp *response) *APIError {
	e := &APIError{Status: resp.status}
	var env struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(resp.body, &env) == nil {
		e.Code = env.Error.Code
		e.Message = env.Error.Message
	}
	return e
}
