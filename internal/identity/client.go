// Package identity is an OpenID Connect client that signs a user in through
// the system browser, keeps their accounts in a durable session cache and
// hands out access tokens.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/pkg/browser"
	"golang.org/x/oauth2"

	"github.com/alecgard/riff/internal/crypto"
)

const (
	// pendingTTL bounds how long a redirect sign-in may take.
	pendingTTL = 15 * time.Minute
	// minTokenLifetime is the remaining validity below which a cached access
	// token is refreshed instead of returned.
	minTokenLifetime = 5 * time.Minute

	defaultPopupTimeout = 5 * time.Minute
)

// OAuth error codes that mean the user has to be involved again.
var interactionCodes = map[string]bool{
	"invalid_grant":        true,
	"interaction_required": true,
	"consent_required":     true,
	"login_required":       true,
}

// Opener navigates the user's browser to a URL.
type Opener func(url string) error

// Config holds the provider registration and local settings.
type Config struct {
	ClientID              string
	ClientSecret          string
	Authority             string
	RedirectURI           string
	PostLogoutRedirectURI string

	// CachePath is the durable session cache file. Empty keeps the cache in
	// memory, which cannot survive a redirect.
	CachePath string
	Sealer    *crypto.Sealer

	HTTPClient   *http.Client
	Opener       Opener
	PopupTimeout time.Duration

	// Location is the URL the browser landed on after a redirect sign-in,
	// carrying either code and state or an error.
	Location string
}

type provider struct {
	authority string
	metadata  *Metadata
	verifier  *oidc.IDTokenVerifier
	endpoint  oauth2.Endpoint
}

// Client is safe for concurrent use. A Client built from an incomplete Config
// is usable but every operation fails with *ConfigurationError.
type Client struct {
	cfg    Config
	cfgErr *ConfigurationError
	cache  *sessionCache

	mu          sync.Mutex
	initialized bool
	location    *url.URL
	locationErr error
	providers   map[string]*provider
	active      string
	tokens      map[string]*oauth2.Token
}

// New creates a client. It does no I/O.
func New(cfg Config) *Client {
	if cfg.Opener == nil {
		cfg.Opener = browser.OpenURL
	}
	if cfg.PopupTimeout <= 0 {
		cfg.PopupTimeout = defaultPopupTimeout
	}

	c := &Client{
		cfg:       cfg,
		cache:     newSessionCache(cfg.CachePath, cfg.Sealer),
		providers: make(map[string]*provider),
		tokens:    make(map[string]*oauth2.Token),
	}

	switch {
	case cfg.ClientID == "":
		c.cfgErr = &ConfigurationError{Setting: "client_id", Reason: "not set"}
	case cfg.Authority == "":
		c.cfgErr = &ConfigurationError{Setting: "authority", Reason: "not set"}
	}

	if cfg.Location != "" {
		c.location, c.locationErr = url.Parse(cfg.Location)
	}
	return c
}

// ClientID returns the configured application id.
func (c *Client) ClientID() string {
	return c.cfg.ClientID
}

func (c *Client) ready() error {
	if c.cfgErr != nil {
		return c.cfgErr
	}
	return nil
}

func (c *Client) httpContext(ctx context.Context) context.Context {
	if c.cfg.HTTPClient == nil {
		return ctx
	}
	return oidc.ClientContext(ctx, c.cfg.HTTPClient)
}

// Initialize loads the session cache and discovers the configured authority.
// Calling it again after success does nothing.
func (c *Client) Initialize(ctx context.Context) error {
	if err := c.ready(); err != nil {
		return err
	}

	c.mu.Lock()
	done := c.initialized
	c.mu.Unlock()
	if done {
		return nil
	}

	if _, err := c.cache.read(ctx); err != nil {
		return fmt.Errorf("loading session cache: %w", err)
	}
	if _, err := c.providerFor(ctx, c.cfg.Authority); err != nil {
		return err
	}

	c.mu.Lock()
	c.initialized = true
	c.mu.Unlock()
	return nil
}

func (c *Client) providerFor(ctx context.Context, authority string) (*provider, error) {
	if authority == "" {
		authority = c.cfg.Authority
	}

	c.mu.Lock()
	p, ok := c.providers[authority]
	c.mu.Unlock()
	if ok {
		return p, nil
	}

	md, err := Discover(ctx, c.cfg.HTTPClient, authority)
	if err != nil {
		return nil, &ProviderError{Code: "discovery_failed", Err: err}
	}

	op := md.ProviderConfig.NewProvider(c.httpContext(ctx))

	p = &provider{
		authority: authority,
		metadata:  md,
		verifier:  op.Verifier(&oidc.Config{ClientID: c.cfg.ClientID}),
		endpoint:  op.Endpoint(),
	}

	c.mu.Lock()
	c.providers[authority] = p
	c.mu.Unlock()
	return p, nil
}

func (c *Client) oauthConfig(p *provider, redirectURI string, scopes []string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		Endpoint:     p.endpoint,
		RedirectURL:  redirectURI,
		Scopes:       requestScopes(scopes),
	}
}

func requestScopes(scopes []string) []string {
	out := slices.Clone(scopes)
	for _, s := range []string{oidc.ScopeOpenID, oidc.ScopeOfflineAccess} {
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

// authRequest is the per-attempt secret material of an authorization request.
type authRequest struct {
	state    string
	nonce    string
	verifier string
}

func newAuthRequest() (authRequest, error) {
	state, err := randomString()
	if err != nil {
		return authRequest{}, err
	}
	nonce, err := randomString()
	if err != nil {
		return authRequest{}, err
	}
	return authRequest{state: state, nonce: nonce, verifier: oauth2.GenerateVerifier()}, nil
}

func (ar authRequest) authCodeURL(conf *oauth2.Config, loginHint string) string {
	opts := []oauth2.AuthCodeOption{
		oauth2.S256ChallengeOption(ar.verifier),
		oidc.Nonce(ar.nonce),
	}
	if loginHint != "" {
		opts = append(opts, oauth2.SetAuthURLParam("login_hint", loginHint))
	} else {
		opts = append(opts, oauth2.SetAuthURLParam("prompt", "select_account"))
	}
	return conf.AuthCodeURL(ar.state, opts...)
}

func randomString() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating random value: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// LoginRedirect records the request in the session cache and sends the
// browser to the provider. The sign-in is completed by a later client built
// with the Location the browser returns to.
func (c *Client) LoginRedirect(ctx context.Context, req LoginRequest) error {
	if err := c.ready(); err != nil {
		return err
	}
	if c.cfg.RedirectURI == "" {
		return &ConfigurationError{Setting: "redirect_uri", Reason: "required for redirect sign-in"}
	}

	p, err := c.providerFor(ctx, req.Authority)
	if err != nil {
		return err
	}
	ar, err := newAuthRequest()
	if err != nil {
		return err
	}

	pending := &pendingRequest{
		State:       ar.state,
		Nonce:       ar.nonce,
		Verifier:    ar.verifier,
		Authority:   p.authority,
		RedirectURI: c.cfg.RedirectURI,
		Scopes:      slices.Clone(req.Scopes),
		CreatedAt:   time.Now().UTC(),
	}
	if err := c.cache.update(ctx, func(d *cacheData) error {
		d.Pending = pending
		return nil
	}); err != nil {
		return fmt.Errorf("saving pending sign-in: %w", err)
	}

	slog.Info("redirecting to identity provider", "authority", p.authority)
	if err := c.cfg.Opener(ar.authCodeURL(c.oauthConfig(p, c.cfg.RedirectURI, req.Scopes), req.LoginHint)); err != nil {
		return fmt.Errorf("opening browser: %w", err)
	}
	return nil
}

// PendingRedirect reports whether the client was started on a redirect
// response that has not been handled yet.
func (c *Client) PendingRedirect() bool {
	if c.cfgErr != nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.locationErr != nil {
		return true
	}
	if c.location == nil {
		return false
	}
	q := c.location.Query()
	return q.Get("code") != "" || q.Get("error") != ""
}

// HandleRedirectCompletion resolves the redirect response into an account.
// It returns nil, nil when there is nothing to complete. The pending request
// is consumed once a response with its state arrives, or once it expires.
func (c *Client) HandleRedirectCompletion(ctx context.Context) (*Account, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	if !c.PendingRedirect() {
		return nil, nil
	}

	c.mu.Lock()
	loc, locErr := c.location, c.locationErr
	c.location, c.locationErr = nil, nil
	c.mu.Unlock()

	if locErr != nil {
		return nil, &RedirectError{Code: "malformed_location", Err: locErr}
	}
	q := loc.Query()

	// A response whose state does not match leaves the pending request in
	// place for the genuine one.
	var pending *pendingRequest
	if err := c.cache.update(ctx, func(d *cacheData) error {
		pending = d.Pending
		if pending == nil {
			return nil
		}
		if q.Get("state") == pending.State || time.Since(pending.CreatedAt) > pendingTTL {
			d.Pending = nil
		}
		return nil
	}); err != nil {
		return nil, &RedirectError{Code: "cache_unavailable", Err: err}
	}

	switch {
	case pending == nil:
		return nil, &RedirectError{Code: "no_pending_request", Description: "no sign-in was started from this device"}
	case time.Since(pending.CreatedAt) > pendingTTL:
		return nil, &RedirectError{Code: "expired", Description: "sign-in took too long"}
	case q.Get("state") != pending.State:
		return nil, &RedirectError{Code: "state_mismatch"}
	case q.Get("error") != "":
		return nil, &RedirectError{Code: q.Get("error"), Description: q.Get("error_description")}
	}

	p, err := c.providerFor(ctx, pending.Authority)
	if err != nil {
		return nil, &RedirectError{Code: "discovery_failed", Err: err}
	}
	ar := authRequest{state: pending.State, nonce: pending.Nonce, verifier: pending.Verifier}
	acct, _, err := c.redeem(ctx, p, c.oauthConfig(p, pending.RedirectURI, pending.Scopes), q.Get("code"), ar, pending.Scopes)
	if err != nil {
		return nil, &RedirectError{Code: "code_redemption_failed", Err: err}
	}
	return acct, nil
}

// redeem exchanges an authorization code, verifies the ID token and caches
// the resulting account.
func (c *Client) redeem(ctx context.Context, p *provider, conf *oauth2.Config, code string, ar authRequest, scopes []string) (*Account, *oauth2.Token, error) {
	hctx := c.httpContext(ctx)

	tok, err := conf.Exchange(hctx, code, oauth2.VerifierOption(ar.verifier))
	if err != nil {
		return nil, nil, retrieveError(err)
	}

	rawID, _ := tok.Extra("id_token").(string)
	if rawID == "" {
		return nil, nil, &ProviderError{Code: "missing_id_token"}
	}
	idt, err := p.verifier.Verify(hctx, rawID)
	if err != nil {
		return nil, nil, &ProviderError{Code: "invalid_id_token", Err: err}
	}
	if idt.Nonce != ar.nonce {
		return nil, nil, &ProviderError{Code: "nonce_mismatch"}
	}

	var claims idClaims
	if err := idt.Claims(&claims); err != nil {
		return nil, nil, &ProviderError{Code: "invalid_id_token", Err: err}
	}
	acct := claims.account()
	if acct.ID == "" {
		return nil, nil, &ProviderError{Code: "invalid_id_token", Description: "token has no subject"}
	}

	if err := c.cache.update(ctx, func(d *cacheData) error {
		entry := cachedAccount{
			ID:           acct.ID,
			DisplayName:  acct.DisplayName,
			Username:     acct.Username,
			Authority:    p.authority,
			RefreshToken: tok.RefreshToken,
			IDToken:      rawID,
			UpdatedAt:    time.Now().UTC(),
		}
		if prev, ok := d.find(acct.ID); ok && entry.RefreshToken == "" {
			entry.RefreshToken = prev.RefreshToken
		}
		d.upsert(entry)
		return nil
	}); err != nil {
		return nil, nil, fmt.Errorf("saving account: %w", err)
	}

	c.rememberToken(acct.ID, scopes, tok)
	return &acct, tok, nil
}

func retrieveError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		return &ProviderError{Code: re.ErrorCode, Description: re.ErrorDescription, Err: err}
	}
	return &ProviderError{Err: err}
}

func tokenKey(accountID string, scopes []string) string {
	return accountID + "|" + ScopeKey(scopes)
}

func (c *Client) rememberToken(accountID string, scopes []string, tok *oauth2.Token) {
	if tok.AccessToken == "" {
		return
	}
	c.mu.Lock()
	c.tokens[tokenKey(accountID, scopes)] = tok
	c.mu.Unlock()
}

func (c *Client) forgetTokens(accountID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.tokens {
		if strings.HasPrefix(k, accountID+"|") {
			delete(c.tokens, k)
		}
	}
}

func toToken(accountID string, scopes []string, tok *oauth2.Token) *Token {
	granted := slices.Clone(scopes)
	if s, ok := tok.Extra("scope").(string); ok && s != "" {
		granted = strings.Fields(s)
	}
	return &Token{Value: tok.AccessToken, Scopes: granted, AccountID: accountID, ExpiresAt: tok.Expiry}
}

// AcquireTokenSilent returns an access token without involving the user,
// redeeming the cached refresh token when needed. It fails with
// ErrInteractionRequired when only an interactive sign-in can help.
func (c *Client) AcquireTokenSilent(ctx context.Context, scopes []string, acct *Account) (*Token, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, fmt.Errorf("%w: no account", ErrInteractionRequired)
	}

	c.mu.Lock()
	tok := c.tokens[tokenKey(acct.ID, scopes)]
	c.mu.Unlock()
	if tok != nil && time.Until(tok.Expiry) > minTokenLifetime {
		return toToken(acct.ID, scopes, tok), nil
	}

	d, err := c.cache.read(ctx)
	if err != nil {
		return nil, &ProviderError{Code: "cache_unavailable", Err: err}
	}
	entry, ok := d.find(acct.ID)
	if !ok || entry.RefreshToken == "" {
		return nil, fmt.Errorf("%w: no refresh token for account", ErrInteractionRequired)
	}

	p, err := c.providerFor(ctx, entry.Authority)
	if err != nil {
		return nil, err
	}
	conf := c.oauthConfig(p, c.cfg.RedirectURI, scopes)
	fresh, err := conf.TokenSource(c.httpContext(ctx), &oauth2.Token{RefreshToken: entry.RefreshToken}).Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && interactionCodes[re.ErrorCode] {
			return nil, fmt.Errorf("%w: %s", ErrInteractionRequired, re.ErrorCode)
		}
		return nil, retrieveError(err)
	}

	if fresh.RefreshToken != "" && fresh.RefreshToken != entry.RefreshToken {
		if err := c.cache.update(ctx, func(d *cacheData) error {
			if cur, ok := d.find(acct.ID); ok {
				cur.RefreshToken = fresh.RefreshToken
				cur.UpdatedAt = time.Now().UTC()
				d.upsert(cur)
			}
			return nil
		}); err != nil {
			slog.Warn("persisting rotated refresh token", "error", err)
		}
	}

	c.rememberToken(acct.ID, scopes, fresh)
	return toToken(acct.ID, scopes, fresh), nil
}

// AcquireTokenPopup obtains a token interactively for acct. The user must sign
// in as that same account.
func (c *Client) AcquireTokenPopup(ctx context.Context, scopes []string, acct *Account) (*Token, error) {
	req := LoginRequest{Scopes: scopes}
	if acct != nil {
		req.LoginHint = acct.Username
	}
	got, tok, err := c.popup(ctx, req)
	if err != nil {
		return nil, err
	}
	if acct != nil && got.ID != acct.ID {
		return nil, &ProviderError{Code: "account_mismatch", Description: "signed in as a different account"}
	}
	return toToken(got.ID, scopes, tok), nil
}

// LogoutRedirect forgets acct locally and sends the browser to the provider's
// end-session endpoint. A nil account means the active one; with neither it
// does nothing.
func (c *Client) LogoutRedirect(ctx context.Context, acct *Account) error {
	if err := c.ready(); err != nil {
		return err
	}
	if acct == nil {
		if acct = c.ActiveAccount(); acct == nil {
			return nil
		}
	}

	var idToken, authority string
	if err := c.cache.update(ctx, func(d *cacheData) error {
		if entry, ok := d.find(acct.ID); ok {
			idToken, authority = entry.IDToken, entry.Authority
			d.remove(acct.ID)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("removing cached account: %w", err)
	}

	c.mu.Lock()
	if c.active == acct.ID {
		c.active = ""
	}
	c.mu.Unlock()
	c.forgetTokens(acct.ID)

	p, err := c.providerFor(ctx, authority)
	if err != nil {
		return err
	}
	if p.metadata.EndSessionEndpoint == "" {
		slog.Info("provider has no end-session endpoint, signed out locally", "authority", p.authority)
		return nil
	}

	u, err := url.Parse(p.metadata.EndSessionEndpoint)
	if err != nil {
		return &ProviderError{Code: "invalid_end_session_endpoint", Err: err}
	}
	q := u.Query()
	q.Set("client_id", c.cfg.ClientID)
	if idToken != "" {
		q.Set("id_token_hint", idToken)
	}
	if c.cfg.PostLogoutRedirectURI != "" {
		q.Set("post_logout_redirect_uri", c.cfg.PostLogoutRedirectURI)
	}
	u.RawQuery = q.Encode()

	if err := c.cfg.Opener(u.String()); err != nil {
		return fmt.Errorf("opening browser: %w", err)
	}
	return nil
}

// AllAccounts lists the cached accounts in the order they were first seen.
func (c *Client) AllAccounts() []Account {
	if c.cfgErr != nil {
		return nil
	}
	d, err := c.cache.read(context.Background())
	if err != nil {
		slog.Warn("reading session cache", "error", err)
		return nil
	}

	c.mu.Lock()
	active := c.active
	c.mu.Unlock()

	out := make([]Account, 0, len(d.Accounts))
	for _, entry := range d.Accounts {
		a := entry.account()
		a.IsActive = a.ID == active
		out = append(out, a)
	}
	return out
}

// ActiveAccount returns the account marked active in this process, or nil.
func (c *Client) ActiveAccount() *Account {
	for _, a := range c.AllAccounts() {
		if a.IsActive {
			return &a
		}
	}
	return nil
}

// SetActiveAccount marks acct active. Nil clears the marker.
func (c *Client) SetActiveAccount(acct *Account) error {
	if err := c.ready(); err != nil {
		return err
	}
	if acct == nil {
		c.mu.Lock()
		c.active = ""
		c.mu.Unlock()
		return nil
	}

	d, err := c.cache.read(context.Background())
	if err != nil {
		return fmt.Errorf("reading session cache: %w", err)
	}
	if _, ok := d.find(acct.ID); !ok {
		return fmt.Errorf("account %s is not in the session cache", acct.ID)
	}

	c.mu.Lock()
	c.active = acct.ID
	c.mu.Unlock()
	return nil
}
