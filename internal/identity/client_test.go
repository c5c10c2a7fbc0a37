package identity

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alecgard/riff/internal/crypto"
)

var testScopes = []string{"openid", "profile", "email"}

// --- configuration ---

func TestMissingConfigurationFailsFast(t *testing.T) {
	c := New(Config{Authority: "https://login.example.com"})
	ctx := context.Background()

	var ce *ConfigurationError
	if err := c.Initialize(ctx); !errors.As(err, &ce) || ce.Setting != "client_id" {
		t.Fatalf("Initialize: expected client_id ConfigurationError, got %v", err)
	}
	if _, err := c.LoginPopup(ctx, LoginRequest{Scopes: testScopes}); !errors.As(err, &ce) {
		t.Errorf("LoginPopup: expected ConfigurationError, got %v", err)
	}
	if err := c.LoginRedirect(ctx, LoginRequest{Scopes: testScopes}); !errors.As(err, &ce) {
		t.Errorf("LoginRedirect: expected ConfigurationError, got %v", err)
	}
	if c.PendingRedirect() {
		t.Error("unconfigured client cannot have a pending redirect")
	}
	if accts := c.AllAccounts(); accts != nil {
		t.Errorf("expected no accounts, got %v", accts)
	}

	c = New(Config{ClientID: "x"})
	if err := c.Initialize(ctx); !errors.As(err, &ce) || ce.Setting != "authority" {
		t.Errorf("expected authority ConfigurationError, got %v", err)
	}
}

func TestRedirectRequiresRedirectURI(t *testing.T) {
	fp := newFakeProvider(t)
	cfg := fp.config(t)
	cfg.RedirectURI = ""

	var ce *ConfigurationError
	err := New(cfg).LoginRedirect(context.Background(), LoginRequest{Scopes: testScopes})
	if !errors.As(err, &ce) || ce.Setting != "redirect_uri" {
		t.Fatalf("expected redirect_uri ConfigurationError, got %v", err)
	}
}

func TestInitialize(t *testing.T) {
	fp := newFakeProvider(t)
	c := New(fp.config(t))

	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("second Initialize: %v", err)
	}
	if c.PendingRedirect() {
		t.Error("no location, so nothing should be pending")
	}
}

func TestInitializeDiscoveryFailure(t *testing.T) {
	c := New(Config{ClientID: testClientID, Authority: "http://127.0.0.1:1/tenant"})

	var pe *ProviderError
	if err := c.Initialize(context.Background()); !errors.As(err, &pe) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
}

// --- redirect ---

// startRedirect runs LoginRedirect on one client and returns the location the
// browser would come back with.
func startRedirect(t *testing.T, fp *fakeProvider, cfg Config, params func(state string) url.Values) string {
	t.Helper()

	var authURL string
	cfg.Opener = func(u string) error {
		authURL = u
		return nil
	}
	if err := New(cfg).LoginRedirect(context.Background(), LoginRequest{Scopes: testScopes}); err != nil {
		t.Fatalf("LoginRedirect: %v", err)
	}

	u, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("parsing auth url: %v", err)
	}
	q := u.Query()
	if q.Get("code_challenge_method") != "S256" || q.Get("code_challenge") == "" {
		t.Errorf("expected PKCE parameters, got %v", q)
	}
	if q.Get("redirect_uri") != testRedirectURI {
		t.Errorf("expected redirect_uri %q, got %q", testRedirectURI, q.Get("redirect_uri"))
	}
	if !strings.Contains(q.Get("scope"), "offline_access") {
		t.Errorf("expected offline_access scope, got %q", q.Get("scope"))
	}
	fp.setNonce(q.Get("nonce"))

	return testRedirectURI + "?" + params(q.Get("state")).Encode()
}

func TestRedirectSurvivesNewProcess(t *testing.T) {
	fp := newFakeProvider(t)
	cfg := fp.config(t)
	cfg.CachePath = filepath.Join(t.TempDir(), "riff", "session.json")

	location := startRedirect(t, fp, cfg, approve)

	// A brand-new client, as after the browser reload.
	cfg.Location = location
	c := New(cfg)
	if !c.PendingRedirect() {
		t.Fatal("expected pending redirect")
	}

	acct, err := c.HandleRedirectCompletion(context.Background())
	if err != nil {
		t.Fatalf("HandleRedirectCompletion: %v", err)
	}
	if acct.ID != "oid-1.tid-1" || acct.Username != "jane@example.com" || acct.DisplayName != "Jane Doe" {
		t.Errorf("unexpected account: %+v", acct)
	}
	if acct.IsActive {
		t.Error("completion must not mark the account active")
	}

	if c.PendingRedirect() {
		t.Error("redirect must be consumed")
	}
	again, err := c.HandleRedirectCompletion(context.Background())
	if again != nil || err != nil {
		t.Errorf("second completion: got %v, %v", again, err)
	}

	accts := c.AllAccounts()
	if len(accts) != 1 || accts[0].ID != acct.ID {
		t.Fatalf("expected one cached account, got %+v", accts)
	}
	if c.ActiveAccount() != nil {
		t.Error("no account should be active yet")
	}
	if err := c.SetActiveAccount(acct); err != nil {
		t.Fatalf("SetActiveAccount: %v", err)
	}
	if active := c.ActiveAccount(); active == nil || active.ID != acct.ID {
		t.Errorf("expected %s active, got %+v", acct.ID, active)
	}

	// The active marker is per process.
	if New(fp.config(t)).ActiveAccount() != nil {
		t.Error("fresh client must start without an active account")
	}
}

func TestRedirectCacheSealed(t *testing.T) {
	fp := newFakeProvider(t)
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	sealer, err := crypto.NewSealer(key)
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}

	cfg := fp.config(t)
	cfg.CachePath = filepath.Join(t.TempDir(), "session.json")
	cfg.Sealer = sealer
	cfg.Location = startRedirect(t, fp, cfg, approve)

	if _, err := New(cfg).HandleRedirectCompletion(context.Background()); err != nil {
		t.Fatalf("HandleRedirectCompletion: %v", err)
	}

	raw, err := os.ReadFile(cfg.CachePath)
	if err != nil {
		t.Fatalf("reading cache: %v", err)
	}
	if strings.Contains(string(raw), "rt-1") {
		t.Error("refresh token stored in the clear")
	}

	// Without the key the cache cannot be opened.
	cfg.Sealer = nil
	cfg.Location = ""
	if accts := New(cfg).AllAccounts(); accts != nil {
		t.Errorf("expected unreadable cache without key, got %+v", accts)
	}
}

func TestRedirectErrors(t *testing.T) {
	tests := []struct {
		name     string
		params   func(state string) url.Values
		wantCode string
	}{
		{"provider error", func(s string) url.Values {
			return url.Values{"error": {"access_denied"}, "error_description": {"user said no"}, "state": {s}}
		}, "access_denied"},
		{"state mismatch", func(string) url.Values {
			return url.Values{"code": {goodCode}, "state": {"forged"}}
		}, "state_mismatch"},
		{"bad code", func(s string) url.Values {
			return url.Values{"code": {"stale"}, "state": {s}}
		}, "code_redemption_failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fp := newFakeProvider(t)
			cfg := fp.config(t)
			cfg.CachePath = filepath.Join(t.TempDir(), "session.json")
			cfg.Location = startRedirect(t, fp, cfg, tt.params)

			c := New(cfg)
			acct, err := c.HandleRedirectCompletion(context.Background())
			var re *RedirectError
			if !errors.As(err, &re) {
				t.Fatalf("expected RedirectError, got %v, %v", acct, err)
			}
			if re.Code != tt.wantCode {
				t.Errorf("expected code %q, got %q", tt.wantCode, re.Code)
			}
			if len(c.AllAccounts()) != 0 {
				t.Error("failed redirect must not cache an account")
			}
		})
	}
}

func TestRedirectForgedResponseKeepsPendingRequest(t *testing.T) {
	fp := newFakeProvider(t)
	cfg := fp.config(t)
	cfg.CachePath = filepath.Join(t.TempDir(), "session.json")

	var state string
	genuine := startRedirect(t, fp, cfg, func(s string) url.Values {
		state = s
		return url.Values{"code": {goodCode}, "state": {s}}
	})

	for _, forged := range []url.Values{
		{"error": {"access_denied"}},
		{"error": {"access_denied"}, "state": {"forged"}},
		{"code": {goodCode}, "state": {"forged"}},
	} {
		cfg.Location = testRedirectURI + "?" + forged.Encode()
		var re *RedirectError
		if _, err := New(cfg).HandleRedirectCompletion(context.Background()); !errors.As(err, &re) || re.Code != "state_mismatch" {
			t.Fatalf("%v: expected state_mismatch, got %v", forged, err)
		}
	}

	cfg.Location = genuine
	acct, err := New(cfg).HandleRedirectCompletion(context.Background())
	if err != nil {
		t.Fatalf("genuine response after forged ones (state %q): %v", state, err)
	}
	if acct == nil || acct.ID == "" {
		t.Fatalf("expected an account, got %+v", acct)
	}

	cfg.Location = genuine
	var re *RedirectError
	if _, err := New(cfg).HandleRedirectCompletion(context.Background()); !errors.As(err, &re) || re.Code != "no_pending_request" {
		t.Fatalf("pending request should be consumed, got %v", err)
	}
}

func TestRedirectWithoutPendingRequest(t *testing.T) {
	fp := newFakeProvider(t)
	cfg := fp.config(t)
	cfg.CachePath = filepath.Join(t.TempDir(), "session.json")
	cfg.Location = testRedirectURI + "?code=good-code&state=whatever"

	var re *RedirectError
	_, err := New(cfg).HandleRedirectCompletion(context.Background())
	if !errors.As(err, &re) || re.Code != "no_pending_request" {
		t.Fatalf("expected no_pending_request, got %v", err)
	}
}

func TestRedirectMalformedLocation(t *testing.T) {
	fp := newFakeProvider(t)
	cfg := fp.config(t)
	cfg.Location = "http://[::1"

	c := New(cfg)
	if !c.PendingRedirect() {
		t.Fatal("malformed location should be reported for handling")
	}
	var re *RedirectError
	if _, err := c.HandleRedirectCompletion(context.Background()); !errors.As(err, &re) || re.Code != "malformed_location" {
		t.Fatalf("expected malformed_location, got %v", err)
	}
}

// --- silent acquisition ---

func signedIn(t *testing.T, fp *fakeProvider, cfg Config) (*Client, *Account) {
	t.Helper()
	cfg.Opener = popupBrowser(t, fp, approve)
	c := New(cfg)
	acct, err := c.LoginPopup(context.Background(), LoginRequest{Scopes: testScopes})
	if err != nil {
		t.Fatalf("LoginPopup: %v", err)
	}
	return c, acct
}

func TestAcquireTokenSilentUsesFreshToken(t *testing.T) {
	fp := newFakeProvider(t)
	c, acct := signedIn(t, fp, fp.config(t))

	tok, err := c.AcquireTokenSilent(context.Background(), testScopes, acct)
	if err != nil {
		t.Fatalf("AcquireTokenSilent: %v", err)
	}
	if tok.Value != "at-initial" || tok.AccountID != acct.ID {
		t.Errorf("unexpected token: %+v", tok)
	}
	if n := fp.refreshCount(); n != 0 {
		t.Errorf("expected no refresh, got %d", n)
	}
}

func TestAcquireTokenSilentRefreshes(t *testing.T) {
	fp := newFakeProvider(t)
	cfg := fp.config(t)
	cfg.CachePath = filepath.Join(t.TempDir(), "session.json")
	_, acct := signedIn(t, fp, cfg)

	// A new process has no access tokens in memory.
	fresh := fp.config(t)
	fresh.CachePath = cfg.CachePath
	c := New(fresh)

	tok, err := c.AcquireTokenSilent(context.Background(), []string{"api://riff/access"}, acct)
	if err != nil {
		t.Fatalf("AcquireTokenSilent: %v", err)
	}
	if tok.Value != "at-refreshed-1" {
		t.Errorf("expected refreshed token, got %q", tok.Value)
	}
	if time.Until(tok.ExpiresAt) < 50*time.Minute {
		t.Errorf("unexpected expiry %v", tok.ExpiresAt)
	}

	d, err := c.cache.read(context.Background())
	if err != nil {
		t.Fatalf("reading cache: %v", err)
	}
	if entry, _ := d.find(acct.ID); entry.RefreshToken != "rt-2" {
		t.Errorf("expected rotated refresh token to be saved, got %q", entry.RefreshToken)
	}

	// Served from memory the second time.
	if _, err := c.AcquireTokenSilent(context.Background(), []string{"api://riff/access"}, acct); err != nil {
		t.Fatalf("second AcquireTokenSilent: %v", err)
	}
	if n := fp.refreshCount(); n != 1 {
		t.Errorf("expected one refresh, got %d", n)
	}
}

func TestAcquireTokenSilentClassifiesErrors(t *testing.T) {
	tests := []struct {
		code        string
		status      int
		interaction bool
	}{
		{"invalid_grant", http.StatusBadRequest, true},
		{"interaction_required", http.StatusBadRequest, true},
		{"consent_required", http.StatusBadRequest, true},
		{"login_required", http.StatusBadRequest, true},
		{"temporarily_unavailable", http.StatusServiceUnavailable, false},
		{"invalid_client", http.StatusUnauthorized, false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			fp := newFakeProvider(t)
			c, acct := signedIn(t, fp, fp.config(t))
			fp.failRefresh(tt.code, tt.status)

			_, err := c.AcquireTokenSilent(context.Background(), []string{"api://riff/other"}, acct)
			if got := errors.Is(err, ErrInteractionRequired); got != tt.interaction {
				t.Fatalf("interaction required = %v, want %v (err %v)", got, tt.interaction, err)
			}
			if !tt.interaction {
				var pe *ProviderError
				if !errors.As(err, &pe) || pe.Code != tt.code {
					t.Errorf("expected ProviderError %q, got %v", tt.code, err)
				}
			}
		})
	}
}

func TestAcquireTokenSilentUnknownAccount(t *testing.T) {
	fp := newFakeProvider(t)
	c := New(fp.config(t))

	_, err := c.AcquireTokenSilent(context.Background(), testScopes, &Account{ID: "nobody"})
	if !errors.Is(err, ErrInteractionRequired) {
		t.Errorf("expected ErrInteractionRequired, got %v", err)
	}
	_, err = c.AcquireTokenSilent(context.Background(), testScopes, nil)
	if !errors.Is(err, ErrInteractionRequired) {
		t.Errorf("expected ErrInteractionRequired for nil account, got %v", err)
	}
}

// --- logout ---

func TestLogoutRedirect(t *testing.T) {
	fp := newFakeProvider(t)
	c, acct := signedIn(t, fp, fp.config(t))
	if err := c.SetActiveAccount(acct); err != nil {
		t.Fatalf("SetActiveAccount: %v", err)
	}

	var logoutURL string
	c.cfg.Opener = func(u string) error {
		logoutURL = u
		return nil
	}
	if err := c.LogoutRedirect(context.Background(), nil); err != nil {
		t.Fatalf("LogoutRedirect: %v", err)
	}

	u, err := url.Parse(logoutURL)
	if err != nil {
		t.Fatalf("parsing logout url: %v", err)
	}
	if u.Path != "/logout" {
		t.Errorf("expected end-session endpoint, got %s", logoutURL)
	}
	q := u.Query()
	if q.Get("id_token_hint") == "" || q.Get("post_logout_redirect_uri") != "http://localhost:5173/" || q.Get("client_id") != testClientID {
		t.Errorf("unexpected logout params: %v", q)
	}

	if len(c.AllAccounts()) != 0 || c.ActiveAccount() != nil {
		t.Error("account must be forgotten locally")
	}
	if _, err := c.AcquireTokenSilent(context.Background(), testScopes, acct); !errors.Is(err, ErrInteractionRequired) {
		t.Errorf("tokens must be forgotten, got %v", err)
	}
}

func TestLogoutRedirectNavigationFailure(t *testing.T) {
	fp := newFakeProvider(t)
	c, acct := signedIn(t, fp, fp.config(t))

	c.cfg.Opener = func(string) error { return errors.New("no browser") }
	if err := c.LogoutRedirect(context.Background(), acct); err == nil {
		t.Fatal("expected navigation error")
	}
	if len(c.AllAccounts()) != 0 {
		t.Error("account must be forgotten even when navigation fails")
	}
}

func TestLogoutRedirectWithoutEndSession(t *testing.T) {
	fp := newFakeProvider(t)
	fp.mu.Lock()
	fp.noEndSession = true
	fp.mu.Unlock()
	c, acct := signedIn(t, fp, fp.config(t))

	c.cfg.Opener = func(string) error {
		t.Error("no end-session endpoint, browser must not open")
		return nil
	}
	if err := c.LogoutRedirect(context.Background(), acct); err != nil {
		t.Fatalf("LogoutRedirect: %v", err)
	}
}

func TestLogoutRedirectNoAccount(t *testing.T) {
	fp := newFakeProvider(t)
	if err := New(fp.config(t)).LogoutRedirect(context.Background(), nil); err != nil {
		t.Errorf("expected no-op, got %v", err)
	}
}

func TestSetActiveAccountUnknown(t *testing.T) {
	fp := newFakeProvider(t)
	c := New(fp.config(t))
	if err := c.SetActiveAccount(&Account{ID: "ghost"}); err == nil {
		t.Error("expected error for uncached account")
	}
	if err := c.SetActiveAccount(nil); err != nil {
		t.Errorf("clearing active account: %v", err)
	}
}
