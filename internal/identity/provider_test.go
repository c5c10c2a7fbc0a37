package identity

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testClientID    = "riff-test-client"
	testRedirectURI = "http://localhost:5173/redirect"
	goodCode        = "good-code"
)

// fakeProvider is a minimal OpenID provider: discovery, JWKS, and a token
// endpoint that understands code and refresh grants.
type fakeProvider struct {
	t   *testing.T
	srv *httptest.Server
	key *rsa.PrivateKey

	mu            sync.Mutex
	nonce         string
	refreshCalls  int
	refreshErr    string
	refreshStatus int
	codeExchanges int
	noEndSession  bool
	oid           string
	name          string
	username      string
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	fp := &fakeProvider{
		t:        t,
		key:      key,
		oid:      "oid-1",
		name:     "Jane Doe",
		username: "jane@example.com",
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", fp.discovery)
	mux.HandleFunc("/keys", fp.jwks)
	mux.HandleFunc("/token", fp.token)
	fp.srv = httptest.NewServer(mux)
	t.Cleanup(fp.srv.Close)
	return fp
}

func (fp *fakeProvider) URL() string { return fp.srv.URL }

func (fp *fakeProvider) config(t *testing.T) Config {
	return Config{
		ClientID:              testClientID,
		Authority:             fp.URL(),
		RedirectURI:           testRedirectURI,
		PostLogoutRedirectURI: "http://localhost:5173/",
		HTTPClient:            fp.srv.Client(),
		PopupTimeout:          5 * time.Second,
		Opener: func(string) error {
			t.Error("unexpected browser navigation")
			return nil
		},
	}
}

func (fp *fakeProvider) setNonce(n string) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	fp.nonce = n
}

func (fp *fakeProvider) failRefresh(code string, status int) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	fp.refreshErr, fp.refreshStatus = code, status
}

func (fp *fakeProvider) refreshCount() int {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return fp.refreshCalls
}

func (fp *fakeProvider) discovery(w http.ResponseWriter, r *http.Request) {
	fp.mu.Lock()
	noEnd := fp.noEndSession
	fp.mu.Unlock()

	doc := map[string]string{
		"issuer":                 fp.URL(),
		"authorization_endpoint": fp.URL() + "/authorize",
		"token_endpoint":         fp.URL() + "/token",
		"jwks_uri":               fp.URL() + "/keys",
	}
	if !noEnd {
		doc["end_session_endpoint"] = fp.URL() + "/logout"
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(doc)
}

func (fp *fakeProvider) jwks(w http.ResponseWriter, r *http.Request) {
	pub := fp.key.PublicKey
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": "k1",
			"alg": "RS256",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	})
}

func (fp *fakeProvider) idToken() string {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":                fp.URL(),
		"aud":                testClientID,
		"sub":                "sub-" + fp.oid,
		"oid":                fp.oid,
		"tid":                "tid-1",
		"name":               fp.name,
		"preferred_username": fp.username,
		"nonce":              fp.nonce,
		"iat":                now.Unix(),
		"exp":                now.Add(time.Hour).Unix(),
	})
	tok.Header["kid"] = "k1"
	signed, err := tok.SignedString(fp.key)
	if err != nil {
		fp.t.Errorf("signing id token: %v", err)
	}
	return signed
}

func (fp *fakeProvider) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		oauthError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		if r.PostForm.Get("code") != goodCode {
			oauthError(w, http.StatusBadRequest, "invalid_grant")
			return
		}
		if r.PostForm.Get("code_verifier") == "" {
			oauthError(w, http.StatusBadRequest, "invalid_request")
			return
		}
		fp.mu.Lock()
		fp.codeExchanges++
		fp.mu.Unlock()
		writeTokens(w, map[string]any{
			"access_token":  "at-initial",
			"refresh_token": "rt-1",
			"id_token":      fp.idToken(),
		})

	case "refresh_token":
		fp.mu.Lock()
		fp.refreshCalls++
		n, code, status := fp.refreshCalls, fp.refreshErr, fp.refreshStatus
		fp.mu.Unlock()

		if code != "" {
			if status == 0 {
				status = http.StatusBadRequest
			}
			oauthError(w, status, code)
			return
		}
		writeTokens(w, map[string]any{
			"access_token":  fmt.Sprintf("at-refreshed-%d", n),
			"refresh_token": "rt-2",
		})

	default:
		oauthError(w, http.StatusBadRequest, "unsupported_grant_type")
	}
}

func writeTokens(w http.ResponseWriter, body map[string]any) {
	body["token_type"] = "Bearer"
	body["expires_in"] = 3600
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func oauthError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             code,
		"error_description": "test error " + code,
	})
}

// popupBrowser returns an Opener that plays the user: it reads the
// authorization URL and calls the loopback redirect URI with params.
func popupBrowser(t *testing.T, fp *fakeProvider, params func(state string) url.Values) Opener {
	return func(raw string) error {
		u, err := url.Parse(raw)
		if err != nil {
			t.Errorf("parsing auth url: %v", err)
			return err
		}
		q := u.Query()
		fp.setNonce(q.Get("nonce"))

		cb, err := url.Parse(q.Get("redirect_uri"))
		if err != nil {
			t.Errorf("parsing redirect uri: %v", err)
			return err
		}
		cb.RawQuery = params(q.Get("state")).Encode()

		go func() {
			resp, err := http.Get(cb.String())
			if err != nil {
				t.Errorf("calling back: %v", err)
				return
			}
			resp.Body.Close()
		}()
		return nil
	}
}

func approve(state string) url.Values {
	return url.Values{"code": {goodCode}, "state": {state}}
}
