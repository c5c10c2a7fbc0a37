package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/alecgard/riff/internal/crypto"
)

const (
	cacheVersion = 1
	lockTimeout  = 5 * time.Second
	lockRetry    = 50 * time.Millisecond
)

// pendingRequest is an authorization request that left via a browser
// redirect. It is all that survives the navigation.
type pendingRequest struct {
	State       string    `json:"state"`
	Nonce       string    `json:"nonce"`
	Verifier    string    `json:"verifier"`
	Authority   string    `json:"authority"`
	RedirectURI string    `json:"redirect_uri"`
	Scopes      []string  `json:"scopes"`
	CreatedAt   time.Time `json:"created_at"`
}

type cachedAccount struct {
	ID           string    `json:"id"`
	DisplayName  string    `json:"display_name"`
	Username     string    `json:"username"`
	Authority    string    `json:"authority"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	IDToken      string    `json:"id_token,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (a cachedAccount) account() Account {
	return Account{ID: a.ID, DisplayName: a.DisplayName, Username: a.Username}
}

type cacheData struct {
	Version  int             `json:"version"`
	Pending  *pendingRequest `json:"pending,omitempty"`
	Accounts []cachedAccount `json:"accounts"`
}

func (d *cacheData) find(id string) (cachedAccount, bool) {
	i := slices.IndexFunc(d.Accounts, func(a cachedAccount) bool { return a.ID == id })
	if i < 0 {
		return cachedAccount{}, false
	}
	return d.Accounts[i], true
}

func (d *cacheData) upsert(a cachedAccount) {
	if i := slices.IndexFunc(d.Accounts, func(c cachedAccount) bool { return c.ID == a.ID }); i >= 0 {
		d.Accounts[i] = a
		return
	}
	d.Accounts = append(d.Accounts, a)
}

func (d *cacheData) remove(id string) {
	d.Accounts = slices.DeleteFunc(d.Accounts, func(a cachedAccount) bool { return a.ID == id })
}

// sessionCache is the durable store behind redirect sign-in. With an empty
// path it lives in memory only.
type sessionCache struct {
	path   string
	sealer *crypto.Sealer

	mu  sync.Mutex
	mem *cacheData
}

func newSessionCache(path string, sealer *crypto.Sealer) *sessionCache {
	return &sessionCache{path: path, sealer: sealer, mem: &cacheData{Version: cacheVersion}}
}

// read returns a snapshot of the cache with secrets opened.
func (c *sessionCache) read(ctx context.Context) (*cacheData, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.path == "" {
		return cloneData(c.mem), nil
	}
	if _, err := os.Stat(filepath.Dir(c.path)); errors.Is(err, os.ErrNotExist) {
		return &cacheData{Version: cacheVersion}, nil
	}

	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	lock := flock.New(c.path + ".lock")
	locked, err := lock.TryRLockContext(lockCtx, lockRetry)
	if err != nil {
		return nil, fmt.Errorf("locking session cache: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("locking session cache: timeout after %v", lockTimeout)
	}
	defer lock.Unlock()

	return c.load()
}

// update runs fn against the cache under an exclusive lock and writes the
// result back. Nothing is written when fn fails.
func (c *sessionCache) update(ctx context.Context, fn func(*cacheData) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.path == "" {
		d := cloneData(c.mem)
		if err := fn(d); err != nil {
			return err
		}
		c.mem = d
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	lock := flock.New(c.path + ".lock")
	locked, err := lock.TryLockContext(lockCtx, lockRetry)
	if err != nil {
		return fmt.Errorf("locking session cache: %w", err)
	}
	if !locked {
		return fmt.Errorf("locking session cache: timeout after %v", lockTimeout)
	}
	defer lock.Unlock()

	d, err := c.load()
	if err != nil {
		return err
	}
	if err := fn(d); err != nil {
		return err
	}
	return c.save(d)
}

func (c *sessionCache) load() (*cacheData, error) {
	raw, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return &cacheData{Version: cacheVersion}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading session cache: %w", err)
	}

	var d cacheData
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("parsing session cache: %w", err)
	}
	if d.Version != cacheVersion {
		// Unknown layout: start over rather than misread it.
		return &cacheData{Version: cacheVersion}, nil
	}

	if d.Pending != nil {
		if d.Pending.Verifier, err = c.sealer.Open(d.Pending.Verifier, d.Pending.State); err != nil {
			return nil, fmt.Errorf("opening pending request: %w", err)
		}
	}
	for i := range d.Accounts {
		a := &d.Accounts[i]
		if a.RefreshToken, err = c.sealer.Open(a.RefreshToken, a.ID); err != nil {
			return nil, fmt.Errorf("opening tokens for %s: %w", a.ID, err)
		}
		if a.IDToken, err = c.sealer.Open(a.IDToken, a.ID); err != nil {
			return nil, fmt.Errorf("opening tokens for %s: %w", a.ID, err)
		}
	}
	return &d, nil
}

func (c *sessionCache) save(d *cacheData) error {
	out := cloneData(d)
	var err error
	if out.Pending != nil {
		if out.Pending.Verifier, err = c.sealer.Seal(out.Pending.Verifier, out.Pending.State); err != nil {
			return err
		}
	}
	for i := range out.Accounts {
		a := &out.Accounts[i]
		if a.RefreshToken, err = c.sealer.Seal(a.RefreshToken, a.ID); err != nil {
			return err
		}
		if a.IDToken, err = c.sealer.Seal(a.IDToken, a.ID); err != nil {
			return err
		}
	}

	raw, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding session cache: %w", err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("writing session cache: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("replacing session cache: %w", err)
	}
	return nil
}

func cloneData(d *cacheData) *cacheData {
	out := &cacheData{Version: d.Version, Accounts: slices.Clone(d.Accounts)}
	if d.Pending != nil {
		p := *d.Pending
		p.Scopes = slices.Clone(p.Scopes)
		out.Pending = &p
	}
	return out
}
