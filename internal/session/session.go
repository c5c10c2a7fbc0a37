// Package session holds the current-user cell shared between the auth
// orchestrator and everything that renders or authorizes on its behalf.
package session

import (
	"sync"

	"github.com/alecgard/riff/internal/user"
)

// Snapshot is a consistent view of the session. IsAuthenticated is true
// exactly when CurrentUser is non-nil.
type Snapshot struct {
	CurrentUser     *user.User `json:"currentUser,omitempty"`
	AccountID       string     `json:"accountId,omitempty"`
	IsAuthenticated bool       `json:"isAuthenticated"`
}

// Store is the read handle. Any component may hold one.
type Store struct {
	mu   sync.RWMutex
	snap Snapshot

	subMu  sync.Mutex
	subs   map[int]chan Snapshot
	nextID int
}

// Writer mutates a Store. Only the auth orchestrator is given one.
type Writer struct {
	s *Store
}

// New returns an empty session and the single writer allowed to change it.
func New() (*Store, *Writer) {
	s := &Store{subs: make(map[int]chan Snapshot)}
	return s, &Writer{s: s}
}

// Snapshot returns a copy of the current session.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := s.snap
	if snap.CurrentUser != nil {
		u := *snap.CurrentUser
		snap.CurrentUser = &u
	}
	return snap
}

// CurrentUser returns a copy of the signed-in user, or nil.
func (s *Store) CurrentUser() *user.User {
	return s.Snapshot().CurrentUser
}

// IsAuthenticated reports whether a user is signed in.
func (s *Store) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.IsAuthenticated
}

// AccountID returns the identity-provider account the session belongs to.
func (s *Store) AccountID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.AccountID
}

// Subscribe returns a channel that receives every snapshot written after the
// call. Slow subscribers only ever see the latest snapshot. The returned func
// unsubscribes and closes the channel.
func (s *Store) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
			close(ch)
		})
	}
}

func (s *Store) publish(snap Snapshot) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		// Drop a stale pending value so the newest one always fits.
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

// SetCurrentUser signs u in for the given identity-provider account. A nil
// user is equivalent to Logout.
func (w *Writer) SetCurrentUser(u *user.User, accountID string) {
	if u == nil {
		w.Logout()
		return
	}
	cp := *u
	w.set(Snapshot{CurrentUser: &cp, AccountID: accountID, IsAuthenticated: true})
}

// Logout clears the session.
func (w *Writer) Logout() {
	w.set(Snapshot{})
}

// Store returns the store this writer mutates.
func (w *Writer) Store() *Store {
	return w.s
}

func (w *Writer) set(snap Snapshot) {
	w.s.mu.Lock()
	w.s.snap = snap
	w.s.mu.Unlock()
	w.s.publish(w.s.Snapshot())
}
