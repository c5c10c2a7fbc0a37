package session

import (
	"sync"
	"testing"

	"github.com/alecgard/riff/internal/user"
)

func checkInvariant(t *testing.T, snap Snapshot) {
	t.Helper()
	if snap.IsAuthenticated != (snap.CurrentUser != nil) {
		t.Errorf("invariant broken: IsAuthenticated=%v CurrentUser=%v", snap.IsAuthenticated, snap.CurrentUser)
	}
}

func TestNewIsSignedOut(t *testing.T) {
	s, _ := New()
	snap := s.Snapshot()
	checkInvariant(t, snap)
	if snap.IsAuthenticated {
		t.Fatal("new session must be signed out")
	}
	if s.CurrentUser() != nil {
		t.Fatal("expected no current user")
	}
}

func TestSetCurrentUserAndLogout(t *testing.T) {
	s, w := New()

	w.SetCurrentUser(&user.User{ID: "u1", Email: "jane@example.com"}, "a1")
	snap := s.Snapshot()
	checkInvariant(t, snap)
	if !snap.IsAuthenticated || snap.CurrentUser.ID != "u1" || snap.AccountID != "a1" {
		t.Fatalf("unexpected snapshot after sign-in: %+v", snap)
	}

	w.Logout()
	snap = s.Snapshot()
	checkInvariant(t, snap)
	if snap.IsAuthenticated || snap.AccountID != "" {
		t.Fatalf("unexpected snapshot after logout: %+v", snap)
	}
}

func TestSetNilUserLogsOut(t *testing.T) {
	s, w := New()
	w.SetCurrentUser(&user.User{ID: "u1"}, "a1")
	w.SetCurrentUser(nil, "a1")

	checkInvariant(t, s.Snapshot())
	if s.IsAuthenticated() {
		t.Fatal("nil user must sign out")
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	s, w := New()
	u := &user.User{ID: "u1", Name: "Jane"}
	w.SetCurrentUser(u, "a1")

	u.Name = "mutated by caller"
	if got := s.CurrentUser().Name; got != "Jane" {
		t.Errorf("store shares memory with caller: name=%q", got)
	}

	got := s.CurrentUser()
	got.Name = "mutated by reader"
	if s.CurrentUser().Name != "Jane" {
		t.Error("store shares memory with reader")
	}
}

func TestSubscribeReceivesLatest(t *testing.T) {
	s, w := New()
	ch, cancel := s.Subscribe()
	defer cancel()

	w.SetCurrentUser(&user.User{ID: "u1"}, "a1")
	w.SetCurrentUser(&user.User{ID: "u2"}, "a2")

	snap := <-ch
	if snap.CurrentUser == nil || snap.CurrentUser.ID != "u2" {
		t.Fatalf("expected latest snapshot for u2, got %+v", snap)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	s, w := New()
	ch, cancel := s.Subscribe()
	cancel()
	cancel() // second call is harmless

	w.Logout()
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel")
	}
}

func TestConcurrentReadersAndWriter(t *testing.T) {
	s, w := New()
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			if i%2 == 0 {
				w.SetCurrentUser(&user.User{ID: "u1"}, "a1")
			} else {
				w.Logout()
			}
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				checkInvariant(t, s.Snapshot())
			}
		}()
	}
	wg.Wait()
}
