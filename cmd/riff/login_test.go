package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alecgard/riff/internal/crypto"
	"github.com/alecgard/riff/internal/ui"
)

func TestIsLoopback(t *testing.T) {
	tests := []struct {
		host string
		want bool
	}{
		{"localhost", true},
		{"127.0.0.1", true},
		{"::1", true},
		{"app.example.com", false},
		{"10.0.0.1", false},
	}
	for _, tt := range tests {
		if got := isLoopback(tt.host); got != tt.want {
			t.Errorf("isLoopback(%q) = %v, want %v", tt.host, got, tt.want)
		}
	}
}

func TestListenForRedirectSkipsRemoteURI(t *testing.T) {
	c, err := listenForRedirect("https://app.example.com/auth/callback")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c != nil {
		t.Fatal("expected no listener for a remote redirect uri")
	}
}

func TestRedirectCatcherCapturesLocation(t *testing.T) {
	target, _ := url.Parse("http://localhost:3000/auth/callback")
	c := &redirectCatcher{target: target, page: ui.SignedInHandler(), got: make(chan string, 1)}

	rec := httptest.NewRecorder()
	c.handle(rec, httptest.NewRequest(http.MethodGet, "/favicon.ico", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for other paths, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	c.handle(rec, httptest.NewRequest(http.MethodGet, "/auth/callback?code=abc&state=xyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := c.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if want := "http://localhost:3000/auth/callback?code=abc&state=xyz"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRedirectCatcherWaitTimesOut(t *testing.T) {
	target, _ := url.Parse("http://localhost:3000/auth/callback")
	c := &redirectCatcher{target: target, got: make(chan string, 1)}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := c.Wait(ctx); err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestKeygenPrintsUsableKey(t *testing.T) {
	var out strings.Builder
	keygenCmd.SetOut(&out)
	defer keygenCmd.SetOut(nil)

	if err := keygenCmd.RunE(keygenCmd, nil); err != nil {
		t.Fatalf("keygen: %v", err)
	}
	key := strings.TrimSpace(out.String())
	if len(key) != 64 {
		t.Fatalf("expected 64 hex characters, got %q", key)
	}
	if _, err := crypto.NewSealer(key); err != nil {
		t.Errorf("generated key rejected by NewSealer: %v", err)
	}
}
