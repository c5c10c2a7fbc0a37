package crypto

import (
	"encoding/hex"
	"errors"
	"strings"
	"testing"
)

func newTestSealer(t *testing.T) *Sealer {
	t.Helper()
	s, err := NewSealer(hex.EncodeToString([]byte("0123456789abcdef0123456789abcdef")))
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}
	return s
}

func TestSealOpen(t *testing.T) {
	s := newTestSealer(t)

	sealed, err := s.Seal("refresh-token-xyz", "account-1")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if !strings.HasPrefix(sealed, sealedPrefix) {
		t.Fatalf("sealed value missing prefix: %q", sealed)
	}
	if strings.Contains(sealed, "refresh-token-xyz") {
		t.Fatal("sealed value leaks plaintext")
	}

	got, err := s.Open(sealed, "account-1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got != "refresh-token-xyz" {
		t.Errorf("got %q", got)
	}
}

func TestOpenWrongLabel(t *testing.T) {
	s := newTestSealer(t)
	sealed, _ := s.Seal("secret", "account-1")

	if _, err := s.Open(sealed, "account-2"); err == nil {
		t.Fatal("expected value sealed for one account to fail for another")
	}
}

func TestSealFreshNonce(t *testing.T) {
	s := newTestSealer(t)
	a, _ := s.Seal("same", "l")
	b, _ := s.Seal("same", "l")
	if a == b {
		t.Error("expected distinct ciphertexts for repeated seals")
	}
}

func TestNilSealer(t *testing.T) {
	var s *Sealer

	out, err := s.Seal("plain", "l")
	if err != nil || out != "plain" {
		t.Fatalf("nil Seal = %q, %v", out, err)
	}
	out, err = s.Open("plain", "l")
	if err != nil || out != "plain" {
		t.Fatalf("nil Open = %q, %v", out, err)
	}

	sealed, _ := newTestSealer(t).Seal("secret", "l")
	if _, err := s.Open(sealed, "l"); !errors.Is(err, ErrNoKey) {
		t.Errorf("expected ErrNoKey, got %v", err)
	}
}

func TestEmptyStaysEmpty(t *testing.T) {
	s := newTestSealer(t)
	out, err := s.Seal("", "l")
	if err != nil || out != "" {
		t.Errorf("expected empty output, got %q, %v", out, err)
	}
}

func TestNewSealerKeys(t *testing.T) {
	s, err := NewSealer("")
	if err != nil || s != nil {
		t.Fatalf("empty key: got %v, %v", s, err)
	}

	_, err = NewSealer(hex.EncodeToString([]byte("0123456789abcdef")))
	if err == nil || !strings.Contains(err.Error(), "32 bytes") {
		t.Errorf("expected length error, got %v", err)
	}

	if _, err := NewSealer("not-hex"); err == nil {
		t.Error("expected error for invalid hex")
	}

	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if _, err := NewSealer(key); err != nil {
		t.Errorf("generated key rejected: %v", err)
	}
}

func TestOpenTampered(t *testing.T) {
	s := newTestSealer(t)

	if _, err := s.Open(sealedPrefix+"!!!", "l"); err == nil {
		t.Error("expected error for invalid encoding")
	}
	if _, err := s.Open(sealedPrefix+"YQ", "l"); err == nil {
		t.Error("expected error for short value")
	}

	sealed, _ := s.Seal("hello", "l")
	b := []byte(sealed)
	i := len(b) - 3
	if b[i] == 'A' {
		b[i] = 'B'
	} else {
		b[i] = 'A'
	}
	if _, err := s.Open(string(b), "l"); err == nil {
		t.Error("expected error for tampered value")
	}
}
