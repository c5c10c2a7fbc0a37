// Package crypto seals secrets kept in the local session cache.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

// sealedPrefix marks values produced by Seal so plaintext and sealed entries
// can coexist in one cache file.
const sealedPrefix = "sealed:"

// ErrNoKey is returned when opening a sealed value without a key.
var ErrNoKey = errors.New("value is sealed but no cache key is configured")

// Sealer encrypts values with AES-256-GCM. Each value is bound to a label
// (the account it belongs to) so entries cannot be swapped between accounts.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer creates a Sealer from a hex-encoded 32-byte key.
// Returns nil if key is empty; a nil Sealer stores values in the clear.
func NewSealer(hexKey string) (*Sealer, error) {
	if hexKey == "" {
		return nil, nil
	}

	key, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil {
		return nil, fmt.Errorf("decoding cache key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("cache key must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// GenerateKey returns a random hex-encoded key suitable for NewSealer.
func GenerateKey() (string, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("generating key: %w", err)
	}
	return hex.EncodeToString(key), nil
}

// Seal encrypts plaintext for label. Empty input stays empty.
func (s *Sealer) Seal(plaintext, label string) (string, error) {
	if s == nil || plaintext == "" {
		return plaintext, nil
	}

	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	out := s.aead.Seal(nonce, nonce, []byte(plaintext), []byte(label))
	return sealedPrefix + base64.RawStdEncoding.EncodeToString(out), nil
}

// Open reverses Seal. Values without the sealed prefix are returned as-is.
func (s *Sealer) Open(value, label string) (string, error) {
	encoded, sealed := strings.CutPrefix(value, sealedPrefix)
	if !sealed {
		return value, nil
	}
	if s == nil {
		return "", ErrNoKey
	}

	data, err := base64.RawStdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decoding sealed value: %w", err)
	}
	n := s.aead.NonceSize()
	if len(data) < n {
		return "", errors.New("sealed value too short")
	}

	plaintext, err := s.aead.Open(nil, data[:n], data[n:], []byte(label))
	if err != nil {
		return "", fmt.Errorf("opening sealed value: %w", err)
	}
	return string(plaintext), nil
}
