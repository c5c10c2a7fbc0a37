package identity

import (
	"errors"
	"fmt"
)

var (
	// ErrPopupClosed means the user abandoned an interactive sign-in.
	ErrPopupClosed = errors.New("sign-in window closed before completion")
	// ErrInteractionRequired means no token can be obtained without the user.
	ErrInteractionRequired = errors.New("interaction required")
)

// ConfigurationError reports missing or invalid provider settings. Sign-in
// fails fast with it instead of sending the browser to a dead end.
type ConfigurationError struct {
	Setting string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	if e.Setting == "" {
		return "identity configuration: " + e.Reason
	}
	return fmt.Sprintf("identity configuration: %s: %s", e.Setting, e.Reason)
}

// RedirectError reports a malformed or expired redirect response.
type RedirectError struct {
	Code        string
	Description string
	Err         error
}

func (e *RedirectError) Error() string {
	msg := "redirect completion failed"
	if e.Code != "" {
		msg += ": " + e.Code
	}
	if e.Description != "" {
		msg += " (" + e.Description + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RedirectError) Unwrap() error { return e.Err }

// ProviderError is any failure reported by the identity provider that is not
// covered by a more specific class.
type ProviderError struct {
	Code        string
	Description string
	Err         error
}

func (e *ProviderError) Error() string {
	msg := "identity provider error"
	if e.Code != "" {
		msg += ": " + e.Code
	}
	if e.Description != "" {
		msg += " (" + e.Description + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Err }
