package authflow

import (
	"errors"
	"fmt"
)

// State is where the orchestrator is in a sign-in lifecycle.
type State int

const (
	Unauthenticated State = iota
	RedirectPending
	Reconciling
	Authenticated
	SigningOut
	Failed
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case RedirectPending:
		return "redirect_pending"
	case Reconciling:
		return "reconciling"
	case Authenticated:
		return "authenticated"
	case SigningOut:
		return "signing_out"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Provider selects which identity authority a sign-in goes to.
type Provider int

const (
	ProviderPrimary Provider = iota
	ProviderFederated
)

// ParseProvider maps a command-line name to a Provider.
func ParseProvider(s string) (Provider, error) {
	switch s {
	case "", "primary":
		return ProviderPrimary, nil
	case "federated", "federated-secondary":
		return ProviderFederated, nil
	}
	return 0, fmt.Errorf("unknown provider %q", s)
}

// Mode selects how the browser is involved in a sign-in.
type Mode int

const (
	ModeRedirect Mode = iota
	ModePopup
)

// ParseMode maps a command-line name to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "redirect":
		return ModeRedirect, nil
	case "popup":
		return ModePopup, nil
	}
	return 0, fmt.Errorf("unknown sign-in mode %q", s)
}

var (
	// ErrNotAuthenticated is returned by operations that need a signed-in user.
	ErrNotAuthenticated = errors.New("not signed in")
	// ErrAccountMismatch guards against handing out a token, or writing a
	// profile, for an account other than the one the session belongs to.
	ErrAccountMismatch = errors.New("identity account does not match the signed-in session")
)

// ReconcileError means an account could not be mapped to a user record.
// No user is ever substituted when this is returned.
type ReconcileError struct {
	AccountID string
	Op        string
	Err       error
}

func (e *ReconcileError) Error() string {
	return fmt.Sprintf("reconciling account %s: %s: %v", e.AccountID, e.Op, e.Err)
}

func (e *ReconcileError) Unwrap() error { return e.Err }
