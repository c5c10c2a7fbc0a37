package identity

import (
	"slices"
	"strings"
	"time"
)

// Account describes an authenticated identity-provider session. It is not a
// backend user.
type Account struct {
	ID          string `json:"accountId"`
	DisplayName string `json:"displayName"`
	Username    string `json:"username"`
	IsActive    bool   `json:"isActiveSessionAccount"`
}

// Token is an access token issued for an account.
type Token struct {
	Value     string    `json:"-"`
	Scopes    []string  `json:"scopes"`
	AccountID string    `json:"accountId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// LoginRequest parameterizes an interactive sign-in.
type LoginRequest struct {
	Scopes []string
	// Authority overrides the configured authority, for federated sign-in.
	Authority string
	// LoginHint pre-fills the username at the provider.
	LoginHint string
}

// ScopeKey returns a stable key for a scope set.
func ScopeKey(scopes []string) string {
	sorted := slices.Clone(scopes)
	slices.Sort(sorted)
	return strings.Join(slices.Compact(sorted), " ")
}
