package auth

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
)

// OIDCVerifier accepts tokens issued by an external identity provider for
// the API audience.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier discovers issuer and verifies tokens against its keys.
func NewOIDCVerifier(ctx context.Context, issuer, audience string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("discovering issuer %s: %w", issuer, err)
	}
	return &OIDCVerifier{verifier: provider.Verifier(&oidc.Config{ClientID: audience})}, nil
}

// NewOIDCVerifierWithKeys builds a verifier without discovery.
func NewOIDCVerifierWithKeys(issuer, audience string, keys oidc.KeySet) *OIDCVerifier {
	return &OIDCVerifier{verifier: oidc.NewVerifier(issuer, keys, &oidc.Config{ClientID: audience})}
}

type emailClaims struct {
	Email             string   `json:"email"`
	PreferredUsername string   `json:"preferred_username"`
	Emails            []string `json:"emails"`
}

// Verify checks the token and extracts the caller's email.
func (v *OIDCVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	idt, err := v.verifier.Verify(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	var c emailClaims
	if err := idt.Claims(&c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	email := c.Email
	if email == "" {
		email = c.PreferredUsername
	}
	if email == "" && len(c.Emails) > 0 {
		email = c.Emails[0]
	}
	return &Identity{Email: email, Subject: idt.Subject}, nil
}
