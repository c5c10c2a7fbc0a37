package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
)

// Metadata is the subset of an OpenID discovery document the client uses.
type Metadata struct {
	oidc.ProviderConfig
	EndSessionEndpoint string `json:"end_session_endpoint,omitempty"`
}

// DiscoveryURL returns the well-known metadata URL for an authority.
func DiscoveryURL(authority string) string {
	return strings.TrimSuffix(authority, "/") + "/.well-known/openid-configuration"
}

// Discover fetches and checks the discovery document for authority.
//
// Tenant-templated authorities publish an issuer that differs from the
// discovery URL, so the issuer is taken from the document rather than
// compared against authority. It must be present.
func Discover(ctx context.Context, client *http.Client, authority string) (*Metadata, error) {
	if client != nil {
		ctx = oidc.ClientContext(ctx, client)
	}
	base := strings.TrimSuffix(authority, "/")
	op, err := oidc.NewProvider(oidc.InsecureIssuerURLContext(ctx, base), base)
	if err != nil {
		return nil, fmt.Errorf("discovering %s: %w", DiscoveryURL(authority), err)
	}

	var md Metadata
	if err := op.Claims(&md); err != nil {
		return nil, fmt.Errorf("%s: decoding discovery document: %w", DiscoveryURL(authority), err)
	}
	if md.IssuerURL == "" {
		return nil, fmt.Errorf("%s: discovery document has no issuer", DiscoveryURL(authority))
	}
	return &md, nil
}

// ValidateAuthority reports whether authority serves a usable discovery
// document. It does not require the client to be initialized.
func (c *Client) ValidateAuthority(ctx context.Context, authority string) error {
	if authority == "" {
		return errors.New("empty authority")
	}
	md, err := Discover(ctx, c.cfg.HTTPClient, authority)
	if err != nil {
		return err
	}
	if md.AuthURL == "" || md.TokenURL == "" {
		return fmt.Errorf("%s: discovery document lacks authorization or token endpoint", authority)
	}
	return nil
}
