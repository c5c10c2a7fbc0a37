package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/alecgard/riff/internal/apiclient"
	"github.com/alecgard/riff/internal/authflow"
	"github.com/alecgard/riff/internal/config"
	"github.com/alecgard/riff/internal/crypto"
	"github.com/alecgard/riff/internal/identity"
	"github.com/alecgard/riff/internal/session"
)

// clientSession is everything a sign-in command works with.
type clientSession struct {
	cfg     *config.Config
	idp     *identity.Client
	api     *apiclient.Client
	flow    *authflow.Orchestrator
	session *session.Store
}

func setupClientLogging() {
	level := slog.LevelWarn
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func loadClientConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if problems := cfg.IdentityProblems(); len(problems) > 0 {
		return nil, fmt.Errorf("sign-in is not configured: %s", strings.Join(problems, "; "))
	}
	return cfg, nil
}

// openClient wires the identity client, backend client and orchestrator,
// then resumes whatever session the cache holds. location is the URL a
// redirect sign-in landed on, or empty.
func openClient(ctx context.Context, cfg *config.Config, location string) (*clientSession, error) {
	sealer, err := crypto.NewSealer(cfg.Identity.CacheKey)
	if err != nil {
		return nil, fmt.Errorf("identity.cache_key: %w", err)
	}

	idp := identity.New(identity.Config{
		ClientID:              cfg.Identity.ClientID,
		ClientSecret:          cfg.Identity.ClientSecret,
		Authority:             cfg.Identity.Authority,
		RedirectURI:           cfg.Identity.RedirectURI,
		PostLogoutRedirectURI: cfg.Identity.PostLogoutRedirectURI,
		CachePath:             cfg.Identity.CachePath,
		Sealer:                sealer,
		PopupTimeout:          cfg.Identity.PopupTimeout,
		Location:              location,
	})

	// The backend client and the orchestrator need each other: one supplies
	// tokens, the other stores users.
	var flow *authflow.Orchestrator
	api, err := apiclient.New(cfg.Identity.APIBaseURL,
		apiclient.WithToken(func(ctx context.Context) (string, error) {
			return flow.BearerToken(ctx)
		}),
		apiclient.WithUnauthorizedHandler(func() {
			flow.HandleUnauthorized()
		}),
	)
	if err != nil {
		return nil, err
	}

	store, writer := session.New()
	federated := make([]authflow.FederatedAuthority, 0, len(cfg.Identity.Federated))
	for _, f := range cfg.Identity.Federated {
		federated = append(federated, authflow.FederatedAuthority{Authority: f.Authority, ClientID: f.ClientID})
	}
	flow = authflow.New(authflow.Deps{
		Provider: idp,
		Users:    api.Users(),
		Session:  writer,
	}, authflow.Config{
		ClientID:  cfg.Identity.ClientID,
		APIScope:  cfg.Identity.APIScope,
		Federated: federated,
	})

	if err := flow.Initialize(ctx); err != nil {
		return nil, err
	}
	return &clientSession{cfg: cfg, idp: idp, api: api, flow: flow, session: store}, nil
}

// requireSignedIn fails unless the resumed session has a user.
func (cs *clientSession) requireSignedIn() error {
	if cs.session.IsAuthenticated() {
		return nil
	}
	if err := cs.flow.LastError(); err != nil {
		return fmt.Errorf("not signed in: %w", err)
	}
	return errors.New("not signed in, run `riff login`")
}
