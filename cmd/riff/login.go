package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"github.com/alecgard/riff/internal/authflow"
	"github.com/alecgard/riff/internal/config"
	"github.com/alecgard/riff/internal/ui"
	"github.com/alecgard/riff/internal/user"
)

var (
	loginProvider string
	loginMode     string
	loginLocation string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in through the browser",
	Long: "Sign in against the primary or a federated authority. Redirect mode waits on the " +
		"configured loopback redirect URI; when that is not a local address, finish with " +
		"`riff login --location <url the browser landed on>`.",
	RunE: runLogin,
}

func init() {
	loginCmd.Flags().StringVar(&loginProvider, "provider", "primary", "authority to sign in with: primary or federated")
	loginCmd.Flags().StringVar(&loginMode, "mode", "redirect", "browser interaction: redirect or popup")
	loginCmd.Flags().StringVar(&loginLocation, "location", "", "complete a redirect sign-in from the URL the browser landed on")
	rootCmd.AddCommand(loginCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	setupClientLogging()
	provider, err := authflow.ParseProvider(loginProvider)
	if err != nil {
		return err
	}
	mode, err := authflow.ParseMode(loginMode)
	if err != nil {
		return err
	}
	cfg, err := loadClientConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	if loginLocation != "" {
		return completeRedirect(ctx, cmd, cfg, loginLocation)
	}

	cs, err := openClient(ctx, cfg, "")
	if err != nil {
		return err
	}

	if mode == authflow.ModePopup {
		u, err := cs.flow.SignIn(ctx, provider, mode)
		if err != nil {
			return fmt.Errorf("sign-in failed: %w", err)
		}
		printSignedIn(cmd, u, cs.flow.NeedsProfile())
		return nil
	}

	catcher, err := listenForRedirect(cfg.Identity.RedirectURI)
	if err != nil {
		return err
	}
	if catcher != nil {
		defer catcher.Close()
	}

	if _, err := cs.flow.SignIn(ctx, provider, mode); err != nil {
		return fmt.Errorf("sign-in failed: %w", err)
	}
	if catcher == nil {
		cmd.Printf("Finish signing in in the browser, then run:\n  riff login --location '<url the browser landed on>'\n")
		return nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, cfg.Identity.PopupTimeout)
	defer cancel()
	location, err := catcher.Wait(waitCtx)
	if err != nil {
		return err
	}
	return completeRedirect(ctx, cmd, cfg, location)
}

// completeRedirect starts over the way a page reload would: a fresh client
// that only has the landing URL and the durable cache.
func completeRedirect(ctx context.Context, cmd *cobra.Command, cfg *config.Config, location string) error {
	cs, err := openClient(ctx, cfg, location)
	if err != nil {
		return fmt.Errorf("sign-in failed: %w", err)
	}
	if err := cs.requireSignedIn(); err != nil {
		return err
	}
	printSignedIn(cmd, cs.session.CurrentUser(), cs.flow.NeedsProfile())
	return nil
}

func printSignedIn(cmd *cobra.Command, u *user.User, needsProfile bool) {
	cmd.Printf("Signed in as %s <%s>\n", u.Name, u.Email)
	if needsProfile {
		cmd.Printf("Your profile has no phone number yet: riff profile --phone <number>\n")
	}
}

// redirectCatcher receives the provider's redirect on a loopback address.
type redirectCatcher struct {
	target *url.URL
	srv    *http.Server
	page   http.Handler
	got    chan string
}

// listenForRedirect returns nil, nil when redirectURI is not a loopback http
// address this process can listen on.
func listenForRedirect(redirectURI string) (*redirectCatcher, error) {
	target, err := url.Parse(redirectURI)
	if err != nil {
		return nil, fmt.Errorf("parsing redirect uri: %w", err)
	}
	if target.Scheme != "http" || !isLoopback(target.Hostname()) {
		return nil, nil
	}
	port := target.Port()
	if port == "" {
		port = "80"
	}
	ln, err := net.Listen("tcp", net.JoinHostPort(target.Hostname(), port))
	if err != nil {
		return nil, fmt.Errorf("listening for sign-in redirect on %s: %w", target.Host, err)
	}

	c := &redirectCatcher{target: target, page: ui.SignedInHandler(), got: make(chan string, 1)}
	c.srv = &http.Server{Handler: http.HandlerFunc(c.handle), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := c.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Warn("sign-in redirect listener stopped", "error", err)
		}
	}()
	return c, nil
}

func (c *redirectCatcher) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != c.target.Path && !(c.target.Path == "" && r.URL.Path == "/") {
		http.NotFound(w, r)
		return
	}
	landed := *c.target
	landed.RawQuery = r.URL.RawQuery
	select {
	case c.got <- landed.String():
	default:
	}
	c.page.ServeHTTP(w, r)
}

// Wait returns the full URL the browser landed on.
func (c *redirectCatcher) Wait(ctx context.Context) (string, error) {
	select {
	case loc := <-c.got:
		return loc, nil
	case <-ctx.Done():
		return "", fmt.Errorf("waiting for sign-in redirect: %w", ctx.Err())
	}
}

func (c *redirectCatcher) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = c.srv.Shutdown(ctx)
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
