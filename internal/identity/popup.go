package identity

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

type callbackResult struct {
	code string
	err  error
}

// LoginPopup signs a user in through a browser window that reports back to a
// loopback listener. It fails with ErrPopupClosed when the window is
// abandoned and *ProviderError when the provider refuses.
func (c *Client) LoginPopup(ctx context.Context, req LoginRequest) (*Account, error) {
	acct, _, err := c.popup(ctx, req)
	return acct, err
}

func (c *Client) popup(ctx context.Context, req LoginRequest) (*Account, *oauth2.Token, error) {
	if err := c.ready(); err != nil {
		return nil, nil, err
	}
	p, err := c.providerFor(ctx, req.Authority)
	if err != nil {
		return nil, nil, err
	}
	ar, err := newAuthRequest()
	if err != nil {
		return nil, nil, err
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, nil, &ProviderError{Code: "popup_window_error", Err: err}
	}
	redirectURI := fmt.Sprintf("http://%s/callback", ln.Addr().String())

	results := make(chan callbackResult, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("/callback", handleCallback(ar.state, results))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Warn("sign-in callback listener stopped", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("shutting down sign-in callback listener", "error", err)
		}
	}()

	conf := c.oauthConfig(p, redirectURI, req.Scopes)
	if err := c.cfg.Opener(ar.authCodeURL(conf, req.LoginHint)); err != nil {
		return nil, nil, &ProviderError{Code: "popup_window_error", Err: err}
	}

	timer := time.NewTimer(c.cfg.PopupTimeout)
	defer timer.Stop()

	var res callbackResult
	select {
	case res = <-results:
	case <-timer.C:
		return nil, nil, fmt.Errorf("%w: no response after %v", ErrPopupClosed, c.cfg.PopupTimeout)
	case <-ctx.Done():
		return nil, nil, fmt.Errorf("%w: %w", ErrPopupClosed, ctx.Err())
	}
	if res.err != nil {
		return nil, nil, res.err
	}
	return c.redeem(ctx, p, conf, res.code, ar, req.Scopes)
}

func handleCallback(state string, results chan<- callbackResult) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		var res callbackResult
		switch {
		case q.Get("error") != "":
			res.err = &ProviderError{Code: q.Get("error"), Description: q.Get("error_description")}
		case q.Get("state") != state:
			res.err = &ProviderError{Code: "state_mismatch"}
		case q.Get("code") == "":
			res.err = &ProviderError{Code: "missing_code"}
		default:
			res.code = q.Get("code")
		}

		writeCallbackPage(w, res.err)

		// Only the first callback counts.
		select {
		case results <- res:
		default:
		}
	}
}

func writeCallbackPage(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'")

	title, body := "Signed in", "You can close this window and return to the terminal."
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		title, body = "Sign-in failed", html.EscapeString(err.Error())
	}
	if _, werr := fmt.Fprintf(w, callbackPage, title, title, body); werr != nil {
		slog.Warn("writing callback page", "error", werr)
	}
}

const callbackPage = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>%s</title>
<style>body { font-family: sans-serif; margin: 40px; text-align: center; }</style>
</head>
<body><h1>%s</h1><p>%s</p></body>
</html>`
