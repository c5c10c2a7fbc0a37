package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alecgard/riff/internal/user"
)

type contextKey int

const userContextKey contextKey = iota

// ContextWithUser returns a new context carrying the given user.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userContextKey, u)
}

// UserFromContext extracts the user from the context, or nil if not present.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userContextKey).(*User)
	return u
}

// Recorder counts authentication outcomes.
type Recorder interface {
	IncAuthSuccess(authType string)
	IncAuthFailure(authType string)
}

// Middleware authenticates the bearer token with v, resolves the user and
// injects it into the request context. Anything short of a known user is a
// 401. rec may be nil.
func Middleware(v Verifier, users UserLookup, mode string, rec Recorder) func(http.Handler) http.Handler {
	fail := func(w http.ResponseWriter, msg string) {
		if rec != nil {
			rec.IncAuthFailure(mode)
		}
		writeUnauthorized(w, msg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				fail(w, "missing or malformed authorization header")
				return
			}

			id, err := v.Verify(r.Context(), token)
			if err != nil {
				slog.Debug("bearer token rejected", "error", err)
				fail(w, "invalid or expired token")
				return
			}

			u, err := Resolve(r.Context(), users, id)
			if err != nil {
				if !errors.Is(err, user.ErrNotFound) {
					slog.Error("resolving authenticated user", "error", err)
				}
				fail(w, "user not found")
				return
			}

			if rec != nil {
				rec.IncAuthSuccess(mode)
			}
			next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), FromRecord(u))))
		})
	}
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="riff"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Error: errorBody{Code: "unauthorized", Message: message},
	})
}
