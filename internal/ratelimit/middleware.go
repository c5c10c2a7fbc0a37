package ratelimit

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
)

// Middleware limits requests per client address. scope separates the
// budgets of different route groups sharing one Limiter. onReject may be nil.
//
// Rate-limit headers are always set on the response:
//
//	X-RateLimit-Limit     requests allowed per window
//	X-RateLimit-Remaining tokens left
//	X-RateLimit-Reset     Unix time the bucket is full again
func Middleware(limiter *Limiter, scope string, onReject func(scope string)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := scope + "|" + ClientIP(r)

			limit, remaining, resetAt := limiter.Status(key)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

			if !limiter.Allow(key) {
				if onReject != nil {
					onReject(scope)
				}
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", strconv.FormatInt(max(resetAt.Unix()-limiter.now().Unix(), 1), 10))
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]string{
						"code":    "rate_limited",
						"message": "Rate limit exceeded. Try again later.",
					},
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the host part of the request's remote address. Put the
// router's real-IP middleware in front when running behind a proxy.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
