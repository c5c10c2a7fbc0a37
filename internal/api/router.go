package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/alecgard/riff/internal/auth"
	"github.com/alecgard/riff/internal/docstore"
	"github.com/alecgard/riff/internal/metrics"
	"github.com/alecgard/riff/internal/ratelimit"
	"github.com/alecgard/riff/internal/user"
)

const healthTimeout = 2 * time.Second

// UserStore is the user collection the handlers serve. *user.Store satisfies it.
type UserStore interface {
	Create(ctx context.Context, in user.CreateUserInput) (*user.User, error)
	GetByID(ctx context.Context, id string) (*user.User, error)
	GetByEmail(ctx context.Context, email string) (*user.User, error)
	List(ctx context.Context) ([]*user.User, error)
	Update(ctx context.Context, id string, in user.UpdateUserInput) (*user.User, error)
}

// ActivityRecorder accepts server-side events for batched writing.
type ActivityRecorder interface {
	Record(a docstore.Activity)
}

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterDeps holds all dependencies for the API router.
type RouterDeps struct {
	Users     UserStore
	Docs      *docstore.Store
	Collector ActivityRecorder

	// Verifier checks bearer tokens. Issuer is set only in password mode and
	// enables /api/auth/register and /api/auth/login.
	Verifier auth.Verifier
	Issuer   *auth.JWTIssuer
	AuthMode string

	Limiter *ratelimit.Limiter
	Metrics *metrics.Metrics
	DB      Pinger

	AllowedOrigins []string
}

// NewRouter builds the chi router with all routes and middleware.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(slogRequestLogger)
	r.Use(secureHeaders)
	r.Use(corsMiddleware(deps.AllowedOrigins))
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware)
	}

	events := deps.Collector
	if events == nil {
		events = discardRecorder{}
	}
	var rec auth.Recorder
	var onReject func(string)
	onConflict := func() {}
	if deps.Metrics != nil {
		rec = deps.Metrics
		onReject = deps.Metrics.IncRateLimitRejection
		onConflict = deps.Metrics.IncUserConflict
	}
	limit := func(scope string) func(http.Handler) http.Handler {
		if deps.Limiter == nil {
			return passthrough
		}
		return ratelimit.Middleware(deps.Limiter, scope, onReject)
	}
	requireUser := auth.Middleware(deps.Verifier, deps.Users, deps.AuthMode, rec)

	users := newUsersHandler(deps.Users, events, onConflict)
	activities := newActivitiesHandler(deps.Docs)
	notifications := newNotificationsHandler(deps.Docs)
	counter := newCounterHandler(deps.Docs, events)
	authH := newAuthHandler(deps.Users, deps.Issuer, events)

	r.Get("/health", healthHandler(deps.DB, deps.Docs))

	// The client reconciles against the bare /users paths; /api/users mirrors
	// them for browser callers.
	mountUsers := func(ur chi.Router) {
		ur.Get("/", users.List)
		ur.Get("/email/{email}", users.GetByEmail)
		ur.Get("/{id}", users.Get)
		ur.With(limit("users")).Post("/", users.Create)
		ur.Put("/{id}", users.Update)
	}
	r.Route("/users", mountUsers)
	r.Route("/api/users", mountUsers)

	r.Route("/api/auth", func(ar chi.Router) {
		ar.With(requireUser).Get("/me", authH.Me)
		if deps.Issuer != nil {
			ar.With(limit("register")).Post("/register", authH.Register)
			ar.With(limit("login")).Post("/login", authH.Login)
		}
	})

	r.Route("/api/activities", func(ar chi.Router) {
		ar.Get("/", activities.List)
		ar.Get("/stream", activities.Stream)
		ar.Post("/", activities.Create)
	})

	r.Group(func(br chi.Router) {
		br.Use(requireUser)

		br.Get("/api/notifications", notifications.List)
		br.Post("/api/notifications", notifications.Create)
		br.Post("/api/notifications/{id}/read", notifications.MarkRead)
		br.Delete("/api/notifications/{id}", notifications.Delete)

		br.Get("/api/counter", counter.Get)
		br.Post("/api/counter/increment", counter.Increment)
		br.Post("/api/counter/reset", counter.Reset)
	})

	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.PrometheusHandler())
		r.Get("/api/metrics", deps.Metrics.Handler())
	}

	return r
}

func healthHandler(db Pinger, docs *docstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		body := map[string]string{"status": "ok"}
		status := http.StatusOK
		check := func(name string, p Pinger) {
			if err := p.Ping(ctx); err != nil {
				slog.Warn("health check failed", "component", name, "error", err)
				body[name] = "unreachable"
				body["status"] = "degraded"
				status = http.StatusServiceUnavailable
				return
			}
			body[name] = "connected"
		}
		if db != nil {
			check("database", db)
		}
		if docs != nil {
			check("redis", docs)
		}
		writeJSON(w, status, body)
	}
}

// slogRequestLogger is a simple structured logging middleware using slog.
func slogRequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"bytes", ww.BytesWritten(),
			"request_id", RequestIDFromContext(r.Context()),
		)
	})
}

func passthrough(next http.Handler) http.Handler { return next }

type discardRecorder struct{}

func (discardRecorder) Record(docstore.Activity) {}
