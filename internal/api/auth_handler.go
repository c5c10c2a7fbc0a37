package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/alecgard/riff/internal/auth"
	"github.com/alecgard/riff/internal/docstore"
	"github.com/alecgard/riff/internal/user"
)

const minPasswordLength = 8

// authHandler groups authentication HTTP handlers.
type authHandler struct {
	store  UserStore
	issuer *auth.JWTIssuer
	events ActivityRecorder
}

func newAuthHandler(store UserStore, issuer *auth.JWTIssuer, events ActivityRecorder) *authHandler {
	return &authHandler{store: store, issuer: issuer, events: events}
}

// Me handles GET /api/auth/me.
func (h *authHandler) Me(w http.ResponseWriter, r *http.Request) {
	caller := auth.UserFromContext(r.Context())
	if caller == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "not authenticated")
		return
	}

	u, err := h.store.GetByID(r.Context(), caller.ID)
	if err != nil {
		writeStoreError(w, r, err, "user")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": u})
}

// Register handles POST /api/auth/register (password mode).
func (h *authHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Name     string `json:"name"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}
	if !validEmail(req.Email) || req.Password == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "email, password, and name are required")
		return
	}
	if len(req.Password) < minPasswordLength {
		writeError(w, http.StatusBadRequest, "validation_error", "password must be at least 8 characters")
		return
	}

	u, err := h.store.Create(r.Context(), user.CreateUserInput{
		Email:    req.Email,
		Name:     req.Name,
		Password: req.Password,
		Role:     user.RoleMember,
	})
	if err != nil {
		if errors.Is(err, user.ErrConflict) {
			writeError(w, http.StatusConflict, "conflict", "email already registered")
			return
		}
		writeStoreError(w, r, err, "user")
		return
	}

	auditLog(r, "register", "user", u.ID)
	h.events.Record(docstore.UserEvent(u.ID, "user.registered", nil))
	writeJSON(w, http.StatusCreated, map[string]any{"user": u})
}

// Login handles POST /api/auth/login (password mode).
func (h *authHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "email and password are required")
		return
	}

	u, err := h.store.GetByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid email or password")
			return
		}
		writeStoreError(w, r, err, "user")
		return
	}

	if !user.CheckPassword(u, req.Password) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid email or password")
		return
	}

	token, expiresAt, err := h.issuer.Issue(u)
	if err != nil {
		slog.Error("issuing token", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to issue token")
		return
	}

	h.events.Record(docstore.UserEvent(u.ID, "user.login", nil))
	writeJSON(w, http.StatusOK, map[string]any{
		"token":     token,
		"expiresAt": expiresAt,
		"user":      u,
	})
}
