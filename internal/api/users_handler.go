package api

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/alecgard/riff/internal/docstore"
	"github.com/alecgard/riff/internal/user"
)

// usersHandler serves the public user collection the sign-in client
// reconciles against.
type usersHandler struct {
	store      UserStore
	events     ActivityRecorder
	onConflict func()
}

func newUsersHandler(store UserStore, events ActivityRecorder, onConflict func()) *usersHandler {
	return &usersHandler{store: store, events: events, onConflict: onConflict}
}

// List handles GET /users.
func (h *usersHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.List(r.Context())
	if err != nil {
		writeStoreError(w, r, err, "users")
		return
	}
	if users == nil {
		users = []*user.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

// Get handles GET /users/{id}.
func (h *usersHandler) Get(w http.ResponseWriter, r *http.Request) {
	u, err := h.store.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, r, err, "user")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// GetByEmail handles GET /users/email/{email}.
func (h *usersHandler) GetByEmail(w http.ResponseWriter, r *http.Request) {
	email, err := url.PathUnescape(chi.URLParam(r, "email"))
	if err != nil || !validEmail(email) {
		writeError(w, http.StatusBadRequest, "invalid_email", "a valid email is required")
		return
	}
	u, err := h.store.GetByEmail(r.Context(), email)
	if err != nil {
		writeStoreError(w, r, err, "user")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// Create handles POST /users. A taken email answers 409 with the record that
// holds it, which is what lets a losing concurrent sign-in converge.
func (h *usersHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in user.CreateUserInput
	if err := readJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}
	// Roles and passwords are not settable through the public endpoint.
	in.Role = ""
	in.Password = ""

	if !validEmail(in.Email) {
		writeError(w, http.StatusBadRequest, "validation_error", "a valid email is required")
		return
	}
	if in.DisplayName() == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "name or firstName and lastName are required")
		return
	}

	u, err := h.store.Create(r.Context(), in)
	if err != nil {
		var ce *user.ConflictError
		if errors.As(err, &ce) {
			h.onConflict()
			if ce.Existing != nil {
				writeJSON(w, http.StatusConflict, ce.Existing)
				return
			}
		}
		writeStoreError(w, r, err, "user")
		return
	}

	auditLog(r, "create", "user", u.ID)
	h.events.Record(docstore.UserEvent(u.ID, "user.created", map[string]any{"email": u.Email}))
	writeJSON(w, http.StatusCreated, u)
}

// Update handles PUT /users/{id}.
func (h *usersHandler) Update(w http.ResponseWriter, r *http.Request) {
	var in user.UpdateUserInput
	if err := readJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}
	in.Role = nil
	in.Password = nil

	if in.Email != nil && !validEmail(*in.Email) {
		writeError(w, http.StatusBadRequest, "validation_error", "email is not valid")
		return
	}
	if name := in.ResolvedName(); name != nil && *name == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "name cannot be empty")
		return
	}

	id := chi.URLParam(r, "id")
	u, err := h.store.Update(r.Context(), id, in)
	if err != nil {
		writeStoreError(w, r, err, "user")
		return
	}

	auditLog(r, "update", "user", u.ID)
	h.events.Record(docstore.UserEvent(u.ID, "user.updated", nil))
	writeJSON(w, http.StatusOK, u)
}

func validEmail(s string) bool {
	s = strings.TrimSpace(s)
	at := strings.LastIndex(s, "@")
	return at > 0 && at < len(s)-1 && !strings.ContainsAny(s, " \t\r\n")
}
