package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/alecgard/riff/internal/auth"
	"github.com/alecgard/riff/internal/docstore"
)

// notificationsHandler serves the caller's notifications. Every route runs
// behind the bearer middleware.
type notificationsHandler struct {
	docs *docstore.Store
}

func newNotificationsHandler(docs *docstore.Store) *notificationsHandler {
	return &notificationsHandler{docs: docs}
}

// List handles GET /api/notifications?unreadOnly=true.
func (h *notificationsHandler) List(w http.ResponseWriter, r *http.Request) {
	caller := auth.UserFromContext(r.Context())
	unreadOnly := r.URL.Query().Get("unreadOnly") == "true"

	ns, err := h.docs.Notifications(r.Context(), caller.ID, unreadOnly)
	if err != nil {
		writeStoreError(w, r, err, "notifications")
		return
	}
	writeJSON(w, http.StatusOK, ns)
}

// Create handles POST /api/notifications. Only admins may address another
// user.
func (h *notificationsHandler) Create(w http.ResponseWriter, r *http.Request) {
	caller := auth.UserFromContext(r.Context())

	var req struct {
		UserID    string         `json:"userId"`
		Type      string         `json:"type"`
		Title     string         `json:"title"`
		Message   string         `json:"message"`
		ExpiresAt *time.Time     `json:"expiresAt"`
		Metadata  map[string]any `json:"metadata"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}
	if req.UserID == "" || req.Type == "" || strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "userId, type, title, and message are required")
		return
	}
	if !docstore.ValidNotificationType(req.Type) {
		writeError(w, http.StatusBadRequest, "validation_error", "type must be one of: info, success, warning, error")
		return
	}
	if req.UserID != caller.ID && !caller.IsAdmin() {
		writeError(w, http.StatusForbidden, "forbidden", "only admins can notify other users")
		return
	}

	n, err := h.docs.CreateNotification(r.Context(), docstore.Notification{
		UserID:    req.UserID,
		Type:      req.Type,
		Title:     req.Title,
		Message:   req.Message,
		ExpiresAt: req.ExpiresAt,
		Metadata:  req.Metadata,
	})
	if err != nil {
		writeStoreError(w, r, err, "notification")
		return
	}

	auditLog(r, "create", "notification", n.ID, "recipient", n.UserID)
	writeJSON(w, http.StatusCreated, n)
}

// MarkRead handles POST /api/notifications/{id}/read.
func (h *notificationsHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	caller := auth.UserFromContext(r.Context())

	n, err := h.docs.MarkNotificationRead(r.Context(), caller.ID, chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, r, err, "notification")
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// Delete handles DELETE /api/notifications/{id}.
func (h *notificationsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	caller := auth.UserFromContext(r.Context())
	id := chi.URLParam(r, "id")

	if err := h.docs.DeleteNotification(r.Context(), caller.ID, id); err != nil {
		writeStoreError(w, r, err, "notification")
		return
	}

	auditLog(r, "delete", "notification", id)
	w.WriteHeader(http.StatusNoContent)
}
