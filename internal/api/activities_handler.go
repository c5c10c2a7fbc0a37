package api

import (
	"net/http"
	"strings"

	"github.com/alecgard/riff/internal/docstore"
)

// streamSize is how many activities the stream endpoint returns.
const streamSize = 20

type activitiesHandler struct {
	docs *docstore.Store
}

func newActivitiesHandler(docs *docstore.Store) *activitiesHandler {
	return &activitiesHandler{docs: docs}
}

// List handles GET /api/activities?userId=.
func (h *activitiesHandler) List(w http.ResponseWriter, r *http.Request) {
	acts, err := h.docs.Activities(r.Context(), r.URL.Query().Get("userId"))
	if err != nil {
		writeStoreError(w, r, err, "activities")
		return
	}
	writeJSON(w, http.StatusOK, acts)
}

// Stream handles GET /api/activities/stream.
func (h *activitiesHandler) Stream(w http.ResponseWriter, r *http.Request) {
	acts, err := h.docs.RecentActivities(r.Context(), streamSize)
	if err != nil {
		writeStoreError(w, r, err, "activities")
		return
	}
	writeJSON(w, http.StatusOK, acts)
}

// Create handles POST /api/activities.
func (h *activitiesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID   string         `json:"userId"`
		Type     string         `json:"type"`
		Data     map[string]any `json:"data"`
		Metadata map[string]any `json:"metadata"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.Type) == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "userId and type are required")
		return
	}
	if req.Metadata == nil {
		req.Metadata = map[string]any{}
	}

	a, err := h.docs.CreateActivity(r.Context(), docstore.Activity{
		UserID:   req.UserID,
		Type:     req.Type,
		Data:     req.Data,
		Metadata: req.Metadata,
	})
	if err != nil {
		writeStoreError(w, r, err, "activity")
		return
	}
	writeJSON(w, http.StatusCreated, a)
}
