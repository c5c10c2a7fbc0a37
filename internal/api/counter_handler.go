package api

import (
	"net/http"

	"github.com/alecgard/riff/internal/auth"
	"github.com/alecgard/riff/internal/docstore"
)

const (
	minIncrement = 1
	maxIncrement = 1000
)

type counterHandler struct {
	docs   *docstore.Store
	events ActivityRecorder
}

func newCounterHandler(docs *docstore.Store, events ActivityRecorder) *counterHandler {
	return &counterHandler{docs: docs, events: events}
}

// Get handles GET /api/counter.
func (h *counterHandler) Get(w http.ResponseWriter, r *http.Request) {
	caller := auth.UserFromContext(r.Context())

	c, err := h.docs.Counter(r.Context(), caller.ID)
	if err != nil {
		writeStoreError(w, r, err, "counter")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// Increment handles POST /api/counter/increment. The body is optional and
// amount defaults to 1.
func (h *counterHandler) Increment(w http.ResponseWriter, r *http.Request) {
	caller := auth.UserFromContext(r.Context())

	req := struct {
		Amount int64 `json:"amount"`
	}{Amount: 1}
	if err := readOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}
	if req.Amount < minIncrement || req.Amount > maxIncrement {
		writeError(w, http.StatusBadRequest, "validation_error", "amount must be between 1 and 1000")
		return
	}

	c, err := h.docs.IncrementCounter(r.Context(), caller.ID, req.Amount)
	if err != nil {
		writeStoreError(w, r, err, "counter")
		return
	}

	h.events.Record(docstore.UserEvent(caller.ID, "counter.incremented", map[string]any{
		"amount": req.Amount,
		"value":  c.Value,
	}))
	writeJSON(w, http.StatusOK, c)
}

// Reset handles POST /api/counter/reset.
func (h *counterHandler) Reset(w http.ResponseWriter, r *http.Request) {
	caller := auth.UserFromContext(r.Context())

	c, err := h.docs.ResetCounter(r.Context(), caller.ID)
	if err != nil {
		writeStoreError(w, r, err, "counter")
		return
	}

	auditLog(r, "reset", "counter", caller.ID)
	h.events.Record(docstore.UserEvent(caller.ID, "counter.reset", nil))
	writeJSON(w, http.StatusOK, c)
}
