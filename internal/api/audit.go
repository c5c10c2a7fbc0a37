package api

import (
	"log/slog"
	"net/http"

	"github.com/alecgard/riff/internal/auth"
	"github.com/alecgard/riff/internal/ratelimit"
)

// auditLog emits a structured audit log entry for a state-changing request.
func auditLog(r *http.Request, action string, resourceType string, resourceID string, detail ...any) {
	attrs := []any{
		"action", action,
		"resource_type", resourceType,
		"resource_id", resourceID,
		"ip", ratelimit.ClientIP(r),
		"request_id", RequestIDFromContext(r.Context()),
	}

	if u := auth.UserFromContext(r.Context()); u != nil {
		attrs = append(attrs, "user_id", u.ID, "user_role", u.Role)
	}

	attrs = append(attrs, detail...)
	slog.Info("audit", attrs...)
}
