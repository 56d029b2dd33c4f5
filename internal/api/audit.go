package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/farmra-core/internal/audit"
)

// recordAudit queues an audit entry attributed to userID. It is a no-op
// when no recorder is configured.
func (s *Server) recordAudit(r *http.Request, action, entityType, entityID, userID string, details map[string]any) {
	if s.audit == nil {
		return
	}
	if details == nil {
		details = map[string]any{}
	}
	if id, ok := r.Context().Value(ctxKeyRequestID).(string); ok {
		details["request_id"] = id
	}

	s.audit.Record(audit.Entry{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		UserID:     userID,
		Source:     audit.SourceAPI,
		Details:    details,
	})
}

// handleListAuditLogs returns paginated audit log entries with optional filters.
//
// Query parameters:
//   - action: filter by action (signup, login, deactivate, ...)
//   - entity_type: filter by entity type (device, principal)
//   - entity_id: filter by specific entity ID
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	if s.auditLog == nil {
		writeError(w, http.StatusServiceUnavailable, "audit logging not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
	}

	var err error
	if filter.Limit, err = queryInt(q.Get("limit")); err != nil {
		writeBadRequest(w, "limit must be a non-negative integer")
		return
	}
	if filter.Offset, err = queryInt(q.Get("offset")); err != nil {
		writeBadRequest(w, "offset must be a non-negative integer")
		return
	}

	result, err := s.auditLog.List(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// queryInt parses an optional non-negative integer query value.
func queryInt(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, strconv.ErrSyntax
	}
	return n, nil
}
