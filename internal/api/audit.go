package api

import (
	"net/http"
	"strconv"

	"github.com/layerflow/layerflow-core/internal/audit"
)

// sourceAPI marks activity that came in over HTTP.
const sourceAPI = "api"

// recordActivity writes an activity entry when an audit repository is
// configured. Failures are logged and never fail the request.
func (s *Server) recordActivity(r *http.Request, action, workflowID string, details map[string]any) {
	if s.audit == nil {
		return
	}
	if reqID, ok := r.Context().Value(ctxKeyRequestID).(string); ok {
		if details == nil {
			details = map[string]any{}
		}
		details["request_id"] = reqID
	}
	e := &audit.Entry{
		Action:     action,
		WorkflowID: workflowID,
		Source:     sourceAPI,
		Details:    details,
	}
	if err := s.audit.Create(r.Context(), e); err != nil {
		s.logger.Warn("recording activity failed", "action", action, "workflow_id", workflowID, "error", err)
	}
}

// handleListActivity returns a page of the activity log. Filters:
// ?action=, ?workflow_id=, ?limit=, ?offset=.
func (s *Server) handleListActivity(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeNotFound(w, "activity log is not enabled")
		return
	}
	q := r.URL.Query()
	filter := audit.Filter{
		Action:     q.Get("action"),
		WorkflowID: q.Get("workflow_id"),
	}
	var err error
	if v := q.Get("limit"); v != "" {
		if filter.Limit, err = strconv.Atoi(v); err != nil {
			writeBadRequest(w, "limit must be an integer")
			return
		}
	}
	if v := q.Get("offset"); v != "" {
		if filter.Offset, err = strconv.Atoi(v); err != nil {
			writeBadRequest(w, "offset must be an integer")
			return
		}
	}

	res, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
