package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/layerflow/layerflow-core/internal/session"
	"github.com/layerflow/layerflow-core/internal/template"
	"github.com/layerflow/layerflow-core/internal/workflow"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest = "bad_request"
	ErrCodeNotFound   = "not_found"
	ErrCodeConflict   = "conflict"
	ErrCodeInternal   = "internal_error"
	ErrCodeValidation = "validation_error"
	ErrCodeGone       = "gone"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeConflict writes a 409 error response.
func writeConflict(w http.ResponseWriter, message string) {
	writeError(w, http.StatusConflict, ErrCodeConflict, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDomainError maps engine errors onto HTTP statuses. Anything it does
// not recognise is logged and reported as a 500 without its detail.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *workflow.ValidationError
	switch {
	case errors.Is(err, workflow.ErrWorkflowNotFound),
		errors.Is(err, workflow.ErrNodeNotFound),
		errors.Is(err, workflow.ErrEdgeNotFound),
		errors.Is(err, template.ErrTemplateNotFound):
		writeNotFound(w, err.Error())
	case errors.Is(err, workflow.ErrTemplateExists),
		errors.Is(err, workflow.ErrNodeExists),
		errors.Is(err, workflow.ErrEdgeExists):
		writeConflict(w, err.Error())
	case errors.As(err, &verr),
		errors.Is(err, workflow.ErrInvalidReference),
		errors.Is(err, workflow.ErrInvalidNode),
		errors.Is(err, workflow.ErrInvalidEdge),
		errors.Is(err, workflow.ErrInvalidAddress),
		errors.Is(err, workflow.ErrInvalidWorkflow),
		errors.Is(err, workflow.ErrInvalidDocument),
		errors.Is(err, session.ErrInvalidCommand),
		errors.Is(err, session.ErrUnknownOp):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, session.ErrClosed):
		writeError(w, http.StatusGone, ErrCodeGone, err.Error())
	default:
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", r.Context().Value(ctxKeyRequestID),
			"error", err,
		)
		writeInternalError(w, "internal server error")
	}
}
