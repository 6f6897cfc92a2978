package api

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/layerflow/layerflow-core/internal/session"
)

// handleGetSession returns the live state of a workflow, opening its
// session on the root canvas if none is open.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	st, err := sess.State(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleSessionCommand applies one command. A command the session refused
// still answers 200 with ok=false; only an undecodable body is a 400.
func (s *Server) handleSessionCommand(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "reading body: "+err.Error())
		return
	}
	cmd, err := session.DecodeCommand(body)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	sess, err := s.sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session.Execute(r.Context(), sess, cmd))
}

// handleCloseSession flushes and closes a workflow's session.
func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.sessions.Close(r.Context(), id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.logger.Info("session closed over API", "workflow_id", id)
	w.WriteHeader(http.StatusNoContent)
}
