package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/layerflow/layerflow-core/internal/audit"
	"github.com/layerflow/layerflow-core/internal/session"
	"github.com/layerflow/layerflow-core/internal/template"
	"github.com/layerflow/layerflow-core/internal/workflow"
)

// Export formats accepted by ?format= and produced by the export endpoint.
const (
	formatJSON    = "json"
	formatArchive = "archive"

	contentTypeArchive = "application/vnd.layerflow.archive+zstd"
)

type createWorkflowRequest struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	AccessLevel workflow.AccessLevel `json:"access_level"`
}

// handleListWorkflows returns all workflows.
func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	workflows, err := s.repo.ListWorkflows(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if workflows == nil {
		workflows = []workflow.Workflow{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"workflows": workflows,
		"count":     len(workflows),
	})
}

// handleCreateWorkflow creates an empty workflow.
func (s *Server) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req createWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON: "+err.Error())
		return
	}

	wf, err := s.repo.CreateWorkflow(r.Context(), req.Name, req.Description, req.AccessLevel)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.logger.Info("workflow created", "workflow_id", wf.ID, "name", wf.Name)
	s.recordActivity(r, audit.ActionCreate, wf.ID, map[string]any{"name": wf.Name})
	writeJSON(w, http.StatusCreated, wf)
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.repo.GetWorkflow(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

// handleDeleteWorkflow closes any open session first so its pending save
// cannot recreate rows after the delete.
func (s *Server) handleDeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.sessions.Close(r.Context(), id); err != nil {
		s.logger.Warn("closing session before delete failed", "workflow_id", id, "error", err)
	}
	if err := s.repo.DeleteWorkflow(r.Context(), id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.logger.Info("workflow deleted", "workflow_id", id)
	s.recordActivity(r, audit.ActionDelete, id, nil)
	w.WriteHeader(http.StatusNoContent)
}

// handleExportWorkflow returns the whole workflow as JSON or as a
// compressed archive. An open session is flushed first so the export sees
// its latest edits.
func (s *Server) handleExportWorkflow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	format := r.URL.Query().Get("format")
	if format == "" {
		format = formatJSON
	}
	if format != formatJSON && format != formatArchive {
		writeBadRequest(w, fmt.Sprintf("unknown format %q (want json or archive)", format))
		return
	}

	if sess, ok := s.sessions.Lookup(id); ok {
		if err := sess.Flush(r.Context()); err != nil {
			s.logger.Warn("flushing session before export failed", "workflow_id", id, "error", err)
		}
	}

	doc, err := s.repo.ExportWorkflow(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	var (
		data        []byte
		contentType string
		ext         string
	)
	switch format {
	case formatArchive:
		data, err = doc.EncodeArchive()
		contentType, ext = contentTypeArchive, "lfa"
	default:
		data, err = doc.EncodeJSON()
		contentType, ext = "application/json", "json"
	}
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+"."+ext))
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // Best-effort write to response
	w.Write(data)
}

// handleImportWorkflow recreates an exported document as a new workflow.
// The body is either JSON or an archive, chosen by Content-Type.
// ?name= overrides the document's workflow name.
func (s *Server) handleImportWorkflow(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "reading body: "+err.Error())
		return
	}

	doc, err := decodeDocument(r.Header.Get("Content-Type"), body)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	wf, err := workflow.ImportWorkflow(r.Context(), s.repo, doc, r.URL.Query().Get("name"))
	if err != nil {
		if wf != nil {
			s.logger.Warn("import left a partial workflow", "workflow_id", wf.ID, "error", err)
		}
		s.writeDomainError(w, r, err)
		return
	}
	s.logger.Info("workflow imported",
		"workflow_id", wf.ID,
		"nodes", doc.NodeCount(),
		"edges", doc.EdgeCount(),
	)
	s.recordActivity(r, audit.ActionImport, wf.ID, map[string]any{
		"nodes": doc.NodeCount(),
		"edges": doc.EdgeCount(),
	})
	writeJSON(w, http.StatusCreated, wf)
}

func decodeDocument(contentType string, body []byte) (*workflow.ExportDocument, error) {
	if strings.HasPrefix(contentType, contentTypeArchive) {
		return workflow.DecodeArchive(body)
	}
	var doc workflow.ExportDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", workflow.ErrInvalidDocument, err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

type expandRequest struct {
	TemplateID   string            `json:"template_id"`
	Layer        workflow.Layer    `json:"layer"`
	ParentNodeID *string           `json:"parent_node_id,omitempty"`
	Position     workflow.Position `json:"position"`
}

type expandResponse struct {
	ActionID string          `json:"action_id"`
	Nodes    []workflow.Node `json:"nodes"`
	Edges    []workflow.Edge `json:"edges"`
}

// handleExpandTemplate expands an action template straight into storage.
// A failed commit is retried once with the same ids; what is still missing
// after that is reported in the error.
func (s *Server) handleExpandTemplate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req expandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON: "+err.Error())
		return
	}
	if req.TemplateID == "" {
		writeBadRequest(w, "template_id is required")
		return
	}
	if req.Layer == "" {
		req.Layer = workflow.LayerStrategic
	}

	if _, err := s.repo.GetWorkflow(r.Context(), id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	templates, err := s.repo.ListActionTemplates(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	tmpl, err := template.Find(templates, req.TemplateID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	addr := workflow.Address{Layer: req.Layer, ParentNodeID: req.ParentNodeID}
	exp, err := template.Expand(tmpl, req.Position, addr, nil)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	// A session opened mid-commit would autosave over the expansion.
	err = s.sessions.WithoutSession(r.Context(), id, func() error {
		err := template.Commit(r.Context(), s.repo, id, exp)
		var commitErr *template.CommitError
		if errors.As(err, &commitErr) {
			s.logger.Warn("template commit incomplete, retrying",
				"workflow_id", id,
				"template_id", tmpl.ID,
				"pending_nodes", len(commitErr.PendingNodes),
				"pending_edges", len(commitErr.PendingEdges),
			)
			err = template.Retry(r.Context(), s.repo, id, exp, commitErr)
		}
		return err
	})
	if errors.Is(err, session.ErrSessionOpen) {
		writeConflict(w, "workflow has an open editing session; send insert_template to the session instead")
		return
	}
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	s.logger.Info("template expanded",
		"workflow_id", id,
		"template_id", tmpl.ID,
		"address", addr.String(),
	)
	s.recordActivity(r, audit.ActionExpand, id, map[string]any{
		"template_id": tmpl.ID,
		"action_id":   exp.Action.ID,
		"address":     addr.String(),
	})
	writeJSON(w, http.StatusCreated, expandResponse{
		ActionID: exp.Action.ID,
		Nodes:    exp.Nodes(),
		Edges:    exp.Edges,
	})
}
