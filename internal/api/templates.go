package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/layerflow/layerflow-core/internal/audit"
	"github.com/layerflow/layerflow-core/internal/workflow"
)

func (s *Server) handleListActionTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.repo.ListActionTemplates(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if templates == nil {
		templates = []workflow.ActionTemplate{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"templates": templates,
		"count":     len(templates),
	})
}

func (s *Server) handleCreateActionTemplate(w http.ResponseWriter, r *http.Request) {
	var tmpl workflow.ActionTemplate
	if err := json.NewDecoder(r.Body).Decode(&tmpl); err != nil {
		writeBadRequest(w, "invalid JSON: "+err.Error())
		return
	}
	if err := s.repo.CreateActionTemplate(r.Context(), &tmpl); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.logger.Info("action template created", "template_id", tmpl.ID)
	writeJSON(w, http.StatusCreated, tmpl)
}

// handleListTemplates returns saved workflow templates without their
// documents; instantiate one to get its contents.
func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.repo.ListTemplates(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	type summary struct {
		workflow.WorkflowTemplate
		Document *workflow.ExportDocument `json:"document,omitempty"`
		Nodes    int                      `json:"nodes"`
		Edges    int                      `json:"edges"`
	}
	out := make([]summary, 0, len(templates))
	for _, t := range templates {
		out = append(out, summary{
			WorkflowTemplate: t,
			Nodes:            t.Document.NodeCount(),
			Edges:            t.Document.EdgeCount(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"templates": out,
		"count":     len(out),
	})
}

type createTemplateRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`

	// Either a workflow to snapshot or an inline document.
	WorkflowID string                   `json:"workflow_id,omitempty"`
	Document   *workflow.ExportDocument `json:"document,omitempty"`
}

// handleCreateTemplate saves a workflow template, either from an existing
// workflow or from an inline export document.
func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req createTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON: "+err.Error())
		return
	}
	if (req.WorkflowID == "") == (req.Document == nil) {
		writeBadRequest(w, "exactly one of workflow_id or document is required")
		return
	}

	doc := req.Document
	if req.WorkflowID != "" {
		if sess, ok := s.sessions.Lookup(req.WorkflowID); ok {
			if err := sess.Flush(r.Context()); err != nil {
				s.logger.Warn("flushing session before snapshot failed", "workflow_id", req.WorkflowID, "error", err)
			}
		}
		var err error
		if doc, err = s.repo.ExportWorkflow(r.Context(), req.WorkflowID); err != nil {
			s.writeDomainError(w, r, err)
			return
		}
	}
	if err := doc.Validate(); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	tmpl := workflow.WorkflowTemplate{
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		Document:    doc,
	}
	if err := s.repo.CreateTemplate(r.Context(), &tmpl); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.logger.Info("workflow template created", "template_id", tmpl.ID, "name", tmpl.Name)
	s.recordActivity(r, audit.ActionSnapshot, req.WorkflowID, map[string]any{"template_id": tmpl.ID})
	writeJSON(w, http.StatusCreated, tmpl)
}

type instantiateRequest struct {
	Name string `json:"name"`
}

// handleInstantiateTemplate creates a new workflow from a saved template.
func (s *Server) handleInstantiateTemplate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req instantiateRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeBadRequest(w, "invalid JSON: "+err.Error())
			return
		}
	}

	templates, err := s.repo.ListTemplates(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	var found *workflow.WorkflowTemplate
	for i := range templates {
		if templates[i].ID == id {
			found = &templates[i]
			break
		}
	}
	if found == nil {
		writeNotFound(w, "template not found")
		return
	}

	name := req.Name
	if name == "" {
		name = found.Name
	}
	wf, err := workflow.ImportWorkflow(r.Context(), s.repo, found.Document, name)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.logger.Info("workflow created from template", "workflow_id", wf.ID, "template_id", id)
	s.recordActivity(r, audit.ActionInstantiate, wf.ID, map[string]any{"template_id": id})
	writeJSON(w, http.StatusCreated, wf)
}
