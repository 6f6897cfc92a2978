package template

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/layerflow/layerflow-core/internal/workflow"
)

// Logger defines the logging interface used by Seed.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// catalogFile is the on-disk layout of a catalog:
//
//	templates:
//	  - id: deploy-service
//	    action_name: Deploy service
//	    category: release
//	    resources:
//	      - name: CI runner
//	        software_tag: gitlab
//	    deliverables:
//	      - Release notes
type catalogFile struct {
	Templates []workflow.ActionTemplate `yaml:"templates"`
}

// LoadCatalog reads and validates a YAML catalog file.
func LoadCatalog(path string) ([]workflow.ActionTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog parses a YAML catalog. Every entry must validate and ids must
// be unique.
func ParseCatalog(data []byte) ([]workflow.ActionTemplate, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	seen := make(map[string]struct{}, len(file.Templates))
	for i := range file.Templates {
		t := &file.Templates[i]
		if err := workflow.ValidateActionTemplate(t); err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrInvalidCatalog, i, err)
		}
		if _, dup := seen[t.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrInvalidCatalog, t.ID)
		}
		seen[t.ID] = struct{}{}
	}
	return file.Templates, nil
}

// Find returns the template with the given id.
func Find(templates []workflow.ActionTemplate, id string) (workflow.ActionTemplate, error) {
	for _, t := range templates {
		if t.ID == id {
			return t, nil
		}
	}
	return workflow.ActionTemplate{}, fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
}

// Store is the part of the repository Seed needs.
type Store interface {
	ListActionTemplates(ctx context.Context) ([]workflow.ActionTemplate, error)
	CreateActionTemplate(ctx context.Context, t *workflow.ActionTemplate) error
}

// Seed stores every template whose id the repository does not hold yet and
// returns how many were added. Existing templates are never overwritten.
func Seed(ctx context.Context, repo Store, templates []workflow.ActionTemplate, log Logger) (int, error) {
	if log == nil {
		log = noopLogger{}
	}
	existing, err := repo.ListActionTemplates(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing action templates: %w", err)
	}
	have := make(map[string]struct{}, len(existing))
	for _, t := range existing {
		have[t.ID] = struct{}{}
	}

	added := 0
	for i := range templates {
		t := templates[i]
		if _, ok := have[t.ID]; ok {
			log.Debug("action template already present", "template_id", t.ID)
			continue
		}
		if err := repo.CreateActionTemplate(ctx, &t); err != nil {
			if errors.Is(err, workflow.ErrTemplateExists) {
				continue
			}
			return added, fmt.Errorf("seeding %s: %w", t.ID, err)
		}
		have[t.ID] = struct{}{}
		added++
	}
	log.Info("action templates seeded", "added", added, "total", len(templates))
	return added, nil
}
