package template

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTemplateNotFound is returned when a template ID is not in the catalog.
	ErrTemplateNotFound = errors.New("template: not found")

	// ErrInvalidCatalog is returned when a catalog file cannot be used.
	ErrInvalidCatalog = errors.New("template: invalid catalog")
)

// CommitError reports a partially persisted expansion. The listed ids were
// not stored; Retry re-sends exactly those.
type CommitError struct {
	PendingNodes []string
	PendingEdges []string
	Err          error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("template: commit incomplete (%d nodes, %d edges pending: %s): %v",
		len(e.PendingNodes), len(e.PendingEdges),
		strings.Join(append(append([]string(nil), e.PendingNodes...), e.PendingEdges...), ","),
		e.Err)
}

func (e *CommitError) Unwrap() error {
	return e.Err
}
