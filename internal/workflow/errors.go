package workflow

import (
	"errors"
	"fmt"
)

// Domain errors for the workflow package.
//
//	if errors.Is(err, workflow.ErrInvalidReference) {
//	    // the edge pointed at a node that is not on the canvas
//	}
var (
	// ErrInvalidReference is returned when an edge endpoint is not on the loaded canvas.
	ErrInvalidReference = errors.New("workflow: invalid reference")

	// ErrInvalidNode is returned when node validation fails.
	ErrInvalidNode = errors.New("workflow: invalid node")

	// ErrInvalidEdge is returned when edge validation fails.
	ErrInvalidEdge = errors.New("workflow: invalid edge")

	// ErrInvalidAddress is returned for an impossible layer/parent pairing.
	ErrInvalidAddress = errors.New("workflow: invalid address")

	// ErrInvalidWorkflow is returned when workflow metadata fails validation.
	ErrInvalidWorkflow = errors.New("workflow: invalid workflow")

	// ErrNodeNotFound is returned when a node ID does not exist.
	ErrNodeNotFound = errors.New("workflow: node not found")

	// ErrNodeExists is returned when adding a node whose ID is already present.
	ErrNodeExists = errors.New("workflow: node already exists")

	// ErrEdgeNotFound is returned when an edge ID does not exist.
	ErrEdgeNotFound = errors.New("workflow: edge not found")

	// ErrEdgeExists is returned when adding an edge whose ID is already present.
	ErrEdgeExists = errors.New("workflow: edge already exists")

	// ErrWorkflowNotFound is returned when a workflow ID does not exist.
	ErrWorkflowNotFound = errors.New("workflow: not found")

	// ErrTemplateExists is returned when a template ID is already stored.
	ErrTemplateExists = errors.New("workflow: template already exists")

	// ErrInvalidDocument is returned when an export document cannot be imported.
	ErrInvalidDocument = errors.New("workflow: invalid export document")
)

// ValidationError describes a rejected mutation. It wraps one of the
// sentinel errors above so both errors.Is and errors.As work.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%v: %s", e.Err, e.Reason)
	}
	return fmt.Sprintf("%v: %s: %s", e.Err, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}
