package workflow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Validation constants.
const (
	maxLabelLength        = 200
	maxDescriptionLength  = 2000
	maxWorkflowNameLength = 120
	maxAssignees          = 50
	maxFieldKeys          = 50
)

// Pre-computed validation sets for O(1) enum lookups.
var (
	validNodeTypes    map[NodeType]struct{}
	validTaskStatuses map[TaskStatus]struct{}
	validEdgeTypes    map[EdgeType]struct{}
)

func init() {
	validNodeTypes = make(map[NodeType]struct{}, len(AllNodeTypes()))
	for _, t := range AllNodeTypes() {
		validNodeTypes[t] = struct{}{}
	}
	validTaskStatuses = make(map[TaskStatus]struct{}, len(AllTaskStatuses()))
	for _, s := range AllTaskStatuses() {
		validTaskStatuses[s] = struct{}{}
	}
	validEdgeTypes = make(map[EdgeType]struct{}, len(AllEdgeTypes()))
	for _, t := range AllEdgeTypes() {
		validEdgeTypes[t] = struct{}{}
	}
}

// ValidateNode checks a node in isolation. It does not check that the parent
// exists; that is the repository's job.
func ValidateNode(n *Node) error {
	if n == nil {
		return &ValidationError{Reason: "node is nil", Err: ErrInvalidNode}
	}
	if strings.TrimSpace(n.ID) == "" {
		return &ValidationError{Field: "id", Reason: "cannot be empty", Err: ErrInvalidNode}
	}
	if _, ok := validNodeTypes[n.Type]; !ok {
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown node type %q", n.Type), Err: ErrInvalidNode}
	}
	if err := n.Address().Validate(); err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			return &ValidationError{Field: ve.Field, Reason: ve.Reason, Err: ErrInvalidNode}
		}
		return err
	}
	if len(n.Payload.Label) > maxLabelLength {
		return &ValidationError{Field: "label", Reason: fmt.Sprintf("exceeds %d characters", maxLabelLength), Err: ErrInvalidNode}
	}
	if len(n.Payload.Description) > maxDescriptionLength {
		return &ValidationError{Field: "description", Reason: fmt.Sprintf("exceeds %d characters", maxDescriptionLength), Err: ErrInvalidNode}
	}
	if len(n.Payload.Assignees) > maxAssignees {
		return &ValidationError{Field: "assignees", Reason: fmt.Sprintf("exceeds %d entries", maxAssignees), Err: ErrInvalidNode}
	}
	if len(n.Payload.Fields) > maxFieldKeys {
		return &ValidationError{Field: "fields", Reason: fmt.Sprintf("exceeds %d keys", maxFieldKeys), Err: ErrInvalidNode}
	}
	if n.Payload.Status != "" {
		if _, ok := validTaskStatuses[n.Payload.Status]; !ok {
			return &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown task status %q", n.Payload.Status), Err: ErrInvalidNode}
		}
	}
	return nil
}

// ValidateEdge checks an edge in isolation. Endpoint existence is checked by
// Store.AddEdge against the loaded canvas.
func ValidateEdge(e *Edge) error {
	if e == nil {
		return &ValidationError{Reason: "edge is nil", Err: ErrInvalidEdge}
	}
	if strings.TrimSpace(e.ID) == "" {
		return &ValidationError{Field: "id", Reason: "cannot be empty", Err: ErrInvalidEdge}
	}
	if e.SourceID == "" || e.TargetID == "" {
		return &ValidationError{Field: "endpoints", Reason: "source and target are required", Err: ErrInvalidReference}
	}
	if !e.Layer.Valid() {
		return &ValidationError{Field: "layer", Reason: fmt.Sprintf("unknown layer %q", e.Layer), Err: ErrInvalidEdge}
	}
	if _, ok := validEdgeTypes[e.Type]; !ok {
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown edge type %q", e.Type), Err: ErrInvalidEdge}
	}
	if e.Label != nil && len(*e.Label) > maxLabelLength {
		return &ValidationError{Field: "label", Reason: fmt.Sprintf("exceeds %d characters", maxLabelLength), Err: ErrInvalidEdge}
	}
	return nil
}

// ValidateWorkflow checks workflow metadata.
func ValidateWorkflow(w *Workflow) error {
	if w == nil {
		return fmt.Errorf("%w: workflow is nil", ErrInvalidWorkflow)
	}
	name := strings.TrimSpace(w.Name)
	if name == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidWorkflow)
	}
	if len(w.Name) > maxWorkflowNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidWorkflow, maxWorkflowNameLength)
	}
	switch w.AccessLevel {
	case AccessPrivate, AccessTeam, AccessPublic:
	default:
		return fmt.Errorf("%w: access level %q", ErrInvalidWorkflow, w.AccessLevel)
	}
	return nil
}

// ValidateActionTemplate checks a template descriptor before it is stored.
func ValidateActionTemplate(t *ActionTemplate) error {
	if t == nil || strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("%w: action template id is required", ErrInvalidNode)
	}
	if strings.TrimSpace(t.ActionName) == "" {
		return fmt.Errorf("%w: action template %s has no action_name", ErrInvalidNode, t.ID)
	}
	if len(t.ActionName) > maxLabelLength {
		return fmt.Errorf("%w: action template %s name exceeds %d characters", ErrInvalidNode, t.ID, maxLabelLength)
	}
	for i, r := range t.Resources {
		if strings.TrimSpace(r.Name) == "" {
			return fmt.Errorf("%w: action template %s resource[%d] has no name", ErrInvalidNode, t.ID, i)
		}
	}
	for i, d := range t.Deliverables {
		if strings.TrimSpace(d) == "" {
			return fmt.Errorf("%w: action template %s deliverable[%d] is empty", ErrInvalidNode, t.ID, i)
		}
	}
	return nil
}

// GenerateID creates a new UUID for a node, edge, workflow or template.
func GenerateID() string {
	return uuid.New().String()
}
