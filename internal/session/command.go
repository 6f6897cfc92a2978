package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/layerflow/layerflow-core/internal/workflow"
)

// Command operations.
const (
	OpAddNode        = "add_node"
	OpUpdateNode     = "update_node"
	OpDeleteNode     = "delete_node"
	OpAddEdge        = "add_edge"
	OpDeleteEdge     = "delete_edge"
	OpUndo           = "undo"
	OpRedo           = "redo"
	OpDrillDown      = "drill_down"
	OpDrillUp        = "drill_up"
	OpAutoLayout     = "auto_layout"
	OpInsertTemplate = "insert_template"
	OpFlush          = "flush"
	OpState          = "state"
)

// Command is a remote request against a session, as carried by the bus and
// the websocket endpoint.
//
//	{"op": "add_edge", "request_id": "r7", "edge": {"source_id": "i1", "target_id": "a1"}}
type Command struct {
	Op        string `json:"op"`
	RequestID string `json:"request_id,omitempty"`

	Node  *workflow.Node      `json:"node,omitempty"`
	Edge  *workflow.Edge      `json:"edge,omitempty"`
	Patch *workflow.NodePatch `json:"patch,omitempty"`

	// ID names the node or edge for update and delete.
	ID string `json:"id,omitempty"`

	// Layer and NodeID are the drill target.
	Layer  workflow.Layer `json:"layer,omitempty"`
	NodeID string         `json:"node_id,omitempty"`

	TemplateID string             `json:"template_id,omitempty"`
	Position   *workflow.Position `json:"position,omitempty"`
}

// Result answers a Command.
type Result struct {
	RequestID string `json:"request_id,omitempty"`
	Op        string `json:"op"`
	OK        bool   `json:"ok"`

	// Changed is false for requests that were valid but did nothing, such as
	// an undo with an empty history or a drill into a non-ACTION node.
	Changed bool   `json:"changed"`
	Error   string `json:"error,omitempty"`

	State *State `json:"state,omitempty"`
}

// DecodeCommand parses a JSON command and checks its required fields. A
// command that parses but fails validation is still returned so callers can
// answer with its op and request id.
func DecodeCommand(data []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	if err := cmd.Validate(); err != nil {
		return cmd, err
	}
	return cmd, nil
}

// Validate checks that the fields the op needs are present.
func (c *Command) Validate() error {
	missing := func(field string) error {
		return fmt.Errorf("%w: %s requires %s", ErrInvalidCommand, c.Op, field)
	}
	switch c.Op {
	case OpAddNode:
		if c.Node == nil {
			return missing("node")
		}
	case OpUpdateNode:
		if c.ID == "" {
			return missing("id")
		}
		if c.Patch == nil {
			return missing("patch")
		}
	case OpDeleteNode, OpDeleteEdge:
		if c.ID == "" {
			return missing("id")
		}
	case OpAddEdge:
		if c.Edge == nil {
			return missing("edge")
		}
	case OpDrillDown:
		if c.NodeID == "" {
			return missing("node_id")
		}
	case OpDrillUp:
		if c.Layer == "" {
			return missing("layer")
		}
		if c.Layer != workflow.LayerStrategic && c.NodeID == "" {
			return missing("node_id")
		}
	case OpInsertTemplate:
		if c.TemplateID == "" {
			return missing("template_id")
		}
	case OpUndo, OpRedo, OpAutoLayout, OpFlush, OpState:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOp, c.Op)
	}
	return nil
}

// Execute applies cmd to s and returns the outcome with the resulting state.
// Errors are reported in the Result rather than returned.
func Execute(ctx context.Context, s *Session, cmd Command) Result {
	res := Result{RequestID: cmd.RequestID, Op: cmd.Op}

	changed, err := apply(ctx, s, cmd)
	if err != nil {
		res.Error = err.Error()
	} else {
		res.OK = true
		res.Changed = changed
	}

	if st, stErr := s.State(ctx); stErr == nil {
		res.State = &st
	}
	return res
}

func apply(ctx context.Context, s *Session, cmd Command) (bool, error) {
	if err := cmd.Validate(); err != nil {
		return false, err
	}

	switch cmd.Op {
	case OpAddNode:
		_, err := s.AddNode(ctx, *cmd.Node)
		return err == nil, err
	case OpUpdateNode:
		_, err := s.UpdateNode(ctx, cmd.ID, *cmd.Patch)
		return err == nil, err
	case OpDeleteNode:
		err := s.DeleteNode(ctx, cmd.ID)
		return err == nil, err
	case OpAddEdge:
		_, err := s.AddEdge(ctx, *cmd.Edge)
		return err == nil, err
	case OpDeleteEdge:
		err := s.DeleteEdge(ctx, cmd.ID)
		return err == nil, err
	case OpUndo:
		return s.Undo(ctx)
	case OpRedo:
		return s.Redo(ctx)
	case OpDrillDown:
		return s.DrillDown(ctx, cmd.NodeID)
	case OpDrillUp:
		return s.DrillUp(ctx, cmd.Layer, cmd.NodeID)
	case OpAutoLayout:
		moved, err := s.AutoLayout(ctx)
		return moved > 0, err
	case OpInsertTemplate:
		var anchor workflow.Position
		if cmd.Position != nil {
			anchor = *cmd.Position
		}
		_, err := s.InsertTemplateByID(ctx, cmd.TemplateID, anchor)
		return err == nil, err
	case OpFlush:
		err := s.Flush(ctx)
		return err == nil, err
	default: // OpState
		return false, nil
	}
}
