// Package navigation moves a session between the sub-canvases of a workflow.
//
// The controller owns the breadcrumb trail. Drilling into an ACTION node
// opens the canvas one layer down; drilling up jumps back to any crumb on
// the trail. Each move fetches the target canvas from the repository,
// replaces the store's contents and resets the undo history, so undo never
// crosses a canvas boundary.
//
// Requests that do not apply (a non-ACTION node, the EXECUTION layer, a
// crumb that is no longer on the trail) are ignored rather than reported:
// they come from a view that is one step behind.
package navigation

import (
	"context"
	"fmt"

	"github.com/layerflow/layerflow-core/internal/history"
	"github.com/layerflow/layerflow-core/internal/workflow"
)

// Logger defines the logging interface used by the controller.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Loader fetches canvas contents. workflow.Repository satisfies it.
type Loader interface {
	GetNodes(ctx context.Context, workflowID string, layer workflow.Layer, parentNodeID *string) ([]workflow.Node, error)
	GetEdges(ctx context.Context, workflowID string, layer workflow.Layer) ([]workflow.Edge, error)
}

// Config wires a Controller to the session's store and history.
type Config struct {
	Loader     Loader
	WorkflowID string
	Store      *workflow.Store
	History    *history.Manager

	// BeforeLeave runs after the target canvas has loaded and before the
	// store switches to it, with the address being left. The session uses
	// it to flush unsaved changes.
	BeforeLeave func(from workflow.Address)

	Logger Logger
}

// Controller is not safe for concurrent use.
type Controller struct {
	loader      Loader
	workflowID  string
	store       *workflow.Store
	history     *history.Manager
	beforeLeave func(workflow.Address)
	logger      Logger

	trail Trail
}

// New creates a controller positioned at the root. Call Open to load it.
func New(cfg Config) *Controller {
	c := &Controller{
		loader:      cfg.Loader,
		workflowID:  cfg.WorkflowID,
		store:       cfg.Store,
		history:     cfg.History,
		beforeLeave: cfg.BeforeLeave,
		logger:      cfg.Logger,
		trail:       Trail{},
	}
	if c.logger == nil {
		c.logger = noopLogger{}
	}
	return c
}

// SetLogger sets the logger for the controller.
func (c *Controller) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.logger = logger
}

// Address returns the current canvas address.
func (c *Controller) Address() workflow.Address {
	return c.trail.Address()
}

// Trail returns a copy of the breadcrumb.
func (c *Controller) Trail() Trail {
	return c.trail.Clone()
}

// Open loads the root canvas and clears the trail.
func (c *Controller) Open(ctx context.Context) error {
	return c.moveTo(ctx, Trail{})
}

// Reload re-reads the current canvas, discarding unsaved changes and history.
func (c *Controller) Reload(ctx context.Context) error {
	return c.moveTo(ctx, c.trail.Clone())
}

// DrillDown opens the canvas beneath the ACTION node nodeID on the current
// canvas. It returns false without error when the node is missing, is not
// an ACTION or sits on the EXECUTION layer. If loading fails nothing changes.
func (c *Controller) DrillDown(ctx context.Context, nodeID string) (bool, error) {
	n, ok := c.store.Node(nodeID)
	if !ok || n.Type != workflow.NodeAction {
		c.logger.Debug("drill down ignored", "node_id", nodeID, "found", ok, "type", n.Type)
		return false, nil
	}
	next, ok := c.Address().Layer.Next()
	if !ok {
		c.logger.Debug("drill down ignored on terminal layer", "node_id", nodeID)
		return false, nil
	}

	target := append(c.trail.Clone(), Crumb{Layer: next, NodeID: n.ID, Label: n.Payload.Label})
	if err := c.moveTo(ctx, target); err != nil {
		return false, err
	}
	return true, nil
}

// DrillUp returns to an earlier canvas. STRATEGIC always goes to the root;
// any other layer must match a crumb on the trail, which is truncated after
// it. A target absent from the trail is ignored.
func (c *Controller) DrillUp(ctx context.Context, layer workflow.Layer, nodeID string) (bool, error) {
	if layer == workflow.LayerStrategic {
		if err := c.moveTo(ctx, Trail{}); err != nil {
			return false, err
		}
		return true, nil
	}

	i := c.trail.Index(layer, nodeID)
	if i < 0 {
		c.logger.Debug("drill up target not on trail", "layer", layer, "node_id", nodeID)
		return false, nil
	}
	if err := c.moveTo(ctx, c.trail[:i+1].Clone()); err != nil {
		return false, err
	}
	return true, nil
}

// moveTo loads the canvas target leads to and only then commits the move.
func (c *Controller) moveTo(ctx context.Context, target Trail) error {
	addr := target.Address()
	nodes, err := c.loader.GetNodes(ctx, c.workflowID, addr.Layer, addr.ParentNodeID)
	if err != nil {
		return fmt.Errorf("loading nodes of %s: %w", addr, err)
	}
	edges, err := c.loader.GetEdges(ctx, c.workflowID, addr.Layer)
	if err != nil {
		return fmt.Errorf("loading edges of %s: %w", addr, err)
	}

	from := c.store.Address()
	if c.beforeLeave != nil {
		c.beforeLeave(from)
	}

	res := c.store.Load(addr, nodes, edges)
	c.history.Reset(history.NewSnapshot(c.store.Nodes(), c.store.Edges()))
	c.trail = target

	c.logger.Debug("canvas loaded",
		"workflow_id", c.workflowID,
		"from", from.String(),
		"to", addr.String(),
		"nodes", c.store.Len(),
		"edges", c.store.EdgeCount(),
		"dropped_edges", res.DroppedEdges,
	)
	return nil
}
