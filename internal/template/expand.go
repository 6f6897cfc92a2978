package template

import (
	"context"

	"github.com/layerflow/layerflow-core/internal/workflow"
)

// Offsets of the synthesized nodes relative to the anchor.
const (
	sideOffset   = 250
	stackSpacing = 100
)

// Payload field keys set on synthesized nodes.
const (
	FieldTemplateID  = "template_id"
	FieldSoftwareTag = "software_tag"
)

// Expansion is the subgraph produced from one template.
type Expansion struct {
	TemplateID   string
	Action       workflow.Node
	Resources    []workflow.Node
	Deliverables []workflow.Node
	Edges        []workflow.Edge
}

// Nodes returns the action, then resources, then deliverables.
func (e *Expansion) Nodes() []workflow.Node {
	nodes := make([]workflow.Node, 0, 1+len(e.Resources)+len(e.Deliverables))
	nodes = append(nodes, e.Action.DeepCopy())
	nodes = append(nodes, workflow.CloneNodes(e.Resources)...)
	nodes = append(nodes, workflow.CloneNodes(e.Deliverables)...)
	return nodes
}

// Expand builds the subgraph for tmpl on the canvas at addr, anchored at
// anchor. newID supplies every node and edge id; nil uses
// workflow.GenerateID.
//
// Resources stack below and to the left of the anchor, deliverables stack
// to the right starting level with it.
func Expand(tmpl workflow.ActionTemplate, anchor workflow.Position, addr workflow.Address, newID func() string) (*Expansion, error) {
	if err := workflow.ValidateActionTemplate(&tmpl); err != nil {
		return nil, err
	}
	if err := addr.Validate(); err != nil {
		return nil, err
	}
	if newID == nil {
		newID = workflow.GenerateID
	}

	place := func(typ workflow.NodeType, label string, pos workflow.Position) workflow.Node {
		return workflow.Node{
			ID:           newID(),
			Type:         typ,
			Layer:        addr.Layer,
			ParentNodeID: addr.Clone().ParentNodeID,
			Position:     pos,
			Payload:      workflow.Payload{Label: label},
		}
	}
	connect := func(src, dst string) workflow.Edge {
		return workflow.Edge{ID: newID(), SourceID: src, TargetID: dst, Layer: addr.Layer, Type: workflow.EdgeFlow}
	}

	exp := &Expansion{TemplateID: tmpl.ID}
	exp.Action = place(workflow.NodeAction, tmpl.ActionName, anchor)
	exp.Action.Payload.Description = tmpl.Description
	exp.Action.Payload.Fields = map[string]any{FieldTemplateID: tmpl.ID}

	for i, r := range tmpl.Resources {
		n := place(workflow.NodeResource, r.Name, workflow.Position{
			X: anchor.X - sideOffset,
			Y: anchor.Y + float64(i+1)*stackSpacing,
		})
		if r.SoftwareTag != "" {
			n.Payload.Fields = map[string]any{FieldSoftwareTag: r.SoftwareTag}
		}
		exp.Resources = append(exp.Resources, n)
		exp.Edges = append(exp.Edges, connect(n.ID, exp.Action.ID))
	}
	for i, name := range tmpl.Deliverables {
		n := place(workflow.NodeDeliverable, name, workflow.Position{
			X: anchor.X + sideOffset,
			Y: anchor.Y + float64(i)*stackSpacing,
		})
		exp.Deliverables = append(exp.Deliverables, n)
		exp.Edges = append(exp.Edges, connect(exp.Action.ID, n.ID))
	}
	return exp, nil
}

// Creator is the part of the repository a commit needs. Both calls must be
// idempotent by id.
type Creator interface {
	CreateNode(ctx context.Context, workflowID string, n *workflow.Node) error
	CreateEdge(ctx context.Context, workflowID string, e *workflow.Edge) error
}

// Commit stores an expansion, all nodes before any edge. It stops at the
// first failure and returns a *CommitError naming what was not stored;
// nothing already stored is rolled back.
func Commit(ctx context.Context, repo Creator, workflowID string, exp *Expansion) error {
	return send(ctx, repo, workflowID, exp.Nodes(), exp.Edges)
}

// Retry re-sends the ids a failed Commit left pending. Nodes the repository
// already holds are ignored by it, so retrying after a lost response is safe.
func Retry(ctx context.Context, repo Creator, workflowID string, exp *Expansion, failed *CommitError) error {
	if failed == nil {
		return nil
	}
	wantNodes := toSet(failed.PendingNodes)
	wantEdges := toSet(failed.PendingEdges)

	var nodes []workflow.Node
	for _, n := range exp.Nodes() {
		if _, ok := wantNodes[n.ID]; ok {
			nodes = append(nodes, n)
		}
	}
	var edges []workflow.Edge
	for _, e := range exp.Edges {
		if _, ok := wantEdges[e.ID]; ok {
			edges = append(edges, e.DeepCopy())
		}
	}
	return send(ctx, repo, workflowID, nodes, edges)
}

func send(ctx context.Context, repo Creator, workflowID string, nodes []workflow.Node, edges []workflow.Edge) error {
	for i := range nodes {
		if err := repo.CreateNode(ctx, workflowID, &nodes[i]); err != nil {
			return &CommitError{
				PendingNodes: nodeIDs(nodes[i:]),
				PendingEdges: edgeIDs(edges),
				Err:          err,
			}
		}
	}
	for i := range edges {
		if err := repo.CreateEdge(ctx, workflowID, &edges[i]); err != nil {
			return &CommitError{
				PendingEdges: edgeIDs(edges[i:]),
				Err:          err,
			}
		}
	}
	return nil
}

func nodeIDs(nodes []workflow.Node) []string {
	ids := make([]string, len(nodes))
	for i := range nodes {
		ids[i] = nodes[i].ID
	}
	return ids
}

func edgeIDs(edges []workflow.Edge) []string {
	ids := make([]string, len(edges))
	for i := range edges {
		ids[i] = edges[i].ID
	}
	return ids
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
