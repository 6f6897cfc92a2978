package workflow

import "time"

// Layer is a drill-down depth. Canvases at TACTICAL and EXECUTION hang off an
// ACTION node one layer up.
type Layer string

const (
	LayerStrategic Layer = "STRATEGIC"
	LayerTactical  Layer = "TACTICAL"
	LayerExecution Layer = "EXECUTION"
)

// AllLayers returns the layers from the top of the hierarchy down.
func AllLayers() []Layer {
	return []Layer{LayerStrategic, LayerTactical, LayerExecution}
}

// Depth returns 0 for STRATEGIC, 1 for TACTICAL, 2 for EXECUTION and -1 for
// anything else.
func (l Layer) Depth() int {
	switch l {
	case LayerStrategic:
		return 0
	case LayerTactical:
		return 1
	case LayerExecution:
		return 2
	default:
		return -1
	}
}

// Valid reports whether l is one of the three known layers.
func (l Layer) Valid() bool {
	return l.Depth() >= 0
}

// Next returns the layer below l. EXECUTION is terminal and returns false.
func (l Layer) Next() (Layer, bool) {
	switch l {
	case LayerStrategic:
		return LayerTactical, true
	case LayerTactical:
		return LayerExecution, true
	default:
		return "", false
	}
}

// NodeType classifies a node.
type NodeType string

const (
	NodeIssue       NodeType = "ISSUE"
	NodeAction      NodeType = "ACTION"
	NodeResource    NodeType = "RESOURCE"
	NodeDeliverable NodeType = "DELIVERABLE"
	NodeNote        NodeType = "NOTE"
	NodeTask        NodeType = "TASK"
	NodeBlocker     NodeType = "BLOCKER"
	NodeStickyNote  NodeType = "STICKY_NOTE"
)

// AllNodeTypes returns every accepted node type.
func AllNodeTypes() []NodeType {
	return []NodeType{
		NodeIssue, NodeAction, NodeResource, NodeDeliverable,
		NodeNote, NodeTask, NodeBlocker, NodeStickyNote,
	}
}

// TaskStatus is the progress of a TASK node.
type TaskStatus string

const (
	TaskTodo       TaskStatus = "TODO"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskBlocked    TaskStatus = "BLOCKED"
	TaskDone       TaskStatus = "DONE"
)

// AllTaskStatuses returns every accepted task status.
func AllTaskStatuses() []TaskStatus {
	return []TaskStatus{TaskTodo, TaskInProgress, TaskBlocked, TaskDone}
}

// EdgeType is the semantic kind of an edge.
type EdgeType string

const (
	EdgeFlow      EdgeType = "flow"
	EdgeDependsOn EdgeType = "depends_on"
	EdgeTriggers  EdgeType = "triggers"
	EdgeProduces  EdgeType = "produces"
	EdgeBlocks    EdgeType = "blocks"
	EdgeRequires  EdgeType = "requires"
)

// AllEdgeTypes returns every accepted edge type.
func AllEdgeTypes() []EdgeType {
	return []EdgeType{EdgeFlow, EdgeDependsOn, EdgeTriggers, EdgeProduces, EdgeBlocks, EdgeRequires}
}

// AccessLevel controls who may open a workflow.
type AccessLevel string

const (
	AccessPrivate AccessLevel = "private"
	AccessTeam    AccessLevel = "team"
	AccessPublic  AccessLevel = "public"
)

// Position is a canvas coordinate.
type Position struct {
	X float64 `json:"x" cbor:"x"`
	Y float64 `json:"y" cbor:"y"`
}

// Payload is the user-editable content of a node.
type Payload struct {
	Label       string     `json:"label" cbor:"label"`
	Description string     `json:"description,omitempty" cbor:"description,omitempty"`
	Assignees   []string   `json:"assignees,omitempty" cbor:"assignees,omitempty"`
	Status      TaskStatus `json:"status,omitempty" cbor:"status,omitempty"`

	// Fields holds type-specific values, e.g. "software_tag" on RESOURCE nodes.
	Fields map[string]any `json:"fields,omitempty" cbor:"fields,omitempty"`
}

// Node is a vertex on one sub-canvas.
//
// ParentNodeID is a plain identifier of the ACTION node one layer up; it is
// nil exactly when Layer is STRATEGIC.
type Node struct {
	ID           string   `json:"id" cbor:"id"`
	Type         NodeType `json:"type" cbor:"type"`
	Layer        Layer    `json:"layer" cbor:"layer"`
	ParentNodeID *string  `json:"parent_node_id,omitempty" cbor:"parent_node_id,omitempty"`
	Position     Position `json:"position" cbor:"position"`
	Payload      Payload  `json:"payload" cbor:"payload"`
}

// Address returns the sub-canvas the node belongs to.
func (n *Node) Address() Address {
	return Address{Layer: n.Layer, ParentNodeID: cloneStringPtr(n.ParentNodeID)}
}

// DeepCopy returns an independent copy of the node.
func (n *Node) DeepCopy() Node {
	cpy := *n
	cpy.ParentNodeID = cloneStringPtr(n.ParentNodeID)
	if n.Payload.Assignees != nil {
		cpy.Payload.Assignees = append([]string(nil), n.Payload.Assignees...)
	}
	cpy.Payload.Fields = deepCopyMap(n.Payload.Fields)
	return cpy
}

// Edge connects two nodes on the same sub-canvas.
type Edge struct {
	ID       string   `json:"id" cbor:"id"`
	SourceID string   `json:"source_id" cbor:"source_id"`
	TargetID string   `json:"target_id" cbor:"target_id"`
	Layer    Layer    `json:"layer" cbor:"layer"`
	Type     EdgeType `json:"type" cbor:"type"`
	Label    *string  `json:"label,omitempty" cbor:"label,omitempty"`
}

// DeepCopy returns an independent copy of the edge.
func (e *Edge) DeepCopy() Edge {
	cpy := *e
	cpy.Label = cloneStringPtr(e.Label)
	return cpy
}

// Touches reports whether nodeID is either endpoint of e.
func (e *Edge) Touches(nodeID string) bool {
	return e.SourceID == nodeID || e.TargetID == nodeID
}

// CloneNodes deep-copies a node slice. A nil input yields an empty slice.
func CloneNodes(nodes []Node) []Node {
	out := make([]Node, len(nodes))
	for i := range nodes {
		out[i] = nodes[i].DeepCopy()
	}
	return out
}

// CloneEdges deep-copies an edge slice. A nil input yields an empty slice.
func CloneEdges(edges []Edge) []Edge {
	out := make([]Edge, len(edges))
	for i := range edges {
		out[i] = edges[i].DeepCopy()
	}
	return out
}

// NodePatch is a partial update. Nil fields are left untouched.
// Fields entries merge key by key; a nil value deletes the key.
type NodePatch struct {
	Type        *NodeType      `json:"type,omitempty"`
	Position    *Position      `json:"position,omitempty"`
	Label       *string        `json:"label,omitempty"`
	Description *string        `json:"description,omitempty"`
	Assignees   *[]string      `json:"assignees,omitempty"`
	Status      *TaskStatus    `json:"status,omitempty"`
	Fields      map[string]any `json:"fields,omitempty"`
}

// Apply merges p into n in place.
func (p NodePatch) Apply(n *Node) {
	if p.Type != nil {
		n.Type = *p.Type
	}
	if p.Position != nil {
		n.Position = *p.Position
	}
	if p.Label != nil {
		n.Payload.Label = *p.Label
	}
	if p.Description != nil {
		n.Payload.Description = *p.Description
	}
	if p.Assignees != nil {
		n.Payload.Assignees = append([]string(nil), (*p.Assignees)...)
	}
	if p.Status != nil {
		n.Payload.Status = *p.Status
	}
	if len(p.Fields) > 0 {
		if n.Payload.Fields == nil {
			n.Payload.Fields = make(map[string]any, len(p.Fields))
		}
		for k, v := range p.Fields {
			if v == nil {
				delete(n.Payload.Fields, k)
				continue
			}
			n.Payload.Fields[k] = deepCopyValue(v)
		}
	}
}

// Workflow is the top-level container of a layered diagram.
type Workflow struct {
	ID          string      `json:"id" cbor:"id"`
	Name        string      `json:"name" cbor:"name"`
	Description *string     `json:"description,omitempty" cbor:"description,omitempty"`
	AccessLevel AccessLevel `json:"access_level" cbor:"access_level"`
	CreatedAt   time.Time   `json:"created_at" cbor:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at" cbor:"updated_at"`
}

// ResourceDescriptor is one RESOURCE an action template expands into.
type ResourceDescriptor struct {
	Name        string `json:"name" yaml:"name"`
	SoftwareTag string `json:"software_tag,omitempty" yaml:"software_tag"`
}

// ActionTemplate is a read-only descriptor expanding into an ACTION node with
// its RESOURCE and DELIVERABLE subgraph.
type ActionTemplate struct {
	ID           string               `json:"id" yaml:"id"`
	ActionName   string               `json:"action_name" yaml:"action_name"`
	Description  string               `json:"description,omitempty" yaml:"description"`
	Category     string               `json:"category,omitempty" yaml:"category"`
	Resources    []ResourceDescriptor `json:"resources" yaml:"resources"`
	Deliverables []string             `json:"deliverables" yaml:"deliverables"`
}

// WorkflowTemplate is a saved workflow document that can seed new workflows.
type WorkflowTemplate struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Category    string          `json:"category,omitempty"`
	Document    *ExportDocument `json:"document"`
	CreatedAt   time.Time       `json:"created_at"`
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cpy := make(map[string]any, len(m))
	for k, v := range m {
		cpy[k] = deepCopyValue(v)
	}
	return cpy
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cpy := make([]any, len(val))
		for i, elem := range val {
			cpy[i] = deepCopyValue(elem)
		}
		return cpy
	case []string:
		return append([]string(nil), val...)
	default:
		return v
	}
}

func cloneStringPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
