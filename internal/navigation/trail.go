package navigation

import "github.com/layerflow/layerflow-core/internal/workflow"

// Crumb is one step below the root: the ACTION node drilled into and the
// layer that drilling opened.
type Crumb struct {
	Layer  workflow.Layer `json:"layer"`
	NodeID string         `json:"node_id"`
	Label  string         `json:"label"`
}

// Trail is the breadcrumb from the root to the current canvas. The root
// itself has no crumb, so an empty trail means STRATEGIC.
type Trail []Crumb

// Address returns the canvas the trail leads to.
func (t Trail) Address() workflow.Address {
	if len(t) == 0 {
		return workflow.Root()
	}
	last := t[len(t)-1]
	id := last.NodeID
	return workflow.Address{Layer: last.Layer, ParentNodeID: &id}
}

// Index returns the position of the first crumb matching layer and node id,
// or -1.
func (t Trail) Index(layer workflow.Layer, nodeID string) int {
	for i, c := range t {
		if c.Layer == layer && c.NodeID == nodeID {
			return i
		}
	}
	return -1
}

// Clone returns a copy that shares no memory with t. It never returns nil.
func (t Trail) Clone() Trail {
	return append(Trail{}, t...)
}

// Valid reports whether the layers strictly descend from TACTICAL.
func (t Trail) Valid() bool {
	prev := workflow.LayerStrategic
	for _, c := range t {
		next, ok := prev.Next()
		if !ok || c.Layer != next || c.NodeID == "" {
			return false
		}
		prev = c.Layer
	}
	return true
}
