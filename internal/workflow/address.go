package workflow

import "fmt"

// Address identifies a sub-canvas: a layer plus the ACTION node it hangs off.
// The root canvas is (STRATEGIC, nil).
type Address struct {
	Layer        Layer   `json:"layer" cbor:"layer"`
	ParentNodeID *string `json:"parent_node_id,omitempty" cbor:"parent_node_id,omitempty"`
}

// Root returns the STRATEGIC address.
func Root() Address {
	return Address{Layer: LayerStrategic}
}

// Child returns the address of the sub-canvas beneath an ACTION node that
// lives at a. EXECUTION has no children.
func (a Address) Child(actionID string) (Address, bool) {
	next, ok := a.Layer.Next()
	if !ok {
		return Address{}, false
	}
	id := actionID
	return Address{Layer: next, ParentNodeID: &id}, true
}

// IsRoot reports whether a is the STRATEGIC canvas.
func (a Address) IsRoot() bool {
	return a.Layer == LayerStrategic && a.ParentNodeID == nil
}

// Parent returns the parent node id or "" for the root.
func (a Address) Parent() string {
	if a.ParentNodeID == nil {
		return ""
	}
	return *a.ParentNodeID
}

// Equal compares by layer and parent id value.
func (a Address) Equal(b Address) bool {
	if a.Layer != b.Layer {
		return false
	}
	if a.ParentNodeID == nil || b.ParentNodeID == nil {
		return a.ParentNodeID == nil && b.ParentNodeID == nil
	}
	return *a.ParentNodeID == *b.ParentNodeID
}

// Validate checks the layer/parent pairing: STRATEGIC has no parent, the
// lower layers require one.
func (a Address) Validate() error {
	if !a.Layer.Valid() {
		return &ValidationError{Field: "layer", Reason: fmt.Sprintf("unknown layer %q", a.Layer), Err: ErrInvalidAddress}
	}
	if a.Layer == LayerStrategic && a.ParentNodeID != nil {
		return &ValidationError{Field: "parent_node_id", Reason: "STRATEGIC canvas has no parent", Err: ErrInvalidAddress}
	}
	if a.Layer != LayerStrategic && (a.ParentNodeID == nil || *a.ParentNodeID == "") {
		return &ValidationError{Field: "parent_node_id", Reason: fmt.Sprintf("%s canvas requires a parent ACTION node", a.Layer), Err: ErrInvalidAddress}
	}
	return nil
}

// String renders the address as "LAYER" or "LAYER/parent".
func (a Address) String() string {
	if a.ParentNodeID == nil {
		return string(a.Layer)
	}
	return string(a.Layer) + "/" + *a.ParentNodeID
}

// Clone returns a copy that shares no memory with a.
func (a Address) Clone() Address {
	return Address{Layer: a.Layer, ParentNodeID: cloneStringPtr(a.ParentNodeID)}
}
