package workflow

import "fmt"

// Store holds the nodes and edges of the active sub-canvas. It is the single
// source of truth for what the editor shows.
//
// Every method is synchronous with no side effects beyond the store itself.
// Store is not safe for concurrent use; a session owns it and serialises access.
type Store struct {
	addr  Address
	nodes []Node
	edges []Edge

	// index maps node id to its slot in nodes. Rebuilt on Load and on delete.
	index map[string]int
}

// LoadResult reports what Load discarded.
type LoadResult struct {
	DroppedNodes int
	DroppedEdges int
}

// NewStore returns an empty store at the root address.
func NewStore() *Store {
	return &Store{addr: Root(), index: map[string]int{}}
}

// Load replaces the store's contents with the canvas at addr.
//
// Nodes that belong to another address or repeat an id are dropped. Edges
// whose endpoints are not among the loaded nodes are dropped, as are repeated
// edge ids. Missing edge types default to flow.
func (s *Store) Load(addr Address, nodes []Node, edges []Edge) LoadResult {
	var res LoadResult

	s.addr = addr.Clone()
	s.nodes = make([]Node, 0, len(nodes))
	s.index = make(map[string]int, len(nodes))
	for i := range nodes {
		n := &nodes[i]
		if _, dup := s.index[n.ID]; dup || n.ID == "" || !n.Address().Equal(addr) {
			res.DroppedNodes++
			continue
		}
		s.index[n.ID] = len(s.nodes)
		s.nodes = append(s.nodes, n.DeepCopy())
	}

	s.edges = make([]Edge, 0, len(edges))
	seen := make(map[string]struct{}, len(edges))
	for i := range edges {
		e := edges[i].DeepCopy()
		_, dup := seen[e.ID]
		_, srcOK := s.index[e.SourceID]
		_, dstOK := s.index[e.TargetID]
		if dup || e.ID == "" || !srcOK || !dstOK {
			res.DroppedEdges++
			continue
		}
		if e.Type == "" {
			e.Type = EdgeFlow
		}
		if e.Layer == "" {
			e.Layer = addr.Layer
		}
		seen[e.ID] = struct{}{}
		s.edges = append(s.edges, e)
	}
	return res
}

// Restore replaces the contents at the current address, e.g. from a history snapshot.
func (s *Store) Restore(nodes []Node, edges []Edge) LoadResult {
	return s.Load(s.addr, nodes, edges)
}

// Address returns the address of the loaded canvas.
func (s *Store) Address() Address {
	return s.addr.Clone()
}

// Nodes returns a deep copy of the nodes in insertion order.
func (s *Store) Nodes() []Node {
	return CloneNodes(s.nodes)
}

// Edges returns a deep copy of the edges in insertion order.
func (s *Store) Edges() []Edge {
	return CloneEdges(s.edges)
}

// Node returns a copy of the node with the given id.
func (s *Store) Node(id string) (Node, bool) {
	i, ok := s.index[id]
	if !ok {
		return Node{}, false
	}
	return s.nodes[i].DeepCopy(), true
}

// Len returns the number of nodes.
func (s *Store) Len() int {
	return len(s.nodes)
}

// EdgeCount returns the number of edges.
func (s *Store) EdgeCount() int {
	return len(s.edges)
}

// AddNode validates and appends a node. An empty ID is generated, and an
// empty layer places the node on the loaded canvas.
func (s *Store) AddNode(n Node) (Node, error) {
	n = s.prepareNode(n)
	if err := s.checkNode(&n, s.index); err != nil {
		return Node{}, err
	}
	s.index[n.ID] = len(s.nodes)
	s.nodes = append(s.nodes, n)
	return n.DeepCopy(), nil
}

// UpdateNode merges patch into the node with the given id. The merged node
// is validated before anything changes.
func (s *Store) UpdateNode(id string, patch NodePatch) (Node, error) {
	i, ok := s.index[id]
	if !ok {
		return Node{}, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	updated := s.nodes[i].DeepCopy()
	patch.Apply(&updated)
	if err := ValidateNode(&updated); err != nil {
		return Node{}, err
	}
	s.nodes[i] = updated
	return updated.DeepCopy(), nil
}

// DeleteNode removes a node and every edge touching it. The removed edges
// are returned.
func (s *Store) DeleteNode(id string) ([]Edge, error) {
	i, ok := s.index[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	removed := s.DeleteEdgesTouching(id)
	s.nodes = append(s.nodes[:i], s.nodes[i+1:]...)
	s.reindex()
	return removed, nil
}

// AddEdge validates and appends an edge. Missing ID is generated, missing
// type defaults to flow and missing layer to the canvas layer. An endpoint
// that is not on the canvas yields a *ValidationError wrapping
// ErrInvalidReference and leaves the store unchanged.
func (s *Store) AddEdge(e Edge) (Edge, error) {
	e = s.prepareEdge(e)
	if err := s.checkEdge(&e, s.index, s.edgeIDs()); err != nil {
		return Edge{}, err
	}
	s.edges = append(s.edges, e)
	return e.DeepCopy(), nil
}

// DeleteEdge removes one edge by id.
func (s *Store) DeleteEdge(id string) error {
	for i := range s.edges {
		if s.edges[i].ID == id {
			s.edges = append(s.edges[:i], s.edges[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrEdgeNotFound, id)
}

// DeleteEdgesTouching removes every edge with nodeID as an endpoint and
// returns them.
func (s *Store) DeleteEdgesTouching(nodeID string) []Edge {
	var removed []Edge
	kept := s.edges[:0]
	for _, e := range s.edges {
		if e.Touches(nodeID) {
			removed = append(removed, e)
			continue
		}
		kept = append(kept, e)
	}
	s.edges = kept
	return removed
}

// AddSubgraph adds several nodes and the edges between them as one unit.
// Everything is validated first; on error the store is unchanged.
func (s *Store) AddSubgraph(nodes []Node, edges []Edge) ([]Node, []Edge, error) {
	staged := make(map[string]int, len(s.index)+len(nodes))
	for id, i := range s.index {
		staged[id] = i
	}
	addNodes := make([]Node, len(nodes))
	for i := range nodes {
		n := s.prepareNode(nodes[i])
		if err := s.checkNode(&n, staged); err != nil {
			return nil, nil, fmt.Errorf("node[%d]: %w", i, err)
		}
		staged[n.ID] = len(s.nodes) + i
		addNodes[i] = n
	}

	edgeIDs := s.edgeIDs()
	addEdges := make([]Edge, len(edges))
	for i := range edges {
		e := s.prepareEdge(edges[i])
		if err := s.checkEdge(&e, staged, edgeIDs); err != nil {
			return nil, nil, fmt.Errorf("edge[%d]: %w", i, err)
		}
		edgeIDs[e.ID] = struct{}{}
		addEdges[i] = e
	}

	s.nodes = append(s.nodes, addNodes...)
	s.edges = append(s.edges, addEdges...)
	s.index = staged
	return CloneNodes(addNodes), CloneEdges(addEdges), nil
}

// SetPositions moves nodes to the given coordinates. Unknown ids are ignored.
// It returns how many nodes actually moved.
func (s *Store) SetPositions(positions map[string]Position) int {
	moved := 0
	for id, p := range positions {
		i, ok := s.index[id]
		if !ok || s.nodes[i].Position == p {
			continue
		}
		s.nodes[i].Position = p
		moved++
	}
	return moved
}

func (s *Store) prepareNode(n Node) Node {
	n = n.DeepCopy()
	if n.ID == "" {
		n.ID = GenerateID()
	}
	if n.Layer == "" {
		n.Layer = s.addr.Layer
		n.ParentNodeID = cloneStringPtr(s.addr.ParentNodeID)
	}
	return n
}

func (s *Store) checkNode(n *Node, index map[string]int) error {
	if err := ValidateNode(n); err != nil {
		return err
	}
	if !n.Address().Equal(s.addr) {
		return &ValidationError{
			Field:  "address",
			Reason: fmt.Sprintf("node %s belongs to %s, canvas is %s", n.ID, n.Address(), s.addr),
			Err:    ErrInvalidNode,
		}
	}
	if _, exists := index[n.ID]; exists {
		return fmt.Errorf("%w: %s", ErrNodeExists, n.ID)
	}
	return nil
}

func (s *Store) prepareEdge(e Edge) Edge {
	e = e.DeepCopy()
	if e.ID == "" {
		e.ID = GenerateID()
	}
	if e.Type == "" {
		e.Type = EdgeFlow
	}
	if e.Layer == "" {
		e.Layer = s.addr.Layer
	}
	return e
}

func (s *Store) checkEdge(e *Edge, index map[string]int, edgeIDs map[string]struct{}) error {
	if err := ValidateEdge(e); err != nil {
		return err
	}
	if e.Layer != s.addr.Layer {
		return &ValidationError{
			Field:  "layer",
			Reason: fmt.Sprintf("edge layer %s does not match canvas layer %s", e.Layer, s.addr.Layer),
			Err:    ErrInvalidEdge,
		}
	}
	if _, ok := index[e.SourceID]; !ok {
		return &ValidationError{Field: "source_id", Reason: fmt.Sprintf("node %s is not on the canvas", e.SourceID), Err: ErrInvalidReference}
	}
	if _, ok := index[e.TargetID]; !ok {
		return &ValidationError{Field: "target_id", Reason: fmt.Sprintf("node %s is not on the canvas", e.TargetID), Err: ErrInvalidReference}
	}
	if _, exists := edgeIDs[e.ID]; exists {
		return fmt.Errorf("%w: %s", ErrEdgeExists, e.ID)
	}
	return nil
}

func (s *Store) edgeIDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(s.edges))
	for _, e := range s.edges {
		ids[e.ID] = struct{}{}
	}
	return ids
}

func (s *Store) reindex() {
	s.index = make(map[string]int, len(s.nodes))
	for i, n := range s.nodes {
		s.index[n.ID] = i
	}
}
