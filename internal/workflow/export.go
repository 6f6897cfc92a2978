package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
)

// ExportVersion is the document format written by BuildExportDocument.
const ExportVersion = 1

// ExportDocument is a portable, nested copy of a whole workflow: metadata plus
// every node and edge, grouped by layer and then by sub-canvas.
type ExportDocument struct {
	Version    int           `json:"version" cbor:"version"`
	ExportedAt time.Time     `json:"exported_at" cbor:"exported_at"`
	Workflow   Workflow      `json:"workflow" cbor:"workflow"`
	Layers     []ExportLayer `json:"layers" cbor:"layers"`
}

// ExportLayer holds the sub-canvases of one layer.
type ExportLayer struct {
	Layer    Layer          `json:"layer" cbor:"layer"`
	Canvases []ExportCanvas `json:"canvases" cbor:"canvases"`
}

// ExportCanvas is one sub-canvas. ParentNodeID is nil for the root canvas.
type ExportCanvas struct {
	ParentNodeID *string `json:"parent_node_id,omitempty" cbor:"parent_node_id,omitempty"`
	Nodes        []Node  `json:"nodes" cbor:"nodes"`
	Edges        []Edge  `json:"edges" cbor:"edges"`
}

// Address returns the address of the canvas on layer l.
func (c *ExportCanvas) Address(l Layer) Address {
	return Address{Layer: l, ParentNodeID: cloneStringPtr(c.ParentNodeID)}
}

// NodeCount returns the number of nodes across all layers.
func (d *ExportDocument) NodeCount() int {
	total := 0
	for _, l := range d.Layers {
		for _, c := range l.Canvases {
			total += len(c.Nodes)
		}
	}
	return total
}

// EdgeCount returns the number of edges across all layers.
func (d *ExportDocument) EdgeCount() int {
	total := 0
	for _, l := range d.Layers {
		for _, c := range l.Canvases {
			total += len(c.Edges)
		}
	}
	return total
}

// BuildExportDocument groups a flat node and edge set into an ExportDocument.
//
// Layers appear top-down and always include all three, even if empty. Within
// a layer the root or parentless canvas comes first, then canvases ordered by
// parent id. Node and edge order inside a canvas follows the input. Edges are
// filed under the canvas of their source node; edges whose source is unknown
// are dropped.
func BuildExportDocument(w Workflow, nodes []Node, edges []Edge) *ExportDocument {
	doc := &ExportDocument{
		Version:    ExportVersion,
		ExportedAt: time.Now().UTC().Truncate(time.Second),
		Workflow:   w,
	}

	type canvasKey struct {
		layer  Layer
		parent string
	}
	canvases := make(map[canvasKey]*ExportCanvas)
	nodeCanvas := make(map[string]canvasKey, len(nodes))

	canvasFor := func(key canvasKey, parent *string) *ExportCanvas {
		c, ok := canvases[key]
		if !ok {
			c = &ExportCanvas{
				ParentNodeID: cloneStringPtr(parent),
				Nodes:        []Node{},
				Edges:        []Edge{},
			}
			canvases[key] = c
		}
		return c
	}

	for i := range nodes {
		n := &nodes[i]
		key := canvasKey{layer: n.Layer}
		if n.ParentNodeID != nil {
			key.parent = *n.ParentNodeID
		}
		c := canvasFor(key, n.ParentNodeID)
		c.Nodes = append(c.Nodes, n.DeepCopy())
		nodeCanvas[n.ID] = key
	}
	for i := range edges {
		key, ok := nodeCanvas[edges[i].SourceID]
		if !ok {
			continue
		}
		c := canvases[key]
		c.Edges = append(c.Edges, edges[i].DeepCopy())
	}

	for _, layer := range AllLayers() {
		var keys []canvasKey
		for key := range canvases {
			if key.layer == layer {
				keys = append(keys, key)
			}
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i].parent < keys[j].parent })

		exported := ExportLayer{Layer: layer, Canvases: []ExportCanvas{}}
		for _, key := range keys {
			exported.Canvases = append(exported.Canvases, *canvases[key])
		}
		doc.Layers = append(doc.Layers, exported)
	}
	return doc
}

// Validate checks the document structure: known version, known layers, every
// node on the canvas it is filed under, and every edge between nodes of its
// own canvas.
func (d *ExportDocument) Validate() error {
	if d == nil {
		return fmt.Errorf("%w: document is nil", ErrInvalidDocument)
	}
	if d.Version != ExportVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrInvalidDocument, d.Version)
	}
	seen := make(map[string]struct{})
	for _, l := range d.Layers {
		if !l.Layer.Valid() {
			return fmt.Errorf("%w: unknown layer %q", ErrInvalidDocument, l.Layer)
		}
		for ci := range l.Canvases {
			c := &l.Canvases[ci]
			addr := c.Address(l.Layer)
			if err := addr.Validate(); err != nil {
				return fmt.Errorf("%w: canvas %s: %v", ErrInvalidDocument, addr, err)
			}
			local := make(map[string]struct{}, len(c.Nodes))
			for i := range c.Nodes {
				n := &c.Nodes[i]
				if !n.Address().Equal(addr) {
					return fmt.Errorf("%w: node %s filed under %s", ErrInvalidDocument, n.ID, addr)
				}
				if _, dup := seen[n.ID]; dup {
					return fmt.Errorf("%w: duplicate node id %s", ErrInvalidDocument, n.ID)
				}
				seen[n.ID] = struct{}{}
				local[n.ID] = struct{}{}
			}
			for i := range c.Edges {
				e := &c.Edges[i]
				_, srcOK := local[e.SourceID]
				_, dstOK := local[e.TargetID]
				if !srcOK || !dstOK {
					return fmt.Errorf("%w: edge %s leaves canvas %s", ErrInvalidDocument, e.ID, addr)
				}
			}
		}
	}
	return nil
}

// EncodeJSON renders the document as indented JSON.
func (d *ExportDocument) EncodeJSON() ([]byte, error) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding export document: %w", err)
	}
	return data, nil
}

// archiveEncMode encodes with Core Deterministic Encoding so the same
// document always produces the same archive bytes.
var archiveEncMode cbor.EncMode

// archiveDecMode decodes any-typed values into map[string]any so payload
// fields come back in the same shape encoding/json produces.
var archiveDecMode cbor.DecMode

func init() {
	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339
	var err error
	archiveEncMode, err = encOptions.EncMode()
	if err != nil {
		panic("workflow: CBOR encoder initialization failed: " + err.Error())
	}
	archiveDecMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("workflow: CBOR decoder initialization failed: " + err.Error())
	}
}

// EncodeArchive renders the document as zstd-compressed CBOR.
func (d *ExportDocument) EncodeArchive() ([]byte, error) {
	raw, err := archiveEncMode.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encoding archive: %w", err)
	}
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	defer encoder.Close()
	return encoder.EncodeAll(raw, nil), nil
}

// MaxArchiveSize bounds the decompressed size of an archive. Import bodies
// come from clients, so a small archive must not expand without limit.
const MaxArchiveSize = 64 << 20

// DecodeArchive parses an archive written by EncodeArchive and validates it.
func DecodeArchive(data []byte) (*ExportDocument, error) {
	return decodeArchive(data, MaxArchiveSize)
}

func decodeArchive(data []byte, maxSize uint64) (*ExportDocument, error) {
	decoder, err := zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderMaxMemory(maxSize),
	)
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	defer decoder.Close()

	raw, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decompressing archive: %v", ErrInvalidDocument, err)
	}
	var doc ExportDocument
	if err := archiveDecMode.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: decoding archive: %v", ErrInvalidDocument, err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// ExportWorkflow reads every live node and edge of a workflow into an
// ExportDocument. Nodes marked deleted by an autosave are left out together
// with everything beneath them.
func (r *SQLiteRepository) ExportWorkflow(ctx context.Context, workflowID string) (*ExportDocument, error) {
	w, err := r.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	nodes, err := r.queryNodes(ctx, `
		WITH RECURSIVE live(id) AS (
			SELECT id FROM nodes
			WHERE workflow_id = ? AND parent_node_id IS NULL AND deleted_at IS NULL
			UNION ALL
			SELECT n.id FROM nodes n JOIN live ON n.parent_node_id = live.id
			WHERE n.deleted_at IS NULL
		)
		SELECT `+nodeColumns+` FROM nodes
		WHERE id IN (SELECT id FROM live) ORDER BY rowid`, workflowID)
	if err != nil {
		return nil, err
	}
	edges, err := r.queryEdges(ctx, `SELECT `+edgeColumns+` FROM edges
		WHERE workflow_id = ? ORDER BY rowid`, workflowID)
	if err != nil {
		return nil, err
	}

	exported := make(map[string]struct{}, len(nodes))
	for i := range nodes {
		exported[nodes[i].ID] = struct{}{}
	}
	kept := edges[:0]
	for _, e := range edges {
		_, src := exported[e.SourceID]
		_, dst := exported[e.TargetID]
		if src && dst {
			kept = append(kept, e)
		}
	}
	return BuildExportDocument(*w, nodes, kept), nil
}

// ImportWorkflow recreates a document as a new workflow named name (the
// document's own name when empty), using only repeated create calls.
//
// Every node and edge gets a fresh id so one document can seed any number
// of workflows. Layers are created top-down so each parent exists before its
// children, and a canvas's nodes before its edges.
func ImportWorkflow(ctx context.Context, repo Repository, doc *ExportDocument, name string) (*Workflow, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	if name == "" {
		name = doc.Workflow.Name
	}
	description := ""
	if doc.Workflow.Description != nil {
		description = *doc.Workflow.Description
	}
	w, err := repo.CreateWorkflow(ctx, name, description, doc.Workflow.AccessLevel)
	if err != nil {
		return nil, err
	}

	layers := append([]ExportLayer(nil), doc.Layers...)
	sort.SliceStable(layers, func(i, j int) bool {
		return layers[i].Layer.Depth() < layers[j].Layer.Depth()
	})

	ids := make(map[string]string, doc.NodeCount())
	for _, l := range layers {
		for ci := range l.Canvases {
			c := &l.Canvases[ci]
			for i := range c.Nodes {
				n := c.Nodes[i].DeepCopy()
				if n.ParentNodeID != nil {
					parent, ok := ids[*n.ParentNodeID]
					if !ok {
						return w, fmt.Errorf("%w: parent %s of node %s not imported", ErrInvalidReference, *n.ParentNodeID, n.ID)
					}
					n.ParentNodeID = &parent
				}
				fresh := GenerateID()
				ids[n.ID] = fresh
				n.ID = fresh
				if err := repo.CreateNode(ctx, w.ID, &n); err != nil {
					return w, fmt.Errorf("importing node: %w", err)
				}
			}
			for i := range c.Edges {
				e := c.Edges[i].DeepCopy()
				e.ID = GenerateID()
				e.SourceID = ids[e.SourceID]
				e.TargetID = ids[e.TargetID]
				if err := repo.CreateEdge(ctx, w.ID, &e); err != nil {
					return w, fmt.Errorf("importing edge: %w", err)
				}
			}
		}
	}
	return w, nil
}
