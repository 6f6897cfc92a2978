package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/klauspost/compress/zstd"
)

// layeredFixture is a three-level workflow: i1 -> a1 at the root, t1 -> a2
// under a1, and x1 under a2.
func layeredFixture() ([]Node, []Edge) {
	nodes := []Node{
		rootNode("i1", NodeIssue, "Outage"),
		rootNode("a1", NodeAction, "Mitigate"),
		childNode("t1", NodeTask, LayerTactical, "a1"),
		childNode("a2", NodeAction, LayerTactical, "a1"),
		childNode("x1", NodeTask, LayerExecution, "a2"),
	}
	edges := []Edge{
		{ID: "e1", SourceID: "i1", TargetID: "a1", Layer: LayerStrategic, Type: EdgeFlow},
		{ID: "e2", SourceID: "t1", TargetID: "a2", Layer: LayerTactical, Type: EdgeDependsOn},
		{ID: "orphan", SourceID: "zz", TargetID: "i1", Layer: LayerStrategic, Type: EdgeFlow},
	}
	return nodes, edges
}

func TestBuildExportDocument(t *testing.T) {
	nodes, edges := layeredFixture()
	doc := BuildExportDocument(Workflow{ID: "w1", Name: "Incident", AccessLevel: AccessPrivate}, nodes, edges)

	if len(doc.Layers) != 3 {
		t.Fatalf("Layers = %d, want 3", len(doc.Layers))
	}
	for i, want := range AllLayers() {
		if doc.Layers[i].Layer != want {
			t.Errorf("Layers[%d] = %s, want %s", i, doc.Layers[i].Layer, want)
		}
	}
	if doc.NodeCount() != 5 {
		t.Errorf("NodeCount() = %d, want 5", doc.NodeCount())
	}
	if doc.EdgeCount() != 2 {
		t.Errorf("EdgeCount() = %d, want 2 (orphan dropped)", doc.EdgeCount())
	}

	tactical := doc.Layers[1].Canvases
	if len(tactical) != 1 || tactical[0].ParentNodeID == nil || *tactical[0].ParentNodeID != "a1" {
		t.Fatalf("tactical canvases = %+v", tactical)
	}
	if len(tactical[0].Nodes) != 2 || len(tactical[0].Edges) != 1 {
		t.Errorf("TACTICAL/a1 holds %d nodes / %d edges", len(tactical[0].Nodes), len(tactical[0].Edges))
	}
	if err := doc.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestExportDocument_Validate(t *testing.T) {
	nodes, edges := layeredFixture()

	tests := []struct {
		name   string
		mutate func(d *ExportDocument)
	}{
		{"bad version", func(d *ExportDocument) { d.Version = 99 }},
		{"unknown layer", func(d *ExportDocument) { d.Layers[0].Layer = "OPERATIONAL" }},
		{"node on wrong canvas", func(d *ExportDocument) {
			d.Layers[0].Canvases[0].Nodes[0].Layer = LayerTactical
		}},
		{"edge leaving canvas", func(d *ExportDocument) {
			d.Layers[0].Canvases[0].Edges[0].TargetID = "t1"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := BuildExportDocument(Workflow{ID: "w1", Name: "x", AccessLevel: AccessPrivate}, nodes, edges)
			tt.mutate(doc)
			if err := doc.Validate(); !errors.Is(err, ErrInvalidDocument) {
				t.Errorf("Validate() error = %v, want ErrInvalidDocument", err)
			}
		})
	}
}

func TestExportDocument_Archive(t *testing.T) {
	nodes, edges := layeredFixture()
	nodes[0].Payload.Fields = map[string]any{"tags": []any{"p1", "db"}}
	doc := BuildExportDocument(Workflow{ID: "w1", Name: "Incident", AccessLevel: AccessTeam}, nodes, edges)

	data, err := doc.EncodeArchive()
	if err != nil {
		t.Fatalf("EncodeArchive() error = %v", err)
	}
	again, err := doc.EncodeArchive()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, again) {
		t.Error("EncodeArchive() is not deterministic")
	}

	decoded, err := DecodeArchive(data)
	if err != nil {
		t.Fatalf("DecodeArchive() error = %v", err)
	}
	if decoded.Workflow.Name != "Incident" || decoded.NodeCount() != 5 || decoded.EdgeCount() != 2 {
		t.Errorf("decoded = %s with %d nodes / %d edges", decoded.Workflow.Name, decoded.NodeCount(), decoded.EdgeCount())
	}
	tags, ok := decoded.Layers[0].Canvases[0].Nodes[0].Payload.Fields["tags"].([]any)
	if !ok || len(tags) != 2 || tags[0] != "p1" {
		t.Errorf("payload fields = %#v", decoded.Layers[0].Canvases[0].Nodes[0].Payload.Fields)
	}

	if _, err := DecodeArchive([]byte("not an archive")); !errors.Is(err, ErrInvalidDocument) {
		t.Errorf("DecodeArchive(garbage) error = %v, want ErrInvalidDocument", err)
	}
}

func TestDecodeArchive_RejectsOversizedContent(t *testing.T) {
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatal(err)
	}
	bomb := encoder.EncodeAll(make([]byte, 2<<20), nil)
	encoder.Close()
	if len(bomb) > 64<<10 {
		t.Fatalf("compressed size = %d, expected a small archive", len(bomb))
	}

	if _, err := decodeArchive(bomb, 1<<20); !errors.Is(err, ErrInvalidDocument) {
		t.Errorf("decodeArchive(2 MiB of zeros, 1 MiB cap) error = %v, want ErrInvalidDocument", err)
	}

	// A real archive under the cap still decodes.
	nodes, edges := layeredFixture()
	data, err := BuildExportDocument(Workflow{ID: "w1", Name: "Incident", AccessLevel: AccessTeam}, nodes, edges).EncodeArchive()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := decodeArchive(data, 1<<20); err != nil {
		t.Errorf("decodeArchive(valid) error = %v", err)
	}
}

func TestExportDocument_EncodeJSON(t *testing.T) {
	nodes, edges := layeredFixture()
	doc := BuildExportDocument(Workflow{ID: "w1", Name: "Incident", AccessLevel: AccessTeam}, nodes, edges)

	data, err := doc.EncodeJSON()
	if err != nil {
		t.Fatalf("EncodeJSON() error = %v", err)
	}
	var decoded ExportDocument
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshalling: %v", err)
	}
	if err := decoded.Validate(); err != nil {
		t.Errorf("decoded JSON document invalid: %v", err)
	}
}

func TestImportWorkflow(t *testing.T) {
	ctx := context.Background()
	repo := setupTestRepo(t)
	src := createTestWorkflow(t, repo)

	nodes, edges := layeredFixture()
	for i := range nodes {
		if err := repo.CreateNode(ctx, src.ID, &nodes[i]); err != nil {
			t.Fatalf("CreateNode(%s) error = %v", nodes[i].ID, err)
		}
	}
	for i := range edges[:2] {
		if err := repo.CreateEdge(ctx, src.ID, &edges[i]); err != nil {
			t.Fatalf("CreateEdge(%s) error = %v", edges[i].ID, err)
		}
	}

	doc, err := repo.ExportWorkflow(ctx, src.ID)
	if err != nil {
		t.Fatalf("ExportWorkflow() error = %v", err)
	}

	copied, err := ImportWorkflow(ctx, repo, doc, "Incident (copy)")
	if err != nil {
		t.Fatalf("ImportWorkflow() error = %v", err)
	}
	if copied.ID == src.ID || copied.Name != "Incident (copy)" {
		t.Errorf("ImportWorkflow() = %+v", copied)
	}

	exported, err := repo.ExportWorkflow(ctx, copied.ID)
	if err != nil {
		t.Fatal(err)
	}
	if exported.NodeCount() != 5 || exported.EdgeCount() != 2 {
		t.Fatalf("copy holds %d nodes / %d edges, want 5 / 2", exported.NodeCount(), exported.EdgeCount())
	}
	for _, l := range exported.Layers {
		for _, c := range l.Canvases {
			for _, n := range c.Nodes {
				if n.ID == "i1" || n.ID == "a1" || n.ID == "x1" {
					t.Errorf("node id %s reused instead of regenerated", n.ID)
				}
			}
		}
	}

	// The copy's EXECUTION canvas hangs off the copy's a2, not the source's.
	execution := exported.Layers[2].Canvases
	if len(execution) != 1 {
		t.Fatalf("execution canvases = %+v", execution)
	}
	if *execution[0].ParentNodeID == "a2" {
		t.Error("EXECUTION canvas still points at the source workflow's node")
	}
}
