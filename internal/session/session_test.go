package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/layerflow/layerflow-core/internal/autosave"
	"github.com/layerflow/layerflow-core/internal/infrastructure/database"
	"github.com/layerflow/layerflow-core/internal/workflow"
	"github.com/layerflow/layerflow-core/migrations"
)

// countingRepo counts AutoSave calls and can be told to fail them.
type countingRepo struct {
	*workflow.SQLiteRepository
	saves   atomic.Int32
	failErr atomic.Pointer[error]
}

func (r *countingRepo) AutoSave(ctx context.Context, workflowID string, addr workflow.Address, nodes []workflow.Node, edges []workflow.Edge) error {
	r.saves.Add(1)
	if errp := r.failErr.Load(); errp != nil {
		return *errp
	}
	return r.SQLiteRepository.AutoSave(ctx, workflowID, addr, nodes, edges)
}

func (r *countingRepo) failWith(err error) {
	r.failErr.Store(&err)
}

func setupRepo(t *testing.T) *countingRepo {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{Path: ":memory:", BusyTimeout: 5})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("migrating test db: %v", err)
	}
	return &countingRepo{SQLiteRepository: workflow.NewSQLiteRepository(db.DB)}
}

func createWorkflow(t *testing.T, repo *countingRepo) string {
	t.Helper()
	w, err := repo.CreateWorkflow(context.Background(), "Release train", "", workflow.AccessTeam)
	if err != nil {
		t.Fatalf("CreateWorkflow() error = %v", err)
	}
	return w.ID
}

type testSession struct {
	*Session
	repo  *countingRepo
	sched *autosave.ManualScheduler
	wfID  string
}

func openSession(t *testing.T, mutate ...func(*Config)) *testSession {
	t.Helper()
	repo := setupRepo(t)
	wfID := createWorkflow(t, repo)
	sched := autosave.NewManualScheduler()

	cfg := Config{
		Repository: repo,
		WorkflowID: wfID,
		SaveDelay:  3 * time.Second,
		Scheduler:  sched,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	s, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close(context.Background()) })
	return &testSession{Session: s, repo: repo, sched: sched, wfID: wfID}
}

func (ts *testSession) add(t *testing.T, id string, typ workflow.NodeType, label string) workflow.Node {
	t.Helper()
	n, err := ts.AddNode(context.Background(), workflow.Node{ID: id, Type: typ, Payload: workflow.Payload{Label: label}})
	if err != nil {
		t.Fatalf("AddNode(%s) error = %v", id, err)
	}
	return n
}

func (ts *testSession) connect(t *testing.T, src, dst string) workflow.Edge {
	t.Helper()
	e, err := ts.AddEdge(context.Background(), workflow.Edge{SourceID: src, TargetID: dst})
	if err != nil {
		t.Fatalf("AddEdge(%s->%s) error = %v", src, dst, err)
	}
	return e
}

func (ts *testSession) state(t *testing.T) State {
	t.Helper()
	st, err := ts.State(context.Background())
	if err != nil {
		t.Fatalf("State() error = %v", err)
	}
	return st
}

func nodeIDs(nodes []workflow.Node) []string {
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return ids
}

func sameIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestOpen_UnknownWorkflow(t *testing.T) {
	repo := setupRepo(t)
	_, err := Open(context.Background(), Config{Repository: repo, WorkflowID: "missing"})
	if !errors.Is(err, workflow.ErrWorkflowNotFound) {
		t.Errorf("Open() error = %v, want ErrWorkflowNotFound", err)
	}
}

func TestOpen_RequiresRepositoryAndID(t *testing.T) {
	if _, err := Open(context.Background(), Config{WorkflowID: "w"}); !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("Open() without repository error = %v", err)
	}
	if _, err := Open(context.Background(), Config{Repository: setupRepo(t)}); !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("Open() without workflow id error = %v", err)
	}
}

func TestSession_MutationsThenUndosRestoreInitialState(t *testing.T) {
	ts := openSession(t)
	ctx := context.Background()

	ts.add(t, "i1", workflow.NodeIssue, "Outage")
	ts.add(t, "a1", workflow.NodeAction, "Roll back")
	e := ts.connect(t, "i1", "a1")
	label := "Roll back v2"
	if _, err := ts.UpdateNode(ctx, "a1", workflow.NodePatch{Label: &label}); err != nil {
		t.Fatalf("UpdateNode() error = %v", err)
	}
	if err := ts.DeleteEdge(ctx, e.ID); err != nil {
		t.Fatalf("DeleteEdge() error = %v", err)
	}
	after := ts.state(t)

	for i := 0; i < 5; i++ {
		ok, err := ts.Undo(ctx)
		if err != nil || !ok {
			t.Fatalf("Undo() #%d = %v, %v", i+1, ok, err)
		}
	}
	st := ts.state(t)
	if len(st.Nodes) != 0 || len(st.Edges) != 0 || st.CanUndo {
		t.Fatalf("after 5 undos: %d nodes, %d edges, CanUndo=%v", len(st.Nodes), len(st.Edges), st.CanUndo)
	}
	if ok, _ := ts.Undo(ctx); ok {
		t.Error("Undo() past the first entry reported a change")
	}

	for i := 0; i < 5; i++ {
		if ok, err := ts.Redo(ctx); err != nil || !ok {
			t.Fatalf("Redo() #%d = %v, %v", i+1, ok, err)
		}
	}
	st = ts.state(t)
	if !sameIDs(nodeIDs(st.Nodes), nodeIDs(after.Nodes)) || len(st.Edges) != len(after.Edges) {
		t.Errorf("after redos nodes = %v edges = %d, want %v and %d",
			nodeIDs(st.Nodes), len(st.Edges), nodeIDs(after.Nodes), len(after.Edges))
	}
	if st.Nodes[1].Payload.Label != "Roll back v2" {
		t.Errorf("redo lost the label update: %q", st.Nodes[1].Payload.Label)
	}
	if st.CanRedo {
		t.Error("CanRedo after replaying every step")
	}
}

func TestSession_UndoThenRedoReproducesState(t *testing.T) {
	ts := openSession(t)
	ctx := context.Background()
	ts.add(t, "i1", workflow.NodeIssue, "Outage")
	ts.add(t, "a1", workflow.NodeAction, "Fix")
	ts.connect(t, "i1", "a1")
	before := ts.state(t)

	ts.Undo(ctx)
	ts.Redo(ctx)

	st := ts.state(t)
	if !sameIDs(nodeIDs(st.Nodes), nodeIDs(before.Nodes)) || len(st.Edges) != 1 || st.Edges[0].ID != before.Edges[0].ID {
		t.Errorf("undo+redo state = %v/%v, want %v/%v", nodeIDs(st.Nodes), st.Edges, nodeIDs(before.Nodes), before.Edges)
	}
}

func TestSession_DanglingEdgeRejected(t *testing.T) {
	ts := openSession(t)
	ts.add(t, "i1", workflow.NodeIssue, "Outage")
	before := ts.state(t)

	_, err := ts.AddEdge(context.Background(), workflow.Edge{SourceID: "i1", TargetID: "ghost"})
	if !errors.Is(err, workflow.ErrInvalidReference) {
		t.Fatalf("AddEdge() error = %v, want ErrInvalidReference", err)
	}
	var ve *workflow.ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("AddEdge() error %T is not a *ValidationError", err)
	}

	st := ts.state(t)
	if len(st.Edges) != 0 || len(st.Nodes) != len(before.Nodes) {
		t.Error("rejected edge changed the store")
	}
	// The rejected edit is not an undo step: one undo empties the canvas.
	ts.Undo(context.Background())
	if st := ts.state(t); len(st.Nodes) != 0 {
		t.Errorf("after undo nodes = %v", nodeIDs(st.Nodes))
	}
}

func TestSession_DeleteNodeCascadesEdges(t *testing.T) {
	ts := openSession(t)
	ts.add(t, "i1", workflow.NodeIssue, "Outage")
	ts.add(t, "a1", workflow.NodeAction, "Fix")
	ts.add(t, "d1", workflow.NodeDeliverable, "Report")
	ts.connect(t, "i1", "a1")
	ts.connect(t, "a1", "d1")

	if err := ts.DeleteNode(context.Background(), "a1"); err != nil {
		t.Fatalf("DeleteNode() error = %v", err)
	}
	for _, e := range ts.state(t).Edges {
		if e.Touches("a1") {
			t.Errorf("edge %s still touches the deleted node", e.ID)
		}
	}
}

func TestSession_CoalescedSave(t *testing.T) {
	ts := openSession(t)
	ctx := context.Background()

	ts.add(t, "i1", workflow.NodeIssue, "Outage")
	ts.sched.Advance(time.Second)
	ts.add(t, "a1", workflow.NodeAction, "Fix")

	ts.sched.Advance(2999 * time.Millisecond)
	ts.state(t) // drain anything the scheduler posted
	if n := ts.repo.saves.Load(); n != 0 {
		t.Fatalf("saves before the debounce elapsed = %d", n)
	}

	ts.sched.Advance(time.Millisecond)
	if err := ts.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if n := ts.repo.saves.Load(); n != 1 {
		t.Errorf("saves = %d, want exactly 1", n)
	}

	stored, err := ts.repo.GetNodes(ctx, ts.wfID, workflow.LayerStrategic, nil)
	if err != nil {
		t.Fatalf("GetNodes() error = %v", err)
	}
	if len(stored) != 2 {
		t.Errorf("stored nodes = %d, want 2", len(stored))
	}
	if st := ts.state(t); st.SaveStatus != autosave.StatusSaved {
		t.Errorf("SaveStatus = %s, want saved", st.SaveStatus)
	}
}

func TestSession_SaveFailureKeepsEdits(t *testing.T) {
	ts := openSession(t)
	diskErr := errors.New("disk full")
	ts.repo.failWith(diskErr)

	ts.add(t, "i1", workflow.NodeIssue, "Outage")
	err := ts.Flush(context.Background())
	if !errors.Is(err, diskErr) {
		t.Fatalf("Flush() error = %v, want %v", err, diskErr)
	}

	st := ts.state(t)
	if st.SaveStatus != autosave.StatusError || st.SaveError == "" {
		t.Errorf("SaveStatus = %s, SaveError = %q", st.SaveStatus, st.SaveError)
	}
	if len(st.Nodes) != 1 {
		t.Error("failed save dropped in-memory edits")
	}
	if ts.sched.Pending() != 0 {
		t.Error("failed save scheduled a retry")
	}
}

func TestSession_Navigation(t *testing.T) {
	ts := openSession(t)
	ctx := context.Background()

	ts.add(t, "i1", workflow.NodeIssue, "Outage")
	ts.add(t, "a1", workflow.NodeAction, "Deploy")

	// Drill into the action, then back to the root.
	moved, err := ts.DrillDown(ctx, "a1")
	if err != nil || !moved {
		t.Fatalf("DrillDown(a1) = %v, %v", moved, err)
	}
	st := ts.state(t)
	if st.Address.Layer != workflow.LayerTactical || st.Address.Parent() != "a1" {
		t.Errorf("Address = %s, want TACTICAL/a1", st.Address)
	}
	if len(st.Breadcrumb) != 1 || st.Breadcrumb[0].Layer != workflow.LayerTactical || st.Breadcrumb[0].NodeID != "a1" || st.Breadcrumb[0].Label != "Deploy" {
		t.Errorf("Breadcrumb = %+v", st.Breadcrumb)
	}
	if st.CanUndo || len(st.Nodes) != 0 {
		t.Errorf("child canvas: CanUndo=%v nodes=%d", st.CanUndo, len(st.Nodes))
	}

	ts.add(t, "t1", workflow.NodeTask, "Build image")

	moved, err = ts.DrillUp(ctx, workflow.LayerStrategic, "")
	if err != nil || !moved {
		t.Fatalf("DrillUp(STRATEGIC) = %v, %v", moved, err)
	}
	st = ts.state(t)
	if !st.Address.IsRoot() || len(st.Breadcrumb) != 0 {
		t.Errorf("after drill up: %s %+v", st.Address, st.Breadcrumb)
	}
	if !sameIDs(nodeIDs(st.Nodes), []string{"i1", "a1"}) {
		t.Errorf("root nodes = %v, want the flushed [i1 a1]", nodeIDs(st.Nodes))
	}
	if st.CanUndo {
		t.Error("history crossed a canvas boundary")
	}

	// The task was flushed on leaving the child canvas.
	if _, err := ts.DrillDown(ctx, "a1"); err != nil {
		t.Fatal(err)
	}
	if st := ts.state(t); !sameIDs(nodeIDs(st.Nodes), []string{"t1"}) {
		t.Errorf("child nodes = %v, want [t1]", nodeIDs(st.Nodes))
	}
}

func TestSession_UndoDeleteKeepsSubCanvas(t *testing.T) {
	ts := openSession(t)
	ctx := context.Background()

	ts.add(t, "a1", workflow.NodeAction, "Deploy")
	if _, err := ts.DrillDown(ctx, "a1"); err != nil {
		t.Fatal(err)
	}
	ts.add(t, "t1", workflow.NodeTask, "Build image")
	if _, err := ts.DrillUp(ctx, workflow.LayerStrategic, ""); err != nil {
		t.Fatal(err)
	}

	if err := ts.DeleteNode(ctx, "a1"); err != nil {
		t.Fatalf("DeleteNode(a1) error = %v", err)
	}
	if err := ts.Flush(ctx); err != nil {
		t.Fatalf("Flush() after delete error = %v", err)
	}
	if undone, err := ts.Undo(ctx); err != nil || !undone {
		t.Fatalf("Undo() = %v, %v", undone, err)
	}
	if err := ts.Flush(ctx); err != nil {
		t.Fatalf("Flush() after undo error = %v", err)
	}

	if moved, err := ts.DrillDown(ctx, "a1"); err != nil || !moved {
		t.Fatalf("DrillDown(a1) = %v, %v", moved, err)
	}
	if st := ts.state(t); !sameIDs(nodeIDs(st.Nodes), []string{"t1"}) {
		t.Errorf("child nodes after delete+undo = %v, want [t1]", nodeIDs(st.Nodes))
	}
}

func TestSession_NavigationNoops(t *testing.T) {
	ts := openSession(t)
	ctx := context.Background()
	ts.add(t, "i1", workflow.NodeIssue, "Outage")

	if moved, err := ts.DrillDown(ctx, "i1"); err != nil || moved {
		t.Errorf("DrillDown(ISSUE) = %v, %v, want a no-op", moved, err)
	}
	if moved, err := ts.DrillUp(ctx, workflow.LayerTactical, "nowhere"); err != nil || moved {
		t.Errorf("DrillUp(stale) = %v, %v, want a no-op", moved, err)
	}
	st := ts.state(t)
	if !st.Address.IsRoot() || !st.CanUndo {
		t.Errorf("no-op navigation changed state: %s CanUndo=%v", st.Address, st.CanUndo)
	}
}

func TestSession_AutoLayout(t *testing.T) {
	ts := openSession(t)
	ctx := context.Background()

	// Issue feeds action: levels 0 and 1.
	ts.add(t, "i1", workflow.NodeIssue, "Outage")
	ts.add(t, "a1", workflow.NodeAction, "Fix")
	ts.connect(t, "i1", "a1")

	moved, err := ts.AutoLayout(ctx)
	if err != nil || moved != 2 {
		t.Fatalf("AutoLayout() = %d, %v, want 2 moved", moved, err)
	}
	st := ts.state(t)
	want := map[string]workflow.Position{"i1": {X: 50, Y: 280}, "a1": {X: 350, Y: 280}}
	for _, n := range st.Nodes {
		if n.Position != want[n.ID] {
			t.Errorf("%s at %+v, want %+v", n.ID, n.Position, want[n.ID])
		}
	}

	if moved, _ := ts.AutoLayout(ctx); moved != 0 {
		t.Errorf("second AutoLayout() moved %d nodes", moved)
	}

	// One undo reverts the whole layout.
	ts.Undo(ctx)
	for _, n := range ts.state(t).Nodes {
		if n.Position != (workflow.Position{}) {
			t.Errorf("%s at %+v after undo, want origin", n.ID, n.Position)
		}
	}
}

func TestSession_InsertTemplate(t *testing.T) {
	ts := openSession(t)
	ctx := context.Background()

	tmpl := &workflow.ActionTemplate{
		ID:         "deploy",
		ActionName: "Deploy service",
		Resources: []workflow.ResourceDescriptor{
			{Name: "CI runner", SoftwareTag: "gitlab"},
			{Name: "Cluster"},
		},
		Deliverables: []string{"Release notes"},
	}
	if err := ts.repo.CreateActionTemplate(ctx, tmpl); err != nil {
		t.Fatalf("CreateActionTemplate() error = %v", err)
	}

	exp, err := ts.InsertTemplateByID(ctx, "deploy", workflow.Position{X: 400, Y: 200})
	if err != nil {
		t.Fatalf("InsertTemplateByID() error = %v", err)
	}
	st := ts.state(t)
	if len(st.Nodes) != 4 || len(st.Edges) != 3 {
		t.Fatalf("canvas = %d nodes, %d edges, want 4 and 3", len(st.Nodes), len(st.Edges))
	}
	if st.Nodes[0].ID != exp.Action.ID || st.Nodes[0].Type != workflow.NodeAction {
		t.Errorf("first node = %+v, want the ACTION", st.Nodes[0])
	}

	// One save for the whole burst.
	ts.sched.Advance(3 * time.Second)
	if err := ts.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if n := ts.repo.saves.Load(); n != 1 {
		t.Errorf("saves = %d, want 1", n)
	}

	// One undo step for the whole subgraph.
	ts.Undo(ctx)
	if st := ts.state(t); len(st.Nodes) != 0 || len(st.Edges) != 0 {
		t.Errorf("after undo: %d nodes, %d edges", len(st.Nodes), len(st.Edges))
	}

	if _, err := ts.InsertTemplateByID(ctx, "missing", workflow.Position{}); err == nil {
		t.Error("InsertTemplateByID(missing) error = nil")
	}
}

func TestSession_OnChange(t *testing.T) {
	var (
		mu     sync.Mutex
		states []State
	)
	ts := openSession(t, func(c *Config) {
		c.OnChange = func(st State) {
			mu.Lock()
			states = append(states, st)
			mu.Unlock()
		}
	})

	ts.add(t, "i1", workflow.NodeIssue, "Outage")
	ts.DrillDown(context.Background(), "i1") // no-op, no notification

	mu.Lock()
	defer mu.Unlock()
	if len(states) != 1 {
		t.Fatalf("OnChange calls = %d, want 1", len(states))
	}
	if len(states[0].Nodes) != 1 || !states[0].CanUndo {
		t.Errorf("notified state = %+v", states[0])
	}
}

func TestSession_CloseFlushes(t *testing.T) {
	ts := openSession(t)
	ctx := context.Background()
	ts.add(t, "i1", workflow.NodeIssue, "Outage")

	if err := ts.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	stored, err := ts.repo.GetNodes(ctx, ts.wfID, workflow.LayerStrategic, nil)
	if err != nil || len(stored) != 1 {
		t.Errorf("stored after close = %d, %v", len(stored), err)
	}

	if _, err := ts.AddNode(ctx, workflow.Node{Type: workflow.NodeNote}); !errors.Is(err, ErrClosed) {
		t.Errorf("AddNode() after close error = %v, want ErrClosed", err)
	}
	if err := ts.Close(ctx); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	select {
	case <-ts.Done():
	default:
		t.Error("Done() not closed")
	}
}
