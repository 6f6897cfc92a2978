package autosave

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/layerflow/layerflow-core/internal/workflow"
)

// loop stands in for the session goroutine: posted functions queue up and
// the test runs them explicitly.
type loop struct {
	ch chan func()
}

func newLoop() *loop { return &loop{ch: make(chan func(), 64)} }

func (l *loop) post(f func()) { l.ch <- f }

// runPending runs whatever is queued right now and returns how many ran.
func (l *loop) runPending() int {
	n := 0
	for {
		select {
		case f := <-l.ch:
			f()
			n++
		default:
			return n
		}
	}
}

// runNext waits for one posted function and runs it.
func (l *loop) runNext(t *testing.T) {
	t.Helper()
	select {
	case f := <-l.ch:
		f()
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a posted event")
	}
}

type saveCall struct {
	addr  string
	nodes []string
}

type fakeSaver struct {
	mu    sync.Mutex
	calls []saveCall
	err   error
	gate  chan struct{}
}

func (f *fakeSaver) AutoSave(ctx context.Context, _ string, addr workflow.Address, nodes []workflow.Node, _ []workflow.Edge) error {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	f.calls = append(f.calls, saveCall{addr: addr.String(), nodes: ids})
	return f.err
}

func (f *fakeSaver) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeSaver) snapshot() []saveCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]saveCall(nil), f.calls...)
}

type recordingPublisher struct {
	events []StatusEvent
}

func (p *recordingPublisher) PublishSaveStatus(ev StatusEvent) {
	p.events = append(p.events, ev)
}

type metricSample struct {
	layer  string
	ok     bool
	nodes  int
	edges  int
	workID string
}

type recordingMetrics struct {
	samples []metricSample
}

func (m *recordingMetrics) WriteSaveMetric(workflowID, layer string, ok bool, _ time.Duration, nodes, edges int) {
	m.samples = append(m.samples, metricSample{layer: layer, ok: ok, nodes: nodes, edges: edges, workID: workflowID})
}

type fixture struct {
	syncer  *Syncer
	sched   *ManualScheduler
	loop    *loop
	store   *workflow.Store
	saver   *fakeSaver
	pub     *recordingPublisher
	metrics *recordingMetrics
}

func newFixture() *fixture {
	f := &fixture{
		sched:   NewManualScheduler(),
		loop:    newLoop(),
		store:   workflow.NewStore(),
		saver:   &fakeSaver{},
		pub:     &recordingPublisher{},
		metrics: &recordingMetrics{},
	}
	f.syncer = New(Config{
		Saver:      f.saver,
		WorkflowID: "w1",
		Delay:      3 * time.Second,
		Timeout:    time.Second,
		Scheduler:  f.sched,
		Post:       f.loop.post,
		Source: func() (workflow.Address, []workflow.Node, []workflow.Edge) {
			return f.store.Address(), f.store.Nodes(), f.store.Edges()
		},
		Publisher: f.pub,
		Metrics:   f.metrics,
	})
	return f
}

func (f *fixture) edit(t *testing.T, id string) {
	t.Helper()
	if _, err := f.store.AddNode(workflow.Node{ID: id, Type: workflow.NodeNote}); err != nil {
		t.Fatalf("AddNode(%s) error = %v", id, err)
	}
	f.syncer.Touch()
}

func TestSyncer_CoalescesBurstIntoOneSave(t *testing.T) {
	f := newFixture()

	f.edit(t, "n1")
	f.sched.Advance(time.Second)
	f.edit(t, "n2")

	f.sched.Advance(2999 * time.Millisecond)
	if n := f.loop.runPending(); n != 0 {
		t.Fatalf("%d events before the interval elapsed after the last edit", n)
	}
	if calls := f.saver.snapshot(); len(calls) != 0 {
		t.Fatalf("saved early: %+v", calls)
	}

	f.sched.Advance(time.Millisecond)
	f.loop.runNext(t) // timer fires, save starts
	if f.syncer.Status() != StatusSaving {
		t.Errorf("Status() = %s, want saving", f.syncer.Status())
	}
	f.loop.runNext(t) // save completes

	calls := f.saver.snapshot()
	if len(calls) != 1 {
		t.Fatalf("saves = %d, want exactly 1", len(calls))
	}
	if len(calls[0].nodes) != 2 || calls[0].addr != "STRATEGIC" {
		t.Errorf("batch = %+v, want both nodes at STRATEGIC", calls[0])
	}
	if f.syncer.Status() != StatusSaved || f.syncer.Busy() {
		t.Errorf("Status() = %s, Busy() = %v", f.syncer.Status(), f.syncer.Busy())
	}
	if f.sched.Pending() != 0 {
		t.Errorf("%d timers still pending", f.sched.Pending())
	}
}

func TestSyncer_StatusAndMetrics(t *testing.T) {
	f := newFixture()
	f.edit(t, "n1")
	f.sched.Advance(3 * time.Second)
	f.loop.runNext(t)
	f.loop.runNext(t)

	if len(f.pub.events) != 2 || f.pub.events[0].Status != StatusSaving || f.pub.events[1].Status != StatusSaved {
		t.Errorf("published = %+v, want saving then saved", f.pub.events)
	}
	if len(f.metrics.samples) != 1 {
		t.Fatalf("metric samples = %d, want 1", len(f.metrics.samples))
	}
	got := f.metrics.samples[0]
	if !got.ok || got.layer != "STRATEGIC" || got.nodes != 1 || got.workID != "w1" {
		t.Errorf("sample = %+v", got)
	}
}

func TestSyncer_StaleTimerIgnored(t *testing.T) {
	f := newFixture()
	f.edit(t, "n1")

	// The timer fires and its event is queued, but a flush runs first.
	f.sched.Advance(3 * time.Second)
	f.syncer.Flush()
	f.loop.runPending() // stale fire, then possibly the completion

	for len(f.saver.snapshot()) == 0 || f.syncer.Status() == StatusSaving {
		f.loop.runNext(t)
	}
	if calls := f.saver.snapshot(); len(calls) != 1 {
		t.Errorf("saves = %d, want 1", len(calls))
	}
}

func TestSyncer_FlushCapturesAddressBeforeNavigation(t *testing.T) {
	f := newFixture()
	f.edit(t, "a1")

	// Navigation: flush with the old canvas still loaded, then switch.
	f.syncer.Flush()
	parent := "a1"
	child := workflow.Address{Layer: workflow.LayerTactical, ParentNodeID: &parent}
	f.store.Load(child, []workflow.Node{{ID: "t1", Type: workflow.NodeTask, Layer: workflow.LayerTactical, ParentNodeID: &parent}}, nil)

	f.loop.runNext(t) // late completion for the old canvas

	calls := f.saver.snapshot()
	if len(calls) != 1 || calls[0].addr != "STRATEGIC" || calls[0].nodes[0] != "a1" {
		t.Fatalf("saves = %+v, want one STRATEGIC batch with a1", calls)
	}
	if f.store.Len() != 1 || !f.store.Address().Equal(child) {
		t.Error("late save response changed the active canvas")
	}

	// The cancelled timer never produces a second save.
	f.sched.Advance(10 * time.Second)
	if n := f.loop.runPending(); n != 0 {
		t.Errorf("%d events after flush, want 0", n)
	}
}

func TestSyncer_QueueKeepsOneBatchPerAddress(t *testing.T) {
	f := newFixture()
	f.saver.gate = make(chan struct{})

	f.edit(t, "n1")
	f.syncer.Flush() // in flight, blocked
	f.edit(t, "n2")
	f.syncer.Flush() // queued
	f.edit(t, "n3")
	f.syncer.Flush() // replaces the queued root batch

	parent := "n9"
	f.store.Load(workflow.Address{Layer: workflow.LayerTactical, ParentNodeID: &parent}, nil, nil)
	f.edit(t, "t1")
	f.syncer.Flush() // queued for the second address

	close(f.saver.gate)
	for range 3 {
		f.loop.runNext(t)
	}

	calls := f.saver.snapshot()
	if len(calls) != 3 {
		t.Fatalf("saves = %+v, want 3", calls)
	}
	if calls[0].addr != "STRATEGIC" || len(calls[0].nodes) != 1 {
		t.Errorf("first save = %+v", calls[0])
	}
	if calls[1].addr != "STRATEGIC" || len(calls[1].nodes) != 3 {
		t.Errorf("second save = %+v, want the latest root batch", calls[1])
	}
	if calls[2].addr != "TACTICAL/n9" {
		t.Errorf("third save = %+v", calls[2])
	}
	if f.syncer.Busy() {
		t.Error("Busy() after the queue drained")
	}
}

func TestSyncer_FailureKeepsStateDirtyWithoutRetryTimer(t *testing.T) {
	f := newFixture()
	f.saver.setErr(errors.New("disk full"))

	f.edit(t, "n1")
	f.sched.Advance(3 * time.Second)
	f.loop.runNext(t)
	f.loop.runNext(t)

	if f.syncer.Status() != StatusError || f.syncer.LastError() == nil {
		t.Fatalf("Status() = %s, LastError() = %v", f.syncer.Status(), f.syncer.LastError())
	}
	if !f.syncer.Dirty() {
		t.Error("failed save cleared the dirty flag")
	}
	if f.store.Len() != 1 {
		t.Error("failure changed the in-memory canvas")
	}
	if f.sched.Pending() != 0 {
		t.Error("failure scheduled an automatic retry")
	}
	if last := f.pub.events[len(f.pub.events)-1]; last.Error == "" {
		t.Errorf("error event has no message: %+v", last)
	}

	// The next edit resends everything.
	f.saver.setErr(nil)
	f.edit(t, "n2")
	f.sched.Advance(3 * time.Second)
	f.loop.runNext(t)
	f.loop.runNext(t)

	calls := f.saver.snapshot()
	if len(calls) != 2 || len(calls[1].nodes) != 2 {
		t.Fatalf("saves = %+v", calls)
	}
	if f.syncer.Status() != StatusSaved || f.syncer.LastError() != nil {
		t.Errorf("Status() = %s, LastError() = %v", f.syncer.Status(), f.syncer.LastError())
	}
}

func TestSyncer_FailureAfterNavigationDoesNotDirtyNewCanvas(t *testing.T) {
	f := newFixture()
	f.saver.setErr(errors.New("timeout"))

	f.edit(t, "a1")
	f.syncer.Flush()
	parent := "a1"
	f.store.Load(workflow.Address{Layer: workflow.LayerTactical, ParentNodeID: &parent}, nil, nil)
	f.loop.runNext(t)

	if f.syncer.Status() != StatusError {
		t.Errorf("Status() = %s, want error", f.syncer.Status())
	}
	if f.syncer.Dirty() {
		t.Error("failure for the old canvas marked the new one dirty")
	}
}

func TestSyncer_WhenIdle(t *testing.T) {
	f := newFixture()

	called := false
	f.syncer.WhenIdle(func() { called = true })
	if !called {
		t.Fatal("WhenIdle() on an idle syncer did not run immediately")
	}

	f.saver.gate = make(chan struct{})
	f.edit(t, "n1")
	f.syncer.Flush()

	called = false
	f.syncer.WhenIdle(func() { called = true })
	if called {
		t.Fatal("WhenIdle() ran while a save was in flight")
	}
	close(f.saver.gate)
	f.loop.runNext(t)
	if !called {
		t.Error("WhenIdle() callback not run after the save finished")
	}
}

func TestSyncer_Discard(t *testing.T) {
	f := newFixture()
	f.edit(t, "n1")
	f.syncer.Discard()

	f.sched.Advance(5 * time.Second)
	f.loop.runPending()
	if calls := f.saver.snapshot(); len(calls) != 0 || f.syncer.Dirty() {
		t.Errorf("Discard() left %d saves, dirty=%v", len(calls), f.syncer.Dirty())
	}
}

func TestManualScheduler(t *testing.T) {
	m := NewManualScheduler()
	var order []int
	m.AfterFunc(2*time.Second, func() { order = append(order, 2) })
	m.AfterFunc(time.Second, func() { order = append(order, 1) })
	stopped := m.AfterFunc(time.Second, func() { order = append(order, 99) })

	if !stopped.Stop() {
		t.Error("Stop() on a pending timer = false")
	}
	if m.Pending() != 2 {
		t.Errorf("Pending() = %d, want 2", m.Pending())
	}
	m.Advance(3 * time.Second)
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("fired = %v, want [1 2]", order)
	}
	if stopped.Stop() {
		t.Error("Stop() twice = true")
	}
}

func TestPublishers(t *testing.T) {
	a, b := &recordingPublisher{}, &recordingPublisher{}
	Publishers{a, b}.PublishSaveStatus(StatusEvent{WorkflowID: "w1", Status: StatusSaved})

	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("events = %d and %d, want 1 each", len(a.events), len(b.events))
	}
	if b.events[0].Status != StatusSaved {
		t.Errorf("status = %s, want saved", b.events[0].Status)
	}
}
