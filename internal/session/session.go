package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/layerflow/layerflow-core/internal/autosave"
	"github.com/layerflow/layerflow-core/internal/history"
	"github.com/layerflow/layerflow-core/internal/layout"
	"github.com/layerflow/layerflow-core/internal/navigation"
	"github.com/layerflow/layerflow-core/internal/template"
	"github.com/layerflow/layerflow-core/internal/workflow"
)

// queueSize bounds the event queue. Posters block once it is full.
const queueSize = 64

// Logger defines the logging interface used by a session.
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

// Repository is what a session needs from storage.
// workflow.Repository satisfies it.
type Repository interface {
	navigation.Loader
	autosave.Saver
	ListActionTemplates(ctx context.Context) ([]workflow.ActionTemplate, error)
}

// Config wires a session. Repository and WorkflowID are required.
type Config struct {
	Repository Repository
	WorkflowID string

	Layout       layout.Config
	HistoryLimit int

	SaveDelay   time.Duration
	SaveTimeout time.Duration

	// Scheduler drives the autosave debounce; nil uses the wall clock.
	Scheduler autosave.Scheduler

	Publisher autosave.StatusPublisher
	Metrics   autosave.MetricsRecorder

	// OnChange receives the state after every command that changed it. It
	// runs on the session goroutine and must not block or call back into
	// the session.
	OnChange func(State)

	Logger Logger
}

// State is a point-in-time view of a session.
type State struct {
	WorkflowID string           `json:"workflow_id"`
	Address    workflow.Address `json:"address"`
	Breadcrumb navigation.Trail `json:"breadcrumb"`
	Nodes      []workflow.Node  `json:"nodes"`
	Edges      []workflow.Edge  `json:"edges"`
	SaveStatus autosave.Status  `json:"save_status"`
	SaveError  string           `json:"save_error,omitempty"`
	CanUndo    bool             `json:"can_undo"`
	CanRedo    bool             `json:"can_redo"`
}

// Session is one open workflow. Create it with Open.
type Session struct {
	id       string
	repo     Repository
	layout   layout.Config
	onChange func(State)
	logger   Logger

	// Owned by the run goroutine.
	store *workflow.Store
	hist  *history.Manager
	nav   *navigation.Controller
	saver *autosave.Syncer

	events   chan func()
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// Open starts a session and loads the root canvas of the workflow.
func Open(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.Repository == nil {
		return nil, fmt.Errorf("%w: repository is required", ErrInvalidCommand)
	}
	if cfg.WorkflowID == "" {
		return nil, fmt.Errorf("%w: workflow id is required", ErrInvalidCommand)
	}
	if cfg.Layout == (layout.Config{}) {
		cfg.Layout = layout.DefaultConfig()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	s := &Session{
		id:       cfg.WorkflowID,
		repo:     cfg.Repository,
		layout:   cfg.Layout,
		onChange: cfg.OnChange,
		logger:   logger,
		store:    workflow.NewStore(),
		hist:     history.New(cfg.HistoryLimit),
		events:   make(chan func(), queueSize),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	s.saver = autosave.New(autosave.Config{
		Saver:      cfg.Repository,
		WorkflowID: cfg.WorkflowID,
		Delay:      cfg.SaveDelay,
		Timeout:    cfg.SaveTimeout,
		Scheduler:  cfg.Scheduler,
		Post:       s.post,
		Source: func() (workflow.Address, []workflow.Node, []workflow.Edge) {
			return s.store.Address(), s.store.Nodes(), s.store.Edges()
		},
		Publisher: cfg.Publisher,
		Metrics:   cfg.Metrics,
		Logger:    logger,
	})
	s.nav = navigation.New(navigation.Config{
		Loader:     cfg.Repository,
		WorkflowID: cfg.WorkflowID,
		Store:      s.store,
		History:    s.hist,
		BeforeLeave: func(workflow.Address) {
			s.saver.Flush()
		},
		Logger: logger,
	})

	go s.run()

	var (
		openErr error
		loaded  int
	)
	if err := s.do(ctx, func() {
		openErr = s.nav.Open(ctx)
		loaded = s.store.Len()
	}); err != nil {
		s.halt()
		return nil, err
	}
	if openErr != nil {
		s.halt()
		return nil, fmt.Errorf("opening workflow %s: %w", cfg.WorkflowID, openErr)
	}

	logger.Info("session opened", "workflow_id", s.id, "nodes", loaded)
	return s, nil
}

// WorkflowID returns the id of the workflow this session edits.
func (s *Session) WorkflowID() string { return s.id }

func (s *Session) run() {
	defer close(s.done)
	for {
		select {
		case fn := <-s.events:
			fn()
		case <-s.stop:
			return
		}
	}
}

// post queues fn from any goroutine. After the session stops it is dropped.
func (s *Session) post(fn func()) {
	select {
	case s.events <- fn:
	case <-s.done:
	}
}

// do runs fn on the session goroutine and waits for it. Once fn has been
// queued it always runs to completion; ctx only bounds the wait for a slot.
func (s *Session) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	wrapped := func() {
		defer close(finished)
		fn()
	}

	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	select {
	case s.events <- wrapped:
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-s.done:
		return ErrClosed
	}
}

func (s *Session) halt() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

// read evaluates fn on the session goroutine.
func read[T any](ctx context.Context, s *Session, fn func() T) (T, error) {
	var v T
	err := s.do(ctx, func() { v = fn() })
	return v, err
}

// snapshot builds the State. Session goroutine only.
func (s *Session) snapshot() State {
	st := State{
		WorkflowID: s.id,
		Address:    s.store.Address(),
		Breadcrumb: s.nav.Trail(),
		Nodes:      s.store.Nodes(),
		Edges:      s.store.Edges(),
		SaveStatus: s.saver.Status(),
		CanUndo:    s.hist.CanUndo(),
		CanRedo:    s.hist.CanRedo(),
	}
	if err := s.saver.LastError(); err != nil {
		st.SaveError = err.Error()
	}
	return st
}

// changed records the store's current state and schedules a save.
// Session goroutine only.
func (s *Session) changed(mode history.Mode) {
	s.hist.Capture(history.NewSnapshot(s.store.Nodes(), s.store.Edges()), mode)
	s.saver.Touch()
	s.notify()
}

func (s *Session) notify() {
	if s.onChange != nil {
		s.onChange(s.snapshot())
	}
}

// mutate applies fn and, when it succeeds, records the edit.
func (s *Session) mutate(ctx context.Context, fn func() error) error {
	var err error
	if derr := s.do(ctx, func() {
		if err = fn(); err == nil {
			s.changed(history.Record)
		}
	}); derr != nil {
		return derr
	}
	return err
}

// State returns a view of the session.
func (s *Session) State(ctx context.Context) (State, error) {
	return read(ctx, s, s.snapshot)
}

// Address returns the address of the active canvas.
func (s *Session) Address(ctx context.Context) (workflow.Address, error) {
	return read(ctx, s, s.store.Address)
}

// Breadcrumb returns the trail from the root to the active canvas.
func (s *Session) Breadcrumb(ctx context.Context) (navigation.Trail, error) {
	return read(ctx, s, s.nav.Trail)
}

// Nodes returns a copy of the nodes on the active canvas.
func (s *Session) Nodes(ctx context.Context) ([]workflow.Node, error) {
	return read(ctx, s, s.store.Nodes)
}

// Edges returns a copy of the edges on the active canvas.
func (s *Session) Edges(ctx context.Context) ([]workflow.Edge, error) {
	return read(ctx, s, s.store.Edges)
}

// CanUndo reports whether Undo would change anything.
func (s *Session) CanUndo(ctx context.Context) (bool, error) {
	return read(ctx, s, s.hist.CanUndo)
}

// CanRedo reports whether Redo would change anything.
func (s *Session) CanRedo(ctx context.Context) (bool, error) {
	return read(ctx, s, s.hist.CanRedo)
}

// SaveStatus returns the autosave status.
func (s *Session) SaveStatus(ctx context.Context) (autosave.Status, error) {
	return read(ctx, s, s.saver.Status)
}

// AddNode adds a node to the active canvas. An empty ID is generated and an
// empty layer places the node on the active canvas.
func (s *Session) AddNode(ctx context.Context, n workflow.Node) (workflow.Node, error) {
	var added workflow.Node
	err := s.mutate(ctx, func() (err error) {
		added, err = s.store.AddNode(n)
		return err
	})
	return added, err
}

// UpdateNode merges patch into a node.
func (s *Session) UpdateNode(ctx context.Context, id string, patch workflow.NodePatch) (workflow.Node, error) {
	var updated workflow.Node
	err := s.mutate(ctx, func() (err error) {
		updated, err = s.store.UpdateNode(id, patch)
		return err
	})
	return updated, err
}

// DeleteNode removes a node and the edges touching it.
func (s *Session) DeleteNode(ctx context.Context, id string) error {
	return s.mutate(ctx, func() error {
		_, err := s.store.DeleteNode(id)
		return err
	})
}

// AddEdge connects two nodes of the active canvas. A dangling endpoint is
// rejected with workflow.ErrInvalidReference and nothing changes.
func (s *Session) AddEdge(ctx context.Context, e workflow.Edge) (workflow.Edge, error) {
	var added workflow.Edge
	err := s.mutate(ctx, func() (err error) {
		added, err = s.store.AddEdge(e)
		return err
	})
	return added, err
}

// DeleteEdge removes one edge.
func (s *Session) DeleteEdge(ctx context.Context, id string) error {
	return s.mutate(ctx, func() error {
		return s.store.DeleteEdge(id)
	})
}

// Undo restores the previous state. It returns false when there is none.
func (s *Session) Undo(ctx context.Context) (bool, error) {
	return s.replay(ctx, s.hist.Undo)
}

// Redo re-applies the state Undo left. It returns false when there is none.
func (s *Session) Redo(ctx context.Context) (bool, error) {
	return s.replay(ctx, s.hist.Redo)
}

func (s *Session) replay(ctx context.Context, step func() (history.Snapshot, bool)) (bool, error) {
	return read(ctx, s, func() bool {
		snap, ok := step()
		if !ok {
			return false
		}
		s.store.Restore(snap.Nodes, snap.Edges)
		s.changed(history.Replay)
		return true
	})
}

// DrillDown opens the canvas beneath an ACTION node. It returns false when
// the node cannot be drilled into.
func (s *Session) DrillDown(ctx context.Context, nodeID string) (bool, error) {
	return s.navigate(ctx, func() (bool, error) { return s.nav.DrillDown(ctx, nodeID) })
}

// DrillUp returns to a canvas on the breadcrumb, or to the root for
// STRATEGIC. It returns false when the target is not on the trail.
func (s *Session) DrillUp(ctx context.Context, layer workflow.Layer, nodeID string) (bool, error) {
	return s.navigate(ctx, func() (bool, error) { return s.nav.DrillUp(ctx, layer, nodeID) })
}

// navigate drains pending saves before moving, so the target canvas is
// never read while a write to it is still in flight.
func (s *Session) navigate(ctx context.Context, move func() (bool, error)) (bool, error) {
	idle := make(chan struct{})
	if err := s.do(ctx, func() {
		s.saver.Flush()
		s.saver.WhenIdle(func() { close(idle) })
	}); err != nil {
		return false, err
	}
	select {
	case <-idle:
	case <-s.done:
		return false, ErrClosed
	case <-ctx.Done():
		return false, ctx.Err()
	}

	var (
		moved bool
		err   error
	)
	if derr := s.do(ctx, func() {
		from := s.store.Address()
		moved, err = move()
		if moved {
			s.logger.Debug("session navigated", "workflow_id", s.id, "from", from.String(), "to", s.store.Address().String())
			s.notify()
		}
	}); derr != nil {
		return false, derr
	}
	return moved, err
}

// AutoLayout repositions every node of the active canvas and returns how
// many moved. A layout that moves nothing is not recorded.
func (s *Session) AutoLayout(ctx context.Context) (int, error) {
	return read(ctx, s, func() int {
		positions := layout.Compute(s.layout, s.store.Nodes(), s.store.Edges())
		moved := s.store.SetPositions(positions)
		if moved > 0 {
			s.changed(history.Record)
		}
		return moved
	})
}

// InsertTemplate expands tmpl at anchor on the active canvas. The whole
// subgraph is one history entry and one coalesced save.
func (s *Session) InsertTemplate(ctx context.Context, tmpl workflow.ActionTemplate, anchor workflow.Position) (*template.Expansion, error) {
	var exp *template.Expansion
	err := s.mutate(ctx, func() error {
		var err error
		exp, err = template.Expand(tmpl, anchor, s.store.Address(), nil)
		if err != nil {
			return err
		}
		_, _, err = s.store.AddSubgraph(exp.Nodes(), exp.Edges)
		return err
	})
	if err != nil {
		return nil, err
	}
	return exp, nil
}

// InsertTemplateByID looks a template up in the repository and inserts it.
func (s *Session) InsertTemplateByID(ctx context.Context, templateID string, anchor workflow.Position) (*template.Expansion, error) {
	templates, err := s.repo.ListActionTemplates(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing action templates: %w", err)
	}
	tmpl, err := template.Find(templates, templateID)
	if err != nil {
		return nil, err
	}
	return s.InsertTemplate(ctx, tmpl, anchor)
}

// Flush saves pending edits now and waits until no save is in flight. It
// returns the error of the last save if that failed.
func (s *Session) Flush(ctx context.Context) error {
	idle := make(chan error, 1)
	if err := s.do(ctx, func() {
		s.saver.Flush()
		s.saver.WhenIdle(func() { idle <- s.saver.LastError() })
	}); err != nil {
		return err
	}
	select {
	case err := <-idle:
		return err
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes pending edits and stops the session. It is safe to call
// more than once. The session stops even when the final save fails or ctx
// expires; that error is returned.
func (s *Session) Close(ctx context.Context) error {
	err := s.Flush(ctx)
	if errors.Is(err, ErrClosed) {
		return nil
	}
	s.halt()
	if err != nil {
		s.logger.Warn("session closed with unsaved changes", "workflow_id", s.id, "error", err)
		return fmt.Errorf("closing session %s: %w", s.id, err)
	}
	s.logger.Info("session closed", "workflow_id", s.id)
	return nil
}

// Done is closed once the session has stopped.
func (s *Session) Done() <-chan struct{} { return s.done }
