package autosave

import (
	"context"
	"time"

	"github.com/layerflow/layerflow-core/internal/workflow"
)

// Reference timings.
const (
	DefaultDelay   = 3 * time.Second
	DefaultTimeout = 10 * time.Second
)

// Status is the persistence state shown to the user.
type Status string

const (
	StatusIdle   Status = "idle"
	StatusSaving Status = "saving"
	StatusSaved  Status = "saved"
	StatusError  Status = "error"
)

// Saver writes one canvas. workflow.Repository satisfies it.
type Saver interface {
	AutoSave(ctx context.Context, workflowID string, addr workflow.Address, nodes []workflow.Node, edges []workflow.Edge) error
}

// StatusEvent describes a status change.
type StatusEvent struct {
	WorkflowID string    `json:"workflow_id"`
	Status     Status    `json:"status"`
	Address    string    `json:"address,omitempty"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

// StatusPublisher is told about every status change. Implementations must
// not block.
type StatusPublisher interface {
	PublishSaveStatus(ev StatusEvent)
}

// Publishers fans a status change out to several publishers in order.
type Publishers []StatusPublisher

// PublishSaveStatus implements StatusPublisher.
func (ps Publishers) PublishSaveStatus(ev StatusEvent) {
	for _, p := range ps {
		p.PublishSaveStatus(ev)
	}
}

// MetricsRecorder receives one sample per finished save.
// influxdb.Client satisfies it.
type MetricsRecorder interface {
	WriteSaveMetric(workflowID, layer string, ok bool, duration time.Duration, nodes, edges int)
}

// Logger defines the logging interface used by the syncer.
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

// Config wires a Syncer. Saver, Post and Source are required.
type Config struct {
	Saver      Saver
	WorkflowID string

	// Delay is the debounce interval; zero selects DefaultDelay.
	Delay time.Duration

	// Timeout bounds one save call; zero selects DefaultTimeout.
	Timeout time.Duration

	// Scheduler creates the debounce timer; nil uses the wall clock.
	Scheduler Scheduler

	// Post runs f on the session goroutine. It must be safe to call from
	// any goroutine.
	Post func(f func())

	// Source returns the active canvas. It is called on the session
	// goroutine when a save starts.
	Source func() (workflow.Address, []workflow.Node, []workflow.Edge)

	Publisher StatusPublisher
	Metrics   MetricsRecorder
	Logger    Logger
}

type batch struct {
	addr  workflow.Address
	nodes []workflow.Node
	edges []workflow.Edge
}

// Syncer debounces saves of one session's canvas. All methods must be
// called on the session goroutine.
type Syncer struct {
	cfg    Config
	logger Logger

	dirty bool
	gen   uint64
	timer Timer

	inFlight bool
	queue    []batch

	status  Status
	lastErr error
	waiters []func()
}

// New creates an idle Syncer.
func New(cfg Config) *Syncer {
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultDelay
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = WallClock{}
	}
	s := &Syncer{cfg: cfg, logger: cfg.Logger, status: StatusIdle}
	if s.logger == nil {
		s.logger = noopLogger{}
	}
	return s
}

// Status returns the current status.
func (s *Syncer) Status() Status { return s.status }

// LastError returns the error of the most recent failed save, cleared by the
// next successful one.
func (s *Syncer) LastError() error { return s.lastErr }

// Dirty reports whether the canvas has edits no save has picked up yet.
func (s *Syncer) Dirty() bool { return s.dirty }

// Busy reports whether anything is unsaved, scheduled, in flight or queued.
func (s *Syncer) Busy() bool {
	return s.dirty || s.inFlight || len(s.queue) > 0
}

// Touch records an edit and restarts the debounce timer.
func (s *Syncer) Touch() {
	s.dirty = true
	s.gen++
	s.stopTimer()

	gen := s.gen
	s.timer = s.cfg.Scheduler.AfterFunc(s.cfg.Delay, func() {
		s.cfg.Post(func() { s.fire(gen) })
	})
}

// Flush cancels the timer and saves the active canvas now if it is dirty.
func (s *Syncer) Flush() {
	s.gen++
	s.stopTimer()
	if s.dirty {
		s.save()
	}
}

// Discard cancels the timer and forgets unsaved edits, e.g. after the canvas
// was reloaded from storage.
func (s *Syncer) Discard() {
	s.gen++
	s.stopTimer()
	s.dirty = false
}

// WhenIdle calls fn once no save is in flight or queued, whatever the
// outcome of those saves. If none is, fn runs immediately. Call Flush first
// to include unsaved edits.
func (s *Syncer) WhenIdle(fn func()) {
	if s.idle() {
		fn()
		return
	}
	s.waiters = append(s.waiters, fn)
}

func (s *Syncer) idle() bool {
	return !s.inFlight && len(s.queue) == 0
}

func (s *Syncer) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Syncer) fire(gen uint64) {
	if gen != s.gen {
		s.logger.Debug("stale autosave timer ignored", "workflow_id", s.cfg.WorkflowID)
		return
	}
	s.timer = nil
	if s.dirty {
		s.save()
	}
}

// save captures the active canvas and sends it, or queues it behind the
// save in flight.
func (s *Syncer) save() {
	addr, nodes, edges := s.cfg.Source()
	s.dirty = false
	b := batch{addr: addr, nodes: nodes, edges: edges}

	if !s.inFlight {
		s.send(b)
		return
	}
	for i := range s.queue {
		if s.queue[i].addr.Equal(b.addr) {
			s.queue[i] = b
			return
		}
	}
	s.queue = append(s.queue, b)
}

func (s *Syncer) send(b batch) {
	s.inFlight = true
	s.setStatus(StatusSaving, b.addr, nil)

	saver, timeout, workflowID, post := s.cfg.Saver, s.cfg.Timeout, s.cfg.WorkflowID, s.cfg.Post
	go func() {
		start := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		err := saver.AutoSave(ctx, workflowID, b.addr, b.nodes, b.edges)
		cancel()
		elapsed := time.Since(start)
		post(func() { s.complete(b, err, elapsed) })
	}()
}

func (s *Syncer) complete(b batch, err error, elapsed time.Duration) {
	s.inFlight = false
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.WriteSaveMetric(s.cfg.WorkflowID, string(b.addr.Layer), err == nil, elapsed, len(b.nodes), len(b.edges))
	}

	if err != nil {
		s.lastErr = err
		s.logger.Warn("autosave failed",
			"workflow_id", s.cfg.WorkflowID,
			"address", b.addr.String(),
			"error", err,
		)
		if s.isActive(b.addr) {
			s.dirty = true
		}
		s.setStatus(StatusError, b.addr, err)
	} else {
		s.lastErr = nil
		s.logger.Debug("autosave complete",
			"workflow_id", s.cfg.WorkflowID,
			"address", b.addr.String(),
			"nodes", len(b.nodes),
			"edges", len(b.edges),
			"duration_ms", elapsed.Milliseconds(),
		)
		s.setStatus(StatusSaved, b.addr, nil)
	}

	if len(s.queue) > 0 {
		next := s.queue[0]
		s.queue = s.queue[1:]
		s.send(next)
		return
	}
	if s.idle() {
		waiters := s.waiters
		s.waiters = nil
		for _, fn := range waiters {
			fn()
		}
	}
}

// isActive reports whether addr is still the canvas the session shows.
func (s *Syncer) isActive(addr workflow.Address) bool {
	current, _, _ := s.cfg.Source()
	return current.Equal(addr)
}

func (s *Syncer) setStatus(status Status, addr workflow.Address, err error) {
	s.status = status
	if s.cfg.Publisher == nil {
		return
	}
	ev := StatusEvent{
		WorkflowID: s.cfg.WorkflowID,
		Status:     status,
		Address:    addr.String(),
		At:         time.Now().UTC(),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	s.cfg.Publisher.PublishSaveStatus(ev)
}
