// Package history keeps the bounded undo/redo stack of one sub-canvas.
//
// Entries are full snapshots of the canvas after each change. The stack
// never spans two canvases: loading a canvas calls Reset.
//
// Whether a capture comes from a user edit or from replaying an undo/redo
// is stated by the caller through Mode on every Capture, so the manager
// holds no hidden guard between calls.
package history

import (
	"fmt"

	"github.com/layerflow/layerflow-core/internal/workflow"
)

// DefaultLimit is the undo depth used when no limit is configured.
const DefaultLimit = 50

// Mode says where a captured state came from.
type Mode int

const (
	// Record is a user edit; it becomes a new undo step.
	Record Mode = iota

	// Replay is the state produced by applying an Undo or Redo snapshot;
	// it is absorbed without recording.
	Replay
)

func (m Mode) String() string {
	switch m {
	case Record:
		return "record"
	case Replay:
		return "replay"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Snapshot is a deep copy of a canvas's nodes and edges.
type Snapshot struct {
	Nodes []workflow.Node
	Edges []workflow.Edge
}

// NewSnapshot deep-copies nodes and edges into a Snapshot.
func NewSnapshot(nodes []workflow.Node, edges []workflow.Edge) Snapshot {
	return Snapshot{Nodes: workflow.CloneNodes(nodes), Edges: workflow.CloneEdges(edges)}
}

func (s Snapshot) clone() Snapshot {
	return NewSnapshot(s.Nodes, s.Edges)
}

// Manager is the undo/redo stack. The zero value is not usable; call New.
//
// Manager is not safe for concurrent use; the owning session serialises
// access.
type Manager struct {
	entries []Snapshot
	cursor  int

	// limit is the undo depth; entries holds at most limit+1 states.
	limit int
}

// New returns a manager holding a single empty snapshot.
// A limit below 1 selects DefaultLimit.
func New(limit int) *Manager {
	if limit < 1 {
		limit = DefaultLimit
	}
	return &Manager{
		entries: []Snapshot{NewSnapshot(nil, nil)},
		limit:   limit,
	}
}

// Reset replaces the whole stack with one entry holding s.
func (m *Manager) Reset(s Snapshot) {
	m.entries = []Snapshot{s.clone()}
	m.cursor = 0
}

// Capture records the state after a change.
//
// In Replay mode it does nothing and returns false. In Record mode it drops
// any redo branch and appends a copy of s, evicting the oldest entry once
// the undo depth would exceed the limit.
func (m *Manager) Capture(s Snapshot, mode Mode) bool {
	m.check()
	if mode == Replay {
		return false
	}
	m.entries = append(m.entries[:m.cursor+1], s.clone())
	if len(m.entries) > m.limit+1 {
		drop := len(m.entries) - (m.limit + 1)
		m.entries = append([]Snapshot(nil), m.entries[drop:]...)
	}
	m.cursor = len(m.entries) - 1
	return true
}

// Undo steps back one entry and returns a copy of it. The caller applies it
// to the store and captures the result with Replay.
func (m *Manager) Undo() (Snapshot, bool) {
	m.check()
	if m.cursor == 0 {
		return Snapshot{}, false
	}
	m.cursor--
	return m.entries[m.cursor].clone(), true
}

// Redo steps forward one entry and returns a copy of it.
func (m *Manager) Redo() (Snapshot, bool) {
	m.check()
	if m.cursor >= len(m.entries)-1 {
		return Snapshot{}, false
	}
	m.cursor++
	return m.entries[m.cursor].clone(), true
}

// CanUndo reports whether Undo would move.
func (m *Manager) CanUndo() bool { return m.cursor > 0 }

// CanRedo reports whether Redo would move.
func (m *Manager) CanRedo() bool { return m.cursor < len(m.entries)-1 }

// Len returns the number of entries.
func (m *Manager) Len() int { return len(m.entries) }

// Cursor returns the index of the current entry.
func (m *Manager) Cursor() int { return m.cursor }

// Current returns a copy of the entry at the cursor.
func (m *Manager) Current() Snapshot {
	m.check()
	return m.entries[m.cursor].clone()
}

// check panics when the cursor has left the stack. That can only happen
// through a bug in this package.
func (m *Manager) check() {
	if m.cursor < 0 || m.cursor >= len(m.entries) {
		panic(fmt.Sprintf("history: cursor %d outside stack of %d entries", m.cursor, len(m.entries)))
	}
}
