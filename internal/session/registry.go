package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Registry holds the open sessions of a process, at most one per workflow.
type Registry struct {
	base Config

	mu       sync.Mutex
	sessions map[string]*Session
	// guarded holds workflows inside WithoutSession. The channel closes
	// when the guarded function returns.
	guarded map[string]chan struct{}
}

// NewRegistry creates an empty registry. Sessions it opens use base with
// WorkflowID replaced.
func NewRegistry(base Config) *Registry {
	return &Registry{
		base:     base,
		sessions: make(map[string]*Session),
		guarded:  make(map[string]chan struct{}),
	}
}

// Get returns the session of a workflow, opening it if needed. Opening
// waits while the workflow is inside WithoutSession.
func (r *Registry) Get(ctx context.Context, workflowID string) (*Session, error) {
	if err := r.lockUnguarded(ctx, workflowID); err != nil {
		return nil, err
	}
	defer r.mu.Unlock()

	if s, ok := r.sessions[workflowID]; ok {
		select {
		case <-s.Done():
			delete(r.sessions, workflowID)
		default:
			return s, nil
		}
	}

	cfg := r.base
	cfg.WorkflowID = workflowID
	s, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	r.sessions[workflowID] = s
	return s, nil
}

// WithoutSession runs fn while no session can open on the workflow. It
// returns ErrSessionOpen without calling fn if one is already open, so fn
// may write the workflow's canvases straight to the repository.
func (r *Registry) WithoutSession(ctx context.Context, workflowID string, fn func() error) error {
	if err := r.lockUnguarded(ctx, workflowID); err != nil {
		return err
	}
	if s, ok := r.sessions[workflowID]; ok {
		select {
		case <-s.Done():
			delete(r.sessions, workflowID)
		default:
			r.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrSessionOpen, workflowID)
		}
	}
	release := make(chan struct{})
	r.guarded[workflowID] = release
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.guarded, workflowID)
		r.mu.Unlock()
		close(release)
	}()
	return fn()
}

// lockUnguarded acquires mu once workflowID is outside WithoutSession.
func (r *Registry) lockUnguarded(ctx context.Context, workflowID string) error {
	for {
		r.mu.Lock()
		release, ok := r.guarded[workflowID]
		if !ok {
			return nil
		}
		r.mu.Unlock()

		select {
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Lookup returns an already open session.
func (r *Registry) Lookup(workflowID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[workflowID]
	return s, ok
}

// IsOpen reports whether a workflow has a session.
func (r *Registry) IsOpen(workflowID string) bool {
	_, ok := r.Lookup(workflowID)
	return ok
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close flushes and closes one session. Closing a workflow without a
// session is a no-op.
func (r *Registry) Close(ctx context.Context, workflowID string) error {
	r.mu.Lock()
	s, ok := r.sessions[workflowID]
	delete(r.sessions, workflowID)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	return s.Close(ctx)
}

// CloseAll closes every session and returns the joined errors.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	var errs []error
	for id, s := range sessions {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("workflow %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
