package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/layerflow/layerflow-core/internal/workflow"
)

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	repo := setupRepo(t)
	w1 := createWorkflow(t, repo)
	w2 := createWorkflow(t, repo)

	reg := NewRegistry(Config{Repository: repo})
	t.Cleanup(func() { reg.CloseAll(ctx) })

	s1, err := reg.Get(ctx, w1)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	again, err := reg.Get(ctx, w1)
	if err != nil || again != s1 {
		t.Errorf("second Get() returned a different session (%v)", err)
	}
	if s1.WorkflowID() != w1 {
		t.Errorf("WorkflowID() = %s, want %s", s1.WorkflowID(), w1)
	}

	if _, err := reg.Get(ctx, w2); err != nil {
		t.Fatalf("Get(w2) error = %v", err)
	}
	if reg.Len() != 2 || !reg.IsOpen(w2) {
		t.Errorf("Len() = %d, IsOpen(w2) = %v", reg.Len(), reg.IsOpen(w2))
	}

	if _, err := s1.AddNode(ctx, workflow.Node{ID: "i1", Type: workflow.NodeIssue}); err != nil {
		t.Fatal(err)
	}
	if err := reg.Close(ctx, w1); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if reg.IsOpen(w1) {
		t.Error("IsOpen() after Close()")
	}

	// Reopening reads back what the closed session saved.
	reopened, err := reg.Get(ctx, w1)
	if err != nil {
		t.Fatal(err)
	}
	if reopened == s1 {
		t.Error("Get() after Close() returned the stopped session")
	}
	nodes, err := reopened.Nodes(ctx)
	if err != nil || len(nodes) != 1 {
		t.Errorf("reopened nodes = %d, %v, want 1", len(nodes), err)
	}

	if _, err := reg.Get(ctx, "missing"); err == nil {
		t.Error("Get(missing) error = nil")
	}
	if reg.IsOpen("missing") {
		t.Error("failed open was registered")
	}

	if err := reg.CloseAll(ctx); err != nil {
		t.Errorf("CloseAll() error = %v", err)
	}
	if reg.Len() != 0 {
		t.Errorf("Len() after CloseAll() = %d", reg.Len())
	}
	if err := reg.Close(ctx, w2); err != nil {
		t.Errorf("Close() of a closed workflow error = %v", err)
	}
}

func TestRegistry_WithoutSession(t *testing.T) {
	ctx := context.Background()
	repo := setupRepo(t)
	wfID := createWorkflow(t, repo)

	reg := NewRegistry(Config{Repository: repo})
	t.Cleanup(func() { reg.CloseAll(ctx) })

	opened := make(chan error, 1)
	err := reg.WithoutSession(ctx, wfID, func() error {
		go func() {
			_, err := reg.Get(ctx, wfID)
			opened <- err
		}()
		select {
		case err := <-opened:
			t.Errorf("Get() returned inside WithoutSession (%v)", err)
		case <-time.After(50 * time.Millisecond):
		}

		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		if _, err := reg.Get(cancelled, wfID); !errors.Is(err, context.Canceled) {
			t.Errorf("Get() with cancelled context error = %v, want context.Canceled", err)
		}
		if reg.IsOpen(wfID) {
			t.Error("session opened inside WithoutSession")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithoutSession() error = %v", err)
	}

	select {
	case err := <-opened:
		if err != nil {
			t.Fatalf("waiting Get() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Get() still blocked after WithoutSession returned")
	}

	called := false
	err = reg.WithoutSession(ctx, wfID, func() error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrSessionOpen) {
		t.Errorf("WithoutSession() with open session error = %v, want ErrSessionOpen", err)
	}
	if called {
		t.Error("fn ran while a session was open")
	}

	failure := errors.New("commit failed")
	if err := reg.Close(ctx, wfID); err != nil {
		t.Fatal(err)
	}
	if err := reg.WithoutSession(ctx, wfID, func() error { return failure }); !errors.Is(err, failure) {
		t.Errorf("WithoutSession() error = %v, want fn's error", err)
	}
}
