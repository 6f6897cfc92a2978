// Package session runs one open workflow.
//
// A Session owns the in-memory canvas of a workflow and everything that
// hangs off it: the GraphStore, the undo/redo history, the breadcrumb
// navigation and the debounced autosave. All of that state is confined to a
// single goroutine that consumes a FIFO of events. Public methods, debounce
// timer firings and persistence responses are all posted to that queue and
// processed strictly one at a time, so none of the components underneath
// needs a lock.
//
// Every edit follows the same path:
//
//	store mutation -> history capture (Record) -> autosave Touch -> OnChange
//
// Undo and redo restore a snapshot into the store and capture the result in
// Replay mode, which the history absorbs.
//
// Key Types:
//   - Session: one open workflow
//   - Registry: the sessions of a process, opened on demand
//   - Command / Execute: the JSON command set shared by the MQTT bus and the
//     websocket endpoint
//
// Thread Safety:
//   - All Session and Registry methods are safe for concurrent use.
//
// Usage:
//
//	s, err := session.Open(ctx, session.Config{Repository: repo, WorkflowID: id})
//	if err != nil {
//	    return err
//	}
//	defer s.Close(ctx)
//	n, err := s.AddNode(ctx, workflow.Node{Type: workflow.NodeIssue})
package session
