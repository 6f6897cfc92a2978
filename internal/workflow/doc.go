// Package workflow holds the layered graph model of LayerFlow Core.
//
// A workflow is partitioned into independent sub-canvases. Each one is
// addressed by a layer and, below the top layer, the ACTION node it hangs
// off:
//
//	STRATEGIC (root, no parent)
//	   └── ACTION a1 ──▶ TACTICAL/a1
//	                        └── ACTION t7 ──▶ EXECUTION/t7 (terminal)
//
// Only one sub-canvas is loaded at a time. Store holds it in memory and is
// the single source of truth for the editor; every mutation is validated
// before anything changes, so a rejected edit leaves the store as it was.
//
// # Key Types
//
//   - Node, Edge: the graph elements; ParentNodeID is a plain identifier
//   - Address: (layer, parent node id) of a sub-canvas
//   - Store: the loaded sub-canvas with its mutations
//   - Repository: the persistence contract; SQLiteRepository implements it
//   - ExportDocument: a whole workflow nested by layer then sub-canvas
//
// # Thread Safety
//
// Store is not safe for concurrent use; one session goroutine owns it.
// SQLiteRepository is safe for concurrent use.
//
// # Usage
//
//	repo := workflow.NewSQLiteRepository(db.DB)
//	nodes, _ := repo.GetNodes(ctx, wfID, workflow.LayerStrategic, nil)
//	edges, _ := repo.GetEdges(ctx, wfID, workflow.LayerStrategic)
//
//	store := workflow.NewStore()
//	store.Load(workflow.Root(), nodes, edges)
//	if _, err := store.AddEdge(workflow.Edge{SourceID: "i1", TargetID: "a1"}); err != nil {
//	    // errors.Is(err, workflow.ErrInvalidReference) for a missing endpoint
//	}
package workflow
