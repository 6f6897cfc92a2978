// Package autosave persists the active canvas after edits settle.
//
// Every edit calls Touch, which marks the canvas dirty and restarts a single
// debounce timer. When the timer fires, the full node and edge set of the
// active address is written as one batch, so a burst of edits (a template
// insert, a dragged selection) costs one save.
//
// # Concurrency
//
// A Syncer belongs to one session goroutine. Timer callbacks and save results
// arrive on other goroutines and are handed back through Config.Post, so all
// state changes happen on the session goroutine and no locking is needed.
//
// The batch is captured, address included, when the save starts. Leaving a
// canvas calls Flush, which cancels the timer and saves immediately; a timer
// that fires anyway is recognised by its generation and ignored. A result that
// arrives after the session has moved on only updates the status. While one
// save is in flight, newer batches wait in a queue holding at most one batch
// per address.
//
// # Failures
//
// A failed save sets status error and leaves the canvas dirty. It is not
// retried on a timer of its own; the next edit or Flush sends it again.
package autosave
