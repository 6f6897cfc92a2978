// Package bus connects workflow sessions to MQTT.
//
// The Bridge subscribes to every session's command topic, runs each command
// against the session of that workflow (opening it on demand) and answers
// on the result topic. It also publishes canvas state after every change
// and the autosave status, retained, so a late subscriber sees where a
// session stands.
//
//	layerflow/session/{id}/command   <- {"op": "add_node", ...}
//	layerflow/session/{id}/result    -> {"request_id": ..., "ok": true, "state": {...}}
//	layerflow/session/{id}/state     -> session.State after each change
//	layerflow/session/{id}/save      -> autosave.StatusEvent (retained)
//
// Commands are applied by one worker in arrival order, so two commands for
// the same workflow are never reordered. Outbound messages go through a
// separate publisher goroutine; when its queue is full new messages are
// dropped and logged rather than blocking a session.
package bus
