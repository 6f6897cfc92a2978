// Package api implements the HTTP REST API and WebSocket server for LayerFlow Core.
//
// This package provides:
//   - REST endpoints for workflow metadata, export/import and templates
//   - Session endpoints that run editor commands against a workflow
//   - A WebSocket hub that pushes session state to live editors
//   - An activity log of workflow-level changes (GET /activity)
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Architecture
//
// The server never touches a canvas directly. Edits go through the
// session.Registry, which owns one single-threaded session per open
// workflow; the same sessions are reachable over the MQTT bus. State
// changes are fanned out to WebSocket clients subscribed to
// "session.<workflow_id>".
//
// Template expansion over REST (POST /workflows/{id}/expand) writes straight
// to the repository and is refused with 409 while the workflow has an open
// session, so the session's autosave cannot overwrite it. No session can open
// on the workflow until the commit returns.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
