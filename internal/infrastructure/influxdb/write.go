package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by LayerFlow.
const (
	measurementAutosave = "autosave"
	measurementCommand  = "session_command"
)

// WriteSaveMetric records the outcome of one autosave batch.
//
// Tags: workflow_id, layer, outcome (ok|error).
// Fields: duration_ms, nodes, edges.
func (c *Client) WriteSaveMetric(workflowID, layer string, ok bool, duration time.Duration, nodes, edges int) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(saveMetricPoint(workflowID, layer, ok, duration, nodes, edges, time.Now()))
}

// WriteCommandMetric records a command applied to a session over the bus.
func (c *Client) WriteCommandMetric(workflowID, op string, ok bool) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(commandMetricPoint(workflowID, op, ok, time.Now()))
}

func saveMetricPoint(workflowID, layer string, ok bool, duration time.Duration, nodes, edges int, at time.Time) *write.Point {
	return write.NewPoint(
		measurementAutosave,
		map[string]string{
			"workflow_id": workflowID,
			"layer":       layer,
			"outcome":     outcome(ok),
		},
		map[string]interface{}{
			"duration_ms": duration.Milliseconds(),
			"nodes":       nodes,
			"edges":       edges,
		},
		at,
	)
}

func commandMetricPoint(workflowID, op string, ok bool, at time.Time) *write.Point {
	return write.NewPoint(
		measurementCommand,
		map[string]string{
			"workflow_id": workflowID,
			"op":          op,
			"outcome":     outcome(ok),
		},
		map[string]interface{}{
			"count": 1,
		},
		at,
	)
}

func outcome(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
