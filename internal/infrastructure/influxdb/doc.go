// Package influxdb records LayerFlow save and command metrics in InfluxDB.
//
// It wraps influxdb-client-go v2 with the batched, non-blocking write API.
// Every autosave batch produces one "autosave" point tagged with the workflow,
// layer and outcome, so save latency and failure rate can be charted per
// workflow. Commands received over the MQTT bus produce "session_command" points.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteSaveMetric(workflowID, "TACTICAL", true, 42*time.Millisecond, 12, 9)
//
// Writes on a disconnected or closed client are dropped silently.
package influxdb
