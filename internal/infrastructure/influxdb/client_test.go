package influxdb

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/layerflow/layerflow-core/internal/infrastructure/config"
)

func testConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "layerflow-dev-token",
		Org:           "layerflow",
		Bucket:        "metrics",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

// skipIfNoInfluxDB skips unless RUN_INTEGRATION is set and a server answers.
func skipIfNoInfluxDB(t *testing.T) *Client {
	t.Helper()
	if os.Getenv("RUN_INTEGRATION") == "" {
		t.Skip("RUN_INTEGRATION not set, skipping InfluxDB test")
	}
	client, err := Connect(testConfig())
	if err != nil {
		t.Skipf("InfluxDB not available: %v", err)
	}
	t.Cleanup(func() { client.Close() }) //nolint:errcheck // Test cleanup
	return client
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	_, err := Connect(cfg)
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestBatchSettings(t *testing.T) {
	tests := []struct {
		name      string
		batch     int
		flush     int
		wantBatch int
		wantFlush int
	}{
		{"configured", 500, 5, 500, 5},
		{"zero uses defaults", 0, 0, defaultBatchSize, defaultFlushInterval},
		{"negative uses defaults", -1, -10, defaultBatchSize, defaultFlushInterval},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.BatchSize, cfg.FlushInterval = tt.batch, tt.flush
			b, f := batchSettings(cfg)
			if b != tt.wantBatch || f != tt.wantFlush {
				t.Errorf("batchSettings() = (%d, %d), want (%d, %d)", b, f, tt.wantBatch, tt.wantFlush)
			}
		})
	}
}

func TestSaveMetricPoint(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	p := saveMetricPoint("wf-1", "TACTICAL", false, 1500*time.Millisecond, 7, 5, at)

	if p.Name() != measurementAutosave {
		t.Errorf("Name() = %q", p.Name())
	}
	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	if tags["workflow_id"] != "wf-1" || tags["layer"] != "TACTICAL" || tags["outcome"] != "error" {
		t.Errorf("tags = %v", tags)
	}
	fields := map[string]any{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	if fields["duration_ms"] != int64(1500) {
		t.Errorf("duration_ms = %v", fields["duration_ms"])
	}
	if fields["nodes"] != int64(7) || fields["edges"] != int64(5) {
		t.Errorf("counts = %v / %v", fields["nodes"], fields["edges"])
	}
	if !p.Time().Equal(at) {
		t.Errorf("Time() = %v, want %v", p.Time(), at)
	}
}

func TestCommandMetricPoint(t *testing.T) {
	p := commandMetricPoint("wf-1", "drill_down", true, time.Now())
	if p.Name() != measurementCommand {
		t.Errorf("Name() = %q", p.Name())
	}
	found := false
	for _, tag := range p.TagList() {
		if tag.Key == "op" && tag.Value == "drill_down" {
			found = true
		}
	}
	if !found {
		t.Error("op tag missing")
	}
}

func TestDisconnectedClient(t *testing.T) {
	c := &Client{}

	// Writes on a client that never connected are dropped, not panics.
	c.WriteSaveMetric("wf", "STRATEGIC", true, time.Millisecond, 1, 0)
	c.WriteCommandMetric("wf", "undo", true)
	c.Flush()

	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestWriteSaveMetric_Integration(t *testing.T) {
	client := skipIfNoInfluxDB(t)

	client.WriteSaveMetric("wf-int", "STRATEGIC", true, 12*time.Millisecond, 3, 2)
	client.Flush()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}
