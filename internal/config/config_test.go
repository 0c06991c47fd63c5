package config

import (
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func yamlStringNode(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.ListenAddr != ":9090" {
		t.Errorf("listen_addr = %q", cfg.ListenAddr)
	}
	if cfg.RateLimiting.Algorithm != "token_bucket" {
		t.Errorf("rate_limiting.algorithm = %q", cfg.RateLimiting.Algorithm)
	}
	if cfg.Backpressure.HighWatermark != 0.8 || cfg.Backpressure.LowWatermark != 0.4 {
		t.Errorf("watermarks = %v/%v", cfg.Backpressure.HighWatermark, cfg.Backpressure.LowWatermark)
	}
	if !*cfg.DLQ.Enabled || cfg.DLQ.RetentionDays != 7 {
		t.Errorf("dlq defaults = %+v", cfg.DLQ)
	}
	if cfg.Checkpoint.SyncMode != "async" {
		t.Errorf("checkpoint.sync_mode = %q", cfg.Checkpoint.SyncMode)
	}
	if cfg.Batching.MaxSize != 500 || cfg.Batching.MaxWait.Std() != 200*time.Millisecond {
		t.Errorf("batching defaults = %+v", cfg.Batching)
	}
	if cfg.Compression.Algorithm != "hybrid" {
		t.Errorf("compression.algorithm = %q", cfg.Compression.Algorithm)
	}
}

func TestParseFull(t *testing.T) {
	data := `
listen_addr: ":8080"
pipeline:
  sources:
    - name: pg-primary
      path: data/pg-primary.jsonl
    - name: mysql-shard-1
      path: data/mysql-shard-1.jsonl
  shutdown_grace: 10s
rate_limiting:
  algorithm: adaptive
  adaptive:
    target_latency: 250ms
    min_rate: 500
    max_rate: 50000
backpressure:
  strategy: adaptive_throttle
  high_watermark: 0.9
  low_watermark: 0.5
  buffer_size: 4096
circuit_breaker:
  failure_threshold: 10
  timeout: 15s
dlq:
  path: /var/lib/cdc/dlq
  max_segment_bytes: 16Mi
  max_retries: 3
compression:
  algorithm: zstd
  level: 3
  min_size: 1Ki
checkpoint:
  path: /var/lib/cdc/checkpoints.json
  sync_mode: sync
batching:
  max_size: 1000
  max_wait: 50ms
spill:
  max_bytes: 2Gi
sink:
  url: http://ingest.internal:8443/v1/batches
  timeout: 5s
`
	cfg, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(cfg.Pipeline.Sources) != 2 || cfg.Pipeline.Sources[0].Name != "pg-primary" {
		t.Errorf("sources = %v", cfg.Pipeline.Sources)
	}
	if cfg.Pipeline.ShutdownGrace.Std() != 10*time.Second {
		t.Errorf("shutdown_grace = %v", cfg.Pipeline.ShutdownGrace.Std())
	}
	if cfg.RateLimiting.Adaptive.TargetLatency.Std() != 250*time.Millisecond {
		t.Errorf("target_latency = %v", cfg.RateLimiting.Adaptive.TargetLatency.Std())
	}
	if cfg.Backpressure.Strategy != "adaptive_throttle" || cfg.Backpressure.BufferSize != 4096 {
		t.Errorf("backpressure = %+v", cfg.Backpressure)
	}
	if int64(cfg.DLQ.MaxSegmentBytes) != 16*1048576 {
		t.Errorf("max_segment_bytes = %d", cfg.DLQ.MaxSegmentBytes)
	}
	if int64(cfg.Spill.MaxBytes) != 2*1073741824 {
		t.Errorf("spill.max_bytes = %d", cfg.Spill.MaxBytes)
	}
	if cfg.Checkpoint.SyncMode != "sync" {
		t.Errorf("sync_mode = %q", cfg.Checkpoint.SyncMode)
	}
	// Unset sections still get defaults.
	if cfg.Stats.Interval.Std() != time.Minute {
		t.Errorf("stats.interval = %v", cfg.Stats.Interval.Std())
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad algorithm", "rate_limiting:\n  algorithm: leaky_bucket", "algorithm"},
		{"bad strategy", "backpressure:\n  strategy: explode", "strategy"},
		{"watermark above 1", "backpressure:\n  high_watermark: 1.5", "high_watermark"},
		{"low above high", "backpressure:\n  high_watermark: 0.5\n  low_watermark: 0.6", "low_watermark"},
		{"bad sync mode", "checkpoint:\n  sync_mode: eventually", "sync_mode"},
		{"bad error rate", "circuit_breaker:\n  adaptive:\n    error_rate: 1.5", "error_rate"},
		{"batch above bucket burst", "rate_limiting:\n  burst_size: 5\nbatching:\n  max_size: 10", "batching.max_size"},
		{"batch above window capacity", "rate_limiting:\n  algorithm: sliding_window\n  max_requests: 5\nbatching:\n  max_size: 10", "batching.max_size"},
		{"batch above adaptive burst", "rate_limiting:\n  algorithm: adaptive\n  adaptive:\n    initial_rate: 100", "batching.max_size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		in   string
		want int64
		err  bool
	}{
		{"1024", 1024, false},
		{"4Ki", 4096, false},
		{"16Mi", 16777216, false},
		{"1.5Gi", 1610612736, false},
		{"2Ti", 2199023255552, false},
		{"", 0, false},
		{"256MB", 0, true},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseByteSize(tt.in)
		if tt.err {
			if err == nil {
				t.Errorf("ParseByteSize(%q) accepted", tt.in)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseByteSize(%q) = (%d, %v), expected %d", tt.in, got, err, tt.want)
		}
	}
}

func TestDurationRoundTrip(t *testing.T) {
	var d Duration
	if err := d.UnmarshalYAML(yamlStringNode("1m30s")); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if d.Std() != 90*time.Second {
		t.Errorf("duration = %v", d.Std())
	}
	out, err := d.MarshalYAML()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if out != "1m30s" {
		t.Errorf("marshaled = %v", out)
	}
}

func TestFormatByteSize(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{512, "512"},
		{4096, "4Ki"},
		{16777216, "16Mi"},
		{1073741824, "1Gi"},
		{1500, "1500"},
	}
	for _, tt := range tests {
		if got := FormatByteSize(tt.in); got != tt.want {
			t.Errorf("FormatByteSize(%d) = %q, expected %q", tt.in, got, tt.want)
		}
	}
}
