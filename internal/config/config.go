// Package config defines the YAML configuration surface of the pipeline and
// its validation. Component packages own their runtime config types; this
// package only parses, defaults, and range-checks the file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root of the YAML configuration file.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`

	Pipeline       PipelineConfig       `yaml:"pipeline"`
	RateLimiting   RateLimitConfig      `yaml:"rate_limiting"`
	Backpressure   BackpressureConfig   `yaml:"backpressure"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	DLQ            DLQConfig            `yaml:"dlq"`
	Compression    CompressionConfig    `yaml:"compression"`
	Checkpoint     CheckpointConfig     `yaml:"checkpoint"`
	Batching       BatchingConfig       `yaml:"batching"`
	Spill          SpillConfig          `yaml:"spill"`
	Sink           SinkConfig           `yaml:"sink"`
	Stats          StatsConfig          `yaml:"stats"`
}

// PipelineConfig names the sources and bounds shutdown.
type PipelineConfig struct {
	Sources       []SourceSpec `yaml:"sources"`
	ShutdownGrace Duration     `yaml:"shutdown_grace"`
}

// SourceSpec identifies one change stream. Path points at a newline-delimited
// JSON change log ("-" for stdin).
type SourceSpec struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

// RateLimitConfig selects and tunes the admission limiter.
type RateLimitConfig struct {
	Algorithm       string             `yaml:"algorithm"` // token_bucket, sliding_window, adaptive
	TokensPerSecond float64            `yaml:"tokens_per_second"`
	BurstSize       int                `yaml:"burst_size"`
	WindowSize      Duration           `yaml:"window_size"`
	MaxRequests     int                `yaml:"max_requests"`
	Adaptive        AdaptiveRateConfig `yaml:"adaptive"`
}

// AdaptiveRateConfig tunes the latency-tracking limiter.
type AdaptiveRateConfig struct {
	TargetLatency  Duration `yaml:"target_latency"`
	InitialRate    float64  `yaml:"initial_rate"`
	MinRate        float64  `yaml:"min_rate"`
	MaxRate        float64  `yaml:"max_rate"`
	IncreaseFactor float64  `yaml:"increase_factor"`
	DecreaseFactor float64  `yaml:"decrease_factor"`
	CalmIntervals  int      `yaml:"calm_intervals"`
	TickInterval   Duration `yaml:"tick_interval"`
}

// BackpressureConfig tunes the watermark controller.
type BackpressureConfig struct {
	Enabled        *bool   `yaml:"enabled"`
	Strategy       string  `yaml:"strategy"` // pause, adaptive_throttle, buffer, drop_oldest, drop_newest
	HighWatermark  float64 `yaml:"high_watermark"`
	LowWatermark   float64 `yaml:"low_watermark"`
	BufferSize     int     `yaml:"buffer_size"`
	SourcePausable *bool   `yaml:"source_pausable"`
}

// CircuitBreakerConfig tunes the sink-side breaker.
type CircuitBreakerConfig struct {
	Enabled          *bool                 `yaml:"enabled"`
	FailureThreshold int                   `yaml:"failure_threshold"`
	SuccessThreshold int                   `yaml:"success_threshold"`
	Timeout          Duration              `yaml:"timeout"`
	HalfOpenRequests int                   `yaml:"half_open_requests"`
	Adaptive         AdaptiveBreakerConfig `yaml:"adaptive"`
}

// AdaptiveBreakerConfig switches the breaker to error-rate tripping.
type AdaptiveBreakerConfig struct {
	Enabled    *bool   `yaml:"enabled"`
	ErrorRate  float64 `yaml:"error_rate"`
	MinSamples int     `yaml:"min_samples"`
}

// DLQConfig tunes dead-lettering and the retry budget that precedes it.
type DLQConfig struct {
	Enabled            *bool    `yaml:"enabled"`
	Path               string   `yaml:"path"`
	RetentionDays      int      `yaml:"retention_days"`
	MaxMessages        int      `yaml:"max_messages"`
	MaxSegmentBytes    ByteSize `yaml:"max_segment_bytes"`
	MaxRetries         int      `yaml:"max_retries"`
	RetryDelay         Duration `yaml:"retry_delay"`
	ExponentialBackoff *bool    `yaml:"exponential_backoff"`
	MaxRetryDelay      Duration `yaml:"max_retry_delay"`
	Jitter             *bool    `yaml:"jitter"`
}

// CompressionConfig tunes the payload codec selector.
type CompressionConfig struct {
	Enabled         *bool    `yaml:"enabled"`
	Algorithm       string   `yaml:"algorithm"` // hybrid or a fixed codec name
	Level           int      `yaml:"level"`
	MinSize         ByteSize `yaml:"min_size"`
	HybridThreshold ByteSize `yaml:"hybrid_threshold"`
}

// CheckpointConfig tunes checkpoint durability.
type CheckpointConfig struct {
	Path     string   `yaml:"path"`
	Interval Duration `yaml:"interval"`
	SyncMode string   `yaml:"sync_mode"` // sync, async
}

// BatchingConfig bounds batch accumulation.
type BatchingConfig struct {
	MaxSize int      `yaml:"max_size"`
	MaxWait Duration `yaml:"max_wait"`
}

// SpillConfig tunes the on-disk overflow log.
type SpillConfig struct {
	Enabled  *bool    `yaml:"enabled"`
	Path     string   `yaml:"path"`
	MaxBytes ByteSize `yaml:"max_bytes"`
}

// SinkConfig locates the delivery endpoint and bounds sink calls.
type SinkConfig struct {
	URL     string   `yaml:"url"`
	Timeout Duration `yaml:"timeout"`
}

// StatsConfig tunes periodic stats logging.
type StatsConfig struct {
	Interval Duration `yaml:"interval"`
}

func boolPtr(v bool) *bool { return &v }

// Load reads, defaults, and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses configuration from bytes.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults sets default values for unspecified fields.
func (c *Config) ApplyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":9090"
	}
	if c.Pipeline.ShutdownGrace == 0 {
		c.Pipeline.ShutdownGrace = Duration(5e9)
	}

	if c.RateLimiting.Algorithm == "" {
		c.RateLimiting.Algorithm = "token_bucket"
	}
	if c.RateLimiting.TokensPerSecond == 0 {
		c.RateLimiting.TokensPerSecond = 10000
	}
	if c.RateLimiting.BurstSize == 0 {
		c.RateLimiting.BurstSize = 20000
	}
	if c.RateLimiting.WindowSize == 0 {
		c.RateLimiting.WindowSize = Duration(1e9)
	}
	if c.RateLimiting.MaxRequests == 0 {
		c.RateLimiting.MaxRequests = 10000
	}
	a := &c.RateLimiting.Adaptive
	if a.TargetLatency == 0 {
		a.TargetLatency = Duration(5e8)
	}
	if a.InitialRate == 0 {
		a.InitialRate = 10000
	}
	if a.MinRate == 0 {
		a.MinRate = 100
	}
	if a.MaxRate == 0 {
		a.MaxRate = 100000
	}
	if a.IncreaseFactor == 0 {
		a.IncreaseFactor = 1.05
	}
	if a.DecreaseFactor == 0 {
		a.DecreaseFactor = 0.9
	}
	if a.CalmIntervals == 0 {
		a.CalmIntervals = 3
	}
	if a.TickInterval == 0 {
		a.TickInterval = Duration(1e9)
	}

	if c.Backpressure.Enabled == nil {
		c.Backpressure.Enabled = boolPtr(true)
	}
	if c.Backpressure.Strategy == "" {
		c.Backpressure.Strategy = "pause"
	}
	if c.Backpressure.HighWatermark == 0 {
		c.Backpressure.HighWatermark = 0.8
	}
	if c.Backpressure.LowWatermark == 0 {
		c.Backpressure.LowWatermark = 0.4
	}
	if c.Backpressure.BufferSize == 0 {
		c.Backpressure.BufferSize = 65536
	}
	if c.Backpressure.SourcePausable == nil {
		c.Backpressure.SourcePausable = boolPtr(true)
	}

	if c.CircuitBreaker.Enabled == nil {
		c.CircuitBreaker.Enabled = boolPtr(true)
	}
	if c.CircuitBreaker.FailureThreshold == 0 {
		c.CircuitBreaker.FailureThreshold = 5
	}
	if c.CircuitBreaker.SuccessThreshold == 0 {
		c.CircuitBreaker.SuccessThreshold = 2
	}
	if c.CircuitBreaker.Timeout == 0 {
		c.CircuitBreaker.Timeout = Duration(3e10)
	}
	if c.CircuitBreaker.HalfOpenRequests == 0 {
		c.CircuitBreaker.HalfOpenRequests = 1
	}
	if c.CircuitBreaker.Adaptive.Enabled == nil {
		c.CircuitBreaker.Adaptive.Enabled = boolPtr(false)
	}
	if c.CircuitBreaker.Adaptive.ErrorRate == 0 {
		c.CircuitBreaker.Adaptive.ErrorRate = 0.5
	}
	if c.CircuitBreaker.Adaptive.MinSamples == 0 {
		c.CircuitBreaker.Adaptive.MinSamples = 20
	}

	if c.DLQ.Enabled == nil {
		c.DLQ.Enabled = boolPtr(true)
	}
	if c.DLQ.Path == "" {
		c.DLQ.Path = "data/dlq"
	}
	if c.DLQ.RetentionDays == 0 {
		c.DLQ.RetentionDays = 7
	}
	if c.DLQ.MaxMessages == 0 {
		c.DLQ.MaxMessages = 100000
	}
	if c.DLQ.MaxSegmentBytes == 0 {
		c.DLQ.MaxSegmentBytes = 64 * 1048576
	}
	if c.DLQ.MaxRetries == 0 {
		c.DLQ.MaxRetries = 5
	}
	if c.DLQ.RetryDelay == 0 {
		c.DLQ.RetryDelay = Duration(1e9)
	}
	if c.DLQ.ExponentialBackoff == nil {
		c.DLQ.ExponentialBackoff = boolPtr(true)
	}
	if c.DLQ.MaxRetryDelay == 0 {
		c.DLQ.MaxRetryDelay = Duration(6e10)
	}
	if c.DLQ.Jitter == nil {
		c.DLQ.Jitter = boolPtr(true)
	}

	if c.Compression.Enabled == nil {
		c.Compression.Enabled = boolPtr(true)
	}
	if c.Compression.Algorithm == "" {
		c.Compression.Algorithm = "hybrid"
	}
	if c.Compression.MinSize == 0 {
		c.Compression.MinSize = 256
	}
	if c.Compression.HybridThreshold == 0 {
		c.Compression.HybridThreshold = 4096
	}

	if c.Checkpoint.Path == "" {
		c.Checkpoint.Path = "data/checkpoints.json"
	}
	if c.Checkpoint.Interval == 0 {
		c.Checkpoint.Interval = Duration(5e9)
	}
	if c.Checkpoint.SyncMode == "" {
		c.Checkpoint.SyncMode = "async"
	}

	if c.Batching.MaxSize == 0 {
		c.Batching.MaxSize = 500
	}
	if c.Batching.MaxWait == 0 {
		c.Batching.MaxWait = Duration(2e8)
	}

	if c.Spill.Enabled == nil {
		c.Spill.Enabled = boolPtr(true)
	}
	if c.Spill.Path == "" {
		c.Spill.Path = "data/spill"
	}
	if c.Spill.MaxBytes == 0 {
		c.Spill.MaxBytes = 1073741824
	}

	if c.Sink.Timeout == 0 {
		c.Sink.Timeout = Duration(3e10)
	}
	if c.Stats.Interval == 0 {
		c.Stats.Interval = Duration(6e10)
	}
}

// Validate checks cross-field constraints. Component packages re-validate
// their own configs at construction; this catches file-level mistakes early.
func (c *Config) Validate() error {
	for i, s := range c.Pipeline.Sources {
		if s.Name == "" || s.Path == "" {
			return fmt.Errorf("pipeline.sources[%d]: name and path are required", i)
		}
	}
	switch c.RateLimiting.Algorithm {
	case "token_bucket", "sliding_window", "adaptive":
	default:
		return fmt.Errorf("rate_limiting.algorithm: unknown algorithm %q", c.RateLimiting.Algorithm)
	}
	switch c.Backpressure.Strategy {
	case "pause", "adaptive_throttle", "buffer", "drop_oldest", "drop_newest":
	default:
		return fmt.Errorf("backpressure.strategy: unknown strategy %q", c.Backpressure.Strategy)
	}
	if c.Backpressure.HighWatermark <= 0 || c.Backpressure.HighWatermark > 1 {
		return fmt.Errorf("backpressure.high_watermark: %v outside (0, 1]", c.Backpressure.HighWatermark)
	}
	if c.Backpressure.LowWatermark <= 0 || c.Backpressure.LowWatermark >= c.Backpressure.HighWatermark {
		return fmt.Errorf("backpressure.low_watermark: %v must be in (0, high_watermark)", c.Backpressure.LowWatermark)
	}
	if c.CircuitBreaker.Adaptive.ErrorRate <= 0 || c.CircuitBreaker.Adaptive.ErrorRate > 1 {
		return fmt.Errorf("circuit_breaker.adaptive.error_rate: %v outside (0, 1]", c.CircuitBreaker.Adaptive.ErrorRate)
	}
	switch c.Checkpoint.SyncMode {
	case "sync", "async":
	default:
		return fmt.Errorf("checkpoint.sync_mode: unknown mode %q", c.Checkpoint.SyncMode)
	}
	if c.Batching.MaxSize < 0 {
		return fmt.Errorf("batching.max_size: %d must not be negative", c.Batching.MaxSize)
	}
	// A batch the limiter can never admit in one call would stall delivery.
	switch c.RateLimiting.Algorithm {
	case "token_bucket":
		if c.Batching.MaxSize > c.RateLimiting.BurstSize {
			return fmt.Errorf("batching.max_size: %d exceeds rate_limiting.burst_size %d, full batches could never be admitted",
				c.Batching.MaxSize, c.RateLimiting.BurstSize)
		}
	case "sliding_window":
		if c.Batching.MaxSize > c.RateLimiting.MaxRequests {
			return fmt.Errorf("batching.max_size: %d exceeds rate_limiting.max_requests %d, full batches could never be admitted",
				c.Batching.MaxSize, c.RateLimiting.MaxRequests)
		}
	case "adaptive":
		burst := int(c.RateLimiting.Adaptive.InitialRate / 10)
		if burst < 1 {
			burst = 1
		}
		if c.Batching.MaxSize > burst {
			return fmt.Errorf("batching.max_size: %d exceeds the adaptive limiter burst %d (initial_rate/10), full batches could never be admitted",
				c.Batching.MaxSize, burst)
		}
	}
	return nil
}
