package compression

import (
	"time"
)

// AlgorithmHybrid selects between a fast codec and a ratio-optimized codec
// based on payload size. It is the recommended default.
const AlgorithmHybrid = "hybrid"

// SelectorConfig configures codec selection per batch.
type SelectorConfig struct {
	// Enabled toggles compression entirely. When false every payload is
	// passed through with codec "none".
	Enabled bool
	// Algorithm is a concrete Type or AlgorithmHybrid.
	Algorithm string
	// Level is the level used for the ratio-optimized codec.
	Level Level
	// MinSize is the payload size below which compression is bypassed
	// (compressing tiny payloads often expands them).
	MinSize int
	// HybridThreshold is the payload size at which hybrid switches from the
	// fast codec to the ratio codec.
	HybridThreshold int
}

// DefaultSelectorConfig returns the recommended selector configuration.
func DefaultSelectorConfig() SelectorConfig {
	return SelectorConfig{
		Enabled:         true,
		Algorithm:       AlgorithmHybrid,
		Level:           ZstdSpeedDefault,
		MinSize:         256,
		HybridThreshold: 4096,
	}
}

// Selector chooses and applies a compression codec per batch payload.
// Compression is an optimization, never a correctness dependency: any codec
// failure falls back to an uncompressed payload.
type Selector struct {
	cfg SelectorConfig

	// compressFn is swapped in tests to force codec failures.
	compressFn func(data []byte, cfg Config) ([]byte, error)
}

// NewSelector creates a selector. An unknown algorithm is rejected here so
// misconfiguration never reaches the send path.
func NewSelector(cfg SelectorConfig) (*Selector, error) {
	if cfg.Algorithm != AlgorithmHybrid {
		if _, err := ParseType(cfg.Algorithm); err != nil {
			return nil, err
		}
	}
	if cfg.MinSize < 0 {
		cfg.MinSize = 0
	}
	if cfg.HybridThreshold <= 0 {
		cfg.HybridThreshold = 4096
	}
	return &Selector{cfg: cfg, compressFn: Compress}, nil
}

// Compress picks a codec for the payload and applies it. The returned type
// is the codec actually used; on any codec error the original payload is
// returned with TypeNone.
func (s *Selector) Compress(data []byte) (Type, []byte) {
	codec := s.pick(len(data))
	if codec == TypeNone {
		return TypeNone, data
	}

	level := s.cfg.Level
	if codec == TypeSnappy {
		level = LevelDefault
	}

	start := time.Now()
	out, err := s.compressFn(data, Config{Type: codec, Level: level})
	if err != nil {
		compressionFallbackTotal.Inc()
		return TypeNone, data
	}
	compressionDuration.Observe(time.Since(start).Seconds())
	if len(data) > 0 {
		compressionRatio.Set(float64(len(out)) / float64(len(data)))
	}
	compressedBatchesTotal.WithLabelValues(string(codec)).Inc()
	return codec, out
}

// pick returns the codec for a payload of the given size.
func (s *Selector) pick(size int) Type {
	if !s.cfg.Enabled || size < s.cfg.MinSize {
		return TypeNone
	}
	if s.cfg.Algorithm == AlgorithmHybrid {
		if size < s.cfg.HybridThreshold {
			return TypeSnappy
		}
		return TypeZstd
	}
	t, _ := ParseType(s.cfg.Algorithm)
	return t
}
