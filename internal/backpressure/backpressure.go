// Package backpressure decides what happens when the shared outbound buffer
// fills up: pause ingestion, throttle, spill to disk, or drop.
package backpressure

import (
	"fmt"
)

// Strategy is the configured response to sustained pressure.
type Strategy string

const (
	// StrategyPause stops pulling events from the source until pressure
	// subsides.
	StrategyPause Strategy = "pause"
	// StrategyThrottle reduces the rate limiter's rate proportionally to
	// how far occupancy is above the high watermark.
	StrategyThrottle Strategy = "adaptive_throttle"
	// StrategyBuffer spills overflow events to an on-disk log.
	StrategyBuffer Strategy = "buffer"
	// StrategyDropOldest and StrategyDropNewest discard events. They
	// violate at-least-once delivery and must be explicitly opted into;
	// acceptable only for best-effort telemetry streams.
	StrategyDropOldest Strategy = "drop_oldest"
	StrategyDropNewest Strategy = "drop_newest"
)

// Action is what the controller tells the pipeline to do right now.
type Action string

const (
	ActionNone       Action = "none"
	ActionPause      Action = "pause"
	ActionThrottle   Action = "throttle"
	ActionSpill      Action = "spill"
	ActionDropOldest Action = "drop_oldest"
	ActionDropNewest Action = "drop_newest"
)

// Decision carries the action plus the throttle factor when applicable.
type Decision struct {
	Action Action
	// RateFactor in (0, 1] scales the rate limiter when Action is
	// ActionThrottle.
	RateFactor float64
}

// Config holds backpressure settings.
type Config struct {
	Enabled  bool
	Strategy Strategy
	// HighWatermark engages backpressure when occupancy rises to it.
	HighWatermark float64
	// LowWatermark disengages backpressure once occupancy falls back to it.
	LowWatermark float64
	// SourcePausable reports whether the source adapter can stop draining.
	// A synchronous log tailer that must keep consuming cannot.
	SourcePausable bool
}

// DefaultConfig pauses the source between the 0.8/0.4 watermarks.
func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		Strategy:       StrategyPause,
		HighWatermark:  0.8,
		LowWatermark:   0.4,
		SourcePausable: true,
	}
}

// minThrottleFactor bounds proportional throttling so the pipeline always
// makes some progress.
const minThrottleFactor = 0.1

// Controller watches buffer occupancy and applies hysteresis between the
// two watermarks: pressure engages at the high watermark and only clears
// once occupancy falls back to the low watermark, preventing action
// flapping.
type Controller struct {
	cfg     Config
	engaged bool
}

// NewController validates the configuration and builds a controller.
func NewController(cfg Config) (*Controller, error) {
	switch cfg.Strategy {
	case StrategyPause, StrategyThrottle, StrategyBuffer, StrategyDropOldest, StrategyDropNewest:
	case "":
		cfg.Strategy = StrategyPause
	default:
		return nil, fmt.Errorf("unknown backpressure strategy: %s", cfg.Strategy)
	}
	if cfg.HighWatermark <= 0 || cfg.HighWatermark > 1 {
		return nil, fmt.Errorf("high_watermark must be in (0, 1], got %v", cfg.HighWatermark)
	}
	if cfg.LowWatermark < 0 || cfg.LowWatermark >= cfg.HighWatermark {
		return nil, fmt.Errorf("low_watermark %v must be below high_watermark %v", cfg.LowWatermark, cfg.HighWatermark)
	}
	return &Controller{cfg: cfg}, nil
}

// Observe reports current buffer occupancy (0.0-1.0) and returns the action
// to apply. Not safe for concurrent use; each pipeline owns one controller.
func (c *Controller) Observe(occupancy float64) Decision {
	occupancyGauge.Set(occupancy)

	if !c.cfg.Enabled {
		return Decision{Action: ActionNone}
	}

	if c.engaged {
		if occupancy <= c.cfg.LowWatermark {
			c.engaged = false
			engagedGauge.Set(0)
		}
	} else {
		if occupancy >= c.cfg.HighWatermark {
			c.engaged = true
			engagedGauge.Set(1)
		}
	}

	if !c.engaged {
		return Decision{Action: ActionNone}
	}

	d := c.decide(occupancy)
	actionsTotal.WithLabelValues(string(d.Action)).Inc()
	return d
}

// Engaged reports whether backpressure is currently active.
func (c *Controller) Engaged() bool { return c.engaged }

// decide maps the configured strategy to a concrete action. At full
// occupancy with a source that cannot be paused, pause and throttle fail
// over to spill rather than lose data; drops were explicitly opted into and
// are honored as configured.
func (c *Controller) decide(occupancy float64) Decision {
	switch c.cfg.Strategy {
	case StrategyPause:
		if occupancy >= 1.0 && !c.cfg.SourcePausable {
			return Decision{Action: ActionSpill}
		}
		return Decision{Action: ActionPause}
	case StrategyThrottle:
		if occupancy >= 1.0 && !c.cfg.SourcePausable {
			return Decision{Action: ActionSpill}
		}
		return Decision{Action: ActionThrottle, RateFactor: throttleFactor(occupancy, c.cfg.HighWatermark)}
	case StrategyBuffer:
		return Decision{Action: ActionSpill}
	case StrategyDropOldest:
		return Decision{Action: ActionDropOldest}
	case StrategyDropNewest:
		return Decision{Action: ActionDropNewest}
	default:
		return Decision{Action: ActionNone}
	}
}

// throttleFactor scales linearly from 1.0 at the high watermark down to the
// minimum factor at full occupancy.
func throttleFactor(occupancy, high float64) float64 {
	if occupancy <= high {
		return 1.0
	}
	span := 1.0 - high
	if span <= 0 {
		return minThrottleFactor
	}
	factor := 1.0 - (occupancy-high)/span
	if factor < minThrottleFactor {
		factor = minThrottleFactor
	}
	return factor
}
