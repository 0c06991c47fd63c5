package backpressure

import (
	"testing"
)

func TestHysteresis(t *testing.T) {
	cfg := DefaultConfig() // high 0.8, low 0.4, pause
	c, err := NewController(cfg)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	// Rising from 0.5 to 0.85: engages at 0.8.
	if d := c.Observe(0.5); d.Action != ActionNone {
		t.Fatalf("action at 0.5 = %s, expected none", d.Action)
	}
	if d := c.Observe(0.79); d.Action != ActionNone {
		t.Fatalf("action at 0.79 = %s, expected none", d.Action)
	}
	if d := c.Observe(0.85); d.Action != ActionPause {
		t.Fatalf("action at 0.85 = %s, expected pause", d.Action)
	}

	// Falling below high but above low: still engaged.
	if d := c.Observe(0.6); d.Action != ActionPause {
		t.Errorf("action at 0.6 = %s, hysteresis must hold until low watermark", d.Action)
	}
	if d := c.Observe(0.41); d.Action != ActionPause {
		t.Errorf("action at 0.41 = %s, expected pause", d.Action)
	}

	// At or below low watermark: disengages.
	if d := c.Observe(0.4); d.Action != ActionNone {
		t.Errorf("action at 0.4 = %s, expected none after disengage", d.Action)
	}
	if c.Engaged() {
		t.Error("controller still engaged after falling to low watermark")
	}
}

func TestThrottleProportional(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategy = StrategyThrottle
	c, err := NewController(cfg)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	d := c.Observe(0.9)
	if d.Action != ActionThrottle {
		t.Fatalf("action = %s, expected throttle", d.Action)
	}
	// 0.9 is halfway between high (0.8) and full: factor 0.5.
	if d.RateFactor < 0.49 || d.RateFactor > 0.51 {
		t.Errorf("rate factor at 0.9 = %v, expected ~0.5", d.RateFactor)
	}

	d = c.Observe(1.0)
	if d.RateFactor != minThrottleFactor {
		t.Errorf("rate factor at 1.0 = %v, expected minimum %v", d.RateFactor, minThrottleFactor)
	}
}

func TestUnpausableSourceFailsOverToSpill(t *testing.T) {
	for _, strategy := range []Strategy{StrategyPause, StrategyThrottle} {
		cfg := DefaultConfig()
		cfg.Strategy = strategy
		cfg.SourcePausable = false
		c, err := NewController(cfg)
		if err != nil {
			t.Fatalf("NewController: %v", err)
		}
		if d := c.Observe(1.0); d.Action != ActionSpill {
			t.Errorf("strategy %s at full occupancy = %s, expected spill", strategy, d.Action)
		}
	}
}

func TestDropStrategiesHonoredAtFullOccupancy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategy = StrategyDropNewest
	cfg.SourcePausable = false
	c, err := NewController(cfg)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	if d := c.Observe(1.0); d.Action != ActionDropNewest {
		t.Errorf("action = %s, explicitly configured drops must not be overridden", d.Action)
	}
}

func TestBufferStrategy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategy = StrategyBuffer
	c, err := NewController(cfg)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	if d := c.Observe(0.85); d.Action != ActionSpill {
		t.Errorf("action = %s, expected spill", d.Action)
	}
}

func TestDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	c, err := NewController(cfg)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	if d := c.Observe(1.0); d.Action != ActionNone {
		t.Errorf("disabled controller issued %s", d.Action)
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown strategy", func(c *Config) { c.Strategy = "panic" }},
		{"high watermark above 1", func(c *Config) { c.HighWatermark = 1.5 }},
		{"low above high", func(c *Config) { c.LowWatermark = 0.9 }},
		{"low equals high", func(c *Config) { c.LowWatermark = c.HighWatermark }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if _, err := NewController(cfg); err == nil {
				t.Error("expected construction error")
			}
		})
	}
}
