// Package stats logs a periodic one-line snapshot of pipeline state so
// operators can follow throughput and backlog without scraping metrics.
package stats

import (
	"sort"
	"sync"
	"time"

	"github.com/tohafrit/savegress-platform-sub002/internal/logging"
)

// Probe returns one component's current stats as key/value pairs.
type Probe func() map[string]interface{}

// Collector gathers registered probes on an interval and emits them as a
// single structured log line.
type Collector struct {
	interval time.Duration

	mu     sync.Mutex
	probes map[string]Probe

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates a collector logging every interval.
func New(interval time.Duration) *Collector {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Collector{
		interval: interval,
		probes:   make(map[string]Probe),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Register adds a named probe. Probe keys are emitted as "<name>_<key>".
func (c *Collector) Register(name string, probe Probe) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probes[name] = probe
}

// Start launches the logging loop.
func (c *Collector) Start() {
	go c.run()
}

// Stop terminates the loop and waits for it to finish.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	<-c.doneCh
}

func (c *Collector) run() {
	defer close(c.doneCh)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.emit()
		}
	}
}

// emit logs one snapshot line with all probe values, keys sorted for stable
// output.
func (c *Collector) emit() {
	c.mu.Lock()
	probes := make(map[string]Probe, len(c.probes))
	for name, p := range c.probes {
		probes[name] = p
	}
	c.mu.Unlock()

	fields := make(map[string]interface{})
	for name, probe := range probes {
		for k, v := range probe() {
			fields[name+"_"+k] = v
		}
	}
	if len(fields) == 0 {
		return
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	kv := make([]interface{}, 0, len(fields)*2)
	for _, k := range keys {
		kv = append(kv, k, fields[k])
	}
	logging.Info("pipeline stats", logging.F(kv...))
}
