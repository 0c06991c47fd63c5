// Package health serves the liveness and readiness probes. Pipeline
// components register readiness checks; the process is live as long as it is
// not shutting down.
package health

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Status is the reported health of the process or one component.
type Status string

const (
	StatusUp   Status = "up"
	StatusDown Status = "down"
)

// Component is the health of a single registered check.
type Component struct {
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Response is the JSON body of both probe endpoints.
type Response struct {
	Status     Status               `json:"status"`
	Uptime     string               `json:"uptime"`
	Components map[string]Component `json:"components,omitempty"`
	Timestamp  string               `json:"timestamp"`
}

// CheckFunc reports nil when its component can serve traffic.
type CheckFunc func() error

// Checker aggregates component readiness and exposes probe handlers.
type Checker struct {
	mu           sync.RWMutex
	checks       map[string]CheckFunc
	started      time.Time
	shuttingDown atomic.Bool
}

// New creates a checker anchored at the current time.
func New() *Checker {
	return &Checker{
		checks:  make(map[string]CheckFunc),
		started: time.Now(),
	}
}

// Register adds a named readiness check, evaluated on every /ready request.
func (c *Checker) Register(name string, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// SetShuttingDown flips both probes to 503 so the scheduler stops routing
// traffic during drain.
func (c *Checker) SetShuttingDown() {
	c.shuttingDown.Store(true)
}

// LiveHandler reports process liveness.
func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if c.shuttingDown.Load() {
			c.writeJSON(w, http.StatusServiceUnavailable, Response{
				Status: StatusDown,
				Components: map[string]Component{
					"process": {Status: StatusDown, Error: "shutting down"},
				},
			})
			return
		}
		c.writeJSON(w, http.StatusOK, Response{Status: StatusUp})
	}
}

// ReadyHandler runs every registered check; any failure yields 503.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if c.shuttingDown.Load() {
			c.writeJSON(w, http.StatusServiceUnavailable, Response{
				Status: StatusDown,
				Components: map[string]Component{
					"process": {Status: StatusDown, Error: "shutting down"},
				},
			})
			return
		}

		c.mu.RLock()
		checks := make(map[string]CheckFunc, len(c.checks))
		for name, fn := range c.checks {
			checks[name] = fn
		}
		c.mu.RUnlock()

		overall := StatusUp
		components := make(map[string]Component, len(checks))
		for name, fn := range checks {
			if err := fn(); err != nil {
				overall = StatusDown
				components[name] = Component{Status: StatusDown, Error: err.Error()}
			} else {
				components[name] = Component{Status: StatusUp}
			}
		}

		code := http.StatusOK
		if overall == StatusDown {
			code = http.StatusServiceUnavailable
		}
		c.writeJSON(w, code, Response{Status: overall, Components: components})
	}
}

func (c *Checker) writeJSON(w http.ResponseWriter, code int, resp Response) {
	resp.Uptime = time.Since(c.started).Truncate(time.Second).String()
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
