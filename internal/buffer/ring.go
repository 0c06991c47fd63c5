// Package buffer provides the bounded shared buffer between a pipeline's
// ingestion and egress stages: a single-producer/single-consumer ring with
// atomic head/tail, no locking on the hot path.
package buffer

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tohafrit/savegress-platform-sub002/internal/event"
)

var bufferedEvents = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "cdc_pipeline_shared_buffer_events",
	Help: "Events currently held in the shared ingest buffer",
})

func init() {
	prometheus.MustRegister(bufferedEvents)
	bufferedEvents.Set(0)
}

// Ring is a bounded SPSC queue of events. Exactly one goroutine may call
// Push and exactly one may call Pop; Len/Occupancy are safe from anywhere.
type Ring struct {
	items    []*event.Event
	capacity uint64
	head     atomic.Uint64 // next index to pop
	tail     atomic.Uint64 // next index to push
}

// NewRing creates a ring buffer holding up to capacity events.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Ring{
		items:    make([]*event.Event, capacity),
		capacity: uint64(capacity),
	}
}

// Push appends an event. Returns false when the ring is full; the producer
// decides whether to pause, spill, or drop.
func (r *Ring) Push(e *event.Event) bool {
	tail := r.tail.Load()
	head := r.head.Load()
	if tail-head >= r.capacity {
		return false
	}
	r.items[tail%r.capacity] = e
	r.tail.Store(tail + 1)
	bufferedEvents.Inc()
	return true
}

// Pop removes and returns the oldest event, or nil when empty.
func (r *Ring) Pop() *event.Event {
	head := r.head.Load()
	if r.tail.Load() == head {
		return nil
	}
	e := r.items[head%r.capacity]
	r.items[head%r.capacity] = nil // release for GC
	r.head.Store(head + 1)
	bufferedEvents.Dec()
	return e
}

// Len returns the number of buffered events.
func (r *Ring) Len() int {
	return int(r.tail.Load() - r.head.Load())
}

// Cap returns the ring capacity.
func (r *Ring) Cap() int {
	return int(r.capacity)
}

// Occupancy returns the fill fraction (0.0-1.0), the watermark input for
// the backpressure controller.
func (r *Ring) Occupancy() float64 {
	return float64(r.Len()) / float64(r.capacity)
}
