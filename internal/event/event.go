// Package event defines the CDC data model shared by the pipeline stages:
// captured change events, opaque per-source positions, and ordered batches.
package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Position is a monotonically comparable position token within one source
// stream (a log sequence number). It is opaque to the pipeline core; only
// ordering matters.
type Position uint64

// String formats the position in the X/Y form used by WAL tooling.
func (p Position) String() string {
	return fmt.Sprintf("%X/%X", uint64(p)>>32, uint64(p)&0xFFFFFFFF)
}

// Less reports whether p is strictly before other.
func (p Position) Less(other Position) bool { return p < other }

// Op is the kind of captured change.
type Op string

const (
	OpInsert    Op = "insert"
	OpUpdate    Op = "update"
	OpDelete    Op = "delete"
	OpDDL       Op = "ddl"
	OpHeartbeat Op = "heartbeat"
)

// Event is one captured change. Events are immutable once created; the
// orchestrator owns them from creation until terminal disposition
// (delivered, dead-lettered, or dropped).
type Event struct {
	ID         string         `msgpack:"id" json:"id"`
	Source     string         `msgpack:"source" json:"source"`
	Table      string         `msgpack:"table" json:"table"`
	Op         Op             `msgpack:"op" json:"op"`
	Before     map[string]any `msgpack:"before,omitempty" json:"before,omitempty"`
	After      map[string]any `msgpack:"after,omitempty" json:"after,omitempty"`
	Position   Position       `msgpack:"position" json:"position"`
	CapturedAt time.Time      `msgpack:"captured_at" json:"captured_at"`
}

// NewInsert creates an insert event. Before image is nil by definition.
func NewInsert(source, table string, after map[string]any, pos Position) *Event {
	return newEvent(source, table, OpInsert, nil, after, pos)
}

// NewUpdate creates an update event carrying both row images.
func NewUpdate(source, table string, before, after map[string]any, pos Position) *Event {
	return newEvent(source, table, OpUpdate, before, after, pos)
}

// NewDelete creates a delete event. After image is nil by definition.
func NewDelete(source, table string, before map[string]any, pos Position) *Event {
	return newEvent(source, table, OpDelete, before, nil, pos)
}

// NewDDL creates a schema-change event.
func NewDDL(source, table string, pos Position) *Event {
	return newEvent(source, table, OpDDL, nil, nil, pos)
}

// NewHeartbeat creates a heartbeat event used to advance positions on idle
// streams.
func NewHeartbeat(source string, pos Position) *Event {
	return newEvent(source, "", OpHeartbeat, nil, nil, pos)
}

func newEvent(source, table string, op Op, before, after map[string]any, pos Position) *Event {
	return &Event{
		ID:         uuid.New().String(),
		Source:     source,
		Table:      table,
		Op:         op,
		Before:     before,
		After:      after,
		Position:   pos,
		CapturedAt: time.Now().UTC(),
	}
}
