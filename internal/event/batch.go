package event

import (
	"errors"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrEmptyBatch is returned when encoding or inspecting a batch with no events.
var ErrEmptyBatch = errors.New("batch is empty")

// Batch is an ordered, non-empty sequence of events destined for the same
// sink, plus codec metadata filled in by the compression selector. Events
// are never reordered within a batch.
type Batch struct {
	Events []*Event

	// UncompressedBytes is the encoded payload size before compression.
	UncompressedBytes int
	// Codec is the compression codec applied to Payload ("none" when
	// uncompressed).
	Codec string
	// CompressedBytes is len(Payload) after compression.
	CompressedBytes int
	// Payload is the wire form handed to the sink.
	Payload []byte
}

// NewBatch creates a batch over the given events.
func NewBatch(events []*Event) *Batch {
	return &Batch{Events: events}
}

// Len returns the number of events in the batch.
func (b *Batch) Len() int { return len(b.Events) }

// First returns the position of the first event.
func (b *Batch) First() Position {
	if len(b.Events) == 0 {
		return 0
	}
	return b.Events[0].Position
}

// Last returns the position of the last event. The batch position range is
// [First, Last].
func (b *Batch) Last() Position {
	if len(b.Events) == 0 {
		return 0
	}
	return b.Events[len(b.Events)-1].Position
}

// Source returns the source stream id of the batch. All events in a batch
// come from the same source.
func (b *Batch) Source() string {
	if len(b.Events) == 0 {
		return ""
	}
	return b.Events[0].Source
}

// EncodePayload serializes the events to the uncompressed wire form and
// records its size. The compression selector runs over this payload.
func (b *Batch) EncodePayload() ([]byte, error) {
	if len(b.Events) == 0 {
		return nil, ErrEmptyBatch
	}
	data, err := msgpack.Marshal(b.Events)
	if err != nil {
		return nil, err
	}
	b.UncompressedBytes = len(data)
	return data, nil
}

// DecodeEvents deserializes an uncompressed batch payload back to events.
func DecodeEvents(data []byte) ([]*Event, error) {
	var events []*Event
	if err := msgpack.Unmarshal(data, &events); err != nil {
		return nil, err
	}
	return events, nil
}
