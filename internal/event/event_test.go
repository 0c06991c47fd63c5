package event

import (
	"testing"
	"time"
)

func TestPositionString(t *testing.T) {
	tests := []struct {
		pos      Position
		expected string
	}{
		{0, "0/0"},
		{0x1A2B3C, "0/1A2B3C"},
		{0x100000000, "1/0"},
		{0x2000000FF, "2/FF"},
	}
	for _, tt := range tests {
		if got := tt.pos.String(); got != tt.expected {
			t.Errorf("Position(%d).String() = %q, expected %q", tt.pos, got, tt.expected)
		}
	}
}

func TestConstructors(t *testing.T) {
	ins := NewInsert("orders", "public.orders", map[string]any{"id": 1}, 10)
	if ins.Op != OpInsert || ins.Before != nil || ins.After == nil {
		t.Errorf("insert event malformed: %+v", ins)
	}
	upd := NewUpdate("orders", "public.orders", map[string]any{"id": 1}, map[string]any{"id": 2}, 11)
	if upd.Op != OpUpdate || upd.Before == nil || upd.After == nil {
		t.Errorf("update event malformed: %+v", upd)
	}
	del := NewDelete("orders", "public.orders", map[string]any{"id": 2}, 12)
	if del.Op != OpDelete || del.Before == nil || del.After != nil {
		t.Errorf("delete event malformed: %+v", del)
	}
	if ins.ID == "" || ins.ID == upd.ID {
		t.Error("event IDs must be unique and non-empty")
	}
	if time.Since(ins.CapturedAt) > time.Minute {
		t.Errorf("CapturedAt not set: %v", ins.CapturedAt)
	}
}

func TestBatchPositionRange(t *testing.T) {
	events := []*Event{
		NewInsert("s1", "t", map[string]any{"v": 1}, 100),
		NewUpdate("s1", "t", map[string]any{"v": 1}, map[string]any{"v": 2}, 101),
		NewDelete("s1", "t", map[string]any{"v": 2}, 105),
	}
	b := NewBatch(events)
	if b.First() != 100 || b.Last() != 105 {
		t.Errorf("position range = [%v, %v], expected [100, 105]", b.First(), b.Last())
	}
	if b.Source() != "s1" {
		t.Errorf("Source() = %q", b.Source())
	}
	if b.Len() != 3 {
		t.Errorf("Len() = %d", b.Len())
	}
}

func TestEncodePayloadRoundTrip(t *testing.T) {
	events := []*Event{
		NewInsert("s1", "public.orders", map[string]any{"id": int64(7), "name": "a"}, 42),
		NewDelete("s1", "public.orders", map[string]any{"id": int64(7)}, 43),
	}
	b := NewBatch(events)

	data, err := b.EncodePayload()
	if err != nil {
		t.Fatalf("EncodePayload: %v", err)
	}
	if b.UncompressedBytes != len(data) {
		t.Errorf("UncompressedBytes = %d, expected %d", b.UncompressedBytes, len(data))
	}

	decoded, err := DecodeEvents(data)
	if err != nil {
		t.Fatalf("DecodeEvents: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("decoded %d events, expected 2", len(decoded))
	}
	if decoded[0].ID != events[0].ID || decoded[0].Position != 42 {
		t.Errorf("first event not preserved: %+v", decoded[0])
	}
	if decoded[1].Op != OpDelete || decoded[1].Before["id"] != int64(7) {
		t.Errorf("delete event not preserved: %+v", decoded[1])
	}
}

func TestEncodeEmptyBatch(t *testing.T) {
	b := NewBatch(nil)
	if _, err := b.EncodePayload(); err != ErrEmptyBatch {
		t.Errorf("expected ErrEmptyBatch, got %v", err)
	}
}
