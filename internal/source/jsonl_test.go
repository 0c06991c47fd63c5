package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/tohafrit/savegress-platform-sub002/internal/event"
)

func writeLog(t *testing.T, lines string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "changes.jsonl")
	if err := os.WriteFile(path, []byte(lines), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	return path
}

func TestJSONLStream(t *testing.T) {
	path := writeLog(t, `
{"table":"orders","op":"insert","after":{"id":"1"},"position":1}

{"table":"orders","op":"update","before":{"id":"1"},"after":{"id":"1","v":"2"},"position":2}
{"table":"orders","op":"delete","before":{"id":"1"},"position":3}
`)
	s, err := OpenJSONL("pg-primary", path)
	if err != nil {
		t.Fatalf("OpenJSONL: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	ops := []event.Op{event.OpInsert, event.OpUpdate, event.OpDelete}
	for i, want := range ops {
		e, err := s.NextEvent(ctx)
		if err != nil {
			t.Fatalf("NextEvent %d: %v", i, err)
		}
		if e.Op != want || e.Position != event.Position(i+1) {
			t.Errorf("event %d = (%s, %v), expected (%s, %d)", i, e.Op, e.Position, want, i+1)
		}
		if e.Source != "pg-primary" {
			t.Errorf("source not defaulted: %q", e.Source)
		}
		if e.ID == "" {
			t.Error("event ID not assigned")
		}
	}
	if _, err := s.NextEvent(ctx); !errors.Is(err, ErrEndOfStream) {
		t.Errorf("after EOF = %v, expected ErrEndOfStream", err)
	}
	if got := s.CurrentPosition(); got != 3 {
		t.Errorf("CurrentPosition = %v, expected 3", got)
	}
}

func TestJSONLSeekSkips(t *testing.T) {
	path := writeLog(t, `{"table":"t","op":"insert","position":1}
{"table":"t","op":"insert","position":2}
{"table":"t","op":"insert","position":3}
`)
	s, err := OpenJSONL("pg-primary", path)
	if err != nil {
		t.Fatalf("OpenJSONL: %v", err)
	}
	defer s.Close()

	if err := s.Seek(2); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	e, err := s.NextEvent(context.Background())
	if err != nil {
		t.Fatalf("NextEvent: %v", err)
	}
	if e.Position != 3 {
		t.Errorf("first event after Seek(2) = %v, expected 3", e.Position)
	}
}

func TestJSONLMalformedLine(t *testing.T) {
	path := writeLog(t, `{"table":"t","op":"insert","position":1}
not json
`)
	s, err := OpenJSONL("pg-primary", path)
	if err != nil {
		t.Fatalf("OpenJSONL: %v", err)
	}
	defer s.Close()

	if _, err := s.NextEvent(context.Background()); err != nil {
		t.Fatalf("NextEvent: %v", err)
	}
	if _, err := s.NextEvent(context.Background()); err == nil {
		t.Error("malformed line accepted")
	}
}

func TestJSONLContextCancel(t *testing.T) {
	path := writeLog(t, `{"table":"t","op":"insert","position":1}`)
	s, err := OpenJSONL("pg-primary", path)
	if err != nil {
		t.Fatalf("OpenJSONL: %v", err)
	}
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.NextEvent(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled NextEvent = %v", err)
	}
}
