package spill

import (
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/tohafrit/savegress-platform-sub002/internal/event"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		Path:         t.TempDir(),
		MaxBytes:     1 << 20,
		SyncInterval: 10 * time.Millisecond,
	}
}

func testEvent(pos uint64) *event.Event {
	return event.NewInsert("pg-primary", "orders", map[string]any{"id": pos}, event.Position(pos))
}

func TestAppendNextRoundTrip(t *testing.T) {
	l, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	for i := uint64(1); i <= 10; i++ {
		if err := l.Append(testEvent(i)); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}
	if got := l.Len(); got != 10 {
		t.Fatalf("Len = %d, expected 10", got)
	}

	for i := uint64(1); i <= 10; i++ {
		e, err := l.Next()
		if err != nil {
			t.Fatalf("Next %d: %v", i, err)
		}
		if e == nil {
			t.Fatalf("Next %d returned nil before drain", i)
		}
		if e.Position != event.Position(i) {
			t.Errorf("position = %v, expected %v", e.Position, i)
		}
		if e.Table != "orders" {
			t.Errorf("table = %q, expected orders", e.Table)
		}
	}

	e, err := l.Next()
	if err != nil {
		t.Fatalf("Next after drain: %v", err)
	}
	if e != nil {
		t.Error("drained log returned an event")
	}
}

func TestCompactionAfterDrain(t *testing.T) {
	l, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	for i := uint64(1); i <= 5; i++ {
		if err := l.Append(testEvent(i)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	for i := 0; i < 5; i++ {
		if _, err := l.Next(); err != nil {
			t.Fatalf("Next: %v", err)
		}
	}
	if _, err := l.Next(); err != nil {
		t.Fatalf("Next drain: %v", err)
	}
	if got := l.Size(); got != 0 {
		t.Errorf("Size after drain = %d, expected compaction to 0", got)
	}
}

func TestRestartRecovery(t *testing.T) {
	cfg := testConfig(t)

	l, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := uint64(1); i <= 6; i++ {
		if err := l.Append(testEvent(i)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	// Consume two, leave four pending across restart.
	for i := 0; i < 2; i++ {
		if _, err := l.Next(); err != nil {
			t.Fatalf("Next: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	l2, err := Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer l2.Close()

	if got := l2.Len(); got != 4 {
		t.Fatalf("Len after restart = %d, expected 4", got)
	}
	for i := uint64(3); i <= 6; i++ {
		e, err := l2.Next()
		if err != nil {
			t.Fatalf("Next after restart: %v", err)
		}
		if e == nil || e.Position != event.Position(i) {
			t.Fatalf("recovered position = %v, expected %v", e, i)
		}
	}
}

func TestFull(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxBytes = 200
	l, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	var full bool
	for i := uint64(1); i <= 100; i++ {
		if err := l.Append(testEvent(i)); err != nil {
			if err != ErrSpillFull {
				t.Fatalf("Append: %v", err)
			}
			full = true
			break
		}
	}
	if !full {
		t.Error("log never reported full within its byte budget")
	}
}

func TestClosed(t *testing.T) {
	l, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := l.Append(testEvent(1)); err != ErrClosed {
		t.Errorf("Append on closed log = %v, expected ErrClosed", err)
	}
	if _, err := l.Next(); err != ErrClosed {
		t.Errorf("Next on closed log = %v, expected ErrClosed", err)
	}
	if err := l.Close(); err != nil {
		t.Errorf("second Close = %v, expected nil", err)
	}
}
