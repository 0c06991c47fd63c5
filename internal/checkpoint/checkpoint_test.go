package checkpoint

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/tohafrit/savegress-platform-sub002/internal/event"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testConfig(t *testing.T, mode string) Config {
	t.Helper()
	return Config{
		Path:     filepath.Join(t.TempDir(), "checkpoints.json"),
		Mode:     mode,
		Interval: 10 * time.Millisecond,
	}
}

func TestAdvanceAndLoad(t *testing.T) {
	s, err := Open(testConfig(t, ModeAsync))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if _, ok := s.Load("pg-primary"); ok {
		t.Error("fresh store reported a position")
	}
	if err := s.Advance("pg-primary", 100); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	pos, ok := s.Load("pg-primary")
	if !ok || pos != 100 {
		t.Errorf("Load = (%v, %v), expected (100, true)", pos, ok)
	}
}

func TestMonotonicity(t *testing.T) {
	s, err := Open(testConfig(t, ModeAsync))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.Advance("pg-primary", 100); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	// Equal position is an idempotent no-op.
	if err := s.Advance("pg-primary", 100); err != nil {
		t.Errorf("equal advance = %v, expected nil", err)
	}
	// Regression is an error and leaves the position untouched.
	err = s.Advance("pg-primary", 99)
	if !errors.Is(err, ErrPositionRegression) {
		t.Errorf("regression = %v, expected ErrPositionRegression", err)
	}
	if pos, _ := s.Load("pg-primary"); pos != 100 {
		t.Errorf("position after rejected regression = %v, expected 100", pos)
	}
	// Other sources are unaffected.
	if err := s.Advance("mysql-shard-1", 5); err != nil {
		t.Errorf("Advance on second source: %v", err)
	}
}

func TestConcurrentAdvance(t *testing.T) {
	s, err := Open(testConfig(t, ModeAsync))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	// Monotonically increasing positions fed from many goroutines must never
	// regress, whatever the interleaving.
	var wg sync.WaitGroup
	sources := []string{"a", "b", "c", "d"}
	counters := map[string]*uint64{}
	for _, src := range sources {
		var c uint64
		counters[src] = &c
	}
	var mu sync.Mutex
	for i := 0; i < 8; i++ {
		for _, src := range sources {
			wg.Add(1)
			go func(src string) {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					mu.Lock()
					*counters[src]++
					pos := event.Position(*counters[src])
					if err := s.Advance(src, pos); err != nil {
						mu.Unlock()
						t.Errorf("Advance(%s, %v): %v", src, pos, err)
						return
					}
					mu.Unlock()
				}
			}(src)
		}
	}
	wg.Wait()

	for _, src := range sources {
		if pos, _ := s.Load(src); pos != 800 {
			t.Errorf("final position for %s = %v, expected 800", src, pos)
		}
	}
}

func TestRestartRoundTrip(t *testing.T) {
	cfg := testConfig(t, ModeAsync)

	s, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Advance("pg-primary", 4096); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if err := s.Advance("mysql-shard-1", 77); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	if pos, ok := s2.Load("pg-primary"); !ok || pos != 4096 {
		t.Errorf("recovered pg-primary = (%v, %v), expected (4096, true)", pos, ok)
	}
	if pos, ok := s2.Load("mysql-shard-1"); !ok || pos != 77 {
		t.Errorf("recovered mysql-shard-1 = (%v, %v), expected (77, true)", pos, ok)
	}
	// Resume continues strictly after the stored position.
	if err := s2.Advance("pg-primary", 4000); !errors.Is(err, ErrPositionRegression) {
		t.Errorf("pre-restart position accepted after reload: %v", err)
	}
}

func TestSyncModeDurability(t *testing.T) {
	cfg := testConfig(t, ModeSync)
	s, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.Advance("pg-primary", 10); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	// Sync mode persists before Advance returns; the file is readable now.
	data, err := os.ReadFile(cfg.Path)
	if err != nil {
		t.Fatalf("state file missing after sync advance: %v", err)
	}
	if len(data) == 0 {
		t.Error("state file empty after sync advance")
	}
}

func TestAsyncFlushInterval(t *testing.T) {
	cfg := testConfig(t, ModeAsync)
	s, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.Advance("pg-primary", 10); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(cfg.Path); err == nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("async flush never wrote the state file")
}

func TestUnknownMode(t *testing.T) {
	cfg := testConfig(t, "eventually")
	if _, err := Open(cfg); err == nil {
		t.Error("unknown mode accepted")
	}
}

func TestDoubleClose(t *testing.T) {
	s, err := Open(testConfig(t, ModeAsync))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close = %v, expected nil", err)
	}
	if err := s.Flush(); err != ErrClosed {
		t.Errorf("Flush on closed store = %v, expected ErrClosed", err)
	}
}
