// Package checkpoint persists per-source delivery positions. A checkpoint is
// only advanced after a batch reaches a terminal outcome, so after a restart
// the pipeline resumes strictly after the last recorded position.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tohafrit/savegress-platform-sub002/internal/event"
	"github.com/tohafrit/savegress-platform-sub002/internal/logging"
)

// Durability modes.
const (
	ModeSync  = "sync"  // fsync on every advance
	ModeAsync = "async" // flush on an interval
)

const defaultFlushInterval = 5 * time.Second

// ErrPositionRegression is returned when an advance moves a source's
// position backwards. Callers treat it as fatal: it means the ordering
// contract upstream is broken.
var ErrPositionRegression = errors.New("checkpoint position regression")

// ErrClosed is returned for operations on a closed store.
var ErrClosed = errors.New("checkpoint store is closed")

// Config holds checkpoint store settings.
type Config struct {
	// Path is the state file location.
	Path string
	// Mode is ModeSync or ModeAsync.
	Mode string
	// Interval is the async flush period (0 = 5s).
	Interval time.Duration
}

// sourceRecord keeps one source's position under its own lock so advances on
// different sources never contend.
type sourceRecord struct {
	mu  sync.Mutex
	pos event.Position
}

// Store is a durable per-source checkpoint store. Safe for concurrent use.
type Store struct {
	cfg     Config
	records sync.Map // source -> *sourceRecord

	flushMu sync.Mutex
	closed  bool

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// Open loads or creates the checkpoint state file.
func Open(cfg Config) (*Store, error) {
	if cfg.Mode == "" {
		cfg.Mode = ModeAsync
	}
	if cfg.Mode != ModeSync && cfg.Mode != ModeAsync {
		return nil, fmt.Errorf("unknown checkpoint mode %q", cfg.Mode)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultFlushInterval
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	s := &Store{
		cfg:    cfg,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}

	if data, err := os.ReadFile(cfg.Path); err == nil {
		var state map[string]uint64
		if err := json.Unmarshal(data, &state); err != nil {
			return nil, fmt.Errorf("failed to parse checkpoint state: %w", err)
		}
		for source, pos := range state {
			s.records.Store(source, &sourceRecord{pos: event.Position(pos)})
			positionGauge.WithLabelValues(source).Set(float64(pos))
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read checkpoint state: %w", err)
	}

	if cfg.Mode == ModeAsync {
		go s.flushLoop()
	} else {
		close(s.doneCh)
	}
	return s, nil
}

// Advance records pos as the latest terminal position for source. Positions
// must be monotonic per source; an equal position is an idempotent no-op and
// a lower one returns ErrPositionRegression.
func (s *Store) Advance(source string, pos event.Position) error {
	recAny, _ := s.records.LoadOrStore(source, &sourceRecord{})
	rec := recAny.(*sourceRecord)

	rec.mu.Lock()
	switch {
	case pos == rec.pos:
		rec.mu.Unlock()
		return nil
	case pos < rec.pos:
		cur := rec.pos
		rec.mu.Unlock()
		regressionTotal.WithLabelValues(source).Inc()
		return fmt.Errorf("%w: source %s at %s, got %s", ErrPositionRegression, source, cur, pos)
	}
	rec.pos = pos
	rec.mu.Unlock()

	advanceTotal.WithLabelValues(source).Inc()
	positionGauge.WithLabelValues(source).Set(float64(pos))

	if s.cfg.Mode == ModeSync {
		return s.Flush()
	}
	return nil
}

// Load returns the last recorded position for source.
func (s *Store) Load(source string) (event.Position, bool) {
	recAny, ok := s.records.Load(source)
	if !ok {
		return 0, false
	}
	rec := recAny.(*sourceRecord)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.pos, true
}

// Flush persists the current state via temp file + rename + fsync.
func (s *Store) Flush() error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.flushLocked()
}

func (s *Store) flushLocked() error {
	state := make(map[string]uint64)
	s.records.Range(func(key, value any) bool {
		rec := value.(*sourceRecord)
		rec.mu.Lock()
		state[key.(string)] = uint64(rec.pos)
		rec.mu.Unlock()
		return true
	})

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	tmpPath := s.cfg.Path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write checkpoint state: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync checkpoint state: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, s.cfg.Path); err != nil {
		return fmt.Errorf("failed to replace checkpoint state: %w", err)
	}
	flushTotal.Inc()
	return nil
}

// Close stops the flush loop and persists the final state.
func (s *Store) Close() error {
	s.stopOnce.Do(func() {
		if s.cfg.Mode == ModeAsync {
			close(s.stopCh)
		}
	})
	<-s.doneCh

	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	if s.closed {
		return nil
	}
	err := s.flushLocked()
	s.closed = true
	return err
}

// flushLoop persists state on the configured interval.
func (s *Store) flushLoop() {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if err := s.Flush(); err != nil && err != ErrClosed {
				logging.Error("checkpoint flush failed", logging.F("error", err.Error()))
			}
		}
	}
}
