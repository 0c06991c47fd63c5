package source

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/tohafrit/savegress-platform-sub002/internal/event"
)

// JSONL reads change events from a newline-delimited JSON stream, one event
// object per line. It is the file-replay adapter used to feed captured
// change logs through the pipeline.
type JSONL struct {
	name string

	mu      sync.Mutex
	scanner *bufio.Scanner
	closer  io.Closer
	pos     event.Position
	skipTo  event.Position
	line    int
}

// OpenJSONL opens a change log file for the named source. Path "-" reads
// stdin.
func OpenJSONL(name, path string) (*JSONL, error) {
	var (
		r io.Reader
		c io.Closer
	)
	if path == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open change log: %w", err)
		}
		r = f
		c = f
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &JSONL{name: name, scanner: sc, closer: c}, nil
}

// NextEvent returns the next event in the stream. Events at or before the
// seek position are skipped. Returns ErrEndOfStream at EOF.
func (s *JSONL) NextEvent(ctx context.Context) (*event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return nil, fmt.Errorf("failed to read change log: %w", err)
			}
			return nil, ErrEndOfStream
		}
		s.line++
		line := s.scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var e event.Event
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("malformed event at line %d: %w", s.line, err)
		}
		if e.Source == "" {
			e.Source = s.name
		}
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		if !s.skipTo.Less(e.Position) {
			continue
		}
		s.pos = e.Position
		return &e, nil
	}
}

// CurrentPosition returns the position of the last returned event.
func (s *JSONL) CurrentPosition() event.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

// Seek arranges for the stream to resume strictly after pos. The underlying
// file is scanned forward; positions never move backwards.
func (s *JSONL) Seek(pos event.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skipTo = pos
	return nil
}

// Close releases the underlying file.
func (s *JSONL) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
