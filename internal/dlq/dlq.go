// Package dlq implements the segmented dead-letter store. Batches that
// exhaust their retry budget land here as individual entries, preserving
// enough context to diagnose and replay them later.
package dlq

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/tohafrit/savegress-platform-sub002/internal/event"
)

const (
	segmentPattern = "dlq-%08d.seg"
	segmentGlob    = "dlq-*.seg"

	// Entry header: 4-byte big-endian length prefix.
	entryHeaderSize = 4

	defaultMaxSegmentBytes = 64 << 20

	// unattributedSource holds entries whose event carries no source id.
	unattributedSource = "unknown"
)

// ErrClosed is returned for operations on a closed store.
var ErrClosed = errors.New("dead-letter store is closed")

// Entry is one dead-lettered event. Entries are immutable once enqueued.
type Entry struct {
	ID            string       `msgpack:"id"`
	Event         *event.Event `msgpack:"event"`
	Codec         string       `msgpack:"codec"`
	Reason        string       `msgpack:"reason"`
	Retries       int          `msgpack:"retries"`
	FirstFailedAt time.Time    `msgpack:"first_failed_at"`
	LastAttemptAt time.Time    `msgpack:"last_attempt_at"`
}

// Selector filters entries during replay. Zero values match everything.
type Selector struct {
	Source string
	Table  string
	Since  time.Time
}

func (s Selector) matches(e Entry) bool {
	if s.Source != "" && e.Event != nil && e.Event.Source != s.Source {
		return false
	}
	if s.Table != "" && e.Event != nil && e.Event.Table != s.Table {
		return false
	}
	if !s.Since.IsZero() && e.LastAttemptAt.Before(s.Since) {
		return false
	}
	return true
}

// SegmentInfo describes one on-disk segment.
type SegmentInfo struct {
	Source  string
	Name    string
	Entries int
	Bytes   int64
	ModTime time.Time
}

// Config holds dead-letter store settings.
type Config struct {
	// Path is the directory holding per-source segment directories.
	Path string
	// MaxSegmentBytes rolls the active segment when exceeded (0 = 64MB).
	MaxSegmentBytes int64
	// RetentionDays expires whole segments by age (0 = keep forever).
	RetentionDays int
	// MaxMessages bounds the total entry count across all sources; oldest
	// whole segments are dropped first (0 = unbounded).
	MaxMessages int
}

type segment struct {
	index   int
	path    string
	entries int
	bytes   int64
	modTime time.Time
}

// sourceLog is one source stream's segment chain. Each source appends under
// its own mutex, so pipelines never contend with each other on enqueue.
type sourceLog struct {
	name string
	dir  string

	mu       sync.Mutex
	segments []*segment // oldest first; last is active
	active   *os.File
	closed   bool
}

// Store is a dead-letter store striped per source: every source stream owns
// a segment chain in its own subdirectory. Safe for concurrent use.
type Store struct {
	cfg Config
	now func() time.Time

	mu      sync.RWMutex // guards sources and closed, not segment contents
	sources map[string]*sourceLog
	closed  bool

	// Aggregates kept outside the per-source locks so Len and the gauges
	// never fan out across stripes.
	entryCount   atomic.Int64
	byteCount    atomic.Int64
	segmentCount atomic.Int64
}

// Open creates or recovers a dead-letter store in cfg.Path.
func Open(cfg Config) (*Store, error) {
	if cfg.MaxSegmentBytes <= 0 {
		cfg.MaxSegmentBytes = defaultMaxSegmentBytes
	}
	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create dead-letter directory: %w", err)
	}

	s := &Store{cfg: cfg, now: time.Now, sources: make(map[string]*sourceLog)}
	dirs, err := os.ReadDir(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead-letter directory: %w", err)
	}
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		sl, err := s.recoverSource(d.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to recover dead-letter source %s: %w", d.Name(), err)
		}
		s.sources[d.Name()] = sl
	}
	s.publishMetrics()
	return s, nil
}

// recoverSource scans one source directory, truncating a torn trailing write
// and reopening the newest segment for appends.
func (s *Store) recoverSource(name string) (*sourceLog, error) {
	dir := filepath.Join(s.cfg.Path, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	sl := &sourceLog{name: name, dir: dir}

	paths, err := filepath.Glob(filepath.Join(dir, segmentGlob))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	for _, p := range paths {
		var index int
		if _, err := fmt.Sscanf(filepath.Base(p), segmentPattern, &index); err != nil {
			continue
		}
		st, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		entries, validBytes, err := countEntries(p)
		if err != nil {
			return nil, err
		}
		if validBytes < st.Size() {
			if err := os.Truncate(p, validBytes); err != nil {
				return nil, err
			}
		}
		sl.segments = append(sl.segments, &segment{
			index:   index,
			path:    p,
			entries: entries,
			bytes:   validBytes,
			modTime: st.ModTime(),
		})
		s.entryCount.Add(int64(entries))
		s.byteCount.Add(validBytes)
		s.segmentCount.Add(1)
	}

	if len(sl.segments) == 0 {
		return sl, s.rollLocked(sl)
	}
	active := sl.segments[len(sl.segments)-1]
	f, err := os.OpenFile(active.path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open active segment: %w", err)
	}
	sl.active = f
	return sl, nil
}

// countEntries walks a segment file and returns the entry count and the
// byte offset of the last complete record.
func countEntries(path string) (int, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return 0, 0, err
	}
	size := st.Size()

	var (
		header [entryHeaderSize]byte
		off    int64
		count  int
	)
	for off+entryHeaderSize <= size {
		if _, err := f.ReadAt(header[:], off); err != nil {
			break
		}
		n := int64(binary.BigEndian.Uint32(header[:]))
		if off+entryHeaderSize+n > size {
			break
		}
		off += entryHeaderSize + n
		count++
	}
	return count, off, nil
}

// sourceFor returns the stripe for name, creating it on first use.
func (s *Store) sourceFor(name string) (*sourceLog, error) {
	s.mu.RLock()
	sl, closed := s.sources[name], s.closed
	s.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if sl != nil {
		return sl, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if sl := s.sources[name]; sl != nil {
		return sl, nil
	}
	sl, err := s.recoverSource(name)
	if err != nil {
		return nil, err
	}
	s.sources[name] = sl
	s.publishMetrics()
	return sl, nil
}

// rollLocked closes the stripe's active segment and starts a new one. Must be
// called with sl.mu held (or before sl is published).
func (s *Store) rollLocked(sl *sourceLog) error {
	if sl.active != nil {
		if err := sl.active.Close(); err != nil {
			return err
		}
		sl.active = nil
	}
	next := 0
	if len(sl.segments) > 0 {
		next = sl.segments[len(sl.segments)-1].index + 1
	}
	path := filepath.Join(sl.dir, fmt.Sprintf(segmentPattern, next))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create segment: %w", err)
	}
	sl.active = f
	sl.segments = append(sl.segments, &segment{index: next, path: path, modTime: s.now()})
	s.segmentCount.Add(1)
	return nil
}

// Enqueue appends one entry to its source's active segment, rolling it first
// when the size limit is reached. A missing entry ID is assigned.
func (s *Store) Enqueue(e Entry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	data, err := msgpack.Marshal(&e)
	if err != nil {
		return fmt.Errorf("failed to encode dead-letter entry: %w", err)
	}

	name := unattributedSource
	if e.Event != nil && e.Event.Source != "" {
		name = e.Event.Source
	}
	sl, err := s.sourceFor(name)
	if err != nil {
		return err
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()

	if sl.closed {
		return ErrClosed
	}

	active := sl.segments[len(sl.segments)-1]
	recordSize := int64(entryHeaderSize + len(data))
	if active.bytes > 0 && active.bytes+recordSize > s.cfg.MaxSegmentBytes {
		if err := s.rollLocked(sl); err != nil {
			return err
		}
		active = sl.segments[len(sl.segments)-1]
	}

	var header [entryHeaderSize]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(data)))
	if _, err := sl.active.Write(header[:]); err != nil {
		return fmt.Errorf("failed to write entry header: %w", err)
	}
	if _, err := sl.active.Write(data); err != nil {
		return fmt.Errorf("failed to write entry: %w", err)
	}
	active.bytes += recordSize
	active.entries++
	active.modTime = s.now()
	s.entryCount.Add(1)
	s.byteCount.Add(recordSize)
	enqueuedTotal.Inc()
	s.publishMetrics()
	return nil
}

// Len returns the total number of stored entries across all sources.
func (s *Store) Len() int {
	return int(s.entryCount.Load())
}

// snapshotLogs returns the stripes sorted by source name. The fixed order
// doubles as the lock order wherever more than one stripe is held.
func (s *Store) snapshotLogs(onlySource string) ([]*sourceLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	logs := make([]*sourceLog, 0, len(s.sources))
	for name, sl := range s.sources {
		if onlySource != "" && name != onlySource {
			continue
		}
		logs = append(logs, sl)
	}
	sort.Slice(logs, func(i, j int) bool { return logs[i].name < logs[j].name })
	return logs, nil
}

// Segments describes the on-disk segments, grouped by source, oldest first
// within each source.
func (s *Store) Segments() []SegmentInfo {
	logs, err := s.snapshotLogs("")
	if err != nil {
		return nil
	}
	var out []SegmentInfo
	for _, sl := range logs {
		sl.mu.Lock()
		for _, seg := range sl.segments {
			out = append(out, SegmentInfo{
				Source:  sl.name,
				Name:    filepath.Base(seg.path),
				Entries: seg.entries,
				Bytes:   seg.bytes,
				ModTime: seg.modTime,
			})
		}
		sl.mu.Unlock()
	}
	return out
}

// Replay walks all entries matching sel, invoking fn for each. Within one
// source the original append order is preserved; sources are visited in name
// order with no cross-source ordering guarantee. Returning an error from fn
// stops the walk.
func (s *Store) Replay(sel Selector, fn func(Entry) error) error {
	logs, err := s.snapshotLogs(sel.Source)
	if err != nil {
		return err
	}

	for _, sl := range logs {
		sl.mu.Lock()
		paths := make([]string, len(sl.segments))
		for i, seg := range sl.segments {
			paths[i] = seg.path
		}
		sl.mu.Unlock()

		for _, p := range paths {
			if err := replaySegment(p, sel, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

func replaySegment(path string, sel Selector, fn func(Entry) error) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Purged between listing and open.
			return nil
		}
		return err
	}
	defer f.Close()

	var header [entryHeaderSize]byte
	for {
		if _, err := io.ReadFull(f, header[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil
			}
			return err
		}
		n := binary.BigEndian.Uint32(header[:])
		data := make([]byte, n)
		if _, err := io.ReadFull(f, data); err != nil {
			return nil
		}
		var e Entry
		if err := msgpack.Unmarshal(data, &e); err != nil {
			return fmt.Errorf("failed to decode dead-letter entry: %w", err)
		}
		if !sel.matches(e) {
			continue
		}
		replayedTotal.Inc()
		if err := fn(e); err != nil {
			return err
		}
	}
}

// PurgeExpired drops whole segments that exceed the retention age or push the
// store past its message budget, globally oldest first. Returns the number of
// entries removed.
func (s *Store) PurgeExpired() (int, error) {
	logs, err := s.snapshotLogs("")
	if err != nil {
		return 0, err
	}
	// Purge is rare; holding every stripe keeps the global count exact.
	for _, sl := range logs {
		sl.mu.Lock()
	}
	defer func() {
		for i := len(logs) - 1; i >= 0; i-- {
			logs[i].mu.Unlock()
		}
	}()

	var cutoff time.Time
	if s.cfg.RetentionDays > 0 {
		cutoff = s.now().AddDate(0, 0, -s.cfg.RetentionDays)
	}

	total := 0
	for _, sl := range logs {
		for _, seg := range sl.segments {
			total += seg.entries
		}
	}

	removed := 0
	for {
		var victim *segment
		var owner *sourceLog
		for _, sl := range logs {
			if len(sl.segments) == 0 {
				continue
			}
			seg := sl.segments[0]
			if victim == nil || seg.modTime.Before(victim.modTime) {
				victim, owner = seg, sl
			}
		}
		if victim == nil {
			break
		}
		expired := !cutoff.IsZero() && victim.modTime.Before(cutoff)
		overCount := s.cfg.MaxMessages > 0 && total > s.cfg.MaxMessages
		if !expired && !overCount {
			break
		}
		// The active segment rolls before it can be dropped.
		if victim == owner.segments[len(owner.segments)-1] {
			if err := s.rollLocked(owner); err != nil {
				return removed, err
			}
		}
		if err := os.Remove(victim.path); err != nil {
			return removed, fmt.Errorf("failed to remove segment: %w", err)
		}
		total -= victim.entries
		removed += victim.entries
		s.entryCount.Add(-int64(victim.entries))
		s.byteCount.Add(-victim.bytes)
		s.segmentCount.Add(-1)
		owner.segments = owner.segments[1:]
	}
	if removed > 0 {
		purgedTotal.Add(float64(removed))
		s.publishMetrics()
	}
	return removed, nil
}

// Close closes every stripe's active segment.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var firstErr error
	for _, sl := range s.sources {
		sl.mu.Lock()
		sl.closed = true
		if sl.active != nil {
			if err := sl.active.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
			sl.active = nil
		}
		sl.mu.Unlock()
	}
	return firstErr
}

// publishMetrics refreshes the store gauges from the aggregate counters.
func (s *Store) publishMetrics() {
	dlqEntries.Set(float64(s.entryCount.Load()))
	dlqBytes.Set(float64(s.byteCount.Load()))
	dlqSegments.Set(float64(s.segmentCount.Load()))
}
