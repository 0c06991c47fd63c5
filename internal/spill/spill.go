// Package spill provides the on-disk overflow log the backpressure
// controller diverts to when the in-memory buffer is full. The log is
// append-only, bounded, and survives process restarts; recovered events
// re-enter the pipeline under the normal checkpoint discipline.
package spill

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/s2"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/tohafrit/savegress-platform-sub002/internal/event"
)

const (
	logFileName  = "overflow.log"
	metaFileName = "overflow.meta"

	// Record header: 8-byte length prefix. Bit 63 flags s2 compression.
	recordHeaderSize   = 8
	compressionFlagBit = uint64(1) << 63
	lengthMask         = ^compressionFlagBit

	defaultSyncInterval = time.Second
)

// ErrSpillFull is returned when the overflow log hit its byte budget.
// Callers escalate this as resource exhaustion.
var ErrSpillFull = errors.New("overflow log is full")

// ErrClosed is returned for operations on a closed log.
var ErrClosed = errors.New("overflow log is closed")

// Config holds overflow log settings.
type Config struct {
	// Path is the directory holding the log and its metadata.
	Path string
	// MaxBytes bounds the log file size (0 = 1GB).
	MaxBytes int64
	// SyncInterval is how often reader/writer offsets are persisted.
	SyncInterval time.Duration
}

// logMeta is the persisted offset state.
type logMeta struct {
	ReaderOffset int64 `json:"reader_offset"`
	WriterOffset int64 `json:"writer_offset"`
	Version      int   `json:"version"`
}

// Log is a bounded append-only overflow log. Safe for concurrent use.
type Log struct {
	cfg Config

	mu           sync.Mutex
	f            *os.File
	readerOffset int64
	writerOffset int64
	pending      int
	closed       bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// Open creates or recovers an overflow log in cfg.Path.
func Open(cfg Config) (*Log, error) {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 1 << 30
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = defaultSyncInterval
	}
	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create overflow directory: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(cfg.Path, logFileName), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open overflow log: %w", err)
	}

	l := &Log{
		cfg:    cfg,
		f:      f,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	if err := l.recover(); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to recover overflow log: %w", err)
	}

	go l.syncLoop()
	return l, nil
}

// recover loads persisted offsets, clamps them against the actual file, and
// recounts pending records.
func (l *Log) recover() error {
	st, err := l.f.Stat()
	if err != nil {
		return err
	}
	size := st.Size()
	l.writerOffset = size

	metaPath := filepath.Join(l.cfg.Path, metaFileName)
	if data, err := os.ReadFile(metaPath); err == nil {
		var meta logMeta
		if err := json.Unmarshal(data, &meta); err == nil {
			if meta.ReaderOffset >= 0 && meta.ReaderOffset <= size {
				l.readerOffset = meta.ReaderOffset
			}
		}
	}

	// Count recoverable records and validate the tail; a torn trailing
	// write is truncated away.
	off := l.readerOffset
	count := 0
	var header [recordHeaderSize]byte
	for off+recordHeaderSize <= size {
		if _, err := l.f.ReadAt(header[:], off); err != nil {
			break
		}
		n := int64(binary.BigEndian.Uint64(header[:]) & lengthMask)
		if off+recordHeaderSize+n > size {
			break
		}
		off += recordHeaderSize + n
		count++
	}
	if off < size {
		if err := l.f.Truncate(off); err != nil {
			return err
		}
		l.writerOffset = off
	}
	l.pending = count
	l.updateMetrics()
	return nil
}

// Append writes one event to the log.
func (l *Log) Append(e *event.Event) error {
	raw, err := msgpack.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	data := s2.Encode(nil, raw)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	if l.writerOffset+recordHeaderSize+int64(len(data)) > l.cfg.MaxBytes {
		spillFullTotal.Inc()
		return ErrSpillFull
	}

	var header [recordHeaderSize]byte
	binary.BigEndian.PutUint64(header[:], uint64(len(data))|compressionFlagBit)
	if _, err := l.f.WriteAt(header[:], l.writerOffset); err != nil {
		return fmt.Errorf("failed to write record header: %w", err)
	}
	if _, err := l.f.WriteAt(data, l.writerOffset+recordHeaderSize); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	l.writerOffset += recordHeaderSize + int64(len(data))
	l.pending++
	spillAppendTotal.Inc()
	l.updateMetrics()
	return nil
}

// Next returns the oldest unread event, or nil when the log is drained.
// Draining the log compacts it back to zero length.
func (l *Log) Next() (*event.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, ErrClosed
	}
	if l.readerOffset >= l.writerOffset {
		if err := l.compactLocked(); err != nil {
			return nil, err
		}
		return nil, nil
	}

	var header [recordHeaderSize]byte
	if _, err := l.f.ReadAt(header[:], l.readerOffset); err != nil {
		return nil, fmt.Errorf("failed to read record header: %w", err)
	}
	raw := binary.BigEndian.Uint64(header[:])
	n := int64(raw & lengthMask)
	compressed := raw&compressionFlagBit != 0

	data := make([]byte, n)
	if _, err := l.f.ReadAt(data, l.readerOffset+recordHeaderSize); err != nil {
		return nil, fmt.Errorf("failed to read record: %w", err)
	}
	if compressed {
		decoded, err := s2.Decode(nil, data)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress record: %w", err)
		}
		data = decoded
	}

	var e event.Event
	if err := msgpack.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to decode event: %w", err)
	}

	l.readerOffset += recordHeaderSize + n
	l.pending--
	l.updateMetrics()
	return &e, nil
}

// Len returns the number of unread records.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pending
}

// Size returns the current log file size in bytes.
func (l *Log) Size() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writerOffset
}

// Close persists offsets and closes the log file.
func (l *Log) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	close(l.stopCh)
	<-l.doneCh

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.syncMetaLocked(); err != nil {
		l.f.Close()
		return err
	}
	return l.f.Close()
}

// compactLocked resets a fully-drained log to zero length. Must be called
// with l.mu held.
func (l *Log) compactLocked() error {
	if l.writerOffset == 0 {
		return nil
	}
	if err := l.f.Truncate(0); err != nil {
		return fmt.Errorf("failed to compact overflow log: %w", err)
	}
	l.readerOffset = 0
	l.writerOffset = 0
	l.updateMetrics()
	return l.syncMetaLocked()
}

// syncLoop persists offsets on the configured interval.
func (l *Log) syncLoop() {
	defer close(l.doneCh)
	ticker := time.NewTicker(l.cfg.SyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.mu.Lock()
			if !l.closed {
				_ = l.syncMetaLocked()
			}
			l.mu.Unlock()
		}
	}
}

// syncMetaLocked writes the offset metadata via temp file + rename. Must be
// called with l.mu held.
func (l *Log) syncMetaLocked() error {
	meta := logMeta{
		ReaderOffset: l.readerOffset,
		WriterOffset: l.writerOffset,
		Version:      1,
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	metaPath := filepath.Join(l.cfg.Path, metaFileName)
	tmpPath := metaPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpPath, metaPath)
}

// updateMetrics refreshes gauges. Must be called with l.mu held.
func (l *Log) updateMetrics() {
	spillPending.Set(float64(l.pending))
	spillBytes.Set(float64(l.writerOffset))
}
