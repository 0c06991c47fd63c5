// Package pipeline wires one source's change stream through flow control and
// reliability to a sink: ingest fills a bounded buffer under backpressure,
// egress batches, compresses, rate-limits, and delivers through a circuit
// breaker with retries, dead-lettering, and checkpoint advancement.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/tohafrit/savegress-platform-sub002/internal/backpressure"
	"github.com/tohafrit/savegress-platform-sub002/internal/breaker"
	"github.com/tohafrit/savegress-platform-sub002/internal/buffer"
	"github.com/tohafrit/savegress-platform-sub002/internal/checkpoint"
	"github.com/tohafrit/savegress-platform-sub002/internal/compression"
	"github.com/tohafrit/savegress-platform-sub002/internal/dlq"
	"github.com/tohafrit/savegress-platform-sub002/internal/event"
	"github.com/tohafrit/savegress-platform-sub002/internal/logging"
	"github.com/tohafrit/savegress-platform-sub002/internal/ratelimit"
	"github.com/tohafrit/savegress-platform-sub002/internal/sink"
	"github.com/tohafrit/savegress-platform-sub002/internal/source"
	"github.com/tohafrit/savegress-platform-sub002/internal/spill"
	"golang.org/x/sync/errgroup"
)

const (
	// pollInterval paces the egress loop when the buffer is empty and the
	// ingest loop while paused.
	pollInterval = 2 * time.Millisecond
	// breakerWaitInterval paces egress while the breaker rejects sends.
	breakerWaitInterval = 25 * time.Millisecond
	// throttleUnit scales the backpressure throttle factor into a per-pull
	// ingest delay.
	throttleUnit = 10 * time.Millisecond
)

// Guard is the circuit breaker surface egress depends on. Both the fixed and
// the adaptive breaker satisfy it.
type Guard interface {
	Allow() bool
	RecordSuccess()
	RecordFailure()
	State() breaker.State
}

// BatchConfig bounds batch accumulation.
type BatchConfig struct {
	MaxSize int
	MaxWait time.Duration
}

// DefaultBatchConfig matches the delivery defaults.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{MaxSize: 500, MaxWait: 200 * time.Millisecond}
}

// Options wires one per-source pipeline.
type Options struct {
	SourceName string
	Source     source.Source
	Sink       sink.Sink

	Buffer       *buffer.Ring
	Backpressure *backpressure.Controller
	Limiter      ratelimit.Limiter
	Breaker      Guard
	Selector     *compression.Selector

	Spill      *spill.Log       // nil disables spilling
	DLQ        *dlq.Store       // nil disables dead-lettering (exhausted batches are dropped, counted)
	Checkpoint *checkpoint.Store

	Batch       BatchConfig
	Retry       RetryConfig
	SinkTimeout time.Duration
	// DrainGrace bounds the final flush during shutdown.
	DrainGrace time.Duration
}

// Pipeline runs one source's ingest and egress stages.
type Pipeline struct {
	opt Options

	// spillActive is set while the overflow log holds events; ingest keeps
	// appending there until egress drains it, preserving position order.
	spillActive atomic.Bool
	// dropOldest tells egress to discard buffered events instead of
	// batching them.
	dropOldest atomic.Bool
	drained    atomic.Bool

	batchStart time.Time
	pending    []*event.Event
}

// New validates the wiring and builds a pipeline.
func New(opt Options) (*Pipeline, error) {
	if opt.SourceName == "" {
		return nil, errors.New("pipeline requires a source name")
	}
	if opt.Source == nil || opt.Sink == nil {
		return nil, errors.New("pipeline requires a source and a sink")
	}
	if opt.Buffer == nil || opt.Backpressure == nil || opt.Limiter == nil ||
		opt.Breaker == nil || opt.Selector == nil || opt.Checkpoint == nil {
		return nil, errors.New("pipeline requires buffer, backpressure, limiter, breaker, selector and checkpoint")
	}
	if opt.Batch.MaxSize <= 0 {
		return nil, fmt.Errorf("batch max_size must be positive, got %d", opt.Batch.MaxSize)
	}
	if opt.Batch.MaxWait <= 0 {
		return nil, fmt.Errorf("batch max_wait must be positive, got %v", opt.Batch.MaxWait)
	}
	if opt.Retry.MaxAttempts <= 0 {
		return nil, fmt.Errorf("retry max_attempts must be positive, got %d", opt.Retry.MaxAttempts)
	}
	// A full batch above the limiter's burst would be denied on every admit
	// and the flush loop would spin forever.
	if burst := opt.Limiter.Burst(); opt.Batch.MaxSize > burst {
		return nil, fmt.Errorf("batch max_size %d exceeds limiter burst %d, full batches could never be admitted",
			opt.Batch.MaxSize, burst)
	}
	if opt.SinkTimeout <= 0 {
		opt.SinkTimeout = 30 * time.Second
	}
	if opt.DrainGrace <= 0 {
		opt.DrainGrace = 5 * time.Second
	}
	return &Pipeline{opt: opt}, nil
}

// Run resumes the source from its checkpoint and drives both stages until
// ctx is cancelled or the source ends. A checkpoint write failure is fatal
// and aborts the run.
func (p *Pipeline) Run(ctx context.Context) error {
	if pos, ok := p.opt.Checkpoint.Load(p.opt.SourceName); ok {
		if err := p.opt.Source.Seek(pos); err != nil {
			return fmt.Errorf("failed to resume source %s from %s: %w", p.opt.SourceName, pos, err)
		}
		logging.Info("resuming from checkpoint",
			logging.F("source", p.opt.SourceName, "position", pos.String()))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.ingest(gctx) })
	g.Go(func() error { return p.egress(gctx) })
	return g.Wait()
}

// ingest pulls events from the source into the buffer, honoring the
// backpressure controller's decisions.
func (p *Pipeline) ingest(ctx context.Context) error {
	name := p.opt.SourceName
	for {
		d := p.opt.Backpressure.Observe(p.opt.Buffer.Occupancy())
		switch d.Action {
		case backpressure.ActionPause:
			p.dropOldest.Store(false)
			if err := sleepCtx(ctx, pollInterval); err != nil {
				return nil
			}
			continue
		case backpressure.ActionThrottle:
			p.dropOldest.Store(false)
			delay := time.Duration((1 - d.RateFactor) * float64(throttleUnit))
			if err := sleepCtx(ctx, delay); err != nil {
				return nil
			}
		case backpressure.ActionDropOldest:
			p.dropOldest.Store(true)
		default:
			p.dropOldest.Store(false)
		}

		e, err := p.opt.Source.NextEvent(ctx)
		if err != nil {
			if errors.Is(err, source.ErrEndOfStream) {
				p.drained.Store(true)
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("source %s failed: %w", name, err)
		}
		eventsInTotal.WithLabelValues(name).Inc()

		if d.Action == backpressure.ActionDropNewest {
			eventsDroppedTotal.WithLabelValues(name, "drop_newest").Inc()
			continue
		}

		if p.shouldSpill(d.Action) {
			if err := p.spillEvent(ctx, e); err != nil {
				return err
			}
			continue
		}

		for !p.opt.Buffer.Push(e) {
			// Full buffer between observe and push. Re-observe so the
			// controller can escalate.
			d = p.opt.Backpressure.Observe(p.opt.Buffer.Occupancy())
			if d.Action == backpressure.ActionDropNewest {
				eventsDroppedTotal.WithLabelValues(name, "drop_newest").Inc()
				break
			}
			if p.shouldSpill(d.Action) {
				if err := p.spillEvent(ctx, e); err != nil {
					return err
				}
				break
			}
			if err := sleepCtx(ctx, pollInterval); err != nil {
				return nil
			}
		}
	}
}

// shouldSpill reports whether e must go to the overflow log. Once spilling
// starts it continues until the log drains, so events cannot overtake each
// other across the buffer/log boundary.
func (p *Pipeline) shouldSpill(action backpressure.Action) bool {
	if p.opt.Spill == nil {
		return false
	}
	if action == backpressure.ActionSpill {
		return true
	}
	return p.spillActive.Load() && p.opt.Spill.Len() > 0
}

func (p *Pipeline) spillEvent(ctx context.Context, e *event.Event) error {
	p.spillActive.Store(true)
	for {
		err := p.opt.Spill.Append(e)
		if err == nil {
			eventsSpilledTotal.WithLabelValues(p.opt.SourceName).Inc()
			return nil
		}
		if !errors.Is(err, spill.ErrSpillFull) {
			return fmt.Errorf("failed to spill event: %w", err)
		}
		// Both buffer and overflow log are full: resource exhaustion.
		// Hold the event until egress makes room.
		if serr := sleepCtx(ctx, pollInterval); serr != nil {
			return nil
		}
	}
}

// egress drains the buffer and the overflow log, forming batches and
// delivering them.
func (p *Pipeline) egress(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return p.drainOnShutdown()
		}

		e := p.nextBuffered()
		if e == nil {
			if p.drained.Load() && p.opt.Buffer.Len() == 0 && p.spillLen() == 0 {
				if len(p.pending) > 0 {
					if err := p.flush(ctx); err != nil {
						return err
					}
				}
				return nil
			}
			if p.flushDue() {
				if err := p.flush(ctx); err != nil {
					return err
				}
			}
			if err := sleepCtx(ctx, pollInterval); err != nil {
				return p.drainOnShutdown()
			}
			continue
		}

		if p.dropOldest.Load() {
			eventsDroppedTotal.WithLabelValues(p.opt.SourceName, "drop_oldest").Inc()
			continue
		}

		if len(p.pending) == 0 {
			p.batchStart = time.Now()
		}
		p.pending = append(p.pending, e)
		if len(p.pending) >= p.opt.Batch.MaxSize || p.flushDue() {
			if err := p.flush(ctx); err != nil {
				return err
			}
		}
	}
}

// nextBuffered pops the next event, preferring the buffer. The overflow log
// is only consulted once the buffer is empty, which keeps position order
// intact (spilled events are always newer than buffered ones).
func (p *Pipeline) nextBuffered() *event.Event {
	if e := p.opt.Buffer.Pop(); e != nil {
		return e
	}
	if p.opt.Spill == nil {
		return nil
	}
	e, err := p.opt.Spill.Next()
	if err != nil {
		if !errors.Is(err, spill.ErrClosed) {
			logging.Error("overflow log read failed",
				logging.F("source", p.opt.SourceName, "error", err.Error()))
		}
		return nil
	}
	if e == nil {
		p.spillActive.Store(false)
		return nil
	}
	return e
}

func (p *Pipeline) spillLen() int {
	if p.opt.Spill == nil {
		return 0
	}
	return p.opt.Spill.Len()
}

func (p *Pipeline) flushDue() bool {
	return len(p.pending) > 0 && time.Since(p.batchStart) >= p.opt.Batch.MaxWait
}

// drainOnShutdown flushes the accumulated batch once under the grace period.
func (p *Pipeline) drainOnShutdown() error {
	if len(p.pending) == 0 {
		return nil
	}
	drainCtx, cancel := context.WithTimeout(context.Background(), p.opt.DrainGrace)
	defer cancel()
	logging.Info("draining in-flight batch",
		logging.F("source", p.opt.SourceName, "events", len(p.pending)))
	return p.flush(drainCtx)
}

// flush compresses, admits, and delivers the pending batch, then records its
// terminal outcome.
func (p *Pipeline) flush(ctx context.Context) error {
	batch := event.NewBatch(p.pending)
	p.pending = nil

	payload, err := batch.EncodePayload()
	if err != nil {
		return fmt.Errorf("failed to encode batch: %w", err)
	}
	codec, compressed := p.opt.Selector.Compress(payload)
	batch.Codec = string(codec)
	batch.Payload = compressed
	batch.CompressedBytes = len(compressed)

	// Admission control. The limiter never blocks; we sleep out its advice.
	for {
		d := p.opt.Limiter.Admit(batch.Len())
		if d.Allow {
			break
		}
		if err := sleepCtx(ctx, d.Wait); err != nil {
			return ctx.Err()
		}
	}

	if err := p.send(ctx, batch); err != nil {
		return err
	}

	if err := p.opt.Checkpoint.Advance(p.opt.SourceName, batch.Last()); err != nil {
		// A checkpoint that cannot advance invalidates the delivery
		// contract; halt rather than continue with stale durability.
		logging.Error("checkpoint advance failed, halting pipeline",
			logging.F("source", p.opt.SourceName, "position", batch.Last().String(), "error", err.Error()))
		return fmt.Errorf("checkpoint advance for source %s: %w", p.opt.SourceName, err)
	}
	return nil
}

// send delivers one batch through the breaker with retries. The batch always
// reaches a terminal outcome: delivered, dead-lettered, or the context ends
// the run with the checkpoint unadvanced so the batch is redelivered later.
func (p *Pipeline) send(ctx context.Context, batch *event.Batch) error {
	name := p.opt.SourceName
	firstFailure := time.Time{}

	for attempt := 1; ; attempt++ {
		for !p.opt.Breaker.Allow() {
			shortCircuitTotal.WithLabelValues(name).Inc()
			if err := sleepCtx(ctx, breakerWaitInterval); err != nil {
				return ctx.Err()
			}
		}

		sendCtx, cancel := context.WithTimeout(ctx, p.opt.SinkTimeout)
		start := time.Now()
		ack, err := p.opt.Sink.Send(sendCtx, batch)
		cancel()
		sendDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

		if err == nil {
			p.opt.Breaker.RecordSuccess()
			batchesSentTotal.WithLabelValues(name).Inc()
			eventsOutTotal.WithLabelValues(name).Add(float64(ack.Delivered))
			return nil
		}

		p.opt.Breaker.RecordFailure()
		if firstFailure.IsZero() {
			firstFailure = time.Now()
		}

		retryable := sink.IsRetryable(err)
		if retryable && attempt < p.opt.Retry.MaxAttempts {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			sendRetriesTotal.WithLabelValues(name).Inc()
			logging.Warn("send failed, retrying",
				logging.F("source", name, "attempt", attempt, "events", batch.Len(), "error", err.Error()))
			if serr := sleepCtx(ctx, backoffDelay(attempt, p.opt.Retry)); serr != nil {
				return ctx.Err()
			}
			continue
		}

		return p.deadLetter(batch, err, attempt, firstFailure)
	}
}

// deadLetter records every event of an undeliverable batch, which counts as
// a terminal outcome: the checkpoint still advances past it.
func (p *Pipeline) deadLetter(batch *event.Batch, cause error, attempts int, firstFailure time.Time) error {
	name := p.opt.SourceName
	if p.opt.DLQ == nil {
		eventsDroppedTotal.WithLabelValues(name, "no_dlq").Add(float64(batch.Len()))
		logging.Error("batch dropped, dead-letter store disabled",
			logging.F("source", name, "events", batch.Len(), "error", cause.Error()))
		return nil
	}

	now := time.Now()
	for _, e := range batch.Events {
		entry := dlq.Entry{
			Event:         e,
			Codec:         batch.Codec,
			Reason:        cause.Error(),
			Retries:       attempts,
			FirstFailedAt: firstFailure,
			LastAttemptAt: now,
		}
		if err := p.opt.DLQ.Enqueue(entry); err != nil {
			return fmt.Errorf("failed to dead-letter event %s: %w", e.ID, err)
		}
	}
	deadLetteredTotal.WithLabelValues(name).Add(float64(batch.Len()))
	logging.Warn("batch dead-lettered",
		logging.F("source", name, "events", batch.Len(), "attempts", attempts, "error", cause.Error()))
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
