// Command cdc-pipeline runs captured change streams through the flow-control
// and reliability core: per-source ingest with backpressure, batching,
// compression, rate limiting, circuit breaking, retries, dead-lettering, and
// durable checkpoints.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tohafrit/savegress-platform-sub002/internal/backpressure"
	"github.com/tohafrit/savegress-platform-sub002/internal/breaker"
	"github.com/tohafrit/savegress-platform-sub002/internal/buffer"
	"github.com/tohafrit/savegress-platform-sub002/internal/checkpoint"
	"github.com/tohafrit/savegress-platform-sub002/internal/compression"
	"github.com/tohafrit/savegress-platform-sub002/internal/config"
	"github.com/tohafrit/savegress-platform-sub002/internal/dlq"
	"github.com/tohafrit/savegress-platform-sub002/internal/event"
	"github.com/tohafrit/savegress-platform-sub002/internal/health"
	"github.com/tohafrit/savegress-platform-sub002/internal/logging"
	"github.com/tohafrit/savegress-platform-sub002/internal/pipeline"
	"github.com/tohafrit/savegress-platform-sub002/internal/ratelimit"
	"github.com/tohafrit/savegress-platform-sub002/internal/sink"
	"github.com/tohafrit/savegress-platform-sub002/internal/source"
	"github.com/tohafrit/savegress-platform-sub002/internal/spill"
	"github.com/tohafrit/savegress-platform-sub002/internal/stats"
)

var version = "dev"

const dlqPurgeInterval = time.Hour

// observedSink feeds send latency into the adaptive rate limiter.
type observedSink struct {
	inner   sink.Sink
	observe func(time.Duration)
}

func (s *observedSink) Send(ctx context.Context, b *event.Batch) (sink.Ack, error) {
	start := time.Now()
	ack, err := s.inner.Send(ctx, b)
	s.observe(time.Since(start))
	return ack, err
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML configuration")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("cdc-pipeline " + version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Fatal("failed to load configuration", logging.F("error", err.Error(), "path", *configPath))
	}
	if len(cfg.Pipeline.Sources) == 0 {
		logging.Fatal("no sources configured")
	}
	if cfg.Sink.URL == "" {
		logging.Fatal("sink.url is required")
	}

	logging.SetResource(map[string]string{
		"service.name":    "cdc-pipeline",
		"service.version": version,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Shared stores.
	ckpt, err := checkpoint.Open(checkpoint.Config{
		Path:     cfg.Checkpoint.Path,
		Mode:     cfg.Checkpoint.SyncMode,
		Interval: cfg.Checkpoint.Interval.Std(),
	})
	if err != nil {
		logging.Fatal("failed to open checkpoint store", logging.F("error", err.Error()))
	}
	defer ckpt.Close()

	var dlqStore *dlq.Store
	if *cfg.DLQ.Enabled {
		dlqStore, err = dlq.Open(dlq.Config{
			Path:            cfg.DLQ.Path,
			MaxSegmentBytes: int64(cfg.DLQ.MaxSegmentBytes),
			RetentionDays:   cfg.DLQ.RetentionDays,
			MaxMessages:     cfg.DLQ.MaxMessages,
		})
		if err != nil {
			logging.Fatal("failed to open dead-letter store", logging.F("error", err.Error()))
		}
		defer dlqStore.Close()
	}

	selector, err := compression.NewSelector(compression.SelectorConfig{
		Enabled:         *cfg.Compression.Enabled,
		Algorithm:       cfg.Compression.Algorithm,
		Level:           compression.Level(cfg.Compression.Level),
		MinSize:         int(cfg.Compression.MinSize),
		HybridThreshold: int(cfg.Compression.HybridThreshold),
	})
	if err != nil {
		logging.Fatal("invalid compression configuration", logging.F("error", err.Error()))
	}

	checker := health.New()
	statsCollector := stats.New(cfg.Stats.Interval.Std())

	var running atomic.Bool
	checker.Register("pipelines", func() error {
		if !running.Load() {
			return errors.New("not running")
		}
		return nil
	})
	if dlqStore != nil {
		checker.Register("dlq", func() error {
			if cfg.DLQ.MaxMessages > 0 && dlqStore.Len() >= cfg.DLQ.MaxMessages {
				return fmt.Errorf("dead-letter store at capacity (%d entries)", dlqStore.Len())
			}
			return nil
		})
		statsCollector.Register("dlq", func() map[string]interface{} {
			return map[string]interface{}{
				"entries":  dlqStore.Len(),
				"segments": len(dlqStore.Segments()),
			}
		})
	}

	// Per-source wiring.
	retryCfg := pipeline.RetryConfig{
		MaxAttempts:  cfg.DLQ.MaxRetries,
		InitialDelay: cfg.DLQ.RetryDelay.Std(),
		Multiplier:   1.0,
		MaxDelay:     cfg.DLQ.MaxRetryDelay.Std(),
		Jitter:       *cfg.DLQ.Jitter,
	}
	if *cfg.DLQ.ExponentialBackoff {
		retryCfg.Multiplier = 2.0
	}

	stopCh := make(chan struct{})
	pipelines := make([]*pipeline.Pipeline, 0, len(cfg.Pipeline.Sources))
	for _, spec := range cfg.Pipeline.Sources {
		p, err := buildPipeline(cfg, spec, ckpt, dlqStore, selector, retryCfg, statsCollector, stopCh)
		if err != nil {
			logging.Fatal("failed to build pipeline",
				logging.F("source", spec.Name, "error", err.Error()))
		}
		pipelines = append(pipelines, p)
	}

	runner, err := pipeline.NewRunner(pipelines, ckpt)
	if err != nil {
		logging.Fatal("failed to build runner", logging.F("error", err.Error()))
	}

	// Observability endpoints.
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/live", checker.LiveHandler())
	mux.HandleFunc("/ready", checker.ReadyHandler())
	srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("observability server failed", logging.F("error", err.Error()))
		}
	}()

	statsCollector.Start()
	if dlqStore != nil {
		go purgeLoop(dlqStore, stopCh)
	}

	logging.Info("cdc-pipeline started", logging.F(
		"version", version,
		"sources", len(pipelines),
		"listen_addr", cfg.ListenAddr,
		"sink_url", cfg.Sink.URL,
	))

	running.Store(true)
	runnerDone := make(chan error, 1)
	go func() { runnerDone <- runner.Run(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigCh:
		logging.Info("shutdown signal received", logging.F("signal", sig.String()))
		checker.SetShuttingDown()
		cancel()
		select {
		case runErr = <-runnerDone:
		case <-time.After(cfg.Pipeline.ShutdownGrace.Std() + 10*time.Second):
			logging.Error("shutdown grace period exceeded")
		}
	case runErr = <-runnerDone:
		checker.SetShuttingDown()
	}
	running.Store(false)

	close(stopCh)
	statsCollector.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logging.Fatal("pipeline terminated with error", logging.F("error", runErr.Error()))
	}
	logging.Info("cdc-pipeline stopped")
}

// buildPipeline assembles one source's flow-control chain.
func buildPipeline(
	cfg *config.Config,
	spec config.SourceSpec,
	ckpt *checkpoint.Store,
	dlqStore *dlq.Store,
	selector *compression.Selector,
	retryCfg pipeline.RetryConfig,
	statsCollector *stats.Collector,
	stopCh <-chan struct{},
) (*pipeline.Pipeline, error) {
	src, err := source.OpenJSONL(spec.Name, spec.Path)
	if err != nil {
		return nil, err
	}

	var snk sink.Sink
	snk, err = sink.NewHTTP(cfg.Sink.URL)
	if err != nil {
		return nil, err
	}

	limiter, err := ratelimit.New(spec.Name, ratelimit.Config{
		Algorithm:       cfg.RateLimiting.Algorithm,
		TokensPerSecond: cfg.RateLimiting.TokensPerSecond,
		BurstSize:       cfg.RateLimiting.BurstSize,
		WindowSize:      cfg.RateLimiting.WindowSize.Std(),
		MaxRequests:     cfg.RateLimiting.MaxRequests,
		Adaptive: ratelimit.AdaptiveConfig{
			TargetLatency:  cfg.RateLimiting.Adaptive.TargetLatency.Std(),
			InitialRate:    cfg.RateLimiting.Adaptive.InitialRate,
			MinRate:        cfg.RateLimiting.Adaptive.MinRate,
			MaxRate:        cfg.RateLimiting.Adaptive.MaxRate,
			IncreaseFactor: cfg.RateLimiting.Adaptive.IncreaseFactor,
			DecreaseFactor: cfg.RateLimiting.Adaptive.DecreaseFactor,
			CalmIntervals:  cfg.RateLimiting.Adaptive.CalmIntervals,
			TickInterval:   cfg.RateLimiting.Adaptive.TickInterval.Std(),
		},
	})
	if err != nil {
		return nil, err
	}
	// The adaptive limiter follows observed send latency.
	if adaptive, ok := limiter.(*ratelimit.Adaptive); ok {
		snk = &observedSink{inner: snk, observe: adaptive.Observe}
		go adaptive.Run(stopCh)
	}

	brkCfg := breaker.Config{
		FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
		SuccessThreshold: cfg.CircuitBreaker.SuccessThreshold,
		Timeout:          cfg.CircuitBreaker.Timeout.Std(),
		HalfOpenRequests: cfg.CircuitBreaker.HalfOpenRequests,
	}
	if !*cfg.CircuitBreaker.Enabled {
		brkCfg.FailureThreshold = 0
	}
	var guard pipeline.Guard
	if *cfg.CircuitBreaker.Enabled && *cfg.CircuitBreaker.Adaptive.Enabled {
		guard = breaker.NewAdaptive(spec.Name, brkCfg, breaker.AdaptiveConfig{
			ErrorRate:  cfg.CircuitBreaker.Adaptive.ErrorRate,
			MinSamples: cfg.CircuitBreaker.Adaptive.MinSamples,
		})
	} else {
		guard = breaker.New(spec.Name, brkCfg)
	}

	bpCfg := backpressure.Config{
		Enabled:        *cfg.Backpressure.Enabled,
		Strategy:       backpressure.Strategy(cfg.Backpressure.Strategy),
		HighWatermark:  cfg.Backpressure.HighWatermark,
		LowWatermark:   cfg.Backpressure.LowWatermark,
		SourcePausable: *cfg.Backpressure.SourcePausable,
	}
	controller, err := backpressure.NewController(bpCfg)
	if err != nil {
		return nil, err
	}

	ring := buffer.NewRing(cfg.Backpressure.BufferSize)

	var spillLog *spill.Log
	if *cfg.Spill.Enabled {
		spillLog, err = spill.Open(spill.Config{
			Path:     filepath.Join(cfg.Spill.Path, spec.Name),
			MaxBytes: int64(cfg.Spill.MaxBytes),
		})
		if err != nil {
			return nil, err
		}
	}

	statsCollector.Register(spec.Name, func() map[string]interface{} {
		fields := map[string]interface{}{
			"buffer_occupancy": ring.Occupancy(),
			"rate_limit":       limiter.Rate(),
			"breaker_state":    guard.State().String(),
		}
		if spillLog != nil {
			fields["spill_pending"] = spillLog.Len()
		}
		if pos, ok := ckpt.Load(spec.Name); ok {
			fields["checkpoint"] = pos.String()
		}
		return fields
	})

	return pipeline.New(pipeline.Options{
		SourceName:   spec.Name,
		Source:       src,
		Sink:         snk,
		Buffer:       ring,
		Backpressure: controller,
		Limiter:      limiter,
		Breaker:      guard,
		Selector:     selector,
		Spill:        spillLog,
		DLQ:          dlqStore,
		Checkpoint:   ckpt,
		Batch: pipeline.BatchConfig{
			MaxSize: cfg.Batching.MaxSize,
			MaxWait: cfg.Batching.MaxWait.Std(),
		},
		Retry:       retryCfg,
		SinkTimeout: cfg.Sink.Timeout.Std(),
		DrainGrace:  cfg.Pipeline.ShutdownGrace.Std(),
	})
}

// purgeLoop enforces dead-letter retention in the background.
func purgeLoop(store *dlq.Store, stop <-chan struct{}) {
	ticker := time.NewTicker(dlqPurgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			removed, err := store.PurgeExpired()
			if err != nil {
				logging.Error("dead-letter purge failed", logging.F("error", err.Error()))
				continue
			}
			if removed > 0 {
				logging.Info("dead-letter retention purge", logging.F("removed", removed))
			}
		}
	}
}
