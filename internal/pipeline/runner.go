package pipeline

import (
	"context"
	"errors"

	"github.com/tohafrit/savegress-platform-sub002/internal/checkpoint"
	"github.com/tohafrit/savegress-platform-sub002/internal/logging"
	"golang.org/x/sync/errgroup"
)

// Runner supervises a set of per-source pipelines over one shared checkpoint
// store. Any pipeline failure cancels the rest; shutdown always ends with a
// synchronous checkpoint flush.
type Runner struct {
	pipelines  []*Pipeline
	checkpoint *checkpoint.Store
}

// NewRunner builds a supervisor over the given pipelines.
func NewRunner(pipelines []*Pipeline, ckpt *checkpoint.Store) (*Runner, error) {
	if len(pipelines) == 0 {
		return nil, errors.New("runner requires at least one pipeline")
	}
	if ckpt == nil {
		return nil, errors.New("runner requires a checkpoint store")
	}
	return &Runner{pipelines: pipelines, checkpoint: ckpt}, nil
}

// Run drives all pipelines until ctx is cancelled, every source ends, or one
// pipeline fails fatally.
func (r *Runner) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range r.pipelines {
		p := p
		g.Go(func() error {
			logging.Info("pipeline started", logging.F("source", p.opt.SourceName))
			err := p.Run(gctx)
			if err != nil {
				logging.Error("pipeline stopped",
					logging.F("source", p.opt.SourceName, "error", err.Error()))
			} else {
				logging.Info("pipeline stopped", logging.F("source", p.opt.SourceName))
			}
			return err
		})
	}
	runErr := g.Wait()

	if err := r.checkpoint.Flush(); err != nil && !errors.Is(err, checkpoint.ErrClosed) {
		logging.Error("final checkpoint flush failed", logging.F("error", err.Error()))
		if runErr == nil {
			runErr = err
		}
	}
	return runErr
}
