package backtest

import (
	"context"
	"runtime"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"github.com/sheldcoop/upstox-backtest/internal/data"
	"github.com/sheldcoop/upstox-backtest/internal/logger"
)

// SweepOptions tunes a parameter sweep.
type SweepOptions struct {
	// Parallelism bounds concurrent runs; 0 means NumCPU.
	Parallelism int
	// Progress renders a terminal progress bar while the sweep runs.
	Progress bool
}

// RunSweep executes many independent backtests concurrently. Runs share
// no state: each goroutine gets a private copy of the quote and expiry
// series and a freshly constructed strategy, so no locking is needed
// inside a run. Cancelling ctx abandons the remaining runs; completed
// results are discarded along with the error.
func RunSweep(ctx context.Context, cfgs []Config, quotes []data.Quote, expiries []time.Time, opts SweepOptions) ([]*Result, error) {
	if opts.Parallelism <= 0 {
		opts.Parallelism = runtime.NumCPU()
	}

	var bar *progressbar.ProgressBar
	if opts.Progress {
		bar = progressbar.Default(int64(len(cfgs)), "sweep")
	}

	results := make([]*Result, len(cfgs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Parallelism)

	for i, cfg := range cfgs {
		i, cfg := i, cfg
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			// Private, immutable copies per run.
			q := make([]data.Quote, len(quotes))
			copy(q, quotes)
			exp := make([]time.Time, len(expiries))
			copy(exp, expiries)

			res, err := NewEngine(cfg).Run(q, exp)
			if err != nil {
				logger.Errorf("sweep run %d failed: %v", i, err)
				return err
			}
			results[i] = res
			if bar != nil {
				_ = bar.Add(1)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
