package backtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheldcoop/upstox-backtest/internal/backtest/strategy"
)

func TestRunSweep(t *testing.T) {
	base := Config{
		Underlying: "NIFTY",
		Strategy:   strategy.Calendar,
		Start:      date("2026-02-02"),
		End:        date("2026-02-27"),
		NearDTE:    7,
		FarDTE:     28,
		AutoRoll:   true,
	}
	quotes := flatQuotes(base.Start, base.End, 21800, 0.20)
	expiries := thursdays(base.Start, date("2026-05-28"))

	var cfgs []Config
	for _, rd := range []int{1, 2, 3, 4} {
		cfg := base
		cfg.RollDaysBefore = intp(rd)
		cfgs = append(cfgs, cfg)
	}

	results, err := RunSweep(context.Background(), cfgs, quotes, expiries, SweepOptions{Parallelism: 2})
	require.NoError(t, err)
	require.Len(t, results, len(cfgs))

	for i, res := range results {
		require.NotNilf(t, res, "run %d missing", i)
		assert.NotEmpty(t, res.Snapshots)
	}

	// Results land at their config's index regardless of completion order:
	// a sequential rerun of any one config must agree exactly.
	solo, err := NewEngine(cfgs[2]).Run(quotes, expiries)
	require.NoError(t, err)
	assert.Equal(t, solo.Snapshots, results[2].Snapshots)
	assert.Equal(t, solo.Summary, results[2].Summary)
}

func TestRunSweepPropagatesErrors(t *testing.T) {
	bad := Config{
		Underlying: "NIFTY",
		Start:      date("2026-02-27"),
		End:        date("2026-02-02"), // inverted window
	}
	quotes := flatQuotes(date("2026-02-02"), date("2026-02-27"), 21800, 0.20)
	expiries := thursdays(date("2026-02-02"), date("2026-05-28"))

	_, err := RunSweep(context.Background(), []Config{bad}, quotes, expiries, SweepOptions{})
	assert.ErrorIs(t, err, strategy.ErrInvalidStrategy)
}

func TestRunSweepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := Config{
		Underlying: "NIFTY",
		Strategy:   strategy.Calendar,
		Start:      date("2026-02-02"),
		End:        date("2026-02-27"),
	}
	quotes := flatQuotes(cfg.Start, cfg.End, 21800, 0.20)
	expiries := thursdays(cfg.Start, date("2026-05-28"))

	_, err := RunSweep(ctx, []Config{cfg, cfg, cfg}, quotes, expiries, SweepOptions{Parallelism: 1})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunSweepEmpty(t *testing.T) {
	results, err := RunSweep(context.Background(), nil, nil, nil, SweepOptions{})
	require.NoError(t, err)
	assert.Empty(t, results)
}
