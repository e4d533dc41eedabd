package metrics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSummarize(t *testing.T) {
	mtm := []float64{100, 110, 105, 120}
	cum := []float64{0, 10, 5, 20}
	rolls := []float64{3.5, -1.0}

	s := Summarize(mtm, cum, rolls, 100)

	assert.Equal(t, 4, s.NumDays)
	assert.Equal(t, 2, s.NumRolls)
	assert.InDelta(t, 2.5, s.TotalRollCost, 1e-12)
	assert.Equal(t, 20.0, s.FinalPnL)
	assert.Equal(t, 0.20, s.TotalReturn)
	assert.False(t, s.ReturnIsAbsolute)

	// Drawdown: peak 10 down to 5.
	assert.Equal(t, 5.0, s.MaxDrawdown)

	// Diffs are {10, -5, 15}: mean 20/3, population stdev computed below.
	mean := 20.0 / 3.0
	variance := (math.Pow(10-mean, 2) + math.Pow(-5-mean, 2) + math.Pow(15-mean, 2)) / 3
	want := mean / math.Sqrt(variance) * math.Sqrt(252)
	assert.InDelta(t, want, s.SharpeRatio, 1e-9)
}

func TestSummarizeZeroStdev(t *testing.T) {
	// A perfectly linear MTM has zero deviation in its diffs: Sharpe is
	// defined as 0, not NaN or Inf.
	mtm := []float64{100, 105, 110, 115}
	s := Summarize(mtm, []float64{0, 5, 10, 15}, nil, 100)
	assert.Zero(t, s.SharpeRatio)
	assert.False(t, math.IsNaN(s.SharpeRatio))
}

func TestSummarizeZeroDebitAbsoluteReturn(t *testing.T) {
	s := Summarize([]float64{0, 10}, []float64{0, 10}, nil, 0)
	assert.True(t, s.ReturnIsAbsolute)
	assert.Equal(t, 10.0, s.TotalReturn)

	// Negative net credit entries divide by the magnitude.
	s = Summarize([]float64{0, 10}, []float64{0, 10}, nil, -50)
	assert.False(t, s.ReturnIsAbsolute)
	assert.Equal(t, 0.2, s.TotalReturn)
}

func TestSummarizeEmptySeries(t *testing.T) {
	s := Summarize(nil, nil, nil, 100)
	assert.Zero(t, s.FinalPnL)
	assert.Zero(t, s.SharpeRatio)
	assert.Zero(t, s.MaxDrawdown)
	assert.Zero(t, s.NumDays)
}

func TestMaxDrawdownMonotonicSeries(t *testing.T) {
	// Strictly rising P&L never draws down.
	s := Summarize([]float64{1, 2, 3}, []float64{1, 2, 3}, nil, 10)
	assert.Zero(t, s.MaxDrawdown)

	// Strictly falling P&L draws down the full range.
	s = Summarize([]float64{3, 2, 1}, []float64{3, 2, 1}, nil, 10)
	assert.Equal(t, 2.0, s.MaxDrawdown)
}
