// Package metrics condenses a backtest's daily series into summary
// statistics. It operates on plain slices so it stays a leaf package.
package metrics

import "math"

// tradingDaysPerYear annualizes the Sharpe ratio.
const tradingDaysPerYear = 252.0

// Summary is the statistics block attached to every backtest result.
type Summary struct {
	// TotalReturn is final cumulative P&L over the absolute entry debit.
	// When the strategy entered at zero net debit the ratio is undefined
	// and TotalReturn carries the absolute P&L instead, with
	// ReturnIsAbsolute set.
	TotalReturn      float64 `json:"total_return"`
	ReturnIsAbsolute bool    `json:"return_is_absolute"`
	FinalPnL         float64 `json:"final_pnl"`
	SharpeRatio      float64 `json:"sharpe_ratio"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	TotalRollCost    float64 `json:"total_roll_cost"`
	NumRolls         int     `json:"num_rolls"`
	NumDays          int     `json:"num_days"`
}

// Summarize computes the summary statistics from the mark-to-market and
// cumulative P&L series, the per-roll costs, and the entry net debit.
func Summarize(markToMarket, cumulativePnL, rollCosts []float64, netDebit float64) Summary {
	s := Summary{NumRolls: len(rollCosts), NumDays: len(cumulativePnL)}

	for _, c := range rollCosts {
		s.TotalRollCost += c
	}

	if len(cumulativePnL) > 0 {
		s.FinalPnL = cumulativePnL[len(cumulativePnL)-1]
	}

	if math.Abs(netDebit) < 1e-12 {
		s.TotalReturn = s.FinalPnL
		s.ReturnIsAbsolute = true
	} else {
		s.TotalReturn = s.FinalPnL / math.Abs(netDebit)
	}

	s.SharpeRatio = sharpe(markToMarket)
	s.MaxDrawdown = maxDrawdown(cumulativePnL)
	return s
}

// sharpe annualizes mean over stdev of the day-over-day changes in the
// mark-to-market series. Zero when the deviation vanishes.
func sharpe(mtm []float64) float64 {
	if len(mtm) < 2 {
		return 0
	}
	diffs := make([]float64, 0, len(mtm)-1)
	for i := 1; i < len(mtm); i++ {
		diffs = append(diffs, mtm[i]-mtm[i-1])
	}

	mean := 0.0
	for _, d := range diffs {
		mean += d
	}
	mean /= float64(len(diffs))

	variance := 0.0
	for _, d := range diffs {
		variance += (d - mean) * (d - mean)
	}
	variance /= float64(len(diffs))
	sd := math.Sqrt(variance)
	if sd == 0 {
		return 0
	}
	return mean / sd * math.Sqrt(tradingDaysPerYear)
}

// maxDrawdown is the largest peak-to-trough decline of the cumulative
// P&L series, reported as a positive number.
func maxDrawdown(cum []float64) float64 {
	if len(cum) == 0 {
		return 0
	}
	peak := cum[0]
	worst := 0.0
	for _, v := range cum {
		if v > peak {
			peak = v
		}
		if dd := peak - v; dd > worst {
			worst = dd
		}
	}
	return worst
}
