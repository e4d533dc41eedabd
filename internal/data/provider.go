// Package data provides market data provider implementations supplying
// the historical price/IV series and expiry calendars a backtest consumes.
// The engine itself never fetches data; providers materialize it fully
// before a run starts.
package data

import (
	"math"
	"sort"
	"time"
)

// DateMatchType selects how a candidate date is matched to an available one.
type DateMatchType string

const (
	MatchExact   DateMatchType = "exact"   // must match exactly
	MatchHigher  DateMatchType = "higher"  // next available date after target
	MatchLower   DateMatchType = "lower"   // last available date before target
	MatchNearest DateMatchType = "nearest" // closest available date (default)
)

// Quote is one trading day of the input contract: the underlying close
// and the implied volatility reading for that date.
type Quote struct {
	Date  time.Time `json:"date"`
	Close float64   `json:"close"`
	IV    float64   `json:"iv"`
}

// Provider supplies market data for a backtest window.
type Provider interface {
	// GetDailySeries returns one Quote per available trading day in
	// [from, to], sorted ascending. Gaps are allowed; the engine skips
	// missing dates rather than interpolating.
	GetDailySeries(underlying string, from, to time.Time) ([]Quote, error)

	// GetExpiries returns the sorted option expiry calendar overlapping
	// [from, to], extended far enough past to that rolls stay possible.
	GetExpiries(underlying string, from, to time.Time) ([]time.Time, error)

	// StrikeInterval is the exchange strike spacing for the underlying.
	StrikeInterval(underlying string) float64
}

// MatchDate matches a candidate date against a list of available dates
// using the given mode. Returns the zero time when nothing qualifies.
func MatchDate(d time.Time, dates []time.Time, mode DateMatchType) time.Time {
	var (
		exact  time.Time
		lower  time.Time
		higher time.Time
	)

	// default to MatchNearest
	switch mode {
	case MatchExact, MatchHigher, MatchLower, MatchNearest:
		// ok
	default:
		mode = MatchNearest
	}

	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	for _, dt := range dates {
		if dt.Equal(d) {
			exact = dt
		}
		if dt.Before(d) {
			lower = dt // will keep last <= d
		}
		if dt.After(d) && higher.IsZero() {
			higher = dt
		}
	}

	switch mode {

	case MatchExact:
		return exact // may be zero, caller skips it

	case MatchLower:
		return lower

	case MatchHigher:
		return higher

	case MatchNearest:
		if !exact.IsZero() {
			return exact
		}
		switch {
		case !lower.IsZero() && !higher.IsZero():
			if d.Sub(lower) <= higher.Sub(d) {
				return lower
			}
			return higher
		case !lower.IsZero():
			return lower
		case !higher.IsZero():
			return higher
		}
	}

	return time.Time{} // nothing found
}

// DefaultStrikeInterval guesses an exchange strike spacing from the price
// level; NSE index options step by 50, large-cap singles by smaller
// intervals.
func DefaultStrikeInterval(price float64) float64 {
	switch {
	case price >= 10000:
		return 50
	case price >= 1000:
		return 10
	case price >= 100:
		return 1
	default:
		return 0.5
	}
}

// AnnualizedVolatility estimates historical volatility from a close
// series, falling back to 30% when the series is too short.
func AnnualizedVolatility(closes []float64) float64 {
	if len(closes) < 2 {
		return 0.30
	}
	rets := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		rets = append(rets, math.Log(closes[i]/closes[i-1]))
	}
	mean := 0.0
	for _, v := range rets {
		mean += v
	}
	mean /= float64(len(rets))
	sd := 0.0
	for _, v := range rets {
		sd += (v - mean) * (v - mean)
	}
	sd = math.Sqrt(sd / float64(len(rets)-1))
	return sd * math.Sqrt(252.0)
}
