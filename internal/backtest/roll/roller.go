// Package roll detects and executes expiry rolls: closing the
// nearest-expiring leg of a multi-expiry strategy and opening an
// equivalent leg in the next cycle.
//
// The expiry calendar is exchange data outside this engine; the
// ExpiryResolver is injected so the roller stays deterministic and
// testable against synthetic expiry sequences.
package roll

import (
	"errors"
	"fmt"
	"time"

	"github.com/sheldcoop/upstox-backtest/internal/backtest/strategy"
	"github.com/sheldcoop/upstox-backtest/internal/logger"
)

var (
	// ErrRollExhausted signals that the resolver has no further expiry
	// to roll into. Backtests recover by closing the strategy.
	ErrRollExhausted = errors.New("no further expiry available to roll into")

	// ErrLegAlreadyClosed guards the roll-cost accounting: rolling a leg
	// a second time must fail loudly, never silently re-charge.
	ErrLegAlreadyClosed = errors.New("leg already closed by a prior roll")

	// ErrNoActiveLegs means every leg of the strategy is closed.
	ErrNoActiveLegs = errors.New("strategy has no active legs")
)

// ExpiryResolver returns the next available expiry strictly after the
// given date, and false when the calendar is exhausted.
type ExpiryResolver func(after time.Time) (time.Time, bool)

// StrikePolicy selects the strike of the replacement leg on a roll. The
// choice materially changes diagonal backtests, so it is an explicit
// configuration rather than a hidden default.
type StrikePolicy string

const (
	// KeepStrike reopens at the closed leg's strike.
	KeepStrike StrikePolicy = "keep_strike"
	// RecenterATM reopens at the strike nearest the current spot.
	RecenterATM StrikePolicy = "recenter_atm"
)

// Valid reports whether the policy is one of the defined constants.
func (p StrikePolicy) Valid() bool {
	return p == KeepStrike || p == RecenterATM
}

// Event records one executed roll. Events are appended to the run's roll
// log and never mutated afterwards.
type Event struct {
	TriggerDate time.Time          `json:"trigger_date"`
	ClosedLeg   strategy.OptionLeg `json:"closed_leg"`
	OpenedLeg   strategy.OptionLeg `json:"opened_leg"`
	ExitValue   float64            `json:"exit_value"`
	RealizedPnL float64            `json:"realized_pnl"`
	// RollCost is opened premium minus exit value, signed so that
	// positive means a net cost to the strategy.
	RollCost float64 `json:"roll_cost"`
}

// Roller decides whether a roll is due and executes it.
type Roller struct {
	builder        *strategy.Builder
	DaysBefore     int
	Policy         StrikePolicy
	StrikeInterval float64
	Rate           float64
}

// NewRoller builds a roller that triggers daysBefore calendar days ahead
// of the nearest active expiry. An invalid policy falls back to
// KeepStrike.
func NewRoller(b *strategy.Builder, daysBefore int, policy StrikePolicy) *Roller {
	if !policy.Valid() {
		policy = KeepStrike
	}
	return &Roller{builder: b, DaysBefore: daysBefore, Policy: policy}
}

// ShouldRoll reports whether the strategy's nearest-expiring active leg
// is within the roll window. Legs already closed by a prior roll are
// never re-evaluated.
func (r *Roller) ShouldRoll(s *strategy.MultiExpiryStrategy, now time.Time) bool {
	idx := s.NearestActiveLeg()
	if idx < 0 {
		return false
	}
	return s.Legs[idx].DaysToExpiry(now) <= r.DaysBefore
}

// ExecuteRoll closes the nearest active leg at its current mark and opens
// the next-cycle replacement, returning the immutable roll event.
//
// Steps: mark the near leg with the day's spot and implied vol, flip it
// CLOSED, resolve the next expiry through the injected resolver, price
// the replacement leg under the configured strike policy, swap it in via
// ReplaceLeg, and account RollCost = opened.EntryPremium - exitValue.
func (r *Roller) ExecuteRoll(s *strategy.MultiExpiryStrategy, now time.Time, spot, iv float64, resolve ExpiryResolver) (Event, error) {
	idx := s.NearestActiveLeg()
	if idx < 0 {
		return Event{}, ErrNoActiveLegs
	}
	return r.ExecuteRollAt(s, idx, now, spot, iv, resolve)
}

// ExecuteRollAt rolls the leg at an explicit index. Rolling a leg that a
// prior roll already closed returns ErrLegAlreadyClosed so roll costs are
// never double counted.
func (r *Roller) ExecuteRollAt(s *strategy.MultiExpiryStrategy, idx int, now time.Time, spot, iv float64, resolve ExpiryResolver) (Event, error) {
	if idx < 0 || idx >= len(s.Legs) {
		return Event{}, strategy.ErrLegIndexOutOfRange
	}
	leg := s.Legs[idx]
	if leg.Status != strategy.LegActive {
		return Event{}, fmt.Errorf("%w: %s %s @%.2f", ErrLegAlreadyClosed, leg.Action, leg.OptionType, leg.Strike)
	}

	// 1. Mark the closing leg to its current value.
	res, err := r.builder.Calculator().PriceAndGreeks(
		leg.OptionType.IsCall(), spot, leg.Strike, leg.TimeToExpiryYears(now), iv, r.Rate, 0)
	if err != nil {
		return Event{}, fmt.Errorf("marking leg for roll: %w", err)
	}
	exitValue := res.Price

	// 2. Realized P&L from the holder's perspective: a sold leg profits
	// when it is bought back below its entry premium.
	realized := leg.Sign() * (exitValue - leg.EntryPremium) * float64(leg.Quantity)

	// 3. Next cycle from the injected calendar.
	nextExpiry, ok := resolve(leg.Expiry)
	if !ok {
		return Event{}, ErrRollExhausted
	}

	// 4. Replacement leg under the configured strike policy.
	newStrike := leg.Strike
	if r.Policy == RecenterATM {
		newStrike = strategy.RoundToInterval(spot, r.StrikeInterval)
	}
	m := strategy.MarketInputs{Spot: spot, NearVol: iv, FarVol: iv, Rate: r.Rate, AsOf: now}
	newLeg, err := r.builder.NewLeg(m, leg.Action, leg.OptionType, newStrike, nextExpiry, leg.Quantity, iv)
	if err != nil {
		return Event{}, fmt.Errorf("opening replacement leg: %w", err)
	}

	// 5. Close then replace; leg count is invariant across the roll.
	closed := leg
	closed.Status = strategy.LegClosed
	if err := s.ReplaceLeg(idx, newLeg); err != nil {
		return Event{}, err
	}

	ev := Event{
		TriggerDate: now,
		ClosedLeg:   closed,
		OpenedLeg:   newLeg,
		ExitValue:   exitValue,
		RealizedPnL: realized,
		RollCost:    newLeg.EntryPremium - exitValue,
	}

	logger.Infof("event=roll_executed date=%s closed=%s@%.0f opened_expiry=%s cost=%.2f",
		now.Format("2006-01-02"), closed.OptionType, closed.Strike,
		nextExpiry.Format("2006-01-02"), ev.RollCost)

	return ev, nil
}
