// Package strategy assembles multi-expiry option strategies (calendar,
// diagonal, double-calendar spreads) from priced legs.
//
// Responsibilities:
//   - Construct legs priced off the current market snapshot
//   - Validate structural invariants (expiry ordering, future expiries)
//   - Aggregate strategy-level Greeks eagerly at construction
//   - Resolve strike rules such as ATM, ATM:+100, or leg expressions
//
// Design notes:
//   - Strategies are constructed once per backtest run and mutated only
//     through ReplaceLeg, which swaps in a fresh leg slice
//   - Errors are typed where useful and wrapped for caller inspection
package strategy

import (
	"errors"
	"fmt"
	"time"
)

// Typed errors allow callers and tests to detect failure categories
// without string matching.
var (
	ErrInvalidStrategy    = errors.New("invalid strategy definition")
	ErrLegIndexOutOfRange = errors.New("leg index out of range")
)

// OptionType identifies the option right.
type OptionType string

const (
	Call OptionType = "CALL"
	Put  OptionType = "PUT"
)

// IsCall reports whether the type is a call, the form the pricing layer
// consumes.
func (t OptionType) IsCall() bool { return t == Call }

// Action is the direction of a leg: the sign of its quantity.
type Action string

const (
	Buy  Action = "BUY"
	Sell Action = "SELL"
)

// LegStatus tracks the lifecycle of a leg inside its strategy.
type LegStatus string

const (
	LegActive LegStatus = "ACTIVE"
	LegClosed LegStatus = "CLOSED"
)

// Type tags the strategy archetype.
type Type string

const (
	Calendar       Type = "CALENDAR"
	Diagonal       Type = "DIAGONAL"
	DoubleCalendar Type = "DOUBLE_CALENDAR"
)

// Status is the run-level state of a strategy instance.
type Status string

const (
	StatusActive  Status = "ACTIVE"
	StatusExpired Status = "EXPIRED"
	StatusClosed  Status = "CLOSED"
)

// Greeks aggregates the first-order sensitivities of one leg or of an
// entire strategy, scaled by quantity and action sign.
type Greeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
}

// Add accumulates g2 into g.
func (g Greeks) Add(g2 Greeks) Greeks {
	return Greeks{
		Delta: g.Delta + g2.Delta,
		Gamma: g.Gamma + g2.Gamma,
		Theta: g.Theta + g2.Theta,
		Vega:  g.Vega + g2.Vega,
	}
}

// Scale multiplies every component by f.
func (g Greeks) Scale(f float64) Greeks {
	return Greeks{Delta: g.Delta * f, Gamma: g.Gamma * f, Theta: g.Theta * f, Vega: g.Vega * f}
}

// OptionLeg represents one option position. All fields except Status are
// fixed at construction; Status flips from ACTIVE to CLOSED exactly once
// when the leg is rolled or the run finishes.
type OptionLeg struct {
	OptionType   OptionType `json:"option_type"`
	Action       Action     `json:"action"`
	Strike       float64    `json:"strike"`
	Expiry       time.Time  `json:"expiry_date"`
	EntryPremium float64    `json:"entry_premium"`
	Quantity     int        `json:"quantity"`
	Status       LegStatus  `json:"status"`
}

// Sign returns +1 for a bought leg and -1 for a sold leg.
func (l OptionLeg) Sign() float64 {
	if l.Action == Sell {
		return -1
	}
	return 1
}

// DaysToExpiry counts whole calendar days from now (date precision) to
// the leg's expiry. Negative when the expiry has passed.
func (l OptionLeg) DaysToExpiry(now time.Time) int {
	exp := l.Expiry.UTC().Truncate(24 * time.Hour)
	cur := now.UTC().Truncate(24 * time.Hour)
	return int(exp.Sub(cur).Hours() / 24)
}

// TimeToExpiryYears converts the remaining lifetime to year fractions,
// the unit the pricing layer expects. Clamped at zero.
func (l OptionLeg) TimeToExpiryYears(now time.Time) float64 {
	t := l.Expiry.Sub(now).Hours() / 24.0 / 365.0
	if t < 0 {
		return 0
	}
	return t
}

// MultiExpiryStrategy is an ordered collection of legs plus the derived
// entry fields. NetDebitCredit is the signed sum of entry premiums times
// quantity (positive = net debit paid); EntryGreeks is the aggregate at
// construction.
type MultiExpiryStrategy struct {
	Type           Type        `json:"strategy_type"`
	Status         Status      `json:"status"`
	Underlying     string      `json:"underlying"`
	CreatedAt      time.Time   `json:"created_at"`
	Legs           []OptionLeg `json:"legs"`
	NetDebitCredit float64     `json:"net_debit_credit"`
	EntryGreeks    Greeks      `json:"entry_greeks"`
}

// NearestActiveLeg returns the index of the active leg with the earliest
// expiry, or -1 when every leg is closed.
func (s *MultiExpiryStrategy) NearestActiveLeg() int {
	idx := -1
	for i, l := range s.Legs {
		if l.Status != LegActive {
			continue
		}
		if idx == -1 || l.Expiry.Before(s.Legs[idx].Expiry) {
			idx = i
		}
	}
	return idx
}

// ActiveLegs returns the legs still marked ACTIVE, in order.
func (s *MultiExpiryStrategy) ActiveLegs() []OptionLeg {
	out := make([]OptionLeg, 0, len(s.Legs))
	for _, l := range s.Legs {
		if l.Status == LegActive {
			out = append(out, l)
		}
	}
	return out
}

// ReplaceLeg swaps the leg at idx for a replacement, installing a fresh
// slice so that snapshots holding the previous slice keep seeing the legs
// as they were at the time. The displaced leg survives only in the roll
// event log.
func (s *MultiExpiryStrategy) ReplaceLeg(idx int, leg OptionLeg) error {
	if idx < 0 || idx >= len(s.Legs) {
		return fmt.Errorf("%w: %d of %d", ErrLegIndexOutOfRange, idx, len(s.Legs))
	}
	next := make([]OptionLeg, len(s.Legs))
	copy(next, s.Legs)
	next[idx] = leg
	s.Legs = next
	return nil
}

// CloseLegAt marks the leg at idx CLOSED, again via a fresh slice.
func (s *MultiExpiryStrategy) CloseLegAt(idx int) error {
	if idx < 0 || idx >= len(s.Legs) {
		return fmt.Errorf("%w: %d of %d", ErrLegIndexOutOfRange, idx, len(s.Legs))
	}
	next := make([]OptionLeg, len(s.Legs))
	copy(next, s.Legs)
	next[idx].Status = LegClosed
	s.Legs = next
	return nil
}
