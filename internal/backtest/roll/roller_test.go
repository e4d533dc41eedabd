package roll

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheldcoop/upstox-backtest/internal/backtest/strategy"
	"github.com/sheldcoop/upstox-backtest/internal/pricing"
)

func date(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func newTestStrategy(t *testing.T, b *strategy.Builder) *strategy.MultiExpiryStrategy {
	t.Helper()
	m := strategy.MarketInputs{
		Spot:    21800,
		NearVol: 0.20,
		FarVol:  0.20,
		Rate:    0.07,
		AsOf:    date("2026-01-30"),
	}
	s, err := b.CalendarSpread(m, "NIFTY", 21800, date("2026-02-06"), date("2026-02-27"), strategy.Call)
	require.NoError(t, err)
	return s
}

func calendarOf(dates ...string) ExpiryResolver {
	expiries := make([]time.Time, len(dates))
	for i, d := range dates {
		expiries[i] = date(d)
	}
	return func(after time.Time) (time.Time, bool) {
		for _, e := range expiries {
			if e.After(after) {
				return e, true
			}
		}
		return time.Time{}, false
	}
}

func TestShouldRoll(t *testing.T) {
	b := strategy.NewBuilder(pricing.NewCalculator(pricing.DefaultBackend()))
	s := newTestStrategy(t, b)
	r := NewRoller(b, 3, KeepStrike)

	// Near expiry 2026-02-06; threshold 3 days.
	assert.False(t, r.ShouldRoll(s, date("2026-02-02")))
	assert.True(t, r.ShouldRoll(s, date("2026-02-03")))
	assert.True(t, r.ShouldRoll(s, date("2026-02-06")))
	assert.True(t, r.ShouldRoll(s, date("2026-02-07")))
}

func TestShouldRollIgnoresClosedLegs(t *testing.T) {
	b := strategy.NewBuilder(pricing.NewCalculator(pricing.DefaultBackend()))
	s := newTestStrategy(t, b)
	r := NewRoller(b, 3, KeepStrike)

	// Close the near leg: the far leg (2026-02-27) is now nearest and is
	// well outside the window.
	require.NoError(t, s.CloseLegAt(0))
	assert.False(t, r.ShouldRoll(s, date("2026-02-05")))

	require.NoError(t, s.CloseLegAt(1))
	assert.False(t, r.ShouldRoll(s, date("2026-02-05")))
}

func TestExecuteRoll(t *testing.T) {
	b := strategy.NewBuilder(pricing.NewCalculator(pricing.DefaultBackend()))
	s := newTestStrategy(t, b)
	r := NewRoller(b, 3, KeepStrike)

	resolver := calendarOf("2026-02-13", "2026-02-20", "2026-02-27")
	legsBefore := len(s.Legs)

	ev, err := r.ExecuteRoll(s, date("2026-02-04"), 21900, 0.21, resolver)
	require.NoError(t, err)

	// Leg count is invariant across a roll.
	assert.Len(t, s.Legs, legsBefore)

	assert.Equal(t, strategy.LegClosed, ev.ClosedLeg.Status)
	assert.Equal(t, date("2026-02-06"), ev.ClosedLeg.Expiry)
	assert.Equal(t, strategy.LegActive, ev.OpenedLeg.Status)
	assert.Equal(t, date("2026-02-13"), ev.OpenedLeg.Expiry)

	// KeepStrike: replacement reopens at the closed strike, same direction.
	assert.Equal(t, ev.ClosedLeg.Strike, ev.OpenedLeg.Strike)
	assert.Equal(t, ev.ClosedLeg.Action, ev.OpenedLeg.Action)

	// Accounting identities.
	assert.InDelta(t, ev.OpenedLeg.EntryPremium-ev.ExitValue, ev.RollCost, 1e-12)
	wantRealized := ev.ClosedLeg.Sign() * (ev.ExitValue - ev.ClosedLeg.EntryPremium)
	assert.InDelta(t, wantRealized, ev.RealizedPnL, 1e-12)

	// The new near leg is now the nearest active one.
	idx := s.NearestActiveLeg()
	assert.Equal(t, date("2026-02-13"), s.Legs[idx].Expiry)
}

func TestExecuteRollRecenterATM(t *testing.T) {
	b := strategy.NewBuilder(pricing.NewCalculator(pricing.DefaultBackend()))
	s := newTestStrategy(t, b)
	r := NewRoller(b, 3, RecenterATM)
	r.StrikeInterval = 50

	ev, err := r.ExecuteRoll(s, date("2026-02-04"), 22130, 0.21, calendarOf("2026-02-13"))
	require.NoError(t, err)

	// Spot 22130 snaps to 22150; the old 21800 strike is abandoned.
	assert.Equal(t, 22150.0, ev.OpenedLeg.Strike)
	assert.Equal(t, 21800.0, ev.ClosedLeg.Strike)
}

func TestExecuteRollExhausted(t *testing.T) {
	b := strategy.NewBuilder(pricing.NewCalculator(pricing.DefaultBackend()))
	s := newTestStrategy(t, b)
	r := NewRoller(b, 3, KeepStrike)

	// Calendar ends at the near expiry itself: nothing to roll into.
	_, err := r.ExecuteRoll(s, date("2026-02-04"), 21900, 0.21, calendarOf("2026-02-06"))
	assert.ErrorIs(t, err, ErrRollExhausted)

	// The leg stays active when the roll fails.
	assert.Equal(t, strategy.LegActive, s.Legs[0].Status)
}

func TestExecuteRollAtClosedLeg(t *testing.T) {
	b := strategy.NewBuilder(pricing.NewCalculator(pricing.DefaultBackend()))
	s := newTestStrategy(t, b)
	r := NewRoller(b, 3, KeepStrike)

	require.NoError(t, s.CloseLegAt(0))

	_, err := r.ExecuteRollAt(s, 0, date("2026-02-04"), 21900, 0.21, calendarOf("2026-02-13"))
	assert.ErrorIs(t, err, ErrLegAlreadyClosed)

	_, err = r.ExecuteRollAt(s, 9, date("2026-02-04"), 21900, 0.21, calendarOf("2026-02-13"))
	assert.ErrorIs(t, err, strategy.ErrLegIndexOutOfRange)
}

func TestExecuteRollNoActiveLegs(t *testing.T) {
	b := strategy.NewBuilder(pricing.NewCalculator(pricing.DefaultBackend()))
	s := newTestStrategy(t, b)
	r := NewRoller(b, 3, KeepStrike)

	require.NoError(t, s.CloseLegAt(0))
	require.NoError(t, s.CloseLegAt(1))

	_, err := r.ExecuteRoll(s, date("2026-02-04"), 21900, 0.21, calendarOf("2026-02-13"))
	assert.ErrorIs(t, err, ErrNoActiveLegs)
}

func TestNewRollerInvalidPolicyFallsBack(t *testing.T) {
	b := strategy.NewBuilder(pricing.NewCalculator(pricing.DefaultBackend()))
	r := NewRoller(b, 3, StrikePolicy("bogus"))
	assert.Equal(t, KeepStrike, r.Policy)
}
