package strategy

import (
	"fmt"
	"time"

	"github.com/sheldcoop/upstox-backtest/internal/logger"
	"github.com/sheldcoop/upstox-backtest/internal/pricing"
)

// MarketInputs is the snapshot a builder prices against. Volatility is
// supplied per tenor because term structure may differ between the near
// and far cycles; callers with a single IV reading pass it for both.
type MarketInputs struct {
	Spot    float64
	NearVol float64
	FarVol  float64
	Rate    float64
	AsOf    time.Time
}

// Builder constructs multi-expiry strategies with legs priced through a
// shared Greeks calculator. Builders are stateless and safe for use from
// concurrent backtest runs.
type Builder struct {
	calc *pricing.Calculator
}

// NewBuilder returns a Builder pricing through calc.
func NewBuilder(calc *pricing.Calculator) *Builder {
	return &Builder{calc: calc}
}

// Calculator exposes the underlying pricing calculator for marking legs.
func (b *Builder) Calculator() *pricing.Calculator { return b.calc }

// NewLeg prices and returns a single leg at the given strike, type and
// expiry using the supplied market snapshot. This is the primitive the
// expiry roller uses to open replacement legs.
func (b *Builder) NewLeg(m MarketInputs, action Action, optType OptionType, strike float64, expiry time.Time, qty int, vol float64) (OptionLeg, error) {
	if !expiry.After(m.AsOf) {
		return OptionLeg{}, fmt.Errorf("%w: expiry %s not after %s",
			ErrInvalidStrategy, expiry.Format("2006-01-02"), m.AsOf.Format("2006-01-02"))
	}
	t := expiry.Sub(m.AsOf).Hours() / 24.0 / 365.0
	res, err := b.calc.PriceAndGreeks(optType.IsCall(), m.Spot, strike, t, vol, m.Rate, 0)
	if err != nil {
		return OptionLeg{}, err
	}
	return OptionLeg{
		OptionType:   optType,
		Action:       action,
		Strike:       strike,
		Expiry:       expiry,
		EntryPremium: res.Price,
		Quantity:     qty,
		Status:       LegActive,
	}, nil
}

// CalendarSpread builds a SELL leg at the near expiry and a BUY leg at the
// far expiry, both at the same strike and option type. Fails with
// ErrInvalidStrategy when nearExpiry >= farExpiry.
func (b *Builder) CalendarSpread(m MarketInputs, underlying string, strike float64, nearExpiry, farExpiry time.Time, optType OptionType) (*MultiExpiryStrategy, error) {
	if err := checkExpiryOrder(nearExpiry, farExpiry); err != nil {
		return nil, err
	}

	near, err := b.NewLeg(m, Sell, optType, strike, nearExpiry, 1, m.NearVol)
	if err != nil {
		return nil, err
	}
	far, err := b.NewLeg(m, Buy, optType, strike, farExpiry, 1, m.FarVol)
	if err != nil {
		return nil, err
	}

	return b.finalize(Calendar, underlying, m, []OptionLeg{near, far})
}

// DiagonalSpread is a calendar spread whose legs may sit at different
// strikes. There is no constraint tying nearStrike to farStrike.
func (b *Builder) DiagonalSpread(m MarketInputs, underlying string, nearStrike, farStrike float64, nearExpiry, farExpiry time.Time, optType OptionType) (*MultiExpiryStrategy, error) {
	if err := checkExpiryOrder(nearExpiry, farExpiry); err != nil {
		return nil, err
	}

	near, err := b.NewLeg(m, Sell, optType, nearStrike, nearExpiry, 1, m.NearVol)
	if err != nil {
		return nil, err
	}
	far, err := b.NewLeg(m, Buy, optType, farStrike, farExpiry, 1, m.FarVol)
	if err != nil {
		return nil, err
	}

	return b.finalize(Diagonal, underlying, m, []OptionLeg{near, far})
}

// DoubleCalendar composes two calendar spreads, one on calls and one on
// puts, at the same strike and expiry pair: a four-leg strategy.
func (b *Builder) DoubleCalendar(m MarketInputs, underlying string, strike float64, nearExpiry, farExpiry time.Time) (*MultiExpiryStrategy, error) {
	if err := checkExpiryOrder(nearExpiry, farExpiry); err != nil {
		return nil, err
	}

	legs := make([]OptionLeg, 0, 4)
	for _, optType := range []OptionType{Call, Put} {
		near, err := b.NewLeg(m, Sell, optType, strike, nearExpiry, 1, m.NearVol)
		if err != nil {
			return nil, err
		}
		far, err := b.NewLeg(m, Buy, optType, strike, farExpiry, 1, m.FarVol)
		if err != nil {
			return nil, err
		}
		legs = append(legs, near, far)
	}

	return b.finalize(DoubleCalendar, underlying, m, legs)
}

// finalize attaches the derived entry fields. A constructed strategy is
// always self-describing: NetDebitCredit and EntryGreeks are computed
// here, never lazily.
func (b *Builder) finalize(st Type, underlying string, m MarketInputs, legs []OptionLeg) (*MultiExpiryStrategy, error) {
	s := &MultiExpiryStrategy{
		Type:       st,
		Status:     StatusActive,
		Underlying: underlying,
		CreatedAt:  m.AsOf,
		Legs:       legs,
	}

	for _, l := range legs {
		s.NetDebitCredit += l.Sign() * l.EntryPremium * float64(l.Quantity)
	}

	g, err := b.AggregateGreeks(s, m.Spot, m.NearVol, m.FarVol, m.Rate, m.AsOf)
	if err != nil {
		return nil, err
	}
	s.EntryGreeks = g

	logger.Infof("event=strategy_built type=%s underlying=%s legs=%d net=%.2f",
		st, underlying, len(legs), s.NetDebitCredit)
	return s, nil
}

// AggregateGreeks sums the per-leg Greeks of every active leg, scaled by
// quantity and action sign. nearVol prices the earliest-expiring leg,
// farVol the rest; with a flat term structure both are equal.
func (b *Builder) AggregateGreeks(s *MultiExpiryStrategy, spot, nearVol, farVol, rate float64, asOf time.Time) (Greeks, error) {
	var total Greeks
	nearIdx := s.NearestActiveLeg()
	for i, l := range s.Legs {
		if l.Status != LegActive {
			continue
		}
		vol := farVol
		if i == nearIdx {
			vol = nearVol
		}
		res, err := b.calc.PriceAndGreeks(l.OptionType.IsCall(), spot, l.Strike, l.TimeToExpiryYears(asOf), vol, rate, 0)
		if err != nil {
			return Greeks{}, err
		}
		legG := Greeks{Delta: res.Delta, Gamma: res.Gamma, Theta: res.Theta, Vega: res.Vega}
		total = total.Add(legG.Scale(l.Sign() * float64(l.Quantity)))
	}
	return total, nil
}

func checkExpiryOrder(near, far time.Time) error {
	if !near.Before(far) {
		return fmt.Errorf("%w: near expiry %s must precede far expiry %s",
			ErrInvalidStrategy, near.Format("2006-01-02"), far.Format("2006-01-02"))
	}
	return nil
}
