// Package backtest replays multi-expiry option strategies against
// historical price/volatility series, one trading day at a time.
//
// The daily loop is strictly sequential: every snapshot depends on the
// cumulative state of all prior days, so no reordering or intra-run
// parallelism is permitted. Independent runs share no state and are
// parallelized by the sweep helper instead.
package backtest

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sheldcoop/upstox-backtest/internal/backtest/roll"
	"github.com/sheldcoop/upstox-backtest/internal/backtest/strategy"
	"github.com/sheldcoop/upstox-backtest/internal/data"
	"github.com/sheldcoop/upstox-backtest/internal/logger"
	"github.com/sheldcoop/upstox-backtest/internal/metrics"
	"github.com/sheldcoop/upstox-backtest/internal/pricing"
)

const dateKey = "2006-01-02"

// Config describes one backtest run.
type Config struct {
	Underlying string              `json:"underlying"`
	Strategy   strategy.Type       `json:"strategy"`
	OptionType strategy.OptionType `json:"option_type,omitempty"` // calendar/diagonal legs

	// StrikeRule resolves the (near) strike: "ATM", "ATM:+100",
	// "ABS:21800", "DELTA:30". Empty means ATM. FarStrikeRule applies to
	// the far leg of a diagonal and may reference the near leg
	// ("{NEAR.STRIKE}+200").
	StrikeRule    string `json:"strike_rule,omitempty"`
	FarStrikeRule string `json:"far_strike_rule,omitempty"`

	// NearDTE/FarDTE are the target days-to-expiry of the two cycles;
	// actual expiries snap to the supplied calendar.
	NearDTE int `json:"near_dte,omitempty"`
	FarDTE  int `json:"far_dte,omitempty"`

	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	AutoRoll bool `json:"auto_roll"`
	// RollDaysBefore is the roll trigger threshold in days. Nil takes the
	// default of 3; an explicit 0 rolls on the expiry day itself.
	RollDaysBefore *int              `json:"roll_days_before,omitempty"`
	StrikePolicy   roll.StrikePolicy `json:"strike_policy,omitempty"`

	Rate           float64 `json:"rate,omitempty"`
	StrikeInterval float64 `json:"strike_interval,omitempty"`
}

// withDefaults fills unset fields; the original Config is not mutated.
func (c Config) withDefaults() Config {
	if c.Strategy == "" {
		c.Strategy = strategy.Calendar
	}
	if c.OptionType == "" {
		c.OptionType = strategy.Call
	}
	if c.NearDTE == 0 {
		c.NearDTE = 7
	}
	if c.FarDTE == 0 {
		c.FarDTE = 28
	}
	if c.RollDaysBefore == nil {
		d := 3
		c.RollDaysBefore = &d
	}
	if c.StrikePolicy == "" {
		c.StrikePolicy = roll.KeepStrike
	}
	return c
}

// Snapshot is one row per simulated trading day. Legs holds the leg slice
// current on that day; ReplaceLeg installs fresh slices on rolls, so
// older snapshots keep the legs as they were.
type Snapshot struct {
	Date               time.Time            `json:"date"`
	UnderlyingPrice    float64              `json:"underlying_price"`
	ImpliedVol         float64              `json:"implied_vol_used"`
	Legs               []strategy.OptionLeg `json:"active_legs"`
	PortfolioGreeks    strategy.Greeks      `json:"portfolio_greeks"`
	MarkToMarket       float64              `json:"mark_to_market_value"`
	CumulativePnL      float64              `json:"cumulative_pnl"`
	CumulativeRollCost float64              `json:"cumulative_roll_cost"`
}

// Result is the serializable output of one run: the initial legs, the
// ordered snapshot sequence, the immutable roll log, and the summary.
type Result struct {
	RunID          string               `json:"run_id"`
	StrategyName   string               `json:"strategy_name"`
	Underlying     string               `json:"underlying"`
	Status         strategy.Status      `json:"status"`
	NetDebitCredit float64              `json:"net_debit_credit"`
	EntryGreeks    strategy.Greeks      `json:"entry_greeks"`
	Legs           []strategy.OptionLeg `json:"legs"`
	Snapshots      []Snapshot           `json:"daily_snapshots"`
	RollEvents     []roll.Event         `json:"roll_events"`
	Summary        metrics.Summary      `json:"summary_metrics"`
}

// Engine drives the day-by-day simulation for a single strategy instance.
type Engine struct {
	cfg     Config
	builder *strategy.Builder
	roller  *roll.Roller
}

// NewEngine wires a pricing calculator, builder and roller for cfg.
func NewEngine(cfg Config) *Engine {
	cfg = cfg.withDefaults()
	calc := pricing.NewCalculator(pricing.DefaultBackend())
	b := strategy.NewBuilder(calc)
	r := roll.NewRoller(b, *cfg.RollDaysBefore, cfg.StrikePolicy)
	r.StrikeInterval = cfg.StrikeInterval
	r.Rate = cfg.Rate
	return &Engine{cfg: cfg, builder: b, roller: r}
}

// Run executes the backtest over the supplied, fully materialized series.
// quotes is one (price, iv) pair per available trading day; expiries is
// the option expiry calendar. Missing dates inside [Start, End] are
// skipped, never interpolated. Validation errors propagate; data
// conditions (gaps, exhausted rolls) only shape the result.
func (e *Engine) Run(quotes []data.Quote, expiries []time.Time) (*Result, error) {
	cfg := e.cfg
	if !cfg.Start.Before(cfg.End) {
		return nil, fmt.Errorf("%w: start %s not before end %s",
			strategy.ErrInvalidStrategy, cfg.Start.Format(dateKey), cfg.End.Format(dateKey))
	}
	if len(quotes) == 0 {
		return nil, fmt.Errorf("%w: empty quote series", strategy.ErrInvalidStrategy)
	}
	if len(expiries) == 0 {
		return nil, fmt.Errorf("%w: empty expiry calendar", strategy.ErrInvalidStrategy)
	}

	quoteMap := make(map[string]data.Quote, len(quotes))
	for _, q := range quotes {
		quoteMap[q.Date.Format(dateKey)] = q
	}

	// Entry is the first available trading day at or after Start.
	entry, ok := firstQuoteFrom(quotes, cfg.Start, cfg.End)
	if !ok {
		return nil, fmt.Errorf("%w: no market data in [%s, %s]",
			strategy.ErrInvalidStrategy, cfg.Start.Format(dateKey), cfg.End.Format(dateKey))
	}

	interval := cfg.StrikeInterval
	if interval == 0 {
		interval = data.DefaultStrikeInterval(entry.Close)
		e.roller.StrikeInterval = interval
	}

	s, err := e.buildInitial(entry, expiries, interval)
	if err != nil {
		return nil, err
	}

	resolver := calendarResolver(expiries)

	res := &Result{
		RunID:          uuid.NewString(),
		StrategyName:   string(cfg.Strategy),
		Underlying:     cfg.Underlying,
		Status:         strategy.StatusActive,
		NetDebitCredit: s.NetDebitCredit,
		EntryGreeks:    s.EntryGreeks,
		Legs:           s.Legs,
	}

	cumRollCost := 0.0
	logger.Infof("event=run_started id=%s strategy=%s entry=%s net=%.2f",
		res.RunID, cfg.Strategy, entry.Date.Format(dateKey), s.NetDebitCredit)

	for cur := entry.Date; !cur.After(cfg.End); cur = cur.AddDate(0, 0, 1) {
		q, ok := quoteMap[cur.Format(dateKey)]
		if !ok {
			// Data gap: skip, don't fabricate.
			logger.Debugf("event=data_gap date=%s", cur.Format(dateKey))
			continue
		}

		// Roll every leg inside the window; a double calendar has two legs
		// sharing the near expiry and both must move on the trigger day.
		exhausted := false
		for cfg.AutoRoll && !exhausted && e.roller.ShouldRoll(s, cur) {
			ev, err := e.roller.ExecuteRoll(s, cur, q.Close, q.IV, resolver)
			switch {
			case errors.Is(err, roll.ErrRollExhausted):
				logger.Infof("event=rolls_exhausted date=%s", cur.Format(dateKey))
				exhausted = true
			case err != nil:
				return nil, err
			default:
				res.RollEvents = append(res.RollEvents, ev)
				cumRollCost += ev.RollCost
			}
		}

		snap, err := e.markDay(s, q, cumRollCost)
		if err != nil {
			return nil, err
		}
		res.Snapshots = append(res.Snapshots, snap)

		if exhausted {
			s.Status = strategy.StatusClosed
			break
		}
		if idx := s.NearestActiveLeg(); idx >= 0 && !cfg.AutoRoll &&
			s.Legs[idx].Expiry.Before(cur) {
			s.Status = strategy.StatusExpired
			break
		}
	}

	if s.Status == strategy.StatusActive {
		// Ran through the full window without expiring.
		res.Status = strategy.StatusActive
	} else {
		res.Status = s.Status
	}

	res.Summary = e.summarize(res)
	logger.Infof("event=run_finished id=%s days=%d rolls=%d pnl=%.2f status=%s",
		res.RunID, len(res.Snapshots), len(res.RollEvents), res.Summary.FinalPnL, res.Status)
	return res, nil
}

// buildInitial constructs the fresh strategy instance for this run.
func (e *Engine) buildInitial(entry data.Quote, expiries []time.Time, interval float64) (*strategy.MultiExpiryStrategy, error) {
	cfg := e.cfg

	near := pickExpiry(expiries, entry.Date, cfg.NearDTE)
	far := pickExpiry(expiries, entry.Date, cfg.FarDTE)
	if far.IsZero() || near.IsZero() {
		return nil, fmt.Errorf("%w: expiry calendar cannot cover DTE %d/%d from %s",
			strategy.ErrInvalidStrategy, cfg.NearDTE, cfg.FarDTE, entry.Date.Format(dateKey))
	}
	if !near.Before(far) {
		far = data.MatchDate(near.AddDate(0, 0, 1), expiries, data.MatchHigher)
		if far.IsZero() {
			return nil, fmt.Errorf("%w: no far expiry after %s",
				strategy.ErrInvalidStrategy, near.Format(dateKey))
		}
	}

	nearPx := &strategy.DeltaInputs{
		Calc:   e.builder.Calculator(),
		Vol:    entry.IV,
		TYears: near.Sub(entry.Date).Hours() / 24 / 365,
		Rate:   cfg.Rate,
		IsCall: cfg.OptionType.IsCall(),
	}
	strike, err := strategy.ResolveStrikeRule(cfg.StrikeRule, entry.Close, interval, nil, nearPx)
	if err != nil {
		return nil, err
	}

	m := strategy.MarketInputs{
		Spot:    entry.Close,
		NearVol: entry.IV,
		FarVol:  entry.IV,
		Rate:    cfg.Rate,
		AsOf:    entry.Date,
	}

	switch cfg.Strategy {
	case strategy.Calendar:
		return e.builder.CalendarSpread(m, cfg.Underlying, strike, near, far, cfg.OptionType)
	case strategy.Diagonal:
		nearLeg, err := e.builder.NewLeg(m, strategy.Sell, cfg.OptionType, strike, near, 1, m.NearVol)
		if err != nil {
			return nil, err
		}
		farRule := cfg.FarStrikeRule
		if farRule == "" {
			farRule = cfg.StrikeRule
		}
		farPx := *nearPx
		farPx.TYears = far.Sub(entry.Date).Hours() / 24 / 365
		farStrike, err := strategy.ResolveStrikeRule(farRule, entry.Close, interval, []strategy.OptionLeg{nearLeg}, &farPx)
		if err != nil {
			return nil, err
		}
		return e.builder.DiagonalSpread(m, cfg.Underlying, strike, farStrike, near, far, cfg.OptionType)
	case strategy.DoubleCalendar:
		return e.builder.DoubleCalendar(m, cfg.Underlying, strike, near, far)
	default:
		return nil, fmt.Errorf("%w: unknown strategy type %q", strategy.ErrInvalidStrategy, cfg.Strategy)
	}
}

// markDay prices every active leg against the day's quote and assembles
// the snapshot. Legs at or past expiry price at intrinsic value.
func (e *Engine) markDay(s *strategy.MultiExpiryStrategy, q data.Quote, cumRollCost float64) (Snapshot, error) {
	calc := e.builder.Calculator()

	mtm := 0.0
	for _, l := range s.Legs {
		if l.Status != strategy.LegActive {
			continue
		}
		res, err := calc.PriceAndGreeks(
			l.OptionType.IsCall(), q.Close, l.Strike, l.TimeToExpiryYears(q.Date), q.IV, e.cfg.Rate, 0)
		if err != nil {
			return Snapshot{}, err
		}
		mtm += l.Sign() * res.Price * float64(l.Quantity)
	}

	greeks, err := e.builder.AggregateGreeks(s, q.Close, q.IV, q.IV, e.cfg.Rate, q.Date)
	if err != nil {
		return Snapshot{}, err
	}

	return Snapshot{
		Date:               q.Date,
		UnderlyingPrice:    q.Close,
		ImpliedVol:         q.IV,
		Legs:               s.Legs,
		PortfolioGreeks:    greeks,
		MarkToMarket:       mtm,
		CumulativePnL:      mtm - s.NetDebitCredit - cumRollCost,
		CumulativeRollCost: cumRollCost,
	}, nil
}

func (e *Engine) summarize(res *Result) metrics.Summary {
	mtm := make([]float64, len(res.Snapshots))
	cum := make([]float64, len(res.Snapshots))
	for i, snap := range res.Snapshots {
		mtm[i] = snap.MarkToMarket
		cum[i] = snap.CumulativePnL
	}
	costs := make([]float64, len(res.RollEvents))
	for i, ev := range res.RollEvents {
		costs[i] = ev.RollCost
	}
	return metrics.Summarize(mtm, cum, costs, res.NetDebitCredit)
}

// firstQuoteFrom returns the earliest quote dated within [from, to].
func firstQuoteFrom(quotes []data.Quote, from, to time.Time) (data.Quote, bool) {
	for _, q := range quotes {
		if !q.Date.Before(from) && !q.Date.After(to) {
			return q, true
		}
	}
	return data.Quote{}, false
}

// pickExpiry snaps asOf+dte onto the calendar, insisting the result lies
// strictly after asOf.
func pickExpiry(expiries []time.Time, asOf time.Time, dte int) time.Time {
	candidate := asOf.AddDate(0, 0, dte)
	exp := data.MatchDate(candidate, expiries, data.MatchNearest)
	if !exp.After(asOf) {
		exp = data.MatchDate(asOf, expiries, data.MatchHigher)
	}
	return exp
}

// calendarResolver adapts a sorted expiry list into the roller's
// injectable resolver: next expiry strictly after the given date.
func calendarResolver(expiries []time.Time) roll.ExpiryResolver {
	return func(after time.Time) (time.Time, bool) {
		next := data.MatchDate(after, expiries, data.MatchHigher)
		if next.IsZero() {
			return time.Time{}, false
		}
		return next, true
	}
}
