package strategy

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/Knetic/govaluate"

	"github.com/sheldcoop/upstox-backtest/internal/logger"
	"github.com/sheldcoop/upstox-backtest/internal/pricing"
)

// ErrInvalidStrikeExpression flags a strike rule that cannot be parsed or
// evaluated.
var ErrInvalidStrikeExpression = errors.New("invalid strike expression")

var legRefRe = regexp.MustCompile(`\{(NEAR|FAR)\.(STRIKE|PREMIUM)\}`)

// DeltaInputs carries the pricing context a DELTA rule resolves against:
// the calculator plus the vol, tenor and rate of the leg being struck.
type DeltaInputs struct {
	Calc   *pricing.Calculator
	Vol    float64
	TYears float64
	Rate   float64
	IsCall bool
}

// ResolveStrikeRule converts a strike expression into a concrete strike
// price rounded to the exchange interval.
//
// Supported formats:
//   - ATM
//   - ATM:+100, ATM:-2%
//   - ABS:21800
//   - DELTA:0.3 or DELTA:30 (strike at the target delta)
//   - {NEAR.STRIKE}+50, {FAR.PREMIUM}*2 (expressions over existing legs)
//
// legs supplies the referenced NEAR/FAR legs and px the pricing context
// for DELTA rules; either may be nil when the rule uses none.
func ResolveStrikeRule(rule string, spot, interval float64, legs []OptionLeg, px *DeltaInputs) (float64, error) {
	rule = strings.TrimSpace(strings.ToUpper(rule))
	logger.Debugf("event=resolve_strike expr=%s spot=%.2f", rule, spot)

	if rule == "" || rule == "ATM" {
		return RoundToInterval(spot, interval), nil
	}

	if strings.HasPrefix(rule, "ATM:") {
		target, err := resolveATMOffset(rule[len("ATM:"):], spot)
		if err != nil {
			return 0, err
		}
		return RoundToInterval(target, interval), nil
	}

	if strings.HasPrefix(rule, "ABS:") {
		abs, err := strconv.ParseFloat(strings.TrimPrefix(rule, "ABS:"), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %s", ErrInvalidStrikeExpression, rule)
		}
		return abs, nil
	}

	if strings.HasPrefix(rule, "DELTA:") {
		target, err := resolveDeltaTarget(strings.TrimPrefix(rule, "DELTA:"))
		if err != nil {
			return 0, err
		}
		if px == nil || px.Calc == nil {
			return 0, fmt.Errorf("%w: %s needs pricing inputs", ErrInvalidStrikeExpression, rule)
		}
		if px.Vol <= 0 || px.TYears <= 0 {
			return 0, fmt.Errorf("%w: %s needs positive vol and tenor", ErrInvalidStrikeExpression, rule)
		}
		k := px.Calc.StrikeFromDelta(spot, target, px.Rate, 0, px.Vol, px.TYears, px.IsCall)
		return RoundToInterval(k, interval), nil
	}

	if strings.Contains(rule, "{") {
		target, err := evaluateLegExpression(rule, legs)
		if err != nil {
			return 0, err
		}
		return RoundToInterval(target, interval), nil
	}

	return 0, fmt.Errorf("%w: %s", ErrInvalidStrikeExpression, rule)
}

// RoundToInterval snaps a price to the nearest strike interval. A zero or
// negative interval leaves the price untouched.
func RoundToInterval(v, interval float64) float64 {
	if interval <= 0 {
		return v
	}
	return math.Round(v/interval) * interval
}

// resolveDeltaTarget parses a DELTA value, accepting both the 0.3 and
// the 30 form, and returns the target as a percentage.
func resolveDeltaTarget(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 || v >= 100 {
		return 0, fmt.Errorf("%w: DELTA:%s", ErrInvalidStrikeExpression, s)
	}
	if v < 1 {
		v *= 100
	}
	return v, nil
}

// resolveATMOffset applies an absolute or percentage offset to a price.
func resolveATMOffset(offset string, spot float64) (float64, error) {
	if strings.HasSuffix(offset, "%") {
		pct, err := strconv.ParseFloat(strings.TrimSuffix(offset, "%"), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %s", ErrInvalidStrikeExpression, offset)
		}
		return spot + spot*pct/100, nil
	}

	abs, err := strconv.ParseFloat(offset, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrInvalidStrikeExpression, offset)
	}
	return spot + abs, nil
}

// evaluateLegExpression evaluates expressions referencing the near or far
// leg, e.g. "{NEAR.STRIKE}+50". NEAR is the earliest-expiring leg of the
// slice, FAR the latest.
func evaluateLegExpression(expr string, legs []OptionLeg) (float64, error) {
	matches := legRefRe.FindAllStringSubmatch(expr, -1)
	if matches == nil {
		return 0, fmt.Errorf("%w: %s", ErrInvalidStrikeExpression, expr)
	}
	if len(legs) == 0 {
		return 0, fmt.Errorf("%w: no legs to reference in %s", ErrInvalidStrikeExpression, expr)
	}

	nearIdx, farIdx := 0, 0
	for i, l := range legs {
		if l.Expiry.Before(legs[nearIdx].Expiry) {
			nearIdx = i
		}
		if l.Expiry.After(legs[farIdx].Expiry) {
			farIdx = i
		}
	}

	evalStr := expr
	for _, match := range matches {
		leg := legs[nearIdx]
		if match[1] == "FAR" {
			leg = legs[farIdx]
		}

		var value float64
		if match[2] == "STRIKE" {
			value = leg.Strike
		} else {
			value = leg.EntryPremium
		}

		evalStr = strings.Replace(evalStr, match[0], strconv.FormatFloat(value, 'f', -1, 64), 1)
	}

	evalExpr, err := govaluate.NewEvaluableExpression(evalStr)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrInvalidStrikeExpression, expr)
	}

	result, err := evalExpr.Evaluate(nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrInvalidStrikeExpression, expr)
	}

	f, ok := result.(float64)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrInvalidStrikeExpression, expr)
	}
	return f, nil
}
