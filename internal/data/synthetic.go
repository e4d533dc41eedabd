package data

import (
	"math"
	"math/rand"
	"time"
)

// synthDataProvider implements Provider generating deterministic synthetic
// data from a seed: a GBM-style price walk with a mean-reverting IV series
// and a weekly Thursday expiry calendar (the NSE index cycle).
type synthDataProvider struct {
	seed      int64
	startSpot float64
	baseIV    float64
}

// NewSyntheticProvider returns a seeded synthetic provider. A zero
// startSpot defaults to a NIFTY-like level.
func NewSyntheticProvider(seed int64, startSpot, baseIV float64) Provider {
	if startSpot <= 0 {
		startSpot = 21800
	}
	if baseIV <= 0 {
		baseIV = 0.20
	}
	return &synthDataProvider{seed: seed, startSpot: startSpot, baseIV: baseIV}
}

func (p *synthDataProvider) GetDailySeries(underlying string, from, to time.Time) ([]Quote, error) {
	rng := rand.New(rand.NewSource(p.seed))
	price := p.startSpot
	iv := p.baseIV

	var out []Quote
	for cur := from; !cur.After(to); cur = cur.AddDate(0, 0, 1) {
		if cur.Weekday() == time.Saturday || cur.Weekday() == time.Sunday {
			continue
		}
		// daily GBM step at the base IV
		dt := 1.0 / 252.0
		price *= math.Exp((-0.5*iv*iv)*dt + iv*math.Sqrt(dt)*rng.NormFloat64())

		// IV mean-reverts toward the base with small shocks
		iv += 0.1*(p.baseIV-iv) + 0.01*rng.NormFloat64()
		if iv < 0.05 {
			iv = 0.05
		}

		out = append(out, Quote{Date: cur, Close: price, IV: iv})
	}
	return out, nil
}

// GetExpiries emits every Thursday from the window start through three
// months past the window end, so a run near the boundary still has
// cycles to roll into.
func (p *synthDataProvider) GetExpiries(underlying string, from, to time.Time) ([]time.Time, error) {
	var out []time.Time
	end := to.AddDate(0, 3, 0)
	for cur := from; !cur.After(end); cur = cur.AddDate(0, 0, 1) {
		if cur.Weekday() == time.Thursday {
			out = append(out, cur)
		}
	}
	return out, nil
}

func (p *synthDataProvider) StrikeInterval(underlying string) float64 {
	return DefaultStrikeInterval(p.startSpot)
}
