package data

import (
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"

	"github.com/sheldcoop/upstox-backtest/internal/logger"
)

// ivWindow is the lookback, in trading days, of the realized-vol proxy
// used when the API exposes no historical IV series.
const ivWindow = 20

// upstoxDataProvider implements Provider against Upstox-style market data
// HTTP APIs. Calls run through a circuit breaker so a flapping upstream
// fails fast instead of hammering the API during a sweep.
type upstoxDataProvider struct {
	client    *resty.Client
	breaker   *gobreaker.CircuitBreaker
	secondary Provider
}

// upstoxCandleResp models the historical candle response. Candles arrive
// as positional arrays: [timestamp, open, high, low, close, volume, oi].
type upstoxCandleResp struct {
	Status string `json:"status"`
	Data   struct {
		Candles [][]any `json:"candles"`
	} `json:"data"`
}

// upstoxContractResp models the option contract listing.
type upstoxContractResp struct {
	Status string `json:"status"`
	Data   []struct {
		Expiry        string  `json:"expiry"`
		StrikePrice   float64 `json:"strike_price"`
		InstrumentKey string  `json:"instrument_key"`
	} `json:"data"`
}

// NewUpstoxDataProvider constructs a provider for the given API base URL
// and access token. secondary, when non-nil, answers anything the API
// call fails on.
func NewUpstoxDataProvider(baseURL, accessToken string, secondary Provider) Provider {
	logger.Infof("initializing Upstox data provider")

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetHeader("Accept", "application/json").
		SetAuthToken(accessToken)

	settings := gobreaker.Settings{
		Name:        "upstox-api",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Errorf("circuit breaker %s: %s -> %s", name, from, to)
		},
	}

	return &upstoxDataProvider{
		client:    client,
		breaker:   gobreaker.NewCircuitBreaker(settings),
		secondary: secondary,
	}
}

func (p *upstoxDataProvider) GetDailySeries(underlying string, from, to time.Time) ([]Quote, error) {
	path := fmt.Sprintf("/v2/historical-candle/%s/day/%s/%s",
		url.PathEscape(underlying), to.Format("2006-01-02"), from.Format("2006-01-02"))

	body, err := p.breaker.Execute(func() (any, error) {
		var out upstoxCandleResp
		resp, err := p.client.R().SetResult(&out).Get(path)
		if err != nil {
			return nil, err
		}
		if resp.IsError() {
			return nil, fmt.Errorf("upstox candles status %d", resp.StatusCode())
		}
		return &out, nil
	})
	if err != nil {
		if p.secondary != nil {
			logger.Errorf("upstox series fetch failed, using secondary: %v", err)
			return p.secondary.GetDailySeries(underlying, from, to)
		}
		return nil, err
	}

	candles := body.(*upstoxCandleResp).Data.Candles
	quotes := make([]Quote, 0, len(candles))
	for _, c := range candles {
		if len(c) < 5 {
			continue
		}
		ts, ok1 := c[0].(string)
		closePx, ok2 := c[4].(float64)
		if !ok1 || !ok2 {
			continue
		}
		dt, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			logger.Debugf("skipping candle with bad timestamp %q: %v", ts, err)
			continue
		}
		quotes = append(quotes, Quote{Date: dt.Truncate(24 * time.Hour), Close: closePx})
	}
	sort.Slice(quotes, func(i, j int) bool { return quotes[i].Date.Before(quotes[j].Date) })

	fillRealizedIV(quotes)
	return quotes, nil
}

// fillRealizedIV populates the IV column with a rolling realized-vol
// proxy, since the candle API carries no historical implied vol. Early
// rows without a full window inherit the whole-series estimate.
func fillRealizedIV(quotes []Quote) {
	closes := make([]float64, len(quotes))
	for i, q := range quotes {
		closes[i] = q.Close
	}
	base := AnnualizedVolatility(closes)
	for i := range quotes {
		if i < ivWindow {
			quotes[i].IV = base
			continue
		}
		quotes[i].IV = AnnualizedVolatility(closes[i-ivWindow : i+1])
	}
}

func (p *upstoxDataProvider) GetExpiries(underlying string, from, to time.Time) ([]time.Time, error) {
	body, err := p.breaker.Execute(func() (any, error) {
		var out upstoxContractResp
		resp, err := p.client.R().
			SetQueryParam("instrument_key", underlying).
			SetResult(&out).
			Get("/v2/option/contract")
		if err != nil {
			return nil, err
		}
		if resp.IsError() {
			return nil, fmt.Errorf("upstox contracts status %d", resp.StatusCode())
		}
		return &out, nil
	})
	if err != nil {
		if p.secondary != nil {
			logger.Errorf("upstox expiries fetch failed, using secondary: %v", err)
			return p.secondary.GetExpiries(underlying, from, to)
		}
		return nil, err
	}

	seen := map[string]time.Time{}
	for _, c := range body.(*upstoxContractResp).Data {
		dt, err := time.Parse("2006-01-02", c.Expiry)
		if err != nil {
			continue
		}
		if dt.Before(from) {
			continue
		}
		seen[c.Expiry] = dt
	}

	out := make([]time.Time, 0, len(seen))
	for _, dt := range seen {
		out = append(out, dt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (p *upstoxDataProvider) StrikeInterval(underlying string) float64 {
	if p.secondary != nil {
		return p.secondary.StrikeInterval(underlying)
	}
	return 50
}
