package data

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sheldcoop/upstox-backtest/internal/logger"
	"github.com/sheldcoop/upstox-backtest/internal/pricing"
)

// atmQuoteTenorYears is the tenor assumed for ATM option quotes in priced
// series files; the implied vol is backed out at a 30-day horizon.
const atmQuoteTenorYears = 30.0 / 365.0

// localCSVProvider implements Provider from local CSV files. It expects
// <dir>/<UNDERLYING>.csv with either a date,close,iv or a
// date,close,call,put header (ATM option prices, from which the implied
// vol is derived), plus an optional <dir>/<UNDERLYING>_expiries.csv with
// one date per line.
type localCSVProvider struct {
	dir       string
	secondary Provider
}

// NewLocalCSVProvider reads series from dir, delegating to secondary for
// anything the files cannot answer.
func NewLocalCSVProvider(dir string, secondary Provider) Provider {
	return &localCSVProvider{dir: dir, secondary: secondary}
}

func (p *localCSVProvider) GetDailySeries(underlying string, from, to time.Time) ([]Quote, error) {
	path := filepath.Join(p.dir, strings.ToUpper(underlying)+".csv")
	f, err := os.Open(path)
	if err != nil {
		if p.secondary != nil {
			logger.Debugf("local series missing for %s, using secondary: %v", underlying, err)
			return p.secondary.GetDailySeries(underlying, from, to)
		}
		return nil, fmt.Errorf("open series file: %w", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	calc := pricing.NewCalculator(pricing.DefaultBackend())

	var out []Quote
	for i, row := range rows {
		if i == 0 && strings.EqualFold(row[0], "date") {
			continue // header
		}
		if len(row) < 3 {
			logger.Debugf("skipping short row %d in %s", i, path)
			continue
		}
		dt, err := time.Parse("2006-01-02", strings.TrimSpace(row[0]))
		if err != nil {
			logger.Debugf("skipping row %d in %s: %v", i, path, err)
			continue
		}
		if dt.Before(from) || dt.After(to) {
			continue
		}
		closePx, err := strconv.ParseFloat(strings.TrimSpace(row[1]), 64)
		if err != nil {
			logger.Debugf("skipping unparsable row %d in %s", i, path)
			continue
		}

		var iv float64
		if len(row) >= 4 {
			// Priced form: back the vol out of the ATM straddle quote.
			callPx, err1 := strconv.ParseFloat(strings.TrimSpace(row[2]), 64)
			putPx, err2 := strconv.ParseFloat(strings.TrimSpace(row[3]), 64)
			if err1 != nil || err2 != nil {
				logger.Debugf("skipping unparsable row %d in %s", i, path)
				continue
			}
			iv, err = calc.ImpliedVolATM(closePx, closePx, atmQuoteTenorYears, 0, callPx, putPx)
			if err != nil {
				logger.Debugf("skipping row %d in %s: %v", i, path, err)
				continue
			}
		} else {
			iv, err = strconv.ParseFloat(strings.TrimSpace(row[2]), 64)
			if err != nil {
				logger.Debugf("skipping unparsable row %d in %s", i, path)
				continue
			}
		}
		out = append(out, Quote{Date: dt, Close: closePx, IV: iv})
	}
	return out, nil
}

func (p *localCSVProvider) GetExpiries(underlying string, from, to time.Time) ([]time.Time, error) {
	path := filepath.Join(p.dir, strings.ToUpper(underlying)+"_expiries.csv")
	f, err := os.Open(path)
	if err != nil {
		if p.secondary != nil {
			return p.secondary.GetExpiries(underlying, from, to)
		}
		return nil, fmt.Errorf("open expiries file: %w", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var out []time.Time
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		dt, err := time.Parse("2006-01-02", strings.TrimSpace(row[0]))
		if err != nil {
			continue
		}
		out = append(out, dt)
	}
	return out, nil
}

func (p *localCSVProvider) StrikeInterval(underlying string) float64 {
	if p.secondary != nil {
		return p.secondary.StrikeInterval(underlying)
	}
	return 50 // NSE index default
}
