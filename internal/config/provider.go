package config

import (
	"strings"

	"github.com/sheldcoop/upstox-backtest/internal/data"
)

// NewProvider constructs the market data provider the scenario names.
// The synthetic provider backs the other two as a fallback so a missing
// file or a tripped breaker still yields a usable series for dry runs.
func (s *Scenario) NewProvider() data.Provider {
	synth := data.NewSyntheticProvider(s.Data.Seed, s.Data.StartSpot, s.Data.BaseIV)

	switch strings.ToLower(s.Data.Provider) {
	case "csv":
		return data.NewLocalCSVProvider(s.Data.Dir, synth)
	case "upstox":
		return data.NewUpstoxDataProvider(s.Data.BaseURL, s.Data.AccessToken, synth)
	default:
		return synth
	}
}
