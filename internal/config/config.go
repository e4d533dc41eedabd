// Package config loads and validates backtest scenario files.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"

	"github.com/sheldcoop/upstox-backtest/internal/backtest"
	"github.com/sheldcoop/upstox-backtest/internal/backtest/roll"
	"github.com/sheldcoop/upstox-backtest/internal/backtest/strategy"
)

const dateLayout = "2006-01-02"

// Scenario is the complete YAML scenario: the strategy and window under
// test plus the data source feeding it.
type Scenario struct {
	Underlying string `yaml:"underlying"`
	Strategy   string `yaml:"strategy"`    // calendar | diagonal | double_calendar
	OptionType string `yaml:"option_type"` // call | put

	StrikeRule    string `yaml:"strike_rule"`
	FarStrikeRule string `yaml:"far_strike_rule"`
	NearDTE       int    `yaml:"near_dte"`
	FarDTE        int    `yaml:"far_dte"`

	Start string `yaml:"start"`
	End   string `yaml:"end"`

	AutoRoll       bool   `yaml:"auto_roll"`
	RollDaysBefore *int   `yaml:"roll_days_before"` // unset means the engine default; 0 rolls on expiry day
	StrikePolicy   string `yaml:"strike_policy"`    // keep_strike | recenter_atm

	Rate           float64 `yaml:"rate"`
	StrikeInterval float64 `yaml:"strike_interval"`

	Data DataConfig `yaml:"data"`
}

// DataConfig selects and parameterizes the market data provider.
type DataConfig struct {
	Provider    string  `yaml:"provider"` // synthetic | csv | upstox
	Dir         string  `yaml:"dir"`      // csv provider
	BaseURL     string  `yaml:"base_url"` // upstox provider
	AccessToken string  `yaml:"access_token"`
	Seed        int64   `yaml:"seed"` // synthetic provider
	StartSpot   float64 `yaml:"start_spot"`
	BaseIV      float64 `yaml:"base_iv"`
}

// EnvAccessToken names the environment variable that supplies or
// overrides data.access_token, keeping credentials out of scenario files.
const EnvAccessToken = "UPSTOX_ACCESS_TOKEN"

// Load reads and validates a scenario file. The access token from the
// environment is applied before validation, so a scenario may omit it
// entirely.
func Load(path string) (*Scenario, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}

	var sc Scenario
	if err := yaml.Unmarshal(b, &sc); err != nil {
		return nil, fmt.Errorf("parsing scenario: %w", err)
	}

	if token := os.Getenv(EnvAccessToken); token != "" {
		sc.Data.AccessToken = token
	}

	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Validate checks the scenario for configuration mistakes before any
// simulation starts.
func (s *Scenario) Validate() error {
	if s.Underlying == "" {
		return fmt.Errorf("underlying is required")
	}

	switch strings.ToLower(s.Strategy) {
	case "", "calendar", "diagonal", "double_calendar":
	default:
		return fmt.Errorf("unknown strategy %q", s.Strategy)
	}

	switch strings.ToLower(s.OptionType) {
	case "", "call", "put":
	default:
		return fmt.Errorf("unknown option type %q", s.OptionType)
	}

	start, err := time.Parse(dateLayout, s.Start)
	if err != nil {
		return fmt.Errorf("invalid start date %q: %w", s.Start, err)
	}
	end, err := time.Parse(dateLayout, s.End)
	if err != nil {
		return fmt.Errorf("invalid end date %q: %w", s.End, err)
	}
	if !start.Before(end) {
		return fmt.Errorf("start %s must precede end %s", s.Start, s.End)
	}

	if s.NearDTE < 0 || s.FarDTE < 0 || (s.RollDaysBefore != nil && *s.RollDaysBefore < 0) {
		return fmt.Errorf("DTE and roll thresholds must be non-negative")
	}
	if s.NearDTE > 0 && s.FarDTE > 0 && s.NearDTE >= s.FarDTE {
		return fmt.Errorf("near_dte %d must be below far_dte %d", s.NearDTE, s.FarDTE)
	}

	switch strings.ToLower(s.StrikePolicy) {
	case "", string(roll.KeepStrike), string(roll.RecenterATM):
	default:
		return fmt.Errorf("unknown strike policy %q", s.StrikePolicy)
	}

	switch strings.ToLower(s.Data.Provider) {
	case "", "synthetic":
	case "csv":
		if s.Data.Dir == "" {
			return fmt.Errorf("csv provider requires data.dir")
		}
	case "upstox":
		if s.Data.BaseURL == "" || s.Data.AccessToken == "" {
			return fmt.Errorf("upstox provider requires data.base_url and data.access_token")
		}
	default:
		return fmt.Errorf("unknown data provider %q", s.Data.Provider)
	}

	return nil
}

// BacktestConfig converts the scenario into the engine's configuration.
// Validate must have passed.
func (s *Scenario) BacktestConfig() backtest.Config {
	start, _ := time.Parse(dateLayout, s.Start)
	end, _ := time.Parse(dateLayout, s.End)

	var st strategy.Type
	switch strings.ToLower(s.Strategy) {
	case "diagonal":
		st = strategy.Diagonal
	case "double_calendar":
		st = strategy.DoubleCalendar
	default:
		st = strategy.Calendar
	}

	ot := strategy.Call
	if strings.EqualFold(s.OptionType, "put") {
		ot = strategy.Put
	}

	return backtest.Config{
		Underlying:     s.Underlying,
		Strategy:       st,
		OptionType:     ot,
		StrikeRule:     s.StrikeRule,
		FarStrikeRule:  s.FarStrikeRule,
		NearDTE:        s.NearDTE,
		FarDTE:         s.FarDTE,
		Start:          start,
		End:            end,
		AutoRoll:       s.AutoRoll,
		RollDaysBefore: s.RollDaysBefore,
		StrikePolicy:   roll.StrikePolicy(strings.ToLower(s.StrikePolicy)),
		Rate:           s.Rate,
		StrikeInterval: s.StrikeInterval,
	}
}
