package report

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheldcoop/upstox-backtest/internal/backtest"
	"github.com/sheldcoop/upstox-backtest/internal/backtest/strategy"
	"github.com/sheldcoop/upstox-backtest/internal/data"
)

func sampleResult(t *testing.T) *backtest.Result {
	t.Helper()
	cfg := backtest.Config{
		Underlying: "NIFTY",
		Strategy:   strategy.Calendar,
		Start:      mustDate("2026-02-02"),
		End:        mustDate("2026-02-27"),
		NearDTE:    7,
		FarDTE:     28,
		AutoRoll:   true,
	}

	var quotes []data.Quote
	for cur := cfg.Start; !cur.After(cfg.End); cur = cur.AddDate(0, 0, 1) {
		if cur.Weekday() == time.Saturday || cur.Weekday() == time.Sunday {
			continue
		}
		quotes = append(quotes, data.Quote{Date: cur, Close: 21800, IV: 0.20})
	}
	var expiries []time.Time
	for cur := cfg.Start; !cur.After(mustDate("2026-05-28")); cur = cur.AddDate(0, 0, 1) {
		if cur.Weekday() == time.Thursday {
			expiries = append(expiries, cur)
		}
	}

	res, err := backtest.NewEngine(cfg).Run(quotes, expiries)
	require.NoError(t, err)
	require.NotEmpty(t, res.Snapshots)
	require.NotEmpty(t, res.RollEvents)
	return res
}

func mustDate(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestWriteJSON(t *testing.T) {
	res := sampleResult(t)
	dir := t.TempDir()

	require.NoError(t, WriteJSON(res, dir))

	b, err := os.ReadFile(filepath.Join(dir, "result.json"))
	require.NoError(t, err)

	var back backtest.Result
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, res.RunID, back.RunID)
	assert.Len(t, back.Snapshots, len(res.Snapshots))
	assert.Len(t, back.RollEvents, len(res.RollEvents))
}

func TestWriteCSV(t *testing.T) {
	res := sampleResult(t)
	dir := t.TempDir()

	require.NoError(t, WriteCSV(res, dir))

	f, err := os.Open(filepath.Join(dir, "snapshots.csv"))
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, len(res.Snapshots)+1)
	assert.Equal(t, "date", rows[0][0])
	assert.Equal(t, res.Snapshots[0].Date.Format("2006-01-02"), rows[1][0])
}

func TestWriteRollsCSV(t *testing.T) {
	res := sampleResult(t)
	dir := t.TempDir()

	require.NoError(t, WriteRollsCSV(res, dir))

	f, err := os.Open(filepath.Join(dir, "rolls.csv"))
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, len(res.RollEvents)+1)
	assert.Equal(t, "trigger_date", rows[0][0])
}

func TestMoney(t *testing.T) {
	assert.Equal(t, "21800.5", money(21800.50))
	assert.Equal(t, "0.1", money(0.1))
	assert.Equal(t, "123.46", money(123.456))
	assert.Equal(t, "-7.35", money(-7.345))
	assert.Equal(t, "0", money(0))
}
