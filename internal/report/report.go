// Package report writes backtest results to disk as JSON and CSV.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"

	"github.com/sheldcoop/upstox-backtest/internal/backtest"
)

// WriteJSON writes the full result, indentation included, to
// <outdir>/result.json.
func WriteJSON(res *backtest.Result, outdir string) error {
	b, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(outdir, "result.json"), b, 0644)
}

// WriteCSV writes the daily snapshot series to <outdir>/snapshots.csv.
// Monetary columns round to two decimals.
func WriteCSV(res *backtest.Result, outdir string) error {
	f, err := os.Create(filepath.Join(outdir, "snapshots.csv"))
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	headers := []string{"date", "underlying_price", "implied_vol", "delta", "gamma", "theta", "vega", "mark_to_market", "cumulative_pnl", "cumulative_roll_cost"}
	if err := w.Write(headers); err != nil {
		return err
	}

	for _, s := range res.Snapshots {
		row := []string{
			s.Date.Format("2006-01-02"),
			money(s.UnderlyingPrice),
			fmt.Sprintf("%.4f", s.ImpliedVol),
			fmt.Sprintf("%.4f", s.PortfolioGreeks.Delta),
			fmt.Sprintf("%.6f", s.PortfolioGreeks.Gamma),
			fmt.Sprintf("%.4f", s.PortfolioGreeks.Theta),
			fmt.Sprintf("%.4f", s.PortfolioGreeks.Vega),
			money(s.MarkToMarket),
			money(s.CumulativePnL),
			money(s.CumulativeRollCost),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

// WriteRollsCSV writes the roll log to <outdir>/rolls.csv.
func WriteRollsCSV(res *backtest.Result, outdir string) error {
	f, err := os.Create(filepath.Join(outdir, "rolls.csv"))
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	headers := []string{"trigger_date", "closed_strike", "closed_expiry", "opened_strike", "opened_expiry", "exit_value", "realized_pnl", "roll_cost"}
	if err := w.Write(headers); err != nil {
		return err
	}

	for _, ev := range res.RollEvents {
		row := []string{
			ev.TriggerDate.Format("2006-01-02"),
			money(ev.ClosedLeg.Strike),
			ev.ClosedLeg.Expiry.Format("2006-01-02"),
			money(ev.OpenedLeg.Strike),
			ev.OpenedLeg.Expiry.Format("2006-01-02"),
			money(ev.ExitValue),
			money(ev.RealizedPnL),
			money(ev.RollCost),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

// money renders a monetary value rounded to two decimal places without
// float formatting artifacts.
func money(v float64) string {
	return decimal.NewFromFloat(v).Round(2).String()
}
