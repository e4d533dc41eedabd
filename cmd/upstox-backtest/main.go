// Command upstox-backtest runs multi-expiry option strategy backtests
// from YAML scenario files, sweeps parameter grids, previews spreads, and
// serves the engine over REST.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sheldcoop/upstox-backtest/internal/api"
	"github.com/sheldcoop/upstox-backtest/internal/backtest"
	"github.com/sheldcoop/upstox-backtest/internal/backtest/strategy"
	"github.com/sheldcoop/upstox-backtest/internal/config"
	"github.com/sheldcoop/upstox-backtest/internal/data"
	"github.com/sheldcoop/upstox-backtest/internal/logger"
	"github.com/sheldcoop/upstox-backtest/internal/pricing"
	"github.com/sheldcoop/upstox-backtest/internal/report"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		scenarioPath string
		verbosity    int
		logFile      string
	)

	root := &cobra.Command{
		Use:   "upstox-backtest",
		Short: "Multi-expiry options strategy backtesting engine",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.SetVerbosity(verbosity)
			logger.SetFile(logFile, 50, 3)
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&scenarioPath, "scenario", "s", "scenario.yaml", "path to YAML scenario")
	root.PersistentFlags().IntVarP(&verbosity, "verbosity", "v", 1, "0=error 1=info 2=debug 3=trace")
	root.PersistentFlags().StringVar(&logFile, "log-file", "", "optional rotating log file")

	viper.SetEnvPrefix("UPSTOX")
	viper.AutomaticEnv()
	_ = viper.BindPFlag("scenario", root.PersistentFlags().Lookup("scenario"))

	root.AddCommand(newRunCmd())
	root.AddCommand(newSweepCmd())
	root.AddCommand(newPreviewCmd())
	root.AddCommand(newServeCmd())
	return root
}

// loadScenario reads the scenario named by the --scenario flag or the
// UPSTOX_SCENARIO env var. config.Load applies the UPSTOX_ACCESS_TOKEN
// override before validating, so the file may omit the token.
func loadScenario() (*config.Scenario, error) {
	return config.Load(viper.GetString("scenario"))
}

func fetchSeries(sc *config.Scenario, cfg backtest.Config) ([]data.Quote, []time.Time, error) {
	prov := sc.NewProvider()
	quotes, err := prov.GetDailySeries(cfg.Underlying, cfg.Start, cfg.End)
	if err != nil {
		return nil, nil, fmt.Errorf("fetching series: %w", err)
	}
	expiries, err := prov.GetExpiries(cfg.Underlying, cfg.Start, cfg.End.AddDate(0, 3, 0))
	if err != nil {
		return nil, nil, fmt.Errorf("fetching expiries: %w", err)
	}
	return quotes, expiries, nil
}

func newRunCmd() *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a single backtest from the scenario file",
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := loadScenario()
			if err != nil {
				return err
			}
			cfg := sc.BacktestConfig()

			quotes, expiries, err := fetchSeries(sc, cfg)
			if err != nil {
				return err
			}

			started := time.Now()
			res, err := backtest.NewEngine(cfg).Run(quotes, expiries)
			if err != nil {
				return err
			}

			if err := os.MkdirAll(outDir, 0755); err != nil {
				return err
			}
			if err := report.WriteJSON(res, outDir); err != nil {
				return err
			}
			if err := report.WriteCSV(res, outDir); err != nil {
				return err
			}
			if err := report.WriteRollsCSV(res, outDir); err != nil {
				return err
			}

			logger.Infof("finished in %v: %d snapshots, %d rolls, pnl=%.2f, sharpe=%.2f (wrote %s)",
				time.Since(started), len(res.Snapshots), len(res.RollEvents),
				res.Summary.FinalPnL, res.Summary.SharpeRatio, outDir)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outDir, "out", "o", "./out", "output directory")
	return cmd
}

func newSweepCmd() *cobra.Command {
	var (
		rollDays    []int
		strategies  []string
		parallelism int
	)

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run a parameter sweep over roll thresholds and strategy types",
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := loadScenario()
			if err != nil {
				return err
			}
			base := sc.BacktestConfig()

			quotes, expiries, err := fetchSeries(sc, base)
			if err != nil {
				return err
			}

			var cfgs []backtest.Config
			for _, st := range strategies {
				for _, rd := range rollDays {
					rd := rd
					cfg := base
					cfg.Strategy = strategy.Type(strings.ToUpper(st))
					cfg.RollDaysBefore = &rd
					cfg.AutoRoll = true
					cfgs = append(cfgs, cfg)
				}
			}

			results, err := backtest.RunSweep(context.Background(), cfgs, quotes, expiries,
				backtest.SweepOptions{Parallelism: parallelism, Progress: true})
			if err != nil {
				return err
			}

			fmt.Println("strategy,roll_days_before,final_pnl,sharpe,max_drawdown,num_rolls")
			for i, res := range results {
				fmt.Printf("%s,%d,%.2f,%.2f,%.2f,%d\n",
					res.StrategyName, *cfgs[i].RollDaysBefore,
					res.Summary.FinalPnL, res.Summary.SharpeRatio,
					res.Summary.MaxDrawdown, res.Summary.NumRolls)
			}
			return nil
		},
	}

	cmd.Flags().IntSliceVar(&rollDays, "roll-days", []int{1, 3, 5}, "roll_days_before values to sweep")
	cmd.Flags().StringSliceVar(&strategies, "strategies", []string{"calendar", "double_calendar"}, "strategy types to sweep")
	cmd.Flags().IntVarP(&parallelism, "parallelism", "p", 0, "concurrent runs (0 = NumCPU)")
	return cmd
}

func newPreviewCmd() *cobra.Command {
	var (
		spot, strike, iv, rate float64
		nearStr, farStr        string
		optType                string
		double                 bool
	)

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Price a spread off today's inputs without backtesting",
		RunE: func(cmd *cobra.Command, args []string) error {
			near, err := time.Parse("2006-01-02", nearStr)
			if err != nil {
				return fmt.Errorf("invalid near expiry: %w", err)
			}
			far, err := time.Parse("2006-01-02", farStr)
			if err != nil {
				return fmt.Errorf("invalid far expiry: %w", err)
			}

			builder := strategy.NewBuilder(pricing.NewCalculator(pricing.DefaultBackend()))
			m := strategy.MarketInputs{
				Spot:    spot,
				NearVol: iv,
				FarVol:  iv,
				Rate:    rate,
				AsOf:    time.Now().UTC().Truncate(24 * time.Hour),
			}

			ot := strategy.Call
			if strings.EqualFold(optType, "put") {
				ot = strategy.Put
			}

			var st *strategy.MultiExpiryStrategy
			if double {
				st, err = builder.DoubleCalendar(m, "", strike, near, far)
			} else {
				st, err = builder.CalendarSpread(m, "", strike, near, far, ot)
			}
			if err != nil {
				return err
			}

			b, err := json.MarshalIndent(st, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(b))
			return nil
		},
	}

	cmd.Flags().Float64Var(&spot, "spot", 0, "underlying spot")
	cmd.Flags().Float64Var(&strike, "strike", 0, "strike")
	cmd.Flags().Float64Var(&iv, "iv", 0.20, "implied volatility")
	cmd.Flags().Float64Var(&rate, "rate", 0, "risk-free rate")
	cmd.Flags().StringVar(&nearStr, "near", "", "near expiry YYYY-MM-DD")
	cmd.Flags().StringVar(&farStr, "far", "", "far expiry YYYY-MM-DD")
	cmd.Flags().StringVar(&optType, "type", "call", "call or put")
	cmd.Flags().BoolVar(&double, "double", false, "build a double calendar")
	_ = cmd.MarkFlagRequired("spot")
	_ = cmd.MarkFlagRequired("strike")
	_ = cmd.MarkFlagRequired("near")
	_ = cmd.MarkFlagRequired("far")
	return cmd
}

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the engine over REST",
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := loadScenario()
			if err != nil {
				return err
			}
			return api.NewServer(sc.NewProvider()).ListenAndServe(addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	return cmd
}
