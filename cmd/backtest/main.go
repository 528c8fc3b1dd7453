package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/helix-lab/tradewind/internal/broker/backtest"
	"github.com/helix-lab/tradewind/internal/clock"
	"github.com/helix-lab/tradewind/internal/config"
	"github.com/helix-lab/tradewind/internal/data"
	"github.com/helix-lab/tradewind/internal/executor"
	"github.com/helix-lab/tradewind/internal/ledger"
	"github.com/helix-lab/tradewind/internal/logger"
	"github.com/helix-lab/tradewind/internal/stats"
	"github.com/helix-lab/tradewind/internal/strategy"
	"github.com/helix-lab/tradewind/internal/strategy/builtin"
	"github.com/helix-lab/tradewind/internal/trader"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"
)

// backtestAction runs one strategy over a bar file and writes the report.
func backtestAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.LoadBacktest(cmd.String("config"))
	if err != nil {
		return err
	}

	appLog, err := logger.NewLogger()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer appLog.Sync()

	asset, err := cfg.Asset.ToAsset()
	if err != nil {
		return err
	}

	cal, err := cfg.Venue.ToCalendar()
	if err != nil {
		return err
	}

	execConfig, err := cfg.Execution.ToExecutorConfig()
	if err != nil {
		return err
	}

	start, end, err := cfg.Window()
	if err != nil {
		return err
	}

	series, err := data.LoadBarsCSV(cfg.Data, asset, cfg.Timestep)
	if err != nil {
		return err
	}

	strat, err := builtin.NewMomentum(builtin.MomentumConfig{
		Asset:     asset,
		Timestep:  cfg.Timestep,
		Window:    int(cmd.Int("window")),
		Threshold: cmd.Float("threshold"),
		Quantity:  cmd.Float("quantity"),
	})
	if err != nil {
		return err
	}

	simClock := clock.NewSimulatedClock(start)
	led := ledger.New(strat.Name(), cfg.InitialCash, appLog)
	bkr := backtest.New(led, simClock, cfg.FeeModel(), appLog)
	provider := data.NewReplayProvider(simClock)
	provider.Load(series)

	sctx := strategy.NewContext(simClock, cal, bkr, provider, appLog)
	tracker := stats.NewTracker()

	bar := progressbar.Default(int64(series.Len()))
	bar.Describe(fmt.Sprintf("Backtesting %s on %s", strat.Name(), filepath.Base(cfg.Data)))

	// The hook replays every bar the clock jumps over into the broker, in
	// order, so resting orders match exactly as they would have live.
	cursor := 0
	hook := func(from, to time.Time) error {
		for cursor < series.Len() {
			next := series.At(cursor)
			if next.Time.After(to) {
				break
			}

			if next.Time.After(from) {
				if err := bkr.OnBar(asset, next); err != nil {
					return err
				}

				if err := bar.Add(1); err != nil {
					return err
				}
			}

			cursor++
		}

		return nil
	}

	exec := executor.New(strat, sctx, cal, tracker, execConfig, appLog,
		executor.WithSimulatedClock(simClock),
		executor.WithAdvanceHook(hook),
		executor.WithCloseHook(func(at time.Time) error {
			return bkr.ExpireDayOrders(ctx)
		}),
	)

	runner := trader.New(appLog)
	runner.Add(&trader.Instance{
		Strategy: strat,
		Context:  sctx,
		Executor: exec,
		Ledger:   led,
		Tracker:  tracker,
	})
	runner.RunBacktest(ctx, end)

	result, ok := runner.Result(strat.Name())
	if !ok {
		return fmt.Errorf("no result for %s", strat.Name())
	}

	if result.Err != nil {
		return result.Err
	}

	return writeReport(cmd.String("output"), led, tracker, result)
}

func writeReport(dir string, led *ledger.Ledger, tracker *stats.Tracker, result trader.Result) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	if err := led.ExportOrdersCSV(filepath.Join(dir, "orders.csv")); err != nil {
		return err
	}

	if err := led.ExportPositionsCSV(filepath.Join(dir, "positions.csv")); err != nil {
		return err
	}

	if err := tracker.ExportCSV(filepath.Join(dir, "equity.csv")); err != nil {
		return err
	}

	if err := tracker.WriteSummaryYAML(filepath.Join(dir, "summary.yaml")); err != nil {
		return err
	}

	fmt.Printf("\n%s finished: cash %.2f, return %.2f%%, max drawdown %.2f%%, %d orders\n",
		result.Strategy,
		result.Cash,
		result.Summary.TotalReturn*100,
		result.Summary.MaxDrawdown*100,
		len(result.Orders),
	)
	fmt.Printf("report written to %s\n", dir)

	return nil
}

// schemaAction prints the JSON schema for backtest config files.
func schemaAction(ctx context.Context, cmd *cli.Command) error {
	out, err := config.GenerateSchemaJSON(&config.BacktestConfig{},
		"backtest-config", "Backtest run configuration")
	if err != nil {
		return err
	}

	fmt.Println(out)

	return nil
}

func main() {
	cmd := &cli.Command{
		Name:  "backtest",
		Usage: "Replay a strategy over historical bars",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "config",
				Aliases:  []string{"c"},
				Usage:    "Path to the backtest config yaml",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Directory for the report files",
				Value:   "results",
			},
			&cli.IntFlag{
				Name:  "window",
				Usage: "Momentum lookback in bars",
				Value: 20,
			},
			&cli.FloatFlag{
				Name:  "threshold",
				Usage: "Entry threshold as a fractional return",
				Value: 0.002,
			},
			&cli.FloatFlag{
				Name:  "quantity",
				Usage: "Order size in units",
				Value: 10,
			},
		},
		Action: backtestAction,
		Commands: []*cli.Command{
			{
				Name:   "schema",
				Usage:  "Print the config file JSON schema",
				Action: schemaAction,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
