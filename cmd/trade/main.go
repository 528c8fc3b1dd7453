package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/helix-lab/tradewind/internal/broker/live"
	"github.com/helix-lab/tradewind/internal/clock"
	"github.com/helix-lab/tradewind/internal/config"
	"github.com/helix-lab/tradewind/internal/data"
	"github.com/helix-lab/tradewind/internal/data/cache"
	"github.com/helix-lab/tradewind/internal/executor"
	"github.com/helix-lab/tradewind/internal/ledger"
	"github.com/helix-lab/tradewind/internal/logger"
	"github.com/helix-lab/tradewind/internal/stats"
	"github.com/helix-lab/tradewind/internal/strategy"
	"github.com/helix-lab/tradewind/internal/strategy/builtin"
	"github.com/helix-lab/tradewind/internal/trader"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
)

const shutdownTimeout = 10 * time.Second

// tradeAction runs one strategy against the paper venue until interrupted.
func tradeAction(ctx context.Context, cmd *cli.Command) error {
	// Credentials come from the environment, never from the config file.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	cfg, err := config.LoadTrade(cmd.String("config"))
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

	series, err := data.LoadBarsCSV(cfg.Vendor.Data, asset, cfg.Timestep)
	if err != nil {
		return err
	}

	store, err := cache.NewStore(cfg.CacheDir, appLog)
	if err != nil {
		return err
	}

	wall := clock.NewWallClock()
	provider := data.NewLiveProvider(data.NewCSVVendor(series), store, wall, appLog)

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

	led := ledger.New(strat.Name(), cfg.InitialCash, appLog)
	gateway := live.NewPaperGateway(provider, wall)

	var opts []live.Option

	if cfg.FeedURL != "" {
		creds := live.Credentials{
			APIKey:    os.Getenv("TRADEWIND_API_KEY"),
			APISecret: os.Getenv("TRADEWIND_API_SECRET"),
		}
		if err := creds.Validate(); err != nil {
			return err
		}

		header := http.Header{}
		header.Set("X-Api-Key", creds.APIKey)
		header.Set("X-Api-Secret", creds.APISecret)

		feed := live.NewFillFeed(cfg.FeedURL, header, appLog)
		opts = append(opts, live.WithFillFeed(feed))

		go feed.Run(ctx)
	}

	bkr := live.New(led, wall, gateway, appLog, opts...)
	bkr.Start(ctx)

	sctx := strategy.NewContext(wall, cal, bkr, provider, appLog)
	tracker := stats.NewTracker()

	exec := executor.New(strat, sctx, cal, tracker, execConfig, appLog,
		executor.WithSleeper(wall))

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := trader.New(appLog)
	runner.Add(&trader.Instance{
		Strategy: strat,
		Context:  sctx,
		Executor: exec,
		Ledger:   led,
		Tracker:  tracker,
	})
	runner.RunLive(runCtx)

	leftovers := bkr.Shutdown(shutdownTimeout)

	result, ok := runner.Result(strat.Name())
	if !ok {
		return fmt.Errorf("no result for %s", strat.Name())
	}

	fmt.Printf("%s stopped: state %s, cash %.2f, %d open orders after shutdown\n",
		result.Strategy, result.State, result.Cash, len(leftovers))

	return result.Err
}

// schemaAction prints the JSON schema for trade config files.
func schemaAction(ctx context.Context, cmd *cli.Command) error {
	out, err := config.GenerateSchemaJSON(&config.TradeConfig{},
		"trade-config", "Live trading run configuration")
	if err != nil {
		return err
	}

	fmt.Println(out)

	return nil
}

func main() {
	cmd := &cli.Command{
		Name:  "trade",
		Usage: "Run a strategy live against the paper venue",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "config",
				Aliases:  []string{"c"},
				Usage:    "Path to the trade config yaml",
				Required: true,
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
		Action: tradeAction,
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
