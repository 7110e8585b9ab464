// Tradegate — a multi-venue prediction-market trading gateway.
//
// Architecture:
//
//	main.go                 — entry point: loads config, wires components, waits for SIGINT/SIGTERM
//	scheduler/scheduler.go  — bot manager: runs registered strategies on their intervals
//	scheduler/riskgate.go   — sizes, clamps, and dispatches strategy signals to the venue
//	strategy/               — built-in indicator strategies (RSI mean reversion, SMA momentum)
//	venue/polymarket/       — CLOB adapter: REST + WebSocket market data and order execution
//	ledger/logger.go        — trade ledger: records, fills, links, and aggregates trades
//	portfolio/portfolio.go  — values the account from filled trades plus live marks
//	whale/tracker.go        — follows large traders via the live-data feed and data API
//	copytrader/             — mirrors tracked whale trades through the risk-sized executor
//	swarm/executor.go       — fans Solana trade intents across many signing wallets
//	backtest/engine.go      — replays recorded ticks through strategies, Monte Carlo on top
//	api/server.go           — operator dashboard: REST snapshot plus SSE event stream
//	store/sqlite.go         — SQLite persistence for trades, ticks, and strategy configs
//
// Components are opt-in: the venue adapter, whale tracker, copy trader,
// swarm executor, and dashboard each start only when enabled in config, and
// the dashboard serves 503 for anything left unwired.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/robfig/cron/v3"

	"tradegate/internal/api"
	"tradegate/internal/backtest"
	"tradegate/internal/config"
	"tradegate/internal/copytrader"
	"tradegate/internal/events"
	"tradegate/internal/ledger"
	"tradegate/internal/portfolio"
	"tradegate/internal/ports"
	"tradegate/internal/scheduler"
	"tradegate/internal/store"
	"tradegate/internal/strategy"
	"tradegate/internal/swarm"
	"tradegate/internal/venue/polymarket"
	"tradegate/internal/whale"
	"tradegate/pkg/types"
)

func main() {
	// Load config
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("TG_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Set up logger
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	if err := run(cfg, logger); err != nil {
		logger.Error("gateway failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	bus := events.NewBus(cfg.Events.BufferSize, logger)
	led := ledger.New(st, bus, logger)

	// Venue adapter
	var adapter *polymarket.Adapter
	if cfg.Venue.Enabled {
		adapter, err = polymarket.New(polymarket.Config{
			CLOBBaseURL:   cfg.Venue.CLOBBaseURL,
			GammaBaseURL:  cfg.Venue.GammaBaseURL,
			WSMarketURL:   cfg.Venue.WSMarketURL,
			WSUserURL:     cfg.Venue.WSUserURL,
			PrivateKey:    cfg.Venue.PrivateKey,
			SignatureType: cfg.Venue.SignatureType,
			FunderAddress: cfg.Venue.FunderAddress,
			ChainID:       cfg.Venue.ChainID,
			ApiKey:        cfg.Venue.ApiKey,
			Secret:        cfg.Venue.Secret,
			Passphrase:    cfg.Venue.Passphrase,
		}, logger)
		if err != nil {
			return fmt.Errorf("create venue adapter: %w", err)
		}
		adapter.OnFill(func(orderID string, price, size float64) {
			logger.Info("venue fill", "order_id", orderID, "price", price, "size", size)
			bus.Publish(events.TopicTradeFilled, map[string]any{
				"orderId": orderID, "price": price, "size": size,
			})
		})
		if err := adapter.Start(ctx); err != nil {
			return fmt.Errorf("start venue adapter: %w", err)
		}
		defer adapter.Stop()
	}

	var md ports.MarketDataPort
	if adapter != nil {
		md = adapter
	}
	port := portfolio.New(portfolio.Config{InitialBalance: cfg.Portfolio.InitialBalance}, led, md, logger)

	// Scheduler needs a venue to trade against.
	var sched *scheduler.Scheduler
	if adapter != nil {
		// Live ticks also feed the recorder so backtests can replay them.
		recording := backtest.NewRecordingMarketData(adapter, st, logger)
		sched = scheduler.New(scheduler.Options{
			MarketData:       recording,
			Execution:        adapter,
			Portfolio:        port,
			Ledger:           led,
			Configs:          st,
			Bus:              bus,
			Logger:           logger,
			PriceHistorySize: cfg.Scheduler.PriceHistorySize,
		})
		if err := restoreStrategies(ctx, sched, st, cfg.DryRun, logger); err != nil {
			return fmt.Errorf("restore strategies: %w", err)
		}
	}

	// Whale tracker
	var tracker *whale.Tracker
	if cfg.Whale.Enabled {
		feed := whale.NewWSFeed(cfg.Whale.FeedURL, logger)
		fetcher := whale.NewDataAPIFetcher(cfg.Whale.DataAPIURL, logger)
		tracker = whale.NewTracker(whale.Config{
			MinTradeSize:    cfg.Whale.MinTradeSize,
			MinPositionSize: cfg.Whale.MinPositionSize,
			PollInterval:    cfg.Whale.PollInterval,
			ReconnectDelay:  cfg.Whale.ReconnectDelay,
			RecentTradeCap:  cfg.Whale.RecentTradeCap,
		}, feed, fetcher, bus, logger)
		for _, addr := range cfg.Whale.TrackAddresses {
			tracker.TrackAddress(addr)
		}
		tracker.Start(ctx)
		defer tracker.Stop()
	}

	// Copy trader mirrors whale trades seen on the bus.
	var copier *copytrader.Trader
	if cfg.CopyTrader.Enabled {
		if adapter == nil {
			return fmt.Errorf("copy trading requires the venue adapter (set venue.enabled)")
		}
		copier = copytrader.New(copytrader.Config{
			Venue:                types.VenuePolymarket,
			FollowAddresses:      cfg.CopyTrader.FollowAddresses,
			ExcludedMarkets:      cfg.CopyTrader.ExcludedMarkets,
			MinTradeSize:         cfg.CopyTrader.MinTradeSize,
			MaxPositionSize:      cfg.CopyTrader.MaxPositionSize,
			SizingMode:           cfg.CopyTrader.SizingMode,
			FixedSize:            cfg.CopyTrader.FixedSize,
			ProportionMultiplier: cfg.CopyTrader.ProportionMultiplier,
			PortfolioPercentage:  cfg.CopyTrader.PortfolioPercentage,
			CopyDelay:            cfg.CopyTrader.CopyDelay,
			MaxSlippagePct:       cfg.CopyTrader.MaxSlippagePct,
			StopLossPct:          cfg.CopyTrader.StopLossPct,
			TakeProfitPct:        cfg.CopyTrader.TakeProfitPct,
			WatchInterval:        cfg.CopyTrader.WatchInterval,
		}, adapter, adapter, port, led, bus, logger)
		copier.Start(ctx)
		defer copier.Stop()
	}

	// Swarm executor
	var executor *swarm.Executor
	if cfg.Swarm.Enabled {
		executor, err = buildSwarm(cfg.Swarm, bus, logger)
		if err != nil {
			return fmt.Errorf("build swarm: %w", err)
		}
		defer executor.Stop()
	}

	// Dashboard
	var apiServer *api.Server
	if cfg.API.Enabled {
		srvOpts := api.Options{Bus: bus, Trades: led, Logger: logger}
		if sched != nil {
			srvOpts.Bots = sched
		}
		if tracker != nil {
			srvOpts.Whales = tracker
		}
		if copier != nil {
			srvOpts.Copy = copier
		}
		apiServer = api.NewServer(api.Config{Port: cfg.API.Port}, srvOpts)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("dashboard server failed", "error", err)
			}
		}()
		logger.Info("dashboard started", "url", fmt.Sprintf("http://localhost:%d", cfg.API.Port))
	}

	// Maintenance cron
	var jobs *cron.Cron
	if cfg.Maintenance.CleanupSchedule != "" {
		jobs = cron.New()
		_, err := jobs.AddFunc(cfg.Maintenance.CleanupSchedule, func() {
			cctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			n, err := led.Cleanup(cctx, cfg.Maintenance.RetentionDays)
			if err != nil {
				logger.Error("ledger cleanup failed", "error", err)
				return
			}
			logger.Info("ledger cleanup done", "deleted", n, "retention_days", cfg.Maintenance.RetentionDays)

			if stats, err := led.GetStats(cctx, types.TradeFilter{}); err == nil {
				logger.Info("ledger stats",
					"total_trades", stats.TotalTrades,
					"win_rate", stats.WinRate,
					"total_pnl", stats.TotalPnL,
				)
			}
		})
		if err != nil {
			return fmt.Errorf("schedule cleanup: %w", err)
		}
		jobs.Start()
	}

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}

	logger.Info("tradegate started",
		"venue", cfg.Venue.Enabled,
		"whale_tracking", cfg.Whale.Enabled,
		"copy_trading", cfg.CopyTrader.Enabled,
		"swarm", cfg.Swarm.Enabled,
		"dry_run", cfg.DryRun,
	)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	// Stop the outer surfaces first, then the trading loops, then the venue.
	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			logger.Error("failed to stop dashboard", "error", err)
		}
	}
	if jobs != nil {
		<-jobs.Stop().Done()
	}
	if sched != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		sched.Shutdown(shutdownCtx)
		cancel()
	}
	if adapter != nil {
		cancelCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := adapter.CancelAll(cancelCtx); err != nil {
			logger.Error("failed to cancel open orders", "error", err)
		}
		cancel()
	}
	return nil
}

// restoreStrategies re-registers every persisted strategy config. The
// "kind" param names the implementation; unknown kinds are skipped with a
// warning so one bad row cannot block startup.
func restoreStrategies(ctx context.Context, sched *scheduler.Scheduler, st *store.SQLite, forceDryRun bool, logger *slog.Logger) error {
	configs, err := st.LoadStrategyConfigs(ctx)
	if err != nil {
		return err
	}
	for _, sc := range configs {
		if forceDryRun {
			sc.DryRun = true
		}
		var strat strategy.Strategy
		switch kind, _ := sc.Params["kind"].(string); kind {
		case "rsi":
			strat, err = strategy.NewRSIMeanReversion(sc)
		case "sma":
			strat, err = strategy.NewSMAMomentum(sc)
		default:
			logger.Warn("skipping strategy with unknown kind", "id", sc.ID, "kind", sc.Params["kind"])
			continue
		}
		if err != nil {
			logger.Warn("skipping invalid strategy config", "id", sc.ID, "error", err)
			continue
		}
		if err := sched.Register(ctx, strat); err != nil {
			return err
		}
	}
	return nil
}

// buildSwarm wires the Solana ports and loads the wallet set.
func buildSwarm(cfg config.SwarmConfig, bus *events.Bus, logger *slog.Logger) (*swarm.Executor, error) {
	chain := swarm.NewRPCChain(cfg.RPCEndpoint)
	sender := swarm.NewRPCSender(cfg.RPCEndpoint)
	builder := swarm.NewJupiterBuilder(cfg.JupiterURL, cfg.RPCEndpoint, cfg.SlippageBps, logger)
	bundles := swarm.NewJitoEndpoint(cfg.JitoURL, logger)

	executor := swarm.New(swarm.Config{
		MinSolBalance:   cfg.MinSolBalance,
		BundlingEnabled: cfg.BundlingEnabled,
		TipLamports:     cfg.TipLamports,
		RateLimit:       cfg.RateLimit,
		StaggerMax:      cfg.StaggerMax,
		ConfirmTimeout:  cfg.ConfirmTimeout,
		RefreshDelay:    cfg.RefreshDelay,
	}, chain, builder, sender, bundles, bus, logger)

	for i, raw := range cfg.WalletKeys {
		key, err := solana.PrivateKeyFromBase58(raw)
		if err != nil {
			return nil, fmt.Errorf("wallet %d: %w", i+1, err)
		}
		w := swarm.Wallet{ID: fmt.Sprintf("w%d", i+1), Key: key, Enabled: true}
		if err := executor.AddWallet(w); err != nil {
			return nil, err
		}
	}
	return executor, nil
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
