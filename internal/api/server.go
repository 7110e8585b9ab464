// Package api serves the operator dashboard: REST snapshots of bots,
// trades, whales, and backtests, plus a server-sent-event stream of the
// gateway's event bus.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"tradegate/internal/backtest"
	"tradegate/internal/events"
)

// keptBacktests bounds the in-memory backtest history.
const keptBacktests = 50

// Config holds the server's listen settings.
type Config struct {
	Port int
}

// Options collects the component surfaces the dashboard reads from. Nil
// fields disable their endpoints with 503 rather than panicking.
type Options struct {
	Bots   BotController
	Trades TradeLog
	Whales WhaleSource
	Copy   CopySource
	Bus    *events.Bus
	Logger *slog.Logger
}

// Server runs the dashboard HTTP API.
type Server struct {
	cfg    Config
	bots   BotController
	trades TradeLog
	whales WhaleSource
	copier CopySource
	bus    *events.Bus
	server *http.Server
	logger *slog.Logger

	mu        sync.RWMutex
	backtests []BacktestRecord
}

// NewServer wires the routes and returns a server ready to Start.
func NewServer(cfg Config, opts Options) *Server {
	s := &Server{
		cfg:    cfg,
		bots:   opts.Bots,
		trades: opts.Trades,
		whales: opts.Whales,
		copier: opts.Copy,
		bus:    opts.Bus,
		logger: opts.Logger.With("component", "api"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/snapshot", s.handleSnapshot)
	mux.HandleFunc("GET /api/bots", s.handleBots)
	mux.HandleFunc("GET /api/bots/{id}", s.handleBot)
	mux.HandleFunc("POST /api/bots/{id}/{action}", s.handleBotAction)
	mux.HandleFunc("GET /api/trades", s.handleTrades)
	mux.HandleFunc("GET /api/trades/export", s.handleExport)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/pnl/daily", s.handleDailyPnL)
	mux.HandleFunc("GET /api/whales", s.handleWhales)
	mux.HandleFunc("GET /api/whales/trades", s.handleWhaleTrades)
	mux.HandleFunc("GET /api/copytrader", s.handleCopyTrader)
	mux.HandleFunc("GET /api/backtests", s.handleBacktests)
	mux.HandleFunc("GET /api/stream", s.handleStream)

	s.server = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: the SSE stream holds its response open.
		IdleTimeout: 60 * time.Second,
	}
	return s
}

// Start serves until Stop is called. Blocks.
func (s *Server) Start() error {
	s.logger.Info("dashboard server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Stop drains in-flight requests and shuts the listener down.
func (s *Server) Stop() error {
	s.logger.Info("stopping dashboard server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// RecordBacktest keeps a completed backtest for the dashboard, newest
// first, bounded to the last keptBacktests runs.
func (s *Server) RecordBacktest(name string, result *backtest.Result, mc *backtest.MonteCarloResult) {
	rec := BacktestRecord{
		Name:       name,
		RanAt:      time.Now(),
		Result:     result,
		MonteCarlo: mc,
	}

	s.mu.Lock()
	s.backtests = append([]BacktestRecord{rec}, s.backtests...)
	if len(s.backtests) > keptBacktests {
		s.backtests = s.backtests[:keptBacktests]
	}
	s.mu.Unlock()
}

// Handler exposes the routed mux, used by tests.
func (s *Server) Handler() http.Handler { return s.server.Handler }
