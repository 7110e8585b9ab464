package api

import (
	"context"
	"time"

	"tradegate/internal/backtest"
	"tradegate/internal/copytrader"
	"tradegate/pkg/types"
)

// BotController is the scheduler surface the dashboard exposes.
type BotController interface {
	ListBots() []types.BotStatus
	GetBotStatus(id string) (types.BotStatus, bool)
	StartBot(ctx context.Context, id string) error
	StopBot(ctx context.Context, id string) error
	PauseBot(id string) error
	ResumeBot(id string) error
}

// TradeLog is the ledger surface the dashboard reads from.
type TradeLog interface {
	GetTrades(ctx context.Context, f types.TradeFilter) ([]types.Trade, error)
	GetStats(ctx context.Context, f types.TradeFilter) (types.TradeStats, error)
	GetDailyPnL(ctx context.Context, days int) ([]types.DailyPnL, error)
	ExportCSV(ctx context.Context, f types.TradeFilter) (string, error)
}

// WhaleSource provides tracked-whale state.
type WhaleSource interface {
	GetTopWhales(limit int) []types.WhaleProfile
	GetRecentTrades(limit int) []types.WhaleTrade
}

// CopySource provides copy-trading state.
type CopySource interface {
	OpenPositions() []types.CopiedTrade
	Stats() copytrader.Totals
}

// GatewaySnapshot is the aggregate dashboard state returned by
// GET /api/snapshot.
type GatewaySnapshot struct {
	Timestamp time.Time `json:"timestamp"`

	Bots     []types.BotStatus `json:"bots"`
	Stats    types.TradeStats  `json:"stats"`
	DailyPnL []types.DailyPnL  `json:"daily_pnl"`

	Whales        []types.WhaleProfile `json:"whales"`
	CopyPositions []types.CopiedTrade  `json:"copy_positions"`
	CopyTotals    copytrader.Totals    `json:"copy_totals"`

	EventsDropped uint64 `json:"events_dropped"`
}

// BacktestRecord is one completed backtest kept for the dashboard.
type BacktestRecord struct {
	Name       string                     `json:"name"`
	RanAt      time.Time                  `json:"ran_at"`
	Result     *backtest.Result           `json:"result"`
	MonteCarlo *backtest.MonteCarloResult `json:"monte_carlo,omitempty"`
}
