// Package ports defines the seams between the trading control plane and its
// external collaborators: venue market data, venue execution, portfolio
// valuation, chain position queries, and the persistent trade store.
//
// Venue adapters implement these interfaces; the scheduler, whale tracker,
// copy trader, and backtest engine consume them. The backtest engine swaps
// in simulated MarketData/Execution implementations and everything else is
// reused unchanged.
package ports

import (
	"context"

	"tradegate/pkg/types"
)

// MarketDataPort is the read side of a venue: subscriptions deliver events
// in venue timestamp order and may contain duplicates, which consumers must
// tolerate.
type MarketDataPort interface {
	SubscribeTrades(ctx context.Context, marketID string, cb func(types.Tick)) error
	SubscribeOrderbook(ctx context.Context, marketID string, cb func(types.OrderBookSnapshot)) error
	GetMarket(ctx context.Context, venue types.Venue, marketID string) (*types.MarketMetadata, error)
	GetPrice(ctx context.Context, venue types.Venue, marketID string) (float64, bool)
}

// ExecutionPort is the write side of a venue. Upstream rejections surface in
// the OrderResult; transport errors are returned as errors.
type ExecutionPort interface {
	PlaceOrder(ctx context.Context, spec types.OrderSpec) (types.OrderResult, error)
	CancelOrder(ctx context.Context, orderID string) (bool, error)
	GetOrderStatus(ctx context.Context, orderID string) (types.OrderResult, error)
}

// PortfolioProvider values the account once per strategy tick.
type PortfolioProvider interface {
	Snapshot(ctx context.Context) (types.PortfolioSnapshot, error)
}

// TradeStore is keyed CRUD over trade records, indexed for the filters the
// ledger issues. All ledger writes pass through here.
type TradeStore interface {
	Insert(ctx context.Context, trade types.Trade) error
	Update(ctx context.Context, trade types.Trade) error
	Get(ctx context.Context, id string) (*types.Trade, error)
	Query(ctx context.Context, filter types.TradeFilter) ([]types.Trade, error)
	DailyPnL(ctx context.Context, days int) ([]types.DailyPnL, error)
	Delete(ctx context.Context, ids []string) error
	Close() error
}
