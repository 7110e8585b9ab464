// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the trading gateway — trades,
// signals, strategy configuration, market metadata, ticks, and whale events.
// It has no dependencies on internal packages, so it can be imported by any
// layer.
package types

import (
	"fmt"
	"time"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Venue identifies an external prediction market or trading platform.
type Venue string

const (
	VenuePolymarket Venue = "polymarket"
	VenueKalshi     Venue = "kalshi"
	VenueManifold   Venue = "manifold"
)

// Side represents the direction of an order: buy or sell.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderKind enumerates the supported order styles.
type OrderKind string

const (
	OrderMarket OrderKind = "market"
	OrderLimit  OrderKind = "limit"
	OrderMaker  OrderKind = "maker" // post-only, rejected if it would cross
)

// TradeStatus is the lifecycle state of a trade record.
type TradeStatus string

const (
	StatusPending   TradeStatus = "pending"
	StatusPartial   TradeStatus = "partial"
	StatusFilled    TradeStatus = "filled"
	StatusCancelled TradeStatus = "cancelled"
	StatusFailed    TradeStatus = "failed"
)

// SignalType is a strategy's declared intent for one market triple.
type SignalType string

const (
	SignalBuy   SignalType = "buy"
	SignalSell  SignalType = "sell"
	SignalHold  SignalType = "hold"
	SignalClose SignalType = "close"
)

// BotState is the lifecycle state of a registered strategy.
type BotState string

const (
	BotStopped BotState = "stopped"
	BotRunning BotState = "running"
	BotPaused  BotState = "paused"
	BotError   BotState = "error"
)

// ————————————————————————————————————————————————————————————————————————
// Market identity
// ————————————————————————————————————————————————————————————————————————

// MarketKey is the canonical identity (venue, marketId, outcome) of a
// position. It is the primary key for positions and for aggregating trades.
type MarketKey struct {
	Venue    Venue  `json:"venue"`
	MarketID string `json:"market_id"`
	Outcome  string `json:"outcome"`
}

// String renders the key in "venue/marketId/outcome" form, used as a map key.
func (k MarketKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Venue, k.MarketID, k.Outcome)
}

// MarketMetadata describes a market as reported by its venue.
type MarketMetadata struct {
	Venue    Venue    `json:"venue"`
	ID       string   `json:"id"`
	Question string   `json:"question"`
	Slug     string   `json:"slug"`
	Outcomes []string `json:"outcomes"`

	Active          bool      `json:"active"`
	Closed          bool      `json:"closed"`
	AcceptingOrders bool      `json:"accepting_orders"`
	EndDate         time.Time `json:"end_date"`
	Liquidity       float64   `json:"liquidity"`
	Volume24h       float64   `json:"volume_24h"`

	BestBid        float64 `json:"best_bid"`
	BestAsk        float64 `json:"best_ask"`
	LastTradePrice float64 `json:"last_trade_price"`
	MinOrderSize   float64 `json:"min_order_size"`
	TickSize       float64 `json:"tick_size"`
}

// Tick is a single price observation for one market triple.
type Tick struct {
	Time     time.Time `json:"time"`
	Venue    Venue     `json:"venue"`
	MarketID string    `json:"market_id"`
	Outcome  string    `json:"outcome"`
	Price    float64   `json:"price"`
	Size     float64   `json:"size,omitempty"`
}

// Key returns the market triple this tick belongs to.
func (t Tick) Key() MarketKey {
	return MarketKey{Venue: t.Venue, MarketID: t.MarketID, Outcome: t.Outcome}
}

// PriceLevel is a single bid or ask level in an order book snapshot.
type PriceLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// OrderBookSnapshot is a point-in-time view of one market's order book.
// Bids are sorted descending by price, asks ascending.
type OrderBookSnapshot struct {
	Key       MarketKey    `json:"key"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp time.Time    `json:"timestamp"`
}

// MidPrice returns (bestBid+bestAsk)/2, or false if either side is empty.
func (b OrderBookSnapshot) MidPrice() (float64, bool) {
	if len(b.Bids) == 0 || len(b.Asks) == 0 {
		return 0, false
	}
	return (b.Bids[0].Price + b.Asks[0].Price) / 2, true
}

// ————————————————————————————————————————————————————————————————————————
// Trades
// ————————————————————————————————————————————————————————————————————————

// Trade is the authoritative record of one order intent and its fills.
// Created by the TradeLogger on intent placement and mutated only by it.
//
// Invariants: Filled <= Size; Status == filled implies Filled == Size;
// RealizedPnL is populated only when the trade is linked as an entry to an
// exit (ExitTradeID set) or is itself a linked exit.
type Trade struct {
	ID       string `json:"id"`
	Venue    Venue  `json:"venue"`
	MarketID string `json:"market_id"`
	Outcome  string `json:"outcome"`
	Question string `json:"question,omitempty"`

	Side      Side        `json:"side"`
	OrderKind OrderKind   `json:"order_kind"`
	Price     float64     `json:"price"`
	Size      float64     `json:"size"`
	Filled    float64     `json:"filled"`
	Cost      float64     `json:"cost"`
	Fees      float64     `json:"fees,omitempty"`
	Status    TradeStatus `json:"status"`

	StrategyID   string   `json:"strategy_id,omitempty"`
	StrategyName string   `json:"strategy_name,omitempty"`
	Tags         []string `json:"tags,omitempty"`

	EntryTradeID   string   `json:"entry_trade_id,omitempty"`
	ExitTradeID    string   `json:"exit_trade_id,omitempty"`
	RealizedPnL    *float64 `json:"realized_pnl,omitempty"`
	RealizedPnLPct *float64 `json:"realized_pnl_pct,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	FilledAt  *time.Time `json:"filled_at,omitempty"`

	Meta map[string]string `json:"meta,omitempty"`
}

// Key returns the market triple this trade belongs to.
func (t Trade) Key() MarketKey {
	return MarketKey{Venue: t.Venue, MarketID: t.MarketID, Outcome: t.Outcome}
}

// IsClosed reports whether realized P&L has been recorded on this trade.
func (t Trade) IsClosed() bool {
	return t.RealizedPnL != nil
}

// TradeFilter selects trades for queries. Zero values mean "no constraint";
// all set fields are combined conjunctively.
type TradeFilter struct {
	Venue      Venue
	MarketID   string
	Outcome    string
	StrategyID string
	Status     TradeStatus
	Side       Side
	From       time.Time
	To         time.Time
	Limit      int
	Offset     int
}

// Position is the derived holding for one market triple, recomputed from the
// open trade set. Never persisted as the source of truth.
type Position struct {
	Key          MarketKey `json:"key"`
	Shares       float64   `json:"shares"`
	AvgPrice     float64   `json:"avg_price"`
	CurrentPrice float64   `json:"current_price"`
}

// Value returns the mark-to-market value of the position.
func (p Position) Value() float64 {
	return p.Shares * p.CurrentPrice
}

// ————————————————————————————————————————————————————————————————————————
// Statistics
// ————————————————————————————————————————————————————————————————————————

// GroupStats is a per-venue or per-strategy breakdown within TradeStats.
type GroupStats struct {
	Trades  int     `json:"trades"`
	Wins    int     `json:"wins"`
	WinRate float64 `json:"win_rate"`
	PnL     float64 `json:"pnl"`
}

// TradeStats is derived performance analytics over a trade set. Win/loss
// counting considers only trades with a recorded realized P&L.
type TradeStats struct {
	TotalTrades  int     `json:"total_trades"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
	WinRate      float64 `json:"win_rate"` // percent
	TotalPnL     float64 `json:"total_pnl"`
	AvgPnL       float64 `json:"avg_pnl"`
	AvgWin       float64 `json:"avg_win"`
	AvgLoss      float64 `json:"avg_loss"`
	LargestWin   float64 `json:"largest_win"`
	LargestLoss  float64 `json:"largest_loss"`
	ProfitFactor float64 `json:"profit_factor"` // +Inf when no losses and at least one win
	TotalVolume  float64 `json:"total_volume"`
	TotalFees    float64 `json:"total_fees"`

	ByVenue    map[Venue]GroupStats  `json:"by_venue"`
	ByStrategy map[string]GroupStats `json:"by_strategy"`
}

// DailyPnL is one calendar day's summed realized P&L.
type DailyPnL struct {
	Date   string  `json:"date"` // YYYY-MM-DD in the store's timezone
	PnL    float64 `json:"pnl"`
	Trades int     `json:"trades"`
}

// ————————————————————————————————————————————————————————————————————————
// Strategies
// ————————————————————————————————————————————————————————————————————————

// StrategyConfig is the operator-supplied configuration for one strategy.
// ID is stable across restarts and is the registry key.
type StrategyConfig struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Venues      []Venue       `json:"venues"`
	Markets     []string      `json:"markets,omitempty"` // empty = all markets
	Interval    time.Duration `json:"interval"`

	MaxPositionSize float64 `json:"max_position_size,omitempty"`
	MaxExposure     float64 `json:"max_exposure,omitempty"`
	StopLossPct     float64 `json:"stop_loss_pct,omitempty"`   // advisory, read by strategies
	TakeProfitPct   float64 `json:"take_profit_pct,omitempty"` // advisory, read by strategies

	Enabled bool `json:"enabled"`
	DryRun  bool `json:"dry_run"`

	// Params is a free-form bag owned by the strategy that declares it.
	Params map[string]any `json:"params,omitempty"`
}

// Validate checks the invariants every registered config must satisfy.
func (c StrategyConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: strategy id is required", ErrInvalid)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("%w: strategy %q interval must be > 0", ErrInvalid, c.ID)
	}
	return nil
}

// Signal is a strategy's declared intent for one market triple on one
// evaluation. Transient; produced by strategies, consumed by the scheduler.
type Signal struct {
	Type     SignalType `json:"type"`
	Venue    Venue      `json:"venue"`
	MarketID string     `json:"market_id"`
	Outcome  string     `json:"outcome"`

	Price      float64 `json:"price,omitempty"`    // limit price, 0 = market
	Size       float64 `json:"size,omitempty"`     // absolute size in shares
	SizePct    float64 `json:"size_pct,omitempty"` // percent of portfolio value
	Confidence float64 `json:"confidence,omitempty"`
	Reason     string  `json:"reason,omitempty"`

	Meta map[string]string `json:"meta,omitempty"`
}

// Key returns the market triple this signal targets.
func (s Signal) Key() MarketKey {
	return MarketKey{Venue: s.Venue, MarketID: s.MarketID, Outcome: s.Outcome}
}

// BotStatus is the live state of one registered strategy.
type BotStatus struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	State       BotState  `json:"state"`
	TradesCount int       `json:"trades_count"`
	TotalPnL    float64   `json:"total_pnl"`
	WinRate     float64   `json:"win_rate"`
	StartedAt   time.Time `json:"started_at,omitzero"`
	LastCheck   time.Time `json:"last_check,omitzero"`
	LastSignal  *Signal   `json:"last_signal,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

// StrategyContext is the read-only snapshot a strategy sees on each
// evaluation. Maps are keyed by MarketKey.String().
type StrategyContext struct {
	PortfolioValue float64
	Balance        float64
	Positions      map[string]Position
	RecentTrades   []Trade
	Markets        map[string]MarketMetadata
	PriceHistory   map[string][]Tick
	Orderbook      *OrderBookSnapshot // only set when a backtest includes books
	Timestamp      time.Time
	IsBacktest     bool
}

// LastPrice returns the most recent observed price for a market triple,
// or false if no history is available.
func (c *StrategyContext) LastPrice(key MarketKey) (float64, bool) {
	hist := c.PriceHistory[key.String()]
	if len(hist) == 0 {
		return 0, false
	}
	return hist[len(hist)-1].Price, true
}

// ————————————————————————————————————————————————————————————————————————
// Execution
// ————————————————————————————————————————————————————————————————————————

// OrderSpec is the request handed to an ExecutionPort.
type OrderSpec struct {
	Venue         Venue     `json:"venue"`
	MarketID      string    `json:"market_id"`
	Outcome       string    `json:"outcome"`
	Side          Side      `json:"side"`
	Price         float64   `json:"price"`
	Size          float64   `json:"size"`
	OrderKind     OrderKind `json:"order_kind"`
	SlippageBound float64   `json:"slippage_bound,omitempty"`
}

// OrderResult is the venue's answer to a placement request. Venue and
// network failures during placement surface here rather than as errors.
type OrderResult struct {
	Success      bool    `json:"success"`
	OrderID      string  `json:"order_id,omitempty"`
	Status       string  `json:"status,omitempty"`
	FilledSize   float64 `json:"filled_size,omitempty"`
	AvgFillPrice float64 `json:"avg_fill_price,omitempty"`
	Error        string  `json:"error,omitempty"`
}

// PortfolioSnapshot is a point-in-time view of account value and holdings.
type PortfolioSnapshot struct {
	Value     float64    `json:"value"`
	Balance   float64    `json:"balance"`
	Positions []Position `json:"positions"`
}

// ————————————————————————————————————————————————————————————————————————
// Whales
// ————————————————————————————————————————————————————————————————————————

// WhaleTrade is a large trade observed on a venue's public feed.
type WhaleTrade struct {
	Timestamp time.Time `json:"timestamp"`
	MarketID  string    `json:"market_id"`
	Outcome   string    `json:"outcome"`
	Side      Side      `json:"side"`
	Price     float64   `json:"price"`
	Size      float64   `json:"size"`
	USDValue  float64   `json:"usd_value"`
	Maker     string    `json:"maker"`
	Taker     string    `json:"taker"`
	TxHash    string    `json:"tx_hash,omitempty"`
}

// WhalePosition is one tracked address's holding in one market outcome.
type WhalePosition struct {
	Address       string    `json:"address"`
	MarketID      string    `json:"market_id"`
	Outcome       string    `json:"outcome"`
	Size          float64   `json:"size"`
	AvgEntryPrice float64   `json:"avg_entry_price"`
	USDValue      float64   `json:"usd_value"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	LastUpdated   time.Time `json:"last_updated"`
}

// WhaleProfile aggregates what the tracker has observed about one address.
// WinRate and AvgReturn are derived from position closes the tracker itself
// observed; they stay zero until at least one close is seen.
type WhaleProfile struct {
	Address      string          `json:"address"`
	TotalValue   float64         `json:"total_value"`
	WinRate      float64         `json:"win_rate"`
	AvgReturn    float64         `json:"avg_return"`
	Positions    []WhalePosition `json:"positions"`
	RecentTrades []WhaleTrade    `json:"recent_trades"`
	FirstSeen    time.Time       `json:"first_seen"`
	LastActive   time.Time       `json:"last_active"`
}

// CopiedTrade is one whale trade the CopyTrader mirrored (or is about to).
type CopiedTrade struct {
	ID         string     `json:"id"`
	Original   WhaleTrade `json:"original"`
	CopiedAt   time.Time  `json:"copied_at"`
	Side       Side       `json:"side"`
	Size       float64    `json:"size"`
	EntryPrice float64    `json:"entry_price"`
	ExitPrice  float64    `json:"exit_price,omitempty"`
	Status     string     `json:"status"` // pending | open | closed | failed
	PnL        float64    `json:"pnl"`
	OrderID    string     `json:"order_id,omitempty"`
	// TradeID is the ledger record backing the copy entry order.
	TradeID string `json:"trade_id,omitempty"`
}
