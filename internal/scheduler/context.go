package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"tradegate/internal/ledger"
	"tradegate/internal/ports"
	"tradegate/pkg/ring"
	"tradegate/pkg/types"
)

// recentTradeCap bounds the trade history handed to a strategy per tick.
const recentTradeCap = 100

// feed accumulates bounded per-market price history from venue
// subscriptions and hands out snapshots for strategy contexts.
type feed struct {
	md     ports.MarketDataPort
	logger *slog.Logger
	cap    int

	mu      sync.RWMutex
	history map[string]*ring.Buffer[types.Tick]
	subbed  map[string]bool
}

func newFeed(md ports.MarketDataPort, historyCap int, logger *slog.Logger) *feed {
	if historyCap <= 0 {
		historyCap = 500
	}
	return &feed{
		md:      md,
		logger:  logger,
		cap:     historyCap,
		history: make(map[string]*ring.Buffer[types.Tick]),
		subbed:  make(map[string]bool),
	}
}

// track subscribes to trade events for every market a strategy watches.
// Subscribing twice to the same market is a no-op.
func (f *feed) track(ctx context.Context, cfg types.StrategyConfig) {
	for _, venue := range cfg.Venues {
		for _, marketID := range cfg.Markets {
			key := string(venue) + "/" + marketID

			f.mu.Lock()
			already := f.subbed[key]
			f.subbed[key] = true
			f.mu.Unlock()
			if already {
				continue
			}

			if err := f.md.SubscribeTrades(ctx, marketID, f.observe); err != nil {
				f.logger.Warn("trade subscription failed", "venue", venue, "market", marketID, "error", err)
				f.mu.Lock()
				delete(f.subbed, key)
				f.mu.Unlock()
			}
		}
	}
}

func (f *feed) observe(tick types.Tick) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := tick.Key().String()
	buf, ok := f.history[key]
	if !ok {
		buf = ring.New[types.Tick](f.cap)
		f.history[key] = buf
	}
	buf.Push(tick)
}

// snapshot returns oldest-first price history for the given market keys.
func (f *feed) snapshot(keys []types.MarketKey) map[string][]types.Tick {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make(map[string][]types.Tick, len(keys))
	for _, key := range keys {
		if buf, ok := f.history[key.String()]; ok {
			out[key.String()] = buf.Snapshot()
		}
	}
	return out
}

// lastPrice returns the most recent observed price for a market, or false.
func (f *feed) lastPrice(key types.MarketKey) (float64, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	buf, ok := f.history[key.String()]
	if !ok {
		return 0, false
	}
	tick, ok := buf.Last()
	if !ok {
		return 0, false
	}
	return tick.Price, true
}

// contextBuilder assembles the read-only snapshot a strategy sees per tick.
type contextBuilder struct {
	portfolio ports.PortfolioProvider
	ledger    *ledger.Logger
	md        ports.MarketDataPort
	feed      *feed
	logger    *slog.Logger
}

func (b *contextBuilder) build(ctx context.Context, cfg types.StrategyConfig, keys []types.MarketKey, now time.Time) (*types.StrategyContext, error) {
	sctx := &types.StrategyContext{
		Positions:    make(map[string]types.Position),
		Markets:      make(map[string]types.MarketMetadata),
		PriceHistory: b.feed.snapshot(keys),
		Timestamp:    now,
	}

	snap, err := b.portfolio.Snapshot(ctx)
	if err != nil {
		// Portfolio failures degrade the context rather than skipping the
		// tick; sizePct signals will be rejected downstream.
		b.logger.Warn("portfolio snapshot failed", "strategy", cfg.ID, "error", err)
	} else {
		sctx.PortfolioValue = snap.Value
		sctx.Balance = snap.Balance
		for _, pos := range snap.Positions {
			sctx.Positions[pos.Key.String()] = pos
		}
	}

	trades, err := b.ledger.GetTrades(ctx, types.TradeFilter{StrategyID: cfg.ID, Limit: recentTradeCap})
	if err != nil {
		return nil, err
	}
	sctx.RecentTrades = trades

	for _, key := range keys {
		md, err := b.md.GetMarket(ctx, key.Venue, key.MarketID)
		if err != nil || md == nil {
			continue
		}
		sctx.Markets[key.String()] = *md

		// Patch live positions with the latest observed price.
		if pos, ok := sctx.Positions[key.String()]; ok {
			if price, ok := b.feed.lastPrice(key); ok {
				pos.CurrentPrice = price
				sctx.Positions[key.String()] = pos
			}
		}
	}
	return sctx, nil
}
