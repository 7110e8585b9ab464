// Package strategy defines the Strategy interface the scheduler and
// backtester drive, plus the built-in indicator strategies.
package strategy

import (
	"context"

	"tradegate/pkg/types"
)

// Strategy is one algorithmic trading strategy. Init and Cleanup bracket the
// running period; Evaluate is called once per scheduler tick (or per backtest
// step) with a fresh read-only context and returns zero or more signals.
//
// Evaluate must not retain the context or mutate anything reachable from it.
type Strategy interface {
	Config() types.StrategyConfig
	Init(ctx context.Context) error
	Evaluate(ctx context.Context, sctx *types.StrategyContext) ([]types.Signal, error)
	Cleanup() error
}

// Base carries the config and no-op lifecycle hooks shared by the built-in
// strategies.
type Base struct {
	cfg types.StrategyConfig
}

func NewBase(cfg types.StrategyConfig) Base {
	return Base{cfg: cfg}
}

func (b *Base) Config() types.StrategyConfig   { return b.cfg }
func (b *Base) Init(ctx context.Context) error { return nil }
func (b *Base) Cleanup() error                 { return nil }

// markets returns the market triples this strategy watches, the cross product
// of its venues and market ids.
func (b *Base) markets() []types.MarketKey {
	var out []types.MarketKey
	for _, venue := range b.cfg.Venues {
		for _, market := range b.cfg.Markets {
			out = append(out, types.MarketKey{Venue: venue, MarketID: market, Outcome: defaultOutcome})
		}
	}
	return out
}

const defaultOutcome = "YES"

// closes extracts the close-price series for one market from the context's
// bounded price history, oldest first.
func closes(sctx *types.StrategyContext, key types.MarketKey) []float64 {
	hist := sctx.PriceHistory[key.String()]
	if len(hist) == 0 {
		return nil
	}
	out := make([]float64, len(hist))
	for i, tick := range hist {
		out[i] = tick.Price
	}
	return out
}

// exitSignal checks the advisory stop-loss / take-profit thresholds against
// an open position and returns a close signal when one is crossed. The
// scheduler never enforces these itself; strategies own their exits.
func exitSignal(cfg types.StrategyConfig, pos types.Position) (types.Signal, bool) {
	if pos.Shares <= 0 || pos.AvgPrice <= 0 || pos.CurrentPrice <= 0 {
		return types.Signal{}, false
	}
	changePct := (pos.CurrentPrice - pos.AvgPrice) / pos.AvgPrice * 100

	var reason string
	switch {
	case cfg.StopLossPct > 0 && changePct <= -cfg.StopLossPct:
		reason = "stop_loss"
	case cfg.TakeProfitPct > 0 && changePct >= cfg.TakeProfitPct:
		reason = "take_profit"
	default:
		return types.Signal{}, false
	}
	return types.Signal{
		Type:     types.SignalClose,
		Venue:    pos.Key.Venue,
		MarketID: pos.Key.MarketID,
		Outcome:  pos.Key.Outcome,
		Size:     pos.Shares,
		Reason:   reason,
	}, true
}

// paramFloat reads a numeric strategy param, tolerating the types a decoded
// params bag can carry.
func paramFloat(params map[string]any, key string, fallback float64) float64 {
	v, ok := params[key]
	if !ok {
		return fallback
	}
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return fallback
}

func paramInt(params map[string]any, key string, fallback int) int {
	return int(paramFloat(params, key, float64(fallback)))
}
