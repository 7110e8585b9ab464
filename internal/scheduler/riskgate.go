package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"tradegate/internal/events"
	"tradegate/internal/ledger"
	"tradegate/internal/ports"
	"tradegate/pkg/types"
)

// Skip reasons the gate annotates on rejected signals.
const (
	skipNoPortfolioValue = "no_portfolio_value"
	skipExposureExceeded = "exposure_exceeded"
	skipNoPrice          = "no_price"
)

// SkippedSignal is the payload of a tradeSkipped event.
type SkippedSignal struct {
	StrategyID string       `json:"strategy_id"`
	Signal     types.Signal `json:"signal"`
	Reason     string       `json:"reason"`
}

// riskGate sits between strategy signals and the execution port. It resolves
// sizing, clamps per-signal caps, enforces portfolio exposure, and handles
// dry-run short-circuiting. Every order it approves is logged through the
// ledger before it touches the venue.
type riskGate struct {
	ledger *ledger.Logger
	exec   ports.ExecutionPort
	bus    *events.Bus
	logger *slog.Logger
}

// dispatch routes one non-hold signal. It returns the resulting trade record,
// or nil with a reason when the signal was skipped.
func (g *riskGate) dispatch(ctx context.Context, cfg types.StrategyConfig, sctx *types.StrategyContext, sig types.Signal) (*types.Trade, string, error) {
	price := sig.Price
	if price <= 0 {
		if last, ok := sctx.LastPrice(sig.Key()); ok {
			price = last
		}
	}
	if price <= 0 {
		g.skip(cfg.ID, sig, skipNoPrice)
		return nil, skipNoPrice, nil
	}

	size := sig.Size
	clamped := false
	if size <= 0 && sig.SizePct > 0 {
		if sctx.PortfolioValue <= 0 {
			g.skip(cfg.ID, sig, skipNoPortfolioValue)
			return nil, skipNoPortfolioValue, nil
		}
		size = sctx.PortfolioValue * sig.SizePct / 100 / price
	}
	if size <= 0 {
		return nil, "", fmt.Errorf("%w: signal has no size", types.ErrInvalid)
	}
	if cfg.MaxPositionSize > 0 && size > cfg.MaxPositionSize {
		size = cfg.MaxPositionSize
		clamped = true
	}

	side := types.SideBuy
	if sig.Type == types.SignalSell || sig.Type == types.SignalClose {
		side = types.SideSell
	}

	if side == types.SideBuy && cfg.MaxExposure > 0 {
		var exposure float64
		for _, pos := range sctx.Positions {
			exposure += pos.Value()
		}
		if exposure+size*price > cfg.MaxExposure {
			g.skip(cfg.ID, sig, skipExposureExceeded)
			return nil, skipExposureExceeded, nil
		}
	}

	kind := types.OrderMarket
	if sig.Price > 0 {
		kind = types.OrderLimit
	}
	intent := types.Trade{
		Venue:        sig.Venue,
		MarketID:     sig.MarketID,
		Outcome:      sig.Outcome,
		Side:         side,
		OrderKind:    kind,
		Price:        price,
		Size:         size,
		StrategyID:   cfg.ID,
		StrategyName: cfg.Name,
		Meta:         map[string]string{},
	}
	if sig.Reason != "" {
		intent.Meta["signalReason"] = sig.Reason
	}
	if clamped {
		intent.Meta["clamped"] = "true"
	}

	if cfg.DryRun {
		return g.dryRun(ctx, intent)
	}

	logged, err := g.ledger.LogTrade(ctx, intent)
	if err != nil {
		return nil, "", err
	}

	result, err := g.exec.PlaceOrder(ctx, types.OrderSpec{
		Venue:     sig.Venue,
		MarketID:  sig.MarketID,
		Outcome:   sig.Outcome,
		Side:      side,
		Price:     price,
		Size:      size,
		OrderKind: kind,
	})
	if err != nil {
		g.bus.Publish(events.TopicError, err)
		if _, ferr := g.ledger.MarkFailed(ctx, logged.ID, err.Error()); ferr != nil {
			return nil, "", ferr
		}
		return &logged, "", fmt.Errorf("%w: place order: %v", types.ErrNetwork, err)
	}
	if !result.Success {
		if _, ferr := g.ledger.MarkFailed(ctx, logged.ID, result.Error); ferr != nil {
			return nil, "", ferr
		}
		return &logged, "", fmt.Errorf("%w: %s", types.ErrVenue, result.Error)
	}

	if result.FilledSize > 0 {
		fillPrice := result.AvgFillPrice
		if fillPrice <= 0 {
			fillPrice = price
		}
		filled, err := g.ledger.FillTrade(ctx, logged.ID, fillPrice, result.FilledSize, 0)
		if err != nil {
			return nil, "", err
		}
		return filled, "", nil
	}
	return &logged, "", nil
}

// dryRun records a synthetic filled trade without touching the venue.
func (g *riskGate) dryRun(ctx context.Context, intent types.Trade) (*types.Trade, string, error) {
	intent.Meta["dryRun"] = "true"
	logged, err := g.ledger.LogTrade(ctx, intent)
	if err != nil {
		return nil, "", err
	}
	filled, err := g.ledger.FillTrade(ctx, logged.ID, intent.Price, intent.Size, 0)
	if err != nil {
		return nil, "", err
	}
	g.logger.Info("dry-run trade recorded", "id", filled.ID, "strategy", intent.StrategyID)
	return filled, "", nil
}

func (g *riskGate) skip(strategyID string, sig types.Signal, reason string) {
	g.logger.Debug("signal skipped", "strategy", strategyID, "market", sig.MarketID, "reason", reason)
	g.bus.Publish(events.TopicTradeSkipped, SkippedSignal{StrategyID: strategyID, Signal: sig, Reason: reason})
}
