// Package portfolio values the account from the trade ledger: cash is
// tracked from fill flows against a configured starting balance, and open
// inventory is marked at live venue prices.
package portfolio

import (
	"context"
	"log/slog"

	"tradegate/internal/ledger"
	"tradegate/internal/ports"
	"tradegate/pkg/types"
)

// dustShares suppresses float residue when buys and sells net out.
const dustShares = 1e-9

// Config sets the provider's accounting basis.
type Config struct {
	// InitialBalance is the cash the account started with, in USD.
	InitialBalance float64
}

// Provider derives portfolio snapshots from filled trades. Implements
// ports.PortfolioProvider.
type Provider struct {
	cfg    Config
	ledger *ledger.Logger
	md     ports.MarketDataPort
	logger *slog.Logger
}

var _ ports.PortfolioProvider = (*Provider)(nil)

// New builds a provider. The market data port may be nil; positions are
// then marked at their average entry price.
func New(cfg Config, led *ledger.Logger, md ports.MarketDataPort, logger *slog.Logger) *Provider {
	return &Provider{
		cfg:    cfg,
		ledger: led,
		md:     md,
		logger: logger.With("component", "portfolio"),
	}
}

type inventory struct {
	shares float64
	cost   float64 // cumulative buy notional for the held shares
}

// Snapshot replays filled trades into cash and inventory, then marks the
// inventory to market.
func (p *Provider) Snapshot(ctx context.Context) (types.PortfolioSnapshot, error) {
	trades, err := p.ledger.GetTrades(ctx, types.TradeFilter{Status: types.StatusFilled})
	if err != nil {
		return types.PortfolioSnapshot{}, err
	}

	cash := p.cfg.InitialBalance
	holdings := make(map[types.MarketKey]*inventory)
	// GetTrades returns newest-first; the replay needs chronological order
	// so sells net against the buys that preceded them.
	for i := len(trades) - 1; i >= 0; i-- {
		t := trades[i]
		notional := t.Cost
		if notional == 0 {
			notional = t.Price * t.Filled
		}

		key := t.Key()
		inv := holdings[key]
		if inv == nil {
			inv = &inventory{}
			holdings[key] = inv
		}

		switch t.Side {
		case types.SideBuy:
			cash -= notional + t.Fees
			inv.shares += t.Filled
			inv.cost += notional
		case types.SideSell:
			cash += notional - t.Fees
			if inv.shares > 0 {
				// Release cost basis proportionally to the shares sold.
				sold := t.Filled
				if sold > inv.shares {
					sold = inv.shares
				}
				inv.cost -= inv.cost * sold / inv.shares
				inv.shares -= sold
			}
		}
	}

	snap := types.PortfolioSnapshot{Balance: cash, Value: cash}
	for key, inv := range holdings {
		if inv.shares <= dustShares {
			continue
		}
		avg := inv.cost / inv.shares

		price := avg
		if p.md != nil {
			if live, ok := p.md.GetPrice(ctx, key.Venue, key.MarketID); ok {
				price = live
			}
		}

		pos := types.Position{
			Key:          key,
			Shares:       inv.shares,
			AvgPrice:     avg,
			CurrentPrice: price,
		}
		snap.Positions = append(snap.Positions, pos)
		snap.Value += pos.Value()
	}
	return snap, nil
}
