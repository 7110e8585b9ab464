package strategy

import (
	"context"
	"fmt"

	"github.com/markcheno/go-talib"

	"tradegate/pkg/types"
)

// RSIMeanReversion buys oversold markets and closes overbought positions
// using Wilder's RSI over the bounded price history.
//
// Params: period (default 14), oversold (default 30), overbought (default
// 70), sizePct (default 10, percent of portfolio value per entry).
type RSIMeanReversion struct {
	Base
	period     int
	oversold   float64
	overbought float64
	sizePct    float64
}

func NewRSIMeanReversion(cfg types.StrategyConfig) (*RSIMeanReversion, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &RSIMeanReversion{
		Base:       NewBase(cfg),
		period:     paramInt(cfg.Params, "period", 14),
		oversold:   paramFloat(cfg.Params, "oversold", 30),
		overbought: paramFloat(cfg.Params, "overbought", 70),
		sizePct:    paramFloat(cfg.Params, "sizePct", 10),
	}
	if s.period < 2 {
		return nil, fmt.Errorf("%w: rsi period must be >= 2", types.ErrInvalid)
	}
	if s.oversold >= s.overbought {
		return nil, fmt.Errorf("%w: oversold threshold must be below overbought", types.ErrInvalid)
	}
	return s, nil
}

func (s *RSIMeanReversion) Evaluate(ctx context.Context, sctx *types.StrategyContext) ([]types.Signal, error) {
	var signals []types.Signal

	for _, key := range s.markets() {
		prices := closes(sctx, key)
		if len(prices) <= s.period {
			continue
		}
		rsi := talib.Rsi(prices, s.period)
		last := rsi[len(rsi)-1]

		pos, holding := sctx.Positions[key.String()]

		if holding {
			if exit, ok := exitSignal(s.cfg, pos); ok {
				signals = append(signals, exit)
				continue
			}
			if last >= s.overbought {
				signals = append(signals, types.Signal{
					Type:     types.SignalClose,
					Venue:    key.Venue,
					MarketID: key.MarketID,
					Outcome:  key.Outcome,
					Size:     pos.Shares,
					Reason:   fmt.Sprintf("rsi %.1f overbought", last),
				})
			}
			continue
		}

		if last <= s.oversold {
			signals = append(signals, types.Signal{
				Type:       types.SignalBuy,
				Venue:      key.Venue,
				MarketID:   key.MarketID,
				Outcome:    key.Outcome,
				SizePct:    s.sizePct,
				Confidence: (s.oversold - last) / s.oversold,
				Reason:     fmt.Sprintf("rsi %.1f oversold", last),
			})
		}
	}
	return signals, nil
}
