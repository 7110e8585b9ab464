package strategy

import (
	"context"
	"fmt"

	"github.com/markcheno/go-talib"

	"tradegate/pkg/types"
)

// SMAMomentum trades fast/slow moving-average crossovers: buy when the fast
// average crosses above the slow one, close when it crosses back below.
//
// Params: fastPeriod (default 5), slowPeriod (default 20), sizePct
// (default 10).
type SMAMomentum struct {
	Base
	fast    int
	slow    int
	sizePct float64
}

func NewSMAMomentum(cfg types.StrategyConfig) (*SMAMomentum, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &SMAMomentum{
		Base:    NewBase(cfg),
		fast:    paramInt(cfg.Params, "fastPeriod", 5),
		slow:    paramInt(cfg.Params, "slowPeriod", 20),
		sizePct: paramFloat(cfg.Params, "sizePct", 10),
	}
	if s.fast < 1 || s.slow <= s.fast {
		return nil, fmt.Errorf("%w: need 1 <= fastPeriod < slowPeriod", types.ErrInvalid)
	}
	return s, nil
}

func (s *SMAMomentum) Evaluate(ctx context.Context, sctx *types.StrategyContext) ([]types.Signal, error) {
	var signals []types.Signal

	for _, key := range s.markets() {
		prices := closes(sctx, key)
		if len(prices) < s.slow+1 {
			continue
		}
		fast := talib.Sma(prices, s.fast)
		slow := talib.Sma(prices, s.slow)

		n := len(prices)
		aboveNow := fast[n-1] > slow[n-1]
		abovePrev := fast[n-2] > slow[n-2]

		pos, holding := sctx.Positions[key.String()]

		if holding {
			if exit, ok := exitSignal(s.cfg, pos); ok {
				signals = append(signals, exit)
				continue
			}
			if abovePrev && !aboveNow {
				signals = append(signals, types.Signal{
					Type:     types.SignalClose,
					Venue:    key.Venue,
					MarketID: key.MarketID,
					Outcome:  key.Outcome,
					Size:     pos.Shares,
					Reason:   "fast sma crossed below slow",
				})
			}
			continue
		}

		if !abovePrev && aboveNow {
			signals = append(signals, types.Signal{
				Type:     types.SignalBuy,
				Venue:    key.Venue,
				MarketID: key.MarketID,
				Outcome:  key.Outcome,
				SizePct:  s.sizePct,
				Reason:   "fast sma crossed above slow",
			})
		}
	}
	return signals, nil
}
