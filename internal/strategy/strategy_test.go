package strategy

import (
	"context"
	"errors"
	"testing"
	"time"

	"tradegate/pkg/types"
)

var testKey = types.MarketKey{Venue: types.VenuePolymarket, MarketID: "mkt-1", Outcome: "YES"}

func testConfig(params map[string]any) types.StrategyConfig {
	return types.StrategyConfig{
		ID:       "test-1",
		Name:     "test",
		Venues:   []types.Venue{types.VenuePolymarket},
		Markets:  []string{"mkt-1"},
		Interval: time.Minute,
		Enabled:  true,
		Params:   params,
	}
}

func ctxWithPrices(prices []float64) *types.StrategyContext {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	hist := make([]types.Tick, len(prices))
	for i, p := range prices {
		hist[i] = types.Tick{
			Time: base.Add(time.Duration(i) * time.Minute), Venue: testKey.Venue,
			MarketID: testKey.MarketID, Outcome: testKey.Outcome, Price: p,
		}
	}
	return &types.StrategyContext{
		PortfolioValue: 10000,
		Balance:        10000,
		Positions:      map[string]types.Position{},
		PriceHistory:   map[string][]types.Tick{testKey.String(): hist},
		Timestamp:      base.Add(time.Duration(len(prices)) * time.Minute),
	}
}

func declining(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start - float64(i)*step
	}
	return out
}

func rising(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func TestRSIBuysWhenOversold(t *testing.T) {
	t.Parallel()
	s, err := NewRSIMeanReversion(testConfig(map[string]any{"period": 5, "sizePct": 25.0}))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	// A strictly declining series drives RSI to zero.
	sctx := ctxWithPrices(declining(10, 0.90, 0.02))
	signals, err := s.Evaluate(context.Background(), sctx)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(signals) != 1 || signals[0].Type != types.SignalBuy {
		t.Fatalf("signals = %+v, want one buy", signals)
	}
	if signals[0].SizePct != 25 {
		t.Errorf("sizePct = %v", signals[0].SizePct)
	}
	if signals[0].Key() != testKey {
		t.Errorf("key = %v", signals[0].Key())
	}
}

func TestRSIClosesWhenOverbought(t *testing.T) {
	t.Parallel()
	s, err := NewRSIMeanReversion(testConfig(map[string]any{"period": 5}))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	sctx := ctxWithPrices(rising(10, 0.40, 0.02))
	sctx.Positions[testKey.String()] = types.Position{Key: testKey, Shares: 100, AvgPrice: 0.45, CurrentPrice: 0.58}

	signals, err := s.Evaluate(context.Background(), sctx)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(signals) != 1 || signals[0].Type != types.SignalClose {
		t.Fatalf("signals = %+v, want one close", signals)
	}
	if signals[0].Size != 100 {
		t.Errorf("close size = %v, want full position", signals[0].Size)
	}
}

func TestRSIHoldsWithoutEnoughHistory(t *testing.T) {
	t.Parallel()
	s, err := NewRSIMeanReversion(testConfig(map[string]any{"period": 14}))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	signals, err := s.Evaluate(context.Background(), ctxWithPrices(declining(5, 0.9, 0.02)))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(signals) != 0 {
		t.Errorf("signals = %+v, want none", signals)
	}
}

func TestRSIRejectsBadParams(t *testing.T) {
	t.Parallel()
	_, err := NewRSIMeanReversion(testConfig(map[string]any{"oversold": 80.0, "overbought": 20.0}))
	if !errors.Is(err, types.ErrInvalid) {
		t.Errorf("err = %v, want ErrInvalid", err)
	}
}

func TestSMABuysOnUpwardCross(t *testing.T) {
	t.Parallel()
	s, err := NewSMAMomentum(testConfig(map[string]any{"fastPeriod": 2, "slowPeriod": 4}))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	signals, err := s.Evaluate(context.Background(), ctxWithPrices([]float64{10, 10, 10, 10, 10, 20}))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(signals) != 1 || signals[0].Type != types.SignalBuy {
		t.Fatalf("signals = %+v, want one buy", signals)
	}
}

func TestSMAClosesOnDownwardCross(t *testing.T) {
	t.Parallel()
	s, err := NewSMAMomentum(testConfig(map[string]any{"fastPeriod": 2, "slowPeriod": 4}))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	sctx := ctxWithPrices([]float64{10, 10, 20, 20, 20, 5})
	sctx.Positions[testKey.String()] = types.Position{Key: testKey, Shares: 50, AvgPrice: 15, CurrentPrice: 5}

	signals, err := s.Evaluate(context.Background(), sctx)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(signals) != 1 || signals[0].Type != types.SignalClose || signals[0].Size != 50 {
		t.Fatalf("signals = %+v, want one full close", signals)
	}
}

func TestAdvisoryStopLossProducesExit(t *testing.T) {
	t.Parallel()
	cfg := testConfig(map[string]any{"period": 5})
	cfg.StopLossPct = 10
	s, err := NewRSIMeanReversion(cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	// Price history is neutral but the held position is down 20%.
	sctx := ctxWithPrices(rising(10, 0.40, 0.001))
	sctx.Positions[testKey.String()] = types.Position{Key: testKey, Shares: 100, AvgPrice: 0.50, CurrentPrice: 0.40}

	signals, err := s.Evaluate(context.Background(), sctx)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(signals) != 1 || signals[0].Type != types.SignalClose || signals[0].Reason != "stop_loss" {
		t.Fatalf("signals = %+v, want stop_loss close", signals)
	}
}

func TestAdvisoryTakeProfitProducesExit(t *testing.T) {
	t.Parallel()
	pos := types.Position{Key: testKey, Shares: 100, AvgPrice: 0.50, CurrentPrice: 0.60}
	cfg := testConfig(nil)
	cfg.TakeProfitPct = 15

	sig, ok := exitSignal(cfg, pos)
	if !ok || sig.Reason != "take_profit" || sig.Size != 100 {
		t.Errorf("got %+v, %v", sig, ok)
	}

	// Below threshold: no exit.
	pos.CurrentPrice = 0.55
	if _, ok := exitSignal(cfg, pos); ok {
		t.Error("exit fired below take-profit threshold")
	}
}
