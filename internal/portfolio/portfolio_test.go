package portfolio

import (
	"context"
	"log/slog"
	"math"
	"os"
	"testing"

	"tradegate/internal/events"
	"tradegate/internal/ledger"
	"tradegate/internal/store"
	"tradegate/pkg/types"
)

type fakeMarketData struct {
	prices map[string]float64
}

func (f *fakeMarketData) SubscribeTrades(context.Context, string, func(types.Tick)) error {
	return nil
}

func (f *fakeMarketData) SubscribeOrderbook(context.Context, string, func(types.OrderBookSnapshot)) error {
	return nil
}

func (f *fakeMarketData) GetMarket(context.Context, types.Venue, string) (*types.MarketMetadata, error) {
	return nil, types.ErrNotFound
}

func (f *fakeMarketData) GetPrice(_ context.Context, _ types.Venue, marketID string) (float64, bool) {
	price, ok := f.prices[marketID]
	return price, ok
}

func testLedger(t *testing.T) *ledger.Logger {
	t.Helper()
	st, err := store.OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return ledger.New(st, events.NewBus(16, logger), logger)
}

func fillTrade(t *testing.T, led *ledger.Logger, side types.Side, price, size float64) {
	t.Helper()
	ctx := context.Background()
	logged, err := led.LogTrade(ctx, types.Trade{
		Venue:     types.VenuePolymarket,
		MarketID:  "m1",
		Outcome:   "YES",
		Side:      side,
		OrderKind: types.OrderLimit,
		Price:     price,
		Size:      size,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := led.FillTrade(ctx, logged.ID, price, size, 0); err != nil {
		t.Fatal(err)
	}
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func TestSnapshotEmptyLedger(t *testing.T) {
	t.Parallel()
	led := testLedger(t)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	p := New(Config{InitialBalance: 1000}, led, nil, logger)
	snap, err := p.Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if snap.Balance != 1000 || snap.Value != 1000 || len(snap.Positions) != 0 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestSnapshotMarksOpenPositionAtLivePrice(t *testing.T) {
	t.Parallel()
	led := testLedger(t)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	fillTrade(t, led, types.SideBuy, 0.50, 100)

	md := &fakeMarketData{prices: map[string]float64{"m1": 0.60}}
	p := New(Config{InitialBalance: 1000}, led, md, logger)

	snap, err := p.Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !approx(snap.Balance, 950) {
		t.Errorf("balance = %v", snap.Balance)
	}
	if len(snap.Positions) != 1 {
		t.Fatalf("positions = %+v", snap.Positions)
	}
	pos := snap.Positions[0]
	if pos.Shares != 100 || !approx(pos.AvgPrice, 0.50) || !approx(pos.CurrentPrice, 0.60) {
		t.Errorf("position = %+v", pos)
	}
	if !approx(snap.Value, 1010) {
		t.Errorf("value = %v", snap.Value)
	}
}

func TestSnapshotNetsSells(t *testing.T) {
	t.Parallel()
	led := testLedger(t)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	fillTrade(t, led, types.SideBuy, 0.50, 100)
	fillTrade(t, led, types.SideSell, 0.60, 40)

	md := &fakeMarketData{prices: map[string]float64{"m1": 0.60}}
	p := New(Config{InitialBalance: 1000}, led, md, logger)

	snap, err := p.Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	// 1000 - 50 + 24 cash, 60 shares marked at 0.60.
	if !approx(snap.Balance, 974) {
		t.Errorf("balance = %v", snap.Balance)
	}
	if len(snap.Positions) != 1 || snap.Positions[0].Shares != 60 {
		t.Fatalf("positions = %+v", snap.Positions)
	}
	if !approx(snap.Value, 1010) {
		t.Errorf("value = %v", snap.Value)
	}
}

func TestSnapshotClosedPositionLeavesCashOnly(t *testing.T) {
	t.Parallel()
	led := testLedger(t)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	fillTrade(t, led, types.SideBuy, 0.50, 100)
	fillTrade(t, led, types.SideSell, 0.70, 100)

	p := New(Config{InitialBalance: 1000}, led, nil, logger)
	snap, err := p.Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Positions) != 0 {
		t.Errorf("positions = %+v", snap.Positions)
	}
	if !approx(snap.Balance, 1020) || !approx(snap.Value, 1020) {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestSnapshotReplaysFillsInChronologicalOrder(t *testing.T) {
	t.Parallel()
	led := testLedger(t)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	// The ledger returns trades newest-first; a replay in that order would
	// apply the sell before the buy and leave a ghost holding.
	fillTrade(t, led, types.SideBuy, 0.50, 100)
	fillTrade(t, led, types.SideSell, 0.70, 100)

	md := &fakeMarketData{prices: map[string]float64{"m1": 0.70}}
	p := New(Config{InitialBalance: 1000}, led, md, logger)

	snap, err := p.Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Positions) != 0 {
		t.Fatalf("positions = %+v, want fully netted out", snap.Positions)
	}
	if !approx(snap.Balance, 1020) || !approx(snap.Value, 1020) {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestSnapshotFallsBackToEntryPrice(t *testing.T) {
	t.Parallel()
	led := testLedger(t)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	fillTrade(t, led, types.SideBuy, 0.50, 100)

	md := &fakeMarketData{prices: map[string]float64{}} // no live price
	p := New(Config{InitialBalance: 1000}, led, md, logger)

	snap, err := p.Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !approx(snap.Positions[0].CurrentPrice, 0.50) {
		t.Errorf("current price = %v", snap.Positions[0].CurrentPrice)
	}
	if !approx(snap.Value, 1000) {
		t.Errorf("value = %v", snap.Value)
	}
}
