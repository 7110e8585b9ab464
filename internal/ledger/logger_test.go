package ledger

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"os"
	"strings"
	"testing"
	"time"

	"tradegate/internal/events"
	"tradegate/internal/store"
	"tradegate/pkg/types"
)

func testLogger(t *testing.T) (*Logger, *store.SQLite, *events.Bus) {
	t.Helper()
	s, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	slg := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	bus := events.NewBus(16, slg)
	return New(s, bus, slg), s, bus
}

func intent() types.Trade {
	return types.Trade{
		Venue:     types.VenuePolymarket,
		MarketID:  "mkt-1",
		Outcome:   "YES",
		Side:      types.SideBuy,
		OrderKind: types.OrderMarket,
		Price:     0.6,
		Size:      50,
	}
}

func TestLogTradeAppliesDefaults(t *testing.T) {
	t.Parallel()
	l, _, bus := testLogger(t)
	ctx := context.Background()

	ch, cancel := bus.Subscribe(events.TopicTrade)
	defer cancel()

	got, err := l.LogTrade(ctx, intent())
	if err != nil {
		t.Fatalf("log trade: %v", err)
	}
	if got.ID == "" {
		t.Error("id not assigned")
	}
	if got.Filled != 0 || got.Status != types.StatusPending {
		t.Errorf("defaults wrong: %+v", got)
	}
	if got.Cost != 0.6*50 {
		t.Errorf("cost = %v, want %v", got.Cost, 0.6*50)
	}
	if got.CreatedAt.IsZero() {
		t.Error("createdAt not stamped")
	}

	stored, err := l.GetTrade(ctx, got.ID)
	if err != nil || stored == nil {
		t.Fatalf("get trade: %v, %v", stored, err)
	}
	if stored.ID != got.ID || stored.Cost != got.Cost {
		t.Errorf("stored %+v, logged %+v", stored, got)
	}

	select {
	case evt := <-ch:
		if evt.Topic != events.TopicTrade {
			t.Errorf("topic = %q", evt.Topic)
		}
	case <-time.After(time.Second):
		t.Error("no trade event published")
	}
}

func TestLogTradeRejectsInvalid(t *testing.T) {
	t.Parallel()
	l, _, _ := testLogger(t)

	bad := intent()
	bad.Size = 0
	if _, err := l.LogTrade(context.Background(), bad); !errors.Is(err, types.ErrInvalid) {
		t.Errorf("err = %v, want ErrInvalid", err)
	}
}

func TestFillTradeTransitions(t *testing.T) {
	t.Parallel()
	l, _, bus := testLogger(t)
	ctx := context.Background()

	ch, cancel := bus.Subscribe(events.TopicTradeFilled)
	defer cancel()

	logged, err := l.LogTrade(ctx, intent())
	if err != nil {
		t.Fatalf("log trade: %v", err)
	}

	partial, err := l.FillTrade(ctx, logged.ID, 0.61, 20, 0.1)
	if err != nil {
		t.Fatalf("partial fill: %v", err)
	}
	if partial.Status != types.StatusPartial || partial.Filled != 20 {
		t.Errorf("partial = %+v", partial)
	}
	if partial.Cost != 0.61*20 {
		t.Errorf("cost = %v", partial.Cost)
	}
	if partial.FilledAt == nil {
		t.Error("filledAt not stamped")
	}

	full, err := l.FillTrade(ctx, logged.ID, 0.62, 50, 0.1)
	if err != nil {
		t.Fatalf("full fill: %v", err)
	}
	if full.Status != types.StatusFilled || full.Filled != 50 {
		t.Errorf("full = %+v", full)
	}
	if full.Fees != 0.2 {
		t.Errorf("fees = %v, want accumulated 0.2", full.Fees)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatalf("missing tradeFilled event %d", i)
		}
	}
}

func TestFillRejectsOversizedFill(t *testing.T) {
	t.Parallel()
	l, _, _ := testLogger(t)
	ctx := context.Background()

	logged, err := l.LogTrade(ctx, intent())
	if err != nil {
		t.Fatalf("log trade: %v", err)
	}

	if _, err := l.FillTrade(ctx, logged.ID, 0.6, logged.Size+1, 0); !errors.Is(err, types.ErrInvalid) {
		t.Errorf("err = %v, want ErrInvalid", err)
	}

	// The record is untouched by the rejected fill.
	stored, err := l.GetTrade(ctx, logged.ID)
	if err != nil {
		t.Fatalf("get trade: %v", err)
	}
	if stored.Status != types.StatusPending || stored.Filled != 0 {
		t.Errorf("trade = %+v, want still pending", stored)
	}
}

func TestFillUnknownReturnsNil(t *testing.T) {
	t.Parallel()
	l, _, _ := testLogger(t)

	got, err := l.FillTrade(context.Background(), "ghost", 0.5, 10, 0)
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if got != nil {
		t.Errorf("got %+v, want nil", got)
	}
}

func TestCancelTradeIsIdempotent(t *testing.T) {
	t.Parallel()
	l, _, _ := testLogger(t)
	ctx := context.Background()

	logged, err := l.LogTrade(ctx, intent())
	if err != nil {
		t.Fatalf("log trade: %v", err)
	}

	first, err := l.CancelTrade(ctx, logged.ID)
	if err != nil || first.Status != types.StatusCancelled {
		t.Fatalf("cancel: %+v, %v", first, err)
	}
	second, err := l.CancelTrade(ctx, logged.ID)
	if err != nil || second.Status != types.StatusCancelled {
		t.Fatalf("second cancel: %+v, %v", second, err)
	}

	missing, err := l.CancelTrade(ctx, "ghost")
	if err != nil || missing != nil {
		t.Errorf("cancel unknown = %+v, %v; want nil, nil", missing, err)
	}
}

func TestLinkTradesRecordsPnL(t *testing.T) {
	t.Parallel()
	l, _, _ := testLogger(t)
	ctx := context.Background()

	entry, err := l.LogTrade(ctx, intent())
	if err != nil {
		t.Fatalf("log entry: %v", err)
	}
	exitIntent := intent()
	exitIntent.Side = types.SideSell
	exit, err := l.LogTrade(ctx, exitIntent)
	if err != nil {
		t.Fatalf("log exit: %v", err)
	}

	linked, err := l.LinkTrades(ctx, entry.ID, exit.ID, 6)
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	if linked.ExitTradeID != exit.ID {
		t.Errorf("exit ref = %q", linked.ExitTradeID)
	}
	if linked.RealizedPnL == nil || *linked.RealizedPnL != 6 {
		t.Errorf("pnl = %v", linked.RealizedPnL)
	}
	wantPct := 6 / entry.Cost
	if linked.RealizedPnLPct == nil || math.Abs(*linked.RealizedPnLPct-wantPct) > 1e-12 {
		t.Errorf("pnl pct = %v, want %v", linked.RealizedPnLPct, wantPct)
	}

	exitStored, err := l.GetTrade(ctx, exit.ID)
	if err != nil || exitStored == nil {
		t.Fatalf("get exit: %v", err)
	}
	if exitStored.EntryTradeID != entry.ID {
		t.Errorf("entry ref on exit = %q", exitStored.EntryTradeID)
	}
}

func TestGetStatsEdgeCases(t *testing.T) {
	t.Parallel()
	l, _, _ := testLogger(t)
	ctx := context.Background()

	empty, err := l.GetStats(ctx, types.TradeFilter{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if empty.WinRate != 0 || empty.ProfitFactor != 0 {
		t.Errorf("empty stats = %+v", empty)
	}

	// One winning closed pair only: profit factor must be +Inf.
	entry, _ := l.LogTrade(ctx, intent())
	exit, _ := l.LogTrade(ctx, intent())
	if _, err := l.LinkTrades(ctx, entry.ID, exit.ID, 10); err != nil {
		t.Fatalf("link: %v", err)
	}
	winsOnly, err := l.GetStats(ctx, types.TradeFilter{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if !math.IsInf(winsOnly.ProfitFactor, 1) {
		t.Errorf("profit factor = %v, want +Inf", winsOnly.ProfitFactor)
	}
	if winsOnly.Wins != 1 || winsOnly.WinRate != 100 {
		t.Errorf("stats = %+v", winsOnly)
	}
}

func TestGetStatsBreakdownsSumToTotals(t *testing.T) {
	t.Parallel()
	l, _, _ := testLogger(t)
	ctx := context.Background()

	mk := func(strategy string, pnl float64) {
		in := intent()
		in.StrategyID = strategy
		entry, err := l.LogTrade(ctx, in)
		if err != nil {
			t.Fatalf("log: %v", err)
		}
		out := intent()
		out.StrategyID = strategy
		out.Side = types.SideSell
		exit, err := l.LogTrade(ctx, out)
		if err != nil {
			t.Fatalf("log exit: %v", err)
		}
		if _, err := l.LinkTrades(ctx, entry.ID, exit.ID, pnl); err != nil {
			t.Fatalf("link: %v", err)
		}
	}
	mk("s1", 10)
	mk("s1", -4)
	mk("s2", 3)

	stats, err := l.GetStats(ctx, types.TradeFilter{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}

	var groupTrades int
	var groupPnL float64
	for _, g := range stats.ByStrategy {
		groupTrades += g.Trades
		groupPnL += g.PnL
	}
	if groupTrades != stats.TotalTrades {
		t.Errorf("Σ group trades = %d, total = %d", groupTrades, stats.TotalTrades)
	}
	if math.Abs(groupPnL-stats.TotalPnL) > 1e-9 {
		t.Errorf("Σ group pnl = %v, total = %v", groupPnL, stats.TotalPnL)
	}
	if stats.TotalPnL != 9 || stats.Wins != 2 || stats.Losses != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.ProfitFactor != 13.0/4.0 {
		t.Errorf("profit factor = %v", stats.ProfitFactor)
	}
}

func TestExportCSVStableColumns(t *testing.T) {
	t.Parallel()
	l, _, _ := testLogger(t)
	ctx := context.Background()

	in := intent()
	in.Question = "Will it rain?"
	in.StrategyID = "s1"
	if _, err := l.LogTrade(ctx, in); err != nil {
		t.Fatalf("log: %v", err)
	}

	out, err := l.ExportCSV(ctx, types.TradeFilter{})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want header + 1 row", len(lines))
	}
	wantHeader := "id,platform,market_id,market_question,outcome,side,order_type,price,size,filled,cost,fees,status,strategy_id,strategy_name,realized_pnl,realized_pnl_pct,created_at,filled_at"
	if lines[0] != wantHeader {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(lines[1], "Will it rain?") || !strings.Contains(lines[1], "pending") {
		t.Errorf("row = %q", lines[1])
	}
}

func TestCleanupPreservesLinkedPairs(t *testing.T) {
	t.Parallel()
	l, s, _ := testLogger(t)
	ctx := context.Background()

	old := time.Now().AddDate(0, 0, -60)
	recent := time.Now().AddDate(0, 0, -5)

	put := func(id string, at time.Time, entryRef, exitRef string) {
		tr := intent()
		tr.ID = id
		tr.CreatedAt = at
		tr.Status = types.StatusFilled
		tr.EntryTradeID = entryRef
		tr.ExitTradeID = exitRef
		if err := s.Insert(ctx, tr); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}

	put("lone-old", old, "", "")
	put("pair-a", old, "", "pair-b") // exit is recent: pair must survive
	put("pair-b", recent, "pair-a", "")
	put("done-a", old, "", "done-b") // both old: pair is removed
	put("done-b", old.Add(time.Hour), "done-a", "")

	deleted, err := l.Cleanup(ctx, 30)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if deleted != 3 {
		t.Errorf("deleted = %d, want 3", deleted)
	}

	remaining, err := l.GetTrades(ctx, types.TradeFilter{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	got := map[string]bool{}
	for _, tr := range remaining {
		got[tr.ID] = true
	}
	if !got["pair-a"] || !got["pair-b"] {
		t.Errorf("linked pair broken, remaining = %v", got)
	}
	if got["lone-old"] || got["done-a"] || got["done-b"] {
		t.Errorf("stale trades kept: %v", got)
	}
}
