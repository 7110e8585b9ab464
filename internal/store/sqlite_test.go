package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"tradegate/pkg/types"
)

func testStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "trades.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleTrade(id string, created time.Time) types.Trade {
	return types.Trade{
		ID:        id,
		Venue:     types.VenuePolymarket,
		MarketID:  "mkt-1",
		Outcome:   "YES",
		Question:  "Will it rain?",
		Side:      types.SideBuy,
		OrderKind: types.OrderMarket,
		Price:     0.55,
		Size:      100,
		Cost:      55,
		Status:    types.StatusPending,
		CreatedAt: created,
	}
}

func TestInsertAndGetRoundTrip(t *testing.T) {
	t.Parallel()
	s := testStore(t)
	ctx := context.Background()

	in := sampleTrade("t1", time.Now())
	in.StrategyID = "rsi-1"
	in.Tags = []string{"auto", "copy"}
	in.Meta = map[string]string{"dryRun": "true"}

	if err := s.Insert(ctx, in); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := s.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("trade not found after insert")
	}
	if got.MarketID != in.MarketID || got.Price != in.Price || got.StrategyID != "rsi-1" {
		t.Errorf("got %+v", got)
	}
	if len(got.Tags) != 2 || got.Tags[1] != "copy" {
		t.Errorf("tags = %v", got.Tags)
	}
	if got.Meta["dryRun"] != "true" {
		t.Errorf("meta = %v", got.Meta)
	}
	if got.FilledAt != nil || got.RealizedPnL != nil {
		t.Errorf("optional fields should be nil, got %+v", got)
	}
}

func TestGetUnknownReturnsNil(t *testing.T) {
	t.Parallel()
	s := testStore(t)

	got, err := s.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Errorf("got %+v, want nil", got)
	}
}

func TestUpdatePersistsMutableFields(t *testing.T) {
	t.Parallel()
	s := testStore(t)
	ctx := context.Background()

	tr := sampleTrade("t1", time.Now())
	if err := s.Insert(ctx, tr); err != nil {
		t.Fatalf("insert: %v", err)
	}

	now := time.Now()
	pnl := 12.5
	tr.Filled = tr.Size
	tr.Status = types.StatusFilled
	tr.FilledAt = &now
	tr.RealizedPnL = &pnl
	tr.ExitTradeID = "t2"
	if err := s.Update(ctx, tr); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != types.StatusFilled || got.Filled != tr.Size {
		t.Errorf("got %+v", got)
	}
	if got.RealizedPnL == nil || *got.RealizedPnL != pnl {
		t.Errorf("realized pnl = %v", got.RealizedPnL)
	}
	if got.FilledAt == nil || !got.FilledAt.Equal(now) {
		t.Errorf("filled at = %v", got.FilledAt)
	}
	if got.ExitTradeID != "t2" {
		t.Errorf("exit trade id = %q", got.ExitTradeID)
	}
}

func TestUpdateUnknownReturnsNotFound(t *testing.T) {
	t.Parallel()
	s := testStore(t)

	err := s.Update(context.Background(), sampleTrade("ghost", time.Now()))
	if !errors.Is(err, types.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestQueryFiltersConjunctively(t *testing.T) {
	t.Parallel()
	s := testStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	a := sampleTrade("a", base)
	a.StrategyID = "s1"
	b := sampleTrade("b", base.Add(time.Minute))
	b.StrategyID = "s1"
	b.Status = types.StatusFilled
	c := sampleTrade("c", base.Add(2*time.Minute))
	c.StrategyID = "s2"
	c.Status = types.StatusFilled
	for _, tr := range []types.Trade{a, b, c} {
		if err := s.Insert(ctx, tr); err != nil {
			t.Fatalf("insert %s: %v", tr.ID, err)
		}
	}

	got, err := s.Query(ctx, types.TradeFilter{StrategyID: "s1", Status: types.StatusFilled})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 || got[0].ID != "b" {
		t.Errorf("got %d trades, want only b: %+v", len(got), got)
	}
}

func TestQueryOrdersNewestFirst(t *testing.T) {
	t.Parallel()
	s := testStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i, id := range []string{"old", "mid", "new"} {
		if err := s.Insert(ctx, sampleTrade(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	got, err := s.Query(ctx, types.TradeFilter{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 3 || got[0].ID != "new" || got[2].ID != "old" {
		t.Errorf("order wrong: %v", ids(got))
	}

	limited, err := s.Query(ctx, types.TradeFilter{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("query limited: %v", err)
	}
	if len(limited) != 2 || limited[0].ID != "mid" || limited[1].ID != "old" {
		t.Errorf("limit/offset wrong: %v", ids(limited))
	}
}

func TestQueryTimeWindow(t *testing.T) {
	t.Parallel()
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		if err := s.Insert(ctx, sampleTrade(string(rune('a'+i)), base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	got, err := s.Query(ctx, types.TradeFilter{
		From: base.Add(time.Hour),
		To:   base.Add(2 * time.Hour),
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %v, want [c b]", ids(got))
	}
}

func TestDailyPnLGroupsByDay(t *testing.T) {
	t.Parallel()
	s := testStore(t)
	ctx := context.Background()

	day1 := time.Now().AddDate(0, 0, -2)
	day2 := time.Now().AddDate(0, 0, -1)

	mk := func(id string, at time.Time, pnl float64) types.Trade {
		tr := sampleTrade(id, at)
		tr.Status = types.StatusFilled
		tr.RealizedPnL = &pnl
		return tr
	}
	open := sampleTrade("open", day2) // no pnl, must be excluded

	for _, tr := range []types.Trade{
		mk("a", day1, 10), mk("b", day1, -4), mk("c", day2, 7), open,
	} {
		if err := s.Insert(ctx, tr); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	got, err := s.DailyPnL(ctx, 7)
	if err != nil {
		t.Fatalf("daily pnl: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d days, want 2: %+v", len(got), got)
	}
	if got[0].Date != day1.Format("2006-01-02") || got[0].PnL != 6 || got[0].Trades != 2 {
		t.Errorf("day1 = %+v", got[0])
	}
	if got[1].PnL != 7 || got[1].Trades != 1 {
		t.Errorf("day2 = %+v", got[1])
	}
}

func TestDeleteRemovesOnlyGivenIDs(t *testing.T) {
	t.Parallel()
	s := testStore(t)
	ctx := context.Background()
	now := time.Now()

	for _, id := range []string{"keep", "drop1", "drop2"} {
		if err := s.Insert(ctx, sampleTrade(id, now)); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	if err := s.Delete(ctx, []string{"drop1", "drop2", "missing"}); err != nil {
		t.Fatalf("delete: %v", err)
	}

	got, err := s.Query(ctx, types.TradeFilter{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 || got[0].ID != "keep" {
		t.Errorf("remaining = %v", ids(got))
	}
}

func TestStrategyConfigUpsert(t *testing.T) {
	t.Parallel()
	s := testStore(t)
	ctx := context.Background()

	cfg := types.StrategyConfig{ID: "rsi-1", Name: "RSI", Interval: time.Minute, Enabled: true}
	if err := s.SaveStrategyConfig(ctx, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	cfg.Name = "RSI v2"
	if err := s.SaveStrategyConfig(ctx, cfg); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.LoadStrategyConfigs(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 1 || got[0].Name != "RSI v2" {
		t.Errorf("got %+v", got)
	}

	if err := s.DeleteStrategyConfig(ctx, "rsi-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err = s.LoadStrategyConfigs(ctx)
	if err != nil {
		t.Fatalf("load after delete: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %+v, want empty", got)
	}
}

func TestTickRecorderRoundTrip(t *testing.T) {
	t.Parallel()
	s := testStore(t)
	ctx := context.Background()
	key := types.MarketKey{Venue: types.VenuePolymarket, MarketID: "mkt-1", Outcome: "YES"}
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		tick := types.Tick{
			Time: base.Add(time.Duration(i) * time.Second), Venue: key.Venue,
			MarketID: key.MarketID, Outcome: key.Outcome, Price: 0.5 + float64(i)*0.01,
		}
		if err := s.RecordTick(ctx, tick); err != nil {
			t.Fatalf("record tick: %v", err)
		}
	}

	got, err := s.LoadTicks(ctx, key, base.Add(time.Second), time.Time{})
	if err != nil {
		t.Fatalf("load ticks: %v", err)
	}
	if len(got) != 2 || got[0].Price != 0.51 || got[1].Price != 0.52 {
		t.Errorf("got %+v", got)
	}
}

func ids(trades []types.Trade) []string {
	out := make([]string, len(trades))
	for i, tr := range trades {
		out[i] = tr.ID
	}
	return out
}
