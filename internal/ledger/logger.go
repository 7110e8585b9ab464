// Package ledger is the single writer of trade records.
//
// Every order intent in the gateway, live or simulated, is logged here
// before it reaches a venue, and every fill, cancellation, and P&L linkage
// flows back through here. The ledger serializes its writes, persists
// through the TradeStore, and publishes lifecycle events on the bus.
package ledger

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradegate/internal/events"
	"tradegate/internal/ports"
	"tradegate/pkg/types"
)

// Logger owns all mutations of trade records.
type Logger struct {
	store  ports.TradeStore
	bus    *events.Bus
	logger *slog.Logger
	mu     sync.Mutex
}

// New creates a trade logger backed by the given store.
func New(store ports.TradeStore, bus *events.Bus, logger *slog.Logger) *Logger {
	return &Logger{
		store:  store,
		bus:    bus,
		logger: logger.With("component", "ledger"),
	}
}

// LogTrade records a new order intent. The caller supplies the market triple,
// side, kind, price, and size; the ledger assigns the id, stamps createdAt,
// and applies defaults (filled=0, cost=price*size, status=pending).
func (l *Logger) LogTrade(ctx context.Context, t types.Trade) (types.Trade, error) {
	if t.Size <= 0 {
		return types.Trade{}, fmt.Errorf("%w: trade size must be > 0", types.ErrInvalid)
	}
	if t.MarketID == "" || t.Venue == "" {
		return types.Trade{}, fmt.Errorf("%w: trade requires venue and market id", types.ErrInvalid)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	t.ID = uuid.NewString()
	t.Filled = 0
	t.Cost = t.Price * t.Size
	t.Status = types.StatusPending
	t.CreatedAt = time.Now()
	t.FilledAt = nil
	t.RealizedPnL = nil
	t.RealizedPnLPct = nil

	if err := l.store.Insert(ctx, t); err != nil {
		return types.Trade{}, err
	}

	l.logger.Info("trade logged",
		"id", t.ID, "venue", t.Venue, "market", t.MarketID,
		"side", t.Side, "price", t.Price, "size", t.Size, "strategy", t.StrategyID)
	l.bus.Publish(events.TopicTrade, t)
	return t, nil
}

// FillTrade records a (possibly partial) fill. A fill larger than the order
// size is rejected. Returns nil when the id is unknown; storage failures are
// returned as errors.
func (l *Logger) FillTrade(ctx context.Context, id string, filledPrice, filledSize, fees float64) (*types.Trade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, nil
	}
	if filledSize > t.Size {
		return nil, fmt.Errorf("%w: fill size %.4f exceeds order size %.4f", types.ErrInvalid, filledSize, t.Size)
	}

	now := time.Now()
	t.Filled = filledSize
	t.Cost = filledPrice * filledSize
	t.Fees += fees
	t.FilledAt = &now
	if t.Filled < t.Size {
		t.Status = types.StatusPartial
	} else {
		t.Status = types.StatusFilled
	}

	if err := l.store.Update(ctx, *t); err != nil {
		return nil, err
	}

	l.logger.Info("trade filled", "id", t.ID, "status", t.Status, "filled", t.Filled, "price", filledPrice)
	l.bus.Publish(events.TopicTradeFilled, *t)
	return t, nil
}

// CancelTrade marks a trade cancelled. Idempotent; returns nil for unknown ids.
func (l *Logger) CancelTrade(ctx context.Context, id string) (*types.Trade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, nil
	}
	if t.Status == types.StatusCancelled {
		return t, nil
	}

	t.Status = types.StatusCancelled
	if err := l.store.Update(ctx, *t); err != nil {
		return nil, err
	}

	l.logger.Info("trade cancelled", "id", t.ID)
	l.bus.Publish(events.TopicTradeCancelled, *t)
	return t, nil
}

// MarkFailed records a placement failure on an existing trade record.
func (l *Logger) MarkFailed(ctx context.Context, id, reason string) (*types.Trade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, nil
	}

	t.Status = types.StatusFailed
	if t.Meta == nil {
		t.Meta = make(map[string]string)
	}
	t.Meta["failReason"] = reason
	if err := l.store.Update(ctx, *t); err != nil {
		return nil, err
	}

	l.logger.Warn("trade failed", "id", t.ID, "reason", reason)
	return t, nil
}

// LinkTrades cross-references an entry/exit pair and records realized P&L on
// the entry. Returns nil when either id is unknown.
func (l *Logger) LinkTrades(ctx context.Context, entryID, exitID string, realizedPnL float64) (*types.Trade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, err := l.store.Get(ctx, entryID)
	if err != nil {
		return nil, err
	}
	exit, err := l.store.Get(ctx, exitID)
	if err != nil {
		return nil, err
	}
	if entry == nil || exit == nil {
		return nil, nil
	}

	entry.ExitTradeID = exit.ID
	exit.EntryTradeID = entry.ID
	entry.RealizedPnL = &realizedPnL
	if entry.Cost != 0 {
		pct := realizedPnL / entry.Cost
		entry.RealizedPnLPct = &pct
	}

	if err := l.store.Update(ctx, *entry); err != nil {
		return nil, err
	}
	if err := l.store.Update(ctx, *exit); err != nil {
		return nil, err
	}

	l.logger.Info("trades linked", "entry", entry.ID, "exit", exit.ID, "pnl", realizedPnL)
	return entry, nil
}

// GetTrade returns one trade by id, or nil when unknown.
func (l *Logger) GetTrade(ctx context.Context, id string) (*types.Trade, error) {
	return l.store.Get(ctx, id)
}

// GetTrades returns trades matching the filter, newest first.
func (l *Logger) GetTrades(ctx context.Context, f types.TradeFilter) ([]types.Trade, error) {
	return l.store.Query(ctx, f)
}

// GetStats derives performance analytics over the filtered trade set.
// Win/loss counting considers only trades with a recorded realized P&L.
func (l *Logger) GetStats(ctx context.Context, f types.TradeFilter) (types.TradeStats, error) {
	trades, err := l.store.Query(ctx, f)
	if err != nil {
		return types.TradeStats{}, err
	}

	stats := types.TradeStats{
		ByVenue:    make(map[types.Venue]types.GroupStats),
		ByStrategy: make(map[string]types.GroupStats),
	}

	var totalWins, totalLosses float64
	for _, t := range trades {
		stats.TotalTrades++
		stats.TotalVolume += t.Cost
		stats.TotalFees += t.Fees

		venueGroup := stats.ByVenue[t.Venue]
		venueGroup.Trades++
		stratGroup := stats.ByStrategy[t.StrategyID]
		stratGroup.Trades++

		if t.RealizedPnL != nil {
			pnl := *t.RealizedPnL
			stats.TotalPnL += pnl
			venueGroup.PnL += pnl
			stratGroup.PnL += pnl

			switch {
			case pnl > 0:
				stats.Wins++
				venueGroup.Wins++
				stratGroup.Wins++
				totalWins += pnl
				if pnl > stats.LargestWin {
					stats.LargestWin = pnl
				}
			case pnl < 0:
				stats.Losses++
				totalLosses += pnl
				if pnl < stats.LargestLoss {
					stats.LargestLoss = pnl
				}
			}
		}

		stats.ByVenue[t.Venue] = venueGroup
		stats.ByStrategy[t.StrategyID] = stratGroup
	}

	closed := stats.Wins + stats.Losses
	if closed > 0 {
		stats.WinRate = float64(stats.Wins) / float64(closed) * 100
		stats.AvgPnL = stats.TotalPnL / float64(closed)
	}
	if stats.Wins > 0 {
		stats.AvgWin = totalWins / float64(stats.Wins)
	}
	if stats.Losses > 0 {
		stats.AvgLoss = totalLosses / float64(stats.Losses)
	}
	switch {
	case stats.Losses > 0:
		stats.ProfitFactor = totalWins / math.Abs(totalLosses)
	case stats.Wins > 0:
		stats.ProfitFactor = math.Inf(1)
	}

	for venue, g := range stats.ByVenue {
		if g.Trades > 0 {
			g.WinRate = float64(g.Wins) / float64(g.Trades) * 100
		}
		stats.ByVenue[venue] = g
	}
	for id, g := range stats.ByStrategy {
		if g.Trades > 0 {
			g.WinRate = float64(g.Wins) / float64(g.Trades) * 100
		}
		stats.ByStrategy[id] = g
	}
	return stats, nil
}

// GetDailyPnL returns per-day realized P&L over the trailing window.
func (l *Logger) GetDailyPnL(ctx context.Context, days int) ([]types.DailyPnL, error) {
	return l.store.DailyPnL(ctx, days)
}

// csvHeader is the stable export column order. New columns are appended,
// never inserted, so downstream spreadsheets keep working.
var csvHeader = []string{
	"id", "platform", "market_id", "market_question", "outcome",
	"side", "order_type", "price", "size", "filled", "cost", "fees",
	"status", "strategy_id", "strategy_name",
	"realized_pnl", "realized_pnl_pct", "created_at", "filled_at",
}

// ExportCSV renders the filtered trades as CSV, one row per trade, newest
// first, with the documented column order.
func (l *Logger) ExportCSV(ctx context.Context, f types.TradeFilter) (string, error) {
	trades, err := l.store.Query(ctx, f)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	w := csv.NewWriter(&sb)
	if err := w.Write(csvHeader); err != nil {
		return "", fmt.Errorf("write csv header: %w", err)
	}
	for _, t := range trades {
		row := []string{
			t.ID, string(t.Venue), t.MarketID, t.Question, t.Outcome,
			string(t.Side), string(t.OrderKind),
			formatFloat(t.Price), formatFloat(t.Size), formatFloat(t.Filled),
			formatFloat(t.Cost), formatFloat(t.Fees),
			string(t.Status), t.StrategyID, t.StrategyName,
			formatOptFloat(t.RealizedPnL), formatOptFloat(t.RealizedPnLPct),
			t.CreatedAt.UTC().Format(time.RFC3339),
			formatOptTime(t.FilledAt),
		}
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flush csv: %w", err)
	}
	return sb.String(), nil
}

// Cleanup deletes trades older than the cutoff. A linked entry/exit pair is
// only removed when both sides are past the cutoff; it is never split.
// Returns how many trades were deleted.
func (l *Logger) Cleanup(ctx context.Context, olderThanDays int) (int, error) {
	if olderThanDays <= 0 {
		return 0, fmt.Errorf("%w: olderThanDays must be > 0", types.ErrInvalid)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().AddDate(0, 0, -olderThanDays)
	old, err := l.store.Query(ctx, types.TradeFilter{To: cutoff})
	if err != nil {
		return 0, err
	}
	if len(old) == 0 {
		return 0, nil
	}

	oldIDs := make(map[string]bool, len(old))
	for _, t := range old {
		oldIDs[t.ID] = true
	}

	var deletable []string
	for _, t := range old {
		if counterpart := linkedID(t); counterpart != "" && !oldIDs[counterpart] {
			continue
		}
		deletable = append(deletable, t.ID)
	}
	if len(deletable) == 0 {
		return 0, nil
	}
	if err := l.store.Delete(ctx, deletable); err != nil {
		return 0, err
	}

	l.logger.Info("trade retention cleanup", "deleted", len(deletable), "cutoff", cutoff)
	return len(deletable), nil
}

func linkedID(t types.Trade) string {
	if t.ExitTradeID != "" {
		return t.ExitTradeID
	}
	return t.EntryTradeID
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatOptFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}

func formatOptTime(v *time.Time) string {
	if v == nil {
		return ""
	}
	return v.UTC().Format(time.RFC3339)
}
