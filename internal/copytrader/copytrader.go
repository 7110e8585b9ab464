// Package copytrader mirrors whale trades as gateway orders under a
// configurable policy: follow set, size thresholds, market filters,
// saturation caps, sizing modes, and a deliberate copy delay.
package copytrader

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradegate/internal/events"
	"tradegate/internal/ledger"
	"tradegate/internal/ports"
	"tradegate/pkg/types"
)

// Skip reasons emitted with tradeSkipped events.
const (
	SkipNotFollowed        = "address_not_followed"
	SkipTooSmall           = "trade_too_small"
	SkipMarketExcluded     = "market_excluded"
	SkipMaxPositionReached = "max_position_reached"
)

// Sizing modes.
const (
	SizingFixed        = "fixed"
	SizingProportional = "proportional"
	SizingPercentage   = "percentage"
)

// Config is the copy policy.
type Config struct {
	Venue           types.Venue
	FollowAddresses []string
	ExcludedMarkets []string

	// MinTradeSize ignores whale trades below this USD value.
	MinTradeSize float64
	// MaxPositionSize caps copied exposure per market, in USD.
	MaxPositionSize float64

	SizingMode           string  // fixed | proportional | percentage
	FixedSize            float64 // USD, for fixed
	ProportionMultiplier float64 // for proportional
	PortfolioPercentage  float64 // percent of portfolio value, for percentage

	// CopyDelay postpones execution after the whale trade is seen.
	CopyDelay time.Duration
	// MaxSlippagePct widens the copy limit price, in percent.
	MaxSlippagePct float64

	// StopLossPct / TakeProfitPct, when > 0, put copied positions under a
	// price watch.
	StopLossPct   float64
	TakeProfitPct float64
	// WatchInterval spaces the price-watch polls. Defaults to 5s.
	WatchInterval time.Duration
}

// Totals counts policy outcomes.
type Totals struct {
	Copied  int `json:"copied"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// SkippedTrade is the payload of a tradeSkipped event.
type SkippedTrade struct {
	Trade  types.WhaleTrade `json:"trade"`
	Reason string           `json:"reason"`
}

// Trader subscribes to whale trade events and re-emits them as orders. Every
// copy order, entry and exit, is recorded through the ledger before it
// reaches the venue.
type Trader struct {
	cfg    Config
	exec   ports.ExecutionPort
	md     ports.MarketDataPort
	pf     ports.PortfolioProvider
	ledger *ledger.Logger
	bus    *events.Bus
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	followed map[string]bool
	excluded map[string]bool
	open     map[string][]types.CopiedTrade // market|outcome
	timers   map[string]*time.Timer
	totals   Totals

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config, exec ports.ExecutionPort, md ports.MarketDataPort, pf ports.PortfolioProvider, led *ledger.Logger, bus *events.Bus, logger *slog.Logger) *Trader {
	if cfg.WatchInterval <= 0 {
		cfg.WatchInterval = 5 * time.Second
	}
	t := &Trader{
		cfg:      cfg,
		exec:     exec,
		md:       md,
		pf:       pf,
		ledger:   led,
		bus:      bus,
		logger:   logger.With("component", "copytrader"),
		followed: make(map[string]bool),
		excluded: make(map[string]bool),
		open:     make(map[string][]types.CopiedTrade),
		timers:   make(map[string]*time.Timer),
	}
	for _, addr := range cfg.FollowAddresses {
		t.followed[strings.ToLower(addr)] = true
	}
	for _, market := range cfg.ExcludedMarkets {
		t.excluded[market] = true
	}
	return t
}

// Start subscribes to whale trade events. Idempotent while running.
func (t *Trader) Start(ctx context.Context) {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return
	}
	t.running = true
	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.mu.Unlock()

	ch, unsub := t.bus.Subscribe(events.TopicWhaleTrade)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer unsub()
		for {
			select {
			case <-runCtx.Done():
				return
			case evt, ok := <-ch:
				if !ok {
					return
				}
				if trade, ok := evt.Payload.(types.WhaleTrade); ok {
					t.Handle(runCtx, trade)
				}
			}
		}
	}()
	t.logger.Info("copy trader started", "followed", len(t.followed), "delay", t.cfg.CopyDelay)
}

// Stop cancels the subscription and every pending copy timer. After Stop
// returns no timer fires.
func (t *Trader) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	cancel := t.cancel
	t.cancel = nil
	for id, timer := range t.timers {
		timer.Stop()
		delete(t.timers, id)
	}
	t.mu.Unlock()

	cancel()
	t.wg.Wait()
	t.logger.Info("copy trader stopped")
}

// Follow adds an address to the follow set at runtime.
func (t *Trader) Follow(addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.followed[strings.ToLower(addr)] = true
}

// Unfollow removes an address from the follow set.
func (t *Trader) Unfollow(addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.followed, strings.ToLower(addr))
}

// Handle applies the copy policy to one whale trade. Accepted trades are
// scheduled after the copy delay; rejected ones emit tradeSkipped.
func (t *Trader) Handle(ctx context.Context, trade types.WhaleTrade) {
	if reason := t.check(trade); reason != "" {
		t.skip(trade, reason)
		return
	}

	size, err := t.resolveSize(ctx, trade)
	if err != nil {
		t.logger.Warn("sizing failed", "market", trade.MarketID, "error", err)
		t.bus.Publish(events.TopicError, err)
		return
	}

	copied := types.CopiedTrade{
		ID:       uuid.NewString(),
		Original: trade,
		Side:     trade.Side,
		Size:     size,
		Status:   "pending",
	}

	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.timers[copied.ID] = time.AfterFunc(t.cfg.CopyDelay, func() {
		t.mu.Lock()
		delete(t.timers, copied.ID)
		alive := t.running
		t.mu.Unlock()
		if alive && ctx.Err() == nil {
			t.execute(ctx, copied)
		}
	})
	t.mu.Unlock()

	t.logger.Info("copy scheduled",
		"market", trade.MarketID, "side", trade.Side, "size", size, "delay", t.cfg.CopyDelay)
}

// check runs the reject pipeline and returns the first skip reason, or "".
func (t *Trader) check(trade types.WhaleTrade) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.followed[strings.ToLower(trade.Maker)] && !t.followed[strings.ToLower(trade.Taker)] {
		return SkipNotFollowed
	}
	if trade.USDValue < t.cfg.MinTradeSize {
		return SkipTooSmall
	}
	if t.excluded[trade.MarketID] {
		return SkipMarketExcluded
	}
	if t.cfg.MaxPositionSize > 0 {
		var held float64
		for _, ct := range t.open[positionKey(trade.MarketID, trade.Outcome)] {
			held += ct.Size * ct.EntryPrice
		}
		if held >= t.cfg.MaxPositionSize {
			return SkipMaxPositionReached
		}
	}
	return ""
}

// resolveSize computes the copied share count per the sizing mode, capped at
// MaxPositionSize.
func (t *Trader) resolveSize(ctx context.Context, trade types.WhaleTrade) (float64, error) {
	var usd float64
	switch t.cfg.SizingMode {
	case SizingProportional:
		usd = trade.USDValue * t.cfg.ProportionMultiplier
	case SizingPercentage:
		snap, err := t.pf.Snapshot(ctx)
		if err != nil {
			return 0, fmt.Errorf("%w: portfolio snapshot: %v", types.ErrNetwork, err)
		}
		usd = snap.Value * t.cfg.PortfolioPercentage / 100
	default: // fixed
		usd = t.cfg.FixedSize
	}
	if t.cfg.MaxPositionSize > 0 && usd > t.cfg.MaxPositionSize {
		usd = t.cfg.MaxPositionSize
	}
	if usd <= 0 || trade.Price <= 0 {
		return 0, fmt.Errorf("%w: resolved copy size %.2f at price %.4f", types.ErrInvalid, usd, trade.Price)
	}
	return usd / trade.Price, nil
}

// execute places the delayed copy order as a limit order shifted by the
// slippage allowance. The order is logged through the ledger before it
// reaches the venue, and the fill flows back into the same record.
func (t *Trader) execute(ctx context.Context, copied types.CopiedTrade) {
	trade := copied.Original

	shift := 1 + t.cfg.MaxSlippagePct/100
	if trade.Side == types.SideSell {
		shift = 1 - t.cfg.MaxSlippagePct/100
	}
	limitPrice := trade.Price * shift

	logged, err := t.ledger.LogTrade(ctx, types.Trade{
		Venue:        t.cfg.Venue,
		MarketID:     trade.MarketID,
		Outcome:      trade.Outcome,
		Side:         trade.Side,
		OrderKind:    types.OrderLimit,
		Price:        limitPrice,
		Size:         copied.Size,
		StrategyID:   "copytrader",
		StrategyName: "Copy Trader",
		Meta: map[string]string{
			"copyID":     copied.ID,
			"whaleMaker": trade.Maker,
		},
	})
	if err != nil {
		t.logger.Warn("copy ledger write failed", "market", trade.MarketID, "error", err)
		t.bus.Publish(events.TopicError, err)
		return
	}
	copied.TradeID = logged.ID

	result, err := t.exec.PlaceOrder(ctx, types.OrderSpec{
		Venue:     t.cfg.Venue,
		MarketID:  trade.MarketID,
		Outcome:   trade.Outcome,
		Side:      trade.Side,
		Price:     limitPrice,
		Size:      copied.Size,
		OrderKind: types.OrderLimit,
	})
	if err != nil || !result.Success {
		if err == nil {
			err = fmt.Errorf("%w: %s", types.ErrVenue, result.Error)
		}
		if _, ferr := t.ledger.MarkFailed(ctx, logged.ID, err.Error()); ferr != nil {
			t.logger.Warn("copy failure not recorded", "id", logged.ID, "error", ferr)
		}
		t.mu.Lock()
		t.totals.Failed++
		t.mu.Unlock()
		t.logger.Warn("copy order failed", "market", trade.MarketID, "error", err)
		t.bus.Publish(events.TopicError, err)
		return
	}

	fillPrice := result.AvgFillPrice
	if fillPrice <= 0 {
		fillPrice = limitPrice
	}
	fillSize := result.FilledSize
	if fillSize <= 0 {
		fillSize = copied.Size
	}
	if _, err := t.ledger.FillTrade(ctx, logged.ID, fillPrice, fillSize, 0); err != nil {
		t.logger.Warn("copy fill not recorded", "id", logged.ID, "error", err)
		t.bus.Publish(events.TopicError, err)
	}

	copied.CopiedAt = time.Now()
	copied.EntryPrice = limitPrice
	copied.Status = "open"
	copied.OrderID = result.OrderID

	t.mu.Lock()
	key := positionKey(trade.MarketID, trade.Outcome)
	t.open[key] = append(t.open[key], copied)
	t.totals.Copied++
	watch := t.running && (t.cfg.StopLossPct > 0 || t.cfg.TakeProfitPct > 0)
	if watch {
		t.wg.Add(1)
	}
	t.mu.Unlock()

	t.logger.Info("whale trade copied",
		"market", trade.MarketID, "side", trade.Side, "size", copied.Size, "price", limitPrice)
	t.bus.Publish(events.TopicTradeCopied, copied)

	if watch {
		go t.watchPosition(ctx, copied)
	}
}

// watchPosition polls the market price and closes the copied position when
// the stop-loss or take-profit bound is crossed.
func (t *Trader) watchPosition(ctx context.Context, copied types.CopiedTrade) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.cfg.WatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		price, ok := t.md.GetPrice(ctx, t.cfg.Venue, copied.Original.MarketID)
		if !ok || copied.EntryPrice <= 0 {
			continue
		}
		changePct := (price - copied.EntryPrice) / copied.EntryPrice * 100
		if copied.Side == types.SideSell {
			changePct = -changePct
		}

		crossed := (t.cfg.StopLossPct > 0 && changePct <= -t.cfg.StopLossPct) ||
			(t.cfg.TakeProfitPct > 0 && changePct >= t.cfg.TakeProfitPct)
		if !crossed {
			continue
		}

		if err := t.closeOne(ctx, copied, price); err != nil {
			t.logger.Warn("watched close failed", "market", copied.Original.MarketID, "error", err)
			t.bus.Publish(events.TopicError, err)
		}
		return
	}
}

// closeOne exits a single copied position at the given price. The exit is
// logged and filled through the ledger and linked back to the entry record
// with the realized P&L.
func (t *Trader) closeOne(ctx context.Context, copied types.CopiedTrade, price float64) error {
	exitSide := types.SideSell
	if copied.Side == types.SideSell {
		exitSide = types.SideBuy
	}

	exit, err := t.ledger.LogTrade(ctx, types.Trade{
		Venue:        t.cfg.Venue,
		MarketID:     copied.Original.MarketID,
		Outcome:      copied.Original.Outcome,
		Side:         exitSide,
		OrderKind:    types.OrderMarket,
		Price:        price,
		Size:         copied.Size,
		StrategyID:   "copytrader",
		StrategyName: "Copy Trader",
		Meta:         map[string]string{"copyID": copied.ID},
	})
	if err != nil {
		return fmt.Errorf("close copy: log exit: %w", err)
	}

	result, err := t.exec.PlaceOrder(ctx, types.OrderSpec{
		Venue:     t.cfg.Venue,
		MarketID:  copied.Original.MarketID,
		Outcome:   copied.Original.Outcome,
		Side:      exitSide,
		Price:     price,
		Size:      copied.Size,
		OrderKind: types.OrderMarket,
	})
	if err != nil {
		if _, ferr := t.ledger.MarkFailed(ctx, exit.ID, err.Error()); ferr != nil {
			t.logger.Warn("exit failure not recorded", "id", exit.ID, "error", ferr)
		}
		return fmt.Errorf("%w: close copy: %v", types.ErrNetwork, err)
	}
	if !result.Success {
		if _, ferr := t.ledger.MarkFailed(ctx, exit.ID, result.Error); ferr != nil {
			t.logger.Warn("exit failure not recorded", "id", exit.ID, "error", ferr)
		}
		return fmt.Errorf("%w: close copy: %s", types.ErrVenue, result.Error)
	}

	pnl := (price - copied.EntryPrice) * copied.Size
	if copied.Side == types.SideSell {
		pnl = -pnl
	}
	copied.ExitPrice = price
	copied.Status = "closed"
	copied.PnL = pnl

	fillPrice := result.AvgFillPrice
	if fillPrice <= 0 {
		fillPrice = price
	}
	fillSize := result.FilledSize
	if fillSize <= 0 {
		fillSize = copied.Size
	}
	if _, err := t.ledger.FillTrade(ctx, exit.ID, fillPrice, fillSize, 0); err != nil {
		t.logger.Warn("exit fill not recorded", "id", exit.ID, "error", err)
	}
	if copied.TradeID != "" {
		if _, err := t.ledger.LinkTrades(ctx, copied.TradeID, exit.ID, pnl); err != nil {
			t.logger.Warn("entry/exit link not recorded", "entry", copied.TradeID, "exit", exit.ID, "error", err)
		}
	}

	t.mu.Lock()
	key := positionKey(copied.Original.MarketID, copied.Original.Outcome)
	remaining := t.open[key][:0]
	for _, ct := range t.open[key] {
		if ct.ID != copied.ID {
			remaining = append(remaining, ct)
		}
	}
	if len(remaining) == 0 {
		delete(t.open, key)
	} else {
		t.open[key] = remaining
	}
	t.mu.Unlock()

	t.bus.Publish(events.TopicPositionClosed, copied)
	return nil
}

// CloseAllPositions exits every open copied position sequentially. Close
// calls are serialised to avoid order storms against one venue.
func (t *Trader) CloseAllPositions(ctx context.Context) error {
	t.mu.Lock()
	var all []types.CopiedTrade
	for _, list := range t.open {
		all = append(all, list...)
	}
	t.mu.Unlock()

	var firstErr error
	for _, copied := range all {
		price, ok := t.md.GetPrice(ctx, t.cfg.Venue, copied.Original.MarketID)
		if !ok {
			price = copied.EntryPrice
		}
		if err := t.closeOne(ctx, copied, price); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// OpenPositions returns a snapshot of all open copied trades.
func (t *Trader) OpenPositions() []types.CopiedTrade {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []types.CopiedTrade
	for _, list := range t.open {
		out = append(out, list...)
	}
	return out
}

// Stats returns the running totals.
func (t *Trader) Stats() Totals {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totals
}

func (t *Trader) skip(trade types.WhaleTrade, reason string) {
	t.mu.Lock()
	t.totals.Skipped++
	t.mu.Unlock()

	t.logger.Debug("whale trade skipped", "market", trade.MarketID, "reason", reason)
	t.bus.Publish(events.TopicTradeSkipped, SkippedTrade{Trade: trade, Reason: reason})
}

func positionKey(marketID, outcome string) string {
	return marketID + "|" + outcome
}
