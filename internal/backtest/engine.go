// Package backtest replays historical ticks against a strategy and produces
// the same trade records as live trading plus equity-curve analytics.
//
// Replay is deterministic: the same strategy, tick stream, and config always
// produce identical trades and metrics. All per-tick state lives in the
// engine; nothing is shared with the live scheduler unless the caller passes
// the live ledger in.
package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"tradegate/internal/events"
	"tradegate/internal/ledger"
	"tradegate/internal/store"
	"tradegate/internal/strategy"
	"tradegate/pkg/ring"
	"tradegate/pkg/types"
)

// Config controls one backtest run. CommissionPct and SlippagePct are
// fractions (0.01 = 1%).
type Config struct {
	InitialCapital float64
	CommissionPct  float64
	SlippagePct    float64
	RiskFreeRate   float64 // annualised, fraction

	// EvalInterval throttles strategy evaluation; 0 evaluates on every tick.
	EvalInterval time.Duration

	// PriceHistorySize bounds the rolling history handed to the strategy.
	// Defaults to 100.
	PriceHistorySize int

	// IncludeOrderbook attaches the nearest snapshot (within 60s before the
	// tick) to the strategy context.
	IncludeOrderbook bool

	From time.Time
	To   time.Time
}

// EquityPoint is one sample of the simulated account value.
type EquityPoint struct {
	Time   time.Time `json:"time"`
	Equity float64   `json:"equity"`
}

// Result is the outcome of one backtest run.
type Result struct {
	Config Config `json:"config"`

	TotalTrades    int     `json:"total_trades"`
	WinningTrades  int     `json:"winning_trades"`
	WinRate        float64 `json:"win_rate"`
	FinalEquity    float64 `json:"final_equity"`
	TotalReturn    float64 `json:"total_return"`
	TotalReturnPct float64 `json:"total_return_pct"`
	MaxDrawdown    float64 `json:"max_drawdown"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	SharpeRatio    float64 `json:"sharpe_ratio"`
	ProfitFactor   float64 `json:"profit_factor"`
	AvgTrade       float64 `json:"avg_trade"`

	TotalCommission float64 `json:"total_commission"`
	TotalSlippage   float64 `json:"total_slippage"`
	RejectedOrders  int     `json:"rejected_orders"`

	DailyReturns []float64     `json:"daily_returns"`
	EquityCurve  []EquityPoint `json:"equity_curve"`
	Trades       []types.Trade `json:"trades"`
}

// TickLoader reads recorded ticks for one market triple, the persistence
// side of the tick recorder.
type TickLoader interface {
	LoadTicks(ctx context.Context, key types.MarketKey, from, to time.Time) ([]types.Tick, error)
}

// Engine runs backtests. Safe to reuse across runs; each Run carries its own
// state.
type Engine struct {
	ledger   *ledger.Logger
	ownStore *store.SQLite
	logger   *slog.Logger
}

// New creates an engine sharing the given ledger. Pass the live ledger to
// write backtest trades into the live store, or use NewIsolated.
func New(led *ledger.Logger, logger *slog.Logger) *Engine {
	return &Engine{ledger: led, logger: logger.With("component", "backtest")}
}

// NewIsolated creates an engine with a private in-memory ledger, keeping
// simulated trades out of the live store.
func NewIsolated(logger *slog.Logger) (*Engine, error) {
	s, err := store.OpenMemory()
	if err != nil {
		return nil, err
	}
	bus := events.NewBus(16, logger)
	return &Engine{
		ledger:   ledger.New(s, bus, logger),
		ownStore: s,
		logger:   logger.With("component", "backtest"),
	}, nil
}

// Close releases the private store, if any.
func (e *Engine) Close() error {
	if e.ownStore != nil {
		return e.ownStore.Close()
	}
	return nil
}

// simPosition is one synthetic holding during replay.
type simPosition struct {
	key          types.MarketKey
	shares       float64
	avgPrice     float64
	currentPrice float64
	entryTradeID string
	entryCost    float64
}

// run-scoped state.
type runState struct {
	cfg      Config
	cash     float64
	pos      map[string]*simPosition
	posOrder []string // insertion order, for deterministic equity sums
	history  map[string]*ring.Buffer[types.Tick]
	books    []types.OrderBookSnapshot
	result   *Result
	lastEval time.Time
	evalled  bool
}

// Run replays the tick stream against the strategy. Ticks are sorted by
// timestamp before replay; books must be provided when IncludeOrderbook is
// set.
func (e *Engine) Run(ctx context.Context, st strategy.Strategy, cfg Config, ticks []types.Tick, books []types.OrderBookSnapshot) (*Result, error) {
	if cfg.InitialCapital <= 0 {
		return nil, fmt.Errorf("%w: initial capital must be > 0", types.ErrInvalid)
	}
	if cfg.PriceHistorySize <= 0 {
		cfg.PriceHistorySize = 100
	}

	sorted := make([]types.Tick, 0, len(ticks))
	for _, tick := range ticks {
		if !cfg.From.IsZero() && tick.Time.Before(cfg.From) {
			continue
		}
		if !cfg.To.IsZero() && tick.Time.After(cfg.To) {
			continue
		}
		sorted = append(sorted, tick)
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })

	sortedBooks := make([]types.OrderBookSnapshot, len(books))
	copy(sortedBooks, books)
	sort.SliceStable(sortedBooks, func(i, j int) bool {
		return sortedBooks[i].Timestamp.Before(sortedBooks[j].Timestamp)
	})

	rs := &runState{
		cfg:     cfg,
		cash:    cfg.InitialCapital,
		pos:     make(map[string]*simPosition),
		history: make(map[string]*ring.Buffer[types.Tick]),
		books:   sortedBooks,
		result:  &Result{Config: cfg, FinalEquity: cfg.InitialCapital},
	}

	if err := st.Init(ctx); err != nil {
		return nil, fmt.Errorf("%w: init: %v", types.ErrStrategy, err)
	}
	defer func() {
		if err := st.Cleanup(); err != nil {
			e.logger.Warn("strategy cleanup failed", "error", err)
		}
	}()

	for _, tick := range sorted {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := e.step(ctx, st, rs, tick); err != nil {
			return nil, err
		}
	}

	finalize(rs)
	e.logger.Info("backtest complete",
		"ticks", len(sorted), "trades", rs.result.TotalTrades,
		"finalEquity", rs.result.FinalEquity, "return", rs.result.TotalReturnPct)
	return rs.result, nil
}

// RunFromRecorder replays ticks loaded from the tick recorder.
func (e *Engine) RunFromRecorder(ctx context.Context, st strategy.Strategy, cfg Config, loader TickLoader, key types.MarketKey) (*Result, error) {
	ticks, err := loader.LoadTicks(ctx, key, cfg.From, cfg.To)
	if err != nil {
		return nil, err
	}
	return e.Run(ctx, st, cfg, ticks, nil)
}

func (e *Engine) step(ctx context.Context, st strategy.Strategy, rs *runState, tick types.Tick) error {
	key := tick.Key().String()

	buf, ok := rs.history[key]
	if !ok {
		buf = ring.New[types.Tick](rs.cfg.PriceHistorySize)
		rs.history[key] = buf
	}
	buf.Push(tick)

	if pos, ok := rs.pos[key]; ok {
		pos.currentPrice = tick.Price
	}

	evaluate := true
	if rs.cfg.EvalInterval > 0 && rs.evalled {
		evaluate = tick.Time.Sub(rs.lastEval) >= rs.cfg.EvalInterval
	}

	if evaluate {
		rs.lastEval = tick.Time
		rs.evalled = true

		sctx := e.buildContext(rs, tick)
		signals, err := st.Evaluate(ctx, sctx)
		if err != nil {
			return fmt.Errorf("%w: evaluate at %s: %v", types.ErrStrategy, tick.Time, err)
		}
		for _, sig := range signals {
			if sig.Type == types.SignalHold {
				continue
			}
			if err := e.fill(ctx, st, rs, tick, sig); err != nil {
				return err
			}
		}
	}

	rs.result.EquityCurve = append(rs.result.EquityCurve, EquityPoint{Time: tick.Time, Equity: equity(rs)})
	return nil
}

func (e *Engine) buildContext(rs *runState, tick types.Tick) *types.StrategyContext {
	sctx := &types.StrategyContext{
		Balance:      rs.cash,
		Positions:    make(map[string]types.Position, len(rs.pos)),
		PriceHistory: make(map[string][]types.Tick, len(rs.history)),
		Timestamp:    tick.Time,
		IsBacktest:   true,
	}
	sctx.PortfolioValue = equity(rs)
	for key, buf := range rs.history {
		sctx.PriceHistory[key] = buf.Snapshot()
	}
	for i := len(rs.result.Trades) - 1; i >= 0 && len(sctx.RecentTrades) < 100; i-- {
		sctx.RecentTrades = append(sctx.RecentTrades, rs.result.Trades[i])
	}
	for _, key := range rs.posOrder {
		pos, ok := rs.pos[key]
		if !ok {
			continue
		}
		sctx.Positions[key] = types.Position{
			Key: pos.key, Shares: pos.shares, AvgPrice: pos.avgPrice, CurrentPrice: pos.currentPrice,
		}
	}
	if rs.cfg.IncludeOrderbook {
		if book, ok := nearestBook(rs.books, tick.Time); ok {
			sctx.Orderbook = &book
		}
	}
	return sctx
}

// nearestBook finds the latest snapshot taken at or before ts, but no more
// than 60s earlier, by binary search over the sorted snapshot slice.
func nearestBook(books []types.OrderBookSnapshot, ts time.Time) (types.OrderBookSnapshot, bool) {
	if len(books) == 0 {
		return types.OrderBookSnapshot{}, false
	}
	idx := sort.Search(len(books), func(i int) bool { return books[i].Timestamp.After(ts) })
	if idx == 0 {
		return types.OrderBookSnapshot{}, false
	}
	book := books[idx-1]
	if ts.Sub(book.Timestamp) > time.Minute {
		return types.OrderBookSnapshot{}, false
	}
	return book, true
}

// fill simulates one signal against the current tick.
func (e *Engine) fill(ctx context.Context, st strategy.Strategy, rs *runState, tick types.Tick, sig types.Signal) error {
	cfg := st.Config()
	key := sig.Key()
	pos := rs.pos[key.String()]

	side := types.SideBuy
	if sig.Type == types.SignalSell || sig.Type == types.SignalClose {
		side = types.SideSell
	}

	sgn := 1.0
	if side == types.SideSell {
		sgn = -1.0
	}
	fillPrice := tick.Price * (1 + rs.cfg.SlippagePct*sgn)

	size := sig.Size
	if size <= 0 && sig.SizePct > 0 {
		size = equity(rs) * sig.SizePct / 100 / fillPrice
	}
	if side == types.SideSell {
		if pos == nil || pos.shares <= 0 {
			return nil
		}
		if size <= 0 || size > pos.shares {
			size = pos.shares
		}
	}
	if size <= 0 {
		return nil
	}

	notional := fillPrice * size
	commission := notional * rs.cfg.CommissionPct
	slippage := abs(fillPrice-tick.Price) * size

	if side == types.SideBuy && notional+commission > rs.cash {
		// Rejected per-signal; the run continues.
		rs.result.RejectedOrders++
		e.logger.Debug("backtest buy rejected",
			"market", sig.MarketID,
			"error", fmt.Errorf("%w: need %.4f, cash %.4f", types.ErrInsufficientFunds, notional+commission, rs.cash))
		return nil
	}

	trade, err := e.ledger.LogTrade(ctx, types.Trade{
		Venue: sig.Venue, MarketID: sig.MarketID, Outcome: sig.Outcome,
		Side: side, OrderKind: types.OrderMarket,
		Price: fillPrice, Size: size,
		StrategyID: cfg.ID, StrategyName: cfg.Name,
		Meta: map[string]string{"backtest": "true"},
	})
	if err != nil {
		return err
	}
	filled, err := e.ledger.FillTrade(ctx, trade.ID, fillPrice, size, commission)
	if err != nil {
		return err
	}

	rs.result.TotalCommission += commission
	rs.result.TotalSlippage += slippage

	if side == types.SideBuy {
		rs.cash -= notional + commission
		if pos == nil {
			rs.pos[key.String()] = &simPosition{
				key: key, shares: size, avgPrice: fillPrice, currentPrice: tick.Price,
				entryTradeID: filled.ID, entryCost: notional,
			}
			if !containsKey(rs.posOrder, key.String()) {
				rs.posOrder = append(rs.posOrder, key.String())
			}
		} else {
			total := pos.shares + size
			pos.avgPrice = (pos.avgPrice*pos.shares + fillPrice*size) / total
			pos.shares = total
			pos.entryCost += notional
		}
	} else {
		rs.cash += notional - commission
		pnl := (fillPrice-pos.avgPrice)*size - commission
		linked, err := e.ledger.LinkTrades(ctx, pos.entryTradeID, filled.ID, pnl)
		if err != nil {
			return err
		}
		if linked != nil {
			for i := range rs.result.Trades {
				if rs.result.Trades[i].ID == linked.ID {
					rs.result.Trades[i] = *linked
					break
				}
			}
		}
		pos.shares -= size
		if pos.shares <= 1e-9 {
			delete(rs.pos, key.String())
		}
	}

	rs.result.Trades = append(rs.result.Trades, *filled)
	rs.result.TotalTrades++
	return nil
}

func equity(rs *runState) float64 {
	total := rs.cash
	for _, key := range rs.posOrder {
		if pos, ok := rs.pos[key]; ok {
			total += pos.shares * pos.currentPrice
		}
	}
	return total
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func containsKey(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}
