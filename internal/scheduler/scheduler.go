// Package scheduler owns the strategy registry and drives each registered
// strategy on its configured cadence.
//
// Each running bot gets one goroutine that serialises its evaluations; ticks
// that arrive while an evaluation is still in flight are coalesced, never
// queued. Distinct bots evaluate concurrently. Signals flow through the risk
// gate to the execution port, and every resulting order is recorded by the
// shared trade ledger.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tradegate/internal/events"
	"tradegate/internal/ledger"
	"tradegate/internal/ports"
	"tradegate/internal/strategy"
	"tradegate/pkg/types"
)

// ConfigStore persists strategy configs across restarts.
type ConfigStore interface {
	SaveStrategyConfig(ctx context.Context, cfg types.StrategyConfig) error
	DeleteStrategyConfig(ctx context.Context, id string) error
	LoadStrategyConfigs(ctx context.Context) ([]types.StrategyConfig, error)
}

// Options configures a Scheduler.
type Options struct {
	MarketData ports.MarketDataPort
	Execution  ports.ExecutionPort
	Portfolio  ports.PortfolioProvider
	Ledger     *ledger.Logger // shared with the backtester when non-nil
	Configs    ConfigStore
	Bus        *events.Bus
	Logger     *slog.Logger

	// PriceHistorySize bounds the per-market tick history handed to
	// strategies. Defaults to 500.
	PriceHistorySize int
}

type bot struct {
	strategy strategy.Strategy
	status   types.BotStatus

	cancel  context.CancelFunc
	done    chan struct{}
	running bool // loop goroutine alive
}

// Scheduler is the bot manager.
type Scheduler struct {
	opts    Options
	gate    *riskGate
	builder *contextBuilder
	feed    *feed
	logger  *slog.Logger

	mu   sync.Mutex
	bots map[string]*bot

	baseCtx    context.Context
	baseCancel context.CancelFunc
}

// New creates a scheduler. The ledger is shared: passing the live ledger
// here and to a BacktestEngine puts both on one store, passing separate
// ledgers isolates them.
func New(opts Options) *Scheduler {
	logger := opts.Logger.With("component", "scheduler")
	baseCtx, baseCancel := context.WithCancel(context.Background())

	fd := newFeed(opts.MarketData, opts.PriceHistorySize, logger)
	s := &Scheduler{
		opts: opts,
		gate: &riskGate{
			ledger: opts.Ledger,
			exec:   opts.Execution,
			bus:    opts.Bus,
			logger: logger,
		},
		builder: &contextBuilder{
			portfolio: opts.Portfolio,
			ledger:    opts.Ledger,
			md:        opts.MarketData,
			feed:      fd,
			logger:    logger,
		},
		feed:       fd,
		logger:     logger,
		bots:       make(map[string]*bot),
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
	}
	return s
}

// Register indexes a strategy by its config id. Registering a duplicate id
// replaces the previous registration (stopping it first) and logs the
// replacement. The status is seeded from historical stats and the config is
// persisted.
func (s *Scheduler) Register(ctx context.Context, st strategy.Strategy) error {
	cfg := st.Config()
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	_, replacing := s.bots[cfg.ID]
	s.mu.Unlock()
	if replacing {
		s.logger.Info("re-registering strategy, stopping previous instance", "id", cfg.ID)
		if err := s.StopBot(ctx, cfg.ID); err != nil {
			return err
		}
	}

	status := types.BotStatus{ID: cfg.ID, Name: cfg.Name, State: types.BotStopped}
	if stats, err := s.opts.Ledger.GetStats(ctx, types.TradeFilter{StrategyID: cfg.ID}); err == nil {
		status.TradesCount = stats.TotalTrades
		status.TotalPnL = stats.TotalPnL
		status.WinRate = stats.WinRate
	}

	s.mu.Lock()
	s.bots[cfg.ID] = &bot{strategy: st, status: status}
	s.mu.Unlock()

	if s.opts.Configs != nil {
		if err := s.opts.Configs.SaveStrategyConfig(ctx, cfg); err != nil {
			return err
		}
	}
	s.feed.track(s.baseCtx, cfg)

	s.logger.Info("strategy registered", "id", cfg.ID, "name", cfg.Name, "interval", cfg.Interval)
	return nil
}

// Unregister stops the bot if needed and removes its in-memory state.
// Historical trades are retained.
func (s *Scheduler) Unregister(ctx context.Context, id string) error {
	if err := s.StopBot(ctx, id); err != nil {
		return err
	}

	s.mu.Lock()
	_, ok := s.bots[id]
	delete(s.bots, id)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: strategy %s", types.ErrNotFound, id)
	}

	if s.opts.Configs != nil {
		if err := s.opts.Configs.DeleteStrategyConfig(ctx, id); err != nil {
			return err
		}
	}
	s.logger.Info("strategy unregistered", "id", id)
	return nil
}

// StartBot transitions a bot to running. From stopped it calls the
// strategy's Init once, stamps startedAt, runs one immediate evaluation, and
// schedules the cadence. From paused or error it just resumes dispatch.
func (s *Scheduler) StartBot(ctx context.Context, id string) error {
	s.mu.Lock()
	b, ok := s.bots[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: strategy %s", types.ErrNotFound, id)
	}
	if b.running {
		b.status.State = types.BotRunning
		b.status.LastError = ""
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := b.strategy.Init(ctx); err != nil {
		return fmt.Errorf("%w: init %s: %v", types.ErrStrategy, id, err)
	}

	loopCtx, cancel := context.WithCancel(s.baseCtx)

	s.mu.Lock()
	b.cancel = cancel
	b.done = make(chan struct{})
	b.running = true
	b.status.State = types.BotRunning
	b.status.StartedAt = time.Now()
	b.status.LastError = ""
	s.mu.Unlock()

	go s.runLoop(loopCtx, b)

	s.opts.Bus.Publish(events.TopicBotStarted, s.statusCopy(id))
	s.logger.Info("bot started", "id", id)
	return nil
}

// PauseBot keeps the cadence firing but drops all signals.
func (s *Scheduler) PauseBot(id string) error {
	return s.setState(id, types.BotRunning, types.BotPaused)
}

// ResumeBot returns a paused bot to running.
func (s *Scheduler) ResumeBot(id string) error {
	return s.setState(id, types.BotPaused, types.BotRunning)
}

func (s *Scheduler) setState(id string, from, to types.BotState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bots[id]
	if !ok {
		return fmt.Errorf("%w: strategy %s", types.ErrNotFound, id)
	}
	if b.status.State != from {
		return fmt.Errorf("%w: bot %s is %s, not %s", types.ErrInvalid, id, b.status.State, from)
	}
	b.status.State = to
	return nil
}

// StopBot cancels the cadence, waits for any in-flight evaluation, and calls
// the strategy's Cleanup once. Idempotent on already-stopped bots.
func (s *Scheduler) StopBot(ctx context.Context, id string) error {
	s.mu.Lock()
	b, ok := s.bots[id]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	if !b.running {
		b.status.State = types.BotStopped
		s.mu.Unlock()
		return nil
	}
	cancel, done := b.cancel, b.done
	b.running = false
	s.mu.Unlock()

	cancel()
	<-done

	s.mu.Lock()
	b.status.State = types.BotStopped
	b.cancel = nil
	b.done = nil
	s.mu.Unlock()

	if err := b.strategy.Cleanup(); err != nil {
		s.logger.Warn("strategy cleanup failed", "id", id, "error", err)
	}

	s.opts.Bus.Publish(events.TopicBotStopped, s.statusCopy(id))
	s.logger.Info("bot stopped", "id", id)
	return nil
}

// EvaluateNow runs one out-of-band evaluation and returns the signals
// without dispatching them.
func (s *Scheduler) EvaluateNow(ctx context.Context, id string) ([]types.Signal, error) {
	s.mu.Lock()
	b, ok := s.bots[id]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: strategy %s", types.ErrNotFound, id)
	}

	cfg := b.strategy.Config()
	keys := marketKeys(cfg)
	sctx, err := s.builder.build(ctx, cfg, keys, time.Now())
	if err != nil {
		return nil, err
	}
	signals, err := b.strategy.Evaluate(ctx, sctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrStrategy, err)
	}
	return signals, nil
}

// GetBotStatus returns a value copy of one bot's status.
func (s *Scheduler) GetBotStatus(id string) (types.BotStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bots[id]
	if !ok {
		return types.BotStatus{}, false
	}
	return b.status, true
}

// ListBots returns value copies of every registered bot's status.
func (s *Scheduler) ListBots() []types.BotStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.BotStatus, 0, len(s.bots))
	for _, b := range s.bots {
		out = append(out, b.status)
	}
	return out
}

// Shutdown stops every bot and releases the feed subscriptions.
func (s *Scheduler) Shutdown(ctx context.Context) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.bots))
	for id := range s.bots {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		if err := s.StopBot(ctx, id); err != nil {
			s.logger.Warn("stop bot on shutdown", "id", id, "error", err)
		}
	}
	s.baseCancel()
}

// runLoop drives one bot: an immediate first evaluation, then one per
// interval. Evaluations are serialised by the loop itself; a tick landing
// during a slow evaluation is absorbed by the ticker and effectively skipped.
func (s *Scheduler) runLoop(ctx context.Context, b *bot) {
	defer close(b.done)

	cfg := b.strategy.Config()
	s.tick(ctx, b)

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, b)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, b *bot) {
	cfg := b.strategy.Config()

	s.mu.Lock()
	state := b.status.State
	s.mu.Unlock()
	if state != types.BotRunning && state != types.BotPaused {
		return
	}

	keys := marketKeys(cfg)
	sctx, err := s.builder.build(ctx, cfg, keys, time.Now())
	if err != nil {
		s.logger.Warn("context build failed", "strategy", cfg.ID, "error", err)
		return
	}

	signals, err := b.strategy.Evaluate(ctx, sctx)

	s.mu.Lock()
	b.status.LastCheck = time.Now()
	if err != nil {
		b.status.State = types.BotError
		b.status.LastError = err.Error()
		s.mu.Unlock()
		s.logger.Error("strategy evaluation failed", "strategy", cfg.ID, "error", err)
		s.opts.Bus.Publish(events.TopicError, fmt.Errorf("%w: %s: %v", types.ErrStrategy, cfg.ID, err))
		return
	}
	if len(signals) > 0 {
		sig := signals[0]
		b.status.LastSignal = &sig
	}
	paused := b.status.State == types.BotPaused
	s.mu.Unlock()

	if len(signals) == 0 {
		return
	}
	s.opts.Bus.Publish(events.TopicSignals, signals)
	if paused {
		return
	}

	for _, sig := range signals {
		if sig.Type == types.SignalHold {
			continue
		}
		trade, _, err := s.gate.dispatch(ctx, cfg, sctx, sig)
		if err != nil {
			s.logger.Error("signal dispatch failed", "strategy", cfg.ID, "market", sig.MarketID, "error", err)
			continue
		}
		if trade != nil {
			s.mu.Lock()
			b.status.TradesCount++
			s.mu.Unlock()
		}
	}
}

func (s *Scheduler) statusCopy(id string) types.BotStatus {
	status, _ := s.GetBotStatus(id)
	return status
}

func marketKeys(cfg types.StrategyConfig) []types.MarketKey {
	var out []types.MarketKey
	for _, venue := range cfg.Venues {
		for _, market := range cfg.Markets {
			out = append(out, types.MarketKey{Venue: venue, MarketID: market, Outcome: "YES"})
		}
	}
	return out
}
