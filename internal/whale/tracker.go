// Package whale watches a venue's public flow for large traders.
//
// The tracker runs two ingestion paths: a streaming subscription to trade
// events and a periodic poll of tracked addresses' positions. Both feed one
// shared state guarded by the tracker's mutex; every query method hands out
// snapshots, never live references.
package whale

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"tradegate/internal/events"
	"tradegate/pkg/ring"
	"tradegate/pkg/types"
)

// Config tunes the tracker's thresholds and cadences.
type Config struct {
	// MinTradeSize is the USD threshold below which trade events are ignored.
	MinTradeSize float64
	// MinPositionSize is the USD threshold below which polled positions are
	// ignored.
	MinPositionSize float64
	// PollInterval spaces position polls. Defaults to 60s.
	PollInterval time.Duration
	// ReconnectDelay is the fixed backoff between stream reconnects.
	// Defaults to 5s.
	ReconnectDelay time.Duration
	// RecentTradeCap bounds the recent-trade ring. Defaults to 1000.
	RecentTradeCap int
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Minute
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	if c.RecentTradeCap <= 0 {
		c.RecentTradeCap = 1000
	}
}

// positionEpsilon suppresses size-change noise.
const positionEpsilon = 0.01

// autoTrackMultiple: addresses trading at or above this multiple of
// MinTradeSize are tracked automatically.
const autoTrackMultiple = 5

// PositionChange is the payload of positionOpened / positionChanged /
// positionClosed events.
type PositionChange struct {
	Position types.WhalePosition `json:"position"`
	Delta    float64             `json:"delta,omitempty"`
	PnL      float64             `json:"pnl,omitempty"`
}

// closeStats accumulates observed position closes per address, backing the
// derived WinRate and AvgReturn on WhaleProfile.
type closeStats struct {
	closes    int
	wins      int
	sumReturn float64
}

// Tracker ingests venue flow and maintains whale profiles.
type Tracker struct {
	cfg     Config
	feed    TradeFeed
	fetcher PositionFetcher
	bus     *events.Bus
	logger  *slog.Logger

	mu        sync.Mutex
	running   bool
	tracked   map[string]bool
	profiles  map[string]*types.WhaleProfile
	positions map[string]types.WhalePosition // addr|market|outcome
	recent    *ring.Buffer[types.WhaleTrade]
	stats     map[string]*closeStats

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewTracker(cfg Config, feed TradeFeed, fetcher PositionFetcher, bus *events.Bus, logger *slog.Logger) *Tracker {
	cfg.applyDefaults()
	return &Tracker{
		cfg:       cfg,
		feed:      feed,
		fetcher:   fetcher,
		bus:       bus,
		logger:    logger.With("component", "whale-tracker"),
		tracked:   make(map[string]bool),
		profiles:  make(map[string]*types.WhaleProfile),
		positions: make(map[string]types.WhalePosition),
		recent:    ring.New[types.WhaleTrade](cfg.RecentTradeCap),
		stats:     make(map[string]*closeStats),
	}
}

// Start launches the stream and poll tasks. Idempotent while running.
func (t *Tracker) Start(ctx context.Context) {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return
	}
	t.running = true
	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.mu.Unlock()

	t.wg.Add(2)
	go t.streamLoop(runCtx)
	go t.pollLoop(runCtx)
	t.logger.Info("whale tracker started",
		"minTradeSize", t.cfg.MinTradeSize, "pollInterval", t.cfg.PollInterval)
}

// Stop cancels both tasks and waits for them to exit.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	cancel := t.cancel
	t.cancel = nil
	t.mu.Unlock()

	cancel()
	t.wg.Wait()
	t.logger.Info("whale tracker stopped")
}

func (t *Tracker) isRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// streamLoop keeps one feed session alive, reconnecting with a fixed delay
// while the tracker runs. Errors are logged and re-emitted, never fatal.
func (t *Tracker) streamLoop(ctx context.Context) {
	defer t.wg.Done()

	for t.isRunning() {
		err := t.feed.Connect(ctx, t.onTrade)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			t.logger.Warn("trade stream dropped, reconnecting",
				"delay", t.cfg.ReconnectDelay, "error", err)
			t.bus.Publish(events.TopicError, err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(t.cfg.ReconnectDelay):
		}
	}
}

func (t *Tracker) pollLoop(ctx context.Context) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.pollOnce(ctx)
		}
	}
}

// pollOnce fetches positions for every tracked address and runs the
// position state machine. Fetch errors degrade to empty results.
func (t *Tracker) pollOnce(ctx context.Context) {
	t.mu.Lock()
	addrs := make([]string, 0, len(t.tracked))
	for addr := range t.tracked {
		addrs = append(addrs, addr)
	}
	t.mu.Unlock()
	sort.Strings(addrs)

	for _, addr := range addrs {
		positions, err := t.fetcher.FetchPositions(ctx, addr)
		if err != nil {
			t.logger.Warn("position fetch failed", "address", addr, "error", err)
			continue
		}
		t.applyPositions(addr, positions)
	}
}

// onTrade handles one streamed trade event.
func (t *Tracker) onTrade(trade types.WhaleTrade) {
	if trade.USDValue < t.cfg.MinTradeSize {
		return
	}

	t.mu.Lock()
	t.recent.Push(trade)

	if trade.USDValue >= autoTrackMultiple*t.cfg.MinTradeSize {
		for _, addr := range []string{trade.Maker, trade.Taker} {
			if addr == "" {
				continue
			}
			t.tracked[addr] = true
			if _, ok := t.profiles[addr]; !ok {
				profile := &types.WhaleProfile{
					Address:    addr,
					FirstSeen:  trade.Timestamp,
					LastActive: trade.Timestamp,
				}
				t.profiles[addr] = profile
				t.mu.Unlock()
				t.logger.Info("new whale detected", "address", addr, "usdValue", trade.USDValue)
				t.bus.Publish(events.TopicNewWhale, *profile)
				t.mu.Lock()
			}
		}
	}
	for _, addr := range []string{trade.Maker, trade.Taker} {
		if profile, ok := t.profiles[addr]; ok {
			profile.LastActive = trade.Timestamp
			profile.RecentTrades = appendBounded(profile.RecentTrades, trade, 50)
		}
	}
	t.mu.Unlock()

	t.bus.Publish(events.TopicWhaleTrade, trade)
}

// applyPositions runs the per-position state machine for one address.
func (t *Tracker) applyPositions(addr string, polled []types.WhalePosition) {
	kept := make(map[string]types.WhalePosition)
	for _, pos := range polled {
		if pos.USDValue < t.cfg.MinPositionSize {
			continue
		}
		pos.Address = addr
		kept[positionKey(addr, pos.MarketID, pos.Outcome)] = pos
	}

	type emit struct {
		topic  string
		change PositionChange
	}
	var emits []emit

	t.mu.Lock()
	// Opened or changed.
	keys := make([]string, 0, len(kept))
	for key := range kept {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		pos := kept[key]
		prev, existed := t.positions[key]
		switch {
		case !existed && pos.Size > 0:
			t.positions[key] = pos
			emits = append(emits, emit{events.TopicPositionOpened, PositionChange{Position: pos}})
		case existed && abs(pos.Size-prev.Size) > positionEpsilon:
			t.positions[key] = pos
			emits = append(emits, emit{events.TopicPositionChange, PositionChange{Position: pos, Delta: pos.Size - prev.Size}})
		case existed:
			t.positions[key] = pos // refresh prices without an event
		}
	}
	// Closed: previously held for this address, now absent or zero.
	var closedKeys []string
	for key, prev := range t.positions {
		if prev.Address != addr {
			continue
		}
		if _, still := kept[key]; !still {
			closedKeys = append(closedKeys, key)
		}
	}
	sort.Strings(closedKeys)
	for _, key := range closedKeys {
		prev := t.positions[key]
		delete(t.positions, key)
		pnl := prev.UnrealizedPnL
		t.recordClose(addr, prev, pnl)
		emits = append(emits, emit{events.TopicPositionClosed, PositionChange{Position: prev, PnL: pnl}})
	}
	t.refreshProfileLocked(addr)
	t.mu.Unlock()

	for _, e := range emits {
		t.bus.Publish(e.topic, e.change)
	}
}

// recordClose folds one observed close into the address's derived stats.
// Caller holds the mutex.
func (t *Tracker) recordClose(addr string, pos types.WhalePosition, pnl float64) {
	st, ok := t.stats[addr]
	if !ok {
		st = &closeStats{}
		t.stats[addr] = st
	}
	st.closes++
	if pnl > 0 {
		st.wins++
	}
	if basis := pos.Size * pos.AvgEntryPrice; basis > 0 {
		st.sumReturn += pnl / basis
	}
}

// refreshProfileLocked recomputes the derived profile fields for one
// address. Caller holds the mutex.
func (t *Tracker) refreshProfileLocked(addr string) {
	profile, ok := t.profiles[addr]
	if !ok {
		profile = &types.WhaleProfile{Address: addr, FirstSeen: time.Now()}
		t.profiles[addr] = profile
	}

	var total float64
	var positions []types.WhalePosition
	for _, pos := range t.positions {
		if pos.Address == addr {
			total += pos.USDValue
			positions = append(positions, pos)
		}
	}
	sort.Slice(positions, func(i, j int) bool {
		return positionKey(addr, positions[i].MarketID, positions[i].Outcome) <
			positionKey(addr, positions[j].MarketID, positions[j].Outcome)
	})
	profile.TotalValue = total
	profile.Positions = positions

	if st, ok := t.stats[addr]; ok && st.closes > 0 {
		profile.WinRate = float64(st.wins) / float64(st.closes) * 100
		profile.AvgReturn = st.sumReturn / float64(st.closes)
	}
}

// TrackAddress adds an address to the poll set.
func (t *Tracker) TrackAddress(addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracked[addr] = true
	if _, ok := t.profiles[addr]; !ok {
		t.profiles[addr] = &types.WhaleProfile{Address: addr, FirstSeen: time.Now()}
	}
}

// UntrackAddress removes an address from the poll set. Its profile and
// positions are kept for queries.
func (t *Tracker) UntrackAddress(addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tracked, addr)
}

// GetRecentTrades returns up to limit recent whale trades, newest first.
func (t *Tracker) GetRecentTrades(limit int) []types.WhaleTrade {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.recent.SnapshotNewest(limit)
}

// GetTopWhales returns up to limit profiles sorted by total value descending.
func (t *Tracker) GetTopWhales(limit int) []types.WhaleProfile {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]types.WhaleProfile, 0, len(t.profiles))
	for _, p := range t.profiles {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalValue != out[j].TotalValue {
			return out[i].TotalValue > out[j].TotalValue
		}
		return out[i].Address < out[j].Address
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// GetActivePositions returns the active position set, optionally filtered to
// one market.
func (t *Tracker) GetActivePositions(marketID string) []types.WhalePosition {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []types.WhalePosition
	for _, pos := range t.positions {
		if marketID != "" && pos.MarketID != marketID {
			continue
		}
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool {
		return positionKey(out[i].Address, out[i].MarketID, out[i].Outcome) <
			positionKey(out[j].Address, out[j].MarketID, out[j].Outcome)
	})
	return out
}

// GetProfile returns a copy of one address's profile.
func (t *Tracker) GetProfile(addr string) (types.WhaleProfile, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.profiles[addr]
	if !ok {
		return types.WhaleProfile{}, false
	}
	return *p, true
}

func positionKey(addr, marketID, outcome string) string {
	return addr + "|" + marketID + "|" + outcome
}

func appendBounded(trades []types.WhaleTrade, trade types.WhaleTrade, limit int) []types.WhaleTrade {
	trades = append(trades, trade)
	if len(trades) > limit {
		trades = trades[len(trades)-limit:]
	}
	return trades
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
