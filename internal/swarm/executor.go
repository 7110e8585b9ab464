package swarm

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"

	"tradegate/internal/events"
	"tradegate/pkg/ring"
	"tradegate/pkg/types"
)

// Config tunes the executor. Zero values get sensible defaults in New.
type Config struct {
	// MinSolBalance is kept aside on every wallet; a buy needs
	// amount + MinSolBalance available.
	MinSolBalance float64
	// BundlingEnabled gates the bundle and multi-bundle modes. When off,
	// automatic selection always falls back to parallel.
	BundlingEnabled bool
	// TipLamports is paid by the first wallet of every bundle.
	TipLamports uint64
	// RateLimit is the sequential mode's per-wallet spacing window.
	RateLimit time.Duration
	// StaggerMax bounds the sequential mode's randomised extra delay.
	StaggerMax time.Duration
	// ConfirmTimeout bounds sequential confirmation waits. Defaults to 60s.
	ConfirmTimeout time.Duration
	// RefreshDelay is how long after a coordinated trade the balance and
	// position caches are refreshed from chain. Defaults to 5s.
	RefreshDelay time.Duration
	// BalanceHistorySize bounds the refresh snapshot ring. Defaults to 32.
	BalanceHistorySize int
}

// balanceSnapshot is one refresh of every wallet's SOL balance.
type balanceSnapshot struct {
	At       time.Time
	Balances map[string]float64
}

// Executor fans a single intent out over the wallet set.
//
// The local position cache is advisory only: sells always re-read token
// balances from chain before a wallet is considered eligible.
type Executor struct {
	cfg     Config
	chain   ChainQuery
	builder TxBuilder
	sender  Sender
	bundles BundleEndpoint
	bus     *events.Bus
	logger  *slog.Logger

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu          sync.Mutex
	wallets     []*Wallet
	byID        map[string]*Wallet
	positions   map[string]map[string]float64 // mint -> wallet id -> tokens
	lastTradeAt map[string]time.Time
	history     *ring.Buffer[balanceSnapshot]
	timers      map[*time.Timer]struct{}
	running     bool

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New creates an executor over the given ports.
func New(cfg Config, chain ChainQuery, builder TxBuilder, sender Sender, bundles BundleEndpoint, bus *events.Bus, logger *slog.Logger) *Executor {
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 60 * time.Second
	}
	if cfg.RefreshDelay <= 0 {
		cfg.RefreshDelay = 5 * time.Second
	}
	if cfg.BalanceHistorySize <= 0 {
		cfg.BalanceHistorySize = 32
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		cfg:         cfg,
		chain:       chain,
		builder:     builder,
		sender:      sender,
		bundles:     bundles,
		bus:         bus,
		logger:      logger.With("component", "swarm"),
		baseCtx:     ctx,
		baseCancel:  cancel,
		byID:        make(map[string]*Wallet),
		positions:   make(map[string]map[string]float64),
		lastTradeAt: make(map[string]time.Time),
		history:     ring.New[balanceSnapshot](cfg.BalanceHistorySize),
		timers:      make(map[*time.Timer]struct{}),
		running:     true,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// AddWallet registers a signing identity. Order of registration is the
// sequential-mode execution order.
func (e *Executor) AddWallet(w Wallet) error {
	if w.ID == "" || len(w.Key) == 0 {
		return fmt.Errorf("%w: wallet needs id and key", types.ErrInvalid)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.byID[w.ID]; ok {
		return fmt.Errorf("%w: duplicate wallet %q", types.ErrInvalid, w.ID)
	}
	cp := w
	e.wallets = append(e.wallets, &cp)
	e.byID[w.ID] = &cp
	return nil
}

// SetEnabled toggles a wallet in or out of the swarm.
func (e *Executor) SetEnabled(id string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	w, ok := e.byID[id]
	if !ok {
		return fmt.Errorf("%w: wallet %q", types.ErrNotFound, id)
	}
	w.Enabled = enabled
	return nil
}

// Wallets returns a snapshot of the registered wallets in order.
func (e *Executor) Wallets() []Wallet {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Wallet, 0, len(e.wallets))
	for _, w := range e.wallets {
		out = append(out, *w)
	}
	return out
}

// Stop cancels pending refresh timers and abandons confirmation waiters.
// In-flight submissions are left to complete.
func (e *Executor) Stop() {
	e.mu.Lock()
	e.running = false
	for t := range e.timers {
		t.Stop()
	}
	e.timers = make(map[*time.Timer]struct{})
	e.mu.Unlock()
	e.baseCancel()
}

// ————————————————————————————————————————————————————————————————————————
// Execution

// Execute fans intent out across the eligible wallets and returns the
// aggregated outcome. The returned result is non-nil whenever at least one
// wallet was attempted.
func (e *Executor) Execute(ctx context.Context, intent TradeIntent) (*SwarmTradeResult, error) {
	start := time.Now()

	if intent.Action != ActionBuy && intent.Action != ActionSell {
		return nil, fmt.Errorf("%w: action %q", types.ErrInvalid, intent.Action)
	}
	if intent.Amount.Value <= 0 {
		return nil, fmt.Errorf("%w: non-positive amount", types.ErrInvalid)
	}
	if intent.Action == ActionBuy && intent.Amount.Percent {
		return nil, fmt.Errorf("%w: percentage amounts apply to sells only", types.ErrInvalid)
	}

	candidates := e.selectWallets(intent.WalletIDs)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no enabled wallets", types.ErrInvalid)
	}
	if len(candidates) > maxSwarmWallets {
		e.logger.Warn("wallet set truncated", "requested", len(candidates), "max", maxSwarmWallets)
		candidates = candidates[:maxSwarmWallets]
	}

	eligible, amounts, skipped := e.filterEligible(ctx, candidates, intent)
	if len(eligible) == 0 {
		return nil, fmt.Errorf("%w: no wallet passed sufficiency checks", types.ErrInsufficientFunds)
	}

	mode := pickMode(intent.Mode, len(eligible), e.cfg.BundlingEnabled)
	result := &SwarmTradeResult{Mode: mode, Errors: skipped}

	switch mode {
	case ModeBundle:
		results, bundleID, err := e.runBundle(ctx, eligible, intent, amounts)
		if err != nil {
			// Fall back to parallel to preserve latency.
			e.logger.Warn("bundle rejected, falling back to parallel", "error", err)
			result.Errors = append(result.Errors, fmt.Sprintf("bundle: %v", err))
			result.Mode = ModeParallel
			results = e.runParallel(ctx, eligible, intent, amounts)
		} else {
			result.BundleIDs = []string{bundleID}
		}
		result.Wallets = results
	case ModeMultiBundle:
		result.Wallets, result.BundleIDs = e.runMultiBundle(ctx, eligible, intent, amounts, result)
	case ModeSequential:
		result.Wallets = e.runSequential(ctx, eligible, intent, amounts)
	default:
		result.Mode = ModeParallel
		result.Wallets = e.runParallel(ctx, eligible, intent, amounts)
	}

	now := time.Now()
	e.mu.Lock()
	for _, wr := range result.Wallets {
		if !wr.Success {
			if wr.Error != "" {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", wr.WalletID, wr.Error))
			}
			continue
		}
		e.lastTradeAt[wr.WalletID] = now
		if intent.Action == ActionBuy {
			result.TotalSpent += wr.Amount
		} else {
			result.TokensMoved += wr.Amount
		}
	}
	e.mu.Unlock()

	result.Elapsed = time.Since(start)
	e.scheduleRefresh(intent.Mint)
	e.bus.Publish(events.TopicSwarmTrade, *result)
	return result, nil
}

// selectWallets returns the enabled wallets, optionally restricted to ids,
// preserving registration order.
func (e *Executor) selectWallets(ids []string) []*Wallet {
	e.mu.Lock()
	defer e.mu.Unlock()

	var subset map[string]bool
	if len(ids) > 0 {
		subset = make(map[string]bool, len(ids))
		for _, id := range ids {
			subset[id] = true
		}
	}
	var out []*Wallet
	for _, w := range e.wallets {
		if !w.Enabled {
			continue
		}
		if subset != nil && !subset[w.ID] {
			continue
		}
		out = append(out, w)
	}
	return out
}

// filterEligible applies the sufficiency rules and resolves each wallet's
// concrete amount. Sell eligibility always re-reads chain state.
func (e *Executor) filterEligible(ctx context.Context, wallets []*Wallet, intent TradeIntent) ([]*Wallet, map[string]float64, []string) {
	var (
		eligible []*Wallet
		skipped  []string
	)
	amounts := make(map[string]float64, len(wallets))
	mint := intent.Mint.String()

	for _, w := range wallets {
		switch intent.Action {
		case ActionBuy:
			bal, err := e.chain.SolBalance(ctx, w.PublicKey())
			if err != nil {
				skipped = append(skipped, fmt.Sprintf("%s: balance query: %v", w.ID, err))
				continue
			}
			amount := e.jitter(intent.Amount.Value, intent.AmountVariancePct)
			if bal < amount+e.cfg.MinSolBalance {
				skipped = append(skipped, fmt.Sprintf("%s: insufficient sol balance", w.ID))
				continue
			}
			amounts[w.ID] = amount
			eligible = append(eligible, w)

		case ActionSell:
			held, err := e.chain.TokenBalance(ctx, w.PublicKey(), intent.Mint)
			if err != nil {
				skipped = append(skipped, fmt.Sprintf("%s: position query: %v", w.ID, err))
				continue
			}
			e.mu.Lock()
			byWallet := e.positions[mint]
			if byWallet == nil {
				byWallet = make(map[string]float64)
				e.positions[mint] = byWallet
			}
			byWallet[w.ID] = held
			e.mu.Unlock()
			if held <= 0 {
				skipped = append(skipped, fmt.Sprintf("%s: no position", w.ID))
				continue
			}
			amount := held
			if intent.Amount.Percent {
				amount = held * intent.Amount.Value / 100
			} else {
				amount = e.jitter(intent.Amount.Value, intent.AmountVariancePct)
				if amount > held {
					amount = held
				}
			}
			if amount <= 0 {
				skipped = append(skipped, fmt.Sprintf("%s: resolved amount is zero", w.ID))
				continue
			}
			amounts[w.ID] = amount
			eligible = append(eligible, w)
		}
	}
	return eligible, amounts, skipped
}

// pickMode resolves the execution mode. Sequential is never chosen
// automatically.
func pickMode(override Mode, n int, bundling bool) Mode {
	if override != ModeAuto {
		return override
	}
	if !bundling || n == 1 {
		return ModeParallel
	}
	if n <= bundleChunkSize {
		return ModeBundle
	}
	return ModeMultiBundle
}

// ————————————————————————————————————————————————————————————————————————
// Modes

// runParallel fires every wallet's transaction concurrently. Confirmation is
// fire-and-forget; failures there only get logged.
func (e *Executor) runParallel(ctx context.Context, wallets []*Wallet, intent TradeIntent, amounts map[string]float64) []WalletResult {
	results := make([]WalletResult, len(wallets))
	var wg sync.WaitGroup
	for i, w := range wallets {
		wg.Add(1)
		go func(i int, w *Wallet) {
			defer wg.Done()
			results[i] = e.sendOne(ctx, w, intent, amounts[w.ID], false)
		}(i, w)
	}
	wg.Wait()
	return results
}

// runBundle builds one transaction per wallet plus a tip transaction from the
// first wallet, and submits the set atomically. Any failure aborts the whole
// attempt so the caller can fall back.
func (e *Executor) runBundle(ctx context.Context, wallets []*Wallet, intent TradeIntent, amounts map[string]float64) ([]WalletResult, string, error) {
	txs := make([]*solana.Transaction, 0, len(wallets)+1)
	results := make([]WalletResult, len(wallets))
	for i, w := range wallets {
		tx, err := e.builder.Build(ctx, w, intent, amounts[w.ID])
		if err != nil {
			return nil, "", fmt.Errorf("build tx for %s: %w", w.ID, err)
		}
		txs = append(txs, tx)
		results[i] = WalletResult{WalletID: w.ID, Amount: amounts[w.ID], Signature: firstSignature(tx)}
	}

	tip, err := e.builder.BuildTip(ctx, wallets[0], e.cfg.TipLamports, e.randomTip())
	if err != nil {
		return nil, "", fmt.Errorf("build tip tx: %w", err)
	}
	txs = append(txs, tip)

	bundleID, err := e.bundles.SubmitBundle(ctx, txs)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", types.ErrBundleRejected, err)
	}

	// Atomic inclusion: acceptance means every wallet landed.
	for i := range results {
		results[i].Success = true
	}
	return results, bundleID, nil
}

// runMultiBundle chunks the wallets into bundle-sized groups and runs them
// concurrently. A rejected chunk independently falls back to parallel.
func (e *Executor) runMultiBundle(ctx context.Context, wallets []*Wallet, intent TradeIntent, amounts map[string]float64, result *SwarmTradeResult) ([]WalletResult, []string) {
	type chunkOut struct {
		results  []WalletResult
		bundleID string
		fallback error
	}

	var chunks [][]*Wallet
	for len(wallets) > 0 {
		n := bundleChunkSize
		if len(wallets) < n {
			n = len(wallets)
		}
		chunks = append(chunks, wallets[:n])
		wallets = wallets[n:]
	}

	outs := make([]chunkOut, len(chunks))
	var wg sync.WaitGroup
	for i, chunk := range chunks {
		wg.Add(1)
		go func(i int, chunk []*Wallet) {
			defer wg.Done()
			results, bundleID, err := e.runBundle(ctx, chunk, intent, amounts)
			if err != nil {
				e.logger.Warn("chunk bundle rejected, falling back to parallel",
					"chunk", i, "error", err)
				outs[i] = chunkOut{results: e.runParallel(ctx, chunk, intent, amounts), fallback: err}
				return
			}
			outs[i] = chunkOut{results: results, bundleID: bundleID}
		}(i, chunk)
	}
	wg.Wait()

	var (
		all []WalletResult
		ids []string
	)
	for i, out := range outs {
		all = append(all, out.results...)
		if out.bundleID != "" {
			ids = append(ids, out.bundleID)
		}
		if out.fallback != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("chunk %d: %v", i, out.fallback))
		}
	}
	return all, ids
}

// runSequential walks the wallets in order with rate limiting, randomised
// stagger, and a confirmation wait per transaction.
func (e *Executor) runSequential(ctx context.Context, wallets []*Wallet, intent TradeIntent, amounts map[string]float64) []WalletResult {
	results := make([]WalletResult, len(wallets))
	for i, w := range wallets {
		if err := ctx.Err(); err != nil {
			results[i] = WalletResult{WalletID: w.ID, Amount: amounts[w.ID], Error: errText(err)}
			continue
		}

		e.mu.Lock()
		last := e.lastTradeAt[w.ID]
		e.mu.Unlock()
		if wait := e.cfg.RateLimit - time.Since(last); wait > 0 {
			if !sleepCtx(ctx, wait) {
				results[i] = WalletResult{WalletID: w.ID, Amount: amounts[w.ID], Error: errText(ctx.Err())}
				continue
			}
		}
		if e.cfg.StaggerMax > 0 {
			if !sleepCtx(ctx, e.randomStagger()) {
				results[i] = WalletResult{WalletID: w.ID, Amount: amounts[w.ID], Error: errText(ctx.Err())}
				continue
			}
		}

		res := e.sendOne(ctx, w, intent, amounts[w.ID], true)
		if res.Success {
			e.mu.Lock()
			e.lastTradeAt[w.ID] = time.Now()
			e.mu.Unlock()
		}
		e.bus.Publish(events.TopicTrade, res)
		results[i] = res
	}
	return results
}

// sendOne builds, signs, and submits one wallet's transaction. When confirm
// is set the call blocks on confirmation up to ConfirmTimeout; otherwise the
// confirmation runs detached and is abandoned on Stop.
func (e *Executor) sendOne(ctx context.Context, w *Wallet, intent TradeIntent, amount float64, confirm bool) WalletResult {
	res := WalletResult{WalletID: w.ID, Amount: amount}

	tx, err := e.builder.Build(ctx, w, intent, amount)
	if err != nil {
		res.Error = errText(err)
		return res
	}
	sig, err := e.sender.Send(ctx, tx)
	if err != nil {
		res.Error = errText(fmt.Errorf("%w: %v", types.ErrNetwork, err))
		return res
	}
	res.Signature = sig.String()

	if !confirm {
		go func() {
			if err := e.sender.Confirm(e.baseCtx, sig, e.cfg.ConfirmTimeout); err != nil {
				e.logger.Debug("confirmation not observed", "wallet", w.ID, "error", err)
			}
		}()
		res.Success = true
		return res
	}

	if err := e.sender.Confirm(ctx, sig, e.cfg.ConfirmTimeout); err != nil {
		res.Error = errText(fmt.Errorf("%w: %v", types.ErrConfirmationTimeout, err))
		return res
	}
	res.Success = true
	return res
}

// ————————————————————————————————————————————————————————————————————————
// Cache refresh

// scheduleRefresh re-reads wallet balances and the traded mint's positions
// shortly after a coordinated trade, once fills have had time to land.
func (e *Executor) scheduleRefresh(mint solana.PublicKey) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(e.cfg.RefreshDelay, func() {
		e.mu.Lock()
		delete(e.timers, timer)
		alive := e.running
		e.mu.Unlock()
		if alive {
			e.refresh(e.baseCtx, mint)
		}
	})
	e.timers[timer] = struct{}{}
}

// refresh snapshots every wallet's SOL balance into the history ring and
// re-reads token balances for mint. Query errors are logged and skipped.
func (e *Executor) refresh(ctx context.Context, mint solana.PublicKey) {
	e.mu.Lock()
	wallets := make([]*Wallet, len(e.wallets))
	copy(wallets, e.wallets)
	e.mu.Unlock()

	sort.Slice(wallets, func(i, j int) bool { return wallets[i].ID < wallets[j].ID })

	snap := balanceSnapshot{At: time.Now(), Balances: make(map[string]float64, len(wallets))}
	held := make(map[string]float64, len(wallets))
	for _, w := range wallets {
		if bal, err := e.chain.SolBalance(ctx, w.PublicKey()); err == nil {
			snap.Balances[w.ID] = bal
		} else {
			e.logger.Debug("balance refresh failed", "wallet", w.ID, "error", err)
		}
		if tokens, err := e.chain.TokenBalance(ctx, w.PublicKey(), mint); err == nil {
			held[w.ID] = tokens
		}
	}

	e.mu.Lock()
	e.history.Push(snap)
	byWallet := e.positions[mint.String()]
	if byWallet == nil {
		byWallet = make(map[string]float64)
		e.positions[mint.String()] = byWallet
	}
	for id, tokens := range held {
		byWallet[id] = tokens
	}
	e.mu.Unlock()
}

// Position returns the cached total and per-wallet breakdown for mint. The
// cache is advisory; sells re-verify against chain.
func (e *Executor) Position(mint solana.PublicKey) (total float64, byWallet map[string]float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	byWallet = make(map[string]float64)
	for id, tokens := range e.positions[mint.String()] {
		byWallet[id] = tokens
		total += tokens
	}
	return total, byWallet
}

// BalanceHistory returns the refresh snapshots oldest-first.
func (e *Executor) BalanceHistory() []map[string]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	snaps := e.history.Snapshot()
	out := make([]map[string]float64, len(snaps))
	for i, s := range snaps {
		out[i] = s.Balances
	}
	return out
}

// ————————————————————————————————————————————————————————————————————————
// Randomness

func (e *Executor) jitter(base, variancePct float64) float64 {
	if variancePct <= 0 {
		return base
	}
	e.rngMu.Lock()
	f := e.rng.Float64()
	e.rngMu.Unlock()
	return base * (1 + (f*2-1)*variancePct/100)
}

func (e *Executor) randomTip() solana.PublicKey {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return tipDestinations[e.rng.Intn(len(tipDestinations))]
}

func (e *Executor) randomStagger() time.Duration {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return time.Duration(e.rng.Int63n(int64(e.cfg.StaggerMax)))
}

func firstSignature(tx *solana.Transaction) string {
	if tx == nil || len(tx.Signatures) == 0 {
		return ""
	}
	return tx.Signatures[0].String()
}

// sleepCtx waits for d or until ctx is done; returns false on cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
