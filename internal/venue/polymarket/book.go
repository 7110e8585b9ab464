package polymarket

import (
	"sync"
	"time"

	"tradegate/pkg/types"
)

// book mirrors the CLOB order book for one market outcome token. It is fed
// from two sources: REST snapshots on first load and websocket book events
// afterwards. Guarded by its own mutex; the adapter holds one per token.
type book struct {
	mu      sync.RWMutex
	key     types.MarketKey
	tokenID string
	snap    types.OrderBookSnapshot
	hash    string
	updated time.Time
}

func newBook(key types.MarketKey, tokenID string) *book {
	return &book{key: key, tokenID: tokenID}
}

// applyLevels replaces the book with a full snapshot and returns a copy of
// the result for fan-out.
func (b *book) applyLevels(bids, asks []wireLevel, hash string) types.OrderBookSnapshot {
	snap := types.OrderBookSnapshot{
		Key:       b.key,
		Bids:      toLevels(bids),
		Asks:      toLevels(asks),
		Timestamp: time.Now(),
	}

	b.mu.Lock()
	b.snap = snap
	b.hash = hash
	b.updated = snap.Timestamp
	b.mu.Unlock()
	return snap
}

// touch records activity from an incremental delta without rebuilding the
// levels; the next full snapshot re-syncs them.
func (b *book) touch(hash string) {
	b.mu.Lock()
	b.hash = hash
	b.updated = time.Now()
	b.mu.Unlock()
}

// midPrice returns (bestBid+bestAsk)/2, or false while either side is empty.
func (b *book) midPrice() (float64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snap.MidPrice()
}

// bestBidAsk returns the top of book, or false while either side is empty.
func (b *book) bestBidAsk() (bid, ask float64, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.snap.Bids) == 0 || len(b.snap.Asks) == 0 {
		return 0, 0, false
	}
	return b.snap.Bids[0].Price, b.snap.Asks[0].Price, true
}

// isStale reports whether no book data arrived within maxAge.
func (b *book) isStale(maxAge time.Duration) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.updated.IsZero() {
		return true
	}
	return time.Since(b.updated) > maxAge
}

// snapshot returns a copy of the current book state.
func (b *book) snapshot() types.OrderBookSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := b.snap
	out.Bids = append([]types.PriceLevel(nil), b.snap.Bids...)
	out.Asks = append([]types.PriceLevel(nil), b.snap.Asks...)
	return out
}

func toLevels(in []wireLevel) []types.PriceLevel {
	out := make([]types.PriceLevel, len(in))
	for i, l := range in {
		out[i] = types.PriceLevel{Price: l.price(), Size: l.size()}
	}
	return out
}
