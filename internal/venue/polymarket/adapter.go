package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"tradegate/internal/ports"
	"tradegate/pkg/types"
)

// staleBookAge is how old a local book may get before GetPrice falls back
// to a REST read.
const staleBookAge = 30 * time.Second

// tokenRef maps a CLOB token back to its market triple.
type tokenRef struct {
	marketID string
	outcome  string
}

// marketInfo is the resolved view of one market: metadata plus the
// outcome-to-token mapping needed for subscriptions and order placement.
type marketInfo struct {
	meta   types.MarketMetadata
	tokens map[string]string // outcome (upper) -> token ID
	tick   tickSize
}

// Adapter is the Polymarket venue adapter. It implements both
// ports.MarketDataPort and ports.ExecutionPort over the CLOB REST API and
// the public market websocket.
type Adapter struct {
	cfg      Config
	auth     *Auth
	client   *client
	feed     *wsFeed
	userFeed *wsFeed
	logger   *slog.Logger

	cancel      context.CancelFunc
	wg          sync.WaitGroup
	userEnabled bool

	mu       sync.RWMutex
	markets  map[string]marketInfo // market ID -> resolved info
	books    map[string]*book      // token ID -> local book
	byToken  map[string]tokenRef   // token ID -> market triple
	tickSubs map[string][]func(types.Tick)
	bookSubs map[string][]func(types.OrderBookSnapshot)
	onFill   func(orderID string, price, size float64)
}

var (
	_ ports.MarketDataPort = (*Adapter)(nil)
	_ ports.ExecutionPort  = (*Adapter)(nil)
)

// New builds the adapter from config. Call Start before subscribing.
func New(cfg Config, logger *slog.Logger) (*Adapter, error) {
	auth, err := NewAuth(cfg)
	if err != nil {
		return nil, err
	}
	logger = logger.With("component", "polymarket")
	return &Adapter{
		cfg:      cfg,
		auth:     auth,
		client:   newClient(cfg, auth, logger),
		feed:     newMarketFeed(cfg.WSMarketURL, logger),
		userFeed: newUserFeed(cfg.WSUserURL, auth, logger),
		logger:   logger,
		markets:  make(map[string]marketInfo),
		books:    make(map[string]*book),
		byToken:  make(map[string]tokenRef),
		tickSubs: make(map[string][]func(types.Tick)),
		bookSubs: make(map[string][]func(types.OrderBookSnapshot)),
	}, nil
}

// Start derives L2 credentials when none are configured and launches the
// market feed with its dispatch loop.
func (a *Adapter) Start(ctx context.Context) error {
	if !a.auth.HasL2Credentials() {
		if _, err := a.client.deriveAPIKey(ctx); err != nil {
			return fmt.Errorf("derive credentials: %w", err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		if err := a.feed.run(runCtx); err != nil && runCtx.Err() == nil {
			a.logger.Error("market feed stopped", "error", err)
		}
	}()
	go func() {
		defer a.wg.Done()
		a.dispatchLoop(runCtx)
	}()

	if a.cfg.WSUserURL != "" {
		a.userEnabled = true
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := a.userFeed.run(runCtx); err != nil && runCtx.Err() == nil {
				a.logger.Error("user feed stopped", "error", err)
			}
		}()
	}
	return nil
}

// OnFill registers a callback invoked for user-channel fill notifications.
// Must be called before Start.
func (a *Adapter) OnFill(cb func(orderID string, price, size float64)) {
	a.onFill = cb
}

// Stop tears down the feed and waits for the dispatch loop.
func (a *Adapter) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
}

// dispatchLoop routes feed events into local books and subscriber callbacks.
func (a *Adapter) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case evt := <-a.feed.bookCh:
			a.mu.RLock()
			b := a.books[evt.AssetID]
			ref, ok := a.byToken[evt.AssetID]
			var cbs []func(types.OrderBookSnapshot)
			if ok {
				cbs = a.bookSubs[ref.marketID]
			}
			a.mu.RUnlock()
			if b == nil {
				continue
			}
			snap := b.applyLevels(evt.Buys, evt.Sells, evt.Hash)
			for _, cb := range cbs {
				cb(snap)
			}

		case evt := <-a.feed.priceCh:
			a.mu.RLock()
			for _, pc := range evt.PriceChanges {
				if b := a.books[pc.AssetID]; b != nil {
					b.touch(pc.Hash)
				}
			}
			a.mu.RUnlock()

		case evt := <-a.feed.lastTradeCh:
			a.mu.RLock()
			ref, ok := a.byToken[evt.AssetID]
			var cbs []func(types.Tick)
			if ok {
				cbs = a.tickSubs[ref.marketID]
			}
			a.mu.RUnlock()
			if !ok {
				continue
			}
			tick := types.Tick{
				Time:     time.Now(),
				Venue:    types.VenuePolymarket,
				MarketID: ref.marketID,
				Outcome:  ref.outcome,
				Price:    parseFloat(evt.Price),
				Size:     parseFloat(evt.Size),
			}
			for _, cb := range cbs {
				cb(tick)
			}

		case evt := <-a.userFeed.tradeCh:
			if a.onFill != nil {
				a.onFill(evt.ID, parseFloat(evt.Price), parseFloat(evt.Size))
			}

		case evt := <-a.userFeed.orderCh:
			a.logger.Debug("order event",
				"id", evt.ID, "type", evt.Type, "matched", evt.SizeMatched)
		}
	}
}

// ————————————————————————————————————————————————————————————————————————
// MarketDataPort

// SubscribeTrades delivers last-trade prints for a market as ticks.
func (a *Adapter) SubscribeTrades(ctx context.Context, marketID string, cb func(types.Tick)) error {
	info, err := a.resolveMarket(ctx, marketID)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.tickSubs[marketID] = append(a.tickSubs[marketID], cb)
	a.mu.Unlock()

	a.feed.subscribe(tokenIDs(info))
	return nil
}

// SubscribeOrderbook delivers full book snapshots for a market.
func (a *Adapter) SubscribeOrderbook(ctx context.Context, marketID string, cb func(types.OrderBookSnapshot)) error {
	info, err := a.resolveMarket(ctx, marketID)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.bookSubs[marketID] = append(a.bookSubs[marketID], cb)
	a.mu.Unlock()

	a.feed.subscribe(tokenIDs(info))
	return nil
}

// GetMarket returns venue metadata for a market.
func (a *Adapter) GetMarket(ctx context.Context, venue types.Venue, marketID string) (*types.MarketMetadata, error) {
	if venue != types.VenuePolymarket {
		return nil, fmt.Errorf("%w: venue %q not served by this adapter", types.ErrInvalid, venue)
	}
	info, err := a.resolveMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	meta := info.meta
	return &meta, nil
}

// GetPrice returns the current mid price for a market's primary outcome.
// A fresh local book answers directly; otherwise the book is fetched over
// REST. Returns false when no price is obtainable.
func (a *Adapter) GetPrice(ctx context.Context, venue types.Venue, marketID string) (float64, bool) {
	if venue != types.VenuePolymarket {
		return 0, false
	}
	info, err := a.resolveMarket(ctx, marketID)
	if err != nil {
		return 0, false
	}
	token, err := a.resolveToken(info, info.meta.Outcomes[0])
	if err != nil {
		return 0, false
	}

	a.mu.RLock()
	b := a.books[token]
	a.mu.RUnlock()
	if b != nil && !b.isStale(staleBookAge) {
		if mid, ok := b.midPrice(); ok {
			return mid, true
		}
	}

	resp, err := a.client.getOrderBook(ctx, token)
	if err != nil {
		a.logger.Debug("price lookup failed", "market", marketID, "error", err)
		return 0, false
	}
	if b == nil {
		a.mu.RLock()
		b = a.books[token]
		a.mu.RUnlock()
	}
	if b != nil {
		snap := b.applyLevels(resp.Bids, resp.Asks, resp.Hash)
		if mid, ok := snap.MidPrice(); ok {
			return mid, true
		}
		return 0, false
	}
	if len(resp.Bids) == 0 || len(resp.Asks) == 0 {
		return 0, false
	}
	return (resp.Bids[0].price() + resp.Asks[0].price()) / 2, true
}

// ————————————————————————————————————————————————————————————————————————
// ExecutionPort

// PlaceOrder submits one order. Market orders are priced as marketable
// limits from the top of book, pushed out by the order's slippage bound.
// Venue rejections come back in the OrderResult; transport failures as
// errors.
func (a *Adapter) PlaceOrder(ctx context.Context, spec types.OrderSpec) (types.OrderResult, error) {
	info, err := a.resolveMarket(ctx, spec.MarketID)
	if err != nil {
		return types.OrderResult{}, err
	}
	token, err := a.resolveToken(info, spec.Outcome)
	if err != nil {
		return types.OrderResult{}, err
	}

	price := spec.Price
	orderType := "GTC"
	if spec.OrderKind == types.OrderMarket || price <= 0 {
		price, err = a.marketablePrice(ctx, token, spec.Side, spec.SlippageBound)
		if err != nil {
			return types.OrderResult{}, err
		}
		orderType = "FOK"
	}

	payload, err := a.client.buildOrderPayload(token, spec.Side, price, spec.Size, info.tick, orderType)
	if err != nil {
		return types.OrderResult{}, err
	}
	resp, err := a.client.postOrder(ctx, payload)
	if err != nil {
		return types.OrderResult{}, err
	}

	result := types.OrderResult{
		Success: resp.Success,
		OrderID: resp.OrderID,
		Status:  resp.Status,
		Error:   resp.ErrorMsg,
	}
	if resp.Success && resp.Status == "matched" {
		result.FilledSize = spec.Size
		result.AvgFillPrice = price
	}
	return result, nil
}

// CancelOrder cancels one order; reports whether the venue confirmed it.
func (a *Adapter) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	resp, err := a.client.cancelOrders(ctx, []string{orderID})
	if err != nil {
		return false, err
	}
	for _, id := range resp.Canceled {
		if id == orderID {
			return true, nil
		}
	}
	return false, nil
}

// GetOrderStatus fetches the venue's view of one order.
func (a *Adapter) GetOrderStatus(ctx context.Context, orderID string) (types.OrderResult, error) {
	resp, err := a.client.getOrder(ctx, orderID)
	if err != nil {
		return types.OrderResult{}, err
	}
	return types.OrderResult{
		Success:      true,
		OrderID:      resp.ID,
		Status:       resp.Status,
		FilledSize:   parseFloat(resp.SizeMatched),
		AvgFillPrice: parseFloat(resp.Price),
	}, nil
}

// CancelAll cancels every open order, used by the shutdown path.
func (a *Adapter) CancelAll(ctx context.Context) error {
	_, err := a.client.cancelAll(ctx)
	return err
}

// ————————————————————————————————————————————————————————————————————————
// Resolution helpers

// resolveMarket returns cached market info or fetches it from Gamma.
func (a *Adapter) resolveMarket(ctx context.Context, marketID string) (marketInfo, error) {
	a.mu.RLock()
	info, ok := a.markets[marketID]
	a.mu.RUnlock()
	if ok {
		return info, nil
	}

	gm, err := a.client.getMarket(ctx, marketID)
	if err != nil {
		return marketInfo{}, err
	}

	var outcomes, tokens []string
	if err := json.Unmarshal([]byte(gm.Outcomes), &outcomes); err != nil {
		return marketInfo{}, fmt.Errorf("%w: market %q outcomes: %v", types.ErrVenue, marketID, err)
	}
	if err := json.Unmarshal([]byte(gm.ClobTokenIDs), &tokens); err != nil {
		return marketInfo{}, fmt.Errorf("%w: market %q token ids: %v", types.ErrVenue, marketID, err)
	}
	if len(outcomes) == 0 || len(outcomes) != len(tokens) {
		return marketInfo{}, fmt.Errorf("%w: market %q outcome/token mismatch", types.ErrVenue, marketID)
	}

	endDate, _ := time.Parse(time.RFC3339, gm.EndDateISO)
	info = marketInfo{
		meta: types.MarketMetadata{
			Venue:           types.VenuePolymarket,
			ID:              marketID,
			Question:        gm.Question,
			Slug:            gm.Slug,
			Outcomes:        outcomes,
			Active:          gm.Active,
			Closed:          gm.Closed,
			AcceptingOrders: gm.AcceptingOrder,
			EndDate:         endDate,
			Liquidity:       gm.Liquidity,
			Volume24h:       gm.Volume24h,
			BestBid:         gm.BestBid,
			BestAsk:         gm.BestAsk,
			LastTradePrice:  gm.LastTradePrice,
			MinOrderSize:    gm.OrderMinSize,
			TickSize:        parseFloat(gm.TickSizeValue),
		},
		tokens: make(map[string]string, len(outcomes)),
		tick:   tickSizeFromValue(gm.TickSizeValue),
	}

	a.mu.Lock()
	for i, outcome := range outcomes {
		key := strings.ToUpper(outcome)
		info.tokens[key] = tokens[i]
		a.byToken[tokens[i]] = tokenRef{marketID: marketID, outcome: key}
		if a.books[tokens[i]] == nil {
			a.books[tokens[i]] = newBook(types.MarketKey{
				Venue:    types.VenuePolymarket,
				MarketID: marketID,
				Outcome:  key,
			}, tokens[i])
		}
	}
	a.markets[marketID] = info
	a.mu.Unlock()

	if a.userEnabled {
		a.userFeed.subscribe([]string{marketID})
	}
	return info, nil
}

// resolveToken maps an outcome name to its CLOB token ID.
func (a *Adapter) resolveToken(info marketInfo, outcome string) (string, error) {
	token, ok := info.tokens[strings.ToUpper(outcome)]
	if !ok {
		return "", fmt.Errorf("%w: outcome %q in market %q", types.ErrNotFound, outcome, info.meta.ID)
	}
	return token, nil
}

// marketablePrice derives a crossing limit price from the top of book,
// pushed out by slippageBound percent.
func (a *Adapter) marketablePrice(ctx context.Context, token string, side types.Side, slippageBound float64) (float64, error) {
	a.mu.RLock()
	b := a.books[token]
	a.mu.RUnlock()

	var bid, ask float64
	var ok bool
	if b != nil && !b.isStale(staleBookAge) {
		bid, ask, ok = b.bestBidAsk()
	}
	if !ok {
		resp, err := a.client.getOrderBook(ctx, token)
		if err != nil {
			return 0, err
		}
		if len(resp.Bids) == 0 || len(resp.Asks) == 0 {
			return 0, fmt.Errorf("%w: empty book for token %q", types.ErrVenue, token)
		}
		bid, ask = resp.Bids[0].price(), resp.Asks[0].price()
	}

	if side == types.SideSell {
		price := bid * (1 - slippageBound/100)
		if price < 0.001 {
			price = 0.001
		}
		return price, nil
	}
	price := ask * (1 + slippageBound/100)
	if price > 0.999 {
		price = 0.999
	}
	return price, nil
}

func tokenIDs(info marketInfo) []string {
	out := make([]string, 0, len(info.tokens))
	for _, id := range info.tokens {
		out = append(out, id)
	}
	return out
}

func tickSizeFromValue(v string) tickSize {
	switch v {
	case "0.0001":
		return tick0001
	case "0.01":
		return tick01
	case "0.1":
		return tick1
	default:
		return tick001
	}
}
