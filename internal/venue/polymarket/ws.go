// ws.go implements the venue's realtime feeds.
//
// Two independent feeds run concurrently:
//
//   - Market feed (public): subscribes by token ID, receives "book"
//     snapshots, "price_change" deltas, and "last_trade_price" prints.
//
//   - User feed (authenticated): subscribes by condition ID, receives
//     "trade" fills and "order" lifecycle events.
//
// Both auto-reconnect with exponential backoff (1s doubling to 30s) and
// re-subscribe to all tracked IDs on reconnection. A 90s read deadline
// detects silent server failures within ~2 missed pings.
package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pingInterval     = 50 * time.Second
	readTimeout      = 90 * time.Second
	maxReconnectWait = 30 * time.Second
	writeTimeout     = 10 * time.Second
	bookBufferSize   = 256
	tradeBufferSize  = 64
)

// wsFeed manages a single websocket connection (market or user channel):
// lifecycle, subscription tracking, message routing, and reconnection.
type wsFeed struct {
	url         string
	conn        *websocket.Conn
	connMu      sync.Mutex
	auth        *Auth // nil for the market channel
	channelType string

	subscribedMu sync.RWMutex
	subscribed   map[string]bool // token IDs (market) or condition IDs (user)

	bookCh      chan wsBookEvent
	priceCh     chan wsPriceChangeEvent
	lastTradeCh chan wsLastTradeEvent
	tradeCh     chan wsTradeEvent
	orderCh     chan wsOrderEvent

	logger *slog.Logger
}

func newMarketFeed(wsURL string, logger *slog.Logger) *wsFeed {
	return &wsFeed{
		url:         wsURL,
		channelType: "market",
		subscribed:  make(map[string]bool),
		bookCh:      make(chan wsBookEvent, bookBufferSize),
		priceCh:     make(chan wsPriceChangeEvent, bookBufferSize),
		lastTradeCh: make(chan wsLastTradeEvent, bookBufferSize),
		tradeCh:     make(chan wsTradeEvent, tradeBufferSize),
		orderCh:     make(chan wsOrderEvent, tradeBufferSize),
		logger:      logger.With("component", "ws_market"),
	}
}

func newUserFeed(wsURL string, auth *Auth, logger *slog.Logger) *wsFeed {
	f := newMarketFeed(wsURL, logger)
	f.auth = auth
	f.channelType = "user"
	f.logger = logger.With("component", "ws_user")
	return f
}

// run connects and maintains the connection until ctx is cancelled.
func (f *wsFeed) run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("websocket disconnected, reconnecting",
			"error", err,
			"backoff", backoff,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

// subscribe adds token IDs (market channel) or condition IDs (user channel).
// Tracked IDs are re-announced automatically on reconnect, so a write failure
// while disconnected is not an error.
func (f *wsFeed) subscribe(ids []string) {
	f.subscribedMu.Lock()
	for _, id := range ids {
		f.subscribed[id] = true
	}
	f.subscribedMu.Unlock()

	msg := wsUpdateMsg{Operation: "subscribe"}
	if f.channelType == "market" {
		msg.AssetIDs = ids
	} else {
		msg.Markets = ids
	}
	if err := f.writeJSON(msg); err != nil {
		f.logger.Debug("subscribe deferred to reconnect", "error", err)
	}
}

// unsubscribe removes IDs from the tracked set.
func (f *wsFeed) unsubscribe(ids []string) {
	f.subscribedMu.Lock()
	for _, id := range ids {
		delete(f.subscribed, id)
	}
	f.subscribedMu.Unlock()

	msg := wsUpdateMsg{Operation: "unsubscribe"}
	if f.channelType == "market" {
		msg.AssetIDs = ids
	} else {
		msg.Markets = ids
	}
	if err := f.writeJSON(msg); err != nil {
		f.logger.Debug("unsubscribe deferred to reconnect", "error", err)
	}
}

func (f *wsFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	if err := f.sendInitialSubscription(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	f.logger.Info("websocket connected", "channel", f.channelType)

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		f.dispatchMessage(msg)
	}
}

func (f *wsFeed) sendInitialSubscription() error {
	f.subscribedMu.RLock()
	ids := make([]string, 0, len(f.subscribed))
	for id := range f.subscribed {
		ids = append(ids, id)
	}
	f.subscribedMu.RUnlock()

	if f.channelType == "market" {
		return f.writeJSON(wsSubscribeMsg{Type: "market", AssetIDs: ids})
	}
	return f.writeJSON(wsSubscribeMsg{Type: "user", Auth: f.auth.WSAuthPayload(), Markets: ids})
}

func (f *wsFeed) dispatchMessage(data []byte) {
	var envelope struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		f.logger.Debug("ignoring non-json ws message", "data", string(data))
		return
	}

	switch envelope.EventType {
	case "book":
		var evt wsBookEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("unmarshal book event", "error", err)
			return
		}
		select {
		case f.bookCh <- evt:
		default:
			f.logger.Warn("book channel full, dropping event", "asset", evt.AssetID)
		}

	case "price_change":
		var evt wsPriceChangeEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("unmarshal price_change event", "error", err)
			return
		}
		select {
		case f.priceCh <- evt:
		default:
			f.logger.Warn("price_change channel full, dropping event")
		}

	case "last_trade_price":
		var evt wsLastTradeEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("unmarshal last_trade_price event", "error", err)
			return
		}
		select {
		case f.lastTradeCh <- evt:
		default:
			f.logger.Warn("last_trade channel full, dropping event", "asset", evt.AssetID)
		}

	case "trade":
		var evt wsTradeEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("unmarshal trade event", "error", err)
			return
		}
		select {
		case f.tradeCh <- evt:
		default:
			f.logger.Warn("trade channel full, dropping event", "id", evt.ID)
		}

	case "order":
		var evt wsOrderEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("unmarshal order event", "error", err)
			return
		}
		select {
		case f.orderCh <- evt:
		default:
			f.logger.Warn("order channel full, dropping event", "id", evt.ID)
		}

	case "tick_size_change", "best_bid_ask", "new_market", "market_resolved":
		f.logger.Debug("ignoring event", "type", envelope.EventType)

	default:
		f.logger.Debug("unknown ws event type", "type", envelope.EventType)
	}
}

func (f *wsFeed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeMessage(websocket.TextMessage, []byte("PING")); err != nil {
				f.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (f *wsFeed) writeJSON(v any) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(v)
}

func (f *wsFeed) writeMessage(msgType int, data []byte) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteMessage(msgType, data)
}
