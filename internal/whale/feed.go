package whale

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"tradegate/pkg/types"
)

// TradeFeed is one streaming session against a venue's public trade feed.
// Connect blocks, delivering trades to cb, until the connection drops or the
// context is cancelled. The tracker owns reconnection.
type TradeFeed interface {
	Connect(ctx context.Context, cb func(types.WhaleTrade)) error
}

// PositionFetcher reads the current positions of one address from the venue.
type PositionFetcher interface {
	FetchPositions(ctx context.Context, address string) ([]types.WhalePosition, error)
}

const (
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
)

// WSFeed streams venue trade events over a websocket.
type WSFeed struct {
	url    string
	logger *slog.Logger
}

func NewWSFeed(url string, logger *slog.Logger) *WSFeed {
	return &WSFeed{url: url, logger: logger.With("component", "whale-feed")}
}

// wsTradeMessage is the wire shape of one trade event.
type wsTradeMessage struct {
	EventType string `json:"event_type"`
	Market    string `json:"market"`
	Outcome   string `json:"outcome"`
	Side      string `json:"side"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Maker     string `json:"maker"`
	Taker     string `json:"taker"`
	TxHash    string `json:"transaction_hash"`
	Timestamp int64  `json:"timestamp"`
}

// Connect dials the feed and pumps trade events until failure or cancel.
func (f *WSFeed) Connect(ctx context.Context, cb func(types.WhaleTrade)) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", types.ErrNetwork, f.url, err)
	}
	defer conn.Close()

	f.logger.Info("trade feed connected", "url", f.url)

	// Close with a normal-close frame when the context is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				deadline := time.Now().Add(time.Second)
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
				conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: read: %v", types.ErrNetwork, err)
		}
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		var msg wsTradeMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			f.logger.Debug("unparseable feed message", "error", err)
			continue
		}
		if msg.EventType != "" && msg.EventType != "trade" {
			continue
		}

		trade, ok := msg.toTrade()
		if !ok {
			continue
		}
		cb(trade)
	}
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}

func (m wsTradeMessage) toTrade() (types.WhaleTrade, bool) {
	price, err1 := parseFloat(m.Price)
	size, err2 := parseFloat(m.Size)
	if err1 != nil || err2 != nil || price <= 0 || size <= 0 {
		return types.WhaleTrade{}, false
	}

	ts := time.Now()
	if m.Timestamp > 0 {
		ts = time.UnixMilli(m.Timestamp)
	}
	return types.WhaleTrade{
		Timestamp: ts,
		MarketID:  m.Market,
		Outcome:   m.Outcome,
		Side:      types.Side(m.Side),
		Price:     price,
		Size:      size,
		USDValue:  price * size,
		Maker:     m.Maker,
		Taker:     m.Taker,
		TxHash:    m.TxHash,
	}, true
}
