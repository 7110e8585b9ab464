package polymarket

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"tradegate/pkg/types"
)

// clobStub serves the subset of the CLOB and Gamma surface the adapter uses.
type clobStub struct {
	mu           sync.Mutex
	orderResp    []orderResponse
	orderStatus  int
	lastOrders   []orderPayload
	lastHeaders  http.Header
	cancelResp   cancelResponse
	bookBids     [][2]string
	bookAsks     [][2]string
	statusByID   map[string]orderStatusResponse
	marketJSON   string
	marketStatus int
}

func (s *clobStub) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/markets", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		status, body := s.marketStatus, s.marketJSON
		s.mu.Unlock()
		if status == 0 {
			status = http.StatusOK
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
	})

	mux.HandleFunc("/book", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		resp := bookResponse{AssetID: r.URL.Query().Get("token_id"), Hash: "h"}
		for _, l := range s.bookBids {
			resp.Bids = append(resp.Bids, wireLevel{Price: l[0], Size: l[1]})
		}
		for _, l := range s.bookAsks {
			resp.Asks = append(resp.Asks, wireLevel{Price: l[0], Size: l[1]})
		}
		s.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})

	mux.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.lastHeaders = r.Header.Clone()
		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodPost:
			body, _ := io.ReadAll(r.Body)
			var payloads []orderPayload
			json.Unmarshal(body, &payloads)
			s.lastOrders = payloads
			if s.orderStatus != 0 {
				w.WriteHeader(s.orderStatus)
				return
			}
			json.NewEncoder(w).Encode(s.orderResp)
		case http.MethodDelete:
			json.NewEncoder(w).Encode(s.cancelResp)
		}
	})

	mux.HandleFunc("/data/order/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/data/order/")
		s.mu.Lock()
		resp, ok := s.statusByID[id]
		s.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})

	return mux
}

// CLOB token IDs are uint256 values on the wire; the order signature hashes
// them as such, so the fixtures use realistic numeric IDs.
const (
	tokYes = "71321045679252212594626385532706912750332728571942532289631379312455583992563"
	tokNo  = "52114319501245915516055106046884209969926127482827954674443846427813813222426"
)

const stubMarket = `[{
	"id": "m1",
	"conditionId": "cond-1",
	"question": "Will it rain tomorrow?",
	"slug": "will-it-rain",
	"outcomes": "[\"Yes\",\"No\"]",
	"clobTokenIds": "[\"71321045679252212594626385532706912750332728571942532289631379312455583992563\",\"52114319501245915516055106046884209969926127482827954674443846427813813222426\"]",
	"active": true,
	"closed": false,
	"acceptingOrders": true,
	"orderPriceMinTickSize": "0.001",
	"bestBid": 0.49,
	"bestAsk": 0.51,
	"lastTradePrice": 0.50,
	"orderMinSize": 5
}]`

func testAdapter(t *testing.T) (*Adapter, *clobStub) {
	t.Helper()
	stub := &clobStub{
		marketJSON: stubMarket,
		bookBids:   [][2]string{{"0.49", "100"}},
		bookAsks:   [][2]string{{"0.51", "100"}},
		orderResp:  []orderResponse{{Success: true, OrderID: "o1", Status: "live"}},
		statusByID: make(map[string]orderStatusResponse),
	}
	srv := httptest.NewServer(stub.handler())
	t.Cleanup(srv.Close)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	a, err := New(Config{
		CLOBBaseURL:  srv.URL,
		GammaBaseURL: srv.URL,
		PrivateKey:   testKey,
		ChainID:      137,
		ApiKey:       "key-1",
		Secret:       base64.URLEncoding.EncodeToString([]byte("test-secret")),
		Passphrase:   "pass-1",
	}, logger)
	if err != nil {
		t.Fatal(err)
	}
	return a, stub
}

func TestGetMarketResolvesMetadata(t *testing.T) {
	t.Parallel()
	a, _ := testAdapter(t)

	meta, err := a.GetMarket(context.Background(), types.VenuePolymarket, "cond-1")
	if err != nil {
		t.Fatal(err)
	}
	if meta.Question != "Will it rain tomorrow?" || len(meta.Outcomes) != 2 {
		t.Errorf("meta = %+v", meta)
	}
	if meta.BestBid != 0.49 || meta.BestAsk != 0.51 || meta.MinOrderSize != 5 {
		t.Errorf("prices = %+v", meta)
	}
	if meta.TickSize != 0.001 {
		t.Errorf("tickSize = %v", meta.TickSize)
	}
}

func TestGetMarketWrongVenue(t *testing.T) {
	t.Parallel()
	a, _ := testAdapter(t)

	_, err := a.GetMarket(context.Background(), types.VenueKalshi, "cond-1")
	if !errors.Is(err, types.ErrInvalid) {
		t.Errorf("err = %v", err)
	}
}

func TestGetMarketUnknownID(t *testing.T) {
	t.Parallel()
	a, stub := testAdapter(t)
	stub.mu.Lock()
	stub.marketJSON = "[]"
	stub.mu.Unlock()

	_, err := a.GetMarket(context.Background(), types.VenuePolymarket, "missing")
	if !errors.Is(err, types.ErrNotFound) {
		t.Errorf("err = %v", err)
	}
}

func TestGetPriceFallsBackToRest(t *testing.T) {
	t.Parallel()
	a, _ := testAdapter(t)

	// No websocket data yet: the price must come from a REST book read.
	price, ok := a.GetPrice(context.Background(), types.VenuePolymarket, "cond-1")
	if !ok || price != 0.50 {
		t.Errorf("price = %v, %v; want mid 0.50", price, ok)
	}
}

func TestPlaceLimitOrder(t *testing.T) {
	t.Parallel()
	a, stub := testAdapter(t)

	result, err := a.PlaceOrder(context.Background(), types.OrderSpec{
		Venue:     types.VenuePolymarket,
		MarketID:  "cond-1",
		Outcome:   "YES",
		Side:      types.SideBuy,
		Price:     0.50,
		Size:      100,
		OrderKind: types.OrderLimit,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !result.Success || result.OrderID != "o1" {
		t.Errorf("result = %+v", result)
	}

	stub.mu.Lock()
	defer stub.mu.Unlock()
	if len(stub.lastOrders) != 1 {
		t.Fatalf("payloads = %d", len(stub.lastOrders))
	}
	order := stub.lastOrders[0].Order
	if order.TokenID != tokYes || order.Side != "BUY" {
		t.Errorf("order = %+v", order)
	}
	if len(order.Signature) < 4 || order.Signature[:2] != "0x" || order.Salt == "" {
		t.Errorf("order not signed: salt=%q sig=%q", order.Salt, order.Signature)
	}
	if order.MakerAmount != "50000000" || order.TakerAmount != "100000000" {
		t.Errorf("amounts = %s/%s", order.MakerAmount, order.TakerAmount)
	}
	if stub.lastOrders[0].OrderType != "GTC" {
		t.Errorf("orderType = %q", stub.lastOrders[0].OrderType)
	}
	if stub.lastHeaders.Get("POLY_API_KEY") != "key-1" {
		t.Error("missing L2 auth header")
	}
}

func TestPlaceMarketOrderCrossesBook(t *testing.T) {
	t.Parallel()
	a, stub := testAdapter(t)

	result, err := a.PlaceOrder(context.Background(), types.OrderSpec{
		Venue:         types.VenuePolymarket,
		MarketID:      "cond-1",
		Outcome:       "NO",
		Side:          types.SideBuy,
		Size:          10,
		OrderKind:     types.OrderMarket,
		SlippageBound: 2,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !result.Success {
		t.Errorf("result = %+v", result)
	}

	stub.mu.Lock()
	defer stub.mu.Unlock()
	if stub.lastOrders[0].OrderType != "FOK" {
		t.Errorf("orderType = %q, want FOK for market orders", stub.lastOrders[0].OrderType)
	}
	if stub.lastOrders[0].Order.TokenID != tokNo {
		t.Errorf("token = %q", stub.lastOrders[0].Order.TokenID)
	}
}

func TestPlaceOrderVenueRejection(t *testing.T) {
	t.Parallel()
	a, stub := testAdapter(t)
	stub.mu.Lock()
	stub.orderResp = []orderResponse{{Success: false, ErrorMsg: "not enough balance"}}
	stub.mu.Unlock()

	result, err := a.PlaceOrder(context.Background(), types.OrderSpec{
		Venue: types.VenuePolymarket, MarketID: "cond-1", Outcome: "YES",
		Side: types.SideBuy, Price: 0.5, Size: 10, OrderKind: types.OrderLimit,
	})
	if err != nil {
		t.Fatalf("rejections surface in the result, not as errors: %v", err)
	}
	if result.Success || result.Error != "not enough balance" {
		t.Errorf("result = %+v", result)
	}
}

func TestPlaceOrderBadRequestIsVenueError(t *testing.T) {
	t.Parallel()
	a, stub := testAdapter(t)
	stub.mu.Lock()
	stub.orderStatus = http.StatusBadRequest
	stub.mu.Unlock()

	_, err := a.PlaceOrder(context.Background(), types.OrderSpec{
		Venue: types.VenuePolymarket, MarketID: "cond-1", Outcome: "YES",
		Side: types.SideBuy, Price: 0.5, Size: 10, OrderKind: types.OrderLimit,
	})
	if !errors.Is(err, types.ErrVenue) {
		t.Errorf("err = %v", err)
	}
}

func TestPlaceOrderUnknownOutcome(t *testing.T) {
	t.Parallel()
	a, _ := testAdapter(t)

	_, err := a.PlaceOrder(context.Background(), types.OrderSpec{
		Venue: types.VenuePolymarket, MarketID: "cond-1", Outcome: "MAYBE",
		Side: types.SideBuy, Price: 0.5, Size: 10, OrderKind: types.OrderLimit,
	})
	if !errors.Is(err, types.ErrNotFound) {
		t.Errorf("err = %v", err)
	}
}

func TestCancelOrder(t *testing.T) {
	t.Parallel()
	a, stub := testAdapter(t)
	stub.mu.Lock()
	stub.cancelResp = cancelResponse{Canceled: []string{"o1"}}
	stub.mu.Unlock()

	ok, err := a.CancelOrder(context.Background(), "o1")
	if err != nil || !ok {
		t.Errorf("cancel = %v, %v", ok, err)
	}

	ok, err = a.CancelOrder(context.Background(), "o2")
	if err != nil || ok {
		t.Errorf("unconfirmed cancel = %v, %v", ok, err)
	}
}

func TestGetOrderStatus(t *testing.T) {
	t.Parallel()
	a, stub := testAdapter(t)
	stub.mu.Lock()
	stub.statusByID["o1"] = orderStatusResponse{
		ID: "o1", Status: "matched", Price: "0.5", OriginalSize: "100", SizeMatched: "100",
	}
	stub.mu.Unlock()

	result, err := a.GetOrderStatus(context.Background(), "o1")
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != "matched" || result.FilledSize != 100 || result.AvgFillPrice != 0.5 {
		t.Errorf("result = %+v", result)
	}

	_, err = a.GetOrderStatus(context.Background(), "missing")
	if !errors.Is(err, types.ErrNotFound) {
		t.Errorf("err = %v", err)
	}
}
