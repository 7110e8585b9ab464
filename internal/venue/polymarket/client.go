// Package polymarket is the concrete venue adapter for the Polymarket CLOB.
//
// The REST client talks to the CLOB API for order management:
//   - GetOrderBook: GET    /book                 — L2 book for a token
//   - PostOrder:    POST   /orders               — place one signed order
//   - CancelOrder:  DELETE /orders               — cancel by ID
//   - CancelAll:    DELETE /cancel-all           — emergency cancel
//   - GetOrder:     GET    /data/order/{id}      — order status
//   - DeriveAPIKey: GET    /auth/derive-api-key  — bootstrap L2 creds
//
// and to the Gamma API for market discovery (GetMarket). Every request is
// rate-limited per category, retried on 5xx, and L2-authenticated except
// public reads.
package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"tradegate/pkg/types"
)

// Config holds the adapter's endpoints and signing material. L2 credentials
// may be left empty; the adapter derives them via L1 auth on startup.
type Config struct {
	CLOBBaseURL  string
	GammaBaseURL string
	WSMarketURL  string
	WSUserURL    string

	PrivateKey    string
	SignatureType int // 0 EOA, 1 proxy, 2 safe
	FunderAddress string
	ChainID       int

	ApiKey     string
	Secret     string
	Passphrase string
}

// client wraps the two REST surfaces with rate limiting, retry, and auth.
type client struct {
	clob   *resty.Client
	gamma  *resty.Client
	auth   *Auth
	rl     *rateLimiter
	logger *slog.Logger
}

func newRestyClient(baseURL string) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")
}

func newClient(cfg Config, auth *Auth, logger *slog.Logger) *client {
	return &client{
		clob:   newRestyClient(cfg.CLOBBaseURL),
		gamma:  newRestyClient(cfg.GammaBaseURL),
		auth:   auth,
		rl:     newRateLimiter(),
		logger: logger,
	}
}

// getOrderBook fetches the order book for a single token.
func (c *client) getOrderBook(ctx context.Context, tokenID string) (*bookResponse, error) {
	if err := c.rl.book.Wait(ctx); err != nil {
		return nil, err
	}

	var result bookResponse
	resp, err := c.clob.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetResult(&result).
		Get("/book")
	if err != nil {
		return nil, fmt.Errorf("%w: get book: %v", types.ErrNetwork, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("%w: get book: status %d: %s", types.ErrVenue, resp.StatusCode(), resp.String())
	}
	return &result, nil
}

// buildOrderPayload converts a resolved order into the wire form: amounts
// scaled to 6-decimal USDC at the market's tick precision, maker set to the
// funder wallet, signer to the EOA, taker to the zero address (open order),
// salted and EIP-712 signed.
func (c *client) buildOrderPayload(tokenID string, side types.Side, price, size float64, tick tickSize, orderType string) (orderPayload, error) {
	makerAmt, takerAmt := priceToAmounts(price, size, side, tick)

	wireSide := "BUY"
	if side == types.SideSell {
		wireSide = "SELL"
	}

	order := signedOrder{
		Maker:         c.auth.FunderAddress().Hex(),
		Signer:        c.auth.Address().Hex(),
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenID:       tokenID,
		MakerAmount:   makerAmt,
		TakerAmount:   takerAmt,
		Side:          wireSide,
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		SignatureType: c.auth.sigType,
	}
	if err := c.auth.SignOrder(&order); err != nil {
		return orderPayload{}, fmt.Errorf("sign order: %w", err)
	}

	return orderPayload{
		Order:     order,
		Owner:     c.auth.creds.ApiKey,
		OrderType: orderType,
	}, nil
}

// postOrder places one signed order.
func (c *client) postOrder(ctx context.Context, payload orderPayload) (*orderResponse, error) {
	if err := c.rl.order.Wait(ctx); err != nil {
		return nil, err
	}

	payloads := []orderPayload{payload}
	body, err := json.Marshal(payloads)
	if err != nil {
		return nil, fmt.Errorf("marshal order: %w", err)
	}
	headers, err := c.auth.L2Headers("POST", "/orders", string(body))
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var results []orderResponse
	resp, err := c.clob.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(payloads).
		SetResult(&results).
		Post("/orders")
	if err != nil {
		return nil, fmt.Errorf("%w: post order: %v", types.ErrNetwork, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("%w: post order: status %d: %s", types.ErrVenue, resp.StatusCode(), resp.String())
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("%w: post order: empty response", types.ErrVenue)
	}
	return &results[0], nil
}

// cancelOrders cancels the given orders by ID.
func (c *client) cancelOrders(ctx context.Context, orderIDs []string) (*cancelResponse, error) {
	if len(orderIDs) == 0 {
		return &cancelResponse{}, nil
	}
	if err := c.rl.cancel.Wait(ctx); err != nil {
		return nil, err
	}

	payload := struct {
		OrderIDs []string `json:"orderIDs"`
	}{OrderIDs: orderIDs}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal cancel request: %w", err)
	}
	headers, err := c.auth.L2Headers("DELETE", "/orders", string(body))
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var result cancelResponse
	resp, err := c.clob.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		SetResult(&result).
		Delete("/orders")
	if err != nil {
		return nil, fmt.Errorf("%w: cancel orders: %v", types.ErrNetwork, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("%w: cancel orders: status %d: %s", types.ErrVenue, resp.StatusCode(), resp.String())
	}
	return &result, nil
}

// cancelAll cancels every open order across all markets.
func (c *client) cancelAll(ctx context.Context) (*cancelResponse, error) {
	if err := c.rl.cancel.Wait(ctx); err != nil {
		return nil, err
	}

	headers, err := c.auth.L2Headers("DELETE", "/cancel-all", "")
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var result cancelResponse
	resp, err := c.clob.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Delete("/cancel-all")
	if err != nil {
		return nil, fmt.Errorf("%w: cancel all: %v", types.ErrNetwork, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("%w: cancel all: status %d: %s", types.ErrVenue, resp.StatusCode(), resp.String())
	}

	c.logger.Warn("all orders cancelled", "count", len(result.Canceled))
	return &result, nil
}

// getOrder fetches the current state of one order.
func (c *client) getOrder(ctx context.Context, orderID string) (*orderStatusResponse, error) {
	if err := c.rl.book.Wait(ctx); err != nil {
		return nil, err
	}

	headers, err := c.auth.L2Headers("GET", "/data/order/"+orderID, "")
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var result orderStatusResponse
	resp, err := c.clob.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Get("/data/order/" + orderID)
	if err != nil {
		return nil, fmt.Errorf("%w: get order: %v", types.ErrNetwork, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, fmt.Errorf("%w: order %q", types.ErrNotFound, orderID)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("%w: get order: status %d: %s", types.ErrVenue, resp.StatusCode(), resp.String())
	}
	return &result, nil
}

// deriveAPIKey derives L2 API credentials via L1 authentication.
func (c *client) deriveAPIKey(ctx context.Context) (*Credentials, error) {
	headers, err := c.auth.L1Headers(0)
	if err != nil {
		return nil, fmt.Errorf("l1 headers: %w", err)
	}

	var result Credentials
	resp, err := c.clob.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Get("/auth/derive-api-key")
	if err != nil {
		return nil, fmt.Errorf("%w: derive api key: %v", types.ErrNetwork, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("%w: derive api key: status %d: %s", types.ErrVenue, resp.StatusCode(), resp.String())
	}

	c.auth.SetCredentials(result)
	c.logger.Info("api key derived", "api_key", result.ApiKey)
	return &result, nil
}

// getMarket fetches one market's metadata from the Gamma API.
func (c *client) getMarket(ctx context.Context, marketID string) (*gammaMarket, error) {
	var results []gammaMarket
	resp, err := c.gamma.R().
		SetContext(ctx).
		SetQueryParam("condition_ids", marketID).
		SetResult(&results).
		Get("/markets")
	if err != nil {
		return nil, fmt.Errorf("%w: get market: %v", types.ErrNetwork, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("%w: get market: status %d: %s", types.ErrVenue, resp.StatusCode(), resp.String())
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("%w: market %q", types.ErrNotFound, marketID)
	}
	return &results[0], nil
}
