// wire.go holds the CLOB and Gamma wire formats: REST payloads and the
// websocket event envelopes. Prices and sizes travel as strings on the wire
// and are parsed at the edge; everything past this package uses float64.
package polymarket

import "strconv"

// tickSize is the market's price precision as reported by Gamma. It decides
// how many decimals the USDC amount keeps before 6-decimal scaling.
type tickSize string

const (
	tick0001 tickSize = "0.0001"
	tick001  tickSize = "0.001"
	tick01   tickSize = "0.01"
	tick1    tickSize = "0.1"
)

// amountDecimals returns the USDC decimal precision allowed at this tick.
func (t tickSize) amountDecimals() int32 {
	switch t {
	case tick0001:
		return 5
	case tick001:
		return 4
	case tick1:
		return 2
	default:
		return 3
	}
}

// wireLevel is one book level with string-encoded price and size.
type wireLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

func (l wireLevel) price() float64 { return parseFloat(l.Price) }
func (l wireLevel) size() float64  { return parseFloat(l.Size) }

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

// bookResponse is GET /book.
type bookResponse struct {
	Market    string      `json:"market"`
	AssetID   string      `json:"asset_id"`
	Hash      string      `json:"hash"`
	Timestamp string      `json:"timestamp"`
	Bids      []wireLevel `json:"bids"`
	Asks      []wireLevel `json:"asks"`
}

// signedOrder is the on-chain order embedded in a placement request.
type signedOrder struct {
	Salt          string `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          string `json:"side"`
	SignatureType int    `json:"signatureType"`
	Signature     string `json:"signature"`
}

// orderPayload is one element of POST /orders.
type orderPayload struct {
	Order     signedOrder `json:"order"`
	Owner     string      `json:"owner"`
	OrderType string      `json:"orderType"`
}

// orderResponse is the per-order answer to POST /orders.
type orderResponse struct {
	Success      bool   `json:"success"`
	ErrorMsg     string `json:"errorMsg"`
	OrderID      string `json:"orderID"`
	Status       string `json:"status"`
	TakingAmount string `json:"takingAmount"`
	MakingAmount string `json:"makingAmount"`
}

// orderStatusResponse is GET /data/order/{id}.
type orderStatusResponse struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Price        string `json:"price"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
}

// cancelResponse is the answer to the DELETE order endpoints.
type cancelResponse struct {
	Canceled    []string          `json:"canceled"`
	NotCanceled map[string]string `json:"not_canceled"`
}

// gammaMarket is one market as returned by the Gamma discovery API. Outcomes
// and token ids arrive as JSON-encoded string arrays inside strings.
type gammaMarket struct {
	ID             string  `json:"id"`
	ConditionID    string  `json:"conditionId"`
	Question       string  `json:"question"`
	Slug           string  `json:"slug"`
	Outcomes       string  `json:"outcomes"`     // e.g. `["Yes","No"]`
	ClobTokenIDs   string  `json:"clobTokenIds"` // parallel to Outcomes
	Active         bool    `json:"active"`
	Closed         bool    `json:"closed"`
	AcceptingOrder bool    `json:"acceptingOrders"`
	EndDateISO     string  `json:"endDateIso"`
	Liquidity      float64 `json:"liquidityNum,omitempty"`
	Volume24h      float64 `json:"volume24hr,omitempty"`
	BestBid        float64 `json:"bestBid"`
	BestAsk        float64 `json:"bestAsk"`
	LastTradePrice float64 `json:"lastTradePrice"`
	OrderMinSize   float64 `json:"orderMinSize"`
	TickSizeValue  string  `json:"orderPriceMinTickSize"`
}

// ————————————————————————————————————————————————————————————————————————
// Websocket envelopes

// wsAuth carries the L2 credentials on the user channel subscription.
type wsAuth struct {
	ApiKey     string `json:"apikey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// wsSubscribeMsg is the initial subscription sent on connect.
type wsSubscribeMsg struct {
	Type     string   `json:"type"`
	AssetIDs []string `json:"assets_ids,omitempty"`
	Markets  []string `json:"markets,omitempty"`
	Auth     *wsAuth  `json:"auth,omitempty"`
}

// wsUpdateMsg adds or removes subscriptions on a live connection.
type wsUpdateMsg struct {
	Operation string   `json:"operation"`
	AssetIDs  []string `json:"assets_ids,omitempty"`
	Markets   []string `json:"markets,omitempty"`
}

// wsBookEvent is a full book snapshot for one asset.
type wsBookEvent struct {
	EventType string      `json:"event_type"`
	AssetID   string      `json:"asset_id"`
	Market    string      `json:"market"`
	Timestamp string      `json:"timestamp"`
	Hash      string      `json:"hash"`
	Buys      []wireLevel `json:"buys"`
	Sells     []wireLevel `json:"sells"`
}

// wsPriceChangeEvent is an incremental book delta.
type wsPriceChangeEvent struct {
	EventType    string `json:"event_type"`
	Market       string `json:"market"`
	PriceChanges []struct {
		AssetID string `json:"asset_id"`
		Price   string `json:"price"`
		Size    string `json:"size"`
		Side    string `json:"side"`
		Hash    string `json:"hash"`
	} `json:"price_changes"`
}

// wsLastTradeEvent reports the most recent trade print for one asset.
type wsLastTradeEvent struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Side      string `json:"side"`
	Timestamp string `json:"timestamp"`
}

// wsTradeEvent is a fill notification on the user channel.
type wsTradeEvent struct {
	EventType string `json:"event_type"`
	ID        string `json:"id"`
	Market    string `json:"market"`
	AssetID   string `json:"asset_id"`
	Side      string `json:"side"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// wsOrderEvent is an order lifecycle notification on the user channel.
type wsOrderEvent struct {
	EventType    string `json:"event_type"`
	ID           string `json:"id"`
	Market       string `json:"market"`
	AssetID      string `json:"asset_id"`
	Type         string `json:"type"` // PLACEMENT | UPDATE | CANCELLATION
	Side         string `json:"side"`
	Price        string `json:"price"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
	Timestamp    string `json:"timestamp"`
}
