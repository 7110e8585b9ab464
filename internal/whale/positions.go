package whale

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"tradegate/pkg/types"
)

// DataAPIFetcher reads an address's open positions from the venue's
// data API. Implements PositionFetcher.
type DataAPIFetcher struct {
	client *resty.Client
	logger *slog.Logger
}

// NewDataAPIFetcher points at a data-API base URL, e.g.
// https://data-api.polymarket.com.
func NewDataAPIFetcher(baseURL string, logger *slog.Logger) *DataAPIFetcher {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetHeader("Accept", "application/json")
	return &DataAPIFetcher{client: client, logger: logger.With("component", "whale-positions")}
}

// wirePosition is one entry of GET /positions.
type wirePosition struct {
	ConditionID  string  `json:"conditionId"`
	Outcome      string  `json:"outcome"`
	Size         float64 `json:"size"`
	AvgPrice     float64 `json:"avgPrice"`
	CurrentValue float64 `json:"currentValue"`
	CashPnL      float64 `json:"cashPnl"`
}

// FetchPositions returns the address's current holdings.
func (f *DataAPIFetcher) FetchPositions(ctx context.Context, address string) ([]types.WhalePosition, error) {
	var wire []wirePosition
	resp, err := f.client.R().
		SetContext(ctx).
		SetQueryParam("user", address).
		SetResult(&wire).
		Get("/positions")
	if err != nil {
		return nil, fmt.Errorf("%w: fetch positions for %s: %v", types.ErrNetwork, address, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: fetch positions: status %d: %s", types.ErrVenue, resp.StatusCode(), resp.String())
	}

	now := time.Now()
	out := make([]types.WhalePosition, 0, len(wire))
	for _, p := range wire {
		if p.Size <= 0 {
			continue
		}
		out = append(out, types.WhalePosition{
			Address:       address,
			MarketID:      p.ConditionID,
			Outcome:       p.Outcome,
			Size:          p.Size,
			AvgEntryPrice: p.AvgPrice,
			USDValue:      p.CurrentValue,
			UnrealizedPnL: p.CashPnL,
			LastUpdated:   now,
		})
	}
	return out, nil
}
