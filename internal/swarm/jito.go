package swarm

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/go-resty/resty/v2"

	"tradegate/pkg/types"
)

// JitoEndpoint submits atomic bundles to a Jito block engine over JSON-RPC.
// Implements BundleEndpoint.
type JitoEndpoint struct {
	client *resty.Client
	logger *slog.Logger
}

// NewJitoEndpoint points at a block-engine URL, e.g.
// https://mainnet.block-engine.jito.wtf/api/v1/bundles.
func NewJitoEndpoint(url string, logger *slog.Logger) *JitoEndpoint {
	client := resty.New().
		SetBaseURL(url).
		SetTimeout(15 * time.Second).
		SetHeader("Content-Type", "application/json")
	return &JitoEndpoint{client: client, logger: logger.With("component", "jito")}
}

type jitoRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type jitoResponse struct {
	Result string `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// SubmitBundle sends the transactions as one atomic bundle. Every rejection
// path wraps ErrBundleRejected so the executor can fall back.
func (j *JitoEndpoint) SubmitBundle(ctx context.Context, txs []*solana.Transaction) (string, error) {
	encoded := make([]string, 0, len(txs))
	for _, tx := range txs {
		raw, err := tx.MarshalBinary()
		if err != nil {
			return "", fmt.Errorf("%w: marshal transaction: %v", types.ErrInvalid, err)
		}
		encoded = append(encoded, base64.StdEncoding.EncodeToString(raw))
	}

	req := jitoRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "sendBundle",
		Params:  []any{encoded, map[string]string{"encoding": "base64"}},
	}

	var result jitoResponse
	resp, err := j.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&result).
		Post("")
	if err != nil {
		return "", fmt.Errorf("%w: submit bundle: %v", types.ErrNetwork, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("%w: status %d: %s", types.ErrBundleRejected, resp.StatusCode(), resp.String())
	}
	if result.Error != nil {
		return "", fmt.Errorf("%w: %s", types.ErrBundleRejected, result.Error.Message)
	}
	if result.Result == "" {
		return "", fmt.Errorf("%w: empty bundle id", types.ErrBundleRejected)
	}

	j.logger.Debug("bundle accepted", "id", result.Result, "txs", len(txs))
	return result.Result, nil
}
