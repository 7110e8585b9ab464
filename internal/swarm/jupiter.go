package swarm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/go-resty/resty/v2"

	"tradegate/pkg/types"
)

// JupiterBuilder builds swap transactions through the Jupiter aggregator
// API and signs them with the wallet's key. Implements TxBuilder. Buys swap
// SOL into the mint; sells swap the mint back to SOL.
type JupiterBuilder struct {
	api         *resty.Client
	rpc         *rpc.Client
	slippageBps int
	logger      *slog.Logger

	mu       sync.Mutex
	decimals map[solana.PublicKey]uint8
}

// NewJupiterBuilder points at a Jupiter-compatible swap API (e.g.
// https://quote-api.jup.ag/v6) and an RPC node for mint metadata and
// blockhashes.
func NewJupiterBuilder(apiURL, rpcEndpoint string, slippageBps int, logger *slog.Logger) *JupiterBuilder {
	if slippageBps <= 0 {
		slippageBps = 100
	}
	api := resty.New().
		SetBaseURL(apiURL).
		SetTimeout(15 * time.Second).
		SetHeader("Content-Type", "application/json")
	return &JupiterBuilder{
		api:         api,
		rpc:         rpc.New(rpcEndpoint),
		slippageBps: slippageBps,
		logger:      logger.With("component", "jupiter"),
		decimals:    make(map[solana.PublicKey]uint8),
	}
}

type swapResponse struct {
	SwapTransaction string `json:"swapTransaction"`
	Error           string `json:"error"`
}

// Build quotes and assembles one signed swap for the wallet.
func (b *JupiterBuilder) Build(ctx context.Context, wallet *Wallet, intent TradeIntent, amount float64) (*solana.Transaction, error) {
	inputMint, outputMint := solana.SolMint, intent.Mint
	raw := uint64(amount * float64(solana.LAMPORTS_PER_SOL))
	if intent.Action == ActionSell {
		inputMint, outputMint = intent.Mint, solana.SolMint
		dec, err := b.mintDecimals(ctx, intent.Mint)
		if err != nil {
			return nil, err
		}
		raw = uint64(amount * math.Pow10(int(dec)))
	}
	if raw == 0 {
		return nil, fmt.Errorf("%w: swap amount rounds to zero", types.ErrInvalid)
	}

	quote, err := b.quote(ctx, inputMint, outputMint, raw)
	if err != nil {
		return nil, err
	}

	var result swapResponse
	resp, err := b.api.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"quoteResponse":    quote,
			"userPublicKey":    wallet.PublicKey().String(),
			"wrapAndUnwrapSol": true,
		}).
		SetResult(&result).
		Post("/swap")
	if err != nil {
		return nil, fmt.Errorf("%w: swap request: %v", types.ErrNetwork, err)
	}
	if resp.IsError() || result.Error != "" {
		return nil, fmt.Errorf("%w: swap: status %d: %s%s", types.ErrVenue, resp.StatusCode(), result.Error, resp.String())
	}

	tx, err := solana.TransactionFromBase64(result.SwapTransaction)
	if err != nil {
		return nil, fmt.Errorf("%w: decode swap transaction: %v", types.ErrVenue, err)
	}
	if err := signWith(tx, wallet); err != nil {
		return nil, err
	}
	return tx, nil
}

// BuildTip assembles a signed native transfer to a tip account.
func (b *JupiterBuilder) BuildTip(ctx context.Context, wallet *Wallet, lamports uint64, dest solana.PublicKey) (*solana.Transaction, error) {
	recent, err := b.rpc.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return nil, fmt.Errorf("%w: latest blockhash: %v", types.ErrNetwork, err)
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewTransferInstruction(lamports, wallet.PublicKey(), dest).Build(),
		},
		recent.Value.Blockhash,
		solana.TransactionPayer(wallet.PublicKey()),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: build tip: %v", types.ErrInvalid, err)
	}
	if err := signWith(tx, wallet); err != nil {
		return nil, err
	}
	return tx, nil
}

// quote fetches a route and returns it opaque, to be passed straight back
// to the swap endpoint.
func (b *JupiterBuilder) quote(ctx context.Context, input, output solana.PublicKey, amount uint64) (json.RawMessage, error) {
	resp, err := b.api.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"inputMint":   input.String(),
			"outputMint":  output.String(),
			"amount":      strconv.FormatUint(amount, 10),
			"slippageBps": strconv.Itoa(b.slippageBps),
		}).
		Get("/quote")
	if err != nil {
		return nil, fmt.Errorf("%w: quote request: %v", types.ErrNetwork, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: quote: status %d: %s", types.ErrVenue, resp.StatusCode(), resp.String())
	}
	return json.RawMessage(resp.Body()), nil
}

func (b *JupiterBuilder) mintDecimals(ctx context.Context, mint solana.PublicKey) (uint8, error) {
	b.mu.Lock()
	dec, ok := b.decimals[mint]
	b.mu.Unlock()
	if ok {
		return dec, nil
	}

	out, err := b.rpc.GetTokenSupply(ctx, mint, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("%w: token supply for %s: %v", types.ErrNetwork, mint, err)
	}
	dec = out.Value.Decimals

	b.mu.Lock()
	b.decimals[mint] = dec
	b.mu.Unlock()
	return dec, nil
}

func signWith(tx *solana.Transaction, wallet *Wallet) error {
	_, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(wallet.PublicKey()) {
			return &wallet.Key
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: sign: %v", types.ErrInvalid, err)
	}
	return nil
}
