// Package swarm fans one trading intent out across many signing identities,
// choosing between atomic bundle submission, parallel sends, chunked
// multi-bundles, or staggered sequential execution.
package swarm

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
)

// maxSwarmWallets caps one coordinated trade.
const maxSwarmWallets = 20

// bundleChunkSize is the endpoint's per-bundle transaction limit, minus the
// tip transaction.
const bundleChunkSize = 5

// Action is the intent direction.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
)

// Mode is an execution style.
type Mode string

const (
	ModeAuto        Mode = ""
	ModeParallel    Mode = "parallel"
	ModeBundle      Mode = "bundle"
	ModeMultiBundle Mode = "multi-bundle"
	ModeSequential  Mode = "sequential"
)

// Wallet is one signing identity in the swarm.
type Wallet struct {
	ID      string
	Key     solana.PrivateKey
	Enabled bool
}

// PublicKey derives the wallet's public identifier.
func (w *Wallet) PublicKey() solana.PublicKey {
	return w.Key.PublicKey()
}

// Amount is a per-wallet trade amount: either a fixed numeric value (SOL for
// buys, tokens for sells) or a percentage of the wallet's on-chain position.
type Amount struct {
	Value   float64
	Percent bool
}

// ParseAmount reads "0.5" or "50%".
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if cut, ok := strings.CutSuffix(s, "%"); ok {
		v, err := strconv.ParseFloat(cut, 64)
		if err != nil {
			return Amount{}, err
		}
		return Amount{Value: v, Percent: true}, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Amount{}, err
	}
	return Amount{Value: v}, nil
}

// TradeIntent is one coordinated trade.
type TradeIntent struct {
	Mint   solana.PublicKey
	Action Action
	Amount Amount

	// Mode overrides automatic selection when set.
	Mode Mode
	// WalletIDs restricts the swarm to a subset; empty means all enabled.
	WalletIDs []string
	// AmountVariancePct jitters numeric amounts by up to +-variance percent.
	// Percentage amounts are never jittered.
	AmountVariancePct float64
}

// WalletResult is one wallet's outcome.
type WalletResult struct {
	WalletID  string  `json:"wallet_id"`
	Success   bool    `json:"success"`
	Signature string  `json:"signature,omitempty"`
	Error     string  `json:"error,omitempty"`
	Amount    float64 `json:"amount"`
}

// SwarmTradeResult aggregates one coordinated trade.
type SwarmTradeResult struct {
	Mode        Mode           `json:"mode"`
	Wallets     []WalletResult `json:"wallets"`
	BundleIDs   []string       `json:"bundle_ids,omitempty"`
	TotalSpent  float64        `json:"total_spent"`  // SOL, buys
	TokensMoved float64        `json:"tokens_moved"` // sells
	Elapsed     time.Duration  `json:"elapsed"`
	Errors      []string       `json:"errors,omitempty"`
}

// ChainQuery reads live chain state; sells never trust the local cache.
type ChainQuery interface {
	SolBalance(ctx context.Context, owner solana.PublicKey) (float64, error)
	TokenBalance(ctx context.Context, owner, mint solana.PublicKey) (float64, error)
}

// TxBuilder builds and signs transactions for one wallet.
type TxBuilder interface {
	Build(ctx context.Context, wallet *Wallet, intent TradeIntent, amount float64) (*solana.Transaction, error)
	BuildTip(ctx context.Context, wallet *Wallet, lamports uint64, dest solana.PublicKey) (*solana.Transaction, error)
}

// Sender submits single transactions and awaits confirmations.
type Sender interface {
	Send(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	Confirm(ctx context.Context, sig solana.Signature, timeout time.Duration) error
}

// BundleEndpoint submits an atomic transaction group. A rejection surfaces
// as an error wrapping types.ErrBundleRejected.
type BundleEndpoint interface {
	SubmitBundle(ctx context.Context, txs []*solana.Transaction) (string, error)
}

// tipDestinations are the block-engine tip accounts; one is picked at random
// per bundle.
var tipDestinations = []solana.PublicKey{
	solana.MustPublicKeyFromBase58("96gYZGLnJYVFmbjzopPSU6QiEV5fGqZNyN9nmNhvrZU5"),
	solana.MustPublicKeyFromBase58("HFqU5x63VTqvQss8hp11i4wVV8bD44PvwucfZ2bU7gRe"),
	solana.MustPublicKeyFromBase58("Cw8CFyM9FkoMi7K7Crf6HNQqf4uEMzpKw6QNghXLvLkY"),
	solana.MustPublicKeyFromBase58("ADaUMid9yfUytqMBgopwjb2DTLSokTSzL1zt6iGPaS49"),
}

// errText keeps result error strings short and stable.
func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
