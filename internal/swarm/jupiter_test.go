package swarm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
)

// fakeSwapAPI serves /quote and /swap, returning a pre-built transaction
// for the given payer.
func fakeSwapAPI(t *testing.T, payer solana.PrivateKey) (*httptest.Server, *map[string]string) {
	t.Helper()
	lastQuote := make(map[string]string)

	mux := http.NewServeMux()
	mux.HandleFunc("/quote", func(w http.ResponseWriter, r *http.Request) {
		for k, v := range r.URL.Query() {
			lastQuote[k] = v[0]
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"routePlan": "direct"})
	})
	mux.HandleFunc("/swap", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UserPublicKey string `json:"userPublicKey"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.UserPublicKey != payer.PublicKey().String() {
			t.Errorf("userPublicKey = %q", req.UserPublicKey)
		}

		tx, err := solana.NewTransaction(
			[]solana.Instruction{
				system.NewTransferInstruction(1, payer.PublicKey(), tipDestinations[0]).Build(),
			},
			solana.Hash{},
			solana.TransactionPayer(payer.PublicKey()),
		)
		if err != nil {
			t.Fatal(err)
		}
		tx.Sign(func(pub solana.PublicKey) *solana.PrivateKey {
			if pub.Equals(payer.PublicKey()) {
				return &payer
			}
			return nil
		})
		raw, err := tx.MarshalBinary()
		if err != nil {
			t.Fatal(err)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(swapResponse{
			SwapTransaction: base64.StdEncoding.EncodeToString(raw),
		})
	})

	return httptest.NewServer(mux), &lastQuote
}

// fakeRPC answers getLatestBlockhash, enough for BuildTip.
func fakeRPC(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     any    `json:"id"`
			Method string `json:"method"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.Method != "getLatestBlockhash" {
			t.Errorf("unexpected rpc method %q", req.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result": map[string]any{
				"context": map[string]any{"slot": 1},
				"value": map[string]any{
					"blockhash":            solana.Hash{}.String(),
					"lastValidBlockHeight": 100,
				},
			},
		})
	}))
}

func TestJupiterBuildBuySwap(t *testing.T) {
	t.Parallel()

	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	api, lastQuote := fakeSwapAPI(t, key)
	defer api.Close()

	b := NewJupiterBuilder(api.URL, "http://unused.invalid", 50, quietLogger())
	wallet := &Wallet{ID: "w1", Key: key, Enabled: true}
	mint := solana.MustPublicKeyFromBase58("4k3Dyjzvzp8eMZWUXbBCjEvwSkkk59S5iCNLY3QrkX6R")

	tx, err := b.Build(context.Background(), wallet, TradeIntent{Mint: mint, Action: ActionBuy}, 0.25)
	if err != nil {
		t.Fatal(err)
	}
	if len(tx.Signatures) == 0 || tx.Signatures[0].IsZero() {
		t.Error("transaction not signed")
	}

	q := *lastQuote
	if q["inputMint"] != solana.SolMint.String() || q["outputMint"] != mint.String() {
		t.Errorf("quote mints = %s -> %s", q["inputMint"], q["outputMint"])
	}
	// 0.25 SOL in lamports.
	if q["amount"] != "250000000" {
		t.Errorf("amount = %s", q["amount"])
	}
	if q["slippageBps"] != "50" {
		t.Errorf("slippageBps = %s", q["slippageBps"])
	}
}

func TestJupiterBuildRejectsZeroAmount(t *testing.T) {
	t.Parallel()

	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	b := NewJupiterBuilder("http://unused.invalid", "http://unused.invalid", 50, quietLogger())
	wallet := &Wallet{ID: "w1", Key: key, Enabled: true}

	_, err = b.Build(context.Background(), wallet, TradeIntent{Action: ActionBuy}, 0)
	if err == nil || !strings.Contains(err.Error(), "zero") {
		t.Errorf("err = %v", err)
	}
}

func TestJupiterBuildTip(t *testing.T) {
	t.Parallel()

	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	rpcSrv := fakeRPC(t)
	defer rpcSrv.Close()

	b := NewJupiterBuilder("http://unused.invalid", rpcSrv.URL, 50, quietLogger())
	wallet := &Wallet{ID: "w1", Key: key, Enabled: true}

	tx, err := b.BuildTip(context.Background(), wallet, 10_000, tipDestinations[0])
	if err != nil {
		t.Fatal(err)
	}
	if len(tx.Signatures) == 0 || tx.Signatures[0].IsZero() {
		t.Error("tip not signed")
	}
	if payer := tx.Message.AccountKeys[0]; !payer.Equals(key.PublicKey()) {
		t.Errorf("payer = %s", payer)
	}
}
