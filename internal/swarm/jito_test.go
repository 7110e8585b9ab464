package swarm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"

	"tradegate/pkg/types"
)

func signedTransfer(t *testing.T) (*solana.Transaction, solana.PrivateKey) {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewTransferInstruction(1000, key.PublicKey(), tipDestinations[0]).Build(),
		},
		solana.Hash{},
		solana.TransactionPayer(key.PublicKey()),
	)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tx.Sign(func(pub solana.PublicKey) *solana.PrivateKey {
		if pub.Equals(key.PublicKey()) {
			return &key
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	return tx, key
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestJitoSubmitBundle(t *testing.T) {
	t.Parallel()

	var gotMethod string
	var gotTxCount int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req jitoRequest
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		gotMethod = req.Method
		if txs, ok := req.Params[0].([]any); ok {
			gotTxCount = len(txs)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(jitoResponse{Result: "bundle-abc"})
	}))
	defer srv.Close()

	tx, _ := signedTransfer(t)
	ep := NewJitoEndpoint(srv.URL, quietLogger())

	id, err := ep.SubmitBundle(context.Background(), []*solana.Transaction{tx, tx})
	if err != nil {
		t.Fatal(err)
	}
	if id != "bundle-abc" {
		t.Errorf("id = %q", id)
	}
	if gotMethod != "sendBundle" || gotTxCount != 2 {
		t.Errorf("method = %q, txs = %d", gotMethod, gotTxCount)
	}
}

func TestJitoRejectionWrapsSentinel(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"error":   map[string]any{"code": -32602, "message": "bundle too large"},
		})
	}))
	defer srv.Close()

	tx, _ := signedTransfer(t)
	ep := NewJitoEndpoint(srv.URL, quietLogger())

	_, err := ep.SubmitBundle(context.Background(), []*solana.Transaction{tx})
	if !errors.Is(err, types.ErrBundleRejected) {
		t.Errorf("err = %v", err)
	}
}

func TestJitoHTTPErrorWrapsSentinel(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	tx, _ := signedTransfer(t)
	ep := NewJitoEndpoint(srv.URL, quietLogger())

	_, err := ep.SubmitBundle(context.Background(), []*solana.Transaction{tx})
	if !errors.Is(err, types.ErrBundleRejected) {
		t.Errorf("err = %v", err)
	}
}
