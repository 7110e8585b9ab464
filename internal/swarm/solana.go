package swarm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"tradegate/pkg/types"
)

// confirmPollInterval spaces signature-status polls while waiting for a
// confirmation.
const confirmPollInterval = 2 * time.Second

// RPCChain reads balances from a Solana RPC node. Implements ChainQuery.
type RPCChain struct {
	client *rpc.Client
}

// NewRPCChain connects a chain query to an RPC endpoint.
func NewRPCChain(endpoint string) *RPCChain {
	return &RPCChain{client: rpc.New(endpoint)}
}

// SolBalance returns the owner's native balance in SOL.
func (c *RPCChain) SolBalance(ctx context.Context, owner solana.PublicKey) (float64, error) {
	out, err := c.client.GetBalance(ctx, owner, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("%w: get balance: %v", types.ErrNetwork, err)
	}
	return float64(out.Value) / float64(solana.LAMPORTS_PER_SOL), nil
}

// TokenBalance returns the owner's balance of mint, in UI units. A missing
// token account means zero, not an error.
func (c *RPCChain) TokenBalance(ctx context.Context, owner, mint solana.PublicKey) (float64, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return 0, fmt.Errorf("%w: derive token account: %v", types.ErrInvalid, err)
	}

	out, err := c.client.GetTokenAccountBalance(ctx, ata, rpc.CommitmentConfirmed)
	if err != nil {
		if strings.Contains(err.Error(), "could not find account") {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: token balance: %v", types.ErrNetwork, err)
	}
	if out.Value == nil || out.Value.UiAmount == nil {
		return 0, nil
	}
	return *out.Value.UiAmount, nil
}

// RPCSender submits transactions to an RPC node and polls for confirmation.
// Implements Sender.
type RPCSender struct {
	client *rpc.Client
}

// NewRPCSender connects a sender to an RPC endpoint.
func NewRPCSender(endpoint string) *RPCSender {
	return &RPCSender{client: rpc.New(endpoint)}
}

// Send submits one signed transaction without waiting for confirmation.
func (s *RPCSender) Send(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	sig, err := s.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentProcessed,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("%w: send transaction: %v", types.ErrNetwork, err)
	}
	return sig, nil
}

// Confirm polls until the signature reaches confirmed commitment or the
// timeout elapses.
func (s *RPCSender) Confirm(ctx context.Context, sig solana.Signature, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(confirmPollInterval)
	defer ticker.Stop()

	for {
		out, err := s.client.GetSignatureStatuses(ctx, false, sig)
		if err == nil && len(out.Value) > 0 && out.Value[0] != nil {
			status := out.Value[0]
			if status.Err != nil {
				return fmt.Errorf("%w: transaction failed on chain: %v", types.ErrVenue, status.Err)
			}
			switch status.ConfirmationStatus {
			case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
				return nil
			}
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("%w: signature %s after %s", types.ErrConfirmationTimeout, sig, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
