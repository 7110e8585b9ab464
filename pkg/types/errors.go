package types

import "errors"

// Error kinds shared across the gateway. Callers classify failures with
// errors.Is; wrapping sites add context with fmt.Errorf("...: %w", kind).
var (
	// ErrNotFound means an unknown id; query paths usually translate this
	// into a nil/empty result instead of surfacing it.
	ErrNotFound = errors.New("not found")

	// ErrInvalid means a malformed filter, config, or signal.
	ErrInvalid = errors.New("invalid")

	// ErrInsufficientFunds means an order would overdraw available cash,
	// in a backtest or live.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrVenue means the upstream venue rejected the request or returned 5xx.
	ErrVenue = errors.New("venue error")

	// ErrNetwork means a transport failure or timeout talking to a venue.
	ErrNetwork = errors.New("network error")

	// ErrBundleRejected means an atomic bundle submission failed; the swarm
	// handles it locally by falling back to parallel sends.
	ErrBundleRejected = errors.New("bundle rejected")

	// ErrConfirmationTimeout means a swarm sequential confirmation wait
	// expired for one wallet; reported per wallet, peers unaffected.
	ErrConfirmationTimeout = errors.New("confirmation timeout")

	// ErrStorage means a ledger write to the persistent store failed.
	ErrStorage = errors.New("storage error")

	// ErrStrategy means a strategy's evaluate call failed; the owning bot
	// transitions to the error state.
	ErrStrategy = errors.New("strategy error")
)
