package venue

import (
	"context"
	"errors"
)

// Sentinel errors used to classify gateway failures. Callers match with
// errors.Is and decide between retry, fallback and termination.
var (
	// ErrAuth means the venue rejected the credentials or session token.
	// Not retryable.
	ErrAuth = errors.New("venue: authentication rejected")

	// ErrConnectivity covers transport-level failures (dial, timeouts,
	// dropped sockets). Retryable.
	ErrConnectivity = errors.New("venue: connectivity failure")

	// ErrPlacement means the venue refused an order (market closed,
	// amount out of range, instrument suspended).
	ErrPlacement = errors.New("venue: order placement refused")

	// ErrDataUnavailable means candle data could not be served right now.
	ErrDataUnavailable = errors.New("venue: market data unavailable")

	// ErrAmbiguousOutcome means a trade result could not be determined
	// after settlement. The trade may have won or lost.
	ErrAmbiguousOutcome = errors.New("venue: trade outcome ambiguous")

	// ErrTradingSuspended means the caller suspended trading locally,
	// typically while a connection cooldown is active.
	ErrTradingSuspended = errors.New("venue: trading suspended")
)

// Gateway is the full surface a trading session needs from a venue.
// Implementations are not required to be safe for concurrent use; each
// session owns exactly one gateway.
type Gateway interface {
	// Connect performs the auth handshake and prepares the connection.
	Connect(ctx context.Context) error

	// SelectMode switches between the practice and real balance.
	SelectMode(mode Mode) error

	// FetchCandles returns the most recent count candles for the
	// instrument at the given granularity in seconds, oldest first.
	FetchCandles(ctx context.Context, instrument string, granularitySec, count int) ([]Candle, error)

	// PlaceTrade opens a directional contract and returns the venue's
	// trade ID.
	PlaceTrade(ctx context.Context, amount float64, instrument string, dir Direction, durationMin int) (string, error)

	// PollResult reports the settlement outcome and realized profit of
	// a trade. Returns OutcomePending while the contract is open.
	PollResult(ctx context.Context, tradeID string) (Outcome, float64, error)

	// Balance returns the current balance and its currency code.
	Balance(ctx context.Context) (float64, string, error)

	// IsConnected reports whether the underlying connection looks alive.
	IsConnected() bool

	// Reconnect re-establishes the transport without redoing the full
	// login when possible.
	Reconnect(ctx context.Context) error

	Close() error
}

// Factory builds a fresh gateway for one account. The supervisor uses it
// for hard reconnects, where the old gateway is discarded entirely.
type Factory func(creds Credentials) Gateway
