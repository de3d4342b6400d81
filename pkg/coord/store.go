// Package coord implements the shared coordination store through which
// the orchestrator publishes session state and external controllers
// deliver commands. Keys are namespaced per account:
//
//	bot:<account>:status  JSON status snapshot
//	bot:<account>:logs    JSON array of recent log lines
//	bot:<account>:config  pending config update (consumed on read)
//	bot:<account>:stop    stop request flag (consumed on read)
//	bot:<account>:active  liveness token for the running session
package coord

import (
	"context"
	"strings"
	"time"
)

// Store is the coordination surface shared by the orchestrator and any
// external controllers. Consume operations are at-most-once: the value
// is deleted atomically with the read, so a command is never applied
// twice even with multiple readers.
type Store interface {
	// SetStatus publishes the account's status snapshot as JSON.
	SetStatus(ctx context.Context, account string, statusJSON []byte) error
	// Status returns the last published snapshot, or nil if none.
	Status(ctx context.Context, account string) ([]byte, error)

	// ReplaceLogs overwrites the account's log buffer.
	ReplaceLogs(ctx context.Context, account string, logsJSON []byte) error
	// Logs returns the last published log buffer, or nil if none.
	Logs(ctx context.Context, account string) ([]byte, error)

	// SetActive marks the session alive with an expiring token.
	SetActive(ctx context.Context, account, token string, ttl time.Duration) error
	// ActiveToken returns the liveness token, or "" if expired/absent.
	ActiveToken(ctx context.Context, account string) (string, error)
	// ClearActive removes the liveness token.
	ClearActive(ctx context.Context, account string) error

	// RequestStop flags the account's session to stop.
	RequestStop(ctx context.Context, account string) error
	// ConsumeStop reads and clears the stop flag in one step.
	ConsumeStop(ctx context.Context, account string) (bool, error)

	// PushConfig stages a config update for the session to apply.
	PushConfig(ctx context.Context, account string, configJSON []byte) error
	// ConsumeConfig reads and clears the staged update in one step.
	// Returns nil when no update is pending.
	ConsumeConfig(ctx context.Context, account string) ([]byte, error)

	Close() error
}

// NormalizeAccount lowercases and trims an account identifier so that
// key lookups are case-insensitive.
func NormalizeAccount(account string) string {
	return strings.ToLower(strings.TrimSpace(account))
}

func key(account, field string) string {
	return "bot:" + NormalizeAccount(account) + ":" + field
}
