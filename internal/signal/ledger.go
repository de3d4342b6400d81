// Package signal tracks the lifecycle of trade signals raised by a
// session, from detection through execution and settlement.
package signal

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"options-core/pkg/venue"
)

// Status is the lifecycle state of a signal.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusExecuted Status = "EXECUTED"
	StatusFailed   Status = "FAILED"
	StatusSkipped  Status = "SKIPPED"
	StatusExpired  Status = "EXPIRED"
)

// Retention and expiry bounds.
const (
	maxSignals = 50
	staleAfter = 5 * time.Minute
)

var (
	ErrDuplicate = errors.New("signal: duplicate for instrument in same second")
	ErrNotFound  = errors.New("signal: not found")
)

// Signal is one trade decision and its settlement record.
type Signal struct {
	ID         string          `json:"id"`
	Account    string          `json:"account"`
	Instrument string          `json:"instrument"`
	Direction  venue.Direction `json:"direction"`
	Status     Status          `json:"status"`
	Outcome    venue.Outcome   `json:"outcome,omitempty"`
	Amount     float64         `json:"amount"`
	Profit     float64         `json:"profit"`
	Reason     string          `json:"reason,omitempty"`
	TradeID    string          `json:"trade_id,omitempty"`
	Simulated  bool            `json:"simulated"`
	CreatedAt  time.Time       `json:"created_at"`
	SettledAt  *time.Time      `json:"settled_at,omitempty"`

	processed bool
}

// Ledger holds the most recent signals for one account, newest first.
// All methods are safe for concurrent use.
type Ledger struct {
	mu      sync.Mutex
	account string
	signals []*Signal
}

func NewLedger(account string) *Ledger {
	return &Ledger{account: account}
}

// Raise records a new pending signal. At most one signal may exist per
// instrument per second; a second attempt returns ErrDuplicate so a
// rescan cannot double-fire.
func (l *Ledger) Raise(instrument string, dir venue.Direction, amount float64, why string, simulated bool) (*Signal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for _, s := range l.signals {
		if s.Instrument == instrument && s.CreatedAt.Unix() == now.Unix() {
			return nil, ErrDuplicate
		}
	}

	s := &Signal{
		ID:         uuid.NewString(),
		Account:    l.account,
		Instrument: instrument,
		Direction:  dir,
		Status:     StatusPending,
		Amount:     amount,
		Reason:     why,
		Simulated:  simulated,
		CreatedAt:  now,
	}
	l.signals = append([]*Signal{s}, l.signals...)
	if len(l.signals) > maxSignals {
		l.signals = l.signals[:maxSignals]
	}
	return s, nil
}

// MarkExecuted transitions a pending signal after successful placement.
func (l *Ledger) MarkExecuted(id, tradeID string) error {
	return l.transition(id, StatusExecuted, func(s *Signal) { s.TradeID = tradeID })
}

// MarkFailed transitions a pending signal after a placement error.
func (l *Ledger) MarkFailed(id, why string) error {
	return l.transition(id, StatusFailed, func(s *Signal) { s.Reason = why })
}

// MarkSkipped transitions a pending signal that was never sent, e.g.
// because a trade was already in flight.
func (l *Ledger) MarkSkipped(id, why string) error {
	return l.transition(id, StatusSkipped, func(s *Signal) { s.Reason = why })
}

func (l *Ledger) transition(id string, to Status, apply func(*Signal)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.find(id)
	if s == nil {
		return ErrNotFound
	}
	if s.Status != StatusPending {
		return nil // already finalized, keep first transition
	}
	s.Status = to
	if apply != nil {
		apply(s)
	}
	return nil
}

// Resolve applies a settlement outcome exactly once. Repeat calls for
// the same signal report applied=false so counters are never double
// counted.
func (l *Ledger) Resolve(id string, outcome venue.Outcome, profit float64) (applied bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.find(id)
	if s == nil {
		return false, ErrNotFound
	}
	if s.processed {
		return false, nil
	}
	s.processed = true
	s.Outcome = outcome
	s.Profit = profit
	now := time.Now()
	s.SettledAt = &now
	return true, nil
}

// ExpireStale marks pending signals older than the staleness bound as
// expired and returns how many were swept.
func (l *Ledger) ExpireStale() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := time.Now().Add(-staleAfter)
	n := 0
	for _, s := range l.signals {
		if s.Status == StatusPending && s.CreatedAt.Before(cutoff) {
			s.Status = StatusExpired
			n++
		}
	}
	return n
}

// Snapshot returns a copy of the ledger, newest first.
func (l *Ledger) Snapshot() []Signal {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Signal, len(l.signals))
	for i, s := range l.signals {
		out[i] = *s
	}
	return out
}

// Get returns a copy of one signal.
func (l *Ledger) Get(id string) (Signal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.find(id)
	if s == nil {
		return Signal{}, ErrNotFound
	}
	return *s, nil
}

func (l *Ledger) find(id string) *Signal {
	for _, s := range l.signals {
		if s.ID == id {
			return s
		}
	}
	return nil
}
