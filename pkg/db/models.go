package db

import "time"

// User represents an application user who can control sessions.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	PushToken    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SessionState is the persisted last-known snapshot of an account's
// trading session.
type SessionState struct {
	Account     string
	State       string
	Strategy    string
	Balance     float64
	Currency    string
	TotalProfit float64
	Wins        int
	Losses      int
	TradesTaken int
	StopReason  string
	UpdatedAt   time.Time
}

// SignalRecord is a settled or in-flight signal persisted for history
// queries through the API.
type SignalRecord struct {
	ID         string
	Account    string
	Instrument string
	Direction  string
	Status     string
	Outcome    string
	Amount     float64
	Profit     float64
	Reason     string
	Simulated  bool
	CreatedAt  time.Time
	SettledAt  *time.Time
}
