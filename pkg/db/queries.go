package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

var ErrNotFound = errors.New("record not found")

// CreateUser inserts a new user row.
func (d *Database) CreateUser(ctx context.Context, u User) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, push_token, created_at, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	`, u.ID, strings.ToLower(u.Email), u.PasswordHash, u.PushToken)
	return err
}

// GetUserByEmail returns a user by email or nil if not found.
func (d *Database) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, email, password_hash, push_token, created_at, updated_at
		FROM users WHERE email = ?
	`, strings.ToLower(email))
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.PushToken, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

// SetPushToken stores the Expo push token for a user.
func (d *Database) SetPushToken(ctx context.Context, userID, token string) error {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE users SET push_token = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, token, userID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertSessionState stores the latest snapshot for an account.
func (d *Database) UpsertSessionState(ctx context.Context, s SessionState) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO session_states (
			account, state, strategy, balance, currency, total_profit,
			wins, losses, trades_taken, stop_reason, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(account) DO UPDATE SET
			state = excluded.state,
			strategy = excluded.strategy,
			balance = excluded.balance,
			currency = excluded.currency,
			total_profit = excluded.total_profit,
			wins = excluded.wins,
			losses = excluded.losses,
			trades_taken = excluded.trades_taken,
			stop_reason = excluded.stop_reason,
			updated_at = CURRENT_TIMESTAMP
	`, strings.ToLower(s.Account), s.State, s.Strategy, s.Balance, s.Currency,
		s.TotalProfit, s.Wins, s.Losses, s.TradesTaken, s.StopReason)
	return err
}

// GetSessionState returns the last persisted snapshot for an account.
func (d *Database) GetSessionState(ctx context.Context, account string) (*SessionState, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT account, state, strategy, balance, currency, total_profit,
		       wins, losses, trades_taken, stop_reason, updated_at
		FROM session_states WHERE account = ?
	`, strings.ToLower(account))
	var s SessionState
	err := row.Scan(&s.Account, &s.State, &s.Strategy, &s.Balance, &s.Currency,
		&s.TotalProfit, &s.Wins, &s.Losses, &s.TradesTaken, &s.StopReason, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// UpsertSignal inserts or updates a signal row.
func (d *Database) UpsertSignal(ctx context.Context, r SignalRecord) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO signals (
			id, account, instrument, direction, status, outcome,
			amount, profit, reason, simulated, created_at, settled_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			outcome = excluded.outcome,
			profit = excluded.profit,
			settled_at = excluded.settled_at
	`, r.ID, strings.ToLower(r.Account), r.Instrument, r.Direction, r.Status,
		r.Outcome, r.Amount, r.Profit, r.Reason, r.Simulated, r.CreatedAt, r.SettledAt)
	return err
}

// ListSignalsByAccount returns recent signals, newest first.
func (d *Database) ListSignalsByAccount(ctx context.Context, account string, limit int) ([]SignalRecord, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, account, instrument, direction, status, outcome,
		       amount, profit, reason, simulated, created_at, settled_at
		FROM signals WHERE account = ?
		ORDER BY created_at DESC LIMIT ?
	`, strings.ToLower(account), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []SignalRecord
	for rows.Next() {
		var r SignalRecord
		if err := rows.Scan(&r.ID, &r.Account, &r.Instrument, &r.Direction, &r.Status,
			&r.Outcome, &r.Amount, &r.Profit, &r.Reason, &r.Simulated, &r.CreatedAt, &r.SettledAt); err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	return res, rows.Err()
}
