package db

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	database, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	return database
}

func TestSessionStateUpsertIsIdempotent(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	state := SessionState{
		Account:     "Trader@Example.com",
		State:       "scanning",
		Strategy:    "momentum",
		Balance:     1000,
		Currency:    "USD",
		TotalProfit: 12.5,
		Wins:        3,
		Losses:      1,
		TradesTaken: 4,
	}
	if err := database.UpsertSessionState(ctx, state); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	state.State = "stopped"
	state.StopReason = "take_profit"
	if err := database.UpsertSessionState(ctx, state); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := database.GetSessionState(ctx, "trader@example.com")
	if err != nil {
		t.Fatalf("GetSessionState: %v", err)
	}
	if got.State != "stopped" || got.StopReason != "take_profit" {
		t.Errorf("got state=%s reason=%s, want stopped/take_profit", got.State, got.StopReason)
	}
	if got.Wins != 3 || got.Losses != 1 || got.TradesTaken != 4 {
		t.Errorf("counters not preserved: %+v", got)
	}
}

func TestGetSessionStateNotFound(t *testing.T) {
	database := newTestDB(t)

	_, err := database.GetSessionState(context.Background(), "nobody@example.com")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSetPushTokenByUserID(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	user := User{ID: "u-1", Email: "A@X.com", PasswordHash: "h", PushToken: "old"}
	if err := database.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	if err := database.SetPushToken(ctx, "u-1", "new-token"); err != nil {
		t.Fatalf("SetPushToken: %v", err)
	}
	got, err := database.GetUserByEmail(ctx, "a@x.com")
	if err != nil || got == nil {
		t.Fatalf("GetUserByEmail: (%+v, %v)", got, err)
	}
	if got.PushToken != "new-token" {
		t.Errorf("push token = %q, want new-token", got.PushToken)
	}

	// Unknown user is reported, not silently ignored.
	if err := database.SetPushToken(ctx, "ghost", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown user: err = %v, want ErrNotFound", err)
	}
}

func TestSignalHistoryPerAccount(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Minute)
	for i, acct := range []string{"a@x.com", "a@x.com", "b@x.com"} {
		rec := SignalRecord{
			ID:         string(rune('1' + i)),
			Account:    acct,
			Instrument: "EURUSD-OTC",
			Direction:  "call",
			Status:     "EXECUTED",
			Amount:     1,
			CreatedAt:  base.Add(time.Duration(i) * time.Second),
		}
		if err := database.UpsertSignal(ctx, rec); err != nil {
			t.Fatalf("UpsertSignal %d: %v", i, err)
		}
	}

	// Settle the second signal; upsert must update, not duplicate.
	settled := time.Now()
	if err := database.UpsertSignal(ctx, SignalRecord{
		ID: "2", Account: "a@x.com", Instrument: "EURUSD-OTC", Direction: "call",
		Status: "EXECUTED", Outcome: "WIN", Profit: 0.87,
		CreatedAt: base.Add(time.Second), SettledAt: &settled,
	}); err != nil {
		t.Fatalf("settle upsert: %v", err)
	}

	got, err := database.ListSignalsByAccount(ctx, "A@X.com", 50)
	if err != nil {
		t.Fatalf("ListSignalsByAccount: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 signals for account, got %d", len(got))
	}
	if got[0].ID != "2" {
		t.Errorf("expected newest first, got %s", got[0].ID)
	}
	if got[0].Outcome != "WIN" || got[0].Profit != 0.87 {
		t.Errorf("settlement not applied: %+v", got[0])
	}
}
