package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"options-core/internal/events"
	"options-core/internal/session"
	"options-core/internal/supervisor"
	"options-core/pkg/coord"
	"options-core/pkg/db"
	"options-core/pkg/venue"
)

type idleGateway struct {
	connectErr error
	fetch      func(ctx context.Context) ([]venue.Candle, error)
}

func (g *idleGateway) Connect(ctx context.Context) error { return g.connectErr }
func (g *idleGateway) SelectMode(venue.Mode) error       { return nil }
func (g *idleGateway) FetchCandles(ctx context.Context, instrument string, gran, count int) ([]venue.Candle, error) {
	if g.fetch != nil {
		return g.fetch(ctx)
	}
	return []venue.Candle{{Close: 1}}, nil
}
func (g *idleGateway) PlaceTrade(ctx context.Context, amount float64, instrument string, dir venue.Direction, dur int) (string, error) {
	return "trade-1", nil
}
func (g *idleGateway) PollResult(ctx context.Context, id string) (venue.Outcome, float64, error) {
	return venue.OutcomePending, 0, nil
}
func (g *idleGateway) Balance(ctx context.Context) (float64, string, error) {
	return 100, "USD", nil
}
func (g *idleGateway) IsConnected() bool                   { return true }
func (g *idleGateway) Reconnect(ctx context.Context) error { return nil }
func (g *idleGateway) Close() error                        { return nil }

func newTestManager(t *testing.T, gw venue.Gateway, opts Options) (*Manager, *coord.MemoryStore) {
	t.Helper()
	store := coord.NewMemoryStore()
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("migrations: %v", err)
	}

	if opts.Defaults.Amount == 0 {
		opts.Defaults = session.DefaultConfig()
		opts.Defaults.ScanInterval = 10 * time.Millisecond
	}
	opts.Factory = func(venue.Credentials) venue.Gateway { return gw }
	opts.SupervisorOpts = supervisor.Options{RetryBackoff: time.Millisecond, FetchRate: 10000}
	if opts.SyncInterval == 0 {
		opts.SyncInterval = 10 * time.Millisecond
	}
	if opts.StopGrace == 0 {
		opts.StopGrace = 100 * time.Millisecond
	}

	return NewManager(store, database, events.NewBus(), nil, nil, opts), store
}

func waitStopped(t *testing.T, m *Manager, account string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !m.Running(account) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("session for %s still running", account)
}

func TestStartIsExclusivePerAccount(t *testing.T) {
	m, _ := newTestManager(t, &idleGateway{}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx, "User@Example.com", venue.Credentials{}, "", nil); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	// Same account, different case: the slot is taken.
	err := m.Start(ctx, "user@example.COM", venue.Credentials{}, "", nil)
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start: err = %v, want ErrAlreadyRunning", err)
	}

	if err := m.Stop("user@example.com"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	waitStopped(t, m, "user@example.com")

	// Slot is free again.
	if err := m.Start(ctx, "user@example.com", venue.Credentials{}, "", nil); err != nil {
		t.Fatalf("restart: %v", err)
	}
}

func TestSessionOutlivesStartContext(t *testing.T) {
	m, _ := newTestManager(t, &idleGateway{}, Options{})
	defer func() {
		_ = m.Stop("a@x.com")
		waitStopped(t, m, "a@x.com")
	}()

	// The caller's context dies right after Start returns, the way an
	// HTTP request context does once the handler responds.
	ctx, cancel := context.WithCancel(context.Background())
	if err := m.Start(ctx, "a@x.com", venue.Credentials{}, "", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancel()

	time.Sleep(100 * time.Millisecond)
	if !m.Running("a@x.com") {
		t.Fatal("session died with the start context")
	}
	if st := m.Status(context.Background(), "a@x.com"); st.State == session.StateStopped {
		t.Fatalf("state = %s after start context cancel", st.State)
	}
}

func TestStartPropagatesConnectFailure(t *testing.T) {
	gw := &idleGateway{connectErr: venue.ErrConnectivity}
	m, _ := newTestManager(t, gw, Options{})

	err := m.Start(context.Background(), "a@x.com", venue.Credentials{}, "", nil)
	if !errors.Is(err, venue.ErrConnectivity) {
		t.Fatalf("Start: err = %v, want ErrConnectivity", err)
	}
	if m.Running("a@x.com") {
		t.Fatal("failed start retained a session")
	}

	// The slot is immediately reusable once the venue recovers.
	gw.connectErr = nil
	if err := m.Start(context.Background(), "a@x.com", venue.Credentials{}, "", nil); err != nil {
		t.Fatalf("restart after recovery: %v", err)
	}
	_ = m.Stop("a@x.com")
	waitStopped(t, m, "a@x.com")
}

func TestStopAndUpdateOnMissingSession(t *testing.T) {
	m, _ := newTestManager(t, &idleGateway{}, Options{})

	if err := m.Stop("ghost@example.com"); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Stop: err = %v, want ErrNotRunning", err)
	}
	amount := 2.0
	if err := m.Update("ghost@example.com", session.Update{Amount: &amount}); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Update: err = %v, want ErrNotRunning", err)
	}
}

func TestStartRejectsInvalidConfig(t *testing.T) {
	m, _ := newTestManager(t, &idleGateway{}, Options{})
	bad := -1.0
	err := m.Start(context.Background(), "a@x.com", venue.Credentials{}, "", &session.Update{Amount: &bad})
	if err == nil {
		t.Fatal("negative amount accepted")
	}
	if m.Running("a@x.com") {
		t.Error("session registered despite invalid config")
	}
}

func TestStatusFallsBackToPersistedSnapshot(t *testing.T) {
	m, _ := newTestManager(t, &idleGateway{}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx, "a@x.com", venue.Credentials{}, "", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if err := m.Stop("a@x.com"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	waitStopped(t, m, "a@x.com")

	st := m.Status(context.Background(), "a@x.com")
	if st.State != session.StateStopped {
		t.Errorf("state = %s, want stopped", st.State)
	}
	if st.Account != "a@x.com" {
		t.Errorf("account = %q", st.Account)
	}
}

func TestSyncPublishesStatusAndRelaysStoreStop(t *testing.T) {
	m, store := newTestManager(t, &idleGateway{}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx, "a@x.com", venue.Credentials{}, "", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	m.syncTick(ctx)

	raw, err := store.Status(ctx, "a@x.com")
	if err != nil || raw == nil {
		t.Fatalf("store status = (%q, %v)", raw, err)
	}
	var st session.Status
	if err := json.Unmarshal(raw, &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.Account != "a@x.com" {
		t.Errorf("published account = %q", st.Account)
	}
	if tok, _ := store.ActiveToken(ctx, "a@x.com"); tok == "" {
		t.Error("active token not refreshed")
	}

	// A stop staged in the store is applied on the next tick.
	if err := store.RequestStop(ctx, "a@x.com"); err != nil {
		t.Fatalf("RequestStop: %v", err)
	}
	m.syncTick(ctx)
	waitStopped(t, m, "a@x.com")

	// Consumed: a second tick must not see the stop again.
	if stop, _ := store.ConsumeStop(ctx, "a@x.com"); stop {
		t.Error("stop flag not consumed")
	}
}

func TestWatchdogKillsStaleSession(t *testing.T) {
	blocked := make(chan struct{})
	gw := &idleGateway{fetch: func(ctx context.Context) ([]venue.Candle, error) {
		select {
		case <-blocked:
		case <-ctx.Done():
		}
		return nil, ctx.Err()
	}}
	defer close(blocked)

	m, _ := newTestManager(t, gw, Options{WatchdogTimeout: 50 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx, "a@x.com", venue.Credentials{}, "", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		m.syncTick(ctx)
		if !m.Running("a@x.com") {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("watchdog never killed the hung session")
}

func TestConfigRelayFromStore(t *testing.T) {
	m, store := newTestManager(t, &idleGateway{}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx, "a@x.com", venue.Credentials{}, "", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	if err := store.PushConfig(ctx, "a@x.com", []byte(`{"strategy":"rsi_reversal"}`)); err != nil {
		t.Fatalf("PushConfig: %v", err)
	}
	m.syncTick(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.Status(ctx, "a@x.com").Strategy == "rsi_reversal" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("config update never reached the session")
}
