// Package orchestrator manages the fleet of per-account trading
// sessions: lifecycle, isolation, watchdog termination, and the sync
// and command-relay loops against the coordination store.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"options-core/internal/events"
	"options-core/internal/monitor"
	"options-core/internal/session"
	"options-core/internal/signal"
	"options-core/internal/supervisor"
	"options-core/pkg/coord"
	"options-core/pkg/db"
	"options-core/pkg/venue"
)

var (
	ErrAlreadyRunning = errors.New("orchestrator: session already running for account")
	ErrNotRunning     = errors.New("orchestrator: no running session for account")
)

// Options wire the orchestrator's collaborators and timing.
type Options struct {
	Defaults        session.Config
	Factory         venue.Factory
	Fallback        supervisor.FallbackProvider
	SupervisorOpts  supervisor.Options
	SyncInterval    time.Duration
	WatchdogTimeout time.Duration
	StopGrace       time.Duration
}

type entry struct {
	sess      *session.Session
	token     string
	startedAt time.Time
}

// Manager owns all running sessions. All public methods are safe for
// concurrent use and never block on session internals.
type Manager struct {
	store    coord.Store
	database *db.Database
	bus      *events.Bus
	notifier session.Notifier
	metrics  *monitor.SystemMetrics
	opts     Options

	// Sessions run under the manager's own lifecycle, never under a
	// caller's request context: an HTTP start must not take its session
	// down when the handler returns.
	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*entry
	seen     map[string]struct{}
}

func NewManager(store coord.Store, database *db.Database, bus *events.Bus, notifier session.Notifier, metrics *monitor.SystemMetrics, opts Options) *Manager {
	if opts.SyncInterval <= 0 {
		opts.SyncInterval = time.Second
	}
	if opts.WatchdogTimeout <= 0 {
		opts.WatchdogTimeout = 30 * time.Second
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = 5 * time.Second
	}
	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &Manager{
		store:      store,
		database:   database,
		bus:        bus,
		notifier:   notifier,
		metrics:    metrics,
		opts:       opts,
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		sessions:   make(map[string]*entry),
		seen:       make(map[string]struct{}),
	}
}

// Start launches a session for the account. The check-and-insert is
// atomic so concurrent starts cannot race two sessions into existence.
// Start blocks until the initial venue handshake resolves; a failed
// handshake is returned to the caller and no session is retained. The
// request context covers only that synchronous part, the session runs
// under the manager's lifecycle.
func (m *Manager) Start(ctx context.Context, account string, creds venue.Credentials, pushToken string, update *session.Update) error {
	key := coord.NormalizeAccount(account)
	if key == "" {
		return errors.New("orchestrator: empty account")
	}

	cfg := m.opts.Defaults
	if update != nil {
		cfg.Apply(*update)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	sup := supervisor.New(key, creds, cfg.Mode, m.opts.Factory, m.opts.Fallback, m.opts.SupervisorOpts)
	sess := session.New(key, cfg, sup, m.bus, m.notifier, pushToken, m.metrics)

	m.mu.Lock()
	if _, exists := m.sessions[key]; exists {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	e := &entry{sess: sess, token: uuid.NewString(), startedAt: time.Now()}
	m.sessions[key] = e
	m.seen[key] = struct{}{}
	m.mu.Unlock()

	go func() {
		sess.Run(m.baseCtx)
		m.reap(key, e)
	}()

	select {
	case err := <-sess.ConnectOutcome():
		if err != nil {
			m.release(key, e)
			return fmt.Errorf("orchestrator: connect %s: %w", key, err)
		}
	case <-ctx.Done():
		sess.ForceKill()
		m.release(key, e)
		return ctx.Err()
	}

	log.Printf("orchestrator: session started for %s", key)
	return nil
}

// release waits for a failed start's run loop to exit and frees the
// slot immediately so the caller sees no session retained.
func (m *Manager) release(key string, e *entry) {
	<-e.sess.Done()
	m.mu.Lock()
	if cur, ok := m.sessions[key]; ok && cur == e {
		delete(m.sessions, key)
	}
	m.mu.Unlock()
}

// reap persists the terminal snapshot and releases the slot once a
// session's run loop exits.
func (m *Manager) reap(key string, e *entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	m.persistSnapshot(ctx, key, e.sess)
	if err := m.store.ClearActive(ctx, key); err != nil {
		log.Printf("orchestrator: clear active %s: %v", key, err)
	}

	m.mu.Lock()
	if cur, ok := m.sessions[key]; ok && cur == e {
		delete(m.sessions, key)
	}
	m.mu.Unlock()
	log.Printf("orchestrator: session released for %s", key)
}

// Stop requests a cooperative shutdown, escalating to force-kill after
// the grace period. Returns immediately.
func (m *Manager) Stop(account string) error {
	key := coord.NormalizeAccount(account)
	m.mu.Lock()
	e, ok := m.sessions[key]
	m.mu.Unlock()
	if !ok {
		return ErrNotRunning
	}

	e.sess.Stop()
	go func() {
		select {
		case <-e.sess.Done():
		case <-time.After(m.opts.StopGrace):
			log.Printf("orchestrator: %s did not stop within %s, force-killing", key, m.opts.StopGrace)
			e.sess.ForceKill()
		}
	}()
	return nil
}

// Update stages a config change on a running session. A missing
// session is a no-op error so controllers can treat it as idempotent.
func (m *Manager) Update(account string, u session.Update) error {
	key := coord.NormalizeAccount(account)
	m.mu.Lock()
	e, ok := m.sessions[key]
	m.mu.Unlock()
	if !ok {
		return ErrNotRunning
	}
	e.sess.UpdateConfig(u)
	return nil
}

// Status reports the session snapshot: live when running, last-known
// from the database otherwise, and a bare stopped record when the
// account has never run.
func (m *Manager) Status(ctx context.Context, account string) session.Status {
	key := coord.NormalizeAccount(account)
	m.mu.Lock()
	e, ok := m.sessions[key]
	m.mu.Unlock()
	if ok {
		return e.sess.Status()
	}

	if m.database != nil {
		if st, err := m.database.GetSessionState(ctx, key); err == nil {
			return session.Status{
				Account:    st.Account,
				State:      session.State(st.State),
				Strategy:   st.Strategy,
				Balance:    st.Balance,
				Currency:   st.Currency,
				StopReason: st.StopReason,
				UpdatedAt:  st.UpdatedAt,
			}
		}
	}
	return session.Status{Account: key, State: session.StateStopped, UpdatedAt: time.Now()}
}

// Logs returns the live log ring, or nil when not running.
func (m *Manager) Logs(account string) []string {
	key := coord.NormalizeAccount(account)
	m.mu.Lock()
	e, ok := m.sessions[key]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return e.sess.Logs()
}

// Signals returns live ledger signals, falling back to persisted
// history for stopped accounts.
func (m *Manager) Signals(ctx context.Context, account string) ([]byte, error) {
	key := coord.NormalizeAccount(account)
	m.mu.Lock()
	e, ok := m.sessions[key]
	m.mu.Unlock()
	if ok {
		return json.Marshal(e.sess.Signals())
	}
	if m.database == nil {
		return []byte("[]"), nil
	}
	recs, err := m.database.ListSignalsByAccount(ctx, key, 50)
	if err != nil {
		return nil, err
	}
	return json.Marshal(recs)
}

// List snapshots every running session.
func (m *Manager) List() []session.Status {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	out := make([]session.Status, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.sess.Status())
	}
	return out
}

// Running reports whether a session is live for the account.
func (m *Manager) Running(account string) bool {
	key := coord.NormalizeAccount(account)
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[key]
	return ok
}

// Run drives the sync, watchdog and relay loops until ctx ends. It
// also mirrors settled signals into the database via the event bus.
// When Run returns, every session still running is cancelled.
func (m *Manager) Run(ctx context.Context) {
	defer m.baseCancel()

	settled, unsub := m.bus.Subscribe(events.EventTradeSettled, 64)
	defer unsub()
	raised, unsubRaised := m.bus.Subscribe(events.EventSignalRaised, 64)
	defer unsubRaised()

	ticker := time.NewTicker(m.opts.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-raised:
			m.persistRaisedSignal(ctx, payload)
		case payload := <-settled:
			m.persistSettledSignal(ctx, payload)
		case <-ticker.C:
			m.syncTick(ctx)
		}
	}
}

// syncTick publishes every live session to the store, relays pending
// commands, enforces the watchdog, and updates fleet metrics.
func (m *Manager) syncTick(ctx context.Context) {
	m.mu.Lock()
	snapshot := make(map[string]*entry, len(m.sessions))
	for k, e := range m.sessions {
		snapshot[k] = e
	}
	m.mu.Unlock()

	for key, e := range snapshot {
		m.syncSession(ctx, key, e)
		m.relayCommands(ctx, key, e)
		m.watchdog(key, e)
	}

	if m.metrics != nil {
		m.mu.Lock()
		known := len(m.seen)
		m.mu.Unlock()
		m.metrics.SetSessionCounts(len(snapshot), known)
	}
}

func (m *Manager) syncSession(ctx context.Context, key string, e *entry) {
	statusJSON, err := json.Marshal(e.sess.Status())
	if err == nil {
		if err := m.store.SetStatus(ctx, key, statusJSON); err != nil {
			log.Printf("orchestrator: sync status %s: %v", key, err)
		}
	}
	logsJSON, err := json.Marshal(e.sess.Logs())
	if err == nil {
		if err := m.store.ReplaceLogs(ctx, key, logsJSON); err != nil {
			log.Printf("orchestrator: sync logs %s: %v", key, err)
		}
	}
	ttl := 3 * m.opts.SyncInterval
	if err := m.store.SetActive(ctx, key, e.token, ttl); err != nil {
		log.Printf("orchestrator: refresh active %s: %v", key, err)
	}

	m.persistSnapshot(ctx, key, e.sess)
}

func (m *Manager) persistSnapshot(ctx context.Context, key string, sess *session.Session) {
	if m.database == nil {
		return
	}
	st := sess.Status()
	rec := db.SessionState{
		Account:     key,
		State:       string(st.State),
		Strategy:    st.Strategy,
		Balance:     st.Balance,
		Currency:    st.Currency,
		TotalProfit: st.Risk.TotalProfit,
		Wins:        st.Risk.Wins,
		Losses:      st.Risk.Losses,
		TradesTaken: st.Risk.TradesTaken,
		StopReason:  st.StopReason,
	}
	if err := m.database.UpsertSessionState(ctx, rec); err != nil {
		log.Printf("orchestrator: persist state %s: %v", key, err)
	}
}

// relayCommands applies store-delivered STOP and config updates. The
// consume is read-then-delete, so each command is applied at most once.
func (m *Manager) relayCommands(ctx context.Context, key string, e *entry) {
	stop, err := m.store.ConsumeStop(ctx, key)
	if err != nil {
		log.Printf("orchestrator: consume stop %s: %v", key, err)
	} else if stop {
		log.Printf("orchestrator: stop relayed from store for %s", key)
		_ = m.Stop(key)
		return
	}

	raw, err := m.store.ConsumeConfig(ctx, key)
	if err != nil {
		log.Printf("orchestrator: consume config %s: %v", key, err)
		return
	}
	if raw == nil {
		return
	}
	var u session.Update
	if err := json.Unmarshal(raw, &u); err != nil {
		log.Printf("orchestrator: bad config for %s dropped: %v", key, err)
		return
	}
	e.sess.UpdateConfig(u)
}

// watchdog force-terminates sessions whose heartbeat went stale.
func (m *Manager) watchdog(key string, e *entry) {
	if time.Since(e.sess.Heartbeat()) <= m.opts.WatchdogTimeout {
		return
	}
	select {
	case <-e.sess.Done():
		return // already exiting, reap will clean up
	default:
	}
	log.Printf("orchestrator: watchdog killing stale session %s", key)
	e.sess.ForceKill()
}

func (m *Manager) persistRaisedSignal(ctx context.Context, payload any) {
	if m.database == nil {
		return
	}
	sig, ok := payload.(signal.Signal)
	if !ok {
		return
	}
	rec := db.SignalRecord{
		ID:         sig.ID,
		Account:    sig.Account,
		Instrument: sig.Instrument,
		Direction:  string(sig.Direction),
		Status:     string(sig.Status),
		Amount:     sig.Amount,
		Reason:     sig.Reason,
		Simulated:  sig.Simulated,
		CreatedAt:  sig.CreatedAt,
	}
	if err := m.database.UpsertSignal(ctx, rec); err != nil {
		log.Printf("orchestrator: persist signal: %v", err)
	}
}

func (m *Manager) persistSettledSignal(ctx context.Context, payload any) {
	if m.database == nil {
		return
	}
	p, ok := payload.(events.TradeSettledPayload)
	if !ok {
		return
	}
	now := time.Now()
	rec := db.SignalRecord{
		ID:         p.SignalID,
		Account:    p.Account,
		Instrument: p.Instrument,
		Status:     "EXECUTED",
		Outcome:    p.Outcome,
		Profit:     p.Profit,
		Simulated:  p.Simulated,
		CreatedAt:  now,
		SettledAt:  &now,
	}
	if err := m.database.UpsertSignal(ctx, rec); err != nil {
		log.Printf("orchestrator: persist settled signal: %v", err)
	}
}
