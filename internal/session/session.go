// Package session runs the per-account trading loop: scan instruments,
// analyze candles, place trades, settle outcomes, enforce risk limits.
// One goroutine owns all mutable state; everything external arrives as
// a command over a channel.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"options-core/internal/events"
	"options-core/internal/monitor"
	"options-core/internal/risk"
	"options-core/internal/signal"
	"options-core/internal/strategy"
	"options-core/internal/supervisor"
	"options-core/pkg/venue"
)

// State is the session's lifecycle phase.
type State string

const (
	StateConnecting State = "connecting"
	StateIdle       State = "idle"
	StateScanning   State = "scanning"
	StateTrading    State = "trading"
	StateStopped    State = "stopped"
)

const maxLogLines = 100

// settlementPollGap is the pause between result polls once a contract
// should have expired.
const settlementPollGap = 5 * time.Second

// settlementPollTries bounds how long a watcher keeps polling before
// declaring the outcome ambiguous.
const settlementPollTries = 24

// Notifier delivers push notifications; implementations must not block
// the caller for long.
type Notifier interface {
	Push(token, title, body string)
}

type commandKind int

const (
	cmdStop commandKind = iota
	cmdUpdate
	cmdSettle
)

type settlement struct {
	signalID   string
	instrument string
	outcome    venue.Outcome
	profit     float64
	simulated  bool
	ambiguous  bool
}

type command struct {
	kind   commandKind
	update Update
	settle settlement
}

// Status is the externally visible snapshot of a session.
type Status struct {
	Account    string        `json:"account"`
	State      State         `json:"state"`
	Strategy   string        `json:"strategy"`
	Mode       venue.Mode    `json:"mode"`
	Simulation bool          `json:"simulation"`
	Balance    float64       `json:"balance"`
	Currency   string        `json:"currency"`
	Risk       risk.Snapshot `json:"risk"`
	StopReason string        `json:"stop_reason,omitempty"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// Session is one account's trading loop.
type Session struct {
	account   string
	sup       *supervisor.Supervisor
	ledger    *signal.Ledger
	governor  *risk.Governor
	bus       *events.Bus
	notifier  Notifier
	pushToken string
	metrics   *monitor.SystemMetrics

	commands      chan command
	done          chan struct{}
	connectResult chan error
	cancel        context.CancelFunc

	// Owned by the run goroutine.
	cfg        Config
	strat      strategy.Strategy
	inFlight   bool
	activeSims map[string]time.Time
	stopReason string

	// Shared snapshot state.
	mu        sync.Mutex
	status    Status
	logs      []string
	heartbeat time.Time
}

// New builds a session; Run must be called to start it.
func New(account string, cfg Config, sup *supervisor.Supervisor, bus *events.Bus, notifier Notifier, pushToken string, metrics *monitor.SystemMetrics) *Session {
	s := &Session{
		account:       account,
		sup:           sup,
		ledger:        signal.NewLedger(account),
		governor:      risk.NewGovernor(),
		bus:           bus,
		notifier:      notifier,
		pushToken:     pushToken,
		metrics:       metrics,
		commands:      make(chan command, 16),
		done:          make(chan struct{}),
		connectResult: make(chan error, 1),
		cfg:           cfg,
		strat:         strategy.New(cfg.Strategy),
		activeSims:    make(map[string]time.Time),
	}
	s.status = Status{
		Account:    account,
		State:      StateConnecting,
		Strategy:   s.strat.Name(),
		Mode:       cfg.Mode,
		Simulation: cfg.Simulation,
		UpdatedAt:  time.Now(),
	}
	s.heartbeat = time.Now()
	return s
}

// Run executes the session loop until stopped. It blocks; callers run
// it in its own goroutine.
func (s *Session) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	defer cancel()
	defer close(s.done)
	defer s.finalize()

	s.logf("session starting, strategy=%s mode=%s simulation=%v", s.strat.Name(), s.cfg.Mode, s.cfg.Simulation)

	if !s.connect(ctx) {
		return
	}

	// Counters reset exactly once per run; reconnects keep them.
	s.governor.Reset()
	s.refreshBalance(ctx)
	s.setState(StateIdle)

	for {
		select {
		case <-ctx.Done():
			s.setStopReason("terminated")
			return
		default:
		}

		s.setState(StateScanning)
		timer := monitor.NewTimer(s.scanHistogram())
		s.scan(ctx)
		timer.Stop()
		if s.metrics != nil {
			s.metrics.IncrementScans()
		}

		if n := s.ledger.ExpireStale(); n > 0 {
			s.logf("expired %d stale signals", n)
		}

		if s.stopReason != "" {
			return
		}

		s.setState(StateIdle)
		if !s.wait(ctx, s.scanInterval()) {
			return
		}
	}
}

func (s *Session) scanHistogram() *monitor.LatencyHistogram {
	if s.metrics == nil {
		return nil
	}
	return s.metrics.ScanLatency
}

func (s *Session) scanInterval() time.Duration {
	if s.cfg.ScanInterval > 0 {
		return s.cfg.ScanInterval
	}
	return 5 * time.Second
}

// connect performs the initial venue handshake and reports the outcome
// to the starter. A failed handshake ends the session so the caller
// retains nothing; outages after this point are the supervisor's
// problem, not a reason to die.
func (s *Session) connect(ctx context.Context) bool {
	s.setState(StateConnecting)
	err := s.sup.Connect(ctx)
	if err == nil {
		s.logf("connected to venue")
		s.connectResult <- nil
		return true
	}
	if errors.Is(err, venue.ErrAuth) {
		s.logf("authentication rejected: %v", err)
		s.setStopReason("auth_failed")
	} else {
		s.logf("connect failed: %v", err)
		s.setStopReason("connect_failed")
	}
	if s.metrics != nil {
		s.metrics.IncrementErrors()
	}
	s.connectResult <- err
	return false
}

// ConnectOutcome receives exactly one value: the result of the initial
// venue handshake.
func (s *Session) ConnectOutcome() <-chan error { return s.connectResult }

// scan walks the instrument list once. The heartbeat is touched per
// instrument so a slow venue recovery inside one fetch does not make a
// multi-instrument pass look dead to the watchdog.
func (s *Session) scan(ctx context.Context) {
	for _, instrument := range s.cfg.Instruments {
		if s.stopReason != "" {
			return
		}
		s.scanInstrument(ctx, instrument)
		s.touchHeartbeat()
	}
}

func (s *Session) scanInstrument(ctx context.Context, instrument string) {
	candles, err := s.sup.FetchCandles(ctx, instrument, s.cfg.GranularitySec, s.cfg.CandleCount)
	if err != nil {
		if errors.Is(err, venue.ErrDataUnavailable) {
			return // grace window or thin fallback data, try next pass
		}
		if errors.Is(err, venue.ErrAuth) {
			s.logf("authentication lost: %v", err)
			s.setStopReason("auth_failed")
			return
		}
		s.logf("candle fetch %s failed: %v", instrument, err)
		if s.metrics != nil {
			s.metrics.IncrementErrors()
		}
		return
	}

	decision := s.strat.Analyze(candles)
	if decision.Direction == "" {
		return
	}

	if s.cfg.Simulation {
		s.simulate(ctx, instrument, decision, candles)
		return
	}
	s.trade(ctx, instrument, decision)
}

// trade places a real contract for a decision.
func (s *Session) trade(ctx context.Context, instrument string, decision strategy.Decision) {
	sig, err := s.ledger.Raise(instrument, decision.Direction, s.cfg.Amount, decision.Reason, false)
	if err != nil {
		return // duplicate within the same second
	}
	if s.metrics != nil {
		s.metrics.IncrementSignals()
	}
	s.bus.Publish(events.EventSignalRaised, *sig)
	s.logf("signal %s %s on %s: %s", sig.ID[:8], decision.Direction, instrument, decision.Reason)

	if s.inFlight {
		_ = s.ledger.MarkSkipped(sig.ID, "trade already in flight")
		return
	}

	s.setState(StateTrading)
	timer := monitor.NewTimer(s.placementHistogram())
	tradeID, err := s.sup.PlaceTrade(ctx, s.cfg.Amount, instrument, decision.Direction, s.cfg.DurationMin)
	timer.Stop()
	if err != nil {
		_ = s.ledger.MarkFailed(sig.ID, err.Error())
		if errors.Is(err, venue.ErrTradingSuspended) {
			s.logf("placement suspended: %v", err)
			return
		}
		s.logf("placement failed on %s: %v", instrument, err)
		if s.metrics != nil {
			s.metrics.IncrementErrors()
		}
		return
	}

	_ = s.ledger.MarkExecuted(sig.ID, tradeID)
	s.inFlight = true
	if s.metrics != nil {
		s.metrics.IncrementTrades()
	}
	s.bus.Publish(events.EventTradePlaced, events.TradePlacedPayload{
		Account:    s.account,
		SignalID:   sig.ID,
		TradeID:    tradeID,
		Instrument: instrument,
		Direction:  string(decision.Direction),
		Amount:     s.cfg.Amount,
	})
	s.logf("trade %s placed: %s %s amount %.2f duration %dm", tradeID, decision.Direction, instrument, s.cfg.Amount, s.cfg.DurationMin)
	s.refreshBalance(ctx)

	go s.watchSettlement(ctx, sig.ID, tradeID, instrument, s.cfg.DurationMin)
}

func (s *Session) placementHistogram() *monitor.LatencyHistogram {
	if s.metrics == nil {
		return nil
	}
	return s.metrics.PlacementLatency
}

// watchSettlement waits out the contract duration and polls the result,
// then hands the outcome back to the run goroutine as a command.
func (s *Session) watchSettlement(ctx context.Context, signalID, tradeID, instrument string, durationMin int) {
	expiry := time.Duration(durationMin)*time.Minute + settlementPollGap
	select {
	case <-ctx.Done():
		return
	case <-time.After(expiry):
	}

	timer := monitor.NewTimer(s.settlementHistogram())
	defer timer.Stop()

	for try := 0; try < settlementPollTries; try++ {
		outcome, profit, err := s.sup.PollResult(ctx, tradeID)
		if err == nil && outcome != venue.OutcomePending {
			s.deliver(ctx, command{kind: cmdSettle, settle: settlement{
				signalID:   signalID,
				instrument: instrument,
				outcome:    outcome,
				profit:     profit,
			}})
			return
		}
		if err != nil && errors.Is(err, venue.ErrAuth) {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(settlementPollGap):
		}
	}

	s.deliver(ctx, command{kind: cmdSettle, settle: settlement{
		signalID:   signalID,
		instrument: instrument,
		ambiguous:  true,
	}})
}

func (s *Session) settlementHistogram() *monitor.LatencyHistogram {
	if s.metrics == nil {
		return nil
	}
	return s.metrics.SettlementLatency
}

// simulate raises a paper signal and settles it from market movement.
// Only one simulated observation per instrument may be open at a time.
func (s *Session) simulate(ctx context.Context, instrument string, decision strategy.Decision, candles []venue.Candle) {
	if expiry, ok := s.activeSims[instrument]; ok && time.Now().Before(expiry) {
		return
	}

	sig, err := s.ledger.Raise(instrument, decision.Direction, s.cfg.Amount, decision.Reason, true)
	if err != nil {
		return
	}
	if s.metrics != nil {
		s.metrics.IncrementSignals()
	}
	s.bus.Publish(events.EventSignalRaised, *sig)

	entry := candles[len(candles)-1].Close
	expiry := time.Now().Add(time.Duration(s.cfg.DurationMin) * time.Minute)
	s.activeSims[instrument] = expiry
	_ = s.ledger.MarkExecuted(sig.ID, "sim")
	s.logf("simulated %s on %s at %.5f: %s", decision.Direction, instrument, entry, decision.Reason)

	go s.watchSimulation(ctx, sig.ID, instrument, decision.Direction, entry, s.cfg.DurationMin, s.cfg.Amount, s.cfg.GranularitySec)
}

// watchSimulation compares the price at expiry against the entry.
func (s *Session) watchSimulation(ctx context.Context, signalID, instrument string, dir venue.Direction, entry float64, durationMin int, amount float64, granularitySec int) {
	wait := time.Duration(durationMin)*time.Minute + settlementPollGap
	select {
	case <-ctx.Done():
		return
	case <-time.After(wait):
	}

	var exit float64
	for try := 0; try < 3; try++ {
		candles, err := s.sup.FetchCandles(ctx, instrument, granularitySec, 5)
		if err == nil && len(candles) > 0 {
			exit = candles[len(candles)-1].Close
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(settlementPollGap):
		}
	}

	st := settlement{signalID: signalID, instrument: instrument, simulated: true}
	switch {
	case exit == 0:
		st.ambiguous = true
	case exit == entry:
		st.outcome = venue.OutcomeTie
	case (dir == venue.Call && exit > entry) || (dir == venue.Put && exit < entry):
		st.outcome = venue.OutcomeWin
		st.profit = amount * 0.87 // nominal payout for paper results
	default:
		st.outcome = venue.OutcomeLoss
		st.profit = -amount
	}
	s.deliver(ctx, command{kind: cmdSettle, settle: st})
}

// deliver sends a command without blocking forever if the session is
// already shutting down.
func (s *Session) deliver(ctx context.Context, cmd command) {
	select {
	case s.commands <- cmd:
	case <-ctx.Done():
	case <-s.done:
	}
}

// wait sleeps for d while staying responsive to commands and
// cancellation. Returns false when the session must stop.
func (s *Session) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			s.setStopReason("terminated")
			return false
		case cmd := <-s.commands:
			if !s.handle(ctx, cmd) {
				return false
			}
		case <-timer.C:
			return true
		}
	}
}

// handle processes one command on the run goroutine. Returns false when
// the session must stop.
func (s *Session) handle(ctx context.Context, cmd command) bool {
	switch cmd.kind {
	case cmdStop:
		s.logf("stop requested")
		s.setStopReason("stop_requested")
		return false

	case cmdUpdate:
		s.cfg.Apply(cmd.update)
		if cmd.update.Strategy != nil {
			s.strat = strategy.New(s.cfg.Strategy)
		}
		if cmd.update.Mode != nil {
			// The supervisor binds the balance mode at connection
			// build time; a change applies on the next rebuild.
			s.logf("mode change to %s takes effect on next reconnect", *cmd.update.Mode)
		}
		s.logf("config updated")
		s.publishStatus()
		return true

	case cmdSettle:
		return s.handleSettlement(ctx, cmd.settle)
	}
	return true
}

func (s *Session) handleSettlement(ctx context.Context, st settlement) bool {
	if st.ambiguous {
		s.logf("outcome for signal %s on %s is ambiguous, not counted", short(st.signalID), st.instrument)
		if !st.simulated {
			s.inFlight = false
		} else {
			delete(s.activeSims, st.instrument)
		}
		if s.metrics != nil {
			s.metrics.IncrementErrors()
		}
		return true
	}

	applied, err := s.ledger.Resolve(st.signalID, st.outcome, st.profit)
	if err != nil {
		s.logf("settlement for unknown signal %s", short(st.signalID))
		return true
	}
	if !applied {
		return true // already counted
	}
	if s.metrics != nil {
		s.metrics.IncrementSettlements()
	}

	s.bus.Publish(events.EventTradeSettled, events.TradeSettledPayload{
		Account:    s.account,
		SignalID:   st.signalID,
		Instrument: st.instrument,
		Outcome:    string(st.outcome),
		Profit:     st.profit,
		Simulated:  st.simulated,
	})

	if st.simulated {
		delete(s.activeSims, st.instrument)
		s.logf("simulation settled %s on %s: %s", short(st.signalID), st.instrument, st.outcome)
		return true
	}

	s.inFlight = false
	s.governor.RecordOutcome(st.outcome, st.profit)
	s.logf("trade settled on %s: %s profit %.2f", st.instrument, st.outcome, st.profit)
	s.refreshBalance(ctx)
	s.notify(fmt.Sprintf("Trade %s", st.outcome), fmt.Sprintf("%s on %s, profit %.2f", st.outcome, st.instrument, st.profit))

	if reason, detail := s.governor.Evaluate(s.cfg.Limits()); reason != risk.StopNone {
		s.logf("risk limit tripped: %s (%s)", reason, detail)
		s.setStopReason(string(reason))
		s.bus.Publish(events.EventRiskAlert, events.RiskAlertPayload{
			Account: s.account,
			Reason:  string(reason),
			Detail:  detail,
		})
		s.notify("Session stopped", detail)
		return false
	}
	return true
}

func (s *Session) refreshBalance(ctx context.Context) {
	balance, currency, err := s.sup.Balance(ctx)
	if err != nil {
		return // stale balance in the snapshot beats noisy failures
	}
	s.mu.Lock()
	s.status.Balance = balance
	s.status.Currency = currency
	s.mu.Unlock()
}

func (s *Session) notify(title, body string) {
	if s.notifier == nil || s.pushToken == "" {
		return
	}
	s.notifier.Push(s.pushToken, title, body)
}

// finalize publishes the terminal snapshot. Runs even on panic-free
// early exits so controllers always see a stopped state.
func (s *Session) finalize() {
	_ = s.sup.Close()
	s.mu.Lock()
	s.status.State = StateStopped
	s.status.StopReason = s.stopReason
	s.status.Risk = s.governor.Snapshot()
	s.status.UpdatedAt = time.Now()
	s.mu.Unlock()
	s.logf("session stopped (%s)", s.stopReason)
	s.bus.Publish(events.EventSessionUpdate, events.SessionUpdatePayload{
		Account: s.account,
		State:   string(StateStopped),
	})
}

// Stop requests a cooperative shutdown.
func (s *Session) Stop() {
	select {
	case s.commands <- command{kind: cmdStop}:
	case <-s.done:
	default:
		// Command queue full; the watchdog path will force-kill.
	}
}

// ForceKill cancels the session context outright.
func (s *Session) ForceKill() {
	if s.cancel != nil {
		s.cancel()
	}
}

// UpdateConfig stages a partial config change.
func (s *Session) UpdateConfig(u Update) {
	select {
	case s.commands <- command{kind: cmdUpdate, update: u}:
	case <-s.done:
	}
}

// Done closes when the run loop has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// Heartbeat is the time of the last completed scan pass.
func (s *Session) Heartbeat() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heartbeat
}

// Status returns a copy of the current snapshot.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	st.Risk = s.governor.Snapshot()
	return st
}

// Logs returns the recent log lines, oldest first.
func (s *Session) Logs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.logs))
	copy(out, s.logs)
	return out
}

// Signals returns the ledger snapshot, newest first.
func (s *Session) Signals() []signal.Signal {
	return s.ledger.Snapshot()
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.heartbeat = time.Now()
	s.status.State = st
	s.status.Strategy = s.strat.Name()
	s.status.Mode = s.cfg.Mode
	s.status.Simulation = s.cfg.Simulation
	s.status.UpdatedAt = time.Now()
	s.mu.Unlock()
	s.bus.Publish(events.EventSessionUpdate, events.SessionUpdatePayload{
		Account: s.account,
		State:   string(st),
	})
}

func (s *Session) publishStatus() {
	s.mu.Lock()
	s.status.Strategy = s.strat.Name()
	s.status.Mode = s.cfg.Mode
	s.status.Simulation = s.cfg.Simulation
	s.status.UpdatedAt = time.Now()
	s.mu.Unlock()
}

// setStopReason records why the loop is ending. The first reason wins
// so a later cleanup path cannot overwrite the real cause. Called only
// from the run goroutine.
func (s *Session) setStopReason(reason string) {
	if s.stopReason != "" {
		return
	}
	s.stopReason = reason
	s.mu.Lock()
	s.status.StopReason = reason
	s.mu.Unlock()
}

func (s *Session) touchHeartbeat() {
	s.mu.Lock()
	s.heartbeat = time.Now()
	s.mu.Unlock()
}

// logf appends to the session's capped log ring and mirrors to the
// process log.
func (s *Session) logf(format string, args ...interface{}) {
	line := fmt.Sprintf("%s %s", time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
	s.mu.Lock()
	s.logs = append(s.logs, line)
	if len(s.logs) > maxLogLines {
		s.logs = s.logs[len(s.logs)-maxLogLines:]
	}
	s.mu.Unlock()
	log.Printf("[%s] %s", s.account, fmt.Sprintf(format, args...))
	s.bus.Publish(events.EventSessionLog, events.LogPayload{Account: s.account, Line: line})
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
