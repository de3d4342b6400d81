// Package supervisor guards one session's venue connection. It layers
// three recovery tiers over the raw gateway (liveness check, soft
// reconnect, full rebuild), trips a circuit breaker after repeated hard
// failures, and keeps candles flowing from a fallback provider while
// the breaker is open.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"options-core/pkg/venue"
)

// FallbackProvider serves delayed candles when the venue is unusable.
type FallbackProvider interface {
	Candles(ctx context.Context, instrument string, granularitySec, count int) ([]venue.Candle, error)
}

// Options tune the supervisor's recovery behavior. Zero values pick the
// defaults below.
type Options struct {
	FailureWindow time.Duration // window for counting hard failures
	FailureLimit  int           // hard failures in window to open the breaker
	Cooldown      time.Duration // how long the breaker stays open
	GraceWindow   time.Duration // post-trade quiet period for candle fetches
	PlaceAttempts int           // placement retries before giving up
	RetryBackoff  time.Duration // pause between placement retries
	FetchRate     rate.Limit    // candle fetch pacing, per second
}

func (o *Options) defaults() {
	if o.FailureWindow <= 0 {
		o.FailureWindow = 10 * time.Minute
	}
	if o.FailureLimit <= 0 {
		o.FailureLimit = 2
	}
	if o.Cooldown <= 0 {
		o.Cooldown = 5 * time.Minute
	}
	if o.GraceWindow <= 0 {
		o.GraceWindow = 30 * time.Second
	}
	if o.PlaceAttempts <= 0 {
		o.PlaceAttempts = 3
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = time.Second
	}
	if o.FetchRate <= 0 {
		o.FetchRate = 1
	}
}

// Supervisor owns the gateway lifecycle for one account. It is used by
// a single session goroutine; internal state is still locked because
// settlement watchers poll results concurrently.
type Supervisor struct {
	account  string
	creds    venue.Credentials
	mode     venue.Mode
	factory  venue.Factory
	fallback FallbackProvider
	opts     Options
	limiter  *rate.Limiter

	mu           sync.Mutex
	gw           venue.Gateway
	hardFailures []time.Time
	cooldownEnd  time.Time
	graceEnd     time.Time
}

func New(account string, creds venue.Credentials, mode venue.Mode, factory venue.Factory, fallback FallbackProvider, opts Options) *Supervisor {
	opts.defaults()
	return &Supervisor{
		account:  account,
		creds:    creds,
		mode:     mode,
		factory:  factory,
		fallback: fallback,
		opts:     opts,
		limiter:  rate.NewLimiter(opts.FetchRate, 1),
	}
}

// Connect establishes the initial connection. A failed first connect is
// a hard failure and counts toward the breaker.
func (s *Supervisor) Connect(ctx context.Context) error {
	return s.rebuild(ctx)
}

// ensure walks the recovery tiers until the gateway is usable or the
// attempt fails hard.
func (s *Supervisor) ensure(ctx context.Context) (venue.Gateway, error) {
	s.mu.Lock()
	gw := s.gw
	s.mu.Unlock()

	if gw != nil && gw.IsConnected() {
		return gw, nil
	}

	if gw != nil {
		log.Printf("[%s] connection lost, attempting soft reconnect", s.account)
		err := gw.Reconnect(ctx)
		if err == nil {
			return gw, nil
		}
		if errors.Is(err, venue.ErrAuth) {
			return nil, err
		}
		log.Printf("[%s] soft reconnect failed: %v", s.account, err)
	}

	if err := s.rebuild(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	gw = s.gw
	s.mu.Unlock()
	return gw, nil
}

// rebuild discards the gateway and creates a fresh one. Failures here
// are hard failures.
func (s *Supervisor) rebuild(ctx context.Context) error {
	s.mu.Lock()
	if old := s.gw; old != nil {
		_ = old.Close()
		s.gw = nil
	}
	s.mu.Unlock()

	log.Printf("[%s] rebuilding venue connection", s.account)
	gw := s.factory(s.creds)
	if err := gw.Connect(ctx); err != nil {
		_ = gw.Close()
		s.recordHardFailure()
		return err
	}
	if err := gw.SelectMode(s.mode); err != nil {
		_ = gw.Close()
		s.recordHardFailure()
		return err
	}

	s.mu.Lock()
	s.gw = gw
	s.mu.Unlock()
	return nil
}

func (s *Supervisor) recordHardFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	kept := s.hardFailures[:0]
	for _, t := range s.hardFailures {
		if now.Sub(t) < s.opts.FailureWindow {
			kept = append(kept, t)
		}
	}
	s.hardFailures = append(kept, now)

	if len(s.hardFailures) >= s.opts.FailureLimit {
		s.cooldownEnd = now.Add(s.opts.Cooldown)
		s.hardFailures = s.hardFailures[:0]
		log.Printf("[%s] circuit breaker open, trading suspended until %s",
			s.account, s.cooldownEnd.Format(time.RFC3339))
	}
}

// InCooldown reports whether the circuit breaker is open.
func (s *Supervisor) InCooldown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Now().Before(s.cooldownEnd)
}

func (s *Supervisor) inGrace() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Now().Before(s.graceEnd)
}

// FetchCandles returns candles for analysis. During the post-trade
// grace window it reports data unavailable so the scan loop idles
// instead of acting on the venue's unsettled feed. During cooldown it
// serves delayed candles from the fallback provider.
func (s *Supervisor) FetchCandles(ctx context.Context, instrument string, granularitySec, count int) ([]venue.Candle, error) {
	if s.inGrace() {
		return nil, fmt.Errorf("%w: post-trade grace window active", venue.ErrDataUnavailable)
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if s.InCooldown() {
		if s.fallback == nil {
			return nil, fmt.Errorf("%w: cooldown active and no fallback provider", venue.ErrDataUnavailable)
		}
		return s.fallback.Candles(ctx, instrument, granularitySec, count)
	}

	gw, err := s.ensure(ctx)
	if err != nil {
		return nil, err
	}
	candles, err := gw.FetchCandles(ctx, instrument, granularitySec, count)
	if err != nil && errors.Is(err, venue.ErrConnectivity) {
		// One soft retry after re-establishing the connection.
		if gw, err2 := s.ensure(ctx); err2 == nil {
			return gw.FetchCandles(ctx, instrument, granularitySec, count)
		}
	}
	return candles, err
}

// PlaceTrade opens a contract with bounded retries. A success arms the
// post-trade grace window and closes the failure ledger.
func (s *Supervisor) PlaceTrade(ctx context.Context, amount float64, instrument string, dir venue.Direction, durationMin int) (string, error) {
	if s.InCooldown() {
		return "", fmt.Errorf("%w: connection cooldown active", venue.ErrTradingSuspended)
	}

	var lastErr error
	for attempt := 1; attempt <= s.opts.PlaceAttempts; attempt++ {
		gw, err := s.ensure(ctx)
		if err != nil {
			lastErr = err
			if errors.Is(err, venue.ErrAuth) {
				return "", err
			}
		} else {
			id, err := gw.PlaceTrade(ctx, amount, instrument, dir, durationMin)
			if err == nil {
				s.mu.Lock()
				s.graceEnd = time.Now().Add(s.opts.GraceWindow)
				s.hardFailures = s.hardFailures[:0]
				s.mu.Unlock()
				return id, nil
			}
			lastErr = err
			if errors.Is(err, venue.ErrPlacement) {
				return "", err // venue said no, retrying won't help
			}
		}

		if attempt < s.opts.PlaceAttempts {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(s.opts.RetryBackoff):
			}
		}
	}
	return "", fmt.Errorf("placement failed after %d attempts: %w", s.opts.PlaceAttempts, lastErr)
}

// PollResult forwards settlement polling to the live gateway.
func (s *Supervisor) PollResult(ctx context.Context, tradeID string) (venue.Outcome, float64, error) {
	gw, err := s.ensure(ctx)
	if err != nil {
		return venue.OutcomePending, 0, err
	}
	return gw.PollResult(ctx, tradeID)
}

// Balance forwards to the live gateway.
func (s *Supervisor) Balance(ctx context.Context) (float64, string, error) {
	gw, err := s.ensure(ctx)
	if err != nil {
		return 0, "", err
	}
	return gw.Balance(ctx)
}

// Close releases the gateway.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	gw := s.gw
	s.gw = nil
	s.mu.Unlock()
	if gw != nil {
		return gw.Close()
	}
	return nil
}
