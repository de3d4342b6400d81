package risk

import (
	"testing"

	"options-core/pkg/venue"
)

func TestEvaluateStopLossBoundary(t *testing.T) {
	g := NewGovernor()
	lim := Limits{StopLoss: 5}

	g.RecordOutcome(venue.OutcomeLoss, -4.99)
	if reason, _ := g.Evaluate(lim); reason != StopNone {
		t.Fatalf("below threshold tripped %q", reason)
	}

	// Exact equality must trip the stop.
	g.RecordOutcome(venue.OutcomeLoss, -0.01)
	if reason, _ := g.Evaluate(lim); reason != StopLossHit {
		t.Fatalf("at threshold: reason = %q, want stop_loss", reason)
	}
}

func TestEvaluateTakeProfitBoundary(t *testing.T) {
	g := NewGovernor()
	lim := Limits{TakeProfit: 10}

	g.RecordOutcome(venue.OutcomeWin, 10)
	if reason, _ := g.Evaluate(lim); reason != StopTakeProfitHit {
		t.Fatalf("reason = %q, want take_profit", reason)
	}
}

func TestEvaluateOrderOfChecks(t *testing.T) {
	// When several limits trip at once, stop-loss wins, then
	// take-profit, then consecutive losses, then max trades.
	g := NewGovernor()
	for i := 0; i < 5; i++ {
		g.RecordOutcome(venue.OutcomeLoss, -2)
	}

	lim := Limits{StopLoss: 5, MaxConsecutiveLoss: 3, MaxTrades: 2}
	if reason, _ := g.Evaluate(lim); reason != StopLossHit {
		t.Fatalf("reason = %q, want stop_loss first", reason)
	}

	lim.StopLoss = 0
	if reason, _ := g.Evaluate(lim); reason != StopConsecutiveLosses {
		t.Fatalf("reason = %q, want consecutive_losses before max_trades", reason)
	}

	// With the streak broken, max trades is next in line.
	g.RecordOutcome(venue.OutcomeWin, 1)
	if reason, _ := g.Evaluate(lim); reason != StopMaxTrades {
		t.Fatalf("reason = %q, want max_trades", reason)
	}
}

func TestConsecutiveLossFloorIsTwo(t *testing.T) {
	g := NewGovernor()
	// A configured limit of 1 would stop on any first loss; the floor
	// raises it to 2.
	lim := Limits{MaxConsecutiveLoss: 1}

	g.RecordOutcome(venue.OutcomeLoss, -1)
	if reason, _ := g.Evaluate(lim); reason != StopNone {
		t.Fatalf("single loss tripped %q despite floor", reason)
	}

	g.RecordOutcome(venue.OutcomeLoss, -1)
	if reason, _ := g.Evaluate(lim); reason != StopConsecutiveLosses {
		t.Fatalf("two losses: reason = %q, want consecutive_losses", reason)
	}
}

func TestWinResetsLossStreakAndTieDoesNot(t *testing.T) {
	g := NewGovernor()

	g.RecordOutcome(venue.OutcomeLoss, -1)
	g.RecordOutcome(venue.OutcomeTie, 0)
	if got := g.Snapshot().ConsecutiveLosses; got != 1 {
		t.Errorf("tie changed streak: %d, want 1", got)
	}

	g.RecordOutcome(venue.OutcomeWin, 2)
	if got := g.Snapshot().ConsecutiveLosses; got != 0 {
		t.Errorf("win did not reset streak: %d", got)
	}
}

func TestSnapshotWinRate(t *testing.T) {
	g := NewGovernor()
	if got := g.Snapshot().WinRate; got != 0 {
		t.Fatalf("win rate with no trades = %v, want 0", got)
	}

	g.RecordOutcome(venue.OutcomeWin, 1)
	g.RecordOutcome(venue.OutcomeWin, 1)
	g.RecordOutcome(venue.OutcomeLoss, -1)
	g.RecordOutcome(venue.OutcomeTie, 0) // ties excluded from the rate

	want := 2.0 / 3.0 * 100
	if got := g.Snapshot().WinRate; got != want {
		t.Errorf("win rate = %v, want %v", got, want)
	}
}

func TestResetClearsCounters(t *testing.T) {
	g := NewGovernor()
	g.RecordOutcome(venue.OutcomeLoss, -3)
	g.Reset()

	s := g.Snapshot()
	if s.TotalProfit != 0 || s.TradesTaken != 0 || s.Losses != 0 || s.ConsecutiveLosses != 0 {
		t.Errorf("counters not cleared: %+v", s)
	}
}

func TestUnsetConsecutiveLossLimitUsesFloor(t *testing.T) {
	// With no explicit limit the floor still applies: two straight
	// losses stop the session.
	g := NewGovernor()

	g.RecordOutcome(venue.OutcomeLoss, -1)
	if reason, _ := g.Evaluate(Limits{}); reason != StopNone {
		t.Fatalf("one loss tripped %q", reason)
	}

	g.RecordOutcome(venue.OutcomeLoss, -1)
	if reason, _ := g.Evaluate(Limits{}); reason != StopConsecutiveLosses {
		t.Fatalf("two losses with unset limit: reason = %q, want consecutive_losses", reason)
	}
}

func TestZeroProfitAndTradeLimitsDisabled(t *testing.T) {
	g := NewGovernor()
	for i := 0; i < 100; i++ {
		g.RecordOutcome(venue.OutcomeWin, 10)
	}
	if reason, _ := g.Evaluate(Limits{}); reason != StopNone {
		t.Errorf("zero limits tripped %q after 100 wins", reason)
	}
}

func TestTradesCountedAtSettlement(t *testing.T) {
	g := NewGovernor()
	lim := Limits{MaxTrades: 2}

	g.RecordOutcome(venue.OutcomeWin, 1)
	if got := g.Snapshot().TradesTaken; got != 1 {
		t.Fatalf("trades after one settlement = %d, want 1", got)
	}
	if reason, _ := g.Evaluate(lim); reason != StopNone {
		t.Fatalf("one settled trade tripped %q", reason)
	}

	// Ties are terminal outcomes too.
	g.RecordOutcome(venue.OutcomeTie, 0)
	if reason, _ := g.Evaluate(lim); reason != StopMaxTrades {
		t.Fatalf("two settled trades: reason = %q, want max_trades", reason)
	}
}
