// Package risk enforces per-session trading limits. The governor owns
// the session's running counters and decides when trading must stop.
package risk

import (
	"fmt"
	"sync"

	"options-core/pkg/venue"
)

// StopReason identifies which limit ended a session. Empty means none.
type StopReason string

const (
	StopNone              StopReason = ""
	StopLossHit           StopReason = "stop_loss"
	StopTakeProfitHit     StopReason = "take_profit"
	StopConsecutiveLosses StopReason = "consecutive_losses"
	StopMaxTrades         StopReason = "max_trades"
)

// minConsecutiveLosses is the enforced floor: it backstops an unset
// limit, and a configured limit below it would stop a session on its
// first losing trade.
const minConsecutiveLosses = 2

// Limits are the configured bounds for one session. Zero disables a
// check, except consecutive losses, which always falls back to the
// floor.
type Limits struct {
	StopLoss           float64 // positive amount, trips when -totalProfit >= StopLoss
	TakeProfit         float64 // trips when totalProfit >= TakeProfit
	MaxConsecutiveLoss int
	MaxTrades          int
}

// Snapshot is a copy of the governor's counters for status reporting.
type Snapshot struct {
	TotalProfit       float64 `json:"total_profit"`
	Wins              int     `json:"wins"`
	Losses            int     `json:"losses"`
	TradesTaken       int     `json:"trades_taken"`
	ConsecutiveLosses int     `json:"consecutive_losses"`
	WinRate           float64 `json:"win_rate"`
}

// Governor tracks realized results for one session.
type Governor struct {
	mu sync.Mutex

	totalProfit       float64
	wins              int
	losses            int
	tradesTaken       int
	consecutiveLosses int
}

func NewGovernor() *Governor {
	return &Governor{}
}

// Reset clears all counters. Called exactly once when a session
// (re)connects; reconnects within a run must not reset.
func (g *Governor) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.totalProfit = 0
	g.wins = 0
	g.losses = 0
	g.tradesTaken = 0
	g.consecutiveLosses = 0
}

// RecordOutcome folds a terminal settlement into the counters. Each
// settled trade counts exactly once toward tradesTaken; trades whose
// outcome stays ambiguous are never counted. Ties leave the loss
// streak untouched.
func (g *Governor) RecordOutcome(outcome venue.Outcome, profit float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.tradesTaken++
	g.totalProfit += profit
	switch outcome {
	case venue.OutcomeWin:
		g.wins++
		g.consecutiveLosses = 0
	case venue.OutcomeLoss:
		g.losses++
		g.consecutiveLosses++
	}
}

// Evaluate runs the stop checks in fixed priority order and returns the
// first tripped limit with a human-readable detail.
func (g *Governor) Evaluate(lim Limits) (StopReason, string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if lim.StopLoss > 0 && g.totalProfit <= -lim.StopLoss {
		return StopLossHit, fmt.Sprintf("loss %.2f reached stop-loss %.2f", -g.totalProfit, lim.StopLoss)
	}
	if lim.TakeProfit > 0 && g.totalProfit >= lim.TakeProfit {
		return StopTakeProfitHit, fmt.Sprintf("profit %.2f reached take-profit %.2f", g.totalProfit, lim.TakeProfit)
	}
	limit := lim.MaxConsecutiveLoss
	if limit < minConsecutiveLosses {
		limit = minConsecutiveLosses
	}
	if g.consecutiveLosses >= limit {
		return StopConsecutiveLosses, fmt.Sprintf("%d consecutive losses reached limit %d", g.consecutiveLosses, limit)
	}
	if lim.MaxTrades > 0 && g.tradesTaken >= lim.MaxTrades {
		return StopMaxTrades, fmt.Sprintf("%d trades reached limit %d", g.tradesTaken, lim.MaxTrades)
	}
	return StopNone, ""
}

// Snapshot copies the current counters.
func (g *Governor) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := Snapshot{
		TotalProfit:       g.totalProfit,
		Wins:              g.wins,
		Losses:            g.losses,
		TradesTaken:       g.tradesTaken,
		ConsecutiveLosses: g.consecutiveLosses,
	}
	if settled := g.wins + g.losses; settled > 0 {
		s.WinRate = float64(g.wins) / float64(settled) * 100
	}
	return s
}
