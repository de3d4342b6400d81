package strategy

import (
	"options-core/internal/indicators"
	"options-core/pkg/venue"
)

// EMAPullback trades retracements inside an established trend: EMA9
// over EMA21 defines the trend, a touch of the fast EMA marks the
// pullback, and RSI above/below 50 confirms that momentum still points
// with the trend.
type EMAPullback struct {
	fastPeriod int
	slowPeriod int
	rsiPeriod  int
}

func NewEMAPullback() *EMAPullback {
	return &EMAPullback{fastPeriod: 9, slowPeriod: 21, rsiPeriod: 14}
}

func (s *EMAPullback) Name() string { return "ema_pullback" }

func (s *EMAPullback) Analyze(candles []venue.Candle) Decision {
	cs := closes(candles)
	if len(cs) < s.slowPeriod+1 || len(candles) < 2 {
		return Decision{}
	}

	fast := indicators.EMA(cs, s.fastPeriod)
	slow := indicators.EMA(cs, s.slowPeriod)
	rsi := indicators.RSI(cs, s.rsiPeriod)
	bar := candles[len(candles)-2] // last closed candle

	if fast > slow && rsi > 50 {
		// Pullback touched the fast EMA and the bar closed back up.
		if bar.Low <= fast && bar.Close > bar.Open {
			return Decision{
				Direction: venue.Call,
				Reason:    reason("uptrend pullback to ema%d %.5f, rsi %.1f", s.fastPeriod, fast, rsi),
			}
		}
	}
	if fast < slow && rsi < 50 {
		if bar.High >= fast && bar.Close < bar.Open {
			return Decision{
				Direction: venue.Put,
				Reason:    reason("downtrend pullback to ema%d %.5f, rsi %.1f", s.fastPeriod, fast, rsi),
			}
		}
	}
	return Decision{}
}
