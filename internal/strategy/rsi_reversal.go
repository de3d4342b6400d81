package strategy

import (
	"options-core/internal/indicators"
	"options-core/pkg/venue"
)

// RSIReversal fades exhaustion: calls when RSI drops below the oversold
// threshold, puts when it rises above overbought.
type RSIReversal struct {
	period     int
	oversold   float64
	overbought float64
}

func NewRSIReversal() *RSIReversal {
	return &RSIReversal{period: 14, oversold: 30, overbought: 70}
}

func (s *RSIReversal) Name() string { return "rsi_reversal" }

func (s *RSIReversal) Analyze(candles []venue.Candle) Decision {
	cs := closes(candles)
	if len(cs) < s.period+1 {
		return Decision{}
	}

	rsi := indicators.RSI(cs, s.period)
	if rsi < s.oversold {
		return Decision{
			Direction: venue.Call,
			Reason:    reason("rsi oversold %.2f < %.0f", rsi, s.oversold),
		}
	}
	if rsi > s.overbought {
		return Decision{
			Direction: venue.Put,
			Reason:    reason("rsi overbought %.2f > %.0f", rsi, s.overbought),
		}
	}
	return Decision{}
}
