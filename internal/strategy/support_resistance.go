package strategy

import (
	"options-core/pkg/venue"
)

// SupportResistance trades rejections off the recent range extremes: a
// bar that probes the lowest low of the lookback window but closes
// bullish signals a call; the mirror at the highest high signals a put.
type SupportResistance struct {
	lookback  int
	tolerance float64 // proximity to the level, fraction of price
}

func NewSupportResistance() *SupportResistance {
	return &SupportResistance{lookback: 20, tolerance: 0.0005}
}

func (s *SupportResistance) Name() string { return "support_resistance" }

func (s *SupportResistance) Analyze(candles []venue.Candle) Decision {
	if len(candles) < s.lookback+2 {
		return Decision{}
	}

	bar := candles[len(candles)-2] // last closed candle
	window := candles[len(candles)-2-s.lookback : len(candles)-2]

	support := window[0].Low
	resistance := window[0].High
	for _, c := range window[1:] {
		if c.Low < support {
			support = c.Low
		}
		if c.High > resistance {
			resistance = c.High
		}
	}

	tol := bar.Close * s.tolerance
	if bar.Low <= support+tol && bar.Close > bar.Open {
		return Decision{
			Direction: venue.Call,
			Reason:    reason("bullish rejection at support %.5f (low %.5f)", support, bar.Low),
		}
	}
	if bar.High >= resistance-tol && bar.Close < bar.Open {
		return Decision{
			Direction: venue.Put,
			Reason:    reason("bearish rejection at resistance %.5f (high %.5f)", resistance, bar.High),
		}
	}
	return Decision{}
}
