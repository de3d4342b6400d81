package strategy

import (
	"options-core/internal/indicators"
	"options-core/pkg/venue"
)

// Momentum trades trend continuation: EMA20 above EMA50 defines an
// uptrend, a close beyond the Bollinger middle band confirms momentum,
// and a volatility filter drops both dead and erratic markets.
type Momentum struct {
	fastPeriod  int
	slowPeriod  int
	bandPeriod  int
	bandWidth   float64
	minVolRatio float64
	maxVolRatio float64
}

func NewMomentum() *Momentum {
	return &Momentum{
		fastPeriod:  20,
		slowPeriod:  50,
		bandPeriod:  20,
		bandWidth:   2.0,
		minVolRatio: 0.0001,
		maxVolRatio: 0.01,
	}
}

func (s *Momentum) Name() string { return "momentum" }

func (s *Momentum) Analyze(candles []venue.Candle) Decision {
	cs := closes(candles)
	if len(cs) < s.slowPeriod+1 {
		return Decision{}
	}

	fast := indicators.EMA(cs, s.fastPeriod)
	slow := indicators.EMA(cs, s.slowPeriod)
	upper, middle, lower := indicators.Bollinger(cs, s.bandPeriod, s.bandWidth)
	last := cs[len(cs)-1]

	// Volatility as std dev relative to price. Too flat means spreads
	// eat the edge; too wild means the trend signal is noise.
	vol := indicators.StdDev(cs, s.bandPeriod) / last
	if vol < s.minVolRatio || vol > s.maxVolRatio {
		return Decision{}
	}

	if fast > slow && last > middle && last < upper {
		return Decision{
			Direction: venue.Call,
			Reason:    reason("uptrend ema%d>ema%d, close %.5f above mid band %.5f", s.fastPeriod, s.slowPeriod, last, middle),
		}
	}
	if fast < slow && last < middle && last > lower {
		return Decision{
			Direction: venue.Put,
			Reason:    reason("downtrend ema%d<ema%d, close %.5f below mid band %.5f", s.fastPeriod, s.slowPeriod, last, middle),
		}
	}
	return Decision{}
}
