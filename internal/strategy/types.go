package strategy

import (
	"fmt"
	"strings"

	"options-core/pkg/venue"
)

// Decision is the outcome of analyzing a candle series. An empty
// Direction means no trade.
type Decision struct {
	Direction venue.Direction
	Reason    string
}

// Strategy analyzes a closed-candle series and decides whether to open
// a directional contract. Analysis always targets the last closed
// candle; the final element of the series may still be forming.
type Strategy interface {
	Name() string
	Analyze(candles []venue.Candle) Decision
}

// New builds a strategy by name. Unknown names fall back to momentum,
// matching the default session configuration.
func New(name string) Strategy {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "rsi_reversal":
		return NewRSIReversal()
	case "ema_pullback":
		return NewEMAPullback()
	case "support_resistance":
		return NewSupportResistance()
	case "momentum", "":
		return NewMomentum()
	default:
		return NewMomentum()
	}
}

// Names lists the selectable strategies.
func Names() []string {
	return []string{"momentum", "rsi_reversal", "ema_pullback", "support_resistance"}
}

// closes extracts close prices up to and including the last closed
// candle (index len-2). Returns nil when the series is too short.
func closes(candles []venue.Candle) []float64 {
	if len(candles) < 2 {
		return nil
	}
	closed := candles[:len(candles)-1]
	out := make([]float64, len(closed))
	for i, c := range closed {
		out[i] = c.Close
	}
	return out
}

func reason(format string, args ...interface{}) string {
	return fmt.Sprintf(format, args...)
}
