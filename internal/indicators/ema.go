package indicators

// EMASeries computes the exponential moving average across all values,
// seeded with the SMA of the first period. Returns a series aligned to
// the input; entries before the seed are 0.
func EMASeries(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if period <= 0 || len(values) < period {
		return out
	}

	seed := 0.0
	for i := 0; i < period; i++ {
		seed += values[i]
	}
	seed /= float64(period)
	out[period-1] = seed

	k := 2.0 / (float64(period) + 1.0)
	prev := seed
	for i := period; i < len(values); i++ {
		prev = (values[i]-prev)*k + prev
		out[i] = prev
	}
	return out
}

// EMA returns the latest EMA value, or 0 if not enough data.
func EMA(values []float64, period int) float64 {
	s := EMASeries(values, period)
	if len(s) == 0 {
		return 0
	}
	return s[len(s)-1]
}
