package indicators

import "math"

// Bollinger returns the upper, middle and lower band over the last
// period values using width standard deviations.
func Bollinger(values []float64, period int, width float64) (upper, middle, lower float64) {
	if period <= 0 || len(values) < period {
		return 0, 0, 0
	}
	middle = SMA(values, period)
	sd := StdDev(values, period)
	return middle + width*sd, middle, middle - width*sd
}

// StdDev computes the population standard deviation of the last period
// values.
func StdDev(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	mean := SMA(values, period)
	sum := 0.0
	for i := len(values) - period; i < len(values); i++ {
		d := values[i] - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(period))
}
