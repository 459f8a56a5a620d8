// Package indicator provides technical indicator calculations over close
// prices.
//
// Each indicator is an O(1) streaming accumulator; the package-level helpers
// (LastRSI, LastEMA, Mean) run an indicator over a whole series and return the
// final value, which is how the analyzer consumes them.
package indicator

// Indicator is the interface for all streaming indicators.
type Indicator interface {
	// Name returns the indicator name (e.g., "EMA", "RSI").
	Name() string

	// Update feeds the next value and recalculates.
	Update(v float64)

	// Value returns the current calculated value. Returns 0 if not enough data.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool
}

// Run feeds every value into ind, oldest first, and returns it.
func Run(ind Indicator, values []float64) Indicator {
	for _, v := range values {
		ind.Update(v)
	}
	return ind
}

// LastRSI returns RSI(period) of the series. A series too short to seed the
// averages yields the neutral value 50.
func LastRSI(closes []float64, period int) float64 {
	r := Run(NewRSI(period), closes)
	if !r.Ready() {
		return 50
	}
	return r.Value()
}

// LastEMA returns EMA(period) of the series and whether it is seeded.
func LastEMA(closes []float64, period int) (float64, bool) {
	e := Run(NewEMA(period), closes)
	return e.Value(), e.Ready()
}

// Mean is the arithmetic mean of values, 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
