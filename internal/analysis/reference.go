package analysis

import "signal-enginev1/internal/model"

const (
	referenceMinBars   = 20
	referenceBars      = 10
	referenceThreshold = 0.015
)

// ReferenceTrend classifies the reference asset from the change of its last
// close against the close referenceBars-1 bars earlier. Missing or short data
// is neutral.
func ReferenceTrend(candles []model.Candle) model.ReferenceState {
	if len(candles) < referenceMinBars {
		return model.ReferenceNeutral
	}

	first := candles[len(candles)-referenceBars].Close
	last := candles[len(candles)-1].Close
	if first <= 0 {
		return model.ReferenceNeutral
	}

	change := (last - first) / first
	switch {
	case change >= referenceThreshold:
		return model.ReferenceBullish
	case change <= -referenceThreshold:
		return model.ReferenceBearish
	default:
		return model.ReferenceNeutral
	}
}
