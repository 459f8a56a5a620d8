package analysis

import (
	"math"

	"signal-enginev1/internal/model"
)

const tp1LookbackBars = 50

// Position size brackets, largest first.
const (
	SizeLarge  = "2-3% of deposit"
	SizeMedium = "1-2% of deposit"
	SizeSmall  = "0.5-1% of deposit"
)

// Confidence scores a setup: 20 per condition met, +10 when all five hold,
// +10 for a level touched three or more times, capped at 100.
func Confidence(conditionsMet, levelStrength int) int {
	c := 20 * conditionsMet
	if conditionsMet == totalConditions {
		c += 10
	}
	if levelStrength >= 3 {
		c += 10
	}
	return min(100, c)
}

// PositionSize maps confidence to a descriptive size bracket.
func PositionSize(confidence int) string {
	switch {
	case confidence >= 90:
		return SizeLarge
	case confidence >= 75:
		return SizeMedium
	default:
		return SizeSmall
	}
}

// BuildSignal derives entry zone, stop-loss and targets from the level.
// Only the price fields, side, level and current price are set.
func BuildSignal(side model.Side, level model.Level, price float64, h1 []model.Candle) *model.Signal {
	p := level.Price
	sig := &model.Signal{Side: side, CurrentPrice: price, Level: level}

	if side == model.SideLong {
		sig.EntryMin, sig.EntryMax = p*0.995, p*1.015
		sig.StopLoss = p * 0.985
		sig.TakeProfit1 = nearestSwing(h1, p, true)
		if sig.TakeProfit1 == 0 {
			sig.TakeProfit1 = p * 1.03
		}
		sig.TakeProfit2 = p * 1.06
		sig.TakeProfit3 = p * 1.11
		return sig
	}

	sig.EntryMin, sig.EntryMax = p*0.985, p*1.005
	sig.StopLoss = p * 1.015
	sig.TakeProfit1 = nearestSwing(h1, p, false)
	if sig.TakeProfit1 == 0 {
		sig.TakeProfit1 = p * 0.97
	}
	sig.TakeProfit2 = p * 0.94
	sig.TakeProfit3 = p * 0.89
	return sig
}

// nearestSwing finds the closest swing high above level (above=true) or swing
// low below it among the last tp1LookbackBars candles. Returns 0 if none.
// A swing point dominates the two bars on each side.
func nearestSwing(h1 []model.Candle, level float64, above bool) float64 {
	recent := h1[max(0, len(h1)-tp1LookbackBars):]

	values := make([]float64, len(recent))
	for i, c := range recent {
		if above {
			values[i] = c.High
		} else {
			values[i] = c.Low
		}
	}

	best, bestDist := 0.0, math.Inf(1)
	for i := 2; i < len(values)-2; i++ {
		v := values[i]
		if !isPivot(values, i, 2, above) {
			continue
		}
		if (above && v <= level) || (!above && v >= level) {
			continue
		}
		if d := math.Abs(v - level); d < bestDist {
			best, bestDist = v, d
		}
	}
	return best
}
