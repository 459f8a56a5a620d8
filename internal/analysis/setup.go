package analysis

import (
	"fmt"
	"math"

	"signal-enginev1/internal/model"
)

const (
	longRSIMin, longRSIMax   = 30.0, 48.0
	shortRSIMin, shortRSIMax = 52.0, 72.0
	momentumBars             = 5 // close vs close 5 bars earlier
	weaknessBars             = 8 // candles inspected for fading adverse volume
	weaknessMinCandles       = 3
)

// setupContext carries the per-call values shared by both sides.
type setupContext struct {
	pair   string
	h1     []model.Candle
	price  float64
	rsi1h  float64
	rsi4h  float64
	ref    model.ReferenceState
	trend4 model.Trend
	trend1 model.Trend
}

// evaluate scores one side against its levels and builds the signal when at
// least minConditions of the five conditions hold.
func (c *setupContext) evaluate(side model.Side, levels []model.Level) *model.Signal {
	level, ok := nearestLevel(levels, c.price)
	if !ok {
		return nil
	}
	if level.Strength < minLevelTouches {
		return nil
	}

	long := side == model.SideLong
	met := 2
	reasons := []string{
		fmt.Sprintf("%s %.6g within %.2f%% of price", level.Kind, level.Price, 100*math.Abs(c.price-level.Price)/c.price),
		fmt.Sprintf("level confirmed by %d touches", level.Strength),
	}

	if ok, why := c.rsiCondition(long); ok {
		met++
		reasons = append(reasons, why)
	}
	if ok, why := volumeWeakness(c.h1, long); ok {
		met++
		reasons = append(reasons, why)
	}
	if ok, why := referenceAgrees(c.ref, long); ok {
		met++
		reasons = append(reasons, why)
	}

	if met < minConditions {
		return nil
	}
	confidence := Confidence(met, level.Strength)
	if confidence < minConfidence {
		return nil
	}

	reasons = append(reasons, fmt.Sprintf("trend 4h %s, 1d %s", c.trend4, c.trend1))

	sig := BuildSignal(side, level, c.price, c.h1)
	sig.Pair = c.pair
	sig.Confidence = confidence
	sig.ConditionsMet = met
	sig.PositionSize = PositionSize(confidence)
	sig.Trend4h = c.trend4
	sig.Trend1d = c.trend1
	sig.RSI1h = c.rsi1h
	sig.Reasons = reasons
	sig.CandleTS = c.h1[len(c.h1)-1].TS
	return sig
}

// nearestLevel picks the level closest to price within levelProximity.
func nearestLevel(levels []model.Level, price float64) (model.Level, bool) {
	best, bestDist := model.Level{}, math.Inf(1)
	for _, l := range levels {
		d := math.Abs(price-l.Price) / price
		if d <= levelProximity && d < bestDist {
			best, bestDist = l, d
		}
	}
	return best, !math.IsInf(bestDist, 1)
}

// rsiCondition requires the 1h RSI inside the side's band and either a
// favourable 1h/4h divergence or favourable price movement over momentumBars.
func (c *setupContext) rsiCondition(long bool) (bool, string) {
	closes := model.Closes(c.h1)
	now, then := closes[len(closes)-1], closes[len(closes)-1-momentumBars]

	if long {
		if c.rsi1h < longRSIMin || c.rsi1h > longRSIMax {
			return false, ""
		}
		if c.rsi1h > c.rsi4h {
			return true, fmt.Sprintf("RSI 1h %.1f recovering above 4h %.1f", c.rsi1h, c.rsi4h)
		}
		if now > then {
			return true, fmt.Sprintf("RSI 1h %.1f with price rising over %d bars", c.rsi1h, momentumBars)
		}
		return false, ""
	}

	if c.rsi1h < shortRSIMin || c.rsi1h > shortRSIMax {
		return false, ""
	}
	if c.rsi1h < c.rsi4h {
		return true, fmt.Sprintf("RSI 1h %.1f rolling over below 4h %.1f", c.rsi1h, c.rsi4h)
	}
	if now < then {
		return true, fmt.Sprintf("RSI 1h %.1f with price falling over %d bars", c.rsi1h, momentumBars)
	}
	return false, ""
}

// volumeWeakness checks that adverse candles among the last weaknessBars are
// losing volume: at least three of them, the newest lighter than the oldest.
func volumeWeakness(h1 []model.Candle, long bool) (bool, string) {
	recent := h1[len(h1)-weaknessBars:]

	var adverse []model.Candle
	for _, c := range recent {
		if (long && c.Red()) || (!long && c.Green()) {
			adverse = append(adverse, c)
		}
	}
	if len(adverse) < weaknessMinCandles {
		return false, ""
	}

	first, last := adverse[0], adverse[len(adverse)-1]
	if last.Volume >= first.Volume {
		return false, ""
	}

	colour := "selling"
	if !long {
		colour = "buying"
	}
	return true, fmt.Sprintf("%s volume fading across %d candles (%.6g -> %.6g)", colour, len(adverse), first.Volume, last.Volume)
}

func referenceAgrees(ref model.ReferenceState, long bool) (bool, string) {
	if (long && ref == model.ReferenceBearish) || (!long && ref == model.ReferenceBullish) {
		return false, ""
	}
	return true, fmt.Sprintf("reference asset %s", ref)
}
