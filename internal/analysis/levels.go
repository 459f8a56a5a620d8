package analysis

import (
	"math"
	"sort"
	"time"

	"signal-enginev1/internal/indicator"
	"signal-enginev1/internal/model"
)

const (
	levelFirstPivot = 10   // first candidate index
	levelTailBars   = 5    // candidates stop this many bars before the end
	levelScanBars   = 50   // touches are searched ±50 bars around a candidate
	levelTolerance  = 0.02 // touch and dedup band
	reversalBars    = 3    // a touch must reverse within this many bars
	reversalMove    = 0.01 // by at least 1%
	volumeAvgBars   = 20   // trailing volume average window
	maxLevels       = 10
)

// FindLevels detects support (from lows) or resistance (from highs) on the
// series and keeps those on the correct side of price, strongest first.
func FindLevels(candles []model.Candle, kind model.LevelKind, price float64) []model.Level {
	n := len(candles)
	support := kind == model.LevelSupport

	extremes := make([]float64, n)
	for i, c := range candles {
		if support {
			extremes[i] = c.Low
		} else {
			extremes[i] = c.High
		}
	}

	avgVol := trailingVolume(candles, volumeAvgBars)

	var accepted []model.Level
	for i := levelFirstPivot; i < n-levelTailBars; i++ {
		candidate := extremes[i]
		if candidate <= 0 || nearAny(accepted, candidate) {
			continue
		}
		// A candidate must be the extreme of the bars from levelFirstPivot
		// before it to levelTailBars after it.
		if !isExtreme(extremes, i, levelFirstPivot, levelTailBars, !support) {
			continue
		}

		lo := max(0, i-levelScanBars)
		hi := min(n, i+levelScanBars+1)

		var touches []time.Time
		ratioSum := 0.0
		aboveAvg := false
		for j := lo; j < hi; j++ {
			if math.Abs(extremes[j]-candidate)/candidate > levelTolerance {
				continue
			}
			if !reversedFrom(candles, j, extremes[j], support) {
				continue
			}
			touches = append(touches, candles[j].TS)
			if avgVol[j] > 0 {
				ratio := candles[j].Volume / avgVol[j]
				ratioSum += ratio
				if ratio > 1 {
					aboveAvg = true
				}
			}
		}

		if len(touches) < minLevelTouches || !aboveAvg {
			continue
		}
		accepted = append(accepted, model.Level{
			Kind:           kind,
			Price:          candidate,
			Strength:       len(touches),
			Touches:        touches,
			AvgVolumeRatio: ratioSum / float64(len(touches)),
		})
	}

	levels := accepted[:0]
	for _, l := range accepted {
		if (support && l.Price < price) || (!support && l.Price > price) {
			levels = append(levels, l)
		}
	}

	sort.SliceStable(levels, func(a, b int) bool {
		if levels[a].Strength != levels[b].Strength {
			return levels[a].Strength > levels[b].Strength
		}
		return levels[a].AvgVolumeRatio > levels[b].AvgVolumeRatio
	})
	if len(levels) > maxLevels {
		levels = levels[:maxLevels]
	}
	return levels
}

// reversedFrom reports whether a close within the next reversalBars bars moved
// at least reversalMove away from the touch price in the favourable direction.
func reversedFrom(candles []model.Candle, j int, touch float64, support bool) bool {
	for k := j + 1; k <= j+reversalBars && k < len(candles); k++ {
		if support && candles[k].Close >= touch*(1+reversalMove) {
			return true
		}
		if !support && candles[k].Close <= touch*(1-reversalMove) {
			return true
		}
	}
	return false
}

// trailingVolume returns, for each bar, the mean volume of up to window bars
// before it (0 for the first bar).
func trailingVolume(candles []model.Candle, window int) []float64 {
	out := make([]float64, len(candles))
	sma := indicator.NewSMA(window)
	for j, c := range candles {
		out[j] = sma.Partial()
		sma.Update(c.Volume)
	}
	return out
}

func nearAny(levels []model.Level, price float64) bool {
	for _, l := range levels {
		if math.Abs(l.Price-price)/l.Price <= levelTolerance {
			return true
		}
	}
	return false
}
