package analysis

import (
	"signal-enginev1/internal/indicator"
	"signal-enginev1/internal/model"
)

const (
	trendMinCandles = 50
	structureBars   = 20  // closes inspected for swing structure
	pivotWindow     = 5   // bars on each side that a swing point must dominate
	volumeBars      = 10  // bars compared for up/down volume
	volumeEdge      = 1.2 // one side must exceed the other by 20%
	emaFast         = 50
	emaSlow         = 100
)

// TrendScore is the tally behind a trend classification.
type TrendScore struct {
	Bull  int
	Bear  int
	Trend model.Trend
}

// ClassifyTrend scores price structure, RSI, moving averages and volume.
// Series shorter than 50 candles are always mixed.
func ClassifyTrend(candles []model.Candle) TrendScore {
	if len(candles) < trendMinCandles {
		return TrendScore{Trend: model.TrendMixed}
	}

	var s TrendScore
	tally := func(bull, bear bool) {
		if bull {
			s.Bull++
		}
		if bear {
			s.Bear++
		}
	}

	closes := model.Closes(candles)
	last := closes[len(closes)-1]

	tally(swingStructure(closes[len(closes)-structureBars:]))

	rsi := indicator.LastRSI(closes, rsiPeriod)
	tally(rsi > 50, rsi < 50)

	fast, fastOK := indicator.LastEMA(closes, emaFast)
	slow, slowOK := indicator.LastEMA(closes, emaSlow)
	if fastOK && slowOK {
		tally(last > fast && last > slow, last < fast && last < slow)
	}

	tally(volumeBias(candles[len(candles)-volumeBars:]))

	switch {
	case s.Bull >= 2 && s.Bear < 2:
		s.Trend = model.TrendBullish
	case s.Bear >= 2 && s.Bull < 2:
		s.Trend = model.TrendBearish
	default:
		s.Trend = model.TrendMixed
	}
	return s
}

// swingStructure reports higher swing highs (bull) and lower swing lows (bear)
// among the given closes. A close is a swing point when no close within
// pivotWindow bars on either side exceeds it (or undercuts it, for lows).
func swingStructure(closes []float64) (bull, bear bool) {
	var highs, lows []float64
	for i := pivotWindow; i < len(closes)-pivotWindow; i++ {
		if isPivot(closes, i, pivotWindow, true) {
			highs = append(highs, closes[i])
		}
		if isPivot(closes, i, pivotWindow, false) {
			lows = append(lows, closes[i])
		}
	}
	bull = len(highs) >= 2 && highs[len(highs)-1] > highs[len(highs)-2]
	bear = len(lows) >= 2 && lows[len(lows)-1] < lows[len(lows)-2]
	return bull, bear
}

func isPivot(values []float64, i, window int, high bool) bool {
	return isExtreme(values, i, window, window, high)
}

// isExtreme reports whether values[i] is the highest (or lowest) value from
// before bars ahead of it to after bars past it. Ties count.
func isExtreme(values []float64, i, before, after int, high bool) bool {
	for j := i - before; j <= i+after; j++ {
		if j == i || j < 0 || j >= len(values) {
			continue
		}
		if high && values[j] > values[i] {
			return false
		}
		if !high && values[j] < values[i] {
			return false
		}
	}
	return true
}

// volumeBias compares average volume of green and red candles.
func volumeBias(candles []model.Candle) (bull, bear bool) {
	var up, down []float64
	for _, c := range candles {
		switch {
		case c.Green():
			up = append(up, c.Volume)
		case c.Red():
			down = append(down, c.Volume)
		}
	}
	upAvg, downAvg := indicator.Mean(up), indicator.Mean(down)

	bull = len(up) > 0 && (len(down) == 0 || upAvg >= downAvg*volumeEdge)
	bear = len(down) > 0 && (len(up) == 0 || downAvg >= upAvg*volumeEdge)
	return bull, bear
}
