package analysis

import (
	"math"
	"time"

	"signal-enginev1/internal/model"
)

var fixtureStart = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func bar(tf model.Timeframe, i int, o, h, l, c, v float64) model.Candle {
	return model.Candle{
		TS:   fixtureStart.Add(time.Duration(i) * tf.Duration()),
		Open: o, High: h, Low: l, Close: c, Volume: v,
	}
}

// waveBar builds an oscillating candle whose open is the previous wave close.
func waveBar(tf model.Timeframe, wave []float64, i int, pad float64) model.Candle {
	c := wave[i%len(wave)]
	o := wave[(i+len(wave)-1)%len(wave)]
	return bar(tf, i, o, math.Max(o, c)+pad, math.Min(o, c)-pad, c, 100)
}

// supportH4 ranges 105-108 with three high-volume spikes down to 100 that
// recover, then sells off towards the level.
func supportH4() []model.Candle {
	wave := []float64{105, 106, 107, 108, 107, 106}
	var out []model.Candle
	for i := 0; i < 115; i++ {
		if i == 40 || i == 60 || i == 80 {
			out = append(out, bar(model.TF4h, i, 105, 105.5, 100, 104, 300))
			continue
		}
		out = append(out, waveBar(model.TF4h, wave, i, 0.5))
	}
	prev := out[len(out)-1].Close
	for _, c := range []float64{104, 103, 102, 101.2, 100.5} {
		out = append(out, bar(model.TF4h, len(out), prev, prev+0.3, c-0.3, c, 120))
		prev = c
	}
	return out
}

// declineH1 ranges 103.5-105 then steps down to 100.5 on red candles whose
// volume fades from 400 to 220.
func declineH1() []model.Candle {
	wave := []float64{103.5, 104, 104.5, 105, 104.5, 104}
	var out []model.Candle
	for i := 0; i < 130; i++ {
		out = append(out, waveBar(model.TF1h, wave, i, 0.2))
	}
	prev := out[len(out)-1].Close
	for k := 0; k < 20; k++ {
		c, v := prev+0.55, 100.0
		if k%2 == 0 {
			c, v = prev-1.0, float64(400-20*(k/2))
		}
		c = math.Round(c*100) / 100
		out = append(out, bar(model.TF1h, len(out), prev, math.Max(prev, c)+0.2, math.Min(prev, c)-0.2, c, v))
		prev = c
	}
	return out
}

// mirror reflects prices through x -> 10000/x, so a level at 100 stays at
// 100 while highs and lows (and green and red candles) trade places. Volume is
// kept.
func mirror(candles []model.Candle) []model.Candle {
	out := make([]model.Candle, len(candles))
	for i, c := range candles {
		out[i] = model.Candle{
			TS:   c.TS,
			Open: 10000 / c.Open, High: 10000 / c.Low, Low: 10000 / c.High, Close: 10000 / c.Close, Volume: c.Volume,
		}
	}
	return out
}

// rangeH4 holds at 101.2 with a high-volume dip to 100 every eighth bar and a
// high-volume spike to 102.5 four bars later, so support and resistance both
// sit within reach of price. Opens equal closes and the trend is mixed.
func rangeH4(n int) []model.Candle {
	out := make([]model.Candle, n)
	for i := range out {
		switch i % 8 {
		case 0:
			out[i] = bar(model.TF4h, i, 101.2, 101.3, 100, 101.2, 300)
		case 4:
			out[i] = bar(model.TF4h, i, 101.2, 102.5, 101.1, 101.2, 300)
		default:
			out[i] = bar(model.TF4h, i, 101.2, 101.3, 101.1, 101.2, 100)
		}
	}
	return out
}

// chopH1 is flat at 101.2 and ends with eight alternating green and red
// candles whose volume fades from 400 to 150 on both colours.
func chopH1(n int) []model.Candle {
	out := flat(model.TF1h, n-8, 101.2)
	for k, v := range []float64{400, 400, 300, 300, 200, 200, 150, 150} {
		o, c := 101.2, 101.4
		if k%2 == 1 {
			o, c = 101.4, 101.2
		}
		out = append(out, bar(model.TF1h, len(out), o, 101.5, 101.1, c, v))
	}
	return out
}

func risingD1(n int) []model.Candle {
	out := make([]model.Candle, n)
	for i := range out {
		f := float64(i)
		out[i] = bar(model.TF1d, i, 50+f, 51.5+f, 49.5+f, 51+f, 100)
	}
	return out
}

func fallingD1(n int) []model.Candle {
	out := make([]model.Candle, n)
	for i := range out {
		f := float64(i)
		out[i] = bar(model.TF1d, i, 150-f, 150.5-f, 148.5-f, 149-f, 100)
	}
	return out
}

func flat(tf model.Timeframe, n int, price float64) []model.Candle {
	out := make([]model.Candle, n)
	for i := range out {
		out[i] = bar(tf, i, price, price, price, price, 100)
	}
	return out
}

// referenceSeries holds at 100 for ten bars then moves step per bar.
func referenceSeries(n int, step float64) []model.Candle {
	out := make([]model.Candle, n)
	for i := range out {
		c := 100 + step*math.Max(0, float64(i-10))
		out[i] = bar(model.TF1h, i, 100, 100, 100, c, 1)
	}
	return out
}

func approx(a, b, tol float64) bool { return math.Abs(a-b) <= tol }
