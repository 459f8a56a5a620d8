package indicator

import (
	"math"
	"testing"
)

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

// ────────────────────────────────────────────────────────────
// SMA
// ────────────────────────────────────────────────────────────

func TestSMA_Correctness_Period3(t *testing.T) {
	// Prices: 100, 102, 104, 103, 105
	// SMA after 3: 102, after 4: 103, after 5: 104
	sma := NewSMA(3)
	prices := []float64{100, 102, 104, 103, 105}
	expected := []float64{0, 0, 102.0, 103.0, 104.0}
	ready := []bool{false, false, true, true, true}

	for i, p := range prices {
		sma.Update(p)
		if sma.Ready() != ready[i] {
			t.Errorf("value %d: Ready()=%v, want %v", i, sma.Ready(), ready[i])
		}
		if ready[i] {
			assertClose(t, "SMA(3)", sma.Value(), expected[i], 0.0001)
		}
	}
}

func TestSMA_Partial(t *testing.T) {
	sma := NewSMA(3)
	assertClose(t, "empty", sma.Partial(), 0, 0)

	for i, c := range []struct{ in, want float64 }{
		{100, 100},
		{102, 101},
		{104, 102},
		{109, 105}, // window full, oldest value dropped
	} {
		sma.Update(c.in)
		assertClose(t, "SMA(3) partial", sma.Partial(), c.want, 1e-9)
		if i == 1 && sma.Value() != 0 {
			t.Errorf("Value()=%.2f before the window filled", sma.Value())
		}
	}
	assertClose(t, "partial matches value", sma.Partial(), sma.Value(), 1e-9)
}

// ────────────────────────────────────────────────────────────
// EMA
// ────────────────────────────────────────────────────────────

func TestEMA_Correctness_Period3(t *testing.T) {
	// EMA(3): multiplier = 0.5
	// SMA seed after 3 values = 102.0
	// Value 4: 103*0.5 + 102*0.5 = 102.5
	// Value 5: 105*0.5 + 102.5*0.5 = 103.75
	ema := NewEMA(3)
	prices := []float64{100, 102, 104, 103, 105}
	expected := []float64{0, 0, 102.0, 102.5, 103.75}
	ready := []bool{false, false, true, true, true}

	for i, p := range prices {
		ema.Update(p)
		if ema.Ready() != ready[i] {
			t.Errorf("value %d: Ready()=%v, want %v", i, ema.Ready(), ready[i])
		}
		if ready[i] {
			assertClose(t, "EMA(3)", ema.Value(), expected[i], 0.0001)
		}
	}
}

func TestEMA_Correctness_Period5(t *testing.T) {
	// SMA seed = (44+44.25+44.50+43.75+44.50)/5 = 44.20
	// Value 6 (44.25): 44.25/3 + 44.20*2/3 = 44.2167
	// Value 7 (44.00): 44.00/3 + 44.2167*2/3 = 44.1444
	v, ok := LastEMA([]float64{44, 44.25, 44.50, 43.75, 44.50, 44.25, 44.00}, 5)
	if !ok {
		t.Fatal("EMA(5) should be ready after 7 values")
	}
	assertClose(t, "EMA(5)", v, 44.1444, 0.001)
}

func TestLastEMA_NotReady(t *testing.T) {
	if _, ok := LastEMA([]float64{1, 2, 3}, 50); ok {
		t.Fatal("EMA(50) cannot be ready after 3 values")
	}
}

// ────────────────────────────────────────────────────────────
// RSI
// ────────────────────────────────────────────────────────────

func TestRSI_Correctness_Period5(t *testing.T) {
	// Prices: 44, 44.34, 44.09, 43.61, 44.33, 44.83, 45.10, 45.42, 45.84
	// First RSI after 6 values:
	//   avgGain = (0.34+0.72+0.50)/5 = 0.312, avgLoss = (0.25+0.48)/5 = 0.146
	//   RSI = 100 - 100/(1+2.13699) = 68.112
	// Then Wilder smoothing: 72.219, 76.658, 81.509
	prices := []float64{44, 44.34, 44.09, 43.61, 44.33, 44.83, 45.10, 45.42, 45.84}

	rsi := NewRSI(5)
	for i := 0; i <= 5; i++ {
		rsi.Update(prices[i])
	}
	assertClose(t, "RSI(5) value 6", rsi.Value(), 68.112, 0.1)

	rsi.Update(prices[6])
	assertClose(t, "RSI(5) value 7", rsi.Value(), 72.219, 0.1)

	rsi.Update(prices[7])
	assertClose(t, "RSI(5) value 8", rsi.Value(), 76.658, 0.1)

	rsi.Update(prices[8])
	assertClose(t, "RSI(5) value 9", rsi.Value(), 81.509, 0.2)
}

func TestRSI_AllUp_Is100(t *testing.T) {
	rsi := NewRSI(5)
	for i := 0; i < 10; i++ {
		rsi.Update(100 + float64(i))
	}
	assertClose(t, "RSI all up", rsi.Value(), 100.0, 0.001)
}

func TestRSI_AllDown_Is0(t *testing.T) {
	rsi := NewRSI(5)
	for i := 0; i < 10; i++ {
		rsi.Update(200 - float64(i))
	}
	assertClose(t, "RSI all down", rsi.Value(), 0.0, 0.001)
}

func TestRSI_Flat_Is50(t *testing.T) {
	rsi := NewRSI(5)
	for i := 0; i < 10; i++ {
		rsi.Update(100)
	}
	assertClose(t, "RSI flat", rsi.Value(), 50.0, 0.001)
}

func TestLastRSI_ShortSeriesIsNeutral(t *testing.T) {
	assertClose(t, "RSI short", LastRSI([]float64{1, 2, 3}, 14), 50, 0)
}

// ────────────────────────────────────────────────────────────
// Cross-indicator sanity
// ────────────────────────────────────────────────────────────

func TestIndicators_TrendingUp_Ordering(t *testing.T) {
	// On a straight line EMA and SMA lag equally; an accelerating rise is
	// what separates them.
	prices := make([]float64, 60)
	for i := range prices {
		prices[i] = 100 + float64(i*i)
	}

	ema, _ := LastEMA(prices, 20)
	sma := Run(NewSMA(20), prices).Value()
	if ema <= sma {
		t.Errorf("in an uptrend EMA(20)=%.2f should lead SMA(20)=%.2f", ema, sma)
	}
	if rsi := LastRSI(prices, 14); rsi <= 70 {
		t.Errorf("steady uptrend should be overbought, RSI=%.2f", rsi)
	}
}

func TestMean(t *testing.T) {
	assertClose(t, "mean", Mean([]float64{1, 2, 3, 6}), 3, 0)
	assertClose(t, "mean empty", Mean(nil), 0, 0)
}
