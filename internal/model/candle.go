package model

import (
	"encoding/json"
	"time"
)

// Timeframe is a candle aggregation interval.
type Timeframe string

const (
	TF1h Timeframe = "1h"
	TF4h Timeframe = "4h"
	TF1d Timeframe = "1d"
)

// Timeframes lists the analysed timeframes, shortest first.
var Timeframes = []Timeframe{TF1h, TF4h, TF1d}

// Duration returns the wall-clock length of one bucket.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case TF1h:
		return time.Hour
	case TF4h:
		return 4 * time.Hour
	case TF1d:
		return 24 * time.Hour
	default:
		return 0
	}
}

// Candle is one OHLCV bar. TS is the bucket open time (UTC).
// Candles are values: once stored they are never modified in place.
type Candle struct {
	TS     time.Time `json:"ts"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Green reports whether the candle closed above its open.
func (c Candle) Green() bool { return c.Close > c.Open }

// Red reports whether the candle closed below its open.
func (c Candle) Red() bool { return c.Close < c.Open }

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// Closes extracts close prices, oldest first.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// SeriesCandle is a candle tagged with the series it belongs to.
type SeriesCandle struct {
	Pair string    `json:"pair"`
	TF   Timeframe `json:"tf"`
	Candle
}
