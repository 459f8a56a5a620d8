package model

import (
	"encoding/json"
	"time"
)

// Side is the direction of a trade setup.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Trend classifies the regime of a single timeframe.
type Trend string

const (
	TrendBullish Trend = "bullish"
	TrendBearish Trend = "bearish"
	TrendMixed   Trend = "mixed"
)

// ReferenceState is the short-term direction of the reference asset (e.g. BTC).
type ReferenceState string

const (
	ReferenceBullish ReferenceState = "bullish"
	ReferenceBearish ReferenceState = "bearish"
	ReferenceNeutral ReferenceState = "neutral"
)

// LevelKind distinguishes support from resistance.
type LevelKind string

const (
	LevelSupport    LevelKind = "support"
	LevelResistance LevelKind = "resistance"
)

// Level is a derived support or resistance zone. Recomputed on every analysis.
type Level struct {
	Kind           LevelKind   `json:"kind"`
	Price          float64     `json:"price"`
	Strength       int         `json:"strength"` // touch count, always >= 2
	Touches        []time.Time `json:"touches"`
	AvgVolumeRatio float64     `json:"avg_volume_ratio"`
}

// Signal is a fully specified trade setup produced by the analyzer.
// It is never updated after creation: the gate either admits it or it is dropped.
type Signal struct {
	Pair          string    `json:"pair"`
	Side          Side      `json:"side"`
	CurrentPrice  float64   `json:"current_price"`
	EntryMin      float64   `json:"entry_min"`
	EntryMax      float64   `json:"entry_max"`
	StopLoss      float64   `json:"stop_loss"`
	TakeProfit1   float64   `json:"take_profit_1"`
	TakeProfit2   float64   `json:"take_profit_2"`
	TakeProfit3   float64   `json:"take_profit_3"`
	PositionSize  string    `json:"position_size"`
	Confidence    int       `json:"confidence"`
	ConditionsMet int       `json:"conditions_met"`
	Level         Level     `json:"level"`
	Trend4h       Trend     `json:"trend_4h"`
	Trend1d       Trend     `json:"trend_1d"`
	RSI1h         float64   `json:"rsi_1h"`
	Reasons       []string  `json:"reasons"`
	CandleTS      time.Time `json:"candle_ts"` // open time of the last 1h candle analysed
}

// EntryPrice is the midpoint of the entry zone, used for duplicate detection.
func (s *Signal) EntryPrice() float64 {
	return (s.EntryMin + s.EntryMax) / 2
}

// JSON returns the JSON-encoded signal.
func (s *Signal) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}

// SignalRecord is a dispatched signal as persisted in the signal log.
type SignalRecord struct {
	Pair       string    `json:"pair"`
	Side       Side      `json:"side"`
	EntryPrice float64   `json:"entry_price"`
	Confidence int       `json:"confidence"`
	Payload    []byte    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewSignalRecord builds the persisted form of an admitted signal.
func NewSignalRecord(s *Signal, at time.Time) SignalRecord {
	return SignalRecord{
		Pair:       s.Pair,
		Side:       s.Side,
		EntryPrice: s.EntryPrice(),
		Confidence: s.Confidence,
		Payload:    s.JSON(),
		CreatedAt:  at,
	}
}
