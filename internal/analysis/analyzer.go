// Package analysis turns raw candle history into trade setups.
//
// Analyze is deterministic: the same candles always produce the same Signal
// (or none). No wall-clock time, randomness or state carried between calls is
// involved; every threshold is a fixed rule constant below.
package analysis

import (
	"errors"
	"fmt"

	"signal-enginev1/internal/indicator"
	"signal-enginev1/internal/model"
)

// Data sufficiency.
const (
	Min1hCandles = 100
	Min4hCandles = 50
)

// Setup qualification.
const (
	rsiPeriod       = 14
	levelProximity  = 0.015 // nearest level must be within 1.5% of price
	minLevelTouches = 2
	minConditions   = 3
	totalConditions = 5
	minConfidence   = 60
)

// ErrInsufficientData is returned when the candle history is too short.
var ErrInsufficientData = errors.New("analysis: insufficient candle history")

// Input is the candle history for one pair, oldest first.
type Input struct {
	Pair      string
	H1        []model.Candle
	H4        []model.Candle
	D1        []model.Candle
	Reference []model.Candle // 1h candles of the reference asset; optional
}

// Analyzer evaluates long and short setups against the fixed rule set.
type Analyzer struct{}

// New returns an Analyzer.
func New() *Analyzer { return &Analyzer{} }

// Analyze returns a Signal, or nil when no setup qualifies.
// ErrInsufficientData is the only error.
//
// LONG is evaluated first; SHORT is only evaluated when LONG did not
// qualify. When both sides would qualify in the same pass, LONG wins.
func (a *Analyzer) Analyze(in Input) (*model.Signal, error) {
	if len(in.H1) < Min1hCandles || len(in.H4) < Min4hCandles {
		return nil, fmt.Errorf("%w: %s has 1h=%d 4h=%d", ErrInsufficientData, in.Pair, len(in.H1), len(in.H4))
	}

	t4 := ClassifyTrend(in.H4)
	t1d := ClassifyTrend(in.D1)
	if t4.Trend == model.TrendMixed && t1d.Trend == model.TrendMixed {
		// Ambiguous regime: no setup is attempted
		return nil, nil
	}

	ctx := newSetupContext(in, t4.Trend, t1d.Trend)

	if !(t4.Trend == model.TrendBearish && t1d.Trend == model.TrendBearish) {
		supports := FindLevels(in.H4, model.LevelSupport, ctx.price)
		if sig := ctx.evaluate(model.SideLong, supports); sig != nil {
			return sig, nil
		}
	}

	if !(t4.Trend == model.TrendBullish && t1d.Trend == model.TrendBullish) {
		resistances := FindLevels(in.H4, model.LevelResistance, ctx.price)
		if sig := ctx.evaluate(model.SideShort, resistances); sig != nil {
			return sig, nil
		}
	}

	return nil, nil
}

func newSetupContext(in Input, trend4, trend1 model.Trend) *setupContext {
	return &setupContext{
		pair:   in.Pair,
		h1:     in.H1,
		price:  in.H1[len(in.H1)-1].Close,
		rsi1h:  indicator.LastRSI(model.Closes(in.H1), rsiPeriod),
		rsi4h:  indicator.LastRSI(model.Closes(in.H4), rsiPeriod),
		ref:    ReferenceTrend(in.Reference),
		trend4: trend4,
		trend1: trend1,
	}
}
