// Package replay plays archived candles back in close-time order so the
// analysis loop can be run over history without live market data.
package replay

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"signal-enginev1/internal/candlestore"
	"signal-enginev1/internal/model"
)

// Archive reads archived candles, oldest first.
type Archive interface {
	ReadCandles(ctx context.Context, pair string, tf model.Timeframe, limit int) ([]model.Candle, error)
}

// Replayer reads archived candles and replays them at a configurable speed.
type Replayer struct {
	archive Archive

	// Limit caps the candles read per pair and timeframe.
	Limit int
}

// New creates a Replayer backed by a candle archive.
func New(archive Archive) *Replayer {
	return &Replayer{archive: archive, Limit: 100000}
}

// Run emits every archived candle of pairs on all timeframes, ordered by close
// time. Candles closing at the same moment go shortest timeframe first, then
// by pair. Candles closing before from are skipped (zero from keeps all).
// speed controls the playback rate: 1.0 = real-time, 10.0 = 10x, 0 = as fast
// as possible.
func (r *Replayer) Run(ctx context.Context, pairs []string, from time.Time, speed float64, out chan<- model.SeriesCandle) error {
	var all []model.SeriesCandle
	for _, pair := range pairs {
		for _, tf := range model.Timeframes {
			candles, err := r.archive.ReadCandles(ctx, pair, tf, r.Limit)
			if err != nil {
				return fmt.Errorf("replay read %s %s: %w", pair, tf, err)
			}
			for _, c := range candles {
				if !from.IsZero() && closeTime(tf, c).Before(from) {
					continue
				}
				all = append(all, model.SeriesCandle{Pair: pair, TF: tf, Candle: c})
			}
		}
	}

	if len(all) == 0 {
		log.Println("[replay] no archived candles found")
		return nil
	}
	sortByClose(all)

	log.Printf("[replay] loaded %d candles across %d pairs, speed=%.1fx", len(all), len(pairs), speed)

	var prev time.Time
	emitted := 0
	for _, c := range all {
		at := closeTime(c.TF, c.Candle)

		// Simulate time gaps between closes
		if speed > 0 && !prev.IsZero() {
			if gap := at.Sub(prev); gap > 0 {
				scaled := min(time.Duration(float64(gap)/speed), 5*time.Second)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(scaled):
				}
			}
		}
		prev = at

		select {
		case <-ctx.Done():
			log.Printf("[replay] cancelled after %d candles", emitted)
			return ctx.Err()
		case out <- c:
			emitted++
		}
	}

	log.Printf("[replay] completed: %d candles replayed", emitted)
	return nil
}

func closeTime(tf model.Timeframe, c model.Candle) time.Time {
	return c.TS.Add(tf.Duration())
}

func sortByClose(candles []model.SeriesCandle) {
	sort.SliceStable(candles, func(i, j int) bool {
		a, b := candles[i], candles[j]
		ca, cb := closeTime(a.TF, a.Candle), closeTime(b.TF, b.Candle)
		if !ca.Equal(cb) {
			return ca.Before(cb)
		}
		if a.TF != b.TF {
			return a.TF.Duration() < b.TF.Duration()
		}
		return a.Pair < b.Pair
	})
}

// Session feeds replayed candles into a candle store and calls Step each time
// replay time moves past a close, with Now reporting that close. Wire Now
// into every clock the stepped components read.
type Session struct {
	Candles *candlestore.Store
	Step    func(ctx context.Context)

	now time.Time
}

// Now returns the close time of the candles most recently applied.
func (s *Session) Now() time.Time { return s.now }

// Consume reads in until it is closed or ctx is done, and returns how many
// candles were applied and how many steps ran. All candles sharing a close
// time are applied before the step for that close.
func (s *Session) Consume(ctx context.Context, in <-chan model.SeriesCandle) (candles, steps int) {
	pending := false
	for {
		select {
		case <-ctx.Done():
			return candles, steps
		case c, ok := <-in:
			if !ok {
				if pending {
					s.Step(ctx)
					steps++
				}
				return candles, steps
			}
			at := closeTime(c.TF, c.Candle)
			if pending && at.After(s.now) {
				s.Step(ctx)
				steps++
			}
			if at.After(s.now) {
				s.now = at
			}
			s.Candles.Merge(c.Pair, c.TF, []model.Candle{c.Candle})
			candles++
			pending = true
		}
	}
}
