// Package candlestore holds the in-process market state shared by the
// collector and analysis loops: bounded candle series per (pair, timeframe)
// and a short-TTL cache of live quotes.
package candlestore

import (
	"sync"
	"time"

	"signal-enginev1/internal/model"
	"signal-enginev1/internal/ringbuf"
)

// DefaultCap is the maximum number of candles retained per series.
const DefaultCap = 500

type seriesKey struct {
	pair string
	tf   model.Timeframe
}

// Store is a set of bounded candle series keyed by (pair, timeframe).
// All methods are safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	cap    int
	series map[seriesKey]*ringbuf.Ring

	// OnEvict is called (outside the lock) with the number of candles dropped
	// from the front by an append. Optional.
	OnEvict func(n int)
}

// NewStore creates a store whose series hold at most capacity candles.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCap
	}
	return &Store{
		cap:    capacity,
		series: make(map[seriesKey]*ringbuf.Ring),
	}
}

func (s *Store) ring(pair string, tf model.Timeframe) *ringbuf.Ring {
	k := seriesKey{pair, tf}
	r, ok := s.series[k]
	if !ok {
		r = ringbuf.New(s.cap)
		s.series[k] = r
	}
	return r
}

// Append inserts c at the end of the series, evicting from the front when
// the cap is exceeded.
func (s *Store) Append(pair string, tf model.Timeframe, c model.Candle) {
	s.mu.Lock()
	evicted := s.ring(pair, tf).Push(c)
	s.mu.Unlock()

	if evicted && s.OnEvict != nil {
		s.OnEvict(1)
	}
}

// Merge folds freshly fetched candles into the series. Candles older than the
// newest stored one are ignored, a candle with the same open time replaces
// the newest (forming bar update), and newer candles are appended.
// Returns the number of candles appended.
func (s *Store) Merge(pair string, tf model.Timeframe, candles []model.Candle) int {
	appended, evicted := 0, 0

	s.mu.Lock()
	r := s.ring(pair, tf)
	for _, c := range candles {
		last, ok := r.Last()
		switch {
		case !ok || c.TS.After(last.TS):
			if r.Push(c) {
				evicted++
			}
			appended++
		case c.TS.Equal(last.TS):
			r.ReplaceLast(c)
		}
	}
	s.mu.Unlock()

	if evicted > 0 && s.OnEvict != nil {
		s.OnEvict(evicted)
	}
	return appended
}

// Read returns the retained window oldest-first. Unknown series yield an
// empty slice.
func (s *Store) Read(pair string, tf model.Timeframe) []model.Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.series[seriesKey{pair, tf}]
	if !ok {
		return []model.Candle{}
	}
	return r.Slice()
}

// Len returns the number of candles held for a series.
func (s *Store) Len(pair string, tf model.Timeframe) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if r, ok := s.series[seriesKey{pair, tf}]; ok {
		return r.Len()
	}
	return 0
}

// LastTS returns the open time of the newest candle, or the zero time.
func (s *Store) LastTS(pair string, tf model.Timeframe) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if r, ok := s.series[seriesKey{pair, tf}]; ok {
		if c, ok := r.Last(); ok {
			return c.TS
		}
	}
	return time.Time{}
}
