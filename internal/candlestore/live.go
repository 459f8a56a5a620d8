package candlestore

import "signal-enginev1/internal/model"

// WithLiveQuote returns a copy of series whose newest candle reflects the
// live quote: close is set to the quote price and the high/low envelope is
// widened to include it. The input slice is not modified.
func WithLiveQuote(series []model.Candle, q model.Quote) []model.Candle {
	if len(series) == 0 || q.Price <= 0 {
		return series
	}

	out := make([]model.Candle, len(series))
	copy(out, series)

	last := out[len(out)-1]
	last.Close = q.Price
	if q.Price > last.High {
		last.High = q.Price
	}
	if q.Price < last.Low {
		last.Low = q.Price
	}
	out[len(out)-1] = last
	return out
}
