package model

import (
	"context"
	"time"
)

// ── Collaborator Port Interfaces ──
// These decouple the signal pipeline from concrete exchange clients and
// storage implementations (Binance, SQLite, Redis).

// MarketData fetches historical OHLCV candles.
type MarketData interface {
	// Klines returns up to limit candles, oldest first. The newest candle may
	// still be forming.
	Klines(ctx context.Context, pair string, tf Timeframe, limit int) ([]Candle, error)
}

// TickerSource returns the latest price and volume for a pair.
type TickerSource interface {
	Quote(ctx context.Context, pair string) (price, volume float64, err error)
}

// SignalLog persists dispatched signals. It is the durable home of the
// per-pair daily count, so the budget survives restarts.
type SignalLog interface {
	// LogSignal appends a dispatched signal.
	LogSignal(ctx context.Context, rec SignalRecord) error

	// CountSince returns how many signals were logged for pair at or after since.
	CountSince(ctx context.Context, pair string, since time.Time) (int, error)

	// CountAllSince returns how many signals were logged for any pair at or after since.
	CountAllSince(ctx context.Context, since time.Time) (int, error)

	// LastEntries returns the most recent entry price per pair and side.
	LastEntries(ctx context.Context) (map[string]float64, error)
}

// PairSource answers which pairs have interested subscribers and who they are.
type PairSource interface {
	TrackedPairs(ctx context.Context) ([]string, error)
	Recipients(ctx context.Context, pair string) ([]string, error)
}

// EntryKey is the map key used by SignalLog.LastEntries: "PAIR:SIDE".
func EntryKey(pair string, side Side) string {
	return pair + ":" + string(side)
}
