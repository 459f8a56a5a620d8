package sqlite

import (
	"context"
	"fmt"
	"time"

	"signal-enginev1/internal/model"
)

// CountSince returns how many signals were logged for pair at or after since.
func (s *Store) CountSince(ctx context.Context, pair string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM signals WHERE pair = ? AND created_at >= ?`,
		pair, since.UnixMilli(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite count signals: %w", err)
	}
	return n, nil
}

// CountAllSince returns how many signals were logged at or after since.
func (s *Store) CountAllSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM signals WHERE created_at >= ?`, since.UnixMilli(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite count all signals: %w", err)
	}
	return n, nil
}

// LastEntries returns the entry price of the newest signal per pair and side,
// keyed by model.EntryKey.
func (s *Store) LastEntries(ctx context.Context) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pair, side, entry_price FROM signals
		WHERE id IN (SELECT MAX(id) FROM signals GROUP BY pair, side)
	`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query last entries: %w", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var pair, side string
		var price float64
		if err := rows.Scan(&pair, &side, &price); err != nil {
			return nil, fmt.Errorf("sqlite scan last entries: %w", err)
		}
		out[model.EntryKey(pair, model.Side(side))] = price
	}
	return out, rows.Err()
}

// RecentSignals returns up to limit signals, newest first.
func (s *Store) RecentSignals(ctx context.Context, limit int) ([]model.SignalRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pair, side, entry_price, confidence, payload, created_at
		FROM signals ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query signals: %w", err)
	}
	defer rows.Close()

	var out []model.SignalRecord
	for rows.Next() {
		var r model.SignalRecord
		var side, payload string
		var ms int64
		if err := rows.Scan(&r.Pair, &side, &r.EntryPrice, &r.Confidence, &payload, &ms); err != nil {
			return nil, fmt.Errorf("sqlite scan signals: %w", err)
		}
		r.Side = model.Side(side)
		r.Payload = []byte(payload)
		r.CreatedAt = time.UnixMilli(ms).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// TrackedPairs returns the pairs with at least one subscriber, sorted.
func (s *Store) TrackedPairs(ctx context.Context) ([]string, error) {
	return s.strings(ctx, `SELECT DISTINCT pair FROM subscriptions ORDER BY pair`)
}

// Recipients returns the subscribers of pair, oldest subscription first.
func (s *Store) Recipients(ctx context.Context, pair string) ([]string, error) {
	return s.strings(ctx, `SELECT recipient FROM subscriptions WHERE pair = ? ORDER BY created_at, recipient`, pair)
}

func (s *Store) strings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite query subscriptions: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("sqlite scan subscriptions: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ReadCandles returns up to limit archived candles for pair and timeframe,
// oldest first. Used to warm the candle store on startup.
func (s *Store) ReadCandles(ctx context.Context, pair string, tf model.Timeframe, limit int) ([]model.Candle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close, volume FROM (
			SELECT ts, open, high, low, close, volume FROM candles
			WHERE pair = ? AND tf = ?
			ORDER BY ts DESC LIMIT ?
		) ORDER BY ts ASC
	`, pair, string(tf), limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles: %w", err)
	}
	defer rows.Close()

	var candles []model.Candle
	for rows.Next() {
		var c model.Candle
		var tsUnix int64
		if err := rows.Scan(&tsUnix, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("sqlite scan candles: %w", err)
		}
		c.TS = time.Unix(tsUnix, 0).UTC()
		candles = append(candles, c)
	}
	return candles, rows.Err()
}
