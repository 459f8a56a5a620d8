package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"signal-enginev1/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
)

// Config configures the SQLite store.
type Config struct {
	DBPath string // path to SQLite database file, e.g. "data/signals.db"
}

// Store is the durable signal log, subscription table and candle archive.
// A single connection serialises all writers.
type Store struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// New opens the database in WAL mode and applies the schema.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS signals (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			pair        TEXT    NOT NULL,
			side        TEXT    NOT NULL,
			entry_price REAL    NOT NULL,
			confidence  INTEGER NOT NULL,
			payload     TEXT,
			created_at  INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_signals_pair_time ON signals (pair, created_at);

		CREATE TABLE IF NOT EXISTS subscriptions (
			recipient  TEXT    NOT NULL,
			pair       TEXT    NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (recipient, pair)
		);

		CREATE TABLE IF NOT EXISTS candles (
			pair   TEXT    NOT NULL,
			tf     TEXT    NOT NULL,
			ts     INTEGER NOT NULL,
			open   REAL    NOT NULL,
			high   REAL    NOT NULL,
			low    REAL    NOT NULL,
			close  REAL    NOT NULL,
			volume REAL,
			PRIMARY KEY (pair, tf, ts)
		);
	`)
	return err
}

// LogSignal appends a dispatched signal.
func (s *Store) LogSignal(ctx context.Context, rec model.SignalRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO signals (pair, side, entry_price, confidence, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.Pair, string(rec.Side), rec.EntryPrice, rec.Confidence, string(rec.Payload), rec.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("sqlite insert signal: %w", err)
	}
	return nil
}

// Subscribe registers interest of recipient in pair. Idempotent.
func (s *Store) Subscribe(ctx context.Context, recipient, pair string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO subscriptions (recipient, pair, created_at) VALUES (?, ?, ?)
	`, recipient, pair, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("sqlite subscribe: %w", err)
	}
	return nil
}

// Unsubscribe removes a subscription. Removing a missing one is not an error.
func (s *Store) Unsubscribe(ctx context.Context, recipient, pair string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE recipient = ? AND pair = ?`, recipient, pair)
	if err != nil {
		return fmt.Errorf("sqlite unsubscribe: %w", err)
	}
	return nil
}

// RunArchive reads closed candles from ch and inserts them in batched
// transactions. Flushes every batchSize candles OR every flushDelay,
// whichever first. Blocks until ctx is cancelled or ch is closed.
func (s *Store) RunArchive(ctx context.Context, ch <-chan model.SeriesCandle) {
	batch := make([]model.SeriesCandle, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := s.insertCandles(batch); err != nil {
			log.Printf("[sqlite] archive insert error: %v", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case c, ok := <-ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, c)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// insertCandles upserts a batch of candles in a single transaction.
func (s *Store) insertCandles(candles []model.SeriesCandle) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO candles (pair, tf, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, c := range candles {
		_, err := stmt.Exec(c.Pair, string(c.TF), c.TS.Unix(), c.Open, c.High, c.Low, c.Close, c.Volume)
		if err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
