package sqlite

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"signal-enginev1/internal/model"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{DBPath: filepath.Join(t.TempDir(), "signals.db")})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func record(pair string, side model.Side, entry float64, at time.Time) model.SignalRecord {
	return model.SignalRecord{
		Pair:       pair,
		Side:       side,
		EntryPrice: entry,
		Confidence: 80,
		Payload:    []byte(`{"pair":"` + pair + `"}`),
		CreatedAt:  at,
	}
}

func TestSignalLogCounts(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	day := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	for _, rec := range []model.SignalRecord{
		record("BTCUSDT", model.SideLong, 60000, day.Add(-time.Hour)),
		record("BTCUSDT", model.SideLong, 61000, day.Add(2*time.Hour)),
		record("BTCUSDT", model.SideShort, 62000, day.Add(5*time.Hour)),
		record("ETHUSDT", model.SideLong, 3000, day),
	} {
		if err := s.LogSignal(ctx, rec); err != nil {
			t.Fatalf("LogSignal: %v", err)
		}
	}

	n, err := s.CountSince(ctx, "BTCUSDT", day)
	if err != nil || n != 2 {
		t.Fatalf("CountSince BTC = %d, %v; want 2", n, err)
	}
	n, err = s.CountSince(ctx, "SOLUSDT", day)
	if err != nil || n != 0 {
		t.Fatalf("CountSince SOL = %d, %v; want 0", n, err)
	}
	n, err = s.CountAllSince(ctx, day)
	if err != nil || n != 3 {
		t.Fatalf("CountAllSince = %d, %v; want 3 (boundary inclusive)", n, err)
	}

	entries, err := s.LastEntries(ctx)
	if err != nil {
		t.Fatalf("LastEntries: %v", err)
	}
	want := map[string]float64{
		"BTCUSDT:LONG":  61000,
		"BTCUSDT:SHORT": 62000,
		"ETHUSDT:LONG":  3000,
	}
	if !reflect.DeepEqual(entries, want) {
		t.Fatalf("LastEntries = %v, want %v", entries, want)
	}

	recent, err := s.RecentSignals(ctx, 2)
	if err != nil {
		t.Fatalf("RecentSignals: %v", err)
	}
	if len(recent) != 2 || recent[0].Pair != "ETHUSDT" || recent[1].Side != model.SideShort {
		t.Fatalf("RecentSignals = %+v", recent)
	}
	if !recent[0].CreatedAt.Equal(day) || string(recent[0].Payload) != `{"pair":"ETHUSDT"}` {
		t.Fatalf("round trip = %+v", recent[0])
	}
}

func TestSignalLogSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signals.db")
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	s, err := New(Config{DBPath: path})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.LogSignal(ctx, record("BTCUSDT", model.SideLong, 1, now)); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = New(Config{DBPath: path})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if n, err := s.CountSince(ctx, "BTCUSDT", now.Add(-time.Hour)); err != nil || n != 1 {
		t.Fatalf("after reopen CountSince = %d, %v", n, err)
	}
}

func TestSubscriptions(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	subs := [][2]string{
		{"alice", "ETHUSDT"},
		{"bob", "ETHUSDT"},
		{"alice", "BTCUSDT"},
		{"alice", "BTCUSDT"}, // duplicate
	}
	for _, sub := range subs {
		if err := s.Subscribe(ctx, sub[0], sub[1]); err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
	}

	pairs, err := s.TrackedPairs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(pairs, []string{"BTCUSDT", "ETHUSDT"}) {
		t.Fatalf("TrackedPairs = %v", pairs)
	}

	rcpts, err := s.Recipients(ctx, "ETHUSDT")
	if err != nil {
		t.Fatal(err)
	}
	if len(rcpts) != 2 {
		t.Fatalf("Recipients = %v", rcpts)
	}

	if err := s.Unsubscribe(ctx, "alice", "BTCUSDT"); err != nil {
		t.Fatal(err)
	}
	if err := s.Unsubscribe(ctx, "nobody", "BTCUSDT"); err != nil {
		t.Fatalf("missing unsubscribe: %v", err)
	}
	pairs, _ = s.TrackedPairs(ctx)
	if !reflect.DeepEqual(pairs, []string{"ETHUSDT"}) {
		t.Fatalf("TrackedPairs after unsubscribe = %v", pairs)
	}
}

func TestArchive(t *testing.T) {
	s := openTemp(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	ch := make(chan model.SeriesCandle, 16)
	done := make(chan struct{})
	go func() {
		s.RunArchive(ctx, ch)
		close(done)
	}()

	for i := 0; i < 5; i++ {
		ch <- model.SeriesCandle{
			Pair: "BTCUSDT",
			TF:   model.TF1h,
			Candle: model.Candle{
				TS:   base.Add(time.Duration(i) * time.Hour),
				Open: float64(i), High: float64(i) + 1, Low: float64(i) - 1, Close: float64(i) + 0.5, Volume: 10,
			},
		}
	}
	// Same bucket again replaces the stored row.
	ch <- model.SeriesCandle{Pair: "BTCUSDT", TF: model.TF1h, Candle: model.Candle{TS: base.Add(4 * time.Hour), Close: 99}}
	close(ch)
	<-done

	got, err := s.ReadCandles(context.Background(), "BTCUSDT", model.TF1h, 3)
	if err != nil {
		t.Fatalf("ReadCandles: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if !got[0].TS.Equal(base.Add(2*time.Hour)) || got[2].Close != 99 {
		t.Fatalf("candles = %+v", got)
	}
	if other, _ := s.ReadCandles(context.Background(), "BTCUSDT", model.TF4h, 10); len(other) != 0 {
		t.Fatalf("4h candles = %+v", other)
	}
}
