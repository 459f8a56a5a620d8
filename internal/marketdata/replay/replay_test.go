package replay

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"signal-enginev1/internal/candlestore"
	"signal-enginev1/internal/model"
)

var t0 = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

type memArchive map[string][]model.Candle

func (a memArchive) ReadCandles(_ context.Context, pair string, tf model.Timeframe, limit int) ([]model.Candle, error) {
	if pair == "BROKEN" {
		return nil, errors.New("no such table")
	}
	return a[pair+"/"+string(tf)], nil
}

func bars(start time.Time, step time.Duration, n int) []model.Candle {
	out := make([]model.Candle, n)
	for i := range out {
		out[i] = model.Candle{TS: start.Add(time.Duration(i) * step), Close: float64(100 + i)}
	}
	return out
}

func testArchive() memArchive {
	return memArchive{
		"ETHUSDT/1h": bars(t0, time.Hour, 4),
		"BTCUSDT/1h": bars(t0, time.Hour, 4),
		"BTCUSDT/4h": bars(t0, 4*time.Hour, 1),
	}
}

func collect(t *testing.T, r *Replayer, pairs []string, from time.Time) []model.SeriesCandle {
	t.Helper()
	out := make(chan model.SeriesCandle, 100)
	if err := r.Run(context.Background(), pairs, from, 0, out); err != nil {
		t.Fatal(err)
	}
	close(out)
	var got []model.SeriesCandle
	for c := range out {
		got = append(got, c)
	}
	return got
}

func TestRunOrdersByClose(t *testing.T) {
	got := collect(t, New(testArchive()), []string{"ETHUSDT", "BTCUSDT"}, time.Time{})
	if len(got) != 9 {
		t.Fatalf("emitted %d candles, want 9", len(got))
	}

	var order []string
	for _, c := range got[:2] {
		order = append(order, c.Pair)
	}
	if order[0] != "BTCUSDT" || order[1] != "ETHUSDT" {
		t.Fatalf("same-close order = %v, want pair order", order)
	}

	// the last close (t0+4h) carries two 1h bars before the 4h bar
	last := got[6:]
	if last[0].TF != model.TF1h || last[1].TF != model.TF1h || last[2].TF != model.TF4h {
		t.Fatalf("tail timeframes = %s %s %s", last[0].TF, last[1].TF, last[2].TF)
	}
	for i := 1; i < len(got); i++ {
		if closeTime(got[i].TF, got[i].Candle).Before(closeTime(got[i-1].TF, got[i-1].Candle)) {
			t.Fatalf("candle %d closes before candle %d", i, i-1)
		}
	}
}

func TestRunFrom(t *testing.T) {
	got := collect(t, New(testArchive()), []string{"ETHUSDT", "BTCUSDT"}, t0.Add(3*time.Hour))
	if len(got) != 5 {
		t.Fatalf("emitted %d candles, want 5", len(got))
	}
}

func TestRunReadError(t *testing.T) {
	out := make(chan model.SeriesCandle, 10)
	err := New(testArchive()).Run(context.Background(), []string{"BROKEN"}, time.Time{}, 0, out)
	if err == nil {
		t.Fatal("expected read error")
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := make(chan model.SeriesCandle) // unbuffered, never read
	err := New(testArchive()).Run(ctx, []string{"BTCUSDT"}, time.Time{}, 0, out)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestSessionStepsPerClose(t *testing.T) {
	in := make(chan model.SeriesCandle, 100)
	if err := New(testArchive()).Run(context.Background(), []string{"ETHUSDT", "BTCUSDT"}, time.Time{}, 0, in); err != nil {
		t.Fatal(err)
	}
	close(in)

	store := candlestore.NewStore(100)
	sess := &Session{Candles: store}
	var seen []string
	sess.Step = func(context.Context) {
		seen = append(seen, fmt.Sprintf("%s:%d:%d",
			sess.Now().Sub(t0), store.Len("BTCUSDT", model.TF1h), store.Len("BTCUSDT", model.TF4h)))
	}

	candles, steps := sess.Consume(context.Background(), in)
	if candles != 9 || steps != 4 {
		t.Fatalf("candles=%d steps=%d, want 9 and 4", candles, steps)
	}
	want := []string{"1h0m0s:1:0", "2h0m0s:2:0", "3h0m0s:3:0", "4h0m0s:4:1"}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("steps = %v, want %v", seen, want)
		}
	}
}
