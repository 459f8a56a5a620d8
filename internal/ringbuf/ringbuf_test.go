package ringbuf

import (
	"testing"

	"signal-enginev1/internal/model"
)

func TestRing_BasicPushSlice(t *testing.T) {
	r := New(4)

	r.Push(model.Candle{Open: 100})
	r.Push(model.Candle{Open: 200})

	if r.Len() != 2 {
		t.Fatalf("expected len=2, got %d", r.Len())
	}

	got := r.Slice()
	if got[0].Open != 100 || got[1].Open != 200 {
		t.Fatalf("unexpected order: %+v", got)
	}

	last, ok := r.Last()
	if !ok || last.Open != 200 {
		t.Fatalf("expected last=200, got %v ok=%v", last.Open, ok)
	}
}

func TestRing_EvictsOldest(t *testing.T) {
	r := New(3)

	for i := 1; i <= 5; i++ {
		evicted := r.Push(model.Candle{Open: float64(i)})
		if want := i > 3; evicted != want {
			t.Fatalf("push %d: evicted=%v, want %v", i, evicted, want)
		}
	}

	if r.Len() != 3 {
		t.Fatalf("expected len=3, got %d", r.Len())
	}

	got := r.Slice()
	for i, want := range []float64{3, 4, 5} {
		if got[i].Open != want {
			t.Errorf("index %d: expected open=%v, got %v", i, want, got[i].Open)
		}
	}
}

func TestRing_Wraparound(t *testing.T) {
	r := New(4)

	// Push far past capacity; the window must always be the latest 4 in order
	for i := 0; i < 23; i++ {
		r.Push(model.Candle{Open: float64(i)})
		got := r.Slice()
		first := i - len(got) + 1
		for j, c := range got {
			if c.Open != float64(first+j) {
				t.Fatalf("after push %d: index %d expected %d, got %v", i, j, first+j, c.Open)
			}
		}
	}
}

func TestRing_ReplaceLast(t *testing.T) {
	r := New(2)
	if r.ReplaceLast(model.Candle{Open: 1}) {
		t.Fatal("replace on empty ring should return false")
	}

	r.Push(model.Candle{Open: 1})
	r.Push(model.Candle{Open: 2})
	r.Push(model.Candle{Open: 3})
	if !r.ReplaceLast(model.Candle{Open: 30}) {
		t.Fatal("replace should succeed")
	}

	got := r.Slice()
	if len(got) != 2 || got[0].Open != 2 || got[1].Open != 30 {
		t.Fatalf("unexpected contents: %+v", got)
	}
}

func TestRing_SliceIsCopy(t *testing.T) {
	r := New(2)
	r.Push(model.Candle{Open: 1})

	s := r.Slice()
	s[0].Open = 99

	if last, _ := r.Last(); last.Open != 1 {
		t.Fatalf("mutating the slice changed the ring: %v", last.Open)
	}
}

func TestRing_MinimumCapacity(t *testing.T) {
	r := New(0)
	if r.Cap() != 1 {
		t.Fatalf("expected cap=1, got %d", r.Cap())
	}
}
