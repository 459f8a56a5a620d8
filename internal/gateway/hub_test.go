package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"signal-enginev1/internal/model"

	"github.com/gorilla/websocket"
)

type received struct {
	Type string       `json:"type"`
	Seq  int64        `json:"seq"`
	Data model.Signal `json:"data"`
}

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(50)
	hub.Now = func() time.Time { return time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC) }
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)
	return hub, srv
}

func dial(t *testing.T, hub *Hub, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	before := hub.ClientCount()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	waitFor(t, func() bool { return hub.ClientCount() == before+1 })
	return conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// readN reads frames until n messages arrived; frames may carry several
// newline-separated messages.
func readN(t *testing.T, conn *websocket.Conn, n int) []received {
	t.Helper()
	var out []received
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for len(out) < n {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read after %d messages: %v", len(out), err)
		}
		for _, line := range bytes.Split(frame, []byte{'\n'}) {
			var r received
			if err := json.Unmarshal(line, &r); err != nil {
				t.Fatalf("decode %q: %v", line, err)
			}
			out = append(out, r)
		}
	}
	return out
}

func publish(t *testing.T, hub *Hub, pairs ...string) {
	t.Helper()
	for _, p := range pairs {
		if err := hub.PublishSignal(context.Background(), &model.Signal{Pair: p, Side: model.SideLong, Confidence: 70}); err != nil {
			t.Fatal(err)
		}
	}
}

func TestHubFiltersByPair(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, hub, srv, "?pairs=ethusdt")

	publish(t, hub, "BTCUSDT", "ETHUSDT")

	got := readN(t, conn, 1)
	if got[0].Type != "signal" || got[0].Seq != 2 || got[0].Data.Pair != "ETHUSDT" {
		t.Fatalf("got %+v", got[0])
	}
}

func TestHubReplaysSince(t *testing.T) {
	hub, srv := startHub(t)
	publish(t, hub, "BTCUSDT", "ETHUSDT", "BTCUSDT")

	conn := dial(t, hub, srv, "?since=1")
	publish(t, hub, "SOLUSDT")

	got := readN(t, conn, 3)
	seqs := []int64{got[0].Seq, got[1].Seq, got[2].Seq}
	if seqs[0] != 2 || seqs[1] != 3 || seqs[2] != 4 {
		t.Fatalf("seqs = %v, want [2 3 4]", seqs)
	}
	if hub.Seq() != 4 {
		t.Fatalf("Seq() = %d", hub.Seq())
	}
}

func TestHubSubscribeMessage(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, hub, srv, "?pairs=BTCUSDT")

	conn.WriteJSON(controlMsg{Type: "UNSUBSCRIBE", Pairs: []string{"BTCUSDT"}})
	conn.WriteJSON(controlMsg{Type: "SUBSCRIBE", Pairs: []string{"solusdt"}})
	// the pong proves both control messages were handled
	conn.WriteJSON(controlMsg{Ping: 7})
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, frame, err := conn.ReadMessage()
	if err != nil || !strings.Contains(string(frame), `"pong"`) {
		t.Fatalf("pong frame = %s err=%v", frame, err)
	}

	publish(t, hub, "BTCUSDT", "SOLUSDT")
	got := readN(t, conn, 1)
	if got[0].Data.Pair != "SOLUSDT" {
		t.Fatalf("got %s, want SOLUSDT only", got[0].Data.Pair)
	}
}

func TestHubClientLifecycle(t *testing.T) {
	hub, srv := startHub(t)
	var counts []int
	done := make(chan struct{}, 2)
	hub.OnClients = func(n int) {
		counts = append(counts, n)
		done <- struct{}{}
	}

	conn := dial(t, hub, srv, "")
	<-done
	conn.Close()
	waitFor(t, func() bool { return hub.ClientCount() == 0 })
	<-done

	if len(counts) != 2 || counts[0] != 1 || counts[1] != 0 {
		t.Fatalf("counts = %v", counts)
	}
}

func TestHubRejectsBadSince(t *testing.T) {
	_, srv := startHub(t)
	resp, err := http.Get(srv.URL + "/?since=abc")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}
