package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"signal-enginev1/internal/model"

	"github.com/gorilla/websocket"
)

func TestParseMiniTicker(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		want    model.Quote
		wantErr bool
	}{
		{
			name: "combined envelope",
			raw:  `{"stream":"btcusdt@miniTicker","data":{"e":"24hrMiniTicker","E":1700000000000,"s":"BTCUSDT","c":"42000.50","o":"41000","h":"43000","l":"40000","v":"1234.5","q":"5"}}`,
			want: model.Quote{Pair: "BTCUSDT", Price: 42000.5, Volume: 1234.5, ObservedAt: time.UnixMilli(1700000000000).UTC()},
		},
		{
			name: "bare payload",
			raw:  `{"e":"24hrMiniTicker","E":1700000000000,"s":"ETHUSDT","c":"2000","v":"1"}`,
			want: model.Quote{Pair: "ETHUSDT", Price: 2000, Volume: 1, ObservedAt: time.UnixMilli(1700000000000).UTC()},
		},
		{name: "wrong event", raw: `{"data":{"e":"trade","s":"BTCUSDT","c":"1","v":"1"}}`, wantErr: true},
		{name: "bad price", raw: `{"data":{"e":"24hrMiniTicker","s":"BTCUSDT","c":"x","v":"1"}}`, wantErr: true},
		{name: "not json", raw: `hello`, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseMiniTicker([]byte(tc.raw))
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.want {
				t.Fatalf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestStreamURL(t *testing.T) {
	s, err := New(Config{Pairs: []string{"BTCUSDT", "ETHUSDT"}})
	if err != nil {
		t.Fatal(err)
	}
	want := DefaultBaseURL + "?streams=btcusdt@miniTicker/ethusdt@miniTicker"
	if s.URL() != want {
		t.Fatalf("URL = %s", s.URL())
	}
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error without pairs")
	}
}

func TestStreamDeliversQuotes(t *testing.T) {
	upgrader := websocket.Upgrader{}
	gotStreams := make(chan string, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case gotStreams <- r.URL.Query().Get("streams"):
		default:
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`garbage`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"stream":"solusdt@miniTicker","data":{"e":"24hrMiniTicker","E":1,"s":"SOLUSDT","c":"101.5","v":"77"}}`))
		// Hold the session open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	s, err := New(Config{
		BaseURL:        "ws" + strings.TrimPrefix(srv.URL, "http"),
		Pairs:          []string{"SOLUSDT"},
		ReconnectDelay: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quotes := make(chan model.Quote, 4)
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx, func(q model.Quote) { quotes <- q }) }()

	select {
	case q := <-quotes:
		if q.Pair != "SOLUSDT" || q.Price != 101.5 || q.Volume != 77 {
			t.Fatalf("quote = %+v", q)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no quote received")
	}
	if !s.Connected() {
		t.Error("expected Connected while streaming")
	}
	if got := <-gotStreams; got != "solusdt@miniTicker" {
		t.Errorf("streams query = %q", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
