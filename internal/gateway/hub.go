// Package gateway serves the live signal feed: admitted signals are pushed to
// WebSocket clients as they are dispatched, filtered by pair.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"signal-enginev1/internal/model"

	"github.com/gorilla/websocket"
)

// envelope is the wire frame for one feed message.
type envelope struct {
	Type string        `json:"type"`
	Seq  int64         `json:"seq"`
	TS   string        `json:"ts"`
	Data *model.Signal `json:"data"`
}

// Hub manages feed clients and fans published signals out to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	seq     int64
	replay  *ReplayBuffer

	upgrader websocket.Upgrader

	// OnClients, if set, is called with the client count after each
	// connect and disconnect.
	OnClients func(n int)
	Now       func() time.Time
}

// NewHub creates a hub keeping the last replay envelopes for reconnects.
func NewHub(replay int) *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
		replay:  NewReplayBuffer(replay),
		upgrader: websocket.Upgrader{
			CheckOrigin:       func(r *http.Request) bool { return true },
			EnableCompression: true,
		},
		Now: time.Now,
	}
}

// PublishSignal assigns the next sequence number to sig, records it for
// replay and queues it to every client following its pair. Slow clients
// whose queue is full miss the message.
func (h *Hub) PublishSignal(_ context.Context, sig *model.Signal) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	seq := h.seq + 1
	data, err := json.Marshal(envelope{
		Type: "signal",
		Seq:  seq,
		TS:   h.Now().UTC().Format(time.RFC3339Nano),
		Data: sig,
	})
	if err != nil {
		return fmt.Errorf("gateway: encode %s: %w", sig.Pair, err)
	}
	h.seq = seq
	h.replay.Push(seq, sig.Pair, data)

	dropped := 0
	for c := range h.clients {
		if !c.wants(sig.Pair) {
			continue
		}
		select {
		case c.send <- data:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		log.Printf("[gateway] signal %d not queued for %d slow clients", seq, dropped)
	}
	return nil
}

// ServeHTTP upgrades the request and registers a feed client.
//
// Query parameters: pairs=BTCUSDT,ETHUSDT limits the feed (default: all);
// since=<seq> replays buffered signals newer than seq before live ones.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var since int64 = -1
	if s := r.URL.Query().Get("since"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n < 0 {
			http.Error(w, "since must be a non-negative sequence number", http.StatusBadRequest)
			return
		}
		since = n
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[gateway] ws upgrade error: %v", err)
		return
	}
	conn.EnableWriteCompression(true)

	client := &Client{
		conn:  conn,
		send:  make(chan []byte, 256),
		hub:   h,
		pairs: parsePairs(r.URL.Query().Get("pairs")),
	}

	// Replay and registration happen under one lock so a concurrent
	// publish is seen exactly once.
	h.mu.Lock()
	if since >= 0 {
		for _, e := range h.replay.Since(since) {
			if !client.wants(e.Pair) {
				continue
			}
			select {
			case client.send <- e.Data:
			default:
			}
		}
	}
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	log.Printf("[gateway] feed client connected (%d total)", count)
	if h.OnClients != nil {
		h.OnClients(count)
	}

	go client.writePump()
	go client.readPump()
}

// RemoveClient unregisters a client and closes its queue.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	count := len(h.clients)
	h.mu.Unlock()

	if h.OnClients != nil {
		h.OnClients(count)
	}
}

// ClientCount returns the number of connected feed clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Seq returns the sequence number of the last published signal.
func (h *Hub) Seq() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seq
}

// parsePairs reads a comma-separated pair filter. Empty means every pair.
func parsePairs(s string) map[string]bool {
	out := make(map[string]bool)
	for _, p := range strings.Split(s, ",") {
		if p = strings.ToUpper(strings.TrimSpace(p)); p != "" {
			out[p] = true
		}
	}
	return out
}
