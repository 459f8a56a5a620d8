package gateway

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client represents a single feed peer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	// pair filter; empty receives every pair
	subMu sync.RWMutex
	pairs map[string]bool
}

// controlMsg is what a client may send: SUBSCRIBE and UNSUBSCRIBE adjust
// the pair filter, ping is answered with pong.
type controlMsg struct {
	Type  string   `json:"type"`
	Pairs []string `json:"pairs"`
	Ping  int64    `json:"ping"`
}

func (c *Client) wants(pair string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.pairs) == 0 || c.pairs[pair]
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))

			// Coalesce queued messages into one frame, newline separated.
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)
			n := len(c.send)
			for i := 0; i < n; i++ {
				next, ok := <-c.send
				if !ok {
					break
				}
				w.Write([]byte{'\n'})
				w.Write(next)
			}
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		log.Println("[gateway] feed client disconnected")
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg controlMsg
		if json.Unmarshal(raw, &msg) != nil {
			continue
		}

		switch msg.Type {
		case "SUBSCRIBE":
			c.subMu.Lock()
			for _, p := range msg.Pairs {
				for k := range parsePairs(p) {
					c.pairs[k] = true
				}
			}
			c.subMu.Unlock()
		case "UNSUBSCRIBE":
			c.subMu.Lock()
			for _, p := range msg.Pairs {
				for k := range parsePairs(p) {
					delete(c.pairs, k)
				}
			}
			c.subMu.Unlock()
		default:
			if msg.Ping > 0 {
				c.pong(msg.Ping)
			}
		}
	}
}

func (c *Client) pong(ping int64) {
	data, _ := json.Marshal(map[string]any{
		"type":      "pong",
		"ping":      ping,
		"server_ts": c.hub.Now().UnixMilli(),
	})

	// send may be closed concurrently by RemoveClient
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}
