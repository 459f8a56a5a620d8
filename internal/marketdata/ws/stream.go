// Package ws streams Binance miniTicker updates for the tracked pairs and
// feeds them to the price cache between REST polling cycles.
//
// A combined stream is used, so one connection carries every pair:
//
//	wss://stream.binance.com:9443/stream?streams=btcusdt@miniTicker/ethusdt@miniTicker
//
// Each frame is an envelope {"stream": "...", "data": {...miniTicker...}}.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"signal-enginev1/internal/model"

	"github.com/gorilla/websocket"
)

// DefaultBaseURL is the production combined-stream endpoint.
const DefaultBaseURL = "wss://stream.binance.com:9443/stream"

// Config holds configuration for the ticker stream.
type Config struct {
	BaseURL string
	Pairs   []string

	// ReconnectDelay is the initial delay before reconnection attempts.
	// Defaults to 1 second if zero.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration
}

func (c *Config) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
}

// Stream maintains the websocket session and reconnects with backoff.
type Stream struct {
	cfg       Config
	connected atomic.Bool

	// Optional hook, called each time the connection drops.
	OnReconnect func()
}

// New creates a Stream. At least one pair is required.
func New(cfg Config) (*Stream, error) {
	cfg.defaults()
	if len(cfg.Pairs) == 0 {
		return nil, fmt.Errorf("ws: no pairs to stream")
	}
	return &Stream{cfg: cfg}, nil
}

// URL returns the combined-stream URL for the configured pairs.
func (s *Stream) URL() string {
	names := make([]string, len(s.cfg.Pairs))
	for i, p := range s.cfg.Pairs {
		names[i] = strings.ToLower(p) + "@miniTicker"
	}
	return s.cfg.BaseURL + "?streams=" + strings.Join(names, "/")
}

// Connected reports whether a session is currently open.
func (s *Stream) Connected() bool { return s.connected.Load() }

// Start streams quotes into onQuote until ctx is cancelled, reconnecting on
// disconnect. onQuote is called from the reader goroutine.
func (s *Stream) Start(ctx context.Context, onQuote func(model.Quote)) error {
	delay := s.cfg.ReconnectDelay

	for {
		if ctx.Err() != nil {
			return nil
		}

		start := time.Now()
		err := s.runOnce(ctx, onQuote)
		if err == nil {
			return nil
		}
		// A session that lived a while resets the backoff.
		if time.Since(start) > s.cfg.MaxReconnectDelay {
			delay = s.cfg.ReconnectDelay
		}

		log.Printf("[ws] disconnected (%v), reconnecting in %s", err, delay)
		if s.OnReconnect != nil {
			s.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > s.cfg.MaxReconnectDelay {
			delay = s.cfg.MaxReconnectDelay
		}
	}
}

// runOnce makes a single connection attempt and reads until disconnect or ctx
// cancel. Returns nil only on cancellation.
func (s *Stream) runOnce(ctx context.Context, onQuote func(model.Quote)) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.URL(), nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	s.connected.Store(true)
	defer s.connected.Store(false)
	log.Printf("[ws] connected, streaming %d pairs", len(s.cfg.Pairs))

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		q, err := parseMiniTicker(raw)
		if err != nil {
			log.Printf("[ws] parse error: %v", err)
			continue
		}
		onQuote(q)
	}
}

type envelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type miniTicker struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Close     string `json:"c"`
	Volume    string `json:"v"`
}

// parseMiniTicker decodes a combined-stream frame (or a bare miniTicker
// payload) into a Quote.
func parseMiniTicker(raw []byte) (model.Quote, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return model.Quote{}, err
	}
	payload := []byte(env.Data)
	if len(payload) == 0 {
		payload = raw
	}

	var m miniTicker
	if err := json.Unmarshal(payload, &m); err != nil {
		return model.Quote{}, err
	}
	if m.EventType != "24hrMiniTicker" {
		return model.Quote{}, fmt.Errorf("unexpected event type %q", m.EventType)
	}

	price, err := strconv.ParseFloat(m.Close, 64)
	if err != nil || price <= 0 {
		return model.Quote{}, fmt.Errorf("bad price %q for %s", m.Close, m.Symbol)
	}
	volume, err := strconv.ParseFloat(m.Volume, 64)
	if err != nil {
		return model.Quote{}, fmt.Errorf("bad volume %q for %s", m.Volume, m.Symbol)
	}

	return model.Quote{
		Pair:       m.Symbol,
		Price:      price,
		Volume:     volume,
		ObservedAt: time.UnixMilli(m.EventTime).UTC(),
	}, nil
}
