package redis

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"signal-enginev1/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	signalStreamMaxLen = 1000
	latestSignalTTL    = 24 * time.Hour
	defaultQuoteTTL    = 30 * time.Second
	defaultMaxPending  = 1000
	flushTimeout       = 10 * time.Second
)

// SignalStreamKey is the stream holding the dispatch history of pair.
func SignalStreamKey(pair string) string { return "signals:" + pair }

// SignalChannel is the pubsub channel announcing new signals for pair.
func SignalChannel(pair string) string { return "pub:signal:" + pair }

// LatestSignalKey holds the most recent signal of pair.
func LatestSignalKey(pair string) string { return "signal:latest:" + pair }

// QuoteKey holds the mirrored live quote of pair.
func QuoteKey(pair string) string { return "quote:" + pair }

// Config configures the Redis connection.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
	QuoteTTL time.Duration
}

// Publisher fans accepted signals and live quotes out to Redis. Writes go
// through a circuit breaker; signals rejected by an open circuit are held in
// memory and replayed when it closes. Quotes are ephemeral and dropped.
type Publisher struct {
	client   *goredis.Client
	cb       *CircuitBreaker
	quoteTTL time.Duration

	mu         sync.Mutex
	pending    []*model.Signal
	maxPending int

	OnBuffer func()          // a signal was held back
	OnFlush  func(count int) // held signals were replayed
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// New connects to Redis, pings the server and wraps writes in cb.
func New(cfg Config, cb *CircuitBreaker) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return newPublisher(client, cb, cfg.QuoteTTL), nil
}

func newPublisher(client *goredis.Client, cb *CircuitBreaker, quoteTTL time.Duration) *Publisher {
	if quoteTTL <= 0 {
		quoteTTL = defaultQuoteTTL
	}
	p := &Publisher{
		client:     client,
		cb:         cb,
		quoteTTL:   quoteTTL,
		maxPending: defaultMaxPending,
	}

	prev := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prev != nil {
			prev(from, to)
		}
		if to == StateClosed {
			go p.flush()
		}
	}
	return p
}

// PublishSignal appends the signal to its stream, stores it as the latest
// signal of the pair and announces it on pubsub, in one pipeline.
// An open circuit buffers the signal and returns nil.
func (p *Publisher) PublishSignal(ctx context.Context, sig *model.Signal) error {
	err := p.cb.Execute(func() error { return p.writeSignal(ctx, sig) })
	if errors.Is(err, ErrCircuitOpen) {
		p.hold(sig)
		return nil
	}
	if err != nil {
		return fmt.Errorf("redis publish signal %s: %w", sig.Pair, err)
	}
	return nil
}

func (p *Publisher) writeSignal(ctx context.Context, sig *model.Signal) error {
	data := string(sig.JSON())

	pipe := p.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: SignalStreamKey(sig.Pair),
		MaxLen: signalStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": data},
	})
	pipe.Set(ctx, LatestSignalKey(sig.Pair), data, latestSignalTTL)
	pipe.Publish(ctx, SignalChannel(sig.Pair), data)

	_, err := pipe.Exec(ctx)
	return err
}

// MirrorQuotes stores live quotes with a short TTL in one pipeline.
func (p *Publisher) MirrorQuotes(ctx context.Context, quotes []model.Quote) error {
	if len(quotes) == 0 {
		return nil
	}
	return p.cb.Execute(func() error {
		pipe := p.client.Pipeline()
		for i := range quotes {
			pipe.Set(ctx, QuoteKey(quotes[i].Pair), string(quotes[i].JSON()), p.quoteTTL)
		}
		_, err := pipe.Exec(ctx)
		return err
	})
}

func (p *Publisher) hold(sig *model.Signal) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.pending) >= p.maxPending {
		p.pending = p.pending[1:]
	}
	p.pending = append(p.pending, sig)
	if p.OnBuffer != nil {
		p.OnBuffer()
	}
}

// flush replays held signals once the circuit has closed.
func (p *Publisher) flush() {
	p.mu.Lock()
	if len(p.pending) == 0 {
		p.mu.Unlock()
		return
	}
	toFlush := p.pending
	p.pending = nil
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	flushed := 0
	for _, sig := range toFlush {
		if err := p.writeSignal(ctx, sig); err != nil {
			log.Printf("[redis] replay signal %s: %v", sig.Pair, err)
			continue
		}
		flushed++
	}

	log.Printf("[redis] replayed %d/%d held signals", flushed, len(toFlush))
	if p.OnFlush != nil {
		p.OnFlush(flushed)
	}
}

// PendingCount returns the number of signals waiting for the circuit to close.
func (p *Publisher) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Close closes the Redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
