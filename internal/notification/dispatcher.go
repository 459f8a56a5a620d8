package notification

import (
	"context"
	"errors"
	"log"
	"time"
)

// DispatcherConfig controls per-recipient pacing and retry.
type DispatcherConfig struct {
	// Delay is the fixed pause between consecutive sends.
	Delay time.Duration

	// MaxAttempts bounds the sends per recipient, first try included.
	MaxAttempts int

	// Backoff is the wait before the first retry of a non rate-limit failure.
	// It doubles per retry up to MaxBackoff, which also caps server-requested waits.
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// DefaultDispatcherConfig returns 50ms pacing and 3 attempts.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Delay:       50 * time.Millisecond,
		MaxAttempts: 3,
		Backoff:     500 * time.Millisecond,
		MaxBackoff:  30 * time.Second,
	}
}

// Report is the outcome of delivering one alert to a recipient list.
type Report struct {
	Sent    int
	Failed  int
	Retries int
	Errors  map[string]error // by recipient
}

// Dispatcher sends one alert to many recipients, one at a time.
type Dispatcher struct {
	notifier Notifier
	cfg      DispatcherConfig

	// Sleep waits d or until ctx is done. Replaced in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewDispatcher creates a dispatcher over notifier.
func NewDispatcher(notifier Notifier, cfg DispatcherConfig) *Dispatcher {
	def := DefaultDispatcherConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = def.Backoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	return &Dispatcher{notifier: notifier, cfg: cfg, Sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Deliver sends alert to every recipient in order. A failing recipient never
// stops the others. Once ctx is done, remaining recipients count as failed.
func (d *Dispatcher) Deliver(ctx context.Context, alert Alert, recipients []string) Report {
	rep := Report{Errors: make(map[string]error)}

	for i, to := range recipients {
		if i > 0 && d.cfg.Delay > 0 {
			if err := d.Sleep(ctx, d.cfg.Delay); err != nil {
				d.failRest(&rep, recipients[i:], err)
				return rep
			}
		}
		if err := ctx.Err(); err != nil {
			d.failRest(&rep, recipients[i:], err)
			return rep
		}

		retries, err := d.sendOne(ctx, to, alert)
		rep.Retries += retries
		if err != nil {
			rep.Failed++
			rep.Errors[to] = err
			log.Printf("[notify] delivery to %s failed after %d attempts: %v", to, retries+1, err)
			continue
		}
		rep.Sent++
	}
	return rep
}

func (d *Dispatcher) failRest(rep *Report, rest []string, err error) {
	for _, to := range rest {
		rep.Failed++
		rep.Errors[to] = err
	}
}

// sendOne makes up to MaxAttempts sends. Returns the number of retries used.
func (d *Dispatcher) sendOne(ctx context.Context, to string, alert Alert) (int, error) {
	backoff := d.cfg.Backoff
	var err error

	for attempt := 1; ; attempt++ {
		err = d.notifier.Send(ctx, to, alert)
		if err == nil || attempt >= d.cfg.MaxAttempts {
			return attempt - 1, err
		}

		wait := backoff
		var rl *RateLimitError
		if errors.As(err, &rl) {
			wait = rl.RetryAfter
		} else {
			backoff *= 2
		}
		if wait > d.cfg.MaxBackoff {
			wait = d.cfg.MaxBackoff
		}

		if serr := d.Sleep(ctx, wait); serr != nil {
			return attempt - 1, err
		}
	}
}
