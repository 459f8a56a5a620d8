// Package engine runs the analysis loop: each cycle it walks the tracked
// pairs in a stable order, analyses those with enough history and not
// blocked by the gate, and dispatches admitted signals.
package engine

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"time"

	"signal-enginev1/internal/analysis"
	"signal-enginev1/internal/candlestore"
	"signal-enginev1/internal/gate"
	"signal-enginev1/internal/logger"
	"signal-enginev1/internal/metrics"
	"signal-enginev1/internal/model"
	"signal-enginev1/internal/notification"
)

// History the loop requires before calling the analyzer. The analyzer's own
// floor for 4h is lower; the loop is stricter.
const (
	MinH1Candles = analysis.Min1hCandles
	MinH4Candles = 100
	MinD1Candles = 30
)

// Skip reasons reported to metrics.
const (
	skipInsufficient  = "insufficient_data"
	skipLowConfidence = "low_confidence"
	skipPreCheck      = "precheck"
)

// PairLister yields the pairs to scan, in a stable order.
type PairLister interface {
	Pairs(ctx context.Context) []string
}

// Analyzer produces at most one signal from a pair's candle history.
type Analyzer interface {
	Analyze(in analysis.Input) (*model.Signal, error)
}

// Delivery sends a rendered alert to a recipient list.
type Delivery interface {
	Deliver(ctx context.Context, alert notification.Alert, recipients []string) notification.Report
}

// Publisher fans admitted signals out to other services.
type Publisher interface {
	PublishSignal(ctx context.Context, sig *model.Signal) error
}

// Publishers publishes to every member and joins their errors.
type Publishers []Publisher

func (ps Publishers) PublishSignal(ctx context.Context, sig *model.Signal) error {
	var errs []error
	for _, p := range ps {
		if err := p.PublishSignal(ctx, sig); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Config holds analysis loop settings.
type Config struct {
	ReferencePair string
	MinConfidence int
	Interval      time.Duration

	// RotatePairs advances the starting pair by one each cycle so pairs late
	// in the list are not always starved by the global budget.
	RotatePairs bool
}

// Deps are the engine's collaborators. Publisher, Metrics and Health are optional.
type Deps struct {
	Pairs      PairLister
	Candles    *candlestore.Store
	Quotes     *candlestore.PriceCache
	Analyzer   Analyzer
	Gate       *gate.Gate
	Signals    model.SignalLog
	Recipients model.PairSource
	Delivery   Delivery
	Publisher  Publisher
	Metrics    *metrics.Metrics
	Health     *metrics.HealthStatus
}

// Engine is the analysis loop.
type Engine struct {
	cfg  Config
	deps Deps

	seq    uint64
	offset int

	Now func() time.Time
}

// CycleResult summarises one analysis cycle.
type CycleResult struct {
	CycleID      string
	Scanned      int
	Analyzed     int
	Produced     int
	Accepted     int
	Rejected     map[gate.Reason]int
	Skipped      map[string]int
	StoppedEarly bool
}

// New creates an Engine.
func New(cfg Config, deps Deps) *Engine {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Engine{cfg: cfg, deps: deps, Now: time.Now}
}

// Run runs a cycle immediately and then every Interval until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	log.Printf("[engine] started (interval=%s, min_confidence=%d, rotate=%v)",
		e.cfg.Interval, e.cfg.MinConfidence, e.cfg.RotatePairs)

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		res := e.Cycle(ctx)
		if res.Accepted > 0 || res.StoppedEarly {
			log.Printf("[engine] cycle %s: scanned=%d analyzed=%d produced=%d accepted=%d stopped_early=%v",
				res.CycleID, res.Scanned, res.Analyzed, res.Produced, res.Accepted, res.StoppedEarly)
		}

		select {
		case <-ctx.Done():
			log.Printf("[engine] stopped")
			return
		case <-ticker.C:
		}
	}
}

// Cycle scans every pair once. It stops early once the global daily budget is
// spent, so pairs late in the order can go unscanned.
func (e *Engine) Cycle(ctx context.Context) CycleResult {
	start := e.Now()
	e.seq++
	id := logger.NewCycleID(e.seq, start)
	ctx = logger.WithCycleID(ctx, id)

	res := CycleResult{
		CycleID:  id,
		Rejected: make(map[gate.Reason]int),
		Skipped:  make(map[string]int),
	}

	pairs := e.order(e.deps.Pairs.Pairs(ctx))
	m := e.deps.Metrics
	if m != nil {
		m.TrackedPairs.Set(float64(len(pairs)))
	}

	for _, pair := range pairs {
		if ctx.Err() != nil {
			break
		}
		if e.deps.Gate.Exhausted() {
			res.StoppedEarly = true
			if m != nil {
				m.CyclesCutShort.Inc()
			}
			slog.Debug("global budget spent, ending cycle", append(logger.Attrs(ctx), "next_pair", pair)...)
			break
		}
		res.Scanned++
		e.scan(ctx, pair, &res)
	}

	if m != nil {
		m.CyclesTotal.Inc()
		m.CycleDur.Observe(time.Since(start).Seconds())
		m.DailySignals.Set(float64(e.deps.Gate.Snapshot().DailyCount))
	}
	if e.deps.Health != nil {
		e.deps.Health.MarkCycle(e.Now())
	}
	return res
}

// scan runs the pre-checks, the analyzer and the gate for one pair.
func (e *Engine) scan(ctx context.Context, pair string, res *CycleResult) {
	m := e.deps.Metrics

	if d := e.deps.Gate.PreCheck(ctx, pair); !d.Accepted {
		res.Skipped[skipPreCheck]++
		m.Skip(skipPreCheck)
		if d.Err != nil {
			log.Printf("[engine] pre-check %s: %v", pair, d.Err)
		}
		slog.Debug("pair skipped by pre-check", append(logger.Attrs(ctx), "pair", pair, "reason", string(d.Reason))...)
		return
	}

	in, ok := e.input(pair)
	if !ok {
		res.Skipped[skipInsufficient]++
		m.Skip(skipInsufficient)
		return
	}

	sig, err := e.deps.Analyzer.Analyze(in)
	if m != nil {
		m.PairsAnalyzed.Inc()
	}
	res.Analyzed++
	if err != nil {
		if errors.Is(err, analysis.ErrInsufficientData) {
			res.Skipped[skipInsufficient]++
			m.Skip(skipInsufficient)
			return
		}
		log.Printf("[engine] analyze %s: %v", pair, err)
		return
	}
	if sig == nil {
		return
	}

	res.Produced++
	if m != nil {
		m.SignalsProduced.WithLabelValues(string(sig.Side)).Inc()
	}

	if sig.Confidence < e.cfg.MinConfidence {
		res.Skipped[skipLowConfidence]++
		m.Skip(skipLowConfidence)
		slog.Debug("signal below confidence floor", append(logger.Attrs(ctx),
			"pair", pair, "side", string(sig.Side), "confidence", sig.Confidence)...)
		return
	}

	d := e.deps.Gate.Admit(ctx, sig)
	if !d.Accepted {
		res.Rejected[d.Reason]++
		m.Reject(string(d.Reason))
		if d.Err != nil {
			log.Printf("[engine] gate %s: %v", pair, d.Err)
		}
		slog.Debug("signal rejected", append(logger.Attrs(ctx),
			"pair", pair, "side", string(sig.Side), "reason", string(d.Reason))...)
		return
	}

	res.Accepted++
	if m != nil {
		m.SignalsAccepted.WithLabelValues(string(sig.Side)).Inc()
	}
	e.dispatch(ctx, sig)
}

// input assembles the analyzer input, overlaying the live quote on the
// newest 1h candle. ok is false when the history is too short.
func (e *Engine) input(pair string) (analysis.Input, bool) {
	c := e.deps.Candles
	h1 := c.Read(pair, model.TF1h)
	h4 := c.Read(pair, model.TF4h)
	d1 := c.Read(pair, model.TF1d)
	if len(h1) < MinH1Candles || len(h4) < MinH4Candles || len(d1) < MinD1Candles {
		return analysis.Input{}, false
	}

	if q, ok := e.deps.Quotes.Get(pair); ok {
		h1 = candlestore.WithLiveQuote(h1, q)
	}

	in := analysis.Input{Pair: pair, H1: h1, H4: h4, D1: d1}
	if ref := e.cfg.ReferencePair; ref != "" {
		refH1 := c.Read(ref, model.TF1h)
		if q, ok := e.deps.Quotes.Get(ref); ok {
			refH1 = candlestore.WithLiveQuote(refH1, q)
		}
		in.Reference = refH1
	}
	return in, true
}

// dispatch persists, publishes and delivers an admitted signal. Failures here
// are logged and never undo the admission.
func (e *Engine) dispatch(ctx context.Context, sig *model.Signal) {
	if err := e.deps.Signals.LogSignal(ctx, model.NewSignalRecord(sig, e.Now())); err != nil {
		log.Printf("[engine] log signal %s %s: %v", sig.Pair, sig.Side, err)
	}

	if e.deps.Publisher != nil {
		if err := e.deps.Publisher.PublishSignal(ctx, sig); err != nil {
			log.Printf("[engine] publish signal %s: %v", sig.Pair, err)
		}
	}

	recipients, err := e.deps.Recipients.Recipients(ctx, sig.Pair)
	if err != nil {
		log.Printf("[engine] recipients %s: %v", sig.Pair, err)
	}

	var rep notification.Report
	if len(recipients) > 0 {
		start := time.Now()
		rep = e.deps.Delivery.Deliver(ctx, notification.Render(sig), recipients)
		e.deps.Metrics.Delivered(rep.Sent, rep.Failed, rep.Retries, time.Since(start))
	}

	slog.Info("signal dispatched", append(logger.Attrs(ctx),
		"pair", sig.Pair, "side", string(sig.Side), "confidence", sig.Confidence,
		"entry_min", sig.EntryMin, "entry_max", sig.EntryMax,
		"recipients", len(recipients), "sent", rep.Sent, "failed", rep.Failed)...)
}

// order applies the optional per-cycle rotation to the pair list.
func (e *Engine) order(pairs []string) []string {
	if !e.cfg.RotatePairs || len(pairs) < 2 {
		return pairs
	}
	k := e.offset % len(pairs)
	e.offset++
	out := make([]string, 0, len(pairs))
	out = append(out, pairs[k:]...)
	return append(out, pairs[:k]...)
}
