// Package gate is the sole authority on whether an analysed signal may be
// dispatched. It enforces a global daily budget, a per-pair daily budget,
// a per-pair cooldown and price-based deduplication.
//
// The global count and cooldowns live in memory. The per-pair count is read
// from the signal log on every check so it survives restarts.
package gate

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"signal-enginev1/internal/model"
)

// Reason names why a signal was rejected.
type Reason string

const (
	ReasonGlobalLimit Reason = "GLOBAL_LIMIT"
	ReasonPairLimit   Reason = "PAIR_LIMIT"
	ReasonCooldown    Reason = "COOLDOWN"
	ReasonDuplicate   Reason = "DUPLICATE"
)

// Limits are the configurable gate thresholds.
type Limits struct {
	GlobalPerDay int           `json:"global_per_day"`
	PairPerDay   int           `json:"pair_per_day"`
	Cooldown     time.Duration `json:"cooldown"`
	DuplicatePct float64       `json:"duplicate_pct"` // entry price band, percent
}

// DefaultLimits returns the production defaults.
func DefaultLimits() Limits {
	return Limits{
		GlobalPerDay: 12,
		PairPerDay:   3,
		Cooldown:     4 * time.Hour,
		DuplicatePct: 0.5,
	}
}

// Decision is the outcome of a gate check. Rejections are values, not errors.
// Err is set only when the signal log could not be read; such checks fail
// closed as PAIR_LIMIT.
type Decision struct {
	Accepted bool
	Reason   Reason
	Err      error
}

func (d Decision) String() string {
	switch {
	case d.Accepted:
		return "accepted"
	case d.Err != nil:
		return fmt.Sprintf("rejected(%s: %v)", d.Reason, d.Err)
	default:
		return fmt.Sprintf("rejected(%s)", d.Reason)
	}
}

var accepted = Decision{Accepted: true}

func reject(r Reason) Decision { return Decision{Reason: r} }

// Option configures a Gate.
type Option func(*Gate)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// WithLocation sets the timezone whose calendar day bounds the budgets.
func WithLocation(loc *time.Location) Option {
	return func(g *Gate) {
		if loc != nil {
			g.loc = loc
		}
	}
}

// Gate holds the dispatch state for the whole process.
type Gate struct {
	mu     sync.Mutex
	limits Limits
	log    model.SignalLog
	now    func() time.Time
	loc    *time.Location

	dailyCount   int
	dailyDate    string
	lastDispatch map[string]time.Time
	lastEntry    map[string]float64 // keyed by model.EntryKey
}

// New creates a Gate backed by the given signal log.
func New(limits Limits, signals model.SignalLog, opts ...Option) *Gate {
	g := &Gate{
		limits:       limits,
		log:          signals,
		now:          time.Now,
		loc:          time.UTC,
		lastDispatch: make(map[string]time.Time),
		lastEntry:    make(map[string]float64),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Admit runs the full check sequence and, on acceptance, records the dispatch.
// The caller must persist the signal to the log afterwards so the per-pair
// count reflects it on the next call.
func (g *Gate) Admit(ctx context.Context, sig *model.Signal) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if d := g.check(ctx, sig.Pair, now); !d.Accepted {
		return d
	}

	key := model.EntryKey(sig.Pair, sig.Side)
	entry := sig.EntryPrice()
	if prev, ok := g.lastEntry[key]; ok && prev > 0 {
		if math.Abs(entry-prev)/prev*100 < g.limits.DuplicatePct {
			return reject(ReasonDuplicate)
		}
	}

	g.lastDispatch[sig.Pair] = now
	g.lastEntry[key] = entry
	g.dailyCount++
	return accepted
}

// PreCheck runs the budget and cooldown checks for pair without recording
// anything. The analysis loop uses it to skip pairs before analysing them.
func (g *Gate) PreCheck(ctx context.Context, pair string) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.check(ctx, pair, g.now())
}

// Exhausted reports whether the global budget for the current day is spent.
func (g *Gate) Exhausted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollover(g.now())
	return g.dailyCount >= g.limits.GlobalPerDay
}

// check applies date rollover, global budget, per-pair budget and cooldown.
func (g *Gate) check(ctx context.Context, pair string, now time.Time) Decision {
	g.rollover(now)

	if g.dailyCount >= g.limits.GlobalPerDay {
		return reject(ReasonGlobalLimit)
	}

	n, err := g.log.CountSince(ctx, pair, g.dayStart(now))
	if err != nil {
		return Decision{Reason: ReasonPairLimit, Err: err}
	}
	if n >= g.limits.PairPerDay {
		return reject(ReasonPairLimit)
	}

	if last, ok := g.lastDispatch[pair]; ok && now.Sub(last) < g.limits.Cooldown {
		return reject(ReasonCooldown)
	}
	return accepted
}

// rollover resets the global counter on the first call of a new local day.
func (g *Gate) rollover(now time.Time) {
	date := now.In(g.loc).Format(time.DateOnly)
	if date != g.dailyDate {
		if g.dailyDate != "" {
			log.Printf("[gate] day rollover %s -> %s (dispatched %d)", g.dailyDate, date, g.dailyCount)
		}
		g.dailyDate = date
		g.dailyCount = 0
	}
}

func (g *Gate) dayStart(now time.Time) time.Time {
	y, m, d := now.In(g.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, g.loc)
}

// Restore seeds the global count for today and the last entry per pair and
// side from the signal log. Cooldowns are not restored.
func (g *Gate) Restore(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.rollover(now)

	n, err := g.log.CountAllSince(ctx, g.dayStart(now))
	if err != nil {
		return fmt.Errorf("gate: restore daily count: %w", err)
	}
	entries, err := g.log.LastEntries(ctx)
	if err != nil {
		return fmt.Errorf("gate: restore last entries: %w", err)
	}

	g.dailyCount = n
	for k, v := range entries {
		g.lastEntry[k] = v
	}
	log.Printf("[gate] restored: %d dispatched today, %d last entries", n, len(entries))
	return nil
}

// Reset clears the global count, cooldowns and duplicate history. The per-pair
// daily count is owned by the signal log and is not affected.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dailyCount = 0
	g.lastDispatch = make(map[string]time.Time)
	g.lastEntry = make(map[string]float64)
	log.Printf("[gate] reset by operator")
}

// State is a point-in-time view of the gate for the operator API.
type State struct {
	Date       string               `json:"date"`
	DailyCount int                  `json:"daily_count"`
	Limits     Limits               `json:"limits"`
	Cooldowns  map[string]time.Time `json:"cooldowns"` // pair -> eligible again at
}

// Snapshot returns the current state. Only pairs still cooling down are listed.
func (g *Gate) Snapshot() State {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.rollover(now)

	cooldowns := make(map[string]time.Time)
	for pair, last := range g.lastDispatch {
		if until := last.Add(g.limits.Cooldown); until.After(now) {
			cooldowns[pair] = until
		}
	}
	return State{
		Date:       g.dailyDate,
		DailyCount: g.dailyCount,
		Limits:     g.limits,
		Cooldowns:  cooldowns,
	}
}
