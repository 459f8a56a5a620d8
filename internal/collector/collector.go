// Package collector keeps the candle store and price cache fresh. Each cycle
// fetches klines for every tracked pair (and the reference pair) on every
// analysed timeframe, then refreshes live quotes.
package collector

import (
	"context"
	"log"
	"time"

	"signal-enginev1/internal/candlestore"
	"signal-enginev1/internal/metrics"
	"signal-enginev1/internal/model"
)

// PairLister yields the pairs to collect, in a stable order.
type PairLister interface {
	Pairs(ctx context.Context) []string
}

// QuoteMirror receives each cycle's fresh quotes (Redis in production).
type QuoteMirror interface {
	MirrorQuotes(ctx context.Context, quotes []model.Quote) error
}

// CandleArchive serves previously archived candles for warm start.
type CandleArchive interface {
	ReadCandles(ctx context.Context, pair string, tf model.Timeframe, limit int) ([]model.Candle, error)
}

// Config holds collector settings.
type Config struct {
	ReferencePair string
	Interval      time.Duration

	// Limits is the kline request size per timeframe.
	Limits map[model.Timeframe]int
}

// DefaultLimits returns the kline request sizes for 1h/4h/1d.
func DefaultLimits() map[model.Timeframe]int {
	return map[model.Timeframe]int{
		model.TF1h: 300,
		model.TF4h: 200,
		model.TF1d: 100,
	}
}

type seriesKey struct {
	pair string
	tf   model.Timeframe
}

// Collector runs the periodic market data refresh.
type Collector struct {
	cfg     Config
	pairs   PairLister
	market  model.MarketData
	ticker  model.TickerSource
	candles *candlestore.Store
	quotes  *candlestore.PriceCache

	// archived is the open time of the newest candle handed to Archive per series.
	archived map[seriesKey]time.Time

	// Optional collaborators, set before Run.
	Mirror  QuoteMirror
	Archive chan<- model.SeriesCandle
	Metrics *metrics.Metrics
	Health  *metrics.HealthStatus
	Now     func() time.Time
}

// Result summarises one collection cycle.
type Result struct {
	Pairs    int
	Appended int
	Quotes   int
	Errors   int
}

// New creates a Collector.
func New(cfg Config, pairs PairLister, market model.MarketData, ticker model.TickerSource,
	candles *candlestore.Store, quotes *candlestore.PriceCache) *Collector {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Limits == nil {
		cfg.Limits = DefaultLimits()
	}
	return &Collector{
		cfg:      cfg,
		pairs:    pairs,
		market:   market,
		ticker:   ticker,
		candles:  candles,
		quotes:   quotes,
		archived: make(map[seriesKey]time.Time),
		Now:      time.Now,
	}
}

// targets returns the tracked pairs plus the reference pair, deduplicated,
// in the lister's order.
func (c *Collector) targets(ctx context.Context) []string {
	listed := c.pairs.Pairs(ctx)
	out := make([]string, 0, len(listed)+1)
	seen := make(map[string]bool, len(listed)+1)
	for _, p := range listed {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	if ref := c.cfg.ReferencePair; ref != "" && !seen[ref] {
		out = append(out, ref)
	}
	return out
}

// Run collects immediately and then every Interval until ctx is cancelled.
func (c *Collector) Run(ctx context.Context) {
	log.Printf("[collector] started (interval=%s)", c.cfg.Interval)

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		res := c.Cycle(ctx)
		if res.Errors > 0 {
			log.Printf("[collector] cycle done: pairs=%d appended=%d quotes=%d errors=%d",
				res.Pairs, res.Appended, res.Quotes, res.Errors)
		}

		select {
		case <-ctx.Done():
			log.Printf("[collector] stopped")
			return
		case <-ticker.C:
		}
	}
}

// Cycle runs one collection pass. Failures are isolated per pair and
// timeframe; the pass always visits every target.
func (c *Collector) Cycle(ctx context.Context) Result {
	targets := c.targets(ctx)
	res := Result{Pairs: len(targets)}

	for _, pair := range targets {
		if ctx.Err() != nil {
			return res
		}
		for _, tf := range model.Timeframes {
			n, err := c.collectSeries(ctx, pair, tf)
			if err != nil {
				res.Errors++
				c.Metrics.FetchError("klines")
				log.Printf("[collector] klines %s %s: %v", pair, tf, err)
				continue
			}
			res.Appended += n
		}
	}

	fresh := make([]model.Quote, 0, len(targets))
	for _, pair := range targets {
		if ctx.Err() != nil {
			break
		}
		price, volume, err := c.ticker.Quote(ctx, pair)
		if err != nil {
			res.Errors++
			c.Metrics.FetchError("ticker")
			log.Printf("[collector] quote %s: %v", pair, err)
			continue
		}
		fresh = append(fresh, c.quotes.Set(pair, price, volume))
	}
	res.Quotes = len(fresh)

	evicted := c.quotes.EvictStale()

	if c.Mirror != nil && len(fresh) > 0 {
		if err := c.Mirror.MirrorQuotes(ctx, fresh); err != nil {
			log.Printf("[collector] mirror quotes: %v", err)
		}
	}

	if c.Metrics != nil {
		c.Metrics.QuotesEvicted.Add(float64(evicted))
		c.Metrics.QuotesCached.Set(float64(c.quotes.Len()))
	}
	if c.Health != nil {
		c.Health.MarkCollect(c.Now())
	}
	return res
}

// collectSeries fetches one series and merges it into the store.
func (c *Collector) collectSeries(ctx context.Context, pair string, tf model.Timeframe) (int, error) {
	candles, err := c.market.Klines(ctx, pair, tf, c.cfg.Limits[tf])
	if err != nil {
		return 0, err
	}

	n := c.candles.Merge(pair, tf, candles)
	if c.Metrics != nil && n > 0 {
		c.Metrics.CandlesAppended.WithLabelValues(string(tf)).Add(float64(n))
	}
	c.archiveClosed(pair, tf, candles)
	return n, nil
}

// archiveClosed hands closed candles not yet archived to the Archive channel
// without blocking. On a full channel it stops, so the remaining candles are
// retried next cycle.
func (c *Collector) archiveClosed(pair string, tf model.Timeframe, candles []model.Candle) {
	if c.Archive == nil {
		return
	}
	k := seriesKey{pair, tf}
	now := c.Now()

	for _, cd := range candles {
		if !cd.TS.After(c.archived[k]) || cd.TS.Add(tf.Duration()).After(now) {
			continue
		}
		select {
		case c.Archive <- model.SeriesCandle{Pair: pair, TF: tf, Candle: cd}:
			c.archived[k] = cd.TS
		default:
			if c.Metrics != nil {
				c.Metrics.ArchiveDrops.Inc()
			}
			return
		}
	}
}

// HandleQuote stores a streamed quote in the price cache.
func (c *Collector) HandleQuote(q model.Quote) {
	if q.Pair == "" || q.Price <= 0 {
		return
	}
	c.quotes.Set(q.Pair, q.Price, q.Volume)
}

// WarmStart seeds the candle store from the archive so analysis can begin
// before the first full fetch. Archived candles count as already archived.
func (c *Collector) WarmStart(ctx context.Context, archive CandleArchive) int {
	total := 0
	for _, pair := range c.targets(ctx) {
		for _, tf := range model.Timeframes {
			candles, err := archive.ReadCandles(ctx, pair, tf, c.cfg.Limits[tf])
			if err != nil {
				log.Printf("[collector] warm start %s %s: %v", pair, tf, err)
				continue
			}
			total += c.candles.Merge(pair, tf, candles)
			if len(candles) > 0 {
				c.archived[seriesKey{pair, tf}] = candles[len(candles)-1].TS
			}
		}
	}
	if total > 0 {
		log.Printf("[collector] warm start loaded %d candles", total)
	}
	return total
}
