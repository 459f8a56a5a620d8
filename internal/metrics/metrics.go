package metrics

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the signal engine.
// A nil *Metrics is valid: every helper method is then a no-op.
type Metrics struct {
	// Analysis loop
	CyclesTotal     prometheus.Counter
	CycleDur        prometheus.Histogram
	CyclesCutShort  prometheus.Counter // stopped early on the global budget
	PairsAnalyzed   prometheus.Counter
	PairsSkipped    *prometheus.CounterVec // labels: reason
	SignalsProduced *prometheus.CounterVec // labels: side
	SignalsAccepted *prometheus.CounterVec // labels: side
	GateRejections  *prometheus.CounterVec // labels: reason
	DailySignals    prometheus.Gauge
	TrackedPairs    prometheus.Gauge

	// Collector
	FetchErrors     *prometheus.CounterVec // labels: source
	CandlesAppended *prometheus.CounterVec // labels: tf
	CandlesEvicted  prometheus.Counter
	QuotesCached    prometheus.Gauge
	QuotesEvicted   prometheus.Counter
	WSReconnects    prometheus.Counter
	ArchiveDrops    prometheus.Counter
	StreamClients   prometheus.Gauge

	// Delivery
	Deliveries      *prometheus.CounterVec // labels: result=sent|failed
	DeliveryRetries prometheus.Counter
	DeliveryDur     prometheus.Histogram

	// Redis circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedSignals     prometheus.Counter
}

// NewMetrics creates all metrics and registers them with reg. A nil reg
// registers with the Prometheus default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		CyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalengine_cycles_total",
			Help: "Analysis cycles run",
		}),
		CycleDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signalengine_cycle_duration_seconds",
			Help:    "Wall time of one analysis cycle",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		CyclesCutShort: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalengine_cycles_cut_short_total",
			Help: "Cycles that stopped early because the global daily budget was spent",
		}),
		PairsAnalyzed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalengine_pairs_analyzed_total",
			Help: "Pairs handed to the analyzer",
		}),
		PairsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalengine_pairs_skipped_total",
			Help: "Pairs skipped before analysis (by reason)",
		}, []string{"reason"}),
		SignalsProduced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalengine_signals_produced_total",
			Help: "Signals produced by the analyzer (by side)",
		}, []string{"side"}),
		SignalsAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalengine_signals_accepted_total",
			Help: "Signals admitted by the gate (by side)",
		}, []string{"side"}),
		GateRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalengine_gate_rejections_total",
			Help: "Signals rejected by the gate (by reason)",
		}, []string{"reason"}),
		DailySignals: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signalengine_daily_signals",
			Help: "Signals dispatched so far today",
		}),
		TrackedPairs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signalengine_tracked_pairs",
			Help: "Pairs scanned per cycle",
		}),

		FetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalengine_fetch_errors_total",
			Help: "Upstream fetch failures (by source)",
		}, []string{"source"}),
		CandlesAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalengine_candles_appended_total",
			Help: "Candles appended to the store (by timeframe)",
		}, []string{"tf"}),
		CandlesEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalengine_candles_evicted_total",
			Help: "Candles evicted from the front of full series",
		}),
		QuotesCached: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signalengine_quotes_cached",
			Help: "Live quotes currently cached",
		}),
		QuotesEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalengine_quotes_evicted_total",
			Help: "Stale quotes evicted from the cache",
		}),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalengine_ws_reconnects_total",
			Help: "Ticker stream reconnection attempts",
		}),
		ArchiveDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalengine_archive_drops_total",
			Help: "Closed candles not archived because the archive channel was full",
		}),
		StreamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signalengine_stream_clients",
			Help: "Connected live signal feed clients",
		}),

		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalengine_deliveries_total",
			Help: "Per-recipient alert deliveries (by result)",
		}, []string{"result"}),
		DeliveryRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalengine_delivery_retries_total",
			Help: "Delivery attempts retried after a failure or rate limit",
		}),
		DeliveryDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signalengine_delivery_duration_seconds",
			Help:    "Time to deliver one alert to all recipients",
			Buckets: prometheus.DefBuckets,
		}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signalengine_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalengine_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisBufferedSignals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalengine_redis_buffered_signals_total",
			Help: "Signals held in memory while the Redis circuit was open",
		}),
	}

	reg.MustRegister(
		m.CyclesTotal,
		m.CycleDur,
		m.CyclesCutShort,
		m.PairsAnalyzed,
		m.PairsSkipped,
		m.SignalsProduced,
		m.SignalsAccepted,
		m.GateRejections,
		m.DailySignals,
		m.TrackedPairs,
		m.FetchErrors,
		m.CandlesAppended,
		m.CandlesEvicted,
		m.QuotesCached,
		m.QuotesEvicted,
		m.WSReconnects,
		m.ArchiveDrops,
		m.StreamClients,
		m.Deliveries,
		m.DeliveryRetries,
		m.DeliveryDur,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedSignals,
	)

	return m
}

// Skip counts a pair skipped before analysis.
func (m *Metrics) Skip(reason string) {
	if m == nil {
		return
	}
	m.PairsSkipped.WithLabelValues(reason).Inc()
}

// Reject counts a gate rejection.
func (m *Metrics) Reject(reason string) {
	if m == nil {
		return
	}
	m.GateRejections.WithLabelValues(reason).Inc()
}

// FetchError counts an upstream failure.
func (m *Metrics) FetchError(source string) {
	if m == nil {
		return
	}
	m.FetchErrors.WithLabelValues(source).Inc()
}

// Delivered counts per-recipient results of one alert.
func (m *Metrics) Delivered(sent, failed, retries int, d time.Duration) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues("sent").Add(float64(sent))
	m.Deliveries.WithLabelValues("failed").Add(float64(failed))
	m.DeliveryRetries.Add(float64(retries))
	m.DeliveryDur.Observe(d.Seconds())
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server. gatherer may be nil for the
// default registry.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer) *Server {
	handler := promhttp.Handler()
	if gatherer != nil {
		handler = promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handler returns the server mux, for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
