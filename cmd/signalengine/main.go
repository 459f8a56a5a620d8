package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"signal-enginev1/config"
	"signal-enginev1/internal/analysis"
	"signal-enginev1/internal/api"
	"signal-enginev1/internal/candlestore"
	"signal-enginev1/internal/collector"
	"signal-enginev1/internal/engine"
	"signal-enginev1/internal/gate"
	"signal-enginev1/internal/gateway"
	"signal-enginev1/internal/logger"
	"signal-enginev1/internal/marketdata/binance"
	"signal-enginev1/internal/marketdata/ws"
	"signal-enginev1/internal/metrics"
	"signal-enginev1/internal/model"
	"signal-enginev1/internal/notification"
	redisstore "signal-enginev1/internal/store/redis"
	sqlitestore "signal-enginev1/internal/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[signalengine] %v", err)
	}
	logger.Init("signalengine", logger.ParseLevel(cfg.LogLevel))
	log.Printf("[signalengine] starting: %d configured pairs, reference=%s", len(cfg.Pairs), cfg.ReferencePair)

	// ---- Setup context for graceful shutdown ----
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Metrics & health ----
	wsEnabled := cfg.BinanceWS
	redisEnabled := cfg.RedisAddr != ""
	prom := metrics.NewMetrics(nil)
	health := metrics.NewHealthStatus(wsEnabled, redisEnabled)
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health, nil)
	metricsSrv.Start()

	// ---- SQLite: signal log, subscriptions, candle archive ----
	if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
		os.MkdirAll(dir, 0o755)
	}
	store, err := sqlitestore.New(sqlitestore.Config{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[signalengine] sqlite init failed: %v", err)
	}
	defer store.Close()
	health.SetSQLiteOK(true)
	log.Printf("[signalengine] sqlite ready at %s", cfg.SQLitePath)

	// ---- Redis publisher (optional) ----
	var publisher *redisstore.Publisher
	if redisEnabled {
		cb := redisstore.NewCircuitBreaker(5, 30*time.Second)
		cb.OnStateChange = func(from, to redisstore.State) {
			prom.RedisCircuitBreakerState.Set(float64(to))
			if to == redisstore.StateOpen {
				prom.RedisCircuitBreakerTrips.Inc()
			}
			log.Printf("[redis] circuit breaker %s -> %s", from, to)
		}
		publisher, err = redisstore.New(redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			QuoteTTL: cfg.PriceTTL,
		}, cb)
		if err != nil {
			log.Printf("[signalengine] WARNING: redis init failed: %v (continuing without redis)", err)
			health.SetRedisConnected(false)
		} else {
			publisher.OnBuffer = func() { prom.RedisBufferedSignals.Inc() }
			publisher.OnFlush = func(n int) { log.Printf("[redis] replayed %d held signals", n) }
			health.SetRedisConnected(true)
		}
	}

	// ---- Periodic liveness checks ----
	if publisher != nil {
		health.StartLivenessChecker(ctx, publisher.Client(), store.DB(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, store.DB(), 10*time.Second)
	}

	// ---- Subscription events from the bot front end ----
	if publisher != nil {
		consumer := redisstore.NewConsumer(publisher.Client(), "", "")
		if err := consumer.EnsureGroup(ctx); err != nil {
			log.Printf("[signalengine] WARNING: subscription stream unavailable: %v", err)
		} else {
			go consumer.Run(ctx, store)
		}
	}

	// ---- Shared market state ----
	candles := candlestore.NewStore(cfg.CandleCap)
	candles.OnEvict = func(n int) { prom.CandlesEvicted.Add(float64(n)) }
	quotes := candlestore.NewPriceCache(cfg.PriceTTL, nil)
	pairs := engine.NewPairSet(cfg.Pairs, store)

	// ---- Gate ----
	g := gate.New(gate.Limits{
		GlobalPerDay: cfg.GlobalMaxSignalsPerDay,
		PairPerDay:   cfg.MaxSignalsPerDay,
		Cooldown:     cfg.SignalCooldown,
		DuplicatePct: cfg.PriceDuplicateThreshold,
	}, store, gate.WithLocation(cfg.Location))
	if err := g.Restore(ctx); err != nil {
		log.Printf("[signalengine] WARNING: %v (starting with an empty gate)", err)
	}

	// ---- Collector ----
	market := binance.New(binance.Config{
		APIKey:    cfg.BinanceAPIKey,
		APISecret: cfg.BinanceSecret,
		BaseURL:   cfg.BinanceBaseURL,
	})
	col := collector.New(collector.Config{
		ReferencePair: cfg.ReferencePair,
		Interval:      cfg.CollectInterval,
		Limits: map[model.Timeframe]int{
			model.TF1h: cfg.Candles1h,
			model.TF4h: cfg.Candles4h,
			model.TF1d: cfg.Candles1d,
		},
	}, pairs, market, market, candles, quotes)
	col.Metrics = prom
	col.Health = health
	if publisher != nil {
		col.Mirror = publisher
	}

	archiveCh := make(chan model.SeriesCandle, 5000)
	col.Archive = archiveCh
	archiveDone := make(chan struct{})
	go func() {
		store.RunArchive(ctx, archiveCh)
		close(archiveDone)
	}()
	col.WarmStart(ctx, store)

	// ---- Live ticker stream (optional) ----
	if wsEnabled {
		streamPairs := cfg.Pairs
		if cfg.ReferencePair != "" {
			streamPairs = append(append([]string{}, cfg.Pairs...), cfg.ReferencePair)
		}
		stream, err := ws.New(ws.Config{BaseURL: cfg.BinanceWSURL, Pairs: config.ParseList(strings.Join(streamPairs, ","))})
		if err != nil {
			log.Printf("[signalengine] WARNING: ticker stream disabled: %v", err)
		} else {
			stream.OnReconnect = func() {
				prom.WSReconnects.Inc()
				health.SetWSConnected(false)
			}
			go stream.Start(ctx, func(q model.Quote) {
				col.HandleQuote(q)
			})
			go func() {
				ticker := time.NewTicker(5 * time.Second)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						health.SetWSConnected(stream.Connected())
					}
				}
			}()
		}
	}

	// ---- Delivery ----
	var notifier notification.Notifier
	switch {
	case cfg.TelegramBotToken != "":
		notifier = notification.NewTelegramNotifier(cfg.TelegramBotToken)
		log.Println("[signalengine] delivery via telegram")
	case cfg.WebhookURL != "":
		notifier = notification.NewWebhookNotifier(cfg.WebhookURL)
		log.Printf("[signalengine] delivery via webhook %s", cfg.WebhookURL)
	default:
		notifier = notification.NewLogNotifier()
		log.Println("[signalengine] delivery via log (no TELEGRAM_BOT_TOKEN or WEBHOOK_URL)")
	}
	dispatcher := notification.NewDispatcher(notifier, notification.DispatcherConfig{
		Delay:       cfg.DeliveryDelay,
		MaxAttempts: cfg.DeliveryMaxAttempts,
	})

	// ---- Live signal feed ----
	feed := gateway.NewHub(cfg.StreamReplay)
	feed.OnClients = func(n int) { prom.StreamClients.Set(float64(n)) }
	publishers := engine.Publishers{feed}
	if publisher != nil {
		publishers = append(publishers, publisher)
	}

	// ---- Analysis loop ----
	deps := engine.Deps{
		Pairs:      pairs,
		Candles:    candles,
		Quotes:     quotes,
		Analyzer:   analysis.New(),
		Gate:       g,
		Signals:    store,
		Recipients: store,
		Delivery:   dispatcher,
		Publisher:  publishers,
		Metrics:    prom,
		Health:     health,
	}
	eng := engine.New(engine.Config{
		ReferencePair: cfg.ReferencePair,
		MinConfidence: cfg.MinConfidence,
		Interval:      cfg.AnalysisInterval,
		RotatePairs:   cfg.RotatePairs,
	}, deps)

	go col.Run(ctx)
	go eng.Run(ctx)

	// ---- Operator API ----
	apiSrv := &http.Server{
		Addr: cfg.APIAddr,
		Handler: api.NewRouter(api.Deps{
			Gate:          g,
			Signals:       store,
			Subscriptions: store,
			Health:        health,
			Stream:        feed,
			TOTPSecret:    cfg.AdminTOTPSecret,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("[api] listening on %s", cfg.APIAddr)
		if err := apiSrv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[api] server error: %v", err)
		}
	}()

	// ---- Wait for shutdown signal ----
	<-sigCh
	log.Println("[signalengine] shutdown signal received, cleaning up...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	apiSrv.Shutdown(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)

	// let the archive flush its last batch
	select {
	case <-archiveDone:
	case <-shutdownCtx.Done():
	}
	if publisher != nil {
		publisher.Close()
	}

	log.Println("[signalengine] shutdown complete.")
}

