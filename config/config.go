package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // TIMEZONE must resolve on minimal images
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Pairs and analysis
	Pairs         []string
	ReferencePair string
	MinConfidence int
	RotatePairs   bool

	// Gate
	SignalCooldown          time.Duration
	MaxSignalsPerDay        int
	GlobalMaxSignalsPerDay  int
	PriceDuplicateThreshold float64 // percent
	Location                *time.Location

	// Market data
	Candles1h        int
	Candles4h        int
	Candles1d        int
	CandleCap        int
	PriceTTL         time.Duration
	CollectInterval  time.Duration
	AnalysisInterval time.Duration
	BinanceAPIKey    string
	BinanceSecret    string
	BinanceBaseURL   string
	BinanceWS        bool
	BinanceWSURL     string

	// Infrastructure
	RedisAddr     string // empty disables Redis
	RedisPassword string
	SQLitePath    string
	MetricsAddr   string
	APIAddr       string
	StreamReplay  int
	LogLevel      string

	// Delivery
	TelegramBotToken    string
	WebhookURL          string
	DeliveryDelay       time.Duration
	DeliveryMaxAttempts int

	// Operator API
	AdminTOTPSecret string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	tz := getEnv("TIMEZONE", "UTC")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("config: TIMEZONE %q: %w", tz, err)
	}

	cfg := &Config{
		Pairs:         ParseList(getEnv("PAIRS", "BTCUSDT,ETHUSDT,BNBUSDT,SOLUSDT,XRPUSDT")),
		ReferencePair: strings.ToUpper(getEnv("REFERENCE_PAIR", "BTCUSDT")),
		MinConfidence: getInt("MIN_CONFIDENCE", 60),
		RotatePairs:   getBool("ROTATE_PAIRS", false),

		SignalCooldown:          getSeconds("SIGNAL_COOLDOWN", 4*time.Hour),
		MaxSignalsPerDay:        getInt("MAX_SIGNALS_PER_DAY", 3),
		GlobalMaxSignalsPerDay:  getInt("GLOBAL_MAX_SIGNALS_PER_DAY", 12),
		PriceDuplicateThreshold: getFloat("PRICE_DUPLICATE_THRESHOLD", 0.5),
		Location:                loc,

		Candles1h:        getInt("CANDLES_1H", 300),
		Candles4h:        getInt("CANDLES_4H", 200),
		Candles1d:        getInt("CANDLES_1D", 100),
		CandleCap:        getInt("CANDLE_CAP", 500),
		PriceTTL:         getSeconds("PRICE_TTL", 30*time.Second),
		CollectInterval:  getSeconds("COLLECT_INTERVAL", time.Minute),
		AnalysisInterval: getSeconds("ANALYSIS_INTERVAL", time.Minute),
		BinanceAPIKey:    getEnv("BINANCE_API_KEY", ""),
		BinanceSecret:    getEnv("BINANCE_API_SECRET", ""),
		BinanceBaseURL:   getEnv("BINANCE_BASE_URL", ""),
		BinanceWS:        getBool("BINANCE_WS", true),
		BinanceWSURL:     getEnv("BINANCE_WS_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/signals.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		APIAddr:       getEnv("API_ADDR", ":8080"),
		StreamReplay:  getInt("STREAM_REPLAY", 200),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		TelegramBotToken:    getEnv("TELEGRAM_BOT_TOKEN", ""),
		WebhookURL:          getEnv("WEBHOOK_URL", ""),
		DeliveryDelay:       getMillis("DELIVERY_DELAY", 50*time.Millisecond),
		DeliveryMaxAttempts: getInt("DELIVERY_MAX_ATTEMPTS", 3),

		AdminTOTPSecret: getEnv("ADMIN_TOTP_SECRET", ""),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	positive := []struct {
		name string
		v    int
	}{
		{"MAX_SIGNALS_PER_DAY", c.MaxSignalsPerDay},
		{"GLOBAL_MAX_SIGNALS_PER_DAY", c.GlobalMaxSignalsPerDay},
		{"CANDLES_1H", c.Candles1h},
		{"CANDLES_4H", c.Candles4h},
		{"CANDLES_1D", c.Candles1d},
		{"CANDLE_CAP", c.CandleCap},
		{"DELIVERY_MAX_ATTEMPTS", c.DeliveryMaxAttempts},
	}
	for _, p := range positive {
		if p.v <= 0 {
			return fmt.Errorf("config: %s must be positive, got %d", p.name, p.v)
		}
	}
	if len(c.Pairs) == 0 {
		return fmt.Errorf("config: PAIRS is empty")
	}
	if c.MinConfidence < 0 || c.MinConfidence > 100 {
		return fmt.Errorf("config: MIN_CONFIDENCE must be within 0..100, got %d", c.MinConfidence)
	}
	if c.PriceDuplicateThreshold < 0 {
		return fmt.Errorf("config: PRICE_DUPLICATE_THRESHOLD must not be negative")
	}
	if c.CollectInterval <= 0 || c.AnalysisInterval <= 0 || c.PriceTTL <= 0 {
		return fmt.Errorf("config: intervals and PRICE_TTL must be positive")
	}
	if c.CandleCap < c.Candles1h || c.CandleCap < c.Candles4h || c.CandleCap < c.Candles1d {
		log.Printf("[config] CANDLE_CAP=%d is below a fetch size, older candles will be evicted", c.CandleCap)
	}
	return nil
}

// ParseList splits a comma-separated list, trimming and upper-casing entries
// and dropping blanks and repeats.
func ParseList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]bool, len(parts))
	for _, p := range parts {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %g", key, v, fallback)
		return fallback
	}
	return f
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return b
}

// getSeconds reads a whole number of seconds; Go duration strings ("90s",
// "4h") are accepted too.
func getSeconds(key string, fallback time.Duration) time.Duration {
	return getDuration(key, time.Second, fallback)
}

// getMillis reads a whole number of milliseconds or a Go duration string.
func getMillis(key string, fallback time.Duration) time.Duration {
	return getDuration(key, time.Millisecond, fallback)
}

func getDuration(key string, unit, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * unit
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %s", key, v, fallback)
		return fallback
	}
	return d
}
