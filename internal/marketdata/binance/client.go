// Package binance adapts the Binance spot REST API to the market data and
// ticker ports used by the collector.
package binance

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"signal-enginev1/internal/model"

	"github.com/adshao/go-binance/v2"
)

// maxKlineLimit is the largest page Binance serves per klines request.
const maxKlineLimit = 1000

// Config configures the REST client. Public market data needs no keys.
type Config struct {
	APIKey    string
	APISecret string
	BaseURL   string // overrides the production endpoint, e.g. the testnet
}

// Client fetches klines and 24h ticker stats.
type Client struct {
	spot *binance.Client
}

// New creates a Client.
func New(cfg Config) *Client {
	spot := binance.NewClient(cfg.APIKey, cfg.APISecret)
	if cfg.BaseURL != "" {
		spot.BaseURL = cfg.BaseURL
	}
	return &Client{spot: spot}
}

// interval maps a Timeframe to the Binance interval string.
func interval(tf model.Timeframe) (string, error) {
	switch tf {
	case model.TF1h, model.TF4h, model.TF1d:
		return string(tf), nil
	default:
		return "", fmt.Errorf("binance: unsupported timeframe %q", tf)
	}
}

// Klines returns up to limit candles for pair, oldest first. The newest
// candle is usually still forming. Rows that do not parse are skipped.
func (c *Client) Klines(ctx context.Context, pair string, tf model.Timeframe, limit int) ([]model.Candle, error) {
	iv, err := interval(tf)
	if err != nil {
		return nil, err
	}
	limit = min(max(limit, 1), maxKlineLimit)

	klines, err := c.spot.NewKlinesService().
		Symbol(pair).
		Interval(iv).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance klines %s %s: %w", pair, iv, err)
	}

	candles := make([]model.Candle, 0, len(klines))
	skipped := 0
	for _, k := range klines {
		candle, err := toCandle(k)
		if err != nil {
			skipped++
			continue
		}
		candles = append(candles, candle)
	}
	if skipped > 0 {
		log.Printf("[binance] %s %s: skipped %d malformed klines", pair, iv, skipped)
	}
	return candles, nil
}

func toCandle(k *binance.Kline) (model.Candle, error) {
	var c model.Candle
	fields := []struct {
		s   string
		dst *float64
	}{
		{k.Open, &c.Open},
		{k.High, &c.High},
		{k.Low, &c.Low},
		{k.Close, &c.Close},
		{k.Volume, &c.Volume},
	}
	for _, f := range fields {
		v, err := strconv.ParseFloat(f.s, 64)
		if err != nil {
			return model.Candle{}, fmt.Errorf("parse kline field %q: %w", f.s, err)
		}
		*f.dst = v
	}
	if c.High < c.Low || c.Close <= 0 {
		return model.Candle{}, fmt.Errorf("inconsistent kline at %d", k.OpenTime)
	}
	c.TS = time.UnixMilli(k.OpenTime).UTC()
	return c, nil
}

// Quote returns the last price and 24h base volume of pair.
func (c *Client) Quote(ctx context.Context, pair string) (float64, float64, error) {
	stats, err := c.spot.NewListPriceChangeStatsService().Symbol(pair).Do(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("binance ticker %s: %w", pair, err)
	}
	if len(stats) == 0 {
		return 0, 0, fmt.Errorf("binance ticker %s: empty response", pair)
	}

	price, err := strconv.ParseFloat(stats[0].LastPrice, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("binance ticker %s price: %w", pair, err)
	}
	volume, err := strconv.ParseFloat(stats[0].Volume, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("binance ticker %s volume: %w", pair, err)
	}
	return price, volume, nil
}
