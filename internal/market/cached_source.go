package market

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// CachedSource wraps a DataSource with the price and kline caches and the
// outbound throttle. All engine reads go through here so that redundant
// requests within a TTL window never reach the exchange.
type CachedSource struct {
	source     DataSource
	priceCache *Cache
	ohlcvCache *Cache
	throttle   *Throttle
	logger     zerolog.Logger
}

// CachedSourceConfig sizes the caches and throttle
type CachedSourceConfig struct {
	PriceTTL      time.Duration
	OHLCVTTL      time.Duration
	MaxKeys       int
	MaxConcurrent int
	MinDelay      time.Duration
	Backoff       time.Duration
}

// NewCachedSource builds the caching layer over a raw data source
func NewCachedSource(source DataSource, cfg CachedSourceConfig, logger zerolog.Logger) *CachedSource {
	return &CachedSource{
		source:     source,
		priceCache: NewCache(cfg.PriceTTL, cfg.MaxKeys),
		ohlcvCache: NewCache(cfg.OHLCVTTL, cfg.MaxKeys),
		throttle:   NewThrottle(cfg.MaxConcurrent, cfg.MinDelay, cfg.Backoff, logger),
		logger:     logger.With().Str("component", "market_data").Logger(),
	}
}

// GetPrice returns the last price for symbol, cache-first
func (cs *CachedSource) GetPrice(ctx context.Context, symbol string) (float64, error) {
	if v, ok := cs.priceCache.Get(symbol); ok {
		return v.(float64), nil
	}

	var price float64
	err := cs.throttle.Do(ctx, func(ctx context.Context) error {
		p, err := cs.source.GetPrice(ctx, symbol)
		if err != nil {
			return err
		}
		price = p
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("price fetch for %s: %w", symbol, err)
	}

	cs.priceCache.Set(symbol, price)
	return price, nil
}

// GetKlines returns the most recent candles for symbol, cache-first.
// A cached window larger than limit is truncated to the newest bars.
func (cs *CachedSource) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	key := symbol + ":" + interval
	if v, ok := cs.ohlcvCache.Get(key); ok {
		klines := v.([]Kline)
		if len(klines) >= limit {
			return klines[len(klines)-limit:], nil
		}
		// cached window too small, fall through to a fresh fetch
	}

	var klines []Kline
	err := cs.throttle.Do(ctx, func(ctx context.Context) error {
		k, err := cs.source.GetKlines(ctx, symbol, interval, limit)
		if err != nil {
			return err
		}
		klines = k
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("kline fetch for %s %s: %w", symbol, interval, err)
	}

	cs.ohlcvCache.Set(key, klines)
	return klines, nil
}

// CacheStats returns hit/miss counters for both caches
func (cs *CachedSource) CacheStats() map[string]int64 {
	ph, pm := cs.priceCache.Stats()
	oh, om := cs.ohlcvCache.Stats()
	return map[string]int64{
		"price_hits":   ph,
		"price_misses": pm,
		"ohlcv_hits":   oh,
		"ohlcv_misses": om,
	}
}
