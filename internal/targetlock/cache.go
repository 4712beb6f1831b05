package targetlock

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"crypto-autotrader/internal/ledger"
)

// lockKeyPrefix namespaces target-lock keys in Redis.
// Format: autotrader:target:{symbol}
const lockKeyPrefix = "autotrader:target:"

// Cache stores target locks in Redis so multiple engine instances agree on
// the same targets. When Redis is unavailable it falls back to an in-memory
// map and keeps trading; availability is re-probed on each write.
type Cache struct {
	client    *redis.Client
	logger    zerolog.Logger
	available atomic.Bool

	mu       sync.RWMutex
	fallback map[string]ledger.TargetLockRecord
}

// NewCache builds the lock cache. A nil client means memory-only mode.
func NewCache(client *redis.Client, logger zerolog.Logger) *Cache {
	c := &Cache{
		client:   client,
		logger:   logger.With().Str("component", "target_cache").Logger(),
		fallback: make(map[string]ledger.TargetLockRecord),
	}

	if client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			c.logger.Warn().Err(err).Msg("redis unavailable at startup, using in-memory locks")
		} else {
			c.available.Store(true)
			c.logger.Info().Msg("redis connected")
		}
	}
	return c
}

// Get returns the cached lock for a symbol, or ok=false
func (c *Cache) Get(ctx context.Context, symbol string) (ledger.TargetLockRecord, bool) {
	if c.client != nil && c.available.Load() {
		data, err := c.client.Get(ctx, lockKeyPrefix+symbol).Bytes()
		switch {
		case err == redis.Nil:
			return ledger.TargetLockRecord{}, false
		case err != nil:
			c.available.Store(false)
			c.logger.Warn().Err(err).Msg("redis read failed, falling back to memory")
		default:
			var lock ledger.TargetLockRecord
			if err := json.Unmarshal(data, &lock); err == nil {
				return lock, true
			}
			c.logger.Warn().Str("symbol", symbol).Msg("corrupt lock entry in redis, ignoring")
			return ledger.TargetLockRecord{}, false
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	lock, ok := c.fallback[symbol]
	return lock, ok
}

// Set stores the lock until its expiry. The in-memory copy is always written
// so a Redis outage never loses the current locks.
func (c *Cache) Set(ctx context.Context, lock ledger.TargetLockRecord) {
	c.mu.Lock()
	c.fallback[lock.Symbol] = lock
	c.mu.Unlock()

	if c.client == nil {
		return
	}

	ttl := time.Until(lock.ExpiresAt)
	if ttl <= 0 {
		return
	}
	data, err := json.Marshal(lock)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, lockKeyPrefix+lock.Symbol, data, ttl).Err(); err != nil {
		c.available.Store(false)
		c.logger.Warn().Err(err).Str("symbol", lock.Symbol).Msg("redis write failed")
		return
	}
	c.available.Store(true)
}

// Delete removes a symbol's lock from both stores
func (c *Cache) Delete(ctx context.Context, symbol string) {
	c.mu.Lock()
	delete(c.fallback, symbol)
	c.mu.Unlock()

	if c.client != nil && c.available.Load() {
		if err := c.client.Del(ctx, lockKeyPrefix+symbol).Err(); err != nil {
			c.available.Store(false)
			c.logger.Warn().Err(err).Str("symbol", symbol).Msg("redis delete failed")
		}
	}
}

// Available reports whether Redis is currently reachable
func (c *Cache) Available() bool {
	return c.available.Load()
}
