// Package targetlock keeps buy-target prices stable. Once a target is
// computed for a symbol it is locked for a fixed window so small market
// wobbles cannot thrash the displayed target; only expiry or a material
// adverse move forces a recalculation.
package targetlock

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"crypto-autotrader/config"
	"crypto-autotrader/internal/ledger"
)

// Scorer computes a buy-target price below the current market price
type Scorer interface {
	TargetPrice(ctx context.Context, symbol string, price float64) (float64, error)
}

// Manager resolves target prices through the lock. Lookup order is the
// shared cache, then the ledger; a miss or an invalidated lock recomputes
// through the scorer. GetLockedTarget never fails: when the scorer is
// unavailable a fixed discount off the current price is used.
type Manager struct {
	cfg    config.TargetConfig
	cache  *Cache
	store  ledger.Ledger
	scorer Scorer
	logger zerolog.Logger
	now    func() time.Time

	// mu makes the lookup-compute-save sequence atomic: concurrent callers
	// resolving the same missing or invalidated lock must agree on one
	// target, not each compute their own
	mu sync.Mutex
}

// NewManager builds a target-lock manager
func NewManager(cfg config.TargetConfig, cache *Cache, store ledger.Ledger, scorer Scorer, logger zerolog.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		cache:  cache,
		store:  store,
		scorer: scorer,
		logger: logger.With().Str("component", "target_lock").Logger(),
		now:    time.Now,
	}
}

// GetLockedTarget returns the target price for a symbol and whether it came
// from an existing lock. A fresh computation returns locked=false and starts
// a new lock window.
func (m *Manager) GetLockedTarget(ctx context.Context, symbol string, price float64) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if lock, ok := m.lookup(ctx, symbol); ok {
		if m.valid(lock, price) {
			return lock.TargetPrice, true
		}
		m.logger.Info().
			Str("symbol", symbol).
			Float64("price", price).
			Float64("original_price", lock.OriginalPrice).
			Time("expires_at", lock.ExpiresAt).
			Msg("target lock invalidated, recomputing")
	}

	target := m.compute(ctx, symbol, price)
	m.save(ctx, symbol, target, price)
	return target, false
}

// Locks returns every currently valid lock known to the ledger, for the API
func (m *Manager) Locks(ctx context.Context, symbols []string) []ledger.TargetLockRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []ledger.TargetLockRecord
	for _, symbol := range symbols {
		lock, ok := m.lookup(ctx, symbol)
		if ok && m.now().Before(lock.ExpiresAt) {
			out = append(out, lock)
		}
	}
	return out
}

// Invalidate drops a symbol's lock so the next request recomputes
func (m *Manager) Invalidate(ctx context.Context, symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cache.Delete(ctx, symbol)
	if m.store != nil {
		if err := m.store.DeleteTargetLock(ctx, symbol); err != nil {
			m.logger.Warn().Err(err).Str("symbol", symbol).Msg("failed to delete persisted lock")
		}
	}
}

func (m *Manager) lookup(ctx context.Context, symbol string) (ledger.TargetLockRecord, bool) {
	if lock, ok := m.cache.Get(ctx, symbol); ok {
		return lock, true
	}
	if m.store == nil {
		return ledger.TargetLockRecord{}, false
	}
	lock, ok, err := m.store.GetTargetLock(ctx, symbol)
	if err != nil {
		m.logger.Warn().Err(err).Str("symbol", symbol).Msg("ledger lock lookup failed")
		return ledger.TargetLockRecord{}, false
	}
	if ok {
		m.cache.Set(ctx, lock)
	}
	return lock, ok
}

// valid reports whether an existing lock may keep serving. A lock dies on
// expiry or when price falls more than the adverse-move fraction below the
// price the target was computed from.
func (m *Manager) valid(lock ledger.TargetLockRecord, price float64) bool {
	if !m.now().Before(lock.ExpiresAt) {
		return false
	}
	if lock.OriginalPrice <= 0 {
		return false
	}
	return price >= lock.OriginalPrice*(1-m.cfg.AdverseMovePct)
}

func (m *Manager) compute(ctx context.Context, symbol string, price float64) float64 {
	if m.scorer != nil {
		target, err := m.scorer.TargetPrice(ctx, symbol, price)
		if err == nil && target > 0 {
			return target
		}
		m.logger.Warn().Err(err).Str("symbol", symbol).Msg("scorer unavailable, using fallback target")
	}
	return price * (1 - m.cfg.FallbackDiscount)
}

func (m *Manager) save(ctx context.Context, symbol string, target, price float64) {
	now := m.now()
	var discountPct float64
	if price > 0 {
		discountPct = (price - target) / price * 100
	}
	lock := ledger.TargetLockRecord{
		Symbol:        symbol,
		TargetPrice:   target,
		OriginalPrice: price,
		DiscountPct:   discountPct,
		LockedAt:      now,
		ExpiresAt:     now.Add(time.Duration(m.cfg.LockHours) * time.Hour),
	}
	m.cache.Set(ctx, lock)
	if m.store != nil {
		if err := m.store.SaveTargetLock(ctx, lock); err != nil {
			m.logger.Warn().Err(err).Str("symbol", symbol).Msg("failed to persist target lock")
		}
	}
}

// SetClock overrides the manager's clock; used by tests
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}
