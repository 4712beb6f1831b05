package targetlock

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"crypto-autotrader/config"
	"crypto-autotrader/internal/ledger"
	"crypto-autotrader/internal/logging"
)

type stubScorer struct {
	target float64
	err    error
	calls  int
}

func (s *stubScorer) TargetPrice(context.Context, string, float64) (float64, error) {
	s.calls++
	return s.target, s.err
}

func testManager(scorer Scorer) (*Manager, *ledger.MemoryLedger) {
	store := ledger.NewMemoryLedger()
	cache := NewCache(nil, logging.Nop())
	m := NewManager(config.Default().TargetConfig, cache, store, scorer, logging.Nop())
	return m, store
}

func TestFreshTargetStartsLock(t *testing.T) {
	scorer := &stubScorer{target: 97.5}
	m, store := testManager(scorer)
	ctx := context.Background()

	target, locked := m.GetLockedTarget(ctx, "BTCUSDT", 100)
	if locked {
		t.Error("first computation must not report an existing lock")
	}
	if target != 97.5 {
		t.Errorf("target = %v, want the scorer's 97.5", target)
	}

	lock, ok, err := store.GetTargetLock(ctx, "BTCUSDT")
	if err != nil || !ok {
		t.Fatalf("lock must be persisted: ok=%v err=%v", ok, err)
	}
	if lock.TargetPrice != 97.5 || lock.OriginalPrice != 100 {
		t.Errorf("persisted lock = %+v", lock)
	}
	if math.Abs(lock.DiscountPct-2.5) > 1e-9 {
		t.Errorf("discount = %v%%, want 2.5%% (97.5 off 100)", lock.DiscountPct)
	}
}

func TestLockHoldsAgainstDrift(t *testing.T) {
	scorer := &stubScorer{target: 97.5}
	m, _ := testManager(scorer)
	ctx := context.Background()

	m.GetLockedTarget(ctx, "BTCUSDT", 100)

	// Small wobbles, up and slightly down, keep serving the locked value
	for _, price := range []float64{101, 99, 96, 103} {
		target, locked := m.GetLockedTarget(ctx, "BTCUSDT", price)
		if !locked || target != 97.5 {
			t.Errorf("price %v: target=%v locked=%v, want the held 97.5", price, target, locked)
		}
	}
	if scorer.calls != 1 {
		t.Errorf("scorer called %d times, want exactly 1 while locked", scorer.calls)
	}
}

func TestAdverseMoveRecomputes(t *testing.T) {
	scorer := &stubScorer{target: 97.5}
	m, _ := testManager(scorer) // adverse move 5%
	ctx := context.Background()

	m.GetLockedTarget(ctx, "BTCUSDT", 100)

	scorer.target = 90
	target, locked := m.GetLockedTarget(ctx, "BTCUSDT", 94) // 6% below original
	if locked {
		t.Error("a 6% adverse move must invalidate the lock")
	}
	if target != 90 {
		t.Errorf("target = %v, want the recomputed 90", target)
	}
	if scorer.calls != 2 {
		t.Errorf("scorer calls = %d, want 2", scorer.calls)
	}
}

func TestExpiryRecomputes(t *testing.T) {
	scorer := &stubScorer{target: 97.5}
	m, _ := testManager(scorer) // 24h lock
	ctx := context.Background()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return now })

	m.GetLockedTarget(ctx, "BTCUSDT", 100)

	now = now.Add(23 * time.Hour)
	if _, locked := m.GetLockedTarget(ctx, "BTCUSDT", 100); !locked {
		t.Error("lock must hold inside the 24h window")
	}

	now = now.Add(2 * time.Hour)
	if _, locked := m.GetLockedTarget(ctx, "BTCUSDT", 100); locked {
		t.Error("lock must expire after 24h")
	}
	if scorer.calls != 2 {
		t.Errorf("scorer calls = %d, want 2", scorer.calls)
	}
}

func TestScorerFailureFallsBack(t *testing.T) {
	scorer := &stubScorer{err: errors.New("scorer down")}
	m, _ := testManager(scorer) // fallback discount 2%

	target, locked := m.GetLockedTarget(context.Background(), "BTCUSDT", 100)
	if locked {
		t.Error("fallback computation is a fresh lock")
	}
	if math.Abs(target-98) > 1e-9 {
		t.Errorf("target = %v, want the 98 fallback", target)
	}
}

func TestNilScorerFallsBack(t *testing.T) {
	m, _ := testManager(nil)
	target, _ := m.GetLockedTarget(context.Background(), "ETHUSDT", 50)
	if math.Abs(target-49) > 1e-9 {
		t.Errorf("target = %v, want 49 with a 2%% fallback discount", target)
	}
}

func TestInvalidateDropsLock(t *testing.T) {
	scorer := &stubScorer{target: 97.5}
	m, store := testManager(scorer)
	ctx := context.Background()

	m.GetLockedTarget(ctx, "BTCUSDT", 100)
	m.Invalidate(ctx, "BTCUSDT")

	if _, ok, _ := store.GetTargetLock(ctx, "BTCUSDT"); ok {
		t.Error("invalidate must remove the persisted lock")
	}
	if _, locked := m.GetLockedTarget(ctx, "BTCUSDT", 100); locked {
		t.Error("the next lookup after invalidation must recompute")
	}
}

// slowScorer hands out a lower target on every call, so two computations for
// the same symbol are guaranteed to disagree. The delay widens the window in
// which a second caller could slip past the lookup.
type slowScorer struct {
	mu    sync.Mutex
	next  float64
	calls int
}

func (s *slowScorer) TargetPrice(context.Context, string, float64) (float64, error) {
	s.mu.Lock()
	target := s.next
	s.next--
	s.calls++
	s.mu.Unlock()
	time.Sleep(10 * time.Millisecond)
	return target, nil
}

func TestConcurrentResolutionAgreesOnOneTarget(t *testing.T) {
	scorer := &slowScorer{next: 99}
	m, _ := testManager(scorer)
	ctx := context.Background()

	const callers = 8
	targets := make([]float64, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			targets[i], _ = m.GetLockedTarget(ctx, "BTCUSDT", 100)
		}(i)
	}
	wg.Wait()

	for i, target := range targets {
		if target != 99 {
			t.Errorf("caller %d got target %v, want the single computed 99", i, target)
		}
	}
	scorer.mu.Lock()
	calls := scorer.calls
	scorer.mu.Unlock()
	if calls != 1 {
		t.Errorf("scorer called %d times, want exactly 1 for one symbol", calls)
	}
}

func TestLedgerSeedsCacheAcrossRestart(t *testing.T) {
	scorer := &stubScorer{target: 97.5}
	m, store := testManager(scorer)
	ctx := context.Background()
	m.GetLockedTarget(ctx, "BTCUSDT", 100)

	// Fresh manager sharing the ledger: the persisted lock keeps serving
	m2 := NewManager(config.Default().TargetConfig, NewCache(nil, logging.Nop()), store, scorer, logging.Nop())
	target, locked := m2.GetLockedTarget(ctx, "BTCUSDT", 100)
	if !locked || target != 97.5 {
		t.Errorf("target=%v locked=%v, want the persisted 97.5", target, locked)
	}
}
