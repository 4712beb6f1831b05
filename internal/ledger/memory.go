package ledger

import (
	"context"
	"sync"
)

// MemoryLedger keeps trades and target locks in memory. Used for dry runs
// and tests; everything is lost on restart.
type MemoryLedger struct {
	mu     sync.Mutex
	trades []TradeRecord
	locks  map[string]TargetLockRecord
	nextID int64
}

// NewMemoryLedger returns an empty in-memory ledger
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		locks:  make(map[string]TargetLockRecord),
		nextID: 1,
	}
}

func (l *MemoryLedger) RecordTrade(_ context.Context, trade TradeRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	trade.ID = l.nextID
	l.nextID++
	l.trades = append(l.trades, trade)
	return nil
}

func (l *MemoryLedger) RecentTrades(_ context.Context, symbol string, limit int) ([]TradeRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}

	var out []TradeRecord
	for i := len(l.trades) - 1; i >= 0 && len(out) < limit; i-- {
		if symbol == "" || l.trades[i].Symbol == symbol {
			out = append(out, l.trades[i])
		}
	}
	return out, nil
}

func (l *MemoryLedger) SaveTargetLock(_ context.Context, lock TargetLockRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.locks[lock.Symbol] = lock
	return nil
}

func (l *MemoryLedger) GetTargetLock(_ context.Context, symbol string) (TargetLockRecord, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[symbol]
	return lock, ok, nil
}

func (l *MemoryLedger) DeleteTargetLock(_ context.Context, symbol string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.locks, symbol)
	return nil
}

func (l *MemoryLedger) Close() {}
