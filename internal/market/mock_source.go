package market

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// MockSource provides simulated market data for dry-run mode and development
// when no exchange client is wired.
type MockSource struct {
	mu         sync.RWMutex
	prices     map[string]float64
	lastUpdate time.Time
	rng        *rand.Rand
}

// NewMockSource creates a mock source seeded with realistic base prices
func NewMockSource() *MockSource {
	return &MockSource{
		prices: map[string]float64{
			"BTCUSDT": 104500.00,
			"ETHUSDT": 3900.00,
			"BNBUSDT": 710.00,
			"SOLUSDT": 220.00,
			"XRPUSDT": 2.35,
			"ADAUSDT": 1.05,
		},
		lastUpdate: time.Now(),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// updatePrices applies a small random walk, at most once per second
func (m *MockSource) updatePrices() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if time.Since(m.lastUpdate) < time.Second {
		return
	}
	for symbol, price := range m.prices {
		change := (m.rng.Float64() - 0.5) * 0.01 // -0.5% to +0.5%
		m.prices[symbol] = price * (1 + change)
	}
	m.lastUpdate = time.Now()
}

// GetPrice returns the simulated last price for symbol
func (m *MockSource) GetPrice(_ context.Context, symbol string) (float64, error) {
	m.updatePrices()

	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.prices[symbol]; ok {
		return p, nil
	}
	return 100.0, nil
}

// GetKlines synthesizes a random-walk candle window ending at the current price
func (m *MockSource) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	price, err := m.GetPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	step := intervalMillis(interval)
	now := time.Now().UnixMilli()
	klines := make([]Kline, limit)

	// Walk backwards from the current price so the latest close matches it
	p := price
	for i := limit - 1; i >= 0; i-- {
		open := p * (1 + (m.rng.Float64()-0.5)*0.004)
		high := maxFloat(open, p) * (1 + m.rng.Float64()*0.002)
		low := minFloat(open, p) * (1 - m.rng.Float64()*0.002)
		openTime := now - int64(limit-i)*step
		klines[i] = Kline{
			OpenTime:  openTime,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     p,
			Volume:    1000 + m.rng.Float64()*5000,
			CloseTime: openTime + step - 1,
		}
		p = open
	}
	return klines, nil
}

func intervalMillis(interval string) int64 {
	switch interval {
	case "1m":
		return 60_000
	case "5m":
		return 300_000
	case "15m":
		return 900_000
	case "1h":
		return 3_600_000
	case "4h":
		return 14_400_000
	case "1d":
		return 86_400_000
	default:
		return 300_000
	}
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
