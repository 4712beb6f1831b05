package market

import "context"

// DataSource supplies prices and candles. Implementations must be safe for
// concurrent use; the engine shares one source across all symbol workers.
// The concrete exchange wire client lives outside this module.
type DataSource interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error)
}

// FastFeed optionally supplies a finer-granularity recent low for the crash
// exit wick check. When no fast feed is wired the check is skipped.
type FastFeed interface {
	RecentLow(ctx context.Context, symbol string) (float64, error)
}
