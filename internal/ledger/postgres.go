package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"crypto-autotrader/config"
)

// PostgresLedger persists trades and target locks in PostgreSQL
type PostgresLedger struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewPostgresLedger connects to the database, runs migrations and returns
// the ledger
func NewPostgresLedger(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (*PostgresLedger, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	l := &PostgresLedger{
		pool:   pool,
		logger: logger.With().Str("component", "ledger").Logger(),
	}
	if err := l.migrate(connectCtx); err != nil {
		pool.Close()
		return nil, err
	}

	l.logger.Info().Str("database", cfg.Database).Msg("connected to postgres ledger")
	return l, nil
}

func (l *PostgresLedger) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id BIGSERIAL PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			side VARCHAR(4) NOT NULL,
			price DECIMAL(20, 8) NOT NULL,
			quantity DECIMAL(20, 8) NOT NULL,
			pnl DECIMAL(20, 8) NOT NULL DEFAULT 0,
			event_kind VARCHAR(20) NOT NULL,
			confidence DECIMAL(5, 4),
			order_id VARCHAR(64),
			executed_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_executed_at ON trades(executed_at DESC)`,

		`CREATE TABLE IF NOT EXISTS target_locks (
			symbol VARCHAR(20) PRIMARY KEY,
			target_price DECIMAL(20, 8) NOT NULL,
			original_price DECIMAL(20, 8) NOT NULL,
			discount_percent DECIMAL(10, 6) NOT NULL DEFAULT 0,
			locked_at TIMESTAMP NOT NULL,
			expires_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_target_locks_expires_at ON target_locks(expires_at)`,
	}

	for i, migration := range migrations {
		if _, err := l.pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}

// RecordTrade appends an executed trade
func (l *PostgresLedger) RecordTrade(ctx context.Context, trade TradeRecord) error {
	_, err := l.pool.Exec(ctx,
		`INSERT INTO trades (symbol, side, price, quantity, pnl, event_kind, confidence, order_id, executed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		trade.Symbol, trade.Side, trade.Price, trade.Quantity, trade.PnL,
		trade.EventKind, trade.Confidence, trade.OrderID, trade.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record trade for %s: %w", trade.Symbol, err)
	}
	return nil
}

// RecentTrades returns up to limit trades, newest first. An empty symbol
// matches every symbol.
func (l *PostgresLedger) RecentTrades(ctx context.Context, symbol string, limit int) ([]TradeRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, symbol, side, price, quantity, pnl, event_kind, confidence, order_id, executed_at
		 FROM trades WHERE ($1 = '' OR symbol = $1)
		 ORDER BY executed_at DESC LIMIT $2`
	rows, err := l.pool.Query(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []TradeRecord
	for rows.Next() {
		var t TradeRecord
		if err := rows.Scan(&t.ID, &t.Symbol, &t.Side, &t.Price, &t.Quantity,
			&t.PnL, &t.EventKind, &t.Confidence, &t.OrderID, &t.ExecutedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// SaveTargetLock upserts the lock for a symbol
func (l *PostgresLedger) SaveTargetLock(ctx context.Context, lock TargetLockRecord) error {
	_, err := l.pool.Exec(ctx,
		`INSERT INTO target_locks (symbol, target_price, original_price, discount_percent, locked_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (symbol) DO UPDATE SET
			target_price = EXCLUDED.target_price,
			original_price = EXCLUDED.original_price,
			discount_percent = EXCLUDED.discount_percent,
			locked_at = EXCLUDED.locked_at,
			expires_at = EXCLUDED.expires_at`,
		lock.Symbol, lock.TargetPrice, lock.OriginalPrice, lock.DiscountPct, lock.LockedAt, lock.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save target lock for %s: %w", lock.Symbol, err)
	}
	return nil
}

// GetTargetLock returns the stored lock, or ok=false when none exists
func (l *PostgresLedger) GetTargetLock(ctx context.Context, symbol string) (TargetLockRecord, bool, error) {
	var lock TargetLockRecord
	err := l.pool.QueryRow(ctx,
		`SELECT symbol, target_price, original_price, discount_percent, locked_at, expires_at
		 FROM target_locks WHERE symbol = $1`, symbol,
	).Scan(&lock.Symbol, &lock.TargetPrice, &lock.OriginalPrice, &lock.DiscountPct, &lock.LockedAt, &lock.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return TargetLockRecord{}, false, nil
	}
	if err != nil {
		return TargetLockRecord{}, false, fmt.Errorf("failed to query target lock for %s: %w", symbol, err)
	}
	return lock, true, nil
}

// DeleteTargetLock removes a symbol's lock
func (l *PostgresLedger) DeleteTargetLock(ctx context.Context, symbol string) error {
	if _, err := l.pool.Exec(ctx, `DELETE FROM target_locks WHERE symbol = $1`, symbol); err != nil {
		return fmt.Errorf("failed to delete target lock for %s: %w", symbol, err)
	}
	return nil
}

// HealthCheck pings the database
func (l *PostgresLedger) HealthCheck(ctx context.Context) error {
	return l.pool.Ping(ctx)
}

// Close releases the connection pool
func (l *PostgresLedger) Close() {
	l.pool.Close()
	l.logger.Info().Msg("postgres ledger closed")
}
