package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the root configuration for the trading engine
type Config struct {
	TradingConfig  TradingConfig  `json:"trading"`
	StrategyConfig StrategyConfig `json:"strategy"`
	RiskConfig     RiskConfig     `json:"risk"`
	RebuyConfig    RebuyConfig    `json:"rebuy"`
	CacheConfig    CacheConfig    `json:"cache"`
	ThrottleConfig ThrottleConfig `json:"throttle"`
	TargetConfig   TargetConfig   `json:"target_lock"`
	ServerConfig   ServerConfig   `json:"server"`
	DatabaseConfig DatabaseConfig `json:"database"`
	RedisConfig    RedisConfig    `json:"redis"`
	LoggingConfig  LoggingConfig  `json:"logging"`
}

// TradingConfig holds the orchestrator-level settings
type TradingConfig struct {
	Symbols         []string `json:"symbols"`           // e.g. ["BTCUSDT", "ETHUSDT"]
	Timeframe       string   `json:"timeframe"`         // candle interval, e.g. "1m", "5m", "1h"
	StartingEquity  float64  `json:"starting_equity"`   // quote-currency equity the engine starts with
	PositionSizePct float64  `json:"position_size_pct"` // fraction of equity allocated per entry (0-1)
	MaxNotional     float64  `json:"max_notional"`      // ceiling in quote currency for a normal entry
	DryRun          bool     `json:"dry_run"`           // paper execution, no real orders
	ErrorCooldown   int      `json:"error_cooldown_sec"`
	CallTimeout     int      `json:"call_timeout_sec"` // wall-clock timeout for outbound calls
}

// StrategyConfig holds signal generator parameters
type StrategyConfig struct {
	BBPeriod           int     `json:"bb_period"`  // Bollinger band period
	BBStdDev           float64 `json:"bb_std_dev"` // Bollinger band width in std devs
	ATRPeriod          int     `json:"atr_period"` // ATR lookback
	RSIPeriod          int     `json:"rsi_period"` // RSI lookback
	StopLossPct        float64 `json:"stop_loss_pct"`
	TakeProfitPct      float64 `json:"take_profit_pct"`
	CrashATRMult       float64 `json:"crash_atr_mult"`       // peak-to-price drop in ATR multiples that triggers a crash exit
	CrashDDPct         float64 `json:"crash_dd_pct"`         // peak drawdown fraction that triggers a crash exit
	CrashRequireProfit bool    `json:"crash_require_profit"` // only crash-exit when price clears entry cost + fees
	CrashMinProfitPct  float64 `json:"crash_min_profit_pct"` // minimum margin above breakeven for a profit-gated crash exit
	FastATRMult        float64 `json:"fast_atr_mult"`        // wick-breach multiple for the fast-feed check
	FeePct             float64 `json:"fee_pct"`              // per-side exchange fee fraction
	SlippagePct        float64 `json:"slippage_pct"`         // assumed slippage fraction per fill
}

// RebuyConfig holds crash-recovery re-entry parameters
type RebuyConfig struct {
	Mode            string  `json:"mode"`              // "confirmation" or "knife"
	CooldownMinutes int     `json:"cooldown_minutes"`  // wait after a crash exit before a rebuy may fire
	MaxNotional     float64 `json:"max_notional"`      // ceiling in quote currency for a rebuy entry
	Dynamic         bool    `json:"dynamic"`           // re-derive the rebuy price each evaluation
	LowLookback     int     `json:"low_lookback"`      // bars scanned for the confirmation-mode recent low
}

// RiskConfig holds portfolio-level limits
type RiskConfig struct {
	MaxDailyLossPct          float64 `json:"max_daily_loss_pct"`           // fraction of equity; daily halt threshold
	MaxSinglePositionRiskPct float64 `json:"max_single_position_risk_pct"` // per-position risk cap as fraction of equity
	MaxPositionPct           float64 `json:"max_position_pct"`             // max notional as fraction of equity
	MinNotional              float64 `json:"min_notional"`                 // reject positions below this quote value
}

// CacheConfig bounds the market data caches
type CacheConfig struct {
	PriceTTL int `json:"price_cache_ttl_sec"`
	OHLCVTTL int `json:"ohlcv_cache_ttl_sec"`
	MaxKeys  int `json:"max_cache_keys"`
}

// ThrottleConfig bounds outbound calls to the exchange
type ThrottleConfig struct {
	MaxConcurrent int     `json:"max_outbound_calls"`
	MinDelaySec   float64 `json:"min_call_delay_sec"`
	BackoffSec    float64 `json:"rate_limit_backoff_sec"`
}

// TargetConfig holds target price lock parameters
type TargetConfig struct {
	LockHours        int     `json:"lock_hours"`        // lock window length
	AdverseMovePct   float64 `json:"adverse_move_pct"`  // drop below original price that forces recalculation
	FallbackDiscount float64 `json:"fallback_discount"` // discount applied when the scorer is unavailable
}

// ServerConfig holds the operations API settings
type ServerConfig struct {
	Enabled        bool   `json:"enabled"`
	Host           string `json:"host"`
	Port           int    `json:"port"`
	AllowedOrigins string `json:"allowed_origins"`
}

// DatabaseConfig holds the PostgreSQL ledger settings
type DatabaseConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// RedisConfig holds the shared target-lock cache settings
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// LoggingConfig controls structured logging output
type LoggingConfig struct {
	Level      string `json:"level"`       // debug, info, warn, error
	JSONFormat bool   `json:"json_format"` // JSON output instead of console
}

// Default returns a config with safe defaults for every knob
func Default() *Config {
	return &Config{
		TradingConfig: TradingConfig{
			Symbols:         []string{"BTCUSDT"},
			Timeframe:       "5m",
			StartingEquity:  10000,
			PositionSizePct: 0.10,
			MaxNotional:     2000,
			DryRun:          true,
			ErrorCooldown:   10,
			CallTimeout:     10,
		},
		StrategyConfig: StrategyConfig{
			BBPeriod:           20,
			BBStdDev:           2.0,
			ATRPeriod:          14,
			RSIPeriod:          14,
			StopLossPct:        0.02,
			TakeProfitPct:      0.03,
			CrashATRMult:       3.0,
			CrashDDPct:         0.05,
			CrashRequireProfit: false,
			CrashMinProfitPct:  0.002,
			FastATRMult:        2.5,
			FeePct:             0.001,
			SlippagePct:        0.0005,
		},
		RebuyConfig: RebuyConfig{
			Mode:            "confirmation",
			CooldownMinutes: 15,
			MaxNotional:     1000,
			Dynamic:         true,
			LowLookback:     5,
		},
		RiskConfig: RiskConfig{
			MaxDailyLossPct:          0.05,
			MaxSinglePositionRiskPct: 0.10,
			MaxPositionPct:           0.20,
			MinNotional:              50,
		},
		CacheConfig: CacheConfig{
			PriceTTL: 3,
			OHLCVTTL: 60,
			MaxKeys:  200,
		},
		ThrottleConfig: ThrottleConfig{
			MaxConcurrent: 2,
			MinDelaySec:   0.5,
			BackoffSec:    2.0,
		},
		TargetConfig: TargetConfig{
			LockHours:        24,
			AdverseMovePct:   0.05,
			FallbackDiscount: 0.02,
		},
		ServerConfig: ServerConfig{
			Enabled:        true,
			Host:           "0.0.0.0",
			Port:           8080,
			AllowedOrigins: "*",
		},
		DatabaseConfig: DatabaseConfig{
			Enabled:  false,
			Host:     "localhost",
			Port:     5432,
			User:     "trader",
			Database: "autotrader",
			SSLMode:  "disable",
		},
		RedisConfig: RedisConfig{
			Enabled:  false,
			Address:  "localhost:6379",
			PoolSize: 10,
		},
		LoggingConfig: LoggingConfig{
			Level:      "info",
			JSONFormat: false,
		},
	}
}

// Load reads config.json if present, then applies environment overrides
func Load() (*Config, error) {
	cfg := Default()

	path := getEnvOrDefault("CONFIG_FILE", "config.json")
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	// Trading
	if v := os.Getenv("TRADING_SYMBOLS"); v != "" {
		parts := strings.Split(v, ",")
		symbols := make([]string, 0, len(parts))
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				symbols = append(symbols, strings.ToUpper(s))
			}
		}
		if len(symbols) > 0 {
			cfg.TradingConfig.Symbols = symbols
		}
	}
	cfg.TradingConfig.Timeframe = getEnvOrDefault("TRADING_TIMEFRAME", cfg.TradingConfig.Timeframe)
	cfg.TradingConfig.StartingEquity = getEnvFloatOrDefault("TRADING_STARTING_EQUITY", cfg.TradingConfig.StartingEquity)
	cfg.TradingConfig.PositionSizePct = getEnvFloatOrDefault("TRADING_POSITION_SIZE_PCT", cfg.TradingConfig.PositionSizePct)
	cfg.TradingConfig.MaxNotional = getEnvFloatOrDefault("TRADING_MAX_NOTIONAL", cfg.TradingConfig.MaxNotional)
	cfg.TradingConfig.DryRun = getEnvBoolOrDefault("TRADING_DRY_RUN", cfg.TradingConfig.DryRun)
	cfg.TradingConfig.ErrorCooldown = getEnvIntOrDefault("TRADING_ERROR_COOLDOWN_SEC", cfg.TradingConfig.ErrorCooldown)
	cfg.TradingConfig.CallTimeout = getEnvIntOrDefault("TRADING_CALL_TIMEOUT_SEC", cfg.TradingConfig.CallTimeout)

	// Strategy
	cfg.StrategyConfig.BBPeriod = getEnvIntOrDefault("BB_PERIOD", cfg.StrategyConfig.BBPeriod)
	cfg.StrategyConfig.BBStdDev = getEnvFloatOrDefault("BB_STD_DEV", cfg.StrategyConfig.BBStdDev)
	cfg.StrategyConfig.ATRPeriod = getEnvIntOrDefault("ATR_PERIOD", cfg.StrategyConfig.ATRPeriod)
	cfg.StrategyConfig.RSIPeriod = getEnvIntOrDefault("RSI_PERIOD", cfg.StrategyConfig.RSIPeriod)
	cfg.StrategyConfig.StopLossPct = getEnvFloatOrDefault("STOP_LOSS_PCT", cfg.StrategyConfig.StopLossPct)
	cfg.StrategyConfig.TakeProfitPct = getEnvFloatOrDefault("TAKE_PROFIT_PCT", cfg.StrategyConfig.TakeProfitPct)
	cfg.StrategyConfig.CrashATRMult = getEnvFloatOrDefault("CRASH_ATR_MULT", cfg.StrategyConfig.CrashATRMult)
	cfg.StrategyConfig.CrashDDPct = getEnvFloatOrDefault("CRASH_DD_PCT", cfg.StrategyConfig.CrashDDPct)
	cfg.StrategyConfig.CrashRequireProfit = getEnvBoolOrDefault("CRASH_REQUIRE_PROFIT", cfg.StrategyConfig.CrashRequireProfit)
	cfg.StrategyConfig.CrashMinProfitPct = getEnvFloatOrDefault("CRASH_MIN_PROFIT_PCT", cfg.StrategyConfig.CrashMinProfitPct)
	cfg.StrategyConfig.FastATRMult = getEnvFloatOrDefault("FAST_ATR_MULT", cfg.StrategyConfig.FastATRMult)
	cfg.StrategyConfig.FeePct = getEnvFloatOrDefault("FEE_PCT", cfg.StrategyConfig.FeePct)
	cfg.StrategyConfig.SlippagePct = getEnvFloatOrDefault("SLIPPAGE_PCT", cfg.StrategyConfig.SlippagePct)

	// Rebuy
	cfg.RebuyConfig.Mode = getEnvOrDefault("REBUY_MODE", cfg.RebuyConfig.Mode)
	cfg.RebuyConfig.CooldownMinutes = getEnvIntOrDefault("REBUY_COOLDOWN_MINUTES", cfg.RebuyConfig.CooldownMinutes)
	cfg.RebuyConfig.MaxNotional = getEnvFloatOrDefault("REBUY_MAX_NOTIONAL", cfg.RebuyConfig.MaxNotional)
	cfg.RebuyConfig.Dynamic = getEnvBoolOrDefault("REBUY_DYNAMIC", cfg.RebuyConfig.Dynamic)
	cfg.RebuyConfig.LowLookback = getEnvIntOrDefault("REBUY_LOW_LOOKBACK", cfg.RebuyConfig.LowLookback)

	// Risk
	cfg.RiskConfig.MaxDailyLossPct = getEnvFloatOrDefault("MAX_DAILY_LOSS_PCT", cfg.RiskConfig.MaxDailyLossPct)
	cfg.RiskConfig.MaxSinglePositionRiskPct = getEnvFloatOrDefault("MAX_SINGLE_POSITION_RISK_PCT", cfg.RiskConfig.MaxSinglePositionRiskPct)
	cfg.RiskConfig.MaxPositionPct = getEnvFloatOrDefault("MAX_POSITION_PCT", cfg.RiskConfig.MaxPositionPct)
	cfg.RiskConfig.MinNotional = getEnvFloatOrDefault("MIN_NOTIONAL", cfg.RiskConfig.MinNotional)

	// Cache / throttle
	cfg.CacheConfig.PriceTTL = getEnvIntOrDefault("PRICE_CACHE_TTL_SEC", cfg.CacheConfig.PriceTTL)
	cfg.CacheConfig.OHLCVTTL = getEnvIntOrDefault("OHLCV_CACHE_TTL_SEC", cfg.CacheConfig.OHLCVTTL)
	cfg.CacheConfig.MaxKeys = getEnvIntOrDefault("MAX_CACHE_KEYS", cfg.CacheConfig.MaxKeys)
	cfg.ThrottleConfig.MaxConcurrent = getEnvIntOrDefault("MAX_OUTBOUND_CALLS", cfg.ThrottleConfig.MaxConcurrent)
	cfg.ThrottleConfig.MinDelaySec = getEnvFloatOrDefault("MIN_CALL_DELAY_SEC", cfg.ThrottleConfig.MinDelaySec)
	cfg.ThrottleConfig.BackoffSec = getEnvFloatOrDefault("RATE_LIMIT_BACKOFF_SEC", cfg.ThrottleConfig.BackoffSec)

	// Target lock
	cfg.TargetConfig.LockHours = getEnvIntOrDefault("TARGET_LOCK_HOURS", cfg.TargetConfig.LockHours)
	cfg.TargetConfig.AdverseMovePct = getEnvFloatOrDefault("TARGET_ADVERSE_MOVE_PCT", cfg.TargetConfig.AdverseMovePct)
	cfg.TargetConfig.FallbackDiscount = getEnvFloatOrDefault("TARGET_FALLBACK_DISCOUNT", cfg.TargetConfig.FallbackDiscount)

	// Server
	cfg.ServerConfig.Enabled = getEnvBoolOrDefault("SERVER_ENABLED", cfg.ServerConfig.Enabled)
	cfg.ServerConfig.Host = getEnvOrDefault("SERVER_HOST", cfg.ServerConfig.Host)
	cfg.ServerConfig.Port = getEnvIntOrDefault("SERVER_PORT", cfg.ServerConfig.Port)
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", cfg.ServerConfig.AllowedOrigins)

	// Database
	cfg.DatabaseConfig.Enabled = getEnvBoolOrDefault("DB_ENABLED", cfg.DatabaseConfig.Enabled)
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", cfg.DatabaseConfig.Host)
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", cfg.DatabaseConfig.Port)
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", cfg.DatabaseConfig.User)
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", cfg.DatabaseConfig.Database)
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSL_MODE", cfg.DatabaseConfig.SSLMode)

	// Redis
	cfg.RedisConfig.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", cfg.RedisConfig.Enabled)
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.RedisConfig.Address)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)
	cfg.RedisConfig.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", cfg.RedisConfig.PoolSize)

	// Logging
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)
	cfg.LoggingConfig.JSONFormat = getEnvBoolOrDefault("LOG_JSON", cfg.LoggingConfig.JSONFormat)
}

// Validate rejects configurations the engine cannot run with
func (c *Config) Validate() error {
	if len(c.TradingConfig.Symbols) == 0 {
		return fmt.Errorf("at least one trading symbol is required")
	}
	if _, err := ParseTimeframe(c.TradingConfig.Timeframe); err != nil {
		return err
	}
	if c.TradingConfig.PositionSizePct <= 0 || c.TradingConfig.PositionSizePct > 1 {
		return fmt.Errorf("position_size_pct must be in (0, 1], got %v", c.TradingConfig.PositionSizePct)
	}
	if c.StrategyConfig.BBPeriod < 2 {
		return fmt.Errorf("bb_period must be at least 2, got %d", c.StrategyConfig.BBPeriod)
	}
	if c.StrategyConfig.StopLossPct <= 0 {
		return fmt.Errorf("stop_loss_pct must be positive, got %v", c.StrategyConfig.StopLossPct)
	}
	if m := c.RebuyConfig.Mode; m != "confirmation" && m != "knife" {
		return fmt.Errorf("rebuy mode must be \"confirmation\" or \"knife\", got %q", m)
	}
	if c.RiskConfig.MaxDailyLossPct <= 0 || c.RiskConfig.MaxDailyLossPct >= 1 {
		return fmt.Errorf("max_daily_loss_pct must be in (0, 1), got %v", c.RiskConfig.MaxDailyLossPct)
	}
	if c.CacheConfig.MaxKeys <= 0 {
		return fmt.Errorf("max_cache_keys must be positive, got %d", c.CacheConfig.MaxKeys)
	}
	if c.ThrottleConfig.MaxConcurrent <= 0 {
		return fmt.Errorf("max_outbound_calls must be positive, got %d", c.ThrottleConfig.MaxConcurrent)
	}
	return nil
}

// ParseTimeframe converts an interval string like "5m" or "1h" to a duration
func ParseTimeframe(tf string) (time.Duration, error) {
	if tf == "" {
		return 0, fmt.Errorf("timeframe is empty")
	}
	unit := tf[len(tf)-1]
	n, err := strconv.Atoi(tf[:len(tf)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid timeframe %q", tf)
	}
	switch unit {
	case 's':
		return time.Duration(n) * time.Second, nil
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("invalid timeframe %q", tf)
	}
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvFloatOrDefault(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBoolOrDefault(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return def
}
