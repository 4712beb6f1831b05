package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"crypto-autotrader/config"
	"crypto-autotrader/internal/api"
	"crypto-autotrader/internal/engine"
	"crypto-autotrader/internal/events"
	"crypto-autotrader/internal/exchange"
	"crypto-autotrader/internal/ledger"
	"crypto-autotrader/internal/logging"
	"crypto-autotrader/internal/market"
	"crypto-autotrader/internal/risk"
	"crypto-autotrader/internal/scorer"
	"crypto-autotrader/internal/targetlock"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.New(cfg.LoggingConfig)
	logger.Info().Str("timeframe", cfg.TradingConfig.Timeframe).Msg("configuration loaded")

	eventBus := events.NewBus()

	// Market data: mock feed behind the cache/throttle layer. A live
	// exchange feed plugs in here by implementing market.DataSource.
	rawSource := market.NewMockSource()
	source := market.NewCachedSource(rawSource, market.CachedSourceConfig{
		PriceTTL:      time.Duration(cfg.CacheConfig.PriceTTL) * time.Second,
		OHLCVTTL:      time.Duration(cfg.CacheConfig.OHLCVTTL) * time.Second,
		MaxKeys:       cfg.CacheConfig.MaxKeys,
		MaxConcurrent: cfg.ThrottleConfig.MaxConcurrent,
		MinDelay:      time.Duration(cfg.ThrottleConfig.MinDelaySec * float64(time.Second)),
		Backoff:       time.Duration(cfg.ThrottleConfig.BackoffSec * float64(time.Second)),
	}, logger)

	// Persistence: postgres when enabled, otherwise in-memory
	var store ledger.Ledger
	if cfg.DatabaseConfig.Enabled {
		pg, err := ledger.NewPostgresLedger(context.Background(), cfg.DatabaseConfig, logger)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		store = pg
	} else {
		store = ledger.NewMemoryLedger()
		logger.Info().Msg("using in-memory ledger")
	}
	defer store.Close()

	// Shared target-lock cache: redis when enabled, memory-only otherwise
	var redisClient *redis.Client
	if cfg.RedisConfig.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisConfig.Address,
			Password: cfg.RedisConfig.Password,
			DB:       cfg.RedisConfig.DB,
			PoolSize: cfg.RedisConfig.PoolSize,
		})
		defer redisClient.Close()
	}
	lockCache := targetlock.NewCache(redisClient, logger)

	targetScorer := scorer.NewMomentumScorer(source, cfg.TradingConfig.Timeframe, logger)
	targets := targetlock.NewManager(cfg.TargetConfig, lockCache, store, targetScorer, logger)

	riskManager := risk.NewManager(cfg.RiskConfig, logger)

	var executor exchange.OrderExecutor = exchange.NewPaperExecutor(cfg.StrategyConfig.SlippagePct, logger)
	if !cfg.TradingConfig.DryRun {
		// Live execution needs an exchange client wired here
		logger.Warn().Msg("live trading requested but no exchange client is configured, staying on paper execution")
	}

	eng, err := engine.New(cfg, engine.Deps{
		Source:   source,
		Risk:     riskManager,
		Targets:  targets,
		Executor: executor,
		Ledger:   store,
		Bus:      eventBus,
	}, logger)
	if err != nil {
		log.Fatalf("Failed to build engine: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := eng.Start(ctx); err != nil {
		log.Fatalf("Failed to start engine: %v", err)
	}

	var srv *api.Server
	var hub *api.WSHub
	if cfg.ServerConfig.Enabled {
		hub = api.NewWSHub(eventBus)
		go hub.Run()

		srv = api.NewServer(cfg.ServerConfig, api.Deps{
			Engine:  eng,
			Risk:    riskManager,
			Targets: targets,
			Ledger:  store,
			Source:  source,
			Hub:     hub,
			Bus:     eventBus,
		}, logger)
		go func() {
			if err := srv.Start(); err != nil {
				logger.Error().Err(err).Msg("api server failed")
				stop()
			}
		}()
	}

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	eng.Stop()
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("api shutdown incomplete")
		}
	}
	if hub != nil {
		hub.Stop()
	}
	logger.Info().Msg("goodbye")
}
