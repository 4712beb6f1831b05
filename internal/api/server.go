// Package api exposes the operations surface: health and status endpoints,
// position and risk snapshots, target locks, manual halt/resume, and a
// WebSocket stream of engine events.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"crypto-autotrader/config"
	"crypto-autotrader/internal/engine"
	"crypto-autotrader/internal/events"
	"crypto-autotrader/internal/ledger"
	"crypto-autotrader/internal/market"
	"crypto-autotrader/internal/risk"
	"crypto-autotrader/internal/targetlock"
)

// Server is the HTTP operations API
type Server struct {
	cfg     config.ServerConfig
	engine  *engine.Engine
	risk    *risk.Manager
	targets *targetlock.Manager
	store   ledger.Ledger
	source  *market.CachedSource
	hub     *WSHub
	bus     *events.Bus
	logger  zerolog.Logger
	httpSrv *http.Server
}

// Deps are the collaborators the server reads from
type Deps struct {
	Engine  *engine.Engine
	Risk    *risk.Manager
	Targets *targetlock.Manager
	Ledger  ledger.Ledger
	Source  *market.CachedSource
	Hub     *WSHub
	Bus     *events.Bus
}

// NewServer builds the router and the server
func NewServer(cfg config.ServerConfig, deps Deps, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:     cfg,
		engine:  deps.Engine,
		risk:    deps.Risk,
		targets: deps.Targets,
		store:   deps.Ledger,
		source:  deps.Source,
		hub:     deps.Hub,
		bus:     deps.Bus,
		logger:  logger.With().Str("component", "api").Logger(),
	}

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if cfg.AllowedOrigins == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = strings.Split(cfg.AllowedOrigins, ",")
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	router.Use(cors.New(corsConfig))

	router.GET("/health", s.handleHealth)
	router.GET("/ws", s.handleWebSocket)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/status", s.handleStatus)
		v1.GET("/positions", s.handlePositions)
		v1.GET("/risk", s.handleRisk)
		v1.GET("/trades", s.handleTrades)
		v1.GET("/targets", s.handleTargets)
		v1.POST("/risk/halt", s.handleHalt)
		v1.POST("/risk/resume", s.handleResume)
	}

	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves until the listener fails or Shutdown is called
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpSrv.Addr).Msg("api listening")
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	status := gin.H{
		"equity":  s.engine.Equity(),
		"symbols": s.engine.Symbols(),
		"risk":    s.risk.Snapshot(),
	}
	if s.source != nil {
		status["cache"] = s.source.CacheStats()
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handlePositions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"positions": s.engine.Positions()})
}

func (s *Server) handleRisk(c *gin.Context) {
	c.JSON(http.StatusOK, s.risk.Snapshot())
}

func (s *Server) handleTrades(c *gin.Context) {
	symbol := c.Query("symbol")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	trades, err := s.store.RecentTrades(c.Request.Context(), symbol, limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to load trades")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load trades"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *Server) handleTargets(c *gin.Context) {
	if s.targets == nil {
		c.JSON(http.StatusOK, gin.H{"locks": []struct{}{}})
		return
	}
	locks := s.targets.Locks(c.Request.Context(), s.engine.Symbols())
	c.JSON(http.StatusOK, gin.H{"locks": locks})
}

func (s *Server) handleHalt(c *gin.Context) {
	var body struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&body)
	if body.Reason == "" {
		body.Reason = "manual halt via api"
	}
	s.risk.Halt(body.Reason)
	if s.bus != nil {
		s.bus.PublishHalt(body.Reason)
	}
	c.JSON(http.StatusOK, s.risk.Snapshot())
}

func (s *Server) handleResume(c *gin.Context) {
	s.risk.Resume()
	if s.bus != nil {
		s.bus.Publish(events.Event{Type: events.EventTradingResumed, Data: nil})
	}
	c.JSON(http.StatusOK, s.risk.Snapshot())
}
