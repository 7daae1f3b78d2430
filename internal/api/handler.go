// Package api is the thin HTTP and WebSocket surface over the simulator.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"simtrade-core/internal/events"
	"simtrade-core/internal/funding"
	"simtrade-core/internal/ledger"
	"simtrade-core/internal/monitor"
	"simtrade-core/internal/pricing"
	"simtrade-core/internal/registry"
	"simtrade-core/internal/settings"
	"simtrade-core/internal/trading"
	"simtrade-core/internal/users"
	"simtrade-core/pkg/db"
)

// Server wires HTTP endpoints around the simulator components.
type Server struct {
	Router   *gin.Engine
	Bus      *events.Bus
	DB       *db.Database
	Registry *registry.Registry
	Ledger   *ledger.Ledger
	Pricing  *pricing.Engine
	Trading  *trading.Engine
	Funding  *funding.Service
	Users    *users.Directory
	Settings *settings.Store
	Metrics  *monitor.SystemMetrics
	Auth     *Authenticator
	Meta     SystemMeta

	log        *zap.Logger
	limiter    *ipLimiter
	mu         sync.Mutex
	httpServer *http.Server
}

// SystemMeta describes runtime status exposed by /health.
type SystemMeta struct {
	Version string
	Oracle  string
	Node    string
}

// Options carries the constructed components.
type Options struct {
	Bus        *events.Bus
	DB         *db.Database
	Registry   *registry.Registry
	Ledger     *ledger.Ledger
	Pricing    *pricing.Engine
	Trading    *trading.Engine
	Funding    *funding.Service
	Users      *users.Directory
	Settings   *settings.Store
	Metrics    *monitor.SystemMetrics
	Auth       *Authenticator
	Meta       SystemMeta
	CORSOrigin string
	// RateLimit is requests per second per IP; Burst the bucket size.
	RateLimit float64
	Burst     int
	Logger    *zap.Logger
}

// NewServer builds the router.
func NewServer(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("component", "api"))
	if opts.RateLimit <= 0 {
		opts.RateLimit = 20
	}
	if opts.Burst <= 0 {
		opts.Burst = 50
	}

	r := gin.New()
	s := &Server{
		Router:   r,
		Bus:      opts.Bus,
		DB:       opts.DB,
		Registry: opts.Registry,
		Ledger:   opts.Ledger,
		Pricing:  opts.Pricing,
		Trading:  opts.Trading,
		Funding:  opts.Funding,
		Users:    opts.Users,
		Settings: opts.Settings,
		Metrics:  opts.Metrics,
		Auth:     opts.Auth,
		Meta:     opts.Meta,
		log:      log,
		limiter:  newIPLimiter(opts.RateLimit, opts.Burst),
	}

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(log, opts.Metrics))
	r.Use(RateLimitMiddleware(s.limiter, log))
	r.Use(CORSMiddleware(opts.CORSOrigin))

	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	api.Use(TimeoutMiddleware(s.requestTimeout))
	{
		api.GET("/instruments", s.listInstruments)
		api.GET("/instruments/:symbol", s.getInstrument)
		api.GET("/instruments/:symbol/movements", s.listMovements)
		api.GET("/market/summary", s.marketSummary)

		protected := api.Group("")
		protected.Use(s.AuthMiddleware(), s.MaintenanceMiddleware())
		{
			protected.GET("/me", s.me)
			protected.GET("/balances", s.getBalances)

			protected.GET("/trades", s.listTrades)
			protected.GET("/trades/active", s.activeTrades)
			protected.POST("/trades", s.openTrade)
			protected.GET("/trades/:id", s.getTrade)
			protected.POST("/trades/:id/close", s.closeTrade)

			protected.GET("/wallets/:symbol", s.depositWallet)
			protected.POST("/deposits", s.createDeposit)
			protected.POST("/withdrawals", s.createWithdrawal)
			protected.GET("/funding", s.fundingHistory)
			protected.GET("/funding/:id", s.getFunding)
		}

		admin := protected.Group("/admin")
		admin.Use(s.AdminMiddleware())
		{
			admin.GET("/settings", s.getSettings)
			admin.PUT("/settings", s.updateSettings)

			admin.PUT("/instruments/:symbol", s.upsertInstrument)
			admin.DELETE("/instruments/:symbol", s.deactivateInstrument)
			admin.POST("/instruments/:symbol/price", s.overridePrice)

			admin.GET("/scenarios", s.listScenarios)
			admin.POST("/scenarios", s.createScenario)
			admin.DELETE("/scenarios/:id", s.cancelScenario)

			admin.POST("/trades/:id/force-close", s.forceClose)
			admin.PUT("/users/:id/flags", s.setUserFlags)
			admin.POST("/users/:id/credit", s.adminCredit)

			admin.GET("/funding/pending", s.pendingFunding)
			admin.POST("/deposits/:id/confirm", s.review(s.Funding.ConfirmDeposit))
			admin.POST("/deposits/:id/reject", s.review(s.rejectDeposit))
			admin.POST("/withdrawals/:id/approve", s.review(s.Funding.ApproveWithdrawal))
			admin.POST("/withdrawals/:id/reject", s.review(s.Funding.RejectWithdrawal))

			admin.GET("/wallets", s.listWallets)
			admin.POST("/wallets", s.addWallet)

			admin.GET("/metrics", s.getMetrics)
		}
	}
}

func (s *Server) requestTimeout() time.Duration {
	if s.Settings == nil {
		return settings.Defaults().RequestTimeout()
	}
	return s.Settings.Get().RequestTimeout()
}

func (s *Server) health(c *gin.Context) {
	body := gin.H{
		"status":  "ok",
		"version": s.Meta.Version,
		"node":    s.Meta.Node,
	}
	if s.Meta.Oracle != "" {
		body["oracle"] = s.Meta.Oracle
	}
	if s.Settings != nil {
		cfg := s.Settings.Get()
		body["trading_open"] = cfg.TradingOpen()
		body["maintenance_mode"] = cfg.MaintenanceMode
	}
	c.JSON(http.StatusOK, body)
}

// Start serves on addr until Shutdown.
func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
