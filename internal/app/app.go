// Package app assembles the simulator process: storage, the price and trade
// engines, funding, the push bus, the scheduler and the HTTP surface.
package app

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"simtrade-core/internal/api"
	"simtrade-core/internal/events"
	"simtrade-core/internal/funding"
	"simtrade-core/internal/ledger"
	"simtrade-core/internal/monitor"
	"simtrade-core/internal/notify"
	"simtrade-core/internal/oracle"
	"simtrade-core/internal/persistence"
	"simtrade-core/internal/pricing"
	"simtrade-core/internal/registry"
	"simtrade-core/internal/scheduler"
	"simtrade-core/internal/settings"
	"simtrade-core/internal/trading"
	"simtrade-core/internal/users"
	"simtrade-core/pkg/config"
	"simtrade-core/pkg/db"
	"simtrade-core/pkg/i18n"
	"simtrade-core/pkg/logger"
	market "simtrade-core/pkg/market/binance"
)

const (
	writerBatchSize = 200
	writerInterval  = 500 * time.Millisecond
)

// Options overrides collaborators built from Config.
type Options struct {
	Config *config.Config
	Logger *zap.Logger
	// Oracle replaces the configured real price oracle.
	Oracle pricing.Oracle
	// Notifier replaces the Kafka producer.
	Notifier notify.MessageWriter
	Rand     *rand.Rand
	Now      func() time.Time
}

// App owns every long-lived component.
type App struct {
	cfg *config.Config
	log *zap.Logger

	DB        *db.Database
	Bus       *events.Bus
	Settings  *settings.Store
	Users     *users.Directory
	Registry  *registry.Registry
	Ledger    *ledger.Ledger
	Pricing   *pricing.Engine
	Trading   *trading.Engine
	Funding   *funding.Service
	Scheduler *scheduler.Scheduler
	Writer    *persistence.BatchWriter
	Notify    *notify.Sink
	Metrics   *monitor.SystemMetrics
	Auth      *api.Authenticator
	Server    *api.Server

	priceSub *events.Subscriber
	closers  []func() error

	mu       sync.Mutex
	started  bool
	shutdown bool
}

// New opens storage, loads settings and seeds, restores balances and users
// and wires the engines. Nothing runs until Start.
func New(ctx context.Context, opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	a := &App{cfg: cfg, log: log, Metrics: monitor.NewSystemMetrics()}
	if err := a.open(ctx, cfg, log); err != nil {
		_ = a.closeAll()
		return nil, err
	}
	if err := a.wire(ctx, opts, rng, now); err != nil {
		_ = a.closeAll()
		return nil, err
	}
	return a, nil
}

func (a *App) open(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	log.Info(i18n.Get("Starting"), zap.String("version", cfg.Version))
	log.Info(i18n.Get("ConfigLoaded"), zap.String("port", cfg.Port))
	log.Info(fmt.Sprintf(i18n.Get("UsingDBPath"), cfg.DBPath))

	database, err := db.New(cfg.DBPath)
	if err != nil {
		return errors.Wrap(err, "open database")
	}
	a.DB = database
	a.closers = append(a.closers, database.Close)
	if err := db.ApplyMigrations(database); err != nil {
		return errors.Wrap(err, "apply migrations")
	}

	a.Settings = settings.NewStore(database, logger.Component(log, "settings"))
	if err := a.Settings.Load(ctx, cfg.SettingsPath); err != nil {
		return errors.Wrap(err, "load trading settings")
	}
	log.Info(i18n.Get("SettingsLoaded"), zap.String("path", cfg.SettingsPath))

	s := a.Settings.Get()
	a.Bus = events.NewBus(log)
	a.Bus.Configure(s.SubscriberQueueDepth, s.ReplayRetention())
	a.Settings.OnChange(func(next settings.TradingSettings) {
		a.Bus.Configure(next.SubscriberQueueDepth, next.ReplayRetention())
	})
	a.Writer = persistence.NewBatchWriter(database, log, writerBatchSize, writerInterval)
	a.closers = append(a.closers, a.Writer.Close)
	return nil
}

func (a *App) wire(ctx context.Context, opts Options, rng *rand.Rand, now func() time.Time) error {
	cfg, log := a.cfg, a.log

	a.Users = users.NewDirectory(a.DB, log)
	if err := a.Users.Load(ctx); err != nil {
		return errors.Wrap(err, "load users")
	}

	a.Registry = registry.New(a.DB, a.Writer, log)
	if err := a.Registry.Load(ctx); err != nil {
		return errors.Wrap(err, "load instruments")
	}
	wallets, err := a.Registry.Seed(ctx, cfg.SeedPath)
	if err != nil {
		return errors.Wrap(err, "seed instruments")
	}
	log.Info(fmt.Sprintf(i18n.Get("SeedLoaded"), cfg.SeedPath), zap.Int("instruments", a.Registry.Len()))

	a.Ledger = ledger.New(ledger.Options{
		Store:       a.DB,
		Publisher:   a.Bus,
		Gate:        a.Users,
		Prices:      a.Registry,
		Logger:      log,
		LockTimeout: func() time.Duration { return a.Settings.Get().RequestTimeout() },
		Now:         now,
	})
	if err := a.Ledger.Load(ctx); err != nil {
		return errors.Wrap(err, "load balances")
	}

	a.Notify = a.notifier(opts, log)
	a.closers = append(a.closers, a.Notify.Close)

	a.Trading = trading.New(trading.Options{
		Ledger:      a.Ledger,
		Instruments: a.Registry,
		Gate:        a.Users,
		Store:       a.DB,
		History:     a.DB.Queries(),
		Publisher:   a.Bus,
		Writer:      a.Writer,
		Notifier:    a.Notify,
		Metrics:     a.Metrics,
		Settings:    a.Settings.Get,
		Rand:        rand.New(rand.NewPCG(rng.Uint64(), rng.Uint64())),
		Logger:      log,
		Now:         now,
	})

	source, err := a.oracle(opts, log)
	if err != nil {
		return err
	}
	a.Pricing = pricing.New(pricing.Options{
		Registry:  a.Registry,
		Settings:  a.Settings.Get,
		Publisher: a.Bus,
		Writer:    a.Writer,
		Scenarios: a.DB,
		Oracle:    source,
		Bias: pricing.NewExposureBias(a.Trading,
			func() float64 { return a.Settings.Get().HouseEdgeTargetPercent },
			rand.New(rand.NewPCG(rng.Uint64(), rng.Uint64()))),
		Rand:   rand.New(rand.NewPCG(rng.Uint64(), rng.Uint64())),
		Logger: log,
		Now:    now,
	})

	a.Funding = funding.New(funding.Options{
		Ledger:      a.Ledger,
		Store:       a.DB,
		Instruments: a.Registry,
		Notifier:    a.Notify,
		Trading:     a.Trading,
		Settings:    a.Settings.Get,
		Logger:      log,
		Now:         now,
	})
	for _, w := range wallets {
		if _, err := a.Funding.AddWallet(ctx, w); err != nil {
			log.Warn("⚠️ seed wallet skipped", zap.String("symbol", w.Symbol), zap.Error(err))
		}
	}

	a.Scheduler = scheduler.New(scheduler.Options{
		Tasks: scheduler.StandardTasks(scheduler.Deps{
			Prices:   a.Pricing,
			Trades:   a.Trading,
			Funding:  a.Funding,
			Pruner:   a.DB,
			Settings: a.Settings.Get,
		}),
		Period:  func() time.Duration { return a.Settings.Get().Tick() },
		Metrics: a.Metrics,
		Logger:  log,
		Now:     now,
	})

	a.Auth, err = api.NewAuthenticator(cfg.JWTSecret, cfg.TokenCacheTTL)
	if err != nil {
		return errors.Wrap(err, "build authenticator")
	}
	a.closers = append(a.closers, func() error { a.Auth.Close(); return nil })

	oracleName := ""
	if source != nil {
		oracleName = source.Name()
	}
	a.Server = api.NewServer(api.Options{
		Bus:        a.Bus,
		DB:         a.DB,
		Registry:   a.Registry,
		Ledger:     a.Ledger,
		Pricing:    a.Pricing,
		Trading:    a.Trading,
		Funding:    a.Funding,
		Users:      a.Users,
		Settings:   a.Settings,
		Metrics:    a.Metrics,
		Auth:       a.Auth,
		Meta:       api.SystemMeta{Version: cfg.Version, Oracle: oracleName, Node: notify.Origin()},
		CORSOrigin: cfg.CORSOrigin,
		RateLimit:  cfg.RateLimit,
		Burst:      cfg.RateBurst,
		Logger:     log,
	})
	return nil
}

func (a *App) notifier(opts Options, log *zap.Logger) *notify.Sink {
	w := opts.Notifier
	if w == nil && len(a.cfg.KafkaBrokers) > 0 {
		w = notify.NewKafkaWriter(a.cfg.KafkaBrokers, a.cfg.KafkaTopic)
	}
	if w == nil {
		log.Info(i18n.Get("NotifyLogOnly"))
	} else {
		log.Info(fmt.Sprintf(i18n.Get("NotifyKafka"), a.cfg.KafkaTopic), zap.Strings("brokers", a.cfg.KafkaBrokers))
	}
	return notify.New(notify.Options{Writer: w, Logger: log})
}

func (a *App) oracle(opts Options, log *zap.Logger) (pricing.Oracle, error) {
	if opts.Oracle != nil {
		return opts.Oracle, nil
	}
	switch a.cfg.OracleKind {
	case "", "none":
		return nil, nil
	case "grpc":
		g, err := oracle.DialGRPC(a.cfg.OracleAddr, a.cfg.OracleQuote, a.cfg.OracleTimeout)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, g.Close)
		log.Info(fmt.Sprintf(i18n.Get("OracleEnabled"), g.Name()), zap.String("addr", a.cfg.OracleAddr))
		return g, nil
	case "binance":
		b := oracle.NewBinance(market.NewClient(a.cfg.BinanceBaseURL, a.cfg.OracleTimeout), a.cfg.OracleQuote)
		log.Info(fmt.Sprintf(i18n.Get("OracleEnabled"), b.Name()), zap.String("base_url", a.cfg.BinanceBaseURL))
		return b, nil
	default:
		return nil, errors.Errorf("unknown oracle kind %q", a.cfg.OracleKind)
	}
}

// Start resumes persisted trades, attaches the trade engine to every price
// topic and starts the scheduler.
func (a *App) Start(ctx context.Context) error {
	if err := a.startEngines(ctx); err != nil {
		return err
	}
	a.Scheduler.Start(ctx)
	return nil
}

func (a *App) startEngines(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return nil
	}

	// Subscribe before Resume so no tick between them is missed.
	a.priceSub = a.Bus.NewSubscriber()
	a.priceSub.SubscribePrefix(events.PricePrefix)
	n, err := a.Trading.Resume(ctx)
	if err != nil {
		a.priceSub.Close()
		return errors.Wrap(err, "resume trades")
	}
	a.log.Info(fmt.Sprintf(i18n.Get("TradesResumed"), n))
	a.Trading.Start(ctx, a.priceSub)
	a.started = true
	return nil
}

// ListenAndServe blocks serving the API on addr.
func (a *App) ListenAndServe(addr string) error {
	a.log.Info(fmt.Sprintf(i18n.Get("ServerListening"), addr))
	if err := a.Server.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops intake, lets in-flight resolutions finish, flushes the
// movement log and closes the bus. Active trades stay persisted for the
// next Resume.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	if a.shutdown {
		a.mu.Unlock()
		return nil
	}
	a.shutdown = true
	a.mu.Unlock()

	a.log.Info(i18n.Get("ShuttingDown"))
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}

	keep(a.Server.Shutdown(ctx))
	a.Scheduler.Stop()
	a.Trading.Stop()
	keep(a.Writer.Close())
	a.Bus.Close()
	a.Trading.Wait()
	keep(a.closeAll())

	a.log.Info(i18n.Get("ShutdownComplete"))
	return first
}

// closeAll releases resources in reverse acquisition order.
func (a *App) closeAll() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
