// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/solana-autosell/internal/api"
	"github.com/rovshanmuradov/solana-autosell/internal/config"
	"github.com/rovshanmuradov/solana-autosell/internal/dexscreener"
	"github.com/rovshanmuradov/solana-autosell/internal/events"
	"github.com/rovshanmuradov/solana-autosell/internal/liquidity"
	"github.com/rovshanmuradov/solana-autosell/internal/logger"
	"github.com/rovshanmuradov/solana-autosell/internal/metrics"
	"github.com/rovshanmuradov/solana-autosell/internal/monitor"
	"github.com/rovshanmuradov/solana-autosell/internal/price"
	"github.com/rovshanmuradov/solana-autosell/internal/storage"
	"github.com/rovshanmuradov/solana-autosell/internal/storage/memory"
	"github.com/rovshanmuradov/solana-autosell/internal/storage/postgres"
	"github.com/rovshanmuradov/solana-autosell/internal/swap"
)

const eventBufferSize = 1024

// App wires every component of the exit engine together.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	store     storage.Store
	bus       *events.Bus
	registry  *monitor.Registry
	scheduler *monitor.Scheduler
	router    http.Handler
	server    *api.Server
	shutdown  *ShutdownHandler
}

// New builds the application. Everything acquired before a failure is
// released again.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	a := &App{
		cfg:      cfg,
		logger:   log.Named("app"),
		shutdown: NewShutdownHandler(log),
	}
	if err := a.build(ctx, log); err != nil {
		_ = a.shutdown.Shutdown(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, log *zap.Logger) error {
	cfg := a.cfg

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewCollector(promRegistry)

	store, err := a.openStore(ctx, log)
	if err != nil {
		return err
	}
	a.store = store
	a.shutdown.Add("store", CloserFunc(store.Close))

	var rdb redis.UniversalClient
	if cfg.Redis.Enabled() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.shutdown.Add("redis", CloserFunc(rdb.Close))
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
		}
	}

	dsClient := dexscreener.NewClient(dexscreener.Options{
		BaseURL:           cfg.Price.DexScreenerURL,
		RequestsPerMinute: cfg.Price.RequestsPerMinute,
		Timeout:           cfg.Price.Timeout(),
	}, log)

	providers, err := a.priceProviders(dsClient, rdb, log)
	if err != nil {
		return err
	}
	oracle := price.NewOracle(log, m, providers...)
	guard := liquidity.NewGuard(dsClient, cfg.Liquidity.FloorUSD, cfg.Liquidity.Delay(), m, log)

	var executor swap.Executor
	if cfg.Swap.DryRun {
		a.logger.Warn("Dry run: sells are simulated")
		executor = swap.NewDryRunExecutor(oracle, nil, log)
	} else {
		executor = swap.NewHTTPExecutor(swap.HTTPConfig{
			URL:          cfg.Swap.URL,
			APIKey:       cfg.Swap.APIKey,
			Timeout:      cfg.Swap.Timeout(),
			MaxRetries:   cfg.Swap.MaxRetries,
			RetryDelay:   cfg.Swap.RetryDelay(),
			MaxElapsed:   cfg.Swap.MaxElapsed(),
			RequestDelay: cfg.Swap.RequestDelay(),
		}, log)
	}

	// The journal is registered before the bus so it is closed after the
	// bus has delivered its queue.
	var journal *logger.TradeJournal
	if cfg.Log.JournalFile != "" {
		journal, err = logger.NewTradeJournal(cfg.Log.JournalFile, logger.DefaultJournalFlushInterval, log)
		if err != nil {
			return fmt.Errorf("open trade journal: %w", err)
		}
		a.shutdown.Add("trade-journal", CloserFunc(journal.Close))
	}

	a.bus = events.NewBus(log, eventBufferSize)
	a.shutdown.Add("event-bus", a.bus.Shutdown)
	m.ObserveEventBacklog(a.bus.Backlog)
	if journal != nil {
		journal.Attach(a.bus)
	}
	if rdb != nil && cfg.Redis.EventsChannel != "" {
		events.NewRedisSink(rdb, cfg.Redis.EventsChannel, log).Attach(a.bus)
	}

	deps := monitor.Deps{
		Store:     store,
		Prices:    oracle,
		Liquidity: guard,
		Executor:  executor,
		Events:    a.bus,
		Metrics:   m,
		Logger:    log,
	}
	a.registry = monitor.NewRegistry(log)
	a.shutdown.Add("monitors", a.registry.Shutdown)
	a.scheduler = monitor.NewScheduler(deps, a.registry)

	a.router = api.SetupRoutes(api.Dependencies{
		Scheduler:        a.scheduler,
		Monitors:         a.registry,
		Sales:            store,
		Gatherer:         promRegistry,
		DefaultBatchSize: cfg.Scheduler.BatchSize,
		Logger:           log,
	})
	a.server = api.NewServer(cfg.API.ListenAddr, a.router, cfg.API.ShutdownTimeout(), log)
	return nil
}

func (a *App) openStore(ctx context.Context, log *zap.Logger) (storage.Store, error) {
	db := a.cfg.Database
	if db.PostgresURL == "" {
		a.logger.Warn("No database configured, using in-memory store")
		return memory.New(), nil
	}

	store, err := postgres.NewStore(db.PostgresURL, postgres.Options{
		MaxIdleConns:    db.MaxIdleConns,
		MaxOpenConns:    db.MaxOpenConns,
		ConnMaxLifetime: db.ConnMaxLifetime(),
		LogLevel:        db.LogLevel,
	}, log)
	if err != nil {
		return nil, err
	}
	if db.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
	}
	return store, nil
}

func (a *App) priceProviders(dsClient *dexscreener.Client, rdb redis.UniversalClient, log *zap.Logger) ([]price.Provider, error) {
	cfg := a.cfg.Price
	providers := make([]price.Provider, 0, len(cfg.Providers))
	for _, name := range cfg.Providers {
		var p price.Provider
		switch name {
		case config.ProviderDexScreener:
			p = price.NewDexScreenerProvider(dsClient)
		case config.ProviderJupiter:
			p = price.NewJupiterProvider(cfg.JupiterURL, cfg.Delay(), cfg.Timeout())
		default:
			return nil, fmt.Errorf("unknown price provider %q", name)
		}
		if rdb != nil && a.cfg.Redis.PriceCacheTTL() > 0 {
			p = price.NewCachedProvider(p, rdb, a.cfg.Redis.PriceCacheTTL(), log)
		}
		providers = append(providers, p)
	}
	return providers, nil
}

// Handler returns the HTTP API.
func (a *App) Handler() http.Handler {
	return a.router
}

// Scheduler returns the scheduler driving supervisor creation.
func (a *App) Scheduler() *monitor.Scheduler {
	return a.scheduler
}

// Run serves the API and, when enabled, the periodic scheduler until ctx is
// done or one of them fails. Every component is then shut down.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.server.Run(gctx)
	})
	if a.cfg.Scheduler.Enabled {
		g.Go(func() error {
			return a.scheduler.Loop(gctx, a.cfg.Scheduler.Interval(), a.cfg.Scheduler.BatchSize)
		})
	}

	a.logger.Info("Autosell engine running",
		zap.String("listen_addr", a.cfg.API.ListenAddr),
		zap.Bool("scheduler", a.cfg.Scheduler.Enabled),
		zap.Bool("dry_run", a.cfg.Swap.DryRun))

	runErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.API.ShutdownTimeout())
	defer cancel()
	return errors.Join(runErr, a.shutdown.Shutdown(shutdownCtx))
}

// Close releases every component without running the API.
func (a *App) Close(ctx context.Context) error {
	return a.shutdown.Shutdown(ctx)
}
