package main

import (
	"context"
	"fmt"

	"marketdata/internal/calendar"
	"marketdata/internal/candlebuilder"
	"marketdata/internal/config"
	"marketdata/internal/domain"
	"marketdata/internal/fetcher"
	"marketdata/internal/gapdetector"
	"marketdata/internal/health"
	"marketdata/internal/scheduler"
	"marketdata/internal/store/postgres"
	"marketdata/pkg/cache"
	"marketdata/pkg/database"
	"marketdata/pkg/log"

	"github.com/redis/go-redis/v9"
)

// calendarFor builds the FX/metal weekend-closure calendar. Per-instrument
// holiday tables are not yet part of application.yaml; every instrument
// shares the weekend-only rule until that's added.
func calendarFor(cfg *config.Config) calendar.Calendar {
	return calendar.NewForexMetalCalendar(nil)
}

// app bundles the constructed components every subcommand needs, built
// once from application.yaml.
type app struct {
	cfg             *config.Config
	cleanup         func()
	candles         *postgres.CandleStore
	queue           *postgres.QueueStore
	integrity       *postgres.IntegrityStore
	health          *postgres.HealthStore
	detector        *gapdetector.Detector
	builder         *candlebuilder.Builder
	fetch           *fetcher.Fetcher
	monitor         *health.Monitor
	redis           *redis.Client
	instrumentClass map[string]domain.InstrumentClass
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	conn, cleanup, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	migrationHandler := database.NewMigrationHandler(conn, cfg.Database)
	log.Info("applying database migrations")
	if err := migrationHandler.ApplyMigrations(); err != nil {
		cleanup()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	classOf := make(map[string]domain.InstrumentClass, len(cfg.Instruments))
	for _, inst := range cfg.Instruments {
		classOf[inst.Symbol] = domain.InstrumentClass(inst.Class)
	}

	redisClient := cache.NewRedisStore(cfg.Cache.Redis)
	inmem := cache.NewInMemoryCache(cfg.Cache.InMem)
	freshnessCache := cache.NewCacheManager(inmem, redisClient)

	candles := postgres.NewCandleStore(conn.DB).WithFreshnessCache(freshnessCache)
	queueStore := postgres.NewQueueStore(conn.DB, maxBackfillAttempts)
	integrityStore := postgres.NewIntegrityStore(conn.DB)
	healthStore := postgres.NewHealthStore(conn.DB)

	cal := calendarFor(cfg)
	detector := gapdetector.New(candles, integrityStore, cal, func(symbol string) domain.InstrumentClass {
		return classOf[symbol]
	})
	builder := candlebuilder.New(candles, candles)
	fetch := fetcher.New(cfg.Provider.BaseURL, cfg.Provider.APIKey, cfg.Provider.RequestsPerMinute, cfg.Provider.Burst, cfg.Provider.Timeout)
	monitor := health.New(candles, detector, queueStore, healthStore, cfg.Thresholds)

	return &app{
		cfg:             cfg,
		cleanup:         cleanup,
		candles:         candles,
		queue:           queueStore,
		integrity:       integrityStore,
		health:          healthStore,
		detector:        detector,
		builder:         builder,
		fetch:           fetch,
		monitor:         monitor,
		redis:           redisClient,
		instrumentClass: classOf,
	}, nil
}

const maxBackfillAttempts = 5

// instruments returns the configured Instrument handles, skipping any entry
// whose class failed validation at config.Load time (load would already
// have rejected it, so this is defensive only).
func (a *app) instruments() []domain.Instrument {
	out := make([]domain.Instrument, 0, len(a.cfg.Instruments))
	for _, inst := range a.cfg.Instruments {
		h, err := domain.NewInstrument(inst.Symbol, domain.InstrumentClass(inst.Class))
		if err != nil {
			continue
		}
		out = append(out, h)
	}
	return out
}

func (a *app) engine() *scheduler.Engine {
	ec := scheduler.Config{
		IntegritySweepInterval: a.cfg.Scheduler.IntegritySweepInterval,
		FullCheckInterval:      a.cfg.Scheduler.FullCheckInterval,
		FullCheckLookbackDays:  a.cfg.Scheduler.FullCheckLookbackDays,
		BackfillWorkers:        a.cfg.Scheduler.BackfillWorkers,
		QueueSize:              a.cfg.Scheduler.BackfillWorkers * 4,
		LeaseTTL:               a.cfg.Scheduler.LeaseTTL,
		ReapInterval:           a.cfg.Scheduler.ReapInterval,
		HealthCheckInterval:    a.cfg.Scheduler.HealthCheckInterval,
		ShutdownGracePeriod:    a.cfg.Scheduler.ShutdownGracePeriod,
	}
	return scheduler.NewEngine(ec, a.detector, a.builder, a.fetch, a.candles, a.queue, a.monitor, a.instruments())
}
