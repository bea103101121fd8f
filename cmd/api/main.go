package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"autotext_backend/internal/ai"
	"autotext_backend/internal/followup"
	apphttp "autotext_backend/internal/http"
	"autotext_backend/internal/http/router"
	"autotext_backend/internal/inbound"
	"autotext_backend/internal/leads"
	leadservice "autotext_backend/internal/leads/service"
	"autotext_backend/internal/scheduler"
	"autotext_backend/internal/sms"
	"autotext_backend/migrations"
	"autotext_backend/platform/config"
	"autotext_backend/platform/db"
	"autotext_backend/platform/events"
	"autotext_backend/platform/logger"
	"autotext_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, cfg, migrations.FS, ".")
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()
	log.Info("database connection established")

	eventBus := events.NewInMemoryBus(log)
	val := validator.New()

	window, err := followup.ParseWindow(cfg.GetSendWindowStart(), cfg.GetSendWindowEnd(), cfg.GetSendTimezone())
	if err != nil {
		log.Error("invalid send window configuration", "error", err)
		panic("invalid send window configuration: " + err.Error())
	}
	sched := followup.NewScheduler(followup.DefaultTable(), window, 7*24*time.Hour, log)

	composer, err := ai.NewGeminiComposer(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize message composer", "error", err)
		panic("failed to initialize message composer: " + err.Error())
	}
	gateway := sms.NewClient(cfg, log)

	ticker, closeTicker := initDispatchTicker(cfg, log)
	if closeTicker != nil {
		defer closeTicker()
	}

	leadsModule := leads.NewModule(pool, eventBus, val, cfg, log, composer, gateway, sched, ticker)
	inboundModule := inbound.NewModule(pool, eventBus, cfg, log)

	app := &apphttp.App{
		Config:   cfg,
		Logger:   log,
		Health:   pool,
		EventBus: eventBus,
		Modules: []apphttp.Module{
			leadsModule,
			inboundModule,
		},
	}

	engine := router.New(app)

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- engine.Run(cfg.HTTPAddr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
	case err := <-srvErr:
		if err != nil {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

func initDispatchTicker(cfg config.SchedulerConfig, log *logger.Logger) (leadservice.DispatchTicker, func()) {
	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; send-soon dispatch ticks disabled")
		return nil, nil
	}

	client, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize dispatch ticker", "error", err)
		return nil, nil
	}

	return client, func() {
		_ = client.Close()
	}
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return errors.New(name + ": invalid retry attempts")
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
