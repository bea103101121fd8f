package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"autotext_backend/internal/ai"
	"autotext_backend/internal/alert"
	"autotext_backend/internal/dispatch"
	"autotext_backend/internal/followup"
	"autotext_backend/internal/leads/repository"
	"autotext_backend/internal/leads/service"
	"autotext_backend/internal/scheduler"
	"autotext_backend/internal/sms"
	"autotext_backend/platform/config"
	"autotext_backend/platform/db"
	"autotext_backend/platform/events"
	"autotext_backend/platform/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}
	if err := cfg.RequireDispatcherSecrets(); err != nil {
		panic("missing dispatcher configuration: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting dispatcher", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	if mailer := alert.NewMailer(cfg, log); mailer != nil {
		mailer.Subscribe(eventBus)
		log.Info("send failure alerts enabled", "to", cfg.GetAlertToAddress())
	}

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

	repo := repository.New(pool)

	dispatcher := dispatch.New(dispatch.Params{
		Store:     dispatch.NewStore(repo),
		Scheduler: sched,
		Composer:  composer,
		Gateway:   gateway,
		Bus:       eventBus,
		Log:       log,
		Retry: dispatch.RetryPolicy{
			MaxAttempts: cfg.GetSendMaxAttempts(),
			BaseDelay:   cfg.GetSendRetryBase(),
			MaxDelay:    cfg.GetSendRetryMax(),
		},
		BatchSize:   cfg.GetDispatchBatchSize(),
		Concurrency: cfg.GetDispatchConcurrency(),
		RunBudget:   cfg.GetDispatchRunBudget(),
		CallTimeout: cfg.GetDispatchCallTimeout(),
		AutoApprove: cfg.GetDispatchAutoApprove(),
		FromNumber:  cfg.GetTwilioFromNumber(),
	})

	client, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize scheduler client", "error", err)
		panic("failed to initialize scheduler client: " + err.Error())
	}
	defer func() { _ = client.Close() }()

	trigger, err := scheduler.NewTrigger(cfg, client, log)
	if err != nil {
		log.Error("failed to initialize dispatch trigger", "error", err)
		panic("failed to initialize dispatch trigger: " + err.Error())
	}
	trigger.Start()
	defer trigger.Stop()

	// Worker-side lead service for the nightly score sweep.
	leadSvc := service.New(service.Params{
		Store:         repo,
		Scheduler:     sched,
		Composer:      composer,
		Gateway:       gateway,
		Bus:           eventBus,
		Log:           log,
		SendSoonDelay: cfg.GetSendSoonDelay(),
		FromNumber:    cfg.GetTwilioFromNumber(),
	})

	worker, err := scheduler.NewWorker(cfg, dispatcher, leadSvc, log)
	if err != nil {
		log.Error("failed to initialize scheduler worker", "error", err)
		panic("failed to initialize scheduler worker: " + err.Error())
	}

	worker.Run(ctx)
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
