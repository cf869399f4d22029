package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/kanghyki/badang-post-office/api"
	"github.com/kanghyki/badang-post-office/api/controllers"
	"github.com/kanghyki/badang-post-office/api/routes"
	"github.com/kanghyki/badang-post-office/internal/cron"
	"github.com/kanghyki/badang-post-office/internal/mailer"
	"github.com/kanghyki/badang-post-office/internal/pipeline"
	"github.com/kanghyki/badang-post-office/internal/postcard"
	"github.com/kanghyki/badang-post-office/internal/progress"
	"github.com/kanghyki/badang-post-office/internal/quota"
	"github.com/kanghyki/badang-post-office/internal/remote"
	"github.com/kanghyki/badang-post-office/internal/scheduler"
	"github.com/kanghyki/badang-post-office/internal/storage"
	"github.com/kanghyki/badang-post-office/internal/sweep"
	"github.com/kanghyki/badang-post-office/pkg/config"
	"github.com/kanghyki/badang-post-office/pkg/db"
	"github.com/kanghyki/badang-post-office/pkg/instance"
	"github.com/kanghyki/badang-post-office/pkg/logger"
	"github.com/kanghyki/badang-post-office/pkg/metrics"
	"github.com/kanghyki/badang-post-office/pkg/migrate"
	"github.com/kanghyki/badang-post-office/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "postcard-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "postcard-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	if err := run(cfg, logg); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(context.Background(), "worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(context.Background(), "worker shut down gracefully")
}

func run(cfg *config.Config, logg *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"instance": instance.GetID(),
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("run dev migrations: %w", err)
	}

	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("bootstrap redis: %w", err)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "error closing redis", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	blobs, err := storage.NewLocal(cfg.Storage)
	if err != nil {
		return fmt.Errorf("bootstrap storage: %w", err)
	}

	repo := postcard.NewRepository(dbClient.DB())
	events := progress.NewEventRepository(dbClient.DB())
	publisher := progress.NewPublisher(redisClient, events, logg)
	collaborators := remote.NewClient(cfg.Collab)

	runner := pipeline.NewRunner(pipeline.RunnerParams{
		Store:      repo,
		Progress:   publisher,
		Translator: collaborators,
		Stylizer:   collaborators,
		Renderer:   collaborators,
		Mailer:     mailer.New(cfg.SMTP),
		Storage:    blobs,
		Metrics:    metrics.NewPipelineMetrics(registry),
		Logger:     logg,
	})

	// The scheduler is built once per process; a second instance would race
	// the timer map.
	sched := scheduler.New(scheduler.Params{
		Store:   repo,
		Runner:  runner,
		Logger:  logg,
		Metrics: metrics.NewSchedulerMetrics(registry),
		Config:  cfg.Scheduler,
	})
	if err := sched.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Scheduler.ShutdownTimeout)
		defer cancel()
		if err := sched.Stop(stopCtx); err != nil {
			logg.Error(ctx, "scheduler did not drain in time", err)
		}
	}()

	// Recover deferred sends before opening the door for new work.
	if err := sched.Restore(ctx); err != nil {
		logg.Error(ctx, "scheduler restore reported errors", err)
	}

	service := postcard.NewService(postcard.ServiceParams{
		Repo:      repo,
		Scheduler: sched,
		Runner:    runner,
		Quota:     quota.NewLimiter(repo, cfg.Quota.SendLimit),
		Logger:    logg,
	})

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("sweep:"+cfg.App.Env), cfg.Sweep.LockTTL)
	if err != nil {
		return fmt.Errorf("create sweep lock: %w", err)
	}
	cronService, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(sweep.NewJob(repo, publisher, cfg.Sweep.GracePeriod, logg)),
		Lock:     lock,
		Metrics:  metrics.NewJobMetrics(registry),
		Interval: cfg.Sweep.Interval,
	})
	if err != nil {
		return fmt.Errorf("create cron service: %w", err)
	}

	handler := routes.NewRouter(routes.RouterParams{
		Config:    cfg,
		Logger:    logg,
		DB:        dbClient,
		Redis:     redisClient,
		Postcards: controllers.NewPostcardController(service, publisher, redisClient, logg),
		Registry:  registry,
	})
	server := api.NewServer(cfg, handler, logg)

	errCh := make(chan error, 2)
	go func() {
		if err := cronService.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("cron service: %w", err)
		}
	}()
	go func() {
		if err := server.Run(ctx); err != nil {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	logg.Info(ctx, "postcard worker running")
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
