package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odyssey-erp/odyssey-logistics/internal/app"
	jobmetrics "github.com/odyssey-erp/odyssey-logistics/internal/jobs"
	"github.com/odyssey-erp/odyssey-logistics/internal/logistics/batching"
	"github.com/odyssey-erp/odyssey-logistics/internal/logistics/eta"
	"github.com/odyssey-erp/odyssey-logistics/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-logistics/internal/platform/events"
	"github.com/odyssey-erp/odyssey-logistics/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig(".env")
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	store, closeStore, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("open store", slog.Any("error", err))
		os.Exit(1)
	}
	defer closeStore()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	var publisher events.Publisher = events.Discard{}
	if len(cfg.KafkaBrokers) > 0 {
		producer := events.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaBatchTopic, logger)
		defer func() {
			if err := producer.Close(); err != nil {
				logger.Warn("kafka close", slog.Any("error", err))
			}
		}()
		publisher = producer
	} else {
		logger.Info("kafka brokers not configured, batch events disabled")
	}

	batchingCfg, err := cfg.BatchingConfig()
	if err != nil {
		logger.Error("batching config", slog.Any("error", err))
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := jobmetrics.NewMetrics(registry)

	estimator := eta.NewEstimator(store, cfg.ETA, logger)
	scheduler := batching.NewScheduler(store, batchingCfg, logger)
	scheduler.SetRefresher(estimator)

	batchJob := jobs.NewBatchFormationJob(scheduler, publisher, logger, metrics)
	batchJob.SetLocker(cache.NewLocker(redisClient, "odyssey:logistics:"), cfg.BatchTickLockTTL)
	etaJob := jobs.NewETARefreshJob(estimator, logger, metrics)

	cronTask, err := jobs.NewBatchFormationTask("cron")
	if err != nil {
		logger.Error("build batch formation task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskBatchFormation, Handler: batchJob.Handle},
			{Type: jobs.TaskETARefresh, Handler: etaJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.BatchCron, Task: cronTask, Options: []asynq.Option{asynq.MaxRetry(0), asynq.Queue(jobs.QueueDefault)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	metricsServer := &http.Server{
		Addr:              cfg.WorkerMetricsAddr,
		Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("starting worker", slog.String("cron", cfg.BatchCron), slog.Int("concurrency", cfg.WorkerConcurrency))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
