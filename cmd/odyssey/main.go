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

	"github.com/odyssey-erp/odyssey-logistics/cmd/odyssey/cli"
	"github.com/odyssey-erp/odyssey-logistics/internal/app"
	"github.com/odyssey-erp/odyssey-logistics/internal/logistics/batching"
	"github.com/odyssey-erp/odyssey-logistics/internal/logistics/eta"
	logistichttp "github.com/odyssey-erp/odyssey-logistics/internal/logistics/http"
	"github.com/odyssey-erp/odyssey-logistics/internal/observability"
	"github.com/odyssey-erp/odyssey-logistics/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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
	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		os.Exit(runJobs(ctx, redisOpts, os.Args[2:], logger))
	}

	store, closeStore, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("open store", slog.Any("error", err))
		os.Exit(1)
	}
	defer closeStore()

	batchingCfg, err := cfg.BatchingConfig()
	if err != nil {
		logger.Error("batching config", slog.Any("error", err))
		os.Exit(1)
	}
	estimator := eta.NewEstimator(store, cfg.ETA, logger)
	scheduler := batching.NewScheduler(store, batchingCfg, logger)
	scheduler.SetRefresher(estimator)

	client, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	logisticsHandler := logistichttp.NewHandler(store, estimator, logger)
	logisticsHandler.SetEnqueuer(client)
	logisticsHandler.SetRunner(scheduler)

	metrics := observability.NewMetrics()

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		LogisticsHandler: logisticsHandler,
		JobHandler:       jobHandler,
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("store", cfg.StoreDriver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

func runJobs(ctx context.Context, opts asynq.RedisClientOpt, args []string, logger *slog.Logger) int {
	jobsCLI, err := cli.NewJobsCLI(opts)
	if err != nil {
		logger.Error("init jobs cli", slog.Any("error", err))
		return 1
	}
	defer func() {
		if err := jobsCLI.Close(); err != nil {
			logger.Warn("jobs cli close", slog.Any("error", err))
		}
	}()
	if err := jobsCLI.Run(ctx, args, os.Stdout); err != nil {
		logger.Error("jobs", slog.Any("error", err))
		return 1
	}
	return 0
}
