package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-logistics/internal/jobs"
	"github.com/odyssey-erp/odyssey-logistics/internal/logistics"
	"github.com/odyssey-erp/odyssey-logistics/internal/logistics/eta"
)

// ETAUpdater is the subset of the estimator used by the refresh job.
type ETAUpdater interface {
	UpdateOrderEstimatedDeliveryTime(ctx context.Context, orderID string) (time.Time, error)
	UpdateBatchEstimatedDeliveryTimes(ctx context.Context, batchID string) (eta.BatchRefresh, error)
}

// ETARefreshJob recomputes ETAs for one order or every member of a batch.
type ETARefreshJob struct {
	Estimator ETAUpdater
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewETARefreshJob initialises the ETA refresh handler.
func NewETARefreshJob(estimator ETAUpdater, logger *slog.Logger, metrics *jobmetrics.Metrics) *ETARefreshJob {
	return &ETARefreshJob{Estimator: estimator, Logger: logger, Metrics: metrics}
}

// Handle executes the refresh. Unknown orders and batches are not retried.
func (j *ETARefreshJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Estimator == nil {
		return errors.New("eta refresh: handler not configured")
	}
	var payload ETARefreshPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if err := payload.Validate(); err != nil {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	tracker := j.metrics().Track(TaskETARefresh)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	if payload.OrderID != "" {
		logger = logger.With(slog.String("order_id", payload.OrderID))
		at, err := j.Estimator.UpdateOrderEstimatedDeliveryTime(ctx, payload.OrderID)
		if err != nil {
			j.metrics().ObserveETARefresh(0, 1)
			resultErr = err
			logger.Error("eta refresh failed", slog.Any("error", err))
			return skipIfNotFound(err)
		}
		j.metrics().ObserveETARefresh(1, 0)
		logger.Info("refreshed order eta", slog.Time("eta", at))
		return nil
	}

	logger = logger.With(slog.String("batch_id", payload.BatchID))
	res, err := j.Estimator.UpdateBatchEstimatedDeliveryTimes(ctx, payload.BatchID)
	j.metrics().ObserveETARefresh(res.Updated, len(res.Failed))
	if err != nil {
		resultErr = err
		logger.Error("eta refresh failed", slog.Any("error", err))
		return skipIfNotFound(err)
	}
	logger.Info("refreshed batch eta",
		slog.Int("updated", res.Updated),
		slog.Int("failed", len(res.Failed)),
	)
	return nil
}

func skipIfNotFound(err error) error {
	if errors.Is(err, logistics.ErrNotFound) {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return err
}

func (j *ETARefreshJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskETARefresh))
	}
	return slog.Default().With(slog.String("job", TaskETARefresh))
}

func (j *ETARefreshJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
