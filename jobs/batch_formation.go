package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-logistics/internal/jobs"
	"github.com/odyssey-erp/odyssey-logistics/internal/logistics"
	"github.com/odyssey-erp/odyssey-logistics/internal/logistics/batching"
	"github.com/odyssey-erp/odyssey-logistics/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-logistics/internal/platform/events"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// tickLockName is the Redis lock guarding one tick at a time across workers.
const tickLockName = "batch_formation:tick"

// TickRunner runs one batch formation tick.
type TickRunner interface {
	ProcessBatches(ctx context.Context) batching.TickSummary
}

// BatchFormedEvent is published once per batch created during a tick.
type BatchFormedEvent struct {
	EventID    string          `json:"event_id"`
	Type       string          `json:"type"`
	Batch      logistics.Batch `json:"batch"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// BatchFormationJob runs the scheduler on each cron tick.
type BatchFormationJob struct {
	Scheduler TickRunner
	// Locker is optional. When set, only one worker ticks at a time and
	// overlapping ticks are dropped.
	Locker    *cache.Locker
	LockTTL   time.Duration
	Publisher events.Publisher
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
	clock     func() time.Time
}

// NewBatchFormationJob initialises the batch formation handler.
func NewBatchFormationJob(scheduler TickRunner, publisher events.Publisher, logger *slog.Logger, metrics *jobmetrics.Metrics) *BatchFormationJob {
	return &BatchFormationJob{
		Scheduler: scheduler,
		Publisher: publisher,
		Logger:    logger,
		Metrics:   metrics,
		LockTTL:   5 * time.Minute,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// SetLocker enables the cross-worker tick lock.
func (j *BatchFormationJob) SetLocker(locker *cache.Locker, ttl time.Duration) {
	j.Locker = locker
	if ttl > 0 {
		j.LockTTL = ttl
	}
}

// Handle executes one tick. Stage and partition failures are recorded in
// metrics and logs but do not fail the task: the next cron tick retries them.
func (j *BatchFormationJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Scheduler == nil {
		return errors.New("batch formation: handler not configured")
	}
	var payload BatchFormationPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	logger := j.logger()
	if payload.Trigger != "" {
		logger = logger.With(slog.String("trigger", payload.Trigger))
	}

	if j.Locker != nil {
		lock, err := j.Locker.Acquire(ctx, tickLockName, j.LockTTL)
		if errors.Is(err, cache.ErrLockHeld) {
			logger.Info("tick already running elsewhere, skipping")
			return nil
		}
		if err != nil {
			return err
		}
		defer func() {
			// The task context may be done by now.
			if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("release tick lock", slog.Any("error", err))
			}
		}()
	}

	start := j.now()
	tracker := j.metrics().Track(TaskBatchFormation)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	summary := j.Scheduler.ProcessBatches(ctx)
	j.metrics().ObserveTick(summary)
	if summary.Failed() {
		resultErr = errTickFailed
	}

	published := j.publish(ctx, logger, summary.Batches())

	logger.Info("completed batch formation",
		slog.Int("batches", len(summary.Batches())),
		slog.Int("skipped", summary.SkippedCount()),
		slog.Int("published", published),
		slog.Bool("failed", summary.Failed()),
		slog.Duration("duration", j.now().Sub(start)),
	)
	return nil
}

var errTickFailed = errors.New("batch formation: tick had failures")

func (j *BatchFormationJob) publish(ctx context.Context, logger *slog.Logger, batches []logistics.Batch) int {
	if j.Publisher == nil {
		return 0
	}
	published := 0
	for _, b := range batches {
		event := BatchFormedEvent{
			EventID:    uuid.NewString(),
			Type:       "BatchFormed",
			Batch:      b,
			OccurredAt: j.now(),
		}
		if err := j.Publisher.Publish(ctx, b.ID, event); err != nil {
			logger.Warn("publish batch formed event",
				slog.String("batch_id", b.ID),
				slog.Any("error", err),
			)
			continue
		}
		published++
	}
	return published
}

func (j *BatchFormationJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskBatchFormation))
	}
	return slog.Default().With(slog.String("job", TaskBatchFormation))
}

func (j *BatchFormationJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *BatchFormationJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
