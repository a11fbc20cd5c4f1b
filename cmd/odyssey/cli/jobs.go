package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-logistics/jobs"
)

// Job names accepted by Trigger.
const (
	JobBatchFormation = "batch-formation"
	JobETARefresh     = "eta-refresh"
)

// Enqueuer submits logistics tasks.
type Enqueuer interface {
	EnqueueBatchFormation(ctx context.Context, trigger string) (*asynq.TaskInfo, error)
	EnqueueETARefresh(ctx context.Context, payload jobs.ETARefreshPayload) (*asynq.TaskInfo, error)
}

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    Enqueuer
	closer    io.Closer
	inspector *asynq.Inspector
}

// NewJobsCLI initialises the CLI helpers using the provided Redis options.
func NewJobsCLI(opts asynq.RedisClientOpt) (*JobsCLI, error) {
	client, err := jobs.NewClient(opts)
	if err != nil {
		return nil, err
	}
	inspector := asynq.NewInspector(opts)
	return &JobsCLI{client: client, closer: client, inspector: inspector}, nil
}

// NewJobsCLIWithEnqueuer builds a CLI that only triggers jobs.
func NewJobsCLIWithEnqueuer(e Enqueuer) *JobsCLI {
	return &JobsCLI{client: e}
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		if closeErr := c.inspector.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if c.closer != nil {
		if closeErr := c.closer.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// Trigger enqueues a supported job by name. eta-refresh takes an order id,
// or "batch:<id>" to refresh every order of a batch.
func (c *JobsCLI) Trigger(ctx context.Context, name string, args ...string) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	switch name {
	case JobBatchFormation, jobs.TaskBatchFormation:
		return c.client.EnqueueBatchFormation(ctx, "manual")
	case JobETARefresh, jobs.TaskETARefresh:
		if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
			return nil, errors.New("jobs cli: eta-refresh needs an order id")
		}
		target := strings.TrimSpace(args[0])
		var payload jobs.ETARefreshPayload
		if batchID, ok := strings.CutPrefix(target, "batch:"); ok {
			payload.BatchID = batchID
		} else {
			payload.OrderID = target
		}
		return c.client.EnqueueETARefresh(ctx, payload)
	default:
		return nil, fmt.Errorf("jobs cli: unsupported job %s", name)
	}
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
}

// InspectQueue reports the queue metrics for the default queue.
func (c *JobsCLI) InspectQueue(ctx context.Context) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
	}
	return stats, nil
}

// ListScheduled returns scheduled task infos for observability.
func (c *JobsCLI) ListScheduled(ctx context.Context, size int) ([]*asynq.TaskInfo, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	if size <= 0 {
		size = 10
	}
	return c.inspector.ListScheduledTasks(jobs.QueueDefault, asynq.PageSize(size), asynq.Page(1))
}

// Run executes "trigger <job> [arg]", "inspect" or "scheduled" and writes a
// short report to out.
func (c *JobsCLI) Run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New("usage: jobs trigger <batch-formation|eta-refresh> [order-id] | inspect | scheduled")
	}
	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			return errors.New("usage: jobs trigger <batch-formation|eta-refresh> [order-id]")
		}
		info, err := c.Trigger(ctx, args[1], args[2:]...)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
		return err
	case "inspect":
		stats, err := c.InspectQueue(ctx)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
		return err
	case "scheduled":
		tasks, err := c.ListScheduled(ctx, 10)
		if err != nil {
			return err
		}
		for _, task := range tasks {
			if _, err := fmt.Fprintf(out, "%s %s %s\n", task.ID, task.Type, task.NextProcessAt.Format("2006-01-02T15:04:05Z07:00")); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("jobs cli: unknown command %s", args[0])
	}
}
