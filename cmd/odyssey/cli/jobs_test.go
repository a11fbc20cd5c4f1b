package cli

import (
	"bytes"
	"context"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-logistics/jobs"
)

type fakeEnqueuer struct {
	triggers []string
	refresh  []jobs.ETARefreshPayload
}

func (f *fakeEnqueuer) EnqueueBatchFormation(_ context.Context, trigger string) (*asynq.TaskInfo, error) {
	f.triggers = append(f.triggers, trigger)
	return &asynq.TaskInfo{ID: "t1", Type: jobs.TaskBatchFormation, Queue: jobs.QueueDefault}, nil
}

func (f *fakeEnqueuer) EnqueueETARefresh(_ context.Context, payload jobs.ETARefreshPayload) (*asynq.TaskInfo, error) {
	f.refresh = append(f.refresh, payload)
	return &asynq.TaskInfo{ID: "t2", Type: jobs.TaskETARefresh, Queue: jobs.QueueDefault}, nil
}

func TestTrigger(t *testing.T) {
	fake := &fakeEnqueuer{}
	c := NewJobsCLIWithEnqueuer(fake)
	ctx := context.Background()

	_, err := c.Trigger(ctx, JobBatchFormation)
	require.NoError(t, err)
	assert.Equal(t, []string{"manual"}, fake.triggers)

	_, err = c.Trigger(ctx, JobETARefresh, "o-42")
	require.NoError(t, err)
	_, err = c.Trigger(ctx, JobETARefresh, "batch:b-7")
	require.NoError(t, err)
	assert.Equal(t, []jobs.ETARefreshPayload{{OrderID: "o-42"}, {BatchID: "b-7"}}, fake.refresh)

	_, err = c.Trigger(ctx, JobETARefresh)
	assert.ErrorContains(t, err, "needs an order id")

	_, err = c.Trigger(ctx, "gl-integrity")
	assert.ErrorContains(t, err, "unsupported job")
}

func TestRun(t *testing.T) {
	c := NewJobsCLIWithEnqueuer(&fakeEnqueuer{})
	var out bytes.Buffer

	require.NoError(t, c.Run(context.Background(), []string{"trigger", JobBatchFormation}, &out))
	assert.Equal(t, "enqueued logistics:batch_formation id=t1 queue=default\n", out.String())

	assert.Error(t, c.Run(context.Background(), nil, &out))
	assert.Error(t, c.Run(context.Background(), []string{"trigger"}, &out))
	assert.ErrorContains(t, c.Run(context.Background(), []string{"inspect"}, &out), "inspector not configured")
	assert.ErrorContains(t, c.Run(context.Background(), []string{"purge"}, &out), "unknown command")
}

func TestNilCLI(t *testing.T) {
	var c *JobsCLI
	_, err := c.Trigger(context.Background(), JobBatchFormation)
	assert.Error(t, err)
}
