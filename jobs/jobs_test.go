package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-erp/odyssey-logistics/internal/jobs"
	"github.com/odyssey-erp/odyssey-logistics/internal/logistics"
	"github.com/odyssey-erp/odyssey-logistics/internal/logistics/batching"
	"github.com/odyssey-erp/odyssey-logistics/internal/logistics/eta"
	"github.com/odyssey-erp/odyssey-logistics/internal/platform/cache"
)

type stubRunner struct {
	mu      sync.Mutex
	calls   int
	summary batching.TickSummary
	block   chan struct{}
}

func (s *stubRunner) ProcessBatches(ctx context.Context) batching.TickSummary {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.block != nil {
		<-s.block
	}
	return s.summary
}

type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
	fail bool
}

func (p *recordingPublisher) Publish(_ context.Context, key string, value any) error {
	if p.fail {
		return errors.New("broker down")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	if _, ok := value.(BatchFormedEvent); !ok {
		return errors.New("unexpected event type")
	}
	return nil
}

func testMetrics() *jobmetrics.Metrics {
	return jobmetrics.NewMetrics(prometheus.NewRegistry())
}

func sampleSummary() batching.TickSummary {
	return batching.TickSummary{Stages: []batching.StageSummary{
		{Type: logistics.BatchTypeLocalPickup, Batches: []logistics.Batch{{ID: "b1"}, {ID: "b2"}}},
		{Type: logistics.BatchTypeIntercity},
		{Type: logistics.BatchTypeLocalDelivery, Batches: []logistics.Batch{{ID: "b3"}}},
	}}
}

func mustTask(t *testing.T) *asynq.Task {
	t.Helper()
	task, err := NewBatchFormationTask("test")
	require.NoError(t, err)
	return task
}

func TestBatchFormationPublishesEvents(t *testing.T) {
	runner := &stubRunner{summary: sampleSummary()}
	pub := &recordingPublisher{}
	job := NewBatchFormationJob(runner, pub, nil, testMetrics())

	require.NoError(t, job.Handle(context.Background(), mustTask(t)))
	assert.Equal(t, 1, runner.calls)
	assert.Equal(t, []string{"b1", "b2", "b3"}, pub.keys)
}

func TestBatchFormationIgnoresPublishFailure(t *testing.T) {
	runner := &stubRunner{summary: sampleSummary()}
	job := NewBatchFormationJob(runner, &recordingPublisher{fail: true}, nil, testMetrics())

	assert.NoError(t, job.Handle(context.Background(), mustTask(t)))
}

func TestBatchFormationFailedTickDoesNotFailTask(t *testing.T) {
	summary := batching.TickSummary{Stages: []batching.StageSummary{
		{Type: logistics.BatchTypeLocalPickup, Err: errors.New("db down")},
	}}
	job := NewBatchFormationJob(&stubRunner{summary: summary}, nil, nil, testMetrics())

	assert.NoError(t, job.Handle(context.Background(), mustTask(t)))
}

func TestBatchFormationBadPayload(t *testing.T) {
	job := NewBatchFormationJob(&stubRunner{}, nil, nil, testMetrics())
	err := job.Handle(context.Background(), asynq.NewTask(TaskBatchFormation, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	var unset *BatchFormationJob
	assert.Error(t, unset.Handle(context.Background(), mustTask(t)))
}

func TestBatchFormationTickLock(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := cache.NewLocker(client, "test:")

	runner := &stubRunner{block: make(chan struct{})}
	job := NewBatchFormationJob(runner, nil, nil, testMetrics())
	job.SetLocker(locker, time.Minute)

	done := make(chan error, 1)
	go func() { done <- job.Handle(context.Background(), mustTask(t)) }()

	require.Eventually(t, func() bool {
		return srv.Exists("test:" + tickLockName)
	}, time.Second, 5*time.Millisecond)

	// A concurrent tick is dropped while the lock is held.
	second := NewBatchFormationJob(&stubRunner{}, nil, nil, testMetrics())
	second.SetLocker(locker, time.Minute)
	require.NoError(t, second.Handle(context.Background(), mustTask(t)))
	assert.Zero(t, second.Scheduler.(*stubRunner).calls)

	close(runner.block)
	require.NoError(t, <-done)
	assert.False(t, srv.Exists("test:"+tickLockName))
}

type stubEstimator struct {
	orderErr error
	batchErr error
	refresh  eta.BatchRefresh
	orders   []string
}

func (s *stubEstimator) UpdateOrderEstimatedDeliveryTime(_ context.Context, id string) (time.Time, error) {
	s.orders = append(s.orders, id)
	return time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC), s.orderErr
}

func (s *stubEstimator) UpdateBatchEstimatedDeliveryTimes(_ context.Context, id string) (eta.BatchRefresh, error) {
	return s.refresh, s.batchErr
}

func etaTask(t *testing.T, payload ETARefreshPayload) *asynq.Task {
	t.Helper()
	task, err := NewETARefreshTask(payload)
	require.NoError(t, err)
	return task
}

func TestETARefreshOrder(t *testing.T) {
	est := &stubEstimator{}
	job := NewETARefreshJob(est, nil, testMetrics())

	require.NoError(t, job.Handle(context.Background(), etaTask(t, ETARefreshPayload{OrderID: "o1"})))
	assert.Equal(t, []string{"o1"}, est.orders)
}

func TestETARefreshBatch(t *testing.T) {
	est := &stubEstimator{refresh: eta.BatchRefresh{BatchID: "b1", Updated: 2}}
	job := NewETARefreshJob(est, nil, testMetrics())

	require.NoError(t, job.Handle(context.Background(), etaTask(t, ETARefreshPayload{BatchID: "b1"})))
}

func TestETARefreshErrors(t *testing.T) {
	est := &stubEstimator{orderErr: logistics.ErrOrderNotFound}
	job := NewETARefreshJob(est, nil, testMetrics())
	err := job.Handle(context.Background(), etaTask(t, ETARefreshPayload{OrderID: "missing"}))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.ErrorIs(t, err, logistics.ErrOrderNotFound)

	transient := errors.New("connection reset")
	est = &stubEstimator{batchErr: transient}
	job = NewETARefreshJob(est, nil, testMetrics())
	err = job.Handle(context.Background(), etaTask(t, ETARefreshPayload{BatchID: "b1"}))
	assert.ErrorIs(t, err, transient)
	assert.NotErrorIs(t, err, asynq.SkipRetry)

	raw, err := json.Marshal(ETARefreshPayload{})
	require.NoError(t, err)
	err = job.Handle(context.Background(), asynq.NewTask(TaskETARefresh, raw))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestETARefreshPayloadValidate(t *testing.T) {
	assert.NoError(t, ETARefreshPayload{OrderID: "o1"}.Validate())
	assert.NoError(t, ETARefreshPayload{BatchID: "b1"}.Validate())
	assert.Error(t, ETARefreshPayload{}.Validate())
	assert.Error(t, ETARefreshPayload{OrderID: "o1", BatchID: "b1"}.Validate())

	_, err := NewETARefreshTask(ETARefreshPayload{OrderID: " "})
	assert.Error(t, err)
}

func TestHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(nil, nil).MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"queue":"default","pending":0,"active":0,"scheduled":0,"retry":0,"archived":0,"paused":false}`, rec.Body.String())
}

func TestNewWorkerRejectsBadCron(t *testing.T) {
	task, err := NewBatchFormationTask("cron")
	require.NoError(t, err)

	_, err = NewWorker(WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: "127.0.0.1:0"},
		Cron:      []CronRegistration{{Spec: "every tuesday", Task: task}},
	})
	assert.ErrorContains(t, err, "register cron every tuesday")
}
