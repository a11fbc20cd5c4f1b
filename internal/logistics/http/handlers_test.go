package logistichttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-logistics/internal/logistics"
	"github.com/odyssey-erp/odyssey-logistics/internal/logistics/batching"
	"github.com/odyssey-erp/odyssey-logistics/internal/logistics/eta"
	"github.com/odyssey-erp/odyssey-logistics/internal/logistics/geo"
	"github.com/odyssey-erp/odyssey-logistics/internal/logistics/memstore"
)

var created = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type stubEnqueuer struct {
	triggers []string
	err      error
}

func (s *stubEnqueuer) EnqueueBatchFormation(_ context.Context, trigger string) (*asynq.TaskInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.triggers = append(s.triggers, trigger)
	return &asynq.TaskInfo{ID: "task-1", Queue: "default"}, nil
}

func newTestServer(t *testing.T) (*memstore.Store, *Handler, http.Handler) {
	t.Helper()
	store := memstore.New()
	store.PutWarehouse(logistics.Warehouse{ID: "wh-tunis", Governorate: "Tunis", Location: geo.Point{Lat: 36.8065, Lon: 10.1815}})
	store.PutOrder(logistics.Order{ID: "o1", IsLocalDelivery: true, CreatedAt: created})
	store.PutOrder(logistics.Order{ID: "o2", WarehouseID: "wh-tunis", BatchID: "b1", Status: logistics.OrderStatusInTransit, CreatedAt: created})
	require.NoError(t, store.WithTx(context.Background(), func(ctx context.Context, tx logistics.Tx) error {
		return tx.CreateBatch(ctx, logistics.Batch{
			ID:          "b1",
			WarehouseID: "wh-tunis",
			Type:        logistics.BatchTypeIntercity,
			Status:      logistics.BatchStatusCollecting,
			OrderCount:  1,
			CreatedAt:   created,
		})
	}))

	estimator := eta.NewEstimator(store, eta.DefaultConfig(), nil)
	estimator.SetClock(func() time.Time { return created.Add(time.Hour) })
	h := NewHandler(store, estimator, nil)
	r := chi.NewRouter()
	r.Route("/api/v1", h.MountRoutes)
	return store, h, r
}

func do(t *testing.T, srv http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestRunBatchingEnqueues(t *testing.T) {
	_, h, srv := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/v1/batching/run", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	enq := &stubEnqueuer{}
	h.SetEnqueuer(enq)
	rec = do(t, srv, http.MethodPost, "/api/v1/batching/run", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"task_id":"task-1","queue":"default"}`, rec.Body.String())
	assert.Equal(t, []string{"api"}, enq.triggers)

	h.SetEnqueuer(&stubEnqueuer{err: errors.New("redis down")})
	rec = do(t, srv, http.MethodPost, "/api/v1/batching/run", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRunBatchingWait(t *testing.T) {
	store, h, srv := newTestServer(t)
	scheduler := batching.NewScheduler(store, batching.DefaultConfig(), nil)
	scheduler.SetClock(func() time.Time { return created.Add(time.Minute) })
	h.SetRunner(scheduler)

	rec := do(t, srv, http.MethodPost, "/api/v1/batching/run?wait=true", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp tickResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Stages, 3)
	assert.Equal(t, logistics.BatchTypeLocalPickup, resp.Stages[0].Type)
	assert.False(t, resp.Failed)
}

func TestListAndGetBatches(t *testing.T) {
	_, _, srv := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/api/v1/batches?type=intercity", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Batches []logistics.Batch `json:"batches"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Batches, 1)
	assert.Equal(t, "b1", list.Batches[0].ID)

	rec = do(t, srv, http.MethodGet, "/api/v1/batches?type=LOCAL_PICKUP", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"batches":[]}`, rec.Body.String())

	rec = do(t, srv, http.MethodGet, "/api/v1/batches/b1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var batch logistics.Batch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &batch))
	assert.Equal(t, []string{"o2"}, batch.OrderIDs)

	rec = do(t, srv, http.MethodGet, "/api/v1/batches/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestListBatchesValidation(t *testing.T) {
	_, _, srv := newTestServer(t)

	for _, q := range []string{"type=TRUCK", "status=LOST", "limit=0", "limit=abc", "limit=501"} {
		rec := do(t, srv, http.MethodGet, "/api/v1/batches?"+q, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestUpdateOrderETA(t *testing.T) {
	store, _, srv := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/v1/orders/o1/eta", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp etaResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	// Default 5 km local trip: 10 minutes plus 20% buffer.
	assert.Equal(t, created.Add(12*time.Minute), resp.EstimatedDeliveryTime.UTC())

	o, err := store.FindOrder(context.Background(), "o1")
	require.NoError(t, err)
	require.NotNil(t, o.EstimatedDeliveryTime)

	rec = do(t, srv, http.MethodPost, "/api/v1/orders/missing/eta", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecalculateOrderETA(t *testing.T) {
	_, _, srv := newTestServer(t)
	now := created.Add(time.Hour)

	rec := do(t, srv, http.MethodPost, "/api/v1/orders/o2/eta/recalculate", `{"status":"OUT_FOR_DELIVERY"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp etaResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	// Only the default last mile remains.
	assert.Equal(t, now.Add(45*time.Minute), resp.EstimatedDeliveryTime.UTC())

	rec = do(t, srv, http.MethodPost, "/api/v1/orders/o2/eta/recalculate", `{"status":"CANCELLED"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/v1/orders/o2/eta/recalculate", `{"status":"LOST"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/v1/orders/o2/eta/recalculate", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateBatchETA(t *testing.T) {
	_, _, srv := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/v1/batches/b1/eta", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"batch_id":"b1","updated":1}`, rec.Body.String())

	rec = do(t, srv, http.MethodPost, "/api/v1/batches/nope/eta", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
