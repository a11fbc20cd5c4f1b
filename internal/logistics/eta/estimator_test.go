package eta

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-logistics/internal/logistics"
	"github.com/odyssey-erp/odyssey-logistics/internal/logistics/geo"
	"github.com/odyssey-erp/odyssey-logistics/internal/logistics/memstore"
)

var (
	created = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	tunis   = geo.Point{Lat: 36.8065, Lon: 10.1815}
	sousse  = geo.Point{Lat: 35.8245, Lon: 10.6346}
)

func mustItem(t *testing.T, qty int, fragile, perishable bool) logistics.OrderItem {
	t.Helper()
	it, err := logistics.NewOrderItem(qty, 2, "10x10x10", fragile, perishable)
	require.NoError(t, err)
	return it
}

func newStore(t *testing.T) *memstore.Store {
	t.Helper()
	s := memstore.New()
	s.PutWarehouse(logistics.Warehouse{ID: "wh-tunis", Governorate: "Tunis", Location: tunis})
	s.PutWarehouse(logistics.Warehouse{ID: "wh-sousse", Governorate: "Sousse", Location: sousse})
	return s
}

func TestHandlingTime(t *testing.T) {
	cfg := DefaultConfig()
	items := []logistics.OrderItem{
		mustItem(t, 2, false, false),
		mustItem(t, 1, true, true),
	}
	assert.Equal(t, 23*time.Minute, cfg.HandlingTime(items))
	assert.Zero(t, cfg.HandlingTime(nil))
}

func TestEstimateLocalSamePoint(t *testing.T) {
	e := NewEstimator(newStore(t), DefaultConfig(), nil)
	p := tunis
	order := logistics.Order{
		ID:              "o1",
		IsLocalDelivery: true,
		Pickup:          &p,
		Drop:            &p,
		CreatedAt:       created,
		Items:           []logistics.OrderItem{mustItem(t, 1, true, false)},
	}

	at, err := e.Estimate(context.Background(), order)
	require.NoError(t, err)
	assert.Equal(t, created.Add(10*time.Minute), at)
}

func TestEstimateLocalAntipodalStaysFinite(t *testing.T) {
	e := NewEstimator(newStore(t), DefaultConfig(), nil)
	pickup := geo.Point{Lat: -88.5, Lon: -179.5}
	drop := geo.Point{Lat: 88.5, Lon: 0.5}
	order := logistics.Order{ID: "far", IsLocalDelivery: true, Pickup: &pickup, Drop: &drop, CreatedAt: created}

	at, err := e.Estimate(context.Background(), order)
	require.NoError(t, err)
	assert.True(t, at.After(created.Add(30*24*time.Hour)), at)
	assert.True(t, at.Before(created.Add(40*24*time.Hour)), at)
}

func TestEstimateLocalDefaultDistance(t *testing.T) {
	e := NewEstimator(newStore(t), DefaultConfig(), nil)
	order := logistics.Order{IsLocalDelivery: true, CreatedAt: created}

	at, err := e.Estimate(context.Background(), order)
	require.NoError(t, err)
	// 5 km at 30 km/h is 10 minutes, plus 20% traffic buffer.
	assert.Equal(t, created.Add(12*time.Minute), at)
}

func TestEstimateIntercityDefaults(t *testing.T) {
	e := NewEstimator(newStore(t), DefaultConfig(), nil)
	order := logistics.Order{
		ID:                   "o1",
		WarehouseID:          "wh-tunis",
		SecondaryWarehouseID: "wh-unknown",
		CreatedAt:            created,
		Items:                []logistics.OrderItem{mustItem(t, 1, false, false)},
	}

	at, err := e.Estimate(context.Background(), order)
	require.NoError(t, err)
	assert.Equal(t, created.Add(375*time.Minute+5*time.Minute), at)
	assert.GreaterOrEqual(t, at.Sub(created), 375*time.Minute)
}

func TestEstimateIntercityResolved(t *testing.T) {
	e := NewEstimator(newStore(t), DefaultConfig(), nil)
	order := logistics.Order{
		WarehouseID:          "wh-tunis",
		SecondaryWarehouseID: "wh-sousse",
		Pickup:               &tunis,
		Drop:                 &sousse,
		CreatedAt:            created,
	}

	plan, err := e.Plan(context.Background(), order)
	require.NoError(t, err)
	require.Len(t, plan.Segments, 5)
	assert.Zero(t, plan.Segments[0].Duration)
	assert.Equal(t, SegmentLineHaul, plan.Segments[2].Name)
	// Roughly 120 km at 60 km/h.
	assert.InDelta(t, float64(2*time.Hour), float64(plan.Segments[2].Duration), float64(3*time.Minute))
	assert.Zero(t, plan.Segments[4].Duration)
	assert.Equal(t, 60*time.Minute, plan.Total()-plan.Segments[2].Duration)
}

func TestUpdateOrderEstimatedDeliveryTimeIdempotent(t *testing.T) {
	store := newStore(t)
	store.PutOrder(logistics.Order{ID: "o1", IsLocalDelivery: true, CreatedAt: created, Items: []logistics.OrderItem{mustItem(t, 1, false, true)}})
	e := NewEstimator(store, DefaultConfig(), nil)
	ctx := context.Background()

	first, err := e.UpdateOrderEstimatedDeliveryTime(ctx, "o1")
	require.NoError(t, err)
	second, err := e.UpdateOrderEstimatedDeliveryTime(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	o, err := store.FindOrder(ctx, "o1")
	require.NoError(t, err)
	require.NotNil(t, o.EstimatedDeliveryTime)
	assert.Equal(t, first, *o.EstimatedDeliveryTime)

	_, err = e.UpdateOrderEstimatedDeliveryTime(ctx, "missing")
	assert.ErrorIs(t, err, logistics.ErrOrderNotFound)
}

func TestUpdateBatchEstimatedDeliveryTimes(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	for _, id := range []string{"o1", "o2"} {
		store.PutOrder(logistics.Order{ID: id, BatchID: "b1", IsLocalDelivery: true, CreatedAt: created})
	}
	require.NoError(t, store.WithTx(ctx, func(ctx context.Context, tx logistics.Tx) error {
		return tx.CreateBatch(ctx, logistics.Batch{ID: "b1"})
	}))
	e := NewEstimator(store, DefaultConfig(), nil)

	res, err := e.UpdateBatchEstimatedDeliveryTimes(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Updated)
	assert.Empty(t, res.Failed)

	_, err = e.UpdateBatchEstimatedDeliveryTimes(ctx, "nope")
	assert.ErrorIs(t, err, logistics.ErrBatchNotFound)
}

// flakyStore fails warehouse lookups for one order's source warehouse.
type flakyStore struct {
	*memstore.Store
	failWarehouse string
}

func (f *flakyStore) FindWarehouse(ctx context.Context, id string) (logistics.Warehouse, error) {
	if id == f.failWarehouse {
		return logistics.Warehouse{}, context.DeadlineExceeded
	}
	return f.Store.FindWarehouse(ctx, id)
}

func TestUpdateBatchContinuesOnMemberFailure(t *testing.T) {
	store := &flakyStore{Store: newStore(t), failWarehouse: "wh-broken"}
	ctx := context.Background()
	store.PutOrder(logistics.Order{ID: "ok", BatchID: "b1", IsLocalDelivery: true, CreatedAt: created})
	store.PutOrder(logistics.Order{ID: "bad", BatchID: "b1", WarehouseID: "wh-broken", CreatedAt: created.Add(time.Minute)})
	require.NoError(t, store.WithTx(ctx, func(ctx context.Context, tx logistics.Tx) error {
		return tx.CreateBatch(ctx, logistics.Batch{ID: "b1"})
	}))
	e := NewEstimator(store, DefaultConfig(), nil)

	res, err := e.UpdateBatchEstimatedDeliveryTimes(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "bad", res.Failed[0].OrderID)
}

func TestRecalculateForStatus(t *testing.T) {
	store := newStore(t)
	now := created.Add(6 * time.Hour)
	store.PutOrder(logistics.Order{ID: "ic", WarehouseID: "wh-tunis", SecondaryWarehouseID: "wh-x", CreatedAt: created})
	store.PutOrder(logistics.Order{ID: "local", IsLocalDelivery: true, CreatedAt: created})
	e := NewEstimator(store, DefaultConfig(), nil)
	e.SetClock(func() time.Time { return now })
	ctx := context.Background()

	tests := []struct {
		status logistics.OrderStatus
		after  time.Duration
	}{
		{logistics.OrderStatusPending, 375 * time.Minute},
		{logistics.OrderStatusPickupComplete, 345 * time.Minute},
		{logistics.OrderStatusInTransit, 315 * time.Minute},
		{logistics.OrderStatusAtDestinationWH, 75 * time.Minute},
		{logistics.OrderStatusOutForDelivery, 45 * time.Minute},
		{logistics.OrderStatusDelivered, 0},
	}
	for _, tc := range tests {
		t.Run(string(tc.status), func(t *testing.T) {
			at, err := e.RecalculateForStatus(ctx, "ic", tc.status)
			require.NoError(t, err)
			assert.Equal(t, now.Add(tc.after), at)
		})
	}

	at, err := e.RecalculateForStatus(ctx, "local", logistics.OrderStatusOutForDelivery)
	require.NoError(t, err)
	assert.Equal(t, now.Add(12*time.Minute), at)

	_, err = e.RecalculateForStatus(ctx, "ic", logistics.OrderStatusCancelled)
	assert.ErrorIs(t, err, logistics.ErrNotEstimable)
	_, err = e.RecalculateForStatus(ctx, "ic", logistics.OrderStatus("LOST"))
	assert.ErrorIs(t, err, logistics.ErrNotEstimable)
}
