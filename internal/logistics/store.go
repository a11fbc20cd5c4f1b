package logistics

import (
	"context"
	"time"
)

// OrderFilter selects orders. Zero values do not filter.
type OrderFilter struct {
	IDs             []string
	Status          OrderStatus
	Unbatched       bool
	IsLocalDelivery *bool
}

// OrderPatch lists the fields to overwrite. Nil fields are left alone.
type OrderPatch struct {
	Status                *OrderStatus
	BatchID               *string
	WarehouseID           *string
	EstimatedDeliveryTime *time.Time
}

// IsEmpty reports whether the patch changes nothing.
func (p OrderPatch) IsEmpty() bool {
	return p.Status == nil && p.BatchID == nil && p.WarehouseID == nil && p.EstimatedDeliveryTime == nil
}

// BatchFilter selects batches for listing.
type BatchFilter struct {
	WarehouseID string
	Type        BatchType
	Status      BatchStatus
	Limit       int
}

// Reader exposes read access to orders, warehouses and batches.
type Reader interface {
	// FindOrders returns matching orders ordered by created_at ascending,
	// items included.
	FindOrders(ctx context.Context, filter OrderFilter) ([]Order, error)
	FindOrder(ctx context.Context, id string) (Order, error)
	FindWarehouse(ctx context.Context, id string) (Warehouse, error)
	ListWarehouses(ctx context.Context) ([]Warehouse, error)
	// FindBatch returns the batch with its member order ids.
	FindBatch(ctx context.Context, id string) (Batch, error)
	ListBatches(ctx context.Context, filter BatchFilter) ([]Batch, error)
}

// Tx exposes the writes that must commit together.
type Tx interface {
	CreateBatch(ctx context.Context, batch Batch) error
	// UpdateOrders applies patch to every order matching filter and returns
	// the ids that were actually updated.
	UpdateOrders(ctx context.Context, filter OrderFilter, patch OrderPatch) ([]string, error)
	UpdateBatchTotals(ctx context.Context, batch Batch) error
}

// Store is the persistence port consumed by the scheduler and estimator.
type Store interface {
	Reader
	UpdateOrders(ctx context.Context, filter OrderFilter, patch OrderPatch) ([]string, error)
	WithTx(ctx context.Context, fn func(context.Context, Tx) error) error
}
