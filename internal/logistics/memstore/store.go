// Package memstore is an in-memory logistics.Store used by tests and by the
// STORE_DRIVER=memory development mode.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/odyssey-erp/odyssey-logistics/internal/logistics"
)

// ErrDuplicateBatch is returned when a batch id is inserted twice.
var ErrDuplicateBatch = errors.New("memstore: duplicate batch id")

// Store keeps orders, batches and warehouses behind a single mutex.
// Transactions run on a copy that replaces the live state on commit.
type Store struct {
	mu    sync.RWMutex
	state *state
}

type state struct {
	orders     map[string]logistics.Order
	batches    map[string]logistics.Batch
	warehouses map[string]logistics.Warehouse
}

// New returns an empty store.
func New() *Store {
	return &Store{state: &state{
		orders:     make(map[string]logistics.Order),
		batches:    make(map[string]logistics.Batch),
		warehouses: make(map[string]logistics.Warehouse),
	}}
}

var _ logistics.Store = (*Store)(nil)

// PutOrder inserts or replaces an order.
func (s *Store) PutOrder(order logistics.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.orders[order.ID] = cloneOrder(order)
}

// PutWarehouse inserts or replaces a warehouse.
func (s *Store) PutWarehouse(wh logistics.Warehouse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wh.Coverage = slices.Clone(wh.Coverage)
	s.state.warehouses[wh.ID] = wh
}

// ============================================================================
// READS
// ============================================================================

func (s *Store) FindOrders(ctx context.Context, filter logistics.OrderFilter) ([]logistics.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.findOrders(filter), nil
}

func (s *Store) FindOrder(ctx context.Context, id string) (logistics.Order, error) {
	if err := ctx.Err(); err != nil {
		return logistics.Order{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	order, ok := s.state.orders[id]
	if !ok {
		return logistics.Order{}, logistics.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

func (s *Store) FindWarehouse(ctx context.Context, id string) (logistics.Warehouse, error) {
	if err := ctx.Err(); err != nil {
		return logistics.Warehouse{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	wh, ok := s.state.warehouses[id]
	if !ok {
		return logistics.Warehouse{}, logistics.ErrWarehouseNotFound
	}
	return wh, nil
}

func (s *Store) ListWarehouses(ctx context.Context) ([]logistics.Warehouse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]logistics.Warehouse, 0, len(s.state.warehouses))
	for _, wh := range s.state.warehouses {
		out = append(out, wh)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) FindBatch(ctx context.Context, id string) (logistics.Batch, error) {
	if err := ctx.Err(); err != nil {
		return logistics.Batch{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	batch, ok := s.state.batches[id]
	if !ok {
		return logistics.Batch{}, logistics.ErrBatchNotFound
	}
	batch.OrderIDs = s.state.memberIDs(id)
	return batch, nil
}

func (s *Store) ListBatches(ctx context.Context, filter logistics.BatchFilter) ([]logistics.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []logistics.Batch
	for _, b := range s.state.batches {
		if filter.WarehouseID != "" && b.WarehouseID != filter.WarehouseID {
			continue
		}
		if filter.Type != "" && b.Type != filter.Type {
			continue
		}
		if filter.Status != "" && b.Status != filter.Status {
			continue
		}
		b.OrderIDs = s.state.memberIDs(b.ID)
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// ============================================================================
// WRITES
// ============================================================================

func (s *Store) UpdateOrders(ctx context.Context, filter logistics.OrderFilter, patch logistics.OrderPatch) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.updateOrders(filter, patch), nil
}

// WithTx runs fn against a snapshot and publishes it only when fn succeeds.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, logistics.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	if err := fn(ctx, &tx{state: snapshot}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("memstore: commit: %w", err)
	}
	s.state = snapshot
	return nil
}

type tx struct {
	state *state
}

func (t *tx) CreateBatch(ctx context.Context, batch logistics.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, exists := t.state.batches[batch.ID]; exists {
		return ErrDuplicateBatch
	}
	batch.OrderIDs = nil
	t.state.batches[batch.ID] = batch
	return nil
}

func (t *tx) UpdateOrders(ctx context.Context, filter logistics.OrderFilter, patch logistics.OrderPatch) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return t.state.updateOrders(filter, patch), nil
}

func (t *tx) UpdateBatchTotals(ctx context.Context, batch logistics.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	current, ok := t.state.batches[batch.ID]
	if !ok {
		return logistics.ErrBatchNotFound
	}
	current.TotalWeight = batch.TotalWeight
	current.TotalVolume = batch.TotalVolume
	current.OrderCount = batch.OrderCount
	current.VehicleClass = batch.VehicleClass
	current.NeedsReview = batch.NeedsReview
	t.state.batches[batch.ID] = current
	return nil
}

// ============================================================================
// STATE HELPERS
// ============================================================================

func (st *state) clone() *state {
	out := &state{
		orders:     make(map[string]logistics.Order, len(st.orders)),
		batches:    make(map[string]logistics.Batch, len(st.batches)),
		warehouses: st.warehouses,
	}
	for id, o := range st.orders {
		out.orders[id] = cloneOrder(o)
	}
	for id, b := range st.batches {
		out.batches[id] = b
	}
	return out
}

func (st *state) findOrders(filter logistics.OrderFilter) []logistics.Order {
	var out []logistics.Order
	for _, o := range st.orders {
		if matches(o, filter) {
			out = append(out, cloneOrder(o))
		}
	}
	sortOrders(out)
	return out
}

func (st *state) updateOrders(filter logistics.OrderFilter, patch logistics.OrderPatch) []string {
	if patch.IsEmpty() {
		return nil
	}
	matched := st.findOrders(filter)
	ids := make([]string, 0, len(matched))
	for _, o := range matched {
		current := st.orders[o.ID]
		if patch.Status != nil {
			current.Status = *patch.Status
		}
		if patch.BatchID != nil {
			current.BatchID = *patch.BatchID
		}
		if patch.WarehouseID != nil {
			current.WarehouseID = *patch.WarehouseID
		}
		if patch.EstimatedDeliveryTime != nil {
			at := *patch.EstimatedDeliveryTime
			current.EstimatedDeliveryTime = &at
		}
		st.orders[o.ID] = current
		ids = append(ids, o.ID)
	}
	return ids
}

func (st *state) memberIDs(batchID string) []string {
	var members []logistics.Order
	for _, o := range st.orders {
		if o.BatchID == batchID {
			members = append(members, o)
		}
	}
	sortOrders(members)
	ids := make([]string, len(members))
	for i, o := range members {
		ids[i] = o.ID
	}
	return ids
}

func matches(o logistics.Order, f logistics.OrderFilter) bool {
	if len(f.IDs) > 0 && !slices.Contains(f.IDs, o.ID) {
		return false
	}
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	if f.Unbatched && o.Batched() {
		return false
	}
	if f.IsLocalDelivery != nil && o.IsLocalDelivery != *f.IsLocalDelivery {
		return false
	}
	return true
}

func sortOrders(orders []logistics.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.Before(orders[j].CreatedAt)
		}
		return orders[i].ID < orders[j].ID
	})
}

func cloneOrder(o logistics.Order) logistics.Order {
	o.Items = slices.Clone(o.Items)
	if o.Pickup != nil {
		p := *o.Pickup
		o.Pickup = &p
	}
	if o.Drop != nil {
		p := *o.Drop
		o.Drop = &p
	}
	if o.EstimatedDeliveryTime != nil {
		at := *o.EstimatedDeliveryTime
		o.EstimatedDeliveryTime = &at
	}
	return o
}
