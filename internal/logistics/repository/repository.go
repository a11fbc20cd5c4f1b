// Package repository provides PostgreSQL backed persistence for orders,
// warehouses and batches.
package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-logistics/internal/logistics"
	"github.com/odyssey-erp/odyssey-logistics/internal/logistics/geo"
	"github.com/odyssey-erp/odyssey-logistics/internal/platform/db"
)

// Schema creates the tables used by the repository.
//
//go:embed schema.sql
var Schema string

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Repository implements logistics.Store on top of a pgx pool.
type Repository struct {
	queries
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{queries: queries{q: pool}, pool: pool}
}

// Migrate applies the embedded schema.
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("repository: migrate: %w", err)
	}
	return nil
}

// WithTx runs fn in a read-committed transaction. Claims rely on the
// re-evaluation of UPDATE predicates under read committed: a row another
// transaction batched first no longer matches and is not returned.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, logistics.Tx) error) error {
	return db.WithTxOptions(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, &queries{q: tx})
	})
}

type queries struct {
	q querier
}

// ============================================================================
// ORDERS
// ============================================================================

const orderColumns = `id, seller_id, warehouse_id, secondary_warehouse_id, status, batch_id,
	is_local_delivery, pickup_latitude, pickup_longitude, drop_latitude, drop_longitude,
	pickup_governorate, drop_governorate, estimated_delivery_time, created_at`

// FindOrders returns matching orders ordered by created_at, items included.
func (s *queries) FindOrders(ctx context.Context, filter logistics.OrderFilter) ([]logistics.Order, error) {
	where, args := orderWhere(filter, 1)
	query := "SELECT " + orderColumns + " FROM orders" + where + " ORDER BY created_at, id"
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: find orders: %w", err)
	}
	defer rows.Close()

	var orders []logistics.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: find orders: %w", err)
	}
	if err := s.attachItems(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// FindOrder returns one order with its items.
func (s *queries) FindOrder(ctx context.Context, id string) (logistics.Order, error) {
	row := s.q.QueryRow(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return logistics.Order{}, logistics.ErrOrderNotFound
		}
		return logistics.Order{}, fmt.Errorf("repository: find order %s: %w", id, err)
	}
	orders := []logistics.Order{o}
	if err := s.attachItems(ctx, orders); err != nil {
		return logistics.Order{}, err
	}
	return orders[0], nil
}

// attachItems loads the items of orders in one query. An item failing
// validation marks its order defective; the remaining items are kept.
func (s *queries) attachItems(ctx context.Context, orders []logistics.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	index := make(map[string]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		index[o.ID] = i
	}
	rows, err := s.q.Query(ctx, `
		SELECT order_id, quantity, weight, dimensions, fragile, perishable
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, id`, ids)
	if err != nil {
		return fmt.Errorf("repository: find order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID, dims       string
			qty                 int
			weight              float64
			fragile, perishable bool
		)
		if err := rows.Scan(&orderID, &qty, &weight, &dims, &fragile, &perishable); err != nil {
			return fmt.Errorf("repository: scan order item: %w", err)
		}
		i, ok := index[orderID]
		if !ok {
			continue
		}
		item, err := logistics.NewOrderItem(qty, weight, dims, fragile, perishable)
		if err != nil && orders[i].Defect == nil {
			orders[i].Defect = fmt.Errorf("item %d: %w", len(orders[i].Items), err)
		}
		orders[i].Items = append(orders[i].Items, item)
	}
	return rows.Err()
}

// UpdateOrders patches every matching order and returns the updated ids.
func (s *queries) UpdateOrders(ctx context.Context, filter logistics.OrderFilter, patch logistics.OrderPatch) ([]string, error) {
	if patch.IsEmpty() {
		return nil, nil
	}
	set, args := orderSet(patch)
	where, whereArgs := orderWhere(filter, len(args)+1)
	args = append(args, whereArgs...)
	query := "UPDATE orders SET " + set + where + " RETURNING id"

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: update orders: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("repository: update orders: %w", err)
	}
	return ids, nil
}

// orderWhere renders filter as a WHERE clause with placeholders numbered
// from start. An empty filter renders an empty clause.
func orderWhere(filter logistics.OrderFilter, start int) (string, []any) {
	var (
		conditions []string
		args       []any
	)
	next := func(cond string, arg any) {
		conditions = append(conditions, fmt.Sprintf(cond, start+len(args)))
		args = append(args, arg)
	}
	if len(filter.IDs) > 0 {
		next("id = ANY($%d)", filter.IDs)
	}
	if filter.Status != "" {
		next("status = $%d", string(filter.Status))
	}
	if filter.Unbatched {
		conditions = append(conditions, "batch_id IS NULL")
	}
	if filter.IsLocalDelivery != nil {
		next("is_local_delivery = $%d", *filter.IsLocalDelivery)
	}
	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// orderSet renders the SET list of a patch with placeholders from $1.
func orderSet(patch logistics.OrderPatch) (string, []any) {
	var (
		sets []string
		args []any
	)
	add := func(col string, arg any) {
		args = append(args, arg)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if patch.Status != nil {
		add("status", string(*patch.Status))
	}
	if patch.BatchID != nil {
		add("batch_id", nullString(*patch.BatchID))
	}
	if patch.WarehouseID != nil {
		add("warehouse_id", nullString(*patch.WarehouseID))
	}
	if patch.EstimatedDeliveryTime != nil {
		add("estimated_delivery_time", patch.EstimatedDeliveryTime.UTC())
	}
	sets = append(sets, "updated_at = now()")
	return strings.Join(sets, ", "), args
}

func scanOrder(row pgx.Row) (logistics.Order, error) {
	var (
		o                             logistics.Order
		status                        string
		warehouseID, secondary, batch *string
		pickupLat, pickupLon          *float64
		dropLat, dropLon              *float64
		eta                           *time.Time
	)
	err := row.Scan(
		&o.ID, &o.SellerID, &warehouseID, &secondary, &status, &batch,
		&o.IsLocalDelivery, &pickupLat, &pickupLon, &dropLat, &dropLon,
		&o.PickupGovernorate, &o.DropGovernorate, &eta, &o.CreatedAt,
	)
	if err != nil {
		return logistics.Order{}, err
	}
	o.Status = logistics.OrderStatus(status)
	o.WarehouseID = deref(warehouseID)
	o.SecondaryWarehouseID = deref(secondary)
	o.BatchID = deref(batch)
	o.Pickup = point(pickupLat, pickupLon)
	o.Drop = point(dropLat, dropLon)
	o.CreatedAt = o.CreatedAt.UTC()
	if eta != nil {
		t := eta.UTC()
		o.EstimatedDeliveryTime = &t
	}
	return o, nil
}

// ============================================================================
// WAREHOUSES
// ============================================================================

const warehouseColumns = "id, code, name, governorate, coverage, latitude, longitude"

// FindWarehouse returns one warehouse.
func (s *queries) FindWarehouse(ctx context.Context, id string) (logistics.Warehouse, error) {
	wh, err := scanWarehouse(s.q.QueryRow(ctx, "SELECT "+warehouseColumns+" FROM warehouses WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return logistics.Warehouse{}, logistics.ErrWarehouseNotFound
		}
		return logistics.Warehouse{}, fmt.Errorf("repository: find warehouse %s: %w", id, err)
	}
	return wh, nil
}

// ListWarehouses returns every warehouse ordered by id.
func (s *queries) ListWarehouses(ctx context.Context) ([]logistics.Warehouse, error) {
	rows, err := s.q.Query(ctx, "SELECT "+warehouseColumns+" FROM warehouses ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("repository: list warehouses: %w", err)
	}
	defer rows.Close()
	var out []logistics.Warehouse
	for rows.Next() {
		wh, err := scanWarehouse(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: scan warehouse: %w", err)
		}
		out = append(out, wh)
	}
	return out, rows.Err()
}

func scanWarehouse(row pgx.Row) (logistics.Warehouse, error) {
	var wh logistics.Warehouse
	err := row.Scan(&wh.ID, &wh.Code, &wh.Name, &wh.Governorate, &wh.Coverage, &wh.Location.Lat, &wh.Location.Lon)
	return wh, err
}

// ============================================================================
// BATCHES
// ============================================================================

const batchColumns = `id, warehouse_id, type, status, total_weight, total_volume, order_count,
	vehicle_class, needs_review, created_at`

// CreateBatch inserts a new batch row.
func (s *queries) CreateBatch(ctx context.Context, b logistics.Batch) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO batches (`+batchColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		b.ID, b.WarehouseID, string(b.Type), string(b.Status), b.TotalWeight, b.TotalVolume,
		b.OrderCount, string(b.VehicleClass), b.NeedsReview, b.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("repository: create batch %s: %w", b.ID, err)
	}
	return nil
}

// UpdateBatchTotals rewrites the aggregate columns of a batch.
func (s *queries) UpdateBatchTotals(ctx context.Context, b logistics.Batch) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE batches
		SET total_weight = $2, total_volume = $3, order_count = $4, vehicle_class = $5, needs_review = $6
		WHERE id = $1`,
		b.ID, b.TotalWeight, b.TotalVolume, b.OrderCount, string(b.VehicleClass), b.NeedsReview,
	)
	if err != nil {
		return fmt.Errorf("repository: update batch %s: %w", b.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return logistics.ErrBatchNotFound
	}
	return nil
}

// FindBatch returns a batch with the ids of the orders currently in it.
func (s *queries) FindBatch(ctx context.Context, id string) (logistics.Batch, error) {
	b, err := scanBatch(s.q.QueryRow(ctx, "SELECT "+batchColumns+" FROM batches WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return logistics.Batch{}, logistics.ErrBatchNotFound
		}
		return logistics.Batch{}, fmt.Errorf("repository: find batch %s: %w", id, err)
	}
	rows, err := s.q.Query(ctx, "SELECT id FROM orders WHERE batch_id = $1 ORDER BY created_at, id", id)
	if err != nil {
		return logistics.Batch{}, fmt.Errorf("repository: find batch members %s: %w", id, err)
	}
	members, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return logistics.Batch{}, fmt.Errorf("repository: find batch members %s: %w", id, err)
	}
	b.OrderIDs = members
	return b, nil
}

// ListBatches returns batches newest first.
func (s *queries) ListBatches(ctx context.Context, filter logistics.BatchFilter) ([]logistics.Batch, error) {
	where, args := batchWhere(filter)
	query := "SELECT " + batchColumns + " FROM batches" + where + " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: list batches: %w", err)
	}
	defer rows.Close()
	var out []logistics.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: scan batch: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func batchWhere(filter logistics.BatchFilter) (string, []any) {
	var (
		conditions []string
		args       []any
	)
	if filter.WarehouseID != "" {
		args = append(args, filter.WarehouseID)
		conditions = append(conditions, fmt.Sprintf("warehouse_id = $%d", len(args)))
	}
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		conditions = append(conditions, fmt.Sprintf("type = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func scanBatch(row pgx.Row) (logistics.Batch, error) {
	var (
		b                    logistics.Batch
		typ, status, vehicle string
	)
	err := row.Scan(&b.ID, &b.WarehouseID, &typ, &status, &b.TotalWeight, &b.TotalVolume,
		&b.OrderCount, &vehicle, &b.NeedsReview, &b.CreatedAt)
	if err != nil {
		return logistics.Batch{}, err
	}
	b.Type = logistics.BatchType(typ)
	b.Status = logistics.BatchStatus(status)
	b.VehicleClass = logistics.VehicleClass(vehicle)
	b.CreatedAt = b.CreatedAt.UTC()
	return b, nil
}

// ============================================================================
// HELPERS
// ============================================================================

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func point(lat, lon *float64) *geo.Point {
	if lat == nil || lon == nil {
		return nil
	}
	return &geo.Point{Lat: *lat, Lon: *lon}
}

var (
	_ logistics.Store = (*Repository)(nil)
	_ logistics.Tx    = (*queries)(nil)
)
