// Package eta estimates and persists order delivery times.
package eta

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/odyssey-logistics/internal/logistics"
)

// Config holds speeds and fixed handling times.
type Config struct {
	LocalSpeedKmh          float64 `envconfig:"LOCAL_SPEED_KMH" default:"30"`
	IntercitySpeedKmh      float64 `envconfig:"INTERCITY_SPEED_KMH" default:"60"`
	TrafficBuffer          float64 `envconfig:"TRAFFIC_BUFFER" default:"0.2"`
	DefaultLocalDistanceKm float64 `envconfig:"DEFAULT_LOCAL_DISTANCE_KM" default:"5"`

	WarehouseProcessing time.Duration `envconfig:"WAREHOUSE_PROCESSING" default:"30m"`
	DefaultFirstMile    time.Duration `envconfig:"DEFAULT_FIRST_MILE" default:"30m"`
	DefaultLineHaul     time.Duration `envconfig:"DEFAULT_LINE_HAUL" default:"240m"`
	DefaultLastMile     time.Duration `envconfig:"DEFAULT_LAST_MILE" default:"45m"`

	BaseHandling       time.Duration `envconfig:"BASE_HANDLING" default:"5m"`
	FragileHandling    time.Duration `envconfig:"FRAGILE_HANDLING" default:"5m"`
	PerishableHandling time.Duration `envconfig:"PERISHABLE_HANDLING" default:"3m"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		LocalSpeedKmh:          30,
		IntercitySpeedKmh:      60,
		TrafficBuffer:          0.2,
		DefaultLocalDistanceKm: 5,
		WarehouseProcessing:    30 * time.Minute,
		DefaultFirstMile:       30 * time.Minute,
		DefaultLineHaul:        240 * time.Minute,
		DefaultLastMile:        45 * time.Minute,
		BaseHandling:           5 * time.Minute,
		FragileHandling:        5 * time.Minute,
		PerishableHandling:     3 * time.Minute,
	}
}

// Store is the subset of logistics.Store used by the estimator.
type Store interface {
	FindOrder(ctx context.Context, id string) (logistics.Order, error)
	FindWarehouse(ctx context.Context, id string) (logistics.Warehouse, error)
	FindBatch(ctx context.Context, id string) (logistics.Batch, error)
	UpdateOrders(ctx context.Context, filter logistics.OrderFilter, patch logistics.OrderPatch) ([]string, error)
}

// Estimator computes delivery estimates and writes them back.
type Estimator struct {
	store  Store
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// NewEstimator constructs an estimator.
func NewEstimator(store Store, cfg Config, logger *slog.Logger) *Estimator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Estimator{store: store, cfg: cfg, logger: logger, now: time.Now}
}

// SetClock overrides the clock used by RecalculateForStatus.
func (e *Estimator) SetClock(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// ============================================================================
// ESTIMATION
// ============================================================================

// Plan returns the journey legs of an order from creation to delivery.
func (e *Estimator) Plan(ctx context.Context, order logistics.Order) (Plan, error) {
	if order.IsLocalDelivery {
		return e.cfg.localPlan(order), nil
	}
	source, err := e.warehouse(ctx, order.WarehouseID)
	if err != nil {
		return Plan{}, err
	}
	destination, err := e.warehouse(ctx, order.SecondaryWarehouseID)
	if err != nil {
		return Plan{}, err
	}
	return e.cfg.intercityPlan(order, source, destination), nil
}

// Estimate returns the expected delivery time anchored at order creation.
func (e *Estimator) Estimate(ctx context.Context, order logistics.Order) (time.Time, error) {
	plan, err := e.Plan(ctx, order)
	if err != nil {
		return time.Time{}, err
	}
	return order.CreatedAt.Add(plan.Total()), nil
}

// EstimateForStatus returns the expected delivery time anchored at now,
// counting only the legs that remain after status.
func (e *Estimator) EstimateForStatus(ctx context.Context, order logistics.Order, status logistics.OrderStatus) (time.Time, error) {
	now := e.now()
	if status.IsTerminal() {
		if status == logistics.OrderStatusDelivered {
			return now, nil
		}
		return time.Time{}, fmt.Errorf("%w: %s", logistics.ErrNotEstimable, status)
	}
	if !status.IsValid() {
		return time.Time{}, fmt.Errorf("%w: unknown status %q", logistics.ErrNotEstimable, status)
	}

	plan, err := e.Plan(ctx, order)
	if err != nil {
		return time.Time{}, err
	}
	if !order.IsLocalDelivery {
		plan = plan.From(remainingFrom(status))
	}
	return now.Add(plan.Total()), nil
}

// warehouse resolves an optional warehouse reference. Missing references
// yield nil so callers fall back to default durations.
func (e *Estimator) warehouse(ctx context.Context, id string) (*logistics.Warehouse, error) {
	if id == "" {
		return nil, nil
	}
	wh, err := e.store.FindWarehouse(ctx, id)
	if errors.Is(err, logistics.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find warehouse %s: %w", id, err)
	}
	return &wh, nil
}

// ============================================================================
// PERSISTENCE
// ============================================================================

// UpdateOrderEstimatedDeliveryTime recomputes and stores one order's ETA.
func (e *Estimator) UpdateOrderEstimatedDeliveryTime(ctx context.Context, orderID string) (time.Time, error) {
	order, err := e.store.FindOrder(ctx, orderID)
	if err != nil {
		return time.Time{}, err
	}
	at, err := e.Estimate(ctx, order)
	if err != nil {
		return time.Time{}, fmt.Errorf("estimate order %s: %w", orderID, err)
	}
	if err := e.persist(ctx, orderID, at); err != nil {
		return time.Time{}, err
	}
	e.logger.Debug("updated estimated delivery time", slog.String("order_id", orderID), slog.Time("eta", at))
	return at, nil
}

// RecalculateForStatus re-anchors the ETA at now for an order whose status
// has just changed.
func (e *Estimator) RecalculateForStatus(ctx context.Context, orderID string, status logistics.OrderStatus) (time.Time, error) {
	order, err := e.store.FindOrder(ctx, orderID)
	if err != nil {
		return time.Time{}, err
	}
	at, err := e.EstimateForStatus(ctx, order, status)
	if err != nil {
		return time.Time{}, fmt.Errorf("recalculate order %s: %w", orderID, err)
	}
	if err := e.persist(ctx, orderID, at); err != nil {
		return time.Time{}, err
	}
	e.logger.Info("recalculated estimated delivery time",
		slog.String("order_id", orderID),
		slog.String("status", string(status)),
		slog.Time("eta", at),
	)
	return at, nil
}

// FailedOrder is a member order whose ETA could not be refreshed.
type FailedOrder struct {
	OrderID string `json:"order_id"`
	Error   string `json:"error"`
}

// BatchRefresh reports the outcome of a batch-wide refresh.
type BatchRefresh struct {
	BatchID string        `json:"batch_id"`
	Updated int           `json:"updated"`
	Failed  []FailedOrder `json:"failed,omitempty"`
}

// UpdateBatchEstimatedDeliveryTimes refreshes every member of a batch in
// turn. Only a missing batch fails the call; member failures are collected.
func (e *Estimator) UpdateBatchEstimatedDeliveryTimes(ctx context.Context, batchID string) (BatchRefresh, error) {
	batch, err := e.store.FindBatch(ctx, batchID)
	if err != nil {
		return BatchRefresh{}, err
	}
	result := BatchRefresh{BatchID: batchID}
	for _, orderID := range batch.OrderIDs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if _, err := e.UpdateOrderEstimatedDeliveryTime(ctx, orderID); err != nil {
			e.logger.Warn("failed to refresh order eta",
				slog.String("batch_id", batchID),
				slog.String("order_id", orderID),
				slog.Any("error", err),
			)
			result.Failed = append(result.Failed, FailedOrder{OrderID: orderID, Error: err.Error()})
			continue
		}
		result.Updated++
	}
	return result, nil
}

func (e *Estimator) persist(ctx context.Context, orderID string, at time.Time) error {
	updated, err := e.store.UpdateOrders(ctx,
		logistics.OrderFilter{IDs: []string{orderID}},
		logistics.OrderPatch{EstimatedDeliveryTime: &at},
	)
	if err != nil {
		return fmt.Errorf("store eta for order %s: %w", orderID, err)
	}
	if len(updated) == 0 {
		return logistics.ErrOrderNotFound
	}
	return nil
}
