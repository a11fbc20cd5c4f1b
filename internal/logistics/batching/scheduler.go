// Package batching groups eligible orders into capacity-bounded batches and
// advances them through the delivery pipeline.
package batching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-logistics/internal/logistics"
	"github.com/odyssey-erp/odyssey-logistics/internal/logistics/capacity"
	"github.com/odyssey-erp/odyssey-logistics/internal/logistics/eta"
)

// Stages lists the pipeline stages in the order a tick runs them.
var Stages = []logistics.BatchType{
	logistics.BatchTypeLocalPickup,
	logistics.BatchTypeIntercity,
	logistics.BatchTypeLocalDelivery,
}

// ETARefresher recomputes delivery estimates for a freshly formed batch.
type ETARefresher interface {
	UpdateBatchEstimatedDeliveryTimes(ctx context.Context, batchID string) (eta.BatchRefresh, error)
}

var errNothingClaimed = errors.New("no orders left to claim")

// Scheduler runs the batch formation passes.
type Scheduler struct {
	store     logistics.Store
	cfg       Config
	logger    *slog.Logger
	refresher ETARefresher
	now       func() time.Time
	newID     func() string
}

// NewScheduler constructs a scheduler. cfg must already be validated.
func NewScheduler(store logistics.Store, cfg Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PartitionConcurrency < 1 {
		cfg.PartitionConcurrency = 1
	}
	return &Scheduler{
		store:  store,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// SetRefresher sets the collaborator that refreshes ETAs after a batch commits.
func (s *Scheduler) SetRefresher(r ETARefresher) {
	s.refresher = r
}

// SetClock overrides the wall clock.
func (s *Scheduler) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// SetIDGenerator overrides batch id generation.
func (s *Scheduler) SetIDGenerator(fn func() string) {
	if fn != nil {
		s.newID = fn
	}
}

// ProcessBatches runs one tick and logs its outcome. It never fails; the
// next tick is the retry.
func (s *Scheduler) ProcessBatches(ctx context.Context) TickSummary {
	summary := s.Tick(ctx)
	for _, st := range summary.Stages {
		attrs := []any{
			slog.String("stage", string(st.Type)),
			slog.Int("candidates", st.Candidates),
			slog.Int("batches", len(st.Batches)),
			slog.Int("skipped", len(st.Skipped)),
			slog.Int("deferred", len(st.Deferred)),
			slog.Int("failed_partitions", len(st.Failures)),
		}
		if st.Err != nil {
			s.logger.Error("batch stage aborted", append(attrs, slog.Any("error", st.Err))...)
			continue
		}
		s.logger.Info("batch stage completed", attrs...)
	}
	return summary
}

// Tick runs the pickup, intercity and delivery passes in sequence. "now"
// is read once and shared by all stages.
func (s *Scheduler) Tick(ctx context.Context) TickSummary {
	now := s.now()
	summary := TickSummary{StartedAt: now}
	for _, t := range Stages {
		if err := ctx.Err(); err != nil {
			summary.Stages = append(summary.Stages, StageSummary{Type: t, Err: err})
			continue
		}
		summary.Stages = append(summary.Stages, s.RunStage(ctx, t, now))
	}
	return summary
}

// ============================================================================
// STAGE PASS
// ============================================================================

type partition struct {
	warehouseID string
	orders      []logistics.Order
	loads       map[string]capacity.Load
}

type partitionResult struct {
	batches  []logistics.Batch
	skipped  []SkippedOrder
	deferred bool
	err      error
}

// RunStage runs a single stage pass.
func (s *Scheduler) RunStage(ctx context.Context, t logistics.BatchType, now time.Time) StageSummary {
	summary := StageSummary{Type: t}
	log := s.logger.With(slog.String("stage", string(t)))

	entry, err := t.EntryStatus()
	if err != nil {
		summary.Err = err
		return summary
	}
	target, err := t.TargetStatus()
	if err != nil {
		summary.Err = err
		return summary
	}
	limits, err := s.cfg.LimitsFor(t)
	if err != nil {
		summary.Err = err
		return summary
	}

	orders, err := s.store.FindOrders(ctx, stageFilter(t, entry))
	if err != nil {
		summary.Err = fmt.Errorf("find %s candidates: %w", t, err)
		return summary
	}
	summary.Candidates = len(orders)
	if len(orders) == 0 {
		return summary
	}

	var resolver *WarehouseResolver
	if t == logistics.BatchTypeLocalPickup {
		warehouses, err := s.store.ListWarehouses(ctx)
		if err != nil {
			summary.Err = fmt.Errorf("list warehouses: %w", err)
			return summary
		}
		resolver = NewWarehouseResolver(warehouses)
	}

	partitions := make(map[string]*partition)
	skip := func(id string, reason SkipReason, detail error) {
		rec := SkippedOrder{OrderID: id, Reason: reason}
		if detail != nil {
			rec.Detail = detail.Error()
		}
		summary.Skipped = append(summary.Skipped, rec)
		log.Warn("skipping order", slog.String("order_id", id), slog.String("reason", string(reason)), slog.Any("error", detail))
	}
	for _, order := range orders {
		switch {
		case order.Batched():
			skip(order.ID, SkipAlreadyBatched, nil)
			continue
		case order.Status != entry:
			skip(order.ID, SkipStatusMismatch, nil)
			continue
		}
		load, err := capacity.Measure(order)
		if err != nil {
			skip(order.ID, SkipInvalidItems, err)
			continue
		}
		key := partitionKey(t, order, resolver)
		if key == "" {
			skip(order.ID, SkipNoWarehouse, nil)
			continue
		}
		p, ok := partitions[key]
		if !ok {
			p = &partition{warehouseID: key, loads: make(map[string]capacity.Load)}
			partitions[key] = p
		}
		p.orders = append(p.orders, order)
		p.loads[order.ID] = load
	}

	keys := make([]string, 0, len(partitions))
	for k := range partitions {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	results := make([]partitionResult, len(keys))
	var g errgroup.Group
	g.SetLimit(s.cfg.PartitionConcurrency)
	for i, key := range keys {
		p := partitions[key]
		g.Go(func() error {
			results[i] = s.runPartition(ctx, t, entry, target, limits, p, now)
			return nil
		})
	}
	_ = g.Wait()

	for i, res := range results {
		summary.Batches = append(summary.Batches, res.batches...)
		summary.Skipped = append(summary.Skipped, res.skipped...)
		if res.deferred {
			summary.Deferred = append(summary.Deferred, keys[i])
		}
		if res.err != nil {
			summary.Failures = append(summary.Failures, PartitionFailure{WarehouseID: keys[i], Err: res.err})
		}
	}
	return summary
}

func (s *Scheduler) runPartition(
	ctx context.Context,
	t logistics.BatchType,
	entry, target logistics.OrderStatus,
	limits Limits,
	p *partition,
	now time.Time,
) partitionResult {
	log := s.logger.With(slog.String("stage", string(t)), slog.String("warehouse_id", p.warehouseID))

	sort.SliceStable(p.orders, func(i, j int) bool { return p.orders[i].CreatedAt.Before(p.orders[j].CreatedAt) })
	if !ShouldTrigger(p.orders, limits, now) {
		log.Debug("partition deferred", slog.Int("orders", len(p.orders)))
		return partitionResult{deferred: true}
	}

	var res partitionResult
	for _, group := range GroupOrders(p.orders, p.loads, p.warehouseID, limits.Bounds) {
		batch, dropped, err := s.persist(ctx, t, entry, target, limits, group, p.loads, now)
		for _, id := range dropped {
			res.skipped = append(res.skipped, SkippedOrder{OrderID: id, Reason: SkipClaimConflict})
		}
		if err != nil {
			log.Error("failed to persist batch", slog.Int("orders", len(group.Orders)), slog.Any("error", err))
			res.err = err
			return res
		}
		if batch == nil {
			continue
		}
		res.batches = append(res.batches, *batch)
		log.Info("batch formed",
			slog.String("batch_id", batch.ID),
			slog.Int("orders", batch.OrderCount),
			slog.String("vehicle_class", string(batch.VehicleClass)),
			slog.Bool("needs_review", batch.NeedsReview),
		)
		if s.refresher != nil {
			if _, err := s.refresher.UpdateBatchEstimatedDeliveryTimes(ctx, batch.ID); err != nil {
				log.Warn("failed to refresh batch eta", slog.String("batch_id", batch.ID), slog.Any("error", err))
			}
		}
	}
	return res
}

// persist writes a batch and claims its members in one transaction. Members
// claimed by someone else in the meantime are dropped; when none is left the
// transaction is rolled back and a nil batch is returned.
func (s *Scheduler) persist(
	ctx context.Context,
	t logistics.BatchType,
	entry, target logistics.OrderStatus,
	limits Limits,
	group Group,
	loads map[string]capacity.Load,
	now time.Time,
) (*logistics.Batch, []string, error) {
	batch := newBatch(s.newID(), t, group.WarehouseID, group.OrderIDs(), group.Totals, limits, now)

	var dropped []string
	err := s.store.WithTx(ctx, func(ctx context.Context, tx logistics.Tx) error {
		if err := tx.CreateBatch(ctx, batch); err != nil {
			return fmt.Errorf("create batch: %w", err)
		}

		patch := logistics.OrderPatch{Status: &target, BatchID: &batch.ID}
		if t == logistics.BatchTypeLocalPickup {
			patch.WarehouseID = &batch.WarehouseID
		}
		claimed, err := tx.UpdateOrders(ctx,
			logistics.OrderFilter{IDs: batch.OrderIDs, Status: entry, Unbatched: true},
			patch,
		)
		if err != nil {
			return fmt.Errorf("claim orders: %w", err)
		}
		if len(claimed) == len(batch.OrderIDs) {
			return nil
		}
		if len(claimed) == 0 {
			dropped = batch.OrderIDs
			return errNothingClaimed
		}

		kept := make(map[string]struct{}, len(claimed))
		for _, id := range claimed {
			kept[id] = struct{}{}
		}
		var (
			ids    []string
			totals capacity.Totals
		)
		for _, id := range batch.OrderIDs {
			if _, ok := kept[id]; !ok {
				dropped = append(dropped, id)
				continue
			}
			ids = append(ids, id)
			totals.Load = totals.Load.Add(loads[id])
			totals.Count++
		}
		batch = newBatch(batch.ID, t, batch.WarehouseID, ids, totals, limits, now)
		if err := tx.UpdateBatchTotals(ctx, batch); err != nil {
			return fmt.Errorf("update batch totals: %w", err)
		}
		return nil
	})
	if errors.Is(err, errNothingClaimed) {
		return nil, dropped, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return &batch, dropped, nil
}

func newBatch(id string, t logistics.BatchType, warehouseID string, orderIDs []string, totals capacity.Totals, limits Limits, now time.Time) logistics.Batch {
	class, fits := capacity.VehicleClassFor(totals.Weight, totals.Volume, limits.Vehicles)
	return logistics.Batch{
		ID:           id,
		WarehouseID:  warehouseID,
		Type:         t,
		Status:       logistics.BatchStatusCollecting,
		TotalWeight:  totals.Weight,
		TotalVolume:  totals.Volume,
		OrderCount:   totals.Count,
		VehicleClass: class,
		NeedsReview:  !fits,
		OrderIDs:     orderIDs,
		CreatedAt:    now,
	}
}

// ShouldTrigger reports whether a warehouse partition is batched this tick:
// enough orders are waiting, or at least one has waited MaxWait or longer.
func ShouldTrigger(orders []logistics.Order, limits Limits, now time.Time) bool {
	if len(orders) == 0 {
		return false
	}
	if len(orders) >= limits.MinOrders {
		return true
	}
	for _, o := range orders {
		if o.Age(now) >= limits.MaxWait {
			return true
		}
	}
	return false
}

func stageFilter(t logistics.BatchType, entry logistics.OrderStatus) logistics.OrderFilter {
	filter := logistics.OrderFilter{Status: entry, Unbatched: true}
	if t == logistics.BatchTypeIntercity {
		local := false
		filter.IsLocalDelivery = &local
	}
	return filter
}

// partitionKey returns the warehouse an order is staged at for a stage.
func partitionKey(t logistics.BatchType, order logistics.Order, resolver *WarehouseResolver) string {
	switch t {
	case logistics.BatchTypeLocalPickup:
		if order.WarehouseID != "" {
			return order.WarehouseID
		}
		if wh, ok := resolver.Resolve(order); ok {
			return wh.ID
		}
		return ""
	case logistics.BatchTypeLocalDelivery:
		if order.SecondaryWarehouseID != "" {
			return order.SecondaryWarehouseID
		}
		return order.WarehouseID
	default:
		return order.WarehouseID
	}
}
