package batching

import (
	"time"

	"github.com/odyssey-erp/odyssey-logistics/internal/logistics"
)

// SkipReason explains why a candidate order was left out of batching.
type SkipReason string

const (
	SkipAlreadyBatched SkipReason = "already_batched"
	SkipStatusMismatch SkipReason = "status_mismatch"
	SkipInvalidItems   SkipReason = "invalid_items"
	SkipNoWarehouse    SkipReason = "no_warehouse"
	// SkipClaimConflict marks orders another writer claimed between the
	// query and the batch transaction.
	SkipClaimConflict SkipReason = "claim_conflict"
)

// SkippedOrder is the per-order result of a skip.
type SkippedOrder struct {
	OrderID string     `json:"order_id"`
	Reason  SkipReason `json:"reason"`
	Detail  string     `json:"detail,omitempty"`
}

// PartitionFailure records a persistence failure for one warehouse.
type PartitionFailure struct {
	WarehouseID string `json:"warehouse_id"`
	Err         error  `json:"-"`
}

// StageSummary is the outcome of one stage pass.
type StageSummary struct {
	Type       logistics.BatchType `json:"type"`
	Candidates int                 `json:"candidates"`
	Batches    []logistics.Batch   `json:"batches,omitempty"`
	Skipped    []SkippedOrder      `json:"skipped,omitempty"`
	Deferred   []string            `json:"deferred,omitempty"`
	Failures   []PartitionFailure  `json:"failures,omitempty"`
	// Err is set when the whole stage was aborted.
	Err error `json:"-"`
}

// TickSummary aggregates the three stage passes of one tick.
type TickSummary struct {
	StartedAt time.Time      `json:"started_at"`
	Stages    []StageSummary `json:"stages"`
}

// Batches returns every batch formed during the tick.
func (s TickSummary) Batches() []logistics.Batch {
	var out []logistics.Batch
	for _, st := range s.Stages {
		out = append(out, st.Batches...)
	}
	return out
}

// SkippedCount returns the number of skipped orders across stages.
func (s TickSummary) SkippedCount() int {
	n := 0
	for _, st := range s.Stages {
		n += len(st.Skipped)
	}
	return n
}

// Failed reports whether any stage aborted or any partition failed.
func (s TickSummary) Failed() bool {
	for _, st := range s.Stages {
		if st.Err != nil || len(st.Failures) > 0 {
			return true
		}
	}
	return false
}

// Stage returns the summary for a batch type.
func (s TickSummary) Stage(t logistics.BatchType) (StageSummary, bool) {
	for _, st := range s.Stages {
		if st.Type == t {
			return st, true
		}
	}
	return StageSummary{}, false
}
