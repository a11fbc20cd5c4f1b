package jobs

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskBatchFormation runs one batch formation tick across all stages.
	TaskBatchFormation = "logistics:batch_formation"
	// TaskETARefresh recomputes estimated delivery times for an order or a batch.
	TaskETARefresh = "logistics:eta_refresh"
)

// BatchFormationPayload carries optional metadata for a formation tick.
type BatchFormationPayload struct {
	// Trigger records who asked for the tick (cron, api, cli).
	Trigger string `json:"trigger,omitempty"`
}

// NewBatchFormationTask constructs an Asynq task for one formation tick.
func NewBatchFormationTask(trigger string) (*asynq.Task, error) {
	data, err := json.Marshal(BatchFormationPayload{Trigger: strings.TrimSpace(trigger)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBatchFormation, data), nil
}

// ETARefreshPayload selects the order or batch whose ETA is recomputed.
// Exactly one of OrderID or BatchID must be set.
type ETARefreshPayload struct {
	OrderID string `json:"order_id,omitempty"`
	BatchID string `json:"batch_id,omitempty"`
}

var errETATarget = errors.New("eta refresh: exactly one of order_id or batch_id is required")

// Validate reports whether the payload names a single target.
func (p ETARefreshPayload) Validate() error {
	hasOrder := strings.TrimSpace(p.OrderID) != ""
	hasBatch := strings.TrimSpace(p.BatchID) != ""
	if hasOrder == hasBatch {
		return errETATarget
	}
	return nil
}

// NewETARefreshTask constructs an Asynq task refreshing ETAs.
func NewETARefreshTask(payload ETARefreshPayload) (*asynq.Task, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskETARefresh, data), nil
}
