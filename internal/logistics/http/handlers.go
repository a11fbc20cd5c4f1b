// Package logistichttp exposes the internal batching and ETA API.
package logistichttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-logistics/internal/logistics"
	"github.com/odyssey-erp/odyssey-logistics/internal/logistics/batching"
	"github.com/odyssey-erp/odyssey-logistics/internal/logistics/eta"
	"github.com/odyssey-erp/odyssey-logistics/internal/platform/httpx"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Enqueuer schedules a batch formation tick on the worker queue.
type Enqueuer interface {
	EnqueueBatchFormation(ctx context.Context, trigger string) (*asynq.TaskInfo, error)
}

// TickRunner runs a formation tick in-process.
type TickRunner interface {
	ProcessBatches(ctx context.Context) batching.TickSummary
}

// Estimator computes and stores ETAs.
type Estimator interface {
	UpdateOrderEstimatedDeliveryTime(ctx context.Context, orderID string) (time.Time, error)
	RecalculateForStatus(ctx context.Context, orderID string, status logistics.OrderStatus) (time.Time, error)
	UpdateBatchEstimatedDeliveryTimes(ctx context.Context, batchID string) (eta.BatchRefresh, error)
}

// BatchReader reads formed batches.
type BatchReader interface {
	FindBatch(ctx context.Context, id string) (logistics.Batch, error)
	ListBatches(ctx context.Context, filter logistics.BatchFilter) ([]logistics.Batch, error)
}

// Handler serves the internal logistics endpoints.
type Handler struct {
	batches   BatchReader
	estimator Estimator
	enqueuer  Enqueuer
	runner    TickRunner
	logger    *slog.Logger
}

// NewHandler constructs the handler. enqueuer and runner are optional; at
// least one is needed for the run endpoint.
func NewHandler(batches BatchReader, estimator Estimator, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{batches: batches, estimator: estimator, logger: logger}
}

// SetEnqueuer routes run requests to the worker queue.
func (h *Handler) SetEnqueuer(e Enqueuer) {
	h.enqueuer = e
}

// SetRunner allows run requests with ?wait=true to tick in-process.
func (h *Handler) SetRunner(r TickRunner) {
	h.runner = r
}

// ============================================================================
// BATCHING
// ============================================================================

type enqueueResponse struct {
	TaskID string `json:"task_id"`
	Queue  string `json:"queue"`
}

type stageResponse struct {
	Type       logistics.BatchType     `json:"type"`
	Candidates int                     `json:"candidates"`
	Batches    []logistics.Batch       `json:"batches"`
	Skipped    []batching.SkippedOrder `json:"skipped"`
	Deferred   []string                `json:"deferred"`
	Failures   []partitionFailure      `json:"failures,omitempty"`
	Error      string                  `json:"error,omitempty"`
}

type partitionFailure struct {
	WarehouseID string `json:"warehouse_id"`
	Error       string `json:"error"`
}

type tickResponse struct {
	StartedAt time.Time       `json:"started_at"`
	Failed    bool            `json:"failed"`
	Stages    []stageResponse `json:"stages"`
}

func (h *Handler) runBatching(w http.ResponseWriter, r *http.Request) {
	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait && h.runner != nil {
		summary := h.runner.ProcessBatches(r.Context())
		httpx.JSON(w, http.StatusOK, toTickResponse(summary))
		return
	}
	if h.enqueuer == nil {
		httpx.RespondError(w, fmt.Errorf("%w: job queue not configured", httpx.ErrUnavailable))
		return
	}
	info, err := h.enqueuer.EnqueueBatchFormation(r.Context(), "api")
	if err != nil {
		h.logger.Error("enqueue batch formation", slog.Any("error", err))
		httpx.RespondError(w, fmt.Errorf("%w: enqueue failed", httpx.ErrUnavailable))
		return
	}
	resp := enqueueResponse{}
	if info != nil {
		resp.TaskID = info.ID
		resp.Queue = info.Queue
	}
	httpx.JSON(w, http.StatusAccepted, resp)
}

func toTickResponse(summary batching.TickSummary) tickResponse {
	resp := tickResponse{StartedAt: summary.StartedAt, Failed: summary.Failed()}
	for _, st := range summary.Stages {
		sr := stageResponse{
			Type:       st.Type,
			Candidates: st.Candidates,
			Batches:    nonNil(st.Batches),
			Skipped:    nonNil(st.Skipped),
			Deferred:   nonNil(st.Deferred),
		}
		for _, f := range st.Failures {
			sr.Failures = append(sr.Failures, partitionFailure{WarehouseID: f.WarehouseID, Error: f.Err.Error()})
		}
		if st.Err != nil {
			sr.Error = st.Err.Error()
		}
		resp.Stages = append(resp.Stages, sr)
	}
	return resp
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// ============================================================================
// BATCHES
// ============================================================================

func (h *Handler) listBatches(w http.ResponseWriter, r *http.Request) {
	filter, err := parseBatchFilter(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	batches, err := h.batches.ListBatches(r.Context(), filter)
	if err != nil {
		h.respondDomainError(w, "list batches", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"batches": nonNil(batches)})
}

func parseBatchFilter(r *http.Request) (logistics.BatchFilter, error) {
	q := r.URL.Query()
	filter := logistics.BatchFilter{
		WarehouseID: strings.TrimSpace(q.Get("warehouse_id")),
		Type:        logistics.BatchType(strings.ToUpper(strings.TrimSpace(q.Get("type")))),
		Status:      logistics.BatchStatus(strings.ToUpper(strings.TrimSpace(q.Get("status")))),
		Limit:       defaultListLimit,
	}
	if filter.Type != "" {
		if _, err := filter.Type.EntryStatus(); err != nil {
			return filter, fmt.Errorf("%w: %v", httpx.ErrValidation, err)
		}
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		return filter, fmt.Errorf("%w: unknown batch status %q", httpx.ErrValidation, filter.Status)
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > maxListLimit {
			return filter, fmt.Errorf("%w: limit must be between 1 and %d", httpx.ErrValidation, maxListLimit)
		}
		filter.Limit = limit
	}
	return filter, nil
}

func (h *Handler) getBatch(w http.ResponseWriter, r *http.Request) {
	batch, err := h.batches.FindBatch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondDomainError(w, "find batch", err)
		return
	}
	httpx.JSON(w, http.StatusOK, batch)
}

// ============================================================================
// ETA
// ============================================================================

type etaResponse struct {
	OrderID               string    `json:"order_id"`
	EstimatedDeliveryTime time.Time `json:"estimated_delivery_time"`
}

type recalculateRequest struct {
	Status string `json:"status" validate:"required,oneof=PENDING ASSIGNED_TO_BATCH PICKUP_COMPLETE IN_TRANSIT AT_DESTINATION_WH OUT_FOR_DELIVERY DELIVERED CANCELLED"`
}

func (h *Handler) updateOrderETA(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	at, err := h.estimator.UpdateOrderEstimatedDeliveryTime(r.Context(), id)
	if err != nil {
		h.respondDomainError(w, "update order eta", err)
		return
	}
	httpx.JSON(w, http.StatusOK, etaResponse{OrderID: id, EstimatedDeliveryTime: at})
}

func (h *Handler) recalculateOrderETA(w http.ResponseWriter, r *http.Request) {
	var req recalculateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	id := chi.URLParam(r, "id")
	at, err := h.estimator.RecalculateForStatus(r.Context(), id, logistics.OrderStatus(req.Status))
	if err != nil {
		h.respondDomainError(w, "recalculate order eta", err)
		return
	}
	httpx.JSON(w, http.StatusOK, etaResponse{OrderID: id, EstimatedDeliveryTime: at})
}

func (h *Handler) updateBatchETA(w http.ResponseWriter, r *http.Request) {
	res, err := h.estimator.UpdateBatchEstimatedDeliveryTimes(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondDomainError(w, "update batch eta", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

// respondDomainError translates logistics errors to problem responses.
func (h *Handler) respondDomainError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, logistics.ErrNotFound):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrNotFound, err))
	case errors.Is(err, logistics.ErrNotEstimable):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrConflict, err))
	case errors.Is(err, context.DeadlineExceeded):
		httpx.RespondError(w, fmt.Errorf("%w: %s timed out", httpx.ErrUnavailable, op))
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
