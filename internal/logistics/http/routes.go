package logistichttp

import (
	"github.com/go-chi/chi/v5"
)

// MountRoutes registers the internal API under the current router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/batching/run", h.runBatching)

	r.Get("/batches", h.listBatches)
	r.Get("/batches/{id}", h.getBatch)
	r.Post("/batches/{id}/eta", h.updateBatchETA)

	r.Post("/orders/{id}/eta", h.updateOrderETA)
	r.Post("/orders/{id}/eta/recalculate", h.recalculateOrderETA)
}
