package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	logistichttp "github.com/odyssey-erp/odyssey-logistics/internal/logistics/http"
	"github.com/odyssey-erp/odyssey-logistics/internal/observability"
	"github.com/odyssey-erp/odyssey-logistics/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	LogisticsHandler *logistichttp.Handler
	JobHandler       *jobs.Handler
	Metrics          *observability.Metrics
}

// NewRouter constructs the chi.Router with Odyssey defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	if params.Config == nil || !params.Config.IsProduction() {
		r.Use(chimw.Logger)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	token := ""
	if params.Config != nil {
		token = params.Config.InternalAPIToken
	}
	internal := RequireInternalToken(token, params.Logger)

	if params.JobHandler != nil {
		r.Route("/jobs", func(r chi.Router) {
			r.Use(internal)
			params.JobHandler.MountRoutes(r)
		})
	}
	if params.LogisticsHandler != nil {
		r.Route("/api/v1", func(r chi.Router) {
			r.Use(internal)
			params.LogisticsHandler.MountRoutes(r)
		})
	}
	return r
}
