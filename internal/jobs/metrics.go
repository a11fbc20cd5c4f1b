// Package jobmetrics exposes Prometheus collectors for background jobs.
package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/odyssey-erp/odyssey-logistics/internal/logistics/batching"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs               *prometheus.CounterVec
	failures           *prometheus.CounterVec
	duration           *prometheus.HistogramVec
	batchesFormed      *prometheus.CounterVec
	ordersSkipped      *prometheus.CounterVec
	partitionsDeferred *prometheus.CounterVec
	etaRefreshes       *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// ObserveTick records batch, skip and deferral counts of a tick.
func (m *Metrics) ObserveTick(summary batching.TickSummary) {
	if m == nil {
		return
	}
	for _, st := range summary.Stages {
		stage := string(st.Type)
		for _, b := range st.Batches {
			m.batchesFormed.WithLabelValues(stage, string(b.VehicleClass)).Inc()
		}
		for _, sk := range st.Skipped {
			m.ordersSkipped.WithLabelValues(stage, string(sk.Reason)).Inc()
		}
		if n := len(st.Deferred); n > 0 {
			m.partitionsDeferred.WithLabelValues(stage).Add(float64(n))
		}
	}
}

// ObserveETARefresh counts refreshed and failed ETA updates.
func (m *Metrics) ObserveETARefresh(updated, failed int) {
	if m == nil {
		return
	}
	if updated > 0 {
		m.etaRefreshes.WithLabelValues("updated").Add(float64(updated))
	}
	if failed > 0 {
		m.etaRefreshes.WithLabelValues("failed").Add(float64(failed))
	}
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	batches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_logistics_batches_formed_total",
		Help: "Batches formed grouped by stage and vehicle class.",
	}, []string{"stage", "vehicle_class"})
	skipped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_logistics_orders_skipped_total",
		Help: "Candidate orders skipped during batch formation grouped by reason.",
	}, []string{"stage", "reason"})
	deferred := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_logistics_partitions_deferred_total",
		Help: "Warehouse partitions deferred to a later tick.",
	}, []string{"stage"})
	refreshes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_logistics_eta_refreshes_total",
		Help: "Order ETA refreshes grouped by result.",
	}, []string{"result"})
	registerer.MustRegister(runs, failures, duration, batches, skipped, deferred, refreshes)
	return &Metrics{
		runs:               runs,
		failures:           failures,
		duration:           duration,
		batchesFormed:      batches,
		ordersSkipped:      skipped,
		partitionsDeferred: deferred,
		etaRefreshes:       refreshes,
	}
}
