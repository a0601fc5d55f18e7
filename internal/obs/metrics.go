package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Shared HTTP metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Lifecycle metrics.
var (
	deletionsScheduledTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lifecycle_deletions_scheduled_total",
		Help: "Account deletions scheduled (including refreshed re-requests).",
	})
	deletionsRecoveredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lifecycle_deletions_recovered_total",
		Help: "Scheduled deletions cancelled during the grace window.",
	})
	deletionsExecutedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lifecycle_deletions_executed_total",
		Help: "Deletions executed by the sweep.",
	})
	billingCancelFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lifecycle_billing_cancel_failures_total",
		Help: "External billing cancellations that failed and were deferred to reconciliation.",
	})
	exportFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lifecycle_export_failures_total",
		Help: "Best-effort export snapshots that could not be built.",
	})
	sweepFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lifecycle_sweep_failures_total",
		Help: "Claimed deletions whose purge failed and will be reclaimed.",
	})
	sweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "lifecycle_sweep_duration_seconds",
		Help:    "Duration of a single sweep pass.",
		Buckets: prometheus.DefBuckets,
	})
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		deletionsScheduledTotal, deletionsRecoveredTotal, deletionsExecutedTotal,
		billingCancelFailuresTotal, exportFailuresTotal,
		sweepFailuresTotal, sweepDuration,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

func IncDeletionScheduled()    { deletionsScheduledTotal.Inc() }
func IncDeletionRecovered()    { deletionsRecoveredTotal.Inc() }
func IncDeletionExecuted()     { deletionsExecutedTotal.Inc() }
func IncBillingCancelFailure() { billingCancelFailuresTotal.Inc() }
func IncExportFailure()        { exportFailuresTotal.Inc() }
func IncSweepFailure()         { sweepFailuresTotal.Inc() }

// ObserveSweep records the wall time of one sweep pass.
func ObserveSweep(d time.Duration) { sweepDuration.Observe(d.Seconds()) }

// Instrument wraps a handler with RPS/latency/in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter captures the response code for metric labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
