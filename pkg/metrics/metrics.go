// Package metrics exposes the Forge3D host's Prometheus metrics:
// scheduler queue depth, bridge state, generation latency, and API
// request counts, all served via promhttp at /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Scheduler metrics
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "forge3d_queue_depth",
			Help: "Number of history entries by status (queued, processing, complete, failed)",
		},
		[]string{"status"},
	)

	SchedulerPaused = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "forge3d_scheduler_paused",
			Help: "Whether the scheduler is paused (1) or running (0)",
		},
	)

	JobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forge3d_jobs_completed_total",
			Help: "Total number of generation jobs that reached a terminal state, by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "forge3d_job_duration_seconds",
			Help:    "Wall-clock duration of a generation job from dequeue to terminal status, by kind",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 180, 240, 300, 360, 600},
		},
		[]string{"kind"},
	)

	// Bridge metrics
	BridgeState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "forge3d_bridge_state",
			Help: "InferenceBridge state: 0=stopped 1=starting 2=running 3=crashed 4=broken",
		},
	)

	BridgeRestartsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "forge3d_bridge_restarts_total",
			Help: "Total number of times the InferenceBridge subprocess was restarted",
		},
	)

	BridgeHealthCheckFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "forge3d_bridge_health_check_failures_total",
			Help: "Total number of consecutive-counted health probe failures",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forge3d_api_requests_total",
			Help: "Total number of API requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "forge3d_api_request_duration_seconds",
			Help:    "API request duration in seconds by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// Telemetry metrics
	TelemetryEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forge3d_telemetry_events_total",
			Help: "Total number of telemetry events published, by category",
		},
		[]string{"category"},
	)

	TelemetryDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forge3d_telemetry_dropped_total",
			Help: "Total number of telemetry events dropped due to a slow subscriber",
		},
		[]string{"category"},
	)
)

func init() {
	prometheus.MustRegister(
		QueueDepth,
		SchedulerPaused,
		JobsCompletedTotal,
		JobDuration,
		BridgeState,
		BridgeRestartsTotal,
		BridgeHealthCheckFailuresTotal,
		APIRequestsTotal,
		APIRequestDuration,
		TelemetryEventsTotal,
		TelemetryDroppedTotal,
	)
}

// Handler returns the Prometheus scrape handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures elapsed wall-clock time for a single operation.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Observer) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to a labeled histogram.
func (t *Timer) ObserveDurationVec(histogram *prometheus.HistogramVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
