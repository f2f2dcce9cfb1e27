package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Instances tracks the current instance count per status.
	Instances = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "herd",
		Name:      "instances",
		Help:      "Current number of instances by status.",
	}, []string{"status"})

	// CreatesTotal counts create attempts by result.
	CreatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "herd",
		Name:      "creates_total",
		Help:      "Instance create attempts by result.",
	}, []string{"result"})

	// CreateDuration observes how long successful creates take.
	CreateDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "herd",
		Name:      "create_duration_seconds",
		Help:      "Duration of successful instance creation.",
		Buckets:   []float64{15, 30, 60, 120, 240, 480, 900},
	})

	// DiagnosticsTotal counts full diagnostic runs by outcome.
	DiagnosticsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "herd",
		Name:      "diagnostics_total",
		Help:      "Full diagnostic runs by outcome.",
	}, []string{"outcome"})

	// RepairsTotal counts repair runs by result.
	RepairsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "herd",
		Name:      "repairs_total",
		Help:      "Auto-repair runs by result.",
	}, []string{"result"})

	// RepairActionsTotal counts individual repair primitives executed.
	RepairActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "herd",
		Name:      "repair_actions_total",
		Help:      "Repair primitives executed, by action and result.",
	}, []string{"action", "result"})

	// BackupsTotal counts snapshots taken, by trigger reason.
	BackupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "herd",
		Name:      "backups_total",
		Help:      "Snapshots taken, by trigger reason.",
	}, []string{"reason"})

	// HTTPRequestDuration observes API latency per route and status.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "herd",
		Name:      "http_request_duration_seconds",
		Help:      "API request latency by route, method and status code.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method", "status"})
)

// Result label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// SetInstanceCounts replaces the per-status instance gauges.
func SetInstanceCounts(running, stopped, creating, errored int) {
	Instances.WithLabelValues("running").Set(float64(running))
	Instances.WithLabelValues("stopped").Set(float64(stopped))
	Instances.WithLabelValues("creating").Set(float64(creating))
	Instances.WithLabelValues("error").Set(float64(errored))
}

// Handler returns the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
