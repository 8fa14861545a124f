package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	PassCount        prometheus.Counter
	Activated        prometheus.Counter
	Deactivated      prometheus.Counter
	MissedWindows    prometheus.Counter
	GatewayFailures  prometheus.Counter
	PassDuration     prometheus.Histogram
	ActiveSchedules  prometheus.Gauge
	PendingSchedules prometheus.Gauge
}

// NewMetrics creates new Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		PassCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "forward_scheduler_reconcile_passes_total",
			Help: "Total number of reconciliation passes run",
		}),
		Activated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "forward_scheduler_activations_total",
			Help: "Total number of schedules transitioned to ACTIVE",
		}),
		Deactivated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "forward_scheduler_deactivations_total",
			Help: "Total number of schedules transitioned from ACTIVE to EXPIRED",
		}),
		MissedWindows: promauto.NewCounter(prometheus.CounterOpts{
			Name: "forward_scheduler_missed_windows_total",
			Help: "Total number of windows that fully elapsed before activation",
		}),
		GatewayFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "forward_scheduler_gateway_failures_total",
			Help: "Total number of failed external rule gateway calls",
		}),
		PassDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "forward_scheduler_reconcile_duration_seconds",
			Help:    "Time spent per reconciliation pass",
			Buckets: prometheus.DefBuckets,
		}),
		ActiveSchedules: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "forward_scheduler_active_schedules",
			Help: "Number of schedules currently in ACTIVE status",
		}),
		PendingSchedules: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "forward_scheduler_pending_schedules",
			Help: "Number of schedules currently in PENDING status",
		}),
	}
}
