package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "aqi_monitor"

// Metrics holds the collectors for the monitoring engine and scheduler.
// Location labels are bounded by the registry size.
type Metrics struct {
	ReadingsTotal       *prometheus.CounterVec   // labels: location, category
	CurrentIndex        *prometheus.GaugeVec     // labels: location
	FetchFailures       *prometheus.CounterVec   // labels: location
	Notifications       *prometheus.CounterVec   // labels: kind, outcome={delivered,failed}
	AlertsSuppressed    *prometheus.CounterVec   // labels: location
	PassDuration        *prometheus.HistogramVec // labels: pass={check,report}
	SchedulerRunning    prometheus.Gauge
	RegisteredLocations prometheus.Gauge
}

func build() *Metrics {
	return &Metrics{
		ReadingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_total",
			Help:      "Readings fetched and classified, by location and category.",
		}, []string{"location", "category"}),
		CurrentIndex: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_index",
			Help:      "Most recent index value per location.",
		}, []string{"location"}),
		FetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_failures_total",
			Help:      "Metric source failures per location.",
		}, []string{"location"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification delivery attempts by kind and outcome.",
		}, []string{"kind", "outcome"}),
		AlertsSuppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_suppressed_total",
			Help:      "Breaches that did not alert because of the cooldown window.",
		}, []string{"location"}),
		PassDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pass_duration_seconds",
			Help:      "Duration of a full check or report pass.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"pass"}),
		SchedulerRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_running",
			Help:      "1 while scheduled monitoring is active, 0 otherwise.",
		}),
		RegisteredLocations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registered_locations",
			Help:      "Number of locations in the registry.",
		}),
	}
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := build()
	reg.MustRegister(
		m.ReadingsTotal,
		m.CurrentIndex,
		m.FetchFailures,
		m.Notifications,
		m.AlertsSuppressed,
		m.PassDuration,
		m.SchedulerRunning,
		m.RegisteredLocations,
	)
	return m
}

// NewForTesting creates unregistered collectors so tests can build as many
// engines as they like.
func NewForTesting() *Metrics {
	return build()
}
