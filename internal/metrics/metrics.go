// Package metrics defines the Prometheus instrumentation the processor
// exposes. Each processor owns its own private registry rather than
// registering against the global default, so multiple processors (distinct
// working directories) in one process never collide on metric names.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the gauges and counters one processor instance updates.
type Metrics struct {
	Registry *prometheus.Registry

	QueueFillPercentage prometheus.Gauge
	SinkOutcomes        *prometheus.CounterVec // labels: sink, result
	HealthTransitions   *prometheus.CounterVec // labels: endpoint, state
	DroppedEvents       *prometheus.CounterVec // labels: reason
	SidecarLatchTrips   prometheus.Counter
}

// New builds a Metrics bundle registered against a fresh private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		QueueFillPercentage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "datanadhi_queue_fill_percentage",
			Help: "Fraction of queue capacity currently occupied (ring + writeback) / capacity.",
		}),
		SinkOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "datanadhi_sink_outcomes_total",
			Help: "Count of sink send outcomes by sink and result kind.",
		}, []string{"sink", "result"}),
		HealthTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "datanadhi_health_transitions_total",
			Help: "Count of endpoint health state transitions.",
		}, []string{"endpoint", "state"}),
		DroppedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "datanadhi_dropped_events_total",
			Help: "Count of events dropped, by reason.",
		}, []string{"reason"}),
		SidecarLatchTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "datanadhi_sidecar_latch_trips_total",
			Help: "Count of times the process-wide sidecar-disabled latch tripped.",
		}),
	}

	reg.MustRegister(
		m.QueueFillPercentage,
		m.SinkOutcomes,
		m.HealthTransitions,
		m.DroppedEvents,
		m.SidecarLatchTrips,
	)

	return m
}
