package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the fleet's operational signal: service health,
// tool-call latency, restarts, and port allocation pressure. Grounded on
// the teacher's observability.Metrics (promauto-registered CounterVec/
// HistogramVec/GaugeVec triples), generalized from message/LLM-call
// metrics to tool-server fleet metrics.
type Metrics struct {
	// ServiceStatus is a gauge of 1/0 for whether a service is currently
	// in the given status, set exclusively (only one status per service
	// reads 1 at a time).
	// Labels: service_id, status
	ServiceStatus *prometheus.GaugeVec

	// HealthProbeCounter counts health probes by outcome.
	// Labels: service_id, outcome (healthy|unhealthy)
	HealthProbeCounter *prometheus.CounterVec

	// HealthProbeDuration measures how long a single health probe took.
	// Labels: service_id
	HealthProbeDuration *prometheus.HistogramVec

	// RestartCounter counts supervised-process restarts.
	// Labels: service_id, reason (crash|unhealthy)
	RestartCounter *prometheus.CounterVec

	// ToolCallCounter counts routed tool calls.
	// Labels: tool_id, action, status (ok, or the toolerr.Kind of the
	// failure, e.g. tool_error|transport_error|timeout_error)
	ToolCallCounter *prometheus.CounterVec

	// ToolCallDuration measures end-to-end router dispatch latency.
	// Labels: tool_id, action
	ToolCallDuration *prometheus.HistogramVec

	// PortAllocations counts port allocator outcomes.
	// Labels: outcome (leased|ephemeral|exhausted)
	PortAllocations *prometheus.CounterVec

	// SubscriberCount is a gauge of connected websocket broadcast clients.
	SubscriberCount prometheus.Gauge
}

// NewMetrics creates and registers the fleet's Prometheus metrics. Call
// once at daemon startup.
func NewMetrics() *Metrics {
	return &Metrics{
		ServiceStatus: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "toolmesh_service_status",
				Help: "1 if the service is currently in this status, 0 otherwise",
			},
			[]string{"service_id", "status"},
		),

		HealthProbeCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolmesh_health_probes_total",
				Help: "Total number of health probes by outcome",
			},
			[]string{"service_id", "outcome"},
		),

		HealthProbeDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "toolmesh_health_probe_duration_seconds",
				Help:    "Duration of a single health probe in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"service_id"},
		),

		RestartCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolmesh_restarts_total",
				Help: "Total number of supervised process restarts",
			},
			[]string{"service_id", "reason"},
		),

		ToolCallCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolmesh_tool_calls_total",
				Help: "Total number of routed tool calls by outcome",
			},
			[]string{"tool_id", "action", "status"},
		),

		ToolCallDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "toolmesh_tool_call_duration_seconds",
				Help:    "Duration of a routed tool call in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"tool_id", "action"},
		),

		PortAllocations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolmesh_port_allocations_total",
				Help: "Total number of port allocator outcomes",
			},
			[]string{"outcome"},
		),

		SubscriberCount: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "toolmesh_broadcast_subscribers",
				Help: "Current number of connected broadcast websocket clients",
			},
		),
	}
}

// statusNames lists every procsup.Status value so SetServiceStatus can
// zero out the ones the service is no longer in.
var statusNames = []string{"stopped", "starting", "running", "unhealthy", "stopping", "error"}

// SetServiceStatus records that serviceID is now in status, zeroing the
// gauge for every other status so exactly one reads 1.
func (m *Metrics) SetServiceStatus(serviceID, status string) {
	for _, name := range statusNames {
		value := 0.0
		if name == status {
			value = 1.0
		}
		m.ServiceStatus.WithLabelValues(serviceID, name).Set(value)
	}
}

// RecordHealthProbe records the outcome and duration of a single probe.
func (m *Metrics) RecordHealthProbe(serviceID string, healthy bool, durationSeconds float64) {
	outcome := "healthy"
	if !healthy {
		outcome = "unhealthy"
	}
	m.HealthProbeCounter.WithLabelValues(serviceID, outcome).Inc()
	m.HealthProbeDuration.WithLabelValues(serviceID).Observe(durationSeconds)
}

// RecordRestart records a supervised-process restart.
func (m *Metrics) RecordRestart(serviceID, reason string) {
	m.RestartCounter.WithLabelValues(serviceID, reason).Inc()
}

// RecordToolCall records a routed tool call's outcome and latency.
func (m *Metrics) RecordToolCall(toolID, action, status string, durationSeconds float64) {
	m.ToolCallCounter.WithLabelValues(toolID, action, status).Inc()
	m.ToolCallDuration.WithLabelValues(toolID, action).Observe(durationSeconds)
}

// RecordPortAllocation records a port allocator outcome.
func (m *Metrics) RecordPortAllocation(outcome string) {
	m.PortAllocations.WithLabelValues(outcome).Inc()
}

// SetSubscriberCount sets the current broadcast subscriber gauge.
func (m *Metrics) SetSubscriberCount(count int) {
	m.SubscriberCount.Set(float64(count))
}
