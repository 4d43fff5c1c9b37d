package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
)

// ClusterMetrics holds Prometheus metrics for the cluster transport.
type ClusterMetrics struct {
	ForwardedTotal     prometheus.Counter
	ReceivedTotal      prometheus.Counter
	BreakerState       *prometheus.GaugeVec
	BreakerTransitions *prometheus.CounterVec
}

// NewClusterMetrics creates and registers cluster metrics on the given registry.
func NewClusterMetrics(reg prometheus.Registerer) *ClusterMetrics {
	m := &ClusterMetrics{
		ForwardedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cluster",
			Name:      "forwarded_total",
			Help:      "Total number of broadcasts published to other nodes.",
		}),
		ReceivedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cluster",
			Name:      "received_total",
			Help:      "Total number of broadcasts received from other nodes.",
		}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cluster",
			Name:      "circuit_breaker_state",
			Help:      "Current circuit breaker state (0=closed, 1=half-open, 2=open).",
		}, []string{"breaker"}),
		BreakerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cluster",
			Name:      "circuit_breaker_transitions_total",
			Help:      "Circuit breaker state transitions by breaker and new state.",
		}, []string{"breaker", "state"}),
	}

	reg.MustRegister(m.ForwardedTotal, m.ReceivedTotal, m.BreakerState, m.BreakerTransitions)
	return m
}

// Forwarded counts one published broadcast.
func (m *ClusterMetrics) Forwarded() { m.ForwardedTotal.Inc() }

// Received counts one broadcast delivered from another node.
func (m *ClusterMetrics) Received() { m.ReceivedTotal.Inc() }

// BreakerStateChanged matches gobreaker.Settings.OnStateChange.
func (m *ClusterMetrics) BreakerStateChanged(name string, _ gobreaker.State, to gobreaker.State) {
	m.BreakerState.WithLabelValues(name).Set(float64(to))
	m.BreakerTransitions.WithLabelValues(name, to.String()).Inc()
}
