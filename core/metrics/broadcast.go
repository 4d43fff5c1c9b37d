package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dmitrymomot/comet/core/broadcast"
)

// BroadcastMetrics implements broadcast.Observer on Prometheus collectors.
type BroadcastMetrics struct {
	BroadcastsTotal      prometheus.Counter
	DeliveriesTotal      prometheus.Counter
	RejectedTotal        prometheus.Counter
	SuspendedTotal       prometheus.Counter
	ActiveSubscriptions  prometheus.Gauge
	ResumedTotal         *prometheus.CounterVec
	TaskFiringsTotal     prometheus.Counter
	TaskFailuresTotal    prometheus.Counter
	ClusterFailuresTotal prometheus.Counter
}

var _ broadcast.Observer = (*BroadcastMetrics)(nil)

// NewBroadcastMetrics creates and registers broadcast metrics on the given registry.
func NewBroadcastMetrics(reg prometheus.Registerer) *BroadcastMetrics {
	m := &BroadcastMetrics{
		BroadcastsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "broadcasts_total",
			Help:      "Total number of broadcasts dispatched.",
		}),
		DeliveriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "deliveries_total",
			Help:      "Total number of messages delivered to subscriptions.",
		}),
		RejectedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "rejected_total",
			Help:      "Total number of broadcasts rejected by a filter.",
		}),
		SuspendedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "suspended_total",
			Help:      "Total number of suspended clients.",
		}),
		ActiveSubscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "active",
			Help:      "Number of currently suspended clients.",
		}),
		ResumedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "resumed_total",
			Help:      "Total number of ended subscriptions by outcome.",
		}, []string{"outcome"}),
		TaskFiringsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "firings_total",
			Help:      "Total number of scheduled broadcast firings.",
		}),
		TaskFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "failures_total",
			Help:      "Total number of scheduled firings that could not broadcast.",
		}),
		ClusterFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cluster",
			Name:      "forward_failures_total",
			Help:      "Total number of broadcasts that failed to reach the cluster.",
		}),
	}

	reg.MustRegister(
		m.BroadcastsTotal, m.DeliveriesTotal, m.RejectedTotal,
		m.SuspendedTotal, m.ActiveSubscriptions, m.ResumedTotal,
		m.TaskFiringsTotal, m.TaskFailuresTotal, m.ClusterFailuresTotal,
	)
	return m
}

func (m *BroadcastMetrics) Broadcast(_ string, delivered int) {
	m.BroadcastsTotal.Inc()
	m.DeliveriesTotal.Add(float64(delivered))
}

func (m *BroadcastMetrics) Rejected(string) { m.RejectedTotal.Inc() }

func (m *BroadcastMetrics) Suspended(string) {
	m.SuspendedTotal.Inc()
	m.ActiveSubscriptions.Inc()
}

func (m *BroadcastMetrics) Resumed(_ string, outcome broadcast.Outcome) {
	m.ActiveSubscriptions.Dec()
	m.ResumedTotal.WithLabelValues(outcome.String()).Inc()
}

func (m *BroadcastMetrics) TaskFired(string)            { m.TaskFiringsTotal.Inc() }
func (m *BroadcastMetrics) TaskFailed(string, error)    { m.TaskFailuresTotal.Inc() }
func (m *BroadcastMetrics) ClusterFailed(string, error) { m.ClusterFailuresTotal.Inc() }
