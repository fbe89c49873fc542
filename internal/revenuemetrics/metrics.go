package revenuemetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Revenue counters live on their own registry so the periodic push carries
// accounting series only, never process or request metrics.
type metrics struct {
	settledMinor    *prometheus.CounterVec
	creditsGranted  *prometheus.CounterVec
	creditsConsumed *prometheus.CounterVec
	settlements     *prometheus.CounterVec
	proGrants       prometheus.Counter

	accountsTotal      prometheus.Gauge
	creditsOutstanding prometheus.Gauge
	memoryBytes        prometheus.Gauge
}

func newMetrics(registry *prometheus.Registry) *metrics {
	m := &metrics{
		settledMinor: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inkwell_revenue_settled_minor_total",
			Help: "Settled payment volume in minor currency units.",
		}, []string{"plan_id"}),
		creditsGranted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inkwell_credits_granted_total",
			Help: "Credits granted through settled payments.",
		}, []string{"plan_id"}),
		creditsConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inkwell_credits_consumed_total",
			Help: "Credits charged for usage.",
		}, []string{"action_kind"}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inkwell_settlements_total",
			Help: "Applied settlements per gateway.",
		}, []string{"gateway"}),
		proGrants: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "inkwell_pro_grants_total",
			Help: "Pro windows granted or extended by settlements.",
		}),
		accountsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "inkwell_accounts_total",
			Help: "Provisioned accounts.",
		}),
		creditsOutstanding: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "inkwell_credits_outstanding",
			Help: "Sum of unspent credit balances across accounts.",
		}),
		memoryBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "inkwell_process_memory_bytes",
			Help: "Memory obtained from the OS by the process.",
		}),
	}

	registry.MustRegister(
		m.settledMinor,
		m.creditsGranted,
		m.creditsConsumed,
		m.settlements,
		m.proGrants,
		m.accountsTotal,
		m.creditsOutstanding,
		m.memoryBytes,
	)
	return m
}
