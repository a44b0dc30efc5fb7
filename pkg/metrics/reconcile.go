package metrics

import "github.com/prometheus/client_golang/prometheus"

// ReconcileMetrics counts reconciliation outcomes per provider.
type ReconcileMetrics struct {
	outcomes *prometheus.CounterVec
}

// NewReconcileMetrics registers reconciliation counters on the registerer.
func NewReconcileMetrics(reg prometheus.Registerer) *ReconcileMetrics {
	if reg == nil {
		return &ReconcileMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_reconcile_outcomes",
		Help: "Payment reconciliation outcomes by provider and result.",
	}, []string{"provider", "outcome"})
	reg.MustRegister(outcomes)
	return &ReconcileMetrics{outcomes: outcomes}
}

// Observe records one reconciliation outcome.
func (m *ReconcileMetrics) Observe(provider, outcome string) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(provider, outcome).Inc()
}
