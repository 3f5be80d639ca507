package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the workflow core. All methods are
// safe on a nil receiver.
type Metrics struct {
	// Committed transitions by request kind and transition name
	Transitions *prometheus.CounterVec

	// Rejected attempts by kind and reason: stale, illegal, duplicate
	Conflicts *prometheus.CounterVec

	// Issued certificates by certificate type
	Issued *prometheus.CounterVec

	// Notification deliveries by sink and outcome
	Notifications *prometheus.CounterVec
}

// New registers all collectors on reg. Tests pass a fresh
// prometheus.NewRegistry() to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "caseline_transitions_total",
			Help: "Committed workflow transitions by kind and transition",
		}, []string{"kind", "transition"}),

		Conflicts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "caseline_transition_conflicts_total",
			Help: "Rejected transition attempts by kind and reason",
		}, []string{"kind", "reason"}),

		Issued: f.NewCounterVec(prometheus.CounterOpts{
			Name: "caseline_certificates_issued_total",
			Help: "Issued certificates by certificate type",
		}, []string{"type"}),

		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "caseline_notifications_total",
			Help: "Notification deliveries by sink and outcome",
		}, []string{"sink", "outcome"}),
	}
}

func (m *Metrics) IncrementTransition(kind, transition string) {
	if m != nil {
		m.Transitions.WithLabelValues(kind, transition).Inc()
	}
}

func (m *Metrics) IncrementConflict(kind, reason string) {
	if m != nil {
		m.Conflicts.WithLabelValues(kind, reason).Inc()
	}
}

func (m *Metrics) IncrementIssued(certType string) {
	if m != nil {
		m.Issued.WithLabelValues(certType).Inc()
	}
}

// IncrementNotification records one delivery attempt; outcome is "ok" or "error".
func (m *Metrics) IncrementNotification(sink, outcome string) {
	if m != nil {
		m.Notifications.WithLabelValues(sink, outcome).Inc()
	}
}
