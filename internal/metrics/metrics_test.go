package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"caseline/internal/metrics"
)

func TestCountersIncrement(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	m.IncrementTransition("certificate", "approved")
	m.IncrementTransition("certificate", "approved")
	m.IncrementConflict("blotter", "stale")
	m.IncrementIssued("residency")
	m.IncrementNotification("webhook", "error")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Transitions.WithLabelValues("certificate", "approved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Conflicts.WithLabelValues("blotter", "stale")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Issued.WithLabelValues("residency")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Notifications.WithLabelValues("webhook", "error")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *metrics.Metrics
	assert.NotPanics(t, func() {
		m.IncrementTransition("incident", "rejected")
		m.IncrementConflict("incident", "illegal")
		m.IncrementIssued("indigency")
		m.IncrementNotification("log", "ok")
	})
}
