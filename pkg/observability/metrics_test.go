package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_Registers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.Turns.WithLabelValues("ok").Inc()
	m.StepDuration.WithLabelValues("input_guard").Observe(0.01)
	m.AuditDropped.Add(2)

	families, err := reg.Gather()
	require.NoError(t, err)

	byName := make(map[string]float64, len(families))
	for _, f := range families {
		byName[f.GetName()] = 0
		if len(f.GetMetric()) > 0 && f.GetMetric()[0].GetCounter() != nil {
			byName[f.GetName()] = f.GetMetric()[0].GetCounter().GetValue()
		}
	}
	assert.Contains(t, byName, "turnpike_turns_total")
	assert.Contains(t, byName, "turnpike_step_duration_seconds")
	assert.Equal(t, 2.0, byName["turnpike_audit_dropped_total"])
}

func TestNewMetrics_NilRegisterer(t *testing.T) {
	assert.NotPanics(t, func() {
		a := NewMetrics(nil)
		b := NewMetrics(nil)
		a.Turns.WithLabelValues("ok").Inc()
		b.Turns.WithLabelValues("ok").Inc()
	})
}
