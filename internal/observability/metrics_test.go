package observability

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sapphire/support-core/internal/config"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordRequest("/v1/cases", "GET", 200, time.Millisecond)
		m.RecordBreach("first_response", "sweep")
		m.RecordSweep(time.Second, 3, 1, nil)
	})
	assert.NotNil(t, m.Handler())
}

func TestRecordSweepResults(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry(), config.AppConfig{Name: "support-core", Env: "test"})

	m.RecordSweep(time.Second, 10, 0, nil)
	m.RecordSweep(time.Second, 4, 2, nil)
	m.RecordSweep(time.Second, 0, 0, errors.New("db down"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.sweepRuns.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sweepRuns.WithLabelValues("partial")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sweepRuns.WithLabelValues("failed")))
	assert.Equal(t, 14.0, testutil.ToFloat64(m.sweepCases.WithLabelValues("checked")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.sweepCases.WithLabelValues("failed")))
}

func TestBreachCountersCarryConstLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, config.AppConfig{Name: "support-core", Env: "test"})
	m.RecordBreach("resolution", "inline")
	m.RecordBreachSuppressed("first_response")

	expected := `
# HELP support_core_sla_breaches_total SLA breach events appended, by kind and detection path.
# TYPE support_core_sla_breaches_total counter
support_core_sla_breaches_total{env="test",kind="resolution",service="support-core",source="inline"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "support_core_sla_breaches_total"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.breachSuppressed.WithLabelValues("first_response")))
}
