package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sapphire/support-core/internal/config"
)

// Metrics holds the Prometheus collectors of the service. A nil *Metrics is a valid no-op.
type Metrics struct {
	gatherer prometheus.Gatherer

	requests         *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	errors           *prometheus.CounterVec
	transitions      *prometheus.CounterVec
	breaches         *prometheus.CounterVec
	breachSuppressed *prometheus.CounterVec
	onboarding       *prometheus.CounterVec
	routing          *prometheus.CounterVec
	sweepRuns        *prometheus.CounterVec
	sweepCases       *prometheus.CounterVec
	sweepDuration    prometheus.Histogram
}

// NewMetrics registers collectors on reg. Passing nil uses a fresh registry so tests and
// multiple instances never collide on the default one.
func NewMetrics(reg *prometheus.Registry, cfg config.AppConfig) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	service := strings.TrimSpace(cfg.Name)
	if service == "" {
		service = "support-core"
	}
	env := strings.TrimSpace(cfg.Env)
	if env == "" {
		env = "unknown"
	}
	constLabels := prometheus.Labels{"service": service, "env": env}

	m := &Metrics{
		gatherer: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "support_core_http_requests_total",
			Help:        "HTTP requests by route, method and status.",
			ConstLabels: constLabels,
		}, []string{"path", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "support_core_http_request_duration_seconds",
			Help:        "HTTP request latency.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		}, []string{"path", "method"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "support_core_errors_total",
			Help:        "Errors returned to callers by error code.",
			ConstLabels: constLabels,
		}, []string{"path", "method", "code"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "support_core_case_transitions_total",
			Help:        "Applied case status transitions.",
			ConstLabels: constLabels,
		}, []string{"from", "to"}),
		breaches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "support_core_sla_breaches_total",
			Help:        "SLA breach events appended, by kind and detection path.",
			ConstLabels: constLabels,
		}, []string{"kind", "source"}),
		breachSuppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "support_core_sla_breaches_suppressed_total",
			Help:        "Due breaches held back because the tenant is still onboarding.",
			ConstLabels: constLabels,
		}, []string{"kind"}),
		onboarding: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "support_core_onboarding_phase_advances_total",
			Help:        "Onboarding phase advances by destination phase.",
			ConstLabels: constLabels,
		}, []string{"phase"}),
		routing: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "support_core_routing_decisions_total",
			Help:        "Routing decisions by action.",
			ConstLabels: constLabels,
		}, []string{"action"}),
		sweepRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "support_core_sla_sweep_runs_total",
			Help:        "Breach sweep runs by result.",
			ConstLabels: constLabels,
		}, []string{"result"}), // success | partial | failed
		sweepCases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "support_core_sla_sweep_cases_total",
			Help:        "Cases examined by the breach sweep.",
			ConstLabels: constLabels,
		}, []string{"result"}), // checked | failed
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "support_core_sla_sweep_duration_seconds",
			Help:        "Wall time of a breach sweep run.",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
			ConstLabels: constLabels,
		}),
	}

	reg.MustRegister(
		m.requests,
		m.requestDuration,
		m.errors,
		m.transitions,
		m.breaches,
		m.breachSuppressed,
		m.onboarding,
		m.routing,
		m.sweepRuns,
		m.sweepCases,
		m.sweepDuration,
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(path, method).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(path, method, code).Inc()
}

// RecordTransition counts an applied case transition.
func (m *Metrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// RecordBreach counts an appended breach event. source is inline or sweep.
func (m *Metrics) RecordBreach(kind, source string) {
	if m == nil {
		return
	}
	m.breaches.WithLabelValues(kind, source).Inc()
}

// RecordBreachSuppressed counts a due breach that was not appended.
func (m *Metrics) RecordBreachSuppressed(kind string) {
	if m == nil {
		return
	}
	m.breachSuppressed.WithLabelValues(kind).Inc()
}

// RecordPhaseAdvance counts an onboarding phase advance.
func (m *Metrics) RecordPhaseAdvance(phase string) {
	if m == nil {
		return
	}
	m.onboarding.WithLabelValues(phase).Inc()
}

// RecordRouting counts a persisted routing decision.
func (m *Metrics) RecordRouting(action string) {
	if m == nil {
		return
	}
	m.routing.WithLabelValues(action).Inc()
}

// RecordSweep records one sweep run.
func (m *Metrics) RecordSweep(duration time.Duration, checked, failed int, err error) {
	if m == nil {
		return
	}
	result := "success"
	switch {
	case err != nil:
		result = "failed"
	case failed > 0:
		result = "partial"
	}
	m.sweepRuns.WithLabelValues(result).Inc()
	m.sweepCases.WithLabelValues("checked").Add(float64(checked))
	m.sweepCases.WithLabelValues("failed").Add(float64(failed))
	m.sweepDuration.Observe(duration.Seconds())
}
