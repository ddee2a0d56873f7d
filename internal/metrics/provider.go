// Package metrics provides the default Prometheus-backed implementation of
// the public quartz metrics.RegistryProvider, plus the counters and
// histograms the runtime registers against it.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	qmetrics "github.com/quartz-run/quartz/pkg/quartz/v1/metrics"
)

// PrometheusRegistryProvider implements qmetrics.RegistryProvider using a
// standard, non-global Prometheus registry so multiple runtimes in the same
// process never collide on metric names.
type PrometheusRegistryProvider struct {
	registry *prometheus.Registry
}

// NewPrometheusRegistryProvider creates a metrics provider backed by a fresh
// Prometheus registry.
func NewPrometheusRegistryProvider() *PrometheusRegistryProvider {
	return &PrometheusRegistryProvider{
		registry: prometheus.NewRegistry(),
	}
}

// Registry returns the underlying Prometheus registry.
func (p *PrometheusRegistryProvider) Registry() *prometheus.Registry {
	return p.registry
}

var _ qmetrics.RegistryProvider = (*PrometheusRegistryProvider)(nil)

// RuntimeMetrics bundles the counters and histograms the runtime records
// against a single registry. Fields are exported so collaborators
// (require.Core and the registry layer) can increment them directly
// without a further indirection layer.
type RuntimeMetrics struct {
	ModuleRequireTotal     *prometheus.CounterVec
	ModuleRequireDuration  *prometheus.HistogramVec
	MockRegisteredTotal    *prometheus.CounterVec
	AutomockGeneratedTotal *prometheus.CounterVec
	IsolationTotal         *prometheus.CounterVec
	RegistryResetTotal     prometheus.Counter
}

// NewRuntimeMetrics constructs and registers the runtime's metric
// collectors against the given registry. Panics on duplicate registration,
// mirroring the fail-fast posture used elsewhere for static registries.
func NewRuntimeMetrics(reg *prometheus.Registry) *RuntimeMetrics {
	m := &RuntimeMetrics{
		ModuleRequireTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quartz",
			Subsystem: "runtime",
			Name:      "module_require_total",
			Help:      "Total number of require() resolutions, labeled by resolved kind.",
		}, []string{"kind"}),
		ModuleRequireDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "quartz",
			Subsystem: "runtime",
			Name:      "module_require_duration_seconds",
			Help:      "Duration of require() resolution and execution, labeled by resolved kind.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		MockRegisteredTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quartz",
			Subsystem: "runtime",
			Name:      "mock_registered_total",
			Help:      "Total number of explicit mock registrations, labeled by source (factory/manual).",
		}, []string{"source"}),
		AutomockGeneratedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quartz",
			Subsystem: "runtime",
			Name:      "automock_generated_total",
			Help:      "Total number of automatically generated mocks, labeled by outcome.",
		}, []string{"outcome"}),
		IsolationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quartz",
			Subsystem: "runtime",
			Name:      "isolation_total",
			Help:      "Total number of isolateModules invocations, labeled by outcome.",
		}, []string{"outcome"}),
		RegistryResetTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quartz",
			Subsystem: "runtime",
			Name:      "registry_reset_total",
			Help:      "Total number of resetModules invocations.",
		}),
	}

	reg.MustRegister(
		m.ModuleRequireTotal,
		m.ModuleRequireDuration,
		m.MockRegisteredTotal,
		m.AutomockGeneratedTotal,
		m.IsolationTotal,
		m.RegistryResetTotal,
	)

	return m
}
