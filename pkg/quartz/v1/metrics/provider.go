// Package metrics defines the public interface for accessing the runtime's
// metrics registry, so embedders can expose it however they see fit (e.g.
// a Prometheus HTTP endpoint).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// RegistryProvider exposes the Prometheus registry holding the runtime's
// require/mock/automock counters and duration histograms.
type RegistryProvider interface {
	// Registry returns the Prometheus registry containing runtime metrics.
	Registry() *prometheus.Registry
}
