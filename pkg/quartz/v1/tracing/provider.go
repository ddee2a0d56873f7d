// Package tracing defines the public interface for accessing the runtime's
// tracer provider, so embedders can integrate require/executor/automock
// spans with their own OpenTelemetry setup.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// TracerProvider defines the interface for accessing the runtime's tracer
// provider.
type TracerProvider interface {
	// GetTracer returns a Tracer instance with the specified name and options.
	GetTracer(name string, opts ...trace.TracerOption) trace.Tracer

	// Shutdown gracefully shuts down the tracer provider, flushing any
	// buffered spans. Implementations must treat this as a no-op when
	// tracing was never enabled (e.g. a NoOp provider).
	Shutdown(ctx context.Context) error
}
