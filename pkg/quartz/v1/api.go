package v1

import (
	"context"

	qconfig "github.com/quartz-run/quartz/internal/config"
	"github.com/quartz-run/quartz/internal/runtime"
	"github.com/quartz-run/quartz/pkg/quartz/v1/errors"
	"github.com/quartz-run/quartz/pkg/quartz/v1/events"
	"github.com/quartz-run/quartz/pkg/quartz/v1/log"
	"github.com/quartz-run/quartz/pkg/quartz/v1/metrics"
	"github.com/quartz-run/quartz/pkg/quartz/v1/resolver"
	"github.com/quartz-run/quartz/pkg/quartz/v1/secrets"
	"github.com/quartz-run/quartz/pkg/quartz/v1/tracing"
)

// RuntimeV1 defines the public interface for the module runtime core: the
// surface a host program (CLI, embedding test framework) programs against
// instead of the concrete *runtime.Runtime.
type RuntimeV1 interface {
	// RequireEntry loads path as a root module with no caller, the entry
	// point for running a single test file.
	RequireEntry(path resolver.ModuleKey) (interface{}, error)
	// RunSetupFiles executes every configured setup file as a root module
	// with InternalOnly intent, in configured order, before any caller
	// module loads.
	RunSetupFiles() error

	// MetricsRegistryProvider returns the underlying metrics provider.
	MetricsRegistryProvider() metrics.RegistryProvider
	// TracerProvider returns the underlying tracing provider.
	TracerProvider() tracing.TracerProvider
	// SecretsProvider returns the collaborator config.SecretGlobals
	// entries resolve against.
	SecretsProvider() secrets.Provider

	// Shutdown flushes the tracer provider and releases any other
	// resources the runtime owns.
	Shutdown(ctx context.Context) error

	// Setter methods for configuring runtime components programmatically.
	SetLogger(log log.Logger) error
	SetEventBus(bus events.Bus) error
	SetMetricsRegistryProvider(provider metrics.RegistryProvider) error
	SetTracerProvider(provider tracing.TracerProvider) error
	SetCoreModuleProvider(provider runtime.CoreModuleProvider) error
	SetSecretsProvider(provider secrets.Provider) error
}

// RuntimeOption is a function type used to configure the runtime at creation.
type RuntimeOption func(RuntimeV1) error

// Collaborators are the host-supplied dependencies a runtime cannot default
// on its own: the module resolver, script transformer, sandbox environment,
// and host filesystem.
type Collaborators = runtime.Collaborators

// NewRuntime constructs a RuntimeV1 from its configuration, host
// collaborators, and options.
func NewRuntime(cfg *qconfig.RuntimeConfig, collab Collaborators, opts ...RuntimeOption) (RuntimeV1, error) {
	internalOpts := make([]runtime.Option, 0, len(opts))
	for _, opt := range opts {
		opt := opt
		internalOpts = append(internalOpts, func(rt *runtime.Runtime) error {
			return opt(rt)
		})
	}
	return runtime.New(cfg, collab, internalOpts...)
}

// WithLogger supplies a custom logger in place of the default one.
func WithLogger(l log.Logger) RuntimeOption {
	return func(rt RuntimeV1) error {
		if l == nil {
			return errors.NewConfigError("logger cannot be nil", nil)
		}
		return rt.SetLogger(l)
	}
}

// WithEventBus supplies a custom event sink in place of the default one.
func WithEventBus(bus events.Bus) RuntimeOption {
	return func(rt RuntimeV1) error {
		if bus == nil {
			return errors.NewConfigError("event bus cannot be nil", nil)
		}
		return rt.SetEventBus(bus)
	}
}

// WithMetricsRegistryProvider supplies a custom metrics provider in place of
// the default Prometheus-backed one.
func WithMetricsRegistryProvider(p metrics.RegistryProvider) RuntimeOption {
	return func(rt RuntimeV1) error {
		if p == nil {
			return errors.NewConfigError("metrics registry provider cannot be nil", nil)
		}
		return rt.SetMetricsRegistryProvider(p)
	}
}

// WithTracerProvider supplies a custom tracer provider in place of the
// default NoOp one.
func WithTracerProvider(p tracing.TracerProvider) RuntimeOption {
	return func(rt RuntimeV1) error {
		if p == nil {
			return errors.NewConfigError("tracer provider cannot be nil", nil)
		}
		return rt.SetTracerProvider(p)
	}
}

// WithCoreModuleProvider supplies the names a require() call may resolve as
// a core module, independent of the path resolver.
func WithCoreModuleProvider(p runtime.CoreModuleProvider) RuntimeOption {
	return func(rt RuntimeV1) error {
		return rt.SetCoreModuleProvider(p)
	}
}

// WithSecretsProvider supplies the collaborator config.SecretGlobals
// entries resolve against, in place of the default environment-variable
// backed provider.
func WithSecretsProvider(p secrets.Provider) RuntimeOption {
	return func(rt RuntimeV1) error {
		if p == nil {
			return errors.NewConfigError("secrets provider cannot be nil", nil)
		}
		return rt.SetSecretsProvider(p)
	}
}
