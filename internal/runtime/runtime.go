// Package runtime assembles the Resolution Policy Engine, Registry Layer,
// Loader, Executor, Require Surface, Reflective Control Object, and
// Automock Generator Adapter into one running module runtime instance:
// collaborators are supplied as functional options over sensible
// defaults, validated, and then wired together in dependency order.
package runtime

import (
	"context"
	"fmt"

	"github.com/quartz-run/quartz/internal/automock"
	qconfig "github.com/quartz-run/quartz/internal/config"
	intEvents "github.com/quartz-run/quartz/internal/events"
	"github.com/quartz-run/quartz/internal/executor"
	"github.com/quartz-run/quartz/internal/hooks"
	intLogger "github.com/quartz-run/quartz/internal/logger"
	"github.com/quartz-run/quartz/internal/loader"
	intMetrics "github.com/quartz-run/quartz/internal/metrics"
	"github.com/quartz-run/quartz/internal/policy"
	"github.com/quartz-run/quartz/internal/registry"
	"github.com/quartz-run/quartz/internal/require"
	"github.com/quartz-run/quartz/internal/secrets"
	intTracing "github.com/quartz-run/quartz/internal/tracing"
	qerrors "github.com/quartz-run/quartz/pkg/quartz/v1/errors"
	qevents "github.com/quartz-run/quartz/pkg/quartz/v1/events"
	"github.com/quartz-run/quartz/pkg/quartz/v1/hostfs"
	qlog "github.com/quartz-run/quartz/pkg/quartz/v1/log"
	qmetrics "github.com/quartz-run/quartz/pkg/quartz/v1/metrics"
	"github.com/quartz-run/quartz/pkg/quartz/v1/resolver"
	"github.com/quartz-run/quartz/pkg/quartz/v1/sandbox"
	qsecrets "github.com/quartz-run/quartz/pkg/quartz/v1/secrets"
	qtracing "github.com/quartz-run/quartz/pkg/quartz/v1/tracing"
	"github.com/quartz-run/quartz/pkg/quartz/v1/transform"
)

// CoreModuleProvider supplies exports for core-module names, mirroring
// require.CoreModuleProvider so callers outside this module never need to
// import an internal package to satisfy it.
type CoreModuleProvider interface {
	Get(name string) (interface{}, bool)
}

// Collaborators are the host-supplied, out-of-scope-per-spec dependencies
// a Runtime cannot default on its own: resolver, transformer, environment,
// and host filesystem.
type Collaborators struct {
	Resolver    resolver.Resolver
	Transformer transform.Transformer
	Environment sandbox.Environment
	Filesystem  hostfs.FS
}

// Runtime wires every core component together and owns their collective
// lifecycle for a single test-runtime instance.
type Runtime struct {
	log             qlog.Logger
	eventBus        qevents.Bus
	metricsProvider qmetrics.RegistryProvider
	tracerProvider  qtracing.TracerProvider
	secretsProvider qsecrets.Provider
	secretTracker   *secrets.SecretTracker
	runtimeMetrics  *intMetrics.RuntimeMetrics

	config   *qconfig.RuntimeConfig
	resolver resolver.Resolver
	env      sandbox.Environment

	policy   *policy.Engine
	registry *registry.Registry
	loader   *loader.Loader
	executor *executor.Executor
	automock *automock.Adapter
	core     *require.Core
	hooks    *hooks.Builder

	coreModules CoreModuleProvider
}

// Option configures a Runtime at construction time: each option mutates
// the Runtime directly through an exported Set method, so the same
// setters remain available to the public API package for building its
// RuntimeV1-typed options.
type Option func(*Runtime) error

// SetLogger supplies a custom logger in place of the default slog-backed one.
func (rt *Runtime) SetLogger(log qlog.Logger) error {
	if log == nil {
		return qerrors.NewConfigError("logger cannot be nil", nil)
	}
	rt.log = log
	return nil
}

// SetEventBus supplies a custom event sink in place of the default
// no-op bus.
func (rt *Runtime) SetEventBus(bus qevents.Bus) error {
	if bus == nil {
		return qerrors.NewConfigError("event bus cannot be nil", nil)
	}
	rt.eventBus = bus
	return nil
}

// SetMetricsRegistryProvider supplies a custom metrics provider in place of
// the default Prometheus-backed one.
func (rt *Runtime) SetMetricsRegistryProvider(p qmetrics.RegistryProvider) error {
	if p == nil {
		return qerrors.NewConfigError("metrics registry provider cannot be nil", nil)
	}
	rt.metricsProvider = p
	return nil
}

// SetTracerProvider supplies a custom tracer provider in place of the
// default NoOp one.
func (rt *Runtime) SetTracerProvider(p qtracing.TracerProvider) error {
	if p == nil {
		return qerrors.NewConfigError("tracer provider cannot be nil", nil)
	}
	rt.tracerProvider = p
	return nil
}

// SetCoreModuleProvider supplies the names a require() call may resolve as
// a core module, independent of the path resolver.
func (rt *Runtime) SetCoreModuleProvider(p CoreModuleProvider) error {
	rt.coreModules = p
	return nil
}

// SetSecretsProvider supplies the collaborator config.SecretGlobals
// entries resolve against, in place of the default environment-variable
// backed provider.
func (rt *Runtime) SetSecretsProvider(p qsecrets.Provider) error {
	if p == nil {
		return qerrors.NewConfigError("secrets provider cannot be nil", nil)
	}
	rt.secretsProvider = p
	return nil
}

// WithLogger supplies a custom logger in place of the default slog-backed one.
func WithLogger(log qlog.Logger) Option {
	return func(rt *Runtime) error { return rt.SetLogger(log) }
}

// WithEventBus supplies a custom event sink in place of the default
// no-op bus.
func WithEventBus(bus qevents.Bus) Option {
	return func(rt *Runtime) error { return rt.SetEventBus(bus) }
}

// WithMetricsRegistryProvider supplies a custom metrics provider in place of
// the default Prometheus-backed one.
func WithMetricsRegistryProvider(p qmetrics.RegistryProvider) Option {
	return func(rt *Runtime) error { return rt.SetMetricsRegistryProvider(p) }
}

// WithTracerProvider supplies a custom tracer provider in place of the
// default NoOp one.
func WithTracerProvider(p qtracing.TracerProvider) Option {
	return func(rt *Runtime) error { return rt.SetTracerProvider(p) }
}

// WithCoreModuleProvider supplies the names a require() call may resolve
// as a core module, independent of the path resolver.
func WithCoreModuleProvider(p CoreModuleProvider) Option {
	return func(rt *Runtime) error { return rt.SetCoreModuleProvider(p) }
}

// WithSecretsProvider supplies the collaborator config.SecretGlobals
// entries resolve against, in place of the default environment-variable
// backed provider.
func WithSecretsProvider(p qsecrets.Provider) Option {
	return func(rt *Runtime) error { return rt.SetSecretsProvider(p) }
}

// New constructs a Runtime from its configuration, host collaborators, and
// options, wiring the Resolution Policy Engine, Registry Layer, Loader,
// Executor, Require Surface, Reflective Control Object, and Automock
// Generator Adapter together in dependency order.
//
// require.Core is constructed before the Loader/Executor/Automock Adapter
// it will eventually hold, since its RequireFactory and AutomockRequireFn
// closures are what those three need at their own construction time; Core
// is completed via SetLoader/SetExecutor/SetAutomock once they exist.
func New(cfg *qconfig.RuntimeConfig, collab Collaborators, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		return nil, qerrors.NewConfigError("runtime config cannot be nil", nil)
	}
	if collab.Resolver == nil {
		return nil, qerrors.NewConfigError("a resolver collaborator is required", nil)
	}
	if collab.Transformer == nil {
		return nil, qerrors.NewConfigError("a transformer collaborator is required", nil)
	}
	if collab.Environment == nil {
		return nil, qerrors.NewConfigError("an environment collaborator is required", nil)
	}
	if collab.Filesystem == nil {
		return nil, qerrors.NewConfigError("a host filesystem collaborator is required", nil)
	}

	rt := &Runtime{
		config:   cfg,
		resolver: collab.Resolver,
		env:      collab.Environment,
	}
	for _, opt := range opts {
		if err := opt(rt); err != nil {
			return nil, qerrors.NewConfigError(fmt.Sprintf("failed to apply runtime option: %v", err), err)
		}
	}

	if rt.log == nil {
		rt.log = intLogger.NewDefault("info")
	}
	if rt.eventBus == nil {
		rt.eventBus = intEvents.NewNoOpEventBus()
	}
	if rt.metricsProvider == nil {
		rt.metricsProvider = intMetrics.NewPrometheusRegistryProvider()
	}
	if rt.tracerProvider == nil {
		tp, err := intTracing.NewNoOpProvider()
		if err != nil {
			return nil, qerrors.NewConfigError("failed to create default NoOp tracer provider", err)
		}
		rt.tracerProvider = tp
	}
	if rt.secretsProvider == nil {
		rt.secretsProvider = secrets.NewEnvProvider()
	}
	rt.secretTracker = secrets.NewSecretTracker()

	rt.runtimeMetrics = intMetrics.NewRuntimeMetrics(rt.metricsProvider.Registry())

	pol, err := policy.New(collab.Resolver, cfg)
	if err != nil {
		return nil, err
	}
	rt.policy = pol

	rt.registry = registry.New(collab.Environment, rt.eventBus, rt.runtimeMetrics, rt.log)

	var coreProvider require.CoreModuleProvider
	if rt.coreModules != nil {
		coreProvider = rt.coreModules
	}

	rt.core = require.New(collab.Resolver, pol, rt.registry, nil, nil, nil, collab.Filesystem, cfg, coreProvider, rt.runtimeMetrics, rt.eventBus)

	rt.automock = automock.New(rt.registry, collab.Resolver, collab.Environment, rt.core.AutomockRequireFn(), rt.eventBus)
	rt.hooks = hooks.NewBuilder(collab.Resolver, pol, rt.registry, collab.Environment, rt.automock, rt.log)

	rt.executor = executor.New(collab.Resolver, collab.Transformer, collab.Environment, cfg, rt.core.RequireFactory(), rt.hooks.HooksFactory(), rt.log, rt.eventBus)
	rt.loader = loader.New(collab.Filesystem, collab.Transformer, rt.executor)

	rt.core.SetLoader(rt.loader)
	rt.core.SetExecutor(rt.executor)
	rt.core.SetAutomock(rt.automock)

	// A tracer acquired from a NoOp provider is itself a NoOp tracer, so
	// installing it unconditionally keeps require/Run/Generate's tracing
	// paths exercised even when no real exporter is configured, without
	// needing IsEffectivelyNoOp checks at each call site.
	tracer := rt.tracerProvider.GetTracer("quartz")
	rt.core.SetTracer(tracer)
	rt.executor.SetTracer(tracer)
	rt.automock.SetTracer(tracer)

	rt.core.SetSecretTracker(rt.secretTracker)
	rt.executor.SetSecrets(rt.secretsProvider, rt.secretTracker)

	return rt, nil
}

// RunSetupFiles executes every configured setup file as a root module with
// InternalOnly intent, in configured order, before any caller module loads.
func (rt *Runtime) RunSetupFiles() error {
	for _, f := range rt.config.SetupFiles {
		if _, err := rt.core.RequireEntry(f, policy.InternalOnly); err != nil {
			return fmt.Errorf("setup file '%s': %w", f, err)
		}
	}
	return nil
}

// RequireEntry loads path as a root module (no caller), the entry point for
// running a single test file.
func (rt *Runtime) RequireEntry(path resolver.ModuleKey) (interface{}, error) {
	return rt.core.RequireEntry(path, policy.Normal)
}

// Policy, Registry, Hooks, and Automock expose the wired collaborators for
// advanced callers (e.g. a CLI wiring up its own per-file hook object, or a
// test harness asserting on registry/policy state directly).
func (rt *Runtime) Policy() *policy.Engine       { return rt.policy }
func (rt *Runtime) Registry() *registry.Registry { return rt.registry }
func (rt *Runtime) Hooks() *hooks.Builder         { return rt.hooks }
func (rt *Runtime) Automock() *automock.Adapter   { return rt.automock }

// Executor exposes the Executor so a caller can seed its source cache
// (e.g. from a prior read of the host filesystem) before requiring a path.
func (rt *Runtime) Executor() *executor.Executor { return rt.executor }

// MetricsRegistryProvider returns the underlying metrics provider.
func (rt *Runtime) MetricsRegistryProvider() qmetrics.RegistryProvider { return rt.metricsProvider }

// SecretsProvider returns the collaborator config.SecretGlobals entries
// resolve against.
func (rt *Runtime) SecretsProvider() qsecrets.Provider { return rt.secretsProvider }

// TracerProvider returns the underlying tracer provider.
func (rt *Runtime) TracerProvider() qtracing.TracerProvider { return rt.tracerProvider }

// Shutdown flushes the tracer provider. The runtime itself owns no other
// resources requiring an orderly close.
func (rt *Runtime) Shutdown(ctx context.Context) error {
	return rt.tracerProvider.Shutdown(ctx)
}
