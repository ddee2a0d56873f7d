// Package automock implements the Automock Generator Adapter: thin glue
// that loads a module's real exports under a throwaway
// registry frame and hands them to the environment's mock-metadata
// facility, so real-module side effects never touch the live registries.
package automock

import (
	"context"
	"time"

	"github.com/quartz-run/quartz/internal/clone"
	"github.com/quartz-run/quartz/internal/policy"
	"github.com/quartz-run/quartz/internal/registry"
	intTracing "github.com/quartz-run/quartz/internal/tracing"
	qerrors "github.com/quartz-run/quartz/pkg/quartz/v1/errors"
	qevents "github.com/quartz-run/quartz/pkg/quartz/v1/events"
	"github.com/quartz-run/quartz/pkg/quartz/v1/resolver"
	"github.com/quartz-run/quartz/pkg/quartz/v1/sandbox"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// RequireFn is the callback the Adapter uses to load a module's real
// exports — normally wired to the Require Surface's own resolution path
// with intent forced to ForceReal, so the load that populates the
// throwaway frame never itself tries to automock. Passed in rather than
// importing the require package directly, since require depends on
// Adapter to implement requireMock's "else synthesize" fallback.
type RequireFn func(from resolver.ModuleKey, request string, intent policy.Intent) (interface{}, error)

// Adapter generates and caches automocks.
type Adapter struct {
	registry *registry.Registry
	resolver resolver.Resolver
	env      sandbox.Environment
	require  RequireFn
	events   qevents.Bus

	// metadataCache mirrors the conceptual mock_metadata_cache: shared
	// across regenerations within a runtime's lifetime, keyed by resolved
	// path.
	metadataCache map[resolver.ModuleKey]sandbox.MockMetadata

	tracer oteltrace.Tracer
}

// SetTracer installs the tracer a Generate span is started against. A nil
// tracer (the default) means Generate runs untraced.
func (a *Adapter) SetTracer(t oteltrace.Tracer) { a.tracer = t }

// New constructs an Adapter.
func New(reg *registry.Registry, r resolver.Resolver, env sandbox.Environment, require RequireFn, bus qevents.Bus) *Adapter {
	return &Adapter{
		registry:      reg,
		resolver:      r,
		env:           env,
		require:       require,
		events:        bus,
		metadataCache: make(map[resolver.ModuleKey]sandbox.MockMetadata),
	}
}

// Generate implements genMockFromModule(name) and requireMock's automock
// fallback: it returns a synthesized mock for (from, request)'s real
// module, generating metadata only on the first call for a given path.
func (a *Adapter) Generate(from resolver.ModuleKey, request string) (interface{}, error) {
	if a.tracer != nil {
		_, span := a.tracer.Start(context.Background(), "quartz.automock.generate", oteltrace.WithAttributes(
			attribute.String("quartz.require.from", string(from)),
			attribute.String("quartz.require.request", request),
		))
		defer span.End()
		exports, err := a.generate(from, request)
		if err != nil {
			intTracing.RecordErrorWithContext(span, err, nil)
		}
		return exports, err
	}
	return a.generate(from, request)
}

// generate is the untraced body Generate wraps with a span when a tracer
// is installed.
func (a *Adapter) generate(from resolver.ModuleKey, request string) (interface{}, error) {
	path, err := a.resolver.Resolve(from, request)
	if err != nil {
		return nil, err
	}

	mocker := a.env.ModuleMocker()

	if meta, cached := a.metadataCache[path]; cached {
		// Hand the mocker its own copy: GenerateFromMetadata must never be
		// able to mutate the cached shape out from under later calls.
		return mocker.GenerateFromMetadata(clone.DeepCopy(meta))
	}

	// Seed the cache with the sentinel empty metadata before loading the
	// real module, so a self-referential require reached while loading it
	// resolves to this placeholder instead of recursing back into Generate.
	a.metadataCache[path] = mocker.EmptyMetadata()

	frame := a.registry.BeginAutomockFrame()
	defer func() { a.registry.EndAutomockFrame(frame) }()
	exports, loadErr := a.require(from, request, policy.ForceReal)
	if loadErr != nil {
		a.emit(qevents.AutomockGenerated, path, "error")
		return nil, loadErr
	}

	meta, err := mocker.GetMetadata(exports)
	if err != nil {
		a.emit(qevents.AutomockGenerated, path, "error")
		return nil, err
	}
	if meta == nil {
		a.emit(qevents.AutomockGenerated, path, "null_metadata")
		return nil, qerrors.NewAutomockMetadataNullError(path)
	}

	a.metadataCache[path] = clone.DeepCopy(meta)
	a.emit(qevents.AutomockGenerated, path, "ok")
	return mocker.GenerateFromMetadata(meta)
}

func (a *Adapter) emit(t qevents.EventType, path, outcome string) {
	if a.events == nil {
		return
	}
	a.events.Emit(qevents.Event{Type: t, Timestamp: time.Now(), From: path, Payload: map[string]interface{}{"outcome": outcome}})
}
