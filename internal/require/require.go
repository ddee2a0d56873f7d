// Package require implements the Require Surface: the caller-bound
// require(request) function and its resolve/requireActual/
// requireMock/main companions, plus the Core that wires the Resolution
// Policy Engine, Registry Layer, Loader, and Automock Generator Adapter
// together to answer it.
package require

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/quartz-run/quartz/internal/automock"
	qconfig "github.com/quartz-run/quartz/internal/config"
	"github.com/quartz-run/quartz/internal/executor"
	"github.com/quartz-run/quartz/internal/loader"
	qmetrics "github.com/quartz-run/quartz/internal/metrics"
	"github.com/quartz-run/quartz/internal/policy"
	"github.com/quartz-run/quartz/internal/redaction"
	"github.com/quartz-run/quartz/internal/registry"
	"github.com/quartz-run/quartz/internal/secrets"
	intTracing "github.com/quartz-run/quartz/internal/tracing"
	qerrors "github.com/quartz-run/quartz/pkg/quartz/v1/errors"
	qevents "github.com/quartz-run/quartz/pkg/quartz/v1/events"
	"github.com/quartz-run/quartz/pkg/quartz/v1/hostfs"
	"github.com/quartz-run/quartz/pkg/quartz/v1/resolver"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// CoreModuleProvider supplies the exports for a core-module name. A nil
// provider, or a miss, is reported as module-not-found — the runtime
// core does not itself ship any core modules.
type CoreModuleProvider interface {
	Get(name string) (interface{}, bool)
}

// Core wires the Resolution Policy Engine, Registry Layer, Loader, and
// Automock Generator Adapter together to answer require() calls. One
// Core serves an entire runtime instance.
type Core struct {
	resolver   resolver.Resolver
	policy     *policy.Engine
	reg        *registry.Registry
	loader     *loader.Loader
	executor   *executor.Executor
	automock   *automock.Adapter
	fs         hostfs.FS
	config     *qconfig.RuntimeConfig
	coreModules CoreModuleProvider
	metrics    *qmetrics.RuntimeMetrics
	events     qevents.Bus
	tracer     oteltrace.Tracer

	// secretTracker backs the same redaction pass Executor.runRedacted
	// applies: a value resolved earlier through a SecretGlobals entry
	// must never reappear in a later resolution error's text.
	secretTracker *secrets.SecretTracker
}

// New constructs a Core. automockAdapter and coreModules may be nil;
// coreModules absence means every core-module request fails not-found.
func New(
	r resolver.Resolver,
	pol *policy.Engine,
	reg *registry.Registry,
	ld *loader.Loader,
	x *executor.Executor,
	automockAdapter *automock.Adapter,
	fs hostfs.FS,
	cfg *qconfig.RuntimeConfig,
	coreModules CoreModuleProvider,
	m *qmetrics.RuntimeMetrics,
	bus qevents.Bus,
) *Core {
	return &Core{
		resolver:    r,
		policy:      pol,
		reg:         reg,
		loader:      ld,
		executor:    x,
		automock:    automockAdapter,
		fs:          fs,
		config:      cfg,
		coreModules: coreModules,
		metrics:     m,
		events:      bus,
	}
}

// SetLoader, SetExecutor, and SetAutomock complete a Core built with nil
// loader/executor/automock arguments. The top-level runtime wiring
// constructs Core first (so its RequireFactory/AutomockRequireFn closures
// exist to hand to the Executor and Automock Adapter constructors), then
// builds the Loader, Executor, and Automock Adapter, then calls these to
// close the loop. Safe to call only during wiring, before any require call
// is made.
func (c *Core) SetLoader(ld *loader.Loader)       { c.loader = ld }
func (c *Core) SetExecutor(x *executor.Executor)  { c.executor = x }
func (c *Core) SetAutomock(a *automock.Adapter)   { c.automock = a }

// SetTracer installs the tracer a requireFrom span is started against. A
// nil tracer (the default) means requireFrom runs untraced.
func (c *Core) SetTracer(t oteltrace.Tracer) { c.tracer = t }

// SetSecretTracker installs the tracker whose resolved secret values are
// scrubbed out of a requireFrom error's message before it escapes Core.
func (c *Core) SetSecretTracker(tracker *secrets.SecretTracker) { c.secretTracker = tracker }

// RequireFactory adapts Core to the executor.RequireFactory contract.
func (c *Core) RequireFactory() executor.RequireFactory {
	return func(callerRecord *registry.Record, intent policy.Intent) interface{} {
		return c.NewSurface(callerRecord, intent)
	}
}

// AutomockRequireFn adapts Core to automock.RequireFn: a forced-real load
// used while generating a mock's metadata.
func (c *Core) AutomockRequireFn() automock.RequireFn {
	return func(from resolver.ModuleKey, request string, intent policy.Intent) (interface{}, error) {
		return c.requireFrom(nil, from, request, intent)
	}
}

// RequireEntry loads path as a root module: no caller, so its record's
// parent lookup is permanently absent ("from replaced by null when
// request was absent" root-load signal).
func (c *Core) RequireEntry(path resolver.ModuleKey, intent policy.Intent) (interface{}, error) {
	return c.requireFrom(nil, "", path, intent)
}

// Surface is the per-caller require(request) object a module body
// receives, plus its companion operations (resolve, requireActual,
// requireMock, main).
type Surface struct {
	record *registry.Record
	intent policy.Intent
	core   *Core
}

// NewSurface builds a require surface bound to callerRecord and intent.
// callerRecord may be nil for a root load.
func (c *Core) NewSurface(callerRecord *registry.Record, intent policy.Intent) *Surface {
	return &Surface{record: callerRecord, intent: intent, core: c}
}

func (s *Surface) from() resolver.ModuleKey {
	if s.record == nil {
		return ""
	}
	return s.record.Filename
}

// Require implements require(request).
func (s *Surface) Require(request string) (interface{}, error) {
	return s.core.requireFrom(s.record, s.from(), request, s.intent)
}

// RequireActual implements require.requireActual(request).
func (s *Surface) RequireActual(request string) (interface{}, error) {
	return s.core.requireFrom(s.record, s.from(), request, policy.ForceReal)
}

// RequireMock implements require.requireMock(request).
func (s *Surface) RequireMock(request string) (interface{}, error) {
	id := s.core.resolver.ModuleID(s.core.policy.VirtualMocks(), s.from(), request)
	return s.core.resolveMock(s.record, s.from(), request, id)
}

// Main implements require.main: walk the parent chain, stopping at an
// absent parent or a parent that is its own parent by key.
func (s *Surface) Main() *registry.Record {
	if s.record == nil {
		return nil
	}
	cur := s.record
	for {
		parent, ok := cur.Parent()
		if !ok || parent == nil || parent.Key == cur.Key {
			return cur
		}
		cur = parent
	}
}

// ResolveOptions mirrors resolver.ResolveFromDirOptions for
// require.resolve(request, options).
type ResolveOptions = resolver.ResolveFromDirOptions

// Resolve implements require.resolve(request, options?).
func (s *Surface) Resolve(request string, opts *ResolveOptions) (resolver.ModuleKey, error) {
	from := s.from()

	if opts != nil && len(opts.Paths) > 0 {
		for _, dir := range opts.Paths {
			if path, ok := s.core.resolver.ResolveFromDirIfExists(dir, request, resolver.ResolveFromDirOptions{}); ok {
				return path, nil
			}
		}
		return "", qerrors.NewNotFoundError(from, request, fmt.Sprintf("tried paths: %s", strings.Join(opts.Paths, ", ")))
	}

	path, err := s.core.resolver.Resolve(from, request)
	if err == nil {
		return path, nil
	}
	if manual, ok := s.core.resolver.GetMockModule(from, request); ok {
		return manual, nil
	}
	return "", s.core.enrichNotFound(err, from, request)
}

// ResolvePaths implements require.resolve.paths(request).
func (s *Surface) ResolvePaths(request string) ([]string, error) {
	if request == "" {
		return nil, qerrors.NewBadResolveArgError(request)
	}
	from := s.from()
	if strings.HasPrefix(request, ".") {
		return []string{filepath.Dir(from)}, nil
	}
	if s.core.resolver.IsCoreModule(request) {
		return nil, nil
	}
	return s.core.resolver.GetModulePaths(filepath.Dir(from)), nil
}

// requireFrom is the shared implementation behind Require/RequireActual
// and the root-load entry point: resolve_kind, registry selection, and
// (on miss) pre-registration plus Loader/Automock dispatch.
func (c *Core) requireFrom(caller *registry.Record, from resolver.ModuleKey, request string, intent policy.Intent) (interface{}, error) {
	if c.tracer != nil {
		_, span := c.tracer.Start(context.Background(), "quartz.require", oteltrace.WithAttributes(
			attribute.String("quartz.require.from", string(from)),
			attribute.String("quartz.require.request", request),
		))
		defer span.End()
		exports, err := c.requireFromRedacted(caller, from, request, intent)
		if err != nil {
			intTracing.RecordErrorWithContext(span, err, c.redactedKeywords())
		}
		return exports, err
	}
	return c.requireFromRedacted(caller, from, request, intent)
}

// requireFromRedacted wraps requireFromInner's error, if any, so a
// resolution failure can never carry a tracked secret value or a
// configured redacted keyword's associated value back out to the caller.
func (c *Core) requireFromRedacted(caller *registry.Record, from resolver.ModuleKey, request string, intent policy.Intent) (interface{}, error) {
	exports, err := c.requireFromInner(caller, from, request, intent)
	if err == nil {
		return exports, nil
	}
	err = redaction.RedactTrackedSecretsInError(err, c.secretTracker)
	return exports, redaction.RedactKeywordsInError(err, c.redactedKeywords())
}

// requireFromInner is resolve_kind, registry selection, and (on miss)
// pre-registration plus Loader/Automock dispatch.
func (c *Core) requireFromInner(caller *registry.Record, from resolver.ModuleKey, request string, intent policy.Intent) (interface{}, error) {
	start := time.Now()
	outcome, err := c.policy.ResolveKind(from, request, intent, c.executor.CurrentlyExecutingManualMock())
	if err != nil {
		return nil, c.enrichNotFound(err, from, request)
	}
	defer c.observeRequire(outcome.Kind, start)

	switch outcome.Kind {
	case policy.KindUseCore:
		if c.coreModules != nil {
			if exports, ok := c.coreModules.Get(outcome.Name); ok {
				return exports, nil
			}
		}
		return nil, qerrors.NewNotFoundError(from, request, "no core module provider registered for this name")

	case policy.KindUseReal:
		return c.requireReal(caller, from, request, outcome, intent)

	case policy.KindUseManualMock, policy.KindUseAutoMock:
		return c.resolveMock(caller, from, request, outcome.ID)

	default:
		return nil, qerrors.NewNotFoundError(from, request, "unrecognized resolution outcome")
	}
}

func (c *Core) requireReal(caller *registry.Record, from resolver.ModuleKey, request string, outcome policy.Outcome, intent policy.Intent) (interface{}, error) {
	ref := c.reg.SelectReal(intent, outcome.Path)
	if rec, ok := c.reg.GetReal(ref, outcome.Path); ok {
		return rec.Exports, nil
	}

	rec := registry.NewRecord(outcome.Path, outcome.Path, c.resolver.GetModulePaths(filepath.Dir(outcome.Path)), from, c.reg.ParentLookup())
	c.reg.PutReal(ref, outcome.Path, rec)
	if caller != nil {
		caller.AddChild(rec)
	}

	c.emit(qevents.ModuleResolved, from, request)
	if err := c.loader.Load(rec, request, outcome.Path, intent); err != nil {
		return nil, err
	}
	return rec.Exports, nil
}

// resolveMock implements require.requireMock's decision order and is
// shared by both the explicit requireMock call and resolve_kind's
// mocking branches, since real Jest-style runtimes answer both through
// the same underlying mechanism.
func (c *Core) resolveMock(caller *registry.Record, from resolver.ModuleKey, request string, id resolver.ModuleID) (interface{}, error) {
	ref := c.reg.SelectMock()

	if rec, ok := c.reg.GetMock(ref, id); ok {
		return rec.Exports, nil
	}

	if factory, ok := c.policy.MockFactory(id); ok {
		exports, err := factory()
		if err != nil {
			return nil, err
		}
		rec := &registry.Record{Exports: exports, Loaded: true}
		c.reg.PutMock(ref, id, rec)
		if caller != nil {
			caller.AddChild(rec)
		}
		if c.metrics != nil {
			c.metrics.MockRegisteredTotal.WithLabelValues("factory").Inc()
		}
		return exports, nil
	}

	if manualPath, ok := c.resolveManualMockPath(from, request); ok {
		rec := registry.NewRecord(manualPath, manualPath, c.resolver.GetModulePaths(filepath.Dir(manualPath)), from, c.reg.ParentLookup())
		c.reg.PutMock(ref, id, rec)
		if caller != nil {
			caller.AddChild(rec)
		}
		c.emit(qevents.ModuleMocked, from, request)
		if err := c.loader.Load(rec, request, manualPath, policy.Normal); err != nil {
			return nil, err
		}
		if c.metrics != nil {
			c.metrics.MockRegisteredTotal.WithLabelValues("manual").Inc()
		}
		return rec.Exports, nil
	}

	if c.automock == nil {
		return nil, qerrors.NewNotFoundError(from, request, "automock generation is not available")
	}
	exports, err := c.automock.Generate(from, request)
	if err != nil {
		return nil, err
	}
	rec := &registry.Record{Exports: exports, Loaded: true}
	c.reg.PutMock(ref, id, rec)
	if caller != nil {
		caller.AddChild(rec)
	}
	return exports, nil
}

// resolveManualMockPath finds an explicit manual mock registered by the
// resolver, or (the adjacent-probing rule) a __mocks__ file sitting next
// to the real module's resolved path.
func (c *Core) resolveManualMockPath(from resolver.ModuleKey, request string) (resolver.ModuleKey, bool) {
	if manual, ok := c.resolver.GetMockModule(from, request); ok {
		return manual, true
	}

	path, err := c.resolver.Resolve(from, request)
	if err != nil {
		return "", false
	}
	adjacent := filepath.Join(filepath.Dir(path), "__mocks__", filepath.Base(path))
	if c.fs.Exists(adjacent) {
		return adjacent, true
	}
	return "", false
}

// enrichNotFound augments a resolution failure with a hint listing
// sibling files sharing request's base name under a different configured
// extension.
func (c *Core) enrichNotFound(err error, from, request string) error {
	nf, ok := err.(*qerrors.NotFoundError)
	if !ok || nf.Hint != "" {
		return err
	}
	if !strings.HasPrefix(request, ".") {
		return err
	}

	dir := filepath.Dir(from)
	base := strings.TrimSuffix(filepath.Join(dir, request), filepath.Ext(request))

	var siblings []string
	for _, ext := range c.config.GetModuleFileExtensions() {
		candidate := base + ext
		if c.fs.Exists(candidate) {
			siblings = append(siblings, filepath.Base(candidate))
		}
	}
	if len(siblings) == 0 {
		return err
	}
	return qerrors.NewNotFoundError(from, request, fmt.Sprintf("did you mean one of: %s?", strings.Join(siblings, ", ")))
}

// observeRequire records the resolved kind and elapsed duration of one
// requireFrom call against the runtime's require metrics.
func (c *Core) observeRequire(kind policy.Kind, start time.Time) {
	if c.metrics == nil {
		return
	}
	label := kind.String()
	c.metrics.ModuleRequireTotal.WithLabelValues(label).Inc()
	c.metrics.ModuleRequireDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
}

// redactedKeywords exposes the configured redaction keyword set to span
// error-recording, so a resolution failure's message never leaks a secret
// value matching a configured keyword into trace output.
func (c *Core) redactedKeywords() map[string]struct{} {
	if c.config == nil {
		return nil
	}
	return c.config.RedactedKeywordSet()
}

func (c *Core) emit(t qevents.EventType, from, request string) {
	if c.events == nil {
		return
	}
	c.events.Emit(qevents.Event{Type: t, Timestamp: time.Now(), From: from, Request: request})
}
