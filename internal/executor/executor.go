// Package executor implements the sandboxed module-body invocation step:
// reentrancy-state save/restore, paths computation, transform-and-run of
// a module's source, and the fixed argument order a module body
// receives.
package executor

import (
	"context"
	"path/filepath"
	"time"

	qconfig "github.com/quartz-run/quartz/internal/config"
	"github.com/quartz-run/quartz/internal/policy"
	"github.com/quartz-run/quartz/internal/redaction"
	"github.com/quartz-run/quartz/internal/registry"
	"github.com/quartz-run/quartz/internal/secrets"
	intTracing "github.com/quartz-run/quartz/internal/tracing"
	qerrors "github.com/quartz-run/quartz/pkg/quartz/v1/errors"
	qevents "github.com/quartz-run/quartz/pkg/quartz/v1/events"
	qlog "github.com/quartz-run/quartz/pkg/quartz/v1/log"
	"github.com/quartz-run/quartz/pkg/quartz/v1/resolver"
	"github.com/quartz-run/quartz/pkg/quartz/v1/sandbox"
	qsecrets "github.com/quartz-run/quartz/pkg/quartz/v1/secrets"
	"github.com/quartz-run/quartz/pkg/quartz/v1/transform"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// RequireFactory builds the caller-bound require surface a newly
// executing record exposes to its own body. Passed in at construction
// rather than imported directly, since the require package itself
// depends on Executor to run transformable sources — a direct import
// here would cycle back.
type RequireFactory func(callerRecord *registry.Record, intent policy.Intent) interface{}

// HooksFactory builds the per-caller Reflective Control Object bound to
// filename and its require surface.
type HooksFactory func(filename resolver.ModuleKey, requireSurface interface{}) interface{}

// reentrancyFrame is one saved (module path, manual-mock path) pair.
type reentrancyFrame struct {
	modulePath resolver.ModuleKey
	manualMock resolver.ModuleKey
}

// Executor runs a pre-registered record's transformed source inside the
// sandbox environment, threading reentrancy state across nested
// requires on the same logical stream.
type Executor struct {
	resolver       resolver.Resolver
	transformer    transform.Transformer
	env            sandbox.Environment
	config         *qconfig.RuntimeConfig
	requireFactory RequireFactory
	hooksFactory   HooksFactory
	log            qlog.Logger
	events         qevents.Bus

	// cacheFS is the cache_fs: ModuleKey → string map of source text the
	// transformer receives instead of re-reading a path. Entries come only
	// from SetCachedSource: Run passes an empty string for a path with no
	// entry and does not store the text the transformer then reads.
	cacheFS map[resolver.ModuleKey]string

	// sourceMaps and coverageMarked record the per-file bookkeeping the
	// transformer's Result asks for: registered source-map paths, and
	// files flagged as needing coverage instrumentation.
	sourceMaps      map[resolver.ModuleKey]string
	coverageMarked  map[resolver.ModuleKey]struct{}

	stack             []reentrancyFrame
	currentModule     resolver.ModuleKey
	currentManualMock resolver.ModuleKey

	// exitCode records the process exit code a torn-down environment
	// leaves behind. TornDown detection never throws (spec.md §7): the
	// diagnostic is logged and this field is the only observable trace
	// of the failure, for a host to consult once requiring has finished.
	exitCode int

	tracer oteltrace.Tracer

	// secretsProvider and secretTracker back config.SecretGlobals: a
	// configured extra global resolves against the provider instead of
	// the sandbox environment's own globals, and its value is tracked so
	// redaction.RedactTrackedSecretsInError can scrub it out of an error
	// message before it escapes Run.
	secretsProvider qsecrets.Provider
	secretTracker   *secrets.SecretTracker
}

// SetTracer installs the tracer a Run span is started against. A nil
// tracer (the default) means Run executes untraced.
func (x *Executor) SetTracer(t oteltrace.Tracer) { x.tracer = t }

// SetSecrets installs the secrets collaborator config.SecretGlobals
// resolves against, and the tracker its resolved values are recorded into.
// Neither is required: with both nil, SecretGlobals entries fall back to
// ordinary extra-global lookup against the sandbox environment.
func (x *Executor) SetSecrets(p qsecrets.Provider, tracker *secrets.SecretTracker) {
	x.secretsProvider = p
	x.secretTracker = tracker
}

// New constructs an Executor. hooksFactory may be nil until the
// Reflective Control Object package is wired; a nil value passes nil for
// that argument position to the module body.
func New(r resolver.Resolver, t transform.Transformer, env sandbox.Environment, cfg *qconfig.RuntimeConfig, requireFactory RequireFactory, hooksFactory HooksFactory, log qlog.Logger, bus qevents.Bus) *Executor {
	return &Executor{
		resolver:       r,
		transformer:    t,
		env:            env,
		config:         cfg,
		requireFactory: requireFactory,
		hooksFactory:   hooksFactory,
		log:            log,
		events:         bus,
		cacheFS:        make(map[resolver.ModuleKey]string),
		sourceMaps:     make(map[resolver.ModuleKey]string),
		coverageMarked: make(map[resolver.ModuleKey]struct{}),
	}
}

// SetCachedSource seeds the cache_fs map for path, so a
// subsequent Run skips re-reading it from disk.
func (x *Executor) SetCachedSource(path resolver.ModuleKey, source string) {
	x.cacheFS[path] = source
}

// Run invokes record's module body once its source has been transformed.
// record's lazy parent accessor is already wired at pre-registration time
// (registry.NewRecord);
// Run's own responsibility is reentrancy bookkeeping, paths computation,
// the require surface attachment, and the transform-and-invoke sequence.
func (x *Executor) Run(record *registry.Record, intent policy.Intent) error {
	if x.tracer != nil {
		_, span := x.tracer.Start(context.Background(), "quartz.executor.run", oteltrace.WithAttributes(
			attribute.String("quartz.module.filename", string(record.Filename)),
		))
		defer span.End()
		err := x.runRedacted(record, intent)
		if err != nil {
			intTracing.RecordErrorWithContext(span, err, x.redactedKeywords())
		}
		return err
	}
	return x.runRedacted(record, intent)
}

// runRedacted wraps run's error, if any, so a module-body failure can
// never carry a tracked secret value or a configured redacted keyword's
// associated value back out to the caller.
func (x *Executor) runRedacted(record *registry.Record, intent policy.Intent) error {
	err := x.run(record, intent)
	if err == nil {
		return nil
	}
	err = redaction.RedactTrackedSecretsInError(err, x.secretTracker)
	return redaction.RedactKeywordsInError(err, x.redactedKeywords())
}

// run is the untraced body Run wraps with a span when a tracer is
// installed.
func (x *Executor) run(record *registry.Record, intent policy.Intent) error {
	if x.env.Global() == nil {
		x.reportTornDown(record.Filename)
		return nil
	}

	x.stack = append(x.stack, reentrancyFrame{modulePath: x.currentModule, manualMock: x.currentManualMock})
	x.currentModule = record.Filename
	x.currentManualMock = record.Filename
	defer x.popReentrancy()

	record.Children = nil
	record.Paths = x.resolver.GetModulePaths(filepath.Dir(record.Filename))

	surface := x.requireFactory(record, intent)
	record.Require = surface

	source := x.cacheFS[record.Filename]
	result, err := x.transformer.Transform(record.Filename, nil, source)
	if err != nil {
		return err
	}
	if result.SourceMapPath != "" {
		x.sourceMaps[record.Filename] = result.SourceMapPath
		if result.NeedsCoverageMapping {
			x.coverageMarked[record.Filename] = struct{}{}
		}
	}

	wrapper, err := x.env.RunScript(result.Script)
	if err != nil {
		return err
	}
	if wrapper == nil {
		x.reportTornDown(record.Filename)
		return nil
	}

	var hooks interface{}
	if x.hooksFactory != nil {
		hooks = x.hooksFactory(record.Filename, surface)
	}

	args := []interface{}{
		record,
		record.Exports,
		surface,
		filepath.Dir(record.Filename),
		record.Filename,
		x.env.Global(),
		hooks,
	}
	for _, name := range x.config.ExtraGlobals {
		val, err := x.resolveExtraGlobal(name)
		if err != nil {
			return err
		}
		args = append(args, val)
	}

	if _, err := wrapper(args...); err != nil {
		return err
	}

	x.emit(qevents.ModuleLoaded, record.Filename)
	return nil
}

func (x *Executor) popReentrancy() {
	n := len(x.stack)
	frame := x.stack[n-1]
	x.stack = x.stack[:n-1]
	x.currentModule = frame.modulePath
	x.currentManualMock = frame.manualMock
}

// CurrentlyExecutingManualMock reports the reentrancy guard value the
// Resolution Policy Engine consults in resolve_kind step 6.
func (x *Executor) CurrentlyExecutingManualMock() resolver.ModuleKey {
	return x.currentManualMock
}

// reportTornDown implements the TornDown diagnostic spec.md §7 describes:
// logged, not thrown. It never returns an error, so a torn-down
// environment never propagates as a failure through Loader/require's
// call chain — only ExitCode's value records that it happened.
func (x *Executor) reportTornDown(filename resolver.ModuleKey) {
	if x.log != nil {
		x.log.Errorf("ReferenceError: cannot execute module '%s', environment has been torn down", filename)
	}
	x.emit(qevents.TornDown, filename)
	x.exitCode = 1
}

// ExitCode reports the process exit code a torn-down environment has left
// behind (1 once any Run call has observed one, 0 otherwise). A host
// embedding the runtime should consult this after requiring finishes.
func (x *Executor) ExitCode() int { return x.exitCode }

// SourceMapFor reports the registered source-map path for filename, if
// the transformer supplied one.
func (x *Executor) SourceMapFor(filename resolver.ModuleKey) (string, bool) {
	p, ok := x.sourceMaps[filename]
	return p, ok
}

// NeedsCoverageMapping reports whether the transformer flagged filename
// for coverage instrumentation.
func (x *Executor) NeedsCoverageMapping(filename resolver.ModuleKey) bool {
	_, ok := x.coverageMarked[filename]
	return ok
}

// EvalJSON runs a JSON-transformed data file's textual form through the
// sandbox's own parser, per the Loader's data-format path: the
// transformed text is wrapped as a return expression and executed like
// any other script. A torn-down environment is reported as in Run and
// yields nil exports with no error.
func (x *Executor) EvalJSON(text string) (interface{}, error) {
	if x.env.Global() == nil {
		x.reportTornDown("<json>")
		return nil, nil
	}
	wrapper, err := x.env.RunScript("return (" + text + ");")
	if err != nil {
		return nil, err
	}
	if wrapper == nil {
		x.reportTornDown("<json>")
		return nil, nil
	}
	return wrapper()
}

// LoadNativeAddon delegates to the environment's native-addon loader.
func (x *Executor) LoadNativeAddon(path string) (interface{}, error) {
	loader := x.env.NativeAddonLoader()
	if loader == nil {
		return nil, qerrors.NewNotFoundError("", path, "environment does not support loading native addons")
	}
	return loader.Load(path)
}

// redactedKeywords exposes the configured redaction keyword set to span
// error-recording, so a module-body failure's message never leaks a
// secret value matching a configured keyword into trace output.
func (x *Executor) redactedKeywords() map[string]struct{} {
	if x.config == nil {
		return nil
	}
	return x.config.RedactedKeywordSet()
}

func (x *Executor) emit(t qevents.EventType, filename string) {
	if x.events == nil {
		return
	}
	x.events.Emit(qevents.Event{Type: t, Timestamp: time.Now(), From: filename})
}

// resolveExtraGlobal answers one config.ExtraGlobals entry: names present
// in config.SecretGlobals resolve against the installed secrets.Provider
// (their value tracked for redaction) instead of the sandbox environment's
// own globals.
func (x *Executor) resolveExtraGlobal(name string) (interface{}, error) {
	if key, ok := x.config.SecretGlobals[name]; ok && x.secretsProvider != nil {
		val, found, err := x.secretsProvider.GetSecret(context.Background(), key)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, qerrors.NewMissingExtraGlobalError(name)
		}
		if x.secretTracker != nil {
			x.secretTracker.Add(val)
		}
		return val, nil
	}
	return lookupGlobal(x.env.Global(), name)
}

func lookupGlobal(global interface{}, name string) (interface{}, error) {
	getter, ok := global.(interface {
		Get(name string) (interface{}, bool)
	})
	if !ok {
		return nil, qerrors.NewMissingExtraGlobalError(name)
	}
	val, ok := getter.Get(name)
	if !ok {
		return nil, qerrors.NewMissingExtraGlobalError(name)
	}
	return val, nil
}
