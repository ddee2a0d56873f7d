package require_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/quartz-run/quartz/internal/automock"
	qconfig "github.com/quartz-run/quartz/internal/config"
	"github.com/quartz-run/quartz/internal/executor"
	"github.com/quartz-run/quartz/internal/loader"
	"github.com/quartz-run/quartz/internal/policy"
	"github.com/quartz-run/quartz/internal/quartztest"
	"github.com/quartz-run/quartz/internal/registry"
	"github.com/quartz-run/quartz/internal/require"
	"github.com/quartz-run/quartz/internal/secrets"
	qerrors "github.com/quartz-run/quartz/pkg/quartz/v1/errors"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// harness wires a full Core over quartztest fakes, mirroring the
// top-level runtime's own two-phase construction (Core first with nil
// loader/executor/automock, then closing the loop with Set*).
type harness struct {
	resolver    *quartztest.Resolver
	env         *quartztest.Environment
	transformer *quartztest.Transformer
	fs          *quartztest.FS
	reg         *registry.Registry
	pol         *policy.Engine
	core        *require.Core
	x           *executor.Executor
}

func newHarness(t *testing.T, cfg *qconfig.RuntimeConfig) *harness {
	t.Helper()
	if cfg == nil {
		cfg = &qconfig.RuntimeConfig{}
	}
	r := quartztest.NewResolver()
	env := quartztest.NewEnvironment()
	tr := quartztest.NewTransformer()
	fs := quartztest.NewFS()
	reg := registry.New(env, nil, nil, nil)

	pol, err := policy.New(r, cfg)
	if err != nil {
		t.Fatalf("policy.New: %v", err)
	}

	core := require.New(r, pol, reg, nil, nil, nil, fs, cfg, nil, nil, nil)

	x := executor.New(r, tr, env, cfg, core.RequireFactory(), nil, nil, nil)
	ld := loader.New(fs, tr, x)
	core.SetLoader(ld)
	core.SetExecutor(x)
	auto := automock.New(reg, r, env, core.AutomockRequireFn(), nil)
	core.SetAutomock(auto)

	return &harness{resolver: r, env: env, transformer: tr, fs: fs, reg: reg, pol: pol, core: core, x: x}
}

// registerModule seeds a transformable-source module at path whose body
// (a native Go closure) is invoked with the standard 7 positional args
// when required. path doubles as both the named-lookup key and the
// resolved path the record ends up keyed under, so the cached source
// registered here is found under the same key the Executor looks it up
// by (record.Filename).
func (h *harness) registerModule(path, source string, body func(args ...interface{}) (interface{}, error)) {
	h.resolver.RegisterNamed(path, path)
	h.x.SetCachedSource(path, source)
	h.env.RegisterNativeModule(quartztest.WrapScript(source), body)
}

func TestRequireEntryStartsASpanWhenATracerIsInstalled(t *testing.T) {
	h := newHarness(t, nil)

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer tp.Shutdown(context.Background())
	h.core.SetTracer(tp.Tracer("quartz-test"))

	const path = "/app/entry-traced.js"
	h.registerModule(path, "exports.value = 1;", func(args ...interface{}) (interface{}, error) {
		rec := args[0].(*registry.Record)
		rec.Exports = map[string]interface{}{"value": 1}
		return nil, nil
	})

	if _, err := h.core.RequireEntry(path, policy.Normal); err != nil {
		t.Fatalf("RequireEntry: %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 || spans[0].Name != "quartz.require" {
		t.Fatalf("expected exactly one quartz.require span, got %+v", spans)
	}
}

func TestRequireFromRedactsTrackedSecretsOutOfAnEscapingError(t *testing.T) {
	h := newHarness(t, nil)
	tracker := secrets.NewSecretTracker()
	tracker.Add("super-secret-token")
	h.core.SetSecretTracker(tracker)

	// An unregistered request resolves to a NotFoundError whose message
	// echoes the request string back verbatim; using the tracked secret
	// value as the request exercises requireFrom's redaction layer without
	// needing the sandbox to actually run any JS.
	_, err := h.core.RequireEntry("super-secret-token", policy.Normal)
	if err == nil {
		t.Fatalf("expected an error resolving an unregistered entry path")
	}
	got := err.Error()
	if strings.Contains(got, "super-secret-token") {
		t.Fatalf("expected the tracked secret value to be redacted from the error, got %q", got)
	}
	if !strings.Contains(got, "[REDACTED_SECRET]") {
		t.Fatalf("expected the redacted placeholder in the error, got %q", got)
	}
}

func TestRequireEntryLoadsARootModule(t *testing.T) {
	h := newHarness(t, nil)

	const path = "/app/entry.js"
	h.registerModule(path, "exports.value = 1;", func(args ...interface{}) (interface{}, error) {
		rec := args[0].(*registry.Record)
		rec.Exports = map[string]interface{}{"value": 1}
		return nil, nil
	})

	exports, err := h.core.RequireEntry(path, policy.Normal)
	if err != nil {
		t.Fatalf("RequireEntry: %v", err)
	}
	m, ok := exports.(map[string]interface{})
	if !ok || m["value"] != 1 {
		t.Fatalf("unexpected exports: %+v", exports)
	}
}

func TestRequireRealCachesAcrossRepeatedRequires(t *testing.T) {
	h := newHarness(t, nil)

	const path = "/app/lib.js"
	calls := 0
	h.registerModule(path, "exports.n = 1;", func(args ...interface{}) (interface{}, error) {
		calls++
		rec := args[0].(*registry.Record)
		rec.Exports = calls
		return nil, nil
	})

	surface := h.core.NewSurface(nil, policy.Normal)
	first, err := surface.Require(path)
	if err != nil {
		t.Fatalf("first Require: %v", err)
	}
	second, err := surface.Require(path)
	if err != nil {
		t.Fatalf("second Require: %v", err)
	}
	if first != second {
		t.Fatalf("expected the second require of the same real module to hit the cache: %v vs %v", first, second)
	}
	if calls != 1 {
		t.Fatalf("expected the module body to run exactly once, ran %d times", calls)
	}
}

func TestRequireMockGeneratesAnAutomockWhenNoManualMockExists(t *testing.T) {
	cfg := &qconfig.RuntimeConfig{Automock: true}
	h := newHarness(t, cfg)

	h.registerModule("dep", "module.exports = { real: true };", func(args ...interface{}) (interface{}, error) {
		rec := args[0].(*registry.Record)
		rec.Exports = map[string]interface{}{"real": true}
		return nil, nil
	})

	surface := h.core.NewSurface(nil, policy.Normal)
	exports, err := surface.Require("dep")
	if err != nil {
		t.Fatalf("Require: %v", err)
	}
	// The fake ModuleMocker's GetMetadata/GenerateFromMetadata round-trip
	// treats exports as their own metadata, so the automock result equals
	// the real module's exports map.
	m, ok := exports.(map[string]interface{})
	if !ok || m["real"] != true {
		t.Fatalf("unexpected automock exports: %+v", exports)
	}
}

func TestRequireMockPrefersManualMockOverAutomock(t *testing.T) {
	cfg := &qconfig.RuntimeConfig{Automock: true}
	h := newHarness(t, cfg)

	h.resolver.RegisterNamed("dep", "/app/node_modules/dep/index.js")
	h.resolver.RegisterManualMock("/app/src/caller.js", "dep", "/app/__mocks__/dep.js")
	const mockSource = "module.exports = { mocked: true };"
	h.x.SetCachedSource("/app/__mocks__/dep.js", mockSource)
	h.env.RegisterNativeModule(quartztest.WrapScript(mockSource), func(args ...interface{}) (interface{}, error) {
		rec := args[0].(*registry.Record)
		rec.Exports = map[string]interface{}{"mocked": true}
		return nil, nil
	})

	callerRec := registry.NewRecord("/app/src/caller.js", "/app/src/caller.js", nil, "", h.reg.ParentLookup())
	surface := h.core.NewSurface(callerRec, policy.Normal)
	exports, err := surface.Require("dep")
	if err != nil {
		t.Fatalf("Require: %v", err)
	}
	m, ok := exports.(map[string]interface{})
	if !ok || m["mocked"] != true {
		t.Fatalf("expected the manual mock's exports, got %+v", exports)
	}
}

func TestRequireMockExplicitFactoryWins(t *testing.T) {
	cfg := &qconfig.RuntimeConfig{Automock: true}
	h := newHarness(t, cfg)
	h.resolver.RegisterNamed("dep", "/app/node_modules/dep/index.js")

	id := h.resolver.ModuleID(h.pol.VirtualMocks(), "", "dep")
	h.pol.SetMockFactory(id, func() (interface{}, error) {
		return "factory-made", nil
	})

	surface := h.core.NewSurface(nil, policy.Normal)
	exports, err := surface.Require("dep")
	if err != nil {
		t.Fatalf("Require: %v", err)
	}
	if exports != "factory-made" {
		t.Fatalf("expected the explicit mock factory's value, got %v", exports)
	}
}

func TestRequireActualForcesReal(t *testing.T) {
	cfg := &qconfig.RuntimeConfig{Automock: true}
	h := newHarness(t, cfg)

	h.registerModule("dep", "module.exports = { real: true };", func(args ...interface{}) (interface{}, error) {
		rec := args[0].(*registry.Record)
		rec.Exports = map[string]interface{}{"real": true}
		return nil, nil
	})

	surface := h.core.NewSurface(nil, policy.Normal)
	exports, err := surface.RequireActual("dep")
	if err != nil {
		t.Fatalf("RequireActual: %v", err)
	}
	m, ok := exports.(map[string]interface{})
	if !ok || m["real"] != true {
		t.Fatalf("RequireActual must bypass automock and load the real module, got %+v", exports)
	}
}

func TestResolveEmptyRequestIsBadArg(t *testing.T) {
	h := newHarness(t, nil)
	surface := h.core.NewSurface(nil, policy.Normal)

	_, err := surface.ResolvePaths("")
	var badArg *qerrors.BadResolveArgError
	if !errors.As(err, &badArg) {
		t.Fatalf("expected BadResolveArgError for an empty request, got %v", err)
	}
}

func TestResolvePathsRelativeRequestReturnsCallerDir(t *testing.T) {
	h := newHarness(t, nil)
	callerRec := registry.NewRecord("/app/src/caller.js", "/app/src/caller.js", nil, "", h.reg.ParentLookup())
	surface := h.core.NewSurface(callerRec, policy.Normal)

	paths, err := surface.ResolvePaths("./sibling")
	if err != nil {
		t.Fatalf("ResolvePaths: %v", err)
	}
	if len(paths) != 1 || paths[0] != "/app/src" {
		t.Fatalf("expected [/app/src], got %+v", paths)
	}
}

func TestResolvePathsCoreModuleReturnsNil(t *testing.T) {
	h := newHarness(t, nil)
	h.resolver.RegisterCoreModule("fs")
	surface := h.core.NewSurface(nil, policy.Normal)

	paths, err := surface.ResolvePaths("fs")
	if err != nil {
		t.Fatalf("ResolvePaths: %v", err)
	}
	if paths != nil {
		t.Fatalf("expected nil paths for a core module, got %+v", paths)
	}
}

func TestResolveFallsBackToManualMockWhenRealResolutionMisses(t *testing.T) {
	h := newHarness(t, nil)
	h.resolver.RegisterManualMock("/app/src/caller.js", "missing-dep", "/app/__mocks__/missing-dep.js")
	callerRec := registry.NewRecord("/app/src/caller.js", "/app/src/caller.js", nil, "", h.reg.ParentLookup())
	surface := h.core.NewSurface(callerRec, policy.Normal)

	got, err := surface.Resolve("missing-dep", nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "/app/__mocks__/missing-dep.js" {
		t.Fatalf("expected the manual-mock fallback path, got %s", got)
	}
}

func TestResolveEnrichesNotFoundWithSiblingHint(t *testing.T) {
	cfg := &qconfig.RuntimeConfig{ModuleFileExtensions: []string{".js", ".json"}}
	h := newHarness(t, cfg)
	h.fs.WriteFile("/app/src/thing.json", "{}")
	callerRec := registry.NewRecord("/app/src/caller.js", "/app/src/caller.js", nil, "", h.reg.ParentLookup())
	surface := h.core.NewSurface(callerRec, policy.Normal)

	_, err := surface.Resolve("./thing", nil)
	var notFound *qerrors.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if notFound.Hint == "" {
		t.Fatalf("expected a sibling-extension hint, got none")
	}
}

func TestMainWalksParentChainToTheRoot(t *testing.T) {
	h := newHarness(t, nil)
	root := registry.NewRecord("/app/root.js", "/app/root.js", nil, "", h.reg.ParentLookup())
	child := registry.NewRecord("/app/child.js", "/app/child.js", nil, root.Filename, h.reg.ParentLookup())
	root.AddChild(child)

	h.reg.PutReal(registry.Ref{Kind: registry.KindReal}, root.Filename, root)

	surface := h.core.NewSurface(child, policy.Normal)
	main := surface.Main()
	if main == nil || main.Filename != root.Filename {
		t.Fatalf("expected Main to walk up to the root record, got %+v", main)
	}
}

func TestCircularRequireTerminatesViaPreRegistration(t *testing.T) {
	h := newHarness(t, nil)

	const aPath = "/app/a.js"
	const bPath = "/app/b.js"
	// The entry path itself must resolve through the named table, the
	// same way registerModule wires a root load; "a" and "b" are
	// additionally registered as bare names so the bodies below can
	// require each other without relying on relative-path resolution.
	h.resolver.RegisterNamed(aPath, aPath)
	h.resolver.RegisterNamed("a", aPath)
	h.resolver.RegisterNamed("b", bPath)

	const aSource = "require('b');"
	const bSource = "require('a');"
	h.x.SetCachedSource(aPath, aSource)
	h.x.SetCachedSource(bPath, bSource)

	bEntered := false
	h.env.RegisterNativeModule(quartztest.WrapScript(aSource), func(args ...interface{}) (interface{}, error) {
		surface := args[2].(*require.Surface)
		// b requires a right back: since a's record was pre-registered
		// in the real registry before its body ran, this must return
		// the same (still-loading) record's exports rather than
		// recursing forever.
		_, err := surface.Require("b")
		return nil, err
	})
	h.env.RegisterNativeModule(quartztest.WrapScript(bSource), func(args ...interface{}) (interface{}, error) {
		bEntered = true
		surface := args[2].(*require.Surface)
		_, err := surface.Require("a")
		return nil, err
	})

	_, err := h.core.RequireEntry(aPath, policy.Normal)
	if err != nil {
		t.Fatalf("expected the circular require to resolve without error, got %v", err)
	}
	if !bEntered {
		t.Fatalf("expected b's body to have run")
	}
}
