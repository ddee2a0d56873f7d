package executor_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	qconfig "github.com/quartz-run/quartz/internal/config"
	"github.com/quartz-run/quartz/internal/executor"
	"github.com/quartz-run/quartz/internal/policy"
	"github.com/quartz-run/quartz/internal/quartztest"
	"github.com/quartz-run/quartz/internal/registry"
	"github.com/quartz-run/quartz/internal/secrets"
	qerrors "github.com/quartz-run/quartz/pkg/quartz/v1/errors"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecord(reg *registry.Registry, filename string) *registry.Record {
	return registry.NewRecord(filename, filename, nil, "", reg.ParentLookup())
}

// fakeSecretsProvider is an in-memory secrets.Provider fake for tests: a
// flat map of key to value, with no actual secret backend.
type fakeSecretsProvider struct {
	values map[string]string
}

func (f *fakeSecretsProvider) GetSecret(_ context.Context, key string) (string, bool, error) {
	v, ok := f.values[key]
	return v, ok, nil
}

func TestRunSwallowsTornDownEnvironmentAndRecordsExitCode(t *testing.T) {
	env := quartztest.NewEnvironment()
	env.TearDown()
	reg := registry.New(env, nil, nil, nil)
	cfg := &qconfig.RuntimeConfig{}
	x := executor.New(quartztest.NewResolver(), quartztest.NewTransformer(), env, cfg,
		func(*registry.Record, policy.Intent) interface{} { return nil }, nil, nil, nil)

	rec := newRecord(reg, "/app/a.js")
	// TornDown detection never throws (spec.md §7, §8 scenario 6): Run
	// must return nil, not a TornDownError, with the exit code the only
	// observable trace of the failure.
	if err := x.Run(rec, policy.Normal); err != nil {
		t.Fatalf("expected no error escaping Run for a torn-down environment, got %v", err)
	}
	if x.ExitCode() != 1 {
		t.Fatalf("expected exit code 1 after a torn-down Run, got %d", x.ExitCode())
	}
}

func TestRunInvokesModuleBodyWithFixedArgumentOrder(t *testing.T) {
	env := quartztest.NewEnvironment()
	reg := registry.New(env, nil, nil, nil)
	cfg := &qconfig.RuntimeConfig{}

	var surfaceSeen interface{}
	var requireFactoryCalls int
	x := executor.New(quartztest.NewResolver(), quartztest.NewTransformer(), env, cfg,
		func(rec *registry.Record, intent policy.Intent) interface{} {
			requireFactoryCalls++
			surfaceSeen = "require-surface"
			return surfaceSeen
		},
		func(filename string, requireSurface interface{}) interface{} {
			return "hooks-for:" + filename
		},
		nil, nil)

	rec := newRecord(reg, "/app/a.js")
	const source = "exports.ok = true;"
	x.SetCachedSource(rec.Filename, source)

	var captured []interface{}
	env.RegisterNativeModule(quartztest.WrapScript(source), func(args ...interface{}) (interface{}, error) {
		captured = args
		return nil, nil
	})

	if err := x.Run(rec, policy.Normal); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if requireFactoryCalls != 1 {
		t.Fatalf("expected the require factory to be called exactly once, got %d", requireFactoryCalls)
	}
	if len(captured) < 7 {
		t.Fatalf("expected at least 7 positional args, got %d: %+v", len(captured), captured)
	}
	if captured[0] != rec {
		t.Fatalf("arg 0 must be the record itself")
	}
	if captured[2] != surfaceSeen {
		t.Fatalf("arg 2 must be the require surface the factory produced")
	}
	if captured[3] != "/app" {
		t.Fatalf("arg 3 must be the module's directory, got %v", captured[3])
	}
	if captured[4] != rec.Filename {
		t.Fatalf("arg 4 must be the module's filename, got %v", captured[4])
	}
	if captured[6] != "hooks-for:/app/a.js" {
		t.Fatalf("arg 6 must be the hooks factory's result, got %v", captured[6])
	}
	if !rec.Loaded {
		// Run itself does not set Loaded; that is the Loader's job. Just
		// confirm Run completed without needing the field.
		_ = rec.Loaded
	}
}

func TestRunPropagatesExtraGlobalsOrErrorsWhenMissing(t *testing.T) {
	env := quartztest.NewEnvironment()
	env.Set("__CUSTOM__", 42)
	reg := registry.New(env, nil, nil, nil)
	cfg := &qconfig.RuntimeConfig{ExtraGlobals: []string{"__CUSTOM__"}}

	x := executor.New(quartztest.NewResolver(), quartztest.NewTransformer(), env, cfg,
		func(*registry.Record, policy.Intent) interface{} { return nil }, nil, nil, nil)

	rec := newRecord(reg, "/app/b.js")
	const source = "exports.ok = true;"
	x.SetCachedSource(rec.Filename, source)

	var captured []interface{}
	env.RegisterNativeModule(quartztest.WrapScript(source), func(args ...interface{}) (interface{}, error) {
		captured = args
		return nil, nil
	})

	if err := x.Run(rec, policy.Normal); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(captured) != 8 {
		t.Fatalf("expected 7 fixed args plus 1 extra global, got %d", len(captured))
	}
	if captured[7] != 42 {
		t.Fatalf("expected the extra global's value appended last, got %v", captured[7])
	}

	cfg.ExtraGlobals = []string{"__MISSING__"}
	rec2 := newRecord(reg, "/app/c.js")
	x.SetCachedSource(rec2.Filename, source)
	env.RegisterNativeModule(quartztest.WrapScript(source), func(args ...interface{}) (interface{}, error) {
		return nil, nil
	})
	err := x.Run(rec2, policy.Normal)
	var missing *qerrors.MissingExtraGlobalError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingExtraGlobalError for an unset extra global, got %v", err)
	}
}

func TestRunStartsASpanWhenATracerIsInstalled(t *testing.T) {
	env := quartztest.NewEnvironment()
	reg := registry.New(env, nil, nil, nil)
	cfg := &qconfig.RuntimeConfig{}
	x := executor.New(quartztest.NewResolver(), quartztest.NewTransformer(), env, cfg,
		func(*registry.Record, policy.Intent) interface{} { return nil }, nil, nil, nil)

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer tp.Shutdown(context.Background())
	x.SetTracer(tp.Tracer("quartz-test"))

	rec := newRecord(reg, "/app/f.js")
	const source = "exports.ok = true;"
	x.SetCachedSource(rec.Filename, source)
	env.RegisterNativeModule(quartztest.WrapScript(source), func(args ...interface{}) (interface{}, error) {
		return nil, nil
	})

	if err := x.Run(rec, policy.Normal); err != nil {
		t.Fatalf("Run: %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 || spans[0].Name != "quartz.executor.run" {
		t.Fatalf("expected exactly one quartz.executor.run span, got %+v", spans)
	}
}

func TestRunResolvesSecretGlobalsThroughTheInstalledProviderAndTracksTheValue(t *testing.T) {
	env := quartztest.NewEnvironment()
	reg := registry.New(env, nil, nil, nil)
	cfg := &qconfig.RuntimeConfig{
		ExtraGlobals:  []string{"API_TOKEN"},
		SecretGlobals: map[string]string{"API_TOKEN": "app/api-token"},
	}

	x := executor.New(quartztest.NewResolver(), quartztest.NewTransformer(), env, cfg,
		func(*registry.Record, policy.Intent) interface{} { return nil }, nil, nil, nil)
	tracker := secrets.NewSecretTracker()
	x.SetSecrets(&fakeSecretsProvider{values: map[string]string{"app/api-token": "super-secret"}}, tracker)

	rec := newRecord(reg, "/app/d.js")
	const source = "exports.ok = true;"
	x.SetCachedSource(rec.Filename, source)

	var captured []interface{}
	env.RegisterNativeModule(quartztest.WrapScript(source), func(args ...interface{}) (interface{}, error) {
		captured = args
		return nil, nil
	})

	if err := x.Run(rec, policy.Normal); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(captured) != 8 || captured[7] != "super-secret" {
		t.Fatalf("expected the resolved secret value appended last, got %+v", captured)
	}
	if !tracker.IsTracked("super-secret") {
		t.Fatalf("expected the resolved secret value to be tracked")
	}
}

func TestRunRedactsTrackedSecretsOutOfAnEscapingError(t *testing.T) {
	env := quartztest.NewEnvironment()
	reg := registry.New(env, nil, nil, nil)
	cfg := &qconfig.RuntimeConfig{
		ExtraGlobals:  []string{"API_TOKEN"},
		SecretGlobals: map[string]string{"API_TOKEN": "app/api-token"},
	}

	x := executor.New(quartztest.NewResolver(), quartztest.NewTransformer(), env, cfg,
		func(*registry.Record, policy.Intent) interface{} { return nil }, nil, nil, nil)
	tracker := secrets.NewSecretTracker()
	x.SetSecrets(&fakeSecretsProvider{values: map[string]string{"app/api-token": "super-secret"}}, tracker)

	rec := newRecord(reg, "/app/e.js")
	const source = "exports.ok = true;"
	x.SetCachedSource(rec.Filename, source)

	env.RegisterNativeModule(quartztest.WrapScript(source), func(args ...interface{}) (interface{}, error) {
		return nil, errors.New("connection string was: user:super-secret@host")
	})

	err := x.Run(rec, policy.Normal)
	if err == nil {
		t.Fatalf("expected the module body's error to propagate")
	}
	got := err.Error()
	if strings.Contains(got, "super-secret") {
		t.Fatalf("expected the tracked secret value to be redacted from the error, got %q", got)
	}
	if !strings.Contains(got, "[REDACTED_SECRET]") {
		t.Fatalf("expected the redacted placeholder in the error, got %q", got)
	}
}

func TestReentrancyStackSavesAndRestoresAcrossNestedRun(t *testing.T) {
	env := quartztest.NewEnvironment()
	reg := registry.New(env, nil, nil, nil)
	cfg := &qconfig.RuntimeConfig{}

	var x *executor.Executor
	outer := newRecord(reg, "/app/outer.js")
	inner := newRecord(reg, "/app/inner.js")

	x = executor.New(quartztest.NewResolver(), quartztest.NewTransformer(), env, cfg,
		func(rec *registry.Record, intent policy.Intent) interface{} {
			if rec == outer {
				// Run the inner module from within the outer module's own
				// require-factory invocation, simulating a nested require.
				x.SetCachedSource(inner.Filename, "exports.ok = true;")
				env.RegisterNativeModule(quartztest.WrapScript("exports.ok = true;"), func(args ...interface{}) (interface{}, error) {
					if x.CurrentlyExecutingManualMock() != inner.Filename {
						t.Fatalf("expected inner module to be the current manual-mock frame during its own Run")
					}
					return nil, nil
				})
				if err := x.Run(inner, policy.Normal); err != nil {
					t.Fatalf("nested Run: %v", err)
				}
				if x.CurrentlyExecutingManualMock() != outer.Filename {
					t.Fatalf("expected reentrancy state to be restored to the outer module after the nested Run returns")
				}
			}
			return nil
		}, nil, nil, nil)

	x.SetCachedSource(outer.Filename, "require('./inner');")
	env.RegisterNativeModule(quartztest.WrapScript("require('./inner');"), func(args ...interface{}) (interface{}, error) {
		return nil, nil
	})

	if err := x.Run(outer, policy.Normal); err != nil {
		t.Fatalf("outer Run: %v", err)
	}
}

func TestEvalJSONWrapsTextAsReturnExpression(t *testing.T) {
	env := quartztest.NewEnvironment()
	cfg := &qconfig.RuntimeConfig{}
	x := executor.New(quartztest.NewResolver(), quartztest.NewTransformer(), env, cfg,
		func(*registry.Record, policy.Intent) interface{} { return nil }, nil, nil, nil)

	env.RegisterNativeModule("return ({\"a\":1});", func(args ...interface{}) (interface{}, error) {
		return map[string]interface{}{"a": 1}, nil
	})

	got, err := x.EvalJSON(`{"a":1}`)
	if err != nil {
		t.Fatalf("EvalJSON: %v", err)
	}
	m, ok := got.(map[string]interface{})
	if !ok || m["a"] != 1 {
		t.Fatalf("unexpected EvalJSON result: %+v", got)
	}
}

func TestLoadNativeAddonFailsWithoutALoader(t *testing.T) {
	env := quartztest.NewEnvironment()
	cfg := &qconfig.RuntimeConfig{}
	x := executor.New(quartztest.NewResolver(), quartztest.NewTransformer(), env, cfg,
		func(*registry.Record, policy.Intent) interface{} { return nil }, nil, nil, nil)

	_, err := x.LoadNativeAddon("/app/native.node")
	var notFound *qerrors.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError when no native-addon loader is installed, got %v", err)
	}
}
