package automock_test

import (
	"context"
	"errors"
	"testing"

	"github.com/quartz-run/quartz/internal/automock"
	"github.com/quartz-run/quartz/internal/policy"
	"github.com/quartz-run/quartz/internal/quartztest"
	"github.com/quartz-run/quartz/internal/registry"
	qerrors "github.com/quartz-run/quartz/pkg/quartz/v1/errors"
	"github.com/quartz-run/quartz/pkg/quartz/v1/resolver"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestGenerateStartsASpanWhenATracerIsInstalled(t *testing.T) {
	r := quartztest.NewResolver()
	env := quartztest.NewEnvironment()
	reg := registry.New(env, nil, nil, nil)
	r.RegisterNamed("dep", "/app/node_modules/dep/index.js")

	a := automock.New(reg, r, env, func(from resolver.ModuleKey, request string, intent policy.Intent) (interface{}, error) {
		return map[string]interface{}{"real": true}, nil
	}, nil)

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer tp.Shutdown(context.Background())
	a.SetTracer(tp.Tracer("quartz-test"))

	if _, err := a.Generate("/app/src/index.js", "dep"); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 || spans[0].Name != "quartz.automock.generate" {
		t.Fatalf("expected exactly one quartz.automock.generate span, got %+v", spans)
	}
}

func TestGenerateReturnsASynthesizedMockFromRealExports(t *testing.T) {
	r := quartztest.NewResolver()
	env := quartztest.NewEnvironment()
	reg := registry.New(env, nil, nil, nil)
	r.RegisterNamed("dep", "/app/node_modules/dep/index.js")

	var capturedIntent policy.Intent
	a := automock.New(reg, r, env, func(from resolver.ModuleKey, request string, intent policy.Intent) (interface{}, error) {
		capturedIntent = intent
		return map[string]interface{}{"real": true}, nil
	}, nil)

	got, err := a.Generate("/app/src/index.js", "dep")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	m, ok := got.(map[string]interface{})
	if !ok || m["real"] != true {
		t.Fatalf("unexpected automock result: %+v", got)
	}
	if capturedIntent != policy.ForceReal {
		t.Fatalf("expected the real load forced by Generate to use ForceReal, got %v", capturedIntent)
	}
}

func TestGenerateCachesMetadataAcrossCalls(t *testing.T) {
	r := quartztest.NewResolver()
	env := quartztest.NewEnvironment()
	reg := registry.New(env, nil, nil, nil)
	r.RegisterNamed("dep", "/app/node_modules/dep/index.js")

	calls := 0
	a := automock.New(reg, r, env, func(from resolver.ModuleKey, request string, intent policy.Intent) (interface{}, error) {
		calls++
		return map[string]interface{}{"real": true}, nil
	}, nil)

	if _, err := a.Generate("/app/src/index.js", "dep"); err != nil {
		t.Fatalf("Generate #1: %v", err)
	}
	if _, err := a.Generate("/app/src/index.js", "dep"); err != nil {
		t.Fatalf("Generate #2: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected the real module to load exactly once across repeated Generate calls, got %d", calls)
	}
}

func TestGenerateSeedsEmptyMetadataBeforeLoadingToBreakSelfReferentialCycles(t *testing.T) {
	r := quartztest.NewResolver()
	env := quartztest.NewEnvironment()
	reg := registry.New(env, nil, nil, nil)
	r.RegisterNamed("dep", "/app/node_modules/dep/index.js")

	var a *automock.Adapter
	var recursiveResult interface{}
	var recursiveErr error
	a = automock.New(reg, r, env, func(from resolver.ModuleKey, request string, intent policy.Intent) (interface{}, error) {
		// Simulate a module whose own load path requires itself again
		// before returning: the cache must already hold the empty-metadata
		// sentinel, so this nested Generate call returns it instead of
		// recursing back into the real load.
		recursiveResult, recursiveErr = a.Generate(from, request)
		return map[string]interface{}{"real": true}, nil
	}, nil)

	if _, err := a.Generate("/app/src/index.js", "dep"); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if recursiveErr != nil {
		t.Fatalf("recursive Generate: %v", recursiveErr)
	}
	m, ok := recursiveResult.(map[string]interface{})
	if !ok || len(m) != 0 {
		t.Fatalf("expected the recursive call to observe the empty-metadata sentinel, got %+v", recursiveResult)
	}
}

func TestGenerateReturnsResolveErrors(t *testing.T) {
	r := quartztest.NewResolver()
	env := quartztest.NewEnvironment()
	reg := registry.New(env, nil, nil, nil)

	a := automock.New(reg, r, env, func(from resolver.ModuleKey, request string, intent policy.Intent) (interface{}, error) {
		t.Fatalf("the real module must not load when resolution itself fails")
		return nil, nil
	}, nil)

	if _, err := a.Generate("/app/src/index.js", "does-not-exist"); err == nil {
		t.Fatalf("expected a resolution error for an unregistered request")
	}
}

func TestGenerateReturnsTheLoadError(t *testing.T) {
	r := quartztest.NewResolver()
	env := quartztest.NewEnvironment()
	reg := registry.New(env, nil, nil, nil)
	r.RegisterNamed("dep", "/app/node_modules/dep/index.js")

	wantErr := errors.New("boom")
	a := automock.New(reg, r, env, func(from resolver.ModuleKey, request string, intent policy.Intent) (interface{}, error) {
		return nil, wantErr
	}, nil)

	_, err := a.Generate("/app/src/index.js", "dep")
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected the real load's error to propagate unchanged, got %v", err)
	}
}

func TestGenerateRestoresRegistriesWhenTheForcedRealLoadPanics(t *testing.T) {
	r := quartztest.NewResolver()
	env := quartztest.NewEnvironment()
	reg := registry.New(env, nil, nil, nil)
	r.RegisterNamed("dep", "/app/node_modules/dep/index.js")

	liveRec := registry.NewRecord("/app/live.js", "/app/live.js", nil, "", reg.ParentLookup())
	reg.PutReal(registry.Ref{Kind: registry.KindReal}, "/app/live.js", liveRec)

	a := automock.New(reg, r, env, func(from resolver.ModuleKey, request string, intent policy.Intent) (interface{}, error) {
		panic("boom")
	}, nil)

	func() {
		defer func() {
			if rec := recover(); rec == nil {
				t.Fatalf("expected panic to propagate through Generate")
			}
		}()
		_, _ = a.Generate("/app/src/index.js", "dep")
	}()

	// The throwaway frame must have been discarded and the live `real`
	// registry restored even though the forced-real load panicked, not
	// left permanently swapped for the (now-unreachable) empty frame.
	if _, ok := reg.GetReal(registry.Ref{Kind: registry.KindReal}, "/app/live.js"); !ok {
		t.Fatalf("live real registry must be restored after a panic in Generate")
	}
}

func TestGenerateErrorsOnNullMetadata(t *testing.T) {
	r := quartztest.NewResolver()
	env := quartztest.NewEnvironment()
	reg := registry.New(env, nil, nil, nil)
	r.RegisterNamed("dep", "/app/node_modules/dep/index.js")

	a := automock.New(reg, r, env, func(from resolver.ModuleKey, request string, intent policy.Intent) (interface{}, error) {
		return nil, nil
	}, nil)

	_, err := a.Generate("/app/src/index.js", "dep")
	var nullMeta *qerrors.AutomockMetadataNullError
	if !errors.As(err, &nullMeta) {
		t.Fatalf("expected AutomockMetadataNullError when the real module's exports are nil, got %v", err)
	}
}
