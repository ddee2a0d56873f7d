package runtime_test

import (
	"context"
	"testing"

	qconfig "github.com/quartz-run/quartz/internal/config"
	"github.com/quartz-run/quartz/internal/quartztest"
	"github.com/quartz-run/quartz/internal/runtime"
)

func newCollaborators() runtime.Collaborators {
	return runtime.Collaborators{
		Resolver:    quartztest.NewResolver(),
		Transformer: quartztest.NewTransformer(),
		Environment: quartztest.NewEnvironment(),
		Filesystem:  quartztest.NewFS(),
	}
}

func TestNewRejectsMissingCollaborators(t *testing.T) {
	cfg := &qconfig.RuntimeConfig{}

	cases := []struct {
		name  string
		clear func(c *runtime.Collaborators)
	}{
		{"resolver", func(c *runtime.Collaborators) { c.Resolver = nil }},
		{"transformer", func(c *runtime.Collaborators) { c.Transformer = nil }},
		{"environment", func(c *runtime.Collaborators) { c.Environment = nil }},
		{"filesystem", func(c *runtime.Collaborators) { c.Filesystem = nil }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			collab := newCollaborators()
			tc.clear(&collab)
			if _, err := runtime.New(cfg, collab); err == nil {
				t.Fatalf("expected New to reject a missing %s collaborator", tc.name)
			}
		})
	}
}

func TestNewRejectsNilConfig(t *testing.T) {
	if _, err := runtime.New(nil, newCollaborators()); err == nil {
		t.Fatalf("expected New to reject a nil config")
	}
}

func TestNewFillsInDefaultCollaborators(t *testing.T) {
	rt, err := runtime.New(&qconfig.RuntimeConfig{}, newCollaborators())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if rt.Policy() == nil || rt.Registry() == nil || rt.Hooks() == nil || rt.Automock() == nil {
		t.Fatalf("expected every core collaborator to be wired")
	}
	if rt.MetricsRegistryProvider() == nil {
		t.Fatalf("expected a default metrics registry provider")
	}
	if rt.TracerProvider() == nil {
		t.Fatalf("expected a default tracer provider")
	}
	if err := rt.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestNewAppliesOptionsAndRejectsNilValues(t *testing.T) {
	if _, err := runtime.New(&qconfig.RuntimeConfig{}, newCollaborators(), runtime.WithLogger(nil)); err == nil {
		t.Fatalf("expected WithLogger(nil) to fail construction")
	}
}

func TestRequireEntryLoadsARootModuleEndToEnd(t *testing.T) {
	collab := newCollaborators()
	r := collab.Resolver.(*quartztest.Resolver)
	env := collab.Environment.(*quartztest.Environment)
	r.RegisterNamed("/app/src/index.js", "/app/src/index.js")

	const source = "exports.ok = true;"
	env.RegisterNativeModule(quartztest.WrapScript(source), func(args ...interface{}) (interface{}, error) {
		exports, _ := args[1].(map[string]interface{})
		exports["ok"] = true
		return nil, nil
	})

	rt, err := runtime.New(&qconfig.RuntimeConfig{}, collab)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rt.Executor().SetCachedSource("/app/src/index.js", source)

	exports, err := rt.RequireEntry("/app/src/index.js")
	if err != nil {
		t.Fatalf("RequireEntry: %v", err)
	}
	m, ok := exports.(map[string]interface{})
	if !ok || m["ok"] != true {
		t.Fatalf("unexpected exports from RequireEntry: %+v", exports)
	}
}

func TestRunSetupFilesRunsEachConfiguredFileInOrder(t *testing.T) {
	collab := newCollaborators()
	r := collab.Resolver.(*quartztest.Resolver)
	env := collab.Environment.(*quartztest.Environment)
	r.RegisterNamed("/app/setup1.js", "/app/setup1.js")
	r.RegisterNamed("/app/setup2.js", "/app/setup2.js")

	var order []string
	const source = "/* setup */"
	env.RegisterNativeModule(quartztest.WrapScript(source), func(args ...interface{}) (interface{}, error) {
		filename, _ := args[4].(string)
		order = append(order, filename)
		return nil, nil
	})

	cfg := &qconfig.RuntimeConfig{SetupFiles: []string{"/app/setup1.js", "/app/setup2.js"}}
	rt, err := runtime.New(cfg, collab)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rt.Executor().SetCachedSource("/app/setup1.js", source)
	rt.Executor().SetCachedSource("/app/setup2.js", source)

	if err := rt.RunSetupFiles(); err != nil {
		t.Fatalf("RunSetupFiles: %v", err)
	}
	if len(order) != 2 || order[0] != "/app/setup1.js" || order[1] != "/app/setup2.js" {
		t.Fatalf("expected setup files to run in configured order, got %v", order)
	}
}

func TestRunSetupFilesStopsAtTheFirstFailure(t *testing.T) {
	collab := newCollaborators()
	// Deliberately left unregistered: resolving this request must fail,
	// so RunSetupFiles reports an error rather than silently continuing.
	cfg := &qconfig.RuntimeConfig{SetupFiles: []string{"/app/missing-setup.js"}}
	rt, err := runtime.New(cfg, collab)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := rt.RunSetupFiles(); err == nil {
		t.Fatalf("expected RunSetupFiles to fail on an unresolvable setup file")
	}
}

func TestRequireEntryUsesNormalIntent(t *testing.T) {
	collab := newCollaborators()
	r := collab.Resolver.(*quartztest.Resolver)
	env := collab.Environment.(*quartztest.Environment)
	r.RegisterNamed("/app/src/index.js", "/app/src/index.js")

	const source = "exports.ok = true;"
	env.RegisterNativeModule(quartztest.WrapScript(source), func(args ...interface{}) (interface{}, error) {
		return nil, nil
	})

	rt, err := runtime.New(&qconfig.RuntimeConfig{}, collab)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rt.Executor().SetCachedSource("/app/src/index.js", source)

	if _, err := rt.RequireEntry("/app/src/index.js"); err != nil {
		t.Fatalf("RequireEntry: %v", err)
	}
}
