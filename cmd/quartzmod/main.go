// Command quartzmod is a thin demonstration wiring for the module runtime
// core: it loads a runtime config, assembles a Runtime over in-memory
// collaborators, runs configured setup files, and requires a single entry
// file. It is not a test runner: discovering, scheduling, and reporting on
// a suite of test files is the CLI/configuration-loading concern the
// module runtime core leaves to its host.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"runtime"
	"time"

	qconfig "github.com/quartz-run/quartz/internal/config"
	"github.com/quartz-run/quartz/internal/logger"
	"github.com/quartz-run/quartz/internal/metrics"
	"github.com/quartz-run/quartz/internal/quartztest"
	intRuntime "github.com/quartz-run/quartz/internal/runtime"
	"github.com/quartz-run/quartz/internal/tracing"
	qv1 "github.com/quartz-run/quartz/pkg/quartz/v1"
	qerrors "github.com/quartz-run/quartz/pkg/quartz/v1/errors"
)

const (
	exitSuccess    = 0
	exitFailure    = 1
	exitUsageError = 2

	defaultLogLevel = "info"
	defaultLogFmt   = "text"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	if len(os.Args) == 2 && (os.Args[1] == "--version" || os.Args[1] == "-version") {
		printVersion()
		os.Exit(exitSuccess)
	}
	os.Exit(run(os.Args[1:]))
}

func printVersion() {
	fmt.Printf("quartzmod version %s\n", version)
	fmt.Printf("commit: %s\n", commit)
	fmt.Printf("built: %s\n", buildDate)
	fmt.Printf("go version: %s\n", runtime.Version())
}

func run(args []string) int {
	flags := flag.NewFlagSet("quartzmod", flag.ExitOnError)
	configPath := flags.String("config", "", "Path to the runtime config YAML file (required)")
	entryPath := flags.String("entry", "", "Absolute path of the module to require as the entry point (required)")
	logLevel := flags.String("log-level", defaultLogLevel, "Log level (debug, info, warn, error)")

	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s -config <path> -entry <path> [flags...]\n\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "Wires a module runtime instance and requires a single entry module.")
		fmt.Fprintln(os.Stderr, "\nFlags:")
		flags.PrintDefaults()
	}

	if err := flags.Parse(args); err != nil {
		return exitUsageError
	}
	if *configPath == "" || *entryPath == "" {
		fmt.Fprintln(os.Stderr, "Error: -config and -entry are both required")
		flags.Usage()
		return exitUsageError
	}

	log := logger.NewDefault(*logLevel)
	log.Infof("quartzmod starting, config=%s entry=%s", *configPath, *entryPath)

	cfg, err := qconfig.LoadRuntimeConfigFromFile(*configPath)
	if err != nil {
		logConfigError(log, err)
		return exitFailure
	}

	collab, err := buildCollaborators(cfg)
	if err != nil {
		log.Errorf("Failed to build runtime collaborators: %v", err)
		return exitFailure
	}

	metricsProvider := metrics.NewPrometheusRegistryProvider()
	tracerProvider, err := tracing.NewProviderFromEnv(context.Background())
	if err != nil {
		log.Warnf("Failed to initialize tracing from environment: %v. Using NoOp tracer.", err)
		tracerProvider, _ = tracing.NewNoOpProvider()
	}

	rt, err := qv1.NewRuntime(cfg, collab,
		qv1.WithLogger(log),
		qv1.WithMetricsRegistryProvider(metricsProvider),
		qv1.WithTracerProvider(tracerProvider),
	)
	if err != nil {
		log.Errorf("Failed to construct runtime: %v", err)
		return exitFailure
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	defer func() {
		if shutdownErr := rt.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Warnf("Error shutting down runtime: %v", shutdownErr)
		}
	}()

	if err := rt.RunSetupFiles(); err != nil {
		log.Errorf("Setup file failed: %v", err)
		return exitFailure
	}

	log.Infof("Requiring entry module: %s", *entryPath)
	if _, err := rt.RequireEntry(*entryPath); err != nil {
		log.Errorf("Entry module failed: %v", err)
		return exitFailure
	}

	// A torn-down environment never surfaces as an error from RequireEntry
	// (spec.md §7): the Executor's exit code is the only trace of it, and
	// this is the host boundary that must act on it.
	if concrete, ok := rt.(*intRuntime.Runtime); ok {
		if code := concrete.Executor().ExitCode(); code != 0 {
			log.Errorf("Module runtime reported a non-zero exit code: %d", code)
			return code
		}
	}

	log.Infof("Entry module completed successfully.")
	return exitSuccess
}

// osFS is a trivial hostfs.FS backed by real OS file access. It is the
// one collaborator this demo implements for real rather than faking: a
// host filesystem is plain existence-checking and blocking reads, not an
// algorithm the module runtime core excludes by design (unlike module
// resolution, transformation, or sandboxed evaluation, which remain
// quartztest fakes here since a real implementation of any of them is
// explicitly out of this runtime's scope).
type osFS struct{}

func (osFS) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func (osFS) ReadFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// buildCollaborators wires the demo's Collaborators set: a real
// filesystem, and in-memory fakes for the resolver, transformer, and
// sandbox environment — the three collaborators whose real
// implementations are this runtime's own non-goals.
func buildCollaborators(cfg *qconfig.RuntimeConfig) (intRuntime.Collaborators, error) {
	return intRuntime.Collaborators{
		Resolver:    quartztest.NewResolver(),
		Transformer: quartztest.NewTransformer(),
		Environment: quartztest.NewEnvironment(),
		Filesystem:  osFS{},
	}, nil
}

func logConfigError(log interface{ Errorf(string, ...interface{}) }, err error) {
	var validationErr *qerrors.ValidationError
	var configErr *qerrors.ConfigError
	switch {
	case errors.As(err, &validationErr):
		log.Errorf("Runtime config validation failed: %s", validationErr.Error())
	case errors.As(err, &configErr):
		log.Errorf("Runtime config error: %s", configErr.Error())
	default:
		log.Errorf("Failed to load runtime config: %v", err)
	}
}
