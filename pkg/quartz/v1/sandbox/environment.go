// Package sandbox defines the public contract for the sandbox
// environment collaborator: the isolated global object a module body
// executes against, its script runner, its mock-metadata/factory
// facility, and its fake-timer facility. The runtime core never
// implements a JavaScript (or equivalent) evaluator itself; it only
// drives one through this interface.
package sandbox

// MockMetadata is an opaque handle the environment's ModuleMocker
// produces for a module's real exports and consumes again to synthesize
// an automock. The core never inspects its shape.
type MockMetadata interface{}

// ModuleMocker is the environment's mock-function and mock-metadata
// facility: fn/spyOn factories plus the metadata round-trip the
// Automock Generator Adapter drives.
type ModuleMocker interface {
	// Fn creates a new, bare mock function.
	Fn() interface{}

	// SpyOn wraps method on obj with a mock that delegates to the
	// original implementation by default.
	SpyOn(obj interface{}, method string) (interface{}, error)

	// IsMockFunction reports whether v was produced by Fn or SpyOn.
	IsMockFunction(v interface{}) bool

	// EmptyMetadata returns the sentinel "no shape yet" MockMetadata value
	// the Automock Generator Adapter seeds its cache with before loading a
	// module's real exports, so a self-referential cycle reached while
	// generating a mock resolves to this placeholder instead of recursing.
	EmptyMetadata() MockMetadata

	// GetMetadata captures exports' shape as an opaque MockMetadata
	// value, or returns nil if the environment cannot describe it.
	GetMetadata(exports interface{}) (MockMetadata, error)

	// GenerateFromMetadata synthesizes a mock object matching meta.
	GenerateFromMetadata(meta MockMetadata) (interface{}, error)

	// ClearAllMocks resets mock.calls/mock.instances on every mock
	// function created so far, without removing their implementations.
	ClearAllMocks()

	// ResetAllMocks additionally removes any implementation set on
	// every mock function created so far.
	ResetAllMocks()

	// RestoreAllMocks reverts every SpyOn wrapper to its original
	// implementation.
	RestoreAllMocks()
}

// FakeTimers is the environment's fake-timer facility. A nil FakeTimers
// on an Environment means the environment does not support faking
// timers at all; absence of *active* fake timers (the common "you must
// call useFakeTimers first" guard) is reported by IsFake.
type FakeTimers interface {
	UseFakeTimers()
	UseRealTimers()
	IsFake() bool

	ClearAllTimers()
	RunAllTimers() error
	RunAllTicks() error
	RunAllImmediates() error
	RunOnlyPendingTimers() error
	AdvanceTimersByTime(ms int64) error
	AdvanceTimersToNextTimer(steps int) error
	GetTimerCount() int
}

// ScriptWrapper is the callable the environment hands back from
// RunScript: the Executor invokes it with the module's injected locals
// in a fixed positional order (record, exports, require, __dirname,
// __filename, global, hooks, then any configured extra globals).
type ScriptWrapper func(args ...interface{}) (interface{}, error)

// NativeAddonLoader is the host's loader for native-addon modules
// (".node" files). A nil NativeAddonLoader on an Environment means the
// host does not support loading them; the Loader reports a NotFoundError
// for such a request rather than panicking on a nil call.
type NativeAddonLoader interface {
	Load(path string) (exports interface{}, err error)
}

// Environment is the collaborator interface the Executor drives to
// evaluate a transformed module body inside an isolated global.
type Environment interface {
	// Global returns the sandbox's global object. A nil return means
	// the environment has been torn down; the Executor must treat this
	// as a precondition failure rather than evaluate anything.
	Global() interface{}

	// ModuleMocker returns the environment's mock facility.
	ModuleMocker() ModuleMocker

	// FakeTimers returns the environment's fake-timer facility, or nil
	// if this environment does not support one.
	FakeTimers() FakeTimers

	// RunScript compiles script into an invokable wrapper, or returns a
	// nil wrapper if the environment could not produce one.
	RunScript(script string) (ScriptWrapper, error)

	// NativeAddonLoader returns the environment's native-addon loader, or
	// nil if it does not support loading ".node" files.
	NativeAddonLoader() NativeAddonLoader
}
