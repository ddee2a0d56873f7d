// Package quartztest provides simple, in-memory implementations of the
// module runtime core's external collaborators (resolver, transformer,
// sandbox environment, host filesystem) for use by package tests and the
// demo CLI.
package quartztest

import (
	"fmt"
	"path"
	"strings"
	"sync"

	qerrors "github.com/quartz-run/quartz/pkg/quartz/v1/errors"
	"github.com/quartz-run/quartz/pkg/quartz/v1/hostfs"
	"github.com/quartz-run/quartz/pkg/quartz/v1/resolver"
	"github.com/quartz-run/quartz/pkg/quartz/v1/sandbox"
	"github.com/quartz-run/quartz/pkg/quartz/v1/transform"
)

// FS is an in-memory host filesystem: a flat map of absolute path to
// file contents, with no actual OS I/O.
type FS struct {
	mu    sync.RWMutex
	files map[string]string
}

// NewFS constructs an empty in-memory filesystem.
func NewFS() *FS {
	return &FS{files: make(map[string]string)}
}

// WriteFile seeds path with contents, overwriting any prior value.
func (f *FS) WriteFile(path, contents string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path] = contents
}

// Exists reports whether path has been seeded.
func (f *FS) Exists(path string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.files[path]
	return ok
}

// ReadFile returns path's seeded contents, or an error if it was never seeded.
func (f *FS) ReadFile(p string) (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	contents, ok := f.files[p]
	if !ok {
		return "", fmt.Errorf("quartztest: no such file %q", p)
	}
	return contents, nil
}

var _ hostfs.FS = (*FS)(nil)

// Resolver is a minimal path resolver over a flat namespace: requests are
// resolved by joining the caller's directory with the request (no
// node_modules walk, no extension inference), with an explicit table of
// core-module names and manual-mock redirections for tests to seed.
type Resolver struct {
	mu          sync.RWMutex
	coreModules map[string]struct{}
	// named maps a bare module name (no relative prefix) straight to an
	// absolute path, the same way the teacher's resolver would consult
	// node_modules — tests seed this instead of a real package directory.
	named map[string]resolver.ModuleKey
	// manualMocks maps (from, request) pairs to a __mocks__-style stub path.
	manualMocks map[string]resolver.ModuleKey
	// stubs maps (from, request) pairs to a virtual-mock redirection target.
	stubs map[string]resolver.ModuleKey
}

// NewResolver constructs an empty Resolver.
func NewResolver() *Resolver {
	return &Resolver{
		coreModules: make(map[string]struct{}),
		named:       make(map[string]resolver.ModuleKey),
		manualMocks: make(map[string]resolver.ModuleKey),
		stubs:       make(map[string]resolver.ModuleKey),
	}
}

// RegisterCoreModule marks name as a core module.
func (r *Resolver) RegisterCoreModule(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.coreModules[name] = struct{}{}
}

// RegisterNamed maps a bare module name directly to an absolute path.
func (r *Resolver) RegisterNamed(name string, abs resolver.ModuleKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.named[name] = abs
}

// RegisterManualMock associates a __mocks__-style stub path with
// (from, request).
func (r *Resolver) RegisterManualMock(from resolver.ModuleKey, request string, stub resolver.ModuleKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.manualMocks[pairKey(from, request)] = stub
}

// RegisterStub associates a virtual-mock redirection target with
// (from, request).
func (r *Resolver) RegisterStub(from resolver.ModuleKey, request string, stub resolver.ModuleKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stubs[pairKey(from, request)] = stub
}

func pairKey(from resolver.ModuleKey, request string) string {
	return from + "\x00" + request
}

// Resolve maps (from, request) to an absolute path: relative requests are
// joined against from's directory, bare requests consult the named table.
func (r *Resolver) Resolve(from resolver.ModuleKey, request string) (resolver.ModuleKey, error) {
	if request == "" {
		return "", qerrors.NewBadResolveArgError("request cannot be empty")
	}
	if strings.HasPrefix(request, ".") {
		abs := path.Clean(path.Join(path.Dir(from), request))
		return abs, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if abs, ok := r.named[request]; ok {
		return abs, nil
	}
	return "", qerrors.NewNotFoundError(from, request, "")
}

// ResolveFromDirIfExists mirrors Resolve but as a clean-miss probe.
func (r *Resolver) ResolveFromDirIfExists(dir string, request string, opts resolver.ResolveFromDirOptions) (resolver.ModuleKey, bool) {
	searchDir := dir
	if len(opts.Paths) > 0 {
		searchDir = opts.Paths[0]
	}
	if strings.HasPrefix(request, ".") {
		return path.Clean(path.Join(searchDir, request)), true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	abs, ok := r.named[request]
	return abs, ok
}

// IsCoreModule reports whether name was registered as a core module.
func (r *Resolver) IsCoreModule(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.coreModules[name]
	return ok
}

// GetModule returns the named table's entry for name, if any.
func (r *Resolver) GetModule(name string) (resolver.ModuleKey, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	abs, ok := r.named[name]
	return abs, ok
}

// GetMockModule returns a registered manual mock for (from, name), if any.
func (r *Resolver) GetMockModule(from resolver.ModuleKey, name string) (resolver.ModuleKey, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	abs, ok := r.manualMocks[pairKey(from, name)]
	return abs, ok
}

// ResolveStubModule returns a registered virtual-mock redirection target
// for (from, name), if any.
func (r *Resolver) ResolveStubModule(from resolver.ModuleKey, name string) (resolver.ModuleKey, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	abs, ok := r.stubs[pairKey(from, name)]
	return abs, ok
}

// GetModulePaths returns a single-entry directory-search sequence.
func (r *Resolver) GetModulePaths(dir string) []string {
	return []string{dir}
}

// GetModulePath resolves (from, name) the same way Resolve does, wrapping
// a miss as an error rather than a bool.
func (r *Resolver) GetModulePath(from resolver.ModuleKey, name string) (resolver.ModuleKey, error) {
	return r.Resolve(from, name)
}

// ModuleID derives a stable identifier by joining the caller, request,
// and a deterministic marker for whether request is currently virtually
// mocked — enough to let two distinct virtual-mock configurations for
// the same (from, request) pair produce distinct identifiers, as
// policy.Engine's VirtualMocks handling requires.
func (r *Resolver) ModuleID(virtualMocks map[resolver.ModuleKey]struct{}, from resolver.ModuleKey, request string) resolver.ModuleID {
	abs, err := r.Resolve(from, request)
	if err != nil {
		abs = from + "\x00" + request
	}
	if _, virtual := virtualMocks[abs]; virtual {
		return abs + "\x00virtual"
	}
	return abs
}

var _ resolver.Resolver = (*Resolver)(nil)

// Transformer returns its input script unchanged, tagging the result with
// the wrapper-variable convention the Executor expects and with whatever
// NeedsCoverageMapping value was seeded for that path.
type Transformer struct {
	mu       sync.RWMutex
	coverage map[string]bool
}

// NewTransformer constructs a Transformer.
func NewTransformer() *Transformer {
	return &Transformer{coverage: make(map[string]bool)}
}

// SetNeedsCoverageMapping marks path as needing coverage instrumentation
// bookkeeping in future Transform results.
func (t *Transformer) SetNeedsCoverageMapping(path string, needs bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.coverage[path] = needs
}

// WrapScript applies the same wrapper-variable assignment convention
// Transform uses, exported so tests can compute the exact script text to
// register a native module body under without duplicating the template.
func WrapScript(cachedSource string) string {
	return fmt.Sprintf("%s = function(module, exports, require, __dirname, __filename, quartz) {\n%s\n}",
		transform.EvalResultVariable, cachedSource)
}

// Transform wraps cachedSource (or a fresh read, left to the caller to
// supply) in the wrapper-variable assignment the Executor's RunScript
// convention expects, performing no real compilation.
func (t *Transformer) Transform(path string, options map[string]interface{}, cachedSource string) (*transform.Result, error) {
	t.mu.RLock()
	needs := t.coverage[path]
	t.mu.RUnlock()
	return &transform.Result{
		Script:               WrapScript(cachedSource),
		NeedsCoverageMapping: needs,
	}, nil
}

// TransformJSON returns text unchanged: this fake performs no real
// JSON-to-sandbox-representation conversion.
func (t *Transformer) TransformJSON(path string, options map[string]interface{}, text string) (string, error) {
	return text, nil
}

var _ transform.Transformer = (*Transformer)(nil)

// mockFn is the opaque value IsMockFunction/Fn/SpyOn produce; its
// identity (not its contents) is what ModuleMocker tracks.
type mockFn struct {
	name string
}

// moduleMocker is an in-memory sandbox.ModuleMocker: mock identity tracking
// plus a metadata round-trip that treats the exports value itself as its
// own metadata (sufficient for the Automock Generator Adapter's cache and
// regeneration contract, since this fake never inspects metadata shape).
type moduleMocker struct {
	mu    sync.Mutex
	mocks map[*mockFn]struct{}
}

func newModuleMocker() *moduleMocker {
	return &moduleMocker{mocks: make(map[*mockFn]struct{})}
}

func (m *moduleMocker) Fn() interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn := &mockFn{name: "fn"}
	m.mocks[fn] = struct{}{}
	return fn
}

func (m *moduleMocker) SpyOn(obj interface{}, method string) (interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn := &mockFn{name: "spy:" + method}
	m.mocks[fn] = struct{}{}
	return fn, nil
}

func (m *moduleMocker) IsMockFunction(v interface{}) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn, ok := v.(*mockFn)
	if !ok {
		return false
	}
	_, tracked := m.mocks[fn]
	return tracked
}

func (m *moduleMocker) EmptyMetadata() sandbox.MockMetadata {
	return map[string]interface{}{}
}

func (m *moduleMocker) GetMetadata(exports interface{}) (sandbox.MockMetadata, error) {
	return exports, nil
}

func (m *moduleMocker) GenerateFromMetadata(meta sandbox.MockMetadata) (interface{}, error) {
	return meta, nil
}

func (m *moduleMocker) ClearAllMocks() {}

func (m *moduleMocker) ResetAllMocks() {}

func (m *moduleMocker) RestoreAllMocks() {}

var _ sandbox.ModuleMocker = (*moduleMocker)(nil)

// fakeTimers is an in-memory sandbox.FakeTimers tracking only liveness
// and a monotonically-reset pending-timer count, enough to exercise the
// Reflective Control Object's timer-control surface without a real
// event loop.
type fakeTimers struct {
	mu      sync.Mutex
	live    bool
	pending int
}

func newFakeTimers() *fakeTimers {
	return &fakeTimers{}
}

func (t *fakeTimers) UseFakeTimers() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.live = true
}

func (t *fakeTimers) UseRealTimers() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.live = false
}

func (t *fakeTimers) IsFake() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live
}

func (t *fakeTimers) ClearAllTimers() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = 0
}

func (t *fakeTimers) RunAllTimers() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = 0
	return nil
}

func (t *fakeTimers) RunAllTicks() error { return nil }

func (t *fakeTimers) RunAllImmediates() error { return nil }

func (t *fakeTimers) RunOnlyPendingTimers() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = 0
	return nil
}

func (t *fakeTimers) AdvanceTimersByTime(ms int64) error { return nil }

func (t *fakeTimers) AdvanceTimersToNextTimer(steps int) error { return nil }

func (t *fakeTimers) GetTimerCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}

var _ sandbox.FakeTimers = (*fakeTimers)(nil)

// Environment is an in-memory sandbox.Environment: a plain map as the
// global object, a ModuleMocker, a FakeTimers facility, and a RunScript
// that evaluates the trivial wrapper-function convention the fake
// Transformer emits by storing it verbatim for later synchronous
// invocation rather than compiling anything.
type Environment struct {
	mu            sync.RWMutex
	global        map[string]interface{}
	mocker        *moduleMocker
	timers        *fakeTimers
	tornDown      bool
	nativeAddon   sandbox.NativeAddonLoader
	nativeModules map[string]sandbox.ScriptWrapper
}

// NewEnvironment constructs an Environment whose fake-timer facility is
// present but inactive (IsFake reports false until UseFakeTimers).
func NewEnvironment() *Environment {
	return &Environment{
		global:        make(map[string]interface{}),
		mocker:        newModuleMocker(),
		timers:        newFakeTimers(),
		nativeModules: make(map[string]sandbox.ScriptWrapper),
	}
}

// RegisterNativeModule associates script's exact text with a Go function
// to invoke as the module body, letting tests exercise the Executor
// without a real JavaScript-equivalent compiler.
func (e *Environment) RegisterNativeModule(script string, fn sandbox.ScriptWrapper) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nativeModules[script] = fn
}

// Set assigns name on the global object, satisfying hooks' globalSetter
// ad hoc capability interface.
func (e *Environment) Set(name string, value interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.global[name] = value
}

// Get looks up name on the global object, satisfying the executor's
// lookupGlobal ad hoc capability interface for ExtraGlobals.
func (e *Environment) Get(name string) (interface{}, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.global[name]
	return v, ok
}

// TearDown simulates environment teardown: Global starts returning nil.
func (e *Environment) TearDown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tornDown = true
}

// SetNativeAddonLoader installs a native-addon loader for this environment.
func (e *Environment) SetNativeAddonLoader(l sandbox.NativeAddonLoader) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nativeAddon = l
}

func (e *Environment) Global() interface{} {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.tornDown {
		return nil
	}
	return e
}

func (e *Environment) ModuleMocker() sandbox.ModuleMocker { return e.mocker }

func (e *Environment) FakeTimers() sandbox.FakeTimers { return e.timers }

// RunScript returns a ScriptWrapper that ignores script's text (this fake
// never compiles it) and instead looks up a pre-registered native Go
// function under script's exact text as a key — tests register module
// bodies via RegisterNativeModule rather than real sandboxed source.
func (e *Environment) RunScript(script string) (sandbox.ScriptWrapper, error) {
	e.mu.RLock()
	fn, ok := e.nativeModules[script]
	e.mu.RUnlock()
	if !ok {
		// Fall back to a no-op wrapper for untracked scripts (e.g. plain
		// data/text loads that never call RunScript's result).
		return func(args ...interface{}) (interface{}, error) { return nil, nil }, nil
	}
	return fn, nil
}

func (e *Environment) NativeAddonLoader() sandbox.NativeAddonLoader { return e.nativeAddon }

var _ sandbox.Environment = (*Environment)(nil)
