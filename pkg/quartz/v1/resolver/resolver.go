// Package resolver defines the public contract for the path resolver
// collaborator: the component that maps (caller path, request) pairs to
// absolute module paths, identifies core modules, locates manual mocks,
// and derives stable module identifiers. The runtime core treats it as
// an external, read-mostly collaborator and never reimplements it.
package resolver

// ModuleKey is the absolute resolved file path of a module, normalized
// for path separators. It keys the internal/real/isolated_real registries.
type ModuleKey = string

// ModuleID is the stable opaque identifier the resolver derives from the
// virtual-mocks set plus a (from, request) pair. It keys the mock
// registries and every policy-input map. Two distinct requests may share
// a ModuleID under manual-mock aliasing.
type ModuleID = string

// ResolveFromDirOptions carries the optional search-path override passed
// to require.resolve(request, {paths}).
type ResolveFromDirOptions struct {
	// Paths, when non-empty, is tried in order instead of the resolver's
	// default directory-search algorithm.
	Paths []string
}

// Resolver is the collaborator interface consumed by the Resolution
// Policy Engine, Loader, Executor, and Require Surface.
type Resolver interface {
	// ModuleID derives a stable opaque identifier for (from, request),
	// given the current virtual-mocks set.
	ModuleID(virtualMocks map[ModuleKey]struct{}, from ModuleKey, request string) ModuleID

	// Resolve maps (from, request) to an absolute module path, or
	// returns a *quartzerrors.NotFoundError on failure.
	Resolve(from ModuleKey, request string) (ModuleKey, error)

	// ResolveFromDirIfExists attempts to resolve request from dir using
	// opts, returning ok=false rather than an error on a clean miss.
	ResolveFromDirIfExists(dir string, request string, opts ResolveFromDirOptions) (path ModuleKey, ok bool)

	// IsCoreModule reports whether name is a built-in/core module name
	// that must never be routed through the mock path.
	IsCoreModule(name string) bool

	// GetModule returns the resolved real-module path for name, if any.
	GetModule(name string) (ModuleKey, bool)

	// GetMockModule returns the manual-mock path associated with
	// (from, name), if any — including adjacent __mocks__ probing.
	GetMockModule(from ModuleKey, name string) (ModuleKey, bool)

	// ResolveStubModule returns a stub/virtual-mock redirection target
	// for (from, name), if the resolver has one registered.
	ResolveStubModule(from ModuleKey, name string) (ModuleKey, bool)

	// GetModulePaths returns the directory-search sequence for dir,
	// used to populate ModuleRecord.Paths.
	GetModulePaths(dir string) []string

	// GetModulePath resolves (from, name) to an absolute path or returns
	// an error describing why resolution failed.
	GetModulePath(from ModuleKey, name string) (ModuleKey, error)
}
