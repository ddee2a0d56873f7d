package registry

import "github.com/quartz-run/quartz/pkg/quartz/v1/resolver"

// ParentLookup resolves a caller's ModuleKey to its own record, on
// demand, so a ModuleRecord's parent never holds a retained back-edge
// into the registry ("dynamic parent linkage").
type ParentLookup func(callerPath resolver.ModuleKey) (*Record, bool)

// RequireFn is the bare require(request) callable a Record's require
// surface exposes to the module body it was built for.
type RequireFn func(request string) (interface{}, error)

// Record is a module's registry slot: pre-registered before its body
// evaluates (Exports holds an empty container, Loaded is false) so that
// a circular require resolves to the partially-initialized record
// instead of recursing.
type Record struct {
	Key      resolver.ModuleKey
	Filename resolver.ModuleKey
	Exports  interface{}
	Loaded   bool
	Children []*Record
	Paths    []string

	// Require holds this record's caller-bound require surface. It is
	// opaque here (the concrete type lives in the require package, which
	// already depends on registry) so Record never depends upward on its
	// own consumers; callers that need the full surface API (resolve,
	// requireActual, requireMock, main) type-assert it to *require.Surface.
	Require interface{}

	callerPath resolver.ModuleKey
	lookup     ParentLookup
}

// NewRecord pre-registers a record for key, filename in its
// partially-initialized state.
func NewRecord(key, filename resolver.ModuleKey, paths []string, callerPath resolver.ModuleKey, lookup ParentLookup) *Record {
	return &Record{
		Key:        key,
		Filename:   filename,
		Exports:    make(map[string]interface{}),
		Loaded:     false,
		Children:   nil,
		Paths:      paths,
		callerPath: callerPath,
		lookup:     lookup,
	}
}

// Parent resolves this record's caller on demand. A record required
// directly by the runtime (no caller) has no parent.
func (r *Record) Parent() (*Record, bool) {
	if r.lookup == nil || r.callerPath == "" {
		return nil, false
	}
	return r.lookup(r.callerPath)
}

// AddChild appends child to Children if it is not already present.
func (r *Record) AddChild(child *Record) {
	for _, c := range r.Children {
		if c == child {
			return
		}
	}
	r.Children = append(r.Children, child)
}
