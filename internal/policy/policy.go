// Package policy implements the Resolution Policy Engine: a pure
// decision function over the caller path, the requested name, and the
// mutable policy inputs the Reflective Control Object writes into
// (explicit mock flags, transitive-unmock flags, mock factories,
// virtual mocks, the automock toggle), memoized for stability under
// repeated requires within a test.
package policy

import (
	"regexp"
	"strings"

	qconfig "github.com/quartz-run/quartz/internal/config"
	qerrors "github.com/quartz-run/quartz/pkg/quartz/v1/errors"
	"github.com/quartz-run/quartz/pkg/quartz/v1/resolver"
)

// triState distinguishes "never set" from an explicit true/false,
// letting a zero-value map report triUnset without a separate presence
// check.
type triState int8

const (
	triUnset triState = 0
	triFalse triState = -1
	triTrue  triState = 1
)

func triFromBool(b bool) triState {
	if b {
		return triTrue
	}
	return triFalse
}

// Engine holds the policy-input state for a single runtime instance and
// answers resolve_kind / should_mock over it. It performs no I/O beyond
// calls into the injected Resolver.
type Engine struct {
	resolver resolver.Resolver

	autoMock bool

	explicitShouldMock   map[resolver.ModuleID]triState
	mockFactories        map[resolver.ModuleID]func() (interface{}, error)
	virtualMocks         map[resolver.ModuleKey]struct{}
	unmockPatterns       []*regexp.Regexp

	// transitiveUnmocked flags a ModuleID whose transitive_should_mock
	// has been written false (by deepUnmock or automock setup).
	transitiveUnmocked map[resolver.ModuleID]struct{}
	// transitiveUnmockedByPath mirrors transitiveUnmocked by resolved
	// path when known, so that a descendant's "is my caller itself
	// transitively unmocked" check can be answered without re-deriving
	// the caller's own ModuleID. See DESIGN.md for why this mirror
	// exists.
	transitiveUnmockedByPath map[resolver.ModuleKey]struct{}

	shouldMockCache             map[resolver.ModuleID]bool
	shouldUnmockTransitiveCache map[string]struct{}

	// explicitShouldMockByPath mirrors explicitShouldMock by resolved
	// path for the node_modules-boundary "caller's explicit_should_mock"
	// check in computeShouldMock. See DESIGN.md.
	explicitShouldMockByPath map[resolver.ModuleKey]bool
}

// New constructs a policy Engine from a Resolver and a RuntimeConfig,
// compiling the configured unmock patterns as regular expressions.
func New(r resolver.Resolver, cfg *qconfig.RuntimeConfig) (*Engine, error) {
	compiled := make([]*regexp.Regexp, 0, len(cfg.UnmockPatterns))
	for _, p := range cfg.UnmockPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, qerrors.NewConfigError("invalid 'unmock_patterns' regular expression: "+p, err)
		}
		compiled = append(compiled, re)
	}

	return &Engine{
		resolver:                    r,
		autoMock:                    cfg.IsAutomockEnabled(),
		explicitShouldMock:          make(map[resolver.ModuleID]triState),
		mockFactories:               make(map[resolver.ModuleID]func() (interface{}, error)),
		virtualMocks:                make(map[resolver.ModuleKey]struct{}),
		unmockPatterns:              compiled,
		transitiveUnmocked:          make(map[resolver.ModuleID]struct{}),
		transitiveUnmockedByPath:    make(map[resolver.ModuleKey]struct{}),
		shouldMockCache:             make(map[resolver.ModuleID]bool),
		shouldUnmockTransitiveCache: make(map[string]struct{}),
		explicitShouldMockByPath:    make(map[resolver.ModuleKey]bool),
	}, nil
}

// SetAutoMock implements autoMockOn/autoMockOff.
func (e *Engine) SetAutoMock(enabled bool) { e.autoMock = enabled }

// AutoMock reports the current automock toggle.
func (e *Engine) AutoMock() bool { return e.autoMock }

// SetExplicitShouldMock implements unmock/dontMock (false) and
// mock/doMock without a factory (true).
func (e *Engine) SetExplicitShouldMock(id resolver.ModuleID, value bool) {
	e.explicitShouldMock[id] = triFromBool(value)
}

// SetDeepUnmock implements deepUnmock: explicit_should_mock[id] = false
// and transitive_should_mock[id] = false, additionally mirroring both by
// resolved path (when resolvable) so descendants can observe the
// transitive flag via their own `from`.
func (e *Engine) SetDeepUnmock(from resolver.ModuleKey, request string, id resolver.ModuleID) {
	e.explicitShouldMock[id] = triFalse
	e.transitiveUnmocked[id] = struct{}{}
	if path, err := e.resolver.Resolve(from, request); err == nil {
		e.explicitShouldMockByPath[path] = false
		e.transitiveUnmockedByPath[path] = struct{}{}
	}
}

// SetMockFactory implements setMock / doMock(name, factory).
func (e *Engine) SetMockFactory(id resolver.ModuleID, factory func() (interface{}, error)) {
	e.explicitShouldMock[id] = triTrue
	e.mockFactories[id] = factory
}

// MockFactory returns the registered factory for id, if any.
func (e *Engine) MockFactory(id resolver.ModuleID) (func() (interface{}, error), bool) {
	f, ok := e.mockFactories[id]
	return f, ok
}

// AddVirtualMock registers key as a virtual mock, so resolver.ModuleID
// computations see it in the virtual-mocks set.
func (e *Engine) AddVirtualMock(key resolver.ModuleKey) {
	e.virtualMocks[key] = struct{}{}
}

// VirtualMocks returns the live virtual-mocks set, for passing to
// resolver.ModuleID.
func (e *Engine) VirtualMocks() map[resolver.ModuleKey]struct{} { return e.virtualMocks }

// ResolveKind is the Resolution Policy Engine's central decision
// function. currentlyExecutingManualMock is the reentrancy-state value
// the Executor maintains.
func (e *Engine) ResolveKind(from resolver.ModuleKey, request string, intent Intent, currentlyExecutingManualMock resolver.ModuleKey) (Outcome, error) {
	id := e.resolver.ModuleID(e.virtualMocks, from, request)

	if intent == ForceReal || intent == InternalOnly {
		path, err := e.resolver.Resolve(from, request)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Kind: KindUseReal, Path: path, ID: id}, nil
	}

	if intent != MockOnly {
		if e.resolver.IsCoreModule(request) {
			return Outcome{Kind: KindUseCore, Name: request}, nil
		}

		manual, hasManual := e.resolver.GetMockModule(from, request)
		_, hasResource := e.resolver.GetModule(request)

		if intent == Normal && !hasResource && hasManual &&
			manual != currentlyExecutingManualMock && e.explicitShouldMock[id] != triFalse {
			return Outcome{Kind: KindUseManualMock, Path: manual, ID: id}, nil
		}

		if !e.shouldMock(from, request, id) {
			path, err := e.resolver.Resolve(from, request)
			if err != nil {
				return Outcome{}, err
			}
			return Outcome{Kind: KindUseReal, Path: path, ID: id}, nil
		}
	}

	manual, hasManual := e.resolver.GetMockModule(from, request)
	if hasManual {
		// A mock file can itself be a stub that redirects to a different
		// on-disk target (e.g. a shared fixture backing several manual
		// mocks); ResolveStubModule is consulted here, not in the
		// step-6 early branch, because only a decision that has already
		// committed to mocking needs to know where the mock file's own
		// content actually lives.
		if stub, redirected := e.resolver.ResolveStubModule(from, request); redirected {
			return Outcome{Kind: KindUseManualMock, Path: stub, ID: id}, nil
		}
		return Outcome{Kind: KindUseManualMock, Path: manual, ID: id}, nil
	}
	return Outcome{Kind: KindUseAutoMock, ID: id}, nil
}

// shouldMock decides whether (from, request) should resolve to a mock,
// folding explicit per-module overrides together with transitive
// unmocking from an ancestor's deepUnmock.
func (e *Engine) shouldMock(from resolver.ModuleKey, request string, id resolver.ModuleID) bool {
	if tri := e.explicitShouldMock[id]; tri != triUnset {
		return tri == triTrue
	}

	if !e.autoMock || e.resolver.IsCoreModule(request) {
		return false
	}

	cacheKey := from + "\x00" + id
	if _, unmocked := e.shouldUnmockTransitiveCache[cacheKey]; unmocked {
		return false
	}

	if cached, ok := e.shouldMockCache[id]; ok {
		return cached
	}

	result := e.computeShouldMock(from, request, id, cacheKey)
	e.shouldMockCache[id] = result
	return result
}

func (e *Engine) computeShouldMock(from resolver.ModuleKey, request string, id resolver.ModuleID, cacheKey string) bool {
	path, err := e.resolver.Resolve(from, request)
	if err != nil {
		_, hasManual := e.resolver.GetMockModule(from, request)
		return hasManual
	}

	if tri := e.explicitShouldMock[id]; tri == triTrue {
		e.explicitShouldMockByPath[path] = true
	} else if tri == triFalse {
		e.explicitShouldMockByPath[path] = false
	}

	for _, re := range e.unmockPatterns {
		if re.MatchString(path) {
			return false
		}
	}

	if _, flagged := e.transitiveUnmocked[id]; flagged {
		e.transitiveUnmockedByPath[path] = struct{}{}
		e.shouldUnmockTransitiveCache[cacheKey] = struct{}{}
		return false
	}

	if _, callerTransitivelyUnmocked := e.transitiveUnmockedByPath[from]; callerTransitivelyUnmocked && isUnderNodeModules(from) && isUnderNodeModules(path) {
		e.transitiveUnmockedByPath[path] = struct{}{}
		e.shouldUnmockTransitiveCache[cacheKey] = struct{}{}
		return false
	}

	if isUnderNodeModules(from) && isUnderNodeModules(path) {
		callerMatchesUnmockPattern := false
		for _, re := range e.unmockPatterns {
			if re.MatchString(from) {
				callerMatchesUnmockPattern = true
				break
			}
		}
		callerExplicitlyUnmocked := !e.explicitShouldMockByPath[from] && hasExplicitFalseAtPath(e, from)

		if callerMatchesUnmockPattern || callerExplicitlyUnmocked {
			e.transitiveUnmocked[id] = struct{}{}
			e.transitiveUnmockedByPath[path] = struct{}{}
			e.shouldUnmockTransitiveCache[cacheKey] = struct{}{}
			return false
		}
	}

	return true
}

func hasExplicitFalseAtPath(e *Engine, p resolver.ModuleKey) bool {
	v, ok := e.explicitShouldMockByPath[p]
	return ok && !v
}

func isUnderNodeModules(p string) bool {
	normalized := strings.ReplaceAll(p, "\\", "/")
	return strings.Contains(normalized, "/node_modules/")
}
