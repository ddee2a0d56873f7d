// Package hooks implements the Reflective Control Object: the per-caller
// `j` object a module body receives alongside its require
// surface, exposing the mock/unmock/timer/isolation mutators a test
// harness drives a module's environment with.
package hooks

import (
	"fmt"

	"github.com/quartz-run/quartz/internal/automock"
	"github.com/quartz-run/quartz/internal/executor"
	"github.com/quartz-run/quartz/internal/policy"
	"github.com/quartz-run/quartz/internal/registry"
	qlog "github.com/quartz-run/quartz/pkg/quartz/v1/log"
	"github.com/quartz-run/quartz/pkg/quartz/v1/resolver"
	"github.com/quartz-run/quartz/pkg/quartz/v1/sandbox"
)

const (
	wellKnownTestTimeoutGlobal = "__quartz_test_timeout_ms__"
	wellKnownRetryTimesGlobal  = "__quartz_retry_times__"
)

// callerRequire is the subset of require.Surface that genMockFromModule's
// neighbors (requireActual/requireMock) forward to. Declared locally
// rather than importing require, since require is what builds a Hooks
// via Builder.HooksFactory — a direct import here would cycle back.
type callerRequire interface {
	RequireActual(request string) (interface{}, error)
	RequireMock(request string) (interface{}, error)
}

// legacyTimeoutHost is an optional capability a spec-harness global can
// implement so setTimeout(ms) can set its default interval field directly
// instead of falling back to a well-known environment global.
type legacyTimeoutHost interface {
	SetDefaultTimeoutInterval(ms int64)
}

// matcherHost is the optional capability addMatchers forwards to.
type matcherHost interface {
	AddMatchers(matchers map[string]interface{})
}

// globalSetter is the optional capability the environment's global object
// implements to accept well-known-key writes (setTimeout/retryTimes'
// fallback path).
type globalSetter interface {
	Set(name string, value interface{})
}

// Builder holds the collaborators shared across every Hooks instance a
// runtime creates, and adapts itself to the executor.HooksFactory contract.
type Builder struct {
	resolver resolver.Resolver
	policy   *policy.Engine
	registry *registry.Registry
	env      sandbox.Environment
	automock *automock.Adapter
	log      qlog.Logger
}

// NewBuilder constructs a Builder. automockAdapter may be nil; genMockFromModule
// then reports an error rather than panicking.
func NewBuilder(r resolver.Resolver, pol *policy.Engine, reg *registry.Registry, env sandbox.Environment, automockAdapter *automock.Adapter, log qlog.Logger) *Builder {
	return &Builder{resolver: r, policy: pol, registry: reg, env: env, automock: automockAdapter, log: log}
}

// HooksFactory adapts Builder to the executor.HooksFactory contract.
func (b *Builder) HooksFactory() executor.HooksFactory {
	return func(filename resolver.ModuleKey, requireSurface interface{}) interface{} {
		cr, _ := requireSurface.(callerRequire)
		return &Hooks{
			filename: filename,
			require:  cr,
			resolver: b.resolver,
			policy:   b.policy,
			registry: b.registry,
			env:      b.env,
			automock: b.automock,
			log:      b.log,
		}
	}
}

// Hooks is the per-caller Reflective Control Object. Every mutator returns
// the same *Hooks so a module body can chain calls.
type Hooks struct {
	filename resolver.ModuleKey
	require  callerRequire

	resolver resolver.Resolver
	policy   *policy.Engine
	registry *registry.Registry
	env      sandbox.Environment
	automock *automock.Adapter
	log      qlog.Logger

	exitCode int
}

// ExitCode reports the process exit code this Hooks instance has
// accumulated (the "absent live timers" diagnostic is the only
// operation that raises it, to 1).
func (h *Hooks) ExitCode() int { return h.exitCode }

func (h *Hooks) moduleID(request string) resolver.ModuleID {
	return h.resolver.ModuleID(h.policy.VirtualMocks(), h.filename, request)
}

// AutoMockOff implements autoMockOff / disableAutomock.
func (h *Hooks) AutoMockOff() *Hooks { h.policy.SetAutoMock(false); return h }

// DisableAutomock is an alias of AutoMockOff.
func (h *Hooks) DisableAutomock() *Hooks { return h.AutoMockOff() }

// AutoMockOn implements autoMockOn / enableAutomock.
func (h *Hooks) AutoMockOn() *Hooks { h.policy.SetAutoMock(true); return h }

// EnableAutomock is an alias of AutoMockOn.
func (h *Hooks) EnableAutomock() *Hooks { return h.AutoMockOn() }

// Unmock implements unmock / dontMock.
func (h *Hooks) Unmock(request string) *Hooks {
	h.policy.SetExplicitShouldMock(h.moduleID(request), false)
	return h
}

// DontMock is an alias of Unmock.
func (h *Hooks) DontMock(request string) *Hooks { return h.Unmock(request) }

// Mock implements the factory-less form of mock / doMock: explicit_should_mock[id] = true.
// A caller supplying a factory should use SetMock instead, matching
// doMock(name, factory)'s delegation to the factory-aware path.
func (h *Hooks) Mock(request string) *Hooks {
	h.policy.SetExplicitShouldMock(h.moduleID(request), true)
	return h
}

// DoMock is an alias of Mock.
func (h *Hooks) DoMock(request string) *Hooks { return h.Mock(request) }

// DeepUnmock implements deepUnmock.
func (h *Hooks) DeepUnmock(request string) *Hooks {
	h.policy.SetDeepUnmock(h.filename, request, h.moduleID(request))
	return h
}

// SetMock implements setMock(request, factory) / doMock(request, factory),
// with virtual mirroring jest's {virtual: true} option: when set, the path
// GetModulePath chooses for request is added to the virtual-mocks set
// before its ModuleID is computed, so a request with no real file on disk
// can still be mocked. A request GetModulePath reports an error for is not
// added.
func (h *Hooks) SetMock(request string, factory func() (interface{}, error), virtual bool) *Hooks {
	if virtual {
		if path, err := h.resolver.GetModulePath(h.filename, request); err == nil {
			h.policy.AddVirtualMock(path)
		}
	}
	h.policy.SetMockFactory(h.moduleID(request), factory)
	return h
}

// SetMockValue is the convenience form setMock(name, value): wraps a fixed
// value in a factory rather than requiring the caller to write one.
func (h *Hooks) SetMockValue(request string, value interface{}) *Hooks {
	return h.SetMock(request, func() (interface{}, error) { return value, nil }, false)
}

// ResetModules implements resetModules.
func (h *Hooks) ResetModules() *Hooks { h.registry.ResetModules(); return h }

// IsolateModules implements isolateModules(fn).
func (h *Hooks) IsolateModules(fn func() error) error { return h.registry.IsolateModules(fn) }

// ClearAllMocks implements clearAllMocks.
func (h *Hooks) ClearAllMocks() *Hooks { h.registry.ClearAllMocks(); return h }

// ResetAllMocks implements resetAllMocks.
func (h *Hooks) ResetAllMocks() *Hooks { h.registry.ResetAllMocks(); return h }

// RestoreAllMocks implements restoreAllMocks.
func (h *Hooks) RestoreAllMocks() *Hooks { h.registry.RestoreAllMocks(); return h }

// Fn implements fn(): a bare mock function from the environment's mock facility.
func (h *Hooks) Fn() interface{} { return h.env.ModuleMocker().Fn() }

// SpyOn implements spyOn(obj, method).
func (h *Hooks) SpyOn(obj interface{}, method string) (interface{}, error) {
	return h.env.ModuleMocker().SpyOn(obj, method)
}

// IsMockFunction implements isMockFunction(v).
func (h *Hooks) IsMockFunction(v interface{}) bool {
	return h.env.ModuleMocker().IsMockFunction(v)
}

// activeFakeTimers returns the environment's fake-timer facility if one is
// both present and currently faked, else logs a diagnostic, sets exitCode
// to 1, and returns ok=false.
func (h *Hooks) activeFakeTimers(op string) (sandbox.FakeTimers, bool) {
	timers := h.env.FakeTimers()
	if timers == nil || !timers.IsFake() {
		if h.log != nil {
			h.log.Errorf("%s called without active fake timers on '%s'", op, h.filename)
		}
		h.exitCode = 1
		return nil, false
	}
	return timers, true
}

// UseFakeTimers implements useFakeTimers. Unlike the rest of the fake-timer
// table it only requires the facility to exist, not to already be faked —
// activating it is precisely what this call does.
func (h *Hooks) UseFakeTimers() *Hooks {
	timers := h.env.FakeTimers()
	if timers == nil {
		if h.log != nil {
			h.log.Errorf("useFakeTimers called but environment has no fake-timer facility ('%s')", h.filename)
		}
		h.exitCode = 1
		return h
	}
	timers.UseFakeTimers()
	return h
}

// UseRealTimers implements useRealTimers.
func (h *Hooks) UseRealTimers() *Hooks {
	timers := h.env.FakeTimers()
	if timers == nil {
		if h.log != nil {
			h.log.Errorf("useRealTimers called but environment has no fake-timer facility ('%s')", h.filename)
		}
		h.exitCode = 1
		return h
	}
	timers.UseRealTimers()
	return h
}

// ClearAllTimers implements clearAllTimers.
func (h *Hooks) ClearAllTimers() *Hooks {
	if timers, ok := h.activeFakeTimers("clearAllTimers"); ok {
		timers.ClearAllTimers()
	}
	return h
}

// RunAllTimers implements runAllTimers.
func (h *Hooks) RunAllTimers() *Hooks {
	if timers, ok := h.activeFakeTimers("runAllTimers"); ok {
		if err := timers.RunAllTimers(); err != nil && h.log != nil {
			h.log.Warnf("runAllTimers: %v", err)
		}
	}
	return h
}

// RunAllTicks implements runAllTicks.
func (h *Hooks) RunAllTicks() *Hooks {
	if timers, ok := h.activeFakeTimers("runAllTicks"); ok {
		if err := timers.RunAllTicks(); err != nil && h.log != nil {
			h.log.Warnf("runAllTicks: %v", err)
		}
	}
	return h
}

// RunAllImmediates implements runAllImmediates.
func (h *Hooks) RunAllImmediates() *Hooks {
	if timers, ok := h.activeFakeTimers("runAllImmediates"); ok {
		if err := timers.RunAllImmediates(); err != nil && h.log != nil {
			h.log.Warnf("runAllImmediates: %v", err)
		}
	}
	return h
}

// RunOnlyPendingTimers implements runOnlyPendingTimers.
func (h *Hooks) RunOnlyPendingTimers() *Hooks {
	if timers, ok := h.activeFakeTimers("runOnlyPendingTimers"); ok {
		if err := timers.RunOnlyPendingTimers(); err != nil && h.log != nil {
			h.log.Warnf("runOnlyPendingTimers: %v", err)
		}
	}
	return h
}

// AdvanceTimersByTime implements advanceTimersByTime(ms).
func (h *Hooks) AdvanceTimersByTime(ms int64) *Hooks {
	if timers, ok := h.activeFakeTimers("advanceTimersByTime"); ok {
		if err := timers.AdvanceTimersByTime(ms); err != nil && h.log != nil {
			h.log.Warnf("advanceTimersByTime: %v", err)
		}
	}
	return h
}

// RunTimersToTime is the documented alias of AdvanceTimersByTime.
func (h *Hooks) RunTimersToTime(ms int64) *Hooks { return h.AdvanceTimersByTime(ms) }

// AdvanceTimersToNextTimer implements advanceTimersToNextTimer(steps?).
func (h *Hooks) AdvanceTimersToNextTimer(steps int) *Hooks {
	if timers, ok := h.activeFakeTimers("advanceTimersToNextTimer"); ok {
		if err := timers.AdvanceTimersToNextTimer(steps); err != nil && h.log != nil {
			h.log.Warnf("advanceTimersToNextTimer: %v", err)
		}
	}
	return h
}

// GetTimerCount implements getTimerCount.
func (h *Hooks) GetTimerCount() int {
	timers, ok := h.activeFakeTimers("getTimerCount")
	if !ok {
		return 0
	}
	return timers.GetTimerCount()
}

// SetTimeout implements setTimeout(ms): prefer a legacy spec-harness global's
// own default-interval field, falling back to a well-known environment global.
func (h *Hooks) SetTimeout(ms int64) *Hooks {
	global := h.env.Global()
	if host, ok := global.(legacyTimeoutHost); ok {
		host.SetDefaultTimeoutInterval(ms)
		return h
	}
	if setter, ok := global.(globalSetter); ok {
		setter.Set(wellKnownTestTimeoutGlobal, ms)
	}
	return h
}

// RetryTimes implements retryTimes(n).
func (h *Hooks) RetryTimes(n int) *Hooks {
	if setter, ok := h.env.Global().(globalSetter); ok {
		setter.Set(wellKnownRetryTimesGlobal, n)
	}
	return h
}

// GenMockFromModule implements genMockFromModule(name), delegating to the
// Automock Generator Adapter.
func (h *Hooks) GenMockFromModule(name string) (interface{}, error) {
	if h.automock == nil {
		return nil, fmt.Errorf("genMockFromModule: automock generation is not available")
	}
	return h.automock.Generate(h.filename, name)
}

// RequireActual implements requireActual(request), forwarded from the
// caller's own require surface.
func (h *Hooks) RequireActual(request string) (interface{}, error) {
	if h.require == nil {
		return nil, fmt.Errorf("requireActual: no require surface bound to '%s'", h.filename)
	}
	return h.require.RequireActual(request)
}

// RequireMock implements requireMock(request), forwarded from the caller's
// own require surface.
func (h *Hooks) RequireMock(request string) (interface{}, error) {
	if h.require == nil {
		return nil, fmt.Errorf("requireMock: no require surface bound to '%s'", h.filename)
	}
	return h.require.RequireMock(request)
}

// AddMatchers implements addMatchers(map), forwarded to the assertion
// library's global when one implements matcherHost; otherwise a no-op,
// since there is nothing registered to receive the matchers.
func (h *Hooks) AddMatchers(matchers map[string]interface{}) *Hooks {
	if host, ok := h.env.Global().(matcherHost); ok {
		host.AddMatchers(matchers)
	} else if h.log != nil {
		h.log.Warnf("addMatchers called but no spec-harness global registered on '%s'", h.filename)
	}
	return h
}
