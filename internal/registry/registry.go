// Package registry implements the four-registry multiplexing layer:
// internal, real, isolated_real, mock, isolated_mock, with precedence,
// lifecycle, and isolation-scope rules. Every mutation goes through
// Registry so its invariants are checked in one place; the overlapping
// registries are modeled as a single tagged variant rather than four
// independent stores callers reach into directly.
package registry

import (
	"time"

	qerrors "github.com/quartz-run/quartz/pkg/quartz/v1/errors"
	qevents "github.com/quartz-run/quartz/pkg/quartz/v1/events"
	qlog "github.com/quartz-run/quartz/pkg/quartz/v1/log"
	"github.com/quartz-run/quartz/internal/metrics"
	"github.com/quartz-run/quartz/internal/policy"
	"github.com/quartz-run/quartz/pkg/quartz/v1/resolver"
	"github.com/quartz-run/quartz/pkg/quartz/v1/sandbox"
)

// Kind tags which of the four registries a RegistryRef points at.
type Kind int

const (
	KindInternal Kind = iota
	KindReal
	KindIsolatedReal
	KindMock
	KindIsolatedMock
)

// Ref is the tagged variant `select` resolves to: a registry slot a
// caller can Put/Get against without knowing which concrete map backs
// it. Real-keyed kinds (Internal, Real, IsolatedReal) are addressed by
// ModuleKey; mock-keyed kinds (Mock, IsolatedMock) are addressed by
// ModuleID, but both alias to the same string type so a single Ref type
// serves both.
type Ref struct {
	Kind Kind
}

// Registry holds the four module-record maps plus the collaborators
// needed to fulfill reset_modules/clear_all_mocks delegation to the
// sandbox environment.
type Registry struct {
	internal map[resolver.ModuleKey]*Record
	real     map[resolver.ModuleKey]*Record
	mock     map[resolver.ModuleID]*Record

	// isolatedReal/isolatedMock are nil outside an isolateModules scope,
	// and both non-nil inside one — the invariant that one implies the
	// other is enforced by construction rather than checked.
	isolatedReal map[resolver.ModuleKey]*Record
	isolatedMock map[resolver.ModuleID]*Record

	env     sandbox.Environment
	events  qevents.Bus
	metrics *metrics.RuntimeMetrics
	log     qlog.Logger
}

// New constructs an empty Registry. env may be nil (no live sandbox yet);
// reset_modules and the clear/reset/restore-all-mocks delegations become
// no-ops when it is.
func New(env sandbox.Environment, bus qevents.Bus, m *metrics.RuntimeMetrics, log qlog.Logger) *Registry {
	return &Registry{
		internal: make(map[resolver.ModuleKey]*Record),
		real:     make(map[resolver.ModuleKey]*Record),
		mock:     make(map[resolver.ModuleID]*Record),
		env:      env,
		events:   bus,
		metrics:  m,
		log:      log,
	}
}

// SelectReal implements `select(intent, key)` for real-module loads:
// InternalOnly always targets internal; otherwise an already-present
// real entry wins, and only a currently-open isolation scope can
// redirect a miss to isolated_real.
func (r *Registry) SelectReal(intent policy.Intent, key resolver.ModuleKey) Ref {
	if intent == policy.InternalOnly {
		return Ref{Kind: KindInternal}
	}
	if _, ok := r.real[key]; ok || r.isolatedReal == nil {
		return Ref{Kind: KindReal}
	}
	return Ref{Kind: KindIsolatedReal}
}

// SelectMock chooses the mock registry a mock-keyed lookup should prefer:
// isolated_mock whenever an isolation scope is open, else mock.
func (r *Registry) SelectMock() Ref {
	if r.isolatedMock != nil {
		return Ref{Kind: KindIsolatedMock}
	}
	return Ref{Kind: KindMock}
}

func (r *Registry) mapForReal(ref Ref) map[resolver.ModuleKey]*Record {
	switch ref.Kind {
	case KindInternal:
		return r.internal
	case KindReal:
		return r.real
	case KindIsolatedReal:
		return r.isolatedReal
	default:
		return nil
	}
}

func (r *Registry) mapForMock(ref Ref) map[resolver.ModuleID]*Record {
	switch ref.Kind {
	case KindMock:
		return r.mock
	case KindIsolatedMock:
		return r.isolatedMock
	default:
		return nil
	}
}

// PutReal registers record under key in the registry ref points at.
func (r *Registry) PutReal(ref Ref, key resolver.ModuleKey, record *Record) {
	m := r.mapForReal(ref)
	if m == nil {
		return
	}
	m[key] = record
}

// GetReal retrieves a real-keyed record from the registry ref points at.
func (r *Registry) GetReal(ref Ref, key resolver.ModuleKey) (*Record, bool) {
	m := r.mapForReal(ref)
	if m == nil {
		return nil, false
	}
	rec, ok := m[key]
	return rec, ok
}

// LookupReal searches internal, then real, then isolated_real (in that
// precedence order) for key, independent of any particular Ref — used by
// a ModuleRecord's lazy parent accessor, which has no intent to select by.
func (r *Registry) LookupReal(key resolver.ModuleKey) (*Record, bool) {
	if rec, ok := r.internal[key]; ok {
		return rec, true
	}
	if rec, ok := r.real[key]; ok {
		return rec, true
	}
	if r.isolatedReal != nil {
		if rec, ok := r.isolatedReal[key]; ok {
			return rec, true
		}
	}
	return nil, false
}

// PutMock registers record under id in the registry ref points at.
func (r *Registry) PutMock(ref Ref, id resolver.ModuleID, record *Record) {
	m := r.mapForMock(ref)
	if m == nil {
		return
	}
	m[id] = record
}

// GetMock retrieves a mock-keyed record from the registry ref points at.
func (r *Registry) GetMock(ref Ref, id resolver.ModuleID) (*Record, bool) {
	m := r.mapForMock(ref)
	if m == nil {
		return nil, false
	}
	rec, ok := m[id]
	return rec, ok
}

// ParentLookup implements the Record.ParentLookup contract in terms of
// this registry's own real-keyed lookup.
func (r *Registry) ParentLookup() ParentLookup {
	return func(callerPath resolver.ModuleKey) (*Record, bool) {
		return r.LookupReal(callerPath)
	}
}

// ResetModules implements reset_modules: discards both isolated
// registries, clears real and mock, leaves internal untouched, and
// resets the live environment's mock/fake-timer state.
func (r *Registry) ResetModules() {
	r.isolatedReal = nil
	r.isolatedMock = nil
	r.real = make(map[resolver.ModuleKey]*Record)
	r.mock = make(map[resolver.ModuleID]*Record)

	if r.env != nil {
		if mocker := r.env.ModuleMocker(); mocker != nil {
			mocker.ResetAllMocks()
		}
		if timers := r.env.FakeTimers(); timers != nil {
			timers.ClearAllTimers()
		}
	}

	if r.metrics != nil {
		r.metrics.RegistryResetTotal.Inc()
	}
	r.emit(qevents.ModulesReset, "", "", nil)
}

// IsolateModules implements isolate_modules: fails fast if an isolation
// scope is already open (no nesting), otherwise opens fresh
// isolated_real/isolated_mock maps, runs fn synchronously, and
// unconditionally discards both isolated maps on return — including on
// panic, since the deferred teardown always runs during unwinding.
func (r *Registry) IsolateModules(fn func() error) (err error) {
	if r.isolatedReal != nil || r.isolatedMock != nil {
		return qerrors.NewNestedIsolationError()
	}

	r.isolatedReal = make(map[resolver.ModuleKey]*Record)
	r.isolatedMock = make(map[resolver.ModuleID]*Record)
	r.emit(qevents.IsolationEntered, "", "", nil)

	outcome := "ok"
	defer func() {
		r.isolatedReal = nil
		r.isolatedMock = nil
		if p := recover(); p != nil {
			outcome = "panic"
			r.emit(qevents.IsolationExited, "", "", map[string]interface{}{"outcome": outcome})
			if r.metrics != nil {
				r.metrics.IsolationTotal.WithLabelValues(outcome).Inc()
			}
			panic(p)
		}
		if err != nil {
			outcome = "error"
		}
		r.emit(qevents.IsolationExited, "", "", map[string]interface{}{"outcome": outcome})
		if r.metrics != nil {
			r.metrics.IsolationTotal.WithLabelValues(outcome).Inc()
		}
	}()

	err = fn()
	return err
}

// AutomockFrame is the saved (real, mock) map pair BeginAutomockFrame
// swaps out, to be handed back unchanged to EndAutomockFrame.
type AutomockFrame struct {
	real map[resolver.ModuleKey]*Record
	mock map[resolver.ModuleID]*Record
}

// BeginAutomockFrame implements the Automock Generator Adapter's
// save-and-replace step: the live `real` and `mock` registries (not the
// isolated_* pair — automock generation uses
// its own throwaway frame, independent of any open isolateModules scope)
// are swapped out for fresh empty maps and returned for later restoration.
func (r *Registry) BeginAutomockFrame() AutomockFrame {
	saved := AutomockFrame{real: r.real, mock: r.mock}
	r.real = make(map[resolver.ModuleKey]*Record)
	r.mock = make(map[resolver.ModuleID]*Record)
	return saved
}

// EndAutomockFrame restores the registries BeginAutomockFrame saved,
// unconditionally discarding whatever was loaded into the throwaway maps.
func (r *Registry) EndAutomockFrame(saved AutomockFrame) {
	r.real = saved.real
	r.mock = saved.mock
}

// ClearAllMocks, ResetAllMocks, and RestoreAllMocks delegate to the live
// environment's mock facility; they are no-ops without a live
// environment.
func (r *Registry) ClearAllMocks() {
	if r.env == nil {
		return
	}
	if mocker := r.env.ModuleMocker(); mocker != nil {
		mocker.ClearAllMocks()
	}
}

func (r *Registry) ResetAllMocks() {
	if r.env == nil {
		return
	}
	if mocker := r.env.ModuleMocker(); mocker != nil {
		mocker.ResetAllMocks()
	}
}

func (r *Registry) RestoreAllMocks() {
	if r.env == nil {
		return
	}
	if mocker := r.env.ModuleMocker(); mocker != nil {
		mocker.RestoreAllMocks()
	}
}

func (r *Registry) emit(t qevents.EventType, from, request string, payload map[string]interface{}) {
	if r.events == nil {
		return
	}
	r.events.Emit(qevents.Event{Type: t, Timestamp: time.Now(), From: from, Request: request, Payload: payload})
}
