package policy

import "github.com/quartz-run/quartz/pkg/quartz/v1/resolver"

// Intent narrows how resolve_kind is allowed to answer a single require
// call, independent of the caller-wide mock configuration.
type Intent int

const (
	// Normal consults the full resolution policy: explicit flags,
	// automock, manual-mock presence, and transitive-unmock rules.
	Normal Intent = iota
	// InternalOnly forces a real-module resolution against the internal
	// registry, bypassing the mock decision entirely. Used for
	// framework-owned loads (e.g. setup files) that must never be mocked.
	InternalOnly
	// ForceReal forces a real-module resolution, bypassing the mock
	// decision, but still resolves against the caller's live registries
	// (requireActual's intent).
	ForceReal
	// MockOnly skips straight to the mocking branch of resolve_kind,
	// never returning UseReal.
	MockOnly
)

// Kind tags which resolution outcome ResolveKind produced.
type Kind int

const (
	KindUseReal Kind = iota
	KindUseManualMock
	KindUseAutoMock
	KindUseCore
)

// String renders a Kind as the label value the runtime's require metrics
// are broken down by.
func (k Kind) String() string {
	switch k {
	case KindUseReal:
		return "real"
	case KindUseManualMock:
		return "manual_mock"
	case KindUseAutoMock:
		return "auto_mock"
	case KindUseCore:
		return "core"
	default:
		return "unknown"
	}
}

// Outcome is the tagged result of ResolveKind. Only the fields relevant
// to Kind are populated; the others are zero.
type Outcome struct {
	Kind Kind
	// Path holds the resolved absolute module path for UseReal and
	// UseManualMock outcomes.
	Path resolver.ModuleKey
	// ID holds the module's opaque identifier for UseAutoMock, and is
	// also populated (for convenience) on UseReal/UseManualMock.
	ID resolver.ModuleID
	// Name holds the requested core-module name for UseCore.
	Name string
}
