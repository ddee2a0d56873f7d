package events

import "github.com/quartz-run/quartz/pkg/quartz/v1/events"

// NoOpEventBus discards every event it receives. Used as the fallback when
// no event sink is configured for the runtime.
type NoOpEventBus struct{}

func NewNoOpEventBus() events.Bus {
	return &NoOpEventBus{}
}

func (n *NoOpEventBus) Emit(event events.Event) {}

var _ events.Bus = (*NoOpEventBus)(nil)
