package events

import (
	"github.com/quartz-run/quartz/pkg/quartz/v1/events"
	qlog "github.com/quartz-run/quartz/pkg/quartz/v1/log"
)

// ChannelEventBus implements the public events.Bus interface using a
// buffered Go channel, giving in-process listeners a non-blocking view of
// runtime lifecycle events without coupling emission to consumption speed.
type ChannelEventBus struct {
	channel chan events.Event
	log     qlog.Logger
}

// NewChannelEventBus creates a ChannelEventBus with the given buffer size
// (a non-positive size falls back to a default of 100). Panics if log is nil.
func NewChannelEventBus(bufferSize int, log qlog.Logger) *ChannelEventBus {
	const defaultBufferSize = 100
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	if log == nil {
		panic("ChannelEventBus requires a non-nil logger")
	}

	bus := &ChannelEventBus{
		channel: make(chan events.Event, bufferSize),
		log:     log.With("component", "ChannelEventBus"),
	}
	bus.log.Debugf("ChannelEventBus initialized with buffer size %d", bufferSize)
	return bus
}

// Emit performs a non-blocking send; if the buffer is full the event is
// dropped and a warning is logged rather than stalling the caller.
func (c *ChannelEventBus) Emit(event events.Event) {
	select {
	case c.channel <- event:
		c.log.Debugf("Emitted event type '%s'", event.Type)
	default:
		c.log.Warnf("Event channel buffer full, dropping event type '%s'", event.Type)
	}
}

// GetChannel returns the underlying event channel for in-process consumers.
func (c *ChannelEventBus) GetChannel() <-chan events.Event {
	return c.channel
}

// Close closes the underlying channel, signalling consumers no more events
// will arrive.
func (c *ChannelEventBus) Close() {
	c.log.Debugf("Closing ChannelEventBus channel.")
	close(c.channel)
}

var _ events.Bus = (*ChannelEventBus)(nil)
