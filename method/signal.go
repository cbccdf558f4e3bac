package method

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/c360/weave/errors"
	"github.com/c360/weave/flow"
)

// SignalHandler receives one event. The event is shared between handlers and
// must not be modified.
type SignalHandler func(event []byte)

// Signal is a fire-and-forget notification with a fixed event size.
// Handlers run immediately or on a queue, like any sink.
type Signal struct {
	name      string
	eventSize int
	source    *flow.Source[[]byte]
	handlers  atomic.Uint32
}

// sharedEvent lets one event copy reach several handlers.
var sharedEvent = flow.OpsFuncs[[]byte]{}

// NewSignal creates a signal whose events are exactly eventSize bytes.
func NewSignal(name string, eventSize int, opts ...flow.SourceOption) *Signal {
	return &Signal{
		name:      name,
		eventSize: eventSize,
		source:    flow.NewSource[[]byte](name, append([]flow.SourceOption{flow.WithOps[[]byte](sharedEvent)}, opts...)...),
	}
}

// Name returns the signal name.
func (s *Signal) Name() string { return s.name }

// EventSize returns the event size in bytes.
func (s *Signal) EventSize() int { return s.eventSize }

// Connect adds a handler. Pass flow.WithQueue to run it on a worker.
func (s *Signal) Connect(handler SignalHandler, opts ...flow.SinkOption) (flow.ConnectionID, error) {
	if handler == nil {
		return flow.ConnectionID{}, errors.ErrInvalidArgument
	}
	n := s.handlers.Add(1)
	sink := flow.NewSink(fmt.Sprintf("%s.handler.%d", s.name, n),
		func(_ *flow.Sink[[]byte], event []byte) { handler(event) }, opts...)
	return s.source.Connect(sink)
}

// Disconnect removes a handler.
func (s *Signal) Disconnect(id flow.ConnectionID) error {
	return s.source.Disconnect(id)
}

// Emit copies event once and delivers it to every handler. It returns the
// number of handlers that ran or were queued.
func (s *Signal) Emit(event []byte, timeout time.Duration) (int, error) {
	if s == nil {
		return 0, errors.ErrInvalidArgument
	}
	if len(event) != s.eventSize {
		return 0, errors.WrapInvalid(errors.ErrInvalidArgument, "Signal", "Emit",
			fmt.Sprintf("check event size %d, want %d", len(event), s.eventSize))
	}
	return s.source.Emit(append(make([]byte, 0, len(event)), event...), timeout)
}

// Stats returns the underlying source counters.
func (s *Signal) Stats() flow.SourceStats {
	return s.source.Stats()
}
