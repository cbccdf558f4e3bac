package flow

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/c360/weave/errors"
	"github.com/c360/weave/metric"
)

// Mode selects how a sink runs its handler.
type Mode uint8

const (
	// Immediate runs the handler in the emitting goroutine.
	Immediate Mode = iota
	// Queued defers the handler onto the sink's event queue.
	Queued
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case Immediate:
		return "immediate"
	case Queued:
		return "queued"
	default:
		return "invalid"
	}
}

// Handler consumes one payload. The handler borrows the payload: the
// reference it was delivered with is released after it returns.
type Handler[P any] func(sink *Sink[P], payload P)

// SinkStats is a snapshot of a sink's counters.
type SinkStats struct {
	Handled uint64 `json:"handled"`
	Dropped uint64 `json:"dropped"`
}

// Sink is a consumption point in the delivery graph.
type Sink[P any] struct {
	name     string
	mode     Mode
	queue    *Queue
	handler  Handler[P]
	filter   ID
	ops      Ops[P]
	userData any

	logger  *slog.Logger
	metrics *metric.Metrics

	handled atomic.Uint64
	dropped atomic.Uint64
}

// NewSink creates a sink. Without WithQueue the sink runs in Immediate mode.
func NewSink[P any](name string, handler Handler[P], opts ...SinkOption) *Sink[P] {
	o := sinkOptions{
		commonOptions: commonOptions{logger: slog.Default()},
		mode:          Immediate,
		filter:        AnyID,
	}
	for _, opt := range opts {
		if opt != nil {
			opt.applySink(&o)
		}
	}

	return &Sink[P]{
		name:     name,
		mode:     o.mode,
		queue:    o.queue,
		handler:  handler,
		filter:   o.filter,
		ops:      resolveOps[P](o.ops, "sink", name),
		userData: o.userData,
		logger:   o.logger.With("sink", name),
		metrics:  o.metrics,
	}
}

// Name returns the sink name.
func (s *Sink[P]) Name() string {
	if s == nil {
		return ""
	}
	return s.name
}

// Mode returns the dispatch mode.
func (s *Sink[P]) Mode() Mode { return s.mode }

// Filter returns the route filter.
func (s *Sink[P]) Filter() ID { return s.filter }

// Queue returns the backing queue, nil for immediate sinks.
func (s *Sink[P]) Queue() *Queue { return s.queue }

// UserData returns the value set with WithUserData.
func (s *Sink[P]) UserData() any { return s.userData }

// Deliver hands payload to this sink alone, using the sink's ops.
// The caller keeps its own reference.
func (s *Sink[P]) Deliver(payload P, timeout time.Duration) error {
	if s == nil || isNil(payload) {
		return errors.ErrInvalidArgument
	}
	return s.deliver(payload, timeout)
}

// DeliverConsume is Deliver followed by releasing the caller's reference,
// whatever the outcome.
func (s *Sink[P]) DeliverConsume(payload P, timeout time.Duration) error {
	if s == nil || isNil(payload) {
		return errors.ErrInvalidArgument
	}
	err := s.deliver(payload, timeout)
	if s.ops != nil {
		s.ops.Unref(payload)
	}
	return err
}

func (s *Sink[P]) deliver(payload P, timeout time.Duration) error {
	if s.handler == nil {
		return errors.WrapInvalid(errors.ErrInvalidArgument, "Sink", "Deliver", "locate handler")
	}
	if !Matches(s.filter, tagOf(payload)) {
		return errors.ErrFiltered
	}
	if s.ops != nil && !s.ops.Ref(payload, s) {
		return errors.ErrFiltered
	}
	return s.dispatch(payload, s.ops, timeout)
}

// accepts reports whether this sink could take payload tagged tag at all.
func (s *Sink[P]) accepts(tag ID) bool {
	if s == nil || s.handler == nil {
		return false
	}
	if s.mode != Immediate && s.mode != Queued {
		return false
	}
	return Matches(s.filter, tag)
}

// dispatch runs or enqueues a payload that already holds a reference taken
// through ops. On failure that reference has been released.
func (s *Sink[P]) dispatch(payload P, ops Ops[P], timeout time.Duration) error {
	switch s.mode {
	case Immediate:
		s.invoke(payload)
		if ops != nil {
			ops.Unref(payload)
		}
		return nil

	case Queued:
		var release func()
		if ops != nil {
			release = func() { ops.Unref(payload) }
		}
		if s.queue == nil {
			if release != nil {
				release()
			}
			return errors.ErrNotSupported
		}
		if err := s.queue.put(Event{sink: s, payload: payload, release: release}, timeout); err != nil {
			if release != nil {
				release()
			}
			s.dropped.Add(1)
			s.metrics.RecordSinkDropped(s.name)
			s.logger.Debug("Queue full, payload dropped", "queue", s.queue.Name(), "error", err)
			return err
		}
		return nil

	default:
		if ops != nil {
			ops.Unref(payload)
		}
		return errors.ErrNotSupported
	}
}

func (s *Sink[P]) invoke(payload P) {
	s.handler(s, payload)
	s.handled.Add(1)
	s.metrics.RecordSinkHandled(s.name)
}

// Stats returns a snapshot of the sink counters. A nil sink reports zeros.
func (s *Sink[P]) Stats() SinkStats {
	if s == nil {
		return SinkStats{}
	}
	return SinkStats{
		Handled: s.handled.Load(),
		Dropped: s.dropped.Load(),
	}
}

// ResetStats zeroes the sink counters. It is a no-op on a nil sink.
func (s *Sink[P]) ResetStats() {
	if s == nil {
		return
	}
	s.handled.Store(0)
	s.dropped.Store(0)
}

// dispatcher is the type-erased view of a sink that queues work with.
func (s *Sink[P]) sinkName() string { return s.Name() }

func (s *Sink[P]) invocable() bool {
	return s != nil && s.handler != nil
}

func (s *Sink[P]) run(payload any) bool {
	p, ok := payload.(P)
	if !ok {
		return false
	}
	s.invoke(p)
	return true
}
