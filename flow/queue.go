package flow

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/c360/weave/errors"
	"github.com/c360/weave/metric"
	"github.com/c360/weave/pkg/buffer"
)

// dispatcher is a sink with its payload type erased.
type dispatcher interface {
	sinkName() string
	invocable() bool
	run(payload any) bool
}

// Event is one deferred delivery: a payload bound for a sink, plus the
// release of the reference the queue holds on its behalf.
type Event struct {
	sink    dispatcher
	payload any
	release func()
}

func (e Event) free() {
	if e.release != nil {
		e.release()
	}
}

// QueueStats is a snapshot of a queue's counters.
type QueueStats struct {
	Enqueued  uint64 `json:"enqueued"`
	Full      uint64 `json:"full"`
	Processed uint64 `json:"processed"`
	Rejected  uint64 `json:"rejected"`
	Depth     int    `json:"depth"`
	MaxDepth  int64  `json:"max_depth"`
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithQueueLogger sets the logger for rejected events.
func WithQueueLogger(logger *slog.Logger) QueueOption {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// WithQueueMetrics records queue activity in the registry's core metrics.
func WithQueueMetrics(registry *metric.MetricsRegistry) QueueOption {
	return func(q *Queue) {
		q.metrics = registry.CoreMetrics()
	}
}

// Queue is a bounded FIFO of pending deliveries. Any number of goroutines may
// enqueue into it and any number may process it.
type Queue struct {
	name    string
	events  *buffer.Bounded[Event]
	logger  *slog.Logger
	metrics *metric.Metrics

	enqueued  atomic.Uint64
	full      atomic.Uint64
	processed atomic.Uint64
	rejected  atomic.Uint64
}

// NewQueue creates a queue holding at most capacity events.
func NewQueue(name string, capacity int, opts ...QueueOption) *Queue {
	q := &Queue{
		name:   name,
		events: buffer.New[Event](capacity),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(q)
		}
	}
	q.logger = q.logger.With("queue", name)
	return q
}

// Name returns the queue name.
func (q *Queue) Name() string {
	if q == nil {
		return ""
	}
	return q.name
}

// Len returns the number of events waiting.
func (q *Queue) Len() int {
	if q == nil {
		return 0
	}
	return q.events.Len()
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	if q == nil {
		return 0
	}
	return q.events.Cap()
}

func (q *Queue) put(ev Event, timeout time.Duration) error {
	if q == nil || q.events == nil {
		return errors.ErrInvalidArgument
	}
	if err := q.events.Put(ev, timeout); err != nil {
		q.full.Add(1)
		q.metrics.RecordQueueEvent(q.name, "full", q.events.Len())
		return errors.Wrap(err, "Queue", "put", "enqueue event")
	}
	q.enqueued.Add(1)
	q.metrics.RecordQueueEvent(q.name, "enqueued", q.events.Len())
	return nil
}

// Process handles one event, waiting up to timeout for it to arrive.
//
// It returns errors.ErrWouldBlock when no event arrived and
// errors.ErrInvalidArgument for a nil queue or a malformed event. A malformed
// event is never dispatched; its reference is still released unless the
// payload was already freed.
func (q *Queue) Process(timeout time.Duration) error {
	if q == nil || q.events == nil {
		return errors.ErrInvalidArgument
	}

	ev, err := q.events.Take(timeout)
	if err != nil {
		return err
	}

	if reason, release := ev.malformed(); reason != "" {
		q.rejected.Add(1)
		q.metrics.RecordQueueEvent(q.name, "rejected", q.events.Len())
		q.logger.Warn("Rejected malformed event", "reason", reason)
		if release {
			ev.free()
		}
		return errors.WrapInvalid(errors.ErrInvalidArgument, "Queue", "Process", reason)
	}

	if !ev.sink.run(ev.payload) {
		q.rejected.Add(1)
		q.metrics.RecordQueueEvent(q.name, "rejected", q.events.Len())
		ev.free()
		return errors.WrapInvalid(errors.ErrInvalidArgument, "Queue", "Process", "payload type mismatch")
	}
	ev.free()

	q.processed.Add(1)
	q.metrics.RecordQueueEvent(q.name, "processed", q.events.Len())
	return nil
}

// malformed names what is wrong with an event, and whether its reference may
// still be released. A freed payload must not be released twice.
func (e Event) malformed() (string, bool) {
	switch {
	case e.sink == nil || isNil(e.sink):
		return "event has no sink", true
	case !e.sink.invocable():
		return "sink has no handler", true
	case isNil(e.payload):
		return "event has no payload", true
	case freed(e.payload):
		return "payload already freed", false
	default:
		return "", false
	}
}

// ProcessAll drains the queue without waiting and returns the number of
// events handled. Malformed events are skipped and not counted.
func (q *Queue) ProcessAll() int {
	if q == nil || q.events == nil {
		return 0
	}
	n := 0
	for {
		err := q.Process(NoWait)
		if err == nil {
			n++
			continue
		}
		if errors.Is(err, errors.ErrWouldBlock) {
			return n
		}
	}
}

// Stats returns a snapshot of the queue counters. A nil queue reports zeros.
func (q *Queue) Stats() QueueStats {
	if q == nil {
		return QueueStats{}
	}
	return QueueStats{
		Enqueued:  q.enqueued.Load(),
		Full:      q.full.Load(),
		Processed: q.processed.Load(),
		Rejected:  q.rejected.Load(),
		Depth:     q.events.Len(),
		MaxDepth:  q.events.Stats().MaxSize(),
	}
}

// ResetStats zeroes the queue counters. It is a no-op on a nil queue.
func (q *Queue) ResetStats() {
	if q == nil {
		return
	}
	q.enqueued.Store(0)
	q.full.Store(0)
	q.processed.Store(0)
	q.rejected.Store(0)
	q.events.Stats().Reset()
}
