package flow

import (
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/c360/weave/errors"
	"github.com/c360/weave/metric"
)

// ConnectionID identifies one edge of a source.
type ConnectionID = uuid.UUID

// Connection is a directed edge from a source to one sink. A disconnected
// edge keeps no sink, so emits already iterating a snapshot skip it.
type Connection[P any] struct {
	id   ConnectionID
	tag  ID
	sink atomic.Pointer[Sink[P]]
}

// ID returns the connection handle.
func (c *Connection[P]) ID() ConnectionID { return c.id }

// Tag returns the edge filter, AnyID when the edge carries none.
func (c *Connection[P]) Tag() ID { return c.tag }

// Sink returns the target sink, nil once disconnected.
func (c *Connection[P]) Sink() *Sink[P] {
	if c == nil {
		return nil
	}
	return c.sink.Load()
}

// ConnectOption configures a connection.
type ConnectOption func(*connectOptions)

type connectOptions struct {
	tag ID
}

// WithConnectionTag restricts the edge to payloads tagged id or AnyID.
func WithConnectionTag(id ID) ConnectOption {
	return func(o *connectOptions) {
		o.tag = id
	}
}

// SourceStats is a snapshot of a source's counters.
type SourceStats struct {
	Sent      uint64 `json:"sent"`
	Delivered uint64 `json:"delivered"`
	Queued    uint64 `json:"queued"`
}

// Source fans payloads out to its connected sinks in connection order.
type Source[P any] struct {
	name string
	tag  ID
	ops  Ops[P]

	mu    sync.RWMutex
	conns []*Connection[P]

	logger  *slog.Logger
	metrics *metric.Metrics

	sent      atomic.Uint64
	delivered atomic.Uint64
	queued    atomic.Uint64
}

// NewSource creates a source. Without ops a source may reach at most one sink
// per emit.
func NewSource[P any](name string, opts ...SourceOption) *Source[P] {
	o := sourceOptions{
		commonOptions: commonOptions{logger: slog.Default()},
		tag:           AnyID,
	}
	for _, opt := range opts {
		if opt != nil {
			opt.applySource(&o)
		}
	}

	return &Source[P]{
		name:    name,
		tag:     o.tag,
		ops:     resolveOps[P](o.ops, "source", name),
		logger:  o.logger.With("source", name),
		metrics: o.metrics,
	}
}

// Name returns the source name.
func (s *Source[P]) Name() string {
	if s == nil {
		return ""
	}
	return s.name
}

// Logger returns the source's logger, already carrying its name.
func (s *Source[P]) Logger() *slog.Logger {
	if s == nil {
		return slog.Default()
	}
	return s.logger
}

// Tag returns the route tag stamped on emitted payloads.
func (s *Source[P]) Tag() ID { return s.tag }

// Connect appends an edge to sink. Duplicate edges are not detected.
func (s *Source[P]) Connect(sink *Sink[P], opts ...ConnectOption) (ConnectionID, error) {
	if s == nil || sink == nil {
		return uuid.Nil, errors.ErrInvalidArgument
	}

	o := connectOptions{tag: AnyID}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	c := &Connection[P]{id: uuid.New(), tag: o.tag}
	c.sink.Store(sink)

	s.mu.Lock()
	s.conns = append(s.conns, c)
	s.mu.Unlock()

	s.logger.Debug("Connected sink", "sink", sink.Name(), "connection", c.id)
	return c.id, nil
}

// Disconnect removes the edge with the given handle.
// It returns errors.ErrNotFound for an unknown handle.
func (s *Source[P]) Disconnect(id ConnectionID) error {
	if s == nil {
		return errors.ErrInvalidArgument
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, c := range s.conns {
		if c.id == id {
			c.sink.Store(nil)
			s.conns = slices.Delete(s.conns, i, i+1)
			return nil
		}
	}
	return errors.ErrNotFound
}

// Connections returns a snapshot of the current edges in delivery order.
func (s *Source[P]) Connections() []*Connection[P] {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.conns)
}

// Emit delivers payload to every matching sink and returns how many were
// reached. Sinks that filter, reject or overflow are left out of the count
// without failing the emit. The caller keeps its own reference.
//
// timeout bounds the total time spent waiting for queue space across all sinks.
func (s *Source[P]) Emit(payload P, timeout time.Duration) (int, error) {
	return s.emit(payload, timeout, false)
}

// EmitConsume is Emit followed by releasing the caller's reference, whatever
// the outcome.
func (s *Source[P]) EmitConsume(payload P, timeout time.Duration) (int, error) {
	return s.emit(payload, timeout, true)
}

func (s *Source[P]) emit(payload P, timeout time.Duration, consume bool) (int, error) {
	if s == nil || isNil(payload) {
		return 0, errors.ErrInvalidArgument
	}

	ops := s.ops
	if consume && ops != nil {
		defer ops.Unref(payload)
	}

	stampTag(payload, s.tag)
	tag := tagOf(payload)

	s.mu.RLock()
	conns := slices.Clone(s.conns)
	s.mu.RUnlock()

	if n := s.reachable(conns, tag); ops == nil && n > 1 {
		s.logger.Warn("Fan-out without payload ops", "sinks", n)
		return 0, errors.WrapInvalid(errors.ErrInvalidArgument, "Source", "Emit", "fan out without payload ops")
	}

	dl := newDeadline(timeout)
	delivered, queued := 0, 0

	for _, c := range conns {
		sink := c.Sink()
		if !sink.accepts(tag) || !Matches(c.tag, tag) {
			continue
		}
		if ops != nil && !ops.Ref(payload, sink) {
			continue
		}
		if err := sink.dispatch(payload, ops, dl.remaining()); err != nil {
			s.logger.Debug("Delivery failed", "sink", sink.Name(), "error", err)
			continue
		}
		delivered++
		if sink.mode == Queued {
			queued++
		}
	}

	s.sent.Add(1)
	s.delivered.Add(uint64(delivered))
	s.queued.Add(uint64(queued))
	s.metrics.RecordEmit(s.name, delivered)

	return delivered, nil
}

func (s *Source[P]) reachable(conns []*Connection[P], tag ID) int {
	n := 0
	for _, c := range conns {
		if sink := c.Sink(); sink.accepts(tag) && Matches(c.tag, tag) {
			n++
		}
	}
	return n
}

// Stats returns a snapshot of the source counters. A nil source reports zeros.
func (s *Source[P]) Stats() SourceStats {
	if s == nil {
		return SourceStats{}
	}
	return SourceStats{
		Sent:      s.sent.Load(),
		Delivered: s.delivered.Load(),
		Queued:    s.queued.Load(),
	}
}

// ResetStats zeroes the source counters. It is a no-op on a nil source.
func (s *Source[P]) ResetStats() {
	if s == nil {
		return
	}
	s.sent.Store(0)
	s.delivered.Store(0)
	s.queued.Store(0)
}
