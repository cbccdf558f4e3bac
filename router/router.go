package router

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/weave/errors"
	"github.com/c360/weave/flow"
	"github.com/c360/weave/metric"
	"github.com/c360/weave/packet"
)

// Stats is a snapshot of router counters. Inbound counts frames accepted by
// their route's sink; frames the sink refused count as DeliveryErrors.
type Stats struct {
	Inbound          uint64 `json:"inbound"`
	Outbound         uint64 `json:"outbound"`
	UnknownPacketIDs uint64 `json:"unknown_packet_ids"`
	ParseErrors      uint64 `json:"parse_errors"`
	BufferErrors     uint64 `json:"buffer_errors"`
	DeliveryErrors   uint64 `json:"delivery_errors"`
}

// InboundRoute sends frames carrying ID to Sink with the header stripped.
type InboundRoute struct {
	ID   flow.ID
	Sink *packet.Sink
}

// OutboundRoute frames everything Source emits with ID.
type OutboundRoute struct {
	ID     flow.ID
	Source *packet.Source

	handler *packet.Sink
	conn    flow.ConnectionID
}

// RouteTable is the registration list applied by Init.
type RouteTable struct {
	Inbound  []InboundRoute
	Outbound []OutboundRoute
}

type options struct {
	logger       *slog.Logger
	registry     *metric.MetricsRegistry
	inboundQueue *flow.Queue
	sendTimeout  time.Duration
}

// Option configures a Router.
type Option func(*options)

// WithLogger sets the router logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics records router, network and route sink activity in registry.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(o *options) {
		o.registry = registry
	}
}

// WithInboundQueue defers inbound parsing onto q instead of running it in the
// transport's goroutine.
func WithInboundQueue(q *flow.Queue) Option {
	return func(o *options) {
		o.inboundQueue = q
	}
}

// WithSendTimeout bounds how long a framed packet may wait for space in the
// network sinks' queues. The default is flow.NoWait.
func WithSendTimeout(d time.Duration) Option {
	return func(o *options) {
		o.sendTimeout = d
	}
}

// Router frames application packets for the network and dispatches network
// frames to application sinks by packet ID.
//
// Connect a transport's source to NetworkSink and NetworkSource to the
// transport's sink.
type Router struct {
	name        string
	headerPool  *packet.Pool
	sendTimeout time.Duration

	networkSink   *packet.Sink
	networkSource *packet.Source

	mu       sync.RWMutex
	inbound  []InboundRoute
	outbound []*OutboundRoute

	logger   *slog.Logger
	registry *metric.MetricsRegistry
	metrics  *metric.Metrics

	inboundCount   atomic.Uint64
	outboundCount  atomic.Uint64
	unknownIDs     atomic.Uint64
	parseErrors    atomic.Uint64
	bufferErrors   atomic.Uint64
	deliveryErrors atomic.Uint64
}

// New creates a router that takes header buffers from headerPool.
func New(name string, headerPool *packet.Pool, opts ...Option) (*Router, error) {
	if headerPool == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidArgument, "Router", "New", "check header pool")
	}
	if headerPool.BufferSize() < HeaderSize {
		return nil, errors.WrapInvalid(errors.ErrInvalidArgument, "Router", "New",
			fmt.Sprintf("check header buffer size %d", headerPool.BufferSize()))
	}

	o := options{logger: slog.Default(), sendTimeout: flow.NoWait}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	r := &Router{
		name:        name,
		headerPool:  headerPool,
		sendTimeout: o.sendTimeout,
		logger:      o.logger.With("router", name),
		registry:    o.registry,
		metrics:     o.registry.CoreMetrics(),
	}

	sinkOpts := []flow.SinkOption{flow.WithLogger(r.logger), flow.WithMetrics(o.registry)}
	if o.inboundQueue != nil {
		sinkOpts = append(sinkOpts, flow.WithQueue(o.inboundQueue))
	}
	r.networkSink = packet.NewSink(name+".network.in", r.handleInbound, sinkOpts...)
	r.networkSource = packet.NewSource(name+".network.out",
		flow.WithLogger(r.logger), flow.WithMetrics(o.registry))

	return r, nil
}

// Name returns the router name.
func (r *Router) Name() string { return r.name }

// NetworkSink receives raw frames from the network.
func (r *Router) NetworkSink() *packet.Sink { return r.networkSink }

// NetworkSource emits framed packets towards the network.
func (r *Router) NetworkSource() *packet.Source { return r.networkSource }

// Init registers every route in table. It stops at the first failure.
func (r *Router) Init(table RouteTable) error {
	for _, in := range table.Inbound {
		if err := r.AddInboundRoute(in.ID, in.Sink); err != nil {
			return errors.Wrap(err, "Router", "Init", fmt.Sprintf("register inbound 0x%02x", in.ID))
		}
	}
	for _, out := range table.Outbound {
		if err := r.AddOutboundRoute(out.ID, out.Source); err != nil {
			return errors.Wrap(err, "Router", "Init", fmt.Sprintf("register outbound 0x%02x", out.ID))
		}
	}

	r.mu.RLock()
	nIn, nOut := len(r.inbound), len(r.outbound)
	r.mu.RUnlock()
	r.logger.Info("Router ready", "inbound_routes", nIn, "outbound_routes", nOut)
	return nil
}

// AddInboundRoute delivers frames carrying id to sink.
func (r *Router) AddInboundRoute(id flow.ID, sink *packet.Sink) error {
	if sink == nil || id == InvalidID || id == flow.AnyID {
		return errors.WrapInvalid(errors.ErrInvalidArgument, "Router", "AddInboundRoute", "check route")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, in := range r.inbound {
		if in.ID == id {
			return errors.WrapInvalid(errors.ErrInvalidArgument, "Router", "AddInboundRoute",
				fmt.Sprintf("register duplicate packet id 0x%02x", id))
		}
	}
	r.inbound = append(r.inbound, InboundRoute{ID: id, Sink: sink})

	r.logger.Debug("Added inbound route", "packet_id", id, "sink", sink.Name())
	return nil
}

// AddOutboundRoute frames every packet src emits with id. The source is
// connected to a per-route handler sink that runs in the emitting goroutine.
func (r *Router) AddOutboundRoute(id flow.ID, src *packet.Source) error {
	if src == nil || id == InvalidID || id == flow.AnyID {
		return errors.WrapInvalid(errors.ErrInvalidArgument, "Router", "AddOutboundRoute", "check route")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, out := range r.outbound {
		if out.Source == src {
			return errors.WrapInvalid(errors.ErrInvalidArgument, "Router", "AddOutboundRoute",
				fmt.Sprintf("register source %q twice", src.Name()))
		}
	}

	route := &OutboundRoute{ID: id, Source: src}
	route.handler = packet.NewSink(fmt.Sprintf("%s.route.0x%02x", r.name, id), r.handleOutbound,
		flow.WithUserData(route), flow.WithLogger(r.logger), flow.WithMetrics(r.registry))

	conn, err := src.Connect(route.handler)
	if err != nil {
		return errors.Wrap(err, "Router", "AddOutboundRoute", "connect route handler")
	}
	route.conn = conn
	r.outbound = append(r.outbound, route)

	r.logger.Debug("Added outbound route", "packet_id", id, "source", src.Name())
	return nil
}

// RemoveOutboundRoute disconnects src from the router.
func (r *Router) RemoveOutboundRoute(src *packet.Source) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, out := range r.outbound {
		if out.Source != src {
			continue
		}
		r.outbound = append(r.outbound[:i], r.outbound[i+1:]...)
		return src.Disconnect(out.conn)
	}
	return errors.WrapInvalid(errors.ErrNotFound, "Router", "RemoveOutboundRoute", "find route")
}

// FindInboundRoute returns the sink registered for id.
func (r *Router) FindInboundRoute(id flow.ID) (*packet.Sink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, in := range r.inbound {
		if in.ID == id {
			return in.Sink, true
		}
	}
	return nil, false
}

// FindOutboundRoute returns the packet ID src is framed with.
func (r *Router) FindOutboundRoute(src *packet.Source) (flow.ID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, out := range r.outbound {
		if out.Source == src {
			return out.ID, true
		}
	}
	return InvalidID, false
}

func (r *Router) handleInbound(_ *packet.Sink, frame *packet.Buffer) {
	// The header and the payload view must sit in the first fragment.
	if frame.Len() < HeaderSize && frame.Next() != nil {
		frame = frame.Compact()
		defer frame.Unref()
	}

	h, err := DecodeHeader(frame.Bytes())
	if err == nil {
		err = h.Validate(frame.TotalLen())
	}
	if err != nil {
		r.parseErrors.Add(1)
		r.metrics.RecordRouterError(r.name, "parse")
		r.logger.Warn("Invalid frame dropped", "length", frame.TotalLen(), "error", err)
		return
	}

	sink, ok := r.FindInboundRoute(h.PacketID)
	if !ok {
		r.unknownIDs.Add(1)
		r.metrics.RecordRouterError(r.name, "unknown_id")
		r.logger.Warn("Unknown packet ID", "packet_id", h.PacketID)
		return
	}

	payload, err := frame.View(HeaderSize)
	if err != nil {
		r.bufferErrors.Add(1)
		r.metrics.RecordRouterError(r.name, "buffer")
		r.logger.Error("Failed to strip header", "packet_id", h.PacketID, "error", err)
		return
	}
	payload.SetRouteTag(h.PacketID)

	err = sink.Deliver(payload, flow.NoWait)
	payload.Unref()
	if err != nil {
		r.deliveryErrors.Add(1)
		r.metrics.RecordRouterError(r.name, "delivery")
		r.logger.Warn("Delivery failed", "packet_id", h.PacketID, "sink", sink.Name(), "error", err)
		return
	}
	r.inboundCount.Add(1)
	r.metrics.RecordRouterPacket(r.name, "inbound")
}

// handleOutbound borrows payload; the emitting source releases it.
func (r *Router) handleOutbound(sink *packet.Sink, payload *packet.Buffer) {
	route, ok := sink.UserData().(*OutboundRoute)
	if !ok {
		return
	}

	h, err := NewHeader(route.ID, payload.TotalLen())
	if err != nil {
		r.bufferErrors.Add(1)
		r.metrics.RecordRouterError(r.name, "buffer")
		r.logger.Error("Failed to add header", "packet_id", route.ID, "error", err)
		return
	}

	frame := r.headerPool.AllocWithID(route.ID, flow.NoWait)
	if frame == nil {
		r.bufferErrors.Add(1)
		r.metrics.RecordRouterError(r.name, "buffer")
		r.logger.Error("Failed to add header", "packet_id", route.ID, "error", errors.ErrNoMemory)
		return
	}
	if err := frame.Append(h.Bytes()); err != nil {
		frame.Unref()
		r.bufferErrors.Add(1)
		r.metrics.RecordRouterError(r.name, "buffer")
		r.logger.Error("Failed to add header", "packet_id", route.ID, "error", err)
		return
	}
	if meta, ok := payload.Metadata(); ok {
		frame.SetClientID(meta.ClientID)
	}
	frame.Chain(payload.Ref())

	if _, err := packet.Send(r.networkSource, frame, r.sendTimeout); err != nil {
		r.logger.Warn("Network send failed", "packet_id", route.ID, "error", err)
	}
	r.outboundCount.Add(1)
	r.metrics.RecordRouterPacket(r.name, "outbound")
}

// Stats returns a snapshot of the router counters. A nil router reports zeros.
func (r *Router) Stats() Stats {
	if r == nil {
		return Stats{}
	}
	return Stats{
		Inbound:          r.inboundCount.Load(),
		Outbound:         r.outboundCount.Load(),
		UnknownPacketIDs: r.unknownIDs.Load(),
		ParseErrors:      r.parseErrors.Load(),
		BufferErrors:     r.bufferErrors.Load(),
		DeliveryErrors:   r.deliveryErrors.Load(),
	}
}

// ResetStats zeroes the router counters. It is a no-op on a nil router.
func (r *Router) ResetStats() {
	if r == nil {
		return
	}
	r.inboundCount.Store(0)
	r.outboundCount.Store(0)
	r.unknownIDs.Store(0)
	r.parseErrors.Store(0)
	r.bufferErrors.Store(0)
	r.deliveryErrors.Store(0)
}
