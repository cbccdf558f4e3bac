package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/weave/errors"
)

// Metrics contains the delivery-core metrics shared by every component.
// All Record methods are no-ops on a nil receiver, so components can hold a
// nil *Metrics when metrics are disabled.
type Metrics struct {
	// Source and sink
	SourceEmits      *prometheus.CounterVec
	SourceDeliveries *prometheus.CounterVec
	SinkHandled      *prometheus.CounterVec
	SinkDropped      *prometheus.CounterVec

	// Queue
	QueueDepth  *prometheus.GaugeVec
	QueueEvents *prometheus.CounterVec

	// Router
	RouterPackets *prometheus.CounterVec
	RouterErrors  *prometheus.CounterVec

	// Method and observable
	MethodCalls    *prometheus.CounterVec
	MethodDuration *prometheus.HistogramVec
	ObservableSets *prometheus.CounterVec

	// Transport
	TransportMessages  *prometheus.CounterVec
	TransportConnected *prometheus.GaugeVec
}

// NewMetrics creates a new Metrics instance with all core vectors
func NewMetrics() *Metrics {
	return &Metrics{
		SourceEmits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "weave",
				Subsystem: "source",
				Name:      "emits_total",
				Help:      "Total number of emit calls on a source",
			},
			[]string{"source"},
		),

		SourceDeliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "weave",
				Subsystem: "source",
				Name:      "deliveries_total",
				Help:      "Total number of sinks reached by emits",
			},
			[]string{"source"},
		),

		SinkHandled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "weave",
				Subsystem: "sink",
				Name:      "handled_total",
				Help:      "Total number of payloads handled or queued by a sink",
			},
			[]string{"sink"},
		),

		SinkDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "weave",
				Subsystem: "sink",
				Name:      "dropped_total",
				Help:      "Total number of payloads a sink filtered or could not queue",
			},
			[]string{"sink"},
		),

		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "weave",
				Subsystem: "queue",
				Name:      "depth",
				Help:      "Number of events waiting in a queue",
			},
			[]string{"queue"},
		),

		QueueEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "weave",
				Subsystem: "queue",
				Name:      "events_total",
				Help:      "Queue events by result (enqueued, full, processed, rejected)",
			},
			[]string{"queue", "result"},
		),

		RouterPackets: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "weave",
				Subsystem: "router",
				Name:      "packets_total",
				Help:      "Packets routed by direction (inbound, outbound)",
			},
			[]string{"router", "direction"},
		),

		RouterErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "weave",
				Subsystem: "router",
				Name:      "errors_total",
				Help:      "Router errors by kind (parse, unknown_id, buffer)",
			},
			[]string{"router", "kind"},
		),

		MethodCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "weave",
				Subsystem: "method",
				Name:      "calls_total",
				Help:      "Method calls by result",
			},
			[]string{"method", "result"},
		),

		MethodDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "weave",
				Subsystem: "method",
				Name:      "duration_seconds",
				Help:      "Time from call submission to completion",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),

		ObservableSets: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "weave",
				Subsystem: "observable",
				Name:      "sets_total",
				Help:      "Observable set operations by result",
			},
			[]string{"observable", "result"},
		),

		TransportMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "weave",
				Subsystem: "transport",
				Name:      "messages_total",
				Help:      "Messages crossing a transport bridge by direction",
			},
			[]string{"transport", "direction"},
		),

		TransportConnected: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "weave",
				Subsystem: "transport",
				Name:      "connected",
				Help:      "Transport connection status (0=disconnected, 1=connected) or peer count",
			},
			[]string{"transport"},
		),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.SourceEmits,
		c.SourceDeliveries,
		c.SinkHandled,
		c.SinkDropped,
		c.QueueDepth,
		c.QueueEvents,
		c.RouterPackets,
		c.RouterErrors,
		c.MethodCalls,
		c.MethodDuration,
		c.ObservableSets,
		c.TransportMessages,
		c.TransportConnected,
	}
}

// RecordEmit records one emit and the number of sinks it reached
func (c *Metrics) RecordEmit(source string, delivered int) {
	if c == nil {
		return
	}
	c.SourceEmits.WithLabelValues(source).Inc()
	c.SourceDeliveries.WithLabelValues(source).Add(float64(delivered))
}

// RecordSinkHandled increments the handled counter of a sink
func (c *Metrics) RecordSinkHandled(sink string) {
	if c == nil {
		return
	}
	c.SinkHandled.WithLabelValues(sink).Inc()
}

// RecordSinkDropped increments the dropped counter of a sink
func (c *Metrics) RecordSinkDropped(sink string) {
	if c == nil {
		return
	}
	c.SinkDropped.WithLabelValues(sink).Inc()
}

// RecordQueueEvent counts a queue event and updates the depth gauge
func (c *Metrics) RecordQueueEvent(queue, result string, depth int) {
	if c == nil {
		return
	}
	c.QueueEvents.WithLabelValues(queue, result).Inc()
	c.QueueDepth.WithLabelValues(queue).Set(float64(depth))
}

// RecordRouterPacket counts a routed packet
func (c *Metrics) RecordRouterPacket(router, direction string) {
	if c == nil {
		return
	}
	c.RouterPackets.WithLabelValues(router, direction).Inc()
}

// RecordRouterError counts a router error by kind
func (c *Metrics) RecordRouterError(router, kind string) {
	if c == nil {
		return
	}
	c.RouterErrors.WithLabelValues(router, kind).Inc()
}

// RecordMethodCall counts a method call and observes its duration
func (c *Metrics) RecordMethodCall(method, result string, duration time.Duration) {
	if c == nil {
		return
	}
	c.MethodCalls.WithLabelValues(method, result).Inc()
	c.MethodDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordObservableSet counts an observable set by result
func (c *Metrics) RecordObservableSet(observable, result string) {
	if c == nil {
		return
	}
	c.ObservableSets.WithLabelValues(observable, result).Inc()
}

// RecordTransportMessage counts a message crossing a bridge
func (c *Metrics) RecordTransportMessage(transport, direction string) {
	if c == nil {
		return
	}
	c.TransportMessages.WithLabelValues(transport, direction).Inc()
}

// RecordTransportConnected sets the connection gauge of a bridge
func (c *Metrics) RecordTransportConnected(transport string, value float64) {
	if c == nil {
		return
	}
	c.TransportConnected.WithLabelValues(transport).Set(value)
}

// Result returns the label used for an operation outcome
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, errors.ErrNoBuffers):
		return "full"
	case errors.Is(err, errors.ErrFiltered):
		return "filtered"
	case errors.Is(err, errors.ErrTimedOut):
		return "timeout"
	case errors.Is(err, errors.ErrBusy):
		return "busy"
	case errors.Is(err, errors.ErrInvalidArgument):
		return "invalid"
	default:
		return "error"
	}
}
