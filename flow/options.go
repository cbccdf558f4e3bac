package flow

import (
	"fmt"
	"log/slog"

	"github.com/c360/weave/metric"
)

type commonOptions struct {
	logger  *slog.Logger
	metrics *metric.Metrics
	ops     any
}

type sourceOptions struct {
	commonOptions
	tag ID
}

type sinkOptions struct {
	commonOptions
	mode     Mode
	queue    *Queue
	filter   ID
	userData any
}

// SourceOption configures a Source.
type SourceOption interface {
	applySource(*sourceOptions)
}

// SinkOption configures a Sink.
type SinkOption interface {
	applySink(*sinkOptions)
}

// Option configures either a Source or a Sink.
type Option func(*commonOptions)

func (o Option) applySource(s *sourceOptions) { o(&s.commonOptions) }
func (o Option) applySink(s *sinkOptions)     { o(&s.commonOptions) }

type sourceOption func(*sourceOptions)

func (o sourceOption) applySource(s *sourceOptions) { o(s) }

type sinkOption func(*sinkOptions)

func (o sinkOption) applySink(s *sinkOptions) { o(s) }

// WithLogger sets the logger used for drops and rejected payloads.
func WithLogger(logger *slog.Logger) Option {
	return func(o *commonOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics records activity in the registry's core metrics. A nil registry
// leaves metrics disabled.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(o *commonOptions) {
		o.metrics = registry.CoreMetrics()
	}
}

// WithOps sets the payload reference discipline. The ops payload type must
// match the component's payload type.
func WithOps[P any](ops Ops[P]) Option {
	return func(o *commonOptions) {
		o.ops = ops
	}
}

// WithTag makes a source stamp id onto every payload it emits.
func WithTag(id ID) SourceOption {
	return sourceOption(func(o *sourceOptions) {
		o.tag = id
	})
}

// WithQueue defers handling onto q. The sink switches to Queued mode.
func WithQueue(q *Queue) SinkOption {
	return sinkOption(func(o *sinkOptions) {
		o.queue = q
		o.mode = Queued
	})
}

// WithMode forces the dispatch mode. Queued without a queue makes every
// delivery fail with errors.ErrNotSupported.
func WithMode(m Mode) SinkOption {
	return sinkOption(func(o *sinkOptions) {
		o.mode = m
	})
}

// WithFilter makes a sink accept only payloads tagged id or AnyID.
func WithFilter(id ID) SinkOption {
	return sinkOption(func(o *sinkOptions) {
		o.filter = id
	})
}

// WithUserData attaches arbitrary data retrievable from the handler.
func WithUserData(data any) SinkOption {
	return sinkOption(func(o *sinkOptions) {
		o.userData = data
	})
}

func resolveOps[P any](raw any, component, name string) Ops[P] {
	if raw == nil {
		return nil
	}
	ops, ok := raw.(Ops[P])
	if !ok {
		var zero P
		panic(fmt.Sprintf("flow: %s %q given ops of type %T, want flow.Ops[%T]", component, name, raw, zero))
	}
	return ops
}
