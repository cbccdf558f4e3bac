package observable

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/weave/errors"
	"github.com/c360/weave/flow"
	"github.com/c360/weave/metric"
)

// Handler is notified after a value change. It reads the value with Get.
type Handler[T any] func(obs *Observable[T])

// Validator vets a proposed value. A non-nil error aborts the change.
type Validator[T any] func(obs *Observable[T], proposed T) error

// Observer is a sink that can be connected to an Observable.
type Observer[T any] = flow.Sink[*Observable[T]]

// Stats is a snapshot of observable counters.
type Stats struct {
	Sets     uint64 `json:"sets"`
	Rejected uint64 `json:"rejected"`
	Busy     uint64 `json:"busy"`
}

// Option configures an Observable.
type Option[T any] func(*Observable[T])

// WithValidator installs a validator run against every proposed value.
func WithValidator[T any](v Validator[T]) Option[T] {
	return func(o *Observable[T]) {
		o.validator = v
	}
}

// WithOwner installs the owner handler, notified before every external
// observer. Pass flow.WithQueue to defer it onto a worker.
func WithOwner[T any](h Handler[T], opts ...flow.SinkOption) Option[T] {
	return func(o *Observable[T]) {
		o.ownerHandler = h
		o.ownerOpts = opts
	}
}

// WithLogger sets the observable logger.
func WithLogger[T any](logger *slog.Logger) Option[T] {
	return func(o *Observable[T]) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics records sets in registry.
func WithMetrics[T any](registry *metric.MetricsRegistry) Option[T] {
	return func(o *Observable[T]) {
		o.registry = registry
	}
}

// WithNotifyTimeout bounds how long a change may wait for space in queued
// observers. The default is flow.NoWait.
func WithNotifyTimeout[T any](d time.Duration) Option[T] {
	return func(o *Observable[T]) {
		o.notifyTimeout = d
	}
}

// Observable holds a value and notifies observers whenever it changes.
//
// Values are copied in and out, so T should not share memory through
// pointers, slices or maps that callers mutate afterwards.
//
// Set, Update and Publish are serialized: a writer waits for any change in
// progress, including its notifications, to finish. Handlers and validators
// receive a handle bound to the running change; calling Set through that
// handle fails with errors.ErrBusy instead of waiting on itself. Calling
// back through any other reference from an immediate handler deadlocks.
type Observable[T any] struct {
	*state[T]
	pub *publish
}

// publish marks one running change. It is active until the last immediate
// notification returns.
type publish struct {
	active atomic.Bool
}

type state[T any] struct {
	name          string
	validator     Validator[T]
	notifyTimeout time.Duration

	writeMu sync.Mutex

	mu    sync.RWMutex
	value T

	ownerHandler Handler[T]
	ownerOpts    []flow.SinkOption
	owner        *Observer[T]
	source       *flow.Source[*Observable[T]]

	logger   *slog.Logger
	registry *metric.MetricsRegistry
	metrics  *metric.Metrics

	sets     atomic.Uint64
	rejected atomic.Uint64
	busy     atomic.Uint64
}

// bound returns a handle tied to p.
func (o *Observable[T]) bound(p *publish) *Observable[T] {
	return &Observable[T]{state: o.state, pub: p}
}

// reentrant reports whether o was handed out by a change still in progress.
func (o *Observable[T]) reentrant() bool {
	return o.pub != nil && o.pub.active.Load()
}

// observe wraps h so queued deliveries, which run after the change or on
// another goroutine, get an unbound handle.
func observe[T any](h Handler[T]) flow.Handler[*Observable[T]] {
	return func(s *Observer[T], obs *Observable[T]) {
		if s.Mode() == flow.Queued {
			obs = &Observable[T]{state: obs.state}
		}
		h(obs)
	}
}

// shared observers receive the observable itself; nothing is aliased that
// needs releasing.
func sharedOps[T any]() flow.Ops[*Observable[T]] {
	return flow.OpsFuncs[*Observable[T]]{}
}

// New creates an observable holding initial.
func New[T any](name string, initial T, opts ...Option[T]) *Observable[T] {
	o := &Observable[T]{state: &state[T]{
		name:          name,
		value:         initial,
		notifyTimeout: flow.NoWait,
		logger:        slog.Default(),
	}}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	o.logger = o.logger.With("observable", name)
	o.metrics = o.registry.CoreMetrics()

	o.source = flow.NewSource[*Observable[T]](name,
		flow.WithOps(sharedOps[T]()), flow.WithLogger(o.logger), flow.WithMetrics(o.registry))

	if o.ownerHandler != nil {
		h := o.ownerHandler
		sinkOpts := append([]flow.SinkOption{
			flow.WithOps(sharedOps[T]()), flow.WithLogger(o.logger), flow.WithMetrics(o.registry),
		}, o.ownerOpts...)
		o.owner = flow.NewSink(name+".owner", observe(h), sinkOpts...)
	}
	return o
}

// NewObserver wraps h in a sink ready to Connect. Options are the usual sink
// options, such as flow.WithQueue.
func NewObserver[T any](name string, h Handler[T], opts ...flow.SinkOption) *Observer[T] {
	return flow.NewSink(name, observe(h),
		append([]flow.SinkOption{flow.WithOps(sharedOps[T]())}, opts...)...)
}

// Name returns the observable name.
func (o *Observable[T]) Name() string { return o.name }

// Connect adds an external observer.
func (o *Observable[T]) Connect(obs *Observer[T]) (flow.ConnectionID, error) {
	if o == nil {
		return flow.ConnectionID{}, errors.ErrInvalidArgument
	}
	return o.source.Connect(obs)
}

// Disconnect removes an external observer.
func (o *Observable[T]) Disconnect(id flow.ConnectionID) error {
	if o == nil {
		return errors.ErrInvalidArgument
	}
	return o.source.Disconnect(id)
}

// Get returns a copy of the current value.
func (o *Observable[T]) Get() (T, error) {
	if o == nil {
		var zero T
		return zero, errors.ErrInvalidArgument
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.value, nil
}

// Set validates and stores value, then notifies the owner followed by every
// external observer. It returns the number of external observers reached.
//
// A rejected value leaves the stored value untouched and notifies no one.
// A concurrent Set waits for the change in progress. Calling Set on the
// handle given to an immediate observer or validator fails with
// errors.ErrBusy.
func (o *Observable[T]) Set(value T) (int, error) {
	return o.change("Set", func(T) (T, error) { return value, nil })
}

// Update applies fn to a copy of the current value and stores the result
// like Set. An error from fn aborts the update.
func (o *Observable[T]) Update(fn func(*T) error) (int, error) {
	if fn == nil {
		return 0, errors.ErrInvalidArgument
	}
	return o.change("Update", func(current T) (T, error) {
		err := fn(&current)
		return current, err
	})
}

// Publish notifies the owner and observers without changing the value.
func (o *Observable[T]) Publish() (int, error) {
	if o == nil {
		return 0, errors.ErrInvalidArgument
	}
	if o.reentrant() {
		return 0, o.reportBusy("Publish")
	}
	o.writeMu.Lock()
	defer o.writeMu.Unlock()
	return o.notify(o.begin()), nil
}

// Validate runs the validator against value without storing it.
func (o *Observable[T]) Validate(value T) error {
	if o == nil {
		return errors.ErrInvalidArgument
	}
	if o.validator == nil {
		return nil
	}
	return o.validator(o, value)
}

// begin starts a change. The caller holds writeMu and must end the
// returned publish.
func (o *Observable[T]) begin() *publish {
	p := &publish{}
	p.active.Store(true)
	return p
}

func (o *Observable[T]) change(op string, next func(current T) (T, error)) (int, error) {
	if o == nil {
		return 0, errors.ErrInvalidArgument
	}
	if o.reentrant() {
		return 0, o.reportBusy(op)
	}
	o.writeMu.Lock()
	defer o.writeMu.Unlock()

	p := o.begin()
	current, _ := o.Get()
	proposed, err := next(current)
	if err == nil {
		err = o.bound(p).Validate(proposed)
	}
	if err != nil {
		p.active.Store(false)
		o.rejected.Add(1)
		o.metrics.RecordObservableSet(o.name, "rejected")
		o.logger.Debug("Value rejected", "op", op, "error", err)
		return 0, errors.WrapInvalid(err, "Observable", op, "validate value")
	}

	o.mu.Lock()
	o.value = proposed
	o.mu.Unlock()

	o.sets.Add(1)
	o.metrics.RecordObservableSet(o.name, "ok")
	return o.notify(p), nil
}

// notify runs the owner, then the observers, and ends p.
func (o *Observable[T]) notify(p *publish) int {
	defer p.active.Store(false)
	view := o.bound(p)
	if o.owner != nil {
		if err := o.owner.Deliver(view, o.notifyTimeout); err != nil {
			o.logger.Warn("Owner notification failed", "error", err)
		}
	}
	n, err := o.source.Emit(view, o.notifyTimeout)
	if err != nil {
		o.logger.Warn("Observer notification failed", "error", err)
	}
	return n
}

func (o *Observable[T]) reportBusy(op string) error {
	o.busy.Add(1)
	o.metrics.RecordObservableSet(o.name, "busy")
	return errors.WrapTransient(errors.ErrBusy, "Observable", op, "re-enter change in progress")
}

// Stats returns a snapshot of the counters. A nil observable reports zeros.
func (o *Observable[T]) Stats() Stats {
	if o == nil {
		return Stats{}
	}
	return Stats{
		Sets:     o.sets.Load(),
		Rejected: o.rejected.Load(),
		Busy:     o.busy.Load(),
	}
}

// ResetStats zeroes the counters. It is a no-op on a nil observable.
func (o *Observable[T]) ResetStats() {
	if o == nil {
		return
	}
	o.sets.Store(0)
	o.rejected.Store(0)
	o.busy.Store(0)
}
