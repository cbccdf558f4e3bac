package method

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/c360/weave/errors"
	"github.com/c360/weave/flow"
	"github.com/c360/weave/metric"
)

// Handler serves one call. request holds a private copy of the caller's
// request and reply is a zeroed buffer of the method's reply size.
type Handler func(m *Method, request, reply []byte) error

type options struct {
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	queue    *flow.Queue
	userData any
}

// Option configures a Method.
type Option func(*options)

// WithLogger sets the method logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics records calls in registry.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(o *options) {
		o.registry = registry
	}
}

// WithQueue runs the handler on whichever goroutine drains q. Without a
// queue the handler runs in the caller's goroutine.
func WithQueue(q *flow.Queue) Option {
	return func(o *options) {
		o.queue = q
	}
}

// WithUserData attaches data the handler can read through Method.UserData.
func WithUserData(data any) Option {
	return func(o *options) {
		o.userData = data
	}
}

// Method is a request/reply endpoint with fixed request and reply sizes.
type Method struct {
	name        string
	requestSize int
	replySize   int
	handler     Handler
	userData    any

	sink    *flow.Sink[*Call]
	logger  *slog.Logger
	metrics *metric.Metrics
}

// New creates a method. Sizes are in bytes; zero means the method takes no
// request or produces no reply.
func New(name string, requestSize, replySize int, handler Handler, opts ...Option) (*Method, error) {
	if handler == nil || requestSize < 0 || replySize < 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidArgument, "Method", "New", "check handler and sizes")
	}

	o := options{logger: slog.Default()}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	m := &Method{
		name:        name,
		requestSize: requestSize,
		replySize:   replySize,
		handler:     handler,
		userData:    o.userData,
		logger:      o.logger.With("method", name),
		metrics:     o.registry.CoreMetrics(),
	}

	sinkOpts := []flow.SinkOption{flow.WithLogger(m.logger), flow.WithMetrics(o.registry)}
	if o.queue != nil {
		sinkOpts = append(sinkOpts, flow.WithQueue(o.queue))
	}
	m.sink = flow.NewSink(name, m.dispatch, sinkOpts...)

	return m, nil
}

// Name returns the method name.
func (m *Method) Name() string { return m.name }

// RequestSize returns the request size in bytes.
func (m *Method) RequestSize() int { return m.requestSize }

// ReplySize returns the reply size in bytes.
func (m *Method) ReplySize() int { return m.replySize }

// UserData returns the value set with WithUserData.
func (m *Method) UserData() any { return m.userData }

// Sink returns the sink calls are dispatched through.
func (m *Method) Sink() *flow.Sink[*Call] { return m.sink }

// Call invokes the method and waits up to timeout for it to finish. The
// same timeout bounds both queue admission and completion.
//
// request must hold at least RequestSize bytes. reply may be nil to discard
// the reply; otherwise it must hold at least ReplySize bytes and receives the
// reply only when the call completes in time.
func (m *Method) Call(request, reply []byte, timeout time.Duration) error {
	if m == nil {
		return errors.ErrInvalidArgument
	}
	if err := m.checkReply(reply); err != nil {
		return err
	}

	start := time.Now()
	c, err := m.CallAsync(request, timeout)
	if err != nil {
		return err
	}
	return c.Wait(reply, remaining(start, timeout))
}

// CallAsync dispatches the call and returns once it has been run or queued.
// Wait on the returned Call collects the result.
func (m *Method) CallAsync(request []byte, timeout time.Duration) (*Call, error) {
	if m == nil {
		return nil, errors.ErrInvalidArgument
	}
	if len(request) < m.requestSize {
		m.metrics.RecordMethodCall(m.name, "invalid", 0)
		return nil, errors.WrapInvalid(errors.ErrInvalidArgument, "Method", "Call",
			fmt.Sprintf("check request size %d, need %d", len(request), m.requestSize))
	}

	c := newCall(m, request[:m.requestSize])
	if err := m.sink.Deliver(c, timeout); err != nil {
		m.metrics.RecordMethodCall(m.name, metric.Result(err), 0)
		m.logger.Debug("Call admission failed", "call", c.id, "error", err)
		return nil, errors.Wrap(err, "Method", "Call", "dispatch call")
	}
	return c, nil
}

func (m *Method) checkReply(reply []byte) error {
	if reply != nil && len(reply) < m.replySize {
		return errors.WrapInvalid(errors.ErrInvalidArgument, "Method", "Call",
			fmt.Sprintf("check reply size %d, need %d", len(reply), m.replySize))
	}
	return nil
}

func (m *Method) dispatch(_ *flow.Sink[*Call], c *Call) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Method handler panic recovered", "call", c.id, "panic", r)
			c.complete(errors.WrapFatal(fmt.Errorf("panic: %v", r), "Method", "dispatch", "run handler"))
		}
	}()
	c.complete(m.handler(m, c.request, c.reply))
}

// Call is one in-flight invocation. It owns copies of the request and reply,
// so a caller that stops waiting leaves nothing the handler can corrupt.
type Call struct {
	id      uuid.UUID
	method  *Method
	request []byte
	reply   []byte
	started time.Time

	done chan struct{}
	err  error
}

func newCall(m *Method, request []byte) *Call {
	return &Call{
		id:      uuid.New(),
		method:  m,
		request: append(make([]byte, 0, len(request)), request...),
		reply:   make([]byte, m.replySize),
		started: time.Now(),
		done:    make(chan struct{}),
	}
}

func (c *Call) complete(err error) {
	c.err = err
	close(c.done)
	c.method.metrics.RecordMethodCall(c.method.name, metric.Result(err), time.Since(c.started))
}

// ID identifies the call in logs.
func (c *Call) ID() uuid.UUID { return c.id }

// Done is closed once the handler has returned.
func (c *Call) Done() <-chan struct{} { return c.done }

// Wait blocks up to timeout for the handler to finish, then copies the reply
// into reply (if non-nil) and returns the handler's error. A timed out Wait
// returns errors.ErrTimedOut and may be retried.
func (c *Call) Wait(reply []byte, timeout time.Duration) error {
	if c == nil {
		return errors.ErrInvalidArgument
	}
	if err := c.method.checkReply(reply); err != nil {
		return err
	}
	if !wait(c.done, timeout) {
		c.method.logger.Debug("Call wait timed out", "call", c.id)
		return errors.WrapTransient(errors.ErrTimedOut, "Method", "Wait", "wait for reply")
	}
	if reply != nil {
		copy(reply, c.reply)
	}
	return c.err
}

func wait(done <-chan struct{}, timeout time.Duration) bool {
	switch {
	case timeout < 0:
		<-done
		return true
	case timeout == 0:
		select {
		case <-done:
			return true
		default:
			return false
		}
	default:
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-done:
			return true
		case <-timer.C:
			return false
		}
	}
}

func remaining(start time.Time, timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return timeout
	}
	left := timeout - time.Since(start)
	if left <= 0 {
		return flow.NoWait
	}
	return left
}
