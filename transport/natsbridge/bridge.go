package natsbridge

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/weave/errors"
	"github.com/c360/weave/flow"
	"github.com/c360/weave/metric"
	"github.com/c360/weave/packet"
	"github.com/c360/weave/pkg/retry"
)

const transportName = "nats"

// OriginID is the client ID stamped on every inbound frame. Replies carrying
// it, or AnyID, are published; frames addressed to any other client belong to
// another transport and are skipped.
const OriginID flow.ID = 0x00

// Config describes the NATS connection and the two subjects the bridge uses.
type Config struct {
	URL             string        `json:"url"              yaml:"url"`
	InboundSubject  string        `json:"inbound_subject"  yaml:"inbound_subject"`
	OutboundSubject string        `json:"outbound_subject" yaml:"outbound_subject"`
	ClientName      string        `json:"client_name"      yaml:"client_name"`
	MaxReconnects   int           `json:"max_reconnects"   yaml:"max_reconnects"`
	ReconnectWait   time.Duration `json:"reconnect_wait"   yaml:"reconnect_wait"`
	ConnectTimeout  time.Duration `json:"connect_timeout"  yaml:"connect_timeout"`
	SendTimeout     time.Duration `json:"send_timeout"     yaml:"send_timeout"`
}

// DefaultConfig returns a config for a local server.
func DefaultConfig() Config {
	return Config{
		URL:             nats.DefaultURL,
		InboundSubject:  "weave.in",
		OutboundSubject: "weave.out",
		ClientName:      "weave",
		MaxReconnects:   -1,
		ReconnectWait:   2 * time.Second,
		ConnectTimeout:  5 * time.Second,
		SendTimeout:     flow.NoWait,
	}
}

// Validate checks that the config can be used to connect.
func (c Config) Validate() error {
	if c.URL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "NATSBridge", "Validate", "check url")
	}
	if c.InboundSubject == "" || c.OutboundSubject == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "NATSBridge", "Validate", "check subjects")
	}
	if c.InboundSubject == c.OutboundSubject {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "NATSBridge", "Validate", "check subjects differ")
	}
	return nil
}

// Stats counts bridge traffic.
type Stats struct {
	Received      uint64 `json:"received"`
	Sent          uint64 `json:"sent"`
	Dropped       uint64 `json:"dropped"`
	Skipped       uint64 `json:"skipped"`
	PublishErrors uint64 `json:"publish_errors"`
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the bridge logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMetrics records transport traffic in registry.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(b *Bridge) {
		b.registry = registry
	}
}

// WithDialer replaces DialNATS.
func WithDialer(d Dialer) Option {
	return func(b *Bridge) {
		if d != nil {
			b.dial = d
		}
	}
}

// WithRetry sets the backoff used by Connect.
func WithRetry(cfg retry.Config) Option {
	return func(b *Bridge) {
		b.retry = cfg
	}
}

// Bridge moves raw frames between a NATS subject pair and the router's
// network port. Messages on InboundSubject are copied into pool buffers and
// emitted from Inbound; buffers delivered to Outbound are published on
// OutboundSubject.
type Bridge struct {
	cfg      Config
	pool     *packet.Pool
	dial     Dialer
	retry    retry.Config
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	metrics  *metric.Metrics

	inbound  *packet.Source
	outbound *packet.Sink

	mu   sync.Mutex
	conn Conn
	sub  Subscription

	received      atomic.Uint64
	sent          atomic.Uint64
	dropped       atomic.Uint64
	skipped       atomic.Uint64
	publishErrors atomic.Uint64
}

// New creates a bridge that allocates inbound frames from pool.
func New(cfg Config, pool *packet.Pool, opts ...Option) (*Bridge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidArgument, "NATSBridge", "New", "check pool")
	}

	b := &Bridge{
		cfg:    cfg,
		pool:   pool,
		dial:   DialNATS,
		retry:  retry.Quick(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	b.logger = b.logger.With("transport", transportName, "url", cfg.URL)
	b.metrics = b.registry.CoreMetrics()

	b.inbound = packet.NewSource(transportName+".in",
		flow.WithLogger(b.logger), flow.WithMetrics(b.registry))
	b.outbound = packet.NewSink(transportName+".out", b.handleOutbound,
		flow.WithLogger(b.logger), flow.WithMetrics(b.registry))
	return b, nil
}

// Inbound emits one buffer per message received on InboundSubject.
func (b *Bridge) Inbound() *packet.Source { return b.inbound }

// Outbound publishes every buffer it is given on OutboundSubject.
func (b *Bridge) Outbound() *packet.Sink { return b.outbound }

// Connect dials the server, retrying transient failures with backoff.
func (b *Bridge) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn != nil {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "NATSBridge", "Connect", "check connection")
	}

	cfg := b.retry
	cfg.RetryIf = errors.IsTransient
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		b.logger.Warn("NATS connect failed, retrying", "attempt", attempt, "delay", delay, "error", err)
	}

	conn, err := retry.DoWithResult(ctx, cfg, func() (Conn, error) {
		return b.dialOnce(ctx)
	})
	if err != nil {
		return err
	}

	b.conn = conn
	b.metrics.RecordTransportConnected(transportName, 1)
	b.logger.Info("Connected to NATS")
	return nil
}

// dialOnce runs one dial, abandoning it if ctx ends first.
func (b *Bridge) dialOnce(ctx context.Context) (Conn, error) {
	type result struct {
		conn Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := b.dial(b.cfg.URL, b.connectionOptions()...)
		done <- result{conn, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			b.logger.Debug("NATS dial failed", "error", r.err)
			return nil, errors.WrapTransient(errors.ErrNoConnection, "NATSBridge", "Connect", "dial "+b.cfg.URL)
		}
		return r.conn, nil
	case <-ctx.Done():
		go func() {
			if r := <-done; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, retry.NonRetryable(
			errors.WrapTransient(errors.ErrConnectionTimeout, "NATSBridge", "Connect", "wait for dial"))
	}
}

func (b *Bridge) connectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(b.cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			b.metrics.RecordTransportConnected(transportName, 0)
			b.logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			b.metrics.RecordTransportConnected(transportName, 1)
			b.logger.Info("NATS reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			b.metrics.RecordTransportConnected(transportName, 0)
			b.logger.Debug("NATS connection closed")
		}),
	}
	if b.cfg.ReconnectWait > 0 {
		opts = append(opts, nats.ReconnectWait(b.cfg.ReconnectWait))
	}
	if b.cfg.ConnectTimeout > 0 {
		opts = append(opts, nats.Timeout(b.cfg.ConnectTimeout))
	}
	if b.cfg.ClientName != "" {
		opts = append(opts, nats.Name(b.cfg.ClientName))
	}
	return opts
}

// Start subscribes to InboundSubject. Connect must have succeeded.
func (b *Bridge) Start(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == nil {
		return errors.WrapInvalid(errors.ErrNotStarted, "NATSBridge", "Start", "check connection")
	}
	if b.sub != nil {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "NATSBridge", "Start", "check subscription")
	}

	sub, err := b.conn.Subscribe(b.cfg.InboundSubject, b.handleInbound)
	if err != nil {
		return errors.WrapTransient(err, "NATSBridge", "Start", "subscribe "+b.cfg.InboundSubject)
	}
	b.sub = sub
	b.logger.Info("NATS bridge started",
		"inbound_subject", b.cfg.InboundSubject,
		"outbound_subject", b.cfg.OutboundSubject)
	return nil
}

// Stop unsubscribes and drains the connection. It is safe to call more than once.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var firstErr error
	if b.sub != nil {
		if err := b.sub.Unsubscribe(); err != nil {
			firstErr = errors.Wrap(err, "NATSBridge", "Stop", "unsubscribe")
		}
		b.sub = nil
	}
	if b.conn != nil {
		if err := b.conn.Drain(); err != nil {
			b.logger.Debug("NATS drain failed, closing", "error", err)
			b.conn.Close()
		}
		b.conn = nil
		b.metrics.RecordTransportConnected(transportName, 0)
	}
	return firstErr
}

// Connected reports whether the bridge holds a live connection.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil && b.conn.IsConnected()
}

// Stats returns a traffic snapshot.
func (b *Bridge) Stats() Stats {
	return Stats{
		Received:      b.received.Load(),
		Sent:          b.sent.Load(),
		Dropped:       b.dropped.Load(),
		Skipped:       b.skipped.Load(),
		PublishErrors: b.publishErrors.Load(),
	}
}

func (b *Bridge) handleInbound(data []byte) {
	b.received.Add(1)
	b.metrics.RecordTransportMessage(transportName, "in")

	frame := b.pool.Alloc(flow.NoWait)
	if frame == nil {
		b.dropped.Add(1)
		b.logger.Debug("Inbound message dropped, no buffers", "len", len(data))
		return
	}
	if err := frame.Append(data); err != nil {
		frame.Unref()
		b.dropped.Add(1)
		b.logger.Debug("Inbound message dropped", "len", len(data), "error", err)
		return
	}
	frame.SetClientID(OriginID)

	if _, err := packet.Send(b.inbound, frame, b.cfg.SendTimeout); err != nil {
		b.logger.Debug("Inbound frame not delivered", "error", err)
	}
}

func (b *Bridge) handleOutbound(_ *packet.Sink, frame *packet.Buffer) {
	if meta, ok := frame.Metadata(); ok && meta.ClientID != flow.AnyID && meta.ClientID != OriginID {
		b.skipped.Add(1)
		return
	}

	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()

	if conn == nil || !conn.IsConnected() {
		b.dropped.Add(1)
		b.logger.Debug("Outbound frame dropped, not connected")
		return
	}
	if err := conn.Publish(b.cfg.OutboundSubject, frame.Flatten()); err != nil {
		b.publishErrors.Add(1)
		b.logger.Warn("NATS publish failed", "subject", b.cfg.OutboundSubject, "error", err)
		return
	}
	b.sent.Add(1)
	b.metrics.RecordTransportMessage(transportName, "out")
}
