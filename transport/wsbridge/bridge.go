package wsbridge

import (
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/weave/errors"
	"github.com/c360/weave/flow"
	"github.com/c360/weave/metric"
	"github.com/c360/weave/packet"
)

const transportName = "websocket"

// MaxClients is the number of client IDs available. IDs 0x00 and 0xFF are
// reserved.
const MaxClients = 254

// Config controls the WebSocket endpoint.
type Config struct {
	Path           string        `json:"path"            yaml:"path"`
	MaxClients     int           `json:"max_clients"     yaml:"max_clients"`
	ReadTimeout    time.Duration `json:"read_timeout"    yaml:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout"   yaml:"write_timeout"`
	PingInterval   time.Duration `json:"ping_interval"   yaml:"ping_interval"`
	SendTimeout    time.Duration `json:"send_timeout"    yaml:"send_timeout"`
	AllowedOrigins []string      `json:"allowed_origins" yaml:"allowed_origins"`
}

// DefaultConfig returns the default endpoint settings.
func DefaultConfig() Config {
	return Config{
		Path:         "/ws",
		MaxClients:   16,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
		SendTimeout:  flow.NoWait,
	}
}

// Validate checks the config.
func (c Config) Validate() error {
	if c.Path == "" || c.Path[0] != '/' {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "WSBridge", "Validate", "check path")
	}
	if c.MaxClients <= 0 || c.MaxClients > MaxClients {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "WSBridge", "Validate", "check max_clients")
	}
	if c.PingInterval > 0 && c.ReadTimeout > 0 && c.PingInterval >= c.ReadTimeout {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "WSBridge", "Validate", "check ping_interval")
	}
	return nil
}

// Stats counts bridge traffic.
type Stats struct {
	Clients  int    `json:"clients"`
	Accepted uint64 `json:"accepted"`
	Rejected uint64 `json:"rejected"`
	Received uint64 `json:"received"`
	Sent     uint64 `json:"sent"`
	Dropped  uint64 `json:"dropped"`
	Skipped  uint64 `json:"skipped"`
	Errors   uint64 `json:"errors"`
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

// client is one connected WebSocket peer.
type client struct {
	id          flow.ID
	conn        *websocket.Conn
	connectedAt time.Time
	writeMu     sync.Mutex
	closeOnce   sync.Once
	done        chan struct{}
}

// Bridge serves WebSocket clients and moves binary frames between them and
// the router's network port. Each client gets a client ID stamped on the
// buffers it sends; outbound buffers carrying a client ID go to that client
// only, the rest are broadcast.
type Bridge struct {
	cfg      Config
	pool     *packet.Pool
	upgrader websocket.Upgrader
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	metrics  *metric.Metrics

	inbound  *packet.Source
	outbound *packet.Sink

	mu      sync.RWMutex
	clients map[flow.ID]*client
	closed  bool
	wg      sync.WaitGroup

	accepted atomic.Uint64
	rejected atomic.Uint64
	received atomic.Uint64
	sent     atomic.Uint64
	dropped  atomic.Uint64
	skipped  atomic.Uint64
	errs     atomic.Uint64
}

// New creates a bridge that allocates inbound frames from pool.
func New(cfg Config, pool *packet.Pool, opts ...Option) (*Bridge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidArgument, "WSBridge", "New", "check pool")
	}

	b := &Bridge{
		cfg:     cfg,
		pool:    pool,
		logger:  slog.Default(),
		clients: make(map[flow.ID]*client),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	b.logger = b.logger.With("transport", transportName, "path", cfg.Path)
	b.metrics = b.registry.CoreMetrics()
	b.upgrader = websocket.Upgrader{
		ReadBufferSize:  pool.BufferSize(),
		WriteBufferSize: pool.BufferSize(),
		CheckOrigin:     b.checkOrigin,
	}

	b.inbound = packet.NewSource(transportName+".in",
		flow.WithLogger(b.logger), flow.WithMetrics(b.registry))
	b.outbound = packet.NewSink(transportName+".out", b.handleOutbound,
		flow.WithLogger(b.logger), flow.WithMetrics(b.registry))
	return b, nil
}

// Path returns the endpoint path.
func (b *Bridge) Path() string { return b.cfg.Path }

// Inbound emits one buffer per binary message received from any client.
func (b *Bridge) Inbound() *packet.Source { return b.inbound }

// Outbound writes every buffer it is given to the addressed client, or to all
// clients when the buffer carries no client ID.
func (b *Bridge) Outbound() *packet.Sink { return b.outbound }

func (b *Bridge) checkOrigin(r *http.Request) bool {
	if len(b.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range b.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// ServeHTTP upgrades the request and serves the client until it disconnects
// or the bridge is closed.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, ok := b.reserveID()
	if !ok {
		b.rejected.Add(1)
		http.Error(w, "too many clients", http.StatusServiceUnavailable)
		return
	}

	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.releaseID(id)
		b.errs.Add(1)
		b.logger.Debug("Upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn.SetReadLimit(int64(b.pool.BufferSize()))

	c := &client{
		id:          id,
		conn:        conn,
		connectedAt: time.Now(),
		done:        make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		delete(b.clients, id)
		b.mu.Unlock()
		_ = conn.Close()
		return
	}
	b.clients[id] = c
	count := len(b.clients)
	b.wg.Add(2)
	b.mu.Unlock()

	b.accepted.Add(1)
	b.metrics.RecordTransportConnected(transportName, float64(count))
	b.logger.Info("Client connected", "client_id", id, "remote", r.RemoteAddr)

	go b.readLoop(c)
	go b.pingLoop(c)
}

// owned reports whether frames addressed to id are for this bridge. The
// reserved ID 0x00 names a client of another transport.
func owned(id flow.ID) bool {
	return id != 0x00
}

// reserveID claims the lowest free client ID.
func (b *Bridge) reserveID() (flow.ID, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || len(b.clients) >= b.cfg.MaxClients {
		return 0, false
	}
	for id := flow.ID(1); id < flow.AnyID; id++ {
		if _, used := b.clients[id]; !used {
			b.clients[id] = nil
			return id, true
		}
	}
	return 0, false
}

func (b *Bridge) releaseID(id flow.ID) {
	b.mu.Lock()
	delete(b.clients, id)
	b.mu.Unlock()
}

func (b *Bridge) readLoop(c *client) {
	defer b.wg.Done()
	defer b.removeClient(c)

	c.conn.SetPongHandler(func(string) error {
		b.extendDeadline(c)
		return nil
	})

	for {
		b.extendDeadline(c)
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				b.errs.Add(1)
				b.logger.Debug("Client read failed", "client_id", c.id, "error", err)
			}
			return
		}
		if kind != websocket.BinaryMessage {
			b.dropped.Add(1)
			continue
		}
		b.handleInbound(c, data)
	}
}

func (b *Bridge) extendDeadline(c *client) {
	if b.cfg.ReadTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(b.cfg.ReadTimeout))
	}
}

func (b *Bridge) pingLoop(c *client) {
	defer b.wg.Done()
	if b.cfg.PingInterval <= 0 {
		<-c.done
		return
	}

	ticker := time.NewTicker(b.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := b.write(c, websocket.PingMessage, nil); err != nil {
				b.errs.Add(1)
				b.removeClient(c)
				return
			}
		}
	}
}

func (b *Bridge) write(c *client, kind int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if b.cfg.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(b.cfg.WriteTimeout))
	}
	return c.conn.WriteMessage(kind, data)
}

func (b *Bridge) removeClient(c *client) {
	c.closeOnce.Do(func() {
		close(c.done)

		b.mu.Lock()
		if b.clients[c.id] == c {
			delete(b.clients, c.id)
		}
		count := len(b.clients)
		b.mu.Unlock()

		_ = c.conn.Close()
		b.metrics.RecordTransportConnected(transportName, float64(count))
		b.logger.Info("Client disconnected", "client_id", c.id,
			"connected_for", time.Since(c.connectedAt).Round(time.Millisecond))
	})
}

func (b *Bridge) handleInbound(c *client, data []byte) {
	b.received.Add(1)
	b.metrics.RecordTransportMessage(transportName, "in")

	frame := b.pool.Alloc(flow.NoWait)
	if frame == nil {
		b.dropped.Add(1)
		b.logger.Debug("Inbound message dropped, no buffers", "client_id", c.id)
		return
	}
	if err := frame.Append(data); err != nil {
		frame.Unref()
		b.dropped.Add(1)
		b.logger.Debug("Inbound message dropped", "client_id", c.id, "error", err)
		return
	}
	frame.SetClientID(c.id)

	if _, err := packet.Send(b.inbound, frame, b.cfg.SendTimeout); err != nil {
		b.logger.Debug("Inbound frame not delivered", "client_id", c.id, "error", err)
	}
}

func (b *Bridge) handleOutbound(_ *packet.Sink, frame *packet.Buffer) {
	target := flow.AnyID
	if meta, ok := frame.Metadata(); ok {
		target = meta.ClientID
	}

	if !owned(target) {
		b.skipped.Add(1)
		return
	}

	b.mu.RLock()
	var targets []*client
	if target == flow.AnyID {
		targets = make([]*client, 0, len(b.clients))
		for _, c := range b.clients {
			if c != nil {
				targets = append(targets, c)
			}
		}
	} else if c := b.clients[target]; c != nil {
		targets = append(targets, c)
	}
	b.mu.RUnlock()

	if len(targets) == 0 {
		b.dropped.Add(1)
		b.logger.Debug("Outbound frame dropped, no client", "client_id", target)
		return
	}

	data := frame.Flatten()
	for _, c := range targets {
		if err := b.write(c, websocket.BinaryMessage, data); err != nil {
			b.errs.Add(1)
			b.logger.Debug("Client write failed", "client_id", c.id, "error", err)
			b.removeClient(c)
			continue
		}
		b.sent.Add(1)
		b.metrics.RecordTransportMessage(transportName, "out")
	}
}

// Close disconnects every client and waits for their goroutines to exit.
// New connections are refused afterwards.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	clients := make([]*client, 0, len(b.clients))
	for _, c := range b.clients {
		if c != nil {
			clients = append(clients, c)
		}
	}
	b.mu.Unlock()

	for _, c := range clients {
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
		_ = b.write(c, websocket.CloseMessage, msg)
		b.removeClient(c)
	}
	b.wg.Wait()
	return nil
}

// Stats returns a traffic snapshot.
func (b *Bridge) Stats() Stats {
	b.mu.RLock()
	clients := 0
	for _, c := range b.clients {
		if c != nil {
			clients++
		}
	}
	b.mu.RUnlock()

	return Stats{
		Clients:  clients,
		Accepted: b.accepted.Load(),
		Rejected: b.rejected.Load(),
		Received: b.received.Load(),
		Sent:     b.sent.Load(),
		Dropped:  b.dropped.Load(),
		Skipped:  b.skipped.Load(),
		Errors:   b.errs.Load(),
	}
}
