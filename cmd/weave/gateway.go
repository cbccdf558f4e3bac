package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/c360/weave/config"
	"github.com/c360/weave/errors"
	"github.com/c360/weave/flow"
	"github.com/c360/weave/health"
	"github.com/c360/weave/method"
	"github.com/c360/weave/metric"
	"github.com/c360/weave/observable"
	"github.com/c360/weave/packet"
	"github.com/c360/weave/pkg/worker"
	"github.com/c360/weave/router"
	"github.com/c360/weave/transport/natsbridge"
	"github.com/c360/weave/transport/wsbridge"
)

// Packet IDs served by the gateway.
const (
	idEcho     flow.ID = 0x01 // in and out: payload sent back to the sender
	idLevelSet flow.ID = 0x10 // in: one byte, 0..maxLevel
	idLevel    flow.ID = 0x11 // out: one byte, broadcast on every change
	idUptime   flow.ID = 0x20 // in: any payload; out: 8 byte big-endian seconds
)

const maxLevel = 100

// gateway owns the router, the demo modules behind it, and the transports
// feeding it.
type gateway struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	started  time.Time

	headers *packet.Pool
	rx      *packet.Pool
	router  *router.Router
	workers *worker.Pool

	echo        *packet.Source
	levelOut    *packet.Source
	uptimeOut   *packet.Source
	level       *observable.Observable[uint8]
	uptime      *method.Method
	sendTimeout time.Duration

	natsOpts []natsbridge.Option
	nats     *natsbridge.Bridge
	ws       *wsbridge.Bridge
	wsServer *http.Server
	metrics  *metric.Server
	health   *health.Monitor

	wg sync.WaitGroup
}

// newGateway builds the router, the modules and the enabled transports.
// natsOpts are passed to the NATS bridge after the gateway's own options.
func newGateway(cfg *config.Config, logger *slog.Logger, registry *metric.MetricsRegistry,
	natsOpts ...natsbridge.Option,
) (*gateway, error) {
	g := &gateway{
		cfg:         cfg,
		natsOpts:    natsOpts,
		logger:      logger,
		registry:    registry,
		started:     time.Now(),
		sendTimeout: cfg.Gateway.SendTimeout.Duration(),
	}
	name := cfg.Gateway.Name

	g.headers = packet.NewPool(name+".headers", cfg.Gateway.HeaderPoolSize, router.HeaderSize,
		packet.WithPoolLogger(logger))
	g.rx = packet.NewPool(name+".rx", cfg.Gateway.RxPoolSize, cfg.Gateway.RxBufferSize,
		packet.WithPoolLogger(logger))

	routerOpts := []router.Option{
		router.WithLogger(logger),
		router.WithMetrics(registry),
		router.WithSendTimeout(g.sendTimeout),
	}
	var inbound *flow.Queue
	if cfg.Gateway.InboundQueueSize > 0 {
		inbound = flow.NewQueue(name+".inbound", cfg.Gateway.InboundQueueSize,
			flow.WithQueueLogger(logger), flow.WithQueueMetrics(registry))
		routerOpts = append(routerOpts, router.WithInboundQueue(inbound))
	}

	r, err := router.New(name, g.headers, routerOpts...)
	if err != nil {
		return nil, err
	}
	g.router = r

	if inbound != nil {
		g.workers, err = worker.NewPool(inbound, cfg.Gateway.Workers,
			worker.WithLogger(logger),
			worker.WithMetricsRegistry(registry, "weave_inbound_worker"),
			worker.WithDrainOnStop())
		if err != nil {
			return nil, err
		}
	}

	if err := g.buildModules(); err != nil {
		return nil, err
	}
	if err := g.buildTransports(); err != nil {
		return nil, err
	}

	g.registerHealth()
	if cfg.Metrics.Enabled {
		g.metrics = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry)
		g.metrics.SetHealthHandler(g.health)
	}
	return g, nil
}

func (g *gateway) registerHealth() {
	g.health = health.NewMonitor(g.cfg.Gateway.Name)
	g.health.Register("router", func() health.Status {
		if g.rx.Available() == 0 {
			return health.NewDegraded("router", "receive pool exhausted")
		}
		st := g.router.Stats()
		return health.NewHealthy("router",
			fmt.Sprintf("%d in, %d out", st.Inbound, st.Outbound))
	})
	if g.nats != nil {
		g.health.Register("nats", func() health.Status {
			if !g.nats.Connected() {
				return health.NewUnhealthy("nats", "not connected")
			}
			return health.NewHealthy("nats", "connected")
		})
	}
	if g.ws != nil {
		g.health.Register("websocket", func() health.Status {
			return health.NewHealthy("websocket",
				fmt.Sprintf("%d clients", g.ws.Stats().Clients))
		})
	}
}

func (g *gateway) buildModules() error {
	sinkOpts := []flow.SinkOption{flow.WithLogger(g.logger), flow.WithMetrics(g.registry)}
	srcOpts := []flow.SourceOption{flow.WithLogger(g.logger), flow.WithMetrics(g.registry)}

	g.echo = packet.NewSource("echo.out", srcOpts...)
	g.levelOut = packet.NewSource("level.out", srcOpts...)
	g.uptimeOut = packet.NewSource("uptime.out", srcOpts...)

	g.level = observable.New[uint8]("level", 0,
		observable.WithValidator[uint8](func(_ *observable.Observable[uint8], v uint8) error {
			if v > maxLevel {
				return errors.ErrInvalidArgument
			}
			return nil
		}),
		observable.WithLogger[uint8](g.logger),
		observable.WithMetrics[uint8](g.registry))
	if _, err := g.level.Connect(observable.NewObserver[uint8]("level.report", g.reportLevel)); err != nil {
		return err
	}

	uptime, err := method.New("uptime", 0, 8, g.handleUptime,
		method.WithLogger(g.logger), method.WithMetrics(g.registry))
	if err != nil {
		return err
	}
	g.uptime = uptime

	return g.router.Init(router.RouteTable{
		Inbound: []router.InboundRoute{
			{ID: idEcho, Sink: packet.NewSink("echo.in", g.handleEcho, sinkOpts...)},
			{ID: idLevelSet, Sink: packet.NewSink("level.in", g.handleLevelSet, sinkOpts...)},
			{ID: idUptime, Sink: packet.NewSink("uptime.in", g.handleUptimeRequest, sinkOpts...)},
		},
		Outbound: []router.OutboundRoute{
			{ID: idEcho, Source: g.echo},
			{ID: idLevel, Source: g.levelOut},
			{ID: idUptime, Source: g.uptimeOut},
		},
	})
}

func (g *gateway) buildTransports() error {
	if g.cfg.NATS.Enabled {
		cfg := g.cfg.NATS.Bridge()
		cfg.SendTimeout = g.sendTimeout
		opts := append([]natsbridge.Option{
			natsbridge.WithLogger(g.logger), natsbridge.WithMetrics(g.registry),
		}, g.natsOpts...)
		b, err := natsbridge.New(cfg, g.rx, opts...)
		if err != nil {
			return err
		}
		g.attach(b.Inbound(), b.Outbound())
		g.nats = b
	}

	if g.cfg.WebSocket.Enabled {
		cfg := g.cfg.WebSocket.Bridge()
		cfg.SendTimeout = g.sendTimeout
		b, err := wsbridge.New(cfg, g.rx,
			wsbridge.WithLogger(g.logger), wsbridge.WithMetrics(g.registry))
		if err != nil {
			return err
		}
		g.attach(b.Inbound(), b.Outbound())
		mux := http.NewServeMux()
		mux.Handle(b.Path(), b)
		g.wsServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", g.cfg.WebSocket.Port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.ws = b
	}
	return nil
}

// attach connects a transport to the router's network port.
func (g *gateway) attach(in *packet.Source, out *packet.Sink) {
	_, _ = in.Connect(g.router.NetworkSink())
	_, _ = g.router.NetworkSource().Connect(out)
}

func (g *gateway) start(ctx context.Context) error {
	if g.workers != nil {
		if err := g.workers.Start(ctx); err != nil {
			return err
		}
	}

	if g.nats != nil {
		if err := g.nats.Connect(ctx); err != nil {
			return err
		}
		if err := g.nats.Start(ctx); err != nil {
			return err
		}
	}

	if g.wsServer != nil {
		g.serve("websocket", g.wsServer.ListenAndServe)
		g.logger.Info("WebSocket endpoint listening",
			"addr", g.wsServer.Addr, "path", g.ws.Path())
	}
	if g.metrics != nil {
		g.serve("metrics", g.metrics.Start)
		g.logger.Info("Metrics endpoint listening", "url", g.metrics.Address())
	}
	return nil
}

func (g *gateway) serve(name string, fn func() error) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		if err := fn(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("Server failed", "server", name, "error", err)
		}
	}()
}

// stop shuts transports down before the workers so no frame arrives after the
// inbound queue is drained.
func (g *gateway) stop(timeout time.Duration) error {
	var errs []error

	if g.nats != nil {
		if err := g.nats.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if g.wsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := g.wsServer.Shutdown(ctx); err != nil {
			errs = append(errs, errors.Wrap(err, "Gateway", "stop", "shut down websocket listener"))
		}
		cancel()
		if err := g.ws.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if g.metrics != nil {
		if err := g.metrics.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if g.workers != nil {
		if err := g.workers.Stop(timeout); err != nil {
			errs = append(errs, err)
		}
	}
	g.wg.Wait()

	g.logger.Info("Gateway stopped", "router", g.router.Stats())
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

func (g *gateway) handleEcho(_ *packet.Sink, b *packet.Buffer) {
	if _, err := packet.SendRef(g.echo, b, g.sendTimeout); err != nil {
		g.logger.Debug("Echo not sent", "error", err)
	}
}

func (g *gateway) handleLevelSet(_ *packet.Sink, b *packet.Buffer) {
	if b.TotalLen() != 1 {
		g.logger.Debug("Level request dropped", "len", b.TotalLen())
		return
	}
	if _, err := g.level.Set(b.Bytes()[0]); err != nil {
		g.logger.Debug("Level rejected", "value", b.Bytes()[0], "error", err)
	}
}

func (g *gateway) reportLevel(o *observable.Observable[uint8]) {
	v, err := o.Get()
	if err != nil {
		return
	}
	if _, err := packet.Send(g.levelOut, packet.New([]byte{v}), g.sendTimeout); err != nil {
		g.logger.Debug("Level report not sent", "error", err)
	}
}

func (g *gateway) handleUptime(_ *method.Method, _, reply []byte) error {
	binary.BigEndian.PutUint64(reply, uint64(time.Since(g.started)/time.Second))
	return nil
}

func (g *gateway) handleUptimeRequest(_ *packet.Sink, b *packet.Buffer) {
	out := g.rx.Alloc(flow.NoWait)
	if out == nil {
		g.logger.Debug("Uptime reply dropped, no buffers")
		return
	}
	if meta, ok := b.Metadata(); ok {
		out.SetClientID(meta.ClientID)
	}

	reply := make([]byte, g.uptime.ReplySize())
	if err := g.uptime.Call(b.Bytes(), reply, time.Second); err != nil {
		out.Unref()
		g.logger.Warn("Uptime call failed", "error", err)
		return
	}
	if err := out.Append(reply); err != nil {
		out.Unref()
		g.logger.Debug("Uptime reply dropped", "error", err)
		return
	}
	if _, err := packet.Send(g.uptimeOut, out, g.sendTimeout); err != nil {
		g.logger.Debug("Uptime reply not sent", "error", err)
	}
}
