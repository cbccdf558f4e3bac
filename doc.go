// Package weave is an in-process message plumbing kit for gateways that move
// small binary frames between network transports and application modules.
//
// The root package holds only this overview of the layered packages.
//
// # Delivery core
//
// Package flow connects Sources to Sinks. Emitting on a Source delivers the
// payload synchronously to every connected Sink, either by calling the sink's
// handler directly or by enqueuing it on a bounded Queue drained later by a
// worker. Sinks may filter payloads and may supply payload ops that take and
// release references, so one payload can fan out to many sinks without a
// copy. All outcomes are error values from package errors.
//
// Package packet specializes the core for reference-counted byte buffers
// allocated from fixed-size pools, with per-buffer metadata (packet ID,
// client ID, timestamp) and chaining of a header buffer in front of a
// payload buffer.
//
// # Modules
//
//   - router: frames packets with a 4-byte header and dispatches inbound
//     frames to per-ID sinks; outbound payloads get a header chained on.
//   - method: synchronous request/reply calls with fixed request and reply
//     sizes, and Port/Signal helpers for one-way notifications.
//   - observable: a typed value with validation and change notification to
//     registered observers.
//
// # Ambient packages
//
//   - metric: Prometheus registry, core metrics and the /metrics server.
//   - health: aggregated liveness checks served on /health.
//   - config: JSON or YAML gateway configuration with WEAVE_* overrides.
//   - pkg/worker: goroutines draining a flow queue.
//   - pkg/retry: exponential backoff for dials.
//   - pkg/buffer: the bounded free list behind packet pools.
//
// # Transports
//
// transport/natsbridge and transport/wsbridge carry router frames over NATS
// subjects and WebSocket connections. Both emit inbound frames from a
// packet.Source and accept outbound frames on a packet.Sink, so attaching one
// to a router is two Connect calls:
//
//	bridge.Inbound().Connect(r.NetworkSink())
//	r.NetworkSource().Connect(bridge.Outbound())
//
// cmd/weave wires everything into a runnable gateway:
//
//	weave --config configs/weave.yaml
//
// # Testing
//
// Unit tests use testify and run with go test ./... . The NATS round trip
// test starts a broker with testcontainers and needs the integration tag:
//
//	go test -tags integration ./transport/natsbridge/...
package weave
