// Package metric provides Prometheus-based metrics for weave components and an
// HTTP server exposing them.
//
// # Architecture
//
// The package has three layers:
//
//  1. Core Metrics: delivery-core vectors registered automatically (Metrics type)
//  2. Component Registry: extensible registration for component-specific metrics (MetricsRegistrar)
//  3. HTTP Server: /metrics endpoint plus /health (Server type); the health
//     answer is a plain "OK" unless SetHealthHandler installs a health.Monitor
//
// # Basic Usage
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(9090, "/metrics", registry)
//
//	go func() {
//	    if err := server.Start(); err != nil {
//	        logger.Error("metrics server failed", "error", err)
//	    }
//	}()
//
// Components opt in through their WithMetrics option:
//
//	src := flow.NewSource[*packet.Buffer]("app", flow.WithSourceMetrics(registry))
//
// # Core Metrics
//
//   - weave_source_emits_total, weave_source_deliveries_total {source}
//   - weave_sink_handled_total, weave_sink_dropped_total {sink}
//   - weave_queue_depth {queue}, weave_queue_events_total {queue, result}
//   - weave_router_packets_total {router, direction}, weave_router_errors_total {router, kind}
//   - weave_method_calls_total {method, result}, weave_method_duration_seconds {method}
//   - weave_observable_sets_total {observable, result}
//   - weave_transport_messages_total {transport, direction}, weave_transport_connected {transport}
//
// Every Record method is a no-op on a nil *Metrics, and CoreMetrics returns nil
// for a nil *MetricsRegistry, so a component without metrics simply holds nil.
//
// Go runtime and process collectors are registered alongside the core metrics.
//
// # Thread Safety
//
// MetricsRegistry is safe for concurrent use. Prometheus collectors are
// themselves concurrency-safe.
package metric
