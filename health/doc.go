// Package health reports gateway liveness over HTTP.
//
// Each part of the gateway (router, transports) registers a Check with a
// Monitor. The monitor runs the checks on demand and rolls them up into a
// single Status: unhealthy if any part is unhealthy, degraded if any part is
// degraded, healthy otherwise.
//
//	mon := health.NewMonitor("weave")
//	mon.Register("nats", func() health.Status {
//	    if !bridge.IsConnected() {
//	        return health.NewUnhealthy("nats", "disconnected")
//	    }
//	    return health.NewHealthy("nats", "connected")
//	})
//	mux.Handle("/health", mon)
//
// Messages built with FromError have URLs, paths, addresses and credentials
// replaced by placeholders, since the endpoint is usually unauthenticated.
package health
