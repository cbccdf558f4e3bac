// Package worker runs goroutines that drain event queues.
//
// # Overview
//
// A queued sink only defers work; something has to call Process on its
// queue. Pool owns that loop: a fixed number of goroutines each call
// Process with a short poll interval until the pool is stopped or its
// context is cancelled.
//
//	q := flow.NewQueue("rx", 64)
//	sink := flow.NewSink("rx-handler", handle, flow.WithQueue(q))
//
//	pool, err := worker.NewPool(q, 4,
//	    worker.WithMetricsRegistry(registry, "rx_worker"),
//	    worker.WithDrainOnStop(),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := pool.Start(ctx); err != nil {
//	    return err
//	}
//	defer pool.Stop(5 * time.Second)
//
// # Ordering
//
// With one worker events are handled in enqueue order. With several workers
// events are still dequeued in order but handlers may overlap and finish out
// of order.
//
// # Shutdown
//
// Stop cancels the workers and waits up to its timeout for them to return.
// A handler that never returns makes Stop fail with ErrStopTimeout; calling
// Stop again keeps waiting. Events still queued when the workers exit stay
// queued, holding their payload references, unless WithDrainOnStop is set.
//
// # Observability
//
// Statistics are always tracked with atomics. WithMetricsRegistry adds
// Prometheus counters for processed and failed events, idle polls, and a
// processing time histogram, all named with the given prefix.
package worker
