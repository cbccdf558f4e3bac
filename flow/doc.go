// Package flow is the in-process delivery core of weave: sources fan payloads
// out to sinks over connections, and sinks either run their handler in the
// emitting goroutine or defer it onto a bounded event queue.
//
// # Graph
//
//	src := flow.NewSource[*packet.Buffer]("sensor", flow.WithOps(packet.BufferOps))
//	log := flow.NewSink("logger", logHandler, flow.WithOps(packet.BufferOps))
//	q := flow.NewQueue("main", 16)
//	store := flow.NewSink("store", storeHandler, flow.WithQueue(q), flow.WithOps(packet.BufferOps))
//
//	src.Connect(log)
//	src.Connect(store)
//
//	n, err := src.Emit(buf, flow.NoWait) // n == 2, logger already ran
//	q.ProcessAll()                      // store runs here
//
// # Reference discipline
//
// Payloads are shared, never owned by a single sink. Ops takes one reference
// per sink reached (Ref) and releases it when that sink is done (Unref):
// right after an immediate handler returns, or after a queued event is
// processed or refused. Handlers therefore borrow the payload and must not
// release it themselves. Ref may also reject a payload, which filters it out
// for that sink.
//
// A source without ops cannot count references, so an emit that would reach
// more than one sink fails with errors.ErrInvalidArgument before delivering
// to any of them.
//
// Emit and Deliver leave the caller's own reference alone; EmitConsume and
// DeliverConsume release it once delivery is done, even on failure.
//
// # Route tags
//
// A payload implementing Tagged carries an ID. A source created WithTag
// stamps its ID on every payload it emits. A sink created WithFilter, or an
// edge created WithConnectionTag, accepts only payloads with the same ID or
// AnyID. Payloads without tag storage always behave as AnyID.
//
// # Queues
//
// Queue.Process handles one event, Queue.ProcessAll drains without waiting.
// A full queue refuses the event, releases its reference and counts a drop on
// the sink; other sinks of the same emit are unaffected. Malformed events
// (no sink, no handler, payload already freed) are rejected, never dispatched.
//
// # Concurrency
//
// Connect, Disconnect and Emit may be called from any goroutine. Emit takes a
// snapshot of the connection list under a read lock and never holds the lock
// while a handler runs, so handlers may connect or disconnect freely.
// Delivery follows connection order; each queue is FIFO.
package flow
