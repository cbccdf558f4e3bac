// Package method provides request/reply calls and fire-and-forget signals on
// top of flow sinks.
//
// A Method declares fixed request and reply sizes and embeds a sink. Calls are
// dispatched through that sink like any other payload: without a queue the
// handler runs in the caller's goroutine, with WithQueue it runs on whichever
// worker drains the queue.
//
// Every call owns a private copy of its request and a private reply buffer.
// The caller's reply slice is written only by a Wait that observed
// completion, so a call that timed out can still finish later without
// touching memory the caller has moved on from.
//
//	m, _ := method.New("add", 8, 4, addHandler, method.WithQueue(q))
//	reply := make([]byte, 4)
//	if err := m.Call(req, reply, time.Second); err != nil {
//	    return err
//	}
//
// Ports are call sites wired to a method at runtime. Connect fails when the
// port's sizes differ from the method's, and calls through an unconnected
// port fail with errors.ErrInvalidArgument.
//
// A Signal copies each event once and delivers it to every connected handler.
package method
