// Package buffer provides a generic, thread-safe bounded FIFO used as the
// storage behind weave event queues.
//
// A Bounded buffer never overwrites: when it is full, Put waits up to the
// given timeout and then reports errors.ErrNoBuffers so the caller can release
// whatever the rejected item referenced. Take waits up to its timeout and then
// reports errors.ErrWouldBlock.
//
// Timeouts follow one convention throughout weave:
//
//	buffer.NoWait  // 0: fail immediately
//	buffer.Forever // negative: wait indefinitely
//	50 * time.Millisecond // bounded wait
//
// # Usage
//
//	buf := buffer.New[Event](16)
//	if err := buf.Put(ev, buffer.NoWait); err != nil {
//	    release(ev)
//	}
//	ev, err := buf.Take(100 * time.Millisecond)
//
// Statistics are always collected and can be read at any time with Stats().
package buffer
