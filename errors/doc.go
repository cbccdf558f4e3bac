// Package errors provides the result taxonomy and wrapping conventions shared by
// every weave package.
//
// # Overview
//
// Delivery in weave is synchronous and reports every outcome as an error value.
// A small set of sentinels names each condition a caller can react to:
//
//   - ErrInvalidArgument: nil handle, size mismatch, zero-ref payload, port not connected,
//     or fan-out to more than one sink without payload ops
//   - ErrNoBuffers: a queue was full at enqueue time
//   - ErrNotSupported: queued mode without a queue, or an unknown sink mode
//   - ErrWouldBlock: nothing to process within the timeout
//   - ErrTimedOut: a method call did not complete in time
//   - ErrFiltered: the sink filter or payload ops rejected the payload
//   - ErrBusy: a publish is already in progress on the same observable
//   - ErrNotFound: unknown connection or route
//   - ErrNoMemory: an allocator is exhausted
//
// Callers compare with errors.Is; every wrapper in this package preserves the chain.
//
//	if err := sink.Deliver(buf); errors.Is(err, errors.ErrNoBuffers) {
//	    // queue full, payload already released
//	}
//
// # Error Classification
//
// On top of the sentinels sits a three-class system used by retry loops and
// transports:
//
//   - Transient: full queues, exhausted pools, timeouts, lost connections (retry recommended)
//   - Invalid: bad arguments, parse failures, filtered payloads (do not retry)
//   - Fatal: invalid configuration, stop timeouts (stop processing)
//
// Classify, IsTransient, IsInvalid and IsFatal inspect either a ClassifiedError in
// the chain or the well-known sentinels.
//
// # Error Wrapping Pattern
//
// All wrapping follows the format:
//
//	"component.method: action failed: %w"
//
// Wrap keeps the original classification. WrapTransient, WrapInvalid and WrapFatal
// attach an explicit class:
//
//	return errors.WrapTransient(err, "natsbridge", "Connect", "dial server")
//
// Retry loops pair with pkg/retry, passing IsTransient as the RetryIf
// predicate:
//
//	cfg := retry.Quick()
//	cfg.RetryIf = errors.IsTransient
//	err := retry.Do(ctx, cfg, connect)
package errors
