// Package retry provides exponential backoff retry for transient failures.
//
// weave uses it where a component reaches outside the process, most notably when
// the NATS bridge dials its server. Delivery paths never retry: a full queue or
// an exhausted pool is reported to the caller immediately.
//
// # Usage
//
//	err := retry.Do(ctx, retry.Quick(), func() error {
//	    return bridge.dial()
//	})
//
// Classification is left to the caller through RetryIf, typically the errors
// package's IsTransient:
//
//	cfg := retry.DefaultConfig()
//	cfg.RetryIf = errors.IsTransient
//	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
//	    logger.Warn("connect failed, retrying", "attempt", attempt, "delay", delay, "error", err)
//	}
//
// Errors wrapped with NonRetryable always stop the loop.
//
// # Presets
//
//   - DefaultConfig(): 3 attempts, 100ms-5s delay
//   - Quick(): 10 attempts, 50ms-1s delay
//
// Delays exposes the backoff schedule as an iterator.
//
// All operations respect context cancellation, both while fn runs and during
// the backoff sleep.
package retry
