package retry

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math"
	"math/rand/v2"
	"time"
)

// NonRetryableError marks an error that stops the retry loop at once.
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("non-retryable: %v", e.Err)
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

// NonRetryable wraps err so Do returns it without another attempt.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// IsNonRetryable reports whether err was wrapped with NonRetryable.
func IsNonRetryable(err error) bool {
	var nre *NonRetryableError
	return errors.As(err, &nre)
}

// Config describes an exponential backoff.
type Config struct {
	MaxAttempts  int           // total attempts; 0 or less runs once
	InitialDelay time.Duration // delay before the second attempt, default 100ms
	MaxDelay     time.Duration // delay cap, default 5s
	Multiplier   float64       // growth per attempt, default 2
	AddJitter    bool          // add up to 25% to each delay

	// RetryIf decides whether a failed attempt is retried. Nil retries every
	// error not marked with NonRetryable.
	RetryIf func(error) bool
	// OnRetry is called before sleeping ahead of attempt+1.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultConfig returns 3 attempts backing off from 100ms to 5s.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

// Quick returns 10 attempts backing off from 50ms to 1s, for startup dials.
func Quick() Config {
	return Config{
		MaxAttempts:  10,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   1.5,
		AddJitter:    true,
	}
}

func (cfg Config) withDefaults() (Config, error) {
	switch {
	case cfg.InitialDelay < 0, cfg.MaxDelay < 0, cfg.Multiplier < 0:
		return cfg, errors.New("retry: negative delay or multiplier")
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialDelay == 0 {
		cfg.InitialDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	if cfg.Multiplier == 0 {
		cfg.Multiplier = 2.0
	}
	cfg.Multiplier = math.Min(cfg.Multiplier, 1000)
	if cfg.MaxDelay < cfg.InitialDelay {
		return cfg, errors.New("retry: MaxDelay below InitialDelay")
	}
	return cfg, nil
}

// Delays yields the sleep before each retry, MaxAttempts-1 values in all.
// Jitter is applied when AddJitter is set. Call on a config that passed
// through Do's defaults, or set every field.
func (cfg Config) Delays() iter.Seq[time.Duration] {
	return func(yield func(time.Duration) bool) {
		delay := cfg.InitialDelay
		for i := 1; i < cfg.MaxAttempts; i++ {
			sleep := delay
			if cfg.AddJitter && delay >= 4 {
				sleep += rand.N(delay / 4)
			}
			if !yield(sleep) {
				return
			}
			delay = time.Duration(math.Min(float64(delay)*cfg.Multiplier, float64(cfg.MaxDelay)))
		}
	}
}

func (cfg Config) retryable(err error) bool {
	if IsNonRetryable(err) {
		return false
	}
	return cfg.RetryIf == nil || cfg.RetryIf(err)
}

// Do runs fn until it succeeds, returns an error that is not retryable, the
// attempts run out, or ctx is done.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return err
	}

	attempt := 1
	err = fn()
	for sleep := range cfg.Delays() {
		if err == nil || !cfg.retryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return fmt.Errorf("retry cancelled after attempt %d: %w", attempt, ctx.Err())
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, sleep)
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled during backoff before attempt %d: %w", attempt+1, ctx.Err())
		case <-timer.C:
		}

		attempt++
		err = fn()
	}
	if err == nil || !cfg.retryable(err) {
		return err
	}
	return fmt.Errorf("retry failed after %d attempts: %w", attempt, err)
}

// DoWithResult is Do for functions that return a value.
func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func() error {
		var err error
		result, err = fn()
		return err
	})
	return result, err
}
