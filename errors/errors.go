package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass tells a caller how to react to an error.
type ErrorClass int

const (
	// ErrorTransient errors may succeed when retried.
	ErrorTransient ErrorClass = iota
	// ErrorInvalid errors come from bad input or configuration.
	ErrorInvalid
	// ErrorFatal errors should stop processing.
	ErrorFatal
)

func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Result sentinels. Every delivery, queue, router and method operation
// reports failure through one of these, usually wrapped with context.
var (
	// ErrInvalidArgument covers nil handles, size mismatches, zero-ref payloads,
	// unconnected ports and fan-out to several sinks without payload ops.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNoMemory is reported when an allocator is exhausted.
	ErrNoMemory = errors.New("out of memory")
	// ErrNoBuffers is reported when a queue is full at enqueue time.
	ErrNoBuffers = errors.New("no buffer space available")
	// ErrNotSupported is reported for queued mode without a queue or an unknown sink mode.
	ErrNotSupported = errors.New("operation not supported")
	// ErrWouldBlock is reported when a non-blocking or bounded wait found nothing to do.
	ErrWouldBlock = errors.New("resource temporarily unavailable")
	// ErrTimedOut is reported when a bounded wait for completion expired.
	ErrTimedOut = errors.New("timed out")
	// ErrFiltered is reported when a sink's filter or payload ops rejected a payload.
	ErrFiltered = errors.New("payload filtered")
	// ErrBusy is reported when an operation would re-enter a publish in progress.
	ErrBusy = errors.New("resource busy")
	// ErrNotFound is reported for unknown connections and routes.
	ErrNotFound = errors.New("not found")

	ErrAlreadyStarted = errors.New("component already started")
	ErrNotStarted     = errors.New("component not started")
	ErrStopTimeout    = errors.New("timeout waiting for component to stop")

	ErrParsingFailed = errors.New("parsing failed")
	ErrPayloadTooBig = errors.New("payload too large")

	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")

	ErrNoConnection      = errors.New("no connection available")
	ErrConnectionTimeout = errors.New("connection timeout")
)

// classRule maps well-known sentinels and message fragments to a class for
// errors that carry no ClassifiedError.
type classRule struct {
	sentinels []error
	patterns  []string
}

var rules = map[ErrorClass]classRule{
	ErrorTransient: {
		sentinels: []error{
			ErrNoBuffers, ErrWouldBlock, ErrTimedOut, ErrBusy, ErrNoMemory,
			ErrNoConnection, ErrConnectionTimeout,
			context.DeadlineExceeded, context.Canceled,
		},
		patterns: []string{"timeout", "connection", "temporary", "unavailable"},
	},
	ErrorFatal: {
		sentinels: []error{ErrInvalidConfig, ErrMissingConfig, ErrStopTimeout},
		patterns:  []string{"fatal", "panic", "corrupted"},
	},
	ErrorInvalid: {
		sentinels: []error{
			ErrInvalidArgument, ErrParsingFailed, ErrFiltered,
			ErrNotSupported, ErrNotFound, ErrPayloadTooBig,
		},
	},
}

// ClassifiedError wraps an error with its class and origin.
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// is reports whether err belongs to class. An explicit ClassifiedError in the
// chain decides; otherwise the sentinel and message rules apply.
func is(err error, class ErrorClass) bool {
	if err == nil {
		return false
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == class
	}

	rule := rules[class]
	for _, s := range rule.sentinels {
		if errors.Is(err, s) {
			return true
		}
	}
	if len(rule.patterns) == 0 {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range rule.patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool { return is(err, ErrorTransient) }

// IsFatal reports whether err should stop processing.
func IsFatal(err error) bool { return is(err, ErrorFatal) }

// IsInvalid reports whether err was caused by bad input.
func IsInvalid(err error) bool { return is(err, ErrorInvalid) }

// Classify returns the class of err. Unknown errors count as transient.
func Classify(err error) ErrorClass {
	switch {
	case err == nil, IsTransient(err):
		return ErrorTransient
	case IsFatal(err):
		return ErrorFatal
	case IsInvalid(err):
		return ErrorInvalid
	}
	return ErrorTransient
}

// Is re-exports errors.Is so callers need one import.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As re-exports errors.As.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// New re-exports errors.New.
func New(text string) error {
	return errors.New(text)
}

// Wrap adds context in the form "component.method: action failed: %w".
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func wrapClass(class ErrorClass, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrapped := Wrap(err, component, method, action)
	return &ClassifiedError{
		Class:     class,
		Err:       wrapped,
		Message:   wrapped.Error(),
		Component: component,
		Operation: method,
	}
}

// WrapTransient wraps err with context and marks it transient.
func WrapTransient(err error, component, method, action string) error {
	return wrapClass(ErrorTransient, err, component, method, action)
}

// WrapFatal wraps err with context and marks it fatal.
func WrapFatal(err error, component, method, action string) error {
	return wrapClass(ErrorFatal, err, component, method, action)
}

// WrapInvalid wraps err with context and marks it invalid.
func WrapInvalid(err error, component, method, action string) error {
	return wrapClass(ErrorInvalid, err, component, method, action)
}
