package worker

import (
	"fmt"

	"github.com/c360/weave/errors"
)

// Sentinel errors for worker pool operations
var (
	// ErrPoolAlreadyStarted indicates Start() was called on an already-started pool
	ErrPoolAlreadyStarted = fmt.Errorf("worker pool: %w", errors.ErrAlreadyStarted)

	// ErrNilQueue indicates a nil queue was provided
	ErrNilQueue = fmt.Errorf("worker pool queue cannot be nil: %w", errors.ErrInvalidArgument)

	// ErrStopTimeout indicates the pool didn't stop within the timeout
	ErrStopTimeout = fmt.Errorf("worker pool: %w", errors.ErrStopTimeout)
)
