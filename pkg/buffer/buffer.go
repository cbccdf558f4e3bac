package buffer

import (
	"time"

	"github.com/c360/weave/errors"
)

// Timeout conventions shared by Put and Take.
const (
	// NoWait fails immediately when the operation cannot proceed.
	NoWait time.Duration = 0
	// Forever waits until the operation can proceed.
	Forever time.Duration = -1
)

// Bounded is a fixed-capacity FIFO safe for concurrent producers and consumers.
// A full buffer rejects new items; nothing is ever overwritten.
type Bounded[T any] struct {
	items    chan T
	capacity int
	stats    *Statistics
}

// New creates a bounded buffer. Capacity below one is raised to one.
func New[T any](capacity int) *Bounded[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Bounded[T]{
		items:    make(chan T, capacity),
		capacity: capacity,
		stats:    NewStatistics(),
	}
}

// Put appends item, waiting up to timeout for space.
// It returns errors.ErrNoBuffers when the buffer stayed full.
func (b *Bounded[T]) Put(item T, timeout time.Duration) error {
	if b == nil || b.items == nil {
		return errors.ErrInvalidArgument
	}

	select {
	case b.items <- item:
		b.stats.Write(len(b.items))
		return nil
	default:
	}

	switch {
	case timeout == NoWait:
	case timeout < 0:
		b.items <- item
		b.stats.Write(len(b.items))
		return nil
	default:
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case b.items <- item:
			b.stats.Write(len(b.items))
			return nil
		case <-timer.C:
		}
	}

	b.stats.Reject()
	return errors.ErrNoBuffers
}

// Take removes the oldest item, waiting up to timeout for one to arrive.
// It returns errors.ErrWouldBlock when nothing arrived in time.
func (b *Bounded[T]) Take(timeout time.Duration) (T, error) {
	var zero T
	if b == nil || b.items == nil {
		return zero, errors.ErrInvalidArgument
	}

	select {
	case item := <-b.items:
		b.stats.Read(len(b.items))
		return item, nil
	default:
	}

	switch {
	case timeout == NoWait:
		return zero, errors.ErrWouldBlock
	case timeout < 0:
		item := <-b.items
		b.stats.Read(len(b.items))
		return item, nil
	default:
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case item := <-b.items:
			b.stats.Read(len(b.items))
			return item, nil
		case <-timer.C:
			return zero, errors.ErrWouldBlock
		}
	}
}

// Len returns the number of items waiting.
func (b *Bounded[T]) Len() int {
	if b == nil {
		return 0
	}
	return len(b.items)
}

// Cap returns the maximum number of items the buffer can hold.
func (b *Bounded[T]) Cap() int {
	if b == nil {
		return 0
	}
	return b.capacity
}

// Stats returns buffer statistics (always collected).
func (b *Bounded[T]) Stats() *Statistics {
	if b == nil {
		return nil
	}
	return b.stats
}
