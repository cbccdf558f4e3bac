package packet

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/c360/weave/flow"
	"github.com/c360/weave/pkg/buffer"
)

// PoolStats is a snapshot of pool activity.
type PoolStats struct {
	Allocs    uint64 `json:"allocs"`
	Failures  uint64 `json:"failures"`
	Available int    `json:"available"`
	Capacity  int    `json:"capacity"`
}

// Pool is a fixed set of preallocated buffers. Exhaustion is reported to the
// caller as a nil buffer and never retried here.
type Pool struct {
	name    string
	bufSize int
	free    *buffer.Bounded[*Buffer]
	counter atomic.Uint32
	logger  *slog.Logger

	allocs   atomic.Uint64
	failures atomic.Uint64
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolLogger sets the logger for exhaustion events.
func WithPoolLogger(logger *slog.Logger) PoolOption {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPool preallocates count buffers of bufSize bytes each.
func NewPool(name string, count, bufSize int, opts ...PoolOption) *Pool {
	if count <= 0 {
		count = 1
	}
	p := &Pool{
		name:    name,
		bufSize: bufSize,
		free:    buffer.New[*Buffer](count),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	p.logger = p.logger.With("pool", name)

	for i := 0; i < count; i++ {
		_ = p.free.Put(&Buffer{data: make([]byte, 0, bufSize), limit: bufSize, pool: p}, buffer.NoWait)
	}
	return p
}

// Name returns the pool name.
func (p *Pool) Name() string { return p.name }

// BufferSize returns the capacity of each buffer.
func (p *Pool) BufferSize() int { return p.bufSize }

// Alloc takes a buffer, waiting up to timeout. The buffer is untagged
// (AnyID) and stamped with the next counter value. It returns nil when the
// pool stayed empty.
func (p *Pool) Alloc(timeout time.Duration) *Buffer {
	return p.AllocWithID(flow.AnyID, timeout)
}

// AllocWithID is Alloc with the packet ID preset to id.
func (p *Pool) AllocWithID(id flow.ID, timeout time.Duration) *Buffer {
	b, err := p.free.Take(timeout)
	if err != nil {
		p.failures.Add(1)
		p.logger.Debug("Pool exhausted", "error", err)
		return nil
	}

	b.data = b.data[:0]
	b.meta = Metadata{
		PacketID:  id,
		ClientID:  flow.AnyID,
		Counter:   p.counter.Add(1),
		Timestamp: time.Now(),
	}
	b.hasMeta = true
	b.refs.Store(1)
	p.allocs.Add(1)
	return b
}

func (p *Pool) release(b *Buffer) {
	b.data = b.data[:0]
	if err := p.free.Put(b, buffer.NoWait); err != nil {
		p.logger.Error("Buffer returned to full pool", "error", err)
	}
}

// Available returns the number of free buffers.
func (p *Pool) Available() int {
	return p.free.Len()
}

// Stats returns a snapshot of pool activity.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Allocs:    p.allocs.Load(),
		Failures:  p.failures.Load(),
		Available: p.free.Len(),
		Capacity:  p.free.Cap(),
	}
}
