package packet

import (
	"io"
	"sync/atomic"
	"time"

	"github.com/c360/weave/errors"
	"github.com/c360/weave/flow"
)

// Metadata travels with a pool buffer.
type Metadata struct {
	PacketID  flow.ID
	ClientID  flow.ID
	Counter   uint32
	Timestamp time.Time
}

// Buffer is a reference-counted byte buffer. Fragments chained after it are
// owned by it and released with it.
type Buffer struct {
	refs    atomic.Int32
	data    []byte
	limit   int
	meta    Metadata
	hasMeta bool

	next   *Buffer
	parent *Buffer
	pool   *Pool
}

// New wraps data in a standalone buffer holding one reference. It carries no
// metadata, so route tags are ignored and it behaves as untagged.
func New(data []byte) *Buffer {
	b := &Buffer{data: data}
	b.refs.Store(1)
	return b
}

// Ref takes one more reference and returns b.
func (b *Buffer) Ref() *Buffer {
	b.refs.Add(1)
	return b
}

// Unref releases one reference. The last release frees the buffer, its
// fragments and any buffer it is a view of. Releasing a freed buffer is a no-op.
func (b *Buffer) Unref() {
	for {
		n := b.refs.Load()
		if n <= 0 {
			return
		}
		if b.refs.CompareAndSwap(n, n-1) {
			if n == 1 {
				b.free()
			}
			return
		}
	}
}

func (b *Buffer) free() {
	next, parent := b.next, b.parent
	b.next, b.parent = nil, nil
	if next != nil {
		next.Unref()
	}
	if parent != nil {
		parent.Unref()
	}
	if b.pool != nil {
		b.pool.release(b)
	}
}

// RefCount returns the number of live references.
func (b *Buffer) RefCount() int32 {
	return b.refs.Load()
}

// Bytes returns this fragment's data without copying.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Len returns the length of this fragment.
func (b *Buffer) Len() int {
	return len(b.data)
}

// TotalLen returns the length of the whole fragment chain.
func (b *Buffer) TotalLen() int {
	n := 0
	for f := b; f != nil; f = f.next {
		n += len(f.data)
	}
	return n
}

// Append adds p to this fragment. Pool buffers cannot grow past the pool's
// buffer size.
func (b *Buffer) Append(p []byte) error {
	if b.limit > 0 && len(b.data)+len(p) > b.limit {
		return errors.WrapInvalid(errors.ErrPayloadTooBig, "Buffer", "Append", "grow fragment")
	}
	b.data = append(b.data, p...)
	return nil
}

// Chain appends frag at the end of the fragment chain. The chain takes over
// the caller's reference to frag.
func (b *Buffer) Chain(frag *Buffer) {
	tail := b
	for tail.next != nil {
		tail = tail.next
	}
	tail.next = frag
}

// Next returns the following fragment, or nil.
func (b *Buffer) Next() *Buffer {
	return b.next
}

// Flatten copies the whole fragment chain into one slice.
func (b *Buffer) Flatten() []byte {
	out := make([]byte, 0, b.TotalLen())
	for f := b; f != nil; f = f.next {
		out = append(out, f.data...)
	}
	return out
}

// Compact returns a standalone buffer holding the whole fragment chain in one
// fragment, with a copy of b's metadata. b is left alone.
func (b *Buffer) Compact() *Buffer {
	c := &Buffer{data: b.Flatten(), meta: b.meta, hasMeta: b.hasMeta}
	c.refs.Store(1)
	return c
}

// WriteTo writes every fragment to w in order.
func (b *Buffer) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for f := b; f != nil; f = f.next {
		n, err := w.Write(f.data)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// View returns a buffer sharing b's data from offset on, with a copy of b's
// metadata and the rest of b's fragment chain. The view keeps b alive until
// the view itself is released.
func (b *Buffer) View(offset int) (*Buffer, error) {
	if offset < 0 || offset > len(b.data) {
		return nil, errors.WrapInvalid(errors.ErrInvalidArgument, "Buffer", "View", "check offset")
	}
	v := &Buffer{
		data:    b.data[offset:len(b.data):len(b.data)],
		meta:    b.meta,
		hasMeta: b.hasMeta,
		parent:  b.Ref(),
	}
	if b.next != nil {
		v.next = b.next.Ref()
	}
	v.refs.Store(1)
	return v, nil
}

// Metadata returns the buffer metadata, false for standalone buffers.
func (b *Buffer) Metadata() (Metadata, bool) {
	return b.meta, b.hasMeta
}

// SetClientID records the originating client. It reports false when the
// buffer has no metadata.
func (b *Buffer) SetClientID(id flow.ID) bool {
	if !b.hasMeta {
		return false
	}
	b.meta.ClientID = id
	return true
}

// RouteTag implements flow.Tagged.
func (b *Buffer) RouteTag() (flow.ID, bool) {
	if !b.hasMeta {
		return flow.AnyID, false
	}
	return b.meta.PacketID, true
}

// SetRouteTag implements flow.Tagged.
func (b *Buffer) SetRouteTag(id flow.ID) bool {
	if !b.hasMeta {
		return false
	}
	b.meta.PacketID = id
	return true
}
