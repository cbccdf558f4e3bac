package packet

import (
	"time"

	"github.com/c360/weave/flow"
)

// HighRefCount is the reference count above which Send logs a warning.
const HighRefCount = 10

// Source is a flow source of packet buffers.
type Source = flow.Source[*Buffer]

// Sink is a flow sink of packet buffers.
type Sink = flow.Sink[*Buffer]

// Handler consumes a borrowed packet buffer.
type Handler = flow.Handler[*Buffer]

type bufferOps struct{}

func (bufferOps) Ref(b *Buffer, _ *Sink) bool {
	b.Ref()
	return true
}

func (bufferOps) Unref(b *Buffer) {
	b.Unref()
}

// BufferOps counts one buffer reference per sink reached.
var BufferOps flow.Ops[*Buffer] = bufferOps{}

// NewSource creates a buffer source using BufferOps.
func NewSource(name string, opts ...flow.SourceOption) *Source {
	return flow.NewSource[*Buffer](name, append([]flow.SourceOption{flow.WithOps(BufferOps)}, opts...)...)
}

// NewSink creates a buffer sink using BufferOps.
func NewSink(name string, handler Handler, opts ...flow.SinkOption) *Sink {
	return flow.NewSink(name, handler, append([]flow.SinkOption{flow.WithOps(BufferOps)}, opts...)...)
}

// Send emits b and releases the caller's reference, whatever the outcome.
func Send(src *Source, b *Buffer, timeout time.Duration) (int, error) {
	if b != nil && b.RefCount() > HighRefCount {
		src.Logger().Warn("High buffer reference count", "refs", b.RefCount())
	}
	return src.EmitConsume(b, timeout)
}

// SendRef emits b and leaves the caller's reference alone.
func SendRef(src *Source, b *Buffer, timeout time.Duration) (int, error) {
	return src.Emit(b, timeout)
}
