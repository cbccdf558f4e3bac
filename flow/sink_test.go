package flow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/weave/errors"
)

func TestSink_DeliverImmediate(t *testing.T) {
	rec := &recorder{}
	sink := NewSink("s", rec.handler("s"), WithOps(testOps))

	p := newPayload("a")
	require.NoError(t, sink.Deliver(p, NoWait))
	assert.Equal(t, []string{"s:a"}, rec.snapshot())
	assert.Equal(t, int32(1), p.RefCount())

	require.NoError(t, sink.DeliverConsume(p, NoWait))
	assert.Equal(t, int32(0), p.RefCount())
	assert.Equal(t, uint64(2), sink.Stats().Handled)
}

func TestSink_HandlerBorrowsReference(t *testing.T) {
	var during int32
	sink := NewSink("s", func(_ *Sink[*testPayload], p *testPayload) {
		during = p.RefCount()
	}, WithOps(testOps))

	p := newPayload("a")
	require.NoError(t, sink.Deliver(p, NoWait))
	assert.Equal(t, int32(2), during)
	assert.Equal(t, int32(1), p.RefCount())
}

func TestSink_DeliverErrors(t *testing.T) {
	rejectAll := OpsFuncs[*testPayload]{
		RefFunc: func(*testPayload, *Sink[*testPayload]) bool { return false },
	}
	noop := func(*Sink[*testPayload], *testPayload) {}

	tests := []struct {
		name    string
		sink    *Sink[*testPayload]
		payload *testPayload
		tag     ID
		wantErr error
	}{
		{"nil sink", nil, newPayload("a"), AnyID, errors.ErrInvalidArgument},
		{"nil payload", NewSink("s", noop), nil, AnyID, errors.ErrInvalidArgument},
		{"nil handler", NewSink[*testPayload]("s", nil), newPayload("a"), AnyID, errors.ErrInvalidArgument},
		{"filter mismatch", NewSink("s", noop, WithFilter(0x20)), newPayload("a"), 0x10, errors.ErrFiltered},
		{"ops reject", NewSink("s", noop, WithOps[*testPayload](rejectAll)), newPayload("a"), AnyID, errors.ErrFiltered},
		{"queued without queue", NewSink("s", noop, WithMode(Queued)), newPayload("a"), AnyID, errors.ErrNotSupported},
		{"invalid mode", NewSink("s", noop, WithMode(Mode(42))), newPayload("a"), AnyID, errors.ErrNotSupported},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.payload != nil {
				tt.payload.SetRouteTag(tt.tag)
			}
			err := tt.sink.Deliver(tt.payload, NoWait)
			assert.ErrorIs(t, err, tt.wantErr)
			if tt.payload != nil {
				assert.Equal(t, int32(1), tt.payload.RefCount())
			}
		})
	}
}

func TestSink_QueuedWithoutQueueReleasesReference(t *testing.T) {
	sink := NewSink("s", func(*Sink[*testPayload], *testPayload) {}, WithMode(Queued), WithOps(testOps))

	p := newPayload("a")
	assert.ErrorIs(t, sink.Deliver(p, NoWait), errors.ErrNotSupported)
	assert.Equal(t, int32(1), p.RefCount())
	assert.ErrorIs(t, sink.DeliverConsume(p, NoWait), errors.ErrNotSupported)
	assert.Equal(t, int32(0), p.RefCount())
}

func TestSink_QueueFullDropsAndReleases(t *testing.T) {
	q := NewQueue("tiny", 1)
	sink := NewSink("s", func(*Sink[*testPayload], *testPayload) {}, WithQueue(q), WithOps(testOps))

	first := newPayload("first")
	require.NoError(t, sink.Deliver(first, NoWait))

	second := newPayload("second")
	err := sink.DeliverConsume(second, NoWait)
	assert.ErrorIs(t, err, errors.ErrNoBuffers)
	assert.Equal(t, uint64(1), sink.Stats().Dropped)
	assert.Equal(t, int32(0), second.RefCount(), "refused payload fully released")

	assert.Equal(t, 1, q.ProcessAll())
	assert.Equal(t, int32(1), first.RefCount())
	assert.Equal(t, QueueStats{Enqueued: 1, Full: 1, Processed: 1, MaxDepth: 1}, q.Stats())
}

func TestSink_QueueFullBoundedWait(t *testing.T) {
	q := NewQueue("tiny", 1)
	sink := NewSink("s", func(*Sink[*testPayload], *testPayload) {}, WithQueue(q), WithOps(testOps))
	require.NoError(t, sink.Deliver(newPayload("first"), NoWait))

	start := time.Now()
	err := sink.Deliver(newPayload("second"), 20*time.Millisecond)
	assert.ErrorIs(t, err, errors.ErrNoBuffers)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestSink_QueuedDeliveryWaitsForSpace(t *testing.T) {
	q := NewQueue("tiny", 1)
	sink := NewSink("s", func(*Sink[*testPayload], *testPayload) {}, WithQueue(q), WithOps(testOps))
	require.NoError(t, sink.Deliver(newPayload("first"), NoWait))

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = q.Process(NoWait)
	}()

	require.NoError(t, sink.Deliver(newPayload("second"), Forever))
	assert.Equal(t, 1, q.Len())
}

func TestSink_Accessors(t *testing.T) {
	q := NewQueue("q", 1)
	sink := NewSink("s", func(*Sink[*testPayload], *testPayload) {},
		WithQueue(q), WithFilter(0x42), WithUserData("ctx"))

	assert.Equal(t, "s", sink.Name())
	assert.Equal(t, Queued, sink.Mode())
	assert.Equal(t, ID(0x42), sink.Filter())
	assert.Same(t, q, sink.Queue())
	assert.Equal(t, "ctx", sink.UserData())

	var nilSink *Sink[*testPayload]
	assert.Equal(t, "", nilSink.Name())
	assert.Equal(t, SinkStats{}, nilSink.Stats())
	assert.NotPanics(t, func() { nilSink.ResetStats() })
}

func TestSink_ResetStats(t *testing.T) {
	sink := NewSink("s", func(*Sink[*testPayload], *testPayload) {})
	require.NoError(t, sink.Deliver(newPayload("a"), NoWait))
	require.Equal(t, uint64(1), sink.Stats().Handled)

	sink.ResetStats()
	assert.Equal(t, SinkStats{}, sink.Stats())
}

func TestMode_String(t *testing.T) {
	assert.Equal(t, "immediate", Immediate.String())
	assert.Equal(t, "queued", Queued.String())
	assert.Equal(t, "invalid", Mode(9).String())
}
