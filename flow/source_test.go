package flow

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/weave/errors"
	"github.com/c360/weave/metric"
)

func TestSource_EmitWithoutConnections(t *testing.T) {
	src := NewSource[*testPayload]("empty", WithOps(testOps))

	n, err := src.Emit(newPayload("x"), NoWait)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, uint64(1), src.Stats().Sent)
}

func TestSource_EmitInvalidArguments(t *testing.T) {
	var nilSource *Source[*testPayload]
	_, err := nilSource.Emit(newPayload("x"), NoWait)
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)

	src := NewSource[*testPayload]("src", WithOps(testOps))
	_, err = src.Emit(nil, NoWait)
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)

	_, err = src.Connect(nil)
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)
}

func TestSource_ImmediateAndQueued(t *testing.T) {
	rec := &recorder{}
	q := NewQueue("main", 4)
	src := NewSource[*testPayload]("src", WithOps(testOps))
	immediate := NewSink("immediate", rec.handler("I"), WithOps(testOps))
	queued := NewSink("queued", rec.handler("Q"), WithQueue(q), WithOps(testOps))

	_, err := src.Connect(immediate)
	require.NoError(t, err)
	_, err = src.Connect(queued)
	require.NoError(t, err)

	p := newPayload("a")
	n, err := src.Emit(p, NoWait)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"I:a"}, rec.snapshot())
	assert.Equal(t, int32(2), p.RefCount(), "queue holds one reference")

	require.NoError(t, q.Process(NoWait))
	assert.Equal(t, []string{"I:a", "Q:a"}, rec.snapshot())
	assert.Equal(t, int32(1), p.RefCount())

	assert.Equal(t, SourceStats{Sent: 1, Delivered: 2, Queued: 1}, src.Stats())
	assert.Equal(t, SinkStats{Handled: 1}, immediate.Stats())
	assert.Equal(t, SinkStats{Handled: 1}, queued.Stats())
}

func TestSource_TagFiltering(t *testing.T) {
	rec := &recorder{}
	src := NewSource[*testPayload]("routed", WithTag(0x10), WithOps(testOps))
	other := NewSink("other", rec.handler("0x20"), WithFilter(0x20))
	wildcard := NewSink("any", rec.handler("any"))

	_, err := src.Connect(other)
	require.NoError(t, err)
	_, err = src.Connect(wildcard)
	require.NoError(t, err)

	p := newPayload("a")
	n, err := src.Emit(p, NoWait)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"any:a"}, rec.snapshot())

	tag, ok := p.RouteTag()
	require.True(t, ok)
	assert.Equal(t, ID(0x10), tag, "source tag overwrites payload tag")
	assert.Equal(t, uint64(0), other.Stats().Handled)
}

func TestSource_UntaggedPayloadBehavesAsAny(t *testing.T) {
	rec := &recorder{}
	src := NewSource[*testPayload]("routed", WithTag(0x10))
	filtered := NewSink("filtered", rec.handler("f"), WithFilter(0x20))
	_, err := src.Connect(filtered)
	require.NoError(t, err)

	n, err := src.Emit(newUntaggedPayload("a"), NoWait)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSource_ConnectionTag(t *testing.T) {
	rec := &recorder{}
	src := NewSource[*testPayload]("src", WithOps(testOps))
	_, err := src.Connect(NewSink("ten", rec.handler("ten")), WithConnectionTag(0x10))
	require.NoError(t, err)
	_, err = src.Connect(NewSink("twenty", rec.handler("twenty")), WithConnectionTag(0x20))
	require.NoError(t, err)

	p := newPayload("a")
	require.True(t, p.SetRouteTag(0x20))
	n, err := src.Emit(p, NoWait)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"twenty:a"}, rec.snapshot())
}

func TestSource_FanOutWithoutOps(t *testing.T) {
	rec := &recorder{}
	src := NewSource[*testPayload]("plain")
	_, err := src.Connect(NewSink("a", rec.handler("a")))
	require.NoError(t, err)

	n, err := src.Emit(newPayload("one"), NoWait)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "a single sink needs no reference counting")

	_, err = src.Connect(NewSink("b", rec.handler("b")))
	require.NoError(t, err)

	n, err = src.Emit(newPayload("two"), NoWait)
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)
	assert.Equal(t, 0, n)
	assert.Equal(t, []string{"a:one"}, rec.snapshot(), "no partial delivery")
}

func TestSource_FanOutWithoutOpsCountsOnlyReachableSinks(t *testing.T) {
	rec := &recorder{}
	src := NewSource[*testPayload]("plain", WithTag(0x10))
	_, err := src.Connect(NewSink("match", rec.handler("match"), WithFilter(0x10)))
	require.NoError(t, err)
	_, err = src.Connect(NewSink("other", rec.handler("other"), WithFilter(0x20)))
	require.NoError(t, err)
	_, err = src.Connect(NewSink[*testPayload]("no-handler", nil))
	require.NoError(t, err)

	n, err := src.Emit(newPayload("a"), NoWait)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSource_RefRejectionFilters(t *testing.T) {
	rec := &recorder{}
	ops := OpsFuncs[*testPayload]{
		RefFunc: func(p *testPayload, sink *Sink[*testPayload]) bool {
			if sink.Name() == "blocked" {
				return false
			}
			p.refs.Add(1)
			return true
		},
		UnrefFunc: func(p *testPayload) { p.refs.Add(-1) },
	}
	src := NewSource[*testPayload]("src", WithOps[*testPayload](ops))
	_, err := src.Connect(NewSink("blocked", rec.handler("blocked")))
	require.NoError(t, err)
	_, err = src.Connect(NewSink("open", rec.handler("open")))
	require.NoError(t, err)

	p := newPayload("a")
	n, err := src.Emit(p, NoWait)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"open:a"}, rec.snapshot())
	assert.Equal(t, int32(1), p.RefCount())
}

func TestSource_QueueFullDoesNotAffectOtherSinks(t *testing.T) {
	rec := &recorder{}
	full := NewQueue("full", 1)
	roomy := NewQueue("roomy", 4)
	src := NewSource[*testPayload]("src", WithOps(testOps))
	a := NewSink("a", rec.handler("a"), WithQueue(full))
	b := NewSink("b", rec.handler("b"))
	c := NewSink("c", rec.handler("c"), WithQueue(roomy))
	for _, s := range []*Sink[*testPayload]{a, b, c} {
		_, err := src.Connect(s)
		require.NoError(t, err)
	}

	first := newPayload("first")
	n, err := src.Emit(first, NoWait)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	second := newPayload("second")
	n, err = src.Emit(second, NoWait)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, uint64(1), a.Stats().Dropped)
	assert.Equal(t, uint64(0), b.Stats().Dropped)
	assert.Equal(t, uint64(0), c.Stats().Dropped)

	full.ProcessAll()
	roomy.ProcessAll()
	assert.Equal(t, int32(1), first.RefCount())
	assert.Equal(t, int32(1), second.RefCount())
}

func TestSource_ReferencesSettle(t *testing.T) {
	q := NewQueue("main", 8)
	src := NewSource[*testPayload]("src", WithOps(testOps))
	for i := 0; i < 3; i++ {
		_, err := src.Connect(NewSink("imm", func(*Sink[*testPayload], *testPayload) {}))
		require.NoError(t, err)
		_, err = src.Connect(NewSink("q", func(*Sink[*testPayload], *testPayload) {}, WithQueue(q)))
		require.NoError(t, err)
	}

	p := newPayload("a")
	n, err := src.Emit(p, NoWait)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, 3, q.ProcessAll())
	assert.Equal(t, int32(1), p.RefCount())

	n, err = src.EmitConsume(p, NoWait)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, int32(3), p.RefCount(), "queued references outlive the caller's")
	q.ProcessAll()
	assert.Equal(t, int32(0), p.RefCount())
}

func TestSource_EmitConsumeReleasesOnNoDelivery(t *testing.T) {
	src := NewSource[*testPayload]("src", WithTag(0x10), WithOps(testOps))
	_, err := src.Connect(NewSink("other", func(*Sink[*testPayload], *testPayload) {}, WithFilter(0x20)))
	require.NoError(t, err)

	p := newPayload("a")
	n, err := src.EmitConsume(p, NoWait)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, int32(0), p.RefCount())
}

func TestSource_InsertionOrder(t *testing.T) {
	rec := &recorder{}
	src := NewSource[*testPayload]("src", WithOps(testOps))
	for _, name := range []string{"1", "2", "3", "4"} {
		_, err := src.Connect(NewSink(name, rec.handler(name)))
		require.NoError(t, err)
	}

	_, err := src.Emit(newPayload("x"), NoWait)
	require.NoError(t, err)
	assert.Equal(t, []string{"1:x", "2:x", "3:x", "4:x"}, rec.snapshot())
}

func TestSource_Disconnect(t *testing.T) {
	rec := &recorder{}
	src := NewSource[*testPayload]("src", WithOps(testOps))
	idA, err := src.Connect(NewSink("a", rec.handler("a")))
	require.NoError(t, err)
	_, err = src.Connect(NewSink("b", rec.handler("b")))
	require.NoError(t, err)

	require.NoError(t, src.Disconnect(idA))
	assert.ErrorIs(t, src.Disconnect(idA), errors.ErrNotFound)
	assert.ErrorIs(t, src.Disconnect(uuid.New()), errors.ErrNotFound)
	assert.Len(t, src.Connections(), 1)

	n, err := src.Emit(newPayload("x"), NoWait)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"b:x"}, rec.snapshot())
}

func TestSource_DisconnectDuringEmit(t *testing.T) {
	rec := &recorder{}
	src := NewSource[*testPayload]("src", WithOps(testOps))

	var idB ConnectionID
	first := NewSink("a", func(s *Sink[*testPayload], p *testPayload) {
		rec.handler("a")(s, p)
		assert.NoError(t, src.Disconnect(idB))
	})
	_, err := src.Connect(first)
	require.NoError(t, err)
	idB, err = src.Connect(NewSink("b", rec.handler("b")))
	require.NoError(t, err)

	p := newPayload("x")
	n, err := src.Emit(p, NoWait)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "removed edge is skipped by the in-flight emit")
	assert.Equal(t, []string{"a:x"}, rec.snapshot())
	assert.Equal(t, int32(1), p.RefCount())
}

func TestSource_ConcurrentEmitAndConnect(t *testing.T) {
	src := NewSource[*testPayload]("src", WithOps(testOps))
	sink := NewSink("s", func(*Sink[*testPayload], *testPayload) {})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				id, err := src.Connect(sink)
				if assert.NoError(t, err) {
					assert.NoError(t, src.Disconnect(id))
				}
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				p := newPayload("x")
				_, err := src.EmitConsume(p, NoWait)
				assert.NoError(t, err)
				assert.Equal(t, int32(0), p.RefCount())
			}
		}()
	}
	wg.Wait()
	assert.Empty(t, src.Connections())
}

func TestSource_StatsResetAndNil(t *testing.T) {
	src := NewSource[*testPayload]("src", WithOps(testOps))
	_, err := src.Connect(NewSink("s", func(*Sink[*testPayload], *testPayload) {}))
	require.NoError(t, err)
	_, err = src.Emit(newPayload("x"), NoWait)
	require.NoError(t, err)
	require.NotZero(t, src.Stats().Sent)

	src.ResetStats()
	assert.Equal(t, SourceStats{}, src.Stats())

	var nilSource *Source[*testPayload]
	assert.NotPanics(t, func() { nilSource.ResetStats() })
	assert.Equal(t, SourceStats{}, nilSource.Stats())
}

func TestSource_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	src := NewSource[*testPayload]("metered", WithOps(testOps), WithMetrics(registry))
	sink := NewSink("metered-sink", func(*Sink[*testPayload], *testPayload) {}, WithMetrics(registry))
	_, err := src.Connect(sink)
	require.NoError(t, err)

	_, err = src.Emit(newPayload("x"), NoWait)
	require.NoError(t, err)

	m := registry.CoreMetrics()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SourceEmits.WithLabelValues("metered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SourceDeliveries.WithLabelValues("metered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SinkHandled.WithLabelValues("metered-sink")))
}

func TestSource_MismatchedOpsPanics(t *testing.T) {
	assert.Panics(t, func() {
		NewSource[*testPayload]("bad", WithOps[string](OpsFuncs[string]{}))
	})
}

func TestMatches(t *testing.T) {
	tests := []struct {
		filter, tag ID
		want        bool
	}{
		{AnyID, AnyID, true},
		{AnyID, 0x10, true},
		{0x10, AnyID, true},
		{0x10, 0x10, true},
		{0x10, 0x20, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Matches(tt.filter, tt.tag), "filter %#x tag %#x", tt.filter, tt.tag)
	}
}
