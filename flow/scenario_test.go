package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/weave/errors"
)

// One source, one immediate and one queued sink.
func TestScenario_ImmediateRunsBeforeEmitReturns(t *testing.T) {
	var immediateRan, queuedRan int
	q := NewQueue("q", 4)
	src := NewSource[*testPayload]("S", WithOps(testOps))
	_, err := src.Connect(NewSink("I", func(*Sink[*testPayload], *testPayload) { immediateRan++ }))
	require.NoError(t, err)
	_, err = src.Connect(NewSink("Q", func(*Sink[*testPayload], *testPayload) { queuedRan++ }, WithQueue(q)))
	require.NoError(t, err)

	n, err := src.Emit(newPayload("p"), NoWait)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, immediateRan)
	assert.Equal(t, 0, queuedRan)

	require.NoError(t, q.Process(NoWait))
	assert.Equal(t, 1, queuedRan)
	assert.ErrorIs(t, q.Process(NoWait), errors.ErrWouldBlock)
	assert.Equal(t, 1, queuedRan)
}

// A routed source reaches only sinks whose filter matches or is ANY.
func TestScenario_RoutedSource(t *testing.T) {
	var mismatched, wildcard int
	src := NewSource[*testPayload]("routed", WithTag(0x10), WithOps(testOps))
	_, err := src.Connect(NewSink("x20", func(*Sink[*testPayload], *testPayload) { mismatched++ }, WithFilter(0x20)))
	require.NoError(t, err)
	_, err = src.Connect(NewSink("any", func(*Sink[*testPayload], *testPayload) { wildcard++ }))
	require.NoError(t, err)

	n, err := src.Emit(newPayload("p"), NoWait)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, mismatched)
	assert.Equal(t, 1, wildcard)
}

// A second event into a full queue of capacity one is dropped and released.
func TestScenario_FullQueueDrop(t *testing.T) {
	q := NewQueue("cap1", 1)
	sink := NewSink("s", func(*Sink[*testPayload], *testPayload) {}, WithQueue(q), WithOps(testOps))

	require.NoError(t, sink.DeliverConsume(newPayload("first"), NoWait))

	second := newPayload("second")
	err := sink.DeliverConsume(second, NoWait)
	assert.ErrorIs(t, err, errors.ErrNoBuffers)
	assert.Equal(t, uint64(1), sink.Stats().Dropped)
	assert.Equal(t, int32(0), second.RefCount())
}
