package method

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/weave/errors"
	"github.com/c360/weave/flow"
)

func TestSignal_Emit(t *testing.T) {
	sig := NewSignal("button", 2)
	q := flow.NewQueue("workers", 4)

	var immediate, queued [][]byte
	_, err := sig.Connect(func(ev []byte) { immediate = append(immediate, ev) })
	require.NoError(t, err)
	_, err = sig.Connect(func(ev []byte) { queued = append(queued, ev) }, flow.WithQueue(q))
	require.NoError(t, err)

	event := []byte{0x01, 0x02}
	n, err := sig.Emit(event, flow.NoWait)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	event[0] = 0xFF
	require.Len(t, immediate, 1)
	assert.Equal(t, []byte{0x01, 0x02}, immediate[0], "handlers see a copy")
	assert.Empty(t, queued)

	assert.Equal(t, 1, q.ProcessAll())
	require.Len(t, queued, 1)
	assert.Equal(t, []byte{0x01, 0x02}, queued[0])
	assert.Equal(t, uint64(1), sig.Stats().Sent)
}

func TestSignal_EmitValidation(t *testing.T) {
	sig := NewSignal("button", 2)

	_, err := sig.Emit([]byte{1}, flow.NoWait)
	assert.True(t, errors.Is(err, errors.ErrInvalidArgument))

	_, err = sig.Connect(nil)
	assert.True(t, errors.Is(err, errors.ErrInvalidArgument))

	n, err := sig.Emit([]byte{1, 2}, flow.NoWait)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "no handlers")
}

func TestSignal_Disconnect(t *testing.T) {
	sig := NewSignal("tick", 0)
	calls := 0
	id, err := sig.Connect(func([]byte) { calls++ })
	require.NoError(t, err)

	n, err := sig.Emit(nil, flow.NoWait)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, sig.Disconnect(id))
	n, err = sig.Emit(nil, flow.NoWait)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, calls)
}

func TestSignal_QueueFullDropsOneHandler(t *testing.T) {
	sig := NewSignal("alarm", 1)
	q := flow.NewQueue("full", 1)

	var got int
	_, err := sig.Connect(func([]byte) { got++ })
	require.NoError(t, err)
	_, err = sig.Connect(func([]byte) {}, flow.WithQueue(q))
	require.NoError(t, err)

	n, err := sig.Emit([]byte{1}, flow.NoWait)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = sig.Emit([]byte{2}, flow.NoWait)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "queued handler dropped, immediate handler still ran")
	assert.Equal(t, 2, got)
}
