package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/weave/errors"
	"github.com/c360/weave/flow"
)

func TestHeader_Encoding(t *testing.T) {
	h, err := NewHeader(0x10, 0x0203)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x10, 0x03, 0x02}, h.Bytes())

	got, err := DecodeHeader([]byte{0x01, 0x10, 0x03, 0x02, 0xAA})
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestNewHeader_TooLarge(t *testing.T) {
	_, err := NewHeader(0x10, MaxPayload+1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrPayloadTooBig))
}

func TestHeader_Validate(t *testing.T) {
	tests := []struct {
		name    string
		frame   []byte
		wantErr bool
	}{
		{name: "valid", frame: []byte{0x01, 0x10, 0x02, 0x00, 'h', 'i'}},
		{name: "empty payload", frame: []byte{0x01, 0x10, 0x00, 0x00}},
		{name: "too short", frame: []byte{0x01, 0x10, 0x02}, wantErr: true},
		{name: "wrong version", frame: []byte{0x02, 0x10, 0x02, 0x00, 'h', 'i'}, wantErr: true},
		{name: "payload shorter than declared", frame: []byte{0x01, 0x10, 0x03, 0x00, 'h', 'i'}, wantErr: true},
		{name: "payload longer than declared", frame: []byte{0x01, 0x10, 0x01, 0x00, 'h', 'i'}, wantErr: true},
		{name: "reserved packet id", frame: []byte{0x01, 0x00, 0x02, 0x00, 'h', 'i'}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := DecodeHeader(tt.frame)
			if err == nil {
				err = h.Validate(len(tt.frame))
			}
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrParsingFailed))
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestFrame(t *testing.T) {
	frame, err := Frame(flow.ID(0x20), []byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x20, 0x03, 0x00, 'a', 'b', 'c'}, frame)

	h, err := DecodeHeader(frame)
	require.NoError(t, err)
	assert.NoError(t, h.Validate(len(frame)))
}
