package router

import (
	"encoding/binary"
	"fmt"

	"github.com/c360/weave/errors"
	"github.com/c360/weave/flow"
)

// Wire format constants.
const (
	// HeaderSize is the encoded header length in bytes.
	HeaderSize = 4
	// Version is the only protocol version accepted on the wire.
	Version uint8 = 0x01
	// InvalidID is the reserved packet ID. Frames carrying it are rejected.
	InvalidID flow.ID = 0x00
	// MaxPayload is the largest payload a header can describe.
	MaxPayload = 0xFFFF
)

// Header precedes every frame on the wire:
//
//	offset 0: version     u8
//	offset 1: packet id   u8
//	offset 2: payload len u16, little-endian
type Header struct {
	Version    uint8
	PacketID   flow.ID
	PayloadLen uint16
}

// NewHeader builds a current-version header for a payload of n bytes.
func NewHeader(id flow.ID, n int) (Header, error) {
	if n < 0 || n > MaxPayload {
		return Header{}, errors.WrapInvalid(errors.ErrPayloadTooBig, "Header", "NewHeader",
			fmt.Sprintf("encode length %d", n))
	}
	return Header{Version: Version, PacketID: id, PayloadLen: uint16(n)}, nil
}

// AppendTo appends the encoded header to dst.
func (h Header) AppendTo(dst []byte) []byte {
	dst = append(dst, h.Version, byte(h.PacketID))
	return binary.LittleEndian.AppendUint16(dst, h.PayloadLen)
}

// Bytes returns the encoded header.
func (h Header) Bytes() []byte {
	return h.AppendTo(make([]byte, 0, HeaderSize))
}

// DecodeHeader reads a header from the front of p without validating it.
func DecodeHeader(p []byte) (Header, error) {
	if len(p) < HeaderSize {
		return Header{}, errors.WrapInvalid(errors.ErrParsingFailed, "Header", "Decode",
			fmt.Sprintf("read %d-byte header from %d bytes", HeaderSize, len(p)))
	}
	return Header{
		Version:    p[0],
		PacketID:   flow.ID(p[1]),
		PayloadLen: binary.LittleEndian.Uint16(p[2:4]),
	}, nil
}

// Validate checks h against a frame of frameLen bytes, header included.
// The declared payload length must match the frame exactly.
func (h Header) Validate(frameLen int) error {
	if h.Version != Version {
		return errors.WrapInvalid(errors.ErrParsingFailed, "Header", "Validate",
			fmt.Sprintf("check version 0x%02x", h.Version))
	}
	if want := HeaderSize + int(h.PayloadLen); frameLen != want {
		return errors.WrapInvalid(errors.ErrParsingFailed, "Header", "Validate",
			fmt.Sprintf("check length %d, header declares %d", frameLen, want))
	}
	if h.PacketID == InvalidID {
		return errors.WrapInvalid(errors.ErrParsingFailed, "Header", "Validate", "check packet id")
	}
	return nil
}

// Frame encodes a complete frame for payload. It is the inverse of what the
// router's inbound path accepts and is mostly useful to transports and tests.
func Frame(id flow.ID, payload []byte) ([]byte, error) {
	h, err := NewHeader(id, len(payload))
	if err != nil {
		return nil, err
	}
	out := h.AppendTo(make([]byte, 0, HeaderSize+len(payload)))
	return append(out, payload...), nil
}
