// Package wire implements the framed message format spoken over an upgraded
// realtime socket: final unfragmented frames, three-tier payload lengths, and
// client-to-server masking.
package wire

import (
	"encoding/binary"
	"errors"
)

// Opcode identifies the frame kind in the low nibble of the first header byte.
type Opcode byte

const (
	OpcodeContinuation Opcode = 0x0
	OpcodeText         Opcode = 0x1
	OpcodeBinary       Opcode = 0x2
	OpcodeClose        Opcode = 0x8
	OpcodePing         Opcode = 0x9
	OpcodePong         Opcode = 0xA
)

const (
	finalBit = 0x80
	maskBit  = 0x80

	inlineLimit = 126
	shortLimit  = 1 << 16

	lenShort = 126
	lenLong  = 127
)

// CloseNormal is the status code sent when the server ends a session cleanly.
const CloseNormal uint16 = 1000

// CloseProtocolError is the status code sent before dropping a peer that
// violated the framing rules.
const CloseProtocolError uint16 = 1002

// ErrUnsupportedLength reports a 64-bit payload length whose high 32 bits are
// set. The connection must be closed.
var ErrUnsupportedLength = errors.New("wire: unsupported 64-bit frame length")

// Encode builds one final frame. When mask is non-nil the payload is masked
// with it, as clients must do; server frames pass nil.
func Encode(op Opcode, payload []byte, mask *[4]byte) []byte {
	n := len(payload)
	header := make([]byte, 2, 14+n)
	header[0] = finalBit | byte(op&0x0F)

	var lengthByte byte
	switch {
	case n < inlineLimit:
		lengthByte = byte(n)
	case n < shortLimit:
		lengthByte = lenShort
		header = binary.BigEndian.AppendUint16(header, uint16(n))
	default:
		lengthByte = lenLong
		header = binary.BigEndian.AppendUint64(header, uint64(n))
	}
	if mask != nil {
		lengthByte |= maskBit
		header = append(header, mask[:]...)
	}
	header[1] = lengthByte

	start := len(header)
	frame := append(header, payload...)
	if mask != nil {
		for i := range n {
			frame[start+i] ^= mask[i%4]
		}
	}
	return frame
}

// EncodeText frames a UTF-8 string as an unmasked final text frame.
func EncodeText(payload string) []byte {
	return Encode(OpcodeText, []byte(payload), nil)
}

// EncodePong answers a ping by echoing its payload.
func EncodePong(payload []byte) []byte {
	return Encode(OpcodePong, payload, nil)
}

// EncodeClose builds a close frame carrying a status code.
func EncodeClose(status uint16) []byte {
	return Encode(OpcodeClose, binary.BigEndian.AppendUint16(nil, status), nil)
}
