package wire

import "encoding/binary"

// Decoded is the outcome of one pass over an inbound byte buffer.
type Decoded struct {
	// Messages holds text payloads in arrival order.
	Messages []string
	// Pings holds ping payloads that must be echoed as pongs.
	Pings [][]byte
	// Close is set once a close frame has been seen.
	Close bool
	// Rest is the unconsumed tail, beginning at the first incomplete frame.
	Rest []byte
}

// Decode consumes every complete frame in buf. It is resumable: callers
// append newly read bytes to Rest and call Decode again. A buffer that ends
// mid-header or mid-payload is not an error. Only a 64-bit length with a
// non-zero high word fails, with ErrUnsupportedLength; the frames decoded
// before it are still returned.
//
// Returned payloads and Rest never alias buf.
func Decode(buf []byte) (Decoded, error) {
	var out Decoded
	offset := 0

	for offset+2 <= len(buf) {
		first, second := buf[offset], buf[offset+1]
		op := Opcode(first & 0x0F)
		masked := second&maskBit != 0
		length := uint64(second & 0x7F)
		cursor := offset + 2

		switch length {
		case lenShort:
			if cursor+2 > len(buf) {
				return out.withRest(buf[offset:]), nil
			}
			length = uint64(binary.BigEndian.Uint16(buf[cursor:]))
			cursor += 2
		case lenLong:
			if cursor+8 > len(buf) {
				return out.withRest(buf[offset:]), nil
			}
			if binary.BigEndian.Uint32(buf[cursor:]) != 0 {
				return out.withRest(buf[offset:]), ErrUnsupportedLength
			}
			length = uint64(binary.BigEndian.Uint32(buf[cursor+4:]))
			cursor += 8
		}

		maskLen := 0
		if masked {
			maskLen = 4
		}
		if uint64(len(buf)-cursor) < uint64(maskLen)+length {
			return out.withRest(buf[offset:]), nil
		}

		var mask [4]byte
		if masked {
			copy(mask[:], buf[cursor:cursor+4])
			cursor += 4
		}
		end := cursor + int(length)
		payload := make([]byte, int(length))
		copy(payload, buf[cursor:end])
		if masked {
			for i := range payload {
				payload[i] ^= mask[i%4]
			}
		}

		switch op {
		case OpcodeClose:
			out.Close = true
		case OpcodePing:
			out.Pings = append(out.Pings, payload)
		case OpcodeText:
			out.Messages = append(out.Messages, string(payload))
		}
		offset = end
	}
	return out.withRest(buf[offset:]), nil
}

func (d Decoded) withRest(tail []byte) Decoded {
	if len(tail) > 0 {
		d.Rest = append([]byte(nil), tail...)
	}
	return d
}
