package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
	"testing"
)

func TestEncodeTextLengthTiers(t *testing.T) {
	tests := []struct {
		name       string
		size       int
		headerLen  int
		lengthByte byte
	}{
		{name: "inline", size: 10, headerLen: 2, lengthByte: 10},
		{name: "inline max", size: 125, headerLen: 2, lengthByte: 125},
		{name: "short min", size: 126, headerLen: 4, lengthByte: 126},
		{name: "short", size: 200, headerLen: 4, lengthByte: 126},
		{name: "short max", size: 65535, headerLen: 4, lengthByte: 126},
		{name: "long", size: 70000, headerLen: 10, lengthByte: 127},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := EncodeText(strings.Repeat("a", tt.size))
			if frame[0] != 0x81 {
				t.Fatalf("header byte = %#x, want 0x81", frame[0])
			}
			if frame[1] != tt.lengthByte {
				t.Fatalf("length byte = %d, want %d", frame[1], tt.lengthByte)
			}
			if len(frame) != tt.headerLen+tt.size {
				t.Fatalf("frame len = %d, want %d", len(frame), tt.headerLen+tt.size)
			}
			if tt.lengthByte == 127 && binary.BigEndian.Uint32(frame[2:6]) != 0 {
				t.Fatal("expected zero high word")
			}
		})
	}
}

func TestRoundTripAcrossTiers(t *testing.T) {
	for _, size := range []int{0, 10, 200, 70000} {
		payload := strings.Repeat("é", size/2) + strings.Repeat("x", size%2)
		decoded, err := Decode(EncodeText(payload))
		if err != nil {
			t.Fatalf("size %d: decode: %v", size, err)
		}
		if len(decoded.Messages) != 1 || decoded.Messages[0] != payload {
			t.Fatalf("size %d: got %d messages", size, len(decoded.Messages))
		}
		if len(decoded.Rest) != 0 {
			t.Fatalf("size %d: unexpected rest %d", size, len(decoded.Rest))
		}
	}
}

func TestMaskedRoundTrip(t *testing.T) {
	mask := [4]byte{0x37, 0xfa, 0x21, 0x3d}
	frame := Encode(OpcodeText, []byte("Hello"), &mask)
	if frame[1]&0x80 == 0 {
		t.Fatal("expected mask bit")
	}
	// RFC 6455 section 5.7 sample.
	want := []byte{0x81, 0x85, 0x37, 0xfa, 0x21, 0x3d, 0x7f, 0x9f, 0x4d, 0x51, 0x58}
	if !bytes.Equal(frame, want) {
		t.Fatalf("masked frame = % x, want % x", frame, want)
	}

	decoded, err := Decode(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded.Messages) != 1 || decoded.Messages[0] != "Hello" {
		t.Fatalf("messages = %q", decoded.Messages)
	}
}

func TestDecodeSplitAtEveryOffset(t *testing.T) {
	mask := [4]byte{1, 2, 3, 4}
	for _, size := range []int{10, 200, 70000} {
		payload := strings.Repeat("z", size)
		frame := Encode(OpcodeText, []byte(payload), &mask)

		offsets := []int{0, 1, 2, 3, 5, 9, 11, 14, len(frame) / 2, len(frame) - 1, len(frame)}
		for _, cut := range offsets {
			if cut > len(frame) {
				continue
			}
			first, err := Decode(frame[:cut])
			if err != nil {
				t.Fatalf("size %d cut %d: first decode: %v", size, cut, err)
			}
			if cut < len(frame) && len(first.Messages) != 0 {
				t.Fatalf("size %d cut %d: premature message", size, cut)
			}
			if len(first.Rest) != cut && cut < len(frame) {
				t.Fatalf("size %d cut %d: rest = %d", size, cut, len(first.Rest))
			}

			second, err := Decode(append(first.Rest, frame[cut:]...))
			if err != nil {
				t.Fatalf("size %d cut %d: second decode: %v", size, cut, err)
			}
			messages := append(first.Messages, second.Messages...)
			if len(messages) != 1 || messages[0] != payload {
				t.Fatalf("size %d cut %d: got %d messages", size, cut, len(messages))
			}
		}
	}
}

func TestDecodeControlFrames(t *testing.T) {
	var buf []byte
	buf = append(buf, Encode(OpcodePing, []byte("are you there"), &[4]byte{9, 9, 9, 9})...)
	buf = append(buf, Encode(OpcodeText, []byte("one"), nil)...)
	buf = append(buf, Encode(OpcodeBinary, []byte{0xde, 0xad}, nil)...)
	buf = append(buf, Encode(OpcodePong, nil, nil)...)
	buf = append(buf, Encode(OpcodeText, []byte("two"), nil)...)
	buf = append(buf, Encode(OpcodeClose, []byte{0x03, 0xe8}, nil)...)

	decoded, err := Decode(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded.Pings) != 1 || string(decoded.Pings[0]) != "are you there" {
		t.Fatalf("pings = %q", decoded.Pings)
	}
	if len(decoded.Messages) != 2 || decoded.Messages[0] != "one" || decoded.Messages[1] != "two" {
		t.Fatalf("messages = %q", decoded.Messages)
	}
	if !decoded.Close {
		t.Fatal("expected close")
	}
}

func TestDecodeRejectsHighWordLength(t *testing.T) {
	frame := []byte{0x81, 127, 0, 0, 0, 1, 0, 0, 0, 5, 'h', 'e', 'l', 'l', 'o'}
	prefix := EncodeText("before")
	_, err := Decode(append(prefix, frame...))
	if !errors.Is(err, ErrUnsupportedLength) {
		t.Fatalf("err = %v, want ErrUnsupportedLength", err)
	}
}

func TestDecodeWaitsOnPartialExtendedLength(t *testing.T) {
	partial := []byte{0x81, 127, 0, 0, 0}
	decoded, err := Decode(partial)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(decoded.Rest, partial) {
		t.Fatalf("rest = % x", decoded.Rest)
	}

	partial16 := []byte{0x81, 126, 0}
	decoded, err = Decode(partial16)
	if err != nil {
		t.Fatalf("decode short: %v", err)
	}
	if !bytes.Equal(decoded.Rest, partial16) {
		t.Fatalf("rest = % x", decoded.Rest)
	}
}

func TestDecodeDoesNotAliasInput(t *testing.T) {
	buf := append(EncodeText("stable"), 0x81)
	decoded, err := Decode(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for i := range buf {
		buf[i] = 0
	}
	if decoded.Messages[0] != "stable" {
		t.Fatalf("message mutated: %q", decoded.Messages[0])
	}
	if len(decoded.Rest) != 1 || decoded.Rest[0] != 0x81 {
		t.Fatalf("rest mutated: % x", decoded.Rest)
	}
}

func TestEncodePongAndClose(t *testing.T) {
	pong := EncodePong([]byte("hi"))
	if pong[0] != 0x8A || pong[1] != 2 || string(pong[2:]) != "hi" {
		t.Fatalf("pong = % x", pong)
	}
	closeFrame := EncodeClose(CloseNormal)
	if !bytes.Equal(closeFrame, []byte{0x88, 0x02, 0x03, 0xe8}) {
		t.Fatalf("close = % x", closeFrame)
	}
}
