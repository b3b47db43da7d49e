// Package proto implements the message schemas carried over the device's
// host protocol and their wire codec.
//
// There is no .proto/codegen pipeline behind these types: each message is a
// plain Go struct with hand-written Marshal/Unmarshal methods built on
// google.golang.org/protobuf/encoding/protowire, the same low-level varint/
// tag primitives a generated protobuf message would use internally. Field
// numbers are assigned once below and must never be renumbered.
package proto

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrTruncated is returned when a message body ends mid-field.
var ErrTruncated = errors.New("proto: truncated message")

// ErrUnknownWireType is returned when a field's value cannot be consumed
// under its wire type (a malformed group or a reserved wire type).
var ErrUnknownWireType = errors.New("proto: unexpected wire type")

// fieldReader walks a length-delimited message body one (field number, wire
// type, raw bytes) tuple at a time, mirroring how a generated Unmarshal
// loop decodes an unknown-schema-free wire stream.
type fieldReader struct {
	buf []byte
}

func newFieldReader(buf []byte) *fieldReader {
	return &fieldReader{buf: buf}
}

// next returns the next field's number, wire type, and the bytes consumed
// to represent its value (for varints: just the varint; for length-delimited:
// the inner payload only). ok is false once the buffer is exhausted.
func (r *fieldReader) next() (num protowire.Number, typ protowire.Type, val []byte, ok bool, err error) {
	if len(r.buf) == 0 {
		return 0, 0, nil, false, nil
	}
	num, typ, n := protowire.ConsumeTag(r.buf)
	if n < 0 {
		return 0, 0, nil, false, fmt.Errorf("%w: bad tag", ErrTruncated)
	}
	r.buf = r.buf[n:]

	switch typ {
	case protowire.VarintType:
		v, n := protowire.ConsumeVarint(r.buf)
		if n < 0 {
			return 0, 0, nil, false, fmt.Errorf("%w: bad varint", ErrTruncated)
		}
		var b [10]byte
		m := putUvarint(b[:], v)
		r.buf = r.buf[n:]
		return num, typ, append([]byte(nil), b[:m]...), true, nil
	case protowire.BytesType:
		v, n := protowire.ConsumeBytes(r.buf)
		if n < 0 {
			return 0, 0, nil, false, fmt.Errorf("%w: bad length-delimited field", ErrTruncated)
		}
		r.buf = r.buf[n:]
		return num, typ, append([]byte(nil), v...), true, nil
	case protowire.Fixed32Type:
		v, n := protowire.ConsumeFixed32(r.buf)
		if n < 0 {
			return 0, 0, nil, false, fmt.Errorf("%w: bad fixed32", ErrTruncated)
		}
		var b [4]byte
		putFixed32(b[:], v)
		r.buf = r.buf[n:]
		return num, typ, b[:], true, nil
	case protowire.Fixed64Type:
		v, n := protowire.ConsumeFixed64(r.buf)
		if n < 0 {
			return 0, 0, nil, false, fmt.Errorf("%w: bad fixed64", ErrTruncated)
		}
		var b [8]byte
		putFixed64(b[:], v)
		r.buf = r.buf[n:]
		return num, typ, b[:], true, nil
	default:
		n := protowire.ConsumeFieldValue(num, typ, r.buf)
		if n < 0 {
			return 0, 0, nil, false, fmt.Errorf("%w: field %d", ErrUnknownWireType, num)
		}
		r.buf = r.buf[n:]
		return num, typ, nil, true, nil
	}
}

func putUvarint(b []byte, v uint64) int {
	i := 0
	for v >= 0x80 {
		b[i] = byte(v) | 0x80
		v >>= 7
		i++
	}
	b[i] = byte(v)
	return i + 1
}

func putFixed32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func putFixed64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// appendVarintField appends field num as a varint-wire-type field.
func appendVarintField(buf []byte, num protowire.Number, v uint64) []byte {
	buf = protowire.AppendTag(buf, num, protowire.VarintType)
	return protowire.AppendVarint(buf, v)
}

// appendBytesField appends field num as a length-delimited field.
func appendBytesField(buf []byte, num protowire.Number, v []byte) []byte {
	buf = protowire.AppendTag(buf, num, protowire.BytesType)
	return protowire.AppendBytes(buf, v)
}

// appendStringField appends field num as a length-delimited string field.
func appendStringField(buf []byte, num protowire.Number, v string) []byte {
	return appendBytesField(buf, num, []byte(v))
}

func varintFieldValue(val []byte) uint64 {
	v, _ := protowire.ConsumeVarint(val)
	return v
}
