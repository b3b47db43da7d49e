// Package eip712 implements the streaming, bounded-depth EIP-712 typed-data
// hasher (C7): a stack of frames the host drives with push/pop/append
// calls, producing the final digest while rendering each field for review.
//
// Grounded file-by-file on original_source/lib/firmware/eip712/{util.c,
// extended_types.c, encoded_types.c, display.c, session/session.c,
// session/frame/{frame,struct,array,dynamicData}.c}. Keccak-256 is backed
// by golang.org/x/crypto/sha3, the concrete "crypto collaborator" this
// streaming hash object needs to be testable.
package eip712

import (
	"errors"
	"fmt"
)

// Limits mirror the original firmware's bounds, supplemented in
// ContextInfo so host tooling can chunk a typed-data document safely.
const (
	StackDepthLimit  = 8
	NameLengthLimit  = 63
	TypeLengthLimit  = 63
	DynamicDataLimit = 64
	FieldLimit       = 256
)

// ErrInvalid marks an operation attempted on a session that has already
// recorded an invariant violation.
var ErrInvalid = errors.New("eip712: session invalid")

// decodeAsciiInt parses an ASCII decimal integer with the original
// firmware's exact restrictions: no empty string, no leading zero, and
// bounded to 9 digits (comfortably covers any real array length).
func decodeAsciiInt(s string) (uint32, bool) {
	if len(s) == 0 || len(s) > 9 {
		return 0, false
	}
	if s[0] == '0' && len(s) > 1 {
		return 0, false
	}
	var v uint32
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		v = v*10 + uint32(c-'0')
	}
	return v, true
}

// isValidIdentifier requires a leading letter, '$' or '_', with digits
// permitted from the second character on.
func isValidIdentifier(s string) bool {
	if len(s) == 0 || len(s) > NameLengthLimit {
		return false
	}
	if !isIdentStart(s[0]) {
		return false
	}
	for i := 1; i < len(s); i++ {
		if !isIdentStart(s[i]) && !(s[i] >= '0' && s[i] <= '9') {
			return false
		}
	}
	return true
}

func isIdentStart(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '$' || c == '_'
}

// AtomicInfo describes a recognized atomic type's 32-byte padding shape.
// PadBefore bytes precede the value (bool, address, uintK, intK) and
// PadAfter bytes follow it (bytesN). The padding is zero bytes, except that
// a negative intK value fills its PadBefore bytes with 0xff.
type AtomicInfo struct {
	PadBefore int // bytes of left-padding before the value
	PadAfter  int // bytes of right-padding after the value
	ValueLen  int // expected length of the raw value before padding
	Signed    bool
}

// isAtomicType recognizes bool/address/bytesN/uintK/intK and returns their
// padding shape. Ok is false for anything else (including dynamic/array
// types, and malformed fixed-width specifiers like non-multiple-of-8 bit
// widths).
func isAtomicType(t string) (AtomicInfo, bool) {
	switch t {
	case "bool":
		return AtomicInfo{PadBefore: 31, ValueLen: 1}, true
	case "address":
		return AtomicInfo{PadBefore: 12, ValueLen: 20}, true
	}

	if len(t) > 5 && t[:5] == "bytes" {
		n, ok := decodeAsciiInt(t[5:])
		if !ok || n < 1 || n > 32 {
			return AtomicInfo{}, false
		}
		return AtomicInfo{PadAfter: 32 - int(n), ValueLen: int(n)}, true
	}

	if len(t) > 4 && t[:4] == "uint" {
		return decodeFixedWidthInt(t[4:], false)
	}
	if len(t) > 3 && t[:3] == "int" {
		return decodeFixedWidthInt(t[3:], true)
	}

	return AtomicInfo{}, false
}

func decodeFixedWidthInt(widthStr string, signed bool) (AtomicInfo, bool) {
	bits, ok := decodeAsciiInt(widthStr)
	if !ok || bits == 0 || bits%8 != 0 {
		return AtomicInfo{}, false
	}
	bytes := bits / 8
	if bytes < 1 || bytes > 32 {
		return AtomicInfo{}, false
	}
	return AtomicInfo{PadBefore: 32 - int(bytes), ValueLen: int(bytes), Signed: signed}, true
}

// isDynamicType recognizes "bytes" and "string".
func isDynamicType(t string) bool {
	return t == "bytes" || t == "string"
}

// isArrayType recognizes a trailing "[n]" or "[]" and returns the element
// type substring and, if declared, the expected element count. ok is false
// for a declared count that doesn't parse as a non-negative decimal.
func isArrayType(t string) (elementType string, count uint32, dynamic bool, ok bool) {
	if len(t) < 2 || t[len(t)-1] != ']' {
		return "", 0, false, false
	}
	open := -1
	for i := len(t) - 2; i >= 0; i-- {
		if t[i] == '[' {
			open = i
			break
		}
		if t[i] == ']' {
			return "", 0, false, false
		}
	}
	if open < 0 {
		return "", 0, false, false
	}
	elementType = t[:open]
	inner := t[open+1 : len(t)-1]
	if inner == "" {
		return elementType, uint32Max, true, true
	}
	n, ok := decodeAsciiInt(inner)
	if !ok {
		return "", 0, false, false
	}
	return elementType, n, false, true
}

const uint32Max = ^uint32(0)

// fieldSpec is one "type name" token pair parsed out of a struct's field
// list.
type fieldSpec struct {
	Type string
	Name string
}

// splitFields parses a struct segment's field list ("Person from,Person
// to,string contents") into ordered (type, name) pairs. Each entry is
// exactly two space-separated tokens: types and names may not contain
// spaces, so splitting on the last space unambiguously separates them.
func splitFields(fieldsRaw string) ([]fieldSpec, error) {
	if fieldsRaw == "" {
		return nil, nil
	}
	var fields []fieldSpec
	for _, part := range splitTopLevel(fieldsRaw, ',') {
		sp := -1
		for i := len(part) - 1; i >= 0; i-- {
			if part[i] == ' ' {
				sp = i
				break
			}
		}
		if sp <= 0 || sp == len(part)-1 {
			return nil, fmt.Errorf("eip712: malformed field %q", part)
		}
		typ, name := part[:sp], part[sp+1:]
		if !isValidIdentifier(name) {
			return nil, fmt.Errorf("eip712: invalid field name %q", name)
		}
		if len(typ) == 0 || len(typ) > TypeLengthLimit {
			return nil, fmt.Errorf("eip712: invalid field type %q", typ)
		}
		fields = append(fields, fieldSpec{Type: typ, Name: name})
	}
	return fields, nil
}

func splitTopLevel(s string, sep byte) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}
