package eip712

import (
	"fmt"
	"hash"

	"golang.org/x/crypto/sha3"
)

// Kind tags a frame as one of the three shapes the session stack holds.
type Kind uint8

const (
	KindStruct Kind = iota
	KindArray
	KindDynamicData
)

func (k Kind) String() string {
	switch k {
	case KindStruct:
		return "Struct"
	case KindArray:
		return "Array"
	case KindDynamicData:
		return "DynamicData"
	default:
		return "Unknown"
	}
}

// Frame is one entry of the session's bounded stack. All three kinds share
// a running value hash (the standard EIP-712 hashStruct/hashArray/keccak
// accumulator that contributes the frame's final 32-byte value to its
// parent); the remaining fields are kind-specific and grounded on the
// correspondingly named original_source file.
type Frame struct {
	Kind      Kind
	TypeName  string
	FieldName string

	valueHash hash.Hash

	// Struct (session/frame/struct.c)
	fields                   []fieldSpec
	segs                     []segment
	fieldCount               int
	expectedExtendedTypeHash [32]byte
	extended                 chainedHash

	// Array (session/frame/array.c)
	elementType                     string
	elementCount                    uint32
	expectedElementCount            uint32
	expectedElementExtendedTypeHash [32]byte
	haveExpectedElementHash         bool

	// DynamicData (session/frame/dynamicData.c)
	displayBuf   []byte
	totalDataLen uint64
	truncated    bool
}

func newKeccak() hash.Hash {
	return sha3.NewLegacyKeccak256()
}

// nextStructField validates and records the next field of a Struct frame,
// called before a child frame is pushed or before an atomic value is
// appended. It returns the field's declared type token (e.g. "Person",
// "Person[]", "uint256") so the caller can check it against what's
// actually being appended.
//
// Grounded on session/frame/struct.c's eip712_nextStructFrameField.
func (f *Frame) nextStructField(fieldName string) (string, error) {
	if f.Kind != KindStruct {
		return "", fmt.Errorf("eip712: field append on non-struct frame %s", f.Kind)
	}
	if !isValidIdentifier(fieldName) {
		return "", fmt.Errorf("eip712: invalid field name %q", fieldName)
	}
	if f.fieldCount >= len(f.fields) {
		return "", fmt.Errorf("eip712: struct %s has no field %q (all %d fields already filled)", f.TypeName, fieldName, len(f.fields))
	}
	decl := f.fields[f.fieldCount]
	if decl.Name != fieldName {
		return "", fmt.Errorf("eip712: expected field %q next in struct %s, got %q", decl.Name, f.TypeName, fieldName)
	}
	if f.fieldCount > 0 {
		f.extended.Extend([]byte(","))
	}
	f.extended.Extend([]byte(decl.Type + " " + decl.Name))
	f.fieldCount++
	return decl.Type, nil
}

// finalizeStruct checks the extended-type-hash invariant and returns the
// struct's value hash. The running chain was opened with typeName+"(" at
// frame creation and extended with each "type name" field token as it was
// appended; closing it with ")" here reproduces the same
// expectedStructExtendedHash construction over the field list the host
// actually sent.
func (f *Frame) finalizeStruct() ([32]byte, error) {
	if f.fieldCount != len(f.fields) {
		return [32]byte{}, fmt.Errorf("eip712: struct %s missing fields: got %d of %d", f.TypeName, f.fieldCount, len(f.fields))
	}
	f.extended.Extend([]byte(")"))
	if f.extended.value != f.expectedExtendedTypeHash {
		return [32]byte{}, fmt.Errorf("eip712: struct %s extended type hash mismatch", f.TypeName)
	}
	var out [32]byte
	f.valueHash.Sum(out[:0])
	return out, nil
}

// nextArrayElement validates the array hasn't exceeded its declared
// element count. Grounded on session/frame/array.c's
// eip712_nextArrayFrameField.
func (f *Frame) nextArrayElement() error {
	if f.Kind != KindArray {
		return fmt.Errorf("eip712: element append on non-array frame %s", f.Kind)
	}
	if f.expectedElementCount != uint32Max && f.elementCount >= f.expectedElementCount {
		return fmt.Errorf("eip712: array %s exceeds declared element count %d", f.elementType, f.expectedElementCount)
	}
	return nil
}

// checkElementType verifies a just-produced struct element's extended type
// hash against the array's declared element type. It checks nothing when
// the element type is not a struct declared in encodedType; atomic and
// dynamic elements are checked against the element type where they are
// appended or pushed.
func (f *Frame) checkElementType(elementExtended [32]byte) error {
	if !f.haveExpectedElementHash {
		return nil
	}
	if elementExtended != f.expectedElementExtendedTypeHash {
		return fmt.Errorf("eip712: array %s element type mismatch", f.elementType)
	}
	return nil
}

func (f *Frame) finalizeArray() ([32]byte, error) {
	if f.expectedElementCount != uint32Max && f.elementCount != f.expectedElementCount {
		return [32]byte{}, fmt.Errorf("eip712: array %s declared %d elements, got %d", f.elementType, f.expectedElementCount, f.elementCount)
	}
	var out [32]byte
	f.valueHash.Sum(out[:0])
	return out, nil
}

func (f *Frame) finalizeDynamicData() ([32]byte, string, error) {
	var out [32]byte
	f.valueHash.Sum(out[:0])
	display := formatBytesValue(f.displayBuf, f.truncated)
	if f.TypeName == "string" {
		display = formatStringValue(f.displayBuf)
		if f.truncated {
			display = display[:len(display)-1] + "...\""
		}
	}
	return out, display, nil
}
