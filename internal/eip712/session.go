package eip712

import (
	"errors"
	"fmt"
	"hash"
)

// State tracks a session's lifecycle: Ok while the host is still pushing,
// popping and appending; Invalid once any invariant is violated (every
// subsequent call is rejected until a fresh Init); Done once Finalize has
// produced a digest.
type State uint8

const (
	StateOk State = iota
	StateInvalid
	StateDone
)

// DomainSeparatorName is the conventional name of the first top-level
// struct a caller pushes. Session itself only enforces the structural
// invariant (exactly two top-level structs); naming the first one is a
// policy the orchestrator checks before it calls Push.
const DomainSeparatorName = "EIP712Domain"

// Session drives the bounded stack of frames that make up one signing
// request: push a struct/array/dynamic-data frame, append its fields or
// chunks, pop it back into its parent's running hash, and finally collapse
// the two required top-level structs (domain separator, message) into the
// \x19\x01-prefixed digest EIP-712 defines.
//
// Grounded on original_source/lib/firmware/eip712/session/session.c.
type Session struct {
	state State

	root        hash.Hash
	hashUpdates int
	topLevel    int
	digest      [32]byte

	stack  []*Frame
	review ReviewFunc
}

// NewSession constructs a ready-to-use session. review is called once per
// atomic or dynamic-data field and once per empty struct/array pop, and a
// false return aborts the session exactly like a host-sent Cancel.
func NewSession(review ReviewFunc) *Session {
	s := &Session{review: review}
	s.reset()
	return s
}

func (s *Session) reset() {
	h := newKeccak()
	h.Write([]byte{0x19, 0x01})
	s.root = h
	s.state = StateOk
	s.hashUpdates = 0
	s.topLevel = 0
	s.stack = nil
	s.digest = [32]byte{}
}

// Reset discards any in-progress session state, equivalent to a fresh
// NewSession with the same review callback.
func (s *Session) Reset() {
	s.reset()
}

func (s *Session) invalidate(err error) error {
	s.state = StateInvalid
	return err
}

// Depth reports how many frames are currently on the stack.
func (s *Session) Depth() int {
	return len(s.stack)
}

// AwaitingDomainSeparator reports whether the next root push (an empty
// stack, zero top-level structs folded so far) is the domain-separator
// slot. Session itself has no opinion on what that struct must be named;
// this exists so a caller can enforce DomainSeparatorName before Push.
func (s *Session) AwaitingDomainSeparator() bool {
	return len(s.stack) == 0 && s.topLevel == 0
}

// Push opens a new frame of the given kind. encodedType is the full type
// signature document as the host sent it with the original message (every
// push call repeats it, so the device never needs to remember it between
// calls); fieldName is empty only for the very first (root) push and for
// elements of an array frame.
func (s *Session) Push(kind Kind, encodedType, fieldName string) error {
	if s.state != StateOk {
		return ErrInvalid
	}
	if len(s.stack) >= StackDepthLimit {
		return s.invalidate(fmt.Errorf("eip712: stack depth limit %d exceeded", StackDepthLimit))
	}

	isRoot := len(s.stack) == 0
	var parent *Frame
	var declaredType string

	if isRoot {
		if fieldName != "" {
			return s.invalidate(errors.New("eip712: root push must not name a field"))
		}
		if s.topLevel >= 2 {
			return s.invalidate(errors.New("eip712: only two top-level structs are permitted (domain separator, message)"))
		}
		if kind != KindStruct {
			return s.invalidate(errors.New("eip712: top-level frame must be a struct"))
		}
	} else {
		parent = s.stack[len(s.stack)-1]
		switch parent.Kind {
		case KindStruct:
			if fieldName == "" {
				return s.invalidate(errors.New("eip712: non-root push onto a struct frame must name a field"))
			}
			t, err := parent.nextStructField(fieldName)
			if err != nil {
				return s.invalidate(err)
			}
			declaredType = t
		case KindArray:
			if fieldName != "" {
				return s.invalidate(errors.New("eip712: array elements are positional, not named"))
			}
			if err := parent.nextArrayElement(); err != nil {
				return s.invalidate(err)
			}
			declaredType = parent.elementType
		case KindDynamicData:
			return s.invalidate(errors.New("eip712: cannot push a frame under a dynamic-data frame"))
		}
	}

	frame, err := s.newFrame(kind, encodedType, fieldName, declaredType, isRoot)
	if err != nil {
		return s.invalidate(err)
	}

	s.stack = append(s.stack, frame)
	return nil
}

func (s *Session) newFrame(kind Kind, encodedType, fieldName, declaredType string, isRoot bool) (*Frame, error) {
	segs, err := parseSegments(encodedType)
	if err != nil {
		return nil, err
	}

	switch kind {
	case KindStruct:
		var primary string
		if isRoot {
			primary = segs[0].Name
		} else {
			primary = declaredType
			if _, _, _, isArr := isArrayType(declaredType); isArr {
				return nil, fmt.Errorf("eip712: field declared array type %q cannot be pushed as a struct", declaredType)
			}
			if isDynamicType(declaredType) {
				return nil, fmt.Errorf("eip712: field declared dynamic type %q cannot be pushed as a struct", declaredType)
			}
			if _, ok := isAtomicType(declaredType); ok {
				return nil, fmt.Errorf("eip712: field declared atomic type %q cannot be pushed as a struct", declaredType)
			}
		}
		seg, ok := findSegment(segs, primary)
		if !ok {
			return nil, fmt.Errorf("eip712: type %q not declared in encodedType", primary)
		}
		// Acyclicity/reachability is a property of the whole document, so
		// it's checked once against the document's own root type rather
		// than against whichever nested type is being pushed right now.
		if err := validateEncodedType(segs, segs[0].Name); err != nil {
			return nil, err
		}
		fields, err := splitFields(seg.FieldsRaw)
		if err != nil {
			return nil, err
		}
		if len(fields) > FieldLimit {
			return nil, fmt.Errorf("eip712: struct %s declares too many fields", primary)
		}
		canon, err := canonicalEncodeType(segs, primary)
		if err != nil {
			return nil, err
		}
		typeHash := keccak256([]byte(canon))
		expected, err := expectedStructExtendedHash(primary, seg.FieldsRaw)
		if err != nil {
			return nil, err
		}
		vh := newKeccak()
		vh.Write(typeHash[:])
		f := &Frame{
			Kind:                     KindStruct,
			TypeName:                 primary,
			FieldName:                fieldName,
			valueHash:                vh,
			fields:                   fields,
			segs:                     segs,
			expectedExtendedTypeHash: expected,
		}
		f.extended.Extend([]byte(primary))
		f.extended.Extend([]byte("("))
		return f, nil

	case KindArray:
		elementType, count, dynamic, isArr := isArrayType(declaredType)
		if isRoot || !isArr {
			return nil, fmt.Errorf("eip712: field declared type %q is not an array", declaredType)
		}
		f := &Frame{
			Kind:                  KindArray,
			TypeName:              elementType,
			FieldName:             fieldName,
			valueHash:             newKeccak(),
			elementType:           elementType,
			expectedElementCount:  count,
		}
		if dynamic {
			f.expectedElementCount = uint32Max
		}
		if seg, ok := findSegment(segs, elementType); ok {
			h, err := expectedStructExtendedHash(elementType, seg.FieldsRaw)
			if err != nil {
				return nil, err
			}
			f.expectedElementExtendedTypeHash = h
			f.haveExpectedElementHash = true
		}
		return f, nil

	case KindDynamicData:
		if isRoot || !isDynamicType(declaredType) {
			return nil, fmt.Errorf("eip712: field declared type %q is not dynamic data", declaredType)
		}
		return &Frame{
			Kind:      KindDynamicData,
			TypeName:  declaredType,
			FieldName: fieldName,
			valueHash: newKeccak(),
		}, nil
	}

	return nil, fmt.Errorf("eip712: unknown frame kind %d", kind)
}

// Pop closes the current frame, folding its value hash into its parent (or
// the root digest, for a top-level frame).
func (s *Session) Pop() error {
	if s.state != StateOk {
		return ErrInvalid
	}
	if len(s.stack) == 0 {
		return s.invalidate(errors.New("eip712: pop with no open frame"))
	}
	cur := s.stack[len(s.stack)-1]

	var value [32]byte
	var err error
	switch cur.Kind {
	case KindStruct:
		value, err = cur.finalizeStruct()
	case KindArray:
		value, err = cur.finalizeArray()
	case KindDynamicData:
		var display string
		value, display, err = cur.finalizeDynamicData()
		if err == nil && s.review != nil {
			path := formatStructPath(s.stack[:len(s.stack)-1], cur.FieldName, cur.TypeName)
			if !s.review(ReviewPrompt{Path: path, Value: display}) {
				err = errors.New("eip712: review cancelled")
			}
		}
	}
	if err == nil && s.review != nil &&
		((cur.Kind == KindStruct && len(cur.fields) == 0) || (cur.Kind == KindArray && cur.elementCount == 0)) {
		path := formatStructPath(s.stack[:len(s.stack)-1], cur.FieldName, cur.TypeName)
		if !s.review(ReviewPrompt{Path: path, Value: "(empty)"}) {
			err = errors.New("eip712: review cancelled")
		}
	}
	if err != nil {
		return s.invalidate(err)
	}

	s.stack = s.stack[:len(s.stack)-1]

	if len(s.stack) > 0 {
		parent := s.stack[len(s.stack)-1]
		if parent.Kind == KindArray {
			if cur.Kind == KindStruct {
				if err := parent.checkElementType(cur.extended.value); err != nil {
					return s.invalidate(err)
				}
			}
			parent.elementCount++
		}
		parent.valueHash.Write(value[:])
		return nil
	}

	s.root.Write(value[:])
	s.hashUpdates++
	s.topLevel++
	return nil
}

// AppendAtomicField appends a bool/address/bytesN/uintK/intK value to the
// current frame (a struct field, or a positional array element of atomic
// element type), emitting a review prompt for the rendered value.
func (s *Session) AppendAtomicField(typ, name string, value []byte) error {
	if s.state != StateOk {
		return ErrInvalid
	}
	if len(s.stack) == 0 {
		return s.invalidate(errors.New("eip712: atomic append with no open frame"))
	}
	cur := s.stack[len(s.stack)-1]

	info, ok := isAtomicType(typ)
	if !ok {
		return s.invalidate(fmt.Errorf("eip712: %q is not a recognized atomic type", typ))
	}
	if len(value) != info.ValueLen {
		return s.invalidate(fmt.Errorf("eip712: %s value must be %d bytes, got %d", typ, info.ValueLen, len(value)))
	}
	if typ == "bool" && value[0] > 1 {
		return s.invalidate(fmt.Errorf("eip712: bool value must be 0 or 1, got 0x%02x", value[0]))
	}

	var declaredType string
	switch cur.Kind {
	case KindStruct:
		if name == "" {
			return s.invalidate(errors.New("eip712: atomic append onto a struct frame must name a field"))
		}
		t, err := cur.nextStructField(name)
		if err != nil {
			return s.invalidate(err)
		}
		declaredType = t
	case KindArray:
		if name != "" {
			return s.invalidate(errors.New("eip712: array elements are positional, not named"))
		}
		if err := cur.nextArrayElement(); err != nil {
			return s.invalidate(err)
		}
		declaredType = cur.elementType
		cur.elementCount++
	case KindDynamicData:
		return s.invalidate(errors.New("eip712: cannot append an atomic value to a dynamic-data frame"))
	}
	if declaredType != typ {
		return s.invalidate(fmt.Errorf("eip712: field declared type %q but got atomic type %q", declaredType, typ))
	}

	buf := make([]byte, 32)
	copy(buf[info.PadBefore:32-info.PadAfter], value)
	if info.Signed && value[0]&0x80 != 0 {
		for i := 0; i < info.PadBefore; i++ {
			buf[i] = 0xff
		}
	}
	cur.valueHash.Write(buf)

	if s.review != nil {
		path := formatStructPath(s.stack, name, typ)
		if !s.review(ReviewPrompt{Path: path, Value: formatAtomicValue(typ, info, value)}) {
			return s.invalidate(errors.New("eip712: review cancelled"))
		}
	}
	return nil
}

// AppendDynamicData streams a chunk of a "bytes"/"string" field's payload
// into the current dynamic-data frame. Only the first DynamicDataLimit
// bytes are retained for display; the running value hash sees every byte.
func (s *Session) AppendDynamicData(data []byte) error {
	if s.state != StateOk {
		return ErrInvalid
	}
	if len(s.stack) == 0 {
		return s.invalidate(errors.New("eip712: dynamic append with no open frame"))
	}
	cur := s.stack[len(s.stack)-1]
	if cur.Kind != KindDynamicData {
		return s.invalidate(errors.New("eip712: dynamic append requires a dynamic-data frame"))
	}

	cur.valueHash.Write(data)
	cur.totalDataLen += uint64(len(data))
	if len(cur.displayBuf) < DynamicDataLimit {
		room := DynamicDataLimit - len(cur.displayBuf)
		take := len(data)
		if take > room {
			take = room
		}
		cur.displayBuf = append(cur.displayBuf, data[:take]...)
	}
	if len(cur.displayBuf) < int(cur.totalDataLen) {
		cur.truncated = true
	}
	return nil
}

// Finalize collapses the domain-separator and message struct hashes into
// the final digest. It is idempotent: calling it again on an already-Done
// session returns the same digest without recomputation.
func (s *Session) Finalize() ([32]byte, error) {
	if s.state == StateDone {
		return s.digest, nil
	}
	if s.state != StateOk {
		return [32]byte{}, ErrInvalid
	}
	if len(s.stack) != 0 {
		return [32]byte{}, s.invalidate(errors.New("eip712: finalize with unterminated frames"))
	}
	if s.hashUpdates != 2 {
		return [32]byte{}, s.invalidate(fmt.Errorf("eip712: finalize expects exactly 2 top-level structs, got %d", s.hashUpdates))
	}

	var out [32]byte
	s.root.Sum(out[:0])
	s.digest = out
	s.state = StateDone
	return out, nil
}

// ContextInfo reports the session's fixed limits, per spec.md's
// EIP712ContextInfo message.
func ContextInfo() (stackDepth, typeLen, nameLen, dynamicData, fieldCount uint32) {
	return StackDepthLimit, TypeLengthLimit, NameLengthLimit, DynamicDataLimit, FieldLimit
}
