package proto

import "fmt"

// MessageID is the 16-bit wire identifier carried in every frame header.
type MessageID uint16

// Message identifiers. Values are arbitrary but fixed: once assigned they
// are part of the wire contract and must never be renumbered or reused.
const (
	MessageIDPing      MessageID = 1
	MessageIDSuccess   MessageID = 2
	MessageIDFailure   MessageID = 3
	MessageIDCancel    MessageID = 20
	MessageIDInitialize MessageID = 21

	MessageIDButtonRequest MessageID = 30
	MessageIDButtonAck     MessageID = 31

	MessageIDPinMatrixRequest MessageID = 40
	MessageIDPinMatrixAck     MessageID = 41

	MessageIDPassphraseRequest MessageID = 50
	MessageIDPassphraseAck     MessageID = 51

	MessageIDDebugLinkDecision  MessageID = 100
	MessageIDDebugLinkGetState  MessageID = 101
	MessageIDDebugLinkState     MessageID = 102

	MessageIDEIP712Init              MessageID = 200
	MessageIDEIP712ContextInfo       MessageID = 201
	MessageIDEIP712PushFrame         MessageID = 202
	MessageIDEIP712PopFrame          MessageID = 203
	MessageIDEIP712AppendAtomicField MessageID = 204
	MessageIDEIP712AppendDynamicData MessageID = 205
	MessageIDEIP712Sign              MessageID = 206
	MessageIDEIP712Verify            MessageID = 207
	MessageIDEIP712Signature         MessageID = 208
)

// FailureCode enumerates the uniform Failure response codes.
type FailureCode int32

const (
	FailureUnexpectedMessage FailureCode = 1
	FailureButtonExpected    FailureCode = 2
	FailureSyntaxError       FailureCode = 3
	FailureActionCancelled   FailureCode = 4
	FailurePinExpected       FailureCode = 5
	FailurePinCancelled      FailureCode = 6
	FailurePinInvalid        FailureCode = 7
	FailureInvalidSignature  FailureCode = 8
	FailureNotInitialized    FailureCode = 9
	FailureOther             FailureCode = 10
)

func (c FailureCode) String() string {
	switch c {
	case FailureUnexpectedMessage:
		return "UnexpectedMessage"
	case FailureButtonExpected:
		return "ButtonExpected"
	case FailureSyntaxError:
		return "SyntaxError"
	case FailureActionCancelled:
		return "ActionCancelled"
	case FailurePinExpected:
		return "PinExpected"
	case FailurePinCancelled:
		return "PinCancelled"
	case FailurePinInvalid:
		return "PinInvalid"
	case FailureInvalidSignature:
		return "InvalidSignature"
	case FailureNotInitialized:
		return "NotInitialized"
	case FailureOther:
		return "Other"
	default:
		return "Unknown"
	}
}

// Ping carries an optional echo string; the device replies with Success.
type Ping struct {
	Message string
}

func (m *Ping) Marshal() []byte {
	if m.Message == "" {
		return nil
	}
	return appendStringField(nil, 1, m.Message)
}

func (m *Ping) Unmarshal(buf []byte) error {
	r := newFieldReader(buf)
	for {
		num, typ, val, ok, err := r.next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if num == 1 && typ == 2 {
			m.Message = string(val)
		}
	}
}

// Success carries free-form confirmation text.
type Success struct {
	Message string
}

func (m *Success) Marshal() []byte {
	return appendStringField(nil, 1, m.Message)
}

func (m *Success) Unmarshal(buf []byte) error {
	r := newFieldReader(buf)
	for {
		num, typ, val, ok, err := r.next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if num == 1 && typ == 2 {
			m.Message = string(val)
		}
	}
}

// Failure is the uniform error response.
type Failure struct {
	Code FailureCode
	Text string
}

func (m *Failure) Marshal() []byte {
	buf := appendVarintField(nil, 1, uint64(m.Code))
	buf = appendStringField(buf, 2, m.Text)
	return buf
}

func (m *Failure) Unmarshal(buf []byte) error {
	r := newFieldReader(buf)
	for {
		num, typ, val, ok, err := r.next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		switch {
		case num == 1 && typ == 0:
			m.Code = FailureCode(varintFieldValue(val))
		case num == 2 && typ == 2:
			m.Text = string(val)
		}
	}
}

// ButtonRequest asks the host for a ButtonAck before the device will accept
// gesture input for the pending confirmation.
type ButtonRequest struct {
	Code int32
}

func (m *ButtonRequest) Marshal() []byte {
	return appendVarintField(nil, 1, uint64(m.Code))
}

func (m *ButtonRequest) Unmarshal(buf []byte) error {
	r := newFieldReader(buf)
	for {
		num, typ, val, ok, err := r.next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if num == 1 && typ == 0 {
			m.Code = int32(varintFieldValue(val))
		}
	}
}

// ButtonAck, Cancel and Initialize are empty tiny messages: their presence
// on the wire (a valid header with a zero-length body) is the entire
// payload. PinMatrixAck and PassphraseAck are tiny messages that carry a
// single string field.
type ButtonAck struct{}
type Cancel struct{}
type Initialize struct{}
type PinMatrixAck struct{ PIN string }
type PassphraseAck struct{ Passphrase string }

func (m *ButtonAck) Marshal() []byte          { return nil }
func (m *ButtonAck) Unmarshal(buf []byte) error { return emptyUnmarshal(buf) }
func (m *Cancel) Marshal() []byte             { return nil }
func (m *Cancel) Unmarshal(buf []byte) error    { return emptyUnmarshal(buf) }
func (m *Initialize) Marshal() []byte         { return nil }
func (m *Initialize) Unmarshal(buf []byte) error { return emptyUnmarshal(buf) }

func (m *PinMatrixAck) Marshal() []byte {
	return appendStringField(nil, 1, m.PIN)
}

func (m *PinMatrixAck) Unmarshal(buf []byte) error {
	r := newFieldReader(buf)
	for {
		num, typ, val, ok, err := r.next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if num == 1 && typ == 2 {
			m.PIN = string(val)
		}
	}
}

func (m *PassphraseAck) Marshal() []byte {
	return appendStringField(nil, 1, m.Passphrase)
}

func (m *PassphraseAck) Unmarshal(buf []byte) error {
	r := newFieldReader(buf)
	for {
		num, typ, val, ok, err := r.next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if num == 1 && typ == 2 {
			m.Passphrase = string(val)
		}
	}
}

// DebugLinkDecision carries the debug-link harness's forced yes/no for a
// pending confirmation.
type DebugLinkDecision struct {
	Accept bool
}

func (m *DebugLinkDecision) Marshal() []byte {
	v := uint64(0)
	if m.Accept {
		v = 1
	}
	return appendVarintField(nil, 1, v)
}

func (m *DebugLinkDecision) Unmarshal(buf []byte) error {
	r := newFieldReader(buf)
	for {
		num, typ, val, ok, err := r.next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if num == 1 && typ == 0 {
			m.Accept = varintFieldValue(val) != 0
		}
	}
}

type DebugLinkGetState struct{}

func (m *DebugLinkGetState) Marshal() []byte          { return nil }
func (m *DebugLinkGetState) Unmarshal(buf []byte) error { return emptyUnmarshal(buf) }

func emptyUnmarshal(buf []byte) error {
	r := newFieldReader(buf)
	for {
		_, _, _, ok, err := r.next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}
}

// --- EIP-712 host protocol messages -----------------------------------

// EIP712Init requests a fresh typed-data session.
type EIP712Init struct{}

func (m *EIP712Init) Marshal() []byte          { return nil }
func (m *EIP712Init) Unmarshal(buf []byte) error { return emptyUnmarshal(buf) }

// EIP712ContextInfo reports the session's bounds so the host can chunk the
// typed-data document safely.
type EIP712ContextInfo struct {
	StackDepthLimit  uint32
	TypeLengthLimit  uint32
	NameLengthLimit  uint32
	DynamicDataLimit uint32
	FieldLimit       uint32
}

func (m *EIP712ContextInfo) Marshal() []byte {
	buf := appendVarintField(nil, 1, uint64(m.StackDepthLimit))
	buf = appendVarintField(buf, 2, uint64(m.TypeLengthLimit))
	buf = appendVarintField(buf, 3, uint64(m.NameLengthLimit))
	buf = appendVarintField(buf, 4, uint64(m.DynamicDataLimit))
	buf = appendVarintField(buf, 5, uint64(m.FieldLimit))
	return buf
}

func (m *EIP712ContextInfo) Unmarshal(buf []byte) error {
	r := newFieldReader(buf)
	for {
		num, typ, val, ok, err := r.next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if typ != 0 {
			continue
		}
		v := uint32(varintFieldValue(val))
		switch num {
		case 1:
			m.StackDepthLimit = v
		case 2:
			m.TypeLengthLimit = v
		case 3:
			m.NameLengthLimit = v
		case 4:
			m.DynamicDataLimit = v
		case 5:
			m.FieldLimit = v
		}
	}
}

// FrameKind mirrors the session frame kinds at the wire boundary.
type FrameKind int32

const (
	FrameKindStruct FrameKind = 0
	FrameKindArray  FrameKind = 1
	FrameKindDynamicData FrameKind = 2
)

// EIP712PushFrame pushes a new frame onto the session's stack.
type EIP712PushFrame struct {
	Kind        FrameKind
	EncodedType string
	FieldName   string
}

func (m *EIP712PushFrame) Marshal() []byte {
	buf := appendVarintField(nil, 1, uint64(m.Kind))
	buf = appendStringField(buf, 2, m.EncodedType)
	buf = appendStringField(buf, 3, m.FieldName)
	return buf
}

func (m *EIP712PushFrame) Unmarshal(buf []byte) error {
	r := newFieldReader(buf)
	for {
		num, typ, val, ok, err := r.next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		switch {
		case num == 1 && typ == 0:
			m.Kind = FrameKind(varintFieldValue(val))
		case num == 2 && typ == 2:
			m.EncodedType = string(val)
		case num == 3 && typ == 2:
			m.FieldName = string(val)
		}
	}
}

// EIP712PopFrame pops the current frame.
type EIP712PopFrame struct{}

func (m *EIP712PopFrame) Marshal() []byte          { return nil }
func (m *EIP712PopFrame) Unmarshal(buf []byte) error { return emptyUnmarshal(buf) }

// EIP712AppendAtomicField appends a fixed-width value to the current
// Struct frame.
type EIP712AppendAtomicField struct {
	Type  string
	Name  string
	Value []byte
}

func (m *EIP712AppendAtomicField) Marshal() []byte {
	buf := appendStringField(nil, 1, m.Type)
	buf = appendStringField(buf, 2, m.Name)
	buf = appendBytesField(buf, 3, m.Value)
	return buf
}

func (m *EIP712AppendAtomicField) Unmarshal(buf []byte) error {
	r := newFieldReader(buf)
	for {
		num, typ, val, ok, err := r.next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		switch {
		case num == 1 && typ == 2:
			m.Type = string(val)
		case num == 2 && typ == 2:
			m.Name = string(val)
		case num == 3 && typ == 2:
			m.Value = val
		}
	}
}

// EIP712AppendDynamicData streams a chunk of bytes/string data into the
// current DynamicData frame.
type EIP712AppendDynamicData struct {
	Data []byte
}

func (m *EIP712AppendDynamicData) Marshal() []byte {
	return appendBytesField(nil, 1, m.Data)
}

func (m *EIP712AppendDynamicData) Unmarshal(buf []byte) error {
	r := newFieldReader(buf)
	for {
		num, typ, val, ok, err := r.next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if num == 1 && typ == 2 {
			m.Data = val
		}
	}
}

// EIP712Sign requests finalization and a signature over the resulting digest.
type EIP712Sign struct{}

func (m *EIP712Sign) Marshal() []byte          { return nil }
func (m *EIP712Sign) Unmarshal(buf []byte) error { return emptyUnmarshal(buf) }

// EIP712Verify requests finalization and a verification against a supplied
// signature, without producing a new one.
type EIP712Verify struct {
	Signature []byte
}

func (m *EIP712Verify) Marshal() []byte {
	return appendBytesField(nil, 1, m.Signature)
}

func (m *EIP712Verify) Unmarshal(buf []byte) error {
	r := newFieldReader(buf)
	for {
		num, typ, val, ok, err := r.next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if num == 1 && typ == 2 {
			m.Signature = val
		}
	}
}

// EIP712Signature is the crypto collaborator's signature over the final
// digest, plus the digest itself for host-side verification.
type EIP712Signature struct {
	Digest    []byte
	Signature []byte
}

func (m *EIP712Signature) Marshal() []byte {
	buf := appendBytesField(nil, 1, m.Digest)
	buf = appendBytesField(buf, 2, m.Signature)
	return buf
}

func (m *EIP712Signature) Unmarshal(buf []byte) error {
	r := newFieldReader(buf)
	for {
		num, typ, val, ok, err := r.next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		switch {
		case num == 1 && typ == 2:
			m.Digest = val
		case num == 2 && typ == 2:
			m.Signature = val
		}
	}
}

// String implements fmt.Stringer for log-friendly message identification.
func (id MessageID) String() string {
	return fmt.Sprintf("msg#%d", uint16(id))
}
