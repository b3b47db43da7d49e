// Package tinypoll implements the tiny-message poller (C5): during a
// blocking confirmation dialog, a narrow whitelist of single-report control
// messages (Cancel, Initialize, ButtonAck, PinMatrixAck, PassphraseAck, and
// on the debug channel DebugLinkDecision/DebugLinkGetState) can be observed
// without disturbing the normal frame assembler.
//
// Grounded on original_source/lib/board/messages.c's msg_read_tiny and
// tiny_msg_poll_and_buffer, and include/keepkey/board/messages.h's
// MSG_TINY_BFR_SZ / MSG_TINY_TYPE_ERROR.
package tinypoll

import (
	"encoding/binary"

	"github.com/keepkey/hostcore/internal/proto"
	"github.com/keepkey/hostcore/internal/registry"
)

// maxTinyBodyLen is the largest body that fits in a single report
// alongside the 9-byte first-frame header (64-9).
const maxTinyBodyLen = 55

// Kind discriminates the tiny-message buffer's result tag.
type Kind uint8

const (
	KindNone Kind = iota
	KindCancel
	KindInitialize
	KindButtonAck
	KindPinMatrixAck
	KindPassphraseAck
	KindDebugDecision
	KindDebugGetState
	KindSyntaxError
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "None"
	case KindCancel:
		return "Cancel"
	case KindInitialize:
		return "Initialize"
	case KindButtonAck:
		return "ButtonAck"
	case KindPinMatrixAck:
		return "PinMatrixAck"
	case KindPassphraseAck:
		return "PassphraseAck"
	case KindDebugDecision:
		return "DebugDecision"
	case KindDebugGetState:
		return "DebugGetState"
	default:
		return "SyntaxError"
	}
}

// Result is the decoded tiny-message buffer.
type Result struct {
	Kind Kind

	PIN            string
	Passphrase     string
	DebugAccept    bool
}

// ReportSource supplies reports to the poller. Check is non-blocking and
// returns ok=false when no report is currently available; Wait blocks
// until one arrives.
type ReportSource interface {
	CheckReport() (report []byte, channel registry.Channel, ok bool)
	WaitReport() (report []byte, channel registry.Channel)
}

// Poller decodes reports against the tiny-message whitelist.
type Poller struct{}

// New constructs a Poller. It carries no state: every call is a pure
// decode of the report handed to it.
func New() *Poller {
	return &Poller{}
}

// Check performs one non-blocking poll.
func (p *Poller) Check(src ReportSource) Result {
	report, channel, ok := src.CheckReport()
	if !ok {
		return Result{Kind: KindNone}
	}
	return p.decode(report, channel)
}

// Wait blocks until a tiny message arrives and decodes it.
func (p *Poller) Wait(src ReportSource) Result {
	report, channel := src.WaitReport()
	return p.decode(report, channel)
}

func (p *Poller) decode(report []byte, channel registry.Channel) Result {
	if len(report) < 9 || report[0] != '?' || report[1] != '#' || report[2] != '#' {
		return Result{Kind: KindSyntaxError}
	}
	id := proto.MessageID(binary.BigEndian.Uint16(report[3:5]))
	declaredLen := binary.BigEndian.Uint32(report[5:9])
	if declaredLen > maxTinyBodyLen {
		return Result{Kind: KindSyntaxError}
	}
	body := report[9 : 9+declaredLen]

	switch id {
	case proto.MessageIDCancel:
		var m proto.Cancel
		if m.Unmarshal(body) != nil {
			return Result{Kind: KindSyntaxError}
		}
		return Result{Kind: KindCancel}
	case proto.MessageIDInitialize:
		var m proto.Initialize
		if m.Unmarshal(body) != nil {
			return Result{Kind: KindSyntaxError}
		}
		return Result{Kind: KindInitialize}
	case proto.MessageIDButtonAck:
		var m proto.ButtonAck
		if m.Unmarshal(body) != nil {
			return Result{Kind: KindSyntaxError}
		}
		return Result{Kind: KindButtonAck}
	case proto.MessageIDPinMatrixAck:
		var m proto.PinMatrixAck
		if m.Unmarshal(body) != nil {
			return Result{Kind: KindSyntaxError}
		}
		return Result{Kind: KindPinMatrixAck, PIN: m.PIN}
	case proto.MessageIDPassphraseAck:
		var m proto.PassphraseAck
		if m.Unmarshal(body) != nil {
			return Result{Kind: KindSyntaxError}
		}
		return Result{Kind: KindPassphraseAck, Passphrase: m.Passphrase}
	case proto.MessageIDDebugLinkDecision:
		if channel != registry.ChannelDebug {
			return Result{Kind: KindSyntaxError}
		}
		var m proto.DebugLinkDecision
		if m.Unmarshal(body) != nil {
			return Result{Kind: KindSyntaxError}
		}
		return Result{Kind: KindDebugDecision, DebugAccept: m.Accept}
	case proto.MessageIDDebugLinkGetState:
		if channel != registry.ChannelDebug {
			return Result{Kind: KindSyntaxError}
		}
		var m proto.DebugLinkGetState
		if m.Unmarshal(body) != nil {
			return Result{Kind: KindSyntaxError}
		}
		return Result{Kind: KindDebugGetState}
	default:
		return Result{Kind: KindSyntaxError}
	}
}
