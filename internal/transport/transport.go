// Package transport implements the HID frame assembler (C1) and writer
// (C4): reassembling 64-byte reports into whole messages and chunking
// encoded responses back into reports.
//
// Grounded on original_source/lib/board/messages.c's usb_rx_helper (frame
// reassembly: magic/id/len header on the first report, continuation
// reports carrying only a leading '?', overflow-checked cursor arithmetic,
// atomic reset-on-violation) and its encode_pb/report-chunking counterpart
// in the writer direction.
package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/keepkey/hostcore/internal/proto"
	"github.com/keepkey/hostcore/internal/registry"
)

// ReportSize is the fixed HID report length on the wire.
const ReportSize = 64

// reportTag is the leading byte of every report.
const reportTag = '?'

// firstFrameHeaderSize is the number of bytes consumed by the magic+id+len
// header on the first report (tag + ## + u16 + u32).
const firstFrameHeaderSize = 9

// continuationHeaderSize is the number of bytes consumed by the leading tag
// on continuation reports.
const continuationHeaderSize = 1

// FailureFunc reports a framing-level failure to whatever layer turns it
// into a wire Failure{code,text} response.
type FailureFunc func(code proto.FailureCode, text string)

// ErrMalformedPacket indicates the leading report tag was wrong.
var ErrMalformedPacket = errors.New("transport: malformed packet")

// ErrUnknownMessage indicates the first-report id has no registry entry.
var ErrUnknownMessage = errors.New("transport: unknown message")

// ErrMalformedMessage indicates cursor/length arithmetic would overflow or
// exceed the buffer.
var ErrMalformedMessage = errors.New("transport: malformed message")

// MaxFrameSize bounds the maximum in-flight message body size. The device
// build uses a tighter bound than the emulator build; callers select the
// value appropriate to their target via NewAssembler's maxFrameSize
// parameter.
const (
	MaxFrameSizeDevice   = 12 * 1024
	MaxFrameSizeEmulator = 64 * 1024
)

// reassemblyState holds the singleton-per-channel in-flight frame.
type reassemblyState struct {
	expectingFirst bool
	msgID          proto.MessageID
	declaredLen    uint32
	cursor         uint32
	entry          *registry.Entry
	buffer         []byte
}

// Assembler reassembles reports for a single channel (Normal or Debug).
// One Assembler instance exists per channel on a Device, matching the
// spec's "reassembly state is a singleton per channel" rule.
type Assembler struct {
	logger       *slog.Logger
	registry     *registry.Registry
	channel      registry.Channel
	maxFrameSize uint32
	factory      bool

	st reassemblyState

	// onDispatch is invoked once a Parsed message is fully reassembled.
	onDispatch func(entry *registry.Entry, body []byte) error
	// onFailure reports a framing-level failure.
	onFailure FailureFunc
}

// NewAssembler constructs an Assembler bound to one channel.
func NewAssembler(logger *slog.Logger, reg *registry.Registry, channel registry.Channel, maxFrameSize uint32, factory bool, onDispatch func(entry *registry.Entry, body []byte) error, onFailure FailureFunc) *Assembler {
	a := &Assembler{
		logger:       logger,
		registry:     reg,
		channel:      channel,
		maxFrameSize: maxFrameSize,
		factory:      factory,
		onDispatch:   onDispatch,
		onFailure:    onFailure,
	}
	a.reset()
	return a
}

func (a *Assembler) reset() {
	a.st = reassemblyState{
		expectingFirst: true,
		buffer:         make([]byte, a.maxFrameSize),
	}
}

func (a *Assembler) fail(code proto.FailureCode, text string) {
	a.logger.Warn("transport: frame failure", "channel", a.channel, "code", code.String(), "text", text)
	if a.onFailure != nil {
		a.onFailure(code, text)
	}
	a.reset()
}

// Feed processes one complete 64-byte HID report. It returns an error only
// for programming misuse (wrong report length); protocol-level failures go
// through FailureFunc and are not returned as Go errors.
func (a *Assembler) Feed(report []byte) error {
	if len(report) != ReportSize {
		return fmt.Errorf("transport: report must be %d bytes, got %d", ReportSize, len(report))
	}

	if report[0] != reportTag {
		a.fail(proto.FailureUnexpectedMessage, "Malformed packet")
		return nil
	}

	var body []byte
	if a.st.expectingFirst {
		if len(report) < firstFrameHeaderSize {
			a.fail(proto.FailureUnexpectedMessage, "Malformed packet")
			return nil
		}
		if report[1] != '#' || report[2] != '#' {
			a.fail(proto.FailureUnexpectedMessage, "Malformed packet")
			return nil
		}
		id := proto.MessageID(binary.BigEndian.Uint16(report[3:5]))
		declaredLen := binary.BigEndian.Uint32(report[5:9])

		if declaredLen > a.maxFrameSize {
			a.fail(proto.FailureUnexpectedMessage, "Malformed message")
			return nil
		}

		entry, ok := a.registry.Lookup(a.channel, id, registry.DirectionInFromHost)
		if !ok {
			a.fail(proto.FailureUnexpectedMessage, "Unknown message")
			return nil
		}
		if !entry.Permission.Allowed(a.factory) {
			a.fail(proto.FailureUnexpectedMessage, "Unexpected message")
			return nil
		}

		a.st.expectingFirst = false
		a.st.msgID = id
		a.st.declaredLen = declaredLen
		a.st.entry = entry
		a.st.cursor = 0

		body = report[firstFrameHeaderSize:]
	} else {
		body = report[continuationHeaderSize:]
	}

	remaining := a.st.declaredLen - a.st.cursor
	n := uint32(len(body))
	if n > remaining {
		n = remaining
	}
	chunk := body[:n]

	entry := a.st.entry
	newCursor := a.st.cursor + n
	if newCursor < a.st.cursor { // overflow
		a.fail(proto.FailureUnexpectedMessage, "Malformed message")
		return nil
	}

	if entry.Dispatch == registry.DispatchRaw {
		final := newCursor >= a.st.declaredLen
		if entry.Raw != nil {
			if err := entry.Raw(chunk, a.st.declaredLen, final); err != nil {
				a.logger.Error("transport: raw handler failed", "id", entry.ID, "error", err)
			}
		}
		a.st.cursor = newCursor
		if final {
			a.reset()
		}
		return nil
	}

	if a.st.cursor+n > uint32(len(a.st.buffer)) {
		a.fail(proto.FailureUnexpectedMessage, "Malformed message")
		return nil
	}
	copy(a.st.buffer[a.st.cursor:], chunk)
	a.st.cursor = newCursor

	if a.st.cursor >= a.st.declaredLen {
		body := append([]byte(nil), a.st.buffer[:a.st.declaredLen]...)
		if a.onDispatch != nil {
			if err := a.onDispatch(entry, body); err != nil {
				a.logger.Error("transport: dispatch failed", "id", entry.ID, "error", err)
			}
		}
		a.reset()
	}

	return nil
}

// Writer encodes responses and chunks them into reports (C4).
type Writer struct {
	logger   *slog.Logger
	registry *registry.Registry
	channel  registry.Channel
	sink     ReportSink
}

// ReportSink transmits one 64-byte report, blocking until the outgoing
// endpoint accepts it (bounded spin is the sink's concern, per spec §4.3).
type ReportSink interface {
	WriteReport(report []byte) error
}

// NewWriter constructs a Writer bound to one channel and report sink.
func NewWriter(logger *slog.Logger, reg *registry.Registry, channel registry.Channel, sink ReportSink) *Writer {
	return &Writer{logger: logger, registry: reg, channel: channel, sink: sink}
}

// Write resolves id's outbound schema, encodes value's already-marshaled
// bytes, and emits the framed reports.
func (w *Writer) Write(id proto.MessageID, encoded []byte) error {
	if _, ok := w.registry.Lookup(w.channel, id, registry.DirectionOutToHost); !ok {
		return fmt.Errorf("transport: no outbound schema for channel=%s id=%s", w.channel, id)
	}

	header := make([]byte, firstFrameHeaderSize)
	header[0] = reportTag
	header[1] = '#'
	header[2] = '#'
	binary.BigEndian.PutUint16(header[3:5], uint16(id))
	binary.BigEndian.PutUint32(header[5:9], uint32(len(encoded)))

	report := make([]byte, ReportSize)
	n := copy(report, header)
	n += copy(report[n:], encoded)
	for i := n; i < ReportSize; i++ {
		report[i] = 0
	}
	if err := w.sink.WriteReport(report); err != nil {
		return fmt.Errorf("transport: write first report: %w", err)
	}

	rest := encoded[min(len(encoded), ReportSize-firstFrameHeaderSize):]
	for len(rest) > 0 {
		report := make([]byte, ReportSize)
		report[0] = reportTag
		n := copy(report[1:], rest)
		for i := 1 + n; i < ReportSize; i++ {
			report[i] = 0
		}
		if err := w.sink.WriteReport(report); err != nil {
			return fmt.Errorf("transport: write continuation report: %w", err)
		}
		rest = rest[n:]
	}

	return nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
