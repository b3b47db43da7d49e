// Package dispatch implements the Dispatcher (C3): the glue between a
// reassembled message body and the registry entry's handler, translating
// decode and handler failures into the FailureCode vocabulary the wire
// protocol uses instead of Go errors.
//
// Grounded on original_source/lib/board/messages.c's msg_process: decode
// into a zeroed scratch buffer, a decode failure becomes
// FailureUnexpectedMessage, an unrecognized message was already rejected
// earlier by the registry lookup in transport.Assembler, and any remaining
// handler error is reported as FailureOther rather than propagated to the
// host as a Go error.
package dispatch

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/keepkey/hostcore/internal/proto"
	"github.com/keepkey/hostcore/internal/registry"
)

// ErrDecode marks a ParsedHandler failure as a wire-decode problem (bad
// protobuf bytes) rather than an application-level failure, so Dispatcher
// can report the distinct FailureUnexpectedMessage code the original
// firmware uses for malformed bodies.
var ErrDecode = errors.New("dispatch: could not parse protocol buffer message")

// ResponseWriter writes one outbound message for the turn. Dispatch errors
// are reported through it as a Failure message, never as a Go error
// returned up through the transport layer.
type ResponseWriter interface {
	WriteFailure(code proto.FailureCode, text string) error
}

// Dispatcher invokes a registry entry's Parsed handler against a
// reassembled body, on behalf of transport.Assembler's onDispatch hook.
type Dispatcher struct {
	logger *slog.Logger
	resp   ResponseWriter
}

// New constructs a Dispatcher that reports failures through resp.
func New(logger *slog.Logger, resp ResponseWriter) *Dispatcher {
	return &Dispatcher{logger: logger, resp: resp}
}

// Dispatch invokes entry's Parsed handler against body. It is meant to be
// passed directly as transport.Assembler's onDispatch callback for the
// Parsed dispatch mode; Raw-mode entries are streamed directly by the
// assembler and never reach here.
func (d *Dispatcher) Dispatch(entry *registry.Entry, body []byte) error {
	if entry.Dispatch != registry.DispatchParsed {
		return fmt.Errorf("dispatch: entry %s is not in Parsed mode", entry.ID)
	}
	if entry.Parsed == nil {
		d.logger.Warn("dispatch: no handler registered", "id", entry.ID)
		return d.resp.WriteFailure(proto.FailureUnexpectedMessage, "Unexpected message")
	}

	err := entry.Parsed(body)
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrDecode) {
		d.logger.Warn("dispatch: decode failure", "id", entry.ID, "error", err)
		return d.resp.WriteFailure(proto.FailureUnexpectedMessage, "Could not parse protocol buffer message")
	}

	d.logger.Error("dispatch: handler failure", "id", entry.ID, "error", err)
	return d.resp.WriteFailure(proto.FailureOther, err.Error())
}
