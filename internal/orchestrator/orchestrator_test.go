package orchestrator_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/keepkey/hostcore/internal/confirm"
	"github.com/keepkey/hostcore/internal/orchestrator"
	"github.com/keepkey/hostcore/internal/proto"
	"github.com/keepkey/hostcore/internal/registry"
	"github.com/keepkey/hostcore/internal/tinypoll"
)

// recordingWriter captures every (id, body) pair an Orchestrator writes.
type recordingWriter struct {
	writes []struct {
		id   proto.MessageID
		body []byte
	}
}

func (w *recordingWriter) Write(id proto.MessageID, body []byte) error {
	w.writes = append(w.writes, struct {
		id   proto.MessageID
		body []byte
	}{id, body})
	return nil
}

func (w *recordingWriter) last() (proto.MessageID, []byte) {
	if len(w.writes) == 0 {
		return 0, nil
	}
	last := w.writes[len(w.writes)-1]
	return last.id, last.body
}

type stubSigner struct {
	sig []byte
	err error
}

func (s stubSigner) Sign(_ context.Context, _ [32]byte) ([]byte, error) {
	return s.sig, s.err
}

// noopButtonWriter discards every ButtonRequest a Dialog would write; the
// orchestrator tests only care about the orchestrator's own responses.
type noopButtonWriter struct{}

func (noopButtonWriter) Write(proto.MessageID, []byte) error { return nil }

// fakeReportSource never has a tiny report pending; dialog tests (and these
// orchestrator tests) drive the FSM through its EventQueue directly instead.
type fakeReportSource struct{}

func (fakeReportSource) CheckReport() ([]byte, registry.Channel, bool) { return nil, 0, false }
func (fakeReportSource) WaitReport() ([]byte, registry.Channel)        { return nil, 0 }

// autoConfirmTimeout is the Dialog hold-timeout used by autoConfirmDialog,
// short enough that the driving goroutine's hold comfortably exceeds it on
// every cycle.
const autoConfirmTimeout = 2 * time.Millisecond

// autoConfirmDialog builds a real *confirm.Dialog whose event queue is fed a
// ButtonAck/Press/(hold past the timeout)/Release sequence on a loop by a
// background goroutine, so every field-level Confirm prompt the orchestrator
// triggers (via review, which gates on a genuine press-hold-release, not
// Review's always-true outcome) completes promptly without the test
// hand-driving each individual call.
func autoConfirmDialog(t *testing.T) (*confirm.Dialog, func()) {
	t.Helper()
	events := confirm.NewEventQueue()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d := confirm.NewDialog(logger, noopButtonWriter{}, tinypoll.New(), fakeReportSource{}, events, func(confirm.LayoutNotification) {}, nil, autoConfirmTimeout)

	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			events.Push(confirm.EventButtonAck)
			events.Push(confirm.EventPress)
			time.Sleep(5 * autoConfirmTimeout)
			events.Push(confirm.EventRelease)
			time.Sleep(2 * time.Millisecond)
		}
	}()
	return d, func() { close(stop) }
}

func newOrchestrator(t *testing.T, signer orchestrator.Signer, resp *recordingWriter, initialized func() bool) (*orchestrator.Orchestrator, func()) {
	t.Helper()
	d, stop := autoConfirmDialog(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	o := orchestrator.New(logger, d, signer, resp, nil, initialized)
	return o, stop
}

func TestHandleCancelIsANoOpWithoutASession(t *testing.T) {
	t.Parallel()

	resp := &recordingWriter{}
	o, stop := newOrchestrator(t, stubSigner{}, resp, nil)
	defer stop()

	if err := o.HandleCancel((&proto.Cancel{}).Marshal()); err != nil {
		t.Fatalf("HandleCancel: %v", err)
	}
	id, body := resp.last()
	if id != proto.MessageIDFailure {
		t.Fatalf("got id=%v, want Failure", id)
	}
	var f proto.Failure
	if err := f.Unmarshal(body); err != nil {
		t.Fatalf("Unmarshal failure: %v", err)
	}
	if f.Code != proto.FailureActionCancelled {
		t.Fatalf("got code=%v, want FailureActionCancelled", f.Code)
	}
}

func TestHandlePushFrameWithoutInitFails(t *testing.T) {
	t.Parallel()

	resp := &recordingWriter{}
	o, stop := newOrchestrator(t, stubSigner{}, resp, nil)
	defer stop()

	push := proto.EIP712PushFrame{Kind: proto.FrameKindStruct, EncodedType: "EIP712Domain(string name)", FieldName: ""}
	if err := o.HandleEIP712PushFrame(push.Marshal()); err != nil {
		t.Fatalf("HandleEIP712PushFrame: %v", err)
	}
	id, body := resp.last()
	if id != proto.MessageIDFailure {
		t.Fatalf("got id=%v, want Failure", id)
	}
	var f proto.Failure
	if err := f.Unmarshal(body); err != nil {
		t.Fatalf("Unmarshal failure: %v", err)
	}
	if f.Code != proto.FailureUnexpectedMessage {
		t.Fatalf("got code=%v, want FailureUnexpectedMessage (no session in progress)", f.Code)
	}
}

func TestHandlePushFrameRejectsWrongDomainRoot(t *testing.T) {
	t.Parallel()

	resp := &recordingWriter{}
	o, stop := newOrchestrator(t, stubSigner{}, resp, nil)
	defer stop()

	if err := o.HandleEIP712Init(nil); err != nil {
		t.Fatalf("HandleEIP712Init: %v", err)
	}

	push := proto.EIP712PushFrame{Kind: proto.FrameKindStruct, EncodedType: "NotDomain(string name)", FieldName: ""}
	if err := o.HandleEIP712PushFrame(push.Marshal()); err != nil {
		t.Fatalf("HandleEIP712PushFrame: %v", err)
	}
	id, body := resp.last()
	if id != proto.MessageIDFailure {
		t.Fatalf("got id=%v, want Failure", id)
	}
	var f proto.Failure
	if err := f.Unmarshal(body); err != nil {
		t.Fatalf("Unmarshal failure: %v", err)
	}
	if f.Code != proto.FailureSyntaxError {
		t.Fatalf("got code=%v, want FailureSyntaxError for a non-EIP712Domain root struct", f.Code)
	}
}

func TestHandleEIP712SignFullFlow(t *testing.T) {
	t.Parallel()

	resp := &recordingWriter{}
	sig := []byte{0xAA, 0xBB}
	o, stop := newOrchestrator(t, stubSigner{sig: sig}, resp, func() bool { return true })
	defer stop()

	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	must(o.HandleEIP712Init(nil))

	domainPush := proto.EIP712PushFrame{Kind: proto.FrameKindStruct, EncodedType: "EIP712Domain(string name)", FieldName: ""}
	must(o.HandleEIP712PushFrame(domainPush.Marshal()))

	namePush := proto.EIP712PushFrame{Kind: proto.FrameKindDynamicData, EncodedType: "EIP712Domain(string name)", FieldName: "name"}
	must(o.HandleEIP712PushFrame(namePush.Marshal()))
	must(o.HandleEIP712AppendDynamicData((&proto.EIP712AppendDynamicData{Data: []byte("hostcore")}).Marshal()))
	must(o.HandleEIP712PopFrame(nil))

	must(o.HandleEIP712PopFrame(nil)) // close EIP712Domain

	msgPush := proto.EIP712PushFrame{Kind: proto.FrameKindStruct, EncodedType: "Msg(string contents)", FieldName: ""}
	must(o.HandleEIP712PushFrame(msgPush.Marshal()))

	contentsPush := proto.EIP712PushFrame{Kind: proto.FrameKindDynamicData, EncodedType: "Msg(string contents)", FieldName: "contents"}
	must(o.HandleEIP712PushFrame(contentsPush.Marshal()))
	must(o.HandleEIP712AppendDynamicData((&proto.EIP712AppendDynamicData{Data: []byte("hello")}).Marshal()))
	must(o.HandleEIP712PopFrame(nil))

	must(o.HandleEIP712PopFrame(nil)) // close Msg

	must(o.HandleEIP712Sign(context.Background(), nil))

	id, body := resp.last()
	if id != proto.MessageIDEIP712Signature {
		t.Fatalf("got id=%v, want EIP712Signature", id)
	}
	var out proto.EIP712Signature
	if err := out.Unmarshal(body); err != nil {
		t.Fatalf("Unmarshal signature: %v", err)
	}
	if string(out.Signature) != string(sig) {
		t.Fatalf("got signature %x, want %x", out.Signature, sig)
	}
	if len(out.Digest) != 32 {
		t.Fatalf("got digest length %d, want 32", len(out.Digest))
	}
}

func TestHandleEIP712SignRejectsUninitializedDevice(t *testing.T) {
	t.Parallel()

	resp := &recordingWriter{}
	o, stop := newOrchestrator(t, stubSigner{}, resp, func() bool { return false })
	defer stop()

	if err := o.HandleEIP712Sign(context.Background(), nil); err != nil {
		t.Fatalf("HandleEIP712Sign: %v", err)
	}
	id, body := resp.last()
	if id != proto.MessageIDFailure {
		t.Fatalf("got id=%v, want Failure", id)
	}
	var f proto.Failure
	if err := f.Unmarshal(body); err != nil {
		t.Fatalf("Unmarshal failure: %v", err)
	}
	if f.Code != proto.FailureNotInitialized {
		t.Fatalf("got code=%v, want FailureNotInitialized", f.Code)
	}
}

func TestHandleEIP712SignReportsSignerFailure(t *testing.T) {
	t.Parallel()

	resp := &recordingWriter{}
	o, stop := newOrchestrator(t, stubSigner{err: errors.New("no key material")}, resp, func() bool { return true })
	defer stop()

	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	must(o.HandleEIP712Init(nil))
	domainPush := proto.EIP712PushFrame{Kind: proto.FrameKindStruct, EncodedType: "EIP712Domain(string name)", FieldName: ""}
	must(o.HandleEIP712PushFrame(domainPush.Marshal()))
	namePush := proto.EIP712PushFrame{Kind: proto.FrameKindDynamicData, EncodedType: "EIP712Domain(string name)", FieldName: "name"}
	must(o.HandleEIP712PushFrame(namePush.Marshal()))
	must(o.HandleEIP712AppendDynamicData((&proto.EIP712AppendDynamicData{Data: []byte("hostcore")}).Marshal()))
	must(o.HandleEIP712PopFrame(nil))
	must(o.HandleEIP712PopFrame(nil))

	msgPush := proto.EIP712PushFrame{Kind: proto.FrameKindStruct, EncodedType: "Msg(string contents)", FieldName: ""}
	must(o.HandleEIP712PushFrame(msgPush.Marshal()))
	contentsPush := proto.EIP712PushFrame{Kind: proto.FrameKindDynamicData, EncodedType: "Msg(string contents)", FieldName: "contents"}
	must(o.HandleEIP712PushFrame(contentsPush.Marshal()))
	must(o.HandleEIP712AppendDynamicData((&proto.EIP712AppendDynamicData{Data: []byte("hello")}).Marshal()))
	must(o.HandleEIP712PopFrame(nil))
	must(o.HandleEIP712PopFrame(nil))

	if err := o.HandleEIP712Sign(context.Background(), nil); err != nil {
		t.Fatalf("HandleEIP712Sign: %v", err)
	}
	id, body := resp.last()
	if id != proto.MessageIDFailure {
		t.Fatalf("got id=%v, want Failure", id)
	}
	var f proto.Failure
	if err := f.Unmarshal(body); err != nil {
		t.Fatalf("Unmarshal failure: %v", err)
	}
	if f.Code != proto.FailureOther {
		t.Fatalf("got code=%v, want FailureOther", f.Code)
	}
}

func TestHandleInitializeResetsInProgressSession(t *testing.T) {
	t.Parallel()

	resp := &recordingWriter{}
	o, stop := newOrchestrator(t, stubSigner{}, resp, nil)
	defer stop()

	if err := o.HandleEIP712Init(nil); err != nil {
		t.Fatalf("HandleEIP712Init: %v", err)
	}
	domainPush := proto.EIP712PushFrame{Kind: proto.FrameKindStruct, EncodedType: "EIP712Domain(string name)", FieldName: ""}
	if err := o.HandleEIP712PushFrame(domainPush.Marshal()); err != nil {
		t.Fatalf("HandleEIP712PushFrame: %v", err)
	}

	if err := o.HandleInitialize((&proto.Initialize{}).Marshal()); err != nil {
		t.Fatalf("HandleInitialize: %v", err)
	}

	// A frame from before the reset should now see no session in progress.
	if err := o.HandleEIP712PopFrame(nil); err != nil {
		t.Fatalf("HandleEIP712PopFrame: %v", err)
	}
	id, body := resp.last()
	if id != proto.MessageIDFailure {
		t.Fatalf("got id=%v, want Failure", id)
	}
	var f proto.Failure
	if err := f.Unmarshal(body); err != nil {
		t.Fatalf("Unmarshal failure: %v", err)
	}
	if f.Code != proto.FailureUnexpectedMessage {
		t.Fatalf("got code=%v, want FailureUnexpectedMessage", f.Code)
	}
}
