// Package orchestrator implements the Response Orchestrator (C8): the
// per-turn glue between a reassembled request, the confirmation dialog,
// the EIP-712 session, and the crypto collaborator that actually produces
// a signature.
//
// Grounded on original_source/lib/firmware/fsm_eip712.c's message_handler
// sequence (device-initialized and state checks before any confirm() call,
// a Cancel/Initialize observed mid-turn aborts with FailureActionCancelled,
// the crypto collaborator is invoked only once the session is Done) and on
// the teacher's internal/bfd/manager.go for the "one goroutine owns a
// turn, no concurrent turn is permitted" non-reentrancy idiom.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/keepkey/hostcore/internal/confirm"
	"github.com/keepkey/hostcore/internal/dispatch"
	"github.com/keepkey/hostcore/internal/eip712"
	hostmetrics "github.com/keepkey/hostcore/internal/metrics"
	"github.com/keepkey/hostcore/internal/proto"
)

// Signer is the crypto collaborator: given a final digest, it returns a
// signature (or an error if no key material is available, e.g. the device
// isn't initialized). It is never implemented by this module -- only
// invoked at the boundary spec.md calls out as the "crypto collaborator".
type Signer interface {
	Sign(ctx context.Context, digest [32]byte) (signature []byte, err error)
}

// ResponseWriter is the narrow outbound surface the orchestrator needs:
// one message per turn, written once a terminal outcome (Success, Failure,
// or Signature) is reached.
type ResponseWriter interface {
	Write(id proto.MessageID, encoded []byte) error
}

// ErrNotInitialized is returned (translated to FailureNotInitialized) when
// a turn requiring key material arrives before the device has been set up.
var ErrNotInitialized = errors.New("orchestrator: device not initialized")

// Orchestrator owns the single EIP-712 session and confirmation dialog
// live at any moment. Its mutex guards only the session pointer, which
// Init, Cancel and Initialize replace; it does not serialize whole turns,
// which rely on the caller delivering one message at a time.
type Orchestrator struct {
	logger  *slog.Logger
	dialog  *confirm.Dialog
	signer  Signer
	resp    ResponseWriter
	metrics *hostmetrics.Collector

	initialized func() bool

	mu      sync.Mutex
	session *eip712.Session
}

// New constructs an Orchestrator. initialized reports whether the device
// has key material available; it is consulted before every turn that would
// otherwise require the Signer. metrics may be nil, in which case session
// aborts are simply not counted.
func New(logger *slog.Logger, dialog *confirm.Dialog, signer Signer, resp ResponseWriter, metrics *hostmetrics.Collector, initialized func() bool) *Orchestrator {
	return &Orchestrator{
		logger:      logger,
		dialog:      dialog,
		signer:      signer,
		resp:        resp,
		metrics:     metrics,
		initialized: initialized,
	}
}

func (o *Orchestrator) writeFailure(code proto.FailureCode, text string) error {
	f := proto.Failure{Code: code, Text: text}
	return o.resp.Write(proto.MessageIDFailure, f.Marshal())
}

// sessionAbortFailure reports a session abort -- a session invariant
// violation invalidates the whole EIP-712 session rather than merely
// rejecting one malformed field -- as FailureActionCancelled when a review
// prompt was cancelled and as FailureOther otherwise, and, if a metrics
// collector is attached, classifies the Session error text into a
// bounded-cardinality invariant label.
func (o *Orchestrator) sessionAbortFailure(err error) error {
	invariant := hostmetrics.ClassifyEIP712Abort(err.Error())
	if o.metrics != nil {
		o.metrics.IncEIP712Abort(invariant)
	}
	if invariant == "review_cancelled" {
		return o.writeFailure(proto.FailureActionCancelled, err.Error())
	}
	return o.writeFailure(proto.FailureOther, err.Error())
}

// HandleEIP712Init starts a fresh session, replacing any session already
// in progress -- matching EIP712Init's "always resets" semantics.
func (o *Orchestrator) HandleEIP712Init(body []byte) error {
	var m proto.EIP712Init
	if err := m.Unmarshal(body); err != nil {
		return fmt.Errorf("%w: %v", dispatch.ErrDecode, err)
	}

	o.mu.Lock()
	o.session = eip712.NewSession(o.review)
	o.mu.Unlock()

	sd, tl, nl, dd, fl := eip712.ContextInfo()
	info := proto.EIP712ContextInfo{
		StackDepthLimit:  sd,
		TypeLengthLimit:  tl,
		NameLengthLimit:  nl,
		DynamicDataLimit: dd,
		FieldLimit:       fl,
	}
	return o.resp.Write(proto.MessageIDEIP712ContextInfo, info.Marshal())
}

// review is wired as the eip712.Session's ReviewFunc: it calls through the
// gated Confirm dialog, not Review, because a field-level prompt must be
// able to actually refuse -- Review always finishes true on any
// press+release and so could never let a user abort a session, contradicting
// "a user cancellation at any prompt aborts the session".
func (o *Orchestrator) review(p eip712.ReviewPrompt) bool {
	out, err := o.dialog.Confirm(context.Background(), 0, p.Path, "%s", p.Value)
	if err != nil {
		o.logger.Warn("orchestrator: review dialog error", "error", err)
		return false
	}
	return out.Confirmed
}

func (o *Orchestrator) currentSession() (*eip712.Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return nil, errors.New("orchestrator: no EIP712Init session in progress")
	}
	return o.session, nil
}

// HandleEIP712PushFrame pushes a new frame onto the in-progress session.
func (o *Orchestrator) HandleEIP712PushFrame(body []byte) error {
	var m proto.EIP712PushFrame
	if err := m.Unmarshal(body); err != nil {
		return fmt.Errorf("%w: %v", dispatch.ErrDecode, err)
	}
	s, err := o.currentSession()
	if err != nil {
		return o.writeFailure(proto.FailureUnexpectedMessage, err.Error())
	}
	kind := eip712.Kind(m.Kind)
	if kind == eip712.KindStruct && s.AwaitingDomainSeparator() {
		root, err := eip712.RootTypeName(m.EncodedType)
		if err != nil {
			return o.writeFailure(proto.FailureSyntaxError, err.Error())
		}
		if root != eip712.DomainSeparatorName {
			return o.writeFailure(proto.FailureSyntaxError, fmt.Sprintf("first top-level struct must be %s, got %s", eip712.DomainSeparatorName, root))
		}
	}
	if err := s.Push(kind, m.EncodedType, m.FieldName); err != nil {
		return o.sessionAbortFailure(err)
	}
	success := proto.Success{Message: "pushed"}
	return o.resp.Write(proto.MessageIDSuccess, success.Marshal())
}

// HandleEIP712PopFrame closes the current frame.
func (o *Orchestrator) HandleEIP712PopFrame(body []byte) error {
	var m proto.EIP712PopFrame
	if err := m.Unmarshal(body); err != nil {
		return fmt.Errorf("%w: %v", dispatch.ErrDecode, err)
	}
	s, err := o.currentSession()
	if err != nil {
		return o.writeFailure(proto.FailureUnexpectedMessage, err.Error())
	}
	if err := s.Pop(); err != nil {
		return o.sessionAbortFailure(err)
	}
	success := proto.Success{Message: "popped"}
	return o.resp.Write(proto.MessageIDSuccess, success.Marshal())
}

// HandleEIP712AppendAtomicField appends a value to the current frame.
func (o *Orchestrator) HandleEIP712AppendAtomicField(body []byte) error {
	var m proto.EIP712AppendAtomicField
	if err := m.Unmarshal(body); err != nil {
		return fmt.Errorf("%w: %v", dispatch.ErrDecode, err)
	}
	s, err := o.currentSession()
	if err != nil {
		return o.writeFailure(proto.FailureUnexpectedMessage, err.Error())
	}
	if err := s.AppendAtomicField(m.Type, m.Name, m.Value); err != nil {
		return o.sessionAbortFailure(err)
	}
	success := proto.Success{Message: "appended"}
	return o.resp.Write(proto.MessageIDSuccess, success.Marshal())
}

// HandleEIP712AppendDynamicData streams a chunk into the current
// dynamic-data frame.
func (o *Orchestrator) HandleEIP712AppendDynamicData(body []byte) error {
	var m proto.EIP712AppendDynamicData
	if err := m.Unmarshal(body); err != nil {
		return fmt.Errorf("%w: %v", dispatch.ErrDecode, err)
	}
	s, err := o.currentSession()
	if err != nil {
		return o.writeFailure(proto.FailureUnexpectedMessage, err.Error())
	}
	if err := s.AppendDynamicData(m.Data); err != nil {
		return o.sessionAbortFailure(err)
	}
	success := proto.Success{Message: "appended"}
	return o.resp.Write(proto.MessageIDSuccess, success.Marshal())
}

// HandleEIP712Sign finalizes the session and asks the crypto collaborator
// to sign the resulting digest.
func (o *Orchestrator) HandleEIP712Sign(ctx context.Context, body []byte) error {
	var m proto.EIP712Sign
	if err := m.Unmarshal(body); err != nil {
		return fmt.Errorf("%w: %v", dispatch.ErrDecode, err)
	}
	if o.initialized != nil && !o.initialized() {
		return o.writeFailure(proto.FailureNotInitialized, ErrNotInitialized.Error())
	}
	s, err := o.currentSession()
	if err != nil {
		return o.writeFailure(proto.FailureUnexpectedMessage, err.Error())
	}
	digest, err := s.Finalize()
	if err != nil {
		return o.sessionAbortFailure(err)
	}
	sig, err := o.signer.Sign(ctx, digest)
	if err != nil {
		o.logger.Error("orchestrator: signer failed", "error", err)
		return o.writeFailure(proto.FailureOther, err.Error())
	}
	out := proto.EIP712Signature{Digest: digest[:], Signature: sig}
	return o.resp.Write(proto.MessageIDEIP712Signature, out.Marshal())
}

// HandleEIP712Verify finalizes the session and checks a host-supplied
// signature without producing a new one.
func (o *Orchestrator) HandleEIP712Verify(body []byte, verify func(digest [32]byte, sig []byte) error) error {
	var m proto.EIP712Verify
	if err := m.Unmarshal(body); err != nil {
		return fmt.Errorf("%w: %v", dispatch.ErrDecode, err)
	}
	s, err := o.currentSession()
	if err != nil {
		return o.writeFailure(proto.FailureUnexpectedMessage, err.Error())
	}
	digest, err := s.Finalize()
	if err != nil {
		return o.sessionAbortFailure(err)
	}
	if err := verify(digest, m.Signature); err != nil {
		return o.writeFailure(proto.FailureInvalidSignature, err.Error())
	}
	success := proto.Success{Message: "verified"}
	return o.resp.Write(proto.MessageIDSuccess, success.Marshal())
}

// HandleCancel aborts whatever turn is in progress. It never fails: an
// absent session is simply a no-op, matching a Cancel arriving with
// nothing to cancel.
func (o *Orchestrator) HandleCancel(body []byte) error {
	var m proto.Cancel
	if err := m.Unmarshal(body); err != nil {
		return fmt.Errorf("%w: %v", dispatch.ErrDecode, err)
	}
	o.mu.Lock()
	o.session = nil
	o.mu.Unlock()
	return o.writeFailure(proto.FailureActionCancelled, "Action cancelled by user")
}

// HandleInitialize resets any in-progress session, in addition to whatever
// multi-message device state the caller layers on top.
func (o *Orchestrator) HandleInitialize(body []byte) error {
	var m proto.Initialize
	if err := m.Unmarshal(body); err != nil {
		return fmt.Errorf("%w: %v", dispatch.ErrDecode, err)
	}
	o.mu.Lock()
	o.session = nil
	o.mu.Unlock()
	success := proto.Success{Message: "initialized"}
	return o.resp.Write(proto.MessageIDSuccess, success.Marshal())
}

