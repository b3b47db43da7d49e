// Package device is the composition root (the spec's "manager"): it wires
// the registry, the per-channel HID assemblers and writers, the dispatcher,
// the confirmation dialog, the EIP-712 session, and the orchestrator into
// one running daemon, standing in only for the out-of-scope hardware HID
// driver behind the HIDSource interface.
//
// Grounded on the teacher's internal/bfd/manager.go: one long-lived object
// owning every collaborator, constructed once at startup and driven by a
// single Run(ctx) loop.
package device

import (
	"context"
	"log/slog"
	"time"

	"github.com/keepkey/hostcore/internal/confirm"
	"github.com/keepkey/hostcore/internal/dispatch"
	hostmetrics "github.com/keepkey/hostcore/internal/metrics"
	"github.com/keepkey/hostcore/internal/orchestrator"
	"github.com/keepkey/hostcore/internal/proto"
	"github.com/keepkey/hostcore/internal/registry"
	"github.com/keepkey/hostcore/internal/tinypoll"
	"github.com/keepkey/hostcore/internal/transport"
)

// HIDSource is the hardware collaborator this module never implements: a
// source of raw 64-byte HID reports and a sink to write them back to,
// split by channel. A real build backs this with the platform's USB HID
// descriptor; tests back it with an in-memory fake.
type HIDSource interface {
	tinypoll.ReportSource
	WriteReport(channel registry.Channel, report []byte) error
}

// channelSink adapts a channel-aware HIDSource to the single-channel
// transport.ReportSink each Writer expects.
type channelSink struct {
	hid     HIDSource
	channel registry.Channel
}

func (s channelSink) WriteReport(report []byte) error {
	return s.hid.WriteReport(s.channel, report)
}

// failureWriter adapts a transport.Writer to dispatch.ResponseWriter, so a
// Dispatcher can report a handler failure on the same channel it dispatched
// from.
type failureWriter struct {
	w *transport.Writer
}

func (f failureWriter) WriteFailure(code proto.FailureCode, text string) error {
	msg := proto.Failure{Code: code, Text: text}
	return f.w.Write(proto.MessageIDFailure, msg.Marshal())
}

// Signer is re-exported so callers wiring a Device don't need to import
// internal/orchestrator directly just to name the crypto collaborator.
type Signer = orchestrator.Signer

// Verifier checks a host-supplied signature against a digest, backing
// orchestrator's EIP712Verify handler.
type Verifier func(digest [32]byte, sig []byte) error

// Config bundles the construction-time parameters Device needs beyond its
// collaborators.
type Config struct {
	MaxFrameSize uint32
	FactoryMode  bool
	// PollInterval paces Device.Run's non-blocking poll of hid.CheckReport
	// when no report is pending. Defaults to 1ms if zero, matching
	// confirm.Dialog's own idle-poll pacing.
	PollInterval time.Duration
	// ConfirmTimeout is the press-and-hold threshold passed to the
	// confirmation dialog. Zero falls back to confirm.ConfirmTimeout; a real
	// build sources this from config.ConfirmConfig.Timeout.
	ConfirmTimeout time.Duration
}

// Device is the running daemon: one instance owns the single in-flight
// turn across both channels, matching the original firmware's single
// superloop.
type Device struct {
	logger *slog.Logger
	hid    HIDSource
	cfg    Config

	registry *registry.Registry

	normalAsm    *transport.Assembler
	debugAsm     *transport.Assembler
	normalWriter *transport.Writer
	debugWriter  *transport.Writer

	dialog *confirm.Dialog
	orch   *orchestrator.Orchestrator

	ctx context.Context
}

// New constructs a Device. initialized reports whether key material is
// present (consulted by EIP712Sign); metrics may be nil. verify backs
// EIP712Verify; it may be nil if verification is never exercised by this
// build.
func New(
	logger *slog.Logger,
	hid HIDSource,
	cfg Config,
	signer Signer,
	verify Verifier,
	metrics *hostmetrics.Collector,
	initialized func() bool,
	onConstantPowerChange func(bool),
) *Device {
	if cfg.MaxFrameSize == 0 {
		cfg.MaxFrameSize = transport.MaxFrameSizeDevice
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Millisecond
	}

	d := &Device{
		logger: logger,
		hid:    hid,
		cfg:    cfg,
		ctx:    context.Background(),
	}

	// entries() below only needs forwarding methods on d (handleCancel,
	// handleEIP712Sign, ...), never a bound orchestrator method value, so
	// the registry can be built before d.orch exists: the forwarders read
	// d.orch lazily, at dispatch time, by which point it is set.
	reg := registry.New(d.entries(verify))
	d.registry = reg

	d.normalWriter = transport.NewWriter(logger, reg, registry.ChannelNormal, channelSink{hid: hid, channel: registry.ChannelNormal})
	d.debugWriter = transport.NewWriter(logger, reg, registry.ChannelDebug, channelSink{hid: hid, channel: registry.ChannelDebug})

	events := confirm.NewEventQueue()
	d.dialog = confirm.NewDialog(logger, d.normalWriter, tinypoll.New(), hid, events, d.defaultLayout, onConstantPowerChange, cfg.ConfirmTimeout)
	d.orch = orchestrator.New(logger, d.dialog, signer, d.normalWriter, metrics, initialized)

	normalDispatcher := dispatch.New(logger, failureWriter{w: d.normalWriter})
	debugDispatcher := dispatch.New(logger, failureWriter{w: d.debugWriter})

	var frameFail transport.FailureFunc
	if metrics != nil {
		frameFail = func(code proto.FailureCode, text string) {
			metrics.IncFrameFailure(registry.ChannelNormal.String(), code.String())
		}
	}
	d.normalAsm = transport.NewAssembler(logger, reg, registry.ChannelNormal, cfg.MaxFrameSize, cfg.FactoryMode, normalDispatcher.Dispatch, frameFail)

	var debugFrameFail transport.FailureFunc
	if metrics != nil {
		debugFrameFail = func(code proto.FailureCode, text string) {
			metrics.IncFrameFailure(registry.ChannelDebug.String(), code.String())
		}
	}
	d.debugAsm = transport.NewAssembler(logger, reg, registry.ChannelDebug, cfg.MaxFrameSize, cfg.FactoryMode, debugDispatcher.Dispatch, debugFrameFail)

	return d
}

// defaultLayout is the fallback LayoutFunc: it logs the notification rather
// than rendering anything, since the actual display driver is out of scope.
func (d *Device) defaultLayout(n confirm.LayoutNotification) {
	d.logger.Debug("device: layout", "layout", n.Layout, "title", n.Title, "body", n.Body)
}

// entries builds the complete registry table: every inbound message this
// protocol version defines, bound to its handler, plus every outbound
// schema a Writer needs to resolve before it will emit a report.
func (d *Device) entries(verify Verifier) []registry.Entry {
	e := []registry.Entry{
		// Inbound, normal channel.
		{ID: proto.MessageIDPing, Channel: registry.ChannelNormal, Direction: registry.DirectionInFromHost, Dispatch: registry.DispatchParsed, Permission: registry.PermissionAny, Parsed: d.handlePing},
		{ID: proto.MessageIDCancel, Channel: registry.ChannelNormal, Direction: registry.DirectionInFromHost, Dispatch: registry.DispatchParsed, Permission: registry.PermissionAny, Parsed: d.handleCancel},
		{ID: proto.MessageIDInitialize, Channel: registry.ChannelNormal, Direction: registry.DirectionInFromHost, Dispatch: registry.DispatchParsed, Permission: registry.PermissionAny, Parsed: d.handleInitialize},
		{ID: proto.MessageIDButtonAck, Channel: registry.ChannelNormal, Direction: registry.DirectionInFromHost, Dispatch: registry.DispatchParsed, Permission: registry.PermissionAny, Parsed: d.handleStrayTiny("ButtonAck")},
		{ID: proto.MessageIDPinMatrixAck, Channel: registry.ChannelNormal, Direction: registry.DirectionInFromHost, Dispatch: registry.DispatchParsed, Permission: registry.PermissionAny, Parsed: d.handleStrayTiny("PinMatrixAck")},
		{ID: proto.MessageIDPassphraseAck, Channel: registry.ChannelNormal, Direction: registry.DirectionInFromHost, Dispatch: registry.DispatchParsed, Permission: registry.PermissionAny, Parsed: d.handleStrayTiny("PassphraseAck")},

		{ID: proto.MessageIDEIP712Init, Channel: registry.ChannelNormal, Direction: registry.DirectionInFromHost, Dispatch: registry.DispatchParsed, Permission: registry.PermissionAny, Parsed: d.handleEIP712Init},
		{ID: proto.MessageIDEIP712PushFrame, Channel: registry.ChannelNormal, Direction: registry.DirectionInFromHost, Dispatch: registry.DispatchParsed, Permission: registry.PermissionAny, Parsed: d.handleEIP712PushFrame},
		{ID: proto.MessageIDEIP712PopFrame, Channel: registry.ChannelNormal, Direction: registry.DirectionInFromHost, Dispatch: registry.DispatchParsed, Permission: registry.PermissionAny, Parsed: d.handleEIP712PopFrame},
		{ID: proto.MessageIDEIP712AppendAtomicField, Channel: registry.ChannelNormal, Direction: registry.DirectionInFromHost, Dispatch: registry.DispatchParsed, Permission: registry.PermissionAny, Parsed: d.handleEIP712AppendAtomicField},
		{ID: proto.MessageIDEIP712AppendDynamicData, Channel: registry.ChannelNormal, Direction: registry.DirectionInFromHost, Dispatch: registry.DispatchParsed, Permission: registry.PermissionAny, Parsed: d.handleEIP712AppendDynamicData},
		{ID: proto.MessageIDEIP712Sign, Channel: registry.ChannelNormal, Direction: registry.DirectionInFromHost, Dispatch: registry.DispatchParsed, Permission: registry.PermissionAny, Parsed: d.handleEIP712Sign},

		// Outbound, normal channel.
		{ID: proto.MessageIDSuccess, Channel: registry.ChannelNormal, Direction: registry.DirectionOutToHost, Dispatch: registry.DispatchParsed, Permission: registry.PermissionAny},
		{ID: proto.MessageIDFailure, Channel: registry.ChannelNormal, Direction: registry.DirectionOutToHost, Dispatch: registry.DispatchParsed, Permission: registry.PermissionAny},
		{ID: proto.MessageIDButtonRequest, Channel: registry.ChannelNormal, Direction: registry.DirectionOutToHost, Dispatch: registry.DispatchParsed, Permission: registry.PermissionAny},
		{ID: proto.MessageIDPinMatrixRequest, Channel: registry.ChannelNormal, Direction: registry.DirectionOutToHost, Dispatch: registry.DispatchParsed, Permission: registry.PermissionAny},
		{ID: proto.MessageIDPassphraseRequest, Channel: registry.ChannelNormal, Direction: registry.DirectionOutToHost, Dispatch: registry.DispatchParsed, Permission: registry.PermissionAny},
		{ID: proto.MessageIDEIP712ContextInfo, Channel: registry.ChannelNormal, Direction: registry.DirectionOutToHost, Dispatch: registry.DispatchParsed, Permission: registry.PermissionAny},
		{ID: proto.MessageIDEIP712Signature, Channel: registry.ChannelNormal, Direction: registry.DirectionOutToHost, Dispatch: registry.DispatchParsed, Permission: registry.PermissionAny},

		// Debug channel: DebugLinkDecision/DebugLinkGetState are observed as
		// tiny messages mid-dialog (internal/tinypoll) and never reach the
		// main Assembler in practice, but the registry entry still must
		// exist so a debug-channel permission check or an out-of-dialog
		// arrival resolves to something instead of ErrUnknownMessage.
		{ID: proto.MessageIDDebugLinkDecision, Channel: registry.ChannelDebug, Direction: registry.DirectionInFromHost, Dispatch: registry.DispatchParsed, Permission: registry.PermissionAny, Parsed: d.handleStrayTiny("DebugLinkDecision")},
		{ID: proto.MessageIDDebugLinkGetState, Channel: registry.ChannelDebug, Direction: registry.DirectionInFromHost, Dispatch: registry.DispatchParsed, Permission: registry.PermissionAny, Parsed: d.handleDebugLinkGetState},
		{ID: proto.MessageIDDebugLinkState, Channel: registry.ChannelDebug, Direction: registry.DirectionOutToHost, Dispatch: registry.DispatchParsed, Permission: registry.PermissionAny},
		{ID: proto.MessageIDFailure, Channel: registry.ChannelDebug, Direction: registry.DirectionOutToHost, Dispatch: registry.DispatchParsed, Permission: registry.PermissionAny},
		{ID: proto.MessageIDSuccess, Channel: registry.ChannelDebug, Direction: registry.DirectionOutToHost, Dispatch: registry.DispatchParsed, Permission: registry.PermissionAny},
	}

	if verify != nil {
		e = append(e, registry.Entry{
			ID: proto.MessageIDEIP712Verify, Channel: registry.ChannelNormal, Direction: registry.DirectionInFromHost,
			Dispatch: registry.DispatchParsed, Permission: registry.PermissionAny,
			Parsed: func(body []byte) error { return d.orch.HandleEIP712Verify(body, verify) },
		})
	}

	return e
}

// Forwarding methods bind the registry's handler closures to d rather than
// to d.orch directly, so entries() can be built before d.orch exists (see
// New): each reads d.orch at call time, not at registry-construction time.

func (d *Device) handleCancel(body []byte) error     { return d.orch.HandleCancel(body) }
func (d *Device) handleInitialize(body []byte) error { return d.orch.HandleInitialize(body) }

func (d *Device) handleEIP712Init(body []byte) error            { return d.orch.HandleEIP712Init(body) }
func (d *Device) handleEIP712PushFrame(body []byte) error       { return d.orch.HandleEIP712PushFrame(body) }
func (d *Device) handleEIP712PopFrame(body []byte) error        { return d.orch.HandleEIP712PopFrame(body) }
func (d *Device) handleEIP712AppendAtomicField(body []byte) error {
	return d.orch.HandleEIP712AppendAtomicField(body)
}
func (d *Device) handleEIP712AppendDynamicData(body []byte) error {
	return d.orch.HandleEIP712AppendDynamicData(body)
}
func (d *Device) handleEIP712Sign(body []byte) error { return d.orch.HandleEIP712Sign(d.ctx, body) }

// handlePing always answers with Success, echoing the request's message.
func (d *Device) handlePing(body []byte) error {
	var m proto.Ping
	if err := m.Unmarshal(body); err != nil {
		return dispatch.ErrDecode
	}
	success := proto.Success{Message: m.Message}
	return d.normalWriter.Write(proto.MessageIDSuccess, success.Marshal())
}

// handleStrayTiny answers a control message that arrived outside any
// confirmation dialog -- the only place these are normally meant to be
// observed is internal/tinypoll's mid-dialog poll. Arriving here means no
// dialog is waiting for it, which the original firmware treats as an
// unexpected message rather than a protocol violation worth aborting over.
func (d *Device) handleStrayTiny(name string) registry.ParsedHandler {
	return func(body []byte) error {
		d.logger.Warn("device: tiny message observed outside a dialog", "message", name)
		f := proto.Failure{Code: proto.FailureUnexpectedMessage, Text: "Unexpected message"}
		return d.normalWriter.Write(proto.MessageIDFailure, f.Marshal())
	}
}

// handleDebugLinkGetState answers a debug-channel state query. A real build would
// report session-stack depth and PIN/passphrase prompt state; this module
// has no debug-link state collaborator of its own, so it reports an empty
// DebugLinkState -- the schema exists so host-side debug tooling can rely on
// the round trip without special-casing an unimplemented feature.
func (d *Device) handleDebugLinkGetState(body []byte) error {
	var m proto.DebugLinkGetState
	if err := m.Unmarshal(body); err != nil {
		return dispatch.ErrDecode
	}
	return d.debugWriter.Write(proto.MessageIDDebugLinkState, nil)
}

// reportEnvelope pairs a raw HID report with the channel it arrived on.
type reportEnvelope struct {
	report  []byte
	channel registry.Channel
}

// Run drives the receive loop until ctx is cancelled: non-blocking polls
// of the HID source are fed to the matching channel's Assembler, which in
// turn may synchronously run a confirmation dialog (itself polling the same
// HIDSource directly for tiny messages) before this call returns. That
// nesting is why Run uses a single goroutine rather than a concurrent
// reader: a second goroutine calling hid.WaitReport/CheckReport while a
// dialog is mid-poll would race the dialog for the same reports.
func (d *Device) Run(ctx context.Context) error {
	d.ctx = ctx
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		report, channel, ok := d.hid.CheckReport()
		if !ok {
			time.Sleep(d.cfg.PollInterval)
			continue
		}

		if err := d.feed(reportEnvelope{report: report, channel: channel}); err != nil {
			d.logger.Error("device: feed failed", "channel", channel, "error", err)
		}
	}
}

func (d *Device) feed(env reportEnvelope) error {
	switch env.channel {
	case registry.ChannelDebug:
		return d.debugAsm.Feed(env.report)
	default:
		return d.normalAsm.Feed(env.report)
	}
}
