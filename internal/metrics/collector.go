// Package hostmetrics exposes Prometheus instrumentation for the host
// protocol core: confirmation-dialog outcomes, HID frame-assembler
// failures, and EIP-712 session aborts.
//
// Grounded on the teacher's internal/metrics/collector.go shape
// (NewCollector(reg), label-carrying *Vec fields, Inc/Dec methods), with
// the BFD-specific session/packet/auth metrics replaced by this domain's
// equivalents.
package hostmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "hostcore"
	subsystem = "proto"
)

// Label names.
const (
	labelOutcome   = "outcome"
	labelChannel   = "channel"
	labelCode      = "code"
	labelInvariant = "invariant"
)

// Dialog outcome labels, per confirm.Outcome.Confirmed and the dialog's
// context.Canceled/timeout exits.
const (
	OutcomeConfirmed = "confirmed"
	OutcomeCancelled = "cancelled"
	OutcomeTimedOut  = "timed_out"
)

// -------------------------------------------------------------------------
// Collector — Prometheus Host Protocol Metrics
// -------------------------------------------------------------------------

// Collector holds all host-protocol-core Prometheus metrics.
//
//   - DialogOutcomes tracks how confirmation dialogs resolve.
//   - FrameFailures tracks transport.Assembler failures by channel and
//     FailureCode.
//   - EIP712Aborts tracks eip712.Session invariant violations by name.
type Collector struct {
	// DialogOutcomes counts confirm.Dialog runs by how they concluded.
	DialogOutcomes *prometheus.CounterVec

	// FrameFailures counts transport.Assembler failures per channel and
	// proto.FailureCode.
	FrameFailures *prometheus.CounterVec

	// EIP712Aborts counts eip712.Session invariant violations by the
	// canonical invariant name ClassifyEIP712Abort derives from the
	// session's error text.
	EIP712Aborts *prometheus.CounterVec
}

// NewCollector creates a Collector with all metrics registered against reg.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.DialogOutcomes,
		c.FrameFailures,
		c.EIP712Aborts,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	return &Collector{
		DialogOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "dialog_outcomes_total",
			Help:      "Total confirmation dialog runs by outcome.",
		}, []string{labelOutcome}),

		FrameFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "frame_failures_total",
			Help:      "Total HID frame-assembler failures by channel and failure code.",
		}, []string{labelChannel, labelCode}),

		EIP712Aborts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "eip712_session_aborts_total",
			Help:      "Total EIP-712 session invariant violations by invariant name.",
		}, []string{labelInvariant}),
	}
}

// -------------------------------------------------------------------------
// Dialog Outcomes
// -------------------------------------------------------------------------

// RecordDialogOutcome increments the dialog outcome counter. outcome should
// be one of OutcomeConfirmed, OutcomeCancelled, OutcomeTimedOut.
func (c *Collector) RecordDialogOutcome(outcome string) {
	c.DialogOutcomes.WithLabelValues(outcome).Inc()
}

// -------------------------------------------------------------------------
// Frame Assembler Failures
// -------------------------------------------------------------------------

// IncFrameFailure increments the frame-failure counter for the given
// channel and proto.FailureCode (its String() form).
func (c *Collector) IncFrameFailure(channel, code string) {
	c.FrameFailures.WithLabelValues(channel, code).Inc()
}

// -------------------------------------------------------------------------
// EIP-712 Session Aborts
// -------------------------------------------------------------------------

// IncEIP712Abort increments the session-abort counter for the given
// invariant name. Use ClassifyEIP712Abort to derive invariant from a
// Session method's returned error.
func (c *Collector) IncEIP712Abort(invariant string) {
	c.EIP712Aborts.WithLabelValues(invariant).Inc()
}
