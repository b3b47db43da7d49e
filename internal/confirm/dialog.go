package confirm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/keepkey/hostcore/internal/proto"
	"github.com/keepkey/hostcore/internal/tinypoll"
)

// ButtonWriter emits the ButtonRequest that precedes a dialog. It is
// narrowed to just this one call so Dialog doesn't need the whole
// transport.Writer surface.
type ButtonWriter interface {
	Write(id proto.MessageID, encoded []byte) error
}

// LayoutNotification is one (title, body, layout) the layout collaborator
// must render.
type LayoutNotification struct {
	Layout ActiveLayout
	Title  string
	Body   string
	// Icon is an optional rendering hint set by ReviewWithIcon; empty for
	// every other dialog variant.
	Icon string
}

// LayoutFunc renders a notification. The default layout function used by
// Confirm/Review; ConfirmWithCustomLayout overrides it.
type LayoutFunc func(LayoutNotification)

// Options configures a single dialog invocation. The zero value is the
// plain Confirm behavior.
type Options struct {
	// WithoutButtonRequest skips sending ButtonRequest and pre-acks the
	// dialog, per confirm_without_button_request in the original firmware.
	WithoutButtonRequest bool

	// Review makes the dialog always return true once FINISHED is
	// reached by a press+release, without a hold-to-confirm timeout gate
	// (review_without_button_request/review semantics): the timeout fires
	// immediately as far as the caller is concerned, since review prompts
	// are informational rather than a confirmation the host depends on.
	Review bool

	// ConstantPower requests the display brightness lock supplementary
	// feature (confirm_constant_power in the original firmware). The core
	// only tracks the flag and notifies the collaborator; display power
	// itself is out of scope.
	ConstantPower bool

	// CustomLayout overrides the default layout callback, corresponding
	// to confirm_with_custom_layout.
	CustomLayout LayoutFunc

	// Icon is threaded into every LayoutNotification this dialog emits, per
	// review_with_icon in the original firmware.
	Icon string
}

// EventQueue is the sum-type event channel an interrupt translator (button
// edge ISR, timer ISR) pushes into, draining in the dialog's main loop.
// Grounded on spec.md's redesign note: "re-architect as a sum-type event
// queue ... drained by the handler's main loop; the ISR pushes events into
// a lock-free single-producer-single-consumer ring" -- here a small
// buffered channel plays that role.
type EventQueue chan Event

// NewEventQueue allocates a small buffered queue. A depth of 4 comfortably
// absorbs a press/release pair plus a stray duplicate edge without
// blocking the pushing side.
func NewEventQueue() EventQueue {
	return make(EventQueue, 4)
}

// Push enqueues an event without blocking; if the queue is momentarily
// full the event is dropped, matching a lock-free ring's overwrite-or-drop
// behavior under a slow consumer.
func (q EventQueue) Push(ev Event) {
	select {
	case q <- ev:
	default:
	}
}

// Dialog drives one confirmation from ButtonRequest through to a boolean
// outcome. One Dialog serves every confirmation of a device (device.New
// builds it and the orchestrator reuses it); each Confirm or Review call
// starts its run from a fresh State.
type Dialog struct {
	logger       *slog.Logger
	writer       ButtonWriter
	tiny         *tinypoll.Poller
	tinySrc      tinypoll.ReportSource
	events       EventQueue
	layout       LayoutFunc
	setConstPower func(bool)
	timeout      time.Duration

	onConstantPowerChange func(bool)
}

// NewDialog constructs a Dialog. defaultLayout renders LayoutNotification
// when no Options.CustomLayout is supplied. timeout is the press-and-hold
// threshold a ConfirmWait dialog waits out before auto-advancing to
// Confirmed; a zero value falls back to ConfirmTimeout, so existing callers
// that don't have a configured value can keep passing zero.
func NewDialog(logger *slog.Logger, writer ButtonWriter, tiny *tinypoll.Poller, tinySrc tinypoll.ReportSource, events EventQueue, defaultLayout LayoutFunc, onConstantPowerChange func(bool), timeout time.Duration) *Dialog {
	if timeout <= 0 {
		timeout = ConfirmTimeout
	}
	return &Dialog{
		logger:                logger,
		writer:                writer,
		tiny:                  tiny,
		tinySrc:               tinySrc,
		events:                events,
		layout:                defaultLayout,
		onConstantPowerChange: onConstantPowerChange,
		timeout:               timeout,
	}
}

// Outcome is the result of running a dialog to completion.
type Outcome struct {
	Confirmed     bool
	ResetMsgStack bool
}

// Confirm runs the standard press-and-hold dialog: ButtonRequest, wait for
// ButtonAck, then press/hold/release gated by the dialog's hold timeout.
func (d *Dialog) Confirm(ctx context.Context, code int32, title, bodyFmt string, args ...any) (Outcome, error) {
	return d.run(ctx, code, title, fmt.Sprintf(bodyFmt, args...), Options{})
}

// ConfirmWithoutButtonRequest pre-acks the dialog: gesture input is honored
// immediately without waiting for a host ButtonAck.
func (d *Dialog) ConfirmWithoutButtonRequest(ctx context.Context, code int32, title, bodyFmt string, args ...any) (Outcome, error) {
	return d.run(ctx, code, title, fmt.Sprintf(bodyFmt, args...), Options{WithoutButtonRequest: true})
}

// ConfirmConstantPower runs Confirm with the display-brightness lock held
// for the duration of the dialog.
func (d *Dialog) ConfirmConstantPower(ctx context.Context, code int32, title, bodyFmt string, args ...any) (Outcome, error) {
	return d.run(ctx, code, title, fmt.Sprintf(bodyFmt, args...), Options{ConstantPower: true})
}

// ConfirmWithCustomLayout runs Confirm using a caller-supplied layout
// callback instead of the Dialog's default.
func (d *Dialog) ConfirmWithCustomLayout(ctx context.Context, code int32, title, bodyFmt string, layout LayoutFunc, args ...any) (Outcome, error) {
	return d.run(ctx, code, title, fmt.Sprintf(bodyFmt, args...), Options{CustomLayout: layout})
}

// Review finishes true on any press+release, even one let go before the
// hold timeout, and when the hold timeout fires; it exists to present
// informational content the host doesn't gate a decision on. A host Cancel
// or Initialize still ends it with Confirmed false.
func (d *Dialog) Review(ctx context.Context, code int32, title, bodyFmt string, args ...any) (Outcome, error) {
	return d.run(ctx, code, title, fmt.Sprintf(bodyFmt, args...), Options{Review: true})
}

// ReviewWithoutButtonRequest combines Review's outcome rules with
// ConfirmWithoutButtonRequest's pre-ack.
func (d *Dialog) ReviewWithoutButtonRequest(ctx context.Context, code int32, title, bodyFmt string, args ...any) (Outcome, error) {
	return d.run(ctx, code, title, fmt.Sprintf(bodyFmt, args...), Options{Review: true, WithoutButtonRequest: true})
}

// ReviewWithIcon runs Review with an icon hint threaded into every
// LayoutNotification, corresponding to review_with_icon in the original
// firmware.
func (d *Dialog) ReviewWithIcon(ctx context.Context, code int32, icon, title, bodyFmt string, args ...any) (Outcome, error) {
	return d.run(ctx, code, title, fmt.Sprintf(bodyFmt, args...), Options{Review: true, Icon: icon})
}

// run implements the confirm_helper loop from confirm_sm.c.
func (d *Dialog) run(ctx context.Context, code int32, title, body string, opts Options) (Outcome, error) {
	if opts.ConstantPower && d.onConstantPowerChange != nil {
		d.onConstantPowerChange(true)
		defer d.onConstantPowerChange(false)
	}

	layout := d.layout
	if opts.CustomLayout != nil {
		layout = opts.CustomLayout
	}

	state := State{Display: DisplayHome, Layout: LayoutRequest}

	if opts.WithoutButtonRequest {
		state.ButtonAcked = true
	} else {
		br := proto.ButtonRequest{Code: code}
		if err := d.writer.Write(proto.MessageIDButtonRequest, br.Marshal()); err != nil {
			return Outcome{}, fmt.Errorf("confirm: write ButtonRequest: %w", err)
		}
	}

	layout(LayoutNotification{Layout: state.Layout, Title: title, Body: body, Icon: opts.Icon})

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		var timeoutC <-chan time.Time
		if timer != nil {
			timeoutC = timer.C
		}

		select {
		case <-ctx.Done():
			return Outcome{}, ctx.Err()

		case tinyRes := <-d.pollTiny():
			res, terminal := d.applyTiny(state, tinyRes)
			if terminal {
				return Outcome{Confirmed: res.Outcome, ResetMsgStack: res.ResetMsgStack}, nil
			}
			state = res.New
			d.runActions(res, &timer, title, body, opts.Icon, layout)
			if state.Display == DisplayFinished {
				return Outcome{Confirmed: true}, nil
			}

		case ev, ok := <-d.events:
			if !ok {
				return Outcome{}, fmt.Errorf("confirm: event queue closed")
			}
			res := ApplyEvent(state, ev)
			if res.Terminal {
				return Outcome{Confirmed: res.Outcome, ResetMsgStack: res.ResetMsgStack}, nil
			}
			if opts.Review && ev == EventRelease && res.Old.Display == DisplayConfirmWait {
				// Review prompts are informational: any press-release, even
				// one that lets go before the hold timeout, finishes true.
				layout(LayoutNotification{Layout: LayoutFinished, Title: title, Body: body, Icon: opts.Icon})
				return Outcome{Confirmed: true}, nil
			}
			state = res.New
			d.runActions(res, &timer, title, body, opts.Icon, layout)
			if state.Display == DisplayFinished {
				return Outcome{Confirmed: true}, nil
			}

		case <-timeoutC:
			res := ApplyEvent(state, EventTimeoutFired)
			state = res.New
			d.runActions(res, &timer, title, body, opts.Icon, layout)
			if opts.Review {
				// Review prompts don't gate on a release; the hold alone
				// is enough to finish once the timeout fires.
				layout(LayoutNotification{Layout: LayoutFinished, Title: title, Body: body, Icon: opts.Icon})
				return Outcome{Confirmed: true}, nil
			}
		}
	}
}

// pollTiny wraps the non-blocking Check in a one-shot channel so it can
// participate in the select loop above alongside real events and the
// timeout timer.
func (d *Dialog) pollTiny() <-chan tinypoll.Result {
	ch := make(chan tinypoll.Result, 1)
	res := d.tiny.Check(d.tinySrc)
	if res.Kind != tinypoll.KindNone {
		ch <- res
		close(ch)
		return ch
	}
	// Nothing observed this iteration; yield a closed channel, which the
	// select receives from at once as a KindNone result that applyTiny
	// treats as no change. A tiny sleep keeps this from spinning the CPU
	// on an otherwise idle poller.
	time.Sleep(time.Millisecond)
	close(ch)
	return ch
}

// applyTiny maps an observed tiny-message result to its confirm_sm.c effect.
func (d *Dialog) applyTiny(state State, res tinypoll.Result) (Result, bool) {
	switch res.Kind {
	case tinypoll.KindButtonAck:
		return ApplyEvent(state, EventButtonAck), false
	case tinypoll.KindCancel:
		r := ApplyEvent(state, EventCancel)
		return r, true
	case tinypoll.KindInitialize:
		r := ApplyEvent(state, EventInitialize)
		return r, true
	case tinypoll.KindDebugDecision:
		r := ApplyDebugDecision(state, res.DebugAccept)
		if r.Terminal {
			return r, true
		}
		return r, false
	default:
		return unchanged(state), false
	}
}

func (d *Dialog) runActions(res Result, timer **time.Timer, title, body, icon string, layout LayoutFunc) {
	for _, a := range res.Actions {
		switch a {
		case ActionScheduleTimeout:
			if *timer != nil {
				(*timer).Stop()
			}
			t := time.NewTimer(d.timeout)
			*timer = t
		case ActionCancelTimeout:
			if *timer != nil {
				(*timer).Stop()
				*timer = nil
			}
		case ActionInvokeLayout:
			layout(LayoutNotification{Layout: res.New.Layout, Title: title, Body: body, Icon: icon})
		}
	}
}
