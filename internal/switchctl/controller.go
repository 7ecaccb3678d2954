// Package switchctl implements the per-switch concurrent control state
// machine: alive handshake, command-and-debounce, manual-override
// detection and timeout (spec.md §4.5).
package switchctl

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// EventKind tags a SwitchEvent variant.
type EventKind int

const (
	EventAlive EventKind = iota
	EventObservedOn
	EventObservedOff
	EventDesireOn
	EventDesireOff
)

// Event is a single mailbox entry.
type Event struct {
	Kind EventKind
}

// Signal is the small sum type returned by the drain primitive in place
// of exceptions-for-control-flow (spec.md §9).
type Signal int

const (
	SignalNone Signal = iota
	SignalAlive
	SignalToggled
)

// SetValueFunc issues the outbound "set value" call to the wireless
// stack, decoupling the controller from it.
type SetValueFunc func(switchID int, on bool) error

// Timing overrides the fixed durations in the state machine; zero values
// fall back to the spec's defaults. Exists purely so tests can run the
// real state machine on a compressed clock.
type Timing struct {
	PulseOff      time.Duration
	PulseOn       time.Duration
	Debounce      time.Duration
	BetweenPulses time.Duration
}

func (t Timing) withDefaults() Timing {
	if t.PulseOff == 0 {
		t.PulseOff = time.Second
	}
	if t.PulseOn == 0 {
		t.PulseOn = time.Second
	}
	if t.Debounce == 0 {
		t.Debounce = 5 * time.Second
	}
	return t
}

// Controller is one switch's independent cooperative task.
type Controller struct {
	SwitchID   int
	NodeID     int
	Mailbox    chan Event
	ManualSecs time.Duration
	Timing     Timing
	SetValue   SetValueFunc
	Log        *logrus.Entry

	observedOnOff bool
	desiredOnOff  *bool
}

// New constructs a Controller. mailbox must be the bounded channel the
// tracker enqueues events into; Run takes ownership of it.
func New(nodeID, switchID int, mailbox chan Event, setValue SetValueFunc, manualSecs time.Duration, timing Timing, log *logrus.Entry) *Controller {
	return &Controller{
		SwitchID:   switchID,
		NodeID:     nodeID,
		Mailbox:    mailbox,
		ManualSecs: manualSecs,
		Timing:     timing.withDefaults(),
		SetValue:   setValue,
		Log:        log,
	}
}

// Run executes the state machine until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) {
	if !c.phaseA(ctx) {
		return
	}
	for ctx.Err() == nil {
		sig := c.phaseB(ctx)
		if ctx.Err() != nil {
			return
		}
		if sig == SignalToggled {
			if c.Log != nil {
				c.Log.WithField("switch", c.SwitchID).Info("manual toggle detected, entering override")
			}
			c.phaseC(ctx)
		}
		// SignalAlive (from phaseB or phaseC) and manual-override
		// timeout both loop back into phaseB, which re-emits the
		// announcement pulse (testable property: pulse idempotence).
	}
}

// phaseA consumes events until Alive arrives, updating observed/desired
// state but issuing no commands. Returns false if ctx was cancelled
// first.
func (c *Controller) phaseA(ctx context.Context) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case ev := <-c.Mailbox:
			switch ev.Kind {
			case EventAlive:
				return true
			case EventObservedOn, EventObservedOff:
				c.observedOnOff = ev.Kind == EventObservedOn
			case EventDesireOn, EventDesireOff:
				v := ev.Kind == EventDesireOn
				c.desiredOnOff = &v
			}
		}
	}
}

// phaseB is automatic control: announcement pulse, then repeatedly
// command-on-mismatch or block for toggles, until a signal demands
// leaving the phase.
func (c *Controller) phaseB(ctx context.Context) Signal {
	c.set(false)
	if sig := c.drain(ctx, c.Timing.PulseOff, true, false, nil, false); sig == SignalAlive {
		return SignalAlive
	}
	c.set(true)
	if sig := c.drain(ctx, c.Timing.PulseOn, true, false, nil, false); sig == SignalAlive {
		return SignalAlive
	}
	if sig := c.debouncedSend(ctx, false); sig != SignalNone {
		return sig
	}

	for {
		if ctx.Err() != nil {
			return SignalNone
		}
		if c.desiredOnOff != nil && *c.desiredOnOff != c.observedOnOff {
			sig := c.debouncedSend(ctx, *c.desiredOnOff)
			if sig != SignalNone {
				return sig
			}
			continue
		}
		// stopOnDesireChange: a DesireOn/Off that arrives here must be
		// re-evaluated by this loop before any further buffered
		// ObservedOn/Off is compared against the stale observed value —
		// otherwise a settling echo for a command not yet sent gets
		// misread as a human toggle.
		sig := c.drain(ctx, 0, false, true, nil, true)
		if sig != SignalNone {
			return sig
		}
	}
}

// phaseC is manual override: drain for ManualSecs with toggle detection,
// sliding the window on every further toggle, until either it elapses
// (SignalNone) or an Alive arrives (SignalAlive) — both cases return to
// phaseB in Run.
func (c *Controller) phaseC(ctx context.Context) Signal {
	for {
		sig := c.drain(ctx, c.ManualSecs, true, true, nil, false)
		if sig == SignalToggled {
			continue
		}
		return sig
	}
}

// debouncedSend sets value, drains the debounce window (letting settling
// notifications update observedOnOff), then checks whether what actually
// settled matches what was sent. Toggle detection during the drain
// compares against the commanded value on, not the stale observedOnOff —
// a settling echo for the command just sent must never be mistaken for a
// human toggle.
func (c *Controller) debouncedSend(ctx context.Context, on bool) Signal {
	c.set(on)
	if sig := c.drain(ctx, c.Timing.Debounce, true, true, &on, false); sig != SignalNone {
		return sig
	}
	if c.observedOnOff != on {
		if c.Log != nil {
			c.Log.WithField("switch", c.SwitchID).Warn("observed state disagrees with commanded value; assuming manual toggle")
		}
		return SignalToggled
	}
	return SignalNone
}

func (c *Controller) set(on bool) {
	if c.SetValue == nil {
		return
	}
	if err := c.SetValue(c.SwitchID, on); err != nil && c.Log != nil {
		c.Log.WithError(err).WithField("switch", c.SwitchID).Warn("set_value failed")
	}
}

// drain is the primitive used by every phase. hasDuration=false means
// "wait indefinitely for the first event, then drain until the mailbox
// empties" (used when blocking for toggles with no desire mismatch).
//
// target, when non-nil, is the value toggle detection compares incoming
// ObservedOn/Off events against — the value just commanded by a
// debounced send. When nil, toggle detection compares against the
// evolving observedOnOff (the last value believed), which is correct
// only when no command is currently in flight.
//
// stopOnDesireChange, when true, ends the drain as soon as a
// DesireOn/Off event changes desiredOnOff, returning control to phaseB's
// loop before any further buffered ObservedOn/Off is considered — that
// further event belongs to the command phaseB is about to issue, not to
// this drain's stale comparison baseline.
func (c *Controller) drain(ctx context.Context, duration time.Duration, hasDuration bool, monitorToggled bool, target *bool, stopOnDesireChange bool) Signal {
	var deadline time.Time
	if hasDuration {
		deadline = time.Now().Add(duration)
	}

	var sawAlive, sawToggle, sawDesireChange, stopOnEmpty, receivedAny bool

	// apply reports whether the drain must return immediately, which
	// happens for a desire change under stopOnDesireChange: any event
	// still queued behind it belongs to the command phaseB is about to
	// issue, not to this drain's comparison baseline, so it must not be
	// consumed here.
	apply := func(ev Event) bool {
		c.apply(ev, monitorToggled, target, &sawAlive, &sawToggle, &sawDesireChange)
		if stopOnDesireChange && sawDesireChange {
			return true
		}
		if sawAlive || sawToggle {
			stopOnEmpty = true
		}
		return false
	}

	for {
		if stopOnEmpty {
			select {
			case ev := <-c.Mailbox:
				if apply(ev) {
					return resolve(sawAlive, sawToggle)
				}
				continue
			default:
				return resolve(sawAlive, sawToggle)
			}
		}

		var timeoutCh <-chan time.Time
		if hasDuration {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return resolve(sawAlive, sawToggle)
			}
			timer := time.NewTimer(remaining)
			timeoutCh = timer.C
			defer timer.Stop()
		} else if receivedAny {
			select {
			case ev := <-c.Mailbox:
				if apply(ev) {
					return resolve(sawAlive, sawToggle)
				}
				continue
			default:
				return resolve(sawAlive, sawToggle)
			}
		}

		select {
		case <-ctx.Done():
			return resolve(sawAlive, sawToggle)
		case ev := <-c.Mailbox:
			receivedAny = true
			if apply(ev) {
				return resolve(sawAlive, sawToggle)
			}
		case <-timeoutCh:
			return resolve(sawAlive, sawToggle)
		}
	}
}

func (c *Controller) apply(ev Event, monitorToggled bool, target *bool, sawAlive, sawToggle, sawDesireChange *bool) {
	switch ev.Kind {
	case EventAlive:
		*sawAlive = true
	case EventObservedOn, EventObservedOff:
		newVal := ev.Kind == EventObservedOn
		if monitorToggled {
			want := c.observedOnOff
			if target != nil {
				want = *target
			}
			if newVal != want {
				*sawToggle = true
			}
		}
		c.observedOnOff = newVal
	case EventDesireOn, EventDesireOff:
		v := ev.Kind == EventDesireOn
		if c.desiredOnOff == nil || *c.desiredOnOff != v {
			*sawDesireChange = true
		}
		c.desiredOnOff = &v
	}
}

func resolve(sawAlive, sawToggle bool) Signal {
	if sawAlive {
		return SignalAlive
	}
	if sawToggle {
		return SignalToggled
	}
	return SignalNone
}
