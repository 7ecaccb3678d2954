// Package blinker drives a sysfs-style LED brightness file, encoding an
// integer as a blink pattern, or blinking continuously at a fixed
// frequency for calibration.
package blinker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// LEDWriter is the scoped handle to the LED brightness file. "0\n"/"1\n"
// are its only accepted values.
type LEDWriter interface {
	WriteState(on bool) error
}

type command struct {
	isHz   bool
	hz     float64
	number int
}

// Blinker owns the LED file and a capacity-1 "latest wins, but lossy"
// mailbox: a pending command that arrives while one is already queued
// silently replaces nothing — the new one is dropped and the old one is
// kept (see spec.md §9).
type Blinker struct {
	led LEDWriter
	log *logrus.Entry
	cmd chan command
}

// New constructs a Blinker writing to led.
func New(led LEDWriter, log *logrus.Entry) *Blinker {
	return &Blinker{
		led: led,
		log: log,
		cmd: make(chan command, 1),
	}
}

// BlinkNumber queues n for display; once Run picks it up, it clears Hz
// mode. If the mailbox is already full, the new value is dropped and the
// stale one wins — a deliberate bounded-staleness display.
func (b *Blinker) BlinkNumber(n int) {
	select {
	case b.cmd <- command{number: n}:
	default:
		if b.log != nil {
			b.log.WithField("number", n).Debug("blinker mailbox full, dropping number")
		}
	}
}

// BlinkHz switches to continuous Hz mode.
func (b *Blinker) BlinkHz(hz float64) {
	select {
	case b.cmd <- command{isHz: true, hz: hz}:
	default:
		if b.log != nil {
			b.log.WithField("hz", hz).Debug("blinker mailbox full, dropping hz request")
		}
	}
}

// Run drives the LED until ctx is cancelled.
func (b *Blinker) Run(ctx context.Context) error {
	var (
		hzMode       bool
		hz           float64
		hasPending   bool
		pendingN     int
	)

	for {
		// Apply any queued command without blocking.
		select {
		case c := <-b.cmd:
			if c.isHz {
				hzMode = true
				hz = c.hz
				hasPending = false
			} else {
				hzMode = false
				hasPending = true
				pendingN = c.number
			}
		default:
		}

		switch {
		case hzMode:
			if !b.runHz(ctx, hz, &hzMode) {
				return ctx.Err()
			}
		case hasPending:
			if !b.emitNumber(ctx, pendingN) {
				return ctx.Err()
			}
			hasPending = false
			if !sleepCtx(ctx, 3*time.Second) {
				return ctx.Err()
			}
		default:
			select {
			case <-ctx.Done():
				return ctx.Err()
			case c := <-b.cmd:
				if c.isHz {
					hzMode = true
					hz = c.hz
				} else {
					hasPending = true
					pendingN = c.number
				}
			}
		}
	}
}

// runHz toggles the LED at period 1/hz until ctx is done or a new
// command preempts Hz mode (signalled by clearing *active).
func (b *Blinker) runHz(ctx context.Context, hz float64, active *bool) bool {
	if hz <= 0 {
		*active = false
		return true
	}
	period := time.Duration(float64(time.Second) / hz)
	on := false
	for {
		on = !on
		if err := b.led.WriteState(on); err != nil && b.log != nil {
			b.log.WithError(err).Warn("led write failed")
		}
		select {
		case <-ctx.Done():
			return false
		case c := <-b.cmd:
			if c.isHz {
				hz = c.hz
				if hz <= 0 {
					*active = false
					return true
				}
				period = time.Duration(float64(time.Second) / hz)
				continue
			}
			// a number request preempts Hz mode; requeue it for the
			// outer loop to pick up.
			*active = false
			select {
			case b.cmd <- c:
			default:
			}
			return true
		case <-time.After(period / 2):
		}
	}
}

// emitNumber emits the blink pattern for n per spec.md §4.2.
func (b *Blinker) emitNumber(ctx context.Context, n int) bool {
	for i := 0; i < n; i++ {
		if (i+1)%5 == 0 {
			if !b.pulse(ctx, false, 200*time.Millisecond) {
				return false
			}
			if !b.pulse(ctx, true, 300*time.Millisecond) {
				return false
			}
			if err := b.led.WriteState(false); err != nil && b.log != nil {
				b.log.WithError(err).Warn("led write failed")
			}
		} else {
			if !b.pulse(ctx, false, 200*time.Millisecond) {
				return false
			}
			if !b.pulse(ctx, true, 100*time.Millisecond) {
				return false
			}
			if !b.pulse(ctx, false, 200*time.Millisecond) {
				return false
			}
		}
	}
	return true
}

func (b *Blinker) pulse(ctx context.Context, on bool, d time.Duration) bool {
	if err := b.led.WriteState(on); err != nil && b.log != nil {
		b.log.WithError(err).Warn("led write failed")
	}
	if d == 0 {
		return true
	}
	return sleepCtx(ctx, d)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
