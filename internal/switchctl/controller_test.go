package switchctl

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedSet struct {
	switchID int
	on       bool
}

type fakeSetter struct {
	mu   sync.Mutex
	sets []recordedSet
}

func (f *fakeSetter) call(switchID int, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets = append(f.sets, recordedSet{switchID, on})
	return nil
}

func (f *fakeSetter) last() (recordedSet, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sets) == 0 {
		return recordedSet{}, false
	}
	return f.sets[len(f.sets)-1], true
}

func (f *fakeSetter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sets)
}

func fastTiming() Timing {
	return Timing{
		PulseOff: 5 * time.Millisecond,
		PulseOn:  5 * time.Millisecond,
		Debounce: 15 * time.Millisecond,
	}
}

func TestAnnouncementPulseOnAlive(t *testing.T) {
	setter := &fakeSetter{}
	mailbox := make(chan Event, 8)
	c := New(1, 2, mailbox, setter.call, 200*time.Millisecond, fastTiming(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mailbox <- Event{Kind: EventAlive}
	mailbox <- Event{Kind: EventObservedOff}

	done := make(chan struct{})
	go func() { c.Run(ctx); close(done) }()

	time.Sleep(80 * time.Millisecond)
	cancel()
	<-done

	// Pulse: off, on, then a debounced off.
	require.GreaterOrEqual(t, setter.count(), 2)
	first := setter.sets[0]
	second := setter.sets[1]
	assert.False(t, first.on)
	assert.True(t, second.on)
}

func TestDesireMismatchIssuesCommand(t *testing.T) {
	setter := &fakeSetter{}
	mailbox := make(chan Event, 8)
	c := New(1, 2, mailbox, setter.call, 200*time.Millisecond, fastTiming(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mailbox <- Event{Kind: EventAlive}
	mailbox <- Event{Kind: EventObservedOff}

	done := make(chan struct{})
	go func() { c.Run(ctx); close(done) }()

	time.Sleep(40 * time.Millisecond)
	mailbox <- Event{Kind: EventDesireOn}
	mailbox <- Event{Kind: EventObservedOn}

	time.Sleep(60 * time.Millisecond)
	cancel()
	<-done

	last, ok := setter.last()
	require.True(t, ok)
	assert.True(t, last.on)
}

func TestManualToggleEntersOverrideThenReturns(t *testing.T) {
	setter := &fakeSetter{}
	mailbox := make(chan Event, 8)
	manualWindow := 30 * time.Millisecond
	c := New(1, 2, mailbox, setter.call, manualWindow, fastTiming(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mailbox <- Event{Kind: EventAlive}
	mailbox <- Event{Kind: EventObservedOff}

	done := make(chan struct{})
	go func() { c.Run(ctx); close(done) }()

	// Wait past the announcement pulse and its debounced off, then flip
	// the observed value while the controller polls for toggles, forcing
	// a manual-toggle signal.
	time.Sleep(40 * time.Millisecond)
	countBeforeToggle := setter.count()
	mailbox <- Event{Kind: EventObservedOn}

	time.Sleep(manualWindow + 60*time.Millisecond)
	cancel()
	<-done

	// Once the override window elapses, automatic control resumes and
	// re-emits the announcement pulse.
	assert.Greater(t, setter.count(), countBeforeToggle)
}
