package blinker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeLED struct {
	mu     sync.Mutex
	writes []bool
}

func (f *fakeLED) WriteState(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, on)
	return nil
}

func (f *fakeLED) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func TestBlinkNumberMailboxDropsNewOnFull(t *testing.T) {
	b := New(&fakeLED{}, nil)
	b.BlinkNumber(5)
	b.BlinkNumber(9) // mailbox full (Run not started) - dropped, 5 is kept

	select {
	case c := <-b.cmd:
		assert.Equal(t, 5, c.number)
	default:
		t.Fatal("expected pending command")
	}
}

func TestEmitNumberProducesExpectedWriteCount(t *testing.T) {
	led := &fakeLED{}
	b := New(led, nil)
	ctx := context.Background()

	ok := b.emitNumber(ctx, 3)
	assert.True(t, ok)
	// Each non-fives group writes off/on/off = 3 states.
	assert.Equal(t, 9, led.count())
}

func TestRunRespectsCancellation(t *testing.T) {
	led := &fakeLED{}
	b := New(led, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after cancellation")
	}
}
