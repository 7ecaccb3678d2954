package control

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fixedSampler struct {
	mu  sync.Mutex
	ppm int
}

func (f *fixedSampler) set(v int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ppm = v
}

func (f *fixedSampler) SmoothedPPM() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ppm
}

type recordingDesirer struct {
	mu      sync.Mutex
	desires []bool
}

func (r *recordingDesirer) PublishDesire(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.desires = append(r.desires, on)
}

func (r *recordingDesirer) WaitUntil(ctx context.Context, deadline time.Time) {
	<-ctx.Done()
}

func (r *recordingDesirer) last() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.desires[len(r.desires)-1]
}

func TestHysteresisTurnsOnAtLimit(t *testing.T) {
	sampler := &fixedSampler{ppm: 900}
	desirer := &recordingDesirer{}
	l := New(sampler, desirer, 900, 50, nil)

	l.tick()
	assert.True(t, l.fanOn)
	assert.True(t, desirer.last())
}

func TestHysteresisStaysInDeadBand(t *testing.T) {
	sampler := &fixedSampler{ppm: 900}
	desirer := &recordingDesirer{}
	l := New(sampler, desirer, 900, 50, nil)
	l.tick()
	require := assert.New(t)
	require.True(l.fanOn)

	sampler.set(870) // within (850, 900) dead band
	l.tick()
	require.True(l.fanOn)

	sampler.set(849)
	l.tick()
	require.False(l.fanOn)
}

func TestStaleReadingForcesFanOff(t *testing.T) {
	sampler := &fixedSampler{ppm: 900}
	desirer := &recordingDesirer{}
	l := New(sampler, desirer, 900, 50, nil)
	l.tick()
	assert.True(t, l.fanOn)

	sampler.set(0) // stale sentinel
	l.tick()
	assert.False(t, l.fanOn)
}

func TestDutyPercentRoundsUp(t *testing.T) {
	assert.Equal(t, 1, dutyPercent(0.001))
	assert.Equal(t, 0, dutyPercent(0))
	assert.Equal(t, 100, dutyPercent(1))
}

func TestRunRespectsCancellation(t *testing.T) {
	sampler := &fixedSampler{ppm: 0}
	desirer := &recordingDesirer{}
	l := New(sampler, desirer, 900, 50, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { l.Run(ctx); close(done) }()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after cancellation")
	}
}
