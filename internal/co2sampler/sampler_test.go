package co2sampler

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSensor struct {
	mu       sync.Mutex
	readings []float64
	idx      int
	err      error
}

func (f *fakeSensor) DataAvailable() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	return f.idx < len(f.readings), nil
}

func (f *fakeSensor) ReadCO2() (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.idx >= len(f.readings) {
		return 0, errors.New("no more readings")
	}
	v := f.readings[f.idx]
	f.idx++
	return v, nil
}

type fakeBlinker struct {
	mu   sync.Mutex
	nums []int
}

func (f *fakeBlinker) BlinkNumber(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nums = append(f.nums, n)
}

func (f *fakeBlinker) last() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.nums) == 0 {
		return -1
	}
	return f.nums[len(f.nums)-1]
}

func TestSmoothedPPMStaleReturnsZero(t *testing.T) {
	s := New(&fakeSensor{}, nil, nil)
	assert.Equal(t, 0, s.SmoothedPPM())
}

func TestSmoothedPPMClampsToRange(t *testing.T) {
	s := New(&fakeSensor{}, nil, nil)
	require.NoError(t, s.avg.Add(time.Now(), 50))
	assert.Equal(t, minClampedPPM, s.SmoothedPPM())

	s2 := New(&fakeSensor{}, nil, nil)
	require.NoError(t, s2.avg.Add(time.Now(), 5000))
	assert.Equal(t, maxClampedPPM, s2.SmoothedPPM())
}

func TestRunDropsNonFiniteReadings(t *testing.T) {
	sensor := &fakeSensor{readings: []float64{math.NaN(), 900}}
	blinker := &fakeBlinker{}
	s := New(sensor, blinker, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	assert.Equal(t, 9, blinker.last())
}
