// Package co2sampler polls a CO2 sensor into a smoothed, clamped ppm
// reading and drives the status LED from it (spec.md §4.3).
package co2sampler

import (
	"context"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pmarks-net/exhale/internal/averager"
)

const (
	smoothingWindow = 60 * time.Second
	pollRetryDelay  = 500 * time.Millisecond
	restartDelay    = time.Second

	minClampedPPM = 100
	maxClampedPPM = 2000
)

// Sensor is the polling interface the sampler consumes.
type Sensor interface {
	DataAvailable() (bool, error)
	ReadCO2() (float64, error)
}

// Blinker is the subset of blinker.Blinker the sampler drives.
type Blinker interface {
	BlinkNumber(n int)
}

// Sampler continuously reads Sensor and maintains a 60-second smoothed
// ppm reading.
type Sampler struct {
	sensor  Sensor
	blinker Blinker
	log     *logrus.Entry
	avg     *averager.Averager
}

// New constructs a Sampler. blinker may be nil to skip LED updates
// (useful in tests).
func New(sensor Sensor, blinker Blinker, log *logrus.Entry) *Sampler {
	return &Sampler{
		sensor:  sensor,
		blinker: blinker,
		log:     log,
		avg:     averager.New(smoothingWindow),
	}
}

// Run polls the sensor until ctx is cancelled. Any sensor error is
// logged and the loop restarts after restartDelay; cancellation exits
// cleanly (spec.md §4.7).
func (s *Sampler) Run(ctx context.Context) {
	for ctx.Err() == nil {
		if err := s.runOnce(ctx); err != nil {
			if s.log != nil {
				s.log.WithError(err).Warn("co2sampler: reader loop failed, restarting")
			}
			if !sleepCtx(ctx, restartDelay) {
				return
			}
		}
	}
}

func (s *Sampler) runOnce(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		available, err := s.sensor.DataAvailable()
		if err != nil {
			return err
		}
		if !available {
			if !sleepCtx(ctx, pollRetryDelay) {
				return nil
			}
			continue
		}
		ppm, err := s.sensor.ReadCO2()
		if err != nil {
			return err
		}
		if math.IsNaN(ppm) || math.IsInf(ppm, 0) {
			if s.log != nil {
				s.log.WithField("value", ppm).Warn("co2sampler: dropping non-finite reading")
			}
			continue
		}
		if err := s.avg.Add(time.Now(), ppm); err != nil {
			if s.log != nil {
				s.log.WithError(err).Warn("co2sampler: averager rejected sample")
			}
			continue
		}
		if s.blinker != nil {
			s.blinker.BlinkNumber(s.SmoothedPPM() / 100)
		}
	}
}

// SmoothedPPM returns the integer clamped mean of the last 60 s of
// readings, or 0 if the averager is stale (spec.md §4.3).
func (s *Sampler) SmoothedPPM() int {
	now := time.Now()
	if !s.avg.IsFresh(now) {
		return 0
	}
	v := int(s.avg.Average())
	if v < minClampedPPM {
		v = minClampedPPM
	}
	if v > maxClampedPPM {
		v = maxClampedPPM
	}
	return v
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
