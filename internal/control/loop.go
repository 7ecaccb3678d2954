// Package control implements the hysteresis control loop that ties the
// CO2 sampler's smoothed reading to the desired fan state published to
// every switch (spec.md §4.6).
package control

import (
	"context"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pmarks-net/exhale/internal/averager"
)

// tickInterval is deliberately non-round to avoid resonance with other
// periodic systems (spec.md §4.6).
const tickInterval = 137 * time.Second / 13

const (
	hourWindow = time.Hour
	dayWindow  = 24 * time.Hour
	logBucket  = 5 * time.Minute
)

// Sampler is the subset of co2sampler.Sampler the loop consumes.
type Sampler interface {
	SmoothedPPM() int
}

// Desirer is the subset of tracker.Tracker the loop drives.
type Desirer interface {
	PublishDesire(on bool)
	WaitUntil(ctx context.Context, deadline time.Time)
}

// Loop runs the hysteresis control loop.
type Loop struct {
	sampler  Sampler
	tracker  Desirer
	log      *logrus.Entry
	limit    int
	diff     int
	fanOn    bool
	hourAvg  *averager.Averager
	dayAvg   *averager.Averager
	lastLog  time.Time
	start    time.Time
	forceLog bool
}

// New constructs a Loop. limit is the ppm threshold that turns the fan
// on; diff is the hysteresis band subtracted from limit to find the
// turn-off threshold.
func New(sampler Sampler, tracker Desirer, limit, diff int, log *logrus.Entry) *Loop {
	return &Loop{
		sampler: sampler,
		tracker: tracker,
		log:     log,
		limit:   limit,
		diff:    diff,
		hourAvg: averager.New(hourWindow),
		dayAvg:  averager.New(dayWindow),
		start:   time.Now(),
	}
}

// Run ticks every ~10.5 s until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	for ctx.Err() == nil {
		l.tick()
		l.tracker.WaitUntil(ctx, time.Now().Add(tickInterval))
	}
}

func (l *Loop) tick() {
	smoothed := l.sampler.SmoothedPPM()

	prev := l.fanOn
	if smoothed >= l.limit {
		l.fanOn = true
	} else if smoothed <= l.limit-l.diff {
		l.fanOn = false
	}
	changed := l.fanOn != prev

	l.tracker.PublishDesire(l.fanOn)

	now := time.Now()
	dutyValue := 0.0
	if l.fanOn {
		dutyValue = 1.0
	}
	if err := l.hourAvg.Add(now, dutyValue); err != nil {
		panic(err)
	}
	if err := l.dayAvg.Add(now, dutyValue); err != nil {
		panic(err)
	}

	if changed || now.Sub(l.lastLog) >= logBucket {
		l.logStatus(now, smoothed)
		l.lastLog = now
	}
}

func (l *Loop) logStatus(now time.Time, smoothed int) {
	if l.log == nil {
		return
	}
	state := "off"
	if l.fanOn {
		state = "on"
	}
	uptimeHours := int(now.Sub(l.start).Hours())
	hourPct := dutyPercent(l.hourAvg.Average())
	dayPct := dutyPercent(l.dayAvg.Average())
	l.log.WithFields(logrus.Fields{
		"time":        now.Truncate(time.Second).Format(time.RFC3339),
		"co2_ppm":     smoothed,
		"fan":         state,
		"uptime_hrs":  uptimeHours,
		"duty_1h_pct": hourPct,
		"duty_24h_pct": dayPct,
	}).Info("control loop status")
}

// dutyPercent rounds a [0,1] fraction up to a whole percent, so any
// activity at all reports at least 1% (spec.md §4.6).
func dutyPercent(fraction float64) int {
	return int(math.Ceil(fraction * 100))
}
