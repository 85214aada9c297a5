// Package timer measures request-relative offsets and durations.
package timer

import "time"

// ExecutionTimer is what producers use to stamp events. Offsets are relative
// to the origin of one request; durations are never negative.
type ExecutionTimer interface {
	Start() time.Duration
	Stop(offset time.Duration) time.Duration
	Point() Result
}

// Result is a single timed measurement.
type Result struct {
	Offset    time.Duration
	Duration  time.Duration
	StartTime time.Time
}

// Timer is an ExecutionTimer anchored at a fixed origin instant.
type Timer struct {
	origin time.Time
	now    func() time.Time
}

// New returns a timer whose offsets are measured from origin.
func New(origin time.Time) *Timer {
	return NewWithClock(origin, time.Now)
}

// NewWithClock is New with an injectable clock.
func NewWithClock(origin time.Time, now func() time.Time) *Timer {
	if now == nil {
		now = time.Now
	}
	return &Timer{origin: origin, now: now}
}

// Origin returns the instant offsets are relative to.
func (t *Timer) Origin() time.Time {
	return t.origin
}

// Start returns the current offset from the origin.
func (t *Timer) Start() time.Duration {
	d := t.now().Sub(t.origin)
	if d < 0 {
		return 0
	}
	return d
}

// Stop returns the time elapsed since offset.
func (t *Timer) Stop(offset time.Duration) time.Duration {
	d := t.Start() - offset
	if d < 0 {
		return 0
	}
	return d
}

// Point records an instant with zero duration.
func (t *Timer) Point() Result {
	now := t.now()
	offset := now.Sub(t.origin)
	if offset < 0 {
		offset = 0
	}
	return Result{Offset: offset, StartTime: now}
}
