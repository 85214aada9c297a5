package timer

import (
	"testing"
	"time"
)

// fakeClock advances only when told to.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestTimer_StartStop(t *testing.T) {
	origin := time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{t: origin}
	tm := NewWithClock(origin, clock.now)

	clock.advance(5 * time.Millisecond)
	offset := tm.Start()
	if offset != 5*time.Millisecond {
		t.Errorf("Start() = %v, want 5ms", offset)
	}

	clock.advance(20 * time.Millisecond)
	if got := tm.Stop(offset); got != 20*time.Millisecond {
		t.Errorf("Stop() = %v, want 20ms", got)
	}
}

func TestTimer_NeverNegative(t *testing.T) {
	origin := time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{t: origin.Add(-time.Second)}
	tm := NewWithClock(origin, clock.now)

	if got := tm.Start(); got != 0 {
		t.Errorf("Start() before origin = %v, want 0", got)
	}
	if got := tm.Stop(time.Hour); got != 0 {
		t.Errorf("Stop() with future offset = %v, want 0", got)
	}
	if got := tm.Point().Offset; got != 0 {
		t.Errorf("Point().Offset before origin = %v, want 0", got)
	}
}

func TestTimer_Point(t *testing.T) {
	origin := time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{t: origin.Add(42 * time.Millisecond)}
	tm := NewWithClock(origin, clock.now)

	p := tm.Point()
	if p.Offset != 42*time.Millisecond {
		t.Errorf("Offset = %v, want 42ms", p.Offset)
	}
	if p.Duration != 0 {
		t.Errorf("Duration = %v, want 0", p.Duration)
	}
	if !p.StartTime.Equal(clock.t) {
		t.Errorf("StartTime = %v, want %v", p.StartTime, clock.t)
	}
}

func TestNew_UsesWallClock(t *testing.T) {
	tm := New(time.Now())
	first := tm.Start()
	second := tm.Start()
	if second < first {
		t.Errorf("offsets went backwards: %v then %v", first, second)
	}
	var _ ExecutionTimer = tm
}
