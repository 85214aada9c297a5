package request

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vaibhaw-/dbscope/internal/dbscope/message"
)

// ErrEmptyName is returned when a timeline capture has no name.
var ErrEmptyName = errors.New("timeline event name must not be empty")

// DefaultCategory is the category of timeline events captured by name.
const DefaultCategory = "Timeline"

// OngoingCapture is a timeline span that has started and not yet stopped.
// A capture on a nil Context is a no-op.
type OngoingCapture struct {
	rc      *Context
	name    string
	subText string
	offset  time.Duration
	once    sync.Once
}

// Capture starts a timed timeline span. Call Stop to publish it.
func (c *Context) Capture(name, subText string) (*OngoingCapture, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	if c == nil {
		return &OngoingCapture{}, nil
	}
	return &OngoingCapture{
		rc:      c,
		name:    name,
		subText: subText,
		offset:  c.Timer.Start(),
	}, nil
}

// Stop publishes the span. Only the first call has an effect.
func (o *OngoingCapture) Stop() {
	if o == nil || o.rc == nil {
		return
	}
	o.once.Do(func() {
		d := o.rc.Timer.Stop(o.offset)
		o.rc.Publish(message.Timeline{
			Header: message.Header{
				ID:        uuid.New(),
				Offset:    o.offset,
				Duration:  d,
				StartTime: o.rc.StartTime(o.offset),
			},
			Name:     o.name,
			Category: DefaultCategory,
			SubText:  o.subText,
		})
	})
}

// CaptureMoment publishes a zero-duration timeline point.
func (c *Context) CaptureMoment(name, subText string) error {
	if name == "" {
		return ErrEmptyName
	}
	if c == nil {
		return nil
	}
	p := c.Timer.Point()
	start := p.StartTime
	if start.IsZero() {
		start = c.StartTime(p.Offset)
	}
	c.Publish(message.Timeline{
		Header:   message.Header{ID: uuid.New(), Offset: p.Offset, StartTime: start},
		Name:     name,
		Category: DefaultCategory,
		SubText:  subText,
	})
	return nil
}
