// Package request owns the per-request telemetry state: the execution timer,
// the broker, the persistence store and the stack filter. Nothing in here is
// global; each request constructs and discards its own Context.
package request

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vaibhaw-/dbscope/internal/dbscope/broker"
	"github.com/vaibhaw-/dbscope/internal/dbscope/config"
	"github.com/vaibhaw-/dbscope/internal/dbscope/message"
	"github.com/vaibhaw-/dbscope/internal/dbscope/stackfilter"
	"github.com/vaibhaw-/dbscope/internal/dbscope/timer"
)

// Context is the telemetry scope of one request.
type Context struct {
	ID     uuid.UUID
	Origin time.Time
	Timer  timer.ExecutionTimer
	Broker *broker.Broker
	Store  *broker.Store
	Filter *stackfilter.Filter
	// StackTraces enables CommandStackTrace events in the producer layer.
	StackTraces bool
}

// Option customises a Context built by New.
type Option func(*Context)

// WithTimer replaces the default wall-clock timer. If t exposes Origin, the
// context adopts it so StartTime values line up with offsets.
func WithTimer(t timer.ExecutionTimer) Option {
	return func(c *Context) {
		c.Timer = t
		if o, ok := t.(interface{ Origin() time.Time }); ok {
			c.Origin = o.Origin()
		}
	}
}

func WithFilter(f *stackfilter.Filter) Option {
	return func(c *Context) { c.Filter = f }
}

func WithStackTraces(enabled bool) Option {
	return func(c *Context) { c.StackTraces = enabled }
}

// WithID sets the request id, for example one propagated by a caller.
func WithID(id uuid.UUID) Option {
	return func(c *Context) { c.ID = id }
}

// New creates a Context whose store is subscribed before any other
// subscriber, so the log sees every event first.
func New(opts ...Option) *Context {
	now := time.Now()
	c := &Context{
		ID:          uuid.New(),
		Origin:      now,
		Timer:       timer.New(now),
		Broker:      broker.New(),
		Store:       broker.NewStore(),
		Filter:      stackfilter.NewDefault(),
		StackTraces: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.Broker.Subscribe("store", c.Store)
	return c
}

// OptionsFromConfig translates the capture section of cfg into options.
func OptionsFromConfig(cfg *config.Config) []Option {
	if cfg == nil {
		return nil
	}
	f := stackfilter.NewDefault()
	for _, p := range cfg.Capture.ExcludePackages {
		f.ExcludePackage(p)
	}
	for _, t := range cfg.Capture.ExcludeTypes {
		f.ExcludeType(t)
	}
	for _, m := range cfg.Capture.ExcludeMethods {
		f.ExcludeMethod(m)
	}
	return []Option{WithFilter(f), WithStackTraces(cfg.Capture.StackTraces)}
}

// Publish sends e to every subscriber of the request broker.
func (c *Context) Publish(e message.Event) {
	c.Broker.Publish(e)
}

// Seal freezes the log and returns its database events in publish order.
func (c *Context) Seal() []message.Event {
	c.Store.Seal()
	return c.Store.Events(message.FamilyADO)
}

// Timeline returns the timeline events recorded so far.
func (c *Context) Timeline() []message.Event {
	return c.Store.Events(message.FamilyTimeline)
}

// StartTime converts a request-relative offset to wall-clock time.
func (c *Context) StartTime(offset time.Duration) time.Time {
	return c.Origin.Add(offset)
}

type ctxKey struct{}

// WithContext returns a copy of parent carrying rc.
func WithContext(parent context.Context, rc *Context) context.Context {
	return context.WithValue(parent, ctxKey{}, rc)
}

// FromContext returns the request context stored in ctx, or nil.
func FromContext(ctx context.Context) *Context {
	if ctx == nil {
		return nil
	}
	rc, _ := ctx.Value(ctxKey{}).(*Context)
	return rc
}
