// Package broker distributes events published during one request to its
// subscribers. Delivery is synchronous and in registration order; the Store
// subscriber keeps the ordered log that is aggregated after the request ends.
package broker

import (
	"fmt"
	"sync"

	"github.com/vaibhaw-/dbscope/internal/dbscope/logger"
	"github.com/vaibhaw-/dbscope/internal/dbscope/message"
)

// Subscriber receives every event published on a broker.
type Subscriber interface {
	Receive(e message.Event) error
}

// SubscriberFunc adapts a function to the Subscriber interface.
type SubscriberFunc func(e message.Event) error

func (f SubscriberFunc) Receive(e message.Event) error { return f(e) }

type subscription struct {
	name string
	sub  Subscriber
}

// Broker fans events out to its subscribers. The zero value is ready to use.
type Broker struct {
	mu   sync.RWMutex
	subs []subscription
}

// New returns an empty broker.
func New() *Broker {
	return &Broker{}
}

// Subscribe registers s under name. Subscribers are called in the order they
// were registered.
func (b *Broker) Subscribe(name string, s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscription{name: name, sub: s})
}

// Publish delivers e to every subscriber. A subscriber that returns an error
// or panics is logged and skipped; the remaining subscribers still receive
// the event. Publish returns the number of subscribers that failed.
func (b *Broker) Publish(e message.Event) int {
	if e == nil {
		return 0
	}

	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	failed := 0
	for _, s := range subs {
		if err := deliver(s.sub, e); err != nil {
			failed++
			logger.L().Warnw("subscriber failed",
				"subscriber", s.name,
				"kind", e.Kind(),
				"error", err,
			)
		}
	}
	return failed
}

func deliver(s Subscriber, e message.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.Receive(e)
}
