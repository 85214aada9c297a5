// Package policy decides at the end of a request whether its telemetry is
// worth showing.
package policy

import (
	"sort"
	"sync"
)

// Decision is the outcome of a policy.
type Decision int

const (
	Off Decision = iota
	On
)

func (d Decision) String() string {
	if d == On {
		return "on"
	}
	return "off"
}

// DefaultStatusCodes are always allowed.
var DefaultStatusCodes = []int{200, 301, 302}

// StatusCodePolicy turns telemetry off for responses whose status code is not
// on its allow list.
type StatusCodePolicy struct {
	mu      sync.RWMutex
	allowed map[int]struct{}
}

// NewStatusCodePolicy returns a policy allowing DefaultStatusCodes plus extra.
func NewStatusCodePolicy(extra ...int) *StatusCodePolicy {
	p := &StatusCodePolicy{allowed: make(map[int]struct{})}
	for _, c := range DefaultStatusCodes {
		p.allowed[c] = struct{}{}
	}
	for _, c := range extra {
		p.Add(c)
	}
	return p
}

// Add allows one more status code. Adding a known code is a no-op.
func (p *StatusCodePolicy) Add(code int) {
	p.mu.Lock()
	p.allowed[code] = struct{}{}
	p.mu.Unlock()
}

// Execute returns On when status is allowed.
func (p *StatusCodePolicy) Execute(status int) Decision {
	if p == nil {
		return Off
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if _, ok := p.allowed[status]; ok {
		return On
	}
	return Off
}

// Codes returns the allow list in ascending order.
func (p *StatusCodePolicy) Codes() []int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]int, 0, len(p.allowed))
	for c := range p.allowed {
		out = append(out, c)
	}
	sort.Ints(out)
	return out
}
