// Package stackfilter reduces captured call stacks to the frames that matter
// to the application, dropping instrumentation and runtime noise.
package stackfilter

import (
	"strings"
	"sync"
)

// SyntheticSuffix marks frames that belong to compiler-generated code.
const SyntheticSuffix = " --- () => {...}"

// SelfPrefix is the import path prefix of this module's libraries.
const SelfPrefix = "github.com/vaibhaw-/dbscope/internal/dbscope/"

// SelfPackages are the instrumentation packages the default filter always
// drops. Application code in this module, such as the workload runner, stays
// visible.
var SelfPackages = []string{
	SelfPrefix + "broker",
	SelfPrefix + "capture",
	SelfPrefix + "message",
	SelfPrefix + "middleware",
	SelfPrefix + "request",
	SelfPrefix + "stackfilter",
	SelfPrefix + "timer",
}

// DefaultDenylist lists packages that are never significant to a reader of a
// captured trace. Entries match the package exactly or as a path prefix.
var DefaultDenylist = []string{
	"runtime",
	"reflect",
	"testing",
	"context",
	"sync",
	"database/sql",
	"net/http",
	"internal",
	"github.com/gin-gonic/gin",
	"github.com/jackc/pgx/v5",
	"github.com/lib/pq",
	"github.com/go-sql-driver/mysql",
	"modernc.org/sqlite",
}

// Filter drops frames by method name, type name or package. It is safe for
// concurrent use; registration normally happens once before capture starts.
type Filter struct {
	mu       sync.RWMutex
	types    map[string]struct{}
	methods  map[string]struct{}
	packages map[string]struct{}

	prefixes []string
}

// New returns a filter with no exclusions.
func New() *Filter {
	return &Filter{
		types:    make(map[string]struct{}),
		methods:  make(map[string]struct{}),
		packages: make(map[string]struct{}),
	}
}

// NewDefault returns a filter that also drops SelfPackages, any package under
// the given prefixes and everything on DefaultDenylist.
func NewDefault(selfPrefixes ...string) *Filter {
	f := New()
	f.prefixes = append(f.prefixes, SelfPackages...)
	f.prefixes = append(f.prefixes, selfPrefixes...)
	f.prefixes = append(f.prefixes, DefaultDenylist...)
	return f
}

// ExcludeType drops frames whose receiver type or any enclosing function has
// this name.
func (f *Filter) ExcludeType(name string) {
	f.mu.Lock()
	f.types[name] = struct{}{}
	f.mu.Unlock()
}

// ExcludeMethod drops frames whose simple method name matches.
func (f *Filter) ExcludeMethod(name string) {
	f.mu.Lock()
	f.methods[name] = struct{}{}
	f.mu.Unlock()
}

// ExcludePackage drops frames from a package, matched by full import path or
// by its last path element.
func (f *Filter) ExcludePackage(name string) {
	f.mu.Lock()
	f.packages[name] = struct{}{}
	f.mu.Unlock()
}

// GetFilteredStackTrace renders the surviving frames, innermost first, one
// per line. An empty stack gives "".
func (f *Filter) GetFilteredStackTrace(stack Stack) string {
	if len(stack) == 0 {
		return ""
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	lines := make([]string, 0, len(stack))
	for _, fr := range stack {
		if f.excludeMethod(fr) || f.excludeType(fr) || f.excludePackage(fr) {
			continue
		}
		line := fr.FullName()
		if fr.IsSynthetic() {
			line += SyntheticSuffix
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (f *Filter) excludeMethod(fr Frame) bool {
	_, ok := f.methods[fr.Method]
	return ok
}

func (f *Filter) excludeType(fr Frame) bool {
	if fr.Type != "" {
		if _, ok := f.types[fr.Type]; ok {
			return true
		}
	}
	for i := len(fr.Enclosing) - 1; i >= 0; i-- {
		if _, ok := f.types[fr.Enclosing[i]]; ok {
			return true
		}
	}
	return false
}

func (f *Filter) excludePackage(fr Frame) bool {
	if _, ok := f.packages[fr.Package]; ok {
		return true
	}
	if _, ok := f.packages[fr.PackageName()]; ok {
		return true
	}
	for _, p := range f.prefixes {
		if fr.Package == "" {
			break
		}
		if fr.Package == strings.TrimSuffix(p, "/") || strings.HasPrefix(fr.Package, strings.TrimSuffix(p, "/")+"/") {
			return true
		}
	}
	return false
}
