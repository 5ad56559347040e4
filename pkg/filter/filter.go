// Package filter implements the middleware chain wrapped around every call.
package filter

import (
	"math"
	"sort"

	"github.com/HMasataka/hubrpc/pkg/invocation"
)

// DefaultPriority is the priority of filters that do not declare one; they
// run after every filter with an explicit priority.
const DefaultPriority = math.MaxInt32

// Filter wraps a call. Not calling next short-circuits the call; the
// returned error becomes the call's status.
type Filter interface {
	Invoke(ic *invocation.Context, next invocation.Endpoint) error
}

// Func adapts a function to Filter
type Func func(ic *invocation.Context, next invocation.Endpoint) error

// Invoke implements Filter
func (f Func) Invoke(ic *invocation.Context, next invocation.Endpoint) error {
	return f(ic, next)
}

// Prioritized is implemented by filters that choose their position
type Prioritized interface {
	Priority() int
}

type prioritized struct {
	Filter
	priority int
}

func (p prioritized) Priority() int { return p.priority }

// WithPriority pins f at priority. Lower priorities run first (outermost).
func WithPriority(priority int, f Filter) Filter {
	return prioritized{Filter: f, priority: priority}
}

// PriorityOf returns the priority f runs at
func PriorityOf(f Filter) int {
	if p, ok := f.(Prioritized); ok {
		return p.Priority()
	}
	return DefaultPriority
}

// Sort orders filters by ascending priority, keeping registration order
// between equal priorities.
func Sort(filters []Filter) []Filter {
	sorted := make([]Filter, len(filters))
	copy(sorted, filters)
	sort.SliceStable(sorted, func(i, j int) bool {
		return PriorityOf(sorted[i]) < PriorityOf(sorted[j])
	})
	return sorted
}

// Chain composes filters around terminal into a single endpoint. The result
// is built once and reused for every call.
func Chain(terminal invocation.Endpoint, filters ...Filter) invocation.Endpoint {
	sorted := Sort(filters)

	endpoint := terminal
	for i := len(sorted) - 1; i >= 0; i-- {
		f := sorted[i]
		next := endpoint
		endpoint = func(ic *invocation.Context) error {
			return f.Invoke(ic, next)
		}
	}
	return endpoint
}
