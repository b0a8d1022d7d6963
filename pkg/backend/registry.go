package backend

import (
	"container/heap"
	"slices"

	"github.com/edgeflare/restless/pkg/model"
)

// Registration is a backend and the priority it was registered with. Lower
// priorities are tried first.
type Registration struct {
	Priority int
	Backend  Backend
	seq      int
}

type registrations []Registration

func (h registrations) Len() int { return len(h) }

// Equal priorities resolve to the most recently registered backend.
func (h registrations) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].seq > h[j].seq
}

func (h registrations) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *registrations) Push(x any)   { *h = append(*h, x.(Registration)) }
func (h *registrations) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Registry is a min-heap of backends keyed by priority.
//
// Registry is not synchronized: register backends during startup, before
// requests are served.
type Registry struct {
	entries registrations
	seq     int
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds b with the given priority. Without a priority, b is placed
// ahead of every registered backend: max(0, min-1).
func (r *Registry) Register(b Backend, priority ...int) {
	p := 0
	if len(priority) > 0 {
		p = priority[0]
	} else if len(r.entries) > 0 {
		p = max(0, r.entries[0].Priority-1)
	}
	r.seq++
	heap.Push(&r.entries, Registration{Priority: p, Backend: b, seq: r.seq})
}

// Unregister removes the first registration of b in priority order. It
// reports false when b is not registered.
func (r *Registry) Unregister(b Backend) (Registration, bool) {
	for _, reg := range r.ordered() {
		if reg.Backend != b {
			continue
		}
		for i := range r.entries {
			if r.entries[i].seq == reg.seq {
				return heap.Remove(&r.entries, i).(Registration), true
			}
		}
	}
	return Registration{}, false
}

// Infer returns the first backend, in priority order, that accepts m, or nil.
func (r *Registry) Infer(m *model.Model, s *Session) Backend {
	for _, reg := range r.ordered() {
		if reg.Backend.Infer(m, s) {
			return reg.Backend
		}
	}
	return nil
}

// Registrations returns the registrations in the order Infer tries them.
func (r *Registry) Registrations() []Registration {
	return r.ordered()
}

func (r *Registry) ordered() []Registration {
	out := slices.Clone(r.entries)
	slices.SortFunc(out, func(a, b Registration) int {
		if a.Priority != b.Priority {
			return a.Priority - b.Priority
		}
		return b.seq - a.seq
	})
	return out
}

// Built-in backends, one per model declaration style.
var (
	Reflected Backend = &ReflectedBackend{}
	Pgx       Backend = &PgxBackend{}
	SQL       Backend = &SQLBackend{}
)

var defaultRegistry = NewRegistry()

func init() {
	defaultRegistry.Register(Reflected, 25)
	defaultRegistry.Register(Pgx, 50)
	defaultRegistry.Register(SQL, 75)
}

// DefaultRegistry returns the process-wide registry holding the built-in backends.
func DefaultRegistry() *Registry { return defaultRegistry }

// InferBackend infers a backend from the default registry.
func InferBackend(m *model.Model, s *Session) Backend { return defaultRegistry.Infer(m, s) }

// RegisterBackend registers b in the default registry.
func RegisterBackend(b Backend, priority ...int) { defaultRegistry.Register(b, priority...) }

// UnregisterBackend removes b from the default registry.
func UnregisterBackend(b Backend) (Registration, bool) { return defaultRegistry.Unregister(b) }
