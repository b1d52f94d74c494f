package relay

import (
	"maps"
	"slices"
)

// Registry reference-counts channel interest. A channel should be joined
// upstream exactly while its count is above zero.
type Registry struct {
	counts map[string]int
}

func NewRegistry() *Registry {
	return &Registry{counts: make(map[string]int)}
}

// Join adds one reference and reports whether this was the first.
func (r *Registry) Join(channel string) bool {
	r.counts[channel]++
	return r.counts[channel] == 1
}

// Part drops one reference and reports whether this was the last. Parting
// an unknown channel is a no-op.
func (r *Registry) Part(channel string) bool {
	n, ok := r.counts[channel]
	if !ok {
		return false
	}
	if n <= 1 {
		delete(r.counts, channel)
		return true
	}
	r.counts[channel] = n - 1
	return false
}

func (r *Registry) Count(channel string) int {
	return r.counts[channel]
}

// Channels returns every channel with a positive count, sorted.
func (r *Registry) Channels() []string {
	return slices.Sorted(maps.Keys(r.counts))
}

func (r *Registry) Len() int {
	return len(r.counts)
}
