// Package registry owns every known network, keyed by world id.
//
// Reads are safe from any goroutine. Writes happen on the main simulation
// path, after a discovery scan has been joined back there.
package registry

import (
	"sort"
	"sync"

	"voxelpipes.ai/internal/sim/grid"
	"voxelpipes.ai/internal/sim/pipes/network"
)

type Registry struct {
	mu       sync.RWMutex
	networks map[string][]*network.Network
}

type WorldStats struct {
	World    string `json:"world"`
	Networks int    `json:"networks"`
	Nodes    int    `json:"nodes"`
}

func New() *Registry {
	return &Registry{networks: map[string][]*network.Network{}}
}

// NetworksFor returns a copy of the world's network list, in insertion order.
func (r *Registry) NetworksFor(world string) []*network.Network {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cur := r.networks[world]
	out := make([]*network.Network, len(cur))
	copy(out, cur)
	return out
}

// Update replaces a world's list with whatever fn returns. fn runs under the
// write lock and must not call back into the registry.
func (r *Registry) Update(world string, fn func(cur []*network.Network) []*network.Network) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := make([]*network.Network, len(r.networks[world]))
	copy(cur, r.networks[world])
	next := fn(cur)
	kept := next[:0]
	for _, n := range next {
		if n == nil || n.Len() == 0 || n.World() != world {
			continue
		}
		kept = append(kept, n)
	}
	if len(kept) == 0 {
		delete(r.networks, world)
		return
	}
	r.networks[world] = kept
}

func (r *Registry) Set(world string, nets []*network.Network) {
	r.Update(world, func([]*network.Network) []*network.Network {
		out := make([]*network.Network, len(nets))
		copy(out, nets)
		return out
	})
}

// AllNetworks returns a point-in-time copy keyed by world.
func (r *Registry) AllNetworks() map[string][]*network.Network {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string][]*network.Network, len(r.networks))
	for w, nets := range r.networks {
		cp := make([]*network.Network, len(nets))
		copy(cp, nets)
		out[w] = cp
	}
	return out
}

func (r *Registry) Clear(world string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.networks, world)
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, nets := range r.networks {
		n += len(nets)
	}
	return n
}

// Worlds returns the ids of worlds with at least one network, sorted.
func (r *Registry) Worlds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.networks))
	for w := range r.networks {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

// NetworkAt returns the first network containing p.
func (r *Registry) NetworkAt(p grid.Pos) (*network.Network, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, n := range r.networks[p.World] {
		if n.Has(p) {
			return n, true
		}
	}
	return nil, false
}

func (r *Registry) Stats() []WorldStats {
	all := r.AllNetworks()
	out := make([]WorldStats, 0, len(all))
	for w, nets := range all {
		s := WorldStats{World: w, Networks: len(nets)}
		for _, n := range nets {
			s.Nodes += n.Len()
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].World < out[j].World })
	return out
}
