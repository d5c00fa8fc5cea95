package memgrid

import (
	"sort"

	"voxelpipes.ai/internal/sim/grid"
)

// Host holds the loaded worlds. Unloading a world makes World report false,
// which the engine treats as an unloaded world for that tick.
type Host struct {
	worlds map[string]*Grid
}

var _ grid.Host = (*Host)(nil)

func NewHost(grids ...*Grid) *Host {
	h := &Host{worlds: map[string]*Grid{}}
	for _, g := range grids {
		h.Load(g)
	}
	return h
}

func (h *Host) Load(g *Grid) {
	if g == nil {
		return
	}
	h.worlds[g.ID()] = g
}

func (h *Host) Unload(id string) { delete(h.worlds, id) }

func (h *Host) Grid(id string) *Grid { return h.worlds[id] }

func (h *Host) World(id string) (grid.Grid, bool) {
	g, ok := h.worlds[id]
	if !ok {
		return nil, false
	}
	return g, true
}

func (h *Host) IDs() []string {
	out := make([]string, 0, len(h.worlds))
	for id := range h.worlds {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
