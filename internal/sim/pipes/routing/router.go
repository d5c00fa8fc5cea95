// Package routing moves items between the containers attached to a network.
//
// Every tick, each network's endpoints are re-derived from the world, outputs
// are matched to inputs by signal, distance and leftness, and each matched
// output moves at most one batch of items.
package routing

import (
	"io"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"voxelpipes.ai/internal/sim/grid"
	"voxelpipes.ai/internal/sim/pipes/network"
	"voxelpipes.ai/internal/sim/pipes/registry"
)

const DefaultBatchLimit = 16

// Move records one output that moved at least one item during a tick.
type Move struct {
	World   string
	Network *network.Network
	Output  Endpoint
	Input   Endpoint
	Items   []grid.ItemStack
	Total   int
}

// TickStats counts what a tick looked at.
type TickStats struct {
	Worlds        int
	SkippedWorlds int
	Networks      int
	Outputs       int
	Unmatched     int
	ItemsMoved    int
}

type Router struct {
	batch atomic.Int64
	log   logrus.FieldLogger
	last  TickStats
}

func NewRouter(log logrus.FieldLogger) *Router {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	r := &Router{log: log}
	r.batch.Store(DefaultBatchLimit)
	return r
}

func (r *Router) BatchLimit() int { return int(r.batch.Load()) }

func (r *Router) SetBatchLimit(n int) {
	if n <= 0 {
		n = DefaultBatchLimit
	}
	r.batch.Store(int64(n))
}

// LastStats returns the counters of the most recent Tick.
func (r *Router) LastStats() TickStats { return r.last }

// Tick routes every registered network once. Worlds are visited in sorted
// order and worlds the host no longer has loaded are skipped.
func (r *Router) Tick(host grid.Host, reg *registry.Registry) []Move {
	var (
		moves []Move
		st    TickStats
	)
	for _, w := range reg.Worlds() {
		st.Worlds++
		g, ok := host.World(w)
		if !ok {
			st.SkippedWorlds++
			r.log.WithField("world", w).Debug("world not loaded, skipping")
			continue
		}
		for _, n := range reg.NetworksFor(w) {
			st.Networks++
			moves = append(moves, r.tickNetwork(g, n, &st)...)
		}
	}
	r.last = st
	return moves
}

// TickNetwork routes a single network against g.
func (r *Router) TickNetwork(g grid.Grid, n *network.Network) []Move {
	var st TickStats
	return r.tickNetwork(g, n, &st)
}

func (r *Router) tickNetwork(g grid.Grid, n *network.Network, st *TickStats) []Move {
	inputs, outputs := Classify(g, n)
	if len(outputs) == 0 {
		return nil
	}
	SortInputs(inputs)
	SortOutputs(outputs)
	limit := r.BatchLimit()

	var moves []Move
	for _, out := range outputs {
		st.Outputs++
		in, ok := Match(n, out, inputs)
		if !ok {
			st.Unmatched++
			continue
		}
		moved := Transfer(g, out.Container, in.Container, limit)
		if moved.Total == 0 {
			continue
		}
		st.ItemsMoved += moved.Total
		moves = append(moves, Move{
			World:   g.ID(),
			Network: n,
			Output:  out,
			Input:   in,
			Items:   moved.Items,
			Total:   moved.Total,
		})
		r.log.WithFields(logrus.Fields{
			"world": g.ID(),
			"from":  out.Container.ToArray(),
			"to":    in.Container.ToArray(),
			"items": moved.Items,
			"total": moved.Total,
		}).Debug("moved")
	}
	return moves
}
