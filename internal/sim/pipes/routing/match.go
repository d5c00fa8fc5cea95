package routing

import (
	"voxelpipes.ai/internal/sim/grid"
	"voxelpipes.ai/internal/sim/pipes/network"
)

// ApproachNode is the first neighbour of the output, in face order, that is a
// node of n and not the output's own container.
func ApproachNode(n *network.Network, out Endpoint) (grid.Pos, bool) {
	for _, nb := range out.Node.Neighbors() {
		if nb != out.Container && n.Has(nb) {
			return nb, true
		}
	}
	return grid.Pos{}, false
}

// Leftness is the y component of (out - approach) x (cand - out) in the
// horizontal plane. Higher values turn further left of the incoming flow.
func Leftness(approach, out, cand grid.Pos) int {
	dx1, dz1 := out.X-approach.X, out.Z-approach.Z
	dx2, dz2 := cand.X-out.X, cand.Z-out.Z
	return dx1*dz2 - dz1*dx2
}

// Match picks the input out should feed this tick: highest signal, then
// shortest Manhattan distance, then highest leftness. inputs must already be
// sorted with SortInputs; on a full tie the earlier input wins.
func Match(n *network.Network, out Endpoint, inputs []Endpoint) (Endpoint, bool) {
	approach, hasApproach := ApproachNode(n, out)
	var (
		best             Endpoint
		found            bool
		bestDist, bestLf int
	)
	for _, in := range inputs {
		if in.Node == out.Node || in.Container == out.Container {
			continue
		}
		dist := grid.Manhattan(out.Node, in.Node)
		lf := 0
		if hasApproach {
			lf = Leftness(approach, out.Node, in.Node)
		}
		better := !found ||
			in.Signal > best.Signal ||
			(in.Signal == best.Signal && dist < bestDist) ||
			(in.Signal == best.Signal && dist == bestDist && lf > bestLf)
		if better {
			best, bestDist, bestLf, found = in, dist, lf, true
		}
	}
	return best, found
}
