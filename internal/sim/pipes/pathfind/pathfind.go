// Package pathfind computes the route an item takes through a network. The
// result only feeds visualisation; transfers never depend on it.
package pathfind

import (
	"voxelpipes.ai/internal/sim/grid"
	"voxelpipes.ai/internal/sim/pipes/network"
)

// ShortestPath returns the node sequence from one node to another using
// 6-connected steps inside n, both ends included. It returns [from] when the
// ends coincide, and nil when either end is not a node or to is unreachable.
// Neighbours are expanded in face order, so equal-length routes resolve the
// same way every time.
func ShortestPath(n *network.Network, from, to grid.Pos) []grid.Pos {
	if n == nil || !n.Has(from) || !n.Has(to) {
		return nil
	}
	if from == to {
		return []grid.Pos{from}
	}
	prev := map[grid.Pos]grid.Pos{from: from}
	queue := []grid.Pos{from}
	for head := 0; head < len(queue); head++ {
		cur := queue[head]
		for _, nb := range cur.Neighbors() {
			if _, seen := prev[nb]; seen || !n.Has(nb) {
				continue
			}
			prev[nb] = cur
			if nb == to {
				return walk(prev, from, to)
			}
			queue = append(queue, nb)
		}
	}
	return nil
}

func walk(prev map[grid.Pos]grid.Pos, from, to grid.Pos) []grid.Pos {
	var path []grid.Pos
	for p := to; ; p = prev[p] {
		path = append(path, p)
		if p == from {
			break
		}
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}
