// Package network holds the topology model: a Network is one maximal
// 6-connected set of pipe/endpoint positions in a single world, as seen by
// the scan that produced it.
package network

import (
	"sort"

	"voxelpipes.ai/internal/sim/grid"
)

// Node is a position that hosted a pipe or endpoint block at scan time.
// Block kind is deliberately not stored.
type Node = grid.Pos

// Network is immutable once built by the discovery scan.
type Network struct {
	world string
	nodes map[Node]struct{}
}

func New(world string) *Network {
	return &Network{world: world, nodes: map[Node]struct{}{}}
}

// Add inserts a node. Nodes from another world are ignored.
func (n *Network) Add(p Node) bool {
	if p.World != n.world {
		return false
	}
	n.nodes[p] = struct{}{}
	return true
}

func (n *Network) World() string { return n.world }

func (n *Network) Len() int { return len(n.nodes) }

func (n *Network) Has(p grid.Pos) bool {
	_, ok := n.nodes[p]
	return ok
}

// Nodes returns the nodes in ascending x, y, z order.
func (n *Network) Nodes() []Node {
	out := make([]Node, 0, len(n.nodes))
	for p := range n.nodes {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return grid.Less(out[i], out[j]) })
	return out
}

// Bounds returns the inclusive bounding box of the nodes.
func (n *Network) Bounds() (lo, hi grid.Pos, ok bool) {
	first := true
	for p := range n.nodes {
		if first {
			lo, hi, first = p, p, false
			continue
		}
		lo.X, lo.Y, lo.Z = min(lo.X, p.X), min(lo.Y, p.Y), min(lo.Z, p.Z)
		hi.X, hi.Y, hi.Z = max(hi.X, p.X), max(hi.Y, p.Y), max(hi.Z, p.Z)
	}
	return lo, hi, !first
}

// Intersects reports whether any node falls inside the inclusive box [lo, hi].
func (n *Network) Intersects(lo, hi grid.Pos) bool {
	for p := range n.nodes {
		if p.X >= lo.X && p.X <= hi.X && p.Y >= lo.Y && p.Y <= hi.Y && p.Z >= lo.Z && p.Z <= hi.Z {
			return true
		}
	}
	return false
}

// Connected reports whether every node is reachable from every other through
// axis-aligned steps that stay inside the network.
func (n *Network) Connected() bool {
	if len(n.nodes) <= 1 {
		return true
	}
	var start Node
	for p := range n.nodes {
		start = p
		break
	}
	seen := map[Node]bool{start: true}
	queue := []Node{start}
	for head := 0; head < len(queue); head++ {
		for _, nb := range queue[head].Neighbors() {
			if seen[nb] || !n.Has(nb) {
				continue
			}
			seen[nb] = true
			queue = append(queue, nb)
		}
	}
	return len(seen) == len(n.nodes)
}

// Equal compares world and node sets.
func (n *Network) Equal(o *Network) bool {
	if n == nil || o == nil {
		return n == o
	}
	if n.world != o.world || len(n.nodes) != len(o.nodes) {
		return false
	}
	for p := range n.nodes {
		if !o.Has(p) {
			return false
		}
	}
	return true
}
