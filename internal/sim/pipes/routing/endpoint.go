package routing

import (
	"sort"

	"voxelpipes.ai/internal/sim/grid"
	"voxelpipes.ai/internal/sim/pipes/network"
)

type Role uint8

const (
	RoleOutput Role = iota + 1
	RoleInput
)

func (r Role) String() string {
	switch r {
	case RoleOutput:
		return "OUTPUT"
	case RoleInput:
		return "INPUT"
	default:
		return "NONE"
	}
}

// Endpoint is a node acting as an input or output for one tick. It is derived
// from live world state and never kept across ticks.
type Endpoint struct {
	Node      grid.Pos
	Container grid.Pos
	Signal    int
	Kind      grid.Kind
	Role      Role
}

// Classify derives this tick's endpoints for n. Nodes without an adjacent
// container, and nodes that are plain pipes, produce nothing.
func Classify(g grid.Grid, n *network.Network) (inputs, outputs []Endpoint) {
	for _, node := range n.Nodes() {
		kind := g.BlockKindAt(node)
		if !kind.IsEndpoint() {
			continue
		}
		c, ok := g.AdjacentContainerOf(node)
		if !ok {
			continue
		}
		ep := Endpoint{Node: node, Container: c, Signal: g.ActivationSignalAt(node), Kind: kind}
		switch kind {
		case grid.KindEndpoint:
			if ep.Signal > 0 {
				ep.Role = RoleInput
			} else {
				ep.Role = RoleOutput
			}
		case grid.KindOutput:
			ep.Role = RoleOutput
		case grid.KindInput:
			ep.Role = RoleInput
		}
		if ep.Role == RoleInput {
			inputs = append(inputs, ep)
		} else {
			outputs = append(outputs, ep)
		}
	}
	return inputs, outputs
}

// SortInputs orders inputs by descending signal, then ascending position.
func SortInputs(in []Endpoint) {
	sort.SliceStable(in, func(i, j int) bool {
		if in[i].Signal != in[j].Signal {
			return in[i].Signal > in[j].Signal
		}
		return grid.Less(in[i].Node, in[j].Node)
	})
}

// SortOutputs orders outputs by ascending signal, then ascending position.
func SortOutputs(out []Endpoint) {
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Signal != out[j].Signal {
			return out[i].Signal < out[j].Signal
		}
		return grid.Less(out[i].Node, out[j].Node)
	})
}
