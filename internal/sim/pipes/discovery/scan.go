package discovery

import "voxelpipes.ai/internal/sim/pipes/network"

// Scan splits the snapshot's conduit cells into 6-connected components.
// Seeds are taken in ascending x, y, z order, so the output order is stable
// for a given snapshot. It reads nothing but the snapshot.
func Scan(s *Snapshot) []*network.Network {
	visited := make([]bool, len(s.conduit))
	var out []*network.Network
	queue := make([]int, 0, 64)

	for seed, ok := range s.conduit {
		if !ok || visited[seed] {
			continue
		}
		nw := network.New(s.World)
		visited[seed] = true
		queue = append(queue[:0], seed)
		for head := 0; head < len(queue); head++ {
			p := s.pos(queue[head])
			nw.Add(p)
			for _, nb := range p.Neighbors() {
				j, in := s.index(nb)
				if !in || visited[j] || !s.conduit[j] {
					continue
				}
				visited[j] = true
				queue = append(queue, j)
			}
		}
		if nw.Len() > 0 {
			out = append(out, nw)
		}
	}
	return out
}
