package discovery

import "voxelpipes.ai/internal/sim/grid"

// Snapshot is a point-in-time copy of which cells in a cubic window hold
// conduit blocks. It is captured on the main path and is safe to read from any
// goroutine afterwards.
type Snapshot struct {
	World  string
	Center grid.Pos
	Radius int

	side    int
	conduit []bool
}

// Capture reads the (2r+1)^3 window around center from g.
func Capture(g grid.Grid, center grid.Pos, radius int) *Snapshot {
	if radius < 0 {
		radius = 0
	}
	center.World = g.ID()
	side := 2*radius + 1
	s := &Snapshot{
		World:   center.World,
		Center:  center,
		Radius:  radius,
		side:    side,
		conduit: make([]bool, side*side*side),
	}
	i := 0
	for dx := -radius; dx <= radius; dx++ {
		for dy := -radius; dy <= radius; dy++ {
			for dz := -radius; dz <= radius; dz++ {
				s.conduit[i] = g.BlockKindAt(center.Add(dx, dy, dz)).IsConduit()
				i++
			}
		}
	}
	return s
}

func (s *Snapshot) index(p grid.Pos) (int, bool) {
	if p.World != s.World {
		return 0, false
	}
	dx := p.X - s.Center.X + s.Radius
	dy := p.Y - s.Center.Y + s.Radius
	dz := p.Z - s.Center.Z + s.Radius
	if dx < 0 || dy < 0 || dz < 0 || dx >= s.side || dy >= s.side || dz >= s.side {
		return 0, false
	}
	return (dx*s.side+dy)*s.side + dz, true
}

func (s *Snapshot) pos(i int) grid.Pos {
	dz := i % s.side
	dy := (i / s.side) % s.side
	dx := i / (s.side * s.side)
	return s.Center.Add(dx-s.Radius, dy-s.Radius, dz-s.Radius)
}

// Bounds returns the inclusive window corners.
func (s *Snapshot) Bounds() (lo, hi grid.Pos) {
	r := s.Radius
	return s.Center.Add(-r, -r, -r), s.Center.Add(r, r, r)
}

func (s *Snapshot) Cells() int { return len(s.conduit) }
