package grid

import "fmt"

// Pos is a block coordinate inside one world. It is comparable and used as a map key.
type Pos struct {
	World string
	X     int
	Y     int
	Z     int
}

func At(world string, x, y, z int) Pos { return Pos{World: world, X: x, Y: y, Z: z} }

func (p Pos) Add(dx, dy, dz int) Pos {
	return Pos{World: p.World, X: p.X + dx, Y: p.Y + dy, Z: p.Z + dz}
}

func (p Pos) Step(f Face) Pos { return p.Add(f.DX, f.DY, f.DZ) }

func (p Pos) ToArray() [3]int { return [3]int{p.X, p.Y, p.Z} }

func (p Pos) String() string { return fmt.Sprintf("%s(%d,%d,%d)", p.World, p.X, p.Y, p.Z) }

// Neighbors returns the six axis-aligned neighbours in face order.
func (p Pos) Neighbors() [6]Pos {
	var out [6]Pos
	for i, f := range Faces {
		out[i] = p.Step(f)
	}
	return out
}

// Less orders positions by x, then y, then z. World is ignored.
func Less(a, b Pos) bool {
	if a.X != b.X {
		return a.X < b.X
	}
	if a.Y != b.Y {
		return a.Y < b.Y
	}
	return a.Z < b.Z
}

func Manhattan(a, b Pos) int {
	return abs(a.X-b.X) + abs(a.Y-b.Y) + abs(a.Z-b.Z)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

type Face struct {
	Name       string
	DX, DY, DZ int
}

// Faces is the fixed lookup order for "first adjacent" decisions.
var Faces = [6]Face{
	{Name: "NORTH", DZ: -1},
	{Name: "EAST", DX: 1},
	{Name: "SOUTH", DZ: 1},
	{Name: "WEST", DX: -1},
	{Name: "UP", DY: 1},
	{Name: "DOWN", DY: -1},
}

// Kind classifies a block for the pipe engine. Kinds are re-queried from the
// grid every time they matter; nothing caches them across scans.
type Kind uint8

const (
	KindNone Kind = iota
	KindPipe
	KindEndpoint // bidirectional: input while powered, output otherwise
	KindOutput
	KindInput
	KindContainer
)

func (k Kind) String() string {
	switch k {
	case KindPipe:
		return "PIPE"
	case KindEndpoint:
		return "ENDPOINT"
	case KindOutput:
		return "OUTPUT"
	case KindInput:
		return "INPUT"
	case KindContainer:
		return "CONTAINER"
	default:
		return "NONE"
	}
}

// IsConduit reports whether blocks of this kind join a network.
func (k Kind) IsConduit() bool {
	return k == KindPipe || k.IsEndpoint()
}

func (k Kind) IsEndpoint() bool {
	return k == KindEndpoint || k == KindOutput || k == KindInput
}

type ItemStack struct {
	Item  string
	Count int
}

func (s ItemStack) Empty() bool { return s.Item == "" || s.Count <= 0 }
