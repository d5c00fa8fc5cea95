// Package grid defines the voxel world surface the pipe engine reads and writes.
//
// The engine never owns world state. Everything it learns about blocks,
// signals and containers comes through Grid, one instance per world.
package grid

// Grid is the host's view of a single world. All methods are called from the
// main simulation path only.
type Grid interface {
	ID() string

	BlockKindAt(p Pos) Kind
	// ActivationSignalAt returns the signal strength at p, conventionally 0..15.
	ActivationSignalAt(p Pos) int
	// AdjacentContainerOf returns the first container next to p in face order.
	AdjacentContainerOf(p Pos) (Pos, bool)

	ContainerSlotCount(c Pos) int
	GetSlotItem(c Pos, slot int) (ItemStack, bool)
	// SetSlotItem replaces a slot. An empty stack clears it.
	SetSlotItem(c Pos, slot int, st ItemStack)
	MarkContainerChanged(c Pos)
	MaxStackSize(item string) int
}

// Host resolves loaded worlds. A missing world is treated as unloaded.
type Host interface {
	World(id string) (Grid, bool)
}
