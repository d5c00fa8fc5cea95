package pipeworld

import "voxelpipes.ai/internal/sim/grid"

type EventKind uint8

const (
	EventBlockPlaced EventKind = iota + 1
	EventBlockBroken
	EventAreaDestroyed
	EventChunkLoaded
	EventSignalChanged
)

func (k EventKind) String() string {
	switch k {
	case EventBlockPlaced:
		return "BLOCK_PLACED"
	case EventBlockBroken:
		return "BLOCK_BROKEN"
	case EventAreaDestroyed:
		return "AREA_DESTROYED"
	case EventChunkLoaded:
		return "CHUNK_LOADED"
	case EventSignalChanged:
		return "SIGNAL_CHANGED"
	default:
		return "UNKNOWN"
	}
}

// BlockRef names a block the host reported on. For breaks and area damage,
// Kind is the kind the block had before it was removed.
type BlockRef struct {
	Pos  grid.Pos
	Kind grid.Kind
}

// Event is a world mutation notification from the host.
type Event struct {
	Kind   EventKind
	World  string
	Blocks []BlockRef

	// ChunkLoaded only.
	ChunkX, ChunkZ int
}

func BlockPlaced(p grid.Pos, kind grid.Kind) Event {
	return Event{Kind: EventBlockPlaced, World: p.World, Blocks: []BlockRef{{Pos: p, Kind: kind}}}
}

func BlockBroken(p grid.Pos, kind grid.Kind) Event {
	return Event{Kind: EventBlockBroken, World: p.World, Blocks: []BlockRef{{Pos: p, Kind: kind}}}
}

// AreaDestroyed reports a batch of blocks removed at once (explosions).
func AreaDestroyed(world string, blocks []BlockRef) Event {
	return Event{Kind: EventAreaDestroyed, World: world, Blocks: blocks}
}

func ChunkLoaded(world string, cx, cz int) Event {
	return Event{Kind: EventChunkLoaded, World: world, ChunkX: cx, ChunkZ: cz}
}

func SignalChanged(p grid.Pos, kind grid.Kind) Event {
	return Event{Kind: EventSignalChanged, World: p.World, Blocks: []BlockRef{{Pos: p, Kind: kind}}}
}

// triggers reports whether a block of kind k should cause a rescan for this
// event kind.
func (k EventKind) triggers(b grid.Kind) bool {
	switch k {
	case EventBlockPlaced, EventBlockBroken, EventAreaDestroyed:
		return b.IsConduit() || b == grid.KindContainer
	case EventSignalChanged:
		return b.IsEndpoint()
	default:
		return false
	}
}
