// Package memgrid is an in-memory voxel world that implements grid.Grid.
//
// Blocks live in 16x16 column chunks keyed by (cx, cz) with lazily allocated
// y layers. Containers and activation signals are stored beside the chunks.
// A Grid is not safe for concurrent use; callers keep it on the main path.
package memgrid

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"

	"voxelpipes.ai/internal/sim/grid"
)

const DefaultMaxStack = 64

type vec struct{ X, Y, Z int }

func key(p grid.Pos) vec { return vec{X: p.X, Y: p.Y, Z: p.Z} }

// Container is the slot inventory of a container block.
type Container struct {
	Block string
	Slots []grid.ItemStack
}

type Grid struct {
	id         string
	palette    *Palette
	stackSizes map[string]int

	chunks     map[ChunkKey]*Chunk
	signals    map[vec]int
	containers map[vec]*Container
	changed    map[vec]int
}

var _ grid.Grid = (*Grid)(nil)

func New(id string, palette *Palette) *Grid {
	if palette == nil {
		palette = DefaultPalette()
	}
	return &Grid{
		id:         id,
		palette:    palette,
		stackSizes: DefaultStackSizes(),
		chunks:     map[ChunkKey]*Chunk{},
		signals:    map[vec]int{},
		containers: map[vec]*Container{},
		changed:    map[vec]int{},
	}
}

func (g *Grid) ID() string { return g.id }

func (g *Grid) Palette() *Palette { return g.palette }

func (g *Grid) Pos(x, y, z int) grid.Pos { return grid.At(g.id, x, y, z) }

func (g *Grid) SetStackSize(item string, n int) {
	if n <= 0 {
		delete(g.stackSizes, item)
		return
	}
	g.stackSizes[item] = n
}

func (g *Grid) blockID(p grid.Pos) uint16 {
	ch := g.chunks[ChunkOf(p.X, p.Z)]
	if ch == nil {
		return AirID
	}
	return ch.Get(mod(p.X, ChunkSize), p.Y, mod(p.Z, ChunkSize))
}

func (g *Grid) foreign(p grid.Pos) bool {
	return p.World != "" && p.World != g.id
}

// BlockAt returns the palette name at p ("AIR" when empty).
func (g *Grid) BlockAt(p grid.Pos) string {
	if g.foreign(p) {
		return "AIR"
	}
	return g.palette.Def(g.blockID(p)).Name
}

// SetBlock places a named block. Placing a container allocates its slots;
// replacing a container discards its contents.
func (g *Grid) SetBlock(p grid.Pos, name string) error {
	if g.foreign(p) {
		return fmt.Errorf("position %s is not in world %s", p, g.id)
	}
	id, ok := g.palette.ID(name)
	if !ok {
		return fmt.Errorf("unknown block %q", name)
	}
	k := ChunkOf(p.X, p.Z)
	ch := g.chunks[k]
	if ch == nil {
		ch = newChunk(k.CX, k.CZ)
		g.chunks[k] = ch
	}
	ch.Set(mod(p.X, ChunkSize), p.Y, mod(p.Z, ChunkSize), id)

	kp := key(p)
	def := g.palette.Def(id)
	if def.Kind == grid.KindContainer {
		if c := g.containers[kp]; c == nil || c.Block != def.Name {
			g.containers[kp] = &Container{Block: def.Name, Slots: make([]grid.ItemStack, def.Slots)}
		}
	} else {
		delete(g.containers, kp)
	}
	return nil
}

// Fill sets every block in the axis-aligned box spanned by a and b.
func (g *Grid) Fill(a, b grid.Pos, name string) error {
	lo := grid.At(g.id, min(a.X, b.X), min(a.Y, b.Y), min(a.Z, b.Z))
	hi := grid.At(g.id, max(a.X, b.X), max(a.Y, b.Y), max(a.Z, b.Z))
	for x := lo.X; x <= hi.X; x++ {
		for y := lo.Y; y <= hi.Y; y++ {
			for z := lo.Z; z <= hi.Z; z++ {
				if err := g.SetBlock(grid.At(g.id, x, y, z), name); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (g *Grid) SetSignal(p grid.Pos, level int) {
	if level <= 0 {
		delete(g.signals, key(p))
		return
	}
	if level > 15 {
		level = 15
	}
	g.signals[key(p)] = level
}

func (g *Grid) BlockKindAt(p grid.Pos) grid.Kind {
	if g.foreign(p) {
		return grid.KindNone
	}
	return g.palette.Def(g.blockID(p)).Kind
}

func (g *Grid) ActivationSignalAt(p grid.Pos) int {
	if g.foreign(p) {
		return 0
	}
	return g.signals[key(p)]
}

func (g *Grid) AdjacentContainerOf(p grid.Pos) (grid.Pos, bool) {
	for _, n := range p.Neighbors() {
		if g.BlockKindAt(n) == grid.KindContainer {
			return n, true
		}
	}
	return grid.Pos{}, false
}

func (g *Grid) container(c grid.Pos) *Container {
	if g.foreign(c) {
		return nil
	}
	return g.containers[key(c)]
}

func (g *Grid) ContainerSlotCount(c grid.Pos) int {
	ct := g.container(c)
	if ct == nil {
		return 0
	}
	return len(ct.Slots)
}

func (g *Grid) GetSlotItem(c grid.Pos, slot int) (grid.ItemStack, bool) {
	ct := g.container(c)
	if ct == nil || slot < 0 || slot >= len(ct.Slots) {
		return grid.ItemStack{}, false
	}
	st := ct.Slots[slot]
	if st.Empty() {
		return grid.ItemStack{}, false
	}
	return st, true
}

func (g *Grid) SetSlotItem(c grid.Pos, slot int, st grid.ItemStack) {
	ct := g.container(c)
	if ct == nil || slot < 0 || slot >= len(ct.Slots) {
		return
	}
	if st.Empty() {
		st = grid.ItemStack{}
	}
	ct.Slots[slot] = st
}

func (g *Grid) MarkContainerChanged(c grid.Pos) {
	if g.container(c) == nil {
		return
	}
	g.changed[key(c)]++
}

func (g *Grid) MaxStackSize(item string) int {
	if n, ok := g.stackSizes[item]; ok {
		return n
	}
	return DefaultMaxStack
}

// PutItem writes a stack into a specific container slot.
func (g *Grid) PutItem(c grid.Pos, slot int, st grid.ItemStack) error {
	ct := g.container(c)
	if ct == nil {
		return fmt.Errorf("no container at %s", c)
	}
	if slot < 0 || slot >= len(ct.Slots) {
		return fmt.Errorf("slot %d out of range for %s (%d slots)", slot, ct.Block, len(ct.Slots))
	}
	if limit := g.MaxStackSize(st.Item); st.Count > limit {
		return fmt.Errorf("stack of %d %s exceeds cap %d", st.Count, st.Item, limit)
	}
	ct.Slots[slot] = st
	return nil
}

// Inventory returns a copy of the container's slots.
func (g *Grid) Inventory(c grid.Pos) []grid.ItemStack {
	ct := g.container(c)
	if ct == nil {
		return nil
	}
	out := make([]grid.ItemStack, len(ct.Slots))
	copy(out, ct.Slots)
	return out
}

// Count sums every stack of item in the container; item "" counts everything.
func (g *Grid) Count(c grid.Pos, item string) int {
	n := 0
	for _, st := range g.Inventory(c) {
		if st.Empty() {
			continue
		}
		if item == "" || st.Item == item {
			n += st.Count
		}
	}
	return n
}

// ChangedCount reports how many times MarkContainerChanged hit c.
func (g *Grid) ChangedCount(c grid.Pos) int { return g.changed[key(c)] }

func (g *Grid) LoadedChunkKeys() []ChunkKey {
	keys := make([]ChunkKey, 0, len(g.chunks))
	for k := range g.chunks {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CX != keys[j].CX {
			return keys[i].CX < keys[j].CX
		}
		return keys[i].CZ < keys[j].CZ
	})
	return keys
}

func sortedVecs[T any](m map[vec]T) []vec {
	out := make([]vec, 0, len(m))
	for p := range m {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].X != out[j].X {
			return out[i].X < out[j].X
		}
		if out[i].Y != out[j].Y {
			return out[i].Y < out[j].Y
		}
		return out[i].Z < out[j].Z
	})
	return out
}

// Digest hashes blocks, signals and container contents. Change counters are excluded.
func (g *Grid) Digest() string {
	h := sha256.New()
	var tmp [8]byte
	writeInt := func(v int) {
		binary.LittleEndian.PutUint64(tmp[:], uint64(int64(v)))
		h.Write(tmp[:])
	}
	for _, k := range g.LoadedChunkKeys() {
		writeInt(k.CX)
		writeInt(k.CZ)
		d := g.chunks[k].Digest()
		h.Write(d[:])
	}
	for _, p := range sortedVecs(g.signals) {
		writeInt(p.X)
		writeInt(p.Y)
		writeInt(p.Z)
		writeInt(g.signals[p])
	}
	for _, p := range sortedVecs(g.containers) {
		writeInt(p.X)
		writeInt(p.Y)
		writeInt(p.Z)
		for _, st := range g.containers[p].Slots {
			h.Write([]byte(st.Item))
			writeInt(st.Count)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
