package memgrid

import (
	"crypto/sha256"
	"encoding/binary"
	"sort"
)

const ChunkSize = 16

type ChunkKey struct {
	CX int
	CZ int
}

// Chunk is one 16x16 column. Layers are allocated lazily per y.
type Chunk struct {
	CX, CZ int
	Layers map[int][]uint16 // y -> len 16*16

	dirty bool
	hash  [32]byte
}

func newChunk(cx, cz int) *Chunk {
	return &Chunk{CX: cx, CZ: cz, Layers: map[int][]uint16{}, dirty: true}
}

func (c *Chunk) index(x, z int) int {
	return x + z*ChunkSize
}

func (c *Chunk) Get(x, y, z int) uint16 {
	layer := c.Layers[y]
	if layer == nil {
		return AirID
	}
	return layer[c.index(x, z)]
}

func (c *Chunk) Set(x, y, z int, b uint16) {
	layer := c.Layers[y]
	if layer == nil {
		if b == AirID {
			return
		}
		layer = make([]uint16, ChunkSize*ChunkSize)
		c.Layers[y] = layer
	}
	i := c.index(x, z)
	if layer[i] == b {
		return
	}
	layer[i] = b
	c.dirty = true
}

// SortedYs returns the allocated layer heights in ascending order.
func (c *Chunk) SortedYs() []int {
	ys := make([]int, 0, len(c.Layers))
	for y := range c.Layers {
		ys = append(ys, y)
	}
	sort.Ints(ys)
	return ys
}

func (c *Chunk) Digest() [32]byte {
	if c.dirty || c.hash == ([32]byte{}) {
		h := sha256.New()
		var tmp [8]byte
		for _, y := range c.SortedYs() {
			binary.LittleEndian.PutUint64(tmp[:], uint64(int64(y)))
			h.Write(tmp[:])
			for _, v := range c.Layers[y] {
				binary.LittleEndian.PutUint16(tmp[:2], v)
				h.Write(tmp[:2])
			}
		}
		copy(c.hash[:], h.Sum(nil))
		c.dirty = false
	}
	return c.hash
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func mod(a, b int) int {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

// ChunkOf returns the chunk key holding block column (x, z).
func ChunkOf(x, z int) ChunkKey {
	return ChunkKey{CX: floorDiv(x, ChunkSize), CZ: floorDiv(z, ChunkSize)}
}
