package memgrid

import (
	"testing"

	"voxelpipes.ai/internal/sim/grid"
)

func TestSetBlock_KindsAndNegativeCoordinates(t *testing.T) {
	g := New("w", nil)
	p := g.Pos(-17, -3, 33)
	if err := g.SetBlock(p, "WAXED_OXIDIZED_COPPER_GRATE"); err != nil {
		t.Fatalf("SetBlock: %v", err)
	}
	if got := g.BlockKindAt(p); got != grid.KindPipe {
		t.Fatalf("kind=%s, want PIPE", got)
	}
	if got := g.BlockAt(p); got != "WAXED_OXIDIZED_COPPER_GRATE" {
		t.Fatalf("BlockAt=%q", got)
	}
	if got := g.BlockKindAt(p.Add(0, 1, 0)); got != grid.KindNone {
		t.Fatalf("empty cell kind=%s", got)
	}
	if got := ChunkOf(-17, 33); got != (ChunkKey{CX: -2, CZ: 2}) {
		t.Fatalf("ChunkOf=%+v", got)
	}
	if err := g.SetBlock(p, "NOT_A_BLOCK"); err == nil {
		t.Fatalf("expected unknown block error")
	}
	if err := g.SetBlock(grid.At("other", 0, 0, 0), "STONE"); err == nil {
		t.Fatalf("expected foreign world error")
	}
}

func TestDefaultPalette_EndpointFamilies(t *testing.T) {
	pal := DefaultPalette()
	cases := map[string]grid.Kind{
		"COPPER_BLOCK":                   grid.KindEndpoint,
		"WAXED_WEATHERED_COPPER":         grid.KindEndpoint,
		"EXPOSED_CUT_COPPER":             grid.KindOutput,
		"WAXED_OXIDIZED_CHISELED_COPPER": grid.KindInput,
		"COPPER_GRATE":                   grid.KindPipe,
		"HOPPER":                         grid.KindContainer,
		"STONE":                          grid.KindNone,
	}
	for name, want := range cases {
		id, ok := pal.ID(name)
		if !ok {
			t.Fatalf("palette missing %s", name)
		}
		if got := pal.Def(id).Kind; got != want {
			t.Fatalf("%s kind=%s, want %s", name, got, want)
		}
	}
	id, _ := pal.ID("HOPPER")
	if pal.Def(id).Slots != 5 {
		t.Fatalf("hopper slots=%d", pal.Def(id).Slots)
	}
}

func TestAdjacentContainerOf_FaceOrder(t *testing.T) {
	g := New("w", nil)
	p := g.Pos(0, 0, 0)
	_ = g.SetBlock(p, "COPPER_BLOCK")
	_ = g.SetBlock(p.Add(0, -1, 0), "CHEST")
	_ = g.SetBlock(p.Add(1, 0, 0), "BARREL")

	c, ok := g.AdjacentContainerOf(p)
	if !ok || c != p.Add(1, 0, 0) {
		t.Fatalf("AdjacentContainerOf=%v,%v want east barrel", c, ok)
	}
	_ = g.SetBlock(p.Add(1, 0, 0), "STONE")
	c, ok = g.AdjacentContainerOf(p)
	if !ok || c != p.Add(0, -1, 0) {
		t.Fatalf("AdjacentContainerOf=%v,%v want chest below", c, ok)
	}
	if g.ContainerSlotCount(p.Add(1, 0, 0)) != 0 {
		t.Fatalf("replaced container should drop its slots")
	}
}

func TestSlots_RoundTripAndCaps(t *testing.T) {
	g := New("w", nil)
	c := g.Pos(2, 0, 2)
	_ = g.SetBlock(c, "DROPPER")
	if n := g.ContainerSlotCount(c); n != 9 {
		t.Fatalf("slot count=%d", n)
	}
	if err := g.PutItem(c, 0, grid.ItemStack{Item: "ENDER_PEARL", Count: 17}); err == nil {
		t.Fatalf("expected stack cap error")
	}
	if err := g.PutItem(c, 3, grid.ItemStack{Item: "COAL", Count: 5}); err != nil {
		t.Fatalf("PutItem: %v", err)
	}
	st, ok := g.GetSlotItem(c, 3)
	if !ok || st.Item != "COAL" || st.Count != 5 {
		t.Fatalf("GetSlotItem=%+v,%v", st, ok)
	}
	if _, ok := g.GetSlotItem(c, 9); ok {
		t.Fatalf("out-of-range slot should be empty")
	}
	g.SetSlotItem(c, 3, grid.ItemStack{Item: "COAL"})
	if _, ok := g.GetSlotItem(c, 3); ok {
		t.Fatalf("zero-count stack should clear the slot")
	}
	g.MarkContainerChanged(c)
	g.MarkContainerChanged(g.Pos(9, 9, 9))
	if g.ChangedCount(c) != 1 {
		t.Fatalf("ChangedCount=%d", g.ChangedCount(c))
	}
}

func TestDigest_TracksContentsNotChangeMarks(t *testing.T) {
	g := New("w", nil)
	c := g.Pos(0, 0, 0)
	_ = g.SetBlock(c, "CHEST")
	d0 := g.Digest()
	g.MarkContainerChanged(c)
	if g.Digest() != d0 {
		t.Fatalf("change marks must not affect digest")
	}
	_ = g.PutItem(c, 0, grid.ItemStack{Item: "COAL", Count: 1})
	if g.Digest() == d0 {
		t.Fatalf("digest should change with contents")
	}
}

func TestScene_Build(t *testing.T) {
	s, err := ParseScene([]byte(`
world: demo
runs:
  - {from: [0, 0, 0], to: [4, 0, 0], block: COPPER_GRATE}
blocks:
  - {at: [-1, 0, 0], block: CUT_COPPER}
  - {at: [5, 0, 0], block: CHISELED_COPPER}
containers:
  - at: [-2, 0, 0]
    block: CHEST
    items:
      - {slot: 0, item: COAL, count: 5}
  - {at: [6, 0, 0], block: BARREL}
signals:
  - {at: [5, 0, 0], level: 7}
`))
	if err != nil {
		t.Fatalf("ParseScene: %v", err)
	}
	g, err := s.Build(nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if g.BlockKindAt(g.Pos(3, 0, 0)) != grid.KindPipe {
		t.Fatalf("run not filled")
	}
	if g.Count(g.Pos(-2, 0, 0), "COAL") != 5 {
		t.Fatalf("chest contents missing")
	}
	if g.ActivationSignalAt(g.Pos(5, 0, 0)) != 7 {
		t.Fatalf("signal missing")
	}
	if _, err := ParseScene([]byte(`blocks: []`)); err == nil {
		t.Fatalf("expected missing world error")
	}
}

func TestHost_World(t *testing.T) {
	h := NewHost(New("a", nil), New("b", nil))
	if _, ok := h.World("a"); !ok {
		t.Fatalf("world a missing")
	}
	h.Unload("a")
	if _, ok := h.World("a"); ok {
		t.Fatalf("unloaded world still visible")
	}
	if ids := h.IDs(); len(ids) != 1 || ids[0] != "b" {
		t.Fatalf("IDs=%v", ids)
	}
}
