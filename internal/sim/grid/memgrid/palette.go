package memgrid

import (
	"sort"

	"voxelpipes.ai/internal/sim/grid"
)

// BlockDef describes one palette entry. Slots is only meaningful for containers.
type BlockDef struct {
	Name  string
	Kind  grid.Kind
	Slots int
}

type Palette struct {
	defs   []BlockDef
	byName map[string]uint16
}

const AirID uint16 = 0

func NewPalette(defs []BlockDef) *Palette {
	p := &Palette{
		defs:   make([]BlockDef, 0, len(defs)+1),
		byName: map[string]uint16{},
	}
	p.defs = append(p.defs, BlockDef{Name: "AIR"})
	p.byName["AIR"] = AirID
	for _, d := range defs {
		if _, ok := p.byName[d.Name]; ok || d.Name == "" {
			continue
		}
		p.byName[d.Name] = uint16(len(p.defs))
		p.defs = append(p.defs, d)
	}
	return p
}

func (p *Palette) ID(name string) (uint16, bool) {
	id, ok := p.byName[name]
	return id, ok
}

func (p *Palette) Def(id uint16) BlockDef {
	if int(id) >= len(p.defs) {
		return p.defs[AirID]
	}
	return p.defs[id]
}

func (p *Palette) Names() []string {
	out := make([]string, 0, len(p.byName))
	for n := range p.byName {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

var oxidation = []string{"", "EXPOSED_", "WEATHERED_", "OXIDIZED_"}

// copperFamily expands a base name into every oxidation stage, waxed and unwaxed.
func copperFamily(base string, kind grid.Kind) []BlockDef {
	out := make([]BlockDef, 0, 8)
	for _, stage := range oxidation {
		name := stage + base
		out = append(out, BlockDef{Name: name, Kind: kind}, BlockDef{Name: "WAXED_" + name, Kind: kind})
	}
	return out
}

// DefaultPalette is the copper pipe block set: grates carry items, copper
// blocks are bidirectional endpoints, cut copper only outputs, chiseled copper
// only accepts.
func DefaultPalette() *Palette {
	var defs []BlockDef
	defs = append(defs, copperFamily("COPPER_GRATE", grid.KindPipe)...)
	for _, stage := range oxidation {
		name := stage + "COPPER"
		if stage == "" {
			name = "COPPER_BLOCK"
		}
		defs = append(defs, BlockDef{Name: name, Kind: grid.KindEndpoint}, BlockDef{Name: "WAXED_" + name, Kind: grid.KindEndpoint})
	}
	defs = append(defs, copperFamily("CUT_COPPER", grid.KindOutput)...)
	defs = append(defs, copperFamily("CHISELED_COPPER", grid.KindInput)...)

	defs = append(defs,
		BlockDef{Name: "CHEST", Kind: grid.KindContainer, Slots: 27},
		BlockDef{Name: "TRAPPED_CHEST", Kind: grid.KindContainer, Slots: 27},
		BlockDef{Name: "BARREL", Kind: grid.KindContainer, Slots: 27},
		BlockDef{Name: "HOPPER", Kind: grid.KindContainer, Slots: 5},
		BlockDef{Name: "DROPPER", Kind: grid.KindContainer, Slots: 9},
		BlockDef{Name: "DISPENSER", Kind: grid.KindContainer, Slots: 9},
		BlockDef{Name: "SHULKER_BOX", Kind: grid.KindContainer, Slots: 27},
	)
	for _, c := range []string{"WHITE", "ORANGE", "MAGENTA", "LIGHT_BLUE", "YELLOW", "LIME", "PINK", "GRAY",
		"LIGHT_GRAY", "CYAN", "PURPLE", "BLUE", "BROWN", "GREEN", "RED", "BLACK"} {
		defs = append(defs, BlockDef{Name: c + "_SHULKER_BOX", Kind: grid.KindContainer, Slots: 27})
	}

	defs = append(defs,
		BlockDef{Name: "STONE"},
		BlockDef{Name: "DIRT"},
		BlockDef{Name: "PLANK"},
		BlockDef{Name: "REDSTONE_BLOCK"},
	)
	return NewPalette(defs)
}

// DefaultStackSizes lists items whose stack cap differs from 64.
func DefaultStackSizes() map[string]int {
	return map[string]int{
		"ENDER_PEARL":    16,
		"SNOWBALL":       16,
		"EGG":            16,
		"SIGN":           16,
		"BUCKET":         16,
		"IRON_SWORD":     1,
		"DIAMOND_SWORD":  1,
		"IRON_PICKAXE":   1,
		"WATER_BUCKET":   1,
		"SHULKER_BOX":    1,
		"ENCHANTED_BOOK": 1,
	}
}
