package memgrid

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"voxelpipes.ai/internal/sim/grid"
)

// Scene is a yaml description of a hand-built world, used by the demo server
// and by tests that want a readable layout.
type Scene struct {
	World      string          `yaml:"world"`
	Blocks     []BlockSpec     `yaml:"blocks,omitempty"`
	Runs       []RunSpec       `yaml:"runs,omitempty"`
	Containers []ContainerSpec `yaml:"containers,omitempty"`
	Signals    []SignalSpec    `yaml:"signals,omitempty"`
	StackSizes map[string]int  `yaml:"stack_sizes,omitempty"`
}

type BlockSpec struct {
	At    [3]int `yaml:"at"`
	Block string `yaml:"block"`
}

// RunSpec fills an axis-aligned line or box.
type RunSpec struct {
	From  [3]int `yaml:"from"`
	To    [3]int `yaml:"to"`
	Block string `yaml:"block"`
}

type ContainerSpec struct {
	At    [3]int     `yaml:"at"`
	Block string     `yaml:"block"`
	Items []SlotSpec `yaml:"items,omitempty"`
}

type SlotSpec struct {
	Slot  int    `yaml:"slot"`
	Item  string `yaml:"item"`
	Count int    `yaml:"count"`
}

type SignalSpec struct {
	At    [3]int `yaml:"at"`
	Level int    `yaml:"level"`
}

func LoadScene(path string) (Scene, error) {
	var s Scene
	raw, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	s, err = ParseScene(raw)
	if err != nil {
		return s, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

func ParseScene(raw []byte) (Scene, error) {
	var s Scene
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return s, err
	}
	s.World = strings.TrimSpace(s.World)
	if s.World == "" {
		return s, fmt.Errorf("scene: missing world")
	}
	return s, nil
}

// Build materializes the scene into a fresh grid.
func (s Scene) Build(palette *Palette) (*Grid, error) {
	g := New(s.World, palette)
	for item, n := range s.StackSizes {
		g.SetStackSize(item, n)
	}
	at := func(v [3]int) grid.Pos { return grid.At(s.World, v[0], v[1], v[2]) }

	for _, r := range s.Runs {
		if err := g.Fill(at(r.From), at(r.To), r.Block); err != nil {
			return nil, fmt.Errorf("scene run %v..%v: %w", r.From, r.To, err)
		}
	}
	for _, b := range s.Blocks {
		if err := g.SetBlock(at(b.At), b.Block); err != nil {
			return nil, fmt.Errorf("scene block %v: %w", b.At, err)
		}
	}
	for _, c := range s.Containers {
		p := at(c.At)
		if err := g.SetBlock(p, c.Block); err != nil {
			return nil, fmt.Errorf("scene container %v: %w", c.At, err)
		}
		if g.BlockKindAt(p) != grid.KindContainer {
			return nil, fmt.Errorf("scene container %v: %s is not a container", c.At, c.Block)
		}
		for _, it := range c.Items {
			if err := g.PutItem(p, it.Slot, grid.ItemStack{Item: it.Item, Count: it.Count}); err != nil {
				return nil, fmt.Errorf("scene container %v: %w", c.At, err)
			}
		}
	}
	for _, sig := range s.Signals {
		g.SetSignal(at(sig.At), sig.Level)
	}
	return g, nil
}
