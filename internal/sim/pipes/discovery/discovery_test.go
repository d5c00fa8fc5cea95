package discovery

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"voxelpipes.ai/internal/sim/grid"
	"voxelpipes.ai/internal/sim/grid/memgrid"
	"voxelpipes.ai/internal/sim/pipes/registry"
	"voxelpipes.ai/internal/sim/pipes/workpool"
)

func newEngine(t *testing.T, opts ...Option) (*Engine, *registry.Registry) {
	t.Helper()
	pool := workpool.New(2)
	t.Cleanup(func() { _ = pool.Close() })
	reg := registry.New()
	return NewEngine(reg, pool, opts...), reg
}

func TestScan_ConnectivityProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 25; round++ {
		g := memgrid.New("w", nil)
		const r = 4
		for x := -r; x <= r; x++ {
			for y := -r; y <= r; y++ {
				for z := -r; z <= r; z++ {
					switch v := rng.Intn(10); {
					case v < 3:
						require.NoError(t, g.SetBlock(g.Pos(x, y, z), "COPPER_GRATE"))
					case v == 3:
						require.NoError(t, g.SetBlock(g.Pos(x, y, z), "CUT_COPPER"))
					case v == 4:
						require.NoError(t, g.SetBlock(g.Pos(x, y, z), "CHEST"))
					}
				}
			}
		}
		snap := Capture(g, g.Pos(0, 0, 0), r)
		nets := Scan(snap)

		owner := map[grid.Pos]int{}
		for i, n := range nets {
			require.Positive(t, n.Len())
			require.True(t, n.Connected(), "round %d network %d is partitioned", round, i)
			for _, p := range n.Nodes() {
				require.Equal(t, "w", p.World)
				require.True(t, g.BlockKindAt(p).IsConduit())
				_, dup := owner[p]
				require.False(t, dup, "node %s in two networks", p)
				owner[p] = i
			}
		}
		// every conduit cell belongs to exactly one network and components are maximal
		lo, hi := snap.Bounds()
		for x := lo.X; x <= hi.X; x++ {
			for y := lo.Y; y <= hi.Y; y++ {
				for z := lo.Z; z <= hi.Z; z++ {
					p := g.Pos(x, y, z)
					if !g.BlockKindAt(p).IsConduit() {
						continue
					}
					i, ok := owner[p]
					require.True(t, ok, "conduit %s not assigned", p)
					for _, nb := range p.Neighbors() {
						if j, ok := owner[nb]; ok {
							require.Equal(t, i, j, "adjacent nodes %s and %s split", p, nb)
						}
					}
				}
			}
		}
	}
}

func TestRescan_IdempotentAndReadOnly(t *testing.T) {
	g := memgrid.New("w", nil)
	require.NoError(t, g.Fill(g.Pos(0, 0, 0), g.Pos(5, 0, 0), "COPPER_GRATE"))
	require.NoError(t, g.Fill(g.Pos(0, 2, 0), g.Pos(0, 2, 3), "COPPER_BLOCK"))
	require.NoError(t, g.SetBlock(g.Pos(6, 0, 0), "BARREL"))
	before := g.Digest()

	e, reg := newEngine(t, WithRadius(6))
	res1, _ := e.RescanNow(g, g.Pos(1, 0, 0))
	first := reg.NetworksFor("w")
	res2, _ := e.RescanNow(g, g.Pos(1, 0, 0))
	second := reg.NetworksFor("w")

	require.NotEqual(t, res1.ID, res2.ID)
	require.Len(t, first, 2)
	require.Len(t, second, len(first))
	for i := range first {
		require.True(t, first[i].Equal(second[i]), "network %d differs between scans", i)
	}
	require.Equal(t, before, g.Digest())
}

func TestRescan_WindowTruncationAndMerge(t *testing.T) {
	g := memgrid.New("w", nil)
	require.NoError(t, g.Fill(g.Pos(0, 0, 0), g.Pos(9, 0, 0), "COPPER_GRATE"))
	e, reg := newEngine(t, WithRadius(3), WithPolicy(PolicyWindow))

	e.RescanNow(g, g.Pos(0, 0, 0))
	e.RescanNow(g, g.Pos(9, 0, 0))
	nets := reg.NetworksFor("w")
	require.GreaterOrEqual(t, len(nets), 2, "a run longer than the window must fragment")
	for _, n := range nets {
		require.Less(t, n.Len(), 10)
	}

	e.SetRadius(5)
	e.RescanNow(g, g.Pos(4, 0, 0))
	nets = reg.NetworksFor("w")
	require.Len(t, nets, 1)
	require.Equal(t, 10, nets[0].Len())
}

func TestApply_WorldPolicyReplacesWholesale(t *testing.T) {
	g := memgrid.New("w", nil)
	require.NoError(t, g.Fill(g.Pos(0, 0, 0), g.Pos(2, 0, 0), "COPPER_GRATE"))
	require.NoError(t, g.Fill(g.Pos(100, 0, 0), g.Pos(102, 0, 0), "COPPER_GRATE"))
	e, reg := newEngine(t, WithRadius(3))

	e.RescanNow(g, g.Pos(100, 0, 0))
	require.Len(t, reg.NetworksFor("w"), 1)
	_, st := e.RescanNow(g, g.Pos(0, 0, 0))
	nets := reg.NetworksFor("w")
	require.Len(t, nets, 1)
	require.True(t, nets[0].Has(g.Pos(1, 0, 0)))
	require.Equal(t, 1, st.Removed)
	require.Equal(t, 1, st.Installed)
}

func TestApply_WindowPolicyKeepsDistantNetworks(t *testing.T) {
	g := memgrid.New("w", nil)
	require.NoError(t, g.Fill(g.Pos(0, 0, 0), g.Pos(2, 0, 0), "COPPER_GRATE"))
	require.NoError(t, g.Fill(g.Pos(100, 0, 0), g.Pos(102, 0, 0), "COPPER_GRATE"))
	e, reg := newEngine(t, WithRadius(3), WithPolicy(PolicyWindow))

	e.RescanNow(g, g.Pos(100, 0, 0))
	e.RescanNow(g, g.Pos(0, 0, 0))
	require.Len(t, reg.NetworksFor("w"), 2)
}

func TestRescan_EmptyNeighbourhoodClears(t *testing.T) {
	g := memgrid.New("w", nil)
	require.NoError(t, g.Fill(g.Pos(0, 0, 0), g.Pos(2, 0, 0), "COPPER_GRATE"))
	e, reg := newEngine(t, WithRadius(3))
	e.RescanNow(g, g.Pos(1, 0, 0))
	require.Equal(t, 1, reg.Count())

	require.NoError(t, g.Fill(g.Pos(0, 0, 0), g.Pos(2, 0, 0), "AIR"))
	res, st := e.RescanNow(g, g.Pos(1, 0, 0))
	require.Empty(t, res.Networks)
	require.Equal(t, 1, st.Removed)
	require.Equal(t, 0, reg.Count())
	require.Empty(t, reg.Worlds())
}

func TestRescan_AsyncFutureThenApply(t *testing.T) {
	g := memgrid.New("w", nil)
	require.NoError(t, g.Fill(g.Pos(0, 0, 0), g.Pos(0, 4, 0), "COPPER_GRATE"))
	e, reg := newEngine(t, WithRadius(4))

	fut := e.Rescan(g, g.Pos(0, 0, 0))
	// the world may change after capture; the scan still sees the snapshot
	require.NoError(t, g.SetBlock(g.Pos(0, 2, 0), "AIR"))
	res, err := fut.Wait(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Networks, 1)
	require.Equal(t, 5, res.Networks[0].Len())
	require.Equal(t, 9*9*9, res.Cells)
	require.Equal(t, g.Pos(-4, -4, -4), res.Lo)
	require.Equal(t, g.Pos(4, 4, 4), res.Hi)

	require.Equal(t, 0, reg.Count(), "registry must not change before Apply")
	e.Apply(res)
	require.Equal(t, 1, reg.Count())
}

func TestFirstConduitInColumn(t *testing.T) {
	g := memgrid.New("w", nil)
	_, ok := FirstConduitInColumn(g, -1, 0, memgrid.ChunkSize, -64, 320)
	require.False(t, ok)

	require.NoError(t, g.SetBlock(g.Pos(-3, 70, 5), "COPPER_GRATE"))
	require.NoError(t, g.SetBlock(g.Pos(-3, 10, 9), "CHISELED_COPPER"))
	require.NoError(t, g.SetBlock(g.Pos(-9, 200, 2), "STONE"))
	p, ok := FirstConduitInColumn(g, -1, 0, memgrid.ChunkSize, -64, 320)
	require.True(t, ok)
	require.Equal(t, g.Pos(-3, 10, 9), p)

	_, ok = FirstConduitInColumn(g, -1, 0, memgrid.ChunkSize, 0, 5)
	require.False(t, ok)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	require.Equal(t, PolicyWorld, p)
	p, err = ParsePolicy("window")
	require.NoError(t, err)
	require.Equal(t, PolicyWindow, p)
	_, err = ParsePolicy("chunk")
	require.Error(t, err)
}
