package routing

import "voxelpipes.ai/internal/sim/grid"

// Transferred summarises one Transfer call. Items lists per-item totals in the
// order they were first moved.
type Transferred struct {
	Items []grid.ItemStack
	Total int
}

func (t *Transferred) add(item string, n int) {
	t.Total += n
	for i := range t.Items {
		if t.Items[i].Item == item {
			t.Items[i].Count += n
			return
		}
	}
	t.Items = append(t.Items, grid.ItemStack{Item: item, Count: n})
}

// Transfer moves up to limit items from container src to container dst. Source
// slots are drained in index order; each unit first tops up matching stacks in
// dst and then goes to empty slots. Passes repeat until the limit is hit or a
// pass moves nothing. Both containers are marked changed if anything moved.
func Transfer(g grid.Grid, src, dst grid.Pos, limit int) Transferred {
	var res Transferred
	if limit <= 0 || src == dst {
		return res
	}
	srcSlots := g.ContainerSlotCount(src)
	if srcSlots == 0 || g.ContainerSlotCount(dst) == 0 {
		return res
	}
	for res.Total < limit {
		progress := false
		for s := 0; s < srcSlots && res.Total < limit; s++ {
			st, ok := g.GetSlotItem(src, s)
			if !ok || st.Empty() {
				continue
			}
			item := st.Item
			n := place(g, dst, item, min(st.Count, limit-res.Total))
			if n == 0 {
				continue
			}
			st.Count -= n
			if st.Count <= 0 {
				st = grid.ItemStack{}
			}
			g.SetSlotItem(src, s, st)
			res.add(item, n)
			progress = true
		}
		if !progress {
			break
		}
	}
	if res.Total > 0 {
		g.MarkContainerChanged(src)
		g.MarkContainerChanged(dst)
	}
	return res
}

// place puts up to want units of item into dst and returns how many fit.
func place(g grid.Grid, dst grid.Pos, item string, want int) int {
	limit := g.MaxStackSize(item)
	slots := g.ContainerSlotCount(dst)
	placed := 0
	for d := 0; d < slots && placed < want; d++ {
		cur, ok := g.GetSlotItem(dst, d)
		if !ok || cur.Empty() || cur.Item != item || cur.Count >= limit {
			continue
		}
		n := min(limit-cur.Count, want-placed)
		cur.Count += n
		g.SetSlotItem(dst, d, cur)
		placed += n
	}
	for d := 0; d < slots && placed < want; d++ {
		cur, ok := g.GetSlotItem(dst, d)
		if ok && !cur.Empty() {
			continue
		}
		n := min(limit, want-placed)
		g.SetSlotItem(dst, d, grid.ItemStack{Item: item, Count: n})
		placed += n
	}
	return placed
}
