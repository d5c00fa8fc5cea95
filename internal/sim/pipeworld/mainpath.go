package pipeworld

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"voxelpipes.ai/internal/protocol"
	"voxelpipes.ai/internal/sim/grid"
	"voxelpipes.ai/internal/sim/pipes/discovery"
	"voxelpipes.ai/internal/sim/pipes/pathfind"
	"voxelpipes.ai/internal/sim/pipes/routing"
	"voxelpipes.ai/internal/sim/pipes/workpool"
)

const chunkSize = 16

func (rt *Runtime) handleLocked(ev Event) int {
	g, ok := rt.host.World(ev.World)
	if !ok {
		rt.log.WithFields(logrus.Fields{"event": ev.Kind.String(), "world": ev.World}).Debug("world not loaded, event ignored")
		return 0
	}
	trigger := ev.Kind.String()

	if ev.Kind == EventChunkLoaded {
		p, found := discovery.FirstConduitInColumn(g, ev.ChunkX, ev.ChunkZ, chunkSize, rt.cfg.ChunkMinY, rt.cfg.ChunkMaxY)
		if !found {
			return 0
		}
		rt.rescanLocked(g, p, trigger)
		return 1
	}

	n := 0
	for _, b := range ev.Blocks {
		if !ev.Kind.triggers(b.Kind) {
			continue
		}
		p := b.Pos
		p.World = g.ID()
		rt.rescanLocked(g, p, trigger)
		n++
	}
	return n
}

// RescanAt schedules a rescan around p regardless of what block is there.
func (rt *Runtime) RescanAt(p grid.Pos) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	g, ok := rt.host.World(p.World)
	if !ok {
		return false
	}
	rt.rescanLocked(g, p, "ADMIN")
	return true
}

func (rt *Runtime) rescanLocked(g grid.Grid, p grid.Pos, trigger string) {
	rt.rescans = append(rt.rescans, pendingRescan{
		world:   g.ID(),
		trigger: trigger,
		fut:     rt.disc.Rescan(g, p),
	})
	rt.updatePendingLocked()
}

func (rt *Runtime) tickLocked() []routing.Move {
	start := time.Now()
	moves := rt.router.Tick(rt.host, rt.reg)
	tick := rt.tick.Add(1)

	for _, mv := range moves {
		fut := workpool.Submit(rt.pool, func(context.Context) ([]grid.Pos, error) {
			return pathfind.ShortestPath(mv.Network, mv.Output.Node, mv.Input.Node), nil
		})
		rt.paths = append(rt.paths, pendingPath{tick: tick, move: mv, fut: fut})
		rt.metrics.ItemsMoved.WithLabelValues(mv.World).Add(float64(mv.Total))
	}
	rt.updatePendingLocked()

	took := time.Since(start)
	rt.metrics.Ticks.Inc()
	rt.metrics.TickDuration.Observe(took.Seconds())
	st := rt.router.LastStats()
	if len(moves) > 0 || st.SkippedWorlds > 0 {
		rt.log.WithFields(logrus.Fields{
			"tick":     tick,
			"networks": st.Networks,
			"moves":    len(moves),
			"items":    st.ItemsMoved,
			"skipped":  st.SkippedWorlds,
			"took":     took,
		}).Debug("tick")
	}
	return moves
}

func (rt *Runtime) pollLocked() {
	i := 0
	for ; i < len(rt.rescans); i++ {
		p := rt.rescans[i]
		if !p.fut.Ready() {
			break
		}
		res, err := p.fut.Result()
		if err != nil {
			rt.log.WithError(err).WithField("world", p.world).Warn("rescan failed")
			continue
		}
		rt.applyLocked(p.trigger, res)
	}
	rt.rescans = append(rt.rescans[:0], rt.rescans[i:]...)

	j := 0
	for ; j < len(rt.paths); j++ {
		p := rt.paths[j]
		if !p.fut.Ready() {
			break
		}
		path, err := p.fut.Result()
		if err != nil {
			rt.metrics.PathJobs.WithLabelValues("error").Inc()
			rt.log.WithError(err).Warn("path job failed")
			path = nil
		}
		rt.deliverLocked(p, path)
	}
	rt.paths = append(rt.paths[:0], rt.paths[j:]...)
	rt.updatePendingLocked()
}

func (rt *Runtime) applyLocked(trigger string, res discovery.Result) {
	st := rt.disc.Apply(res)
	rt.metrics.Rescans.WithLabelValues(trigger).Inc()
	rt.metrics.ScanDuration.Observe(res.Duration.Seconds())
	rt.metrics.Networks.WithLabelValues(res.World).Set(float64(len(rt.reg.NetworksFor(res.World))))

	if len(rt.auditors) == 0 {
		return
	}
	msg := protocol.RescanMsg{
		Type:            protocol.TypeRescan,
		ProtocolVersion: protocol.Version,
		Tick:            rt.tick.Load(),
		WorldID:         res.World,
		ScanID:          res.ID,
		Trigger:         trigger,
		Changed:         res.Changed.ToArray(),
		Lo:              res.Lo.ToArray(),
		Hi:              res.Hi.ToArray(),
		Networks:        st.Installed,
		Nodes:           st.Nodes,
		Removed:         st.Removed,
		DurationMS:      float64(res.Duration.Microseconds()) / 1000,
	}
	for _, a := range rt.auditors {
		if err := a.WriteRescan(msg); err != nil {
			rt.log.WithError(err).Warn("audit rescan write failed")
		}
	}
}

func (rt *Runtime) deliverLocked(p pendingPath, path []grid.Pos) {
	mv := p.move
	if len(path) == 0 {
		rt.metrics.PathJobs.WithLabelValues("no_path").Inc()
	} else {
		rt.metrics.PathJobs.WithLabelValues("ok").Inc()
	}

	var wire [][3]int
	for _, q := range path {
		wire = append(wire, q.ToArray())
	}
	for _, item := range mv.Items {
		if len(path) > 0 {
			for _, s := range rt.sinks {
				s.OnItemMoved(mv.World, path, item)
			}
		}
		msg := protocol.ItemMovedMsg{
			Type:            protocol.TypeItemMoved,
			ProtocolVersion: protocol.Version,
			Tick:            p.tick,
			WorldID:         mv.World,
			From:            mv.Output.Container.ToArray(),
			To:              mv.Input.Container.ToArray(),
			Output:          mv.Output.Node.ToArray(),
			Input:           mv.Input.Node.ToArray(),
			Item:            protocol.ItemStack{Item: item.Item, Count: item.Count},
			Path:            wire,
		}
		for _, a := range rt.auditors {
			if err := a.WriteItemMoved(msg); err != nil {
				rt.log.WithError(err).Warn("audit transfer write failed")
			}
		}
	}
}

func (rt *Runtime) updatePendingLocked() {
	rt.metrics.PendingFutures.Set(float64(len(rt.rescans) + len(rt.paths)))
}
