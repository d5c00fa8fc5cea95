// Package discovery rebuilds pipe networks around a changed grid cell.
//
// A rescan has two halves. Rescan captures a snapshot of the window on the
// caller's goroutine (the main simulation path) and hands the BFS to the
// worker pool. The returned future resolves to a Result, which the main path
// installs into the registry with Apply.
package discovery

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"voxelpipes.ai/internal/sim/grid"
	"voxelpipes.ai/internal/sim/pipes/network"
	"voxelpipes.ai/internal/sim/pipes/registry"
	"voxelpipes.ai/internal/sim/pipes/workpool"
)

// Policy selects which stored networks a result replaces.
type Policy string

const (
	// PolicyWorld replaces the world's whole network list with the result.
	PolicyWorld Policy = "world"
	// PolicyWindow only drops networks that contain the changed cell or touch
	// the scanned window.
	PolicyWindow Policy = "window"
)

func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyWorld:
		return PolicyWorld, nil
	case PolicyWindow:
		return PolicyWindow, nil
	default:
		return "", fmt.Errorf("unknown replace policy %q", s)
	}
}

type Result struct {
	ID       string
	World    string
	Changed  grid.Pos
	Lo, Hi   grid.Pos
	Cells    int
	Networks []*network.Network
	Duration time.Duration
}

// ApplyStats reports what Apply did to the registry.
type ApplyStats struct {
	Removed   int
	Installed int
	Nodes     int
}

type Engine struct {
	reg  *registry.Registry
	pool *workpool.Pool
	log  logrus.FieldLogger

	radius atomic.Int64
	policy atomic.Value // Policy
}

type Option func(*Engine)

func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

func WithRadius(r int) Option { return func(e *Engine) { e.SetRadius(r) } }

func WithPolicy(p Policy) Option { return func(e *Engine) { e.SetPolicy(p) } }

func NewEngine(reg *registry.Registry, pool *workpool.Pool, opts ...Option) *Engine {
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	e := &Engine{reg: reg, pool: pool, log: discard}
	e.radius.Store(24)
	e.policy.Store(PolicyWorld)
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) Radius() int { return int(e.radius.Load()) }

func (e *Engine) SetRadius(r int) {
	if r < 0 {
		r = 0
	}
	e.radius.Store(int64(r))
}

func (e *Engine) Policy() Policy { return e.policy.Load().(Policy) }

func (e *Engine) SetPolicy(p Policy) {
	if p != PolicyWindow {
		p = PolicyWorld
	}
	e.policy.Store(p)
}

// Rescan snapshots the window around changed from g and schedules the scan.
// It must be called on the main path; g is not read after it returns.
func (e *Engine) Rescan(g grid.Grid, changed grid.Pos) *workpool.Future[Result] {
	snap := Capture(g, changed, e.Radius())
	id := uuid.NewString()
	return workpool.Submit(e.pool, func(context.Context) (Result, error) {
		start := time.Now()
		nets := Scan(snap)
		lo, hi := snap.Bounds()
		return Result{
			ID:       id,
			World:    snap.World,
			Changed:  snap.Center,
			Lo:       lo,
			Hi:       hi,
			Cells:    snap.Cells(),
			Networks: nets,
			Duration: time.Since(start),
		}, nil
	})
}

// RescanNow runs a rescan synchronously and applies it.
func (e *Engine) RescanNow(g grid.Grid, changed grid.Pos) (Result, ApplyStats) {
	snap := Capture(g, changed, e.Radius())
	start := time.Now()
	lo, hi := snap.Bounds()
	res := Result{
		ID:       uuid.NewString(),
		World:    snap.World,
		Changed:  snap.Center,
		Lo:       lo,
		Hi:       hi,
		Cells:    snap.Cells(),
		Networks: Scan(snap),
	}
	res.Duration = time.Since(start)
	return res, e.Apply(res)
}

// Apply installs a scan result. Main path only.
func (e *Engine) Apply(res Result) ApplyStats {
	var st ApplyStats
	policy := e.Policy()
	e.reg.Update(res.World, func(cur []*network.Network) []*network.Network {
		var keep []*network.Network
		for _, n := range cur {
			switch {
			case n.Has(res.Changed):
				st.Removed++
			case policy == PolicyWindow && !n.Intersects(res.Lo, res.Hi):
				keep = append(keep, n)
			default:
				st.Removed++
			}
		}
		for _, n := range res.Networks {
			if n.Len() == 0 {
				continue
			}
			keep = append(keep, n)
			st.Installed++
			st.Nodes += n.Len()
		}
		return keep
	})

	for i, n := range res.Networks {
		lo, hi, _ := n.Bounds()
		e.log.WithFields(logrus.Fields{
			"scan":  res.ID,
			"world": res.World,
			"index": i,
			"nodes": n.Len(),
			"lo":    lo.ToArray(),
			"hi":    hi.ToArray(),
		}).Debug("network rebuilt")
	}
	e.log.WithFields(logrus.Fields{
		"scan":      res.ID,
		"world":     res.World,
		"changed":   res.Changed.ToArray(),
		"removed":   st.Removed,
		"installed": st.Installed,
		"policy":    string(policy),
		"took":      res.Duration,
	}).Debug("rescan applied")
	return st
}

// FirstConduitInColumn returns the first conduit cell of chunk (cx, cz) in x, y, z
// order over [minY, maxY).
func FirstConduitInColumn(g grid.Grid, cx, cz, chunkSize, minY, maxY int) (grid.Pos, bool) {
	world := g.ID()
	x0, z0 := cx*chunkSize, cz*chunkSize
	for x := x0; x < x0+chunkSize; x++ {
		for y := minY; y < maxY; y++ {
			for z := z0; z < z0+chunkSize; z++ {
				p := grid.At(world, x, y, z)
				if g.BlockKindAt(p).IsConduit() {
					return p, true
				}
			}
		}
	}
	return grid.Pos{}, false
}
