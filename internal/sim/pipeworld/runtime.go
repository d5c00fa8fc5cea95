// Package pipeworld hosts the pipe simulation inside a running world.
//
// A Runtime owns the network registry, the discovery and routing engines and
// a worker pool. All registry mutation and all world reads/writes happen on
// the main path: either the Run loop or a caller holding no other runtime
// call. Scans and path searches run on the pool and are joined back on the
// main path.
package pipeworld

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"voxelpipes.ai/internal/protocol"
	"voxelpipes.ai/internal/sim/grid"
	"voxelpipes.ai/internal/sim/pipes/discovery"
	"voxelpipes.ai/internal/sim/pipes/registry"
	"voxelpipes.ai/internal/sim/pipes/routing"
	"voxelpipes.ai/internal/sim/pipes/workpool"
	"voxelpipes.ai/internal/sim/tuning"
)

var (
	ErrNoHost = errors.New("pipeworld: no grid host")
	ErrClosed = errors.New("pipeworld: runtime closed")
)

// ItemMovedSink receives the route of every item kind moved by a tick.
type ItemMovedSink interface {
	OnItemMoved(world string, path []grid.Pos, item grid.ItemStack)
}

// AuditLogger records transfers and applied rescans. Implemented in
// internal/persistence/* and internal/transport/observer.
type AuditLogger interface {
	WriteItemMoved(protocol.ItemMovedMsg) error
	WriteRescan(protocol.RescanMsg) error
}

type pendingRescan struct {
	world   string
	trigger string
	fut     *workpool.Future[discovery.Result]
}

type pendingPath struct {
	tick uint64
	move routing.Move
	fut  *workpool.Future[[]grid.Pos]
}

type Runtime struct {
	host    grid.Host
	reg     *registry.Registry
	pool    *workpool.Pool
	disc    *discovery.Engine
	router  *routing.Router
	log     logrus.FieldLogger
	metrics *Metrics

	// mu serialises main-path work.
	mu       sync.Mutex
	cfg      tuning.Tuning
	rescans  []pendingRescan
	paths    []pendingPath
	sinks    []ItemMovedSink
	auditors []AuditLogger

	tick atomic.Uint64

	inbox    chan Event
	// retick asks Run to pick up a changed tick interval.
	retick   chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	running  atomic.Bool
	closed   atomic.Bool
}

type Option func(*options)

type options struct {
	log      logrus.FieldLogger
	reg      *registry.Registry
	promReg  prometheus.Registerer
	sinks    []ItemMovedSink
	auditors []AuditLogger
}

func WithLogger(l logrus.FieldLogger) Option { return func(o *options) { o.log = l } }

// WithRegistry shares an existing network registry.
func WithRegistry(r *registry.Registry) Option { return func(o *options) { o.reg = r } }

// WithMetrics registers the runtime's collectors on r.
func WithMetrics(r prometheus.Registerer) Option { return func(o *options) { o.promReg = r } }

func WithSink(s ItemMovedSink) Option { return func(o *options) { o.sinks = append(o.sinks, s) } }

func WithAuditLogger(a AuditLogger) Option {
	return func(o *options) { o.auditors = append(o.auditors, a) }
}

// New wires a runtime. It refuses to build one with missing collaborators
// or invalid tuning.
func New(cfg tuning.Tuning, host grid.Host, opts ...Option) (*Runtime, error) {
	if host == nil {
		return nil, ErrNoHost
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("pipeworld: %w", err)
	}
	policy, err := discovery.ParsePolicy(cfg.ReplacePolicy)
	if err != nil {
		return nil, fmt.Errorf("pipeworld: %w", err)
	}

	o := options{}
	for _, fn := range opts {
		fn(&o)
	}
	if o.log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		o.log = l
	}
	if o.reg == nil {
		o.reg = registry.New()
	}

	pool := workpool.New(cfg.ScanWorkers)
	rt := &Runtime{
		host:     host,
		reg:      o.reg,
		pool:     pool,
		log:      o.log,
		metrics:  NewMetrics(o.promReg, pool),
		cfg:      cfg,
		sinks:    o.sinks,
		auditors: o.auditors,
		inbox:    make(chan Event, cfg.InboxSize),
		retick:   make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
	rt.disc = discovery.NewEngine(o.reg, pool,
		discovery.WithLogger(o.log.WithField("component", "discovery")),
		discovery.WithRadius(cfg.ScanRadius),
		discovery.WithPolicy(policy),
	)
	rt.router = routing.NewRouter(o.log.WithField("component", "routing"))
	rt.router.SetBatchLimit(cfg.BatchLimit)
	return rt, nil
}

func (rt *Runtime) Registry() *registry.Registry { return rt.reg }

func (rt *Runtime) Metrics() *Metrics { return rt.metrics }

func (rt *Runtime) CurrentTick() uint64 { return rt.tick.Load() }

func (rt *Runtime) Tuning() tuning.Tuning {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.cfg
}

// AddSink registers a visualisation sink. Main path only.
func (rt *Runtime) AddSink(s ItemMovedSink) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.sinks = append(rt.sinks, s)
}

func (rt *Runtime) AddAuditLogger(a AuditLogger) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.auditors = append(rt.auditors, a)
}

// Notify queues a host notification for the main path. It never blocks and
// reports false when the inbox is full or the runtime is closed.
func (rt *Runtime) Notify(ev Event) bool {
	if rt.closed.Load() {
		return false
	}
	select {
	case rt.inbox <- ev:
		return true
	default:
		rt.metrics.DroppedEvents.Inc()
		rt.log.WithFields(logrus.Fields{"event": ev.Kind.String(), "world": ev.World}).Warn("inbox full, notification dropped")
		return false
	}
}

// Exec runs fn on the main path, e.g. an admin edit of the world.
func (rt *Runtime) Exec(ctx context.Context, fn func(host grid.Host)) error {
	if rt.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	fn(rt.host)
	return nil
}

// UpdateTuning swaps in new tuning. Radius, batch limit, replace policy and
// tick interval take effect immediately; worker and inbox sizes are fixed at
// construction.
func (rt *Runtime) UpdateTuning(t tuning.Tuning) error {
	t.Normalize()
	if err := t.Validate(); err != nil {
		return err
	}
	rt.mu.Lock()
	rt.applyTuningLocked(t)
	rt.mu.Unlock()
	// Coalesced and never blocking, whether or not Run is still looping.
	select {
	case rt.retick <- struct{}{}:
	default:
	}
	return nil
}

func (rt *Runtime) applyTuningLocked(t tuning.Tuning) {
	policy, _ := discovery.ParsePolicy(t.ReplacePolicy)
	rt.disc.SetRadius(t.ScanRadius)
	rt.disc.SetPolicy(policy)
	rt.router.SetBatchLimit(t.BatchLimit)
	if t.ScanWorkers != rt.cfg.ScanWorkers || t.InboxSize != rt.cfg.InboxSize {
		rt.log.Info("scan_workers and inbox_size changes need a restart")
		t.ScanWorkers, t.InboxSize = rt.cfg.ScanWorkers, rt.cfg.InboxSize
	}
	rt.cfg = t
	rt.log.WithFields(logrus.Fields{
		"scan_radius":    t.ScanRadius,
		"batch_limit":    t.BatchLimit,
		"replace_policy": t.ReplacePolicy,
		"tick_interval":  t.TickInterval().String(),
	}).Info("tuning applied")
}

// Run drives the main path until ctx is done or Close is called.
func (rt *Runtime) Run(ctx context.Context) error {
	if rt.closed.Load() {
		return ErrClosed
	}
	if !rt.running.CompareAndSwap(false, true) {
		return errors.New("pipeworld: already running")
	}
	defer rt.running.Store(false)

	ticker := time.NewTicker(rt.Tuning().TickInterval())
	defer ticker.Stop()
	rt.log.WithField("interval", rt.Tuning().TickInterval().String()).Info("pipe runtime started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-rt.stop:
			return nil
		case ev := <-rt.inbox:
			rt.mu.Lock()
			rt.handleLocked(ev)
			rt.mu.Unlock()
		case <-rt.pool.Wake():
			rt.mu.Lock()
			rt.pollLocked()
			rt.mu.Unlock()
		case <-rt.retick:
			ticker.Reset(rt.Tuning().TickInterval())
		case <-ticker.C:
			rt.mu.Lock()
			rt.pollLocked()
			rt.tickLocked()
			rt.mu.Unlock()
		}
	}
}

// HandleEvent processes a notification synchronously and returns how many
// rescans it scheduled. Use Notify from other goroutines.
func (rt *Runtime) HandleEvent(ev Event) int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.handleLocked(ev)
}

// Tick routes every network once and schedules path jobs for the moves.
func (rt *Runtime) Tick() []routing.Move {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.tickLocked()
}

// Poll applies every finished rescan and delivers every finished path, in
// submission order.
func (rt *Runtime) Poll() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.pollLocked()
}

// Flush waits for all in-flight rescans and path jobs and applies them.
func (rt *Runtime) Flush(ctx context.Context) error {
	for {
		rt.mu.Lock()
		rt.pollLocked()
		var wait <-chan struct{}
		switch {
		case len(rt.rescans) > 0:
			wait = rt.rescans[0].fut.Done()
		case len(rt.paths) > 0:
			wait = rt.paths[0].fut.Done()
		}
		rt.mu.Unlock()
		if wait == nil {
			return nil
		}
		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Shutdown forgets every network of world, including rescans still in
// flight for it.
func (rt *Runtime) Shutdown(world string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	kept := rt.rescans[:0]
	for _, p := range rt.rescans {
		if p.world != world {
			kept = append(kept, p)
		}
	}
	rt.rescans = kept
	rt.reg.Clear(world)
	rt.metrics.Networks.DeleteLabelValues(world)
	rt.updatePendingLocked()
	rt.log.WithField("world", world).Info("world networks cleared")
}

// Close stops Run, refuses new work and waits for running jobs.
func (rt *Runtime) Close() error {
	rt.closed.Store(true)
	rt.stopOnce.Do(func() { close(rt.stop) })
	return rt.pool.Close()
}
