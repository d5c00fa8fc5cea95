package pipeworld

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"voxelpipes.ai/internal/sim/pipes/workpool"
)

// Metrics are registered per runtime so several runtimes (and tests) can
// share a process.
type Metrics struct {
	Ticks          prometheus.Counter
	TickDuration   prometheus.Histogram
	ItemsMoved     *prometheus.CounterVec
	Rescans        *prometheus.CounterVec
	ScanDuration   prometheus.Histogram
	Networks       *prometheus.GaugeVec
	PathJobs       *prometheus.CounterVec
	DroppedEvents  prometheus.Counter
	PendingFutures prometheus.Gauge
	JobsInFlight   prometheus.GaugeFunc
	JobsCompleted  prometheus.CounterFunc
}

// NewMetrics registers the runtime metrics on reg; pool backs the job gauges.
func NewMetrics(reg prometheus.Registerer, pool *workpool.Pool) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		JobsInFlight: f.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "pipes_pool_jobs_in_flight",
			Help: "Scan and path jobs running or waiting for a worker",
		}, func() float64 { return float64(pool.InFlight()) }),
		JobsCompleted: f.NewCounterFunc(prometheus.CounterOpts{
			Name: "pipes_pool_jobs_completed_total",
			Help: "Scan and path jobs finished by the worker pool",
		}, func() float64 { return float64(pool.Completed()) }),
		Ticks: f.NewCounter(prometheus.CounterOpts{
			Name: "pipes_ticks_total",
			Help: "Routing ticks executed",
		}),
		TickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "pipes_tick_duration_seconds",
			Help:    "Time spent routing all networks in one tick",
			Buckets: []float64{0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}),
		ItemsMoved: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pipes_items_moved_total",
			Help: "Items moved between containers",
		}, []string{"world"}),
		Rescans: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pipes_rescans_total",
			Help: "Rescans applied, by trigger",
		}, []string{"trigger"}),
		ScanDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "pipes_scan_duration_seconds",
			Help:    "Off-path BFS time per rescan",
			Buckets: []float64{0.00001, 0.0001, 0.001, 0.01, 0.1, 1},
		}),
		Networks: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pipes_networks",
			Help: "Networks currently registered",
		}, []string{"world"}),
		PathJobs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pipes_path_jobs_total",
			Help: "Path computations for moved items, by outcome",
		}, []string{"outcome"}),
		DroppedEvents: f.NewCounter(prometheus.CounterOpts{
			Name: "pipes_dropped_events_total",
			Help: "Notifications dropped because the inbox was full",
		}),
		PendingFutures: f.NewGauge(prometheus.GaugeOpts{
			Name: "pipes_pending_futures",
			Help: "Rescans and path jobs waiting to be applied",
		}),
	}
}
