// Package metrics wraps a Prometheus registry with the gauges/counters
// the peer HTTP server's /metrics endpoint exposes, generalizing the
// teacher's ad hoc JSON /metrics handler into real Prometheus
// instrumentation.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry holds every gauge/counter the orchestrator updates on its
// stats rollup.
type Registry struct {
	CacheHitRate      prometheus.Gauge
	CacheEntries      prometheus.Gauge
	CacheEvictions    prometheus.Counter
	RoundsCompleted   prometheus.Counter
	ConnectedDevices  prometheus.Gauge
	ActiveWorkloads   prometheus.Gauge
}

// New constructs and registers a Registry against reg. Passing
// prometheus.DefaultRegisterer matches what promhttp.Handler() serves
// by default.
func New(reg prometheus.Registerer) *Registry {
	r := &Registry{
		CacheHitRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fognode",
			Subsystem: "cache",
			Name:      "hit_rate",
			Help:      "Fraction of cache Get calls that were hits.",
		}),
		CacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fognode",
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Current number of entries held in the model cache.",
		}),
		CacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fognode",
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Total LRU evictions performed by the model cache.",
		}),
		RoundsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fognode",
			Subsystem: "aggregator",
			Name:      "rounds_completed_total",
			Help:      "Total non-empty aggregation rounds completed.",
		}),
		ConnectedDevices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fognode",
			Subsystem: "coordinator",
			Name:      "connected_devices",
			Help:      "Current number of registered edge devices.",
		}),
		ActiveWorkloads: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fognode",
			Subsystem: "coordinator",
			Name:      "active_workloads",
			Help:      "Current number of non-terminal workload assignments.",
		}),
	}

	reg.MustRegister(
		r.CacheHitRate,
		r.CacheEntries,
		r.CacheEvictions,
		r.RoundsCompleted,
		r.ConnectedDevices,
		r.ActiveWorkloads,
	)
	return r
}

// Snapshot is the minimal set of counters the orchestrator's stats loop
// has on hand each rollup.
type Snapshot struct {
	CacheHitRate     float64
	CacheEntries     int
	CacheEvictions   int64
	RoundsCompleted  int
	ConnectedDevices int
	ActiveWorkloads  int
}

// lastRounds tracks the counter's previous value so Update can emit the
// monotonic delta a prometheus.Counter requires instead of resetting it.
type Updater struct {
	reg         *Registry
	lastRounds  int
	lastEvicted int64
}

// NewUpdater binds an Updater to reg for incremental counter updates.
func NewUpdater(reg *Registry) *Updater {
	return &Updater{reg: reg}
}

// Update pushes a stats snapshot into the registry's gauges and adds
// the delta since the last call to its counters.
func (u *Updater) Update(s Snapshot) {
	u.reg.CacheHitRate.Set(s.CacheHitRate)
	u.reg.CacheEntries.Set(float64(s.CacheEntries))
	u.reg.ConnectedDevices.Set(float64(s.ConnectedDevices))
	u.reg.ActiveWorkloads.Set(float64(s.ActiveWorkloads))

	if delta := s.CacheEvictions - u.lastEvicted; delta > 0 {
		u.reg.CacheEvictions.Add(float64(delta))
	}
	u.lastEvicted = s.CacheEvictions

	if delta := s.RoundsCompleted - u.lastRounds; delta > 0 {
		u.reg.RoundsCompleted.Add(float64(delta))
	}
	u.lastRounds = s.RoundsCompleted
}
