// Package metrics exposes the operational counters a fleet operator would
// want for the group cache: pool exhaustion pressure, in-flight event
// volume, and revoke-cycle frequency. None of this is part of the core
// data-plane logic in §1-§9; it is the kind of ambient visibility surface
// the retrieval pack's own services ship for their hot paths
// (runZeroInc-sockstats/pkg/exporter/exporter.go registers a custom
// prometheus.Collector over its own per-connection state the same way
// Collector below registers over an Engine's pools and group caches).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// PoolStats is the subset of pool.Pool[T]'s bookkeeping the collector reads;
// satisfied directly by *pool.Pool[T] without metrics importing pool itself,
// so this package stays usable against any bounded-pool implementation.
type PoolStats interface {
	InUse() int
	Capacity() int
}

// GroupCacheStats is the subset of a group cache's state a revoke/fill
// gauge needs. Engine.Group(uid) returns a *groupcache.GroupCache that
// already satisfies this.
type GroupCacheStats interface {
	RevokeCycles() int
	InFlightEvents() int
}

// Collector is a prometheus.Collector over one Engine's pools. It does not
// import the root groupcache package (which would create an import cycle,
// since groupcache is the natural caller of this package); callers register
// the pools they want observed by name.
type Collector struct {
	pools       map[string]PoolStats
	groupCaches func() map[uint32]GroupCacheStats

	poolInUse    *prometheus.Desc
	poolCapacity *prometheus.Desc
	revokeCycles *prometheus.Desc
	inFlight     *prometheus.Desc
}

// NewCollector builds a Collector. groupCaches is called once per Collect
// and should return a snapshot of every group cache currently known to the
// engine, keyed by group UID; it may be nil if the caller only wants pool
// metrics.
func NewCollector(namespace string, groupCaches func() map[uint32]GroupCacheStats) *Collector {
	return &Collector{
		pools:       make(map[string]PoolStats),
		groupCaches: groupCaches,
		poolInUse: prometheus.NewDesc(
			namespace+"_pool_in_use",
			"Number of items currently acquired from a bounded object pool.",
			[]string{"pool"}, nil,
		),
		poolCapacity: prometheus.NewDesc(
			namespace+"_pool_capacity",
			"Total number of items ever allocated by a bounded object pool.",
			[]string{"pool"}, nil,
		),
		revokeCycles: prometheus.NewDesc(
			namespace+"_group_revoke_cycles_total",
			"Number of completed revoke cycles observed for a group.",
			[]string{"group_uid"}, nil,
		),
		inFlight: prometheus.NewDesc(
			namespace+"_group_events_in_flight",
			"Number of events currently in flight for a group's cache-to-host push.",
			[]string{"group_uid"}, nil,
		),
	}
}

// RegisterPool adds a named pool to be reported on every Collect.
func (c *Collector) RegisterPool(name string, p PoolStats) {
	c.pools[name] = p
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.poolInUse
	descs <- c.poolCapacity
	descs <- c.revokeCycles
	descs <- c.inFlight
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	for name, p := range c.pools {
		metrics <- prometheus.MustNewConstMetric(c.poolInUse, prometheus.GaugeValue, float64(p.InUse()), name)
		metrics <- prometheus.MustNewConstMetric(c.poolCapacity, prometheus.GaugeValue, float64(p.Capacity()), name)
	}

	if c.groupCaches == nil {
		return
	}
	for uid, gc := range c.groupCaches() {
		label := groupLabel(uid)
		metrics <- prometheus.MustNewConstMetric(c.revokeCycles, prometheus.CounterValue, float64(gc.RevokeCycles()), label)
		metrics <- prometheus.MustNewConstMetric(c.inFlight, prometheus.GaugeValue, float64(gc.InFlightEvents()), label)
	}
}

func groupLabel(uid uint32) string {
	const hextable = "0123456789abcdef"
	buf := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		buf[i] = hextable[uid&0xf]
		uid >>= 4
	}
	return "0x" + string(buf)
}
