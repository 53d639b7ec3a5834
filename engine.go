package groupcache

import (
	"sync"

	"github.com/clustermesh/groupcache/event"
	"github.com/clustermesh/groupcache/metrics"
	"github.com/clustermesh/groupcache/pool"
	"github.com/clustermesh/groupcache/topology"
)

// EnableFallbackLookup gates the fallback cache-entry-request path of
// §4.5.3, per this module's decision on the spec's second open question
// (recorded in DESIGN.md). Default false: RequestRankEntry then returns a
// NotFound-kind error instead of parking an event on the rank entry. When
// true, RequestRankEntry only parks the event; no cache-entry request is sent
// on the wire, so the event completes when the entry arrives through ordinary
// ingest (§4.3) or when the group is revoked.
var EnableFallbackLookup = false

const defaultPoolChunkSize = 64

// RevokeEventCallback is invoked just before a group cache's hard reset
// becomes observable (§4.5.2: "Any registered GROUP_REVOKE_EVENT callback
// fires before the reset is observable"), mirroring the original's
// MIMOSA_GROUP_REVOKE_EVENT_ID notification hook in revoke_group_cache.
type RevokeEventCallback func(groupUID uint32, seqNum uint64)

// Engine is the single process-wide owner of every group's cache and of the
// shared, bounded pools that back them (§9 "Global state": "pools are
// allocated once per process and shared by every group cache"). It mirrors
// the teacher's Gyre type: constructed bare, then configured through
// chained Set* calls before RegisterDefaults.
type Engine struct {
	mu     sync.Mutex
	groups map[uint32]*GroupCache

	hostUID     uint64
	spGlobalID  uint64
	hostsConfig topology.HostsConfig
	worldGroup  uint32
	onDPU       bool

	channel *event.Channel

	revokeEventCB RevokeEventCallback

	spPool   *pool.Pool[topology.SP]
	hostPool *pool.Pool[topology.Host]
	reqPool  *pool.Pool[CacheEntryRequest]
}

// NewEngine constructs an unconfigured Engine. Callers chain SetX calls to
// supply the identity and environment before any group cache is touched.
func NewEngine() *Engine {
	e := &Engine{
		groups: make(map[uint32]*GroupCache),
	}
	e.spPool = pool.New(defaultPoolChunkSize,
		func() *topology.SP { return &topology.SP{} },
		func(sp *topology.SP) { *sp = topology.SP{} },
	)
	e.hostPool = pool.New(defaultPoolChunkSize,
		func() *topology.Host { return &topology.Host{} },
		func(h *topology.Host) { *h = topology.Host{} },
	)
	e.reqPool = pool.New(defaultPoolChunkSize,
		func() *CacheEntryRequest { return &CacheEntryRequest{} },
		func(r *CacheEntryRequest) { *r = CacheEntryRequest{} },
	)
	return e
}

// SetHostUID records this process's physical host UID (§6.3).
func (e *Engine) SetHostUID(hostUID uint64) *Engine {
	e.hostUID = hostUID
	return e
}

// SetSPGlobalID records this process's own SP global ID, used when this
// process acts in the SP role for a group (§4.5.1).
func (e *Engine) SetSPGlobalID(id uint64) *Engine {
	e.spGlobalID = id
	return e
}

// SetHostsConfig installs the bootstrap environment's host-to-index mapping
// (§6.3), shared by every group cache's topology index.
func (e *Engine) SetHostsConfig(cfg topology.HostsConfig) *Engine {
	e.hostsConfig = cfg
	return e
}

// SetOnDPU records whether this process acts in the SP/DPU role, gating
// queries like GroupLocalSPs that the source restricts to `engine->on_dpu`
// (dpu_offload_group_cache.c:1069).
func (e *Engine) SetOnDPU(onDPU bool) *Engine {
	e.onDPU = onDPU
	return e
}

// SetWorldGroup records the distinguished group UID that spans the entire
// job (§3 "world group"), used by queries that default to it.
func (e *Engine) SetWorldGroup(groupUID uint32) *Engine {
	e.worldGroup = groupUID
	return e
}

// SetChannel installs the event channel this engine emits and receives
// through. RegisterDefaults also installs the channel it registers on,
// replacing any channel set here.
func (e *Engine) SetChannel(ch *event.Channel) *Engine {
	e.channel = ch
	return e
}

// SetRevokeEventCallback registers cb to run just before every group's hard
// reset becomes observable (§4.5.2's GROUP_REVOKE_EVENT notification hook).
func (e *Engine) SetRevokeEventCallback(cb RevokeEventCallback) *Engine {
	e.revokeEventCB = cb
	return e
}

// fireRevokeEvent invokes the registered revoke-event callback, if any, for
// gc's current incarnation. Callers must hold gc.mu and call this
// immediately before revokeResetLocked so the notification is delivered
// before the reset is observable.
func (e *Engine) fireRevokeEvent(gc *GroupCache) {
	if e.revokeEventCB != nil {
		e.revokeEventCB(gc.GroupUID, gc.Persistent.Num)
	}
}

// RegisterDefaults binds this engine's handlers for every reserved event
// type (§4.2) on ch. A caller that never calls this gets an engine that can
// still be driven programmatically (e.g. by tests calling ingest functions
// directly) but will silently drop inbound wire traffic, since an
// unregistered type is dropped by Channel.Deliver rather than erroring —
// this module's decision on the spec's open question about a missing
// registration call (recorded in DESIGN.md).
func (e *Engine) RegisterDefaults(ch *event.Channel) error {
	if err := ch.Register(event.TypePeerCacheEntries, e.handlePeerCacheEntries); err != nil {
		return err
	}
	if err := ch.Register(event.TypeGroupRevokeFromSP, e.handleGroupRevokeFromSP); err != nil {
		return err
	}
	if err := ch.Register(event.TypeGroupRevokeToRank, e.handleGroupRevokeToRank); err != nil {
		return err
	}
	if err := ch.Register(event.TypeSPDataToHost, e.handleSPDataToHost); err != nil {
		return err
	}
	e.channel = ch
	return nil
}

// MetricsCollector builds a prometheus.Collector reporting this engine's
// shared pools and every group cache's revoke/in-flight counters, ambient
// operational visibility that sits alongside the core protocol rather than
// inside it (see metrics package).
func (e *Engine) MetricsCollector(namespace string) *metrics.Collector {
	c := metrics.NewCollector(namespace, func() map[uint32]metrics.GroupCacheStats {
		e.mu.Lock()
		defer e.mu.Unlock()
		out := make(map[uint32]metrics.GroupCacheStats, len(e.groups))
		for uid, gc := range e.groups {
			out[uid] = gc
		}
		return out
	})
	c.RegisterPool("sp", e.spPool)
	c.RegisterPool("host", e.hostPool)
	c.RegisterPool("cache_entry_request", e.reqPool)
	if e.channel != nil {
		c.RegisterPool("event_handle", e.channel.HandlePool())
	}
	return c
}

// groupLocked returns the cache for groupUID, creating it on first
// reference (§3 "Lifecycle"). Callers must hold e.mu.
func (e *Engine) groupLocked(groupUID uint32) *GroupCache {
	gc, ok := e.groups[groupUID]
	if !ok {
		gc = newGroupCache(groupUID, e.hostsConfig)
		gc.Topology = topology.NewWithPools(0, e.hostsConfig, e.spPool, e.hostPool)
		e.groups[groupUID] = gc
	}
	return gc
}

// Group returns the cache for groupUID if one has already been created, the
// way a query that must not implicitly create groups needs to check.
func (e *Engine) Group(groupUID uint32) (*GroupCache, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	gc, ok := e.groups[groupUID]
	return gc, ok
}

// group returns (creating if needed) the cache for groupUID.
func (e *Engine) group(groupUID uint32) *GroupCache {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.groupLocked(groupUID)
}
