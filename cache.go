package groupcache

import (
	"sync"

	"github.com/clustermesh/groupcache/event"
	"github.com/clustermesh/groupcache/topology"
	"github.com/clustermesh/groupcache/wire"
)

// Persistent tracks the fill-side sequencing state of §3's "persistent"
// group-cache attributes.
type Persistent struct {
	Num                    uint64 // current incarnation's seq_num
	SentToHost             uint64 // seq_num last fully pushed to local ranks
	RevokeSentToHost       uint64
	RevokeSendToHostPosted bool
}

// Revokes tracks the two revoke counters of §3.
type Revokes struct {
	Local  int
	Global int
}

// GroupCache is one logical directory for a single group UID (§3). Created
// lazily on first reference, reset (not destroyed) across reincarnations
// (§3 "Lifecycle").
type GroupCache struct {
	mu sync.Mutex

	GroupUID        uint32
	GroupSize       int
	NumLocalEntries int

	NLocalRanks          int
	NLocalRanksPopulated int

	Persistent Persistent
	Revokes    Revokes

	Ranks    []*RankEntry
	Topology *topology.Index

	// pendingRevokeCount counts GROUP_REVOKE_FROM_SP messages that arrived
	// while a cache-to-host meta-event was in flight; they are folded into
	// Revokes.Global only when the meta-event's completion callback drains
	// them (§4.5.2 "Ordering guarantee").
	pendingRevokeCount int
	sendInFlight       bool

	// revokeCycleCount counts completed revoke cycles (metrics.Collector's
	// RevokeCycles), not part of the spec's data model.
	revokeCycleCount int

	// localRankClients maps a connected local rank's client id to its
	// transport endpoint, the "(client_id, endpoint)" pairs of §6.2.
	localRankClients map[uint64]uint64
}

// newGroupCache allocates an empty cache for groupUID. Its group_size is not
// yet known (it arrives with the first ingested entry), so the cache starts
// with no rank table; resize allocates one once the size is known.
func newGroupCache(groupUID uint32, hostsConfig topology.HostsConfig) *GroupCache {
	return &GroupCache{
		GroupUID:         groupUID,
		Topology:         topology.New(0, hostsConfig),
		localRankClients: make(map[uint64]uint64),
	}
}

// resize sets the cache's group_size for a freshly started incarnation,
// (re)allocating the dense rank table. It must only be called when
// NumLocalEntries == 0 (a fresh incarnation, per §4.3 step 2).
func (c *GroupCache) resize(groupSize int) {
	c.GroupSize = groupSize
	c.Ranks = make([]*RankEntry, groupSize)
	for i := range c.Ranks {
		c.Ranks[i] = &RankEntry{}
	}
}

// Complete reports whether the cache is fully filled and not awaiting any
// revoke acknowledgements (§3 invariant: "complete ⇔ revokes.global == 0 ∧
// num_local_entries == group_size").
func (c *GroupCache) Complete() bool {
	return c.Revokes.Global == 0 && c.GroupSize > 0 && c.NumLocalEntries == c.GroupSize
}

// AddLocalRankClient registers a locally connected rank client so the fill
// protocol (§4.5.1) knows who to push the completed directory to.
func (c *GroupCache) AddLocalRankClient(clientID, endpoint uint64) {
	c.mu.Lock()
	c.localRankClients[clientID] = endpoint
	c.NLocalRanks = len(c.localRankClients)
	c.mu.Unlock()
}

// marshalAllEntriesLocked packs every set rank entry into a single
// PEER_CACHE_ENTRIES payload (§4.5.1 "emit the full rank table as a packed
// array of rank entries"). Callers must hold c.mu.
func (c *GroupCache) marshalAllEntriesLocked() ([]byte, error) {
	entries := make([]*wire.RankEntry, 0, c.NumLocalEntries)
	for _, r := range c.Ranks {
		if !r.Set {
			continue
		}
		we := &wire.RankEntry{
			Set: true,
			ProcInfo: wire.ProcInfo{
				GroupUID:    r.Peer.GroupUID,
				GroupRank:   int64(r.Peer.GroupRank),
				GroupSize:   int64(r.Peer.GroupSize),
				SeqNum:      r.Peer.SeqNum,
				NLocalRanks: int64(r.Peer.NLocalRanks),
				LocalRank:   int64(r.Peer.LocalRank),
				HostInfo:    r.Peer.HostUID,
			},
			HostInfo:              r.Peer.HostUID,
			ClientID:              r.Peer.ClientID,
			NumShadowServiceProcs: uint32(r.NumShadowSPs),
		}
		we.AddrLen = uint64(len(r.Peer.Addr))
		copy(we.Addr[:], r.Peer.Addr)
		for i, sp := range r.ShadowSPIDs {
			if i >= wire.MaxShadowSPs {
				break
			}
			we.ShadowServiceProcs[i] = sp
		}
		entries = append(entries, we)
	}
	return wire.MarshalBatch(entries)
}

// revokeResetLocked performs the hard reset of §4.5.2: every rank entry is
// cleared, both bitsets are destroyed, hashes are emptied, and
// lookup_tables_populated is cleared. Callers must hold c.mu.
func (c *GroupCache) revokeResetLocked(ch *event.Channel) {
	for _, r := range c.Ranks {
		r.reset(ch)
	}
	c.NumLocalEntries = 0
	c.NLocalRanksPopulated = 0
	c.Revokes = Revokes{}
	c.pendingRevokeCount = 0
	c.sendInFlight = false
	c.revokeCycleCount++
	c.Topology.Reset(c.GroupSize)
}

// RevokeCycles reports the number of completed revoke cycles this cache has
// gone through, for metrics.Collector.
func (c *GroupCache) RevokeCycles() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.revokeCycleCount
}

// InFlightEvents reports, while a cache-to-host push is in flight, the number
// of connected local rank clients (one sub-event each), and 0 otherwise, for
// metrics.Collector. Sub-events of the push that have already completed are
// still counted until the whole push completes.
func (c *GroupCache) InFlightEvents() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.sendInFlight {
		return 0
	}
	return len(c.localRankClients)
}
