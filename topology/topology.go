// Package topology implements the §4.4 topology indexer: it turns the
// stream of incoming rank entries into the three bitsets (SPs-in-group,
// hosts-in-group, ranks-per-SP/host) and their dense arrays, plus the two
// hash tables keyed by SP global-ID and host UID.
//
// The hash tables are native Go maps (map[uint64]*SP, map[uint64]*Host):
// the source's own design notes (§9, "Dynamic arrays of typed slots") tell
// implementers to reach for their language's native growable vector
// instead of hand-rolling one, and the same logic applies to its fixed-size
// chained hash — a Go map over a uint64 key is the idiomatic equivalent, and
// Go's map already does its own key dispersal internally, so there is no
// separate scramble step to perform before the lookup.
package topology

import (
	"sort"

	"github.com/clustermesh/groupcache/bitset"
	"github.com/clustermesh/groupcache/pool"
)

// HostsConfig resolves a host UID to its dense configuration index and
// reports the fleet-wide host count, as supplied by the bootstrap
// environment collaborator (§6.3's hosts_config array).
type HostsConfig interface {
	ConfigIndex(hostUID uint64) (idx int, ok bool)
	NumHosts() int
}

// SP is one group's record for a single service processor (§3 "SP
// record"). LID is only meaningful after Populate has run; until then it
// is -1.
type SP struct {
	GID         uint64
	HostUID     uint64
	LID         int
	NRanks      int
	RanksBitset *bitset.Set // size group_size, indexed by group_rank
}

// Host is one group's record for a single physical host (§3 "Host
// record"). SPsBitset/SPs are only populated after Populate has run.
type Host struct {
	UID         uint64
	ConfigIdx   int
	NumRanks    int
	NumSPs      int
	RanksBitset *bitset.Set // size group_size, indexed by group_rank
	SPsBitset   *bitset.Set // size group_size, indexed by sp_gp_lid, finalized at Populate
	SPs         []uint64    // dense, ascending by sp_gp_lid, finalized at Populate

	spSeen map[uint64]struct{} // working set during ingest
}

// Index is one group's topology index.
type Index struct {
	GroupSize int
	Config    HostsConfig

	SPsHash   map[uint64]*SP
	HostsHash map[uint64]*Host

	// SPsBitset is indexed by sp_gp_lid (not the raw, fleet-wide sp_gid),
	// resolving the spec's flagged open question: sizing a bitset to
	// group_size but indexing it with an unbounded global id overflows for
	// large clusters. Finalized at Populate, once every SP's lid is known.
	SPsBitset *bitset.Set
	// HostsBitset is indexed by each host's externally supplied
	// config_idx, which is bounded by Config.NumHosts() by construction, so
	// it can be maintained incrementally as entries arrive.
	HostsBitset *bitset.Set

	SPsArray   []*SP   // ascending by sp_gp_lid, finalized at Populate
	HostsArray []*Host // ascending by config_idx, finalized at Populate

	LookupTablesPopulated bool

	hostsByConfigIdx map[int]*Host

	// SPPool/HostPool back SP/Host allocation with the bounded,
	// single-process-wide pools §4.1 calls for. Both may be nil, in which
	// case records are allocated directly — used by tests that exercise one
	// Index in isolation without an Engine-owned pool pair.
	SPPool   *pool.Pool[SP]
	HostPool *pool.Pool[Host]
}

// New creates an index for a group of the given size, allocating its own
// SP/Host records directly rather than through a shared pool.
func New(groupSize int, config HostsConfig) *Index {
	return NewWithPools(groupSize, config, nil, nil)
}

// NewWithPools creates an index that draws its SP/Host records from
// process-wide pools, as an Engine does for every group cache it owns
// (§4.1, §9 "Global state").
func NewWithPools(groupSize int, config HostsConfig, spPool *pool.Pool[SP], hostPool *pool.Pool[Host]) *Index {
	idx := &Index{
		Config:   config,
		SPPool:   spPool,
		HostPool: hostPool,
	}
	idx.reinit(groupSize)
	return idx
}

func (idx *Index) acquireSP() *SP {
	if idx.SPPool != nil {
		return idx.SPPool.Acquire()
	}
	return &SP{}
}

func (idx *Index) acquireHost() *Host {
	if idx.HostPool != nil {
		return idx.HostPool.Acquire()
	}
	return &Host{}
}

// releaseAll returns every SP/Host record currently held by this index to
// its pool, if any. Called by Reset before the hashes are cleared.
func (idx *Index) releaseAll() {
	if idx.SPPool != nil {
		for _, sp := range idx.SPsHash {
			idx.SPPool.Release(sp)
		}
	}
	if idx.HostPool != nil {
		for _, host := range idx.HostsHash {
			idx.HostPool.Release(host)
		}
	}
}

func (idx *Index) reinit(groupSize int) {
	idx.GroupSize = groupSize
	idx.SPsHash = make(map[uint64]*SP)
	idx.HostsHash = make(map[uint64]*Host)
	idx.SPsBitset = bitset.New(groupSize)
	numHosts := 0
	if idx.Config != nil {
		numHosts = idx.Config.NumHosts()
	}
	idx.HostsBitset = bitset.New(numHosts)
	idx.SPsArray = nil
	idx.HostsArray = nil
	idx.LookupTablesPopulated = false
	idx.hostsByConfigIdx = make(map[int]*Host)
}

// Reset hard-resets the index for a revoke (§4.5.2): every derived
// structure is discarded and LookupTablesPopulated returns to false. The
// index is re-sized for groupSize ranks; the group cache's revoke reset
// passes its current group_size.
func (idx *Index) Reset(groupSize int) {
	idx.releaseAll()
	idx.reinit(groupSize)
}

// Update extends the index with one (group_rank, sp_gid, host_uid)
// observation (§4.4). It is called once per shadow-SP entry in a rank's
// incoming payload.
func (idx *Index) Update(groupRank int, spGID, hostUID uint64) error {
	sp, ok := idx.SPsHash[spGID]
	if !ok {
		sp = idx.acquireSP()
		sp.GID = spGID
		sp.HostUID = hostUID
		sp.LID = -1
		sp.RanksBitset = bitset.New(idx.GroupSize)
		idx.SPsHash[spGID] = sp
	}
	if !sp.RanksBitset.Test(groupRank) {
		sp.RanksBitset.Set(groupRank)
		sp.NRanks++
	}

	host, ok := idx.HostsHash[hostUID]
	if !ok {
		configIdx, ok2 := idx.Config.ConfigIndex(hostUID)
		if !ok2 {
			return ErrUnknownHost
		}
		host = idx.acquireHost()
		host.UID = hostUID
		host.ConfigIdx = configIdx
		host.RanksBitset = bitset.New(idx.GroupSize)
		host.spSeen = make(map[uint64]struct{})
		idx.HostsHash[hostUID] = host
		idx.hostsByConfigIdx[configIdx] = host
		idx.HostsBitset.Set(configIdx)
	}

	if _, seen := host.spSeen[spGID]; !seen {
		host.spSeen[spGID] = struct{}{}
		host.NumSPs++
	}
	if !host.RanksBitset.Test(groupRank) {
		host.RanksBitset.Set(groupRank)
		host.NumRanks++
	}

	return nil
}

// Populate builds the dense arrays and assigns sp_gp_lid (§4.4
// "populate_group_cache_lookup_table"). It is idempotent: a second call is
// a no-op. SP group-local ids reflect ascending global-ID order and host
// array order reflects ascending config_idx order, so two processes that
// ingested the same multiset of entries derive identical lids (§4.4
// "Ordering guarantee", P7).
func (idx *Index) Populate() {
	if idx.LookupTablesPopulated {
		return
	}

	gids := make([]uint64, 0, len(idx.SPsHash))
	for gid := range idx.SPsHash {
		gids = append(gids, gid)
	}
	sort.Slice(gids, func(i, j int) bool { return gids[i] < gids[j] })

	idx.SPsBitset = bitset.New(idx.GroupSize)
	idx.SPsArray = make([]*SP, 0, len(gids))
	for i, gid := range gids {
		sp := idx.SPsHash[gid]
		sp.LID = i
		idx.SPsBitset.Set(i)
		idx.SPsArray = append(idx.SPsArray, sp)
	}

	idx.HostsArray = make([]*Host, 0, len(idx.HostsHash))
	idx.HostsBitset.Iterate(func(configIdx int) bool {
		idx.HostsArray = append(idx.HostsArray, idx.hostsByConfigIdx[configIdx])
		return true
	})

	for _, host := range idx.HostsArray {
		spGIDs := make([]uint64, 0, len(host.spSeen))
		for gid := range host.spSeen {
			spGIDs = append(spGIDs, gid)
		}
		sort.Slice(spGIDs, func(i, j int) bool {
			return idx.SPsHash[spGIDs[i]].LID < idx.SPsHash[spGIDs[j]].LID
		})

		host.SPsBitset = bitset.New(idx.GroupSize)
		host.SPs = make([]uint64, 0, len(spGIDs))
		for _, gid := range spGIDs {
			sp := idx.SPsHash[gid]
			host.SPsBitset.Set(sp.LID)
			host.SPs = append(host.SPs, gid)
		}
	}

	idx.LookupTablesPopulated = true
}

// StaticHostsConfig is a fixed, preassigned HostsConfig, suitable for tests
// and for small deployments that know their host list up front (§6.3's
// hosts_config array in its simplest form).
type StaticHostsConfig struct {
	order map[uint64]int
}

// NewStaticHostsConfig assigns config indices to hostUIDs in the order
// given.
func NewStaticHostsConfig(hostUIDs []uint64) *StaticHostsConfig {
	order := make(map[uint64]int, len(hostUIDs))
	for i, uid := range hostUIDs {
		order[uid] = i
	}
	return &StaticHostsConfig{order: order}
}

func (c *StaticHostsConfig) ConfigIndex(hostUID uint64) (int, bool) {
	idx, ok := c.order[hostUID]
	return idx, ok
}

func (c *StaticHostsConfig) NumHosts() int { return len(c.order) }
