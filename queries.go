package groupcache

import "github.com/clustermesh/groupcache/topology"

// populateIfNeeded triggers lazy lookup-table population the first time a
// query touches gc (§4.4 "lazily ... before the first topology query"; §5
// "topology queries observe either the fully populated table or trigger its
// population"). Callers must hold gc.mu.
func populateIfNeeded(gc *GroupCache) {
	if !gc.Topology.LookupTablesPopulated {
		gc.Topology.Populate()
	}
}

// GlobalSPIDByGroup returns this process's own SP global ID if it is a
// member of groupUID's topology (§4.6 "global_sp_id_by_group").
func (e *Engine) GlobalSPIDByGroup(groupUID uint32) (uint64, error) {
	gc, ok := e.Group(groupUID)
	if !ok {
		return 0, ErrNotInGroup
	}
	gc.mu.Lock()
	defer gc.mu.Unlock()
	populateIfNeeded(gc)
	if _, ok := gc.Topology.SPsHash[e.spGlobalID]; !ok {
		return 0, ErrNotInGroup
	}
	return e.spGlobalID, nil
}

// LocalSPIDByGroup returns the group-local id (sp_gp_lid) of spGID within
// groupUID's topology (§4.6 "local_sp_id_by_group").
func (e *Engine) LocalSPIDByGroup(groupUID uint32, spGID uint64) (int, error) {
	gc, ok := e.Group(groupUID)
	if !ok {
		return 0, ErrNotInGroup
	}
	gc.mu.Lock()
	defer gc.mu.Unlock()
	populateIfNeeded(gc)
	sp, ok := gc.Topology.SPsHash[spGID]
	if !ok {
		return 0, ErrNotInGroup
	}
	return sp.LID, nil
}

// HostIdxByGroup returns this process's host's dense array index within
// groupUID's topology (§4.6 "host_idx_by_group").
func (e *Engine) HostIdxByGroup(groupUID uint32) (int, error) {
	gc, ok := e.Group(groupUID)
	if !ok {
		return 0, ErrNotInGroup
	}
	gc.mu.Lock()
	defer gc.mu.Unlock()
	populateIfNeeded(gc)
	host, ok := gc.Topology.HostsHash[e.hostUID]
	if !ok {
		return 0, ErrNotInGroup
	}
	for i, hh := range gc.Topology.HostsArray {
		if hh == host {
			return i, nil
		}
	}
	return 0, ErrNotInGroup
}

// hostByIdxLocked finds the host record at array position h. Callers
// must hold gc.mu and have already populated the lookup tables.
func hostByIdxLocked(gc *GroupCache, h int) (*topology.Host, bool) {
	if h < 0 || h >= len(gc.Topology.HostsArray) {
		return nil, false
	}
	return gc.Topology.HostsArray[h], true
}

// spByLIDLocked finds the SP record at group-local id lid. Callers must
// hold gc.mu and have already populated the lookup tables.
func spByLIDLocked(gc *GroupCache, lid int) (*topology.SP, bool) {
	if lid < 0 || lid >= len(gc.Topology.SPsArray) {
		return nil, false
	}
	return gc.Topology.SPsArray[lid], true
}

// NumSPsByGroupHostIdx returns the SP count on host array index h (§4.6
// "num_sps_by_group_host_idx").
func (e *Engine) NumSPsByGroupHostIdx(groupUID uint32, h int) (int, error) {
	gc, ok := e.Group(groupUID)
	if !ok {
		return 0, ErrNotInGroup
	}
	gc.mu.Lock()
	defer gc.mu.Unlock()
	populateIfNeeded(gc)
	host, ok := hostByIdxLocked(gc, h)
	if !ok {
		return 0, ErrNotInGroup
	}
	return host.NumSPs, nil
}

// NumRanksForGroupSP returns the rank count served by spGID (§4.6
// "num_ranks_for_group_sp").
func (e *Engine) NumRanksForGroupSP(groupUID uint32, spGID uint64) (int, error) {
	gc, ok := e.Group(groupUID)
	if !ok {
		return 0, ErrNotInGroup
	}
	gc.mu.Lock()
	defer gc.mu.Unlock()
	populateIfNeeded(gc)
	sp, ok := gc.Topology.SPsHash[spGID]
	if !ok {
		return 0, ErrNotInGroup
	}
	return sp.NRanks, nil
}

// NumRanksForGroupHostLocalSP returns the rank count served by the SP at
// group-local id lid on host array index h (§4.6
// "num_ranks_for_group_host_local_sp").
func (e *Engine) NumRanksForGroupHostLocalSP(groupUID uint32, h, lid int) (int, error) {
	gc, ok := e.Group(groupUID)
	if !ok {
		return 0, ErrNotInGroup
	}
	gc.mu.Lock()
	defer gc.mu.Unlock()
	populateIfNeeded(gc)
	host, ok := hostByIdxLocked(gc, h)
	if !ok {
		return 0, ErrNotInGroup
	}
	if !host.SPsBitset.Test(lid) {
		return 0, ErrNotInGroup
	}
	sp, ok := spByLIDLocked(gc, lid)
	if !ok {
		return 0, ErrNotInGroup
	}
	return sp.NRanks, nil
}

// RankIdxByGroupHostIdx returns the dense index of rank within host array
// index h's rank bitset (§4.6 "rank_idx_by_group_host_idx"), erroring if
// rank is not served by that host.
func (e *Engine) RankIdxByGroupHostIdx(groupUID uint32, h, rank int) (int, error) {
	gc, ok := e.Group(groupUID)
	if !ok {
		return 0, ErrNotInGroup
	}
	gc.mu.Lock()
	defer gc.mu.Unlock()
	populateIfNeeded(gc)
	host, ok := hostByIdxLocked(gc, h)
	if !ok {
		return 0, ErrNotInGroup
	}
	if !host.RanksBitset.Test(rank) {
		return 0, ErrNotInGroup
	}
	return denseRankIdx(host.RanksBitset, rank), nil
}

// RankIdxByGroupSPID returns the dense index of rank within spGID's rank
// bitset (§4.6 "rank_idx_by_group_sp_id").
func (e *Engine) RankIdxByGroupSPID(groupUID uint32, spGID uint64, rank int) (int, error) {
	gc, ok := e.Group(groupUID)
	if !ok {
		return 0, ErrNotInGroup
	}
	gc.mu.Lock()
	defer gc.mu.Unlock()
	populateIfNeeded(gc)
	sp, ok := gc.Topology.SPsHash[spGID]
	if !ok {
		return 0, ErrNotInGroup
	}
	if !sp.RanksBitset.Test(rank) {
		return 0, ErrNotInGroup
	}
	return denseRankIdx(sp.RanksBitset, rank), nil
}

// denseRankIdx counts the set bits strictly below rank, giving rank's
// position within the ascending dense enumeration of bits set in b.
func denseRankIdx(b interface{ Test(int) bool }, rank int) int {
	idx := 0
	for i := 0; i < rank; i++ {
		if b.Test(i) {
			idx++
		}
	}
	return idx
}

// AllSPsByGroupHostIdx returns a borrowed reference to the dense SP-GID
// array behind host array index h (§4.6 "all_sps_by_group_host_idx").
// Valid until the next revoke of groupUID.
func (e *Engine) AllSPsByGroupHostIdx(groupUID uint32, h int) ([]uint64, error) {
	gc, ok := e.Group(groupUID)
	if !ok {
		return nil, ErrNotInGroup
	}
	gc.mu.Lock()
	defer gc.mu.Unlock()
	populateIfNeeded(gc)
	host, ok := hostByIdxLocked(gc, h)
	if !ok {
		return nil, ErrNotInGroup
	}
	return host.SPs, nil
}

// AllHostsByGroup returns a borrowed reference to the dense host array
// (§4.6 "all_hosts_by_group"). Valid until the next revoke of groupUID.
func (e *Engine) AllHostsByGroup(groupUID uint32) ([]*topology.Host, error) {
	gc, ok := e.Group(groupUID)
	if !ok {
		return nil, ErrNotInGroup
	}
	gc.mu.Lock()
	defer gc.mu.Unlock()
	populateIfNeeded(gc)
	return gc.Topology.HostsArray, nil
}

// AllRanksByGroupSPGID returns the sorted dense rank list served by spGID
// (§4.6 "all_ranks_by_group_sp_gid").
func (e *Engine) AllRanksByGroupSPGID(groupUID uint32, spGID uint64) ([]int, error) {
	gc, ok := e.Group(groupUID)
	if !ok {
		return nil, ErrNotInGroup
	}
	gc.mu.Lock()
	defer gc.mu.Unlock()
	populateIfNeeded(gc)
	sp, ok := gc.Topology.SPsHash[spGID]
	if !ok {
		return nil, ErrNotInGroup
	}
	return ranksOf(sp.RanksBitset, gc.GroupSize), nil
}

// AllRanksByGroupSPLID returns the sorted dense rank list served by the SP
// at group-local id lid on host array index h (§4.6
// "all_ranks_by_group_sp_lid").
func (e *Engine) AllRanksByGroupSPLID(groupUID uint32, h, lid int) ([]int, error) {
	gc, ok := e.Group(groupUID)
	if !ok {
		return nil, ErrNotInGroup
	}
	gc.mu.Lock()
	defer gc.mu.Unlock()
	populateIfNeeded(gc)
	host, ok := hostByIdxLocked(gc, h)
	if !ok {
		return nil, ErrNotInGroup
	}
	if !host.SPsBitset.Test(lid) {
		return nil, ErrNotInGroup
	}
	sp, ok := spByLIDLocked(gc, lid)
	if !ok {
		return nil, ErrNotInGroup
	}
	return ranksOf(sp.RanksBitset, gc.GroupSize), nil
}

func ranksOf(b interface {
	Test(int) bool
}, n int) []int {
	var out []int
	for i := 0; i < n; i++ {
		if b.Test(i) {
			out = append(out, i)
		}
	}
	return out
}

// NthSPByGroupHostIdx returns the global SP ID of the n-th SP (ascending
// lid order) on host array index h (§4.6 "nth_sp_by_group_host_idx").
func (e *Engine) NthSPByGroupHostIdx(groupUID uint32, h, n int) (uint64, error) {
	gc, ok := e.Group(groupUID)
	if !ok {
		return 0, ErrNotInGroup
	}
	gc.mu.Lock()
	defer gc.mu.Unlock()
	populateIfNeeded(gc)
	host, ok := hostByIdxLocked(gc, h)
	if !ok {
		return 0, ErrNotInGroup
	}
	if n < 0 || n >= len(host.SPs) {
		return 0, ErrNotInGroup
	}
	return host.SPs[n], nil
}

// SPGroupGID returns spGID's group-local SP position (§4.6 "sp_group_gid").
func (e *Engine) SPGroupGID(groupUID uint32, spGID uint64) (int, error) {
	return e.LocalSPIDByGroup(groupUID, spGID)
}

// GroupRankHost returns the host UID of rank's machine (§4.6
// "group_rank_host").
func (e *Engine) GroupRankHost(groupUID uint32, rank int) (uint64, error) {
	gc, ok := e.Group(groupUID)
	if !ok {
		return 0, ErrNotInGroup
	}
	gc.mu.Lock()
	defer gc.mu.Unlock()
	if rank < 0 || rank >= len(gc.Ranks) || !gc.Ranks[rank].Set {
		return 0, ErrNotInGroup
	}
	return gc.Ranks[rank].Peer.HostUID, nil
}

// GroupRankSPs returns the shadow SPs servicing rank's host (§4.6
// "group_rank_sps").
func (e *Engine) GroupRankSPs(groupUID uint32, rank int) ([]uint64, error) {
	gc, ok := e.Group(groupUID)
	if !ok {
		return nil, ErrNotInGroup
	}
	gc.mu.Lock()
	defer gc.mu.Unlock()
	if rank < 0 || rank >= len(gc.Ranks) || !gc.Ranks[rank].Set {
		return nil, ErrNotInGroup
	}
	return gc.Ranks[rank].ShadowSPIDs, nil
}

// OnSameHost reports whether r1 and r2 run on the same physical host
// (§4.6 "on_same_host").
func (e *Engine) OnSameHost(groupUID uint32, r1, r2 int) (bool, error) {
	gc, ok := e.Group(groupUID)
	if !ok {
		return false, ErrNotInGroup
	}
	gc.mu.Lock()
	defer gc.mu.Unlock()
	if !validSetRank(gc, r1) || !validSetRank(gc, r2) {
		return false, ErrNotInGroup
	}
	return gc.Ranks[r1].Peer.HostUID == gc.Ranks[r2].Peer.HostUID, nil
}

// OnSameSP reports whether r1 and r2 share at least one shadow SP (§4.6
// "on_same_sp").
func (e *Engine) OnSameSP(groupUID uint32, r1, r2 int) (bool, error) {
	gc, ok := e.Group(groupUID)
	if !ok {
		return false, ErrNotInGroup
	}
	gc.mu.Lock()
	defer gc.mu.Unlock()
	if !validSetRank(gc, r1) || !validSetRank(gc, r2) {
		return false, ErrNotInGroup
	}
	seen := make(map[uint64]struct{}, len(gc.Ranks[r1].ShadowSPIDs))
	for _, sp := range gc.Ranks[r1].ShadowSPIDs {
		seen[sp] = struct{}{}
	}
	for _, sp := range gc.Ranks[r2].ShadowSPIDs {
		if _, ok := seen[sp]; ok {
			return true, nil
		}
	}
	return false, nil
}

func validSetRank(gc *GroupCache, r int) bool {
	return r >= 0 && r < len(gc.Ranks) && gc.Ranks[r].Set
}

// GroupCachePopulated reports whether groupUID's cache is fully populated
// (group_cache_populated, dpu_offload_group_cache.c:31): no outstanding
// global revokes, and every rank slot filled. This mirrors GroupCache's own
// Complete but is exposed as a query so a caller holding only an Engine (not
// a *GroupCache) can check readiness before issuing one of the other
// queries in this file, the way the source's callers check
// group_cache_populated before touching the lookup tables.
func (e *Engine) GroupCachePopulated(groupUID uint32) (bool, error) {
	gc, ok := e.Group(groupUID)
	if !ok {
		return false, ErrNotInGroup
	}
	gc.mu.Lock()
	defer gc.mu.Unlock()
	return gc.Complete(), nil
}

// NumRanksForGroupHostIdx returns the total rank count on host array index h,
// across every SP on that host (get_num_ranks_for_group_host_idx,
// dpu_offload_group_cache.c:660). Distinct from NumRanksForGroupHostLocalSP,
// which counts ranks behind a single SP rather than the whole host.
func (e *Engine) NumRanksForGroupHostIdx(groupUID uint32, h int) (int, error) {
	gc, ok := e.Group(groupUID)
	if !ok {
		return 0, ErrNotInGroup
	}
	gc.mu.Lock()
	defer gc.mu.Unlock()
	populateIfNeeded(gc)
	host, ok := hostByIdxLocked(gc, h)
	if !ok {
		return 0, ErrNotInGroup
	}
	return host.NumRanks, nil
}

// GroupRanksOnHost returns the sorted list of group ranks whose peer.host_info
// is hostUID (get_group_ranks_on_host, dpu_offload_group_cache.c:1027). Unlike
// the lookup-table queries above, the source walks the raw rank entries
// directly rather than the populated host record, so this does not trigger
// or require lookup-table population; a rank counts as soon as its entry has
// arrived, whatever its shadow SPs happen to be.
func (e *Engine) GroupRanksOnHost(groupUID uint32, hostUID uint64) ([]int, error) {
	gc, ok := e.Group(groupUID)
	if !ok {
		return nil, ErrNotInGroup
	}
	gc.mu.Lock()
	defer gc.mu.Unlock()
	var ranks []int
	for i, r := range gc.Ranks {
		if r.Set && r.Peer.HostUID == hostUID {
			ranks = append(ranks, i)
		}
	}
	return ranks, nil
}

// GroupLocalSPs returns every shadow SP id serving a rank on this process's
// own host (get_group_local_sps, dpu_offload_group_cache.c:1069). The
// source gates this query to the DPU/SP role (`engine->on_dpu`); this
// implementation applies the same gate via onDPU, since the query is only
// meaningful for a process acting as an SP for the group. Ids are not
// deduplicated across ranks, matching the source's plain append loop.
func (e *Engine) GroupLocalSPs(groupUID uint32) ([]uint64, error) {
	if !e.onDPU {
		return nil, nil
	}
	gc, ok := e.Group(groupUID)
	if !ok {
		return nil, ErrNotInGroup
	}
	gc.mu.Lock()
	defer gc.mu.Unlock()
	var sps []uint64
	for _, r := range gc.Ranks {
		if r.Set && r.Peer.HostUID == e.hostUID {
			sps = append(sps, r.ShadowSPIDs...)
		}
	}
	return sps, nil
}
