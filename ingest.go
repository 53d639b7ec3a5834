package groupcache

import (
	"github.com/clustermesh/groupcache/wire"
)

// handlePeerCacheEntries is the receive callback bound to
// event.TypePeerCacheEntries: it implements §4.3's
// handle_peer_cache_entries_recv, ingesting one PEER_CACHE_ENTRIES batch.
func (e *Engine) handlePeerCacheEntries(sourceID uint64, header, payload []byte) {
	entries, err := wire.UnmarshalBatch(payload)
	if err != nil {
		// A malformed batch cannot be attributed to a group; there is
		// nothing sensible to do but drop it, matching the source's
		// handling of an undecodable frame.
		Logger.Printf("W: dropping malformed PEER_CACHE_ENTRIES batch from %d: %v", sourceID, err)
		return
	}
	e.ingestBatch(entries)
}

// ingestBatch applies every entry in a single PEER_CACHE_ENTRIES payload to
// its group cache, enforcing the §4.3 fatal assertions along the way.
func (e *Engine) ingestBatch(entries []*wire.RankEntry) {
	if len(entries) == 0 {
		return
	}

	groupUID := entries[0].ProcInfo.GroupUID
	gc := e.group(groupUID)

	gc.mu.Lock()
	defer gc.mu.Unlock()

	for _, we := range entries {
		if we.ProcInfo.GroupUID != groupUID {
			panic(fatal(KindCacheInconsistent, "mismatched group_uid within one PEER_CACHE_ENTRIES batch"))
		}
		if we.NumShadowServiceProcs == 0 {
			panic(fatal(KindCacheInconsistent, "rank entry carries zero shadow service processors"))
		}

		e.ingestOneLocked(gc, we)
	}

	if gc.Complete() && gc.NLocalRanks > 0 && gc.NLocalRanksPopulated < gc.NLocalRanks {
		e.pushToLocalRanksLocked(gc)
	}
}

// ingestOneLocked applies a single wire rank entry to gc. Callers must hold
// gc.mu.
func (e *Engine) ingestOneLocked(gc *GroupCache, we *wire.RankEntry) {
	rank := int(we.ProcInfo.GroupRank)

	if gc.NumLocalEntries == 0 {
		// First entry of a fresh incarnation: this is where the cache
		// learns (or confirms) its group_size and adopts the entry's
		// seq_num as its incarnation counter (§4.3 step 2).
		if gc.GroupSize == 0 {
			gc.resize(int(we.ProcInfo.GroupSize))
		} else if gc.GroupSize != int(we.ProcInfo.GroupSize) {
			panic(fatal(KindCacheInconsistent, "rank entry group_size does not match the cache's group_size"))
		}
		if gc.Persistent.SentToHost != gc.Persistent.Num && gc.Persistent.Num != 0 {
			panic(fatal(KindSeqNumMismatch, "new incarnation started before previous one was fully sent to host"))
		}
		gc.Persistent.Num = we.ProcInfo.SeqNum
	} else if we.ProcInfo.SeqNum != gc.Persistent.Num {
		panic(fatal(KindSeqNumMismatch, "rank entry seq_num does not match cache incarnation"))
	}

	if rank < 0 || rank >= len(gc.Ranks) {
		panic(fatal(KindCacheInconsistent, "group_rank out of range for group_size"))
	}

	entry := gc.Ranks[rank]
	if entry.Set {
		// Idempotent re-ingest of an already-known rank: a no-op, matching
		// §4.3's "duplicate delivery" tolerance.
		Logger.Printf("W: discarding duplicate cache entry for group 0x%x rank %d", gc.GroupUID, rank)
		return
	}

	entry.Set = true
	entry.Peer = Peer{
		GroupUID:    we.ProcInfo.GroupUID,
		GroupRank:   rank,
		GroupSize:   int(we.ProcInfo.GroupSize),
		SeqNum:      we.ProcInfo.SeqNum,
		NLocalRanks: int(we.ProcInfo.NLocalRanks),
		LocalRank:   int(we.ProcInfo.LocalRank),
		HostUID:     we.HostInfo,
		Addr:        append([]byte(nil), we.Addr[:we.AddrLen]...),
		ClientID:    we.ClientID,
	}
	entry.NumShadowSPs = int(we.NumShadowServiceProcs)
	entry.ShadowSPIDs = append([]uint64(nil), we.ShadowServiceProcs[:we.NumShadowServiceProcs]...)

	for _, spGID := range entry.ShadowSPIDs {
		if err := gc.Topology.Update(rank, spGID, entry.Peer.HostUID); err != nil {
			panic(fatal(KindCacheInconsistent, "topology update failed: "+err.Error()))
		}
	}

	gc.NumLocalEntries++

	// Complete any fallback lookups parked on this rank (§4.5.3): the
	// entry has now arrived, so waiters are resolved with a normal
	// (non-revoked) completion via their own completion callback.
	for _, h := range entry.EventsList {
		e.channel.CompleteLocally(h)
	}
	entry.EventsList = nil
}
