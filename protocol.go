package groupcache

import (
	"encoding/binary"

	"github.com/clustermesh/groupcache/event"
)

// revokeHeaderSize is the fixed size of a GROUP_REVOKE_* header: group_uid
// (4 bytes) followed by seq_num (8 bytes), little-endian, mirroring §6.1's
// byte order choice for the rank-entry payload.
const revokeHeaderSize = 4 + 8

func encodeRevokeHeader(groupUID uint32, seqNum uint64) []byte {
	b := make([]byte, revokeHeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], groupUID)
	binary.LittleEndian.PutUint64(b[4:12], seqNum)
	return b
}

func decodeRevokeHeader(b []byte) (groupUID uint32, seqNum uint64, ok bool) {
	if len(b) < revokeHeaderSize {
		return 0, 0, false
	}
	return binary.LittleEndian.Uint32(b[0:4]), binary.LittleEndian.Uint64(b[4:12]), true
}

// pushToLocalRanksLocked builds the "push complete cache to local ranks"
// meta-event of §4.5.1: one sub-event per connected local-rank client,
// completing only once the transport has completed every sub-event's send. Callers
// must hold gc.mu; the meta-event's own completion callback
// (sendToLocalRanksDone) re-acquires gc.mu itself, since it fires later,
// off of Channel.Progress.
func (e *Engine) pushToLocalRanksLocked(gc *GroupCache) {
	if gc.sendInFlight {
		return
	}
	gc.sendInFlight = true

	payload, err := gc.marshalAllEntriesLocked()
	if err != nil {
		gc.sendInFlight = false
		panic(fatal(KindCacheInconsistent, "failed to marshal cache for local-rank push: "+err.Error()))
	}

	meta := e.channel.NewMetaEvent()
	dests := make([]uint64, 0, len(gc.localRankClients))
	for _, ep := range gc.localRankClients {
		dests = append(dests, ep)
		sub := e.channel.NewEvent(event.TypePeerCacheEntries)
		meta.AddSubEvent(sub)
	}

	meta.OnComplete(func(ch *event.Channel, execCtx interface{}, userCtx, engineCtx []byte) {
		e.sendToLocalRanksDone(gc)
	}, nil, nil, nil)

	e.channel.QueueMetaEvent(meta, e.spGlobalID, dests, nil, func(dest uint64) []byte {
		return payload
	})
}

// sendToLocalRanksDone is group_cache_send_to_local_ranks_cb (§4.5.1): it
// marks the current incarnation as fully delivered, drains any revokes that
// queued up while the send was in flight, and if that drain reaches
// group_size, starts the revoke-to-ranks broadcast. It acquires gc.mu
// itself since it runs from the meta-event's completion, asynchronous to
// the caller that originally queued the send.
func (e *Engine) sendToLocalRanksDone(gc *GroupCache) {
	gc.mu.Lock()
	gc.sendInFlight = false
	gc.Persistent.SentToHost = gc.Persistent.Num
	gc.NLocalRanksPopulated = gc.NLocalRanks
	gc.Topology.Populate()

	drained := gc.pendingRevokeCount
	gc.pendingRevokeCount = 0
	gc.Revokes.Global += drained
	startRevoke := gc.Revokes.Global >= gc.GroupSize && gc.GroupSize > 0
	seqNum := gc.Persistent.Num
	groupUID := gc.GroupUID
	gc.mu.Unlock()

	if startRevoke {
		e.broadcastRevokeToRanksLocked(groupUID, seqNum)
	}
}

// handleGroupRevokeFromSP is the receive callback for
// event.TypeGroupRevokeFromSP: an SP has observed that its cache incarnation
// is being superseded and tells the host so (§4.5.2). If a send to local
// ranks is currently in flight for this seq_num, the revoke is queued
// rather than applied immediately, preserving the ordering guarantee that a
// revoke for seq_num=k never takes effect before send-to-host for seq_num=k
// completes.
func (e *Engine) handleGroupRevokeFromSP(sourceID uint64, header, payload []byte) {
	groupUID, seqNum, ok := decodeRevokeHeader(header)
	if !ok {
		return
	}

	gc := e.group(groupUID)
	gc.mu.Lock()
	defer gc.mu.Unlock()

	if seqNum != gc.Persistent.Num {
		// Stale revoke for a superseded incarnation; nothing to do.
		Logger.Printf("W: rejecting stale GROUP_REVOKE_FROM_SP for group 0x%x seq_num %d (current %d)", groupUID, seqNum, gc.Persistent.Num)
		return
	}

	gc.Revokes.Local++
	if gc.sendInFlight || gc.Persistent.SentToHost != gc.Persistent.Num {
		// The cache has not yet been sent to the local ranks for this
		// incarnation (either a send is in flight, or it has never
		// completed at all) — queue the revoke rather than act on it now,
		// so revoke-to-ranks is never broadcast ahead of sent_to_host ==
		// num (§4.5.2; the original's revoke_group_cache asserts exactly
		// this precondition under !NDEBUG).
		gc.pendingRevokeCount++
		return
	}

	gc.Revokes.Global++
	if gc.Revokes.Global >= gc.GroupSize && gc.GroupSize > 0 {
		groupUIDCopy, seqNumCopy := gc.GroupUID, gc.Persistent.Num
		gc.mu.Unlock()
		e.broadcastRevokeToRanksLocked(groupUIDCopy, seqNumCopy)
		gc.mu.Lock()
	}
}

// broadcastRevokeToRanksLocked emits GROUP_REVOKE_TO_RANK to every locally
// connected rank client, then performs the hard reset of §4.5.2. It must be
// called without gc.mu held (it acquires it itself for the reset).
func (e *Engine) broadcastRevokeToRanksLocked(groupUID uint32, seqNum uint64) {
	gc := e.group(groupUID)
	header := encodeRevokeHeader(groupUID, seqNum)

	gc.mu.Lock()
	dests := make([]uint64, 0, len(gc.localRankClients))
	for _, ep := range gc.localRankClients {
		dests = append(dests, ep)
	}
	gc.Persistent.RevokeSendToHostPosted = true
	gc.Persistent.RevokeSentToHost = seqNum
	gc.mu.Unlock()

	for _, ep := range dests {
		h := e.channel.NewEvent(event.TypeGroupRevokeToRank)
		e.channel.Emit(h, e.spGlobalID, ep, header)
	}

	gc.mu.Lock()
	e.fireRevokeEvent(gc)
	gc.revokeResetLocked(e.channel)
	gc.mu.Unlock()
}

// handleGroupRevokeToRank is the receive callback for
// event.TypeGroupRevokeToRank: a local rank client receives this when its
// SP has decided the current incarnation is stale. It performs the same
// hard reset locally, so a rank-side cache and its SP's cache never
// disagree about incarnation state (§4.5.2).
func (e *Engine) handleGroupRevokeToRank(sourceID uint64, header, payload []byte) {
	groupUID, seqNum, ok := decodeRevokeHeader(header)
	if !ok {
		return
	}

	gc := e.group(groupUID)
	gc.mu.Lock()
	defer gc.mu.Unlock()

	if seqNum != gc.Persistent.Num {
		Logger.Printf("W: rejecting stale GROUP_REVOKE_TO_RANK for group 0x%x seq_num %d (current %d)", groupUID, seqNum, gc.Persistent.Num)
		return
	}
	e.fireRevokeEvent(gc)
	gc.revokeResetLocked(e.channel)
}

// handleSPDataToHost is the receive callback for event.TypeSPDataToHost:
// host_add_local_rank_to_cache (§4.5.1) arriving from a locally connected
// rank. The payload is ingested into this process's own cache as an ordinary
// PEER_CACHE_ENTRIES batch; it is not forwarded to any other SP.
func (e *Engine) handleSPDataToHost(sourceID uint64, header, payload []byte) {
	e.handlePeerCacheEntries(sourceID, header, payload)
}
