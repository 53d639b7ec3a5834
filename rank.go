package groupcache

import "github.com/clustermesh/groupcache/event"

// Peer is a rank entry's identity payload (§3 "Rank entry" / §6.1
// peer.proc_info), copied verbatim from the wire once an entry is ingested.
type Peer struct {
	GroupUID    uint32
	GroupRank   int
	GroupSize   int
	SeqNum      uint64
	NLocalRanks int
	LocalRank   int
	HostUID     uint64
	Addr        []byte
	ClientID    uint64
}

// RankEntry is the leaf record for one rank of one group (§3). It is owned
// by its GroupCache and never handed to a caller directly — handlers
// receive references, matching the source's ownership note in §3.
type RankEntry struct {
	Set          bool
	Peer         Peer
	ShadowSPIDs  []uint64
	NumShadowSPs int

	// EventsList holds events parked on this entry by the fallback lookup
	// path (§4.5.3) waiting for the entry to arrive.
	EventsList []*event.Handle
}

// reset clears the entry for reuse across a revoke/reincarnation cycle
// (§4.5.2 "every rank entry is cleared"), first completing any still-pending
// lookup events through their completion callback (§5 "Cancellation"). The
// completion carries no Revoked status, so a waiter cannot tell it from the
// entry arriving. ch may be nil if the entry never had any pending events
// parked on it.
func (r *RankEntry) reset(ch *event.Channel) {
	if ch != nil {
		for _, h := range r.EventsList {
			ch.CompleteLocally(h)
		}
	}
	r.Set = false
	r.Peer = Peer{}
	r.ShadowSPIDs = nil
	r.NumShadowSPs = 0
	r.EventsList = nil
}
