package groupcache

import "github.com/clustermesh/groupcache/event"

// CacheEntryRequest is the pooled record backing the fallback cache-entry
// request path (§4.5.3): acquired by RequestRankEntry for a rank that has not
// yet arrived when EnableFallbackLookup is set. Its Handle is parked on the
// target rank's EventsList until the entry ingests or the group is revoked;
// no request is sent on the wire.
type CacheEntryRequest struct {
	GroupUID  uint32
	GroupRank int
	Handle    *event.Handle
}

// RequestRankEntry parks a lookup for (groupUID, groupRank) and returns the
// event handle a caller can attach a completion callback to. It returns
// ErrNotInGroup if no cache exists yet for groupUID, matching the query
// surface's error contract (§4.6). Only meaningful when EnableFallbackLookup
// is true; callers that leave it false should rely on the ordinary ingest
// path instead.
func (e *Engine) RequestRankEntry(groupUID uint32, groupRank int) (*event.Handle, error) {
	if !EnableFallbackLookup {
		return nil, newError(KindNotFound, "fallback lookup disabled")
	}

	gc, ok := e.Group(groupUID)
	if !ok {
		return nil, ErrNotInGroup
	}

	gc.mu.Lock()
	defer gc.mu.Unlock()

	if groupRank < 0 || groupRank >= len(gc.Ranks) {
		return nil, ErrNotInGroup
	}
	entry := gc.Ranks[groupRank]
	if entry.Set {
		return nil, nil // already present, nothing to wait for
	}

	req := e.reqPool.Acquire()
	req.GroupUID = groupUID
	req.GroupRank = groupRank

	h := e.channel.NewEvent(event.UserTypeBase)
	req.Handle = h
	entry.EventsList = append(entry.EventsList, h)
	return h, nil
}
