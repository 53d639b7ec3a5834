package event

import (
	"sync"

	"github.com/rs/xid"

	"github.com/clustermesh/groupcache/transport"
)

// Handle is an event handle (§3 "Event handle"): it is owned by exactly one
// of the free pool, a parent's sub-event list, a rank entry's pending-event
// list, or the transport's in-flight set at any given moment — never more
// than one simultaneously, per the source's own documented constraint.
type Handle struct {
	id   xid.ID
	typ  Type

	isMeta     bool
	isSubevent bool

	mu        sync.Mutex
	parent    *Handle
	subEvents []*Handle

	completionCB CompletionCallback
	execCtx      interface{}
	userCtx      []byte
	engineCtx    []byte

	req     transport.Request
	payload []byte
}

// ID returns the handle's correlation tag, used for logging and metrics.
func (h *Handle) ID() xid.ID { return h.id }

// Type returns the event's type code.
func (h *Handle) Type() Type { return h.typ }

// IsMeta reports whether h is a meta-event.
func (h *Handle) IsMeta() bool { return h.isMeta }

// Pending reports the number of sub-events still outstanding on a
// meta-event.
func (h *Handle) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subEvents)
}

func (h *Handle) reset() {
	h.id = xid.ID{}
	h.typ = 0
	h.isMeta = false
	h.isSubevent = false
	h.parent = nil
	h.subEvents = nil
	h.completionCB = nil
	h.execCtx = nil
	h.userCtx = nil
	h.engineCtx = nil
	h.req = nil
	h.payload = nil
}
