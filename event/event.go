// Package event implements the group cache's typed, one-way event channel
// (§4.2): a numeric event type is bound to a receive callback at the
// registering side, and emission on the sending side returns a handle that
// tracks completion, including the conjunction-of-children completion rule
// for meta-events.
//
// The shape is a generalization of the teacher's node actor loop
// (node.go's handler(), built around a single hardcoded `*Event` with an
// `EventType` switch in event.go) into a runtime type->callback registry:
// where the teacher's handler() has one switch statement covering six
// fixed ZRE commands, this channel lets any number of types register
// independently, the way a real transport multiplexes many protocols over
// one connection.
package event

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/xid"

	"github.com/clustermesh/groupcache/pool"
	"github.com/clustermesh/groupcache/transport"
)

// Type is a 64-bit event-type tag. The low range is reserved for the core;
// user types start at UserTypeBase.
type Type uint64

// Reserved system types (§4.2).
const (
	TypePeerCacheEntries Type = iota + 1
	TypeGroupRevokeFromSP
	TypeGroupRevokeToRank
	TypeSPDataToHost
	TypeMetaEvent
	TypeTerm

	// UserTypeBase is the first type code available to callers outside the
	// core; type codes below it are reserved.
	UserTypeBase Type = 1 << 16
)

// ErrAlreadyRegistered is returned by Register when a type already has a
// callback bound.
var ErrAlreadyRegistered = errors.New("event: type already registered")

// ReceiveCallback handles an inbound message for a registered type. It must
// not block and must not retain payload past the call (§4.2 "Receive
// callback contract").
type ReceiveCallback func(sourceID uint64, header []byte, payload []byte)

// CompletionCallback is invoked exactly once when an event (ordinary or
// meta) completes. engineCtx/userCtx mirror the source's
// (user_context, engine_context) pair; Go slices carry their own length so
// no separate _len parameters are needed.
type CompletionCallback func(ch *Channel, execCtx interface{}, userCtx []byte, engineCtx []byte)

// Status is the outcome of Emit.
type Status int

const (
	// Done means the send completed synchronously; the caller's buffer may
	// be reused immediately and any completion callback has already run.
	Done Status = iota
	// InProgress means the event retains its payload until the transport
	// reports completion via Channel.Progress.
	InProgress
)

func (s Status) String() string {
	if s == Done {
		return "Done"
	}
	return "InProgress"
}

// Channel is the event-channel substrate: a type->callback registry plus
// the bookkeeping needed to track in-flight emissions and meta-events.
type Channel struct {
	mu        sync.Mutex
	callbacks map[Type]ReceiveCallback
	sender    transport.Sender

	handles   *pool.Pool[Handle]
	inFlight  map[*Handle]struct{}
}

// NewChannel creates a channel that emits through sender. sender may be
// nil for a channel used only to exercise meta-event fan-out in tests.
func NewChannel(sender transport.Sender) *Channel {
	c := &Channel{
		callbacks: make(map[Type]ReceiveCallback),
		sender:    sender,
		inFlight:  make(map[*Handle]struct{}),
	}
	c.handles = pool.New(256,
		func() *Handle { return &Handle{} },
		func(h *Handle) { h.reset() },
	)
	return c
}

// Register binds typ to cb. Registering the same type twice fails with
// ErrAlreadyRegistered (§4.2).
func (c *Channel) Register(typ Type, cb ReceiveCallback) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.callbacks[typ]; exists {
		return errors.Wrapf(ErrAlreadyRegistered, "type %d", typ)
	}
	c.callbacks[typ] = cb
	return nil
}

// Deregister removes any callback bound to typ.
func (c *Channel) Deregister(typ Type) {
	c.mu.Lock()
	delete(c.callbacks, typ)
	c.mu.Unlock()
}

// Deliver is called by the transport's receive loop for every inbound
// message; it looks up the registered callback for typ and invokes it.
// Messages for unregistered types are silently dropped, matching the
// source's behavior of ignoring unrecognized wire types.
func (c *Channel) Deliver(sourceID uint64, typ Type, header, payload []byte) {
	c.mu.Lock()
	cb := c.callbacks[typ]
	c.mu.Unlock()

	if cb != nil {
		cb(sourceID, header, payload)
	}
}

// Progress advances all in-flight emissions by asking the transport to
// check each one, completing those that have finished. It is the
// non-blocking counterpart to §6.2's transport-level progress(context);
// the engine's single progress thread calls it on every iteration.
func (c *Channel) Progress() {
	c.mu.Lock()
	pending := make([]*Handle, 0, len(c.inFlight))
	for h := range c.inFlight {
		pending = append(pending, h)
	}
	c.mu.Unlock()

	for _, h := range pending {
		if h.req == nil {
			continue
		}
		status, err := h.req.Check()
		if status == transport.ReqInProgress && err == nil {
			continue
		}
		c.mu.Lock()
		delete(c.inFlight, h)
		c.mu.Unlock()
		c.finish(h, err)
	}
}

// HandlePool exposes the channel's event-handle pool so callers (e.g.
// metrics.Collector) can report its in-use/capacity without reaching into
// Channel's other internals.
func (c *Channel) HandlePool() *pool.Pool[Handle] {
	return c.handles
}

// NewEvent acquires a handle from the channel's pool and initializes it as
// an ordinary (non-meta, non-subevent) event of the given type.
func (c *Channel) NewEvent(typ Type) *Handle {
	h := c.handles.Acquire()
	h.id = xid.New()
	h.typ = typ
	return h
}

// NewMetaEvent acquires a handle configured as a meta-event (§4.2): it
// completes only once every sub-event added via AddSubEvent has completed.
func (c *Channel) NewMetaEvent() *Handle {
	h := c.NewEvent(TypeMetaEvent)
	h.isMeta = true
	return h
}

// AddSubEvent marks child as belonging to parent's fan-out set. child must
// not yet have been emitted. A sub-event's own completion callback (if any)
// is never invoked directly; only parent's completion fires, once every
// sub-event is done (§4.2).
func (parent *Handle) AddSubEvent(child *Handle) {
	child.isSubevent = true
	child.parent = parent
	parent.mu.Lock()
	parent.subEvents = append(parent.subEvents, child)
	parent.mu.Unlock()
}

// OnComplete installs h's completion callback and context, to be invoked
// exactly once when h completes (§4.2 "Completion contract").
func (h *Handle) OnComplete(cb CompletionCallback, execCtx interface{}, userCtx, engineCtx []byte) {
	h.completionCB = cb
	h.execCtx = execCtx
	h.userCtx = userCtx
	h.engineCtx = engineCtx
}

// SetPayload attaches payload to reserve buffer ownership semantics; it
// must not be mutated again until the event completes when Emit returns
// InProgress.
func (h *Handle) SetPayload(payload []byte) { h.payload = payload }

// Emit sends h's payload to dest over the channel's transport and returns
// whether it completed synchronously. Emit is safe to call with a
// zero-length payload (§4.2, type-only notification).
func (c *Channel) Emit(h *Handle, myID, destEP uint64, header []byte) (Status, error) {
	if c.sender == nil {
		return Done, errors.New("event: channel has no sender configured")
	}

	req, err := c.sender.Send(destEP, uint64(h.typ), header, h.payload)
	if err != nil {
		c.finish(h, err)
		return Done, errors.Wrap(err, "event: transport error on emit")
	}

	if req == nil {
		// Synchronous completion: buffer reusable immediately, completion
		// callback already fired within finish().
		c.finish(h, nil)
		return Done, nil
	}

	status, err := req.Check()
	if err == nil && status == transport.ReqDone {
		c.finish(h, nil)
		return Done, nil
	}
	if err != nil {
		c.finish(h, err)
		return Done, errors.Wrap(err, "event: transport error on emit")
	}

	h.req = req
	c.mu.Lock()
	c.inFlight[h] = struct{}{}
	c.mu.Unlock()
	return InProgress, nil
}

// finish completes h: if h is a sub-event, it is removed from its parent's
// list, possibly completing the parent in turn; otherwise h's own
// completion callback (if any) is invoked. In every case h is returned to
// the pool once no longer referenced by a parent.
func (c *Channel) finish(h *Handle, transportErr error) {
	if h.isSubevent {
		parent := h.parent
		parent.mu.Lock()
		for i, sub := range parent.subEvents {
			if sub == h {
				parent.subEvents = append(parent.subEvents[:i], parent.subEvents[i+1:]...)
				break
			}
		}
		empty := len(parent.subEvents) == 0
		parent.mu.Unlock()

		c.handles.Release(h)

		if empty {
			c.completeOrdinary(parent)
		}
		return
	}

	if h.isMeta {
		h.mu.Lock()
		empty := len(h.subEvents) == 0
		h.mu.Unlock()
		if !empty {
			// Sub-events were enqueued but have not all finished yet; the
			// meta-event completes later, as each sub-event finishes.
			return
		}
	}

	c.completeOrdinary(h)
}

// CompleteLocally completes h immediately without a transport round trip
// and without touching the in-flight set, for synthetic completions that
// originate inside the core itself — e.g. a pending lookup event that a
// revoke resolves synchronously rather than waiting on a wire reply (§5
// "Cancellation").
func (c *Channel) CompleteLocally(h *Handle) {
	c.completeOrdinary(h)
}

// completeOrdinary invokes h's completion callback (if any) and releases h
// back to the pool. Called for plain events and for meta-events once their
// sub-event list has emptied.
func (c *Channel) completeOrdinary(h *Handle) {
	if h.completionCB != nil {
		h.completionCB(c, h.execCtx, h.userCtx, h.engineCtx)
	}
	c.handles.Release(h)
}

// QueueMetaEvent emits every sub-event currently attached to meta and
// returns immediately; the meta-event's own completion callback fires
// later (possibly before this call returns, if every sub-event completes
// synchronously, matching §4.2's "already empty at queue time" case).
func (c *Channel) QueueMetaEvent(meta *Handle, myID uint64, dests []uint64, header []byte, perDestPayload func(dest uint64) []byte) {
	meta.mu.Lock()
	subs := append([]*Handle(nil), meta.subEvents...)
	meta.mu.Unlock()

	if len(subs) == 0 {
		c.completeOrdinary(meta)
		return
	}

	for i, sub := range subs {
		dest := dests[i]
		sub.SetPayload(perDestPayload(dest))
		c.Emit(sub, myID, dest, header)
	}
}
