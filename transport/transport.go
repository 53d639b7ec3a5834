// Package transport declares the collaborator contracts the core consumes
// (§6.2) without implementing them: an out-of-band TCP handshake plus an
// RDMA-capable messaging substrate with active-message callbacks, treated
// throughout this module as an external dependency. transport/zmq provides
// one concrete adapter over ZeroMQ for tests and the cmd/groupcached demo.
package transport

import "context"

// ReqStatus is the outcome of checking an in-flight send request.
type ReqStatus int

const (
	// ReqDone means the request has completed and its buffer may be freed.
	ReqDone ReqStatus = iota
	// ReqInProgress means the request has not yet completed.
	ReqInProgress
	// ReqErr means the request failed; the accompanying error has detail.
	ReqErr
)

// Request is a single outstanding send, as returned by Sender.Send. It must
// be cheap to poll repeatedly and freeable once Check reports ReqDone or
// ReqErr.
type Request interface {
	Check() (ReqStatus, error)
}

// Sender is the minimal transport send contract (§6.2): emit a typed
// message to an endpoint, with an optional header frame, returning a
// Request to track completion. A nil Request with a nil error means the
// send completed synchronously.
type Sender interface {
	Send(destEP uint64, typ uint64, header, payload []byte) (Request, error)
}

// ReceiveFunc is invoked by a Poller for every inbound message. It must not
// block and must not retain payload past the call (§4.2).
type ReceiveFunc func(sourceID uint64, typ uint64, header, payload []byte)

// Poller drives the transport: it advances outstanding Requests and
// invokes the receive callback for newly arrived messages. Progress must
// be non-blocking and safe to call in a tight loop from a single progress
// thread (§5).
type Poller interface {
	Progress(ctx context.Context) error
}

// EndpointResolver caches transport-level endpoints for peer SPs and
// locally connected rank clients (§6.2 "Endpoint resolution").
type EndpointResolver interface {
	// SPEndpoint returns the endpoint for a peer SP by its global ID.
	SPEndpoint(spGID uint64) (endpoint uint64, ok bool)
	// RankClientEndpoint returns the endpoint for a locally connected rank
	// client by its client id.
	RankClientEndpoint(clientID uint64) (endpoint uint64, ok bool)
}
