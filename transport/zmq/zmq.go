// Package zmq is a reference implementation of the transport.Sender and
// transport.Poller contracts over ZeroMQ ROUTER/DEALER sockets, adapted
// from the teacher's own wiring in node.go (the `inbox` ROUTER socket and
// per-peer DEALER `mailbox`es in peer.go). It stands in for the "RDMA-
// capable messaging substrate with active-message callbacks" that §1 treats
// as an external collaborator: real deployments would swap this package
// for a libfabric/UCX binding without touching the core.
package zmq

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	zmq "github.com/pebbe/zmq4"

	"github.com/clustermesh/groupcache/transport"
)

// Conn is a ROUTER-bound endpoint with outgoing DEALER sockets to known
// peers, mirroring node.go's single inbox plus per-peer mailbox design.
type Conn struct {
	mu       sync.Mutex
	router   *zmq.Socket
	identity uint64
	peers    map[uint64]*zmq.Socket // destEP -> DEALER socket
	sourceOf map[string]uint64      // zmq routing identity -> numeric endpoint id
	recv     transport.ReceiveFunc
	bindAddr string
}

// NewRouter binds a ROUTER socket at bindAddr (e.g. "tcp://*:5670") and
// identifies this endpoint by id in outgoing frames, the same role the
// teacher's node.uuid plays when it stamps DEALER routing ids in peer.go's
// connect().
func NewRouter(id uint64, bindAddr string) (*Conn, error) {
	sock, err := zmq.NewSocket(zmq.ROUTER)
	if err != nil {
		return nil, err
	}
	if err := sock.Bind(bindAddr); err != nil {
		sock.Close()
		return nil, err
	}
	return &Conn{
		router:   sock,
		identity: id,
		peers:    make(map[uint64]*zmq.Socket),
		sourceOf: make(map[string]uint64),
		bindAddr: bindAddr,
	}, nil
}

// SetReceiveFunc installs the callback Progress invokes for inbound
// messages. It must be set before the first Progress call.
func (c *Conn) SetReceiveFunc(fn transport.ReceiveFunc) {
	c.mu.Lock()
	c.recv = fn
	c.mu.Unlock()
}

// Connect opens (or reuses) an outgoing DEALER socket to destEP at addr,
// tagging it with this endpoint's identity so the peer's ROUTER can
// attribute inbound frames, exactly as peer.connect does in the teacher.
func (c *Conn) Connect(destEP uint64, addr string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.peers[destEP]; ok {
		return nil
	}

	sock, err := zmq.NewSocket(zmq.DEALER)
	if err != nil {
		return err
	}

	var idBuf [9]byte
	idBuf[0] = 1 // non-zero leading byte; libzmq rejects all-zero identities
	binary.BigEndian.PutUint64(idBuf[1:], c.identity)
	if err := sock.SetIdentity(string(idBuf[:])); err != nil {
		sock.Close()
		return err
	}
	if err := sock.SetSndtimeo(0); err != nil {
		sock.Close()
		return err
	}
	if err := sock.Connect(addr); err != nil {
		sock.Close()
		return err
	}

	c.peers[destEP] = sock
	return nil
}

// frame wire layout: [8B type, big-endian][8B header length][header][payload]
func encodeFrame(typ uint64, header, payload []byte) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.BigEndian, typ)
	binary.Write(buf, binary.BigEndian, uint64(len(header)))
	buf.Write(header)
	buf.Write(payload)
	return buf.Bytes()
}

func decodeFrame(raw []byte) (typ uint64, header, payload []byte, err error) {
	if len(raw) < 16 {
		return 0, nil, nil, fmt.Errorf("zmq: short frame (%d bytes)", len(raw))
	}
	buf := bytes.NewReader(raw)
	binary.Read(buf, binary.BigEndian, &typ)
	var hlen uint64
	binary.Read(buf, binary.BigEndian, &hlen)
	rest := raw[16:]
	if uint64(len(rest)) < hlen {
		return 0, nil, nil, fmt.Errorf("zmq: truncated header")
	}
	header = rest[:hlen]
	payload = rest[hlen:]
	return typ, header, payload, nil
}

// request is the transport.Request returned for sends that complete
// synchronously (the only kind DEALER.Send produces: by the time it
// returns, libzmq has already copied the frame into its own queue).
type request struct{}

func (request) Check() (transport.ReqStatus, error) { return transport.ReqDone, nil }

// Send implements transport.Sender.
func (c *Conn) Send(destEP uint64, typ uint64, header, payload []byte) (transport.Request, error) {
	c.mu.Lock()
	sock, ok := c.peers[destEP]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("zmq: no connection to endpoint %d", destEP)
	}

	frame := encodeFrame(typ, header, payload)
	if _, err := sock.SendBytes(frame, 0); err != nil {
		return nil, err
	}
	return request{}, nil
}

// Progress implements transport.Poller: it drains whatever is waiting on
// the ROUTER socket without blocking, attributing each frame to the
// numeric endpoint id embedded in its DEALER identity, and dispatches to
// the installed ReceiveFunc — the active-message callback path §1 assigns
// to the RDMA substrate.
func (c *Conn) Progress(ctx context.Context) error {
	poller := zmq.NewPoller()
	poller.Add(c.router, zmq.POLLIN)

	for {
		sockets, err := poller.Poll(0)
		if err != nil {
			return err
		}
		if len(sockets) == 0 {
			return nil
		}

		frames, err := c.router.RecvMessageBytes(zmq.DONTWAIT)
		if err != nil {
			return nil //nolint: nilerr // EAGAIN on a lost race with another poll; try again next call
		}
		if len(frames) < 2 {
			continue
		}
		identity := frames[0]
		if len(identity) != 9 {
			continue
		}
		sourceID := binary.BigEndian.Uint64(identity[1:])

		typ, header, payload, err := decodeFrame(frames[1])
		if err != nil {
			continue
		}

		c.mu.Lock()
		recv := c.recv
		c.mu.Unlock()
		if recv != nil {
			recv(sourceID, typ, header, payload)
		}
	}
}

// Close releases the router socket and every outgoing peer socket.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.peers {
		s.Close()
	}
	return c.router.Close()
}
