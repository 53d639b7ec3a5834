package groupcache

import (
	"sync"

	"github.com/clustermesh/groupcache/transport"
)

// fakeRequest is a transport.Request whose completion is driven explicitly
// by a test, standing in for an RDMA completion queue entry that hasn't
// landed yet.
type fakeRequest struct {
	mu     sync.Mutex
	status transport.ReqStatus
}

func (r *fakeRequest) Check() (transport.ReqStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status, nil
}

func (r *fakeRequest) complete() {
	r.mu.Lock()
	r.status = transport.ReqDone
	r.mu.Unlock()
}

// sentMsg records one call to fakeSender.Send for assertions.
type sentMsg struct {
	dest    uint64
	typ     uint64
	header  []byte
	payload []byte
}

// fakeSender is an in-memory transport.Sender: every Send is recorded and
// returns an in-progress request a test completes explicitly by calling
// complete() on it, so the test can hold an emission open across a
// simulated concurrent event (e.g. a revoke arriving during a meta-event's
// send window, §4.5.2's "Ordering guarantee").
type fakeSender struct {
	mu   sync.Mutex
	sent []sentMsg
	reqs []*fakeRequest
}

func (s *fakeSender) Send(destEP uint64, typ uint64, header, payload []byte) (transport.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentMsg{dest: destEP, typ: typ, header: header, payload: payload})
	r := &fakeRequest{status: transport.ReqInProgress}
	s.reqs = append(s.reqs, r)
	return r, nil
}

// completeAll marks every outstanding request Done, as if the transport's
// progress loop observed every in-flight send finish.
func (s *fakeSender) completeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.reqs {
		r.complete()
	}
}

func (s *fakeSender) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}
