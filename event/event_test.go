package event

import (
	"sync"
	"testing"

	"github.com/pkg/errors"

	"github.com/clustermesh/groupcache/transport"
)

// fakeRequest/fakeSender mirror a real transport: Send returns an
// in-progress request that a test completes explicitly, exercising the
// same asynchronous completion path Channel.Progress drives in production.
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

type fakeSender struct {
	mu   sync.Mutex
	reqs []*fakeRequest
	sent []uint64 // dest endpoints, in send order
}

func (s *fakeSender) Send(destEP uint64, typ uint64, header, payload []byte) (transport.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, destEP)
	r := &fakeRequest{status: transport.ReqInProgress}
	s.reqs = append(s.reqs, r)
	return r, nil
}

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

// syncDoneSender completes every send synchronously, the "Done" branch of
// Emit's contract: the buffer is reusable immediately and the completion
// callback has already run by the time Emit returns.
type syncDoneSender struct{}

func (syncDoneSender) Send(destEP, typ uint64, header, payload []byte) (transport.Request, error) {
	return nil, nil
}

// errSender fails every send, exercising Emit's TransportError path.
type errSender struct{}

func (errSender) Send(destEP, typ uint64, header, payload []byte) (transport.Request, error) {
	return nil, errors.New("boom")
}

func TestRegisterTwiceFails(t *testing.T) {
	ch := NewChannel(nil)
	cb := func(uint64, []byte, []byte) {}

	if err := ch.Register(TypePeerCacheEntries, cb); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := ch.Register(TypePeerCacheEntries, cb); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("second Register = %v, want ErrAlreadyRegistered", err)
	}
}

func TestDeregisterAllowsReregistration(t *testing.T) {
	ch := NewChannel(nil)
	cb := func(uint64, []byte, []byte) {}
	ch.Register(TypePeerCacheEntries, cb)
	ch.Deregister(TypePeerCacheEntries)
	if err := ch.Register(TypePeerCacheEntries, cb); err != nil {
		t.Fatalf("Register after Deregister: %v", err)
	}
}

func TestDeliverDispatchesRegisteredType(t *testing.T) {
	ch := NewChannel(nil)
	var gotSrc uint64
	var gotPayload []byte
	ch.Register(TypePeerCacheEntries, func(src uint64, header, payload []byte) {
		gotSrc = src
		gotPayload = payload
	})

	ch.Deliver(7, TypePeerCacheEntries, nil, []byte("hi"))

	if gotSrc != 7 || string(gotPayload) != "hi" {
		t.Fatalf("callback got (%d, %q), want (7, \"hi\")", gotSrc, gotPayload)
	}
}

func TestDeliverDropsUnregisteredType(t *testing.T) {
	ch := NewChannel(nil)
	// No callback registered for TypeTerm; must not panic.
	ch.Deliver(1, TypeTerm, nil, nil)
}

func TestEmitSynchronousDoneInvokesCallback(t *testing.T) {
	ch := NewChannel(syncDoneSender{})
	h := ch.NewEvent(TypePeerCacheEntries)
	var called bool
	h.OnComplete(func(*Channel, interface{}, []byte, []byte) { called = true }, nil, nil, nil)

	status, err := ch.Emit(h, 1, 2, nil)
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if status != Done {
		t.Fatalf("status = %v, want Done", status)
	}
	if !called {
		t.Fatal("completion callback should have fired synchronously on Done")
	}
}

func TestEmitTransportErrorSurfaces(t *testing.T) {
	ch := NewChannel(errSender{})
	h := ch.NewEvent(TypePeerCacheEntries)

	if _, err := ch.Emit(h, 1, 2, nil); err == nil {
		t.Fatal("expected a transport error to surface from Emit")
	}
}

func TestEmitZeroLengthPayload(t *testing.T) {
	ch := NewChannel(syncDoneSender{})
	h := ch.NewEvent(TypeTerm)
	// No SetPayload call: h.payload stays nil, the type-only notification
	// case §4.2 requires Emit to support.
	if _, err := ch.Emit(h, 1, 2, nil); err != nil {
		t.Fatalf("Emit with zero-length payload: %v", err)
	}
}

func TestMetaEventCompletesWhenAllSubEventsFinish(t *testing.T) {
	sender := &fakeSender{}
	ch := NewChannel(sender)

	meta := ch.NewMetaEvent()
	var completed bool
	meta.OnComplete(func(*Channel, interface{}, []byte, []byte) { completed = true }, nil, nil, nil)

	sub1 := ch.NewEvent(TypePeerCacheEntries)
	sub2 := ch.NewEvent(TypePeerCacheEntries)
	meta.AddSubEvent(sub1)
	meta.AddSubEvent(sub2)

	if got, want := meta.Pending(), 2; got != want {
		t.Fatalf("Pending() = %d, want %d", got, want)
	}

	ch.QueueMetaEvent(meta, 1, []uint64{10, 20}, nil, func(dest uint64) []byte { return []byte{byte(dest)} })

	if completed {
		t.Fatal("meta-event must not complete while sub-events are still in flight")
	}
	if got := sender.sentCount(); got != 2 {
		t.Fatalf("sentCount = %d, want 2 (one send per sub-event)", got)
	}

	sender.completeAll()
	ch.Progress()

	if !completed {
		t.Fatal("meta-event should complete once every sub-event has finished")
	}
}

func TestMetaEventEmptyAtQueueTimeCompletesImmediately(t *testing.T) {
	ch := NewChannel(nil)
	meta := ch.NewMetaEvent()
	var completed bool
	meta.OnComplete(func(*Channel, interface{}, []byte, []byte) { completed = true }, nil, nil, nil)

	// No sub-events were ever added: this is the "already empty at queue
	// time" case of §4.2, which must complete synchronously without
	// touching the (nil) sender.
	ch.QueueMetaEvent(meta, 1, nil, nil, func(uint64) []byte { return nil })

	if !completed {
		t.Fatal("an empty meta-event must complete immediately at queue time")
	}
}

func TestCompleteLocallyBypassesTransport(t *testing.T) {
	ch := NewChannel(nil)
	h := ch.NewEvent(UserTypeBase)
	var called bool
	h.OnComplete(func(*Channel, interface{}, []byte, []byte) { called = true }, nil, nil, nil)

	ch.CompleteLocally(h)

	if !called {
		t.Fatal("CompleteLocally should invoke the completion callback without a transport round trip")
	}
}

func TestHandlePartialSubEventCompletionDoesNotFireParent(t *testing.T) {
	sender := &fakeSender{}
	ch := NewChannel(sender)

	meta := ch.NewMetaEvent()
	var completed bool
	meta.OnComplete(func(*Channel, interface{}, []byte, []byte) { completed = true }, nil, nil, nil)

	sub1 := ch.NewEvent(TypePeerCacheEntries)
	sub2 := ch.NewEvent(TypePeerCacheEntries)
	meta.AddSubEvent(sub1)
	meta.AddSubEvent(sub2)

	ch.QueueMetaEvent(meta, 1, []uint64{10, 20}, nil, func(dest uint64) []byte { return nil })

	// Complete only the first outstanding request.
	sender.mu.Lock()
	sender.reqs[0].complete()
	sender.mu.Unlock()
	ch.Progress()

	if completed {
		t.Fatal("meta-event must not complete while one sub-event is still outstanding")
	}
	if got, want := meta.Pending(), 1; got != want {
		t.Fatalf("Pending() = %d, want %d", got, want)
	}
}
