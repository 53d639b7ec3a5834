package pool

import "testing"

type widget struct {
	val int
}

func TestAcquireReleaseRoundTrip(t *testing.T) {
	p := New(4, func() *widget { return &widget{val: -1} }, func(w *widget) { w.val = -1 })

	a := p.Acquire()
	a.val = 42
	p.Release(a)

	b := p.Acquire()
	if b.val != -1 {
		t.Errorf("expected released item to be reset, got %d", b.val)
	}
	if b != a {
		t.Error("expected Acquire to return the just-released item (LIFO reuse)")
	}
}

func TestGrowsInChunks(t *testing.T) {
	p := New(2, func() *widget { return &widget{} }, nil)
	if got, want := p.Capacity(), 2; got != want {
		t.Fatalf("Capacity() = %d, want %d", got, want)
	}

	items := make([]*widget, 5)
	for i := range items {
		items[i] = p.Acquire()
	}
	if got, want := p.Capacity(), 6; got != want {
		t.Errorf("Capacity() = %d, want %d after exhausting two chunks", got, want)
	}
	if got, want := p.InUse(), 5; got != want {
		t.Errorf("InUse() = %d, want %d", got, want)
	}
}

func TestReleaseNilIsNoop(t *testing.T) {
	p := New(1, func() *widget { return &widget{} }, nil)
	before := p.InUse()
	p.Release(nil)
	if p.InUse() != before {
		t.Error("Release(nil) should not change InUse count")
	}
}
