package bitset

import "testing"

func TestSetAndTest(t *testing.T) {
	s := New(128)
	s.Set(0)
	s.Set(63)
	s.Set(64)
	s.Set(127)

	for _, i := range []int{0, 63, 64, 127} {
		if !s.Test(i) {
			t.Errorf("expected bit %d to be set", i)
		}
	}
	if s.Test(1) {
		t.Error("expected bit 1 to be clear")
	}
	if got, want := s.Count(), 4; got != want {
		t.Errorf("Count() = %d, want %d", got, want)
	}
}

func TestIterateAscending(t *testing.T) {
	s := New(200)
	for _, i := range []int{150, 2, 99, 0, 64} {
		s.Set(i)
	}

	var got []int
	s.Iterate(func(i int) bool {
		got = append(got, i)
		return true
	})

	want := []int{0, 2, 64, 99, 150}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestIterateEarlyStop(t *testing.T) {
	s := New(10)
	s.Set(1)
	s.Set(2)
	s.Set(3)

	count := 0
	s.Iterate(func(i int) bool {
		count++
		return i != 2
	})
	if count != 2 {
		t.Errorf("expected early stop after 2 callbacks, got %d", count)
	}
}

func TestResetClearsWithoutReallocating(t *testing.T) {
	s := New(64)
	s.Set(10)
	s.Set(20)
	before := &s.words[0]

	s.Reset()

	if s.Count() != 0 {
		t.Errorf("expected empty bitset after Reset, got count %d", s.Count())
	}
	if &s.words[0] != before {
		t.Error("Reset reallocated backing storage")
	}
}

func TestSliceMatchesIterate(t *testing.T) {
	s := New(300)
	s.Set(5)
	s.Set(250)
	s.Set(17)

	got := s.Slice()
	want := []int{5, 17, 250}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
