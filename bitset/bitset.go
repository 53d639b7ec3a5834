// Package bitset implements a dense, word-packed bitset sized once at
// construction and never shrunk. Group caches use it to track which SPs,
// hosts and ranks participate in a group; sizes run from a few dozen bits
// up to a few million, so a packed []uint64 beats a map[int]bool or a
// []bool by a wide margin on both memory and Count.
package bitset

import "math/bits"

const wordBits = 64

// Set is a fixed-capacity bitset; its size is set by New and never changes.
// The zero value is not usable; construct with New.
type Set struct {
	words []uint64
	n     int // capacity in bits
}

// New returns a bitset able to address bits [0, n).
func New(n int) *Set {
	if n < 0 {
		n = 0
	}
	return &Set{
		words: make([]uint64, (n+wordBits-1)/wordBits),
		n:     n,
	}
}

// Len reports the bitset's bit capacity.
func (s *Set) Len() int { return s.n }

// Set sets bit i. It does no range check of its own, matching the source's
// assumption that callers never address a bit outside the group: an i past
// the backing words panics, while an i at or beyond Len inside the last word
// is stored without error.
func (s *Set) Set(i int) {
	s.words[i/wordBits] |= 1 << uint(i%wordBits)
}

// Clear clears bit i.
func (s *Set) Clear(i int) {
	s.words[i/wordBits] &^= 1 << uint(i%wordBits)
}

// Test reports whether bit i is set.
func (s *Set) Test(i int) bool {
	return s.words[i/wordBits]&(1<<uint(i%wordBits)) != 0
}

// Count returns the number of set bits (popcount).
func (s *Set) Count() int {
	n := 0
	for _, w := range s.words {
		n += bits.OnesCount64(w)
	}
	return n
}

// Reset clears every bit without reallocating the backing storage, so a
// group cache can reuse its bitsets across a revoke/reincarnation cycle.
func (s *Set) Reset() {
	for i := range s.words {
		s.words[i] = 0
	}
}

// Iterate calls fn once for every set bit, in ascending order, stopping
// early if fn returns false.
func (s *Set) Iterate(fn func(i int) bool) {
	for wi, w := range s.words {
		for w != 0 {
			tz := bits.TrailingZeros64(w)
			i := wi*wordBits + tz
			if i >= s.n {
				return
			}
			if !fn(i) {
				return
			}
			w &= w - 1 // clear lowest set bit
		}
	}
}

// Slice returns the set bits as an ascending, freshly allocated []int. Most
// callers that need a dense array (§4.4 "derived arrays") go through this.
func (s *Set) Slice() []int {
	out := make([]int, 0, s.Count())
	s.Iterate(func(i int) bool {
		out = append(out, i)
		return true
	})
	return out
}
