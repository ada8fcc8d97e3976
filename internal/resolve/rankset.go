package resolve

import "github.com/bits-and-blooms/bitset"

// RankSet is a bit-indexed set over candidate rank.
type RankSet struct {
	bits *bitset.BitSet
}

// NewRankSet returns an empty set sized for n ranks.
func NewRankSet(n int) RankSet {
	return RankSet{bits: bitset.New(uint(n))}
}

// Get reports whether rank i is in the set.
func (s RankSet) Get(i int) bool {
	return s.bits.Test(uint(i))
}

// Set adds rank i.
func (s RankSet) Set(i int) {
	s.bits.Set(uint(i))
}

// Clear removes rank i.
func (s RankSet) Clear(i int) {
	s.bits.Clear(uint(i))
}

// SetRange adds every rank in [from, to).
func (s RankSet) SetRange(from, to int) {
	for i := from; i < to; i++ {
		s.bits.Set(uint(i))
	}
}

// ClearRange removes every rank in [from, to).
func (s RankSet) ClearRange(from, to int) {
	for i, ok := s.Next(from); ok && i < to; i, ok = s.Next(i + 1) {
		s.bits.Clear(uint(i))
	}
}

// Next returns the first rank >= i in the set.
func (s RankSet) Next(i int) (int, bool) {
	if i < 0 {
		i = 0
	}
	n, ok := s.bits.NextSet(uint(i))
	return int(n), ok
}

// First returns the lowest rank in the set.
func (s RankSet) First() (int, bool) {
	return s.Next(0)
}

// Last returns the highest rank in the set.
func (s RankSet) Last() (int, bool) {
	last, found := -1, false
	for i, ok := s.First(); ok; i, ok = s.Next(i + 1) {
		last, found = i, true
	}
	return last, found
}

// Count returns the number of ranks in the set.
func (s RankSet) Count() int {
	return int(s.bits.Count())
}

// Clone returns an independent copy.
func (s RankSet) Clone() RankSet {
	return RankSet{bits: s.bits.Clone()}
}

// Ranks lists the members in ascending order.
func (s RankSet) Ranks() []int {
	var out []int
	for i, ok := s.First(); ok; i, ok = s.Next(i + 1) {
		out = append(out, i)
	}
	return out
}
