package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewCandidates(t *testing.T) {
	raw := []byte("a,\"b\"\r\n\"c")
	c := NewCandidates(raw, DefaultDialect)

	assert.Equal(t, []int{1, 5}, c.Separators())
	assert.Equal(t, []int{2, 4, 7}, c.Quotes())
	assert.False(t, c.IsTerminator(0))
	assert.True(t, c.IsTerminator(1))
	assert.Equal(t, 2, c.width(1))
	assert.Equal(t, len(raw), c.Len())
}

func TestNewCandidates_QuoteAdjacency(t *testing.T) {
	// Quotes glued to data on both sides are never candidates.
	c := NewCandidates([]byte(`5"x,"y"z`), DefaultDialect)
	assert.Equal(t, []int{4}, c.Quotes())
}

func TestNewCandidates_BufferEdges(t *testing.T) {
	c := NewCandidates([]byte(`"ab"`), DefaultDialect)
	assert.Equal(t, []int{0, 3}, c.Quotes())
	assert.Empty(t, c.Separators())
}

func TestCandidates_Counting(t *testing.T) {
	// seps: , , \n , \n ,
	c := NewCandidates([]byte("a,b,c\nd,e\nf,g"), DefaultDialect)
	assert.Equal(t, 6, len(c.Separators()))

	assert.Equal(t, 2, c.delimsBetween(0, 2))
	assert.Equal(t, 1, c.termsBetween(0, 3))
	assert.Equal(t, 4, c.delimsBetween(0, 6))

	assert.Equal(t, 2, c.nthTermFrom(0, 0))
	assert.Equal(t, 4, c.nthTermFrom(0, 1))
	assert.Equal(t, 6, c.nthTermFrom(0, 2))
	assert.Equal(t, 4, c.nthTermFrom(3, 0))

	assert.Equal(t, 2, c.sepFrom(5))
	assert.Equal(t, 3, c.sepFrom(6))
}

func TestRankSet(t *testing.T) {
	s := NewRankSet(10)
	s.SetRange(2, 6)
	s.Set(8)
	s.Clear(3)

	assert.Equal(t, []int{2, 4, 5, 8}, s.Ranks())
	assert.Equal(t, 4, s.Count())

	first, ok := s.First()
	assert.True(t, ok)
	assert.Equal(t, 2, first)

	last, ok := s.Last()
	assert.True(t, ok)
	assert.Equal(t, 8, last)

	s.ClearRange(4, 9)
	assert.Equal(t, []int{2}, s.Ranks())

	c := s.Clone()
	c.Set(7)
	assert.False(t, s.Get(7))
	assert.True(t, c.Get(7))

	empty := NewRankSet(4)
	_, ok = empty.Last()
	assert.False(t, ok)
}
