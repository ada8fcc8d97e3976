package resolve

import "slices"

// Candidates holds every byte offset that might be structural. Separators
// are delimiter bytes and row terminators; a CR LF pair is one terminator
// recorded at the CR. Quotes are only recorded when they touch a separator
// or a buffer boundary, since a quote glued to data on both sides can never
// open or close a field.
type Candidates struct {
	raw     []byte
	dialect Dialect

	seps   []int
	quotes []int

	// termsBefore[i] counts the terminators among seps[:i].
	termsBefore []int
}

// NewCandidates scans raw once and records its candidates in ascending order.
func NewCandidates(raw []byte, d Dialect) *Candidates {
	c := &Candidates{raw: raw, dialect: d}
	c.termsBefore = append(c.termsBefore, 0)
	terms := 0

	for i := 0; i < len(raw); i++ {
		b := raw[i]
		switch {
		case isTerminator(b):
			c.seps = append(c.seps, i)
			terms++
			c.termsBefore = append(c.termsBefore, terms)
			if b == '\r' && i+1 < len(raw) && raw[i+1] == '\n' {
				i++
			}
		case b == d.Delimiter:
			c.seps = append(c.seps, i)
			c.termsBefore = append(c.termsBefore, terms)
		case b == d.Quote:
			prevSep := i == 0 || d.isSeparator(raw[i-1])
			nextSep := i == len(raw)-1 || d.isSeparator(raw[i+1])
			if prevSep || nextSep {
				c.quotes = append(c.quotes, i)
			}
		}
	}
	return c
}

// Raw returns the buffer the candidates were built from.
func (c *Candidates) Raw() []byte { return c.raw }

// Dialect returns the dialect used for the scan.
func (c *Candidates) Dialect() Dialect { return c.dialect }

// Len returns the buffer length.
func (c *Candidates) Len() int { return len(c.raw) }

// Separators returns the separator offsets. The slice must not be modified.
func (c *Candidates) Separators() []int { return c.seps }

// Quotes returns the quote candidate offsets. The slice must not be modified.
func (c *Candidates) Quotes() []int { return c.quotes }

// IsTerminator reports whether separator rank r is a row terminator.
func (c *Candidates) IsTerminator(r int) bool {
	return isTerminator(c.raw[c.seps[r]])
}

// width is the byte length of separator rank r.
func (c *Candidates) width(r int) int {
	off := c.seps[r]
	if c.raw[off] == '\r' && off+1 < len(c.raw) && c.raw[off+1] == '\n' {
		return 2
	}
	return 1
}

// sepFrom returns the rank of the first separator at or after off.
func (c *Candidates) sepFrom(off int) int {
	r, _ := slices.BinarySearch(c.seps, off)
	return r
}

// quoteAt returns the rank of the quote candidate at off.
func (c *Candidates) quoteAt(off int) (int, bool) {
	return slices.BinarySearch(c.quotes, off)
}

// delimsBetween counts delimiter separators among ranks [from, to).
func (c *Candidates) delimsBetween(from, to int) int {
	return (to - from) - (c.termsBefore[to] - c.termsBefore[from])
}

// termsBetween counts terminators among ranks [from, to).
func (c *Candidates) termsBetween(from, to int) int {
	return c.termsBefore[to] - c.termsBefore[from]
}

// nthTermFrom returns the rank of the n-th (0-based) terminator at or after
// rank from, or len(seps) when there is none.
func (c *Candidates) nthTermFrom(from, n int) int {
	want := c.termsBefore[from] + n + 1
	// termsBefore is non-decreasing; the terminator sits just before the
	// first index whose count reaches want.
	i, _ := slices.BinarySearch(c.termsBefore, want)
	if i >= len(c.termsBefore) {
		return len(c.seps)
	}
	return i - 1
}
