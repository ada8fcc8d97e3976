package resolve

import (
	"bytes"
	"iter"
)

// Cell is one extracted field.
type Cell struct {
	Row    int
	Column int
	// Data aliases the input buffer unless the field held doubled quotes.
	Data   []byte
	Quoted bool
	// Start and End bound the raw field, quotes included.
	Start, End int
}

// Extractor walks a Solution once, front to back. It cannot be restarted;
// call Solution.Cells again for a fresh pass.
type Extractor struct {
	sol *Solution
	pos int
	sep int // first separator rank at or after pos

	row, col int
	inRow    bool
	done     bool
}

// Cells returns a single-pass extractor over the resolved rows.
func (s *Solution) Cells() *Extractor {
	return &Extractor{sol: s}
}

// Next returns the next cell, or false once the resolved rows are consumed.
func (x *Extractor) Next() (Cell, bool) {
	if x.done {
		return Cell{}, false
	}
	sol := x.sol
	c := sol.Candidates
	raw := c.raw

	if !x.inRow {
		for x.sep < len(c.seps) && c.seps[x.sep] == x.pos && sol.Blank.Get(x.sep) {
			x.pos += c.width(x.sep)
			x.sep++
		}
		if x.pos >= sol.End {
			x.done = true
			return Cell{}, false
		}
		x.inRow = true
	}

	start := x.pos
	r, found := sol.SepValid.Next(x.sep)
	end := len(raw)
	if found {
		end = c.seps[r]
	}

	out := Cell{Row: x.row, Column: x.col, Data: raw[start:end], Start: start, End: end}
	if qr, ok := c.quoteAt(start); ok && sol.QuoteValid.Get(qr) && end-start >= 2 {
		out.Quoted = true
		out.Data = unescapeQuotes(raw[start+1:end-1], c.dialect.Quote)
	}

	switch {
	case !found:
		x.pos = len(raw)
		x.endRow()
	case c.IsTerminator(r):
		x.pos = end + c.width(r)
		x.sep = r + 1
		x.endRow()
	default:
		x.pos = end + 1
		x.sep = r + 1
		x.col++
	}
	return out, true
}

func (x *Extractor) endRow() {
	x.inRow = false
	x.row++
	x.col = 0
}

// unescapeQuotes collapses doubled quotes, copying only when there are any.
func unescapeQuotes(b []byte, quote byte) []byte {
	pair := []byte{quote, quote}
	if !bytes.Contains(b, pair) {
		return b
	}
	return bytes.ReplaceAll(b, pair, []byte{quote})
}

// Rows yields the resolved rows in order. When resolution failed, the
// failure is yielded after the last resolved row.
func (s *Solution) Rows() iter.Seq2[[][]byte, error] {
	return func(yield func([][]byte, error) bool) {
		x := s.Cells()
		var row [][]byte
		cur := 0
		for cell, ok := x.Next(); ok; cell, ok = x.Next() {
			if cell.Row != cur {
				if !yield(row, nil) {
					return
				}
				row = nil
				cur = cell.Row
			}
			row = append(row, cell.Data)
		}
		if row != nil && !yield(row, nil) {
			return
		}
		if s.Err != nil {
			yield(nil, s.Err)
		}
	}
}

// Strings collects every resolved row as strings and returns the failure,
// if any, alongside the rows before it.
func (s *Solution) Strings() ([][]string, error) {
	var out [][]string
	for row, err := range s.Rows() {
		if err != nil {
			return out, err
		}
		strs := make([]string, len(row))
		for i, b := range row {
			strs[i] = string(b)
		}
		out = append(out, strs)
	}
	return out, nil
}
