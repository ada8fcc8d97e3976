package resolve

import (
	"slices"
	"time"
)

// cell is one field of a row alternative. Bounds include the quotes of a
// quoted field.
type cell struct {
	start, end int
	quoted     bool
}

func (c cell) content(raw []byte) []byte {
	if c.quoted {
		return raw[c.start+1 : c.end-1]
	}
	return raw[c.start:c.end]
}

// rowAlt is one way to read a row: exactly N cells starting at start and
// ending before end, where end is past the structural terminator (or at the
// buffer end).
type rowAlt struct {
	start, end int
	cells      []cell
	// structural counts the separators and quotes the row treats as
	// structural.
	structural int
	seq        int
}

// maxGenSteps bounds the field visits of a single generation pass.
const maxGenSteps = 1 << 16

// genDeadlineEvery is how many field visits pass between wall-clock checks.
const genDeadlineEvery = 1 << 12

// rowGen enumerates row alternatives for one pass. A pass allows at most
// lines literal terminators and at most delims literal delimiters outside
// quoted fields. Terminators inside quoted fields are free but the row as a
// whole spans at most maxSpan+1 physical lines.
type rowGen struct {
	c       *Candidates
	con     Constraints
	n       int
	lines   int
	delims  int
	maxSpan int
	maxAlts int

	deadline time.Time
	expired  bool

	start int
	cells []cell
	out   []*rowAlt
	steps int
}

// alternatives lists the readings of the row at start in generation order.
// Passes raise the allowance of literal terminators first and literal
// delimiters second; the first pass that yields anything wins, so a row
// spans as few physical lines and carries as few stray delimiters as its
// shape allows.
func (e *engine) alternatives(start int) []*rowAlt {
	si := e.c.sepFrom(start)
	maxSpan := e.maxRowLines - 1
	remaining := e.c.termsBetween(si, len(e.c.seps))
	window := e.c.delimsBetween(si, e.c.nthTermFrom(si, maxSpan))

	for lines := 0; lines <= maxSpan; lines++ {
		for delims := 0; delims <= window; delims++ {
			if !e.deadline.IsZero() && time.Now().After(e.deadline) {
				e.timedOut = true
				return nil
			}
			g := rowGen{
				c:       e.c,
				con:     e.con,
				n:       e.n,
				lines:   lines,
				delims:  delims,
				maxSpan: maxSpan,
				maxAlts: e.maxAlts,

				deadline: e.deadline,

				start: start,
				cells: make([]cell, e.n),
			}
			g.field(0, start, si, 0, 0, 0, 0)
			if g.expired {
				e.timedOut = true
				return nil
			}
			if len(g.out) > 0 {
				return g.out
			}
		}
		if lines >= remaining {
			break
		}
	}
	return nil
}

// full reports whether the pass should stop producing alternatives.
func (g *rowGen) full() bool {
	if !g.expired && !g.deadline.IsZero() && g.steps%genDeadlineEvery == 0 && time.Now().After(g.deadline) {
		g.expired = true
	}
	return g.expired || len(g.out) >= g.maxAlts || g.steps > maxGenSteps
}

func (g *rowGen) emit(end, structural int) {
	g.out = append(g.out, &rowAlt{
		start:      g.start,
		end:        end,
		cells:      slices.Clone(g.cells),
		structural: structural,
		seq:        len(g.out),
	})
}

// field reads field i starting at byte fs. si is the first separator rank
// at or after fs. used counts the literal terminators outside quotes, span
// all terminators crossed, and lit the literal delimiters outside quotes.
//
// A field that opens with an eligible quote is read as quoted, and unquoted
// only when no quoted reading completes the row.
func (g *rowGen) field(i, fs, si, used, span, lit, structural int) int {
	g.steps++
	if g.full() {
		return 0
	}
	need := g.n - 1 - i
	wide := g.c.nthTermFrom(si, g.maxSpan-span)
	if g.c.delimsBetween(si, wide) < need {
		return 0
	}
	if !g.quoteBefore(fs, wide) {
		bound := g.c.nthTermFrom(si, g.lines-used)
		if g.c.delimsBetween(si, bound) < need || lit+g.minLiteral(si, used, need) > g.delims {
			return 0
		}
	}

	produced := 0
	if qr, ok := g.c.quoteAt(fs); ok && g.con.CanOpen.Get(qr) {
		produced = g.quoted(i, fs, qr, si, used, span, lit, structural, true)
		if produced == 0 {
			produced = g.quoted(i, fs, qr, si, used, span, lit, structural, false)
		}
	}
	if produced == 0 {
		produced = g.unquoted(i, fs, si, used, span, lit, structural)
	}
	return produced
}

// quoted reads field i as a quoted field opening at quote rank qr and
// closing at the first eligible quote that completes the row. With escaped
// set, a closing quote preceded by an odd run of quotes is skipped since it
// would end an escape pair.
func (g *rowGen) quoted(i, fs, qr, si, used, span, lit, structural int, escaped bool) int {
	last := i == g.n-1
	for r := qr + 1; r < len(g.c.quotes) && !g.full(); r++ {
		q := g.c.quotes[r]
		after := q + 1
		sr := g.c.sepFrom(after)
		crossed := span + g.c.termsBetween(si, sr)
		if crossed > g.maxSpan {
			break
		}
		if !g.con.CanClose.Get(r) || (escaped && !g.evenRun(fs+1, q)) {
			continue
		}

		produced := 0
		g.cells[i] = cell{start: fs, end: after, quoted: true}
		switch {
		case after == len(g.c.raw):
			if last {
				g.emit(after, structural+2)
				produced++
			}
		case g.c.IsTerminator(sr):
			if last {
				g.emit(after+g.c.width(sr), structural+3)
				produced++
			}
		case !last:
			produced = g.field(i+1, after+1, sr+1, used, crossed, lit, structural+3)
		}
		if produced > 0 {
			return produced
		}
	}
	return 0
}

func (g *rowGen) unquoted(i, fs, si, used, span, lit, structural int) int {
	produced := 0
	last := i == g.n-1
	for r := si; r < len(g.c.seps); r++ {
		if g.full() {
			return produced
		}
		s := g.c.seps[r]
		g.cells[i] = cell{start: fs, end: s}

		if g.c.IsTerminator(r) {
			if last {
				g.emit(s+g.c.width(r), structural+1)
				produced++
			}
			if used == g.lines || span == g.maxSpan {
				return produced
			}
			used++
			span++
			continue
		}
		if !last {
			produced += g.field(i+1, s+1, r+1, used, span, lit, structural+1)
		}
		if lit == g.delims {
			return produced
		}
		lit++
	}

	if last && !g.full() {
		g.cells[i] = cell{start: fs, end: len(g.c.raw)}
		g.emit(len(g.c.raw), structural)
		produced++
	}
	return produced
}

// quoteBefore reports whether an opening quote candidate lies in
// [fs, offset of separator rank bound).
func (g *rowGen) quoteBefore(fs, bound int) bool {
	end := len(g.c.raw)
	if bound < len(g.c.seps) {
		end = g.c.seps[bound]
	}
	for r, _ := g.c.quoteAt(fs); r < len(g.c.quotes) && g.c.quotes[r] < end; r++ {
		if g.con.CanOpen.Get(r) {
			return true
		}
	}
	return false
}

// minLiteral is the fewest delimiters the rest of an unquoted row must
// treat as literal: the row ends at the first terminator that leaves room
// for need structural delimiters, and every other delimiter before it is
// literal.
func (g *rowGen) minLiteral(si, used, need int) int {
	for j := 0; j <= g.lines-used; j++ {
		if d := g.c.delimsBetween(si, g.c.nthTermFrom(si, j)); d >= need {
			return d - need
		}
	}
	return 0
}

// evenRun reports whether the run of quote bytes ending just before q, and
// starting no earlier than from, has even length.
func (g *rowGen) evenRun(from, q int) bool {
	n := 0
	for p := q - 1; p >= from && g.c.raw[p] == g.c.dialect.Quote; p-- {
		n++
	}
	return n%2 == 0
}
