package resolve

import (
	"cmp"
	"math"
	"slices"
	"time"
)

// scoreEpsilon is the tolerance under which two scores are equal.
const scoreEpsilon = 1e-9

// deadlineCheckEvery is how many moves pass between wall-clock checks.
const deadlineCheckEvery = 256

// engine owns the row memo of one search partition. Candidates and
// Constraints are shared read-only between partitions.
type engine struct {
	c   *Candidates
	con Constraints
	n   int

	maxRowLines int
	maxAlts     int
	keepBlank   bool

	// deadline bounds row generation; timedOut is set once a generation
	// pass hits it.
	deadline time.Time
	timedOut bool

	memo map[int][]*rowAlt
}

func (e *engine) fork() *engine {
	f := *e
	f.memo = make(map[int][]*rowAlt)
	return &f
}

// rows returns the memoized alternatives of the row at start.
func (e *engine) rows(start int) []*rowAlt {
	alts, ok := e.memo[start]
	if !ok {
		alts = e.alternatives(start)
		if e.timedOut {
			return nil
		}
		e.memo[start] = alts
	}
	return alts
}

// skipBlank advances past empty lines at a row start.
func (e *engine) skipBlank(pos int) int {
	if e.keepBlank {
		return pos
	}
	raw := e.c.raw
	for pos < len(raw) && isTerminator(raw[pos]) {
		if raw[pos] == '\r' && pos+1 < len(raw) && raw[pos+1] == '\n' {
			pos++
		}
		pos++
	}
	return pos
}

func (e *engine) apply(s *ColumnStats, a *rowAlt) {
	for col, c := range a.cells {
		s.Add(col, c.content(e.c.raw))
	}
}

func (e *engine) unapply(s *ColumnStats, a *rowAlt) {
	for col, c := range a.cells {
		s.Remove(col, c.content(e.c.raw))
	}
}

// ordered sorts alternatives by the heterogeneity they add to s, then by
// structural count, then by generation order.
func (e *engine) ordered(s *ColumnStats, alts []*rowAlt) []*rowAlt {
	if len(alts) < 2 {
		return alts
	}
	type scored struct {
		alt   *rowAlt
		delta float64
	}
	tmp := make([]scored, len(alts))
	for i, a := range alts {
		var d float64
		for col, c := range a.cells {
			d += s.Gain(col, c.content(e.c.raw))
		}
		tmp[i] = scored{alt: a, delta: d}
	}
	slices.SortStableFunc(tmp, func(x, y scored) int {
		if c := cmp.Compare(x.delta, y.delta); c != 0 {
			return c
		}
		if c := cmp.Compare(x.alt.structural, y.alt.structural); c != 0 {
			return c
		}
		return cmp.Compare(x.alt.seq, y.alt.seq)
	})
	out := make([]*rowAlt, len(tmp))
	for i, t := range tmp {
		out[i] = t.alt
	}
	return out
}

// meter enforces the move and wall-clock budget of one partition.
type meter struct {
	limit    int
	moves    int
	deadline time.Time
}

func (m *meter) spent() bool {
	if m.limit > 0 && m.moves >= m.limit {
		return true
	}
	if !m.deadline.IsZero() && m.moves%deadlineCheckEvery == 0 && time.Now().After(m.deadline) {
		return true
	}
	return false
}

// outcome is what one partition found.
type outcome struct {
	found      bool
	path       []*rowAlt
	score      float64
	structural int
	tie        *tiePoint

	// deepest is the row index of the deepest dead end or budget stop and
	// deepPath the rows leading to it.
	deepest  int
	deepPath []*rowAlt

	moves     int
	exhausted bool
	budgetHit bool
}

type tiePoint struct {
	row, col int
}

// better orders complete assignments by score, then structural count.
func better(score float64, structural int, thanScore float64, thanStructural int) bool {
	if score < thanScore-scoreEpsilon {
		return true
	}
	return math.Abs(score-thanScore) <= scoreEpsilon && structural < thanStructural
}

func equal(score float64, structural int, thanScore float64, thanStructural int) bool {
	return math.Abs(score-thanScore) <= scoreEpsilon && structural == thanStructural
}

// firstDifference locates the first row and column where a and b disagree.
func firstDifference(a, b []*rowAlt) (tiePoint, bool) {
	for row := 0; row < len(a) && row < len(b); row++ {
		if a[row] == b[row] {
			continue
		}
		for col := range a[row].cells {
			if a[row].cells[col] != b[row].cells[col] {
				return tiePoint{row: row, col: col}, true
			}
		}
		if a[row].end != b[row].end {
			return tiePoint{row: row, col: len(a[row].cells) - 1}, true
		}
	}
	if len(a) != len(b) {
		n := min(len(a), len(b))
		return tiePoint{row: n}, true
	}
	return tiePoint{}, false
}

type frame struct {
	terminal   bool
	alts       []*rowAlt
	next       int
	disc       int
	structural int
	applied    *rowAlt
}

func (e *engine) frame(s *ColumnStats, pos, disc, structural int) frame {
	start := e.skipBlank(pos)
	if start >= len(e.c.raw) {
		return frame{terminal: true, disc: disc, structural: structural}
	}
	return frame{alts: e.ordered(s, e.rows(start)), disc: disc, structural: structural}
}

// search runs an iterative limited-discrepancy search below base: pass k
// visits every path that departs from the first-ranked alternative at most
// k times. It stops once a pass cuts nothing, the budget is spent, or a
// zero-heterogeneity assignment turns up.
func (e *engine) search(s *ColumnStats, base []*rowAlt, pos int, m *meter, strictTies bool) outcome {
	out := outcome{deepest: -1}
	baseStructural := 0
	for _, a := range base {
		baseStructural += a.structural
	}

	for k := 0; ; k++ {
		cut, stop := e.pass(s, base, pos, baseStructural, k, m, strictTies, &out)
		if stop {
			break
		}
		if !cut {
			out.exhausted = true
			break
		}
	}
	out.moves = m.moves
	return out
}

func (e *engine) pass(s *ColumnStats, base []*rowAlt, pos, baseStructural, k int, m *meter, strictTies bool, out *outcome) (cut, stop bool) {
	stack := []frame{e.frame(s, pos, 0, baseStructural)}

	for len(stack) > 0 {
		top := len(stack) - 1
		if e.timedOut {
			out.budgetHit = true
			out.reach(len(base)+top, base, stack[:top])
			return cut, true
		}
		f := &stack[top]
		if f.applied != nil {
			e.unapply(s, f.applied)
			f.applied = nil
		}

		if f.terminal {
			e.consider(s, base, stack[:top], f.structural, strictTies, out)
			stack = stack[:top]
			if out.found && out.score <= scoreEpsilon {
				return cut, true
			}
			continue
		}
		if f.next >= len(f.alts) {
			if len(f.alts) == 0 {
				out.reach(len(base)+top, base, stack[:top])
			}
			stack = stack[:top]
			continue
		}

		disc := f.disc
		if f.next > 0 {
			disc++
		}
		if disc > k {
			cut = true
			stack = stack[:top]
			continue
		}
		if m.spent() {
			out.budgetHit = true
			out.reach(len(base)+top, base, stack[:top])
			return cut, true
		}

		alt := f.alts[f.next]
		f.next++
		e.apply(s, alt)
		f.applied = alt
		m.moves++
		stack = append(stack, e.frame(s, alt.end, disc, f.structural+alt.structural))
	}
	return cut, false
}

// consider records the complete assignment currently on the stack.
func (e *engine) consider(s *ColumnStats, base []*rowAlt, stack []frame, structural int, strictTies bool, out *outcome) {
	score := s.Total()
	if !out.found || better(score, structural, out.score, out.structural) {
		out.found = true
		out.score = score
		out.structural = structural
		out.path = pathOf(base, stack)
		out.tie = nil
		return
	}
	if !strictTies || out.tie != nil || !equal(score, structural, out.score, out.structural) {
		return
	}
	if p, differ := firstDifference(out.path, pathOf(base, stack)); differ {
		out.tie = &p
	}
}

func (o *outcome) reach(row int, base []*rowAlt, stack []frame) {
	if row <= o.deepest {
		return
	}
	o.deepest = row
	o.deepPath = pathOf(base, stack)
}

func pathOf(base []*rowAlt, stack []frame) []*rowAlt {
	path := make([]*rowAlt, 0, len(base)+len(stack))
	path = append(path, base...)
	for _, f := range stack {
		path = append(path, f.applied)
	}
	return path
}
