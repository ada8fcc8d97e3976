package resolve

import (
	"bytes"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hpungsan/mend/internal/errors"
	"github.com/hpungsan/mend/internal/strict"
)

// Defaults applied to zero-valued Options fields.
const (
	DefaultMaxMoves        = 200000
	DefaultMaxRowLines     = 8
	DefaultMaxAlternatives = 16
)

// Failure messages carried by resolution errors.
const (
	MsgNotEnoughColumns = strict.MsgNotEnoughColumns
	MsgIrreconcilable   = "Row cannot be reconciled with the expected column count."
	MsgBudgetExhausted  = "Search budget exhausted before a consistent reading of this row was found."
	MsgTie              = "Several readings of this row score equally."
)

// Budget bounds the search. MaxMoves counts row placements; Timeout is
// wall-clock time from the start of Resolve.
type Budget struct {
	MaxMoves int
	Timeout  time.Duration
}

// Options configures Resolve.
type Options struct {
	Dialect Dialect
	// Columns is the expected column count. Zero infers it from the first
	// non-blank line read strictly.
	Columns int
	Budget  Budget
	// MaxRowLines caps the physical lines a single row may span.
	MaxRowLines int
	// MaxAlternatives caps the readings considered for a single row.
	MaxAlternatives int
	// Workers is the number of search partitions explored concurrently.
	Workers int
	// StrictTies reports equally scored readings that differ as Ambiguity
	// instead of returning the first in order.
	StrictTies bool
	// KeepBlankLines treats empty lines as rows instead of skipping them.
	KeepBlankLines bool
}

func (o Options) withDefaults() Options {
	if o.Dialect == (Dialect{}) {
		o.Dialect = DefaultDialect
	}
	if o.Budget.MaxMoves == 0 {
		o.Budget.MaxMoves = DefaultMaxMoves
	}
	if o.MaxRowLines == 0 {
		o.MaxRowLines = DefaultMaxRowLines
	}
	if o.MaxAlternatives == 0 {
		o.MaxAlternatives = DefaultMaxAlternatives
	}
	if o.Workers == 0 {
		o.Workers = 1
	}
	return o
}

// Validate checks opts after defaults are applied.
func (o Options) Validate() error {
	o = o.withDefaults()
	if err := o.Dialect.Validate(); err != nil {
		return err
	}
	switch {
	case o.Columns < 0:
		return errors.NewInvalidRequest("columns cannot be negative")
	case o.Budget.MaxMoves < 0:
		return errors.NewInvalidRequest("budget max_moves cannot be negative")
	case o.Budget.Timeout < 0:
		return errors.NewInvalidRequest("budget timeout cannot be negative")
	case o.MaxRowLines < 1:
		return errors.NewInvalidRequest("max_row_lines must be at least 1")
	case o.MaxAlternatives < 1:
		return errors.NewInvalidRequest("max_alternatives must be at least 1")
	case o.Workers < 1:
		return errors.NewInvalidRequest("workers must be at least 1")
	}
	return nil
}

// Solution is the resolved reading of a buffer.
type Solution struct {
	Dialect     Dialect
	Columns     int
	Candidates  *Candidates
	Constraints Constraints

	// QuoteValid and SepValid mark the structural quote candidates and
	// separators. Blank marks terminators skipped as empty lines.
	QuoteValid RankSet
	SepValid   RankSet
	Blank      RankSet

	Stats *ColumnStats

	// End is the offset where extraction stops; rows before it are
	// resolved even when Err is set.
	End      int
	RowCount int

	Score      float64
	Structural int
	Moves      int
	Exhausted  bool

	Err *errors.MendError
}

// NewSolution builds the initial reading of raw: every separator is
// structural except those inside greedily paired quotes, and blank lines
// are skipped. No column count is enforced.
func NewSolution(raw []byte, d Dialect) *Solution {
	c := NewCandidates(raw, d)
	con := Constrain(c)
	sol := &Solution{
		Dialect:     d,
		Candidates:  c,
		Constraints: con,
		QuoteValid:  NewRankSet(len(c.quotes)),
		SepValid:    NewRankSet(len(c.seps)),
		Blank:       NewRankSet(len(c.seps)),
		Stats:       NewColumnStats(0, d),
		End:         len(raw),
	}

	all := NewRankSet(len(c.quotes))
	all.SetRange(0, len(c.quotes))
	sol.SepValid.SetRange(0, len(c.seps))
	for _, p := range con.QuotePairs(c, all) {
		open, _ := c.quoteAt(p.Open)
		closing, _ := c.quoteAt(p.Close)
		sol.QuoteValid.Set(open)
		sol.QuoteValid.Set(closing)
		sol.SepValid.ClearRange(c.sepFrom(p.Open), c.sepFrom(p.Close))
	}

	rowStart := 0
	for r, ok := sol.SepValid.First(); ok; r, ok = sol.SepValid.Next(r + 1) {
		if !c.IsTerminator(r) {
			continue
		}
		if c.seps[r] == rowStart {
			sol.Blank.Set(r)
		} else {
			sol.RowCount++
		}
		rowStart = c.seps[r] + c.width(r)
	}
	if rowStart < len(raw) {
		sol.RowCount++
	}
	return sol
}

// Resolve chooses which candidates of raw are structural so that every row
// has the expected column count and the total column heterogeneity is as
// low as the budget allows to find.
//
// The returned error reports invalid options only. Resolution failures are
// carried in Solution.Err, and the rows before the failure stay
// extractable.
func Resolve(raw []byte, opts Options) (*Solution, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	sol := NewSolution(raw, opts.Dialect)
	e := &engine{
		c:           sol.Candidates,
		con:         sol.Constraints,
		maxRowLines: opts.MaxRowLines,
		maxAlts:     opts.MaxAlternatives,
		keepBlank:   opts.KeepBlankLines,
		memo:        make(map[int][]*rowAlt),
	}

	n := opts.Columns
	if n == 0 {
		n = e.inferColumns()
	}
	if n == 0 {
		sol.RowCount = 0
		sol.End = 0
		return sol, nil
	}
	e.n = n

	var deadline time.Time
	if opts.Budget.Timeout > 0 {
		deadline = time.Now().Add(opts.Budget.Timeout)
	}
	e.deadline = deadline

	// Rows with a single reading are placed once, outside the search, but
	// each placement still spends a move.
	m := &meter{limit: opts.Budget.MaxMoves, deadline: deadline}
	stats := NewColumnStats(n, opts.Dialect)
	var prefix []*rowAlt
	pos := 0
	var alts []*rowAlt
	for {
		start := e.skipBlank(pos)
		if start >= len(raw) {
			e.finish(sol, prefix, true)
			sol.Moves = m.moves
			sol.Exhausted = true
			return sol, nil
		}
		if m.spent() {
			e.budgetStop(sol, prefix, m.moves)
			return sol, nil
		}
		alts = e.rows(start)
		if e.timedOut {
			e.budgetStop(sol, prefix, m.moves)
			return sol, nil
		}
		if len(alts) != 1 {
			break
		}
		e.apply(stats, alts[0])
		prefix = append(prefix, alts[0])
		m.moves++
		pos = alts[0].end
	}
	if len(alts) == 0 {
		e.finish(sol, prefix, false)
		sol.Moves = m.moves
		sol.Exhausted = true
		sol.Err = e.invalid(len(prefix), prefix)
		return sol, nil
	}

	// The readings of the first branching row become independent
	// partitions sharing what is left of the move budget. Partitions left
	// without a share are not searched.
	alts = e.ordered(stats, alts)
	left := opts.Budget.MaxMoves - m.moves
	outs := make([]outcome, len(alts))

	g := new(errgroup.Group)
	g.SetLimit(opts.Workers)
	for i, a := range alts {
		share := left / len(alts)
		if i < left%len(alts) {
			share++
		}
		if share == 0 {
			outs[i] = outcome{deepest: -1, budgetHit: true}
			continue
		}
		g.Go(func() error {
			pe := e.fork()
			ps := stats.Clone()
			pe.apply(ps, a)
			base := append(append(make([]*rowAlt, 0, len(prefix)+1), prefix...), a)
			pm := &meter{limit: share, moves: 1, deadline: deadline}
			outs[i] = pe.search(ps, base, a.end, pm, opts.StrictTies)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	e.merge(sol, prefix, m.moves, outs, opts.StrictTies)
	return sol, nil
}

// budgetStop ends resolution at the row after prefix because the budget ran
// out before the row could be read.
func (e *engine) budgetStop(sol *Solution, prefix []*rowAlt, moves int) {
	e.finish(sol, prefix, false)
	sol.Moves = moves
	sol.Err = errors.NewAmbiguity(errors.Position{Line: len(prefix), Column: e.n}, MsgBudgetExhausted)
}

// merge picks the best partition result by (score, structural, partition
// index) and fills sol.
func (e *engine) merge(sol *Solution, prefix []*rowAlt, prefixMoves int, outs []outcome, strictTies bool) {
	best := -1
	exhausted := true
	for i, o := range outs {
		sol.Moves += o.moves
		exhausted = exhausted && o.exhausted
		if !o.found {
			continue
		}
		if best < 0 || better(o.score, o.structural, outs[best].score, outs[best].structural) {
			best = i
		}
	}
	sol.Moves += prefixMoves
	sol.Exhausted = exhausted

	if best >= 0 {
		winner := outs[best]
		e.finish(sol, winner.path, true)
		if !strictTies {
			return
		}
		tie := winner.tie
		for i, o := range outs {
			if i == best || !o.found || !equal(o.score, o.structural, winner.score, winner.structural) {
				continue
			}
			if p, differ := firstDifference(winner.path, o.path); differ && (tie == nil || p.row < tie.row) {
				tie = &p
			}
		}
		if tie != nil {
			sol.Err = errors.NewAmbiguity(errors.Position{Line: tie.row, Column: tie.col}, MsgTie)
			e.finish(sol, winner.path[:tie.row], false)
		}
		return
	}

	if exhausted {
		deep := 0
		for i, o := range outs {
			if o.deepest > outs[deep].deepest {
				deep = i
			}
		}
		row, path := outs[deep].deepest, outs[deep].deepPath
		if row < len(prefix) {
			row, path = len(prefix), prefix
		}
		e.finish(sol, path, false)
		sol.Err = e.invalid(row, path)
		return
	}

	// The budget ran out with readings of the first branching row still
	// open, so that row is where the ambiguity lies.
	e.budgetStop(sol, prefix, sol.Moves)
}

// invalid builds the failure for a row that no reading completes.
func (e *engine) invalid(row int, prefix []*rowAlt) *errors.MendError {
	pos := 0
	if len(prefix) > 0 {
		pos = prefix[len(prefix)-1].end
	}
	start := e.skipBlank(pos)
	line := e.c.raw[start:]
	if i := bytes.IndexAny(line, "\r\n"); i >= 0 {
		line = line[:i]
	}
	msg := MsgIrreconcilable
	if bytes.Count(line, []byte{e.c.dialect.Delimiter})+1 < e.n {
		msg = MsgNotEnoughColumns
	}
	return errors.NewInvalid(errors.Position{Line: row, Column: e.n}, msg)
}

// finish writes the validity sets, statistics and extent of path into sol.
// A complete path also consumes trailing blank lines.
func (e *engine) finish(sol *Solution, path []*rowAlt, complete bool) {
	c := e.c
	sol.Columns = e.n
	sol.QuoteValid = NewRankSet(len(c.quotes))
	sol.SepValid = NewRankSet(len(c.seps))
	sol.Blank = NewRankSet(len(c.seps))
	sol.Stats = NewColumnStats(e.n, c.dialect)
	sol.Structural = 0

	pos := 0
	for _, a := range path {
		e.markBlank(sol, pos, a.start)
		for col, cl := range a.cells {
			sol.Stats.Add(col, cl.content(c.raw))
			if cl.quoted {
				open, _ := c.quoteAt(cl.start)
				closing, _ := c.quoteAt(cl.end - 1)
				sol.QuoteValid.Set(open)
				sol.QuoteValid.Set(closing)
			}
			if cl.end < len(c.raw) && cl.end < a.end {
				sol.SepValid.Set(c.sepFrom(cl.end))
			}
		}
		sol.Structural += a.structural
		pos = a.end
	}
	if complete {
		end := e.skipBlank(pos)
		e.markBlank(sol, pos, end)
		pos = end
	}
	sol.End = pos
	sol.RowCount = len(path)
	sol.Score = sol.Stats.Total()
}

func (e *engine) markBlank(sol *Solution, from, to int) {
	for r := e.c.sepFrom(from); r < len(e.c.seps) && e.c.seps[r] < to; r++ {
		sol.Blank.Set(r)
	}
}

// inferColumns counts the fields of the first non-blank line.
func (e *engine) inferColumns() int {
	raw := e.c.raw
	start := e.skipBlank(0)
	if start >= len(raw) {
		return 0
	}
	line := raw[start:]
	if i := bytes.IndexAny(line, "\r\n"); i >= 0 {
		line = line[:i]
	}
	return len(strict.Tokenize(string(line), e.c.dialect.Delimiter, e.c.dialect.Quote))
}

// InferColumns returns the column count Resolve infers for raw when no
// count is given: the strict field count of the first non-blank line.
func InferColumns(raw []byte, d Dialect) int {
	e := &engine{c: NewCandidates(raw, d)}
	return e.inferColumns()
}
