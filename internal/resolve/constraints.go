package resolve

// Constraints records which quote candidates may open or close a quoted
// field. Ranks index Candidates.Quotes.
type Constraints struct {
	CanOpen  RankSet
	CanClose RankSet
}

// Constrain derives the open/close eligibility of every quote candidate.
//
// A quote can open a field only when a separator (or the buffer start)
// precedes it, and can close one only when a separator (or the buffer end)
// follows it. Close bits before the first open bit and open bits after the
// last close bit are cleared, so no quoted span dangles off either edge.
func Constrain(c *Candidates) Constraints {
	n := len(c.quotes)
	con := Constraints{CanOpen: NewRankSet(n), CanClose: NewRankSet(n)}

	for r, off := range c.quotes {
		if off == 0 || c.dialect.isSeparator(c.raw[off-1]) {
			con.CanOpen.Set(r)
		}
		if off == len(c.raw)-1 || c.dialect.isSeparator(c.raw[off+1]) {
			con.CanClose.Set(r)
		}
	}

	if first, ok := con.CanOpen.First(); ok {
		con.CanClose.ClearRange(0, first)
	} else {
		con.CanClose.ClearRange(0, n)
	}
	if last, ok := con.CanClose.Last(); ok {
		con.CanOpen.ClearRange(last+1, n)
	} else {
		con.CanOpen.ClearRange(0, n)
	}
	return con
}

// QuotePair is an (open, close) pair of quote offsets.
type QuotePair struct {
	Open  int
	Close int
}

// QuotePairs pairs quote candidates greedily left to right: the next
// candidate that may open and is valid, then the next one strictly after it
// that may close and is valid.
func (con Constraints) QuotePairs(c *Candidates, valid RankSet) []QuotePair {
	var pairs []QuotePair
	open := -1
	for r, off := range c.quotes {
		if !valid.Get(r) {
			continue
		}
		if open < 0 {
			if con.CanOpen.Get(r) {
				open = off
			}
			continue
		}
		if con.CanClose.Get(r) {
			pairs = append(pairs, QuotePair{Open: open, Close: off})
			open = -1
		}
	}
	return pairs
}
