package resolve

import "fmt"

type histogram [numClasses]int

// ColumnStats keeps a class histogram per column. Spans can be added and
// removed incrementally so the search never rescans the buffer.
type ColumnStats struct {
	dialect Dialect
	hist    []histogram
	totals  []int
}

// NewColumnStats creates empty statistics for the given number of columns.
func NewColumnStats(columns int, d Dialect) *ColumnStats {
	return &ColumnStats{
		dialect: d,
		hist:    make([]histogram, columns),
		totals:  make([]int, columns),
	}
}

// Columns returns the number of tracked columns.
func (s *ColumnStats) Columns() int {
	return len(s.hist)
}

// Add records every byte of span in column col.
func (s *ColumnStats) Add(col int, span []byte) {
	h := &s.hist[col]
	for _, b := range span {
		h[s.dialect.Classify(b)]++
	}
	s.totals[col] += len(span)
}

// Remove takes span back out of column col. Removing bytes that were never
// added is a bookkeeping bug and panics; the histogram is left untouched.
func (s *ColumnStats) Remove(col int, span []byte) {
	var delta histogram
	for _, b := range span {
		delta[s.dialect.Classify(b)]++
	}
	h := &s.hist[col]
	for c, n := range delta {
		if h[c] < n {
			panic(fmt.Sprintf("resolve: removing %d %s bytes from column %d holding %d", n, Class(c), col, h[c]))
		}
	}
	for c, n := range delta {
		h[c] -= n
	}
	s.totals[col] -= len(span)
}

// Count returns how many bytes of class c column col holds.
func (s *ColumnStats) Count(col int, c Class) int {
	return s.hist[col][c]
}

// Heterogeneity is the Gini impurity of column col: 1 minus the sum of
// squared class proportions. An empty column scores 0.
func (s *ColumnStats) Heterogeneity(col int) float64 {
	return gini(&s.hist[col], s.totals[col])
}

// Gain is the change in Heterogeneity(col) that adding span would cause.
// The statistics are not modified.
func (s *ColumnStats) Gain(col int, span []byte) float64 {
	h := s.hist[col]
	for _, b := range span {
		h[s.dialect.Classify(b)]++
	}
	return gini(&h, s.totals[col]+len(span)) - s.Heterogeneity(col)
}

// Total sums the heterogeneity of every column.
func (s *ColumnStats) Total() float64 {
	var sum float64
	for col := range s.hist {
		sum += s.Heterogeneity(col)
	}
	return sum
}

// Scores returns the heterogeneity of each column.
func (s *ColumnStats) Scores() []float64 {
	out := make([]float64, len(s.hist))
	for col := range s.hist {
		out[col] = s.Heterogeneity(col)
	}
	return out
}

// Clone returns an independent copy.
func (s *ColumnStats) Clone() *ColumnStats {
	return &ColumnStats{
		dialect: s.dialect,
		hist:    append([]histogram(nil), s.hist...),
		totals:  append([]int(nil), s.totals...),
	}
}

func gini(h *histogram, total int) float64 {
	if total == 0 {
		return 0
	}
	var sq int
	for _, n := range h {
		sq += n * n
	}
	return 1 - float64(sq)/float64(total*total)
}
