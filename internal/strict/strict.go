// Package strict reads CSV that is already well formed, one physical line
// per row, and repairs rows that carry unescaped delimiters in a single
// known column.
package strict

import (
	"bufio"
	"io"
	"iter"
	"strings"

	"github.com/hpungsan/mend/internal/errors"
)

// MsgNotEnoughColumns is reported when a row has fewer fields than expected.
const MsgNotEnoughColumns = "Not enough columns. There may be an unescaped newline in a field."

// maxLineBytes bounds a single physical line read by Stream.
const maxLineBytes = 64 << 20

// Options configures Stream.
type Options struct {
	Delimiter byte
	Quote     byte
	// Columns is the expected field count. Zero disables shape checks.
	Columns int
	// AbsorbColumn is the field index that absorbs excess fields.
	AbsorbColumn int
}

// Tokenize splits one line into fields. A quote toggles quoted mode and a
// doubled quote inside quoted mode is a literal quote.
func Tokenize(line string, delimiter, quote byte) []string {
	row := make([]string, 0, strings.Count(line, string(delimiter))+1)
	var field strings.Builder
	inQuotes := false

	for i := 0; i < len(line); i++ {
		ch := line[i]
		switch {
		case ch == quote:
			if inQuotes && i+1 < len(line) && line[i+1] == quote {
				field.WriteByte(quote)
				i++
			} else {
				inQuotes = !inQuotes
			}
		case ch == delimiter && !inQuotes:
			row = append(row, field.String())
			field.Reset()
		default:
			field.WriteByte(ch)
		}
	}
	return append(row, field.String())
}

// Repair reconciles row with the expected column count. Rows with too few
// fields are Invalid at {line, columns}. Rows with too many fields have the
// excess merged, joined by the delimiter, into the absorb column.
func Repair(line int, row []string, delimiter byte, absorb, columns int) ([]string, error) {
	switch {
	case len(row) < columns:
		return nil, errors.NewInvalid(errors.Position{Line: line, Column: columns}, MsgNotEnoughColumns)
	case len(row) == columns:
		return row, nil
	}

	excess := len(row) - columns
	merged := make([]string, 0, columns)
	merged = append(merged, row[:absorb]...)
	merged = append(merged, strings.Join(row[absorb:absorb+excess+1], string(delimiter)))
	merged = append(merged, row[absorb+excess+1:]...)
	return merged, nil
}

// Validate checks that opts describe a usable dialect and repair target.
func (o Options) Validate() error {
	if o.Delimiter == o.Quote {
		return errors.NewInvalidRequest("delimiter and quote must differ")
	}
	if o.Delimiter == '\n' || o.Delimiter == '\r' || o.Quote == '\n' || o.Quote == '\r' {
		return errors.NewInvalidRequest("delimiter and quote cannot be line terminators")
	}
	if o.Columns < 0 {
		return errors.NewInvalidRequest("columns cannot be negative")
	}
	if o.Columns > 0 && (o.AbsorbColumn < 0 || o.AbsorbColumn >= o.Columns) {
		return errors.NewInvalidRequest("absorb_column must be within [0, columns)")
	}
	return nil
}

// Stream tokenizes r one line at a time. A row that cannot be repaired
// yields its error and the stream continues with the next line. Read
// failures are yielded as IO errors and end the stream.
func Stream(r io.Reader, opts Options) iter.Seq2[[]string, error] {
	return func(yield func([]string, error) bool) {
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

		line := 0
		for sc.Scan() {
			row := Tokenize(sc.Text(), opts.Delimiter, opts.Quote)
			var err error
			if opts.Columns > 0 {
				row, err = Repair(line, row, opts.Delimiter, opts.AbsorbColumn, opts.Columns)
			}
			line++
			if !yield(row, err) {
				return
			}
		}
		if err := sc.Err(); err != nil {
			yield(nil, errors.NewIO(err))
		}
	}
}
