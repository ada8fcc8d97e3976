package ops

import (
	"bytes"
	"context"

	"go.uber.org/zap"

	"github.com/hpungsan/mend/internal/config"
	"github.com/hpungsan/mend/internal/errors"
	"github.com/hpungsan/mend/internal/logging"
	"github.com/hpungsan/mend/internal/observability"
	"github.com/hpungsan/mend/internal/strict"
)

// StrictInput contains parameters for the Strict operation.
type StrictInput struct {
	Path      string // validated against allowed directories; exclusive with Data
	Data      []byte
	Delimiter string
	Quote     string

	// Columns enables shape checks and repair; 0 tokenizes only.
	Columns      int
	AbsorbColumn int
}

// StrictRowError is a row the tokenizer could not reconcile.
type StrictRowError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Line    int    `json:"line"`
	Column  int    `json:"column"`
}

// StrictOutput contains the result of the Strict operation.
type StrictOutput struct {
	Rows   [][]string       `json:"rows"`
	Errors []StrictRowError `json:"errors"`
}

// Strict tokenizes one row per physical line, repairing rows when Columns
// is set. Rows that cannot be repaired are reported and skipped.
func Strict(ctx context.Context, cfg *config.Config, input StrictInput) (*StrictOutput, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	data, _, err := loadInput(cfg, ResolveInput{Path: input.Path, Data: input.Data})
	if err != nil {
		return nil, err
	}
	d, err := ParseDialect(input.Delimiter, input.Quote)
	if err != nil {
		return nil, err
	}
	opts := strict.Options{
		Delimiter:    d.Delimiter,
		Quote:        d.Quote,
		Columns:      input.Columns,
		AbsorbColumn: input.AbsorbColumn,
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	out := &StrictOutput{Rows: [][]string{}, Errors: []StrictRowError{}}
	for row, err := range strict.Stream(bytes.NewReader(data), opts) {
		if ctx.Err() != nil {
			return nil, errors.NewCancelled("strict")
		}
		if err != nil {
			mErr, ok := errors.As(err)
			if !ok || mErr.Code == errors.ErrIO {
				return nil, err
			}
			rowErr := StrictRowError{Code: string(mErr.Code), Message: mErr.Message}
			if mErr.Position != nil {
				rowErr.Line = mErr.Position.Line
				rowErr.Column = mErr.Position.Column
			}
			out.Errors = append(out.Errors, rowErr)
			observability.StrictRowsTotal.WithLabelValues("invalid").Inc()
			continue
		}
		out.Rows = append(out.Rows, row)
		observability.StrictRowsTotal.WithLabelValues("ok").Inc()
	}

	logging.FromContext(ctx).Debug("strict tokenized",
		zap.Int("rows", len(out.Rows)),
		zap.Int("errors", len(out.Errors)),
	)
	return out, nil
}
