package ops

import (
	"context"
	"database/sql"
	"fmt"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/hpungsan/mend/internal/config"
	"github.com/hpungsan/mend/internal/db"
	"github.com/hpungsan/mend/internal/errors"
	"github.com/hpungsan/mend/internal/logging"
	"github.com/hpungsan/mend/internal/observability"
	"github.com/hpungsan/mend/internal/resolve"
	"github.com/hpungsan/mend/internal/run"
)

// ResolveInput contains parameters for the Resolve operation.
type ResolveInput struct {
	Path   string  // validated against allowed directories; exclusive with Data
	Data   []byte  // inline input
	Source *string // recorded source for Data inputs (e.g. a CLI argument)
	Label  string  // default: "default"

	Delimiter string // default: ","
	Quote     string // default: `"`
	Columns   int    // 0 infers from the first non-blank line

	// Overrides for config values (nil means use config)
	MaxMoves   *int
	TimeoutMS  *int
	Workers    *int
	StrictTies *bool

	KeepBlankLines bool
	NoCache        bool // skip the stored-result lookup
	Record         bool // store the run
}

// ResolveFailure describes why resolution stopped.
type ResolveFailure struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Line    int    `json:"line"`
	Column  int    `json:"column"`
}

// ResolveOutput contains the result of the Resolve operation. Rows hold
// every row resolved before a failure.
type ResolveOutput struct {
	RunID        string          `json:"run_id,omitempty"`
	Cached       bool            `json:"cached"`
	Columns      int             `json:"columns"`
	RowCount     int             `json:"row_count"`
	Rows         [][]string      `json:"rows"`
	Score        float64         `json:"score"`
	ColumnScores []float64       `json:"column_scores"`
	Structural   int             `json:"structural"`
	Moves        int             `json:"moves"`
	Exhausted    bool            `json:"exhausted"`
	Failure      *ResolveFailure `json:"failure,omitempty"`
}

// Resolve reads an input, resolves it, and optionally records the run.
// Resolution failures are reported in ResolveOutput.Failure; the returned
// error is for bad requests, IO and storage problems.
func Resolve(ctx context.Context, database *sql.DB, cfg *config.Config, input ResolveInput) (*ResolveOutput, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if utf8.RuneCountInString(input.Label) > run.MaxLabelChars {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("label exceeds %d characters", run.MaxLabelChars))
	}
	data, source, err := loadInput(cfg, input)
	if err != nil {
		return nil, err
	}

	dialect, err := ParseDialect(input.Delimiter, input.Quote)
	if err != nil {
		return nil, err
	}
	opts := resolveOptions(ctx, cfg, input, dialect)
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	log := logging.FromContext(ctx)
	sha := run.Fingerprint(data)

	cacheable := database != nil && !input.NoCache && !opts.KeepBlankLines && !opts.StrictTies
	if cacheable {
		columns := opts.Columns
		if columns == 0 {
			columns = resolve.InferColumns(data, dialect)
		}
		cached, err := db.FindCached(database, sha, string(dialect.Delimiter), string(dialect.Quote), columns)
		if err != nil {
			return nil, err
		}
		if cached != nil {
			observability.ResolutionsTotal.WithLabelValues("cached").Inc()
			log.Debug("resolve cache hit", zap.String("run_id", cached.ID), zap.String("sha256", sha))
			return outputFromRun(cached), nil
		}
	}

	ctx, span := observability.Tracer.Start(ctx, "ops.Resolve", trace.WithAttributes(
		attribute.Int("input_bytes", len(data)),
		attribute.Int("columns", opts.Columns),
		attribute.Int("workers", opts.Workers),
	))
	defer span.End()

	started := time.Now()
	sol, err := resolve.Resolve(data, opts)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	elapsed := time.Since(started)

	rows, _ := sol.Strings()
	if rows == nil {
		rows = [][]string{}
	}
	out := &ResolveOutput{
		Columns:    sol.Columns,
		RowCount:   sol.RowCount,
		Rows:       rows,
		Score:      sol.Score,
		Structural: sol.Structural,
		Moves:      sol.Moves,
		Exhausted:  sol.Exhausted,
	}
	if sol.Stats != nil {
		out.ColumnScores = sol.Stats.Scores()
	}
	outcome := run.OutcomeResolved
	if sol.Err != nil {
		out.Failure = failureFrom(sol.Err)
		outcome = outcomeFor(sol.Err)
		span.SetStatus(codes.Error, sol.Err.Message)
	}

	span.SetAttributes(
		attribute.String("outcome", outcome),
		attribute.Int("rows", out.RowCount),
		attribute.Int("moves", out.Moves),
	)
	observability.ResolutionsTotal.WithLabelValues(outcome).Inc()
	observability.ResolveDuration.Observe(elapsed.Seconds())
	observability.SearchMoves.Observe(float64(out.Moves))
	observability.RowsResolvedTotal.Add(float64(out.RowCount))

	log.Info("resolved",
		zap.String("outcome", outcome),
		zap.Int("rows", out.RowCount),
		zap.Int("columns", out.Columns),
		zap.Float64("score", out.Score),
		zap.Int("moves", out.Moves),
		zap.Bool("exhausted", out.Exhausted),
		zap.Duration("elapsed", elapsed),
	)

	if input.Record && database != nil {
		id, err := generateULID()
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		labelRaw, labelNorm := run.Label(input.Label)
		r := &run.Run{
			ID:           id,
			LabelRaw:     labelRaw,
			LabelNorm:    labelNorm,
			Source:       source,
			InputSHA256:  sha,
			InputBytes:   int64(len(data)),
			Delimiter:    string(dialect.Delimiter),
			Quote:        string(dialect.Quote),
			Columns:      out.Columns,
			Outcome:      outcome,
			RowCount:     out.RowCount,
			Score:        out.Score,
			Structural:   out.Structural,
			Moves:        out.Moves,
			Exhausted:    out.Exhausted,
			ColumnScores: out.ColumnScores,
			Rows:         out.Rows,
			CreatedAt:    time.Now().Unix(),
		}
		if f := out.Failure; f != nil {
			r.ErrorCode = &f.Code
			r.ErrorMessage = &f.Message
			r.ErrorLine = &f.Line
			r.ErrorColumn = &f.Column
		}
		if err := db.Insert(database, r); err != nil {
			return nil, err
		}
		out.RunID = id
	}

	return out, nil
}

// loadInput returns the BOM-stripped input and its recorded source.
func loadInput(cfg *config.Config, input ResolveInput) ([]byte, *string, error) {
	switch {
	case input.Path != "" && input.Data != nil:
		return nil, nil, errors.NewInvalidRequest("specify either path or data, not both")
	case input.Path != "":
		data, err := ReadInput(input.Path, cfg)
		if err != nil {
			return nil, nil, err
		}
		path := input.Path
		return StripBOM(data), &path, nil
	}

	if limit := maxInputBytes(cfg); int64(len(input.Data)) > limit {
		return nil, nil, errors.NewFileTooLarge(limit, int64(len(input.Data)))
	}
	return StripBOM(input.Data), cleanOptionalString(input.Source), nil
}

// resolveOptions merges config, per-call overrides and the context deadline.
func resolveOptions(ctx context.Context, cfg *config.Config, input ResolveInput, d resolve.Dialect) resolve.Options {
	opts := resolve.Options{
		Dialect:         d,
		Columns:         input.Columns,
		Budget:          resolve.Budget{MaxMoves: cfg.SearchMaxMoves, Timeout: cfg.SearchTimeout()},
		MaxRowLines:     cfg.MaxRowLines,
		MaxAlternatives: cfg.MaxAlternatives,
		Workers:         cfg.SearchWorkers,
		StrictTies:      cfg.StrictTies,
		KeepBlankLines:  input.KeepBlankLines,
	}
	if input.MaxMoves != nil {
		opts.Budget.MaxMoves = *input.MaxMoves
	}
	if input.TimeoutMS != nil {
		opts.Budget.Timeout = time.Duration(*input.TimeoutMS) * time.Millisecond
	}
	if input.Workers != nil {
		opts.Workers = *input.Workers
	}
	if input.StrictTies != nil {
		opts.StrictTies = *input.StrictTies
	}
	if dl, ok := ctx.Deadline(); ok {
		left := max(time.Until(dl), time.Millisecond)
		if opts.Budget.Timeout == 0 || left < opts.Budget.Timeout {
			opts.Budget.Timeout = left
		}
	}
	return opts
}

func failureFrom(err *errors.MendError) *ResolveFailure {
	f := &ResolveFailure{Code: string(err.Code), Message: err.Message}
	if err.Position != nil {
		f.Line = err.Position.Line
		f.Column = err.Position.Column
	}
	return f
}

func outcomeFor(err *errors.MendError) string {
	if err.Code == errors.ErrAmbiguity {
		return run.OutcomeAmbiguity
	}
	return run.OutcomeInvalid
}

// outputFromRun rebuilds a ResolveOutput from a stored run.
func outputFromRun(r *run.Run) *ResolveOutput {
	out := &ResolveOutput{
		RunID:        r.ID,
		Cached:       true,
		Columns:      r.Columns,
		RowCount:     r.RowCount,
		Rows:         r.Rows,
		Score:        r.Score,
		ColumnScores: r.ColumnScores,
		Structural:   r.Structural,
		Moves:        r.Moves,
		Exhausted:    r.Exhausted,
	}
	if out.Rows == nil {
		out.Rows = [][]string{}
	}
	if r.ErrorCode != nil {
		out.Failure = &ResolveFailure{Code: *r.ErrorCode}
		if r.ErrorMessage != nil {
			out.Failure.Message = *r.ErrorMessage
		}
		if r.ErrorLine != nil {
			out.Failure.Line = *r.ErrorLine
		}
		if r.ErrorColumn != nil {
			out.Failure.Column = *r.ErrorColumn
		}
	}
	return out
}
