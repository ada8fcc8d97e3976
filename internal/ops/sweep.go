package ops

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hpungsan/mend/internal/config"
	"github.com/hpungsan/mend/internal/errors"
	"github.com/hpungsan/mend/internal/logging"
	"github.com/hpungsan/mend/internal/run"
)

// DefaultSweepPattern matches the files a sweep resolves when no pattern is given.
const DefaultSweepPattern = "*.{csv,tsv}"

// SweepInput contains parameters for the Sweep operation.
type SweepInput struct {
	Dir      string
	Pattern  string   // glob over base names, default "*.{csv,tsv}"
	Exclude  []string // globs over base names
	Parallel int      // files resolved at once, default 1

	FileOptions
}

// FileOptions apply to every file resolved by Sweep or ResolveFile.
type FileOptions struct {
	Label     string // default: the file's base name
	Delimiter string
	Quote     string
	Columns   int
	NoCache   bool
	Record    bool
}

// SweepFile is the result for one file.
type SweepFile struct {
	Path     string          `json:"path"`
	RunID    string          `json:"run_id,omitempty"`
	Cached   bool            `json:"cached"`
	Outcome  string          `json:"outcome,omitempty"`
	RowCount int             `json:"row_count"`
	Score    float64         `json:"score"`
	Failure  *ResolveFailure `json:"failure,omitempty"`
}

// SweepOutput contains the result of the Sweep operation.
type SweepOutput struct {
	Files    []SweepFile `json:"files"`
	Resolved int         `json:"resolved"`
	Failed   int         `json:"failed"`
}

// Sweep resolves every regular file directly in Dir whose base name matches
// Pattern. The directory is a trusted local path; per-file problems are
// reported in the file's Failure and do not stop the sweep.
func Sweep(ctx context.Context, database *sql.DB, cfg *config.Config, input SweepInput) (*SweepOutput, error) {
	if strings.TrimSpace(input.Dir) == "" {
		return nil, errors.NewInvalidRequest("dir is required")
	}
	if _, err := ParseDialect(input.Delimiter, input.Quote); err != nil {
		return nil, err
	}
	paths, err := MatchFiles(input.Dir, input.Pattern, input.Exclude)
	if err != nil {
		return nil, err
	}

	parallel := input.Parallel
	if parallel <= 0 {
		parallel = 1
	}

	files := make([]SweepFile, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for i, path := range paths {
		g.Go(func() error {
			if gctx.Err() != nil {
				return errors.NewCancelled("sweep")
			}
			files[i] = ResolveFile(gctx, database, cfg, input.FileOptions, path)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &SweepOutput{Files: files}
	for _, f := range files {
		if f.Failure == nil {
			out.Resolved++
		} else {
			out.Failed++
		}
	}
	logging.FromContext(ctx).Info("swept directory",
		zap.String("dir", input.Dir),
		zap.Int("files", len(files)),
		zap.Int("failed", out.Failed),
	)
	return out, nil
}

// ResolveFile reads a trusted local file and resolves it. Every problem,
// including unreadable or oversized files, is reported in Failure.
func ResolveFile(ctx context.Context, database *sql.DB, cfg *config.Config, input FileOptions, path string) SweepFile {
	result := SweepFile{Path: path}

	data, err := ReadLocal(path, cfg)
	if err != nil {
		result.Failure = failureFromErr(err)
		return result
	}

	label := input.Label
	if strings.TrimSpace(label) == "" {
		label = filepath.Base(path)
	}
	out, err := Resolve(ctx, database, cfg, ResolveInput{
		Data:      data,
		Source:    &path,
		Label:     label,
		Delimiter: input.Delimiter,
		Quote:     input.Quote,
		Columns:   input.Columns,
		NoCache:   input.NoCache,
		Record:    input.Record,
	})
	if err != nil {
		result.Failure = failureFromErr(err)
		return result
	}

	result.RunID = out.RunID
	result.Cached = out.Cached
	result.RowCount = out.RowCount
	result.Score = out.Score
	result.Outcome = run.OutcomeResolved
	if out.Failure != nil {
		result.Failure = out.Failure
		if out.Failure.Code == string(errors.ErrAmbiguity) {
			result.Outcome = run.OutcomeAmbiguity
		} else {
			result.Outcome = run.OutcomeInvalid
		}
	}
	return result
}

// MatchFiles lists regular files directly in dir whose base names match
// pattern and none of exclude, sorted by path.
func MatchFiles(dir, pattern string, exclude []string) ([]string, error) {
	if pattern == "" {
		pattern = DefaultSweepPattern
	}
	include, err := glob.Compile(pattern)
	if err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid pattern %q: %v", pattern, err))
	}
	excludes := make([]glob.Glob, 0, len(exclude))
	for _, p := range exclude {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid exclude pattern %q: %v", p, err))
		}
		excludes = append(excludes, g)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewFileNotFound(dir)
		}
		return nil, errors.NewIO(err)
	}

	var paths []string
	for _, e := range entries {
		if !e.Type().IsRegular() || !include.Match(e.Name()) {
			continue
		}
		if matchesAny(excludes, e.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

func matchesAny(globs []glob.Glob, name string) bool {
	for _, g := range globs {
		if g.Match(name) {
			return true
		}
	}
	return false
}

// failureFromErr reports an operation error as a per-file failure.
func failureFromErr(err error) *ResolveFailure {
	if mErr, ok := errors.As(err); ok {
		return failureFrom(mErr)
	}
	return &ResolveFailure{Code: string(errors.ErrInternal), Message: err.Error()}
}
