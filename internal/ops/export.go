package ops

import (
	"bufio"
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hpungsan/mend/internal/config"
	"github.com/hpungsan/mend/internal/db"
	"github.com/hpungsan/mend/internal/errors"
	"github.com/hpungsan/mend/internal/run"
)

// Export formats.
const (
	FormatCSV   = "csv"
	FormatJSON  = "json"
	FormatJSONL = "jsonl"
	FormatYAML  = "yaml"
)

var formatExtensions = map[string][]string{
	FormatCSV:   {".csv"},
	FormatJSON:  {".json"},
	FormatJSONL: {".jsonl"},
	FormatYAML:  {".yaml", ".yml"},
}

// ExportInput contains parameters for the Export operation.
type ExportInput struct {
	// ID selects one run whose rows are exported. Without it, every run
	// (optionally filtered by Label) is archived as JSONL.
	ID     string
	Label  *string
	Format string // csv (default for a run), json, jsonl, yaml
	Path   string // optional, default: ~/.mend/exports/<name>.<ext>
}

// ExportOutput contains the result of the Export operation.
type ExportOutput struct {
	Path       string `json:"path"`
	Format     string `json:"format"`
	Count      int    `json:"count"`
	ExportedAt int64  `json:"exported_at"`
}

// ExportHeader is the first line of a JSONL run archive.
type ExportHeader struct {
	MendExport    bool   `json:"_mend_export"`
	SchemaVersion string `json:"schema_version"`
	ExportedAt    int64  `json:"exported_at"`
}

// ExportRecord is one run in a JSONL archive.
type ExportRecord struct {
	run.RunSummary
	Structural   int        `json:"structural"`
	ColumnScores []float64  `json:"column_scores,omitempty"`
	Rows         [][]string `json:"rows,omitempty"`
}

// Export writes a run's rows, or an archive of runs, to a file.
func Export(ctx context.Context, database *sql.DB, cfg *config.Config, input ExportInput) (*ExportOutput, error) {
	now := time.Now()
	id := strings.TrimSpace(input.ID)

	format := strings.ToLower(strings.TrimSpace(input.Format))
	switch {
	case format == "" && id != "":
		format = FormatCSV
	case format == "":
		format = FormatJSONL
	case id == "" && format != FormatJSONL:
		return nil, errors.NewInvalidRequest("run archives are only exported as jsonl")
	}
	exts, ok := formatExtensions[format]
	if !ok {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("format must be one of: %s, %s, %s, %s",
			FormatCSV, FormatJSON, FormatJSONL, FormatYAML))
	}

	var single *run.Run
	if id != "" {
		r, err := db.GetByID(database, id)
		if err != nil {
			return nil, err
		}
		single = r
	}

	exportPath := input.Path
	if exportPath == "" {
		var err error
		exportPath, err = defaultExportPath(single, input.Label, exts[0], now)
		if err != nil {
			return nil, err
		}
	}
	if !slices.Contains(exts, strings.ToLower(filepath.Ext(exportPath))) {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("path extension must match format %s (%v)", format, exts))
	}

	// Validate ALL paths (both user-provided and default) for security
	if err := ValidatePath(exportPath, PathCheckWrite, cfg); err != nil {
		return nil, err
	}

	count := 0
	err := writeAtomic(exportPath, func(w io.Writer) error {
		var err error
		if single != nil {
			count = len(single.Rows)
			return writeRows(w, format, single)
		}
		count, err = writeArchive(ctx, w, database, input.Label, now.Unix())
		return err
	})
	if err != nil {
		return nil, err
	}

	return &ExportOutput{
		Path:       exportPath,
		Format:     format,
		Count:      count,
		ExportedAt: now.Unix(),
	}, nil
}

// writeRows encodes one run's rows in format.
func writeRows(w io.Writer, format string, r *run.Run) error {
	rows := r.Rows
	if rows == nil {
		rows = [][]string{}
	}
	switch format {
	case FormatCSV:
		cw := csv.NewWriter(w)
		cw.Comma = rune(r.Delimiter[0])
		if err := cw.WriteAll(rows); err != nil {
			return errors.NewInternal(err)
		}
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rows); err != nil {
			return errors.NewInternal(err)
		}
	case FormatJSONL:
		enc := json.NewEncoder(w)
		for _, row := range rows {
			if err := enc.Encode(row); err != nil {
				return errors.NewInternal(err)
			}
		}
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rows); err != nil {
			return errors.NewInternal(err)
		}
		if err := enc.Close(); err != nil {
			return errors.NewInternal(err)
		}
	}
	return nil
}

// writeArchive streams every matching run as JSONL after a header line.
func writeArchive(ctx context.Context, w io.Writer, database *sql.DB, label *string, exportedAt int64) (int, error) {
	enc := json.NewEncoder(w)
	if err := enc.Encode(ExportHeader{MendExport: true, SchemaVersion: "1.0", ExportedAt: exportedAt}); err != nil {
		return 0, errors.NewInternal(err)
	}

	var filter db.ListFilter
	if l := cleanOptionalString(label); l != nil {
		norm := run.Normalize(*l)
		filter.LabelNorm = &norm
	}
	rows, err := db.StreamForExport(ctx, database, filter)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		select {
		case <-ctx.Done():
			return 0, errors.NewCancelled("export")
		default:
		}

		r, err := db.ScanRunFromRows(rows)
		if err != nil {
			return 0, errors.NewInternal(err)
		}
		record := ExportRecord{
			RunSummary:   r.ToSummary(),
			Structural:   r.Structural,
			ColumnScores: r.ColumnScores,
			Rows:         r.Rows,
		}
		if err := enc.Encode(record); err != nil {
			return 0, errors.NewInternal(err)
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return 0, errors.NewInternal(err)
	}
	return count, nil
}

// writeAtomic writes through a temp file and renames it over path, so an
// existing file survives a failed write.
func writeAtomic(path string, write func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return errors.NewInternal(fmt.Errorf("failed to create export directory: %w", err))
	}

	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return errors.NewInternal(fmt.Errorf("failed to generate temp file name: %w", err))
	}
	tempPath := path + "." + hex.EncodeToString(randBytes) + ".tmp"
	file, err := openNoFollow(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}

	success := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success {
			os.Remove(tempPath)
		}
	}()

	bw := bufio.NewWriter(file)
	if err := write(bw); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return errors.NewInternal(err)
	}
	if err := file.Sync(); err != nil {
		return errors.NewInternal(err)
	}
	// Close before atomic replace (required on Windows; fine elsewhere).
	if err := file.Close(); err != nil {
		return errors.NewInternal(fmt.Errorf("failed to close export file: %w", err))
	}
	file = nil

	// os.Rename would follow a symlink at the destination
	if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return errors.NewInternal(fmt.Errorf("export path is a symlink"))
	}

	// On Windows, os.Rename fails if the destination exists; the existing
	// file is preserved rather than deleted first.
	if err := os.Rename(tempPath, path); err != nil {
		if runtime.GOOS == "windows" {
			if _, statErr := os.Stat(path); statErr == nil {
				return errors.NewInvalidRequest("export destination already exists; overwriting is not supported on Windows yet (choose a new path or delete the existing file)")
			}
		}
		return errors.NewInternal(fmt.Errorf("failed to finalize export: %w", err))
	}

	success = true
	return nil
}

// defaultExportPath generates the default export path.
// Format: ~/.mend/exports/<label>-<run id><ext> for a run, or
// <label|all>-<timestamp>.jsonl for an archive.
func defaultExportPath(r *run.Run, label *string, ext string, now time.Time) (string, error) {
	dir, err := DefaultExportsDir()
	if err != nil {
		return "", err
	}

	var filename string
	if r != nil {
		filename = fmt.Sprintf("%s-%s%s", SanitizeForFilename(r.LabelNorm), r.ID, ext)
	} else {
		name := "all"
		if l := cleanOptionalString(label); l != nil {
			// Normalize first, then sanitize to prevent path injection via labels
			name = SanitizeForFilename(run.Normalize(*l))
		}
		filename = fmt.Sprintf("%s-%s%s", name, now.Format("2006-01-02T150405"), ext)
	}
	return filepath.Join(dir, filename), nil
}
