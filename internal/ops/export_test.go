package ops

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/hpungsan/mend/internal/errors"
)

func TestExport_RunFormats(t *testing.T) {
	database := openTestDB(t)
	id := recordRun(t, database, "sales", "name,note\nann,\"likes, commas\"\n")
	want := [][]string{{"name", "note"}, {"ann", "likes, commas"}}

	tests := []struct {
		format string
		file   string
		decode func(t *testing.T, data []byte) [][]string
	}{
		{FormatCSV, "out.csv", func(t *testing.T, data []byte) [][]string {
			if got := string(data); got != "name,note\nann,\"likes, commas\"\n" {
				t.Errorf("csv = %q", got)
			}
			return want
		}},
		{FormatJSON, "out.json", func(t *testing.T, data []byte) [][]string {
			var rows [][]string
			if err := json.Unmarshal(data, &rows); err != nil {
				t.Fatalf("json.Unmarshal: %v", err)
			}
			return rows
		}},
		{FormatJSONL, "out.jsonl", func(t *testing.T, data []byte) [][]string {
			var rows [][]string
			for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
				var row []string
				if err := json.Unmarshal([]byte(line), &row); err != nil {
					t.Fatalf("json.Unmarshal(%q): %v", line, err)
				}
				rows = append(rows, row)
			}
			return rows
		}},
		{FormatYAML, "out.yml", func(t *testing.T, data []byte) [][]string {
			var rows [][]string
			if err := yaml.Unmarshal(data, &rows); err != nil {
				t.Fatalf("yaml.Unmarshal: %v", err)
			}
			return rows
		}},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, tt.file)

			out, err := Export(context.Background(), database, testConfig(dir), ExportInput{
				ID:     id,
				Format: tt.format,
				Path:   path,
			})
			if err != nil {
				t.Fatalf("Export failed: %v", err)
			}
			if out.Count != 2 || out.Format != tt.format || out.Path != path {
				t.Errorf("output = %+v", out)
			}

			data, err := os.ReadFile(path)
			if err != nil {
				t.Fatalf("ReadFile: %v", err)
			}
			got := tt.decode(t, data)
			if len(got) != len(want) || got[1][1] != want[1][1] {
				t.Errorf("rows = %v, want %v", got, want)
			}
		})
	}
}

func TestExport_CSVKeepsDelimiter(t *testing.T) {
	database := openTestDB(t)
	out, err := Resolve(context.Background(), database, nil, ResolveInput{
		Data:      []byte("x;y\n1;2\n"),
		Delimiter: ";",
		Record:    true,
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "semi.csv")
	if _, err := Export(context.Background(), database, testConfig(dir), ExportInput{ID: out.RunID, Path: path}); err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	data, _ := os.ReadFile(path)
	if got := string(data); got != "x;y\n1;2\n" {
		t.Errorf("csv = %q, want %q", got, "x;y\n1;2\n")
	}
}

func TestExport_Archive(t *testing.T) {
	database := openTestDB(t)
	first := recordRun(t, database, "Alpha", "a,b\n1,2\n")
	second := recordRun(t, database, "alpha", "a,b\n3,4\n")
	recordRun(t, database, "beta", "a,b\n5,6\n")

	dir := t.TempDir()
	path := filepath.Join(dir, "runs.jsonl")
	out, err := Export(context.Background(), database, testConfig(dir), ExportInput{
		Label: stringPtr("ALPHA"),
		Path:  path,
	})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if out.Count != 2 || out.Format != FormatJSONL {
		t.Errorf("output = %+v, want 2 runs as jsonl", out)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	if !scanner.Scan() {
		t.Fatal("missing header line")
	}
	var header ExportHeader
	if err := json.Unmarshal(scanner.Bytes(), &header); err != nil {
		t.Fatalf("header: %v", err)
	}
	if !header.MendExport || header.SchemaVersion != "1.0" {
		t.Errorf("header = %+v", header)
	}

	var ids []string
	for scanner.Scan() {
		var record ExportRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			t.Fatalf("record: %v", err)
		}
		if len(record.Rows) != 2 {
			t.Errorf("record %s rows = %v, want 2 rows", record.ID, record.Rows)
		}
		ids = append(ids, record.ID)
	}
	if len(ids) != 2 || ids[0] != first || ids[1] != second {
		t.Errorf("ids = %v, want [%s %s]", ids, first, second)
	}
}

func TestExport_InvalidRequests(t *testing.T) {
	database := openTestDB(t)
	id := recordRun(t, database, "x", "a,b\n1,2\n")
	dir := t.TempDir()
	cfg := testConfig(dir)

	tests := []struct {
		name  string
		input ExportInput
	}{
		{"archive as csv", ExportInput{Format: FormatCSV, Path: filepath.Join(dir, "runs.csv")}},
		{"unknown format", ExportInput{ID: id, Format: "xml", Path: filepath.Join(dir, "out.xml")}},
		{"extension mismatch", ExportInput{ID: id, Format: FormatJSON, Path: filepath.Join(dir, "out.csv")}},
		{"outside allowed dirs", ExportInput{ID: id, Path: filepath.Join(t.TempDir(), "out.csv")}},
		{"traversal", ExportInput{ID: id, Path: dir + "/../out.csv"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Export(context.Background(), database, cfg, tt.input)
			if !errors.Is(err, errors.ErrInvalidRequest) {
				t.Errorf("Export() error = %v, want ErrInvalidRequest", err)
			}
		})
	}
}

func TestExport_NotFound(t *testing.T) {
	database := openTestDB(t)
	dir := t.TempDir()

	_, err := Export(context.Background(), database, testConfig(dir), ExportInput{
		ID:   "01MISSING",
		Path: filepath.Join(dir, "out.csv"),
	})
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Export() error = %v, want ErrNotFound", err)
	}
}

func TestExport_FilePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permissions")
	}
	database := openTestDB(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "runs.jsonl")

	if _, err := Export(context.Background(), database, testConfig(dir), ExportInput{Path: path}); err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file permissions = %o, want 0600", perm)
	}
}

func TestExport_DefaultPath(t *testing.T) {
	database := openTestDB(t)
	id := recordRun(t, database, "Q3 Sales", "a,b\n1,2\n")

	home := t.TempDir()
	t.Setenv("HOME", home)
	expectedDir := filepath.Join(home, ".mend", "exports")

	out, err := Export(context.Background(), database, nil, ExportInput{ID: id})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if filepath.Dir(out.Path) != expectedDir {
		t.Errorf("Path = %q, want it in %q", out.Path, expectedDir)
	}
	if base := filepath.Base(out.Path); base != "q3 sales-"+id+".csv" {
		t.Errorf("file name = %q", base)
	}

	out, err = Export(context.Background(), database, nil, ExportInput{})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if !strings.HasPrefix(filepath.Base(out.Path), "all-") || filepath.Ext(out.Path) != ".jsonl" {
		t.Errorf("archive path = %q, want all-<timestamp>.jsonl", out.Path)
	}
	if _, err := os.Stat(out.Path); err != nil {
		t.Errorf("export file should exist: %v", err)
	}
}

func TestWriteAtomic_FailureKeepsExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.csv")
	if err := os.WriteFile(path, []byte("old"), 0600); err != nil {
		t.Fatal(err)
	}

	err := writeAtomic(path, func(w io.Writer) error {
		_, _ = w.Write([]byte("partial"))
		return errors.NewInternal(os.ErrClosed)
	})
	if err == nil {
		t.Fatal("writeAtomic should fail")
	}

	data, _ := os.ReadFile(path)
	if string(data) != "old" {
		t.Errorf("existing file = %q, want it untouched", data)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %v", entries)
	}
}
