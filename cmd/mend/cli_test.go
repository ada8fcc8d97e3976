package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/mend/internal/config"
	"github.com/hpungsan/mend/internal/db"
	"github.com/hpungsan/mend/internal/ops"
)

// setupTestDB creates a temporary database for testing.
func setupTestDB(t *testing.T) (*sql.DB, func()) {
	t.Helper()
	tmpDir := t.TempDir()
	database, err := db.Init(tmpDir)
	if err != nil {
		t.Fatalf("failed to init test db: %v", err)
	}
	cleanup := func() {
		database.Close()
	}
	return database, cleanup
}

// testConfig returns a default config for testing.
func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.AllowUnsafePaths = true // Allow temp dirs in tests
	return cfg
}

// runCLI runs the app and returns what it wrote to stdout.
func runCLI(t *testing.T, app *cli.App, args ...string) (string, error) {
	t.Helper()
	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	os.Stdout = w

	done := make(chan []byte)
	go func() {
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(r)
		done <- buf.Bytes()
	}()

	runErr := app.Run(append([]string{"mend"}, args...))

	w.Close()
	os.Stdout = oldStdout
	return string(<-done), runErr
}

// withStdin replaces os.Stdin with a pipe holding data for the test.
func withStdin(t *testing.T, data string) {
	t.Helper()
	oldStdin := os.Stdin
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	if _, err := w.WriteString(data); err != nil {
		t.Fatalf("write stdin: %v", err)
	}
	w.Close()
	os.Stdin = r
	t.Cleanup(func() {
		os.Stdin = oldStdin
		r.Close()
	})
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// recordRun stores a run and returns its ID.
func recordRun(t *testing.T, database *sql.DB, cfg *config.Config, label, data string) string {
	t.Helper()
	out, err := ops.Resolve(context.Background(), database, cfg, ops.ResolveInput{
		Data:    []byte(data),
		Label:   label,
		NoCache: true,
		Record:  true,
	})
	if err != nil {
		t.Fatalf("failed to record run: %v", err)
	}
	return out.RunID
}

func exitCode(err error) int {
	if ec, ok := err.(cli.ExitCoder); ok {
		return ec.ExitCode()
	}
	return -1
}

// TestParseDuration tests the parseDuration helper function.
func TestParseDuration(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    int
		expectError bool
	}{
		{name: "valid days", input: "7d", expected: 7},
		{name: "zero days", input: "0d", expected: 0},
		{name: "large number", input: "365d", expected: 365},
		{name: "negative days", input: "-7d", expectError: true},
		{name: "no suffix", input: "7", expectError: true},
		{name: "wrong suffix", input: "7h", expectError: true},
		{name: "invalid number", input: "abcd", expectError: true},
		{name: "empty string", input: "", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := parseDuration(tt.input)
			if tt.expectError {
				if err == nil {
					t.Errorf("expected error for input %q, got nil", tt.input)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if result != tt.expected {
				t.Errorf("parseDuration(%q) = %d, want %d", tt.input, result, tt.expected)
			}
		})
	}
}

func TestIsCLIMode(t *testing.T) {
	tests := []struct {
		args []string
		want bool
	}{
		{[]string{"mend"}, false},
		{[]string{"mend", "resolve"}, true},
		{[]string{"mend", "serve"}, true},
		{[]string{"mend", "--version"}, true},
		{[]string{"mend", "-h"}, true},
		{[]string{"mend", "store"}, false},
	}
	for _, tt := range tests {
		if got := isCLIMode(tt.args); got != tt.want {
			t.Errorf("isCLIMode(%v) = %v, want %v", tt.args, got, tt.want)
		}
	}
}

func TestCLIResolve_File(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()
	cfg := testConfig()
	path := writeFile(t, t.TempDir(), "in.csv", "name,note\nann,\"likes, commas\"\n")

	app := newCLIApp(database, cfg, nil)
	out, err := runCLI(t, app, "resolve", "--record", "--label", "people", path)
	if err != nil {
		t.Fatalf("resolve command failed: %v", err)
	}

	var output ops.ResolveOutput
	if err := json.Unmarshal([]byte(out), &output); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if len(output.Rows) != 2 || output.Rows[1][1] != "likes, commas" {
		t.Errorf("rows = %v", output.Rows)
	}
	if output.RunID == "" {
		t.Fatal("expected a run id with --record")
	}

	fetched, err := ops.Fetch(database, ops.FetchInput{ID: output.RunID})
	if err != nil {
		t.Fatalf("fetch recorded run: %v", err)
	}
	if fetched.Source == nil || *fetched.Source != path {
		t.Errorf("source = %v, want %s", fetched.Source, path)
	}
	if fetched.Label != "people" {
		t.Errorf("label = %q, want people", fetched.Label)
	}
}

func TestCLIResolve_Stdin(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()
	withStdin(t, "a;b\n1;2\n")

	app := newCLIApp(database, testConfig(), nil)
	out, err := runCLI(t, app, "resolve", "-d", ";", "--csv")
	if err != nil {
		t.Fatalf("resolve command failed: %v", err)
	}
	if out != "a;b\n1;2\n" {
		t.Errorf("csv output = %q", out)
	}
}

func TestCLIResolve_FailureExitsWithRows(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()
	path := writeFile(t, t.TempDir(), "bad.csv", "a,b,c\n1,2,3\n4,5")

	app := newCLIApp(database, testConfig(), nil)
	out, err := runCLI(t, app, "resolve", "--columns", "3", path)
	if err == nil {
		t.Fatal("expected an error for an unresolvable input")
	}
	if code := exitCode(err); code != 2 {
		t.Errorf("exit code = %d, want 2", code)
	}
	if !strings.Contains(err.Error(), "[INVALID]") {
		t.Errorf("error = %q, want [INVALID]", err.Error())
	}

	var output ops.ResolveOutput
	if err := json.Unmarshal([]byte(out), &output); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if len(output.Rows) != 2 || output.Failure == nil || output.Failure.Line != 2 {
		t.Errorf("output = %+v", output)
	}
}

func TestCLIResolve_MissingFile(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()

	app := newCLIApp(database, testConfig(), nil)
	_, err := runCLI(t, app, "resolve", filepath.Join(t.TempDir(), "missing.csv"))
	if err == nil || !strings.Contains(err.Error(), "[FILE_NOT_FOUND]") {
		t.Errorf("err = %v, want FILE_NOT_FOUND", err)
	}
	if code := exitCode(err); code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
}

func TestCLIStrict(t *testing.T) {
	path := writeFile(t, t.TempDir(), "in.csv", "id,note,n\n1,a,b,2\n2\n")

	app := newCLIApp(nil, testConfig(), nil)
	out, err := runCLI(t, app, "strict", "-c", "3", "--absorb-column", "1", path)
	if err != nil {
		t.Fatalf("strict command failed: %v", err)
	}

	var output ops.StrictOutput
	if err := json.Unmarshal([]byte(out), &output); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if len(output.Rows) != 2 || len(output.Errors) != 1 {
		t.Errorf("output = %+v", output)
	}
}

func TestCLIFetch(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()
	cfg := testConfig()
	id := recordRun(t, database, cfg, "sales", "a,b\n1,2\n")

	app := newCLIApp(database, cfg, nil)

	t.Run("with rows", func(t *testing.T) {
		out, err := runCLI(t, app, "fetch", id)
		if err != nil {
			t.Fatalf("fetch command failed: %v", err)
		}
		var output ops.FetchOutput
		if err := json.Unmarshal([]byte(out), &output); err != nil {
			t.Fatalf("failed to parse output: %v", err)
		}
		if output.ID != id || len(output.Rows) != 2 {
			t.Errorf("output = %+v", output)
		}
	})

	t.Run("no rows", func(t *testing.T) {
		out, err := runCLI(t, app, "fetch", "--no-rows", id)
		if err != nil {
			t.Fatalf("fetch command failed: %v", err)
		}
		if strings.Contains(out, `"rows"`) {
			t.Error("expected rows to be omitted")
		}
	})

	t.Run("not found", func(t *testing.T) {
		_, err := runCLI(t, app, "fetch", "01MISSING")
		if err == nil || !strings.Contains(err.Error(), "[NOT_FOUND]") {
			t.Errorf("err = %v, want NOT_FOUND", err)
		}
	})
}

func TestCLIList(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()
	cfg := testConfig()
	for i := range 3 {
		recordRun(t, database, cfg, "list-test", "a,b\n"+strings.Repeat("x,y\n", i+1))
	}
	recordRun(t, database, cfg, "other", "a,b\n")

	app := newCLIApp(database, cfg, nil)
	out, err := runCLI(t, app, "list", "--label", "list-test")
	if err != nil {
		t.Fatalf("list command failed: %v", err)
	}

	var output ops.ListOutput
	if err := json.Unmarshal([]byte(out), &output); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if len(output.Items) != 3 {
		t.Errorf("expected 3 items, got %d", len(output.Items))
	}
	if output.Pagination.Total != 3 {
		t.Errorf("expected total=3, got %d", output.Pagination.Total)
	}
}

func TestCLIPurge(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()
	cfg := testConfig()
	recordRun(t, database, cfg, "drop", "a,b\n")
	recordRun(t, database, cfg, "keep", "a,b\n")

	app := newCLIApp(database, cfg, nil)

	if _, err := runCLI(t, app, "purge"); err == nil {
		t.Error("expected purge without a filter to fail")
	}
	if _, err := runCLI(t, app, "purge", "--older-than", "7h"); err == nil {
		t.Error("expected an invalid --older-than to fail")
	}

	out, err := runCLI(t, app, "purge", "--label", "drop")
	if err != nil {
		t.Fatalf("purge command failed: %v", err)
	}
	var output ops.PurgeOutput
	if err := json.Unmarshal([]byte(out), &output); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if output.Purged != 1 {
		t.Errorf("purged = %d, want 1", output.Purged)
	}
}

func TestCLIExport(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()
	cfg := testConfig()
	id := recordRun(t, database, cfg, "sales", "a,b\n1,2\n")
	path := filepath.Join(t.TempDir(), "sales.yaml")

	app := newCLIApp(database, cfg, nil)
	out, err := runCLI(t, app, "export", "-f", "yaml", "-p", path, id)
	if err != nil {
		t.Fatalf("export command failed: %v", err)
	}

	var output ops.ExportOutput
	if err := json.Unmarshal([]byte(out), &output); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if output.Count != 2 || output.Path != path {
		t.Errorf("output = %+v", output)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("export file missing: %v", err)
	}
}

func TestCLIReport(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()
	cfg := testConfig()
	id := recordRun(t, database, cfg, "sales", "a,b\n1,2\n")

	app := newCLIApp(database, cfg, nil)
	out, err := runCLI(t, app, "report", id)
	if err != nil {
		t.Fatalf("report command failed: %v", err)
	}
	if !strings.HasPrefix(out, "# Run "+id) {
		t.Errorf("report = %q, want a Markdown heading", out)
	}

	out, err = runCLI(t, app, "report", "-f", "html", id)
	if err != nil {
		t.Fatalf("report command failed: %v", err)
	}
	if !strings.Contains(out, "<table>") {
		t.Errorf("html report = %q", out)
	}
}

func TestCLISweep(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()
	dir := t.TempDir()
	writeFile(t, dir, "a.csv", "a,b\n1,2\n")
	writeFile(t, dir, "b.tsv", "a\tb\n1\t2\n")
	writeFile(t, dir, "notes.txt", "skip me")

	app := newCLIApp(database, testConfig(), nil)
	out, err := runCLI(t, app, "sweep", "--exclude", "*.tsv", "-j", "2", dir)
	if err != nil {
		t.Fatalf("sweep command failed: %v", err)
	}

	var output ops.SweepOutput
	if err := json.Unmarshal([]byte(out), &output); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if len(output.Files) != 1 || output.Resolved != 1 {
		t.Errorf("output = %+v", output)
	}
	if filepath.Base(output.Files[0].Path) != "a.csv" {
		t.Errorf("swept %s, want a.csv", output.Files[0].Path)
	}
}

func TestCLIWatch_RequiresDir(t *testing.T) {
	app := newCLIApp(nil, testConfig(), nil)
	_, err := runCLI(t, app, "watch")
	if err == nil || !strings.Contains(err.Error(), "[INVALID_REQUEST]") {
		t.Errorf("err = %v, want INVALID_REQUEST", err)
	}
}

func TestCLIVersion(t *testing.T) {
	app := newCLIApp(nil, nil, nil)
	out, err := runCLI(t, app, "--version")
	if err != nil {
		t.Fatalf("--version failed: %v", err)
	}
	if !strings.Contains(out, Version) {
		t.Errorf("version output = %q", out)
	}
}
