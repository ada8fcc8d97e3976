package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

func TestLoad_DefaultWhenMissing(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	def := DefaultConfig()
	if cfg.SearchMaxMoves != def.SearchMaxMoves {
		t.Errorf("SearchMaxMoves = %d, want %d", cfg.SearchMaxMoves, def.SearchMaxMoves)
	}
	if cfg.MaxRowLines != 8 {
		t.Errorf("MaxRowLines = %d, want 8", cfg.MaxRowLines)
	}
	if cfg.MaxInputBytes != 64<<20 {
		t.Errorf("MaxInputBytes = %d, want %d", cfg.MaxInputBytes, 64<<20)
	}
}

func TestLoad_JSON(t *testing.T) {
	tmpDir := t.TempDir()
	writeFile(t, filepath.Join(tmpDir, JSONFile), `{"search_max_moves": 500, "strict_ties": true}`)

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SearchMaxMoves != 500 {
		t.Errorf("SearchMaxMoves = %d, want 500", cfg.SearchMaxMoves)
	}
	if !cfg.StrictTies {
		t.Error("StrictTies = false, want true")
	}
}

func TestLoad_TOML(t *testing.T) {
	tmpDir := t.TempDir()
	writeFile(t, filepath.Join(tmpDir, TOMLFile), `
search_timeout_ms = 1500
search_workers = 4
log_format = "text"
disabled_tools = ["run_purge"]
`)

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SearchTimeout() != 1500*time.Millisecond {
		t.Errorf("SearchTimeout() = %v, want 1.5s", cfg.SearchTimeout())
	}
	if cfg.SearchWorkers != 4 {
		t.Errorf("SearchWorkers = %d, want 4", cfg.SearchWorkers)
	}
	if cfg.LogFormat != "text" {
		t.Errorf("LogFormat = %q, want text", cfg.LogFormat)
	}
	if len(cfg.DisabledTools) != 1 || cfg.DisabledTools[0] != "run_purge" {
		t.Errorf("DisabledTools = %v, want [run_purge]", cfg.DisabledTools)
	}
}

func TestLoad_TOMLPreferredOverJSON(t *testing.T) {
	tmpDir := t.TempDir()
	writeFile(t, filepath.Join(tmpDir, TOMLFile), `max_row_lines = 3`)
	writeFile(t, filepath.Join(tmpDir, JSONFile), `{"max_row_lines": 5}`)

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MaxRowLines != 3 {
		t.Errorf("MaxRowLines = %d, want 3 (toml)", cfg.MaxRowLines)
	}
}

func TestLoad_InvalidFiles(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"bad json", JSONFile, `{not json}`},
		{"bad toml", TOMLFile, `search_workers = = 2`},
		{"negative moves", JSONFile, `{"search_max_moves": -1}`},
		{"unknown log format", TOMLFile, `log_format = "xml"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			writeFile(t, filepath.Join(tmpDir, tt.file), tt.content)
			if _, err := Load(tmpDir); err == nil {
				t.Fatal("Load() expected error, got nil")
			}
		})
	}
}

func TestLoadWithRepo_BothPresent(t *testing.T) {
	globalDir := t.TempDir()
	repoRoot := t.TempDir()

	writeFile(t, filepath.Join(globalDir, JSONFile), `{"max_alternatives": 8, "disabled_tools": ["run_purge"]}`)
	writeFile(t, filepath.Join(repoRoot, ".mend", TOMLFile), `
max_alternatives = 4
disabled_tools = ["run_export"]
`)

	cfg, err := LoadWithRepo(globalDir, repoRoot)
	if err != nil {
		t.Fatalf("LoadWithRepo() error = %v", err)
	}
	if cfg.MaxAlternatives != 4 {
		t.Errorf("MaxAlternatives = %d, want 4 (repo override)", cfg.MaxAlternatives)
	}
	if len(cfg.DisabledTools) != 2 {
		t.Errorf("DisabledTools length = %d, want 2", len(cfg.DisabledTools))
	}
}

func TestLoadWithRepo_NeitherPresent(t *testing.T) {
	cfg, err := LoadWithRepo(t.TempDir(), t.TempDir())
	if err != nil {
		t.Fatalf("LoadWithRepo() error = %v", err)
	}
	if cfg.SearchMaxMoves != 200000 {
		t.Errorf("SearchMaxMoves = %d, want 200000", cfg.SearchMaxMoves)
	}
	if len(cfg.DisabledTools) != 0 {
		t.Errorf("DisabledTools = %v, want empty", cfg.DisabledTools)
	}
}

func TestLoadWithRepo_WalksUpward(t *testing.T) {
	tmpDir := t.TempDir()
	writeFile(t, filepath.Join(tmpDir, ".mend", JSONFile), `{"disabled_types": ["run"]}`)

	subdir := filepath.Join(tmpDir, "subdir", "deeper")
	if err := os.MkdirAll(subdir, 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}

	cfg, err := LoadWithRepo(t.TempDir(), subdir)
	if err != nil {
		t.Fatalf("LoadWithRepo() error = %v", err)
	}
	if len(cfg.DisabledTypes) != 1 || cfg.DisabledTypes[0] != "run" {
		t.Errorf("DisabledTypes = %v, want [run]", cfg.DisabledTypes)
	}
}

func TestFindRepoConfig(t *testing.T) {
	tmpDir := t.TempDir()
	if found := FindRepoConfig(tmpDir); found != "" {
		t.Errorf("FindRepoConfig() = %q, want empty string", found)
	}

	jsonPath := filepath.Join(tmpDir, ".mend", JSONFile)
	writeFile(t, jsonPath, `{}`)
	if found := FindRepoConfig(tmpDir); found != jsonPath {
		t.Errorf("FindRepoConfig() = %q, want %q", found, jsonPath)
	}

	tomlPath := filepath.Join(tmpDir, ".mend", TOMLFile)
	writeFile(t, tomlPath, ``)
	if found := FindRepoConfig(tmpDir); found != tomlPath {
		t.Errorf("FindRepoConfig() = %q, want %q (toml preferred)", found, tomlPath)
	}
}

func TestMerge_ScalarOverride(t *testing.T) {
	base := &Config{SearchMaxMoves: 10000, DBMaxOpenConns: 5, LogLevel: "info"}
	overlay := &Config{SearchMaxMoves: 5000, LogLevel: "debug"}

	result := Merge(base, overlay)

	if result.SearchMaxMoves != 5000 {
		t.Errorf("SearchMaxMoves = %d, want 5000 (overlay)", result.SearchMaxMoves)
	}
	if result.DBMaxOpenConns != 5 {
		t.Errorf("DBMaxOpenConns = %d, want 5 (base, overlay is zero)", result.DBMaxOpenConns)
	}
	if result.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", result.LogLevel)
	}
}

func TestMerge_BooleanOr(t *testing.T) {
	result := Merge(&Config{AllowUnsafePaths: true}, &Config{StrictTies: true})

	if !result.AllowUnsafePaths {
		t.Error("AllowUnsafePaths should be true (base OR overlay)")
	}
	if !result.StrictTies {
		t.Error("StrictTies should be true (base OR overlay)")
	}
}

func TestMerge_ArrayMergeDedup(t *testing.T) {
	base := &Config{DisabledTools: []string{"run_purge", " run_export "}}
	overlay := &Config{DisabledTools: []string{"run_export", "csv_strict", ""}}

	result := Merge(base, overlay)

	want := []string{"run_purge", "run_export", "csv_strict"}
	if len(result.DisabledTools) != len(want) {
		t.Fatalf("DisabledTools = %v, want %v", result.DisabledTools, want)
	}
	for i := range want {
		if result.DisabledTools[i] != want[i] {
			t.Errorf("DisabledTools[%d] = %q, want %q", i, result.DisabledTools[i], want[i])
		}
	}
}
