package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// File names searched in a config directory, in order of preference.
const (
	TOMLFile = "config.toml"
	JSONFile = "config.json"
)

// Config holds application configuration.
type Config struct {
	// SearchMaxMoves bounds the row placements one resolution may spend.
	SearchMaxMoves int `json:"search_max_moves" toml:"search_max_moves"`

	// SearchTimeoutMS is a wall-clock bound on the search. 0 disables it.
	SearchTimeoutMS int `json:"search_timeout_ms,omitempty" toml:"search_timeout_ms"`

	// SearchWorkers is the number of search partitions explored in parallel.
	SearchWorkers int `json:"search_workers" toml:"search_workers"`

	// MaxRowLines is the most physical lines a single row may span.
	MaxRowLines int `json:"max_row_lines" toml:"max_row_lines"`

	// MaxAlternatives caps the readings considered per row.
	MaxAlternatives int `json:"max_alternatives" toml:"max_alternatives"`

	// StrictTies reports equally scored readings as ambiguity instead of
	// returning the first one.
	StrictTies bool `json:"strict_ties,omitempty" toml:"strict_ties"`

	// MaxInputBytes rejects larger inputs with FILE_TOO_LARGE.
	MaxInputBytes int64 `json:"max_input_bytes" toml:"max_input_bytes"`

	// AllowedPaths is an allowlist of directories for reading inputs and writing exports.
	// Paths outside ~/.mend/exports require either being in this list or AllowUnsafePaths=true.
	// Paths should be absolute (relative paths are ignored).
	AllowedPaths []string `json:"allowed_paths,omitempty" toml:"allowed_paths"`

	// AllowUnsafePaths disables directory restrictions for inputs and exports.
	// When true, any directory is allowed (but symlink and extension checks still apply).
	AllowUnsafePaths bool `json:"allow_unsafe_paths,omitempty" toml:"allow_unsafe_paths"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default (unlimited).
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty" toml:"db_max_open_conns"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty" toml:"db_max_idle_conns"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty" toml:"disabled_tools"`

	// DisabledTypes is a list of type names to disable entirely.
	// Known types: "csv", "run".
	DisabledTypes []string `json:"disabled_types,omitempty" toml:"disabled_types"`

	// LogLevel is a zap level name: debug, info, warn, error.
	LogLevel string `json:"log_level,omitempty" toml:"log_level"`

	// LogFormat is "json" or "text".
	LogFormat string `json:"log_format,omitempty" toml:"log_format"`

	// OTLPEndpoint enables trace export over OTLP gRPC when set.
	OTLPEndpoint string `json:"otlp_endpoint,omitempty" toml:"otlp_endpoint"`

	// ResolveRatePerSec limits POST /resolve on the web server. 0 disables it.
	ResolveRatePerSec float64 `json:"resolve_rate_per_sec,omitempty" toml:"resolve_rate_per_sec"`

	// WatchDebounceMS coalesces bursts of file events in watch mode.
	WatchDebounceMS int `json:"watch_debounce_ms" toml:"watch_debounce_ms"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		SearchMaxMoves:  200000,
		SearchWorkers:   1,
		MaxRowLines:     8,
		MaxAlternatives: 16,
		MaxInputBytes:   64 << 20,
		LogLevel:        "info",
		LogFormat:       "json",
		WatchDebounceMS: 250,
	}
}

// SearchTimeout returns SearchTimeoutMS as a duration.
func (c *Config) SearchTimeout() time.Duration {
	return time.Duration(c.SearchTimeoutMS) * time.Millisecond
}

// WatchDebounce returns WatchDebounceMS as a duration.
func (c *Config) WatchDebounce() time.Duration {
	return time.Duration(c.WatchDebounceMS) * time.Millisecond
}

// Validate rejects values no component can honor.
func (c *Config) Validate() error {
	switch {
	case c.SearchMaxMoves < 0:
		return fmt.Errorf("search_max_moves must be >= 0, got %d", c.SearchMaxMoves)
	case c.SearchTimeoutMS < 0:
		return fmt.Errorf("search_timeout_ms must be >= 0, got %d", c.SearchTimeoutMS)
	case c.SearchWorkers < 0:
		return fmt.Errorf("search_workers must be >= 0, got %d", c.SearchWorkers)
	case c.MaxRowLines < 0:
		return fmt.Errorf("max_row_lines must be >= 0, got %d", c.MaxRowLines)
	case c.MaxAlternatives < 0:
		return fmt.Errorf("max_alternatives must be >= 0, got %d", c.MaxAlternatives)
	case c.MaxInputBytes < 0:
		return fmt.Errorf("max_input_bytes must be >= 0, got %d", c.MaxInputBytes)
	case c.ResolveRatePerSec < 0:
		return fmt.Errorf("resolve_rate_per_sec must be >= 0, got %v", c.ResolveRatePerSec)
	}
	switch c.LogFormat {
	case "", "json", "text":
	default:
		return fmt.Errorf("log_format must be json or text, got %q", c.LogFormat)
	}
	return nil
}

// Load loads configuration from baseDir/config.toml, falling back to
// baseDir/config.json. Returns default config if neither exists.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.mend.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadDirRaw(baseDir)
	if err != nil {
		return nil, err
	}
	merged := Merge(DefaultConfig(), cfg)
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return merged, nil
}

// LoadWithRepo loads configuration from both global (~/.mend) and repo (.mend) directories.
// Repo config is found by walking upward from startDir to find the nearest .mend directory
// holding a config file. Repo config takes precedence for scalar values; arrays are merged
// (deduplicated). Either or both configs may be missing.
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadDirRaw(globalDir)
	if err != nil {
		return nil, err
	}

	repo := &Config{}
	if path := FindRepoConfig(startDir); path != "" {
		repo, err = loadFileRaw(path)
		if err != nil {
			return nil, err
		}
	}

	merged := Merge(Merge(DefaultConfig(), global), repo)
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return merged, nil
}

// FindRepoConfig walks upward from startDir to find the nearest .mend config file.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	dir := startDir
	for {
		for _, name := range []string{TOMLFile, JSONFile} {
			configPath := filepath.Join(dir, ".mend", name)
			if _, err := os.Stat(configPath); err == nil {
				return configPath
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// loadDirRaw loads the preferred config file in dir.
// Returns zero-valued config if none exists (not defaults).
func loadDirRaw(dir string) (*Config, error) {
	for _, name := range []string{TOMLFile, JSONFile} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return loadFileRaw(path)
		}
	}
	return &Config{}, nil
}

// loadFileRaw loads configuration from a specific file path, decoding by extension.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if strings.EqualFold(filepath.Ext(configPath), ".toml") {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", configPath, err)
		}
		return cfg, nil
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", configPath, err)
	}
	return cfg, nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{
		SearchMaxMoves:    pick(overlay.SearchMaxMoves, base.SearchMaxMoves),
		SearchTimeoutMS:   pick(overlay.SearchTimeoutMS, base.SearchTimeoutMS),
		SearchWorkers:     pick(overlay.SearchWorkers, base.SearchWorkers),
		MaxRowLines:       pick(overlay.MaxRowLines, base.MaxRowLines),
		MaxAlternatives:   pick(overlay.MaxAlternatives, base.MaxAlternatives),
		MaxInputBytes:     pick(overlay.MaxInputBytes, base.MaxInputBytes),
		DBMaxOpenConns:    pick(overlay.DBMaxOpenConns, base.DBMaxOpenConns),
		DBMaxIdleConns:    pick(overlay.DBMaxIdleConns, base.DBMaxIdleConns),
		LogLevel:          pick(overlay.LogLevel, base.LogLevel),
		LogFormat:         pick(overlay.LogFormat, base.LogFormat),
		OTLPEndpoint:      pick(overlay.OTLPEndpoint, base.OTLPEndpoint),
		ResolveRatePerSec: pick(overlay.ResolveRatePerSec, base.ResolveRatePerSec),
		WatchDebounceMS:   pick(overlay.WatchDebounceMS, base.WatchDebounceMS),
	}

	// Booleans: overlay wins if true, else base
	result.StrictTies = base.StrictTies || overlay.StrictTies
	result.AllowUnsafePaths = base.AllowUnsafePaths || overlay.AllowUnsafePaths

	// Arrays: merge and deduplicate
	result.AllowedPaths = mergeStringSlice(base.AllowedPaths, overlay.AllowedPaths)
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)
	result.DisabledTypes = mergeStringSlice(base.DisabledTypes, overlay.DisabledTypes)

	return result
}

// pick returns overlay unless it is the zero value.
func pick[T comparable](overlay, base T) T {
	var zero T
	if overlay == zero {
		return base
	}
	return overlay
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range append(append([]string{}, a...), b...) {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
