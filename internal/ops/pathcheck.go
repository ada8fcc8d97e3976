package ops

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/hpungsan/mend/internal/config"
	"github.com/hpungsan/mend/internal/errors"
)

// PathCheckMode says whether a path is read as an input or written as an
// export.
type PathCheckMode int

const (
	PathCheckRead PathCheckMode = iota
	PathCheckWrite
)

func (m PathCheckMode) String() string {
	if m == PathCheckWrite {
		return "export"
	}
	return "input"
}

func (m PathCheckMode) extensions() []string {
	if m == PathCheckWrite {
		return []string{".csv", ".json", ".jsonl", ".yaml", ".yml", ".md", ".html"}
	}
	return []string{".csv", ".tsv", ".txt"}
}

// modeForFlag reports the mode an open flag corresponds to.
func modeForFlag(flag int) PathCheckMode {
	if flag&(os.O_WRONLY|os.O_RDWR) != 0 {
		return PathCheckWrite
	}
	return PathCheckRead
}

// ValidatePath checks a caller-supplied input or export path. The path must
// carry an extension for its mode, must not contain "..", and must not name
// a symlink. Unless allow_unsafe_paths is set it must also sit directly in
// ~/.mend/exports or an allowed_paths entry. Inputs must be existing regular
// files.
//
// Subdirectories of an allowed directory are refused, so no intermediate
// component can be swapped for a symlink between this check and the
// O_NOFOLLOW open of the final component.
func ValidatePath(path string, mode PathCheckMode, cfg *config.Config) error {
	if strings.TrimSpace(path) == "" {
		return errors.NewInvalidRequest(mode.String() + " path is required")
	}
	if containsTraversal(path) {
		return errors.NewInvalidRequest(fmt.Sprintf("%s path %q must not contain ..", mode, path))
	}

	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return errors.NewInvalidRequest(fmt.Sprintf("invalid %s path: %v", mode, err))
	}
	if exts := mode.extensions(); !slices.Contains(exts, strings.ToLower(filepath.Ext(abs))) {
		return errors.NewInvalidRequest(fmt.Sprintf("%s path must end in one of %s", mode, strings.Join(exts, ", ")))
	}

	if cfg == nil || !cfg.AllowUnsafePaths {
		if err := checkAllowedDir(filepath.Dir(abs), mode, cfg); err != nil {
			return err
		}
	}
	return checkTarget(path, abs, mode)
}

func checkAllowedDir(dir string, mode PathCheckMode, cfg *config.Config) error {
	allowed, err := allowedDirs(cfg)
	if err != nil {
		return err
	}
	if !slices.Contains(allowed, dir) {
		return errors.NewInvalidRequest(fmt.Sprintf(
			"%s file must sit directly in one of %v; subdirectories are not allowed", mode, allowed))
	}
	if info, err := os.Lstat(dir); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return errors.NewInvalidRequest(fmt.Sprintf("%s directory %s is a symlink", mode, dir))
	}
	return nil
}

// checkTarget applies to the final component in every mode, including
// allow_unsafe_paths.
func checkTarget(path, abs string, mode PathCheckMode) error {
	info, err := os.Lstat(abs)
	switch {
	case err == nil && info.Mode()&os.ModeSymlink != 0:
		return errors.NewInvalidRequest(fmt.Sprintf("%s path %s is a symlink", mode, path))
	case mode == PathCheckWrite:
		return nil
	case os.IsNotExist(err):
		return errors.NewFileNotFound(path)
	case err != nil:
		return errors.NewIO(fmt.Errorf("stat input %s: %w", path, err))
	case !info.Mode().IsRegular():
		return errors.NewInvalidRequest(fmt.Sprintf("input path %s is not a regular file", path))
	}
	return nil
}

// allowedDirs lists ~/.mend/exports and the absolute allowed_paths entries.
// Entries that are symlinks are replaced by their targets.
func allowedDirs(cfg *config.Config) ([]string, error) {
	exports, err := DefaultExportsDir()
	if err != nil {
		return nil, err
	}
	dirs := []string{exports}
	if cfg != nil {
		for _, p := range cfg.AllowedPaths {
			if filepath.IsAbs(p) {
				dirs = append(dirs, filepath.Clean(p))
			}
		}
	}

	for i, d := range dirs {
		info, err := os.Lstat(d)
		if err != nil || info.Mode()&os.ModeSymlink == 0 {
			continue
		}
		resolved, err := filepath.EvalSymlinks(d)
		if err != nil {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("allowed path %s: %v", d, err))
		}
		dirs[i] = resolved
	}
	return dirs, nil
}

// DefaultExportsDir returns ~/.mend/exports.
func DefaultExportsDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.NewInternal(fmt.Errorf("home directory: %w", err))
	}
	return filepath.Join(home, ".mend", "exports"), nil
}

// containsTraversal reports whether any component of path, split on either
// slash, is "..".
func containsTraversal(path string) bool {
	parts := strings.FieldsFunc(path, func(r rune) bool {
		return r == '/' || r == filepath.Separator
	})
	return slices.Contains(parts, "..")
}

// SanitizeForFilename turns a label into a file name stem with no path
// separators, ".." or control characters.
func SanitizeForFilename(s string) string {
	s = strings.NewReplacer("/", "-", `\`, "-", "..", "-").Replace(s)
	s = strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, s)
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	if s = strings.Trim(s, "-"); s == "" {
		return "unnamed"
	}
	return s
}
