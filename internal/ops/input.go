package ops

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/hpungsan/mend/internal/config"
	"github.com/hpungsan/mend/internal/errors"
)

// utf8BOM is stripped from the front of every input.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// StripBOM returns data without a leading UTF-8 byte order mark.
func StripBOM(data []byte) []byte {
	return bytes.TrimPrefix(data, utf8BOM)
}

// ReadInput reads a validated input path without following symlinks,
// rejecting files larger than cfg.MaxInputBytes.
func ReadInput(path string, cfg *config.Config) ([]byte, error) {
	if err := ValidatePath(path, PathCheckRead, cfg); err != nil {
		return nil, err
	}
	f, err := openNoFollow(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readLimited(f, maxInputBytes(cfg))
}

// ReadLocal reads a path the caller already trusts (a CLI argument) with
// the same size limit as ReadInput.
func ReadLocal(path string, cfg *config.Config) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, openError(path, os.O_RDONLY, err)
	}
	defer f.Close()
	return readLimited(f, maxInputBytes(cfg))
}

// openError maps a failed open of an input or export file to a MendError.
func openError(path string, flag int, err error) error {
	mode := modeForFlag(flag)
	switch {
	case mode == PathCheckRead && os.IsNotExist(err):
		return errors.NewFileNotFound(path)
	case os.IsPermission(err):
		return errors.NewIO(fmt.Errorf("%s file %s: permission denied", mode, path))
	}
	return errors.NewIO(fmt.Errorf("open %s file %s: %w", mode, path, err))
}

func maxInputBytes(cfg *config.Config) int64 {
	if cfg == nil || cfg.MaxInputBytes <= 0 {
		return config.DefaultConfig().MaxInputBytes
	}
	return cfg.MaxInputBytes
}

// readLimited reads at most max bytes and reports FILE_TOO_LARGE beyond.
func readLimited(r io.Reader, max int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, errors.NewIO(fmt.Errorf("read input: %w", err))
	}
	if int64(len(data)) > max {
		actual := int64(len(data))
		if s, ok := r.(interface{ Stat() (os.FileInfo, error) }); ok {
			if info, err := s.Stat(); err == nil {
				actual = info.Size()
			}
		}
		return nil, errors.NewFileTooLarge(max, actual)
	}
	return data, nil
}
