//go:build windows

package ops

import "os"

// openNoFollow opens path with flag. Windows has no O_NOFOLLOW, so the
// symlink check in ValidatePath is the only guard.
func openNoFollow(path string, flag int, perm os.FileMode) (*os.File, error) {
	f, err := os.OpenFile(path, flag, perm)
	if err != nil {
		return nil, openError(path, flag, err)
	}
	return f, nil
}
