//go:build !windows

package ops

import (
	stderrors "errors"
	"fmt"
	"os"
	"syscall"

	"github.com/hpungsan/mend/internal/errors"
)

// openNoFollow opens path with flag and refuses a symlink as the final
// component. ValidatePath covers the directory components.
func openNoFollow(path string, flag int, perm os.FileMode) (*os.File, error) {
	fd, err := syscall.Open(path, flag|syscall.O_NOFOLLOW|syscall.O_CLOEXEC, uint32(perm))
	if err != nil {
		if stderrors.Is(err, syscall.ELOOP) {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("%s path %s is a symlink", modeForFlag(flag), path))
		}
		return nil, openError(path, flag, err)
	}
	return os.NewFile(uintptr(fd), path), nil
}
