//go:build !windows

package knowledge

import (
	stderrors "errors"
	"os"
	"syscall"

	"github.com/hpungsan/hyperknow/internal/errors"
)

// openNoFollow opens path for reading with O_NOFOLLOW so a symlink in the
// final component is rejected. O_CLOEXEC prevents FD leaks across exec.
func openNoFollow(path string) (*os.File, error) {
	fd, err := syscall.Open(path, syscall.O_RDONLY|syscall.O_NOFOLLOW|syscall.O_CLOEXEC, 0)
	if err != nil {
		if stderrors.Is(err, syscall.ELOOP) {
			return nil, errors.NewInvalidRequest("cannot read from symlink")
		}
		if stderrors.Is(err, syscall.ENOENT) {
			return nil, errors.NewInvalidRequest("file not found: " + path)
		}
		return nil, err
	}
	return os.NewFile(uintptr(fd), path), nil
}
