//go:build windows

package knowledge

import (
	"os"

	"github.com/hpungsan/hyperknow/internal/errors"
)

// openNoFollow opens path for reading. O_NOFOLLOW is not available on
// Windows; checkImportPath rejects symlinks before we get here.
func openNoFollow(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewInvalidRequest("file not found: " + path)
		}
		return nil, err
	}
	return f, nil
}
