//go:build unix

package audiocache

import (
	"errors"
	"io/fs"

	"golang.org/x/sys/unix"
)

// isBusy reports deletion failures caused by another holder of the file
// rather than by the file being gone.
func isBusy(err error) bool {
	return errors.Is(err, unix.EBUSY) ||
		errors.Is(err, unix.ETXTBSY) ||
		errors.Is(err, fs.ErrPermission)
}
