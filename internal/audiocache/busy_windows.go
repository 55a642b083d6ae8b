//go:build windows

package audiocache

import (
	"errors"
	"io/fs"

	"golang.org/x/sys/windows"
)

// isBusy reports deletion failures caused by another holder of the file.
// Windows refuses to delete a file that a player still has open.
func isBusy(err error) bool {
	return errors.Is(err, windows.ERROR_SHARING_VIOLATION) ||
		errors.Is(err, windows.ERROR_LOCK_VIOLATION) ||
		errors.Is(err, windows.ERROR_ACCESS_DENIED) ||
		errors.Is(err, fs.ErrPermission)
}
