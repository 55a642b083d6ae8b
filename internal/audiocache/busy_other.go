//go:build !unix && !windows

package audiocache

import (
	"errors"
	"io/fs"
)

func isBusy(err error) bool {
	return errors.Is(err, fs.ErrPermission)
}
