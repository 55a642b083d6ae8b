package audiocache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const (
	indexFileName = "metadata.json"
	lockFileName  = ".lock"
	incomingDir   = ".incoming"
	payloadExt    = ".webm"
)

// loadIndex reads metadata.json. A missing file yields an empty index and
// exists=false; unreadable or malformed content is returned as an error so
// the caller can reset.
func loadIndex(path string) (map[string]record, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]record{}, false, nil
		}
		return nil, true, fmt.Errorf("read index: %w", err)
	}
	records := map[string]record{}
	if len(data) == 0 {
		return records, true, nil
	}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, true, fmt.Errorf("parse index: %w", err)
	}
	if records == nil {
		records = map[string]record{}
	}
	return records, true, nil
}

// saveIndex rewrites metadata.json atomically via a temp file.
func saveIndex(path string, records map[string]record) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal index: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func payloadPath(dir, fingerprint string) string {
	return filepath.Join(dir, fingerprint+payloadExt)
}

// reservedName reports files in the cache directory that belong to the
// index machinery rather than to cached payloads.
func reservedName(name string) bool {
	switch name {
	case indexFileName, lockFileName:
		return true
	}
	return false
}
