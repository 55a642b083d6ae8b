package audiocache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"boxy/internal/logging"
)

// EvictResult summarizes an eviction sweep.
type EvictResult struct {
	Removed    []string // fingerprints
	Skipped    []string // fingerprints whose file could not be deleted
	FreedBytes int64
	TotalBytes int64 // recorded size after the sweep
}

// ClearResult summarizes a full purge.
type ClearResult struct {
	RemovedFiles int
	SkippedFiles int
	Entries      int // index entries dropped
}

// EvictToBudget removes least recently used entries until the recorded total
// is at most maxBytes. Files that cannot be deleted are skipped. The only
// error returned is a failed index write.
func (c *Cache) EvictToBudget(maxBytes int64) (EvictResult, error) {
	if maxBytes < 0 {
		return EvictResult{}, fmt.Errorf("audiocache: negative budget %d", maxBytes)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return EvictResult{}, ErrClosed
	}

	total := c.totalLocked()
	result := EvictResult{TotalBytes: total}
	if total <= maxBytes {
		return result, nil
	}

	candidates := make([]Entry, 0, len(c.entries))
	for _, entry := range c.entries {
		candidates = append(candidates, entry)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].LastAccessed.Equal(candidates[j].LastAccessed) {
			return candidates[i].Fingerprint < candidates[j].Fingerprint
		}
		return candidates[i].LastAccessed.Before(candidates[j].LastAccessed)
	})

	for _, entry := range candidates {
		if total <= maxBytes {
			break
		}
		if err := c.remove(entry.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			result.Skipped = append(result.Skipped, entry.Fingerprint)
			c.logDeleteFailure(entry.Path, err)
			continue
		}
		delete(c.entries, entry.Fingerprint)
		total -= entry.FileSize
		result.Removed = append(result.Removed, entry.Fingerprint)
		result.FreedBytes += entry.FileSize
		c.logger.Info("evicted cache entry",
			logging.String("fingerprint", entry.Fingerprint),
			logging.String("title", entry.Title),
			logging.Int64("file_size", entry.FileSize),
		)
	}
	result.TotalBytes = total

	if total > maxBytes {
		logging.WarnWithContext(c.logger, "cache still over budget after eviction", "audiocache_over_budget",
			logging.Int64("total_bytes", total),
			logging.Int64("budget_bytes", maxBytes),
			logging.Int("skipped_entries", len(result.Skipped)),
			logging.String(logging.FieldErrorHint, "files in use are retried on the next sweep"),
			logging.String(logging.FieldImpact, "cache temporarily exceeds its size budget"),
		)
	}

	if err := c.persistLocked(); err != nil {
		return result, err
	}
	return result, nil
}

// ClearAll deletes every file in the cache directory except the index and
// lock files, then empties the index. Undeletable files are skipped.
func (c *Cache) ClearAll() (ClearResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ClearResult{}, ErrClosed
	}

	var result ClearResult
	dirEntries, err := os.ReadDir(c.dir)
	if err != nil {
		logging.WarnWithContext(c.logger, "failed to list cache directory", "audiocache_clear_list_failed",
			logging.String("cache_dir", c.dir),
			logging.Error(err),
			logging.String(logging.FieldImpact, "cached files stay on disk; the index is still reset"),
		)
	}
	for _, dirEntry := range dirEntries {
		if !dirEntry.Type().IsRegular() || reservedName(dirEntry.Name()) {
			continue
		}
		path := filepath.Join(c.dir, dirEntry.Name())
		if err := c.remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			result.SkippedFiles++
			c.logDeleteFailure(path, err)
			continue
		}
		result.RemovedFiles++
	}

	result.Entries = len(c.entries)
	c.entries = make(map[string]Entry)

	c.logger.Info("cleared audio cache",
		logging.Int("removed_files", result.RemovedFiles),
		logging.Int("skipped_files", result.SkippedFiles),
		logging.Int("dropped_entries", result.Entries),
	)
	return result, c.persistLocked()
}

func (c *Cache) logDeleteFailure(path string, err error) {
	if isBusy(err) {
		c.logger.Info("cache file busy; skipping",
			logging.String("cache_file", path),
			logging.Error(err),
		)
		return
	}
	logging.WarnWithContext(c.logger, "failed to delete cache file", "audiocache_delete_failed",
		logging.String("cache_file", path),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check cache directory permissions"),
		logging.String(logging.FieldImpact, "file stays on disk and is retried on the next sweep"),
	)
}

// Maintain runs EvictToBudget immediately and then every interval until ctx
// is cancelled. A non-positive interval returns at once.
func (c *Cache) Maintain(ctx context.Context, interval time.Duration, maxBytes int64) {
	if interval <= 0 {
		return
	}
	sweep := func() {
		if _, err := c.EvictToBudget(maxBytes); err != nil && !errors.Is(err, ErrClosed) {
			c.logger.Warn("scheduled eviction failed", logging.Error(err))
		}
	}

	sweep()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}
