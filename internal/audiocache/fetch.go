package audiocache

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"boxy/internal/logging"
	"boxy/internal/scratch"
)

// Downloader fetches url into dir, a directory private to this call, and
// returns the downloaded file and its metadata.
type Downloader func(ctx context.Context, url, dir string) (string, Metadata, error)

// Fetch returns the cached entry for url, downloading and inserting it on a
// miss. Concurrent calls for the same url share a single download. cached
// reports whether the entry came straight from the cache. When only the index
// write fails, the entry is returned together with an ErrPersistIndex error.
func (c *Cache) Fetch(ctx context.Context, url string, download Downloader) (Entry, bool, error) {
	if strings.TrimSpace(url) == "" {
		return Entry{}, false, ErrEmptyURL
	}
	if download == nil {
		return Entry{}, false, errors.New("audiocache: nil downloader")
	}
	if entry, ok := c.Lookup(url); ok {
		return entry, true, nil
	}

	type outcome struct {
		entry  Entry
		cached bool
	}
	value, err, _ := c.fetches.Do(Fingerprint(url), func() (any, error) {
		// A previous flight may have finished between Lookup and Do.
		if entry, ok := c.Lookup(url); ok {
			return outcome{entry: entry, cached: true}, nil
		}
		entry, err := c.download(ctx, url, download)
		return outcome{entry: entry}, err
	})
	res, _ := value.(outcome)
	return res.entry, res.cached, err
}

func (c *Cache) download(ctx context.Context, url string, download Downloader) (Entry, error) {
	work, err := scratch.New(c.scratchDir)
	if err != nil {
		return Entry{}, fmt.Errorf("audiocache: %w", err)
	}
	defer func() {
		if err := work.Cleanup(); err != nil {
			c.logger.Debug("scratch cleanup failed", logging.Error(err))
		}
	}()

	path, meta, err := download(ctx, url, work.Path())
	if err != nil {
		return Entry{}, fmt.Errorf("audiocache: download: %w", err)
	}
	return c.insert(url, path, meta)
}
