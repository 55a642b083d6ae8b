package audiocache

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/singleflight"

	"boxy/internal/config"
	"boxy/internal/fileutil"
	"boxy/internal/logging"
)

// statfsFunc allows tests to stub filesystem stats.
type statfsFunc func(path string) (total uint64, free uint64, err error)

// Options configures a Cache.
type Options struct {
	// Dir is the cache directory. It is created when missing; empty selects
	// the per-user platform cache directory.
	Dir string
	// MaxBytes is the budget reported by Summary. EvictToBudget takes its
	// budget explicitly.
	MaxBytes int64
	// ScratchDir is where Fetch creates per-download directories. Empty
	// selects os.TempDir().
	ScratchDir string
	Logger     *slog.Logger
}

// Cache maps source URLs to downloaded audio files on disk.
type Cache struct {
	dir        string
	indexPath  string
	maxBytes   int64
	scratchDir string
	logger     *slog.Logger
	lock       *flock.Flock

	mu      sync.Mutex
	entries map[string]Entry
	closed  bool

	fetches singleflight.Group

	now    func() time.Time
	remove func(string) error
	statfs statfsFunc
}

// Summary describes current cache usage.
type Summary struct {
	Dir          string `json:"dir"`
	Entries      int    `json:"entries"`
	TotalBytes   int64  `json:"total_bytes"`
	MaxBytes     int64  `json:"max_bytes"`
	FreeBytes    uint64 `json:"free_bytes"`
	TotalFSBytes uint64 `json:"total_fs_bytes"`
}

// Open prepares the cache directory, takes the directory lock, and loads the
// index. A corrupt index is discarded and replaced with an empty one.
func Open(opts Options) (*Cache, error) {
	dir := strings.TrimSpace(opts.Dir)
	if dir == "" {
		defaultDir, err := config.DefaultCacheDir()
		if err != nil {
			return nil, fmt.Errorf("audiocache: %w", err)
		}
		dir = defaultDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("audiocache: create cache directory: %w", err)
	}

	lock := flock.New(filepath.Join(dir, lockFileName))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("audiocache: acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrCacheInUse
	}

	// Leftovers from an interrupted insert; nothing else can be writing here
	// while we hold the lock.
	incoming := filepath.Join(dir, incomingDir)
	_ = os.RemoveAll(incoming)
	if err := os.MkdirAll(incoming, 0o755); err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("audiocache: create incoming directory: %w", err)
	}

	c := &Cache{
		dir:        dir,
		indexPath:  filepath.Join(dir, indexFileName),
		maxBytes:   opts.MaxBytes,
		scratchDir: opts.ScratchDir,
		logger:     logging.NewComponentLogger(opts.Logger, "audiocache"),
		lock:       lock,
		entries:    make(map[string]Entry),
		now:        time.Now,
		remove:     os.Remove,
		statfs:     realStatfs,
	}
	c.load()
	return c, nil
}

func (c *Cache) load() {
	records, exists, err := loadIndex(c.indexPath)
	if err != nil {
		logging.WarnWithContext(c.logger, "cache index unreadable; starting empty", "audiocache_index_reset",
			logging.String("index_path", c.indexPath),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "previously cached files will be downloaded again"),
			logging.String(logging.FieldImpact, "cache starts empty"),
		)
		records = map[string]record{}
		exists = false
	}

	dirty := false
	legacy := map[string]record{}
	for key, rec := range records {
		switch {
		case isFingerprint(key):
			c.entries[key] = rec.entry(key, payloadPath(c.dir, key))
		case isLegacyFingerprint(key):
			legacy[key] = rec
		default:
			// Keys become file names; anything else could point outside dir.
			logging.WarnWithContext(c.logger, "dropping cache index entry with invalid key", "audiocache_index_invalid_key",
				logging.String("index_path", c.indexPath),
				logging.String("key", key),
				logging.String(logging.FieldErrorHint, "metadata.json was edited by hand or damaged"),
				logging.String(logging.FieldImpact, "the entry is forgotten; no file is touched"),
			)
			dirty = true
		}
	}
	if len(legacy) > 0 {
		rekeyed, kept := c.rekeyLegacy(legacy)
		c.logger.Info("migrated cache entries from md5 keys",
			logging.Int("rekeyed_entries", rekeyed),
			logging.Int("legacy_entries", kept),
		)
		dirty = dirty || rekeyed > 0
	}

	if !exists || dirty {
		_ = c.persistLocked()
	}
	if !exists {
		_ = c.persistLocked()
	}

	c.logger.Debug("loaded cache index",
		logging.Int("entry_count", len(c.entries)),
		logging.String("index_path", c.indexPath))
}

// rekeyLegacy moves md5-keyed entries that still carry their source URL to
// the current fingerprint, renaming the payload along with them. Entries
// without a URL, or whose payload cannot be renamed, stay under the old key
// and age out through eviction.
func (c *Cache) rekeyLegacy(legacy map[string]record) (rekeyed, kept int) {
	keys := make([]string, 0, len(legacy))
	for key := range legacy {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		rec := legacy[key]
		oldPath := payloadPath(c.dir, key)
		url := strings.TrimSpace(rec.URL)
		if url == "" {
			c.entries[key] = rec.entry(key, oldPath)
			kept++
			continue
		}

		fingerprint := Fingerprint(url)
		newPath := payloadPath(c.dir, fingerprint)
		if _, taken := c.entries[fingerprint]; taken {
			// A newer download already covers this URL.
			if err := c.remove(oldPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
				c.logDeleteFailure(oldPath, err)
			}
			rekeyed++
			continue
		}
		if err := os.Rename(oldPath, newPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			c.logger.Info("cannot migrate cached file; keeping md5 key",
				logging.String("cache_file", oldPath),
				logging.Error(err),
			)
			c.entries[key] = rec.entry(key, oldPath)
			kept++
			continue
		}
		c.entries[fingerprint] = rec.entry(fingerprint, newPath)
		rekeyed++
	}
	return rekeyed, kept
}

// Close releases the directory lock. The index is already persisted after
// every mutation.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if err := c.lock.Unlock(); err != nil {
		return fmt.Errorf("audiocache: release lock: %w", err)
	}
	return nil
}

// Dir returns the cache directory.
func (c *Cache) Dir() string {
	return c.dir
}

// Lookup returns the cached entry for url. A miss is reported with ok=false;
// index entries whose payload disappeared are dropped on the way.
func (c *Cache) Lookup(url string) (Entry, bool) {
	if strings.TrimSpace(url) == "" {
		return Entry{}, false
	}
	fingerprint := Fingerprint(url)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return Entry{}, false
	}
	entry, found := c.entries[fingerprint]
	if !found {
		return Entry{}, false
	}

	info, err := os.Stat(entry.Path)
	switch {
	case err == nil && info.Mode().IsRegular():
	case err == nil || errors.Is(err, fs.ErrNotExist):
		delete(c.entries, fingerprint)
		c.logger.Info("dropped cache entry with missing file",
			logging.String("fingerprint", fingerprint),
			logging.String("cache_file", entry.Path))
		_ = c.persistLocked()
		return Entry{}, false
	default:
		logging.WarnWithContext(c.logger, "cannot inspect cached file; treating as miss", "audiocache_stat_failed",
			logging.String("cache_file", entry.Path),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check cache directory permissions"),
			logging.String(logging.FieldImpact, "audio will be downloaded again"),
		)
		return Entry{}, false
	}

	entry.LastAccessed = c.now()
	c.entries[fingerprint] = entry
	_ = c.persistLocked()
	return entry, true
}

// Insert copies tempPath into the cache under url's fingerprint and records
// meta. tempPath is left in place for the caller to clean up. An existing
// entry for the same url is replaced. The stored path is returned; when only
// the index write failed it is returned together with an ErrPersistIndex
// error.
func (c *Cache) Insert(url, tempPath string, meta Metadata) (string, error) {
	entry, err := c.insert(url, tempPath, meta)
	return entry.Path, err
}

func (c *Cache) insert(url, tempPath string, meta Metadata) (Entry, error) {
	if strings.TrimSpace(url) == "" {
		return Entry{}, ErrEmptyURL
	}
	if strings.TrimSpace(tempPath) == "" {
		return Entry{}, errors.New("audiocache: empty source file path")
	}
	fingerprint := Fingerprint(url)

	// Copy outside the lock; the rename below is what publishes the file.
	staged, _, err := fileutil.CopyToTemp(tempPath, filepath.Join(c.dir, incomingDir))
	if err != nil {
		return Entry{}, fmt.Errorf("audiocache: copy into cache: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		_ = os.Remove(staged)
		return Entry{}, ErrClosed
	}

	dest := payloadPath(c.dir, fingerprint)
	if err := os.Rename(staged, dest); err != nil {
		_ = os.Remove(staged)
		return Entry{}, fmt.Errorf("audiocache: publish cached file: %w", err)
	}
	size, err := fileutil.FileSize(dest)
	if err != nil {
		return Entry{}, fmt.Errorf("audiocache: stat cached file: %w", err)
	}

	meta = meta.normalized()
	now := c.now()
	entry := Entry{
		Fingerprint:  fingerprint,
		URL:          url,
		Path:         dest,
		Title:        meta.Title,
		Channel:      meta.Channel,
		Duration:     meta.Duration,
		Thumbnail:    meta.Thumbnail,
		FileSize:     size,
		AddedAt:      now,
		LastAccessed: now,
	}
	c.entries[fingerprint] = entry

	c.logger.Info("stored cache entry",
		logging.String("fingerprint", fingerprint),
		logging.String("title", entry.Title),
		logging.Int64("file_size", size),
	)
	return entry, c.persistLocked()
}

// Remove deletes the entry for url and its file. It reports whether an entry
// existed.
func (c *Cache) Remove(url string) (bool, error) {
	if strings.TrimSpace(url) == "" {
		return false, ErrEmptyURL
	}
	fingerprint := Fingerprint(url)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false, ErrClosed
	}
	entry, found := c.entries[fingerprint]
	if !found {
		return false, nil
	}
	if err := c.remove(entry.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("audiocache: remove %q: %w", entry.Path, err)
	}
	delete(c.entries, fingerprint)
	c.logger.Debug("removed cache entry", logging.String("fingerprint", fingerprint))
	return true, c.persistLocked()
}

// Entries returns a snapshot of all entries, most recently used first.
// Access times are not updated.
func (c *Cache) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := make([]Entry, 0, len(c.entries))
	for _, entry := range c.entries {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].LastAccessed.Equal(entries[j].LastAccessed) {
			return entries[i].Fingerprint < entries[j].Fingerprint
		}
		return entries[i].LastAccessed.After(entries[j].LastAccessed)
	})
	return entries
}

// Summary reports entry count, recorded size, and free space on the cache
// volume. Free-space figures are zero when the platform cannot report them.
func (c *Cache) Summary() Summary {
	c.mu.Lock()
	s := Summary{
		Dir:        c.dir,
		Entries:    len(c.entries),
		TotalBytes: c.totalLocked(),
		MaxBytes:   c.maxBytes,
	}
	c.mu.Unlock()

	total, free, err := c.statfs(c.dir)
	if err != nil {
		c.logger.Debug("statfs failed", logging.String("cache_dir", c.dir), logging.Error(err))
		return s
	}
	s.TotalFSBytes = total
	s.FreeBytes = free
	return s
}

func (c *Cache) totalLocked() int64 {
	var total int64
	for _, entry := range c.entries {
		total += entry.FileSize
	}
	return total
}

// persistLocked rewrites the index. Failures are logged and returned wrapped
// in ErrPersistIndex; the in-memory index stays as is.
func (c *Cache) persistLocked() error {
	records := make(map[string]record, len(c.entries))
	for fingerprint, entry := range c.entries {
		records[fingerprint] = entry.record()
	}
	if err := saveIndex(c.indexPath, records); err != nil {
		logging.WarnWithContext(c.logger, "failed to write cache index", "audiocache_index_write_failed",
			logging.String("index_path", c.indexPath),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check free space and permissions on the cache directory"),
			logging.String(logging.FieldImpact, "changes are kept in memory until the next successful write"),
		)
		return fmt.Errorf("%w: %w", ErrPersistIndex, err)
	}
	return nil
}
