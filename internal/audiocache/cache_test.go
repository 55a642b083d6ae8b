package audiocache

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"boxy/internal/testsupport"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	return openTestCache(t, t.TempDir())
}

func openTestCache(t *testing.T, dir string) *Cache {
	t.Helper()
	cache, err := Open(Options{Dir: dir, MaxBytes: 1 << 20, ScratchDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { cache.Close() })
	return cache
}

// steppedClock makes every call to now one second later than the previous.
func steppedClock(c *Cache) {
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	tick := 0
	c.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
}

func mustInsert(t *testing.T, c *Cache, url string, size int64, meta Metadata) string {
	t.Helper()
	path, err := c.Insert(url, testsupport.WriteDownload(t, size), meta)
	if err != nil {
		t.Fatalf("Insert(%s): %v", url, err)
	}
	return path
}

func readIndexFile(t *testing.T, c *Cache) map[string]map[string]any {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(c.Dir(), indexFileName))
	if err != nil {
		t.Fatalf("read index: %v", err)
	}
	var raw map[string]map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("index is not valid JSON: %v", err)
	}
	return raw
}

func TestFingerprintIsDeterministicSHA256(t *testing.T) {
	url := "https://www.youtube.com/watch?v=dQw4w9WgXcQ"

	first := Fingerprint(url)
	second := Fingerprint(url)
	if first != second {
		t.Fatalf("fingerprint not stable: %q vs %q", first, second)
	}

	sum := sha256.Sum256([]byte(url))
	if want := hex.EncodeToString(sum[:]); first != want {
		t.Fatalf("fingerprint = %q, want %q", first, want)
	}
	if !isFingerprint(first) {
		t.Fatalf("fingerprint %q should validate", first)
	}

	if Fingerprint("https://youtu.be/dQw4w9WgXcQ") == first {
		t.Fatal("distinct URLs for the same video must have distinct fingerprints")
	}
}

func TestLookupMissOnEmptyCache(t *testing.T) {
	cache := newTestCache(t)

	for _, url := range []string{"https://example.com/a", "https://example.com/b", ""} {
		if _, ok := cache.Lookup(url); ok {
			t.Fatalf("Lookup(%q) hit on empty cache", url)
		}
	}
	if s := cache.Summary(); s.Entries != 0 || s.TotalBytes != 0 {
		t.Fatalf("unexpected summary on empty cache: %+v", s)
	}
}

func TestInsertAndLookupRoundTrip(t *testing.T) {
	cache := newTestCache(t)
	url := "https://example.com/watch?v=1"
	tmp := testsupport.WriteDownload(t, 4096)
	meta := Metadata{
		Title:     "Song Title",
		Channel:   "Some Channel",
		Duration:  215 * time.Second,
		Thumbnail: "https://img.example.com/1.jpg",
	}

	stored, err := cache.Insert(url, tmp, meta)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if want := filepath.Join(cache.Dir(), Fingerprint(url)+".webm"); stored != want {
		t.Fatalf("stored path = %q, want %q", stored, want)
	}
	if _, err := os.Stat(tmp); err != nil {
		t.Fatalf("caller temp file must be preserved: %v", err)
	}

	entry, ok := cache.Lookup(url)
	if !ok {
		t.Fatal("expected hit after insert")
	}
	if entry.Path != stored {
		t.Fatalf("lookup path = %q, want %q", entry.Path, stored)
	}
	if _, err := os.Stat(entry.Path); err != nil {
		t.Fatalf("cached file missing: %v", err)
	}
	if got := entry.Metadata(); got != meta {
		t.Fatalf("metadata mismatch: got %+v want %+v", got, meta)
	}
	if entry.FileSize != 4096 {
		t.Fatalf("file size = %d, want 4096", entry.FileSize)
	}
	if entry.URL != url {
		t.Fatalf("url = %q, want %q", entry.URL, url)
	}
}

func TestInsertAppliesMetadataDefaults(t *testing.T) {
	cache := newTestCache(t)

	mustInsert(t, cache, "https://example.com/untitled", 10, Metadata{Uploader: "  uploader name "})
	entry, ok := cache.Lookup("https://example.com/untitled")
	if !ok {
		t.Fatal("expected hit")
	}
	if entry.Title != "Unknown" {
		t.Fatalf("title = %q, want Unknown", entry.Title)
	}
	if entry.Channel != "uploader name" {
		t.Fatalf("channel = %q, want uploader fallback", entry.Channel)
	}
	if entry.Duration != 0 || entry.Thumbnail != "" {
		t.Fatalf("unexpected defaults: %+v", entry)
	}
}

func TestInsertNormalizesTitleToNFC(t *testing.T) {
	cache := newTestCache(t)

	decomposed := "Cafe\u0301"
	mustInsert(t, cache, "https://example.com/cafe", 10, Metadata{Title: decomposed})
	entry, _ := cache.Lookup("https://example.com/cafe")
	if entry.Title != "Caf\u00e9" {
		t.Fatalf("title = %q, want composed form", entry.Title)
	}
}

func TestInsertOverwritesExistingEntry(t *testing.T) {
	cache := newTestCache(t)
	url := "https://example.com/replace"

	first := mustInsert(t, cache, url, 100, Metadata{Title: "first"})
	second := mustInsert(t, cache, url, 250, Metadata{Title: "second"})
	if first != second {
		t.Fatalf("path changed between inserts: %q vs %q", first, second)
	}

	entry, ok := cache.Lookup(url)
	if !ok {
		t.Fatal("expected hit")
	}
	if entry.Title != "second" || entry.FileSize != 250 {
		t.Fatalf("entry not overwritten: %+v", entry)
	}
	if s := cache.Summary(); s.Entries != 1 || s.TotalBytes != 250 {
		t.Fatalf("summary = %+v, want one 250-byte entry", s)
	}
}

func TestInsertRejectsBadInput(t *testing.T) {
	cache := newTestCache(t)

	if _, err := cache.Insert("", testsupport.WriteDownload(t, 1), Metadata{}); !errors.Is(err, ErrEmptyURL) {
		t.Fatalf("expected ErrEmptyURL, got %v", err)
	}
	if _, err := cache.Insert("https://example.com/x", filepath.Join(t.TempDir(), "missing"), Metadata{}); err == nil {
		t.Fatal("expected error for missing temp file")
	}
	if s := cache.Summary(); s.Entries != 0 {
		t.Fatalf("failed inserts must not create entries: %+v", s)
	}
}

func TestLookupUpdatesLastAccessed(t *testing.T) {
	cache := newTestCache(t)
	steppedClock(cache)
	url := "https://example.com/touch"

	mustInsert(t, cache, url, 10, Metadata{Title: "t"})
	before := cache.Entries()[0]

	entry, ok := cache.Lookup(url)
	if !ok {
		t.Fatal("expected hit")
	}
	if !entry.LastAccessed.After(before.LastAccessed) {
		t.Fatalf("last accessed not advanced: before %v after %v", before.LastAccessed, entry.LastAccessed)
	}
	if !entry.AddedAt.Equal(before.AddedAt) {
		t.Fatalf("date added changed on lookup: %v vs %v", before.AddedAt, entry.AddedAt)
	}

	raw := readIndexFile(t, cache)
	persisted := raw[Fingerprint(url)]["last_accessed"].(float64)
	if persisted != toEpoch(entry.LastAccessed) {
		t.Fatalf("persisted last_accessed = %v, want %v", persisted, toEpoch(entry.LastAccessed))
	}
}

func TestLookupDropsEntryWithMissingFile(t *testing.T) {
	cache := newTestCache(t)
	url := "https://example.com/vanished"
	stored := mustInsert(t, cache, url, 10, Metadata{Title: "gone"})

	if err := os.Remove(stored); err != nil {
		t.Fatalf("remove payload: %v", err)
	}

	if _, ok := cache.Lookup(url); ok {
		t.Fatal("expected miss for entry without file")
	}
	if len(cache.Entries()) != 0 {
		t.Fatal("entry should be purged from the index")
	}
	if _, ok := readIndexFile(t, cache)[Fingerprint(url)]; ok {
		t.Fatal("purge should be persisted")
	}
	if _, ok := cache.Lookup(url); ok {
		t.Fatal("second lookup should also miss")
	}
}

func TestEvictToBudgetRemovesLeastRecentlyUsed(t *testing.T) {
	cache := newTestCache(t)
	steppedClock(cache)

	oldest := mustInsert(t, cache, "https://example.com/100", 100, Metadata{Title: "100"})
	middle := mustInsert(t, cache, "https://example.com/200", 200, Metadata{Title: "200"})
	newest := mustInsert(t, cache, "https://example.com/300", 300, Metadata{Title: "300"})

	result, err := cache.EvictToBudget(350)
	if err != nil {
		t.Fatalf("EvictToBudget: %v", err)
	}

	wantRemoved := []string{Fingerprint("https://example.com/100"), Fingerprint("https://example.com/200")}
	if !slices.Equal(result.Removed, wantRemoved) {
		t.Fatalf("removed = %v, want %v", result.Removed, wantRemoved)
	}
	if result.FreedBytes != 300 || result.TotalBytes != 300 {
		t.Fatalf("unexpected result: %+v", result)
	}
	for _, path := range []string{oldest, middle} {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Fatalf("expected %s deleted, stat err=%v", path, err)
		}
	}
	if _, err := os.Stat(newest); err != nil {
		t.Fatalf("newest entry should survive: %v", err)
	}
	if _, ok := cache.Lookup("https://example.com/300"); !ok {
		t.Fatal("newest entry should still hit")
	}
	if s := cache.Summary(); s.Entries != 1 || s.TotalBytes != 300 {
		t.Fatalf("summary = %+v", s)
	}
	if got := len(readIndexFile(t, cache)); got != 1 {
		t.Fatalf("persisted index has %d entries, want 1", got)
	}
}

func TestEvictToBudgetHonoursRecentLookups(t *testing.T) {
	cache := newTestCache(t)
	steppedClock(cache)

	mustInsert(t, cache, "https://example.com/a", 100, Metadata{})
	mustInsert(t, cache, "https://example.com/b", 100, Metadata{})
	if _, ok := cache.Lookup("https://example.com/a"); !ok {
		t.Fatal("expected hit")
	}

	result, err := cache.EvictToBudget(100)
	if err != nil {
		t.Fatalf("EvictToBudget: %v", err)
	}
	if !slices.Equal(result.Removed, []string{Fingerprint("https://example.com/b")}) {
		t.Fatalf("expected the untouched entry to go first, removed %v", result.Removed)
	}
}

func TestEvictToBudgetNoopWhenWithinBudget(t *testing.T) {
	cache := newTestCache(t)
	paths := []string{
		mustInsert(t, cache, "https://example.com/1", 100, Metadata{}),
		mustInsert(t, cache, "https://example.com/2", 200, Metadata{}),
	}
	cache.remove = func(path string) error {
		t.Fatalf("remove called for %s while within budget", path)
		return nil
	}

	for _, budget := range []int64{300, 1000} {
		result, err := cache.EvictToBudget(budget)
		if err != nil {
			t.Fatalf("EvictToBudget(%d): %v", budget, err)
		}
		if len(result.Removed) != 0 || result.TotalBytes != 300 {
			t.Fatalf("unexpected result for budget %d: %+v", budget, result)
		}
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("file %s should be untouched: %v", path, err)
		}
	}
}

func TestEvictToBudgetSkipsBusyFiles(t *testing.T) {
	cache := newTestCache(t)
	steppedClock(cache)

	busy := mustInsert(t, cache, "https://example.com/100", 100, Metadata{})
	mustInsert(t, cache, "https://example.com/200", 200, Metadata{})
	mustInsert(t, cache, "https://example.com/300", 300, Metadata{})

	cache.remove = func(path string) error {
		if path == busy {
			return &fs.PathError{Op: "remove", Path: path, Err: fs.ErrPermission}
		}
		return os.Remove(path)
	}

	result, err := cache.EvictToBudget(350)
	if err != nil {
		t.Fatalf("EvictToBudget must not fail on a busy file: %v", err)
	}
	if !slices.Equal(result.Skipped, []string{Fingerprint("https://example.com/100")}) {
		t.Fatalf("skipped = %v", result.Skipped)
	}
	wantRemoved := []string{Fingerprint("https://example.com/200"), Fingerprint("https://example.com/300")}
	if !slices.Equal(result.Removed, wantRemoved) {
		t.Fatalf("removed = %v, want %v", result.Removed, wantRemoved)
	}
	if result.TotalBytes != 100 {
		t.Fatalf("total = %d, want 100", result.TotalBytes)
	}
	if _, err := os.Stat(busy); err != nil {
		t.Fatalf("busy file should remain: %v", err)
	}
	if _, ok := cache.Lookup("https://example.com/100"); !ok {
		t.Fatal("busy entry should stay indexed")
	}
}

func TestEvictToBudgetCountsMissingFilesAsRemoved(t *testing.T) {
	cache := newTestCache(t)
	steppedClock(cache)

	gone := mustInsert(t, cache, "https://example.com/gone", 500, Metadata{})
	mustInsert(t, cache, "https://example.com/kept", 100, Metadata{})
	if err := os.Remove(gone); err != nil {
		t.Fatalf("remove payload: %v", err)
	}

	result, err := cache.EvictToBudget(200)
	if err != nil {
		t.Fatalf("EvictToBudget: %v", err)
	}
	if !slices.Equal(result.Removed, []string{Fingerprint("https://example.com/gone")}) {
		t.Fatalf("removed = %v", result.Removed)
	}
	if result.TotalBytes != 100 {
		t.Fatalf("total = %d, want 100", result.TotalBytes)
	}
}

func TestEvictToBudgetRejectsNegativeBudget(t *testing.T) {
	cache := newTestCache(t)
	if _, err := cache.EvictToBudget(-1); err == nil {
		t.Fatal("expected error for negative budget")
	}
}

func TestClearAllRemovesEveryPayload(t *testing.T) {
	cache := newTestCache(t)
	mustInsert(t, cache, "https://example.com/1", 100, Metadata{})
	mustInsert(t, cache, "https://example.com/2", 200, Metadata{})
	testsupport.WriteFile(t, filepath.Join(cache.Dir(), "stray.part"), 5)

	result, err := cache.ClearAll()
	if err != nil {
		t.Fatalf("ClearAll: %v", err)
	}
	if result.RemovedFiles != 3 || result.SkippedFiles != 0 || result.Entries != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}

	s := cache.Summary()
	if s.Entries != 0 || s.TotalBytes != 0 {
		t.Fatalf("summary after clear = %+v", s)
	}
	files := testsupport.ListFiles(t, cache.Dir())
	slices.Sort(files)
	if !slices.Equal(files, []string{lockFileName, indexFileName}) {
		t.Fatalf("files left after clear: %v", files)
	}
	if got := len(readIndexFile(t, cache)); got != 0 {
		t.Fatalf("persisted index has %d entries, want 0", got)
	}
}

func TestClearAllSkipsBusyFiles(t *testing.T) {
	cache := newTestCache(t)
	busy := mustInsert(t, cache, "https://example.com/playing", 100, Metadata{})
	mustInsert(t, cache, "https://example.com/idle", 100, Metadata{})

	cache.remove = func(path string) error {
		if path == busy {
			return &fs.PathError{Op: "remove", Path: path, Err: fs.ErrPermission}
		}
		return os.Remove(path)
	}

	result, err := cache.ClearAll()
	if err != nil {
		t.Fatalf("ClearAll: %v", err)
	}
	if result.RemovedFiles != 1 || result.SkippedFiles != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if s := cache.Summary(); s.Entries != 0 {
		t.Fatalf("index should be empty even with skipped files: %+v", s)
	}
}

func TestOpenResetsCorruptIndex(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, indexFileName), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write corrupt index: %v", err)
	}

	cache := openTestCache(t, dir)
	if s := cache.Summary(); s.Entries != 0 {
		t.Fatalf("expected empty cache after corrupt index, got %+v", s)
	}
	if got := len(readIndexFile(t, cache)); got != 0 {
		t.Fatalf("corrupt index should be rewritten empty, got %d entries", got)
	}

	mustInsert(t, cache, "https://example.com/after", 10, Metadata{})
	if _, ok := cache.Lookup("https://example.com/after"); !ok {
		t.Fatal("cache should be usable after reset")
	}
}

func TestOpenWritesEmptyIndexWhenMissing(t *testing.T) {
	cache := newTestCache(t)
	if got := len(readIndexFile(t, cache)); got != 0 {
		t.Fatalf("new index should be empty, got %d", got)
	}
}

func TestReopenKeepsEntries(t *testing.T) {
	dir := t.TempDir()
	url := "https://example.com/persist"

	first, err := Open(Options{Dir: dir})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	mustInsert(t, first, url, 64, Metadata{Title: "kept", Duration: 90 * time.Second})
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second := openTestCache(t, dir)
	entry, ok := second.Lookup(url)
	if !ok {
		t.Fatal("expected hit after reopen")
	}
	if entry.Title != "kept" || entry.Duration != 90*time.Second || entry.FileSize != 64 {
		t.Fatalf("unexpected entry after reopen: %+v", entry)
	}
}

func TestOpenRejectsSecondOwner(t *testing.T) {
	dir := t.TempDir()
	openTestCache(t, dir)

	if _, err := Open(Options{Dir: dir}); !errors.Is(err, ErrCacheInUse) {
		t.Fatalf("expected ErrCacheInUse, got %v", err)
	}
}

func TestOpenRemovesInterruptedInserts(t *testing.T) {
	dir := t.TempDir()
	leftover := filepath.Join(dir, incomingDir, ".copy-123")
	testsupport.WriteFile(t, leftover, 10)

	openTestCache(t, dir)
	if _, err := os.Stat(leftover); !os.IsNotExist(err) {
		t.Fatalf("expected leftover staging file removed, stat err=%v", err)
	}
}

func TestIndexFileLayout(t *testing.T) {
	cache := newTestCache(t)
	url := "https://example.com/layout"
	mustInsert(t, cache, url, 42, Metadata{Title: "Layout", Channel: "Chan", Duration: 3 * time.Second, Thumbnail: "thumb"})

	raw := readIndexFile(t, cache)
	rec, ok := raw[Fingerprint(url)]
	if !ok {
		t.Fatalf("index missing fingerprint key: %v", raw)
	}
	for _, key := range []string{"url", "title", "duration", "thumbnail", "channel", "file_size", "date_added", "last_accessed"} {
		if _, ok := rec[key]; !ok {
			t.Fatalf("index record missing %q: %v", key, rec)
		}
	}
	if rec["url"] != url || rec["title"] != "Layout" || rec["channel"] != "Chan" || rec["thumbnail"] != "thumb" {
		t.Fatalf("unexpected string fields: %v", rec)
	}
	if rec["duration"].(float64) != 3 || rec["file_size"].(float64) != 42 {
		t.Fatalf("unexpected numeric fields: %v", rec)
	}
	if rec["date_added"].(float64) <= 0 {
		t.Fatalf("date_added should be epoch seconds: %v", rec["date_added"])
	}
}

func TestOpenLoadsExistingIndex(t *testing.T) {
	dir := t.TempDir()
	url := "https://example.com/legacy"
	fingerprint := Fingerprint(url)
	testsupport.WriteFile(t, filepath.Join(dir, fingerprint+".webm"), 77)

	index := `{
  "` + fingerprint + `": {"url": "` + url + `", "title": "Old Song", "duration": 123.5, "thumbnail": "", "channel": "Old", "file_size": 77, "date_added": 1700000000.25, "last_accessed": 1700000100.5},
  "5d41402abc4b2a76b9719d911017c592": {"url": "https://example.com/md5", "title": "Older", "duration": 10, "thumbnail": "", "channel": "", "file_size": 10, "date_added": 1600000000, "last_accessed": 1600000000}
}`
	if err := os.WriteFile(filepath.Join(dir, indexFileName), []byte(index), 0o644); err != nil {
		t.Fatalf("write index: %v", err)
	}

	cache := openTestCache(t, dir)
	if s := cache.Summary(); s.Entries != 2 || s.TotalBytes != 87 {
		t.Fatalf("summary = %+v, want 2 entries / 87 bytes", s)
	}

	entry, ok := cache.Lookup(url)
	if !ok {
		t.Fatal("expected hit for pre-existing entry")
	}
	if entry.Title != "Old Song" || entry.Duration != 123500*time.Millisecond {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if entry.AddedAt.Unix() != 1700000000 {
		t.Fatalf("date added = %v", entry.AddedAt)
	}

	// The md5-keyed entry moved to its URL fingerprint; it has no payload and
	// is the least recently used.
	result, err := cache.EvictToBudget(77)
	if err != nil {
		t.Fatalf("EvictToBudget: %v", err)
	}
	if !slices.Equal(result.Removed, []string{Fingerprint("https://example.com/md5")}) {
		t.Fatalf("removed = %v", result.Removed)
	}
}

func TestOpenDropsIndexKeysThatAreNotFingerprints(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "audio_files")
	outside := filepath.Join(root, "victim.webm")
	testsupport.WriteFile(t, outside, 10)

	index := `{
  "../victim": {"url": "", "title": "x", "file_size": 10, "date_added": 1, "last_accessed": 1},
  "sub/dir": {"url": "", "file_size": 10, "last_accessed": 1},
  "ABCDEF": {"url": "", "file_size": 10, "last_accessed": 1}
}`
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, indexFileName), []byte(index), 0o644); err != nil {
		t.Fatalf("write index: %v", err)
	}

	cache := openTestCache(t, dir)
	if s := cache.Summary(); s.Entries != 0 {
		t.Fatalf("invalid keys should be dropped, summary = %+v", s)
	}
	if got := len(readIndexFile(t, cache)); got != 0 {
		t.Fatalf("persisted index still has %d entries", got)
	}

	if _, err := cache.EvictToBudget(0); err != nil {
		t.Fatalf("EvictToBudget: %v", err)
	}
	if _, err := cache.ClearAll(); err != nil {
		t.Fatalf("ClearAll: %v", err)
	}
	if _, err := os.Stat(outside); err != nil {
		t.Fatalf("file outside the cache directory was touched: %v", err)
	}
}

func TestOpenRekeysLegacyEntries(t *testing.T) {
	dir := t.TempDir()
	url := "https://www.youtube.com/watch?v=legacy"
	sum := md5.Sum([]byte(url))
	oldKey := hex.EncodeToString(sum[:])
	testsupport.WriteFile(t, filepath.Join(dir, oldKey+".webm"), 64)

	orphanKey := "0123456789abcdef0123456789abcdef"
	index := `{
  "` + oldKey + `": {"url": "` + url + `", "title": "Carried Over", "duration": 60, "thumbnail": "", "channel": "", "file_size": 64, "date_added": 1600000000, "last_accessed": 1600000000},
  "` + orphanKey + `": {"title": "No URL", "file_size": 5, "date_added": 1600000000, "last_accessed": 1600000000}
}`
	if err := os.WriteFile(filepath.Join(dir, indexFileName), []byte(index), 0o644); err != nil {
		t.Fatalf("write index: %v", err)
	}

	cache := openTestCache(t, dir)
	entry, ok := cache.Lookup(url)
	if !ok {
		t.Fatal("legacy entry should hit after migration")
	}
	if entry.Fingerprint != Fingerprint(url) || entry.Title != "Carried Over" || entry.FileSize != 64 {
		t.Fatalf("unexpected migrated entry: %+v", entry)
	}
	if _, err := os.Stat(filepath.Join(dir, oldKey+".webm")); !os.IsNotExist(err) {
		t.Fatalf("old payload should be renamed, stat err=%v", err)
	}

	raw := readIndexFile(t, cache)
	if _, ok := raw[oldKey]; ok {
		t.Fatal("old key should be gone from the persisted index")
	}
	if _, ok := raw[Fingerprint(url)]; !ok {
		t.Fatal("new key should be persisted")
	}
	if _, ok := raw[orphanKey]; !ok {
		t.Fatal("legacy entry without a URL should be kept")
	}
}

func TestOpenBoundsOutOfRangeNumbers(t *testing.T) {
	dir := t.TempDir()
	huge := Fingerprint("https://example.com/huge")
	normal := Fingerprint("https://example.com/normal")
	testsupport.WriteFile(t, filepath.Join(dir, huge+".webm"), 10)
	testsupport.WriteFile(t, filepath.Join(dir, normal+".webm"), 10)

	index := `{
  "` + huge + `": {"url": "https://example.com/huge", "duration": 1e300, "file_size": 10, "date_added": 1e300, "last_accessed": 1e300},
  "` + normal + `": {"url": "https://example.com/normal", "duration": 5, "file_size": 10, "date_added": 1700000000, "last_accessed": 1700000000}
}`
	if err := os.WriteFile(filepath.Join(dir, indexFileName), []byte(index), 0o644); err != nil {
		t.Fatalf("write index: %v", err)
	}

	cache := openTestCache(t, dir)
	var got Entry
	for _, entry := range cache.Entries() {
		if entry.Fingerprint == huge {
			got = entry
		}
	}
	if got.Duration != time.Duration(math.MaxInt64) {
		t.Fatalf("duration = %v, want clamped maximum", got.Duration)
	}
	if !got.LastAccessed.IsZero() || !got.AddedAt.IsZero() {
		t.Fatalf("out-of-range timestamps should read as unknown: %+v", got)
	}

	result, err := cache.EvictToBudget(10)
	if err != nil {
		t.Fatalf("EvictToBudget: %v", err)
	}
	if !slices.Equal(result.Removed, []string{huge}) {
		t.Fatalf("damaged record should be evicted first, removed %v", result.Removed)
	}
}

func TestRemove(t *testing.T) {
	cache := newTestCache(t)
	url := "https://example.com/remove"
	stored := mustInsert(t, cache, url, 10, Metadata{})

	removed, err := cache.Remove(url)
	if err != nil || !removed {
		t.Fatalf("Remove = %v, %v", removed, err)
	}
	if _, err := os.Stat(stored); !os.IsNotExist(err) {
		t.Fatalf("payload should be deleted, stat err=%v", err)
	}
	removed, err = cache.Remove(url)
	if err != nil || removed {
		t.Fatalf("second Remove = %v, %v", removed, err)
	}
}

func TestRemovePropagatesBusyError(t *testing.T) {
	cache := newTestCache(t)
	url := "https://example.com/busy"
	mustInsert(t, cache, url, 10, Metadata{})
	cache.remove = func(path string) error {
		return &fs.PathError{Op: "remove", Path: path, Err: fs.ErrPermission}
	}

	if _, err := cache.Remove(url); !errors.Is(err, fs.ErrPermission) {
		t.Fatalf("expected permission error, got %v", err)
	}
	if _, ok := cache.Lookup(url); !ok {
		t.Fatal("entry must survive a failed remove")
	}
}

func TestPersistFailureKeepsInMemoryState(t *testing.T) {
	cache := newTestCache(t)
	blocker := filepath.Join(cache.Dir(), indexFileName+".tmp")
	if err := os.Mkdir(blocker, 0o755); err != nil {
		t.Fatalf("create blocker: %v", err)
	}

	url := "https://example.com/unpersisted"
	stored, err := cache.Insert(url, testsupport.WriteDownload(t, 10), Metadata{Title: "mem"})
	if !errors.Is(err, ErrPersistIndex) {
		t.Fatalf("expected ErrPersistIndex, got %v", err)
	}
	if stored == "" {
		t.Fatal("stored path should be returned even when the index write fails")
	}
	if _, ok := cache.Lookup(url); !ok {
		t.Fatal("in-memory index should still serve the entry")
	}

	if err := os.Remove(blocker); err != nil {
		t.Fatalf("remove blocker: %v", err)
	}
	mustInsert(t, cache, "https://example.com/next", 10, Metadata{})
	raw := readIndexFile(t, cache)
	if _, ok := raw[Fingerprint(url)]; !ok {
		t.Fatal("later write should catch up with the earlier entry")
	}
}

func TestSummaryReportsFilesystemSpace(t *testing.T) {
	cache := newTestCache(t)
	cache.statfs = func(string) (uint64, uint64, error) {
		return 1000, 250, nil
	}
	mustInsert(t, cache, "https://example.com/s", 10, Metadata{})

	s := cache.Summary()
	if s.Dir != cache.Dir() || s.MaxBytes != 1<<20 {
		t.Fatalf("unexpected summary: %+v", s)
	}
	if s.TotalFSBytes != 1000 || s.FreeBytes != 250 {
		t.Fatalf("unexpected fs stats: %+v", s)
	}

	cache.statfs = func(string) (uint64, uint64, error) {
		return 0, 0, errors.New("unsupported")
	}
	if s := cache.Summary(); s.Entries != 1 || s.FreeBytes != 0 {
		t.Fatalf("statfs failure should only zero fs fields: %+v", s)
	}
}

func TestEntriesOrderedMostRecentFirst(t *testing.T) {
	cache := newTestCache(t)
	steppedClock(cache)
	mustInsert(t, cache, "https://example.com/old", 1, Metadata{Title: "old"})
	mustInsert(t, cache, "https://example.com/new", 1, Metadata{Title: "new"})

	entries := cache.Entries()
	if len(entries) != 2 || entries[0].Title != "new" || entries[1].Title != "old" {
		t.Fatalf("unexpected order: %+v", entries)
	}
}

func TestClosedCacheRejectsMutations(t *testing.T) {
	cache, err := Open(Options{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	mustInsert(t, cache, "https://example.com/c", 1, Metadata{})
	if err := cache.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := cache.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if _, ok := cache.Lookup("https://example.com/c"); ok {
		t.Fatal("closed cache should miss")
	}
	if _, err := cache.Insert("https://example.com/d", testsupport.WriteDownload(t, 1), Metadata{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Insert after Close = %v, want ErrClosed", err)
	}
	if _, err := cache.EvictToBudget(0); !errors.Is(err, ErrClosed) {
		t.Fatalf("EvictToBudget after Close = %v, want ErrClosed", err)
	}
	if _, err := cache.ClearAll(); !errors.Is(err, ErrClosed) {
		t.Fatalf("ClearAll after Close = %v, want ErrClosed", err)
	}
}

func TestConcurrentOperationsKeepIndexConsistent(t *testing.T) {
	cache := newTestCache(t)
	downloads := make([]string, 8)
	for i := range downloads {
		downloads[i] = testsupport.WriteDownload(t, int64(100*(i+1)))
	}

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			url := "https://example.com/concurrent/" + string(rune('a'+i))
			for range 5 {
				if _, err := cache.Insert(url, downloads[i], Metadata{Title: url}); err != nil {
					t.Errorf("Insert: %v", err)
					return
				}
				cache.Lookup(url)
				if _, err := cache.EvictToBudget(2000); err != nil {
					t.Errorf("EvictToBudget: %v", err)
					return
				}
				cache.Summary()
			}
		}(i)
	}
	wg.Wait()

	entries := cache.Entries()
	raw := readIndexFile(t, cache)
	if len(raw) != len(entries) {
		t.Fatalf("persisted index has %d entries, memory has %d", len(raw), len(entries))
	}
	var total int64
	for _, entry := range entries {
		if _, ok := raw[entry.Fingerprint]; !ok {
			t.Fatalf("entry %s missing from persisted index", entry.Fingerprint)
		}
		if _, err := os.Stat(entry.Path); err != nil {
			t.Fatalf("indexed file missing: %v", err)
		}
		total += entry.FileSize
	}
	if total > 2000 {
		t.Fatalf("total %d exceeds budget after final sweep", total)
	}
}
