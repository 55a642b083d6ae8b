package audiocache

import "errors"

var (
	// ErrEmptyURL is returned when an operation needs a source URL and got none.
	ErrEmptyURL = errors.New("audiocache: empty url")
	// ErrCacheInUse means another process holds the cache directory lock.
	ErrCacheInUse = errors.New("audiocache: cache directory is in use by another process")
	// ErrPersistIndex wraps failures writing metadata.json. The in-memory
	// index already reflects the change when this is returned.
	ErrPersistIndex = errors.New("audiocache: persist index")
	// ErrClosed is returned by mutating operations after Close.
	ErrClosed = errors.New("audiocache: cache closed")
)
