package audiocache

import (
	"math"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

const defaultTitle = "Unknown"

// Metadata describes a download as reported by the extraction step. Only
// Title is expected; the rest default to zero values.
type Metadata struct {
	Title     string
	Channel   string
	Uploader  string // used when Channel is empty
	Duration  time.Duration
	Thumbnail string
}

// Entry is one cached audio file and its descriptive metadata.
type Entry struct {
	Fingerprint  string
	URL          string
	Path         string
	Title        string
	Channel      string
	Duration     time.Duration
	Thumbnail    string
	FileSize     int64
	AddedAt      time.Time
	LastAccessed time.Time
}

// Metadata returns the descriptive fields of the entry.
func (e Entry) Metadata() Metadata {
	return Metadata{
		Title:     e.Title,
		Channel:   e.Channel,
		Duration:  e.Duration,
		Thumbnail: e.Thumbnail,
	}
}

func (m Metadata) normalized() Metadata {
	out := Metadata{
		Title:     cleanText(m.Title),
		Channel:   cleanText(m.Channel),
		Duration:  m.Duration,
		Thumbnail: strings.TrimSpace(m.Thumbnail),
	}
	if out.Title == "" {
		out.Title = defaultTitle
	}
	if out.Channel == "" {
		out.Channel = cleanText(m.Uploader)
	}
	if out.Duration < 0 {
		out.Duration = 0
	}
	return out
}

func cleanText(value string) string {
	return norm.NFC.String(strings.TrimSpace(value))
}

// record is the on-disk shape of an index value. Timestamps are float epoch
// seconds and duration is float seconds.
type record struct {
	URL          string  `json:"url"`
	Title        string  `json:"title"`
	Duration     float64 `json:"duration"`
	Thumbnail    string  `json:"thumbnail"`
	Channel      string  `json:"channel"`
	FileSize     int64   `json:"file_size"`
	DateAdded    float64 `json:"date_added"`
	LastAccessed float64 `json:"last_accessed"`
}

func (e Entry) record() record {
	return record{
		URL:          e.URL,
		Title:        e.Title,
		Duration:     e.Duration.Seconds(),
		Thumbnail:    e.Thumbnail,
		Channel:      e.Channel,
		FileSize:     e.FileSize,
		DateAdded:    toEpoch(e.AddedAt),
		LastAccessed: toEpoch(e.LastAccessed),
	}
}

func (r record) entry(fingerprint, path string) Entry {
	title := r.Title
	if title == "" {
		title = defaultTitle
	}
	duration := time.Duration(0)
	switch {
	case r.Duration >= maxDurationSeconds:
		duration = time.Duration(math.MaxInt64)
	case r.Duration > 0:
		duration = time.Duration(r.Duration * float64(time.Second))
	}
	size := r.FileSize
	if size < 0 {
		size = 0
	}
	return Entry{
		Fingerprint:  fingerprint,
		URL:          r.URL,
		Path:         path,
		Title:        title,
		Channel:      r.Channel,
		Duration:     duration,
		Thumbnail:    r.Thumbnail,
		FileSize:     size,
		AddedAt:      fromEpoch(r.DateAdded),
		LastAccessed: fromEpoch(r.LastAccessed),
	}
}

const (
	maxDurationSeconds = float64(math.MaxInt64) / float64(time.Second)
	// 9999-12-31T23:59:59Z. Later stamps are treated as unknown so a damaged
	// record sorts as least recently used instead of pinning itself.
	maxEpochSeconds = 253402300799
)

func toEpoch(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.Unix()) + float64(t.Nanosecond())/float64(time.Second)
}

func fromEpoch(seconds float64) time.Time {
	if !(seconds > 0 && seconds <= maxEpochSeconds) {
		return time.Time{}
	}
	whole, frac := math.Modf(seconds)
	return time.Unix(int64(whole), int64(frac*float64(time.Second)))
}
