package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizeAudioCache(); err != nil {
		return err
	}
	return c.normalizeLogging()
}

func (c *Config) normalizeAudioCache() error {
	dir := strings.TrimSpace(c.AudioCache.Dir)
	if dir == "" {
		resolved, err := DefaultCacheDir()
		if err != nil {
			return fmt.Errorf("audio_cache.dir: %w", err)
		}
		dir = resolved
	}
	var err error
	if c.AudioCache.Dir, err = expandPath(dir); err != nil {
		return fmt.Errorf("audio_cache.dir: %w", err)
	}
	if c.AudioCache.MaxMiB == 0 {
		c.AudioCache.MaxMiB = defaultCacheMaxMiB
	}
	return nil
}

func (c *Config) normalizeLogging() error {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if strings.TrimSpace(c.Logging.Dir) == "" {
		c.Logging.Dir = ""
		return nil
	}
	var err error
	if c.Logging.Dir, err = expandPath(c.Logging.Dir); err != nil {
		return fmt.Errorf("logging.dir: %w", err)
	}
	return nil
}
