package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateAudioCache(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateAudioCache() error {
	if c.AudioCache.Dir == "" {
		return errors.New("audio_cache.dir must be set")
	}
	if c.AudioCache.MaxMiB < 0 {
		return errors.New("audio_cache.max_mib must be positive")
	}
	if c.AudioCache.MaintainIntervalSeconds < 0 {
		return errors.New("audio_cache.maintain_interval_seconds must be >= 0")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q (want console or json)", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
