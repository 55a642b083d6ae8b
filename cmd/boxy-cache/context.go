package main

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"boxy/internal/audiocache"
	"boxy/internal/config"
	"boxy/internal/logging"
)

type commandContext struct {
	configFlag   *string
	cacheDirFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, cacheDirFlag *string) *commandContext {
	return &commandContext{
		configFlag:   configFlag,
		cacheDirFlag: cacheDirFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if c.cacheDirFlag != nil && strings.TrimSpace(*c.cacheDirFlag) != "" {
			dir, err := config.ExpandPath(strings.TrimSpace(*c.cacheDirFlag))
			if err != nil {
				c.configErr = fmt.Errorf("resolve --cache-dir: %w", err)
				return
			}
			cfg.AudioCache.Dir = dir
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// withCache opens the configured cache for the duration of fn. Each
// invocation gets its own session id so log lines from one command can be
// grouped.
func (c *commandContext) withCache(fn func(*config.Config, *audiocache.Cache) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger = logger.With(logging.String(logging.FieldSessionID, uuid.NewString()))

	cache, err := audiocache.Open(audiocache.Options{
		Dir:      cfg.AudioCache.Dir,
		MaxBytes: cfg.MaxBytes(),
		Logger:   logger,
	})
	if err != nil {
		if errors.Is(err, audiocache.ErrCacheInUse) {
			return fmt.Errorf("open cache %s: %w (is the bot running?)", cfg.AudioCache.Dir, err)
		}
		return fmt.Errorf("open cache: %w", err)
	}
	defer cache.Close()
	return fn(cfg, cache)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
