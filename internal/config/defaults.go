package config

const (
	defaultCacheMaxMiB = 1024
	defaultLogFormat   = "console"
	defaultLogLevel    = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		AudioCache: AudioCache{
			MaxMiB: defaultCacheMaxMiB,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
