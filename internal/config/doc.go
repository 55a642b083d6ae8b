// Package config loads, normalizes, and validates Boxy cache configuration.
//
// It supplies repository defaults, resolves the per-OS audio cache directory,
// expands user paths (including tilde shortcuts), and reads TOML files. The
// Config type is the single place the CLI and embedding services discover the
// cache directory, its size budget, and logging preferences.
//
// Always obtain settings through this package so downstream code receives
// absolute paths and clear validation errors.
package config
