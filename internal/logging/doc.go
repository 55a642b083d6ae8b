// Package logging assembles structured slog loggers and formatting helpers used
// across Boxy's cache tooling.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and standardizes the component, event_type, error_hint, and impact
// fields so warnings explain cause, consequence, and next step. The package
// also provides a no-op logger for tests and wiring code that cannot fail.
package logging
