// Package logging assembles structured slog loggers and formatting helpers used
// across camwatch.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so transfer and listing code can
// automatically tag log lines with device identities and job IDs. The package
// also provides a no-op logger for tests and wiring code that cannot fail.
package logging
