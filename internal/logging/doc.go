// Package logging assembles structured slog loggers and formatting helpers used
// across mediaflow services.
//
// It owns the console and JSON handlers, centralizes level and output plumbing,
// and exposes context-aware helpers so orchestrator code can tag log lines with
// workflow, step and asset identifiers. A no-op logger is provided for tests
// and wiring code that cannot fail.
package logging
