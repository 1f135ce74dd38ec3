// Package logging assembles structured slog loggers and formatting helpers used
// across clipsafe components.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so worker and service code tag
// log lines with job IDs, operations, and correlation IDs automatically. A
// no-op logger is provided for tests and wiring code that cannot fail.
package logging
