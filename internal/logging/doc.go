// Package logging assembles structured slog loggers and formatting helpers used
// across voiceid.
//
// It owns the console/JSON handlers, level and output plumbing (including
// rotating log files), and context-aware helpers that tag log lines with the
// speaker, backend, diarization label and correlation id of the unit of work.
// A no-op logger is provided for tests and wiring code that cannot fail.
package logging
