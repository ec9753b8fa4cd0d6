// Package logging constructs the slog loggers used across the daemon and CLI.
//
// It provides console and JSON handlers, Attr helper aliases so call sites
// avoid importing log/slog directly, standardized field names for job and
// stage correlation, and context-derived logger augmentation. Construction
// flows through Options or directly from application config.
package logging
