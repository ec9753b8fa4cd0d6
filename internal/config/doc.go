// Package config loads, normalizes, and validates stemd configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// STEMD_API_TOKEN. The Config type centralizes every knob the daemon and CLI
// need: workspace and delivery directories, pipeline concurrency and timeout
// budgets, source admission limits, external engine invocation settings, and
// logging output.
//
// Loading flows through Load -> applyDefaults -> normalize -> Validate so the
// rest of the codebase only ever sees absolute paths and vetted values.
package config
