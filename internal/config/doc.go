// Package config loads, normalizes, and validates clipsafe configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours CLIPSAFE_* environment overrides
// plus the standard AWS credential variables. The resulting Config is built
// once at startup and handed to each component as an immutable value.
package config
