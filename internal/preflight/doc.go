// Package preflight provides readiness checks for the binaries, paths and
// services clipsafe depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll at startup and refuses to start the worker
//     pool when a required check fails.
//   - The CLI "clipsafe check" command prints every result.
//
// Redis checks only run when a Redis backend is configured.
package preflight
