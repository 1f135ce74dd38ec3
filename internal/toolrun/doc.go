// Package toolrun supervises external media tools.
//
// Each invocation runs in its own process group with stdin closed, keeps
// the last few KiB of stderr for diagnostics and is bounded by a hard
// deadline. When the deadline passes the whole group receives SIGKILL, so
// helpers spawned by the tool cannot outlive it.
package toolrun
