// Package limiter enforces the per-user sliding-window job cap.
//
// Admissions are counted per user over the trailing hour. TryAdmit only
// counts an admission it grants, and Refund takes one back when the caller
// could not commit the work it was admitted for. Remaining answers without
// counting so callers can fail fast before doing expensive work.
//
// The memory limiter serves a single process. The Redis limiter keeps each
// user's window in a sorted set and updates it with one Lua script, so
// several API hosts share the cap.
package limiter
