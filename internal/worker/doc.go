// Package worker runs queued jobs.
//
// A Pool starts worker.pool_size goroutines. Each claims a job through the
// jobs service, executes it inside a scratch workspace and reports the
// outcome with Complete or Fail. While a job runs, a heartbeat goroutine
// keeps its last_heartbeat fresh; a worker that loses ownership abandons
// the job without writing to it.
//
// Maintenance runs alongside the pool: stale reclaim, abandoned-draft
// expiry, the TTL sweep under a host-wide file lock, scratch cleanup and
// the queue-depth gauge.
package worker
