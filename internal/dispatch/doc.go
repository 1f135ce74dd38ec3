// Package dispatch hands queued job ids to workers.
//
// The job store is the durable queue: a job is queued exactly when its row
// says so, and workers claim it with a compare-and-set. A Queue only
// suggests candidates. The store-backed queue polls for the oldest queued
// rows; the Redis queue pushes ids onto a list so idle workers wake
// immediately, and falls back to polling the store whenever Redis is empty
// or unreachable. A stale or duplicate id is harmless because the claim
// rejects it.
package dispatch
