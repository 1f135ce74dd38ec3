// Package daemon is the composition root of a clipsafe process.
//
// It opens the job store, artifact storage, limiter and dispatch queue
// selected by configuration, wires them into the lifecycle service, and
// runs the worker pool, the maintenance loop and (optionally) the HTTP API
// under one start/stop lifecycle. An API-serving daemon holds a flock on
// paths.data_dir so only one instance serves a data directory; worker-only
// daemons may run alongside it. Preflight checks gate Start.
//
// Keep orchestration here: lifecycle rules live in internal/jobs and
// execution in internal/worker.
package daemon
