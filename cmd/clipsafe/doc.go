// Command clipsafe runs the media job service and its admin tooling.
//
// "serve" runs the HTTP API with workers and maintenance, "worker" runs
// extra workers against the same store, and the remaining commands drive
// the lifecycle service in-process for operators: submitting jobs,
// inspecting and cancelling them, sweeping expired results, checking
// dependencies and migrating the schema.
package main
