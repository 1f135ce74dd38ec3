// Package storage keeps job artifacts in per-job namespaces on local disk or
// in an S3-compatible bucket.
//
// Every namespace is "<job_id>/" and carries a .manifest.json listing its
// artifacts. Seal stamps the manifest with the namespace expiry when the job
// reaches a terminal state; CleanupExpired only ever removes sealed
// namespaces whose expiry has passed, so the artifacts of a job that is still
// running can never be swept.
//
// Public links follow a fixed priority: a configured public base URL, then a
// signed link (JWT for local disk, presigned GET for S3), then no link.
package storage
