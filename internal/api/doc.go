// Package api defines wire-format types and converters for the HTTP API.
// It translates jobs.Status and queue models into transport-friendly DTOs
// so front-ends never couple to internal types.
//
// # Key Types
//
// Job: a job as a front-end renders it, with the user-facing message and
// the download link when one exists.
//
// CreateJobRequest, RightsRequest, OperationRequest, CancelRequest: request
// bodies for the lifecycle endpoints.
//
// Error: the body of every non-2xx response, carrying the taxonomy kind and
// the user-facing message.
//
// # Design Notes
//
// Field names are snake_case to match the request bodies front-ends already
// send. Timestamps use RFC3339 with milliseconds. Failure reasons are never
// exposed; only the message derived from the failure kind is.
package api
