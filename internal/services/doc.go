// Package services defines the error taxonomy and context helpers shared by
// every clipsafe component.
//
// Key responsibilities:
//   - Sentinel markers (ErrInvalidTransition, ErrRateLimitExceeded,
//     ErrTimeout, ...) plus the Wrap helper so failures can be classified
//     with errors.Is regardless of how many layers wrapped them.
//   - KindOf and UserMessage, which turn an error into the persisted
//     failure_kind and the text a front-end may show.
//   - Context helpers that stamp job IDs, operations, worker IDs, and
//     correlation identifiers for logging.
package services
