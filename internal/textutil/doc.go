// Package textutil normalizes user-supplied names for storage keys and
// renders labels for terminal output.
//
// Uploaded filenames arrive in whatever Unicode form the client used, so
// SanitizeFileName folds them to NFC before stripping unsafe characters.
package textutil
