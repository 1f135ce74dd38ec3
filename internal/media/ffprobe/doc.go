// Package ffprobe provides a typed wrapper around ffprobe JSON output.
//
// Inspect runs the binary and decodes streams and format metadata. Helper
// methods on Result answer the questions the operation selector asks:
// which codecs are present, whether there is real video (cover art does not
// count), and how long the media runs.
package ffprobe
