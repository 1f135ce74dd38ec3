// Package ffmpeg maps a job's operation and parameters onto an ffmpeg
// argument list.
//
// Build is pure: it reads the probed stream layout and returns the
// arguments, the output file name and whether anything is re-encoded. The
// table is deliberately narrow. Stream copy is used wherever the operation
// allows it; smart trim re-encodes video only, and audio extraction falls
// back to AAC only when the source codec has no lossless container. A
// request that would need a silent transcode is refused with
// InvalidParameters instead.
package ffmpeg
