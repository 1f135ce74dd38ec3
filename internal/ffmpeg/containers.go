package ffmpeg

import "strings"

// container describes a remux target and the codecs it can carry without
// transcoding. A nil codec set accepts anything.
type container struct {
	ext       string
	faststart bool
	video     map[string]bool
	audio     map[string]bool
	subtitle  map[string]bool
}

func codecSet(names ...string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, name := range names {
		set[name] = true
	}
	return set
}

var containers = map[string]container{
	"mp4": {
		ext:       ".mp4",
		faststart: true,
		video:     codecSet("h264", "hevc", "av1", "mpeg4", "vp9", "mjpeg", "png"),
		audio:     codecSet("aac", "mp3", "ac3", "eac3", "opus", "flac", "alac"),
		subtitle:  codecSet("mov_text"),
	},
	"mov": {
		ext:       ".mov",
		faststart: true,
		video:     codecSet("h264", "hevc", "mpeg4", "prores", "mjpeg", "png"),
		audio:     codecSet("aac", "mp3", "alac", "ac3", "pcm_s16le", "pcm_s24le"),
		subtitle:  codecSet("mov_text"),
	},
	"mkv": {
		ext: ".mkv",
	},
	"webm": {
		ext:      ".webm",
		video:    codecSet("vp8", "vp9", "av1"),
		audio:    codecSet("opus", "vorbis"),
		subtitle: codecSet("webvtt"),
	},
}

// SupportedContainers lists remux targets in display order.
func SupportedContainers() []string {
	return []string{"mp4", "mov", "mkv", "webm"}
}

// IsSupportedContainer reports whether name (or an alias such as
// "matroska") is a remux target.
func IsSupportedContainer(name string) bool {
	_, _, ok := lookupContainer(name)
	return ok
}

func lookupContainer(name string) (container, string, bool) {
	name = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "."))
	switch name {
	case "matroska":
		name = "mkv"
	case "m4v":
		name = "mp4"
	}
	c, ok := containers[name]
	return c, name, ok
}

// rejects reports whether a stream of the given type and codec cannot be
// carried by the container.
func (c container) rejects(codecType, codec string) bool {
	var allowed map[string]bool
	switch codecType {
	case "video":
		allowed = c.video
	case "audio":
		allowed = c.audio
	case "subtitle":
		allowed = c.subtitle
	default:
		return false
	}
	if allowed == nil {
		return false
	}
	return !allowed[codec]
}

// audioTarget maps a source audio codec to the extension that holds it
// losslessly. ok is false when the codec must be transcoded.
func audioTarget(codec string) (ext string, ok bool) {
	switch codec {
	case "aac", "alac":
		return ".m4a", true
	case "mp3":
		return ".mp3", true
	case "opus":
		return ".opus", true
	case "vorbis":
		return ".ogg", true
	case "flac":
		return ".flac", true
	default:
		return ".m4a", false
	}
}

// extensionForFormat picks an output extension from ffprobe's demuxer
// names when the source file name carries none.
func extensionForFormat(names []string) string {
	for _, name := range names {
		switch name {
		case "mp4", "mov":
			return "." + name
		case "matroska":
			return ".mkv"
		case "webm":
			return ".webm"
		case "mp3", "flac", "ogg", "wav":
			return "." + name
		}
	}
	return ".mkv"
}
