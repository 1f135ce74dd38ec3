package ffmpeg

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"clipsafe/internal/media/ffprobe"
	"clipsafe/internal/queue"
	"clipsafe/internal/services"
	"clipsafe/internal/textutil"
)

const (
	defaultRemuxContainer = "mp4"
	thumbnailFraction     = 0.10
	// thumbnailTail keeps a clamped offset from landing exactly on the end
	// of the stream, where no frame can be decoded.
	thumbnailTail = 0.1
)

// Request is the input to Build.
type Request struct {
	Operation queue.Operation
	Params    queue.Params
	Probe     ffprobe.Result
	// SourcePath is the local file ffmpeg reads.
	SourcePath string
	// SourceName is the user-facing file name used to derive output names.
	SourceName string
	OutputDir  string
}

// Command is a fully resolved ffmpeg invocation.
type Command struct {
	Args          []string
	OutputName    string
	OutputPath    string
	ReencodeVideo bool
	ReencodeAudio bool
}

// Reencodes reports whether any stream is re-encoded.
func (c Command) Reencodes() bool {
	return c.ReencodeVideo || c.ReencodeAudio
}

// Build selects the ffmpeg arguments for req.
func Build(req Request) (Command, error) {
	if strings.TrimSpace(req.SourcePath) == "" {
		return Command{}, invalid("build", "source path is required")
	}
	if strings.TrimSpace(req.OutputDir) == "" {
		return Command{}, invalid("build", "output directory is required")
	}
	switch req.Operation {
	case queue.OpKeepOriginal:
		return buildKeepOriginal(req)
	case queue.OpRemux:
		return buildRemux(req)
	case queue.OpTrim:
		if req.Params.Smart {
			return buildSmartTrim(req)
		}
		return buildFastTrim(req)
	case queue.OpSmartTrim:
		return buildSmartTrim(req)
	case queue.OpExtractAudio:
		return buildExtractAudio(req)
	case queue.OpThumbnail:
		return buildThumbnail(req)
	default:
		return Command{}, invalid("build", fmt.Sprintf("unsupported operation %q", req.Operation))
	}
}

func buildKeepOriginal(req Request) (Command, error) {
	if len(req.Probe.Streams) == 0 {
		return Command{}, invalid("keep-original", "source has no streams")
	}
	stem, ext := sourceStem(req)
	cmd := newCommand(req, stem+ext)
	cmd.Args = append(baseArgs(), "-i", req.SourcePath, "-map", "0", "-c", "copy", cmd.OutputPath)
	return cmd, nil
}

func buildRemux(req Request) (Command, error) {
	if len(req.Probe.Streams) == 0 {
		return Command{}, invalid("remux", "source has no streams")
	}
	name := req.Params.Container
	if strings.TrimSpace(name) == "" {
		name = defaultRemuxContainer
	}
	target, key, ok := lookupContainer(name)
	if !ok {
		return Command{}, invalid("remux", fmt.Sprintf("unsupported container %q (choose %s)", name, strings.Join(SupportedContainers(), ", ")))
	}
	for _, stream := range req.Probe.Streams {
		codec := strings.ToLower(stream.CodecName)
		if target.rejects(strings.ToLower(stream.CodecType), codec) {
			return Command{}, invalid("remux", fmt.Sprintf("%s stream codec %s cannot be stored in %s without re-encoding", stream.CodecType, codec, key))
		}
	}

	stem, _ := sourceStem(req)
	cmd := newCommand(req, stem+target.ext)
	args := append(baseArgs(), "-i", req.SourcePath, "-map", "0", "-c", "copy")
	if target.faststart {
		args = append(args, "-movflags", "+faststart")
	}
	cmd.Args = append(args, cmd.OutputPath)
	return cmd, nil
}

func buildFastTrim(req Request) (Command, error) {
	if len(req.Probe.Streams) == 0 {
		return Command{}, invalid("trim", "source has no streams")
	}
	start, length, err := trimWindow(req)
	if err != nil {
		return Command{}, err
	}
	stem, ext := sourceStem(req)
	cmd := newCommand(req, stem+"_cut"+ext)
	cmd.Args = append(baseArgs(),
		"-ss", formatSeconds(start),
		"-i", req.SourcePath,
		"-t", formatSeconds(length),
		"-map", "0",
		"-c", "copy",
		"-avoid_negative_ts", "make_zero",
		cmd.OutputPath,
	)
	return cmd, nil
}

func buildSmartTrim(req Request) (Command, error) {
	if len(req.Probe.Streams) == 0 {
		return Command{}, invalid("smart-trim", "source has no streams")
	}
	if req.Probe.VideoStreamCount() == 0 {
		// Audio-only sources cut on audio frames; there is nothing to re-encode.
		return buildFastTrim(req)
	}
	start, length, err := trimWindow(req)
	if err != nil {
		return Command{}, err
	}

	stem, _ := sourceStem(req)
	mp4 := containers["mp4"]
	ext := ".mp4"
	for _, codec := range req.Probe.Codecs("audio") {
		if mp4.rejects("audio", codec) {
			ext = ".mkv"
			break
		}
	}
	cmd := newCommand(req, stem+"_cut"+ext)
	cmd.ReencodeVideo = true
	args := append(baseArgs(),
		"-i", req.SourcePath,
		"-ss", formatSeconds(start),
		"-t", formatSeconds(length),
		"-map", "0:v:0",
		"-map", "0:a?",
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-crf", "18",
		"-c:a", "copy",
	)
	if ext == ".mp4" {
		args = append(args, "-movflags", "+faststart")
	}
	cmd.Args = append(args, cmd.OutputPath)
	return cmd, nil
}

func buildExtractAudio(req Request) (Command, error) {
	if req.Probe.AudioStreamCount() == 0 {
		return Command{}, invalid("extract-audio", "source has no audio stream")
	}
	codec := req.Probe.FirstAudioCodec()
	ext, lossless := audioTarget(codec)

	stem, _ := sourceStem(req)
	cmd := newCommand(req, stem+ext)
	args := append(baseArgs(), "-i", req.SourcePath, "-vn", "-map", "0:a:0")
	if lossless {
		args = append(args, "-c:a", "copy")
	} else {
		cmd.ReencodeAudio = true
		args = append(args, "-c:a", "aac", "-b:a", "192k")
	}
	cmd.Args = append(args, cmd.OutputPath)
	return cmd, nil
}

func buildThumbnail(req Request) (Command, error) {
	index := -1
	for _, stream := range req.Probe.Streams {
		if stream.IsVideo() {
			index = stream.Index
			break
		}
	}
	if index < 0 {
		return Command{}, invalid("thumbnail", "source has no video stream")
	}

	duration := req.Probe.KnownDuration()
	offset := duration * thumbnailFraction
	if req.Params.Frame != nil {
		if *req.Params.Frame < 0 {
			return Command{}, invalid("thumbnail", "the frame number cannot be negative")
		}
		offset = 0
	}
	if req.Params.Offset != nil {
		offset = *req.Params.Offset
	}
	if math.IsNaN(offset) || offset < 0 {
		offset = 0
	}
	if duration > 0 && offset >= duration {
		offset = math.Max(0, duration-thumbnailTail)
	}

	stem, _ := sourceStem(req)
	cmd := newCommand(req, stem+".jpg")
	cmd.ReencodeVideo = true
	cmd.Args = append(baseArgs(),
		"-ss", formatSeconds(offset),
		"-i", req.SourcePath,
		"-map", fmt.Sprintf("0:%d", index),
	)
	if req.Params.Frame != nil {
		cmd.Args = append(cmd.Args, "-vf", fmt.Sprintf("select='eq(n,%d)'", *req.Params.Frame), "-vsync", "0")
	}
	cmd.Args = append(cmd.Args,
		"-frames:v", "1",
		"-q:v", "2",
		cmd.OutputPath,
	)
	return cmd, nil
}

// trimWindow clamps the requested interval to [0, duration] and returns
// its start and length.
func trimWindow(req Request) (float64, float64, error) {
	duration := req.Probe.KnownDuration()
	start := 0.0
	if req.Params.Start != nil {
		start = *req.Params.Start
	}
	var end float64
	switch {
	case req.Params.End != nil:
		end = *req.Params.End
	case duration > 0:
		end = duration
	default:
		return 0, 0, invalid("trim", "end time is required when the source duration is unknown")
	}
	if math.IsNaN(start) || math.IsNaN(end) {
		return 0, 0, invalid("trim", "trim bounds must be numbers")
	}
	start = math.Max(0, start)
	end = math.Max(0, end)
	if duration > 0 {
		start = math.Min(start, duration)
		end = math.Min(end, duration)
	}
	if end-start <= 0 {
		return 0, 0, invalid("trim", fmt.Sprintf("empty interval %s-%s", formatSeconds(start), formatSeconds(end)))
	}
	return start, end - start, nil
}

func newCommand(req Request, name string) Command {
	name = textutil.SanitizeFileName(name)
	if name == "" {
		name = "output"
	}
	return Command{
		OutputName: name,
		OutputPath: filepath.Join(req.OutputDir, name),
	}
}

func baseArgs() []string {
	return []string{"-hide_banner", "-nostdin", "-y"}
}

// sourceStem returns the output stem and the source extension, inferring
// the extension from the probed format when the name has none.
func sourceStem(req Request) (string, string) {
	name := strings.TrimSpace(req.SourceName)
	if name == "" {
		name = filepath.Base(req.SourcePath)
	}
	stem, ext := textutil.SplitName(textutil.SanitizeFileName(name))
	if stem == "" || strings.HasPrefix(stem, ".") {
		stem = "media"
	}
	if ext == "" {
		ext = extensionForFormat(req.Probe.FormatNames())
	}
	return stem, ext
}

// formatSeconds renders a time offset the way ffmpeg expects, with
// millisecond precision.
func formatSeconds(value float64) string {
	return fmt.Sprintf("%.3f", value)
}

func invalid(operation, message string) error {
	return services.Wrap(services.ErrInvalidParameters, "ffmpeg", operation, message, nil)
}
