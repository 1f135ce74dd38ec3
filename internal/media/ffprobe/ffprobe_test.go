package ffprobe

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestResultHelpers(t *testing.T) {
	result := Result{
		Streams: []Stream{
			{CodecType: "video"},
			{CodecType: "audio"},
			{CodecType: "audio"},
		},
		Format: Format{
			Duration: "123.45",
			Size:     "1000",
			BitRate:  "32000",
		},
	}
	if result.VideoStreamCount() != 1 {
		t.Fatalf("expected 1 video stream, got %d", result.VideoStreamCount())
	}
	if result.AudioStreamCount() != 2 {
		t.Fatalf("expected 2 audio streams, got %d", result.AudioStreamCount())
	}
	if result.DurationSeconds() != 123.45 {
		t.Fatalf("unexpected duration: %v", result.DurationSeconds())
	}
	if result.SizeBytes() != 1000 {
		t.Fatalf("unexpected size: %d", result.SizeBytes())
	}
	if result.BitRate() != 32000 {
		t.Fatalf("unexpected bitrate: %d", result.BitRate())
	}
}

func TestResultHelpersHandleInvalidNumbers(t *testing.T) {
	result := Result{
		Format: Format{
			Duration: "bad",
			Size:     "-1",
			BitRate:  "nope",
		},
	}
	if !math.IsNaN(result.DurationSeconds()) {
		t.Fatalf("expected duration NaN, got %v", result.DurationSeconds())
	}
	if result.SizeBytes() != 0 {
		t.Fatalf("expected size 0, got %d", result.SizeBytes())
	}
	if result.BitRate() != 0 {
		t.Fatalf("expected bitrate 0, got %d", result.BitRate())
	}
}

func TestAttachedPictureIsNotVideo(t *testing.T) {
	result := Result{
		Streams: []Stream{
			{CodecType: "audio", CodecName: "MP3"},
			{CodecType: "video", CodecName: "mjpeg", Disposition: Disposition{AttachedPic: 1}},
		},
		Format: Format{FormatName: "mp3", Duration: "0"},
	}
	if result.VideoStreamCount() != 0 {
		t.Fatalf("expected cover art ignored, got %d video streams", result.VideoStreamCount())
	}
	if got := result.FirstAudioCodec(); got != "mp3" {
		t.Fatalf("FirstAudioCodec = %q", got)
	}
	if got := result.Codecs("video"); len(got) != 1 || got[0] != "mjpeg" {
		t.Fatalf("Codecs(video) = %v", got)
	}
	if result.KnownDuration() != 0 {
		t.Fatalf("expected unknown duration, got %v", result.KnownDuration())
	}
}

func TestFormatNames(t *testing.T) {
	result := Result{Format: Format{FormatName: "mov,mp4,m4a,3gp"}}
	names := result.FormatNames()
	if len(names) != 4 || names[1] != "mp4" {
		t.Fatalf("FormatNames = %v", names)
	}
}

func TestInspectDecodesStubOutput(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "ffprobe")
	body := "#!/bin/sh\ncat <<'JSON'\n" +
		`{"streams":[{"index":0,"codec_type":"video","codec_name":"h264"},{"index":1,"codec_type":"audio","codec_name":"aac"}],"format":{"duration":"12.5","size":"2048","format_name":"mov,mp4"}}` +
		"\nJSON\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}

	result, err := Inspect(context.Background(), script, "/media/in.mp4")
	if err != nil {
		t.Fatalf("Inspect returned error: %v", err)
	}
	if result.VideoStreamCount() != 1 || result.FirstAudioCodec() != "aac" {
		t.Fatalf("unexpected streams: %+v", result.Streams)
	}
	if result.KnownDuration() != 12.5 {
		t.Fatalf("unexpected duration %v", result.KnownDuration())
	}
	if len(result.RawJSON()) == 0 {
		t.Fatal("expected raw JSON retained")
	}
}

func TestInspectRejectsEmptyPath(t *testing.T) {
	if _, err := Inspect(context.Background(), "ffprobe", "  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}
