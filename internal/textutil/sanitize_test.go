package textutil

import (
	"strings"
	"testing"
)

func TestSanitizeFileName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "holiday.mp4", "holiday.mp4"},
		{"separators", "a/b\\c:d.mkv", "a-b-c-d.mkv"},
		{"hidden", "../../etc/passwd", "-..-etc-passwd"},
		{"leading dots", "...secret", "secret"},
		{"control", "clip\x00\n.mov", "clip.mov"},
		{"empty", "   ", ""},
		{"only unsafe", "??", ""},
		{"nfc", "café.mp4", "café.mp4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeFileName(tt.in); got != tt.want {
				t.Fatalf("SanitizeFileName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSanitizeFileNameTruncatesKeepingExtension(t *testing.T) {
	long := strings.Repeat("é", 200) + ".webm"
	got := SanitizeFileName(long)
	if len(got) > maxFileNameBytes {
		t.Fatalf("expected at most %d bytes, got %d", maxFileNameBytes, len(got))
	}
	if !strings.HasSuffix(got, ".webm") {
		t.Fatalf("expected extension kept, got %q", got)
	}
	if !strings.HasPrefix(got, "é") || strings.ContainsRune(got, '�') {
		t.Fatalf("expected whole runes, got %q", got)
	}
}

func TestSplitName(t *testing.T) {
	stem, ext := SplitName("Movie.Final.MP4")
	if stem != "Movie.Final" || ext != ".mp4" {
		t.Fatalf("SplitName = (%q, %q)", stem, ext)
	}
	stem, ext = SplitName("noext")
	if stem != "noext" || ext != "" {
		t.Fatalf("SplitName without extension = (%q, %q)", stem, ext)
	}
}

func TestLabel(t *testing.T) {
	if got := Label("smart-trim"); got != "Smart Trim" {
		t.Fatalf("Label = %q", got)
	}
	if got := Label("processing"); got != "Processing" {
		t.Fatalf("Label = %q", got)
	}
}

func TestSanitizeToken(t *testing.T) {
	if got := SanitizeToken("Worker #1"); got != "worker__1" {
		t.Fatalf("SanitizeToken = %q", got)
	}
	if got := SanitizeToken(""); got != "unknown" {
		t.Fatalf("SanitizeToken empty = %q", got)
	}
}
