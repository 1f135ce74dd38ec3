package source_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"clipsafe/internal/services"
	"clipsafe/internal/source"
)

func loopbackPolicy(maxBytes int64) source.Policy {
	return source.Policy{
		RestrictedDomains: []string{"youtube.com", "youtu.be", "tiktok.com"},
		MaxBytes:          maxBytes,
		AllowPrivate:      true,
	}
}

func TestValidateRejectsUnsupportedLinks(t *testing.T) {
	policy := source.Policy{
		RestrictedDomains: []string{"youtube.com", "youtu.be", "tiktok.com"},
	}
	cases := []string{
		"ftp://example.com/video.mp4",
		"file:///etc/passwd",
		"https:///nohost",
		"https://www.youtube.com/watch?v=abc",
		"https://m.youtube.com/watch?v=abc",
		"https://youtu.be/abc",
		"https://www.tiktok.com/@user/video/1",
	}
	for _, raw := range cases {
		if _, err := policy.Validate(raw); !errors.Is(err, services.ErrInvalidParameters) {
			t.Fatalf("Validate(%q) = %v, want InvalidParameters", raw, err)
		}
	}
	if _, err := policy.Validate("https://notyoutube.com/video.mp4"); err != nil {
		t.Fatalf("lookalike domain rejected: %v", err)
	}
}

func TestValidateAllowedDomains(t *testing.T) {
	policy := source.Policy{AllowedDomains: []string{"media.example.com"}}
	if _, err := policy.Validate("https://cdn.media.example.com/a.mp4"); err != nil {
		t.Fatalf("subdomain of allowed domain rejected: %v", err)
	}
	if _, err := policy.Validate("https://example.com/a.mp4"); !errors.Is(err, services.ErrInvalidParameters) {
		t.Fatalf("expected domain outside the list to be rejected, got %v", err)
	}
}

func TestCheckHostRejectsNonPublicAddresses(t *testing.T) {
	policy := source.Policy{}
	for _, host := range []string{"127.0.0.1", "10.1.2.3", "192.168.0.10", "172.16.5.4", "169.254.169.254", "::1", "fe80::1", "100.64.1.1", "0.0.0.0"} {
		if err := policy.CheckHost(context.Background(), nil, host); !errors.Is(err, services.ErrInvalidParameters) {
			t.Fatalf("CheckHost(%s) = %v, want InvalidParameters", host, err)
		}
	}
	if err := policy.CheckHost(context.Background(), nil, "93.184.216.34"); err != nil {
		t.Fatalf("public address rejected: %v", err)
	}
}

func TestProbeRefusesLoopbackWithoutRequest(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	fetcher := source.NewFetcher(source.Policy{}, 1, nil)
	_, err := fetcher.Probe(context.Background(), srv.URL+"/video.mp4")
	if !errors.Is(err, services.ErrInvalidParameters) {
		t.Fatalf("expected InvalidParameters, got %v", err)
	}
	if hits.Load() != 0 {
		t.Fatalf("server was contacted %d times", hits.Load())
	}
}

func TestProbeReadsHeadMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("Content-Length", "4096")
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Disposition", `attachment; filename="Holiday Clip.mp4"`)
	}))
	defer srv.Close()

	fetcher := source.NewFetcher(loopbackPolicy(1<<20), 1, nil)
	info, err := fetcher.Probe(context.Background(), srv.URL+"/download?id=7")
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if info.SizeBytes != 4096 || info.MIME != "video/mp4" || !info.AcceptRanges {
		t.Fatalf("unexpected info %+v", info)
	}
	if info.Filename != "Holiday Clip.mp4" {
		t.Fatalf("unexpected filename %q", info.Filename)
	}
}

func TestProbeFallsBackToRangedGet(t *testing.T) {
	var rangeHeader atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		rangeHeader.Store(r.Header.Get("Range"))
		w.Header().Set("Content-Type", "video/webm")
		w.Header().Set("Content-Range", "bytes 0-0/123456")
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write([]byte{0})
	}))
	defer srv.Close()

	fetcher := source.NewFetcher(loopbackPolicy(1<<30), 1, nil)
	info, err := fetcher.Probe(context.Background(), srv.URL+"/clip.webm")
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if got, _ := rangeHeader.Load().(string); got != "bytes=0-0" {
		t.Fatalf("expected ranged GET, got Range %q", got)
	}
	if info.SizeBytes != 123456 || info.Filename != "clip.webm" {
		t.Fatalf("unexpected info %+v", info)
	}
}

func TestProbeRejectsOversizedFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("Content-Length", fmt.Sprint(5<<20))
	}))
	defer srv.Close()

	fetcher := source.NewFetcher(loopbackPolicy(1<<20), 1, nil)
	if _, err := fetcher.Probe(context.Background(), srv.URL+"/big.mp4"); !errors.Is(err, services.ErrInvalidParameters) {
		t.Fatalf("expected InvalidParameters, got %v", err)
	}
}

func TestProbeResolvesLandingPage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/watch", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><head><meta property="og:video" content="/media/clip.mp4"></head><body></body></html>`)
	})
	mux.HandleFunc("/media/clip.mp4", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("Content-Length", "2048")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	fetcher := source.NewFetcher(loopbackPolicy(1<<20), 1, nil)
	info, err := fetcher.Probe(context.Background(), srv.URL+"/watch")
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if info.URL != srv.URL+"/media/clip.mp4" || info.SizeBytes != 2048 {
		t.Fatalf("unexpected info %+v", info)
	}
}

func TestProbeLandingPageWithoutMedia(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><p>nothing here</p></body></html>`)
	}))
	defer srv.Close()

	fetcher := source.NewFetcher(loopbackPolicy(1<<20), 1, nil)
	if _, err := fetcher.Probe(context.Background(), srv.URL); !errors.Is(err, services.ErrInvalidParameters) {
		t.Fatalf("expected InvalidParameters, got %v", err)
	}
}

func TestFindMediaURL(t *testing.T) {
	base, _ := url.Parse("https://example.com/videos/page.html")
	cases := []struct {
		name string
		html string
		want string
	}{
		{"og video url", `<meta property="og:video:url" content="https://cdn.example.com/a.mp4">`, "https://cdn.example.com/a.mp4"},
		{"video src", `<video src="b.mp4"></video>`, "https://example.com/videos/b.mp4"},
		{"source child", `<video><source src="/c.webm" type="video/webm"></video>`, "https://example.com/c.webm"},
		{"blob skipped", `<video src="blob:https://example.com/x"><source src="d.mp4"></video>`, "https://example.com/videos/d.mp4"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := source.FindMediaURL([]byte(tc.html), base)
			if !ok || got != tc.want {
				t.Fatalf("FindMediaURL = %q, %v; want %q", got, ok, tc.want)
			}
		})
	}
	if _, ok := source.FindMediaURL([]byte(`<p>none</p>`), base); ok {
		t.Fatal("expected no media in plain page")
	}
}

func TestDownloadRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "video/mp4")
		fmt.Fprint(w, "movie-bytes")
	}))
	defer srv.Close()

	fetcher := source.NewFetcher(loopbackPolicy(1<<20), 3, nil, source.WithBackoff(time.Millisecond))
	dst := filepath.Join(t.TempDir(), "source.mp4")
	written, err := fetcher.Download(context.Background(), srv.URL+"/v.mp4", dst)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if hits.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", hits.Load())
	}
	data, _ := os.ReadFile(dst)
	if written != int64(len("movie-bytes")) || string(data) != "movie-bytes" {
		t.Fatalf("unexpected download %d %q", written, data)
	}
}

func TestDownloadGivesUpAfterAttempts(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	fetcher := source.NewFetcher(loopbackPolicy(1<<20), 3, nil, source.WithBackoff(time.Millisecond))
	_, err := fetcher.Download(context.Background(), srv.URL+"/v.mp4", filepath.Join(t.TempDir(), "x"))
	if !errors.Is(err, services.ErrToolExecutionFailed) {
		t.Fatalf("expected ToolExecutionFailed, got %v", err)
	}
	if hits.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", hits.Load())
	}
}

func TestDownloadDoesNotRetryClientErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	fetcher := source.NewFetcher(loopbackPolicy(1<<20), 3, nil, source.WithBackoff(time.Millisecond))
	_, err := fetcher.Download(context.Background(), srv.URL+"/gone.mp4", filepath.Join(t.TempDir(), "x"))
	if !errors.Is(err, services.ErrInvalidParameters) {
		t.Fatalf("expected InvalidParameters, got %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", hits.Load())
	}
}

func TestDownloadEnforcesByteCapWhileStreaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		chunk := strings.Repeat("x", 1024)
		for i := 0; i < 8; i++ {
			fmt.Fprint(w, chunk)
			flusher.Flush()
		}
	}))
	defer srv.Close()

	fetcher := source.NewFetcher(loopbackPolicy(4096), 1, nil)
	dst := filepath.Join(t.TempDir(), "x.mp4")
	_, err := fetcher.Download(context.Background(), srv.URL+"/stream", dst)
	if !errors.Is(err, services.ErrInvalidParameters) {
		t.Fatalf("expected InvalidParameters, got %v", err)
	}
	if _, statErr := os.Stat(dst); !os.IsNotExist(statErr) {
		t.Fatalf("partial download left behind: %v", statErr)
	}
}
