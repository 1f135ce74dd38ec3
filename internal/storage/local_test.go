package storage_test

import (
	"context"
	"errors"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"clipsafe/internal/services"
	"clipsafe/internal/storage"
	"clipsafe/internal/testsupport"
)

const jobA = "0b6f2c1e-5d0f-4c2a-9a57-7f1a2b3c4d5e"
const jobB = "9c1d7e2f-1a2b-4c3d-8e9f-0a1b2c3d4e5f"

func newLocal(t *testing.T, opts ...testsupport.ConfigOption) *storage.Local {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	backend, err := storage.NewLocal(cfg, nil)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	return backend
}

func readAll(t *testing.T, backend storage.Backend, loc storage.Location) string {
	t.Helper()
	rc, err := backend.Open(context.Background(), loc)
	if err != nil {
		t.Fatalf("Open(%s): %v", loc.Key(), err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(data)
}

func TestLocalPutOpenRoundTrip(t *testing.T) {
	backend := newLocal(t)
	ctx := context.Background()

	loc, err := backend.Put(ctx, jobA, "clip.mp4", strings.NewReader("payload"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if loc.Key() != jobA+"/clip.mp4" {
		t.Fatalf("unexpected key %q", loc.Key())
	}
	if got := readAll(t, backend, loc); got != "payload" {
		t.Fatalf("unexpected content %q", got)
	}
	if _, err := os.Stat(filepath.Join(backend.Root(), jobA, storage.ManifestName)); err != nil {
		t.Fatalf("expected manifest: %v", err)
	}
}

func TestLocalNamesStayInsideNamespace(t *testing.T) {
	backend := newLocal(t)
	ctx := context.Background()

	loc, err := backend.Put(ctx, jobA, "../../escape.txt", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if strings.Contains(loc.Name, "/") || strings.HasPrefix(loc.Name, ".") {
		t.Fatalf("name not sanitized: %q", loc.Name)
	}
	if _, err := os.Stat(filepath.Join(backend.Root(), jobA, loc.Name)); err != nil {
		t.Fatalf("artifact not in namespace: %v", err)
	}
	if _, err := backend.Put(ctx, "../"+jobA, "clip.mp4", strings.NewReader("x")); !errors.Is(err, services.ErrInvalidParameters) {
		t.Fatalf("expected invalid job id error, got %v", err)
	}
	if _, err := backend.Put(ctx, jobA, storage.ManifestName, strings.NewReader("x")); !errors.Is(err, services.ErrInvalidParameters) {
		t.Fatalf("expected manifest name to be refused, got %v", err)
	}
	if _, err := backend.Open(ctx, storage.Location{JobID: jobA, Name: storage.ManifestName}); !errors.Is(err, services.ErrInvalidParameters) {
		t.Fatalf("expected manifest to be unreadable as an artifact, got %v", err)
	}
	if loc, err := backend.Put(ctx, jobA, "manifest.json", strings.NewReader("x")); err != nil || loc.Name == storage.ManifestName {
		t.Fatalf("expected a plain artifact, got %#v (%v)", loc, err)
	}
}

func TestLocalSameNameDifferentJobsDoNotCollide(t *testing.T) {
	backend := newLocal(t)
	ctx := context.Background()

	a, err := backend.Put(ctx, jobA, "out.mp4", strings.NewReader("a"))
	if err != nil {
		t.Fatalf("Put a: %v", err)
	}
	b, err := backend.Put(ctx, jobB, "out.mp4", strings.NewReader("b"))
	if err != nil {
		t.Fatalf("Put b: %v", err)
	}
	if readAll(t, backend, a) != "a" || readAll(t, backend, b) != "b" {
		t.Fatal("artifacts of different jobs collided")
	}
}

func TestLocalOpenMissingIsNotFound(t *testing.T) {
	backend := newLocal(t)
	_, err := backend.Open(context.Background(), storage.Location{JobID: jobA, Name: "nope.mp4"})
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCleanupExpiredHonorsTTLBoundary(t *testing.T) {
	backend := newLocal(t)
	ctx := context.Background()
	completed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	expires := completed.Add(24 * time.Hour)

	if _, err := backend.Put(ctx, jobA, "source.mp4", strings.NewReader("src")); err != nil {
		t.Fatalf("Put source: %v", err)
	}
	if _, err := backend.Put(ctx, jobA, "source_cut.mp4", strings.NewReader("out")); err != nil {
		t.Fatalf("Put result: %v", err)
	}
	if err := backend.Seal(ctx, jobA, expires); err != nil {
		t.Fatalf("Seal: %v", err)
	}

	removed, err := backend.CleanupExpired(ctx, completed.Add(23*time.Hour+59*time.Minute))
	if err != nil {
		t.Fatalf("CleanupExpired: %v", err)
	}
	if removed != 0 {
		t.Fatalf("expected nothing removed before expiry, got %d", removed)
	}

	removed, err = backend.CleanupExpired(ctx, completed.Add(24*time.Hour+time.Minute))
	if err != nil {
		t.Fatalf("CleanupExpired: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 artifacts removed, got %d", removed)
	}
	if _, err := os.Stat(filepath.Join(backend.Root(), jobA)); !os.IsNotExist(err) {
		t.Fatalf("expected namespace removed, stat err = %v", err)
	}

	removed, err = backend.CleanupExpired(ctx, completed.Add(48*time.Hour))
	if err != nil || removed != 0 {
		t.Fatalf("second sweep = %d, %v; want 0, nil", removed, err)
	}
}

func TestCleanupSkipsUnsealedNamespaces(t *testing.T) {
	backend := newLocal(t)
	ctx := context.Background()

	loc, err := backend.Put(ctx, jobA, "source.mp4", strings.NewReader("src"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	removed, err := backend.CleanupExpired(ctx, time.Now().Add(365*24*time.Hour))
	if err != nil {
		t.Fatalf("CleanupExpired: %v", err)
	}
	if removed != 0 {
		t.Fatalf("unsealed namespace swept: removed %d", removed)
	}
	if readAll(t, backend, loc) != "src" {
		t.Fatal("artifact of an unsealed job disappeared")
	}
}

func TestSealKeepsFirstExpiry(t *testing.T) {
	backend := newLocal(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	if _, err := backend.Put(ctx, jobA, "out.mp4", strings.NewReader("x")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := backend.Seal(ctx, jobA, base); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if err := backend.Seal(ctx, jobA, base.Add(100*time.Hour)); err != nil {
		t.Fatalf("second Seal: %v", err)
	}
	removed, err := backend.CleanupExpired(ctx, base.Add(time.Minute))
	if err != nil || removed != 1 {
		t.Fatalf("CleanupExpired = %d, %v; want first expiry to win", removed, err)
	}
}

func TestSealWithoutNamespaceIsNoop(t *testing.T) {
	backend := newLocal(t)
	if err := backend.Seal(context.Background(), jobA, time.Now()); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := os.Stat(filepath.Join(backend.Root(), jobA)); !os.IsNotExist(err) {
		t.Fatalf("Seal created a namespace: %v", err)
	}
}

func TestDeleteAndRemove(t *testing.T) {
	backend := newLocal(t)
	ctx := context.Background()

	a, _ := backend.Put(ctx, jobA, "a.mp4", strings.NewReader("a"))
	b, _ := backend.Put(ctx, jobA, "b.mp4", strings.NewReader("b"))
	if err := backend.Remove(ctx, a); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := backend.Open(ctx, a); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected removed artifact gone, got %v", err)
	}
	if readAll(t, backend, b) != "b" {
		t.Fatal("Remove touched a sibling artifact")
	}
	if err := backend.Delete(ctx, jobA); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := backend.Delete(ctx, jobA); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(backend.Root(), jobA)); !os.IsNotExist(err) {
		t.Fatalf("expected namespace gone, stat err = %v", err)
	}
}

func TestPutFileMovesSource(t *testing.T) {
	backend := newLocal(t)
	src := filepath.Join(t.TempDir(), "render.mp4")
	testsupport.WriteFile(t, src, 16)

	loc, err := storage.PutFile(context.Background(), backend, jobA, "render.mp4", src)
	if err != nil {
		t.Fatalf("PutFile: %v", err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatalf("expected source moved, stat err = %v", err)
	}
	if len(readAll(t, backend, loc)) != 16 {
		t.Fatal("unexpected artifact size")
	}
}

func TestPublicURLPriority(t *testing.T) {
	ctx := context.Background()

	public := newLocal(t,
		testsupport.WithPublicBaseURL("https://cdn.example.com/files/"),
		testsupport.WithSignedLinks("s3cret", "https://api.example.com/files"),
	)
	loc, _ := public.Put(ctx, jobA, "my clip.mp4", strings.NewReader("x"))
	got, err := public.ResolvePublicURL(ctx, loc)
	if err != nil {
		t.Fatalf("ResolvePublicURL: %v", err)
	}
	if got != "https://cdn.example.com/files/"+jobA+"/my%20clip.mp4" {
		t.Fatalf("unexpected public url %q", got)
	}

	bare := newLocal(t)
	loc, _ = bare.Put(ctx, jobA, "clip.mp4", strings.NewReader("x"))
	got, err = bare.ResolvePublicURL(ctx, loc)
	if err != nil || got != "" {
		t.Fatalf("ResolvePublicURL without links = %q, %v", got, err)
	}
}

func TestSignedLinkVerifies(t *testing.T) {
	ctx := context.Background()
	backend := newLocal(t, testsupport.WithSignedLinks("s3cret", "https://api.example.com/files"))

	loc, _ := backend.Put(ctx, jobA, "clip.mp4", strings.NewReader("x"))
	if err := backend.Seal(ctx, jobA, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	link, err := backend.ResolvePublicURL(ctx, loc)
	if err != nil {
		t.Fatalf("ResolvePublicURL: %v", err)
	}
	parsed, err := url.Parse(link)
	if err != nil {
		t.Fatalf("parse link: %v", err)
	}
	if parsed.Path != "/files/"+jobA+"/clip.mp4" {
		t.Fatalf("unexpected link path %q", parsed.Path)
	}
	token := parsed.Query().Get("token")
	signer := backend.Signer()
	if err := signer.Verify(token, loc); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	other := storage.Location{JobID: jobB, Name: "clip.mp4"}
	if err := signer.Verify(token, other); !errors.Is(err, services.ErrInvalidParameters) {
		t.Fatalf("expected mismatch error, got %v", err)
	}
}

func TestSignedLinkExpires(t *testing.T) {
	signer := storage.NewSigner("s3cret", "https://api.example.com/files")
	loc := storage.Location{JobID: jobA, Name: "clip.mp4"}
	token, err := signer.Token(loc, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if err := signer.Verify(token, loc); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected expired link to be not found, got %v", err)
	}
	if storage.NewSigner("", "https://x") != nil {
		t.Fatal("expected nil signer without secret")
	}
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Storage.Backend = "ftp"
	if _, err := storage.New(context.Background(), cfg, nil); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
