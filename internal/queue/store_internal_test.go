package queue

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"clipsafe/internal/config"
)

func TestSchemaRejectsResultOutsideDone(t *testing.T) {
	store, err := OpenDSN(context.Background(), config.DriverSQLite, filepath.Join(t.TempDir(), "q.db"))
	if err != nil {
		t.Fatalf("OpenDSN: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	now := time.Now().UTC()
	if err := store.EnsureUser(ctx, "u", now); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	job := &Job{ID: "j1", OwnerID: "u", CreatedAt: now, Source: Source{Kind: SourceUpload, Name: "a.mp4"}}
	if err := store.InsertDraft(ctx, job); err != nil {
		t.Fatalf("InsertDraft: %v", err)
	}
	if _, err := store.execWithRetry(ctx, `UPDATE jobs SET result_json = '{}' WHERE id = ?`, job.ID); err == nil {
		t.Fatal("expected CHECK constraint to reject result on a draft")
	}
}

func TestRebindForPostgres(t *testing.T) {
	store := &Store{driver: config.DriverPostgres}
	got := store.rebind("UPDATE jobs SET state = ? WHERE id = ? AND state IN (?, ?)")
	want := "UPDATE jobs SET state = $1 WHERE id = $2 AND state IN ($3, $4)"
	if got != want {
		t.Fatalf("rebind = %q, want %q", got, want)
	}
	sqlite := &Store{driver: config.DriverSQLite}
	if sqlite.rebind("a = ?") != "a = ?" {
		t.Fatal("sqlite queries must keep ? placeholders")
	}
}

func TestTimestampsSortLexically(t *testing.T) {
	early := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	late := early.Add(1500 * time.Millisecond)
	if !(formatTime(early) < formatTime(late)) {
		t.Fatalf("expected %s < %s", formatTime(early), formatTime(late))
	}
	parsed, err := parseTimeString(formatTime(late))
	if err != nil || !parsed.Equal(late) {
		t.Fatalf("round trip = %v, %v", parsed, err)
	}
}
