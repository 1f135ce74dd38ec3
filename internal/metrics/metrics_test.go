package metrics_test

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"clipsafe/internal/metrics"
)

func TestPrometheusCountsLifecycle(t *testing.T) {
	p := metrics.NewPrometheus()
	p.DraftCreated()
	p.JobQueued("trim")
	p.JobStarted("trim")
	p.JobCompleted("trim", 3*time.Second)
	p.JobQueued("remux")
	p.JobStarted("remux")
	p.JobFailed("remux", "InvalidParameters", time.Second)
	p.QueueDepth(4)

	srv := httptest.NewServer(p.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	text := string(body)

	for _, want := range []string{
		`clipsafe_drafts_created_total 1`,
		`clipsafe_jobs_created_total{operation="trim"} 1`,
		`clipsafe_jobs_completed_total{operation="trim"} 1`,
		`clipsafe_jobs_failed_total{kind="InvalidParameters",operation="remux"} 1`,
		`clipsafe_queue_depth 4`,
		`clipsafe_active_jobs 0`,
		`clipsafe_job_duration_seconds_count{operation="trim"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("scrape output missing %q", want)
		}
	}
}

func TestNopSatisfiesRecorder(t *testing.T) {
	var r metrics.Recorder = metrics.Nop{}
	r.DraftCreated()
	r.JobFailed("trim", "Timeout", time.Second)
}
