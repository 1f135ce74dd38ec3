// Package metrics records job lifecycle counters for Prometheus.
//
// Every method is fire-and-forget: it never blocks on I/O and never
// returns an error, so callers can record from hot paths.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what the lifecycle service and workers report to.
type Recorder interface {
	DraftCreated()
	JobQueued(operation string)
	JobStarted(operation string)
	JobCompleted(operation string, elapsed time.Duration)
	JobFailed(operation, kind string, elapsed time.Duration)
	QueueDepth(n int)
}

// Nop discards everything.
type Nop struct{}

func (Nop) DraftCreated()                           {}
func (Nop) JobQueued(string)                        {}
func (Nop) JobStarted(string)                       {}
func (Nop) JobCompleted(string, time.Duration)      {}
func (Nop) JobFailed(string, string, time.Duration) {}
func (Nop) QueueDepth(int)                          {}

// Prometheus keeps the clipsafe_* families on a private registry.
type Prometheus struct {
	registry  *prometheus.Registry
	drafts    prometheus.Counter
	created   *prometheus.CounterVec
	completed *prometheus.CounterVec
	failed    *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	depth     prometheus.Gauge
	active    prometheus.Gauge
}

// NewPrometheus registers all collectors, plus the Go and process
// collectors, on a fresh registry.
func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		drafts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clipsafe_drafts_created_total",
			Help: "Drafts created.",
		}),
		created: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clipsafe_jobs_created_total",
			Help: "Jobs submitted for processing.",
		}, []string{"operation"}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clipsafe_jobs_completed_total",
			Help: "Jobs that produced a result.",
		}, []string{"operation"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clipsafe_jobs_failed_total",
			Help: "Jobs that ended in failure.",
		}, []string{"operation", "kind"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clipsafe_job_duration_seconds",
			Help:    "Wall time from claim to terminal state.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"operation"}),
		depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "clipsafe_queue_depth",
			Help: "Jobs waiting in queued state.",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "clipsafe_active_jobs",
			Help: "Jobs currently being processed by this host.",
		}),
	}
	p.registry.MustRegister(
		p.drafts, p.created, p.completed, p.failed, p.duration, p.depth, p.active,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

// Registry exposes the underlying registry for tests and custom handlers.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus text format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *Prometheus) DraftCreated() {
	p.drafts.Inc()
}

func (p *Prometheus) JobQueued(operation string) {
	p.created.WithLabelValues(operation).Inc()
}

func (p *Prometheus) JobStarted(string) {
	p.active.Inc()
}

func (p *Prometheus) JobCompleted(operation string, elapsed time.Duration) {
	p.active.Dec()
	p.completed.WithLabelValues(operation).Inc()
	p.duration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func (p *Prometheus) JobFailed(operation, kind string, elapsed time.Duration) {
	p.active.Dec()
	p.failed.WithLabelValues(operation, kind).Inc()
	p.duration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func (p *Prometheus) QueueDepth(n int) {
	p.depth.Set(float64(n))
}
