package metrics

import (
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RunsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mirrorbird_runs_total",
		Help: "Total pipeline runs",
	})
	RunErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mirrorbird_run_errors_total",
		Help: "Total pipeline runs aborted by a run-level error",
	})
	RunDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mirrorbird_run_duration_seconds",
		Help:    "Pipeline run duration seconds",
		Buckets: prometheus.DefBuckets,
	})
	PostsSeen = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mirrorbird_posts_seen_total",
		Help: "Timeline items inspected",
	})
	PostsSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mirrorbird_posts_skipped_total",
		Help: "Posts skipped before publishing",
	}, []string{"reason"}) // stale, duplicate, reply, repost, shape
	PostsPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mirrorbird_posts_published_total",
		Help: "Posts delivered and recorded in the ledger",
	})
	PostsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mirrorbird_posts_failed_total",
		Help: "Posts whose delivery ultimately failed this run",
	})
	MediaUploads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mirrorbird_media_uploads_total",
		Help: "Media upload attempts by outcome",
	}, []string{"outcome"}) // ok, rejected
	LedgerPruned = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mirrorbird_ledger_pruned_total",
		Help: "Ledger rows removed by retention pruning",
	})
	CommandRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mirrorbird_command_runs_total",
		Help: "CLI command invocations",
	}, []string{"command"})
	CommandErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mirrorbird_command_errors_total",
		Help: "CLI command failures",
	}, []string{"command"})
)

func init() {
	prometheus.MustRegister(
		RunsTotal, RunErrors, RunDuration,
		PostsSeen, PostsSkipped, PostsPublished, PostsFailed,
		MediaUploads, LedgerPruned,
		CommandRuns, CommandErrors,
	)
}

// StartServer starts a metrics HTTP server on addr (e.g., ":9090").
func StartServer(addr string) {
	if addr == "" {
		addr = os.Getenv("METRICS_ADDR")
	}
	if addr == "" {
		return
	}
	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	go func() { _ = http.ListenAndServe(addr, nil) }()
}

// ObserveRunDuration records a run duration.
func ObserveRunDuration(start time.Time) {
	RunDuration.Observe(time.Since(start).Seconds())
}

// IncCommandRun increments the invocation counter for a CLI command.
func IncCommandRun(cmd string) { CommandRuns.WithLabelValues(cmd).Inc() }

// IncCommandError increments the failure counter for a CLI command.
func IncCommandError(cmd string) { CommandErrors.WithLabelValues(cmd).Inc() }
