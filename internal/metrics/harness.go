package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Harness holds the counters a run updates as it goes.
type Harness struct {
	snapshotsCreated *prometheus.CounterVec
	snapshotSeconds  *prometheus.HistogramVec
	snapshotsDeleted *prometheus.CounterVec
	bestEffortFailed *prometheus.CounterVec
	runs             *prometheus.CounterVec
}

// NewHarness creates the harness metrics and registers them on reg.
func NewHarness(reg prometheus.Registerer) *Harness {
	h := &Harness{
		snapshotsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snapharness_snapshots_created_total",
			Help: "Snapshots created by the harness",
		}, []string{"domain", "kind"}),
		snapshotSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "snapharness_snapshot_create_seconds",
			Help:    "Time taken by a single snapshot creation",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"domain", "kind"}),
		snapshotsDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snapharness_snapshots_deleted_total",
			Help: "Snapshots deleted during teardown",
		}, []string{"domain"}),
		bestEffortFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snapharness_best_effort_failures_total",
			Help: "Teardown and other best-effort steps that failed and were skipped",
		}, []string{"domain", "step"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snapharness_runs_total",
			Help: "Finished harness runs by scenario and result",
		}, []string{"domain", "scenario", "result"}),
	}
	reg.MustRegister(h.snapshotsCreated, h.snapshotSeconds, h.snapshotsDeleted, h.bestEffortFailed, h.runs)
	return h
}

// SnapshotCreated records one successful creation that took d.
func (h *Harness) SnapshotCreated(domain, kind string, d time.Duration) {
	if h == nil {
		return
	}
	h.snapshotsCreated.WithLabelValues(domain, kind).Inc()
	h.snapshotSeconds.WithLabelValues(domain, kind).Observe(d.Seconds())
}

func (h *Harness) SnapshotDeleted(domain string) {
	if h == nil {
		return
	}
	h.snapshotsDeleted.WithLabelValues(domain).Inc()
}

func (h *Harness) BestEffortFailed(domain, step string) {
	if h == nil {
		return
	}
	h.bestEffortFailed.WithLabelValues(domain, step).Inc()
}

// RunFinished records the outcome of a run; result is "pass" or the failure
// kind.
func (h *Harness) RunFinished(domain, scenario, result string) {
	if h == nil {
		return
	}
	h.runs.WithLabelValues(domain, scenario, result).Inc()
}
