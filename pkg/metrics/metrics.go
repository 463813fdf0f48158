package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Raft cluster metrics (populated by Collector from a ClusterObserver)
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "manifold_raft_is_leader",
			Help: "Whether this node is the Raft leader for the ref store (1=leader, 0=follower)",
		},
	)

	RaftPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "manifold_raft_peers_total",
			Help: "Total Raft peers participating in the ref store cluster",
		},
	)

	RaftLogIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "manifold_raft_log_index",
			Help: "Current Raft log index of the ref store",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "manifold_raft_applied_index",
			Help: "Last applied Raft log index of the ref store",
		},
	)

	// Merge pipeline metrics
	MergePhaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "manifold_merge_phase_duration_seconds",
			Help:    "Time taken by a merge pipeline phase in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"phase"},
	)

	MergeAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "manifold_merge_attempts_total",
			Help: "Total number of merge pipeline runs by outcome",
		},
		[]string{"outcome"},
	)

	CasMismatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "manifold_cas_mismatch_total",
			Help: "Total number of CAS mismatches observed on ref updates",
		},
		[]string{"ref"},
	)

	CommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "manifold_commit_duration_seconds",
			Help:    "Time taken by the COMMIT phase's atomic ref update",
			Buckets: prometheus.DefBuckets,
		},
	)

	RecoveryRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "manifold_recovery_runs_total",
			Help: "Total number of crash-recovery dispatches by resulting phase",
		},
		[]string{"phase"},
	)

	// Capture subsystem metrics
	CaptureDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "manifold_capture_duration_seconds",
			Help:    "Time taken to capture a workspace's pre-destruction state",
			Buckets: prometheus.DefBuckets,
		},
	)

	WorkspacesDestroyedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "manifold_workspaces_destroyed_total",
			Help: "Total number of workspaces destroyed by capture mode",
		},
		[]string{"capture_mode"},
	)

	// Operation log metrics
	OpLogAppendsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "manifold_oplog_appends_total",
			Help: "Total number of operations appended across all workspaces",
		},
	)

	OpLogWalkDepth = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "manifold_oplog_walk_depth",
			Help:    "Number of operations visited per chain walk",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
		},
	)

	// Transport metrics
	TransportPullDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "manifold_transport_pull_duration_seconds",
			Help:    "Time taken to pull and integrate a remote's refs",
			Buckets: prometheus.DefBuckets,
		},
	)

	TransportIntegrationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "manifold_transport_integrations_total",
			Help: "Total number of ref integrations during transport pull, by result",
		},
		[]string{"result"},
	)

	TransportRejectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "manifold_transport_rejections_total",
			Help: "Total number of remote blobs rejected by transport validation",
		},
	)
)

func init() {
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftPeers)
	prometheus.MustRegister(RaftLogIndex)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(MergePhaseDuration)
	prometheus.MustRegister(MergeAttemptsTotal)
	prometheus.MustRegister(CasMismatchTotal)
	prometheus.MustRegister(CommitDuration)
	prometheus.MustRegister(RecoveryRunsTotal)
	prometheus.MustRegister(CaptureDuration)
	prometheus.MustRegister(WorkspacesDestroyedTotal)
	prometheus.MustRegister(OpLogAppendsTotal)
	prometheus.MustRegister(OpLogWalkDepth)
	prometheus.MustRegister(TransportPullDuration)
	prometheus.MustRegister(TransportIntegrationsTotal)
	prometheus.MustRegister(TransportRejectionsTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
