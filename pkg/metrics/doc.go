/*
Package metrics provides Prometheus metrics collection and exposition for manifold.

The metrics package defines and registers all manifold metrics using the Prometheus
client library, providing observability into merge pipeline latency, ref store
consensus health, operation log growth, and transport activity. Metrics are
exposed via an HTTP endpoint for scraping by Prometheus servers.

# Metrics Catalog

Merge pipeline metrics:

manifold_merge_phase_duration_seconds{phase}:
  - Type: Histogram
  - Description: Time taken by a merge pipeline phase (prepare/build/validate/commit/cleanup)
  - Labels: phase

manifold_merge_attempts_total{outcome}:
  - Type: Counter
  - Description: Total merge pipeline runs by outcome (success/aborted/commit_failed)

manifold_cas_mismatch_total{ref}:
  - Type: Counter
  - Description: Total CAS mismatches observed on ref updates

manifold_commit_duration_seconds:
  - Type: Histogram
  - Description: Time taken by the COMMIT phase's atomic multi-ref update

manifold_recovery_runs_total{phase}:
  - Type: Counter
  - Description: Total COMMIT-phase crash recoveries, labeled by their result
    (already_committed/finalize_branch/not_committed)

Capture subsystem metrics:

manifold_capture_duration_seconds:
  - Type: Histogram
  - Description: Time taken to capture a workspace's pre-destruction state

manifold_workspaces_destroyed_total{capture_mode}:
  - Type: Counter
  - Description: Total workspaces destroyed, labeled by capture mode

Operation log metrics:

manifold_oplog_appends_total:
  - Type: Counter
  - Description: Total operations appended across all workspaces

manifold_oplog_walk_depth:
  - Type: Histogram
  - Description: Number of operations visited per chain walk

Transport metrics:

manifold_transport_pull_duration_seconds:
  - Type: Histogram
  - Description: Time taken to pull and integrate a remote's refs

manifold_transport_integrations_total{result}:
  - Type: Counter
  - Description: Total ref integrations during transport pull, by result
    (equal/local_ahead/remote_ahead/diverged)

manifold_transport_rejections_total:
  - Type: Counter
  - Description: Total remote blobs rejected by transport validation

Raft cluster metrics (populated by Collector from a ClusterObserver):

manifold_raft_is_leader, manifold_raft_peers_total, manifold_raft_log_index,
manifold_raft_applied_index — mirror the equivalent gauges a Raft-replicated
ref store exposes about its own consensus state.

# Usage

	import "github.com/cuemby/manifold/pkg/metrics"

	timer := metrics.NewTimer()
	// ... run the BUILD phase ...
	timer.ObserveDurationVec(metrics.MergePhaseDuration, "build")

	http.Handle("/metrics", metrics.Handler())

# Design Patterns

All metrics are registered in init() via MustRegister, so they are available
before main() runs and any duplicate registration panics immediately rather
than failing silently at scrape time.
*/
package metrics
