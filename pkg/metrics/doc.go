/*
Package metrics provides Prometheus metrics collection and exposition for
Cascade.

The metrics package defines and registers every Cascade metric family using
the Prometheus client library, providing observability into cluster
membership, the streaming runtime, the Hummock state store, compaction, and
batch query execution. Metrics are exposed via an HTTP endpoint for
scraping.

# Architecture

All families register against the default registry at package init via
MustRegister, so importing the package is enough to make its families
scrapeable; Handler() serves them alongside the automatic Go runtime
metrics. The Collector periodically refreshes the cluster-shape gauges from
a ClusterView (implemented by the meta node), while the hot-path families
(RPC durations, sync durations, compaction durations) are observed inline
at the call sites through the Timer helper.

# Metric Families

Cluster shape:

	cascade_nodes_total{role, status}      nodes by role and liveness
	cascade_fragments_total                streaming fragments materialized
	cascade_actors_total{state}            streaming actors by state

Raft (meta control plane):

	cascade_raft_is_leader                 1 on the leader, 0 elsewhere
	cascade_raft_peers_total               peers in the meta raft group
	cascade_raft_log_index                 current log index
	cascade_raft_applied_index             last applied index
	cascade_raft_apply_duration_seconds    FSM apply latency histogram

RPC:

	cascade_rpc_requests_total{service, method, status}
	cascade_rpc_request_duration_seconds{service, method}

Hummock state store:

	cascade_hummock_shared_buffer_bytes    unsynced shared-buffer footprint
	cascade_hummock_sstables_total{level}  table count per level
	cascade_hummock_level_bytes{level}     byte size per level
	cascade_hummock_sync_duration_seconds  shared-buffer flush latency
	cascade_hummock_bloom_false_positives_total

Compaction and vacuum:

	cascade_compaction_tasks_total{level, status}
	cascade_compaction_duration_seconds{level}
	cascade_compaction_write_amplification
	cascade_vacuum_duration_seconds
	cascade_vacuum_cycles_total
	cascade_vacuum_objects_deleted_total

Streaming and batch:

	cascade_barrier_latency_seconds        barrier collection latency
	cascade_barrier_inflight               injected but uncollected barriers
	cascade_batch_query_duration_seconds
	cascade_batch_tasks_failed_total

# Usage

Updating gauge metrics:

	import "github.com/cascadedb/cascade/pkg/metrics"

	metrics.NodesTotal.WithLabelValues("compute", "healthy").Set(5)
	metrics.BarrierInflight.Inc()

Recording histogram observations with the Timer helper:

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.RPCRequestDuration, "meta", "Heartbeat")

# Alerting starting points

No raft leader:

	max(cascade_raft_is_leader) == 0

Barrier pipeline stalled (epoch advancement suspended, likely a failed
sync holding the checkpoint):

	cascade_barrier_inflight > 0 for 5m

Compaction falling behind (L0 growing faster than it drains):

	increase(cascade_hummock_sstables_total{level="L0"}[10m]) > 0
	and increase(cascade_compaction_tasks_total{status="success"}[10m]) == 0

# See Also

  - Prometheus client library: https://github.com/prometheus/client_golang
  - Histogram best practices: https://prometheus.io/docs/practices/histograms/
*/
package metrics
