package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cluster metrics
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cascade_nodes_total",
			Help: "Total number of nodes by role and status",
		},
		[]string{"role", "status"},
	)

	FragmentsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cascade_fragments_total",
			Help: "Total number of streaming fragments",
		},
	)

	ActorsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cascade_actors_total",
			Help: "Total number of streaming actors by state",
		},
		[]string{"state"},
	)

	// Raft metrics (meta node HA controller)
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cascade_raft_is_leader",
			Help: "Whether this meta node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cascade_raft_peers_total",
			Help: "Total number of Raft peers in the meta cluster",
		},
	)

	RaftLogIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cascade_raft_log_index",
			Help: "Current Raft log index",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cascade_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)

	RaftApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cascade_raft_apply_duration_seconds",
			Help:    "Time taken to apply a Raft log entry in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// RPC metrics
	RPCRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cascade_rpc_requests_total",
			Help: "Total number of RPC requests by service, method and status",
		},
		[]string{"service", "method", "status"},
	)

	RPCRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cascade_rpc_request_duration_seconds",
			Help:    "RPC request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method"},
	)

	// Hummock (LSM state store) metrics
	SharedBufferBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cascade_hummock_shared_buffer_bytes",
			Help: "Bytes currently held in the unsynced shared buffer",
		},
	)

	SSTablesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cascade_hummock_sstables_total",
			Help: "Number of SSTables by level",
		},
		[]string{"level"},
	)

	LevelBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cascade_hummock_level_bytes",
			Help: "Total SSTable bytes by level",
		},
		[]string{"level"},
	)

	SyncDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cascade_hummock_sync_duration_seconds",
			Help:    "Time taken to flush the shared buffer into SSTables in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	BloomFilterFalsePositives = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cascade_hummock_bloom_false_positives_total",
			Help: "Total bloom filter false positives observed on the read path",
		},
	)

	// Compaction metrics
	CompactionTasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cascade_compaction_tasks_total",
			Help: "Total number of compaction tasks by level and status",
		},
		[]string{"level", "status"},
	)

	CompactionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cascade_compaction_duration_seconds",
			Help:    "Compaction task duration in seconds by level",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"level"},
	)

	CompactionWriteAmplification = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cascade_compaction_write_amplification",
			Help: "Bytes written by compaction divided by bytes flushed from the shared buffer",
		},
	)

	// Streaming barrier metrics
	BarrierLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cascade_barrier_latency_seconds",
			Help:    "Time for a barrier to traverse and be collected across the actor graph",
			Buckets: prometheus.DefBuckets,
		},
	)

	BarrierInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cascade_barrier_inflight",
			Help: "Number of barriers currently in flight but not yet collected",
		},
	)

	// Batch execution metrics
	QueryExecutionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cascade_batch_query_duration_seconds",
			Help:    "End-to-end distributed batch query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	TasksFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cascade_batch_tasks_failed_total",
			Help: "Total number of batch tasks that failed",
		},
	)

	// Vacuum (reconciler) metrics
	VacuumDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cascade_vacuum_duration_seconds",
			Help:    "Time taken for a vacuum cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	VacuumCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cascade_vacuum_cycles_total",
			Help: "Total number of vacuum cycles completed",
		},
	)

	ObjectsDeletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cascade_vacuum_objects_deleted_total",
			Help: "Total number of orphaned SSTable objects deleted by vacuum",
		},
	)
)

func init() {
	prometheus.MustRegister(NodesTotal)
	prometheus.MustRegister(FragmentsTotal)
	prometheus.MustRegister(ActorsTotal)
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftPeers)
	prometheus.MustRegister(RaftLogIndex)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(RaftApplyDuration)
	prometheus.MustRegister(RPCRequestsTotal)
	prometheus.MustRegister(RPCRequestDuration)
	prometheus.MustRegister(SharedBufferBytes)
	prometheus.MustRegister(SSTablesTotal)
	prometheus.MustRegister(LevelBytes)
	prometheus.MustRegister(SyncDuration)
	prometheus.MustRegister(BloomFilterFalsePositives)
	prometheus.MustRegister(CompactionTasksTotal)
	prometheus.MustRegister(CompactionDuration)
	prometheus.MustRegister(CompactionWriteAmplification)
	prometheus.MustRegister(BarrierLatency)
	prometheus.MustRegister(BarrierInflight)
	prometheus.MustRegister(QueryExecutionDuration)
	prometheus.MustRegister(TasksFailedTotal)
	prometheus.MustRegister(VacuumDuration)
	prometheus.MustRegister(VacuumCyclesTotal)
	prometheus.MustRegister(ObjectsDeletedTotal)
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

// ObserveDuration records the elapsed duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
