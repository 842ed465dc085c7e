package metrics

import "time"

// ClusterView is the subset of meta-node state the collector needs. It is
// satisfied by *meta.Meta without metrics importing meta, avoiding an import
// cycle (meta already depends on metrics to record histograms inline).
type ClusterView interface {
	NodeCounts() map[string]map[string]int // role -> status -> count
	FragmentCount() int
	ActorCounts() map[string]int // state -> count
	IsRaftLeader() bool
	RaftStats() (logIndex, appliedIndex uint64, peers int)
}

// Collector periodically samples gauge metrics from a ClusterView. Counters
// and histograms (RPCRequestsTotal, CompactionDuration, BarrierLatency, ...)
// are updated inline by the components that observe those events; Collector
// only owns the point-in-time gauges that have no natural call site.
type Collector struct {
	view   ClusterView
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector over view.
func NewCollector(view ClusterView) *Collector {
	return &Collector{
		view:   view,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics every 15 seconds.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectNodeMetrics()
	FragmentsTotal.Set(float64(c.view.FragmentCount()))
	for state, count := range c.view.ActorCounts() {
		ActorsTotal.WithLabelValues(state).Set(float64(count))
	}
	c.collectRaftMetrics()
}

func (c *Collector) collectNodeMetrics() {
	for role, statuses := range c.view.NodeCounts() {
		for status, count := range statuses {
			NodesTotal.WithLabelValues(role, status).Set(float64(count))
		}
	}
}

func (c *Collector) collectRaftMetrics() {
	if c.view.IsRaftLeader() {
		RaftLeader.Set(1)
	} else {
		RaftLeader.Set(0)
	}
	logIndex, appliedIndex, peers := c.view.RaftStats()
	RaftLogIndex.Set(float64(logIndex))
	RaftAppliedIndex.Set(float64(appliedIndex))
	RaftPeers.Set(float64(peers))
}
