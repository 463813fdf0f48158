package metrics

import (
	"time"
)

// RaftStats exposes the subset of a replicated ref store's Raft state that
// the collector polls periodically.
type RaftStats struct {
	IsLeader     bool
	LastLogIndex uint64
	AppliedIndex uint64
	Peers        int
}

// ClusterObserver is implemented by a ref store capable of reporting its
// own Raft health. pkg/refstore.RaftStore satisfies this interface.
type ClusterObserver interface {
	RaftStats() RaftStats
}

// Collector periodically samples a ClusterObserver and republishes its
// state as Prometheus gauges.
type Collector struct {
	observer ClusterObserver
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector for the given observer.
func NewCollector(observer ClusterObserver) *Collector {
	return &Collector{
		observer: observer,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics on a fixed interval.
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
	c.collectRaftMetrics()
}

func (c *Collector) collectRaftMetrics() {
	if c.observer == nil {
		return
	}

	stats := c.observer.RaftStats()

	if stats.IsLeader {
		RaftLeader.Set(1)
	} else {
		RaftLeader.Set(0)
	}

	RaftLogIndex.Set(float64(stats.LastLogIndex))
	RaftAppliedIndex.Set(float64(stats.AppliedIndex))
	RaftPeers.Set(float64(stats.Peers))
}
