package metrics

import "time"

// VRPCounter is the subset of *vrp.Store the collector needs; declared
// here rather than imported to avoid a dependency from this package
// onto the VRP store package.
type VRPCounter interface {
	Len() int
}

// RepositoryLister is the subset of the fetch repository table the
// collector needs to report per-protocol, per-state repository counts.
type RepositoryLister interface {
	// CountByProtocolAndState returns, for every (protocol, state) pair
	// currently observed, the number of repositories in that pair.
	CountByProtocolAndState() map[[2]string]int
}

// Collector polls a VRP store and a repository table on a ticker and
// updates the corresponding gauges.
type Collector struct {
	vrps  VRPCounter
	repos RepositoryLister

	stopCh chan struct{}
}

// NewCollector creates a new metrics collector.
func NewCollector(vrps VRPCounter, repos RepositoryLister) *Collector {
	return &Collector{
		vrps:   vrps,
		repos:  repos,
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
	c.collectVRPMetrics()
	c.collectRepositoryMetrics()
}

func (c *Collector) collectVRPMetrics() {
	if c.vrps == nil {
		return
	}
	VRPsTotal.Set(float64(c.vrps.Len()))
}

func (c *Collector) collectRepositoryMetrics() {
	if c.repos == nil {
		return
	}
	for key, count := range c.repos.CountByProtocolAndState() {
		protocol, state := key[0], key[1]
		RepositoriesTotal.WithLabelValues(protocol, state).Set(float64(count))
	}
}
