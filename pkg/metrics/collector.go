package metrics

import (
	"time"

	"github.com/cuemby/hutch/pkg/storage"
	"github.com/cuemby/hutch/pkg/types"
)

// Collector samples fleet gauges from the store on a fixed interval.
type Collector struct {
	store  storage.Store
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector backed by the store.
func NewCollector(store storage.Store) *Collector {
	return &Collector{
		store:  store,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
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

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectInstanceMetrics()
	c.collectUserMetrics()
	c.collectSessionMetrics()
}

func (c *Collector) collectInstanceMetrics() {
	instances, err := c.store.ListInstances()
	if err != nil {
		return
	}

	counts := make(map[types.InstanceStatus]int)
	for _, inst := range instances {
		counts[inst.Status]++
	}

	// Set every status explicitly so gauges drop back to zero when the
	// last instance leaves a state.
	statuses := []types.InstanceStatus{
		types.InstanceStopped,
		types.InstanceStarting,
		types.InstanceRunning,
		types.InstanceStopping,
		types.InstanceError,
	}
	for _, status := range statuses {
		InstancesTotal.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}

func (c *Collector) collectUserMetrics() {
	users, err := c.store.ListUsers()
	if err != nil {
		return
	}

	UsersTotal.Set(float64(len(users)))
}

func (c *Collector) collectSessionMetrics() {
	count, err := c.store.CountSessions()
	if err != nil {
		return
	}

	SessionsActive.Set(float64(count))
}
