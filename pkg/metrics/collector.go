package metrics

import (
	"time"
)

// Source exposes the broker state that is sampled rather than counted
type Source interface {
	LedgerCount() (int, error)
	SubscriberCount() int
}

// Collector periodically samples a Source into gauges
type Collector struct {
	source   Source
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(source Source, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		source:   source,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
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
	if count, err := c.source.LedgerCount(); err == nil {
		LedgerEntries.Set(float64(count))
	}
	SubscribersConnected.Set(float64(c.source.SubscriberCount()))
}
