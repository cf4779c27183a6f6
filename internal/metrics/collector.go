package metrics

import (
	"time"

	"pikoshi-gallery/internal/logging"
)

// StatsProvider interface for collecting stats
type StatsProvider interface {
	GetStats() Stats
}

// Stats holds the current gallery statistics
type Stats struct {
	ViewRecords  int
	Placeholders int
	State        string
}

// knownStates lists every controller state so that stale states are reset
// to zero on each collection.
var knownStates = []string{
	"unauthenticated", "authenticating", "redirecting", "cache_hit",
	"streaming_initial", "ready", "loading_more", "unmounted",
}

// Collector periodically collects and updates metrics
type Collector struct {
	statsProvider StatsProvider
	interval      time.Duration
	stopChan      chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(provider StatsProvider, interval time.Duration) *Collector {
	return &Collector{
		statsProvider: provider,
		interval:      interval,
		stopChan:      make(chan struct{}),
	}
}

// Start begins the metrics collection loop
func (c *Collector) Start() {
	go c.collectLoop()
}

// Stop stops the metrics collection
func (c *Collector) Stop() {
	close(c.stopChan)
}

func (c *Collector) collectLoop() {
	c.collect()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.collect()
		case <-c.stopChan:
			return
		}
	}
}

func (c *Collector) collect() {
	if c.statsProvider == nil {
		return
	}

	stats := c.statsProvider.GetStats()

	ViewRecords.Set(float64(stats.ViewRecords))
	PlaceholdersOutstanding.Set(float64(stats.Placeholders))
	SetControllerState(stats.State)

	logging.Debug("Metrics collected: view=%d, placeholders=%d, state=%s",
		stats.ViewRecords, stats.Placeholders, stats.State)
}

// SetControllerState marks state as the only active controller state.
func SetControllerState(state string) {
	for _, s := range knownStates {
		if s == state {
			ControllerState.WithLabelValues(s).Set(1)
		} else {
			ControllerState.WithLabelValues(s).Set(0)
		}
	}
}
